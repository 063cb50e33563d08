package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"kisan-backend/internal/domain"
)

const postColumns = `p.id, p.author_id, COALESCE(u.name, ''), p.title, p.body, p.category, p.tags, p.likes, p.reply_count, p.created_at`

func scanPost(row interface{ Scan(...any) error }) (domain.ForumPost, error) {
	var p domain.ForumPost
	var tags string
	err := row.Scan(&p.ID, &p.AuthorID, &p.AuthorName, &p.Title, &p.Body, &p.Category, &tags, &p.Likes, &p.ReplyCount, &p.CreatedAt)
	p.Tags = decodeList(tags)
	if p.Tags == nil {
		p.Tags = []string{}
	}
	return p, err
}

func (s *Store) CreatePost(ctx context.Context, p *domain.ForumPost) error {
	p.CreatedAt = s.now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO forum_posts (author_id, title, body, category, tags, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		p.AuthorID, p.Title, p.Body, p.Category, encodeList(p.Tags), p.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert post: %w", err)
	}
	p.ID, _ = res.LastInsertId()
	return nil
}

// GetPost loads a post with its replies oldest first
func (s *Store) GetPost(ctx context.Context, id int64) (domain.ForumPost, error) {
	p, err := scanPost(s.db.QueryRowContext(ctx,
		`SELECT `+postColumns+` FROM forum_posts p LEFT JOIN users u ON u.id = p.author_id WHERE p.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return p, notFound("post", id)
	}
	if err != nil {
		return p, fmt.Errorf("load post: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT r.id, r.post_id, r.author_id, COALESCE(u.name, ''), r.body, r.created_at
		 FROM forum_replies r LEFT JOIN users u ON u.id = r.author_id
		 WHERE r.post_id = ? ORDER BY r.id`, id)
	if err != nil {
		return p, fmt.Errorf("load replies: %w", err)
	}
	defer rows.Close()

	p.Replies = []domain.Reply{}
	for rows.Next() {
		var r domain.Reply
		if err := rows.Scan(&r.ID, &r.PostID, &r.AuthorID, &r.AuthorName, &r.Body, &r.CreatedAt); err != nil {
			return p, err
		}
		p.Replies = append(p.Replies, r)
	}
	return p, rows.Err()
}

func (s *Store) ListPosts(ctx context.Context, f domain.ForumFilter, page domain.PageRequest) (domain.Page[domain.ForumPost], error) {
	page = page.Normalize()
	var w where
	if f.Category != "" {
		w.add("p.category = ?", f.Category)
	}
	if f.Tag != "" {
		w.add(`EXISTS (SELECT 1 FROM json_each(p.tags) WHERE json_each.value = ?)`, f.Tag)
	}
	if f.Search != "" {
		pat := likePattern(f.Search)
		w.add(`(LOWER(p.title) LIKE ? ESCAPE '\' OR LOWER(p.body) LIKE ? ESCAPE '\')`, pat, pat)
	}

	order := " ORDER BY p.created_at DESC, p.id DESC"
	if f.Sort == "popular" {
		order = " ORDER BY (p.likes + 2 * p.reply_count) DESC, p.created_at DESC, p.id DESC"
	}

	total, err := s.count(ctx, s.db, `SELECT COUNT(*) FROM forum_posts p`+w.String(), w.args...)
	if err != nil {
		return domain.Page[domain.ForumPost]{}, fmt.Errorf("count posts: %w", err)
	}

	args := append(append([]any{}, w.args...), page.Limit, page.Offset())
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+postColumns+` FROM forum_posts p LEFT JOIN users u ON u.id = p.author_id`+w.String()+order+` LIMIT ? OFFSET ?`,
		args...)
	if err != nil {
		return domain.Page[domain.ForumPost]{}, fmt.Errorf("list posts: %w", err)
	}
	defer rows.Close()

	var items []domain.ForumPost
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return domain.Page[domain.ForumPost]{}, err
		}
		items = append(items, p)
	}
	return domain.NewPage(items, page, total), rows.Err()
}

func (s *Store) AddReply(ctx context.Context, r *domain.Reply) error {
	r.CreatedAt = s.now()
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE forum_posts SET reply_count = reply_count + 1 WHERE id = ?`, r.PostID)
		if err != nil {
			return fmt.Errorf("bump reply count: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return notFound("post", r.PostID)
		}
		res, err = tx.ExecContext(ctx,
			`INSERT INTO forum_replies (post_id, author_id, body, created_at) VALUES (?, ?, ?, ?)`,
			r.PostID, r.AuthorID, r.Body, r.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert reply: %w", err)
		}
		r.ID, _ = res.LastInsertId()
		return nil
	})
}

// SetLike records or removes userID's like. Repeating the same call is a no-op.
// It returns the post's like count afterwards.
func (s *Store) SetLike(ctx context.Context, postID, userID int64, liked bool) (int, error) {
	var likes int
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM forum_posts WHERE id = ?`, postID).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return notFound("post", postID)
		}

		var res sql.Result
		var err error
		if liked {
			res, err = tx.ExecContext(ctx, `INSERT OR IGNORE INTO forum_likes (post_id, user_id) VALUES (?, ?)`, postID, userID)
		} else {
			res, err = tx.ExecContext(ctx, `DELETE FROM forum_likes WHERE post_id = ? AND user_id = ?`, postID, userID)
		}
		if err != nil {
			return fmt.Errorf("set like: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			delta := 1
			if !liked {
				delta = -1
			}
			if _, err := tx.ExecContext(ctx, `UPDATE forum_posts SET likes = likes + ? WHERE id = ?`, delta, postID); err != nil {
				return fmt.Errorf("update likes: %w", err)
			}
		}
		return tx.QueryRowContext(ctx, `SELECT likes FROM forum_posts WHERE id = ?`, postID).Scan(&likes)
	})
	return likes, err
}

func (s *Store) DeletePost(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM forum_posts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete post: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("post", id)
	}
	return nil
}
