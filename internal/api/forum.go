package api

import (
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"kisan-backend/internal/domain"
)

const entityPost = "forum_post"

func (s *Server) handleListPosts(w http.ResponseWriter, r *http.Request) {
	page, err := pageRequest(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	q := r.URL.Query()
	f := domain.ForumFilter{
		Category: domain.ForumCategory(q.Get("category")),
		Tag:      strings.ToLower(strings.TrimSpace(q.Get("tag"))),
		Search:   strings.TrimSpace(q.Get("q")),
		Sort:     q.Get("sort"),
	}
	var v domain.Validator
	if f.Category != "" {
		v.Check(domain.OneOf(f.Category, domain.ForumCategories...), "category", "unknown category")
	}
	if f.Sort != "" {
		v.Check(domain.OneOf(f.Sort, "recent", "popular"), "sort", "must be recent or popular")
	}
	if err := v.Err(); err != nil {
		s.fail(w, r, err)
		return
	}

	posts, err := s.store.ListPosts(r.Context(), f, page)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, http.StatusOK, posts)
}

func (s *Server) handleCreatePost(w http.ResponseWriter, r *http.Request) {
	var p domain.ForumPost
	if err := decode(w, r, &p); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := p.Validate(); err != nil {
		s.fail(w, r, err)
		return
	}
	actor := caller(r)
	p.ID, p.Likes, p.ReplyCount, p.Replies = 0, 0, 0, nil
	p.AuthorID = actor.ID
	p.AuthorName = callerName(r)

	if err := s.store.CreatePost(r.Context(), &p); err != nil {
		s.fail(w, r, err)
		return
	}
	s.store.LogActivity(r.Context(), actor.ID, entityPost, p.ID, "created", fmt.Sprintf("New forum post: %s", p.Title))
	ok(w, http.StatusCreated, p)
}

func (s *Server) handleGetPost(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	p, err := s.store.GetPost(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, http.StatusOK, p)
}

func (s *Server) handleDeletePost(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	p, err := s.store.GetPost(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	actor := caller(r)
	if p.AuthorID != actor.ID && actor.Role != domain.RoleAdmin {
		writeError(w, http.StatusForbidden, "only the author or an admin can delete this post")
		return
	}
	if err := s.store.DeletePost(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	s.store.LogActivity(r.Context(), actor.ID, entityPost, id, "deleted", fmt.Sprintf("Forum post deleted: %s", p.Title))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Post deleted",
	})
}

func (s *Server) handleAddReply(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req struct {
		Body string `json:"body"`
	}
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	body := strings.TrimSpace(req.Body)
	if n := utf8.RuneCountInString(body); n == 0 || n > 4000 {
		var v domain.Validator
		v.Add("body", "must be 1-4000 characters")
		s.fail(w, r, v.Err())
		return
	}

	actor := caller(r)
	reply := domain.Reply{PostID: id, AuthorID: actor.ID, AuthorName: callerName(r), Body: body}
	if err := s.store.AddReply(r.Context(), &reply); err != nil {
		s.fail(w, r, err)
		return
	}
	s.store.LogActivity(r.Context(), actor.ID, entityPost, id, "reply", "New reply")
	ok(w, http.StatusCreated, reply)
}

func (s *Server) handleLike(w http.ResponseWriter, r *http.Request)   { s.setLike(w, r, true) }
func (s *Server) handleUnlike(w http.ResponseWriter, r *http.Request) { s.setLike(w, r, false) }

func (s *Server) setLike(w http.ResponseWriter, r *http.Request, liked bool) {
	id, err := idParam(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	likes, err := s.store.SetLike(r.Context(), id, caller(r).ID, liked)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, http.StatusOK, map[string]interface{}{
		"postId": id,
		"liked":  liked,
		"likes":  likes,
	})
}
