package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"kisan-backend/internal/domain"
)

const userColumns = `id, name, email, phone, password_hash, role, language, state, district, crops,
	specializations, languages, rating, rating_count, available, max_active, created_at`

func scanUser(row interface{ Scan(...any) error }) (domain.User, error) {
	var u domain.User
	var crops, specs, langs string
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Phone, &u.PasswordHash, &u.Role, &u.Language,
		&u.State, &u.District, &crops, &specs, &langs, &u.Rating, &u.RatingCount,
		&u.Available, &u.MaxActive, &u.CreatedAt)
	if err != nil {
		return u, err
	}
	u.Crops = decodeList(crops)
	u.Specializations = decodeList(specs)
	u.Languages = decodeList(langs)
	return u, nil
}

// CreateUser inserts u and sets its ID. Emails are unique regardless of case.
func (s *Store) CreateUser(ctx context.Context, u *domain.User) error {
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	if u.MaxActive == 0 {
		u.MaxActive = domain.DefaultMaxActive
	}
	u.CreatedAt = s.now()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (name, email, phone, password_hash, role, language, state, district, crops,
			specializations, languages, rating, rating_count, available, max_active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.Name, u.Email, u.Phone, u.PasswordHash, u.Role, u.Language, u.State, u.District,
		encodeList(u.Crops), encodeList(u.Specializations), encodeList(u.Languages),
		u.Rating, u.RatingCount, u.Available, u.MaxActive, u.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("email %s already registered: %w", u.Email, domain.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	u.ID, _ = res.LastInsertId()
	return nil
}

func (s *Store) GetUser(ctx context.Context, id int64) (domain.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return u, notFound("user", id)
	}
	return u, err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email))
	if errors.Is(err, sql.ErrNoRows) {
		return u, notFound("user", email)
	}
	return u, err
}

// UpdateProfile saves the editable profile fields of u
func (s *Store) UpdateProfile(ctx context.Context, u domain.User) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET name = ?, phone = ?, language = ?, state = ?, district = ?, crops = ?,
			specializations = ?, languages = ?, available = ? WHERE id = ?`,
		u.Name, u.Phone, u.Language, u.State, u.District, encodeList(u.Crops),
		encodeList(u.Specializations), encodeList(u.Languages), u.Available, u.ID)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("user", u.ID)
	}
	return nil
}

// ExpertLoads lists experts with the number of consultations they currently hold.
// With availableOnly, experts marked unavailable are skipped.
func (s *Store) ExpertLoads(ctx context.Context, availableOnly bool) ([]domain.ExpertLoad, error) {
	query := `SELECT ` + prefixed("u", userColumns) + `,
		(SELECT COUNT(*) FROM consultations c WHERE c.expert_id = u.id AND c.status IN ('assigned', 'in_progress'))
		FROM users u WHERE u.role = 'expert'`
	if availableOnly {
		query += ` AND u.available = 1`
	}
	query += ` ORDER BY u.id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query experts: %w", err)
	}
	defer rows.Close()

	var loads []domain.ExpertLoad
	for rows.Next() {
		var l domain.ExpertLoad
		var crops, specs, langs string
		u := &l.Expert
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &u.Phone, &u.PasswordHash, &u.Role, &u.Language,
			&u.State, &u.District, &crops, &specs, &langs, &u.Rating, &u.RatingCount,
			&u.Available, &u.MaxActive, &u.CreatedAt, &l.Open); err != nil {
			return nil, err
		}
		u.Crops = decodeList(crops)
		u.Specializations = decodeList(specs)
		u.Languages = decodeList(langs)
		loads = append(loads, l)
	}
	return loads, rows.Err()
}

func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
