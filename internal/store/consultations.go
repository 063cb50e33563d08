package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"kisan-backend/internal/domain"
)

const consultationColumns = `id, farmer_id, expert_id, title, description, category, crop_type, urgency,
	language, state, status, diagnosis_condition, diagnosis_severity, diagnosis_confidence,
	diagnosis_notes, diagnosed_by, diagnosed_at, rating, feedback, created_at, updated_at,
	assigned_at, resolved_at`

func scanConsultation(row interface{ Scan(...any) error }) (*domain.Consultation, error) {
	c := &domain.Consultation{}
	var (
		expertID                sql.NullInt64
		condition, sev, notes   sql.NullString
		confidence              sql.NullFloat64
		diagnosedBy             sql.NullInt64
		diagnosedAt, assignedAt sql.NullTime
		resolvedAt              sql.NullTime
	)
	err := row.Scan(&c.ID, &c.FarmerID, &expertID, &c.Title, &c.Description, &c.Category, &c.CropType,
		&c.Urgency, &c.Language, &c.State, &c.Status, &condition, &sev, &confidence, &notes,
		&diagnosedBy, &diagnosedAt, &c.Rating, &c.Feedback, &c.CreatedAt, &c.UpdatedAt,
		&assignedAt, &resolvedAt)
	if err != nil {
		return nil, err
	}
	c.ExpertID = expertID.Int64
	if condition.Valid {
		c.Diagnosis = &domain.Diagnosis{
			Condition:   condition.String,
			Severity:    domain.Severity(sev.String),
			Confidence:  confidence.Float64,
			Notes:       notes.String,
			DiagnosedBy: diagnosedBy.Int64,
			DiagnosedAt: diagnosedAt.Time.UTC(),
		}
	}
	c.AssignedAt = timePtr(assignedAt)
	c.ResolvedAt = timePtr(resolvedAt)
	c.Messages = []domain.Message{}
	c.Recommendations = []domain.Recommendation{}
	return c, nil
}

// CreateConsultation inserts c and sets its ID
func (s *Store) CreateConsultation(ctx context.Context, c *domain.Consultation) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO consultations (farmer_id, expert_id, title, description, category, crop_type,
				urgency, language, state, status, created_at, updated_at, assigned_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.FarmerID, nullInt(c.ExpertID), c.Title, c.Description, c.Category, c.CropType,
			c.Urgency, c.Language, c.State, c.Status, c.CreatedAt, c.UpdatedAt, nullTime(c.AssignedAt))
		if err != nil {
			return fmt.Errorf("insert consultation: %w", err)
		}
		c.ID, _ = res.LastInsertId()
		return s.saveChildren(ctx, tx, c)
	})
}

// GetConsultation loads a consultation with its messages and recommendations
func (s *Store) GetConsultation(ctx context.Context, id int64) (*domain.Consultation, error) {
	return s.getConsultation(ctx, s.db, id)
}

func (s *Store) getConsultation(ctx context.Context, q queryer, id int64) (*domain.Consultation, error) {
	c, err := scanConsultation(q.QueryRowContext(ctx,
		`SELECT `+consultationColumns+` FROM consultations WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("consultation", id)
	}
	if err != nil {
		return nil, fmt.Errorf("load consultation: %w", err)
	}

	rows, err := q.QueryContext(ctx,
		`SELECT id, sender_id, sender_role, body, created_at FROM consultation_messages
		 WHERE consultation_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	for rows.Next() {
		var m domain.Message
		if err := rows.Scan(&m.ID, &m.SenderID, &m.SenderRole, &m.Body, &m.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		c.Messages = append(c.Messages, m)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("load messages: %w", err)
	}
	rows.Close()

	rows, err = q.QueryContext(ctx,
		`SELECT id, kind, title, details, dosage, priority, created_at FROM consultation_recommendations
		 WHERE consultation_id = ? ORDER BY priority, id`, id)
	if err != nil {
		return nil, fmt.Errorf("load recommendations: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var r domain.Recommendation
		if err := rows.Scan(&r.ID, &r.Kind, &r.Title, &r.Details, &r.Dosage, &r.Priority, &r.CreatedAt); err != nil {
			return nil, err
		}
		c.Recommendations = append(c.Recommendations, r)
	}
	return c, rows.Err()
}

// UpdateConsultation loads the consultation, applies fn and persists the result
// in one transaction. New messages and recommendations (ID 0) are inserted.
// When fn records the first rating, the expert's average is updated too.
func (s *Store) UpdateConsultation(ctx context.Context, id int64, fn func(c *domain.Consultation) error) (*domain.Consultation, error) {
	var out *domain.Consultation
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		c, err := s.getConsultation(ctx, tx, id)
		if err != nil {
			return err
		}
		prevRating := c.Rating

		if err := fn(c); err != nil {
			return err
		}

		var cond, sev, notes sql.NullString
		var conf sql.NullFloat64
		var by sql.NullInt64
		var at sql.NullTime
		if d := c.Diagnosis; d != nil {
			cond = sql.NullString{String: d.Condition, Valid: true}
			sev = sql.NullString{String: string(d.Severity), Valid: true}
			notes = sql.NullString{String: d.Notes, Valid: true}
			conf = sql.NullFloat64{Float64: d.Confidence, Valid: true}
			by = nullInt(d.DiagnosedBy)
			at = nullTime(&d.DiagnosedAt)
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE consultations SET expert_id = ?, status = ?, diagnosis_condition = ?, diagnosis_severity = ?,
				diagnosis_confidence = ?, diagnosis_notes = ?, diagnosed_by = ?, diagnosed_at = ?,
				rating = ?, feedback = ?, updated_at = ?, assigned_at = ?, resolved_at = ?
			 WHERE id = ?`,
			nullInt(c.ExpertID), c.Status, cond, sev, conf, notes, by, at,
			c.Rating, c.Feedback, c.UpdatedAt, nullTime(c.AssignedAt), nullTime(c.ResolvedAt), c.ID)
		if err != nil {
			return fmt.Errorf("update consultation: %w", err)
		}

		if err := s.saveChildren(ctx, tx, c); err != nil {
			return err
		}

		if prevRating == 0 && c.Rating > 0 && c.ExpertID != 0 {
			if err := s.foldExpertRating(ctx, tx, c.ExpertID, c.Rating); err != nil {
				return err
			}
		}
		out = c
		return nil
	})
	return out, err
}

func (s *Store) saveChildren(ctx context.Context, tx *sql.Tx, c *domain.Consultation) error {
	for i := range c.Messages {
		m := &c.Messages[i]
		if m.ID != 0 {
			continue
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO consultation_messages (consultation_id, sender_id, sender_role, body, created_at)
			 VALUES (?, ?, ?, ?, ?)`, c.ID, m.SenderID, m.SenderRole, m.Body, m.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		m.ID, _ = res.LastInsertId()
	}
	for i := range c.Recommendations {
		r := &c.Recommendations[i]
		if r.ID != 0 {
			continue
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO consultation_recommendations (consultation_id, kind, title, details, dosage, priority, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`, c.ID, r.Kind, r.Title, r.Details, r.Dosage, r.Priority, r.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert recommendation: %w", err)
		}
		r.ID, _ = res.LastInsertId()
	}
	return nil
}

func (s *Store) foldExpertRating(ctx context.Context, tx *sql.Tx, expertID int64, rating int) error {
	var avg float64
	var count int
	err := tx.QueryRowContext(ctx, `SELECT rating, rating_count FROM users WHERE id = ?`, expertID).Scan(&avg, &count)
	if err != nil {
		return fmt.Errorf("load expert rating: %w", err)
	}
	avg, count = domain.FoldRating(avg, count, rating)
	if _, err := tx.ExecContext(ctx, `UPDATE users SET rating = ?, rating_count = ? WHERE id = ?`, avg, count, expertID); err != nil {
		return fmt.Errorf("update expert rating: %w", err)
	}
	return nil
}

// ConsultationFilter scopes a listing. Zero values do not filter.
type ConsultationFilter struct {
	FarmerID int64
	ExpertID int64
	Status   domain.ConsultationStatus
	Category domain.Category
	// Categories and CropTypes are matched any-of across both lists and
	// select an expert's pending pool
	Categories []domain.Category
	CropTypes  []string
}

// ListConsultations returns consultation headers (no thread) newest first
func (s *Store) ListConsultations(ctx context.Context, f ConsultationFilter, page domain.PageRequest) (domain.Page[domain.Consultation], error) {
	page = page.Normalize()
	var w where
	if f.FarmerID != 0 {
		w.add("farmer_id = ?", f.FarmerID)
	}
	if f.ExpertID != 0 {
		w.add("expert_id = ?", f.ExpertID)
	}
	if f.Status != "" {
		w.add("status = ?", f.Status)
	}
	if f.Category != "" {
		w.add("category = ?", f.Category)
	}
	if len(f.Categories) > 0 || len(f.CropTypes) > 0 {
		var clauses []string
		var args []any
		if len(f.Categories) > 0 {
			clauses = append(clauses, "category IN ("+placeholders(len(f.Categories))+")")
			for _, c := range f.Categories {
				args = append(args, c)
			}
		}
		if len(f.CropTypes) > 0 {
			clauses = append(clauses, "crop_type IN ("+placeholders(len(f.CropTypes))+")")
			for _, ct := range f.CropTypes {
				args = append(args, strings.ToLower(ct))
			}
		}
		w.add("("+strings.Join(clauses, " OR ")+")", args...)
	}

	total, err := s.count(ctx, s.db, `SELECT COUNT(*) FROM consultations`+w.String(), w.args...)
	if err != nil {
		return domain.Page[domain.Consultation]{}, fmt.Errorf("count consultations: %w", err)
	}

	args := append(append([]any{}, w.args...), page.Limit, page.Offset())
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+consultationColumns+` FROM consultations`+w.String()+` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		args...)
	if err != nil {
		return domain.Page[domain.Consultation]{}, fmt.Errorf("list consultations: %w", err)
	}
	defer rows.Close()

	var items []domain.Consultation
	for rows.Next() {
		c, err := scanConsultation(rows)
		if err != nil {
			return domain.Page[domain.Consultation]{}, err
		}
		items = append(items, *c)
	}
	return domain.NewPage(items, page, total), rows.Err()
}
