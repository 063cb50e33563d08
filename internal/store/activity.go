package store

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"kisan-backend/internal/domain"
)

// LogActivity records an audit event. Failures are logged, not returned:
// the action being audited has already happened.
func (s *Store) LogActivity(ctx context.Context, actorID int64, entity string, entityID int64, action, message string) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO activity_log (actor_id, entity, entity_id, action, message, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		nullInt(actorID), entity, entityID, action, message, s.now())
	if err != nil {
		s.logger.Warn("failed to record activity",
			zap.String("entity", entity), zap.Int64("entity_id", entityID), zap.String("action", action), zap.Error(err))
	}
}

// RecentActivity returns the latest audit events, newest first
func (s *Store) RecentActivity(ctx context.Context, entity string, limit int) ([]domain.Activity, error) {
	if limit <= 0 || limit > domain.MaxPageSize {
		limit = 50
	}
	var w where
	if entity != "" {
		w.add("entity = ?", entity)
	}
	args := append(w.args, limit)
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, COALESCE(actor_id, 0), entity, COALESCE(entity_id, 0), action, message, created_at
		 FROM activity_log`+w.String()+` ORDER BY created_at DESC, id DESC LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	defer rows.Close()

	activities := []domain.Activity{}
	for rows.Next() {
		var a domain.Activity
		if err := rows.Scan(&a.ID, &a.ActorID, &a.Entity, &a.EntityID, &a.Action, &a.Message, &a.CreatedAt); err != nil {
			return nil, err
		}
		activities = append(activities, a)
	}
	return activities, rows.Err()
}

// Stats gathers the dashboard counters
func (s *Store) Stats(ctx context.Context) (domain.Stats, error) {
	var st domain.Stats
	counters := []struct {
		dst   *int
		query string
	}{
		{&st.Farmers, `SELECT COUNT(*) FROM users WHERE role = 'farmer'`},
		{&st.Experts, `SELECT COUNT(*) FROM users WHERE role = 'expert'`},
		{&st.OpenConsultations, `SELECT COUNT(*) FROM consultations WHERE status IN ('pending', 'assigned', 'in_progress')`},
		{&st.ResolvedConsultations, `SELECT COUNT(*) FROM consultations WHERE status IN ('resolved', 'closed')`},
		{&st.ActiveListings, `SELECT COUNT(*) FROM listings WHERE status = 'active'`},
		{&st.ForumPosts, `SELECT COUNT(*) FROM forum_posts`},
		{&st.RatedConsultations, `SELECT COUNT(*) FROM consultations WHERE rating > 0`},
	}
	for _, c := range counters {
		n, err := s.count(ctx, s.db, c.query)
		if err != nil {
			return st, fmt.Errorf("stats: %w", err)
		}
		*c.dst = n
	}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(AVG(rating), 0) FROM consultations WHERE rating > 0`).Scan(&st.AvgConsultationRating); err != nil {
		return st, fmt.Errorf("stats: %w", err)
	}
	return st, nil
}
