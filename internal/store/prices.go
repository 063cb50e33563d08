package store

import (
	"context"
	"fmt"
	"time"

	"kisan-backend/internal/domain"
)

// RecordPrice inserts a mandi price report. A second report for the same
// commodity, variety, mandi and day replaces the first.
func (s *Store) RecordPrice(ctx context.Context, p *domain.PriceRecord) error {
	p.Date = truncateDay(p.Date)
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO market_prices (commodity, variety, mandi, state, date, min_price, max_price, modal_price, reported_by)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (commodity, variety, mandi, date) DO UPDATE SET
			state = excluded.state, min_price = excluded.min_price, max_price = excluded.max_price,
			modal_price = excluded.modal_price, reported_by = excluded.reported_by
		 RETURNING id`,
		p.Commodity, p.Variety, p.Mandi, p.State, p.Date, p.MinPrice, p.MaxPrice, p.ModalPrice, nullInt(p.ReportedBy)).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("insert price: %w", err)
	}
	return nil
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func (s *Store) priceWhere(f domain.PriceFilter) where {
	var w where
	if f.Commodity != "" {
		w.add("commodity = ?", f.Commodity)
	}
	if f.Mandi != "" {
		w.add("mandi = ? COLLATE NOCASE", f.Mandi)
	}
	if f.State != "" {
		w.add("state = ? COLLATE NOCASE", f.State)
	}
	if !f.From.IsZero() {
		w.add("date >= ?", truncateDay(f.From))
	}
	if !f.To.IsZero() {
		w.add("date <= ?", truncateDay(f.To))
	}
	return w
}

func (s *Store) queryPrices(ctx context.Context, query string, args ...any) ([]domain.PriceRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query prices: %w", err)
	}
	defer rows.Close()

	var out []domain.PriceRecord
	for rows.Next() {
		var p domain.PriceRecord
		var by *int64
		if err := rows.Scan(&p.ID, &p.Commodity, &p.Variety, &p.Mandi, &p.State, &p.Date,
			&p.MinPrice, &p.MaxPrice, &p.ModalPrice, &by); err != nil {
			return nil, err
		}
		if by != nil {
			p.ReportedBy = *by
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

const priceColumns = `id, commodity, variety, mandi, state, date, min_price, max_price, modal_price, reported_by`

// ListPrices pages through price reports, newest first
func (s *Store) ListPrices(ctx context.Context, f domain.PriceFilter, page domain.PageRequest) (domain.Page[domain.PriceRecord], error) {
	page = page.Normalize()
	w := s.priceWhere(f)
	total, err := s.count(ctx, s.db, `SELECT COUNT(*) FROM market_prices`+w.String(), w.args...)
	if err != nil {
		return domain.Page[domain.PriceRecord]{}, fmt.Errorf("count prices: %w", err)
	}
	args := append(append([]any{}, w.args...), page.Limit, page.Offset())
	items, err := s.queryPrices(ctx,
		`SELECT `+priceColumns+` FROM market_prices`+w.String()+` ORDER BY date DESC, mandi, id LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return domain.Page[domain.PriceRecord]{}, err
	}
	return domain.NewPage(items, page, total), nil
}

// PriceHistory returns every report matching f in date order, for trend computation
func (s *Store) PriceHistory(ctx context.Context, f domain.PriceFilter) ([]domain.PriceRecord, error) {
	w := s.priceWhere(f)
	return s.queryPrices(ctx, `SELECT `+priceColumns+` FROM market_prices`+w.String()+` ORDER BY mandi, date, id`, w.args...)
}
