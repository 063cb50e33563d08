package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"

	"kisan-backend/internal/domain"
)

const listingColumns = `id, seller_id, crop, variety, quantity, unit, price_per_unit, state, district, mandi,
	description, status, created_at, updated_at`

func scanListing(row interface{ Scan(...any) error }) (domain.Listing, error) {
	var l domain.Listing
	err := row.Scan(&l.ID, &l.SellerID, &l.Crop, &l.Variety, &l.Quantity, &l.Unit, &l.PricePerUnit,
		&l.State, &l.District, &l.Mandi, &l.Description, &l.Status, &l.CreatedAt, &l.UpdatedAt)
	return l, err
}

func (s *Store) CreateListing(ctx context.Context, l *domain.Listing) error {
	l.Status = domain.ListingActive
	l.CreatedAt = s.now()
	l.UpdatedAt = l.CreatedAt
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO listings (seller_id, crop, variety, quantity, unit, price_per_unit, state, district, mandi,
			description, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.SellerID, l.Crop, l.Variety, l.Quantity, l.Unit, l.PricePerUnit, l.State, l.District, l.Mandi,
		l.Description, l.Status, l.CreatedAt, l.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert listing: %w", err)
	}
	l.ID, _ = res.LastInsertId()
	return nil
}

func (s *Store) GetListing(ctx context.Context, id int64) (domain.Listing, error) {
	return s.getListing(ctx, s.db, id)
}

func (s *Store) getListing(ctx context.Context, q queryer, id int64) (domain.Listing, error) {
	l, err := scanListing(q.QueryRowContext(ctx, `SELECT `+listingColumns+` FROM listings WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return l, notFound("listing", id)
	}
	return l, err
}

// UpdateListing applies fn to the stored listing and saves it
func (s *Store) UpdateListing(ctx context.Context, id int64, fn func(l *domain.Listing) error) (domain.Listing, error) {
	var out domain.Listing
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		l, err := s.getListing(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := fn(&l); err != nil {
			return err
		}
		l.UpdatedAt = s.now()
		if err := s.saveListing(ctx, tx, l); err != nil {
			return err
		}
		out = l
		return nil
	})
	return out, err
}

func (s *Store) saveListing(ctx context.Context, q queryer, l domain.Listing) error {
	_, err := q.ExecContext(ctx,
		`UPDATE listings SET crop = ?, variety = ?, quantity = ?, unit = ?, price_per_unit = ?, state = ?,
			district = ?, mandi = ?, description = ?, status = ?, updated_at = ? WHERE id = ?`,
		l.Crop, l.Variety, l.Quantity, l.Unit, l.PricePerUnit, l.State, l.District, l.Mandi,
		l.Description, l.Status, l.UpdatedAt, l.ID)
	if err != nil {
		return fmt.Errorf("update listing: %w", err)
	}
	return nil
}

func (s *Store) ListListings(ctx context.Context, f domain.ListingFilter, page domain.PageRequest) (domain.Page[domain.Listing], error) {
	page = page.Normalize()
	var w where
	if f.Status != "" {
		w.add("status = ?", f.Status)
	}
	if f.Crop != "" {
		w.add("crop = ?", f.Crop)
	}
	if f.State != "" {
		w.add("state = ? COLLATE NOCASE", f.State)
	}
	if f.Mandi != "" {
		w.add("mandi = ? COLLATE NOCASE", f.Mandi)
	}
	if f.MinPrice > 0 {
		w.add("price_per_unit >= ?", f.MinPrice)
	}
	if f.MaxPrice > 0 {
		w.add("price_per_unit <= ?", f.MaxPrice)
	}
	if f.SellerID != 0 {
		w.add("seller_id = ?", f.SellerID)
	}

	order := " ORDER BY created_at DESC, id DESC"
	switch f.Sort {
	case "price_asc":
		order = " ORDER BY price_per_unit ASC, id DESC"
	case "price_desc":
		order = " ORDER BY price_per_unit DESC, id DESC"
	}

	total, err := s.count(ctx, s.db, `SELECT COUNT(*) FROM listings`+w.String(), w.args...)
	if err != nil {
		return domain.Page[domain.Listing]{}, fmt.Errorf("count listings: %w", err)
	}
	args := append(append([]any{}, w.args...), page.Limit, page.Offset())
	rows, err := s.db.QueryContext(ctx, `SELECT `+listingColumns+` FROM listings`+w.String()+order+` LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return domain.Page[domain.Listing]{}, fmt.Errorf("list listings: %w", err)
	}
	defer rows.Close()

	var items []domain.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return domain.Page[domain.Listing]{}, err
		}
		items = append(items, l)
	}
	return domain.NewPage(items, page, total), rows.Err()
}

const orderColumns = `id, reference, listing_id, buyer_id, seller_id, quantity, amount, currency, payment_ref, status, created_at, paid_at`

func scanOrder(row interface{ Scan(...any) error }) (domain.Order, error) {
	var o domain.Order
	var paidAt sql.NullTime
	err := row.Scan(&o.ID, &o.Reference, &o.ListingID, &o.BuyerID, &o.SellerID, &o.Quantity, &o.Amount,
		&o.Currency, &o.PaymentRef, &o.Status, &o.CreatedAt, &paidAt)
	o.PaidAt = timePtr(paidAt)
	return o, err
}

// ReserveListing checks availability, marks the listing reserved and records a pending order.
func (s *Store) ReserveListing(ctx context.Context, o *domain.Order) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		l, err := s.getListing(ctx, tx, o.ListingID)
		if err != nil {
			return err
		}
		if l.Status != domain.ListingActive {
			return fmt.Errorf("listing %d is %s: %w", l.ID, l.Status, domain.ErrConflict)
		}
		if l.SellerID == o.BuyerID {
			return fmt.Errorf("cannot buy your own listing: %w", domain.ErrForbidden)
		}
		if o.Quantity <= 0 || o.Quantity > l.Quantity {
			var v domain.Validator
			v.Add("quantity", fmt.Sprintf("must be between 0 and %g", l.Quantity))
			return v.Err()
		}

		o.SellerID = l.SellerID
		o.Amount = int64(math.Round(o.Quantity * float64(l.PricePerUnit)))
		o.Status = domain.OrderPending
		o.CreatedAt = s.now()

		l.Status = domain.ListingReserved
		l.UpdatedAt = o.CreatedAt
		if err := s.saveListing(ctx, tx, l); err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx,
			`INSERT INTO orders (reference, listing_id, buyer_id, seller_id, quantity, amount, currency, payment_ref, status, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			o.Reference, o.ListingID, o.BuyerID, o.SellerID, o.Quantity, o.Amount, o.Currency, o.PaymentRef, o.Status, o.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		o.ID, _ = res.LastInsertId()
		return nil
	})
}

// SetPaymentRef stores the gateway reference for a pending order
func (s *Store) SetPaymentRef(ctx context.Context, orderID int64, ref string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE orders SET payment_ref = ? WHERE id = ?`, ref, orderID)
	return err
}

func (s *Store) GetOrder(ctx context.Context, id int64) (domain.Order, error) {
	o, err := scanOrder(s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return o, notFound("order", id)
	}
	return o, err
}

// ListOrders returns orders where userID is buyer or seller, newest first
func (s *Store) ListOrders(ctx context.Context, userID int64) ([]domain.Order, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE buyer_id = ? OR seller_id = ? ORDER BY created_at DESC, id DESC LIMIT 100`,
		userID, userID)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := []domain.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// SettleOrder finalizes a pending order. When paid, the listing quantity
// drops by the ordered amount and the listing is sold once empty; otherwise
// the listing returns to active.
func (s *Store) SettleOrder(ctx context.Context, orderID int64, paid bool) (domain.Order, error) {
	var out domain.Order
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		o, err := scanOrder(tx.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, orderID))
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("order", orderID)
		}
		if err != nil {
			return err
		}
		if o.Status != domain.OrderPending {
			return fmt.Errorf("order %d is already %s: %w", o.ID, o.Status, domain.ErrConflict)
		}

		l, err := s.getListing(ctx, tx, o.ListingID)
		if err != nil {
			return err
		}

		now := s.now()
		if paid {
			o.Status = domain.OrderPaid
			o.PaidAt = &now
			l.Quantity -= o.Quantity
			if l.Quantity <= 0 {
				l.Quantity = 0
				l.Status = domain.ListingSold
			} else {
				l.Status = domain.ListingActive
			}
		} else {
			o.Status = domain.OrderFailed
			if l.Status == domain.ListingReserved {
				l.Status = domain.ListingActive
			}
		}
		l.UpdatedAt = now
		if err := s.saveListing(ctx, tx, l); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE orders SET status = ?, paid_at = ? WHERE id = ?`,
			o.Status, nullTime(o.PaidAt), o.ID); err != nil {
			return fmt.Errorf("update order: %w", err)
		}
		out = o
		return nil
	})
	return out, err
}
