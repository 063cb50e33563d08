package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"kisan-backend/internal/domain"
	"kisan-backend/internal/payments"
)

const (
	entityListing = "listing"
	entityOrder   = "order"
)

func (s *Server) handleListListings(w http.ResponseWriter, r *http.Request) {
	page, err := pageRequest(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	q := r.URL.Query()
	f := domain.ListingFilter{
		Crop:   strings.ToLower(strings.TrimSpace(q.Get("crop"))),
		State:  q.Get("state"),
		Mandi:  q.Get("mandi"),
		Status: domain.ListingStatus(q.Get("status")),
		Sort:   q.Get("sort"),
	}
	if f.Status == "" {
		f.Status = domain.ListingActive
	}
	if f.MinPrice, err = queryInt64(r, "minPrice"); err == nil {
		if f.MaxPrice, err = queryInt64(r, "maxPrice"); err == nil {
			f.SellerID, err = queryInt64(r, "sellerId")
		}
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}

	var v domain.Validator
	v.Check(domain.OneOf(f.Status, domain.ListingActive, domain.ListingReserved, domain.ListingSold, domain.ListingWithdrawn),
		"status", "unknown status")
	if f.Sort != "" {
		v.Check(domain.OneOf(f.Sort, "recent", "price_asc", "price_desc"), "sort", "must be recent, price_asc or price_desc")
	}
	v.Check(f.MaxPrice == 0 || f.MinPrice <= f.MaxPrice, "minPrice", "must not exceed maxPrice")
	if err := v.Err(); err != nil {
		s.fail(w, r, err)
		return
	}

	listings, err := s.store.ListListings(r.Context(), f, page)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, http.StatusOK, listings)
}

func (s *Server) handleCreateListing(w http.ResponseWriter, r *http.Request) {
	var l domain.Listing
	if err := decode(w, r, &l); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := l.Validate(); err != nil {
		s.fail(w, r, err)
		return
	}
	actor := caller(r)
	l.ID = 0
	l.SellerID = actor.ID

	if err := s.store.CreateListing(r.Context(), &l); err != nil {
		s.fail(w, r, err)
		return
	}
	s.store.LogActivity(r.Context(), actor.ID, entityListing, l.ID, "created",
		fmt.Sprintf("Listed %g %s of %s at ₹%s/%s", l.Quantity, l.Unit, l.Crop, rupees(l.PricePerUnit), l.Unit))
	ok(w, http.StatusCreated, l)
}

func (s *Server) handleGetListing(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	l, err := s.store.GetListing(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, http.StatusOK, l)
}

// handleUpdateListing edits an active listing; only the seller may
func (s *Server) handleUpdateListing(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req struct {
		Crop         *string  `json:"crop"`
		Variety      *string  `json:"variety"`
		Quantity     *float64 `json:"quantity"`
		Unit         *string  `json:"unit"`
		PricePerUnit *int64   `json:"pricePerUnit"`
		State        *string  `json:"state"`
		District     *string  `json:"district"`
		Mandi        *string  `json:"mandi"`
		Description  *string  `json:"description"`
	}
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	actor := caller(r)

	l, err := s.store.UpdateListing(r.Context(), id, func(l *domain.Listing) error {
		if l.SellerID != actor.ID {
			return fmt.Errorf("only the seller can edit this listing: %w", domain.ErrForbidden)
		}
		if l.Status != domain.ListingActive {
			return fmt.Errorf("listing is %s: %w", l.Status, domain.ErrConflict)
		}
		set := func(dst *string, v *string) {
			if v != nil {
				*dst = *v
			}
		}
		set(&l.Crop, req.Crop)
		set(&l.Variety, req.Variety)
		set(&l.Unit, req.Unit)
		set(&l.State, req.State)
		set(&l.District, req.District)
		set(&l.Mandi, req.Mandi)
		set(&l.Description, req.Description)
		if req.Quantity != nil {
			l.Quantity = *req.Quantity
		}
		if req.PricePerUnit != nil {
			l.PricePerUnit = *req.PricePerUnit
		}
		return l.Validate()
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.store.LogActivity(r.Context(), actor.ID, entityListing, l.ID, "updated", "Listing updated")
	ok(w, http.StatusOK, l)
}

func (s *Server) handleWithdrawListing(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	actor := caller(r)
	l, err := s.store.UpdateListing(r.Context(), id, func(l *domain.Listing) error {
		if l.SellerID != actor.ID && actor.Role != domain.RoleAdmin {
			return fmt.Errorf("only the seller can withdraw this listing: %w", domain.ErrForbidden)
		}
		if l.Status != domain.ListingActive {
			return fmt.Errorf("listing is %s: %w", l.Status, domain.ErrConflict)
		}
		l.Status = domain.ListingWithdrawn
		return nil
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.store.LogActivity(r.Context(), actor.ID, entityListing, l.ID, "withdrawn", "Listing withdrawn")
	ok(w, http.StatusOK, l)
}

// handlePurchase reserves the listing and opens a payment intent for it
func (s *Server) handlePurchase(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req struct {
		Quantity float64 `json:"quantity"`
	}
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	actor := caller(r)
	ctx := r.Context()

	order := domain.Order{
		Reference: "ord_" + uuid.NewString(),
		ListingID: id,
		BuyerID:   actor.ID,
		Quantity:  req.Quantity,
		Currency:  s.currency(),
	}
	if err := s.store.ReserveListing(ctx, &order); err != nil {
		s.fail(w, r, err)
		return
	}

	ref, err := s.payments.CreateIntent(ctx, payments.Intent{
		Reference:   order.Reference,
		Amount:      order.Amount,
		Currency:    order.Currency,
		Description: fmt.Sprintf("Kisan marketplace order %s", order.Reference),
		Metadata: map[string]string{
			"order":   strconv.FormatInt(order.ID, 10),
			"listing": strconv.FormatInt(order.ListingID, 10),
		},
	})
	if err != nil {
		s.abandonOrder(ctx, order.ID)
		s.fail(w, r, err)
		return
	}
	if err := s.store.SetPaymentRef(ctx, order.ID, ref.ID); err != nil {
		s.abandonOrder(ctx, order.ID)
		s.fail(w, r, err)
		return
	}
	order.PaymentRef = ref.ID
	order.Secret = ref.ClientSecret

	s.metrics.orders.WithLabelValues(string(domain.OrderPending)).Inc()
	s.store.LogActivity(ctx, actor.ID, entityOrder, order.ID, "reserved",
		fmt.Sprintf("Order %s placed for %g units of listing #%d (₹%s)", order.Reference, order.Quantity, order.ListingID, rupees(order.Amount)))
	s.logger.Info("order placed",
		zap.String("reference", order.Reference),
		zap.Int64("listing_id", order.ListingID),
		zap.Int64("amount", order.Amount))

	ok(w, http.StatusCreated, order)
}

// abandonOrder marks a pending order failed and releases its listing
func (s *Server) abandonOrder(ctx context.Context, orderID int64) {
	if _, err := s.store.SettleOrder(context.WithoutCancel(ctx), orderID, false); err != nil {
		s.logger.Error("failed to release listing", zap.Int64("order_id", orderID), zap.Error(err))
	}
	s.metrics.orders.WithLabelValues(string(domain.OrderFailed)).Inc()
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.store.ListOrders(r.Context(), caller(r).ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, http.StatusOK, orders)
}

// handleConfirmOrder checks the payment with the gateway and settles the order
func (s *Server) handleConfirmOrder(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	actor := caller(r)
	ctx := r.Context()

	o, err := s.store.GetOrder(ctx, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if o.BuyerID != actor.ID && actor.Role != domain.RoleAdmin {
		writeError(w, http.StatusForbidden, "only the buyer can confirm this order")
		return
	}
	if o.Status != domain.OrderPending {
		writeError(w, http.StatusConflict, fmt.Sprintf("order is already %s", o.Status))
		return
	}

	status, err := s.payments.Status(ctx, o.PaymentRef)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	switch status {
	case payments.StatusPending:
		writeError(w, http.StatusConflict, "payment has not completed yet")
		return
	case payments.StatusFailed:
		o, err = s.store.SettleOrder(ctx, id, false)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		s.metrics.orders.WithLabelValues(string(o.Status)).Inc()
		s.store.LogActivity(ctx, actor.ID, entityOrder, o.ID, "payment_failed", "Payment failed, listing released")
		ok(w, http.StatusOK, o)
		return
	}

	o, err = s.store.SettleOrder(ctx, id, true)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.metrics.orders.WithLabelValues(string(o.Status)).Inc()
	s.store.LogActivity(ctx, actor.ID, entityOrder, o.ID, "payment",
		fmt.Sprintf("Payment received for order %s - ₹%s", o.Reference, rupees(o.Amount)))
	s.logger.Info("payment received", zap.String("reference", o.Reference), zap.Int64("amount", o.Amount))

	s.background.Add(1)
	go s.postPaymentAutomation(o)

	ok(w, http.StatusOK, o)
}

// postPaymentAutomation notifies the seller and sends the buyer a receipt
func (s *Server) postPaymentAutomation(o domain.Order) {
	defer s.background.Done()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	time.Sleep(s.automationDelay)
	seller, err := s.store.GetUser(ctx, o.SellerID)
	if err != nil {
		s.logger.Warn("automation: seller lookup failed", zap.Int64("order_id", o.ID), zap.Error(err))
		return
	}
	s.store.LogActivity(ctx, 0, entityOrder, o.ID, "seller_notified",
		fmt.Sprintf("Seller %s notified of order %s", seller.Name, o.Reference))
	s.logger.Info("seller notified", zap.String("reference", o.Reference), zap.Int64("seller_id", seller.ID))

	time.Sleep(s.automationDelay)
	buyer, err := s.store.GetUser(ctx, o.BuyerID)
	if err != nil {
		s.logger.Warn("automation: buyer lookup failed", zap.Int64("order_id", o.ID), zap.Error(err))
		return
	}
	s.store.LogActivity(ctx, 0, entityOrder, o.ID, "receipt",
		fmt.Sprintf("Receipt for ₹%s sent to %s", rupees(o.Amount), buyer.Email))
	s.logger.Info("receipt sent", zap.String("reference", o.Reference), zap.Int64("buyer_id", buyer.ID))
}

func (s *Server) currency() string {
	if s.cfg.Payments.Currency == "" {
		return "inr"
	}
	return s.cfg.Payments.Currency
}

// rupees formats paise as rupees with two decimals
func rupees(paise int64) string {
	return fmt.Sprintf("%d.%02d", paise/100, paise%100)
}
