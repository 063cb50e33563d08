package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"kisan-backend/internal/advisory"
	"kisan-backend/internal/domain"
)

const (
	defaultTrendDays = 30
	maxTrendDays     = 365
)

func (s *Server) priceFilter(r *http.Request) (domain.PriceFilter, error) {
	q := r.URL.Query()
	f := domain.PriceFilter{
		Commodity: strings.ToLower(strings.TrimSpace(q.Get("commodity"))),
		Mandi:     strings.TrimSpace(q.Get("mandi")),
		State:     strings.TrimSpace(q.Get("state")),
	}
	var err error
	if f.From, err = queryDate(r, "from"); err != nil {
		return f, err
	}
	if f.To, err = queryDate(r, "to"); err != nil {
		return f, err
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.From.After(f.To) {
		return f, fmt.Errorf("from must not be after to: %w", domain.ErrValidation)
	}
	return f, nil
}

func (s *Server) handleListPrices(w http.ResponseWriter, r *http.Request) {
	page, err := pageRequest(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	f, err := s.priceFilter(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	prices, err := s.store.ListPrices(r.Context(), f, page)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, http.StatusOK, prices)
}

func (s *Server) handleRecordPrice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		domain.PriceRecord
		Date string `json:"date"`
	}
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	p := req.PriceRecord
	p.ID = 0
	if req.Date == "" {
		p.Date = s.now()
	} else {
		d, err := time.Parse(time.DateOnly, req.Date)
		if err != nil {
			s.fail(w, r, fmt.Errorf("date must be YYYY-MM-DD: %w", domain.ErrValidation))
			return
		}
		p.Date = d
	}
	if err := p.Validate(); err != nil {
		s.fail(w, r, err)
		return
	}
	actor := caller(r)
	p.ReportedBy = actor.ID

	if err := s.store.RecordPrice(r.Context(), &p); err != nil {
		s.fail(w, r, err)
		return
	}
	s.store.LogActivity(r.Context(), actor.ID, "price", p.ID, "recorded",
		fmt.Sprintf("%s at %s: ₹%.0f/quintal", p.Commodity, p.Mandi, p.ModalPrice))
	ok(w, http.StatusCreated, p)
}

// handleTrends summarizes a commodity's prices per mandi over the last days
func (s *Server) handleTrends(w http.ResponseWriter, r *http.Request) {
	f, err := s.priceFilter(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	days := defaultTrendDays
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxTrendDays {
			s.fail(w, r, fmt.Errorf("days must be 1-%d: %w", maxTrendDays, domain.ErrValidation))
			return
		}
		days = n
	}
	if f.Commodity == "" {
		var v domain.Validator
		v.Add("commodity", "is required")
		s.fail(w, r, v.Err())
		return
	}
	if f.From.IsZero() {
		f.From = s.now().AddDate(0, 0, -days)
	}

	history, err := s.store.PriceHistory(r.Context(), f)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, http.StatusOK, map[string]interface{}{
		"commodity": f.Commodity,
		"from":      f.From.Format(time.DateOnly),
		"trends":    advisory.ComputeTrends(history),
	})
}
