package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"kisan-backend/internal/auth"
	"kisan-backend/internal/domain"
	"kisan-backend/internal/payments"
	"kisan-backend/internal/weather"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// ok wraps data in the success envelope
func ok(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, map[string]interface{}{
		"success": true,
		"data":    data,
	})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{
		"success": false,
		"error":   msg,
	})
}

// fail maps err onto a status code. Unexpected errors are logged and hidden.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	var verr *domain.ValidationError
	var werr *weather.StatusError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"success": false,
			"error":   "validation failed",
			"fields":  verr.Fields,
		})
	case errors.Is(err, domain.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrNoExpertAvailable):
		writeError(w, http.StatusConflict, "no expert available")
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, weather.ErrNotConfigured):
		writeError(w, http.StatusServiceUnavailable, "weather service is not configured")
	case errors.As(err, &werr), errors.Is(err, payments.ErrUnknownPayment):
		s.logger.Warn("upstream failure", zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, http.StatusBadGateway, "upstream service error")
	default:
		s.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON body: %v: %w", err, domain.ErrValidation)
	}
	return nil
}

func idParam(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s: %w", name, domain.ErrValidation)
	}
	return id, nil
}

// pageRequest reads page and limit. Limits above the maximum are clamped.
func pageRequest(r *http.Request) (domain.PageRequest, error) {
	q := r.URL.Query()
	var v domain.Validator
	p := domain.PageRequest{Page: 1, Limit: domain.DefaultPageSize}
	if s := q.Get("page"); s != "" {
		n, err := strconv.Atoi(s)
		v.Check(err == nil && n >= 1, "page", "must be a positive integer")
		p.Page = n
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		v.Check(err == nil && n >= 1, "limit", "must be a positive integer")
		p.Limit = n
	}
	if err := v.Err(); err != nil {
		return p, err
	}
	return p.Normalize(), nil
}

func queryInt64(r *http.Request, key string) (int64, error) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s: %w", key, domain.ErrValidation)
	}
	return n, nil
}

func queryFloat(r *http.Request, key string) (float64, bool, error) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return 0, false, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false, fmt.Errorf("invalid %s: %w", key, domain.ErrValidation)
	}
	return f, true, nil
}

func queryDate(r *http.Request, key string) (time.Time, error) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be YYYY-MM-DD: %w", key, domain.ErrValidation)
	}
	return t, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// caller returns the authenticated identity. Routes using it sit behind auth.Required.
func caller(r *http.Request) domain.Actor {
	c, _ := auth.FromContext(r.Context())
	if c == nil {
		return domain.Actor{}
	}
	return c.Actor()
}

func callerName(r *http.Request) string {
	if c, ok := auth.FromContext(r.Context()); ok {
		return c.Name
	}
	return ""
}
