package api

import (
	"errors"
	"net/http"
	"net/mail"
	"strings"

	"go.uber.org/zap"

	"kisan-backend/internal/auth"
	"kisan-backend/internal/domain"
)

type registerRequest struct {
	Name            string   `json:"name"`
	Email           string   `json:"email"`
	Phone           string   `json:"phone"`
	Password        string   `json:"password"`
	Role            string   `json:"role"`
	Language        string   `json:"language"`
	State           string   `json:"state"`
	District        string   `json:"district"`
	Crops           []string `json:"crops"`
	Specializations []string `json:"specializations"`
	Languages       []string `json:"languages"`
}

func (s *Server) issueToken(w http.ResponseWriter, r *http.Request, status int, u domain.User) {
	token, expires, err := s.issuer.Issue(u)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, status, map[string]interface{}{
		"token":     token,
		"expiresAt": expires,
		"user":      u,
	})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	role := domain.Role(strings.ToLower(strings.TrimSpace(req.Role)))
	if role == "" {
		role = domain.RoleFarmer
	}
	if req.Language == "" {
		req.Language = "en"
	}

	var v domain.Validator
	v.Check(strings.TrimSpace(req.Name) != "", "name", "is required")
	addr, mailErr := mail.ParseAddress(strings.TrimSpace(req.Email))
	v.Check(mailErr == nil && addr.Name == "", "email", "must be a valid email address")
	v.Check(len(req.Password) >= auth.MinPasswordLength, "password", "must be at least 8 characters")
	v.Check(len(req.Password) <= auth.MaxPasswordLength, "password", "must be at most 72 bytes")
	v.Check(domain.OneOf(role, domain.RoleFarmer, domain.RoleExpert), "role", "must be farmer or expert")
	if role == domain.RoleExpert {
		v.Check(len(req.Specializations) > 0, "specializations", "experts need at least one specialization")
	}
	if err := v.Err(); err != nil {
		s.fail(w, r, err)
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	u := domain.User{
		Name:         strings.TrimSpace(req.Name),
		Email:        addr.Address,
		Phone:        req.Phone,
		PasswordHash: hash,
		Role:         role,
		Language:     req.Language,
		State:        req.State,
		District:     req.District,
		Crops:        normalizeList(req.Crops),
	}
	if role == domain.RoleExpert {
		u.Specializations = normalizeList(req.Specializations)
		u.Languages = normalizeList(req.Languages)
		if len(u.Languages) == 0 {
			u.Languages = []string{req.Language}
		}
		u.Available = true
	}

	if err := s.store.CreateUser(r.Context(), &u); err != nil {
		s.fail(w, r, err)
		return
	}
	s.store.LogActivity(r.Context(), u.ID, "user", u.ID, "register", "New "+string(u.Role)+" registered: "+u.Name)
	s.logger.Info("user registered", zap.Int64("user_id", u.ID), zap.String("role", string(u.Role)))

	s.issueToken(w, r, http.StatusCreated, u)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	u, err := s.store.GetUserByEmail(r.Context(), req.Email)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		s.fail(w, r, err)
		return
	}
	if err != nil || !auth.CheckPassword(u.PasswordHash, req.Password) {
		writeError(w, http.StatusUnauthorized, "invalid email or password")
		return
	}
	s.issueToken(w, r, http.StatusOK, u)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	u, err := s.store.GetUser(r.Context(), caller(r).ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, http.StatusOK, u)
}

// handleUpdateMe edits the caller's profile; absent fields are left as they are
func (s *Server) handleUpdateMe(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name            *string  `json:"name"`
		Phone           *string  `json:"phone"`
		Language        *string  `json:"language"`
		State           *string  `json:"state"`
		District        *string  `json:"district"`
		Crops           []string `json:"crops"`
		Specializations []string `json:"specializations"`
		Languages       []string `json:"languages"`
		Available       *bool    `json:"available"`
	}
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	u, err := s.store.GetUser(r.Context(), caller(r).ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	setIf := func(dst *string, v *string) {
		if v != nil {
			*dst = strings.TrimSpace(*v)
		}
	}
	setIf(&u.Name, req.Name)
	setIf(&u.Phone, req.Phone)
	setIf(&u.Language, req.Language)
	setIf(&u.State, req.State)
	setIf(&u.District, req.District)
	if req.Crops != nil {
		u.Crops = normalizeList(req.Crops)
	}
	if u.Role == domain.RoleExpert {
		if req.Specializations != nil {
			u.Specializations = normalizeList(req.Specializations)
		}
		if req.Languages != nil {
			u.Languages = normalizeList(req.Languages)
		}
		if req.Available != nil {
			u.Available = *req.Available
		}
	}
	if u.Name == "" {
		var v domain.Validator
		v.Add("name", "is required")
		s.fail(w, r, v.Err())
		return
	}

	if err := s.store.UpdateProfile(r.Context(), u); err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, http.StatusOK, u)
}

// handleListExperts lists experts with their current open consultation count
func (s *Server) handleListExperts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	loads, err := s.store.ExpertLoads(r.Context(), q.Get("available") == "true")
	if err != nil {
		s.fail(w, r, err)
		return
	}

	specialty := strings.ToLower(strings.TrimSpace(q.Get("specialization")))
	out := make([]domain.ExpertLoad, 0, len(loads))
	for _, l := range loads {
		if specialty != "" && !containsString(l.Expert.Specializations, specialty) {
			continue
		}
		l.Expert.Email = ""
		l.Expert.Phone = ""
		out = append(out, l)
	}
	ok(w, http.StatusOK, out)
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool)
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}
