package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"kisan-backend/internal/advisory"
	"kisan-backend/internal/domain"
)

func (s *Server) handleListSchemes(w http.ResponseWriter, r *http.Request) {
	page, err := pageRequest(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	q := r.URL.Query()
	f := domain.SchemeFilter{
		Category: q.Get("category"),
		State:    strings.TrimSpace(q.Get("state")),
		Search:   strings.TrimSpace(q.Get("q")),
	}
	if f.Category != "" && !domain.OneOf(f.Category, domain.SchemeCategories...) {
		var v domain.Validator
		v.Add("category", "unknown scheme category")
		s.fail(w, r, v.Err())
		return
	}
	schemes, err := s.store.ListSchemes(r.Context(), f, page)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, http.StatusOK, schemes)
}

func (s *Server) handleGetScheme(w http.ResponseWriter, r *http.Request) {
	sc, err := s.store.GetScheme(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, http.StatusOK, sc)
}

func (s *Server) handleUpsertScheme(w http.ResponseWriter, r *http.Request) {
	var sc domain.Scheme
	if err := decode(w, r, &sc); err != nil {
		s.fail(w, r, err)
		return
	}
	sc.Slug = strings.ToLower(chi.URLParam(r, "slug"))
	sc.Name = strings.TrimSpace(sc.Name)
	if sc.States == nil {
		sc.States = []string{}
	}

	var v domain.Validator
	v.Check(sc.Slug != "", "slug", "is required")
	v.Check(sc.Name != "", "name", "is required")
	v.Check(domain.OneOf(sc.Category, domain.SchemeCategories...), "category", "unknown scheme category")
	if err := v.Err(); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.store.UpsertScheme(r.Context(), &sc); err != nil {
		s.fail(w, r, err)
		return
	}
	s.store.LogActivity(r.Context(), caller(r).ID, "scheme", 0, "upserted", "Scheme saved: "+sc.Slug)
	ok(w, http.StatusOK, sc)
}

func (s *Server) handleListCrops(w http.ResponseWriter, r *http.Request) {
	crops, err := s.store.ListCrops(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if season := r.URL.Query().Get("season"); season != "" {
		filtered := crops[:0]
		for _, c := range crops {
			if containsString(c.Seasons, season) {
				filtered = append(filtered, c)
			}
		}
		crops = filtered
	}
	ok(w, http.StatusOK, crops)
}

func (s *Server) handleGetCrop(w http.ResponseWriter, r *http.Request) {
	c, err := s.store.GetCrop(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, http.StatusOK, c)
}

func (s *Server) handleRecommendCrops(w http.ResponseWriter, r *http.Request) {
	var in domain.AdvisorInput
	if err := decode(w, r, &in); err != nil {
		s.fail(w, r, err)
		return
	}
	in.Soil = strings.ToLower(strings.TrimSpace(in.Soil))
	in.Season = strings.ToLower(strings.TrimSpace(in.Season))
	if err := in.Validate(); err != nil {
		s.fail(w, r, err)
		return
	}
	catalog, err := s.store.ListCrops(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, http.StatusOK, map[string]interface{}{
		"input":           in,
		"recommendations": advisory.RecommendCrops(catalog, in),
	})
}
