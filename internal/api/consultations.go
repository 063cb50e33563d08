package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"kisan-backend/internal/advisory"
	"kisan-backend/internal/domain"
	"kisan-backend/internal/store"
)

const entityConsultation = "consultation"

type createConsultationRequest struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Category    domain.Category `json:"category"`
	CropType    string          `json:"cropType"`
	Urgency     domain.Urgency  `json:"urgency"`
	Language    string          `json:"language"`
	State       string          `json:"state"`
	AutoAssign  bool            `json:"autoAssign"`
}

func (s *Server) handleCreateConsultation(w http.ResponseWriter, r *http.Request) {
	var req createConsultationRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	actor := caller(r)
	ctx := r.Context()

	// language and state default to the farmer's profile
	if req.Language == "" || req.State == "" {
		farmer, err := s.store.GetUser(ctx, actor.ID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		if req.Language == "" {
			req.Language = farmer.Language
		}
		if req.State == "" {
			req.State = farmer.State
		}
	}

	c, err := domain.NewConsultation(actor, req.Title, req.Description, req.Category, req.CropType,
		req.Urgency, req.Language, req.State, s.now())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.store.CreateConsultation(ctx, c); err != nil {
		s.fail(w, r, err)
		return
	}
	s.recordConsultation(ctx, actor, c, "created", fmt.Sprintf("Consultation opened: %s", c.Title))

	assigned := false
	if req.AutoAssign {
		updated, err := s.autoAssign(ctx, actor, c.ID)
		switch {
		case err == nil:
			c, assigned = updated, true
		case errors.Is(err, domain.ErrNoExpertAvailable):
			s.logger.Info("no expert available for consultation", zap.Int64("consultation_id", c.ID))
		default:
			s.fail(w, r, err)
			return
		}
	}

	ok(w, http.StatusCreated, map[string]interface{}{
		"consultation": c,
		"assigned":     assigned,
	})
}

func (s *Server) handleListConsultations(w http.ResponseWriter, r *http.Request) {
	page, err := pageRequest(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	q := r.URL.Query()
	actor := caller(r)

	f := store.ConsultationFilter{
		Status:   domain.ConsultationStatus(q.Get("status")),
		Category: domain.Category(q.Get("category")),
	}
	var v domain.Validator
	if f.Status != "" {
		v.Check(domain.OneOf(f.Status, domain.StatusPending, domain.StatusAssigned, domain.StatusInProgress,
			domain.StatusResolved, domain.StatusClosed, domain.StatusCancelled), "status", "unknown status")
	}
	if f.Category != "" {
		v.Check(domain.OneOf(f.Category, domain.Categories...), "category", "unknown category")
	}
	if err := v.Err(); err != nil {
		s.fail(w, r, err)
		return
	}

	switch actor.Role {
	case domain.RoleFarmer:
		f.FarmerID = actor.ID
	case domain.RoleExpert:
		if q.Get("pool") == "true" {
			// unassigned work in the expert's specializations
			expert, err := s.store.GetUser(r.Context(), actor.ID)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			f.Status = domain.StatusPending
			for _, sp := range expert.Specializations {
				sp = strings.ToLower(strings.TrimSpace(sp))
				switch {
				case sp == "":
				case domain.OneOf(domain.Category(sp), domain.Categories...):
					f.Categories = append(f.Categories, domain.Category(sp))
				default:
					f.CropTypes = append(f.CropTypes, sp)
				}
			}
			if len(f.Categories) == 0 && len(f.CropTypes) == 0 {
				ok(w, http.StatusOK, domain.NewPage[domain.Consultation](nil, page, 0))
				return
			}
		} else {
			f.ExpertID = actor.ID
		}
	case domain.RoleAdmin:
		if f.FarmerID, err = queryInt64(r, "farmerId"); err == nil {
			f.ExpertID, err = queryInt64(r, "expertId")
		}
		if err != nil {
			s.fail(w, r, err)
			return
		}
	}

	result, err := s.store.ListConsultations(r.Context(), f, page)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, http.StatusOK, result)
}

func (s *Server) handleGetConsultation(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	c, err := s.store.GetConsultation(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	actor := caller(r)
	visible := c.CanView(actor)
	if !visible && actor.Role == domain.RoleExpert && c.Status == domain.StatusPending {
		expert, err := s.store.GetUser(r.Context(), actor.ID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		visible = c.InPool(expert.Specializations)
	}
	if !visible {
		writeError(w, http.StatusForbidden, "you cannot view this consultation")
		return
	}
	ok(w, http.StatusOK, c)
}

// autoAssign picks the best expert for consultation id and assigns it.
// Expert loads are read before the update transaction opens.
func (s *Server) autoAssign(ctx context.Context, actor domain.Actor, id int64) (*domain.Consultation, error) {
	c, err := s.store.GetConsultation(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.Role != domain.RoleAdmin && !(actor.Role == domain.RoleFarmer && c.FarmerID == actor.ID) {
		return nil, fmt.Errorf("only the owner or an admin can request assignment: %w", domain.ErrForbidden)
	}
	if c.Status != domain.StatusPending {
		return nil, fmt.Errorf("cannot assign a %s consultation: %w", c.Status, domain.ErrInvalidTransition)
	}

	loads, err := s.store.ExpertLoads(ctx, true)
	if err != nil {
		return nil, err
	}
	expert, err := advisory.PickExpert(c, loads)
	if err != nil {
		return nil, err
	}

	updated, err := s.store.UpdateConsultation(ctx, id, func(c *domain.Consultation) error {
		return c.Assign(expert, s.now())
	})
	if err != nil {
		return nil, err
	}
	s.recordConsultation(ctx, actor, updated, "assigned",
		fmt.Sprintf("Auto-assigned to expert %s (#%d)", expert.Name, expert.ID))
	return updated, nil
}

func (s *Server) handleAutoAssign(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	c, err := s.autoAssign(r.Context(), caller(r), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, http.StatusOK, c)
}

func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req struct {
		ExpertID int64 `json:"expertId"`
	}
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	expert, err := s.store.GetUser(r.Context(), req.ExpertID)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	c, err := s.store.UpdateConsultation(r.Context(), id, func(c *domain.Consultation) error {
		return c.Assign(expert, s.now())
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.recordConsultation(r.Context(), caller(r), c, "assigned",
		fmt.Sprintf("Assigned to expert %s (#%d) by admin", expert.Name, expert.ID))
	ok(w, http.StatusOK, c)
}

// handleClaim lets an expert take a pending consultation, within their capacity
func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	actor := caller(r)

	loads, err := s.store.ExpertLoads(r.Context(), false)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var me *domain.ExpertLoad
	for i := range loads {
		if loads[i].Expert.ID == actor.ID {
			me = &loads[i]
			break
		}
	}
	if me == nil {
		s.fail(w, r, fmt.Errorf("expert %d: %w", actor.ID, domain.ErrNotFound))
		return
	}
	limit := me.Expert.MaxActive
	if limit <= 0 {
		limit = domain.DefaultMaxActive
	}
	if me.Open >= limit {
		writeError(w, http.StatusConflict, fmt.Sprintf("you already have %d open consultations", me.Open))
		return
	}

	c, err := s.store.UpdateConsultation(r.Context(), id, func(c *domain.Consultation) error {
		return c.Assign(me.Expert, s.now())
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.recordConsultation(r.Context(), actor, c, "claimed", fmt.Sprintf("Claimed by expert %s", me.Expert.Name))
	ok(w, http.StatusOK, c)
}

// transition applies fn to the consultation in the path and records the action
func (s *Server) transition(w http.ResponseWriter, r *http.Request, action string, fn func(c *domain.Consultation, a domain.Actor) (string, error)) {
	id, err := idParam(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	actor := caller(r)
	var message string
	c, err := s.store.UpdateConsultation(r.Context(), id, func(c *domain.Consultation) error {
		var err error
		message, err = fn(c, actor)
		return err
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.recordConsultation(r.Context(), actor, c, action, message)
	ok(w, http.StatusOK, c)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, "started", func(c *domain.Consultation, a domain.Actor) (string, error) {
		return "Expert started work", c.Start(a, s.now())
	})
}

func (s *Server) handleAddMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Body string `json:"body"`
	}
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	s.transition(w, r, "message", func(c *domain.Consultation, a domain.Actor) (string, error) {
		_, err := c.AddMessage(a, req.Body, s.now())
		return fmt.Sprintf("New message from %s #%d", a.Role, a.ID), err
	})
}

func (s *Server) handleSetDiagnosis(w http.ResponseWriter, r *http.Request) {
	var d domain.Diagnosis
	if err := decode(w, r, &d); err != nil {
		s.fail(w, r, err)
		return
	}
	s.transition(w, r, "diagnosed", func(c *domain.Consultation, a domain.Actor) (string, error) {
		if err := c.SetDiagnosis(a, d, s.now()); err != nil {
			return "", err
		}
		return fmt.Sprintf("Diagnosis: %s (%s)", c.Diagnosis.Condition, c.Diagnosis.Severity), nil
	})
}

func (s *Server) handleAddRecommendation(w http.ResponseWriter, r *http.Request) {
	var rec domain.Recommendation
	if err := decode(w, r, &rec); err != nil {
		s.fail(w, r, err)
		return
	}
	rec.ID = 0
	s.transition(w, r, "recommendation", func(c *domain.Consultation, a domain.Actor) (string, error) {
		added, err := c.AddRecommendation(a, rec, s.now())
		return fmt.Sprintf("Recommendation added: %s", added.Title), err
	})
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, "resolved", func(c *domain.Consultation, a domain.Actor) (string, error) {
		return "Consultation resolved", c.Resolve(a, s.now())
	})
}

func (s *Server) handleRate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Rating   int    `json:"rating"`
		Feedback string `json:"feedback"`
	}
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	s.transition(w, r, "rated", func(c *domain.Consultation, a domain.Actor) (string, error) {
		return fmt.Sprintf("Rated %d/5", req.Rating), c.Rate(a, req.Rating, req.Feedback, s.now())
	})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, "cancelled", func(c *domain.Consultation, a domain.Actor) (string, error) {
		return "Cancelled by farmer", c.Cancel(a, s.now())
	})
}

func (s *Server) recordConsultation(ctx context.Context, actor domain.Actor, c *domain.Consultation, action, message string) {
	s.metrics.consultations.WithLabelValues(action).Inc()
	s.store.LogActivity(ctx, actor.ID, entityConsultation, c.ID, action, message)
	s.logger.Info("consultation "+action,
		zap.Int64("consultation_id", c.ID),
		zap.String("status", string(c.Status)),
		zap.Int64("actor_id", actor.ID))
}
