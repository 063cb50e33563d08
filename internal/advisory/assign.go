package advisory

import (
	"strings"

	"kisan-backend/internal/domain"
)

// Weights for expert auto-assignment
const (
	specializationWeight = 50
	languageWeight       = 20
	stateWeight          = 15
	ratingWeight         = 4
	loadPenalty          = 10
)

// ExpertScore is one candidate's assignment score
type ExpertScore struct {
	Expert domain.User `json:"expert"`
	Open   int         `json:"open"`
	Score  float64     `json:"score"`
}

// ScoreExperts ranks candidates for c, best first. Unavailable experts and
// experts already at their open-consultation limit are left out.
func ScoreExperts(c *domain.Consultation, candidates []domain.ExpertLoad) []ExpertScore {
	var scored []ExpertScore
	for _, cand := range candidates {
		e := cand.Expert
		if e.Role != domain.RoleExpert || !e.Available {
			continue
		}
		limit := e.MaxActive
		if limit <= 0 {
			limit = domain.DefaultMaxActive
		}
		if cand.Open >= limit {
			continue
		}

		score := 0.0
		if c.MatchesSpecialization(e.Specializations) {
			score += specializationWeight
		}
		if containsFold(e.Languages, c.Language) {
			score += languageWeight
		}
		if c.State != "" && strings.EqualFold(e.State, c.State) {
			score += stateWeight
		}
		score += ratingWeight * e.Rating

		penalty := float64(loadPenalty * cand.Open)
		if c.Urgency == domain.UrgencyCritical {
			penalty *= 2
		}
		score -= penalty

		scored = append(scored, ExpertScore{Expert: e, Open: cand.Open, Score: score})
	}

	sortSlice(scored, func(a, b ExpertScore) bool {
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Open != b.Open {
			return a.Open < b.Open
		}
		return a.Expert.ID < b.Expert.ID
	})
	return scored
}

// PickExpert returns the best expert for c, or ErrNoExpertAvailable
func PickExpert(c *domain.Consultation, candidates []domain.ExpertLoad) (domain.User, error) {
	ranked := ScoreExperts(c, candidates)
	if len(ranked) == 0 {
		return domain.User{}, domain.ErrNoExpertAvailable
	}
	return ranked[0].Expert, nil
}

func containsFold(list []string, v string) bool {
	if v == "" {
		return false
	}
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}
