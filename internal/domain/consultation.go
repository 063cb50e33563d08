package domain

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

type ConsultationStatus string

const (
	StatusPending    ConsultationStatus = "pending"
	StatusAssigned   ConsultationStatus = "assigned"
	StatusInProgress ConsultationStatus = "in_progress"
	StatusResolved   ConsultationStatus = "resolved"
	StatusClosed     ConsultationStatus = "closed"
	StatusCancelled  ConsultationStatus = "cancelled"
)

// Open reports whether the consultation still occupies an expert
func (s ConsultationStatus) Open() bool {
	return s == StatusAssigned || s == StatusInProgress
}

// Terminal statuses accept no further messages
func (s ConsultationStatus) Terminal() bool {
	return s == StatusResolved || s == StatusClosed || s == StatusCancelled
}

type Category string

const (
	CategoryCropDisease Category = "crop_disease"
	CategoryPestControl Category = "pest_control"
	CategorySoilHealth  Category = "soil_health"
	CategoryIrrigation  Category = "irrigation"
	CategoryFertilizer  Category = "fertilizer"
	CategoryMarket      Category = "market"
	CategoryGeneral     Category = "general"
)

var Categories = []Category{
	CategoryCropDisease, CategoryPestControl, CategorySoilHealth,
	CategoryIrrigation, CategoryFertilizer, CategoryMarket, CategoryGeneral,
}

type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyMedium   Urgency = "medium"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

type Severity string

const (
	SeverityMild     Severity = "mild"
	SeverityModerate Severity = "moderate"
	SeveritySevere   Severity = "severe"
)

type RecommendationKind string

const (
	KindTreatment  RecommendationKind = "treatment"
	KindFertilizer RecommendationKind = "fertilizer"
	KindPractice   RecommendationKind = "practice"
	KindIrrigation RecommendationKind = "irrigation"
	KindOther      RecommendationKind = "other"
)

const (
	maxTitleLen   = 200
	maxMessageLen = 4000
)

// Message is one entry in a consultation thread
type Message struct {
	ID         int64     `json:"id"`
	SenderID   int64     `json:"senderId"`
	SenderRole Role      `json:"senderRole"`
	Body       string    `json:"body"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Diagnosis is the expert's finding; a later diagnosis replaces the earlier one
type Diagnosis struct {
	Condition   string    `json:"condition"`
	Severity    Severity  `json:"severity"`
	Confidence  float64   `json:"confidence"` // 0..1
	Notes       string    `json:"notes,omitempty"`
	DiagnosedBy int64     `json:"diagnosedBy"`
	DiagnosedAt time.Time `json:"diagnosedAt"`
}

// Recommendation is an action the expert asks the farmer to take
type Recommendation struct {
	ID        int64              `json:"id"`
	Kind      RecommendationKind `json:"kind"`
	Title     string             `json:"title"`
	Details   string             `json:"details"`
	Dosage    string             `json:"dosage,omitempty"`
	Priority  int                `json:"priority"` // 1 (highest) .. 5
	CreatedAt time.Time          `json:"createdAt"`
}

// Consultation is a farmer's advisory request and the expert thread around it
type Consultation struct {
	ID              int64              `json:"id"`
	FarmerID        int64              `json:"farmerId"`
	ExpertID        int64              `json:"expertId,omitempty"` // 0 while unassigned
	Title           string             `json:"title"`
	Description     string             `json:"description"`
	Category        Category           `json:"category"`
	CropType        string             `json:"cropType,omitempty"`
	Urgency         Urgency            `json:"urgency"`
	Language        string             `json:"language"`
	State           string             `json:"state,omitempty"`
	Status          ConsultationStatus `json:"status"`
	Messages        []Message          `json:"messages"`
	Diagnosis       *Diagnosis         `json:"diagnosis,omitempty"`
	Recommendations []Recommendation   `json:"recommendations"`
	Rating          int                `json:"rating"` // 0 until the farmer rates
	Feedback        string             `json:"feedback,omitempty"`
	CreatedAt       time.Time          `json:"createdAt"`
	UpdatedAt       time.Time          `json:"updatedAt"`
	AssignedAt      *time.Time         `json:"assignedAt,omitempty"`
	ResolvedAt      *time.Time         `json:"resolvedAt,omitempty"`
}

// Actor is whoever is performing an operation
type Actor struct {
	ID   int64
	Role Role
}

// NewConsultation validates input and returns a pending consultation
func NewConsultation(farmer Actor, title, description string, category Category, cropType string, urgency Urgency, language, state string, now time.Time) (*Consultation, error) {
	if farmer.Role != RoleFarmer {
		return nil, fmt.Errorf("only farmers can open consultations: %w", ErrForbidden)
	}

	title = strings.TrimSpace(title)
	description = strings.TrimSpace(description)
	if category == "" {
		category = CategoryGeneral
	}
	if urgency == "" {
		urgency = UrgencyMedium
	}
	if language == "" {
		language = "en"
	}

	var v Validator
	n := utf8.RuneCountInString(title)
	v.Check(n >= 3 && n <= maxTitleLen, "title", "must be 3-200 characters")
	v.Check(description != "", "description", "is required")
	v.Check(OneOf(category, Categories...), "category", "unknown category")
	v.Check(OneOf(urgency, UrgencyLow, UrgencyMedium, UrgencyHigh, UrgencyCritical), "urgency", "must be low, medium, high or critical")
	if err := v.Err(); err != nil {
		return nil, err
	}

	return &Consultation{
		FarmerID:        farmer.ID,
		Title:           title,
		Description:     description,
		Category:        category,
		CropType:        strings.ToLower(strings.TrimSpace(cropType)),
		Urgency:         urgency,
		Language:        language,
		State:           state,
		Status:          StatusPending,
		Messages:        []Message{},
		Recommendations: []Recommendation{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// CanView reports whether actor may read the consultation
func (c *Consultation) CanView(a Actor) bool {
	switch a.Role {
	case RoleAdmin:
		return true
	case RoleFarmer:
		return c.FarmerID == a.ID
	case RoleExpert:
		return c.ExpertID != 0 && c.ExpertID == a.ID
	}
	return false
}

// MatchesSpecialization reports whether any of specs names the category or
// the crop type, ignoring case
func (c *Consultation) MatchesSpecialization(specs []string) bool {
	for _, s := range specs {
		if strings.EqualFold(s, string(c.Category)) || (c.CropType != "" && strings.EqualFold(s, c.CropType)) {
			return true
		}
	}
	return false
}

// InPool reports whether an expert with specs may read c while it waits for assignment
func (c *Consultation) InPool(specs []string) bool {
	return c.Status == StatusPending && c.MatchesSpecialization(specs)
}

func (c *Consultation) isOwner(a Actor) bool {
	return a.Role == RoleFarmer && a.ID == c.FarmerID
}

func (c *Consultation) isAssignedExpert(a Actor) bool {
	return a.Role == RoleExpert && c.ExpertID != 0 && a.ID == c.ExpertID
}

func (c *Consultation) transitionErr(op string) error {
	return fmt.Errorf("cannot %s a %s consultation: %w", op, c.Status, ErrInvalidTransition)
}

// Assign hands a pending consultation to expert
func (c *Consultation) Assign(expert User, now time.Time) error {
	if expert.Role != RoleExpert {
		return fmt.Errorf("user %d is not an expert: %w", expert.ID, ErrValidation)
	}
	if !expert.Available {
		return fmt.Errorf("expert %d is not available: %w", expert.ID, ErrConflict)
	}
	if c.Status != StatusPending {
		return c.transitionErr("assign")
	}
	c.ExpertID = expert.ID
	c.Status = StatusAssigned
	c.AssignedAt = &now
	c.UpdatedAt = now
	return nil
}

// Start moves an assigned consultation into active work
func (c *Consultation) Start(a Actor, now time.Time) error {
	if !c.isAssignedExpert(a) {
		return fmt.Errorf("only the assigned expert can start: %w", ErrForbidden)
	}
	if c.Status != StatusAssigned {
		return c.transitionErr("start")
	}
	c.Status = StatusInProgress
	c.UpdatedAt = now
	return nil
}

// AddMessage appends to the thread. The assigned expert's first reply starts the consultation.
func (c *Consultation) AddMessage(a Actor, body string, now time.Time) (Message, error) {
	if !c.isOwner(a) && !c.isAssignedExpert(a) {
		return Message{}, fmt.Errorf("not a participant: %w", ErrForbidden)
	}
	body = strings.TrimSpace(body)
	if n := utf8.RuneCountInString(body); n == 0 || n > maxMessageLen {
		var v Validator
		v.Add("body", "must be 1-4000 characters")
		return Message{}, v.Err()
	}
	if c.Status.Terminal() {
		return Message{}, c.transitionErr("message")
	}

	if c.isAssignedExpert(a) && c.Status == StatusAssigned {
		c.Status = StatusInProgress
	}
	m := Message{SenderID: a.ID, SenderRole: a.Role, Body: body, CreatedAt: now}
	c.Messages = append(c.Messages, m)
	c.UpdatedAt = now
	return m, nil
}

// SetDiagnosis records or replaces the diagnosis
func (c *Consultation) SetDiagnosis(a Actor, d Diagnosis, now time.Time) error {
	if !c.isAssignedExpert(a) {
		return fmt.Errorf("only the assigned expert can diagnose: %w", ErrForbidden)
	}
	if !c.Status.Open() {
		return c.transitionErr("diagnose")
	}

	d.Condition = strings.TrimSpace(d.Condition)
	var v Validator
	v.Check(d.Condition != "", "condition", "is required")
	v.Check(OneOf(d.Severity, SeverityMild, SeverityModerate, SeveritySevere), "severity", "must be mild, moderate or severe")
	v.Check(d.Confidence >= 0 && d.Confidence <= 1, "confidence", "must be between 0 and 1")
	if err := v.Err(); err != nil {
		return err
	}

	d.DiagnosedBy = a.ID
	d.DiagnosedAt = now
	c.Diagnosis = &d
	c.UpdatedAt = now
	return nil
}

// AddRecommendation appends an expert recommendation; only while in progress
func (c *Consultation) AddRecommendation(a Actor, r Recommendation, now time.Time) (Recommendation, error) {
	if !c.isAssignedExpert(a) {
		return Recommendation{}, fmt.Errorf("only the assigned expert can recommend: %w", ErrForbidden)
	}
	if c.Status != StatusInProgress {
		return Recommendation{}, c.transitionErr("add a recommendation to")
	}

	if r.Kind == "" {
		r.Kind = KindOther
	}
	if r.Priority == 0 {
		r.Priority = 3
	}
	r.Title = strings.TrimSpace(r.Title)
	var v Validator
	v.Check(OneOf(r.Kind, KindTreatment, KindFertilizer, KindPractice, KindIrrigation, KindOther), "kind", "unknown recommendation kind")
	v.Check(r.Title != "", "title", "is required")
	v.Check(r.Priority >= 1 && r.Priority <= 5, "priority", "must be 1-5")
	if err := v.Err(); err != nil {
		return Recommendation{}, err
	}

	r.CreatedAt = now
	c.Recommendations = append(c.Recommendations, r)
	c.UpdatedAt = now
	return r, nil
}

// Resolve closes out the expert's work. Something actionable must have been given.
func (c *Consultation) Resolve(a Actor, now time.Time) error {
	if !c.isAssignedExpert(a) {
		return fmt.Errorf("only the assigned expert can resolve: %w", ErrForbidden)
	}
	if c.Status != StatusInProgress {
		return c.transitionErr("resolve")
	}
	if c.Diagnosis == nil && len(c.Recommendations) == 0 {
		var v Validator
		v.Add("diagnosis", "a diagnosis or recommendation is required before resolving")
		return v.Err()
	}
	c.Status = StatusResolved
	c.ResolvedAt = &now
	c.UpdatedAt = now
	return nil
}

// Rate stores the farmer's rating and closes the consultation
func (c *Consultation) Rate(a Actor, rating int, feedback string, now time.Time) error {
	if !c.isOwner(a) {
		return fmt.Errorf("only the farmer can rate: %w", ErrForbidden)
	}
	if c.Status != StatusResolved {
		return c.transitionErr("rate")
	}
	if rating < 1 || rating > 5 {
		var v Validator
		v.Add("rating", "must be 1-5")
		return v.Err()
	}
	c.Rating = rating
	c.Feedback = strings.TrimSpace(feedback)
	c.Status = StatusClosed
	c.UpdatedAt = now
	return nil
}

// Cancel withdraws the request before work starts
func (c *Consultation) Cancel(a Actor, now time.Time) error {
	if !c.isOwner(a) {
		return fmt.Errorf("only the farmer can cancel: %w", ErrForbidden)
	}
	if c.Status != StatusPending && c.Status != StatusAssigned {
		return c.transitionErr("cancel")
	}
	c.Status = StatusCancelled
	c.UpdatedAt = now
	return nil
}

// FoldRating adds a new rating into a running average
func FoldRating(avg float64, count, rating int) (float64, int) {
	total := avg*float64(count) + float64(rating)
	count++
	return total / float64(count), count
}
