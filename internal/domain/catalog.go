package domain

import "time"

// Scheme is a government programme for farmers
type Scheme struct {
	Slug        string     `json:"slug" yaml:"slug"`
	Name        string     `json:"name" yaml:"name"`
	Ministry    string     `json:"ministry" yaml:"ministry"`
	Category    string     `json:"category" yaml:"category"`
	States      []string   `json:"states" yaml:"states"` // empty means national
	Benefits    string     `json:"benefits" yaml:"benefits"`
	Eligibility string     `json:"eligibility" yaml:"eligibility"`
	HowToApply  string     `json:"howToApply" yaml:"howToApply"`
	URL         string     `json:"url" yaml:"url"`
	Deadline    *time.Time `json:"deadline,omitempty" yaml:"deadline,omitempty"`
	UpdatedAt   time.Time  `json:"updatedAt" yaml:"-"`
}

var SchemeCategories = []string{"subsidy", "insurance", "credit", "income_support", "irrigation", "soil"}

// SchemeFilter narrows the scheme catalog
type SchemeFilter struct {
	Category string
	State    string
	Search   string
}

// Crop is an entry in the crop advisor catalog
type Crop struct {
	Name         string   `json:"name" yaml:"name"`
	LocalName    string   `json:"localName,omitempty" yaml:"localName"`
	Seasons      []string `json:"seasons" yaml:"seasons"`
	Soils        []string `json:"soils" yaml:"soils"`
	MinTempC     float64  `json:"minTempC" yaml:"minTempC"`
	MaxTempC     float64  `json:"maxTempC" yaml:"maxTempC"`
	MinRainMM    float64  `json:"minRainMM" yaml:"minRainMM"`
	MaxRainMM    float64  `json:"maxRainMM" yaml:"maxRainMM"`
	WaterNeed    string   `json:"waterNeed" yaml:"waterNeed"` // low, medium, high
	DurationDays int      `json:"durationDays" yaml:"durationDays"`
}

var (
	Seasons = []string{"kharif", "rabi", "zaid"}
	Soils   = []string{"alluvial", "black", "red", "laterite", "sandy", "loamy", "clay"}
)

// AdvisorInput describes a field the farmer wants crop suggestions for
type AdvisorInput struct {
	Soil       string  `json:"soil"`
	Season     string  `json:"season"`
	AvgTempC   float64 `json:"avgTempC"`
	RainfallMM float64 `json:"rainfallMM"`
	Irrigation bool    `json:"irrigation"`
	Limit      int     `json:"limit"`
}

func (in *AdvisorInput) Validate() error {
	if in.Limit <= 0 {
		in.Limit = 5
	}
	var v Validator
	v.Check(OneOf(in.Season, Seasons...), "season", "must be kharif, rabi or zaid")
	v.Check(OneOf(in.Soil, Soils...), "soil", "unknown soil type")
	v.Check(in.RainfallMM >= 0, "rainfallMM", "must not be negative")
	v.Check(in.Limit <= 20, "limit", "at most 20")
	return v.Err()
}

// CropRecommendation is a scored catalog crop
type CropRecommendation struct {
	Crop    Crop     `json:"crop"`
	Score   int      `json:"score"`
	Reasons []string `json:"reasons"`
}
