package domain

import "time"

// WeatherReading is current conditions at a location, metric units
type WeatherReading struct {
	Location   string    `json:"location"`
	Lat        float64   `json:"lat"`
	Lon        float64   `json:"lon"`
	TempC      float64   `json:"tempC"`
	Humidity   float64   `json:"humidity"`
	WindKmh    float64   `json:"windKmh"`
	RainMM     float64   `json:"rainMM"`
	Conditions string    `json:"conditions"`
	ObservedAt time.Time `json:"observedAt"`
}

type Hazard string

const (
	HazardHeat    Hazard = "heat_stress"
	HazardFrost   Hazard = "frost"
	HazardFungal  Hazard = "fungal_disease"
	HazardFlood   Hazard = "heavy_rain"
	HazardWind    Hazard = "high_wind"
	HazardDrought Hazard = "drought"
)

type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// CropAlert is a weather hazard for one crop plus what to do about it
type CropAlert struct {
	ID           int64     `json:"id,omitempty"`
	UserID       int64     `json:"userId,omitempty"`
	Crop         string    `json:"crop"`
	Hazard       Hazard    `json:"hazard"`
	Level        RiskLevel `json:"level"`
	Message      string    `json:"message"`
	Advice       string    `json:"advice"`
	Location     string    `json:"location,omitempty"`
	Acknowledged bool      `json:"acknowledged"`
	CreatedAt    time.Time `json:"createdAt"`
}

// RiskAssessment scores each hazard 0..100
type RiskAssessment struct {
	Scores  map[Hazard]int `json:"scores"`
	Overall int            `json:"overall"`
	Level   RiskLevel      `json:"level"`
}
