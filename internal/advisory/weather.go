package advisory

import (
	"fmt"
	"strings"

	"kisan-backend/internal/domain"
)

// hazardRule decides a hazard's level from a reading; ok is false when the hazard does not apply
type hazardRule struct {
	hazard  domain.Hazard
	level   func(r domain.WeatherReading) (domain.RiskLevel, bool)
	message func(r domain.WeatherReading) string
}

var hazardRules = []hazardRule{
	{
		hazard: domain.HazardHeat,
		level: func(r domain.WeatherReading) (domain.RiskLevel, bool) {
			switch {
			case r.TempC >= 40:
				return domain.RiskHigh, true
			case r.TempC >= 35:
				return domain.RiskMedium, true
			}
			return "", false
		},
		message: func(r domain.WeatherReading) string {
			return fmt.Sprintf("High temperature of %.1f°C", r.TempC)
		},
	},
	{
		hazard: domain.HazardFrost,
		level: func(r domain.WeatherReading) (domain.RiskLevel, bool) {
			switch {
			case r.TempC <= 2:
				return domain.RiskHigh, true
			case r.TempC <= 5:
				return domain.RiskMedium, true
			}
			return "", false
		},
		message: func(r domain.WeatherReading) string {
			return fmt.Sprintf("Low temperature of %.1f°C, frost possible", r.TempC)
		},
	},
	{
		hazard: domain.HazardFungal,
		level: func(r domain.WeatherReading) (domain.RiskLevel, bool) {
			if r.TempC < 20 || r.TempC > 30 {
				return "", false
			}
			switch {
			case r.Humidity >= 85:
				return domain.RiskHigh, true
			case r.Humidity >= 75:
				return domain.RiskMedium, true
			}
			return "", false
		},
		message: func(r domain.WeatherReading) string {
			return fmt.Sprintf("Warm and humid (%.0f%% humidity) conditions favour fungal disease", r.Humidity)
		},
	},
	{
		hazard: domain.HazardFlood,
		level: func(r domain.WeatherReading) (domain.RiskLevel, bool) {
			switch {
			case r.RainMM >= 100:
				return domain.RiskHigh, true
			case r.RainMM >= 50:
				return domain.RiskMedium, true
			}
			return "", false
		},
		message: func(r domain.WeatherReading) string {
			return fmt.Sprintf("Heavy rainfall of %.0f mm", r.RainMM)
		},
	},
	{
		hazard: domain.HazardWind,
		level: func(r domain.WeatherReading) (domain.RiskLevel, bool) {
			switch {
			case r.WindKmh >= 60:
				return domain.RiskHigh, true
			case r.WindKmh >= 40:
				return domain.RiskMedium, true
			}
			return "", false
		},
		message: func(r domain.WeatherReading) string {
			return fmt.Sprintf("Strong winds of %.0f km/h", r.WindKmh)
		},
	},
	{
		hazard: domain.HazardDrought,
		level: func(r domain.WeatherReading) (domain.RiskLevel, bool) {
			if r.Humidity < 30 && r.RainMM == 0 && r.TempC >= 30 {
				return domain.RiskMedium, true
			}
			return "", false
		},
		message: func(r domain.WeatherReading) string {
			return fmt.Sprintf("Dry conditions: %.0f%% humidity and no rain", r.Humidity)
		},
	},
}

var genericAdvice = map[domain.Hazard]string{
	domain.HazardHeat:    "Irrigate in the early morning or evening and apply mulch to retain soil moisture.",
	domain.HazardFrost:   "Give a light irrigation in the evening and cover nursery beds; smoke along field edges at night helps.",
	domain.HazardFungal:  "Scout for leaf spots and apply a recommended preventive fungicide; avoid overhead irrigation.",
	domain.HazardFlood:   "Clear field drainage channels and postpone fertilizer and pesticide application.",
	domain.HazardWind:    "Stake tall crops and postpone spraying until winds drop.",
	domain.HazardDrought: "Prioritise irrigation at critical growth stages and consider a mulch cover.",
}

// crop-specific advice overrides the generic text
var cropAdvice = map[string]map[domain.Hazard]string{
	"rice": {
		domain.HazardFungal: "High risk of blast and sheath blight. Spray tricyclazole at the recommended dose if symptoms appear.",
		domain.HazardFlood:  "Maintain bunds and drain excess water beyond 5 cm standing depth.",
		domain.HazardHeat:   "Keep 5 cm standing water during flowering to protect against spikelet sterility.",
	},
	"wheat": {
		domain.HazardHeat:   "Terminal heat stress likely; give a light irrigation to cool the canopy during grain filling.",
		domain.HazardFungal: "Watch for yellow rust stripes on leaves and spray propiconazole if found.",
		domain.HazardFrost:  "Irrigate lightly in the evening to protect the crop from frost injury.",
	},
	"cotton": {
		domain.HazardFungal: "Humid weather favours boll rot; ensure good canopy aeration.",
		domain.HazardWind:   "Secure plants against lodging; delay defoliant sprays.",
	},
	"tomato": {
		domain.HazardFungal: "Late blight risk is high; apply mancozeb preventively.",
		domain.HazardFrost:  "Cover young plants with straw or plastic overnight.",
	},
	"mustard": {
		domain.HazardFrost:  "Frost can damage flowering mustard; irrigate lightly in the evening.",
		domain.HazardFungal: "Watch for white rust and alternaria blight.",
	},
}

// GenerateCropAlerts produces one alert per (crop, hazard) that the reading triggers
func GenerateCropAlerts(r domain.WeatherReading, crops []string) []domain.CropAlert {
	alerts := []domain.CropAlert{}
	seen := make(map[string]bool)
	for _, crop := range crops {
		crop = strings.ToLower(strings.TrimSpace(crop))
		if crop == "" || seen[crop] {
			continue
		}
		seen[crop] = true

		for _, rule := range hazardRules {
			level, ok := rule.level(r)
			if !ok {
				continue
			}
			alerts = append(alerts, domain.CropAlert{
				Crop:      crop,
				Hazard:    rule.hazard,
				Level:     level,
				Message:   rule.message(r),
				Advice:    adviceFor(crop, rule.hazard),
				Location:  r.Location,
				CreatedAt: r.ObservedAt,
			})
		}
	}
	return alerts
}

func adviceFor(crop string, h domain.Hazard) string {
	if m, ok := cropAdvice[crop]; ok {
		if a, ok := m[h]; ok {
			return a
		}
	}
	return genericAdvice[h]
}

// CalculateRisks scores each hazard 0..100 for the reading
func CalculateRisks(r domain.WeatherReading) domain.RiskAssessment {
	scores := map[domain.Hazard]int{
		domain.HazardHeat:    scale(r.TempC, 30, 45),
		domain.HazardFrost:   scale(-r.TempC, -10, 0),
		domain.HazardFlood:   scale(r.RainMM, 20, 120),
		domain.HazardWind:    scale(r.WindKmh, 20, 70),
		domain.HazardFungal:  0,
		domain.HazardDrought: 0,
	}
	if r.TempC >= 15 && r.TempC <= 32 {
		scores[domain.HazardFungal] = scale(r.Humidity, 60, 95)
	}
	if r.RainMM == 0 {
		scores[domain.HazardDrought] = (scale(-r.Humidity, -60, -10) + scale(r.TempC, 25, 42)) / 2
	}

	overall := 0
	for _, s := range scores {
		if s > overall {
			overall = s
		}
	}
	return domain.RiskAssessment{Scores: scores, Overall: overall, Level: levelFor(overall)}
}

// scale maps v linearly from [lo, hi] onto [0, 100], clamped
func scale(v, lo, hi float64) int {
	if v <= lo {
		return 0
	}
	if v >= hi {
		return 100
	}
	return int((v - lo) / (hi - lo) * 100)
}

func levelFor(score int) domain.RiskLevel {
	switch {
	case score < 34:
		return domain.RiskLow
	case score < 67:
		return domain.RiskMedium
	}
	return domain.RiskHigh
}
