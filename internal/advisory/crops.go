package advisory

import (
	"fmt"
	"math"

	"kisan-backend/internal/domain"
)

const (
	seasonPoints = 30
	soilPoints   = 25
	tempPoints   = 20
	rainPoints   = 15
	waterPoints  = 10

	irrigatedRainPoints = 10 // minimum rain points when irrigation covers a shortfall

	tempFalloffC = 5.0 // degrees outside the range at which temperature points reach zero
)

// RecommendCrops scores every catalog crop against the field and returns the
// best in.Limit. Crops not grown in the requested season are excluded.
func RecommendCrops(catalog []domain.Crop, in domain.AdvisorInput) []domain.CropRecommendation {
	var out []domain.CropRecommendation
	for _, crop := range catalog {
		rec, ok := scoreCrop(crop, in)
		if ok {
			out = append(out, rec)
		}
	}

	sortSlice(out, func(a, b domain.CropRecommendation) bool {
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return a.Crop.Name < b.Crop.Name
	})

	limit := in.Limit
	if limit <= 0 {
		limit = 5
	}
	if len(out) > limit {
		out = out[:limit]
	}
	if out == nil {
		out = []domain.CropRecommendation{}
	}
	return out
}

func scoreCrop(crop domain.Crop, in domain.AdvisorInput) (domain.CropRecommendation, bool) {
	if !containsFold(crop.Seasons, in.Season) {
		return domain.CropRecommendation{}, false
	}

	score := float64(seasonPoints)
	reasons := []string{fmt.Sprintf("grown in %s season", in.Season)}

	if containsFold(crop.Soils, in.Soil) {
		score += soilPoints
		reasons = append(reasons, fmt.Sprintf("suited to %s soil", in.Soil))
	}

	t := rangeScore(in.AvgTempC, crop.MinTempC, crop.MaxTempC, tempFalloffC)
	score += tempPoints * t
	switch {
	case t == 1:
		reasons = append(reasons, fmt.Sprintf("temperature within %.0f-%.0f°C", crop.MinTempC, crop.MaxTempC))
	case t > 0:
		reasons = append(reasons, "temperature slightly outside ideal range")
	}

	rain := rainScore(crop, in)
	score += rain
	switch {
	case rain == rainPoints:
		reasons = append(reasons, fmt.Sprintf("rainfall within %.0f-%.0f mm", crop.MinRainMM, crop.MaxRainMM))
	case in.Irrigation && in.RainfallMM < crop.MinRainMM && rain > 0:
		reasons = append(reasons, "irrigation can cover the rainfall shortfall")
	}

	water := waterScore(crop.WaterNeed, in)
	score += water
	if water == waterPoints {
		reasons = append(reasons, fmt.Sprintf("%s water need is met", crop.WaterNeed))
	}

	return domain.CropRecommendation{
		Crop:    crop,
		Score:   int(math.Round(score)),
		Reasons: reasons,
	}, true
}

// rangeScore is 1 inside [lo, hi] and falls linearly to 0 at falloff outside it
func rangeScore(v, lo, hi, falloff float64) float64 {
	var dist float64
	switch {
	case v < lo:
		dist = lo - v
	case v > hi:
		dist = v - hi
	default:
		return 1
	}
	if falloff <= 0 || dist >= falloff {
		return 0
	}
	return 1 - dist/falloff
}

func rainScore(crop domain.Crop, in domain.AdvisorInput) float64 {
	rain := in.RainfallMM
	if rain >= crop.MinRainMM && rain <= crop.MaxRainMM {
		return rainPoints
	}
	// outside the range, fall off to zero at 50% beyond the nearer bound
	var bound float64
	if rain < crop.MinRainMM {
		bound = crop.MinRainMM
	} else {
		bound = crop.MaxRainMM
	}
	score := rainPoints * rangeScore(rain, crop.MinRainMM, crop.MaxRainMM, bound*0.5)
	if rain < crop.MinRainMM && in.Irrigation {
		return max(irrigatedRainPoints, score)
	}
	return score
}

func waterScore(need string, in domain.AdvisorInput) float64 {
	switch need {
	case "low":
		return waterPoints
	case "medium":
		if in.Irrigation || in.RainfallMM >= 600 {
			return waterPoints
		}
		return waterPoints / 2
	case "high":
		if in.Irrigation || in.RainfallMM >= 1000 {
			return waterPoints
		}
		return 0
	}
	return 0
}
