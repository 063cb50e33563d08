package advisory

import (
	"math"
	"strings"

	"kisan-backend/internal/domain"
)

// stableBand is the percentage change below which a price is considered flat
const stableBand = 2.0

// ComputeTrends groups price history by mandi and summarizes each group.
// Records must belong to one commodity. Output is ordered by mandi.
func ComputeTrends(records []domain.PriceRecord) []domain.MandiTrend {
	groups := make(map[string][]domain.PriceRecord)
	var order []string
	for _, r := range records {
		key := strings.ToLower(r.Mandi)
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], r)
	}

	trends := make([]domain.MandiTrend, 0, len(groups))
	for _, key := range order {
		trends = append(trends, summarize(groups[key]))
	}
	sortSlice(trends, func(a, b domain.MandiTrend) bool {
		return strings.ToLower(a.Mandi) < strings.ToLower(b.Mandi)
	})
	return trends
}

func summarize(recs []domain.PriceRecord) domain.MandiTrend {
	sortSlice(recs, func(a, b domain.PriceRecord) bool { return a.Date.Before(b.Date) })

	latest := recs[len(recs)-1]
	t := domain.MandiTrend{
		Commodity:  latest.Commodity,
		Mandi:      latest.Mandi,
		State:      latest.State,
		Latest:     latest.ModalPrice,
		LatestDate: latest.Date,
		Min:        math.Inf(1),
		Max:        math.Inf(-1),
		Samples:    len(recs),
		Direction:  domain.TrendStable,
	}

	var sum float64
	for _, r := range recs {
		sum += r.ModalPrice
		t.Min = math.Min(t.Min, r.ModalPrice)
		t.Max = math.Max(t.Max, r.ModalPrice)
	}
	t.Average = round2(sum / float64(len(recs)))

	if len(recs) > 1 {
		prev := recs[len(recs)-2].ModalPrice
		t.Previous = prev
		t.Change = round2(latest.ModalPrice - prev)
		if prev != 0 {
			t.ChangePct = round2((latest.ModalPrice - prev) / prev * 100)
		}
		switch {
		case t.ChangePct >= stableBand:
			t.Direction = domain.TrendUp
		case t.ChangePct <= -stableBand:
			t.Direction = domain.TrendDown
		}
	}
	return t
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
