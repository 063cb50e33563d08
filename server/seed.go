package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"kisan-backend/internal/auth"
	"kisan-backend/internal/domain"
	"kisan-backend/internal/store"
)

// demoUsers are the accounts "kisan seed --demo" creates
var demoUsers = []domain.User{
	{
		Name: "Ramesh Yadav", Email: "farmer@kisan.demo", Role: domain.RoleFarmer,
		Language: "hi", State: "Bihar", District: "Patna", Crops: []string{"rice", "wheat"},
	},
	{
		Name: "Dr. Anita Singh", Email: "plant.doctor@kisan.demo", Role: domain.RoleExpert,
		Language: "hi", State: "Bihar", Available: true,
		Specializations: []string{"crop_disease", "pest_control"}, Languages: []string{"hi", "en"},
	},
	{
		Name: "Dr. K. Reddy", Email: "soil@kisan.demo", Role: domain.RoleExpert,
		Language: "te", State: "Telangana", Available: true,
		Specializations: []string{"soil_health", "irrigation"}, Languages: []string{"te", "en"},
	},
	{
		Name: "Kisan Admin", Email: "admin@kisan.demo", Role: domain.RoleAdmin, Language: "en",
	},
}

// demoPrices are modal prices in rupees per quintal for the last few days
var demoPrices = []struct {
	commodity, mandi, state string
	modal                   []float64 // oldest first
}{
	{"wheat", "Khanna", "Punjab", []float64{2240, 2260, 2275, 2290}},
	{"onion", "Lasalgaon", "Maharashtra", []float64{1650, 1590, 1480, 1420}},
	{"rice", "Karnal", "Haryana", []float64{3100, 3105, 3098, 3110}},
}

type seedResult struct {
	Created, Skipped, Prices int
}

// seedDemo inserts demo accounts and price reports. Accounts that already
// exist are skipped; price reports for the same day are replaced.
func seedDemo(ctx context.Context, st *store.Store, password string, now time.Time) (seedResult, error) {
	var res seedResult
	hash, err := auth.HashPassword(password)
	if err != nil {
		return res, err
	}

	var reporter int64
	for _, u := range demoUsers {
		u.PasswordHash = hash
		err := st.CreateUser(ctx, &u)
		switch {
		case errors.Is(err, domain.ErrConflict):
			res.Skipped++
			if existing, lookupErr := st.GetUserByEmail(ctx, u.Email); lookupErr == nil {
				u = existing
			}
		case err != nil:
			return res, fmt.Errorf("seed user %s: %w", u.Email, err)
		default:
			res.Created++
		}
		if u.Role == domain.RoleExpert && reporter == 0 {
			reporter = u.ID
		}
	}

	for _, p := range demoPrices {
		for i, modal := range p.modal {
			rec := domain.PriceRecord{
				Commodity:  p.commodity,
				Mandi:      p.mandi,
				State:      p.state,
				Date:       now.AddDate(0, 0, i-len(p.modal)+1),
				MinPrice:   modal * 0.92,
				MaxPrice:   modal * 1.06,
				ModalPrice: modal,
				ReportedBy: reporter,
			}
			if err := rec.Validate(); err != nil {
				return res, err
			}
			if err := st.RecordPrice(ctx, &rec); err != nil {
				return res, err
			}
			res.Prices++
		}
	}
	return res, nil
}
