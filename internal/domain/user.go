package domain

import "time"

type Role string

const (
	RoleFarmer Role = "farmer"
	RoleExpert Role = "expert"
	RoleAdmin  Role = "admin"
)

// DefaultMaxActive is how many open consultations an expert carries before auto-assignment skips them
const DefaultMaxActive = 5

// User is a farmer, expert or admin account
type User struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	Phone        string    `json:"phone,omitempty"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	Language     string    `json:"language"`
	State        string    `json:"state,omitempty"`
	District     string    `json:"district,omitempty"`
	Crops        []string  `json:"crops,omitempty"` // crops the farmer grows, used for weather alerts
	CreatedAt    time.Time `json:"createdAt"`

	// Expert profile
	Specializations []string `json:"specializations,omitempty"`
	Languages       []string `json:"languages,omitempty"`
	Rating          float64  `json:"rating"`
	RatingCount     int      `json:"ratingCount"`
	Available       bool     `json:"available"`
	MaxActive       int      `json:"maxActive,omitempty"`
}

// ExpertLoad pairs an expert with the number of consultations they are working
type ExpertLoad struct {
	Expert User `json:"expert"`
	Open   int  `json:"open"`
}
