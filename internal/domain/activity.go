package domain

import "time"

// Activity is an audit entry for something that happened in the system
type Activity struct {
	ID        int64     `json:"id"`
	ActorID   int64     `json:"actorId"`
	Entity    string    `json:"entity"`
	EntityID  int64     `json:"entityId"`
	Action    string    `json:"action"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

// Stats is the admin dashboard summary
type Stats struct {
	Farmers               int     `json:"farmers"`
	Experts               int     `json:"experts"`
	OpenConsultations     int     `json:"openConsultations"`
	ResolvedConsultations int     `json:"resolvedConsultations"`
	ActiveListings        int     `json:"activeListings"`
	ForumPosts            int     `json:"forumPosts"`
	AvgConsultationRating float64 `json:"avgConsultationRating"`
	RatedConsultations    int     `json:"ratedConsultations"`
}
