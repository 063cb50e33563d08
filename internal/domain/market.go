package domain

import (
	"strings"
	"time"
)

type ListingStatus string

const (
	ListingActive    ListingStatus = "active"
	ListingReserved  ListingStatus = "reserved"
	ListingSold      ListingStatus = "sold"
	ListingWithdrawn ListingStatus = "withdrawn"
)

// Listing is produce a farmer offers on the marketplace. Money is in paise.
type Listing struct {
	ID           int64         `json:"id"`
	SellerID     int64         `json:"sellerId"`
	Crop         string        `json:"crop"`
	Variety      string        `json:"variety,omitempty"`
	Quantity     float64       `json:"quantity"`
	Unit         string        `json:"unit"` // kg, quintal, tonne
	PricePerUnit int64         `json:"pricePerUnit"`
	State        string        `json:"state"`
	District     string        `json:"district,omitempty"`
	Mandi        string        `json:"mandi,omitempty"`
	Description  string        `json:"description,omitempty"`
	Status       ListingStatus `json:"status"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

func (l *Listing) Validate() error {
	l.Crop = strings.ToLower(strings.TrimSpace(l.Crop))
	if l.Unit == "" {
		l.Unit = "quintal"
	}
	var v Validator
	v.Check(l.Crop != "", "crop", "is required")
	v.Check(l.Quantity > 0, "quantity", "must be positive")
	v.Check(OneOf(l.Unit, "kg", "quintal", "tonne"), "unit", "must be kg, quintal or tonne")
	v.Check(l.PricePerUnit > 0, "pricePerUnit", "must be positive")
	v.Check(strings.TrimSpace(l.State) != "", "state", "is required")
	return v.Err()
}

// ListingFilter narrows a marketplace search
type ListingFilter struct {
	Crop     string
	State    string
	Mandi    string
	MinPrice int64
	MaxPrice int64
	Status   ListingStatus
	SellerID int64
	Sort     string // recent | price_asc | price_desc
}

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderPaid      OrderStatus = "paid"
	OrderFailed    OrderStatus = "failed"
	OrderCancelled OrderStatus = "cancelled"
)

// Order is a buyer's purchase against a listing
type Order struct {
	ID         int64       `json:"id"`
	Reference  string      `json:"reference"`
	ListingID  int64       `json:"listingId"`
	BuyerID    int64       `json:"buyerId"`
	SellerID   int64       `json:"sellerId"`
	Quantity   float64     `json:"quantity"`
	Amount     int64       `json:"amount"` // paise
	Currency   string      `json:"currency"`
	PaymentRef string      `json:"paymentRef"`
	Secret     string      `json:"clientSecret,omitempty"`
	Status     OrderStatus `json:"status"`
	CreatedAt  time.Time   `json:"createdAt"`
	PaidAt     *time.Time  `json:"paidAt,omitempty"`
}

// PriceRecord is one day's price report from a mandi, in rupees per quintal
type PriceRecord struct {
	ID         int64     `json:"id"`
	Commodity  string    `json:"commodity"`
	Variety    string    `json:"variety,omitempty"`
	Mandi      string    `json:"mandi"`
	State      string    `json:"state"`
	Date       time.Time `json:"date"`
	MinPrice   float64   `json:"minPrice"`
	MaxPrice   float64   `json:"maxPrice"`
	ModalPrice float64   `json:"modalPrice"`
	ReportedBy int64     `json:"reportedBy,omitempty"`
}

func (p *PriceRecord) Validate() error {
	p.Commodity = strings.ToLower(strings.TrimSpace(p.Commodity))
	p.Mandi = strings.TrimSpace(p.Mandi)
	var v Validator
	v.Check(p.Commodity != "", "commodity", "is required")
	v.Check(p.Mandi != "", "mandi", "is required")
	v.Check(!p.Date.IsZero(), "date", "is required")
	v.Check(p.MinPrice > 0, "minPrice", "must be positive")
	v.Check(p.MinPrice <= p.ModalPrice && p.ModalPrice <= p.MaxPrice, "modalPrice", "must be between minPrice and maxPrice")
	return v.Err()
}

// PriceFilter narrows a price listing
type PriceFilter struct {
	Commodity string
	Mandi     string
	State     string
	From      time.Time
	To        time.Time
}

type TrendDirection string

const (
	TrendUp     TrendDirection = "up"
	TrendDown   TrendDirection = "down"
	TrendStable TrendDirection = "stable"
)

// MandiTrend summarizes a commodity's recent prices at one mandi
type MandiTrend struct {
	Commodity  string         `json:"commodity"`
	Mandi      string         `json:"mandi"`
	State      string         `json:"state"`
	Latest     float64        `json:"latest"`
	LatestDate time.Time      `json:"latestDate"`
	Previous   float64        `json:"previous"`
	Change     float64        `json:"change"`
	ChangePct  float64        `json:"changePct"`
	Average    float64        `json:"average"`
	Min        float64        `json:"min"`
	Max        float64        `json:"max"`
	Samples    int            `json:"samples"`
	Direction  TrendDirection `json:"direction"`
}
