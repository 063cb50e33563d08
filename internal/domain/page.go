package domain

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// PageRequest is a 1-based page number and a page size
type PageRequest struct {
	Page  int
	Limit int
}

// Normalize clamps the request into the allowed range
func (p PageRequest) Normalize() PageRequest {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit < 1 {
		p.Limit = DefaultPageSize
	}
	if p.Limit > MaxPageSize {
		p.Limit = MaxPageSize
	}
	return p
}

func (p PageRequest) Offset() int {
	n := p.Normalize()
	return (n.Page - 1) * n.Limit
}

// Page is one page of results plus the pagination envelope the frontend expects
type Page[T any] struct {
	Items      []T `json:"items"`
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

func NewPage[T any](items []T, req PageRequest, total int) Page[T] {
	req = req.Normalize()
	if items == nil {
		items = []T{}
	}
	pages := 0
	if total > 0 {
		pages = (total + req.Limit - 1) / req.Limit
	}
	return Page[T]{Items: items, Page: req.Page, Limit: req.Limit, Total: total, TotalPages: pages}
}
