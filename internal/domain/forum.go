package domain

import (
	"strings"
	"time"
	"unicode/utf8"
)

type ForumCategory string

var ForumCategories = []ForumCategory{"crops", "livestock", "weather", "market", "schemes", "general"}

// ForumPost is a community discussion thread
type ForumPost struct {
	ID         int64         `json:"id"`
	AuthorID   int64         `json:"authorId"`
	AuthorName string        `json:"authorName"`
	Title      string        `json:"title"`
	Body       string        `json:"body"`
	Category   ForumCategory `json:"category"`
	Tags       []string      `json:"tags"`
	Likes      int           `json:"likes"`
	ReplyCount int           `json:"replyCount"`
	Replies    []Reply       `json:"replies,omitempty"`
	CreatedAt  time.Time     `json:"createdAt"`
}

type Reply struct {
	ID         int64     `json:"id"`
	PostID     int64     `json:"postId"`
	AuthorID   int64     `json:"authorId"`
	AuthorName string    `json:"authorName"`
	Body       string    `json:"body"`
	CreatedAt  time.Time `json:"createdAt"`
}

// ForumFilter narrows a post listing
type ForumFilter struct {
	Category ForumCategory
	Tag      string
	Search   string
	Sort     string // recent | popular
}

// Validate normalizes the post and reports field problems
func (p *ForumPost) Validate() error {
	p.Title = strings.TrimSpace(p.Title)
	p.Body = strings.TrimSpace(p.Body)
	if p.Category == "" {
		p.Category = "general"
	}
	tags := make([]string, 0, len(p.Tags))
	seen := make(map[string]bool)
	for _, t := range p.Tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		tags = append(tags, t)
	}
	p.Tags = tags

	var v Validator
	n := utf8.RuneCountInString(p.Title)
	v.Check(n >= 3 && n <= 200, "title", "must be 3-200 characters")
	v.Check(p.Body != "", "body", "is required")
	v.Check(OneOf(p.Category, ForumCategories...), "category", "unknown category")
	v.Check(len(p.Tags) <= 10, "tags", "at most 10 tags")
	return v.Err()
}
