package model

import "time"

// Post statuses accepted by the importer.
const (
	StatusPublish = "publish"
	StatusDraft   = "draft"
	StatusPending = "pending"
)

// Post is a persisted content entity (course, lesson, or question).
type Post struct {
	ID          string         `json:"id"`
	Kind        string         `json:"kind"`
	OriginalID  string         `json:"original_id,omitempty"`
	Slug        string         `json:"slug,omitempty"`
	Title       string         `json:"title"`
	Content     string         `json:"content,omitempty"`
	Excerpt     string         `json:"excerpt,omitempty"`
	Status      string         `json:"status"`
	AuthorID    string         `json:"author_id,omitempty"`
	ThumbnailID string         `json:"thumbnail_id,omitempty"`
	Meta        map[string]any `json:"meta,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}
