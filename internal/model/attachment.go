package model

import "time"

// Attachment is a stored media entity. Fingerprint is the hash of the
// remote URL an attachment was downloaded from; it is empty for media that
// was uploaded directly.
type Attachment struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	URL         string    `json:"url,omitempty"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	MimeType    string    `json:"mime_type,omitempty"`
	Data        []byte    `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}

// User is a content author account.
type User struct {
	ID    string `json:"id"`
	Login string `json:"login"`
	Email string `json:"email,omitempty"`
}
