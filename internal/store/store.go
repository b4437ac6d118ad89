// Package store persists posts, terms, attachments, users, and import runs
// behind a driver-agnostic interface with SQLite and Postgres backends.
package store

import (
	"context"

	"github.com/coursekit/content-port/internal/model"
)

// TermQuery selects a term within a taxonomy under a given parent. Exactly
// one of Slug or Name should be set; owner-scoped taxonomies match by slug,
// everything else by name.
type TermQuery struct {
	Taxonomy string
	ParentID string
	Slug     string
	Name     string
}

// RunFilter limits ListImportRuns output.
type RunFilter struct {
	Status model.RunStatus
	Limit  int
	Offset int
}

// Store is the persistence collaborator consumed by the import engine.
// Find methods return (nil, nil) when no entity matches.
type Store interface {
	// Posts
	FindPostByOriginalID(ctx context.Context, kind, originalID string) (*model.Post, error)
	FindPostBySlug(ctx context.Context, kind, slug string) (*model.Post, error)
	CreatePost(ctx context.Context, p *model.Post) error
	UpdatePost(ctx context.Context, p *model.Post) error
	ListPostsByKind(ctx context.Context, kind string) ([]model.Post, error)

	// Terms
	FindTerm(ctx context.Context, q TermQuery) (*model.Term, error)
	CreateTerm(ctx context.Context, t *model.Term) error
	SetPostTerms(ctx context.Context, postID, taxonomy string, termIDs []string) error

	// Attachments
	FindAttachmentByFilename(ctx context.Context, filename string) (*model.Attachment, error)
	FindAttachmentByURL(ctx context.Context, url string) (*model.Attachment, error)
	FindAttachmentByFingerprint(ctx context.Context, fingerprint string) (*model.Attachment, error)
	CreateAttachment(ctx context.Context, a *model.Attachment) error
	SetPostThumbnail(ctx context.Context, postID, attachmentID string) error

	// Users
	FindUserByLogin(ctx context.Context, login string) (*model.User, error)
	CreateUser(ctx context.Context, u *model.User, password string) error

	// Import runs
	CreateImportRun(ctx context.Context, source string) (*model.ImportRun, error)
	AddRowResults(ctx context.Context, runID string, rows []model.RowResult) error
	CompleteImportRun(ctx context.Context, runID string, created, updated, failed int) error
	GetImportRun(ctx context.Context, runID string) (*model.ImportRun, []model.RowResult, error)
	ListImportRuns(ctx context.Context, filter RunFilter) ([]model.ImportRun, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
