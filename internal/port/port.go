// Package port is the import engine: it binds sanitized records to
// kind-specific persistence strategies and drives batches of rows through
// validation, reference resolution, and create-or-update sync.
package port

import (
	"context"
	"fmt"

	"github.com/gosimple/slug"
	"github.com/rotisserie/eris"

	"github.com/coursekit/content-port/internal/model"
	"github.com/coursekit/content-port/internal/sanitize"
	"github.com/coursekit/content-port/internal/schema"
)

// Store is the persistence surface the import engine needs; store.Store
// satisfies it.
type Store interface {
	FindPostByOriginalID(ctx context.Context, kind, originalID string) (*model.Post, error)
	FindPostBySlug(ctx context.Context, kind, slug string) (*model.Post, error)
	CreatePost(ctx context.Context, p *model.Post) error
	UpdatePost(ctx context.Context, p *model.Post) error
	SetPostTerms(ctx context.Context, postID, taxonomy string, termIDs []string) error
	CreateImportRun(ctx context.Context, source string) (*model.ImportRun, error)
	AddRowResults(ctx context.Context, runID string, rows []model.RowResult) error
	CompleteImportRun(ctx context.Context, runID string, created, updated, failed int) error
}

// Resolver resolves cross-entity references; resolve.Resolver satisfies it.
type Resolver interface {
	Term(ctx context.Context, path, taxonomy, ownerID string) (string, error)
	Attachment(ctx context.Context, source, postID string) (string, error)
	User(ctx context.Context, login, email string) (id string, created bool, err error)
}

// Options tunes record model behavior.
type Options struct {
	// DefaultAuthorID is assigned when a row names no author.
	DefaultAuthorID string
}

// Model is one row bound to a persistence lifecycle. Validity is decided
// once at construction; Sync must be invoked at most once.
type Model interface {
	Kind() string
	Index() int
	Valid() bool
	ValidationErrors() []model.RowError
	// ExistingID returns the id of the pre-existing post this row updates,
	// or "" when syncing will create a new one.
	ExistingID() string
	// Sync creates or updates the target entity. It returns the entity id
	// ("" when nothing was persisted) and any row errors. Reference
	// resolution failures are reported while scalar fields still persist.
	Sync(ctx context.Context) (string, []model.RowError)
}

// Registry constructs the kind-specific record model for a raw row.
type Registry struct {
	schemas  *schema.Registry
	store    Store
	resolver Resolver
	opts     Options
}

// NewRegistry creates a model registry over the given collaborators.
func NewRegistry(schemas *schema.Registry, s Store, r Resolver, opts Options) *Registry {
	return &Registry{schemas: schemas, store: s, resolver: r, opts: opts}
}

// Has reports whether the registry can construct models for the kind.
func (r *Registry) Has(kind string) bool {
	return r.schemas.Has(kind)
}

// New sanitizes the raw row and, when it is valid, probes the store for an
// existing target entity to bind. Fails on unknown kinds and on probe
// errors; a model is never constructed with an undetermined target.
func (r *Registry) New(ctx context.Context, raw model.RawRecord) (Model, error) {
	if !r.schemas.Has(raw.Kind) {
		return nil, eris.Errorf("port: unknown record kind %q", raw.Kind)
	}
	s := r.schemas.For(raw.Kind)

	b := base{
		raw: raw,
		rec: sanitize.Sanitize(raw.Fields, s),
		s:   s,
		reg: r,
	}

	if b.Valid() {
		existing, err := r.probeExisting(ctx, &b)
		if err != nil {
			return nil, err
		}
		b.existingID = existing
	}

	switch raw.Kind {
	case model.KindCourse:
		return &courseModel{base: b}, nil
	case model.KindLesson:
		return &lessonModel{base: b}, nil
	case model.KindQuestion:
		return &questionModel{base: b}, nil
	default:
		// Custom kinds registered through YAML get the generic strategy.
		return &genericModel{base: b}, nil
	}
}

// probeExisting matches the row to an already persisted post, first by the
// external id column, then by slug. The binding happens once and is never
// re-probed.
func (r *Registry) probeExisting(ctx context.Context, b *base) (string, error) {
	if originalID := b.str("id"); originalID != "" {
		p, err := r.store.FindPostByOriginalID(ctx, b.raw.Kind, originalID)
		if err != nil {
			return "", eris.Wrap(err, "port: probe by original id")
		}
		if p != nil {
			return p.ID, nil
		}
	}
	if postSlug := b.str("slug"); postSlug != "" {
		p, err := r.store.FindPostBySlug(ctx, b.raw.Kind, postSlug)
		if err != nil {
			return "", eris.Wrap(err, "port: probe by slug")
		}
		if p != nil {
			return p.ID, nil
		}
	}
	return "", nil
}

// base carries the sanitized record and shared sync plumbing for all kind
// strategies.
type base struct {
	raw        model.RawRecord
	rec        sanitize.Record
	s          schema.Schema
	existingID string
	synced     bool
	reg        *Registry
}

func (b *base) Kind() string       { return b.raw.Kind }
func (b *base) Index() int         { return b.raw.Index }
func (b *base) ExistingID() string { return b.existingID }

func (b *base) Valid() bool {
	return sanitize.Valid(b.rec, b.s)
}

func (b *base) ValidationErrors() []model.RowError {
	fields := sanitize.InvalidFields(b.rec, b.s)
	errs := make([]model.RowError, 0, len(fields))
	for _, f := range fields {
		msg := "required field is missing"
		if !b.s[f].Required {
			msg = "value does not match the expected format"
		}
		errs = append(errs, model.RowError{
			Field:   f,
			Code:    model.ErrCodeValidation,
			Message: msg,
		})
	}
	return errs
}

// str returns the sanitized field as a string, or "" when unset or not a
// string.
func (b *base) str(field string) string {
	v, _ := b.rec[field].(string)
	return v
}

func (b *base) boolField(field string) bool {
	v, _ := b.rec[field].(bool)
	return v
}

func (b *base) intField(field string) int {
	v, _ := b.rec[field].(int)
	return v
}

// post assembles the scalar post from the sanitized record. A missing slug
// derives from the title so re-imports without an external id still match.
func (b *base) post(authorID string, meta map[string]any) *model.Post {
	postSlug := b.str("slug")
	title := b.str("title")
	if postSlug == "" && title != "" {
		postSlug = slug.Make(title)
	}
	return &model.Post{
		Kind:       b.raw.Kind,
		OriginalID: b.str("id"),
		Slug:       postSlug,
		Title:      title,
		Content:    b.str("description"),
		Excerpt:    b.str("excerpt"),
		Status:     b.str("status"),
		AuthorID:   authorID,
		Meta:       meta,
	}
}

// upsert creates the post or updates the bound existing one.
func (b *base) upsert(ctx context.Context, p *model.Post) (string, error) {
	if b.existingID != "" {
		p.ID = b.existingID
		if err := b.reg.store.UpdatePost(ctx, p); err != nil {
			return "", err
		}
		return p.ID, nil
	}
	if err := b.reg.store.CreatePost(ctx, p); err != nil {
		return "", err
	}
	return p.ID, nil
}

// markSynced guards against a second Sync on the same instance.
func (b *base) markSynced() {
	if b.synced {
		panic(fmt.Sprintf("port: %s row %d synced twice", b.raw.Kind, b.raw.Index))
	}
	b.synced = true
}

func rowError(field string, code model.ErrorCode, err error) model.RowError {
	return model.RowError{Field: field, Code: code, Message: err.Error()}
}
