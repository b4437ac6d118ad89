// Package resolve turns human-readable references from import rows (term
// paths, attachment sources, usernames) into persisted entity identifiers,
// creating missing entities on demand.
package resolve

import (
	"context"
	"crypto/md5"
	"crypto/rand"
	"encoding/hex"
	"net/url"
	"path"
	"strings"

	"github.com/gosimple/slug"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/coursekit/content-port/internal/model"
	"github.com/coursekit/content-port/internal/store"
)

// Store is the persistence surface the resolver needs; store.Store
// satisfies it.
type Store interface {
	FindTerm(ctx context.Context, q store.TermQuery) (*model.Term, error)
	CreateTerm(ctx context.Context, t *model.Term) error
	FindAttachmentByFilename(ctx context.Context, filename string) (*model.Attachment, error)
	FindAttachmentByURL(ctx context.Context, url string) (*model.Attachment, error)
	FindAttachmentByFingerprint(ctx context.Context, fingerprint string) (*model.Attachment, error)
	CreateAttachment(ctx context.Context, a *model.Attachment) error
	SetPostThumbnail(ctx context.Context, postID, attachmentID string) error
	FindUserByLogin(ctx context.Context, login string) (*model.User, error)
	CreateUser(ctx context.Context, u *model.User, password string) error
}

// Fetcher downloads remote attachment sources.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (body []byte, contentType string, err error)
}

// Taxonomy describes resolution behavior for one taxonomy.
type Taxonomy struct {
	// Hierarchical taxonomies split term paths on ">".
	Hierarchical bool
	// OwnerScoped taxonomies namespace term slugs per owner so equally
	// named terms of different owners do not collide.
	OwnerScoped bool
}

// Options configures a Resolver.
type Options struct {
	Taxonomies map[string]Taxonomy
	// PrivilegedOwners are owner ids exempt from owner-scoped slug
	// namespacing.
	PrivilegedOwners []string
}

// DefaultTaxonomies returns the taxonomy set the importer knows about.
func DefaultTaxonomies() map[string]Taxonomy {
	return map[string]Taxonomy{
		model.TaxonomyModule:           {Hierarchical: true, OwnerScoped: true},
		model.TaxonomyCourseCategory:   {Hierarchical: true},
		model.TaxonomyQuestionCategory: {Hierarchical: true},
	}
}

// Resolver resolves cross-entity references against the store. All
// operations are idempotent: repeated calls with the same input return the
// same persisted identifier.
type Resolver struct {
	store      Store
	fetcher    Fetcher
	taxonomies map[string]Taxonomy
	privileged map[string]bool
}

// New creates a Resolver. A nil Taxonomies option falls back to
// DefaultTaxonomies.
func New(s Store, f Fetcher, opts Options) *Resolver {
	taxonomies := opts.Taxonomies
	if taxonomies == nil {
		taxonomies = DefaultTaxonomies()
	}
	privileged := make(map[string]bool, len(opts.PrivilegedOwners))
	for _, id := range opts.PrivilegedOwners {
		privileged[id] = true
	}
	return &Resolver{
		store:      s,
		fetcher:    f,
		taxonomies: taxonomies,
		privileged: privileged,
	}
}

// Term resolves a term path like "Module A > Submodule B" to the leaf
// term's id, creating any missing level under its parent. Ancestor terms
// created before a failing level are left in place.
func (r *Resolver) Term(ctx context.Context, termPath, taxonomy, ownerID string) (string, error) {
	tax, ok := r.taxonomies[taxonomy]
	if !ok {
		return "", fail(model.ErrCodeReference, eris.Errorf("resolve: unknown taxonomy %q", taxonomy))
	}

	var segments []string
	if tax.Hierarchical {
		segments = splitPath(termPath)
	} else {
		segments = []string{strings.TrimSpace(termPath)}
	}
	if len(segments) == 0 {
		return "", fail(model.ErrCodeReference, eris.New("resolve: empty term path"))
	}

	parentID := ""
	for _, name := range segments {
		termSlug := r.termSlug(name, tax, ownerID)

		q := store.TermQuery{Taxonomy: taxonomy, ParentID: parentID}
		if tax.OwnerScoped {
			q.Slug = termSlug
		} else {
			q.Name = name
		}

		term, err := r.store.FindTerm(ctx, q)
		if err != nil {
			return "", fail(model.ErrCodePersistence, eris.Wrapf(err, "resolve: find term %q", name))
		}
		if term == nil {
			term = &model.Term{
				Taxonomy: taxonomy,
				Name:     name,
				Slug:     termSlug,
				ParentID: parentID,
			}
			if err := r.store.CreateTerm(ctx, term); err != nil {
				return "", fail(model.ErrCodePersistence, eris.Wrapf(err, "resolve: create term %q", name))
			}
			zap.L().Debug("created term",
				zap.String("taxonomy", taxonomy),
				zap.String("name", name),
				zap.String("parent", parentID),
			)
		}
		parentID = term.ID
	}

	return parentID, nil
}

func (r *Resolver) termSlug(name string, tax Taxonomy, ownerID string) string {
	s := slug.Make(name)
	if tax.OwnerScoped && ownerID != "" && !r.privileged[ownerID] {
		return ownerID + "-" + s
	}
	return s
}

// splitPath splits a hierarchical term path on ">" and trims each segment.
func splitPath(termPath string) []string {
	parts := strings.Split(termPath, ">")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Attachment resolves source, a media filename or remote URL, to an
// attachment id and links it as the post's thumbnail. Remote URLs are
// fetched at most once across imports: the attachment is deduplicated by a
// fingerprint of the URL.
func (r *Resolver) Attachment(ctx context.Context, source, postID string) (string, error) {
	source = strings.TrimSpace(source)

	var att *model.Attachment
	var err error
	if !isURL(source) {
		att, err = r.store.FindAttachmentByFilename(ctx, path.Base(source))
		if err != nil {
			return "", fail(model.ErrCodePersistence, eris.Wrapf(err, "resolve: find attachment %q", source))
		}
		if att == nil {
			return "", fail(model.ErrCodeReference, eris.Errorf("resolve: no attachment matches filename %q", source))
		}
	} else {
		att, err = r.store.FindAttachmentByURL(ctx, source)
		if err != nil {
			return "", fail(model.ErrCodePersistence, eris.Wrapf(err, "resolve: find attachment by url %q", source))
		}
		if att == nil {
			att, err = r.attachmentFromURL(ctx, source)
			if err != nil {
				return "", err
			}
		}
	}

	if err := r.store.SetPostThumbnail(ctx, postID, att.ID); err != nil {
		return "", fail(model.ErrCodePersistence, eris.Wrapf(err, "resolve: set thumbnail on post %s", postID))
	}
	return att.ID, nil
}

func (r *Resolver) attachmentFromURL(ctx context.Context, rawURL string) (*model.Attachment, error) {
	fp := Fingerprint(rawURL)

	existing, err := r.store.FindAttachmentByFingerprint(ctx, fp)
	if err != nil {
		return nil, fail(model.ErrCodePersistence, eris.Wrap(err, "resolve: find attachment by fingerprint"))
	}
	if existing != nil {
		return existing, nil
	}

	body, contentType, err := r.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return nil, fail(model.ErrCodeFetch, eris.Wrapf(err, "resolve: fetch %s", rawURL))
	}

	u, _ := url.Parse(rawURL)
	att := &model.Attachment{
		Filename:    path.Base(u.Path),
		URL:         rawURL,
		Fingerprint: fp,
		MimeType:    contentType,
		Data:        body,
	}
	if err := r.store.CreateAttachment(ctx, att); err != nil {
		return nil, fail(model.ErrCodePersistence, eris.Wrap(err, "resolve: create attachment"))
	}

	zap.L().Info("downloaded attachment",
		zap.String("url", rawURL),
		zap.String("fingerprint", fp),
		zap.Int("bytes", len(body)),
	)
	return att, nil
}

// User resolves a username to an account id, creating the account with a
// generated password when it does not exist. The created flag makes the
// side effect visible to callers.
func (r *Resolver) User(ctx context.Context, login, email string) (id string, created bool, err error) {
	u, err := r.store.FindUserByLogin(ctx, login)
	if err != nil {
		return "", false, fail(model.ErrCodePersistence, eris.Wrapf(err, "resolve: find user %q", login))
	}
	if u != nil {
		return u.ID, false, nil
	}

	nu := &model.User{Login: login, Email: email}
	password, err := generatePassword()
	if err != nil {
		return "", false, fail(model.ErrCodePersistence, err)
	}
	if err := r.store.CreateUser(ctx, nu, password); err != nil {
		return "", false, fail(model.ErrCodePersistence, eris.Wrapf(err, "resolve: create user %q", login))
	}

	zap.L().Info("created user account", zap.String("login", login))
	return nu.ID, true, nil
}

// Fingerprint returns the stable hash of a remote URL used to detect
// previously imported attachments.
func Fingerprint(rawURL string) string {
	sum := md5.Sum([]byte(rawURL)) //nolint:gosec // dedup key, not a security boundary
	return hex.EncodeToString(sum[:])
}

func isURL(source string) bool {
	u, err := url.Parse(source)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func generatePassword() (string, error) {
	buf := make([]byte, 18)
	if _, err := rand.Read(buf); err != nil {
		return "", eris.Wrap(err, "resolve: generate password")
	}
	return hex.EncodeToString(buf), nil
}
