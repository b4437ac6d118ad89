package resolve

import (
	"context"
	"fmt"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coursekit/content-port/internal/model"
	"github.com/coursekit/content-port/internal/store"
)

// fakeStore is an in-memory Store for resolver tests.
type fakeStore struct {
	terms       []*model.Term
	attachments []*model.Attachment
	users       []*model.User
	thumbnails  map[string]string

	nextID  int
	findErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{thumbnails: map[string]string{}}
}

func (f *fakeStore) id() string {
	f.nextID++
	return fmt.Sprintf("id-%d", f.nextID)
}

func (f *fakeStore) FindTerm(_ context.Context, q store.TermQuery) (*model.Term, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	for _, t := range f.terms {
		if t.Taxonomy != q.Taxonomy || t.ParentID != q.ParentID {
			continue
		}
		if q.Slug != "" && t.Slug == q.Slug {
			return t, nil
		}
		if q.Name != "" && t.Name == q.Name {
			return t, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) CreateTerm(_ context.Context, t *model.Term) error {
	t.ID = f.id()
	f.terms = append(f.terms, t)
	return nil
}

func (f *fakeStore) FindAttachmentByFilename(_ context.Context, filename string) (*model.Attachment, error) {
	for _, a := range f.attachments {
		if a.Filename == filename {
			return a, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) FindAttachmentByURL(_ context.Context, url string) (*model.Attachment, error) {
	for _, a := range f.attachments {
		if a.URL == url {
			return a, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) FindAttachmentByFingerprint(_ context.Context, fp string) (*model.Attachment, error) {
	for _, a := range f.attachments {
		if a.Fingerprint == fp {
			return a, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) CreateAttachment(_ context.Context, a *model.Attachment) error {
	a.ID = f.id()
	f.attachments = append(f.attachments, a)
	return nil
}

func (f *fakeStore) SetPostThumbnail(_ context.Context, postID, attachmentID string) error {
	f.thumbnails[postID] = attachmentID
	return nil
}

func (f *fakeStore) FindUserByLogin(_ context.Context, login string) (*model.User, error) {
	for _, u := range f.users {
		if u.Login == login {
			return u, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) CreateUser(_ context.Context, u *model.User, password string) error {
	if password == "" {
		return eris.New("empty password")
	}
	u.ID = f.id()
	f.users = append(f.users, u)
	return nil
}

// fakeFetcher counts fetches and serves a fixed body.
type fakeFetcher struct {
	calls int
	body  []byte
	err   error
}

func (f *fakeFetcher) Fetch(_ context.Context, _ string) ([]byte, string, error) {
	f.calls++
	if f.err != nil {
		return nil, "", f.err
	}
	return f.body, "image/png", nil
}

func TestTermCreatesHierarchy(t *testing.T) {
	t.Parallel()
	fs := newFakeStore()
	r := New(fs, nil, Options{})

	id, err := r.Term(context.Background(), "Module A > Submodule B", model.TaxonomyCourseCategory, "")
	require.NoError(t, err)

	require.Len(t, fs.terms, 2)
	parent, leaf := fs.terms[0], fs.terms[1]
	assert.Equal(t, "Module A", parent.Name)
	assert.Equal(t, "", parent.ParentID)
	assert.Equal(t, "Submodule B", leaf.Name)
	assert.Equal(t, parent.ID, leaf.ParentID)
	assert.Equal(t, leaf.ID, id)
}

func TestTermIdempotent(t *testing.T) {
	t.Parallel()
	fs := newFakeStore()
	r := New(fs, nil, Options{})

	first, err := r.Term(context.Background(), "Module A > Submodule B", model.TaxonomyCourseCategory, "")
	require.NoError(t, err)
	second, err := r.Term(context.Background(), "Module A > Submodule B", model.TaxonomyCourseCategory, "")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, fs.terms, 2)
}

func TestTermOwnerScopedSlug(t *testing.T) {
	t.Parallel()
	fs := newFakeStore()
	r := New(fs, nil, Options{PrivilegedOwners: []string{"admin-1"}})

	_, err := r.Term(context.Background(), "Basics", model.TaxonomyModule, "teacher-7")
	require.NoError(t, err)
	require.Len(t, fs.terms, 1)
	assert.Equal(t, "teacher-7-basics", fs.terms[0].Slug)

	// A privileged owner keeps the plain slug.
	_, err = r.Term(context.Background(), "Basics", model.TaxonomyModule, "admin-1")
	require.NoError(t, err)
	require.Len(t, fs.terms, 2)
	assert.Equal(t, "basics", fs.terms[1].Slug)
}

func TestTermDifferentOwnersDoNotCollide(t *testing.T) {
	t.Parallel()
	fs := newFakeStore()
	r := New(fs, nil, Options{})

	a, err := r.Term(context.Background(), "Basics", model.TaxonomyModule, "teacher-1")
	require.NoError(t, err)
	b, err := r.Term(context.Background(), "Basics", model.TaxonomyModule, "teacher-2")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.Len(t, fs.terms, 2)
}

func TestTermUnknownTaxonomy(t *testing.T) {
	t.Parallel()
	r := New(newFakeStore(), nil, Options{})

	_, err := r.Term(context.Background(), "Basics", "made-up", "")
	require.Error(t, err)
	assert.Equal(t, model.ErrCodeReference, CodeOf(err))
}

func TestTermEmptyPath(t *testing.T) {
	t.Parallel()
	r := New(newFakeStore(), nil, Options{})

	_, err := r.Term(context.Background(), "  >  ", model.TaxonomyCourseCategory, "")
	require.Error(t, err)
	assert.Equal(t, model.ErrCodeReference, CodeOf(err))
}

func TestTermAncestorsSurviveFailure(t *testing.T) {
	t.Parallel()
	fs := newFakeStore()
	r := New(fs, nil, Options{})

	// Seed the parent, then force lookups to fail for the child level.
	_, err := r.Term(context.Background(), "Module A", model.TaxonomyCourseCategory, "")
	require.NoError(t, err)

	fs.findErr = eris.New("db gone")
	_, err = r.Term(context.Background(), "Module B > Child", model.TaxonomyCourseCategory, "")
	require.Error(t, err)
	assert.Equal(t, model.ErrCodePersistence, CodeOf(err))

	// The earlier term was not rolled back.
	fs.findErr = nil
	assert.Len(t, fs.terms, 1)
}

func TestAttachmentByFilename(t *testing.T) {
	t.Parallel()
	fs := newFakeStore()
	fs.attachments = append(fs.attachments, &model.Attachment{ID: "att-1", Filename: "logo.png"})
	r := New(fs, &fakeFetcher{}, Options{})

	id, err := r.Attachment(context.Background(), "uploads/2024/logo.png", "post-1")
	require.NoError(t, err)
	assert.Equal(t, "att-1", id)
	assert.Equal(t, "att-1", fs.thumbnails["post-1"])
}

func TestAttachmentFilenameNotFound(t *testing.T) {
	t.Parallel()
	fs := newFakeStore()
	r := New(fs, &fakeFetcher{}, Options{})

	_, err := r.Attachment(context.Background(), "missing.png", "post-1")
	require.Error(t, err)
	assert.Equal(t, model.ErrCodeReference, CodeOf(err))
	assert.Empty(t, fs.thumbnails)
}

func TestAttachmentFetchesURLOnce(t *testing.T) {
	t.Parallel()
	fs := newFakeStore()
	ff := &fakeFetcher{body: []byte("pngbytes")}
	r := New(fs, ff, Options{})

	const src = "https://cdn.example.com/img/banner.png"

	first, err := r.Attachment(context.Background(), src, "post-1")
	require.NoError(t, err)
	second, err := r.Attachment(context.Background(), src, "post-2")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, ff.calls)
	require.Len(t, fs.attachments, 1)

	att := fs.attachments[0]
	assert.Equal(t, "banner.png", att.Filename)
	assert.Equal(t, Fingerprint(src), att.Fingerprint)
	assert.Equal(t, []byte("pngbytes"), att.Data)
	assert.Equal(t, "image/png", att.MimeType)
}

func TestAttachmentFingerprintDedup(t *testing.T) {
	t.Parallel()
	const src = "https://cdn.example.com/img/banner.png"

	fs := newFakeStore()
	// Same fingerprint already stored from a prior import, but under no URL
	// match (e.g. the URL column was cleared).
	fs.attachments = append(fs.attachments, &model.Attachment{
		ID:          "att-9",
		Fingerprint: Fingerprint(src),
	})
	ff := &fakeFetcher{body: []byte("x")}
	r := New(fs, ff, Options{})

	id, err := r.Attachment(context.Background(), src, "post-1")
	require.NoError(t, err)
	assert.Equal(t, "att-9", id)
	assert.Zero(t, ff.calls)
}

func TestAttachmentFetchFailure(t *testing.T) {
	t.Parallel()
	fs := newFakeStore()
	ff := &fakeFetcher{err: eris.New("404")}
	r := New(fs, ff, Options{})

	_, err := r.Attachment(context.Background(), "https://cdn.example.com/gone.png", "post-1")
	require.Error(t, err)
	assert.Equal(t, model.ErrCodeFetch, CodeOf(err))
	assert.Empty(t, fs.attachments)
	assert.Empty(t, fs.thumbnails)
}

func TestUserExisting(t *testing.T) {
	t.Parallel()
	fs := newFakeStore()
	fs.users = append(fs.users, &model.User{ID: "u-1", Login: "jo"})
	r := New(fs, nil, Options{})

	id, created, err := r.User(context.Background(), "jo", "jo@example.com")
	require.NoError(t, err)
	assert.Equal(t, "u-1", id)
	assert.False(t, created)
}

func TestUserCreated(t *testing.T) {
	t.Parallel()
	fs := newFakeStore()
	r := New(fs, nil, Options{})

	id, created, err := r.User(context.Background(), "newbie", "n@example.com")
	require.NoError(t, err)
	assert.True(t, created)
	require.Len(t, fs.users, 1)
	assert.Equal(t, fs.users[0].ID, id)
	assert.Equal(t, "n@example.com", fs.users[0].Email)
}

func TestFingerprintStable(t *testing.T) {
	t.Parallel()
	a := Fingerprint("https://example.com/a.png")
	b := Fingerprint("https://example.com/a.png")
	c := Fingerprint("https://example.com/b.png")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 32)
}

func TestCodeOfUnclassified(t *testing.T) {
	t.Parallel()
	assert.Equal(t, model.ErrCodeReference, CodeOf(eris.New("plain")))
	assert.Equal(t, model.ErrCodeFetch, CodeOf(fail(model.ErrCodeFetch, eris.New("x"))))
}
