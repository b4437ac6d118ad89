package port

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coursekit/content-port/internal/model"
	"github.com/coursekit/content-port/internal/resolve"
	"github.com/coursekit/content-port/internal/schema"
)

// fakePortStore is an in-memory Store for importer tests.
type fakePortStore struct {
	posts     []*model.Post
	postTerms map[string]map[string][]string
	runs      []*model.ImportRun
	rows      map[string][]model.RowResult

	nextID    int
	createErr error
}

func newFakePortStore() *fakePortStore {
	return &fakePortStore{
		postTerms: map[string]map[string][]string{},
		rows:      map[string][]model.RowResult{},
	}
}

func (f *fakePortStore) id(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s-%d", prefix, f.nextID)
}

func (f *fakePortStore) FindPostByOriginalID(_ context.Context, kind, originalID string) (*model.Post, error) {
	for _, p := range f.posts {
		if p.Kind == kind && p.OriginalID == originalID {
			return p, nil
		}
	}
	return nil, nil
}

func (f *fakePortStore) FindPostBySlug(_ context.Context, kind, slug string) (*model.Post, error) {
	for _, p := range f.posts {
		if p.Kind == kind && p.Slug == slug {
			return p, nil
		}
	}
	return nil, nil
}

func (f *fakePortStore) CreatePost(_ context.Context, p *model.Post) error {
	if f.createErr != nil {
		return f.createErr
	}
	p.ID = f.id("post")
	f.posts = append(f.posts, p)
	return nil
}

func (f *fakePortStore) UpdatePost(_ context.Context, p *model.Post) error {
	for i, old := range f.posts {
		if old.ID == p.ID {
			f.posts[i] = p
			return nil
		}
	}
	return eris.Errorf("post %s not found", p.ID)
}

func (f *fakePortStore) SetPostTerms(_ context.Context, postID, taxonomy string, termIDs []string) error {
	if f.postTerms[postID] == nil {
		f.postTerms[postID] = map[string][]string{}
	}
	f.postTerms[postID][taxonomy] = termIDs
	return nil
}

func (f *fakePortStore) CreateImportRun(_ context.Context, source string) (*model.ImportRun, error) {
	run := &model.ImportRun{ID: f.id("run"), Source: source, Status: model.RunStatusRunning}
	f.runs = append(f.runs, run)
	return run, nil
}

func (f *fakePortStore) AddRowResults(_ context.Context, runID string, rows []model.RowResult) error {
	f.rows[runID] = append(f.rows[runID], rows...)
	return nil
}

func (f *fakePortStore) CompleteImportRun(_ context.Context, runID string, created, updated, failed int) error {
	for _, run := range f.runs {
		if run.ID == runID {
			run.Status = model.RunStatusComplete
			run.Created, run.Updated, run.Failed = created, updated, failed
			return nil
		}
	}
	return eris.Errorf("run %s not found", runID)
}

// fakeResolver satisfies Resolver with deterministic ids and optional
// per-input failures.
type fakeResolver struct {
	termCalls       []string
	attachmentCalls []string
	userCalls       []string

	failTerm       map[string]error
	failAttachment map[string]error
}

func (f *fakeResolver) Term(_ context.Context, path, taxonomy, ownerID string) (string, error) {
	f.termCalls = append(f.termCalls, taxonomy+":"+path)
	if err := f.failTerm[path]; err != nil {
		return "", err
	}
	return "term-" + taxonomy + "-" + path, nil
}

func (f *fakeResolver) Attachment(_ context.Context, source, postID string) (string, error) {
	f.attachmentCalls = append(f.attachmentCalls, source)
	if err := f.failAttachment[source]; err != nil {
		return "", err
	}
	return "att-" + source, nil
}

func (f *fakeResolver) User(_ context.Context, login, email string) (string, bool, error) {
	f.userCalls = append(f.userCalls, login)
	return "user-" + login, false, nil
}

func newTestImporter(fs *fakePortStore, fr *fakeResolver) *Importer {
	registry := NewRegistry(schema.NewRegistry(), fs, fr, Options{DefaultAuthorID: "user-admin"})
	return NewImporter(registry, fs)
}

func source(recs ...model.RawRecord) (<-chan model.RawRecord, <-chan error) {
	records := make(chan model.RawRecord, len(recs))
	errs := make(chan error, 1)
	for _, r := range recs {
		records <- r
	}
	close(records)
	close(errs)
	return records, errs
}

func row(kind string, index int, fields map[string]string) model.RawRecord {
	return model.RawRecord{Kind: kind, Index: index, Fields: fields}
}

func TestImportCreatesAcrossKindsInDependencyOrder(t *testing.T) {
	t.Parallel()
	fs := newFakePortStore()
	fr := &fakeResolver{}
	im := newTestImporter(fs, fr)

	// The lesson comes first in the file but depends on the course below it.
	records, errs := source(
		row(model.KindLesson, 0, map[string]string{"title": "Kneading", "course": "c1"}),
		row(model.KindCourse, 1, map[string]string{"id": "c1", "title": "Breadmaking", "teacher username": "jo"}),
		row(model.KindQuestion, 2, map[string]string{"question": "What is proofing?", "answer": "Resting dough"}),
	)

	report, err := im.Import(context.Background(), "batch.csv", records, errs)
	require.NoError(t, err)

	assert.Equal(t, 3, report.Created)
	assert.Zero(t, report.Updated)
	assert.Zero(t, report.Failed)
	require.Len(t, report.Rows, 3)

	// Report rows come back in input order regardless of processing order.
	assert.Equal(t, 0, report.Rows[0].Index)
	assert.Equal(t, model.KindLesson, report.Rows[0].Kind)
	assert.Empty(t, report.Rows[0].Errors)

	// The lesson bound to the course even though the course row came later.
	lesson, err := fs.FindPostBySlug(context.Background(), model.KindLesson, "kneading")
	require.NoError(t, err)
	require.NotNil(t, lesson)
	course, err := fs.FindPostByOriginalID(context.Background(), model.KindCourse, "c1")
	require.NoError(t, err)
	require.NotNil(t, course)
	assert.Equal(t, course.ID, lesson.Meta["course"])
	assert.Equal(t, "user-jo", course.AuthorID)
	assert.Equal(t, course.AuthorID, lesson.AuthorID)

	// Run bookkeeping was persisted.
	require.Len(t, fs.runs, 1)
	assert.Equal(t, model.RunStatusComplete, fs.runs[0].Status)
	assert.Equal(t, 3, fs.runs[0].Created)
	assert.Len(t, fs.rows[fs.runs[0].ID], 3)
}

func TestImportInvalidRowProducesNoEntity(t *testing.T) {
	t.Parallel()
	fs := newFakePortStore()
	im := newTestImporter(fs, &fakeResolver{})

	records, errs := source(
		row(model.KindCourse, 0, map[string]string{"description": "no title"}),
		row(model.KindCourse, 1, map[string]string{"title": "Valid"}),
	)

	report, err := im.Import(context.Background(), "batch.csv", records, errs)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Created)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, fs.posts, 1)

	bad := report.Rows[0]
	assert.True(t, bad.Failed())
	require.Len(t, bad.Errors, 1)
	assert.Equal(t, "title", bad.Errors[0].Field)
	assert.Equal(t, model.ErrCodeValidation, bad.Errors[0].Code)
}

func TestImportMalformedPatternedFieldFailsRow(t *testing.T) {
	t.Parallel()
	fs := newFakePortStore()
	im := newTestImporter(fs, &fakeResolver{})

	records, errs := source(
		row(model.KindCourse, 0, map[string]string{"title": "Bread", "status": "published"}),
	)

	report, err := im.Import(context.Background(), "batch.csv", records, errs)
	require.NoError(t, err)

	require.Len(t, report.Rows, 1)
	assert.True(t, report.Rows[0].Failed())
	require.Len(t, report.Rows[0].Errors, 1)
	assert.Equal(t, "status", report.Rows[0].Errors[0].Field)
	assert.Empty(t, fs.posts)
}

func TestImportFetchFailureStillCreatesEntity(t *testing.T) {
	t.Parallel()
	fs := newFakePortStore()
	fr := &fakeResolver{failAttachment: map[string]error{
		"https://cdn.example.com/gone.png": &resolve.Failure{
			Code: model.ErrCodeFetch,
			Err:  eris.New("404 not found"),
		},
	}}
	im := newTestImporter(fs, fr)

	records, errs := source(
		row(model.KindCourse, 0, map[string]string{
			"title": "Bread",
			"image": "https://cdn.example.com/gone.png",
		}),
	)

	report, err := im.Import(context.Background(), "batch.csv", records, errs)
	require.NoError(t, err)

	require.Len(t, report.Rows, 1)
	got := report.Rows[0]
	assert.False(t, got.Failed())
	require.Len(t, got.Errors, 1)
	assert.Equal(t, "image", got.Errors[0].Field)
	assert.Equal(t, model.ErrCodeFetch, got.Errors[0].Code)

	assert.Equal(t, 1, report.Created)
	assert.Zero(t, report.Failed)
	require.Len(t, fs.posts, 1)
}

func TestImportUpdatesExistingByOriginalID(t *testing.T) {
	t.Parallel()
	fs := newFakePortStore()
	fs.posts = append(fs.posts, &model.Post{
		ID: "post-old", Kind: model.KindCourse, OriginalID: "c1",
		Slug: "breadmaking", Title: "Old Title",
	})
	im := newTestImporter(fs, &fakeResolver{})

	records, errs := source(
		row(model.KindCourse, 0, map[string]string{"id": "c1", "title": "New Title"}),
	)

	report, err := im.Import(context.Background(), "batch.csv", records, errs)
	require.NoError(t, err)

	assert.Zero(t, report.Created)
	assert.Equal(t, 1, report.Updated)
	require.Len(t, fs.posts, 1)
	assert.Equal(t, "post-old", fs.posts[0].ID)
	assert.Equal(t, "New Title", fs.posts[0].Title)
}

func TestImportUnknownKind(t *testing.T) {
	t.Parallel()
	fs := newFakePortStore()
	im := newTestImporter(fs, &fakeResolver{})

	records, errs := source(
		row("banner", 0, map[string]string{"title": "x"}),
	)

	report, err := im.Import(context.Background(), "batch.csv", records, errs)
	require.NoError(t, err)

	require.Len(t, report.Rows, 1)
	assert.True(t, report.Rows[0].Failed())
	require.Len(t, report.Rows[0].Errors, 1)
	assert.Equal(t, model.ErrCodeValidation, report.Rows[0].Errors[0].Code)
	assert.Contains(t, report.Rows[0].Errors[0].Message, "unknown record kind")
}

func TestImportTermAssignment(t *testing.T) {
	t.Parallel()
	fs := newFakePortStore()
	fr := &fakeResolver{}
	im := newTestImporter(fs, fr)

	records, errs := source(
		row(model.KindCourse, 0, map[string]string{
			"title":      "Bread",
			"categories": "Baking > Yeast, Kitchen Skills",
			"modules":    "Module A",
		}),
	)

	report, err := im.Import(context.Background(), "batch.csv", records, errs)
	require.NoError(t, err)
	require.Len(t, fs.posts, 1)
	assert.Empty(t, report.Rows[0].Errors)

	postID := fs.posts[0].ID
	assert.Equal(t, []string{
		"term-" + model.TaxonomyCourseCategory + "-Baking > Yeast",
		"term-" + model.TaxonomyCourseCategory + "-Kitchen Skills",
	}, fs.postTerms[postID][model.TaxonomyCourseCategory])
	assert.Len(t, fs.postTerms[postID][model.TaxonomyModule], 1)
}

func TestImportTermFailureSkipsOnlyThatPath(t *testing.T) {
	t.Parallel()
	fs := newFakePortStore()
	fr := &fakeResolver{failTerm: map[string]error{"Broken": eris.New("nope")}}
	im := newTestImporter(fs, fr)

	records, errs := source(
		row(model.KindCourse, 0, map[string]string{
			"title":      "Bread",
			"categories": "Good, Broken",
		}),
	)

	report, err := im.Import(context.Background(), "batch.csv", records, errs)
	require.NoError(t, err)

	got := report.Rows[0]
	assert.False(t, got.Failed())
	require.Len(t, got.Errors, 1)
	assert.Equal(t, "categories", got.Errors[0].Field)

	postID := fs.posts[0].ID
	assert.Equal(t,
		[]string{"term-" + model.TaxonomyCourseCategory + "-Good"},
		fs.postTerms[postID][model.TaxonomyCourseCategory])
}

func TestImportLessonMissingCourseReported(t *testing.T) {
	t.Parallel()
	fs := newFakePortStore()
	im := newTestImporter(fs, &fakeResolver{})

	records, errs := source(
		row(model.KindLesson, 0, map[string]string{"title": "Orphan", "course": "ghost"}),
	)

	report, err := im.Import(context.Background(), "batch.csv", records, errs)
	require.NoError(t, err)

	got := report.Rows[0]
	// The lesson still persists; the dangling reference is reported.
	assert.False(t, got.Failed())
	require.Len(t, got.Errors, 1)
	assert.Equal(t, "course", got.Errors[0].Field)
	assert.Equal(t, model.ErrCodeReference, got.Errors[0].Code)
}

func TestImportCancelledContext(t *testing.T) {
	t.Parallel()
	fs := newFakePortStore()
	im := newTestImporter(fs, &fakeResolver{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	records, errs := source(
		row(model.KindCourse, 0, map[string]string{"title": "Bread"}),
		row(model.KindCourse, 1, map[string]string{"title": "Cake"}),
	)

	report, err := im.Import(ctx, "batch.csv", records, errs)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Failed)
	for _, r := range report.Rows {
		require.Len(t, r.Errors, 1)
		assert.Equal(t, model.ErrCodePersistence, r.Errors[0].Code)
		assert.Contains(t, r.Errors[0].Message, "cancelled")
	}
	assert.Empty(t, fs.posts)
}

func TestImportSourceErrorSurfaces(t *testing.T) {
	t.Parallel()
	fs := newFakePortStore()
	im := newTestImporter(fs, &fakeResolver{})

	records := make(chan model.RawRecord, 1)
	srcErrs := make(chan error, 1)
	records <- row(model.KindCourse, 0, map[string]string{"title": "Bread"})
	close(records)
	srcErrs <- eris.New("csv: read row: unexpected EOF")
	close(srcErrs)

	report, err := im.Import(context.Background(), "batch.csv", records, srcErrs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "record source failed")

	// Rows read before the failure were still processed and reported.
	require.NotNil(t, report)
	assert.Equal(t, 1, report.Created)
}

func TestImportCustomKindViaYAMLSchema(t *testing.T) {
	t.Parallel()
	fs := newFakePortStore()
	schemas := schema.NewRegistry()
	require.NoError(t, schemas.FromYAML(strings.NewReader(`
banner:
  title: {type: string, required: true}
  link: {type: url}
  weight: {type: int}
`)))
	registry := NewRegistry(schemas, fs, &fakeResolver{}, Options{DefaultAuthorID: "user-admin"})
	im := NewImporter(registry, fs)

	records, errs := source(
		row("banner", 0, map[string]string{
			"title":  "Sale",
			"link":   "https://example.com/sale",
			"weight": "3",
		}),
	)

	report, err := im.Import(context.Background(), "batch.csv", records, errs)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Created)

	require.Len(t, fs.posts, 1)
	p := fs.posts[0]
	assert.Equal(t, "banner", p.Kind)
	assert.Equal(t, "https://example.com/sale", p.Meta["link"])
	assert.Equal(t, 3, p.Meta["weight"])
}

func TestSyncTwicePanics(t *testing.T) {
	t.Parallel()
	fs := newFakePortStore()
	registry := NewRegistry(schema.NewRegistry(), fs, &fakeResolver{}, Options{})

	m, err := registry.New(context.Background(), row(model.KindCourse, 0, map[string]string{"title": "Bread"}))
	require.NoError(t, err)

	_, rowErrs := m.Sync(context.Background())
	assert.Empty(t, rowErrs)
	assert.Panics(t, func() { m.Sync(context.Background()) })
}
