package fetcher

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coursekit/content-port/internal/model"
)

func collect(t *testing.T, records <-chan model.RawRecord, errs <-chan error) ([]model.RawRecord, error) {
	t.Helper()
	var out []model.RawRecord
	for rec := range records {
		out = append(out, rec)
	}
	return out, <-errs
}

func TestStreamCSVRecords(t *testing.T) {
	t.Parallel()
	src := "Title,Status\nBread,publish\nCake,draft\n"

	records, errs := StreamCSVRecords(context.Background(), strings.NewReader(src), CSVOptions{Kind: model.KindCourse})
	recs, err := collect(t, records, errs)
	require.NoError(t, err)

	require.Len(t, recs, 2)
	assert.Equal(t, model.KindCourse, recs[0].Kind)
	assert.Equal(t, 0, recs[0].Index)
	assert.Equal(t, 1, recs[1].Index)
	// Headers normalize to lowercase.
	assert.Equal(t, "Bread", recs[0].Fields["title"])
	assert.Equal(t, "draft", recs[1].Fields["status"])
}

func TestStreamCSVTypeColumnOverridesKind(t *testing.T) {
	t.Parallel()
	src := "_type,title\nlesson,Kneading\n,Untyped\n"

	records, errs := StreamCSVRecords(context.Background(), strings.NewReader(src), CSVOptions{Kind: model.KindCourse})
	recs, err := collect(t, records, errs)
	require.NoError(t, err)

	require.Len(t, recs, 2)
	assert.Equal(t, model.KindLesson, recs[0].Kind)
	_, hasType := recs[0].Fields[TypeColumn]
	assert.False(t, hasType)
	assert.Equal(t, model.KindCourse, recs[1].Kind)
}

func TestStreamCSVRaggedRows(t *testing.T) {
	t.Parallel()
	src := "title,status,excerpt\nBread\nCake,publish,Sweet,extra\n"

	records, errs := StreamCSVRecords(context.Background(), strings.NewReader(src), CSVOptions{Kind: model.KindCourse})
	recs, err := collect(t, records, errs)
	require.NoError(t, err)

	require.Len(t, recs, 2)
	assert.Equal(t, "Bread", recs[0].Fields["title"])
	_, ok := recs[0].Fields["status"]
	assert.False(t, ok)
	assert.Equal(t, "Sweet", recs[1].Fields["excerpt"])
}

func TestStreamCSVCustomDelimiterAndComments(t *testing.T) {
	t.Parallel()
	src := "# generated export\ntitle;status\nBread;publish\n"

	records, errs := StreamCSVRecords(context.Background(), strings.NewReader(src), CSVOptions{
		Kind:      model.KindCourse,
		Delimiter: ';',
		Comment:   '#',
	})
	recs, err := collect(t, records, errs)
	require.NoError(t, err)

	require.Len(t, recs, 1)
	assert.Equal(t, "publish", recs[0].Fields["status"])
}

func TestStreamCSVEmptyInput(t *testing.T) {
	t.Parallel()
	records, errs := StreamCSVRecords(context.Background(), strings.NewReader(""), CSVOptions{Kind: model.KindCourse})
	recs, err := collect(t, records, errs)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestStreamCSVHeaderOnly(t *testing.T) {
	t.Parallel()
	records, errs := StreamCSVRecords(context.Background(), strings.NewReader("title,status\n"), CSVOptions{Kind: model.KindCourse})
	recs, err := collect(t, records, errs)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestStreamCSVMalformedQuoteErrors(t *testing.T) {
	t.Parallel()
	src := "title\nok\n\"bad\"row\n"

	records, errs := StreamCSVRecords(context.Background(), strings.NewReader(src), CSVOptions{Kind: model.KindCourse})
	recs, err := collect(t, records, errs)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "read row")
	// Rows before the malformed one still came through.
	require.Len(t, recs, 1)
	assert.Equal(t, "ok", recs[0].Fields["title"])
}

func TestStreamCSVCancelledContext(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	records, errs := StreamCSVRecords(ctx, strings.NewReader("title\nBread\n"), CSVOptions{Kind: model.KindCourse})
	_, err := collect(t, records, errs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cancelled")
}
