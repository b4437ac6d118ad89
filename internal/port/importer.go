package port

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/coursekit/content-port/internal/model"
)

// Importer drives one batch of raw rows through the engine and aggregates
// a per-row report. Rows are processed single-threaded in kind dependency
// order; a row's failure never aborts the batch.
type Importer struct {
	registry *Registry
	store    Store
}

// NewImporter creates a batch importer.
func NewImporter(registry *Registry, s Store) *Importer {
	return &Importer{registry: registry, store: s}
}

// Import consumes the record source exactly once and returns the batch
// report, with one result per input row in input order. The returned error
// covers batch-level failures only (source read errors, run bookkeeping);
// row-level outcomes live in the report, which is still returned when the
// error is non-nil so partial batches stay inspectable.
func (im *Importer) Import(ctx context.Context, source string, records <-chan model.RawRecord, srcErrs <-chan error) (*model.Report, error) {
	run, err := im.store.CreateImportRun(ctx, source)
	if err != nil {
		return nil, eris.Wrap(err, "port: create import run")
	}

	var rows []model.RawRecord
	for rec := range records {
		rows = append(rows, rec)
	}
	srcErr := <-srcErrs

	results, updated := im.process(ctx, rows)

	sort.Slice(results, func(i, j int) bool { return results[i].Index < results[j].Index })

	report := &model.Report{RunID: run.ID, Rows: results}
	for _, r := range results {
		switch {
		case r.Failed():
			report.Failed++
		case updated[r.Index]:
			report.Updated++
		default:
			report.Created++
		}
	}

	if err := im.store.AddRowResults(ctx, run.ID, results); err != nil {
		return report, eris.Wrap(err, "port: persist row results")
	}
	if err := im.store.CompleteImportRun(ctx, run.ID, report.Created, report.Updated, report.Failed); err != nil {
		return report, eris.Wrap(err, "port: complete import run")
	}

	zap.L().Info("import finished",
		zap.String("run_id", run.ID),
		zap.String("source", source),
		zap.Int("rows", len(results)),
		zap.Int("created", report.Created),
		zap.Int("updated", report.Updated),
		zap.Int("failed", report.Failed),
	)

	if srcErr != nil {
		return report, eris.Wrap(srcErr, "port: record source failed")
	}
	return report, nil
}

// process orders rows by kind dependency and syncs each one in isolation.
// The returned set holds the indexes of rows that updated an existing entity
// rather than creating one.
func (im *Importer) process(ctx context.Context, rows []model.RawRecord) ([]model.RowResult, map[int]bool) {
	byKind := make(map[string][]model.RawRecord)
	var kindOrder []string
	known := make(map[string]bool, len(model.KindOrder))
	for _, kind := range model.KindOrder {
		known[kind] = true
		kindOrder = append(kindOrder, kind)
	}
	for _, raw := range rows {
		if !known[raw.Kind] {
			// Custom kinds run after the built-in ones, in first-seen order.
			known[raw.Kind] = true
			kindOrder = append(kindOrder, raw.Kind)
		}
		byKind[raw.Kind] = append(byKind[raw.Kind], raw)
	}

	results := make([]model.RowResult, 0, len(rows))
	updated := make(map[int]bool)
	cancelled := false
	for _, kind := range kindOrder {
		for _, raw := range byKind[kind] {
			if cancelled || ctx.Err() != nil {
				// Already-synced rows stay persisted; the rest are reported
				// as not started.
				cancelled = true
				results = append(results, model.RowResult{
					Index: raw.Index,
					Kind:  raw.Kind,
					Errors: []model.RowError{{
						Code:    model.ErrCodePersistence,
						Message: "import cancelled before this row started",
					}},
				})
				continue
			}
			res, wasUpdate := im.processRow(ctx, raw)
			if wasUpdate {
				updated[res.Index] = true
			}
			results = append(results, res)
		}
	}
	return results, updated
}

func (im *Importer) processRow(ctx context.Context, raw model.RawRecord) (model.RowResult, bool) {
	m, err := im.registry.New(ctx, raw)
	if err != nil {
		code := model.ErrCodeValidation
		if im.registry.Has(raw.Kind) {
			code = model.ErrCodePersistence
		}
		return model.RowResult{
			Index:  raw.Index,
			Kind:   raw.Kind,
			Errors: []model.RowError{{Code: code, Message: err.Error()}},
		}, false
	}

	if !m.Valid() {
		return model.RowResult{Index: raw.Index, Kind: raw.Kind, Errors: m.ValidationErrors()}, false
	}

	postID, rowErrs := m.Sync(ctx)
	if len(rowErrs) > 0 {
		zap.L().Warn("row synced with errors",
			zap.String("kind", raw.Kind),
			zap.Int("row", raw.Index),
			zap.String("post_id", postID),
			zap.Int("errors", len(rowErrs)),
		)
	}
	return model.RowResult{Index: raw.Index, Kind: raw.Kind, PostID: postID, Errors: rowErrs},
		postID != "" && m.ExistingID() != ""
}
