package port

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/coursekit/content-port/internal/model"
	"github.com/coursekit/content-port/internal/resolve"
)

// courseModel syncs one course row: the post itself, its author, its
// category and module terms, and its featured image.
type courseModel struct {
	base
}

func (m *courseModel) Sync(ctx context.Context) (string, []model.RowError) {
	m.markSynced()
	var errs []model.RowError

	authorID := m.reg.opts.DefaultAuthorID
	if username := m.str("teacher username"); username != "" {
		id, created, err := m.reg.resolver.User(ctx, username, m.str("teacher email"))
		if err != nil {
			errs = append(errs, rowError("teacher username", resolve.CodeOf(err), err))
		} else {
			authorID = id
			if created {
				zap.L().Debug("course author created during import",
					zap.String("login", username),
					zap.Int("row", m.Index()),
				)
			}
		}
	}

	meta := map[string]any{
		"featured":      m.boolField("featured"),
		"notifications": m.boolField("notifications"),
	}
	if v := m.str("video"); v != "" {
		meta["video"] = v
	}
	if p := m.str("prerequisite"); p != "" {
		meta["prerequisite"] = p
	}

	postID, err := m.upsert(ctx, m.post(authorID, meta))
	if err != nil {
		errs = append(errs, rowError("", model.ErrCodePersistence, err))
		return "", errs
	}

	errs = append(errs, m.assignTerms(ctx, postID, "categories", model.TaxonomyCourseCategory, "")...)
	errs = append(errs, m.assignTerms(ctx, postID, "modules", model.TaxonomyModule, authorID)...)

	if img := m.str("image"); img != "" {
		if _, err := m.reg.resolver.Attachment(ctx, img, postID); err != nil {
			errs = append(errs, rowError("image", resolve.CodeOf(err), err))
		}
	}

	return postID, errs
}

// assignTerms resolves a comma-separated list of term paths from the given
// field and replaces the post's terms in that taxonomy. Paths that fail to
// resolve are reported and skipped; the rest are still assigned.
func (b *base) assignTerms(ctx context.Context, postID, field, taxonomy, ownerID string) []model.RowError {
	raw := b.str(field)
	if raw == "" {
		return nil
	}

	var errs []model.RowError
	var termIDs []string
	for _, termPath := range strings.Split(raw, ",") {
		termPath = strings.TrimSpace(termPath)
		if termPath == "" {
			continue
		}
		id, err := b.reg.resolver.Term(ctx, termPath, taxonomy, ownerID)
		if err != nil {
			errs = append(errs, rowError(field, resolve.CodeOf(err), err))
			continue
		}
		termIDs = append(termIDs, id)
	}

	if len(termIDs) > 0 {
		if err := b.reg.store.SetPostTerms(ctx, postID, taxonomy, termIDs); err != nil {
			errs = append(errs, rowError(field, model.ErrCodePersistence, err))
		}
	}
	return errs
}
