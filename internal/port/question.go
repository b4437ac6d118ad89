package port

import (
	"context"

	"github.com/gosimple/slug"

	"github.com/coursekit/content-port/internal/model"
)

// questionModel syncs one question row. The question text maps to the post
// title; the answer and grading fields land in post meta.
type questionModel struct {
	base
}

func (m *questionModel) Sync(ctx context.Context) (string, []model.RowError) {
	m.markSynced()
	var errs []model.RowError

	meta := map[string]any{
		"answer": m.str("answer"),
		"type":   m.str("type"),
		"grade":  m.intField("grade"),
	}
	if f := m.str("feedback"); f != "" {
		meta["feedback"] = f
	}

	p := m.post(m.reg.opts.DefaultAuthorID, meta)
	p.Title = m.str("question")
	if p.Slug == "" {
		p.Slug = slug.Make(p.Title)
	}

	postID, err := m.upsert(ctx, p)
	if err != nil {
		errs = append(errs, rowError("", model.ErrCodePersistence, err))
		return "", errs
	}

	errs = append(errs, m.assignTerms(ctx, postID, "categories", model.TaxonomyQuestionCategory, "")...)

	return postID, errs
}

// genericModel handles custom kinds registered through schema overrides:
// scalar fields only, no reference resolution.
type genericModel struct {
	base
}

func (m *genericModel) Sync(ctx context.Context) (string, []model.RowError) {
	m.markSynced()

	meta := make(map[string]any)
	for name, v := range m.rec {
		switch name {
		case "id", "slug", "title", "description", "excerpt", "status":
		default:
			if v != nil {
				meta[name] = v
			}
		}
	}

	postID, err := m.upsert(ctx, m.post(m.reg.opts.DefaultAuthorID, meta))
	if err != nil {
		return "", []model.RowError{rowError("", model.ErrCodePersistence, err)}
	}
	return postID, nil
}
