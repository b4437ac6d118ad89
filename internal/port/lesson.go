package port

import (
	"context"
	"strings"

	"github.com/gosimple/slug"
	"github.com/rotisserie/eris"

	"github.com/coursekit/content-port/internal/model"
	"github.com/coursekit/content-port/internal/resolve"
)

// lessonModel syncs one lesson row: the post, its course binding, its
// module term under the course's owner, and its featured image. Courses
// sync before lessons, so the course reference normally resolves to a post
// created earlier in the same batch.
type lessonModel struct {
	base
}

func (m *lessonModel) Sync(ctx context.Context) (string, []model.RowError) {
	m.markSynced()
	var errs []model.RowError

	authorID := m.reg.opts.DefaultAuthorID
	meta := map[string]any{
		"preview":    m.boolField("preview"),
		"complexity": m.str("complexity"),
		"passmark":   m.intField("passmark"),
	}
	if v := m.str("video"); v != "" {
		meta["video"] = v
	}
	if p := m.str("prerequisite"); p != "" {
		meta["prerequisite"] = p
	}
	if n := m.intField("length"); n > 0 {
		meta["length"] = n
	}
	if n := m.intField("num questions"); n > 0 {
		meta["num_questions"] = n
	}

	course, courseErr := m.findCourse(ctx)
	if courseErr != nil {
		errs = append(errs, rowError("course", resolve.CodeOf(courseErr), courseErr))
	} else if course != nil {
		meta["course"] = course.ID
		if course.AuthorID != "" {
			authorID = course.AuthorID
		}
	}

	postID, err := m.upsert(ctx, m.post(authorID, meta))
	if err != nil {
		errs = append(errs, rowError("", model.ErrCodePersistence, err))
		return "", errs
	}

	errs = append(errs, m.assignTerms(ctx, postID, "module", model.TaxonomyModule, authorID)...)

	if img := m.str("image"); img != "" {
		if _, err := m.reg.resolver.Attachment(ctx, img, postID); err != nil {
			errs = append(errs, rowError("image", resolve.CodeOf(err), err))
		}
	}

	return postID, errs
}

// findCourse resolves the lesson's course reference, matching the course's
// external id first and its slug second. Returns (nil, nil) when the row
// has no course reference at all.
func (m *lessonModel) findCourse(ctx context.Context) (*model.Post, error) {
	ref := strings.TrimSpace(m.str("course"))
	if ref == "" {
		return nil, nil
	}

	p, err := m.reg.store.FindPostByOriginalID(ctx, model.KindCourse, ref)
	if err != nil {
		return nil, eris.Wrap(err, "port: find course by id")
	}
	if p == nil {
		p, err = m.reg.store.FindPostBySlug(ctx, model.KindCourse, slug.Make(ref))
		if err != nil {
			return nil, eris.Wrap(err, "port: find course by slug")
		}
	}
	if p == nil {
		return nil, eris.Errorf("port: course %q not found", ref)
	}
	return p, nil
}
