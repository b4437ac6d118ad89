package model

// Taxonomies known to the importer. The module taxonomy is hierarchical and
// scoped per owner; the category taxonomies are hierarchical and shared.
const (
	TaxonomyModule           = "module"
	TaxonomyCourseCategory   = "course-category"
	TaxonomyQuestionCategory = "question-category"
)

// Term is a taxonomy term. ParentID is empty for root terms.
type Term struct {
	ID       string `json:"id"`
	Taxonomy string `json:"taxonomy"`
	Name     string `json:"name"`
	Slug     string `json:"slug"`
	ParentID string `json:"parent_id,omitempty"`
}
