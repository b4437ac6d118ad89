// Package model defines the entities and report types shared by the
// content-port engine: posts, terms, attachments, users, and import runs.
package model

// Record kinds, in dependency order. Courses sync before lessons so a
// lesson's course reference can resolve; questions sync last.
const (
	KindCourse   = "course"
	KindLesson   = "lesson"
	KindQuestion = "question"
)

// KindOrder is the fixed processing order for a batch.
var KindOrder = []string{KindCourse, KindLesson, KindQuestion}

// RawRecord is one unparsed input row: a column-name to raw-value mapping
// plus its position in the source file.
type RawRecord struct {
	Kind   string            `json:"kind"`
	Index  int               `json:"index"`
	Fields map[string]string `json:"fields"`
}
