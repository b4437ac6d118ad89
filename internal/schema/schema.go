// Package schema holds the declarative per-kind field definitions that
// drive sanitization and validation of imported rows.
package schema

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/coursekit/content-port/internal/model"
)

// Type is the coercion applied to a raw field value.
type Type string

// Field types.
const (
	TypeString Type = "string"
	TypeInt    Type = "int"
	TypeFloat  Type = "float"
	TypeBool   Type = "bool"
	TypeSlug   Type = "slug"
	TypeEmail  Type = "email"
	TypeURL    Type = "url"
	TypeRef    Type = "ref"
)

// Field describes one column of a record kind.
type Field struct {
	Type      Type   `yaml:"type"`
	Pattern   string `yaml:"pattern,omitempty"`
	Default   any    `yaml:"default,omitempty"`
	Required  bool   `yaml:"required,omitempty"`
	AllowHTML bool   `yaml:"allow_html,omitempty"`

	re *regexp.Regexp
}

// Match reports whether v satisfies the field's pattern. Fields without a
// pattern match everything.
func (f Field) Match(v string) bool {
	if f.re == nil {
		return true
	}
	return f.re.MatchString(v)
}

// HasPattern reports whether the field carries a validation pattern.
func (f Field) HasPattern() bool {
	return f.Pattern != ""
}

// Schema maps field names to their definitions for one record kind.
type Schema map[string]Field

// Registry is the immutable set of kind schemas, built once at startup
// with all patterns precompiled.
type Registry struct {
	kinds map[string]Schema
}

// NewRegistry builds a registry with the built-in course, lesson, and
// question schemas. Panics if a built-in pattern fails to compile, which
// is a programming error.
func NewRegistry() *Registry {
	r := &Registry{kinds: make(map[string]Schema)}
	for kind, s := range builtin() {
		if err := r.register(kind, s); err != nil {
			panic(err)
		}
	}
	return r
}

func (r *Registry) register(kind string, s Schema) error {
	compiled := make(Schema, len(s))
	for name, f := range s {
		if f.Pattern != "" {
			re, err := regexp.Compile(f.Pattern)
			if err != nil {
				return eris.Wrapf(err, "schema: compile pattern for %s.%s", kind, name)
			}
			f.re = re
		}
		compiled[name] = f
	}
	r.kinds[kind] = compiled
	return nil
}

// For returns the schema for the given kind. Requesting an unregistered
// kind is a programming error and panics.
func (r *Registry) For(kind string) Schema {
	s, ok := r.kinds[kind]
	if !ok {
		panic(fmt.Sprintf("schema: unknown record kind %q", kind))
	}
	return s
}

// Has reports whether the kind is registered.
func (r *Registry) Has(kind string) bool {
	_, ok := r.kinds[kind]
	return ok
}

// Kinds returns the registered kind names, sorted.
func (r *Registry) Kinds() []string {
	out := make([]string, 0, len(r.kinds))
	for k := range r.kinds {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// RequiredFields returns the kind's required field names, sorted.
func (r *Registry) RequiredFields(kind string) []string {
	return r.filter(kind, true)
}

// OptionalFields returns the kind's optional field names, sorted.
func (r *Registry) OptionalFields(kind string) []string {
	return r.filter(kind, false)
}

func (r *Registry) filter(kind string, required bool) []string {
	var out []string
	for name, f := range r.For(kind) {
		if f.Required == required {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func builtin() map[string]Schema {
	statusPattern := `^(publish|draft|pending)$`

	return map[string]Schema{
		model.KindCourse: {
			"id":               {Type: TypeString},
			"title":            {Type: TypeString, Required: true},
			"slug":             {Type: TypeSlug},
			"description":      {Type: TypeString, AllowHTML: true},
			"excerpt":          {Type: TypeString, AllowHTML: true},
			"status":           {Type: TypeString, Pattern: statusPattern, Default: model.StatusDraft},
			"teacher username": {Type: TypeString},
			"teacher email":    {Type: TypeEmail},
			"modules":          {Type: TypeString},
			"categories":       {Type: TypeString},
			"prerequisite":     {Type: TypeRef},
			"featured":         {Type: TypeBool, Default: false},
			"image":            {Type: TypeString},
			"video":            {Type: TypeString, AllowHTML: true},
			"notifications":    {Type: TypeBool, Default: false},
		},
		model.KindLesson: {
			"id":            {Type: TypeString},
			"title":         {Type: TypeString, Required: true},
			"slug":          {Type: TypeSlug},
			"description":   {Type: TypeString, AllowHTML: true},
			"excerpt":       {Type: TypeString, AllowHTML: true},
			"status":        {Type: TypeString, Pattern: statusPattern, Default: model.StatusDraft},
			"course":        {Type: TypeRef},
			"module":        {Type: TypeString},
			"prerequisite":  {Type: TypeRef},
			"preview":       {Type: TypeBool, Default: false},
			"image":         {Type: TypeString},
			"video":         {Type: TypeString, AllowHTML: true},
			"length":        {Type: TypeInt},
			"complexity":    {Type: TypeString, Pattern: `^(easy|std|hard)$`, Default: "std"},
			"passmark":      {Type: TypeInt, Default: 0},
			"num questions": {Type: TypeInt},
		},
		model.KindQuestion: {
			"id":         {Type: TypeString},
			"question":   {Type: TypeString, Required: true},
			"answer":     {Type: TypeString, Required: true},
			"slug":       {Type: TypeSlug},
			"description": {Type: TypeString, AllowHTML: true},
			"status":     {Type: TypeString, Pattern: statusPattern, Default: model.StatusDraft},
			"type":       {Type: TypeString, Pattern: `^(multiple-choice|boolean|gap-fill|single-line|multi-line|file-upload)$`, Default: "multiple-choice"},
			"grade":      {Type: TypeInt, Default: 1},
			"categories": {Type: TypeString},
			"feedback":   {Type: TypeString, AllowHTML: true},
		},
	}
}
