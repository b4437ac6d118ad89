// Package sanitize converts raw input rows into typed records according to
// a kind schema, and decides record validity.
package sanitize

import (
	"net/mail"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/gosimple/slug"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/unicode/norm"

	"github.com/coursekit/content-port/internal/schema"
)

// Record is a sanitized row: every schema field is present, with nil
// marking an unset or malformed value.
type Record map[string]any

// htmlPolicy permits the formatting markup a course description may carry.
var htmlPolicy = bluemonday.UGCPolicy()

var (
	tagRe        = regexp.MustCompile(`<[^>]*>`)
	multiSpaceRe = regexp.MustCompile(`\s+`)
	leadIntRe    = regexp.MustCompile(`^[+-]?\d+`)
	leadFloatRe  = regexp.MustCompile(`^[+-]?\d*\.?\d+`)
)

// Sanitize applies the schema's coercion rules to a raw row. Columns absent
// from the schema are dropped; schema fields absent from the row appear as
// their default (or nil). A non-empty value that fails a field's pattern
// becomes nil, which is distinct from an empty value that picked up the
// default.
func Sanitize(raw map[string]string, s schema.Schema) Record {
	rec := make(Record, len(s))

	for name, field := range s {
		value := strings.TrimSpace(raw[name])

		if value == "" {
			rec[name] = field.Default
			continue
		}

		rec[name] = coerce(value, field)
	}

	return rec
}

func coerce(value string, field schema.Field) any {
	switch field.Type {
	case schema.TypeInt:
		return intval(value)
	case schema.TypeFloat:
		return floatval(value)
	case schema.TypeBool:
		return truthy(value)
	case schema.TypeSlug:
		return slug.Make(value)
	case schema.TypeEmail:
		return email(value)
	case schema.TypeURL:
		return urlval(value)
	default:
		if field.HasPattern() && !field.Match(value) {
			// Pattern miss marks the value as malformed, not defaulted.
			return nil
		}
		if field.AllowHTML {
			return htmlPolicy.Sanitize(value)
		}
		return PlainText(value)
	}
}

// Valid reports whether the record passes the schema's validity rules:
// no required field may be nil, and no field that carries both a default
// and a pattern may be nil. The latter can only happen when a supplied
// value failed the pattern, since an empty value would have taken the
// default.
func Valid(rec Record, s schema.Schema) bool {
	return len(InvalidFields(rec, s)) == 0
}

// InvalidFields returns the sorted names of fields that make the record
// invalid.
func InvalidFields(rec Record, s schema.Schema) []string {
	var out []string
	for name, field := range s {
		if rec[name] != nil {
			continue
		}
		if field.Required || (field.Default != nil && field.HasPattern()) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// PlainText strips markup and control characters from a value, normalizes
// it to NFC, and collapses runs of whitespace.
func PlainText(v string) string {
	v = tagRe.ReplaceAllString(v, "")
	v = strings.Map(func(r rune) rune {
		if r < 0x20 && r != '\t' && r != '\n' {
			return -1
		}
		return r
	}, v)
	v = norm.NFC.String(v)
	return strings.TrimSpace(multiSpaceRe.ReplaceAllString(v, " "))
}

// intval parses the leading integer of a value, returning 0 when there is
// none. Trailing junk is ignored, matching the permissive coercion the
// original import format tolerated.
func intval(v string) int {
	m := leadIntRe.FindString(v)
	if m == "" {
		return 0
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return 0
	}
	return n
}

func floatval(v string) float64 {
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	m := leadFloatRe.FindString(v)
	if m == "" {
		return 0
	}
	f, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0
	}
	return f
}

// truthy treats "", "0", "false", and "no" as false; any other value is
// considered set.
func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "0", "false", "no":
		return false
	default:
		return true
	}
}

// email returns the normalized address, or the empty string when the value
// does not parse as an address.
func email(v string) string {
	addr, err := mail.ParseAddress(v)
	if err != nil {
		return ""
	}
	return addr.Address
}

// urlval returns the escaped URL, or the empty string for anything that is
// not an absolute http(s) URL.
func urlval(v string) string {
	u, err := url.Parse(v)
	if err != nil {
		return ""
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ""
	}
	return u.String()
}
