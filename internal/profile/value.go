package profile

import (
	"strings"
	"time"
)

// Record is one entry of a repeated section such as work experience.
type Record map[string]string

// Value is a typed attribute value. Exactly one of Text, Items or Records is
// meaningful, selected by Kind. Date values keep the raw text next to the
// parsed time.
type Value struct {
	Kind    ValueKind
	Text    string
	Date    time.Time
	Bool    bool
	Items   []string
	Records []Record
}

// TextValue builds a scalar text value.
func TextValue(s string) Value {
	return Value{Kind: KindText, Text: strings.TrimSpace(s)}
}

// BoolValue builds a boolean value.
func BoolValue(b bool) Value {
	text := "no"
	if b {
		text = "yes"
	}
	return Value{Kind: KindBool, Bool: b, Text: text}
}

// FileValue builds a file attribute pointing at a local path.
func FileValue(path string) Value {
	return Value{Kind: KindFile, Text: strings.TrimSpace(path)}
}

// ListValue builds a list value, dropping blank items.
func ListValue(items ...string) Value {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return Value{Kind: KindList, Items: out}
}

// dateLayouts are tried in order when a date attribute is decoded.
var dateLayouts = []string{
	"2006-01-02",
	"2006-01",
	"January 2006",
	"Jan 2006",
	"01/2006",
	"01/02/2006",
	"2006",
}

// DateValue parses s with the known layouts. Unparseable input is kept as a
// date value with a zero time so the raw text is still available.
func DateValue(s string) Value {
	s = strings.TrimSpace(s)
	v := Value{Kind: KindDate, Text: s}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			v.Date = t
			break
		}
	}
	return v
}

// HasDate reports whether the date was parsed.
func (v Value) HasDate() bool {
	return v.Kind == KindDate && !v.Date.IsZero()
}

// IsZero reports whether the value carries no data.
func (v Value) IsZero() bool {
	switch v.Kind {
	case KindList:
		return len(v.Items) == 0
	case KindRecords:
		return len(v.Records) == 0
	case KindBool:
		return v.Text == ""
	default:
		return strings.TrimSpace(v.Text) == ""
	}
}

// String renders the value as plain text.
func (v Value) String() string {
	switch v.Kind {
	case KindList:
		return strings.Join(v.Items, ", ")
	case KindRecords:
		parts := make([]string, 0, len(v.Records))
		for _, r := range v.Records {
			parts = append(parts, recordSummary(r))
		}
		return strings.Join(parts, "; ")
	default:
		return v.Text
	}
}

func recordSummary(r Record) string {
	for _, key := range []string{"title", "degree", "institution", "company"} {
		if s := strings.TrimSpace(r[key]); s != "" {
			return s
		}
	}
	return ""
}
