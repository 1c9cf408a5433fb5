package form

import (
	"context"
	"fmt"
	"iter"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// HiddenMarker is set by the browser on controls whose computed style makes
// them invisible, since a static snapshot carries no layout.
const HiddenMarker = "data-autoapply-hidden"

const controlSelector = "input, select, textarea"

var (
	skippedInputTypes = map[string]bool{
		"submit": true,
		"button": true,
		"reset":  true,
		"image":  true,
	}
	indexInName = regexp.MustCompile(`\[(\d+)\]`)
)

// Source yields an HTML snapshot of a live page.
type Source interface {
	Snapshot(ctx context.Context) (string, error)
}

// Form is a parsed page snapshot.
type Form struct {
	doc *goquery.Document
}

// Discover snapshots the page and parses it. A page without inputs yields a
// form with no fields, not an error.
func Discover(ctx context.Context, src Source) (*Form, error) {
	html, err := src.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot page: %w", err)
	}
	return Parse(html)
}

// Parse builds a form from an HTML document.
func Parse(html string) (*Form, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return &Form{doc: doc}, nil
}

// Fields walks the document in order and yields one descriptor per control.
// Every call starts a fresh walk and yields the same sequence for the same
// document.
func (f *Form) Fields() iter.Seq[FieldDescriptor] {
	return func(yield func(FieldDescriptor) bool) {
		order := 0
		f.doc.Find(controlSelector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			desc, ok := f.describe(s)
			if !ok {
				return true
			}
			desc.Order = order
			order++
			return yield(desc)
		})
	}
}

// Collect returns all descriptors.
func (f *Form) Collect() []FieldDescriptor {
	return slices.Collect(f.Fields())
}

// Title returns the document title.
func (f *Form) Title() string {
	return clean(f.doc.Find("title").First().Text())
}

func (f *Form) describe(s *goquery.Selection) (FieldDescriptor, bool) {
	tag := goquery.NodeName(s)
	inputType := ""
	if tag == "input" {
		inputType = strings.ToLower(strings.TrimSpace(s.AttrOr("type", "text")))
		if inputType == "" {
			inputType = "text"
		}
		if skippedInputTypes[inputType] {
			return FieldDescriptor{}, false
		}
	}

	desc := FieldDescriptor{
		ID:          f.selector(s),
		Name:        strings.TrimSpace(s.AttrOr("name", "")),
		Placeholder: clean(s.AttrOr("placeholder", "")),
		InputType:   inputType,
		Kind:        kindOf(tag, inputType),
		Visible:     visible(s, inputType),
		Enabled:     enabled(s),
		Section:     section(s),
	}
	desc.Label = f.label(s)
	desc.Constraints = constraints(s, tag)
	desc.Repeated, desc.RepeatIndex = repetition(s, desc.Name)

	return desc, true
}

func kindOf(tag, inputType string) Kind {
	switch tag {
	case "textarea":
		return KindText
	case "select":
		return KindSelect
	}

	switch inputType {
	case "text", "email", "tel", "url", "number", "search", "password", "hidden":
		return KindText
	case "checkbox":
		return KindCheckbox
	case "file":
		return KindFile
	case "date", "month":
		return KindDate
	default:
		return KindUnknown
	}
}

func constraints(s *goquery.Selection, tag string) Constraints {
	c := Constraints{
		Pattern: s.AttrOr("pattern", ""),
		Accept:  s.AttrOr("accept", ""),
	}
	_, c.Required = s.Attr("required")
	if strings.EqualFold(s.AttrOr("aria-required", ""), "true") {
		c.Required = true
	}
	_, c.Multiple = s.Attr("multiple")
	if n, err := strconv.Atoi(strings.TrimSpace(s.AttrOr("maxlength", ""))); err == nil && n > 0 {
		c.MaxLength = n
	}

	if tag == "select" {
		s.Find("option").Each(func(_ int, o *goquery.Selection) {
			if _, disabled := o.Attr("disabled"); disabled {
				return
			}
			label := clean(o.Text())
			value, ok := o.Attr("value")
			if !ok {
				value = label
			}
			if strings.TrimSpace(value) == "" {
				return
			}
			c.Options = append(c.Options, Option{Value: value, Label: label})
		})
	}

	return c
}

func visible(s *goquery.Selection, inputType string) bool {
	if inputType == "hidden" {
		return false
	}
	for sel := s; sel.Length() > 0 && goquery.NodeName(sel) != "#document"; sel = sel.Parent() {
		if _, ok := sel.Attr(HiddenMarker); ok {
			return false
		}
		if _, ok := sel.Attr("hidden"); ok {
			return false
		}
		if strings.EqualFold(sel.AttrOr("aria-hidden", ""), "true") {
			return false
		}
		style := strings.ReplaceAll(strings.ToLower(sel.AttrOr("style", "")), " ", "")
		if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
			return false
		}
	}
	return true
}

func enabled(s *goquery.Selection) bool {
	if _, ok := s.Attr("disabled"); ok {
		return false
	}
	if _, ok := s.Attr("readonly"); ok {
		return false
	}
	return s.Closest("fieldset[disabled]").Length() == 0
}

func section(s *goquery.Selection) string {
	if fs := s.Closest("fieldset"); fs.Length() > 0 {
		if legend := clean(fs.ChildrenFiltered("legend").First().Text()); legend != "" {
			return legend
		}
	}
	if sec := s.Closest("section, [role=group]"); sec.Length() > 0 {
		if label := clean(sec.AttrOr("aria-label", "")); label != "" {
			return label
		}
		return clean(sec.Find("h1, h2, h3, h4").First().Text())
	}
	return ""
}

func repetition(s *goquery.Selection, name string) (bool, int) {
	if m := indexInName.FindStringSubmatch(name); m != nil {
		idx, _ := strconv.Atoi(m[1])
		return true, idx
	}
	if block := s.Closest("[data-repeatable]"); block.Length() > 0 {
		return true, block.PrevAllFiltered("[data-repeatable]").Length()
	}
	return false, 0
}

func clean(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
