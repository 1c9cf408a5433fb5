package form

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var plainIdent = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)

// label resolves the visible caption of a control: aria-label,
// aria-labelledby, label[for], enclosing label, placeholder, title, name.
func (f *Form) label(s *goquery.Selection) string {
	if v := clean(s.AttrOr("aria-label", "")); v != "" {
		return trimMarker(v)
	}

	if ids := strings.Fields(s.AttrOr("aria-labelledby", "")); len(ids) > 0 {
		parts := make([]string, 0, len(ids))
		for _, id := range ids {
			if text := clean(f.byID(id).Text()); text != "" {
				parts = append(parts, text)
			}
		}
		if len(parts) > 0 {
			return trimMarker(strings.Join(parts, " "))
		}
	}

	if id := s.AttrOr("id", ""); id != "" {
		lbl := f.doc.Find("label").FilterFunction(func(_ int, l *goquery.Selection) bool {
			return l.AttrOr("for", "") == id
		}).First()
		if text := labelText(lbl); text != "" {
			return text
		}
	}

	if text := labelText(s.Closest("label")); text != "" {
		return text
	}

	for _, attr := range []string{"placeholder", "title", "name"} {
		if v := clean(s.AttrOr(attr, "")); v != "" {
			return trimMarker(v)
		}
	}
	return ""
}

// labelText returns the label text without the text of nested controls.
func labelText(lbl *goquery.Selection) string {
	if lbl.Length() == 0 {
		return ""
	}
	c := lbl.Clone()
	c.Find("input, select, textarea, option").Remove()
	return trimMarker(clean(c.Text()))
}

func trimMarker(s string) string {
	return strings.TrimSpace(strings.TrimRight(s, " *:"))
}

func (f *Form) byID(id string) *goquery.Selection {
	return f.doc.Find("[id]").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return s.AttrOr("id", "") == id
	})
}

// selector builds a stable CSS selector for the control: #id when the id is a
// plain unique identifier, tag[name] when the name is unique, otherwise a
// structural nth-of-type path from the root.
func (f *Form) selector(s *goquery.Selection) string {
	tag := goquery.NodeName(s)

	if id := s.AttrOr("id", ""); plainIdent.MatchString(id) && f.byID(id).Length() == 1 {
		return "#" + id
	}

	if name := s.AttrOr("name", ""); name != "" {
		same := f.doc.Find(tag + "[name]").FilterFunction(func(_ int, o *goquery.Selection) bool {
			return o.AttrOr("name", "") == name
		})
		if same.Length() == 1 {
			return fmt.Sprintf(`%s[name="%s"]`, tag, escapeAttr(name))
		}
	}

	return structuralPath(s)
}

func structuralPath(s *goquery.Selection) string {
	var parts []string
	for sel := s; sel.Length() > 0; sel = sel.Parent() {
		name := goquery.NodeName(sel)
		if name == "#document" || name == "" {
			break
		}
		if name == "html" {
			parts = append(parts, "html")
			break
		}
		n := sel.PrevAllFiltered(name).Length() + 1
		parts = append(parts, fmt.Sprintf("%s:nth-of-type(%d)", name, n))
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, " > ")
}

func escapeAttr(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}
