// Package profile holds the normalized candidate profile and read access to it
// by attribute name or path.
package profile

import (
	"fmt"
	"maps"
	"regexp"
	"sort"
	"strconv"
)

// Store is the read contract consumed by the matcher.
type Store interface {
	Get(path string) (Value, bool)
	List() []string
}

// Profile is an immutable set of attribute values. Attributes outside the
// schema are preserved in Unknown but never matched against.
type Profile struct {
	version string
	values  map[string]Value
	unknown map[string]any
	source  map[string]any
}

// New builds a profile from already decoded values. Names are expected to be
// schema names; anything else is ignored.
func New(values map[string]Value) *Profile {
	p := &Profile{
		version: SchemaVersion,
		values:  make(map[string]Value, len(values)),
		unknown: map[string]any{},
	}
	for name, v := range values {
		if attr, ok := Lookup(name); ok {
			p.values[attr.Name] = v
		}
	}
	p.derive()
	return p
}

// Version returns the schema version the profile was decoded with.
func (p *Profile) Version() string { return p.version }

// Unknown returns a copy of the attributes not covered by the schema.
func (p *Profile) Unknown() map[string]any {
	return maps.Clone(p.unknown)
}

// With returns a copy of the profile with one attribute replaced.
func (p *Profile) With(name string, v Value) *Profile {
	cp := &Profile{
		version: p.version,
		values:  maps.Clone(p.values),
		unknown: maps.Clone(p.unknown),
		source:  p.source,
	}
	if attr, ok := Lookup(name); ok {
		cp.values[attr.Name] = v
	}
	return cp
}

var pathPattern = regexp.MustCompile(`^([a-z_]+)(?:\[(\d+)\])?(?:\.([a-z_]+))?$`)

// Path is a parsed attribute path such as work_experience[0].company.
type Path struct {
	Name  string
	Index int
	Field string
}

// ParsePath splits an attribute path. Index is -1 when absent.
func ParsePath(path string) (Path, error) {
	m := pathPattern.FindStringSubmatch(path)
	if m == nil {
		return Path{}, fmt.Errorf("invalid attribute path %q", path)
	}
	p := Path{Name: m[1], Index: -1, Field: m[3]}
	if m[2] != "" {
		idx, err := strconv.Atoi(m[2])
		if err != nil {
			return Path{}, fmt.Errorf("invalid index in path %q: %w", path, err)
		}
		p.Index = idx
	}
	return p, nil
}

func (p Path) String() string {
	s := p.Name
	if p.Index >= 0 {
		s += "[" + strconv.Itoa(p.Index) + "]"
	}
	if p.Field != "" {
		s += "." + p.Field
	}
	return s
}

// Get resolves an attribute path. The boolean is false when the attribute is
// absent or empty.
func (p *Profile) Get(path string) (Value, bool) {
	parsed, err := ParsePath(path)
	if err != nil {
		return Value{}, false
	}
	attr, ok := Lookup(parsed.Name)
	if !ok {
		return Value{}, false
	}
	v, ok := p.values[attr.Name]
	if !ok || v.IsZero() {
		return Value{}, false
	}

	if parsed.Index < 0 {
		if parsed.Field != "" {
			return Value{}, false
		}
		return v, true
	}

	switch v.Kind {
	case KindList:
		if parsed.Index >= len(v.Items) || parsed.Field != "" {
			return Value{}, false
		}
		return TextValue(v.Items[parsed.Index]), true
	case KindRecords:
		if parsed.Index >= len(v.Records) {
			return Value{}, false
		}
		rec := v.Records[parsed.Index]
		if parsed.Field == "" {
			return Value{Kind: KindRecords, Records: []Record{rec}}, true
		}
		raw, ok := rec[parsed.Field]
		if !ok || raw == "" {
			return Value{}, false
		}
		if sub, ok := attr.Field(parsed.Field); ok && sub.Kind == KindDate {
			return DateValue(raw), true
		}
		return TextValue(raw), true
	default:
		return Value{}, false
	}
}

// List returns every resolvable attribute path in schema order.
func (p *Profile) List() []string {
	paths := make([]string, 0, len(p.values))
	for _, attr := range schema {
		v, ok := p.values[attr.Name]
		if !ok || v.IsZero() {
			continue
		}
		paths = append(paths, attr.Name)
		switch v.Kind {
		case KindList:
			for i := range v.Items {
				paths = append(paths, Path{Name: attr.Name, Index: i}.String())
			}
		case KindRecords:
			for i, rec := range v.Records {
				keys := make([]string, 0, len(rec))
				for k, val := range rec {
					if val != "" {
						keys = append(keys, k)
					}
				}
				sort.Strings(keys)
				for _, k := range keys {
					paths = append(paths, Path{Name: attr.Name, Index: i, Field: k}.String())
				}
			}
		}
	}
	return paths
}

// derive fills attributes that can be computed from others when the export
// does not carry them explicitly.
func (p *Profile) derive() {
	if full, ok := p.values[AttrFullName]; ok && !full.IsZero() {
		first, last := splitName(full.Text)
		if _, ok := p.values[AttrFirstName]; !ok && first != "" {
			p.values[AttrFirstName] = TextValue(first)
		}
		if _, ok := p.values[AttrLastName]; !ok && last != "" {
			p.values[AttrLastName] = TextValue(last)
		}
	}

	if exp, ok := p.values[AttrWorkExperience]; ok && len(exp.Records) > 0 {
		latest := exp.Records[0]
		if _, ok := p.values[AttrCurrentTitle]; !ok && latest["title"] != "" {
			p.values[AttrCurrentTitle] = TextValue(latest["title"])
		}
		if _, ok := p.values[AttrCurrentCompany]; !ok && latest["company"] != "" {
			p.values[AttrCurrentCompany] = TextValue(latest["company"])
		}
	}
}
