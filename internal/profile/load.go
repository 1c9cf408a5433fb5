package profile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// Format is the encoding of a profile export.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFromPath picks the format by file extension, defaulting to JSON.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// Load reads and validates a normalized profile export.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading profile %q: %w", path, err)
	}

	p, err := Parse(data, FormatFromPath(path))
	if err != nil {
		return nil, fmt.Errorf("profile %q: %w", path, err)
	}

	return p, nil
}

// Parse decodes and validates a normalized profile export.
func Parse(data []byte, format Format) (*Profile, error) {
	raw := make(map[string]any)
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("decode yaml: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("decode json: %w", err)
		}
	}

	p := &Profile{
		version: SchemaVersion,
		values:  make(map[string]Value),
		unknown: make(map[string]any),
		source:  raw,
	}

	for key, item := range raw {
		attr, ok := Lookup(key)
		if !ok {
			p.unknown[key] = item
			continue
		}

		v, err := decodeValue(attr, item)
		if err != nil {
			return nil, fmt.Errorf("attribute %s: %w", key, err)
		}
		if v.IsZero() {
			continue
		}
		p.values[attr.Name] = v
	}

	p.derive()

	if err := validate(p); err != nil {
		return nil, err
	}

	return p, nil
}

// Encode renders the profile source document as indented JSON, keeping
// unknown attributes untouched.
func (p *Profile) Encode() ([]byte, error) {
	src := p.source
	if src == nil {
		src = make(map[string]any, len(p.values))
		for name, v := range p.values {
			src[name] = plain(v)
		}
	}
	return json.MarshalIndent(src, "", "  ")
}

func plain(v Value) any {
	switch v.Kind {
	case KindList:
		return v.Items
	case KindRecords:
		return v.Records
	case KindBool:
		return v.Bool
	default:
		return v.Text
	}
}

func decodeValue(attr Attribute, raw any) (Value, error) {
	if raw == nil {
		return Value{}, nil
	}

	switch attr.Kind {
	case KindText:
		return TextValue(coerceString(raw)), nil
	case KindFile:
		return FileValue(coerceString(raw)), nil
	case KindDate:
		return DateValue(coerceString(raw)), nil
	case KindBool:
		b, err := coerceBool(raw)
		if err != nil {
			return Value{}, err
		}
		return BoolValue(b), nil
	case KindList:
		var items []string
		if err := mapstructure.WeakDecode(raw, &items); err != nil {
			return Value{}, fmt.Errorf("decode list: %w", err)
		}
		return ListValue(items...), nil
	case KindRecords:
		var records []Record
		if err := mapstructure.WeakDecode(raw, &records); err != nil {
			return Value{}, fmt.Errorf("decode records: %w", err)
		}
		for i, rec := range records {
			for k, v := range rec {
				rec[k] = strings.TrimSpace(v)
			}
			records[i] = rec
		}
		return Value{Kind: KindRecords, Records: records}, nil
	default:
		return Value{}, fmt.Errorf("unsupported attribute kind %s", attr.Kind)
	}
}

func coerceString(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case fmt.Stringer:
		return strings.TrimSpace(val.String())
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", v))
	}
}

func coerceBool(v any) (bool, error) {
	switch val := v.(type) {
	case bool:
		return val, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "yes", "y", "true", "1":
			return true, nil
		case "no", "n", "false", "0", "":
			return false, nil
		}
		return strconv.ParseBool(val)
	case int:
		return val != 0, nil
	case float64:
		return val != 0, nil
	default:
		return false, fmt.Errorf("cannot use %T as boolean", v)
	}
}

func splitName(full string) (string, string) {
	parts := strings.Fields(full)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], ""
	default:
		return strings.Join(parts[:len(parts)-1], " "), parts[len(parts)-1]
	}
}

type contact struct {
	FullName    string `validate:"required"`
	Email       string `validate:"omitempty,email"`
	LinkedInURL string `validate:"omitempty,url"`
	Website     string `validate:"omitempty,url"`
}

func validate(p *Profile) error {
	c := contact{
		FullName:    p.values[AttrFullName].Text,
		Email:       p.values[AttrEmail].Text,
		LinkedInURL: p.values[AttrLinkedInURL].Text,
		Website:     p.values[AttrWebsite].Text,
	}

	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid profile: %w", err)
	}

	return nil
}
