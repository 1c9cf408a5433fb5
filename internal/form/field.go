// Package form discovers the input fields of an arbitrary HTML form.
package form

import "errors"

// ErrDiscoveryEmpty is reported when a page holds no form-like structure and
// the caller decides that is terminal.
var ErrDiscoveryEmpty = errors.New("no form fields discovered")

// Kind is the closed set of input kinds the fill driver knows how to handle.
type Kind int

const (
	KindUnknown Kind = iota
	KindText
	KindSelect
	KindCheckbox
	KindFile
	KindDate
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindSelect:
		return "select"
	case KindCheckbox:
		return "checkbox"
	case KindFile:
		return "file"
	case KindDate:
		return "date"
	default:
		return "unknown"
	}
}

// Option is one choice of a select field.
type Option struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// Constraints are the declared limits of a field.
type Constraints struct {
	Required  bool     `json:"required,omitempty"`
	MaxLength int      `json:"max_length,omitempty"`
	Options   []Option `json:"options,omitempty"`
	Pattern   string   `json:"pattern,omitempty"`
	Accept    string   `json:"accept,omitempty"`
	Multiple  bool     `json:"multiple,omitempty"`
}

// FieldDescriptor describes one discovered input. Descriptors are values and
// are superseded, never updated, by the next discovery pass.
type FieldDescriptor struct {
	// ID is a CSS selector that addresses the input on the page.
	ID          string      `json:"id"`
	Name        string      `json:"name,omitempty"`
	Label       string      `json:"label"`
	Placeholder string      `json:"placeholder,omitempty"`
	InputType   string      `json:"input_type,omitempty"`
	Kind        Kind        `json:"kind"`
	Constraints Constraints `json:"constraints"`
	Visible     bool        `json:"visible"`
	Enabled     bool        `json:"enabled"`
	Section     string      `json:"section,omitempty"`
	Repeated    bool        `json:"repeated,omitempty"`
	RepeatIndex int         `json:"repeat_index,omitempty"`
	Order       int         `json:"order"`
}

// Actionable reports whether the field can be filled.
func (f FieldDescriptor) Actionable() bool {
	return f.Visible && f.Enabled
}

// IsRequired reports whether the field must be covered by a mapping. Hidden
// and disabled fields are never required.
func (f FieldDescriptor) IsRequired() bool {
	return f.Constraints.Required && f.Actionable()
}

// DisplayLabel is the best human readable name of the field.
func (f FieldDescriptor) DisplayLabel() string {
	switch {
	case f.Label != "":
		return f.Label
	case f.Name != "":
		return f.Name
	default:
		return f.ID
	}
}
