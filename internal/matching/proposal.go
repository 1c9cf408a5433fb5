package matching

import (
	"fmt"

	"github.com/spigell/autoapply/internal/form"
)

// Transform tells the fill driver how the profile value was shaped for the
// target field.
type Transform string

const (
	TransformNone          Transform = "none"
	TransformDateFormat    Transform = "date-format"
	TransformOptionResolve Transform = "option-resolve"
	TransformJoinList      Transform = "join-list"
	TransformTruncate      Transform = "truncate"
	TransformCheckboxBool  Transform = "checkbox-bool"
	TransformFilePath      Transform = "file-path"
)

// Reason explains why a field was left for the human.
type Reason string

const (
	ReasonLowConfidence    Reason = "low-confidence"
	ReasonNoCandidate      Reason = "no-candidate"
	ReasonOptionUnresolved Reason = "option-unresolved"
	ReasonUnsupportedKind  Reason = "unsupported-kind"
)

// EditedAttribute is the attribute name recorded on mappings typed in by the
// reviewer.
const EditedAttribute = "manual"

// FieldMapping pairs one profile attribute path with one field.
type FieldMapping struct {
	Field      form.FieldDescriptor `json:"field"`
	Attribute  string               `json:"attribute"`
	Confidence float64              `json:"confidence"`
	Transform  Transform            `json:"transform"`
	// Layout is the date layout used by TransformDateFormat.
	Layout string `json:"layout,omitempty"`
	// Value is the exact input the fill driver applies: text to type, option
	// value, "true"/"false" for checkboxes, or a local file path.
	Value  string `json:"value"`
	Edited bool   `json:"edited,omitempty"`
}

// Checked returns the desired checkbox state.
func (m FieldMapping) Checked() bool {
	return m.Value == "true"
}

// ManualField is a required field that needs a value from the reviewer.
type ManualField struct {
	Field         form.FieldDescriptor `json:"field"`
	Reason        Reason               `json:"reason"`
	BestAttribute string               `json:"best_attribute,omitempty"`
	BestScore     float64              `json:"best_score,omitempty"`
}

// Proposal is the matcher output awaiting review.
type Proposal struct {
	Mappings []FieldMapping `json:"mappings"`
	Manual   []ManualField  `json:"manual,omitempty"`
	// Unmapped lists optional actionable fields left empty.
	Unmapped  []form.FieldDescriptor `json:"unmapped,omitempty"`
	Threshold float64                `json:"threshold"`
}

// Mapping returns the mapping for a field id.
func (p Proposal) Mapping(fieldID string) (FieldMapping, bool) {
	for _, m := range p.Mappings {
		if m.Field.ID == fieldID {
			return m, true
		}
	}
	return FieldMapping{}, false
}

// Validate checks that every required field is either mapped or flagged for
// manual input, and that no field is mapped twice.
func (p Proposal) Validate(fields []form.FieldDescriptor) error {
	covered := make(map[string]bool, len(p.Mappings)+len(p.Manual))
	for _, m := range p.Mappings {
		if covered[m.Field.ID] {
			return fmt.Errorf("field %s is mapped more than once", m.Field.ID)
		}
		covered[m.Field.ID] = true
	}
	for _, m := range p.Manual {
		covered[m.Field.ID] = true
	}

	for _, f := range fields {
		if f.IsRequired() && !covered[f.ID] {
			return fmt.Errorf("required field %s (%s) is missing from the proposal", f.ID, f.DisplayLabel())
		}
	}
	return nil
}
