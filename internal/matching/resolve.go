package matching

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spigell/autoapply/internal/form"
	"github.com/spigell/autoapply/internal/profile"
)

// compatible reports whether a value kind can feed a field kind.
func compatible(field form.Kind, value profile.ValueKind) bool {
	switch field {
	case form.KindText:
		return value == profile.KindText || value == profile.KindDate || value == profile.KindList
	case form.KindDate:
		return value == profile.KindDate
	case form.KindSelect:
		return value == profile.KindText || value == profile.KindBool
	case form.KindCheckbox:
		return value == profile.KindBool
	case form.KindFile:
		return value == profile.KindFile
	default:
		return false
	}
}

// resolve shapes v for field. ok is false when the value cannot be expressed
// in the field, for example a select without a close enough option.
func resolve(field form.FieldDescriptor, v profile.Value, optionThreshold float64) (m FieldMapping, ok bool) {
	m = FieldMapping{Field: field, Transform: TransformNone}

	switch field.Kind {
	case form.KindText:
		switch v.Kind {
		case profile.KindList:
			m.Value, m.Transform = v.String(), TransformJoinList
		case profile.KindDate:
			if layout := textDateLayout(field.Placeholder); layout != "" && v.HasDate() {
				m.Value, m.Transform, m.Layout = v.Date.Format(layout), TransformDateFormat, layout
			} else {
				m.Value = v.Text
			}
		default:
			m.Value = v.Text
		}
		if max := field.Constraints.MaxLength; max > 0 {
			if r := []rune(m.Value); len(r) > max {
				m.Value, m.Transform = strings.TrimSpace(string(r[:max])), TransformTruncate
			}
		}
	case form.KindDate:
		if !v.HasDate() {
			return m, false
		}
		m.Layout = "2006-01-02"
		if field.InputType == "month" {
			m.Layout = "2006-01"
		}
		m.Value, m.Transform = v.Date.Format(m.Layout), TransformDateFormat
	case form.KindSelect:
		opt, score := bestOption(field.Constraints.Options, v)
		if score < optionThreshold {
			return m, false
		}
		m.Value, m.Transform = opt.Value, TransformOptionResolve
	case form.KindCheckbox:
		m.Value, m.Transform = strconv.FormatBool(v.Bool), TransformCheckboxBool
	case form.KindFile:
		m.Value, m.Transform = v.Text, TransformFilePath
	default:
		return m, false
	}

	return m, m.Value != "" || field.Kind == form.KindCheckbox
}

var (
	yesWords = []string{"yes", "true", "y", "i am", "i do", "agree"}
	noWords  = []string{"no", "false", "n", "i am not", "i do not", "disagree"}
)

// bestOption picks the option closest to the value by label or value text.
func bestOption(options []form.Option, v profile.Value) (form.Option, float64) {
	targets := []string{v.Text}
	if v.Kind == profile.KindBool {
		targets = noWords
		if v.Bool {
			targets = yesWords
		}
	}

	var best form.Option
	bestScore := 0.0
	for _, opt := range options {
		for _, target := range targets {
			for _, text := range []string{opt.Label, opt.Value} {
				s := optionSimilarity(text, target)
				if s > bestScore {
					best, bestScore = opt, s
				}
			}
		}
	}
	return best, bestScore
}

func optionSimilarity(option, target string) float64 {
	o, t := normalize(option), normalize(target)
	if o == "" || t == "" {
		return 0
	}
	if o == t {
		return 1
	}
	return similarity(option, target)
}

func textDateLayout(placeholder string) string {
	p := strings.ToLower(strings.ReplaceAll(placeholder, " ", ""))
	switch {
	case strings.Contains(p, "mm/dd/yyyy"):
		return "01/02/2006"
	case strings.Contains(p, "mm/yyyy"):
		return "01/2006"
	case strings.Contains(p, "yyyy-mm-dd"):
		return "2006-01-02"
	case strings.Contains(p, "yyyy-mm"):
		return "2006-01"
	default:
		return ""
	}
}

// Manual builds a mapping from a value typed by the reviewer. Edited mappings
// carry full confidence and are never re-checked against the threshold.
func Manual(field form.FieldDescriptor, input string) (FieldMapping, error) {
	input = strings.TrimSpace(input)
	m := FieldMapping{
		Field:      field,
		Attribute:  EditedAttribute,
		Confidence: 1,
		Transform:  TransformNone,
		Value:      input,
		Edited:     true,
	}

	switch field.Kind {
	case form.KindText, form.KindDate:
	case form.KindFile:
		m.Transform = TransformFilePath
	case form.KindCheckbox:
		checked, err := parseYesNo(input)
		if err != nil {
			return FieldMapping{}, fmt.Errorf("field %s: %w", field.DisplayLabel(), err)
		}
		m.Value, m.Transform = strconv.FormatBool(checked), TransformCheckboxBool
	case form.KindSelect:
		opt, score := bestOption(field.Constraints.Options, profile.TextValue(input))
		if score < 1 {
			return FieldMapping{}, fmt.Errorf("field %s: %q is not one of the options", field.DisplayLabel(), input)
		}
		m.Value, m.Transform = opt.Value, TransformOptionResolve
	default:
		return FieldMapping{}, fmt.Errorf("field %s: kind %s cannot be filled", field.DisplayLabel(), field.Kind)
	}

	if m.Value == "" {
		return FieldMapping{}, fmt.Errorf("field %s: empty value", field.DisplayLabel())
	}
	return m, nil
}

func parseYesNo(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "y", "yes", "true", "1", "on", "checked":
		return true, nil
	case "n", "no", "false", "0", "off", "unchecked":
		return false, nil
	}
	return false, fmt.Errorf("%q is not yes or no", s)
}
