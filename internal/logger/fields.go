package logger

import (
	"strings"

	"go.uber.org/zap"
)

const (
	FieldAttemptID     = "attempt_id"
	FieldJobURL        = "job_url"
	FieldStep          = "step_index"
	FieldPageSignature = "page_signature"
	FieldFieldID       = "field_id"
	FieldProvider      = "ai_provider"
	FieldModel         = "ai_model"
)

// StringField describes a string-valued structured logging field.
type StringField struct {
	Key   string
	Value string
}

// StringFields converts the provided key/value pairs into zap fields, trimming
// whitespace and omitting entries with empty keys or values.
func StringFields(fields ...StringField) []zap.Field {
	result := make([]zap.Field, 0, len(fields))
	for _, field := range fields {
		key := strings.TrimSpace(field.Key)
		if key == "" {
			continue
		}

		value := strings.TrimSpace(field.Value)
		if value == "" {
			continue
		}

		result = append(result, zap.String(key, value))
	}

	return result
}

// WithFields attaches fields to the logger, falling back to a no-op logger
// when nil.
func WithFields(logger *zap.Logger, fields ...zap.Field) *zap.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}

	if len(fields) == 0 {
		return logger
	}

	return logger.With(fields...)
}

// AttemptFields describes one application attempt.
func AttemptFields(attemptID, jobURL string) []zap.Field {
	return StringFields(
		StringField{Key: FieldAttemptID, Value: attemptID},
		StringField{Key: FieldJobURL, Value: jobURL},
	)
}

// StepFields describes one page of a multi-step form.
func StepFields(step int, signature string) []zap.Field {
	fields := []zap.Field{zap.Int(FieldStep, step)}
	return append(fields, StringFields(StringField{Key: FieldPageSignature, Value: signature})...)
}

// ModelFields describes the scoring model in use.
func ModelFields(provider, model string) []zap.Field {
	return StringFields(
		StringField{Key: FieldProvider, Value: provider},
		StringField{Key: FieldModel, Value: model},
	)
}

// ForAttempt returns a logger scoped to one attempt.
func ForAttempt(logger *zap.Logger, attemptID, jobURL string) *zap.Logger {
	return WithFields(logger, AttemptFields(attemptID, jobURL)...)
}
