// Package gemini implements the field matching model on top of Gemini.
package gemini

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/spigell/autoapply/internal/logger"
	"github.com/spigell/autoapply/internal/utils"
)

type contentGenerator interface {
	GenerateContent(ctx context.Context, prompt string) (string, error)
	Model() string
}

//go:embed prompt.md
var promptTemplate string

const defaultMaxLogLength = 200

// Scorer rates candidate attribute names against a field label.
type Scorer struct {
	generator contentGenerator
	limiter   *rate.Limiter
	logger    *zap.Logger
	maxLogLen int
}

// NewScorer paces calls at requestsPerSecond; zero or less disables pacing.
func NewScorer(generator contentGenerator, log *zap.Logger, requestsPerSecond float64, maxLogLength int) *Scorer {
	if maxLogLength <= 0 {
		maxLogLength = defaultMaxLogLength
	}

	limit := rate.Inf
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
	}

	return &Scorer{
		generator: generator,
		limiter:   rate.NewLimiter(limit, 1),
		logger:    logger.WithFields(log, logger.ModelFields("gemini", generator.Model())...),
		maxLogLen: maxLogLength,
	}
}

// Score implements the matching model contract.
func (s *Scorer) Score(ctx context.Context, label string, candidates []string) (map[string]float64, error) {
	if len(candidates) == 0 {
		return map[string]float64{}, nil
	}
	if strings.TrimSpace(label) == "" {
		return nil, errors.New("field label is required")
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("wait for rate limiter: %w", err)
	}

	prompt := buildPrompt(label, candidates)

	s.logger.Debug("gemini score request",
		zap.String("label", label),
		zap.Int("candidates", len(candidates)),
		zap.Int("prompt_length", utf8.RuneCountInString(prompt)),
		zap.String("prompt_preview", utils.TruncateForLog(prompt, s.maxLogLen)),
	)

	raw, err := s.generator.GenerateContent(ctx, prompt)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("gemini score response",
		zap.String("label", label),
		zap.Int("response_length", utf8.RuneCountInString(raw)),
		zap.String("response_preview", utils.TruncateForLog(raw, s.maxLogLen)),
	)

	return parseScores(raw, candidates)
}

func buildPrompt(label string, candidates []string) string {
	var list strings.Builder
	for _, c := range candidates {
		list.WriteString("- ")
		list.WriteString(c)
		list.WriteString("\n")
	}

	template := promptTemplate
	if strings.TrimSpace(template) == "" {
		template = "Label: {{LABEL}}\nCandidates:\n{{CANDIDATES}}\nJSON Response:"
	}
	prompt := strings.ReplaceAll(template, "{{LABEL}}", strings.ReplaceAll(label, `"`, `'`))
	return strings.ReplaceAll(prompt, "{{CANDIDATES}}", strings.TrimRight(list.String(), "\n"))
}

// parseScores accepts {"scores": {...}} or a bare object. Unknown names are
// dropped, missing ones score zero, values are clamped to [0,1].
func parseScores(raw string, candidates []string) (map[string]float64, error) {
	cleaned := extractJSON(raw)

	var data map[string]any
	if err := json.Unmarshal([]byte(cleaned), &data); err != nil {
		return nil, fmt.Errorf("parse gemini response: %w", err)
	}

	if nested, ok := data["scores"].(map[string]any); ok {
		data = nested
	}

	out := make(map[string]float64, len(candidates))
	for _, c := range candidates {
		score := coerceFloat(data[c])
		switch {
		case math.IsNaN(score) || score < 0:
			score = 0
		case score > 1:
			score = 1
		}
		out[c] = score
	}
	return out, nil
}

func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimSpace(raw)
		if idx := strings.LastIndex(raw, "```"); idx != -1 {
			raw = raw[:idx]
		}
	}
	raw = strings.Trim(raw, "`")
	return strings.TrimSpace(raw)
}

func coerceFloat(v any) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case int:
		return float64(val)
	case string:
		trimmed := strings.TrimSpace(val)
		if trimmed == "" {
			return math.NaN()
		}
		f, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return math.NaN()
		}
		return f
	default:
		return math.NaN()
	}
}
