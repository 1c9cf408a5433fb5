// Package matching proposes which profile attribute fills which form field.
package matching

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/autoapply/internal/form"
	"github.com/spigell/autoapply/internal/logger"
	"github.com/spigell/autoapply/internal/profile"
)

// ErrModelUnavailable is returned when the scoring model fails. There is no
// safe default mapping, so the attempt must stop.
var ErrModelUnavailable = errors.New("matching model unavailable")

// Scorer is the matching model: the relevance of each candidate attribute
// name to a field label, in [0,1]. Implementations are stateless per call.
type Scorer interface {
	Score(ctx context.Context, label string, candidates []string) (map[string]float64, error)
}

// Options tune the matcher.
type Options struct {
	MinimumConfidence float64 `mapstructure:"minimum-confidence"`
	LexicalWeight     float64 `mapstructure:"lexical-weight"`
	ModelWeight       float64 `mapstructure:"model-weight"`
	OptionThreshold   float64 `mapstructure:"option-threshold"`
}

// DefaultOptions favour leaving a field unmapped over a wrong mapping.
func DefaultOptions() Options {
	return Options{
		MinimumConfidence: 0.75,
		LexicalWeight:     0.5,
		ModelWeight:       0.5,
		OptionThreshold:   0.5,
	}
}

type Matcher struct {
	scorer Scorer
	opts   Options
	logger *zap.Logger
}

// New returns a matcher. A nil scorer falls back to LexicalScorer.
func New(scorer Scorer, opts Options, log *zap.Logger) *Matcher {
	if scorer == nil {
		scorer = LexicalScorer{}
	}
	if opts.LexicalWeight+opts.ModelWeight <= 0 {
		opts.LexicalWeight, opts.ModelWeight = 1, 0
	}
	return &Matcher{
		scorer: scorer,
		opts:   opts,
		logger: logger.WithFields(log),
	}
}

type candidate struct {
	path    profile.Path
	display string
	value   profile.Value
}

type pair struct {
	field     int
	candidate int
	score     float64
	mapping   FieldMapping
}

// Match builds a proposal for the discovered fields.
func (m *Matcher) Match(ctx context.Context, store profile.Store, fields []form.FieldDescriptor) (Proposal, error) {
	candidates := collectCandidates(store)
	proposal := Proposal{Threshold: m.opts.MinimumConfidence}

	var pairs []pair
	best := make(map[int]pair, len(fields))
	unresolved := make(map[int]bool)

	for fi, field := range fields {
		if !field.Actionable() || field.Kind == form.KindUnknown {
			continue
		}

		eligible := make([]int, 0, len(candidates))
		names := make([]string, 0, len(candidates))
		for ci, c := range candidates {
			if !indexFits(field, c.path) || !compatible(field.Kind, c.value.Kind) {
				continue
			}
			eligible = append(eligible, ci)
			names = append(names, c.display)
		}
		if len(eligible) == 0 {
			continue
		}

		label := field.DisplayLabel()
		model, err := m.modelScores(ctx, field, label, names)
		if err != nil {
			return Proposal{}, err
		}

		for _, ci := range eligible {
			c := candidates[ci]
			score := m.combine(field, label, c.display, model[c.display])
			mapping, ok := resolve(field, c.value, m.opts.OptionThreshold)
			if !ok {
				unresolved[fi] = true
				continue
			}
			mapping.Attribute = c.path.String()
			mapping.Confidence = score

			p := pair{field: fi, candidate: ci, score: score, mapping: mapping}
			if b, seen := best[fi]; !seen || score > b.score {
				best[fi] = p
			}
			if score >= m.opts.MinimumConfidence {
				pairs = append(pairs, p)
			}
		}
	}

	sort.SliceStable(pairs, func(i, j int) bool {
		a, b := pairs[i], pairs[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.field != b.field {
			return a.field < b.field
		}
		return a.mapping.Attribute < b.mapping.Attribute
	})

	assigned := make(map[int]FieldMapping, len(fields))
	consumed := make(map[string]bool)
	for _, p := range pairs {
		if _, done := assigned[p.field]; done {
			continue
		}
		attr := p.mapping.Attribute
		if consumed[attr] && !fields[p.field].Repeated {
			continue
		}
		consumed[attr] = true
		assigned[p.field] = p.mapping
	}

	for fi, field := range fields {
		if mapping, ok := assigned[fi]; ok {
			proposal.Mappings = append(proposal.Mappings, mapping)
			m.logger.Debug("field mapped",
				zap.String(logger.FieldFieldID, field.ID),
				zap.String("attribute", mapping.Attribute),
				zap.Float64("confidence", mapping.Confidence),
				zap.String("transform", string(mapping.Transform)),
			)
			continue
		}
		if !field.Actionable() {
			continue
		}

		manual := ManualField{Field: field, Reason: ReasonNoCandidate}
		switch b, seen := best[fi]; {
		case field.Kind == form.KindUnknown:
			manual.Reason = ReasonUnsupportedKind
		case seen:
			manual.Reason = ReasonLowConfidence
			manual.BestAttribute, manual.BestScore = b.mapping.Attribute, b.score
		case unresolved[fi] && field.Kind == form.KindSelect:
			manual.Reason = ReasonOptionUnresolved
		}

		if field.IsRequired() {
			proposal.Manual = append(proposal.Manual, manual)
			m.logger.Debug("required field needs manual input",
				zap.String(logger.FieldFieldID, field.ID),
				zap.String("reason", string(manual.Reason)),
			)
		} else {
			proposal.Unmapped = append(proposal.Unmapped, field)
		}
	}

	if err := proposal.Validate(fields); err != nil {
		return Proposal{}, fmt.Errorf("inconsistent proposal: %w", err)
	}

	return proposal, nil
}

func (m *Matcher) modelScores(ctx context.Context, field form.FieldDescriptor, label string, names []string) (map[string]float64, error) {
	if m.opts.ModelWeight <= 0 {
		return nil, nil
	}
	scores, err := m.scorer.Score(ctx, label, uniq(names))
	if err != nil {
		return nil, fmt.Errorf("%w: field %s: %w", ErrModelUnavailable, field.ID, err)
	}
	return scores, nil
}

func (m *Matcher) combine(field form.FieldDescriptor, label, display string, model float64) float64 {
	lex := lexicalScore(label, display)
	if field.Section != "" {
		lex = math.Max(lex, lexicalScore(field.Section+" "+label, display))
	}
	if field.Placeholder != "" && field.Placeholder != label {
		lex = math.Max(lex, lexicalScore(field.Placeholder, display))
	}
	lex = clamp(lex + typeBoost(field.InputType, display))

	total := m.opts.LexicalWeight + m.opts.ModelWeight
	return clamp((m.opts.LexicalWeight*lex + m.opts.ModelWeight*clamp(model)) / total)
}

// collectCandidates lists matchable paths: scalars, whole lists, list items
// and record sub-fields.
func collectCandidates(store profile.Store) []candidate {
	var out []candidate
	for _, raw := range store.List() {
		path, err := profile.ParsePath(raw)
		if err != nil {
			continue
		}
		v, ok := store.Get(raw)
		if !ok || v.Kind == profile.KindRecords {
			continue
		}
		display := path.Name
		if path.Field != "" {
			display = path.Name + "." + path.Field
		}
		out = append(out, candidate{path: path, display: display, value: v})
	}
	return out
}

// indexFits aligns indexed paths with repeated fields: the n-th repeated row
// takes the n-th entry, a single field takes whole values or the latest entry.
func indexFits(field form.FieldDescriptor, path profile.Path) bool {
	if field.Repeated {
		return path.Index == field.RepeatIndex
	}
	return path.Index < 0 || (path.Index == 0 && path.Field != "")
}

func uniq(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}

func clamp(f float64) float64 {
	switch {
	case math.IsNaN(f) || f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}

// Describe renders a one-line summary of a proposal for logs.
func Describe(p Proposal) string {
	parts := make([]string, 0, len(p.Mappings))
	for _, m := range p.Mappings {
		parts = append(parts, fmt.Sprintf("%s=%s(%.2f)", m.Field.DisplayLabel(), m.Attribute, m.Confidence))
	}
	return strings.Join(parts, ", ")
}
