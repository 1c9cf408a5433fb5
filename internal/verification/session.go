// Package verification gates every write to a third-party site behind two
// explicit human approvals: one for the mapping, one for the final submit.
package verification

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spigell/autoapply/internal/fill"
	"github.com/spigell/autoapply/internal/form"
	"github.com/spigell/autoapply/internal/matching"
)

var (
	ErrInvalidTransition   = errors.New("invalid verification transition")
	ErrManualInputRequired = errors.New("required fields still need manual input")
	ErrUnfillable          = errors.New("required fields cannot be filled automatically")
)

var now = time.Now

type State string

const (
	Proposed    State = "proposed"
	UnderReview State = "under-review"
	Approved    State = "approved"
	Filled      State = "filled"
	Submitted   State = "submitted"
	Rejected    State = "rejected"
	TimedOut    State = "timed-out"
	Abandoned   State = "abandoned"
)

// Terminal reports whether no transition may leave the state.
func (s State) Terminal() bool {
	switch s {
	case Submitted, Rejected, TimedOut, Abandoned:
		return true
	default:
		return false
	}
}

// Policy controls how strict the gates are.
type Policy struct {
	Timeout           time.Duration `mapstructure:"timeout"`
	AllowAcceptedGaps bool          `mapstructure:"allow-accepted-gaps"`
}

// Transition is one entry of the session audit trail.
type Transition struct {
	From State     `json:"from"`
	To   State     `json:"to"`
	At   time.Time `json:"at"`
	Note string    `json:"note,omitempty"`
}

// Session is the review-to-submit lifecycle of one form step. A session is
// never reused: after a terminal state a new one is created.
type Session struct {
	mu sync.Mutex

	ID        string            `json:"id"`
	Step      int               `json:"step"`
	State     State             `json:"state"`
	Proposal  matching.Proposal `json:"proposal"`
	CreatedAt time.Time         `json:"created_at"`
	// Overrides are mappings typed in by the reviewer; they replace the
	// proposal entry for the same field.
	Overrides    []matching.FieldMapping `json:"overrides,omitempty"`
	AcceptedGaps []string                `json:"accepted_gaps,omitempty"`
	FillResult   *fill.Result            `json:"fill_result,omitempty"`
	// Problem explains why the last approval was refused.
	Problem string       `json:"problem,omitempty"`
	History []Transition `json:"history"`

	policy Policy
}

// NewSession starts a session in Proposed.
func NewSession(step int, proposal matching.Proposal, policy Policy) *Session {
	return &Session{
		ID:        uuid.NewString(),
		Step:      step,
		State:     Proposed,
		Proposal:  proposal,
		CreatedAt: now(),
		policy:    policy,
	}
}

// Current returns the state under the session lock.
func (s *Session) Current() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.State
}

func (s *Session) transition(to State, note string, from ...State) error {
	if s.State.Terminal() {
		return fmt.Errorf("%w: session %s is %s", ErrInvalidTransition, s.ID, s.State)
	}
	if len(from) > 0 && !slices.Contains(from, s.State) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.State, to)
	}
	s.History = append(s.History, Transition{From: s.State, To: to, At: now(), Note: note})
	s.State = to
	return nil
}

// Present marks the proposal as shown to the reviewer.
func (s *Session) Present() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transition(UnderReview, "", Proposed)
}

// Approve applies the reviewer's edits and approves the mapping. Every field
// flagged for manual input must get a value, unless the reviewer accepts the
// gaps and the policy allows it. Edited entries carry confidence 1.0 and are
// not checked against the threshold again.
func (s *Session) Approve(d Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State != UnderReview {
		return fmt.Errorf("%w: approve in %s", ErrInvalidTransition, s.State)
	}

	overrides := make([]matching.FieldMapping, 0, len(d.Edits))
	for _, f := range s.reviewable() {
		value, ok := d.Edits[f.ID]
		if !ok {
			continue
		}
		m, err := matching.Manual(f, value)
		if err != nil {
			s.Problem = err.Error()
			return fmt.Errorf("edit rejected: %w", err)
		}
		overrides = append(overrides, m)
	}

	var gaps, unfillable []string
	for _, m := range s.Proposal.Manual {
		if _, ok := d.Edits[m.Field.ID]; ok {
			continue
		}
		gaps = append(gaps, m.Field.ID)
		if m.Reason == matching.ReasonUnsupportedKind {
			unfillable = append(unfillable, m.Field.ID)
		}
	}
	if len(unfillable) > 0 && !s.policy.AllowAcceptedGaps {
		s.Problem = fmt.Sprintf("%d required field(s) of an unsupported kind and accepted gaps are off", len(unfillable))
		return fmt.Errorf("%w: %v", ErrUnfillable, unfillable)
	}
	if len(gaps) > 0 && !(d.AcceptGaps && s.policy.AllowAcceptedGaps) {
		s.Problem = fmt.Sprintf("%d required field(s) need a value", len(gaps))
		return fmt.Errorf("%w: %v", ErrManualInputRequired, gaps)
	}

	s.Overrides = overrides
	s.AcceptedGaps = gaps
	s.Problem = ""
	note := ""
	if len(gaps) > 0 {
		note = "gaps accepted"
	}
	return s.transition(Approved, note, UnderReview)
}

// reviewable lists every field the reviewer may edit.
func (s *Session) reviewable() []form.FieldDescriptor {
	fields := make([]form.FieldDescriptor, 0, len(s.Proposal.Mappings)+len(s.Proposal.Manual)+len(s.Proposal.Unmapped))
	for _, m := range s.Proposal.Mappings {
		fields = append(fields, m.Field)
	}
	for _, m := range s.Proposal.Manual {
		fields = append(fields, m.Field)
	}
	return append(fields, s.Proposal.Unmapped...)
}

// Reject ends the session without filling.
func (s *Session) Reject(note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transition(Rejected, note, UnderReview)
}

// TimeOut ends the session because no decision arrived in time.
func (s *Session) TimeOut() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transition(TimedOut, "no decision before timeout")
}

// Abandon ends the session from any non-terminal state.
func (s *Session) Abandon(note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transition(Abandoned, note)
}

// Mappings returns the approved mappings in field order, with overrides
// applied. It is only valid once the mapping is approved.
func (s *Session) Mappings() ([]matching.FieldMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.State {
	case Approved, Filled, Submitted:
	default:
		return nil, fmt.Errorf("%w: mappings requested in %s", ErrInvalidTransition, s.State)
	}

	byID := make(map[string]matching.FieldMapping, len(s.Proposal.Mappings)+len(s.Overrides))
	for _, m := range s.Proposal.Mappings {
		byID[m.Field.ID] = m
	}
	for _, m := range s.Overrides {
		byID[m.Field.ID] = m
	}

	out := make([]matching.FieldMapping, 0, len(byID))
	for _, m := range byID {
		out = append(out, m)
	}
	slices.SortFunc(out, func(a, b matching.FieldMapping) int {
		return a.Field.Order - b.Field.Order
	})
	return out, nil
}

// RecordFill stores the driver result. Partial failures do not block the
// move to Filled; they are shown at the second gate.
func (s *Session) RecordFill(result fill.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	note := ""
	if !result.OK() {
		note = fmt.Sprintf("%d field(s) failed", len(result.Failed))
	}
	if err := s.transition(Filled, note, Approved); err != nil {
		return err
	}
	s.FillResult = &result
	return nil
}

// ConfirmSubmit applies the second human decision. Only an approval moves
// the session to Submitted, and submit runs only after that transition.
func (s *Session) ConfirmSubmit(ctx context.Context, d Decision, submit func(context.Context) error) error {
	s.mu.Lock()
	if s.State != Filled {
		state := s.State
		s.mu.Unlock()
		return fmt.Errorf("%w: confirm in %s", ErrInvalidTransition, state)
	}

	var err error
	switch d.Action {
	case ActionApprove:
		err = s.transition(Submitted, "", Filled)
	default:
		err = s.transition(Abandoned, "submission declined", Filled)
	}
	state := s.State
	s.mu.Unlock()

	if err != nil || state != Submitted {
		return err
	}
	if err := submit(ctx); err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	return nil
}
