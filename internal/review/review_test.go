package review

import (
	"bytes"
	"context"
	"testing"

	"github.com/manifoldco/promptui"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spigell/autoapply/internal/fill"
	"github.com/spigell/autoapply/internal/form"
	"github.com/spigell/autoapply/internal/matching"
	"github.com/spigell/autoapply/internal/verification"
)

type scriptedSelector struct {
	choices []string
	err     error
	labels  []string
}

func (s *scriptedSelector) Select(label string, items []string) (string, error) {
	s.labels = append(s.labels, label)
	if s.err != nil {
		return "", s.err
	}
	choice := s.choices[0]
	s.choices = s.choices[1:]
	for _, item := range items {
		if item == choice {
			return choice, nil
		}
	}
	return "", promptui.ErrAbort
}

type scriptedPrompter struct {
	answers  []string
	defaults []string
}

func (p *scriptedPrompter) Prompt(_ string, current string) (string, error) {
	p.defaults = append(p.defaults, current)
	a := p.answers[0]
	p.answers = p.answers[1:]
	return a, nil
}

func session() *verification.Session {
	email := form.FieldDescriptor{ID: "#email", Label: "Email", Kind: form.KindText, Visible: true, Enabled: true}
	portfolio := form.FieldDescriptor{ID: "#portfolio", Label: "Portfolio URL", Kind: form.KindText, Visible: true, Enabled: true,
		Constraints: form.Constraints{Required: true}}
	return verification.NewSession(0, matching.Proposal{
		Threshold: 0.75,
		Mappings:  []matching.FieldMapping{{Field: email, Attribute: "email", Value: "a@b.com", Confidence: 0.9}},
		Manual:    []matching.ManualField{{Field: portfolio, Reason: matching.ReasonLowConfidence}},
	}, verification.Policy{})
}

func newTerminal(sel selector, in prompter) (*Terminal, *bytes.Buffer) {
	out := &bytes.Buffer{}
	return &Terminal{sel: sel, in: in, out: out}, out
}

func TestReviewProposalWithEdit(t *testing.T) {
	sel := &scriptedSelector{choices: []string{PromptEdit, "Portfolio URL (#portfolio)", PromptApprove}}
	in := &scriptedPrompter{answers: []string{"https://ada.dev"}}
	term, out := newTerminal(sel, in)

	d, err := term.ReviewProposal(context.Background(), session())
	require.NoError(t, err)

	assert.Equal(t, verification.ActionApprove, d.Action)
	assert.Equal(t, map[string]string{"#portfolio": "https://ada.dev"}, d.Edits)
	assert.Equal(t, []string{""}, in.defaults)
	assert.Contains(t, out.String(), "<needs input>")
	assert.Contains(t, out.String(), "https://ada.dev")
}

func TestReviewProposalEditDefaultsToProposedValue(t *testing.T) {
	sel := &scriptedSelector{choices: []string{PromptEdit, "Email (#email)", PromptAcceptGaps}}
	in := &scriptedPrompter{answers: []string{"ada@example.com"}}
	term, _ := newTerminal(sel, in)

	d, err := term.ReviewProposal(context.Background(), session())
	require.NoError(t, err)
	assert.True(t, d.AcceptGaps)
	assert.Equal(t, []string{"a@b.com"}, in.defaults)
}

func TestReviewProposalReject(t *testing.T) {
	term, _ := newTerminal(&scriptedSelector{choices: []string{PromptReject}}, nil)

	d, err := term.ReviewProposal(context.Background(), session())
	require.NoError(t, err)
	assert.Equal(t, verification.ActionReject, d.Action)
}

func TestInterruptAbandons(t *testing.T) {
	term, _ := newTerminal(&scriptedSelector{err: promptui.ErrInterrupt}, nil)

	d, err := term.ReviewProposal(context.Background(), session())
	require.NoError(t, err)
	assert.Equal(t, verification.ActionAbandon, d.Action)
}

func TestReviewFillShowsFailures(t *testing.T) {
	s := session()
	require.NoError(t, s.Present())
	require.NoError(t, s.Approve(verification.Decision{Action: verification.ActionApprove, Edits: map[string]string{"#portfolio": "https://ada.dev"}}))
	require.NoError(t, s.RecordFill(fill.Result{
		Succeeded: []string{"#portfolio"},
		Failed:    []fill.Failure{{FieldID: "#email", Label: "Email", Reason: "node is detached", Attempts: 3}},
	}))

	term, out := newTerminal(&scriptedSelector{choices: []string{PromptSubmit}}, nil)
	d, err := term.ReviewFill(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, verification.ActionApprove, d.Action)
	assert.Contains(t, out.String(), "node is detached")

	term, _ = newTerminal(&scriptedSelector{choices: []string{PromptNoSubmit}}, nil)
	d, err = term.ReviewFill(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, verification.ActionAbandon, d.Action)
}

func TestCancelledContextSkipsPrompt(t *testing.T) {
	sel := &scriptedSelector{}
	term, _ := newTerminal(sel, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := term.ReviewProposal(ctx, session())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, sel.labels)
}

type cancellingSelector struct {
	cancel context.CancelFunc
	choice string
}

func (s *cancellingSelector) Select(string, []string) (string, error) {
	s.cancel()
	return s.choice, nil
}

func TestLateAnswerIsIgnored(t *testing.T) {
	for _, tt := range []struct {
		name   string
		choice string
		review func(*Terminal, context.Context, *verification.Session) (verification.Decision, error)
	}{
		{name: "proposal", choice: PromptApprove, review: (*Terminal).ReviewProposal},
		{name: "fill", choice: PromptSubmit, review: (*Terminal).ReviewFill},
	} {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			term, out := newTerminal(&cancellingSelector{cancel: cancel, choice: tt.choice}, &scriptedPrompter{})

			d, err := tt.review(term, ctx, session())
			assert.ErrorIs(t, err, context.Canceled)
			assert.Empty(t, d.Action)
			assert.Contains(t, out.String(), "answer was ignored")
		})
	}
}

func TestUnsupportedFieldIsNotEditable(t *testing.T) {
	gender := form.FieldDescriptor{ID: "#gender", Label: "Gender", Kind: form.KindUnknown, Visible: true, Enabled: true,
		Constraints: form.Constraints{Required: true}}
	s := verification.NewSession(0, matching.Proposal{
		Threshold: 0.75,
		Manual:    []matching.ManualField{{Field: gender, Reason: matching.ReasonUnsupportedKind}},
	}, verification.Policy{AllowAcceptedGaps: true})

	fields, _ := editable(s)
	assert.Empty(t, fields)

	term, out := newTerminal(&scriptedSelector{choices: []string{PromptAcceptGaps}}, nil)
	d, err := term.ReviewProposal(context.Background(), s)
	require.NoError(t, err)
	assert.True(t, d.AcceptGaps)
	assert.Contains(t, out.String(), "fill in the browser")
}
