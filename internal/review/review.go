// Package review asks the human at the terminal to approve mappings and
// submissions.
package review

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"text/tabwriter"

	"github.com/manifoldco/promptui"

	"github.com/spigell/autoapply/internal/form"
	"github.com/spigell/autoapply/internal/matching"
	"github.com/spigell/autoapply/internal/verification"
)

const (
	PromptApprove    = "Approve mapping"
	PromptEdit       = "Edit a field"
	PromptAcceptGaps = "Approve and leave manual fields empty"
	PromptReject     = "Reject mapping"
	PromptAbandon    = "Abandon attempt"
	PromptSubmit     = "Submit application"
	PromptNoSubmit   = "Do not submit"
	PromptBack       = "back"
)

type selector interface {
	Select(label string, items []string) (string, error)
}

type prompter interface {
	Prompt(label, current string) (string, error)
}

type promptuiSelector struct{}

func (promptuiSelector) Select(label string, items []string) (string, error) {
	p := promptui.Select{Label: label, Items: items, Size: 10}
	_, item, err := p.Run()
	return item, err
}

type promptuiPrompter struct{}

func (promptuiPrompter) Prompt(label, current string) (string, error) {
	p := promptui.Prompt{Label: label, Default: current, AllowEdit: true}
	return p.Run()
}

// Terminal is a verification.Reviewer on stdin/stdout. Reviews from
// concurrent attempts are serialized.
type Terminal struct {
	mu  sync.Mutex
	sel selector
	in  prompter
	out io.Writer
}

func NewTerminal() *Terminal {
	return &Terminal{sel: promptuiSelector{}, in: promptuiPrompter{}, out: os.Stdout}
}

var _ verification.Reviewer = (*Terminal)(nil)

// ReviewProposal shows the proposal and collects edits until the reviewer
// decides.
func (t *Terminal) ReviewProposal(ctx context.Context, s *verification.Session) (verification.Decision, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	edits := make(map[string]string)
	for {
		if err := ctx.Err(); err != nil {
			return verification.Decision{}, err
		}

		t.printProposal(s, edits)

		items := []string{PromptApprove, PromptEdit}
		if len(s.Proposal.Manual) > 0 {
			items = append(items, PromptAcceptGaps)
		}
		items = append(items, PromptReject, PromptAbandon)

		choice, err := t.sel.Select(fmt.Sprintf("Step %d: proceed?", s.Step+1), items)
		if err := t.stale(ctx); err != nil {
			return verification.Decision{}, err
		}
		if err != nil {
			return interrupted(err)
		}

		switch choice {
		case PromptApprove:
			return verification.Decision{Action: verification.ActionApprove, Edits: edits}, nil
		case PromptAcceptGaps:
			return verification.Decision{Action: verification.ActionApprove, Edits: edits, AcceptGaps: true}, nil
		case PromptReject:
			return verification.Reject(), nil
		case PromptAbandon:
			return verification.Decision{Action: verification.ActionAbandon}, nil
		case PromptEdit:
			if err := t.edit(s, edits); err != nil {
				return interrupted(err)
			}
		default:
			return verification.Decision{}, fmt.Errorf("invalid action: %s", choice)
		}
	}
}

func (t *Terminal) edit(s *verification.Session, edits map[string]string) error {
	fields, current := editable(s)
	items := make([]string, 0, len(fields)+1)
	for _, f := range fields {
		items = append(items, fmt.Sprintf("%s (%s)", f.DisplayLabel(), f.ID))
	}
	items = append(items, PromptBack)

	choice, err := t.sel.Select("Choose a field and press ENTER", items)
	if err != nil || choice == PromptBack {
		return err
	}

	for i, item := range items[:len(fields)] {
		if item != choice {
			continue
		}
		f := fields[i]
		value := current[f.ID]
		if v, ok := edits[f.ID]; ok {
			value = v
		}
		typed, err := t.in.Prompt(f.DisplayLabel(), value)
		if err != nil {
			return err
		}
		edits[f.ID] = typed
		return nil
	}
	return nil
}

func editable(s *verification.Session) ([]form.FieldDescriptor, map[string]string) {
	var fields []form.FieldDescriptor
	current := make(map[string]string)
	for _, m := range s.Proposal.Mappings {
		fields = append(fields, m.Field)
		current[m.Field.ID] = m.Value
	}
	for _, m := range s.Proposal.Manual {
		if m.Field.Kind != form.KindUnknown {
			fields = append(fields, m.Field)
		}
	}
	for _, f := range s.Proposal.Unmapped {
		if f.Kind != form.KindUnknown {
			fields = append(fields, f)
		}
	}
	return fields, current
}

// ReviewFill shows the fill result and asks for the final go-ahead.
func (t *Terminal) ReviewFill(ctx context.Context, s *verification.Session) (verification.Decision, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return verification.Decision{}, err
	}

	t.printFill(s)

	choice, err := t.sel.Select("Submit this step?", []string{PromptSubmit, PromptNoSubmit})
	if err := t.stale(ctx); err != nil {
		return verification.Decision{}, err
	}
	if err != nil {
		return interrupted(err)
	}
	if choice == PromptSubmit {
		return verification.Approve(), nil
	}
	return verification.Decision{Action: verification.ActionAbandon}, nil
}

func (t *Terminal) printProposal(s *verification.Session, edits map[string]string) {
	w := tabwriter.NewWriter(t.out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "\nStep %d mapping (threshold %.2f)\n", s.Step+1, s.Proposal.Threshold)
	fmt.Fprintln(w, "FIELD\tATTRIBUTE\tVALUE\tCONFIDENCE")
	for _, m := range s.Proposal.Mappings {
		value, conf := m.Value, fmt.Sprintf("%.2f", m.Confidence)
		if v, ok := edits[m.Field.ID]; ok {
			value, conf = v, "edited"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", m.Field.DisplayLabel(), m.Attribute, value, conf)
	}
	for _, m := range s.Proposal.Manual {
		value := "<needs input>"
		if m.Reason == matching.ReasonUnsupportedKind {
			value = "<fill in the browser, then accept gaps>"
		}
		if v, ok := edits[m.Field.ID]; ok {
			value = v
		}
		fmt.Fprintf(w, "%s *\t-\t%s\t%s\n", m.Field.DisplayLabel(), value, m.Reason)
	}
	for _, f := range s.Proposal.Unmapped {
		if v, ok := edits[f.ID]; ok {
			fmt.Fprintf(w, "%s\t-\t%s\tedited\n", f.DisplayLabel(), v)
		}
	}
	if s.Problem != "" {
		fmt.Fprintf(w, "\n! %s\n", s.Problem)
	}
	w.Flush()
}

func (t *Terminal) printFill(s *verification.Session) {
	w := tabwriter.NewWriter(t.out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "\nStep %d filled\n", s.Step+1)
	if s.FillResult != nil {
		fmt.Fprintf(w, "filled fields:\t%d\n", len(s.FillResult.Succeeded))
		if len(s.FillResult.Failed) > 0 {
			fmt.Fprintln(w, "FAILED FIELD\tREASON\tATTEMPTS")
			for _, f := range s.FillResult.Failed {
				fmt.Fprintf(w, "%s\t%s\t%d\n", f.Label, f.Reason, f.Attempts)
			}
		}
	}
	for _, id := range s.AcceptedGaps {
		fmt.Fprintf(w, "left empty:\t%s\n", id)
	}
	w.Flush()
}

// stale tells the human when an answer arrived after the review ended.
func (t *Terminal) stale(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		fmt.Fprintf(t.out, "\n! this review already ended (%v); the answer was ignored\n", context.Cause(ctx))
		return err
	}
	return nil
}

// interrupted turns Ctrl-C or a closed stdin into an abandon decision.
func interrupted(err error) (verification.Decision, error) {
	if errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrEOF) || errors.Is(err, promptui.ErrAbort) {
		return verification.Decision{Action: verification.ActionAbandon}, nil
	}
	return verification.Decision{}, err
}
