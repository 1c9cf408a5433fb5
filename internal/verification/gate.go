package verification

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/autoapply/internal/logger"
	"github.com/spigell/autoapply/internal/utils"
)

type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
	ActionAbandon Action = "abandon"
)

// Decision is a reviewer answer. Edits map field ids to values typed by the
// reviewer; AcceptGaps approves despite unfilled required fields.
type Decision struct {
	Action     Action
	Edits      map[string]string
	AcceptGaps bool
}

func Approve() Decision { return Decision{Action: ActionApprove} }
func Reject() Decision  { return Decision{Action: ActionReject} }

// Reviewer is the human on the other side of the gates.
type Reviewer interface {
	ReviewProposal(ctx context.Context, s *Session) (Decision, error)
	ReviewFill(ctx context.Context, s *Session) (Decision, error)
}

// Gate waits for reviewer decisions with a timeout. The wait ends on a
// decision, on timeout (default deny) or on cancellation (abandon).
//
// There is one reviewer behind a gate, so gates of concurrent attempts take
// turns. The deadline of a gate starts once its turn begins, and a turn ends
// only when the last reviewer call of the previous one has returned.
type Gate struct {
	reviewer Reviewer
	timeout  time.Duration
	logger   *zap.Logger
	turn     chan struct{}
}

func NewGate(reviewer Reviewer, timeout time.Duration, log *zap.Logger) *Gate {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Gate{
		reviewer: reviewer,
		timeout:  timeout,
		logger:   logger.WithFields(log),
		turn:     make(chan struct{}, 1),
	}
}

// maxRefusals bounds how often a refused approval is asked again.
const maxRefusals = 5

// refusalDelay is the base pause before asking again after a refusal.
var refusalDelay = 100 * time.Millisecond

type outcome struct {
	decision Decision
	err      error
}

var errTimedOut = errors.New("review timed out")

// review is one gate pass: the reviewer turn, the deadline and the calls
// still running in the background.
type review struct {
	gate     *Gate
	deadline *time.Timer
	calls    sync.WaitGroup
}

// begin waits for the reviewer turn and arms the deadline.
func (g *Gate) begin(ctx context.Context) (*review, error) {
	select {
	case g.turn <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &review{gate: g, deadline: time.NewTimer(g.timeout)}, nil
}

// end hands the turn on once every reviewer call has returned. A timed out
// prompt keeps the turn until it is answered.
func (r *review) end() {
	r.deadline.Stop()
	go func() {
		r.calls.Wait()
		<-r.gate.turn
	}()
}

// await runs one review call under the deadline.
func (r *review) await(ctx context.Context, call func(context.Context) (Decision, error)) (Decision, error) {
	rctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan outcome, 1)
	r.calls.Add(1)
	go func() {
		defer r.calls.Done()
		d, err := call(rctx)
		done <- outcome{decision: d, err: err}
	}()

	select {
	case out := <-done:
		return out.decision, out.err
	case <-r.deadline.C:
		return Decision{}, errTimedOut
	case <-ctx.Done():
		return Decision{}, ctx.Err()
	}
}

// pause waits d before the next call, still bound by the deadline.
func (r *review) pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-r.deadline.C:
		return errTimedOut
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Review runs the first gate. On return the session is Approved or terminal.
// A refused approval (missing manual input, invalid edit) is asked again
// after a growing pause, until the same deadline and at most maxRefusals
// times. A required field no action can fill abandons at once unless the
// policy accepts gaps.
func (g *Gate) Review(ctx context.Context, s *Session) error {
	if err := s.Present(); err != nil {
		return err
	}

	r, err := g.begin(ctx)
	if err != nil {
		_, err = g.settle(ctx, s, err)
		return err
	}
	defer r.end()

	for refusals := 0; ; {
		d, err := r.await(ctx, func(rctx context.Context) (Decision, error) {
			return g.reviewer.ReviewProposal(rctx, s)
		})
		if done, err := g.settle(ctx, s, err); done {
			return err
		}

		switch d.Action {
		case ActionApprove:
			err := s.Approve(d)
			if err == nil {
				g.logger.Info("mapping approved", zap.String("session_id", s.ID), zap.Int("overrides", len(s.Overrides)))
				return nil
			}
			if errors.Is(err, ErrUnfillable) {
				g.logger.Warn("approval impossible", zap.String("session_id", s.ID), zap.Error(err))
				return s.Abandon("required field of an unsupported kind")
			}
			refusals++
			g.logger.Warn("approval refused", zap.String("session_id", s.ID), zap.Int("refusals", refusals), zap.Error(err))
			if refusals >= maxRefusals {
				return s.Abandon(fmt.Sprintf("approval refused %d times", refusals))
			}
			if done, err := g.settle(ctx, s, r.pause(ctx, utils.Backoff(refusalDelay, refusals, 2*time.Second))); done {
				return err
			}
		case ActionReject:
			g.logger.Info("mapping rejected", zap.String("session_id", s.ID))
			return s.Reject("rejected by reviewer")
		default:
			g.logger.Info("attempt abandoned at review", zap.String("session_id", s.ID))
			return s.Abandon("abandoned by reviewer")
		}
	}
}

// Confirm runs the second gate and, on approval, submit.
func (g *Gate) Confirm(ctx context.Context, s *Session, submit func(context.Context) error) error {
	r, err := g.begin(ctx)
	if err != nil {
		_, err = g.settle(ctx, s, err)
		return err
	}
	defer r.end()

	d, err := r.await(ctx, func(rctx context.Context) (Decision, error) {
		return g.reviewer.ReviewFill(rctx, s)
	})
	if done, err := g.settle(ctx, s, err); done {
		return err
	}

	if err := s.ConfirmSubmit(ctx, d, submit); err != nil {
		return err
	}
	g.logger.Info("submission decision", zap.String("session_id", s.ID), zap.String("state", string(s.Current())))
	return nil
}

// settle ends the session for timeouts, cancellation and reviewer failures.
func (g *Gate) settle(ctx context.Context, s *Session, err error) (bool, error) {
	switch {
	case err == nil:
		return false, nil
	case errors.Is(err, errTimedOut):
		g.logger.Warn("review timed out", zap.String("session_id", s.ID), zap.Duration("timeout", g.timeout))
		return true, s.TimeOut()
	case ctx.Err() != nil:
		if aerr := s.Abandon("cancelled"); aerr != nil {
			return true, aerr
		}
		return true, ctx.Err()
	default:
		if aerr := s.Abandon("reviewer failed"); aerr != nil {
			return true, aerr
		}
		return true, fmt.Errorf("review: %w", err)
	}
}
