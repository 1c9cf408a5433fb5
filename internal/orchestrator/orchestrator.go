// Package orchestrator drives one application attempt through every step of
// a multi-page form: discover, match, review, fill, confirm, submit.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/autoapply/internal/attempt"
	"github.com/spigell/autoapply/internal/browser"
	"github.com/spigell/autoapply/internal/fill"
	"github.com/spigell/autoapply/internal/form"
	"github.com/spigell/autoapply/internal/logger"
	"github.com/spigell/autoapply/internal/matching"
	"github.com/spigell/autoapply/internal/profile"
	"github.com/spigell/autoapply/internal/utils"
	"github.com/spigell/autoapply/internal/verification"
)

var (
	ErrNotAdvanced      = errors.New("form did not advance after submit")
	ErrTooManySteps     = errors.New("form has more steps than allowed")
	ErrAlreadyCompleted = errors.New("attempt already completed")
)

var wait = utils.WaitFor

// Launcher acquires one browser page per attempt.
type Launcher interface {
	Open(ctx context.Context) (browser.Page, error)
}

type Options struct {
	MaxSteps            int           `mapstructure:"max-steps"`
	DiscoveryRetries    int           `mapstructure:"discovery-retries"`
	DiscoveryRetryDelay time.Duration `mapstructure:"discovery-retry-delay"`
	MaxParallel         int           `mapstructure:"max-parallel"`
}

// Deps are the collaborators of an orchestrator. The profile is shared
// read-only between concurrent attempts.
type Deps struct {
	Profile  *profile.Profile
	Launcher Launcher
	Matcher  *matching.Matcher
	Driver   *fill.Driver
	Gate     *verification.Gate
	Store    attempt.Store
	Policy   verification.Policy
	Logger   *zap.Logger
}

type Orchestrator struct {
	deps   Deps
	opts   Options
	logger *zap.Logger
}

func New(deps Deps, opts Options) (*Orchestrator, error) {
	switch {
	case deps.Profile == nil:
		return nil, errors.New("orchestrator: profile is required")
	case deps.Launcher == nil:
		return nil, errors.New("orchestrator: launcher is required")
	case deps.Matcher == nil, deps.Driver == nil, deps.Gate == nil:
		return nil, errors.New("orchestrator: matcher, fill driver and gate are required")
	case deps.Store == nil:
		return nil, errors.New("orchestrator: attempt store is required")
	}
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = 10
	}
	if opts.DiscoveryRetries < 0 {
		opts.DiscoveryRetries = 0
	}
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = 1
	}
	return &Orchestrator{deps: deps, opts: opts, logger: logger.WithFields(deps.Logger)}, nil
}

// Start creates a new attempt for jobURL and runs it to a terminal status.
// The returned error is set only when the attempt failed.
func (o *Orchestrator) Start(ctx context.Context, jobURL, resumePath string) (*attempt.Attempt, error) {
	a := attempt.New(jobURL, resumePath)
	if err := o.save(ctx, a); err != nil {
		return a, err
	}
	return a, o.run(ctx, a)
}

// Resume reloads a persisted attempt and continues at its first step that
// was not completed.
func (o *Orchestrator) Resume(ctx context.Context, id string) (*attempt.Attempt, error) {
	a, err := o.deps.Store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status == attempt.Completed {
		return a, fmt.Errorf("%w: %s", ErrAlreadyCompleted, a.ID)
	}
	a.Reopen()
	o.logger.Info("resuming attempt",
		append(logger.AttemptFields(a.ID, a.JobURL), zap.Int("completed_steps", a.CompletedSteps()))...)
	if err := o.save(ctx, a); err != nil {
		return a, err
	}
	return a, o.run(ctx, a)
}

func (o *Orchestrator) run(ctx context.Context, a *attempt.Attempt) error {
	log := logger.ForAttempt(o.logger, a.ID, a.JobURL)

	prof := o.deps.Profile
	if a.ResumePath != "" {
		prof = prof.With(profile.AttrResumeFile, profile.FileValue(a.ResumePath))
	}

	page, err := o.deps.Launcher.Open(ctx)
	if err != nil {
		return o.fail(ctx, a, log, fmt.Errorf("open browser: %w", err))
	}
	defer func() {
		if cerr := page.Close(); cerr != nil {
			log.Warn("closing page failed", zap.Error(cerr))
		}
	}()

	if err := page.Navigate(ctx, a.ResumeURL()); err != nil {
		return o.fail(ctx, a, log, fmt.Errorf("navigate to %s: %w", a.ResumeURL(), err))
	}

	previous := ""
	if n := a.CompletedSteps(); n > 0 {
		previous = a.Steps[n-1].Signature
	}

	for index := a.CompletedSteps(); ; index++ {
		done, sig, err := o.step(ctx, a, page, prof, index, previous, log)
		if err != nil {
			if ctx.Err() != nil {
				return o.abandon(ctx, a, log, "cancelled")
			}
			return o.fail(ctx, a, log, err)
		}
		if done != "" {
			if done == attempt.Completed {
				a.Finish(attempt.Completed, nil)
				log.Info("attempt completed", zap.Int("steps", a.CompletedSteps()))
				return o.save(ctx, a)
			}
			return o.abandon(ctx, a, log, "step not submitted")
		}
		previous = sig
	}
}

// step runs one form page. A non-empty status ends the attempt.
func (o *Orchestrator) step(ctx context.Context, a *attempt.Attempt, page browser.Page, prof profile.Store, index int, previous string, log *zap.Logger) (attempt.Status, string, error) {
	fields, pageURL, err := o.discover(ctx, page)
	if err != nil {
		return "", "", err
	}
	if len(fields) == 0 {
		if index > 0 {
			// Nothing left to fill after a submit: confirmation page.
			return attempt.Completed, "", nil
		}
		return "", "", fmt.Errorf("%w at %s", form.ErrDiscoveryEmpty, pageURL)
	}
	if index >= o.opts.MaxSteps {
		return "", "", fmt.Errorf("%w: %d", ErrTooManySteps, o.opts.MaxSteps)
	}

	sig := form.Signature(pageURL, fields)
	if previous != "" && sig == previous {
		return "", "", fmt.Errorf("%w: step %d at %s", ErrNotAdvanced, index, pageURL)
	}
	log = log.With(logger.StepFields(index, sig)...)
	log.Info("form step discovered", zap.Int("fields", len(fields)), zap.String("url", pageURL))

	rec := a.Begin(index, pageURL, sig)

	proposal, err := o.deps.Matcher.Match(ctx, prof, fields)
	if err != nil {
		return "", "", fmt.Errorf("match step %d: %w", index, err)
	}
	session := verification.NewSession(index, proposal, o.deps.Policy)
	rec.Session = session
	if err := o.save(ctx, a); err != nil {
		return "", "", err
	}
	log.Debug("mapping proposed", zap.String("proposal", utils.TruncateForLog(matching.Describe(proposal), 2000)))

	if err := o.deps.Gate.Review(ctx, session); err != nil {
		return "", "", err
	}
	if state := session.Current(); state != verification.Approved {
		log.Info("step not approved", zap.String("state", string(state)))
		return attempt.Abandoned, "", o.save(ctx, a)
	}
	if err := o.save(ctx, a); err != nil {
		return "", "", err
	}

	mappings, err := session.Mappings()
	if err != nil {
		return "", "", err
	}
	result, err := o.deps.Driver.Apply(ctx, page, mappings)
	if err != nil {
		return "", "", fmt.Errorf("fill step %d: %w", index, err)
	}
	if err := o.stayed(ctx, page, pageURL); err != nil {
		return "", "", err
	}
	if err := session.RecordFill(result); err != nil {
		return "", "", err
	}
	for _, f := range result.Failed {
		log.Warn("field not filled", zap.String(logger.FieldFieldID, f.FieldID), zap.String("reason", f.Reason))
	}
	if err := o.save(ctx, a); err != nil {
		return "", "", err
	}

	err = o.deps.Gate.Confirm(ctx, session, func(ctx context.Context) error {
		if err := page.Submit(ctx); err != nil {
			return err
		}
		return page.WaitStable(ctx)
	})
	if err != nil {
		return "", "", err
	}
	if state := session.Current(); state != verification.Submitted {
		log.Info("submission declined", zap.String("state", string(state)))
		return attempt.Abandoned, "", o.save(ctx, a)
	}

	next, err := page.URL(ctx)
	if err != nil {
		return "", "", fmt.Errorf("read url after submit: %w", err)
	}
	a.Complete(index, next)
	log.Info("step submitted", zap.String("next_url", next))
	return "", sig, o.save(ctx, a)
}

// discover snapshots the page, retrying while no actionable field shows up.
// All discovered fields are returned once one of them is actionable; a page
// without any yields nil.
func (o *Orchestrator) discover(ctx context.Context, page browser.Page) ([]form.FieldDescriptor, string, error) {
	for try := 0; ; try++ {
		f, err := form.Discover(ctx, page)
		if err != nil {
			return nil, "", fmt.Errorf("discover: %w", err)
		}
		pageURL, err := page.URL(ctx)
		if err != nil {
			return nil, "", fmt.Errorf("read url: %w", err)
		}

		var fields []form.FieldDescriptor
		for fd := range f.Fields() {
			fields = append(fields, fd)
		}
		if hasActionable(fields) || try >= o.opts.DiscoveryRetries {
			if !hasActionable(fields) {
				fields = nil
			}
			return fields, pageURL, nil
		}
		if err := wait(ctx, o.opts.DiscoveryRetryDelay); err != nil {
			return nil, "", err
		}
	}
}

func hasActionable(fields []form.FieldDescriptor) bool {
	for _, f := range fields {
		if f.Actionable() {
			return true
		}
	}
	return false
}

// stayed checks the page is still on the document that was filled.
func (o *Orchestrator) stayed(ctx context.Context, page browser.Page, want string) error {
	got, err := page.URL(ctx)
	if err != nil {
		return fmt.Errorf("read url after fill: %w", err)
	}
	if stripFragment(got) != stripFragment(want) {
		return fmt.Errorf("%w: page moved from %s to %s during fill", browser.ErrNavigationLost, want, got)
	}
	return nil
}

func stripFragment(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Fragment = ""
	return u.String()
}

func (o *Orchestrator) fail(ctx context.Context, a *attempt.Attempt, log *zap.Logger, cause error) error {
	log.Error("attempt failed", zap.Error(cause))
	a.Finish(attempt.Failed, cause)
	if err := o.save(context.WithoutCancel(ctx), a); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

func (o *Orchestrator) abandon(ctx context.Context, a *attempt.Attempt, log *zap.Logger, note string) error {
	log.Info("attempt abandoned", zap.String("reason", note))
	a.Finish(attempt.Abandoned, nil)
	return o.save(context.WithoutCancel(ctx), a)
}

func (o *Orchestrator) save(ctx context.Context, a *attempt.Attempt) error {
	if err := o.deps.Store.Save(ctx, a); err != nil {
		return fmt.Errorf("persist attempt %s: %w", a.ID, err)
	}
	return nil
}
