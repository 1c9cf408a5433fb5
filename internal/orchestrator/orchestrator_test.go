package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spigell/autoapply/internal/attempt"
	"github.com/spigell/autoapply/internal/browser"
	"github.com/spigell/autoapply/internal/browser/browsertest"
	"github.com/spigell/autoapply/internal/fill"
	"github.com/spigell/autoapply/internal/form"
	"github.com/spigell/autoapply/internal/matching"
	"github.com/spigell/autoapply/internal/profile"
	"github.com/spigell/autoapply/internal/verification"
)

const (
	applyURL = "https://jobs.example.com/apply"
	step2URL = "https://jobs.example.com/apply?step=2"
	doneURL  = "https://jobs.example.com/apply/done"
)

const contactStep = `<html><body><form>
<label for="email">Email</label><input id="email" type="email" name="email" required>
<label for="name">Full name</label><input id="name" name="name" required>
<button type="submit">Next</button>
</form></body></html>`

const documentsStep = `<html><body><form>
<label for="phone">Phone</label><input id="phone" type="tel" name="phone" required>
<label for="cv">Resume</label><input id="cv" type="file" name="cv" required>
<button type="submit">Send</button>
</form></body></html>`

const thanksStep = `<html><body><h1>Thank you for applying</h1></body></html>`

type answer func(ctx context.Context, s *verification.Session) (verification.Decision, error)

func approve(context.Context, *verification.Session) (verification.Decision, error) {
	return verification.Approve(), nil
}

func block(ctx context.Context, _ *verification.Session) (verification.Decision, error) {
	<-ctx.Done()
	return verification.Decision{}, ctx.Err()
}

type reviewer struct {
	mu        sync.Mutex
	onPropose answer
	onFill    answer
	proposals []int
	fills     int
}

func (r *reviewer) ReviewProposal(ctx context.Context, s *verification.Session) (verification.Decision, error) {
	r.mu.Lock()
	r.proposals = append(r.proposals, s.Step)
	next := r.onPropose
	r.mu.Unlock()
	if next == nil {
		next = approve
	}
	return next(ctx, s)
}

func (r *reviewer) ReviewFill(ctx context.Context, s *verification.Session) (verification.Decision, error) {
	r.mu.Lock()
	r.fills++
	next := r.onFill
	r.mu.Unlock()
	if next == nil {
		next = approve
	}
	return next(ctx, s)
}

type fixture struct {
	orch     *Orchestrator
	store    *attempt.MemoryStore
	launcher *browsertest.Launcher
	reviewer *reviewer
	resume   string
}

type setup struct {
	timeout time.Duration
	scorer  matching.Scorer
	opts    Options
}

func newFixture(t *testing.T, s setup, pages ...*browsertest.Page) *fixture {
	t.Helper()

	original := wait
	wait = func(context.Context, time.Duration) error { return nil }
	t.Cleanup(func() { wait = original })

	resume := filepath.Join(t.TempDir(), "cv.pdf")
	require.NoError(t, os.WriteFile(resume, []byte("%PDF-1.7"), 0o600))

	if s.timeout == 0 {
		s.timeout = time.Second
	}
	mopts := matching.DefaultOptions()
	if s.scorer == nil {
		mopts.LexicalWeight, mopts.ModelWeight = 1, 0
	}

	rev := &reviewer{}
	f := &fixture{
		store:    attempt.NewMemoryStore(),
		launcher: &browsertest.Launcher{Pages: pages},
		reviewer: rev,
		resume:   resume,
	}
	orch, err := New(Deps{
		Profile: profile.New(map[string]profile.Value{
			profile.AttrFullName: profile.TextValue("Ada Lovelace"),
			profile.AttrEmail:    profile.TextValue("a@b.com"),
			profile.AttrPhone:    profile.TextValue("+44 20 1234"),
		}),
		Launcher: f.launcher,
		Matcher:  matching.New(s.scorer, mopts, nil),
		Driver:   fill.New(fill.Options{MaxAttempts: 2}, nil),
		Gate:     verification.NewGate(rev, s.timeout, nil),
		Store:    f.store,
		Policy:   verification.Policy{AllowAcceptedGaps: true},
	}, s.opts)
	require.NoError(t, err)
	f.orch = orch
	return f
}

func threeSteps(extra ...browsertest.Step) *browsertest.Page {
	steps := []browsertest.Step{
		{URL: applyURL, HTML: contactStep},
		{URL: step2URL, HTML: documentsStep},
		{URL: doneURL, HTML: thanksStep},
	}
	return browsertest.NewPage(append(steps, extra...)...)
}

func TestStartSubmitsEveryStep(t *testing.T) {
	page := threeSteps()
	f := newFixture(t, setup{}, page)

	a, err := f.orch.Start(context.Background(), applyURL, f.resume)
	require.NoError(t, err)

	assert.Equal(t, attempt.Completed, a.Status)
	assert.Equal(t, 2, a.CompletedSteps())
	assert.Equal(t, 2, page.Submissions)
	assert.True(t, page.Closed)
	assert.Equal(t, []int{0, 1}, f.reviewer.proposals)
	assert.Equal(t, 2, f.reviewer.fills)

	for _, step := range a.Steps {
		require.NotNil(t, step.Session)
		assert.Equal(t, verification.Submitted, step.Session.State)
	}
	assert.Equal(t, doneURL, a.Location)

	stored, err := f.store.Load(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, attempt.Completed, stored.Status)
	assert.NotEqual(t, stored.Steps[0].Signature, stored.Steps[1].Signature)
}

func TestStartFillsApprovedValues(t *testing.T) {
	page := threeSteps()
	f := newFixture(t, setup{}, page)

	var emailAtConfirm, cvAtConfirm string
	f.reviewer.onFill = func(_ context.Context, s *verification.Session) (verification.Decision, error) {
		if s.Step == 0 {
			emailAtConfirm = page.Value("#email")
		} else {
			cvAtConfirm = page.Value("#cv")
		}
		return verification.Approve(), nil
	}

	_, err := f.orch.Start(context.Background(), applyURL, f.resume)
	require.NoError(t, err)
	assert.Equal(t, "a@b.com", emailAtConfirm)
	assert.Equal(t, `C:\fakepath\cv.pdf`, cvAtConfirm)
}

func TestRejectedMappingNeverFills(t *testing.T) {
	page := threeSteps()
	f := newFixture(t, setup{}, page)
	f.reviewer.onPropose = func(context.Context, *verification.Session) (verification.Decision, error) {
		return verification.Reject(), nil
	}

	a, err := f.orch.Start(context.Background(), applyURL, f.resume)
	require.NoError(t, err)

	assert.Equal(t, attempt.Abandoned, a.Status)
	assert.Equal(t, verification.Rejected, a.Steps[0].Session.State)
	assert.Equal(t, []string{"navigate " + applyURL}, page.Actions)
	assert.Zero(t, f.reviewer.fills)
	assert.True(t, page.Closed)
}

func TestReviewTimeoutDefaultsToDeny(t *testing.T) {
	page := threeSteps()
	f := newFixture(t, setup{timeout: 20 * time.Millisecond}, page)
	f.reviewer.onPropose = block

	a, err := f.orch.Start(context.Background(), applyURL, f.resume)
	require.NoError(t, err)

	assert.Equal(t, attempt.Abandoned, a.Status)
	assert.Equal(t, verification.TimedOut, a.Steps[0].Session.State)
	assert.Equal(t, []string{"navigate " + applyURL}, page.Actions)
	assert.Zero(t, page.Submissions)
	assert.True(t, page.Closed)
}

func TestDeclinedSubmissionIsNotSent(t *testing.T) {
	page := threeSteps()
	f := newFixture(t, setup{}, page)
	f.reviewer.onFill = func(context.Context, *verification.Session) (verification.Decision, error) {
		return verification.Decision{Action: verification.ActionAbandon}, nil
	}

	a, err := f.orch.Start(context.Background(), applyURL, f.resume)
	require.NoError(t, err)

	assert.Equal(t, attempt.Abandoned, a.Status)
	assert.Equal(t, verification.Abandoned, a.Steps[0].Session.State)
	assert.Zero(t, page.Submissions)
	assert.Equal(t, "a@b.com", page.Value("#email"))
}

func TestCancelDuringReviewAbandons(t *testing.T) {
	page := threeSteps()
	f := newFixture(t, setup{timeout: time.Minute}, page)

	ctx, cancel := context.WithCancel(context.Background())
	f.reviewer.onPropose = func(rctx context.Context, s *verification.Session) (verification.Decision, error) {
		cancel()
		return block(rctx, s)
	}

	a, err := f.orch.Start(ctx, applyURL, f.resume)
	require.NoError(t, err)
	assert.Equal(t, attempt.Abandoned, a.Status)
	assert.Equal(t, verification.Abandoned, a.Steps[0].Session.State)
	assert.True(t, page.Closed)

	stored, err := f.store.Load(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, attempt.Abandoned, stored.Status)
}

func TestNavigationLossFailsAndResumesAtNextStep(t *testing.T) {
	first := threeSteps()
	first.LoseOn = "#phone"
	second := threeSteps()
	f := newFixture(t, setup{}, first, second)

	a, err := f.orch.Start(context.Background(), applyURL, f.resume)
	require.ErrorIs(t, err, browser.ErrNavigationLost)
	assert.Equal(t, attempt.Failed, a.Status)
	assert.Equal(t, 1, a.CompletedSteps())
	assert.Equal(t, step2URL, a.Location)
	assert.True(t, first.Closed)

	f.reviewer.proposals = nil
	resumed, err := f.orch.Resume(context.Background(), a.ID)
	require.NoError(t, err)

	assert.Equal(t, attempt.Completed, resumed.Status)
	assert.Equal(t, "navigate "+step2URL, second.Actions[0])
	assert.Equal(t, []int{1}, f.reviewer.proposals)
	assert.Equal(t, 1, second.Submissions)
	assert.Equal(t, 2, resumed.CompletedSteps())
}

func TestRedirectDuringFillIsNavigationLoss(t *testing.T) {
	page := threeSteps()
	page.RedirectOn["#name"] = "https://evil.example.com/"
	f := newFixture(t, setup{}, page)

	a, err := f.orch.Start(context.Background(), applyURL, f.resume)
	require.ErrorIs(t, err, browser.ErrNavigationLost)
	assert.Equal(t, attempt.Failed, a.Status)
	assert.Zero(t, f.reviewer.fills)
	assert.Zero(t, page.Submissions)
}

func TestStepThatDoesNotAdvanceFails(t *testing.T) {
	page := browsertest.NewPage(
		browsertest.Step{URL: applyURL, HTML: contactStep},
		browsertest.Step{URL: applyURL, HTML: contactStep},
	)
	f := newFixture(t, setup{}, page)

	a, err := f.orch.Start(context.Background(), applyURL, f.resume)
	require.ErrorIs(t, err, ErrNotAdvanced)
	assert.Equal(t, attempt.Failed, a.Status)
	assert.Equal(t, 1, page.Submissions)
}

func TestEmptyFirstPageFails(t *testing.T) {
	page := browsertest.NewPage(browsertest.Step{URL: applyURL, HTML: thanksStep})
	f := newFixture(t, setup{opts: Options{DiscoveryRetries: 2}}, page)

	waits := 0
	wait = func(context.Context, time.Duration) error {
		waits++
		return nil
	}

	a, err := f.orch.Start(context.Background(), applyURL, f.resume)
	require.ErrorIs(t, err, form.ErrDiscoveryEmpty)
	assert.Equal(t, attempt.Failed, a.Status)
	assert.Equal(t, 2, waits)
	assert.Empty(t, f.reviewer.proposals)
}

type downScorer struct{}

func (downScorer) Score(context.Context, string, []string) (map[string]float64, error) {
	return nil, errors.New("503 service unavailable")
}

func TestModelUnavailableFailsAttempt(t *testing.T) {
	page := threeSteps()
	f := newFixture(t, setup{scorer: downScorer{}}, page)

	a, err := f.orch.Start(context.Background(), applyURL, f.resume)
	require.ErrorIs(t, err, matching.ErrModelUnavailable)
	assert.Equal(t, attempt.Failed, a.Status)
	assert.Empty(t, f.reviewer.proposals)
	assert.True(t, page.Closed)
}

func TestMaxStepsBoundsTheLoop(t *testing.T) {
	page := threeSteps()
	f := newFixture(t, setup{opts: Options{MaxSteps: 1}}, page)

	a, err := f.orch.Start(context.Background(), applyURL, f.resume)
	require.ErrorIs(t, err, ErrTooManySteps)
	assert.Equal(t, attempt.Failed, a.Status)
	assert.Equal(t, 1, a.CompletedSteps())
}

func TestResumeRefusesCompletedAndUnknown(t *testing.T) {
	f := newFixture(t, setup{}, threeSteps())

	a, err := f.orch.Start(context.Background(), applyURL, f.resume)
	require.NoError(t, err)

	_, err = f.orch.Resume(context.Background(), a.ID)
	assert.ErrorIs(t, err, ErrAlreadyCompleted)

	_, err = f.orch.Resume(context.Background(), "missing")
	assert.ErrorIs(t, err, attempt.ErrNotFound)
}

func TestRunAllKeepsAttemptsIndependent(t *testing.T) {
	// Pages are handed out in start order, so both can serve either job.
	other := browsertest.Step{URL: "https://other.example.com/", HTML: thanksStep}
	f := newFixture(t, setup{opts: Options{MaxParallel: 2}}, threeSteps(other), threeSteps(other))

	results, err := f.orch.RunAll(context.Background(), []Job{
		{URL: applyURL, ResumePath: f.resume},
		{URL: "https://other.example.com/", ResumePath: f.resume},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, form.ErrDiscoveryEmpty)
	require.Len(t, results, 2)

	byURL := map[string]*attempt.Attempt{}
	for _, a := range results {
		require.NotNil(t, a)
		byURL[a.JobURL] = a
	}
	assert.Equal(t, attempt.Failed, byURL["https://other.example.com/"].Status)
	assert.Equal(t, attempt.Completed, byURL[applyURL].Status)

	all, err := f.store.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestRunAllAcceptsGapForMissingResume(t *testing.T) {
	f := newFixture(t, setup{}, threeSteps())
	f.reviewer.onPropose = func(_ context.Context, _ *verification.Session) (verification.Decision, error) {
		return verification.Decision{Action: verification.ActionApprove, AcceptGaps: true}, nil
	}

	results, err := f.orch.RunAll(context.Background(), []Job{{URL: applyURL}})
	require.NoError(t, err)
	require.Len(t, results, 1)

	a := results[0]
	assert.Equal(t, attempt.Completed, a.Status)
	require.Len(t, a.Steps, 2)
	require.NotNil(t, a.Steps[1].Session)
	assert.Contains(t, a.Steps[1].Session.AcceptedGaps, "#cv")
	assert.Equal(t, verification.Submitted, a.Steps[1].Session.State)
}

func TestFailedFieldIsShownAtConfirmation(t *testing.T) {
	page := threeSteps()
	page.Broken["#name"] = true
	f := newFixture(t, setup{}, page)

	var failed []string
	f.reviewer.onFill = func(_ context.Context, s *verification.Session) (verification.Decision, error) {
		if s.Step == 0 {
			require.NotNil(t, s.FillResult)
			for _, fl := range s.FillResult.Failed {
				failed = append(failed, fl.FieldID)
			}
		}
		return verification.Approve(), nil
	}

	a, err := f.orch.Start(context.Background(), applyURL, f.resume)
	require.NoError(t, err)

	assert.Equal(t, []string{"#name"}, failed)
	assert.Equal(t, attempt.Completed, a.Status)
	assert.Equal(t, verification.Submitted, a.Steps[0].Session.State)
	require.NotNil(t, a.Steps[0].Session.FillResult)
	assert.Equal(t, 2, a.Steps[0].Session.FillResult.Failed[0].Attempts)
	assert.Equal(t, 2, page.Submissions)
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Deps{}, Options{})
	assert.Error(t, err)
}
