package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/spigell/autoapply/internal/attempt"
)

// Job is one posting to apply to.
type Job struct {
	URL        string
	ResumePath string
}

// RunAll runs one attempt per job, at most MaxParallel at a time. A failed
// attempt does not stop the others; all failures are joined.
func (o *Orchestrator) RunAll(ctx context.Context, jobs []Job) ([]*attempt.Attempt, error) {
	results := make([]*attempt.Attempt, len(jobs))
	errs := make([]error, len(jobs))

	var g errgroup.Group
	g.SetLimit(o.opts.MaxParallel)
	for i, job := range jobs {
		g.Go(func() error {
			a, err := o.Start(ctx, job.URL, job.ResumePath)
			results[i] = a
			if err != nil {
				errs[i] = fmt.Errorf("%s: %w", job.URL, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	return results, errors.Join(errs...)
}
