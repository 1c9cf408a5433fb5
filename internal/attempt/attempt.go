// Package attempt models one job application across all of its form steps.
package attempt

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/spigell/autoapply/internal/verification"
)

// ErrNotFound is returned by stores for unknown attempt ids.
var ErrNotFound = errors.New("attempt not found")

type Status string

const (
	InProgress Status = "in-progress"
	Completed  Status = "completed"
	Failed     Status = "failed"
	Abandoned  Status = "abandoned"
)

// Terminal reports whether the attempt is finished.
func (s Status) Terminal() bool {
	return s == Completed || s == Failed || s == Abandoned
}

// StepRecord is one form page of the attempt.
type StepRecord struct {
	Index     int                   `json:"index"`
	URL       string                `json:"url"`
	Signature string                `json:"signature"`
	Completed bool                  `json:"completed"`
	Session   *verification.Session `json:"session,omitempty"`
	StartedAt time.Time             `json:"started_at"`
	EndedAt   time.Time             `json:"ended_at,omitzero"`
}

// Attempt is persisted at every step boundary so a crash resumes at the
// first step that was not completed.
type Attempt struct {
	ID         string       `json:"id"`
	JobURL     string       `json:"job_url"`
	ResumePath string       `json:"resume_path,omitempty"`
	Status     Status       `json:"status"`
	Steps      []StepRecord `json:"steps"`
	// Location is the page to return to when resuming.
	Location  string    `json:"location"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

var now = time.Now

// New starts an attempt for a job posting.
func New(jobURL, resumePath string) *Attempt {
	ts := now().UTC()
	return &Attempt{
		ID:         uuid.NewString(),
		JobURL:     jobURL,
		ResumePath: resumePath,
		Status:     InProgress,
		Location:   jobURL,
		CreatedAt:  ts,
		UpdatedAt:  ts,
	}
}

// CompletedSteps counts the leading completed steps.
func (a *Attempt) CompletedSteps() int {
	n := 0
	for _, s := range a.Steps {
		if !s.Completed {
			break
		}
		n++
	}
	return n
}

// ResumeURL is where a resumed attempt navigates first.
func (a *Attempt) ResumeURL() string {
	if a.Location != "" {
		return a.Location
	}
	return a.JobURL
}

// Begin opens or reopens the record for step index. Records after an
// unfinished step are dropped.
func (a *Attempt) Begin(index int, url, signature string) *StepRecord {
	if index < len(a.Steps) {
		a.Steps = a.Steps[:index]
	}
	a.Steps = append(a.Steps, StepRecord{
		Index:     index,
		URL:       url,
		Signature: signature,
		StartedAt: now().UTC(),
	})
	a.touch()
	return &a.Steps[index]
}

// Complete marks step index done; next is the URL of the following page.
func (a *Attempt) Complete(index int, next string) {
	if index >= len(a.Steps) {
		return
	}
	a.Steps[index].Completed = true
	a.Steps[index].EndedAt = now().UTC()
	a.Location = next
	a.touch()
}

// Finish moves the attempt to a terminal status.
func (a *Attempt) Finish(status Status, err error) {
	a.Status = status
	if err != nil {
		a.Error = err.Error()
	}
	if n := len(a.Steps); n > 0 && a.Steps[n-1].EndedAt.IsZero() {
		a.Steps[n-1].EndedAt = now().UTC()
	}
	a.touch()
}

// Reopen prepares a failed or interrupted attempt for another run.
func (a *Attempt) Reopen() {
	a.Status = InProgress
	a.Error = ""
	a.touch()
}

func (a *Attempt) touch() {
	a.UpdatedAt = now().UTC()
}

// Store persists attempts. Saves happen only at step boundaries.
type Store interface {
	Save(ctx context.Context, a *Attempt) error
	Load(ctx context.Context, id string) (*Attempt, error)
	List(ctx context.Context) ([]*Attempt, error)
}
