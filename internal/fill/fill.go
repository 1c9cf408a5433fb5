// Package fill types approved mappings into a live page.
package fill

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/autoapply/internal/browser"
	"github.com/spigell/autoapply/internal/form"
	"github.com/spigell/autoapply/internal/logger"
	"github.com/spigell/autoapply/internal/matching"
	"github.com/spigell/autoapply/internal/utils"
)

var (
	errMismatch    = errors.New("value did not stick")
	errUnsupported = errors.New("unsupported field kind")
	errMissingFile = errors.New("file not found")

	wait = utils.WaitFor
)

const maxBackoff = 5 * time.Second

// Options bound the per-field retries.
type Options struct {
	MaxAttempts int           `mapstructure:"max-attempts"`
	Backoff     time.Duration `mapstructure:"backoff"`
}

// Failure is a field that could not be filled.
type Failure struct {
	FieldID  string `json:"field_id"`
	Label    string `json:"label"`
	Reason   string `json:"reason"`
	Attempts int    `json:"attempts"`
}

// Result lists what was filled and what was not.
type Result struct {
	Succeeded []string  `json:"succeeded"`
	Failed    []Failure `json:"failed,omitempty"`
}

// OK reports whether every field was filled.
func (r Result) OK() bool { return len(r.Failed) == 0 }

type Driver struct {
	opts   Options
	logger *zap.Logger
}

func New(opts Options, log *zap.Logger) *Driver {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	return &Driver{opts: opts, logger: logger.WithFields(log)}
}

// Apply fills mappings in order and verifies each value by reading it back.
// Field failures land in the result; the returned error is reserved for a
// lost page or a cancelled context. The form is never submitted here.
func (d *Driver) Apply(ctx context.Context, page browser.Page, mappings []matching.FieldMapping) (Result, error) {
	var result Result

	for _, m := range mappings {
		log := d.logger.With(zap.String(logger.FieldFieldID, m.Field.ID))

		attempts, err := d.applyWithRetry(ctx, page, m)
		if err == nil {
			result.Succeeded = append(result.Succeeded, m.Field.ID)
			log.Debug("field filled", zap.Int("attempts", attempts))
			continue
		}

		if errors.Is(err, browser.ErrNavigationLost) || ctx.Err() != nil {
			return result, err
		}

		log.Warn("field fill failed", zap.Int("attempts", attempts), zap.Error(err))
		result.Failed = append(result.Failed, Failure{
			FieldID:  m.Field.ID,
			Label:    m.Field.DisplayLabel(),
			Reason:   err.Error(),
			Attempts: attempts,
		})
	}

	return result, nil
}

func (d *Driver) applyWithRetry(ctx context.Context, page browser.Page, m matching.FieldMapping) (int, error) {
	var err error
	attempt := 1
	for ; ; attempt++ {
		err = apply(ctx, page, m)
		if err == nil || !retryable(err) || attempt >= d.opts.MaxAttempts {
			break
		}
		if werr := wait(ctx, utils.Backoff(d.opts.Backoff, attempt, maxBackoff)); werr != nil {
			return attempt, werr
		}
	}
	return attempt, err
}

func retryable(err error) bool {
	return errors.Is(err, browser.ErrTransient) || errors.Is(err, errMismatch)
}

func apply(ctx context.Context, page browser.Page, m matching.FieldMapping) error {
	sel := m.Field.ID

	switch m.Field.Kind {
	case form.KindText:
		if err := page.SetText(ctx, sel, m.Value); err != nil {
			return err
		}
		return readBack(ctx, page, sel, func(got string) bool { return sameText(got, m.Value) })
	case form.KindSelect, form.KindDate:
		if err := page.SetValue(ctx, sel, m.Value); err != nil {
			return err
		}
		return readBack(ctx, page, sel, func(got string) bool { return got == m.Value })
	case form.KindCheckbox:
		want := m.Checked()
		if err := page.SetChecked(ctx, sel, want); err != nil {
			return err
		}
		got, err := page.ReadChecked(ctx, sel)
		if err != nil {
			return err
		}
		if got != want {
			return fmt.Errorf("%w: checkbox is %t, want %t", errMismatch, got, want)
		}
		return nil
	case form.KindFile:
		if _, err := os.Stat(m.Value); err != nil {
			return fmt.Errorf("%w: %s", errMissingFile, m.Value)
		}
		if err := page.AttachFiles(ctx, sel, []string{m.Value}); err != nil {
			return err
		}
		base := filepath.Base(m.Value)
		return readBack(ctx, page, sel, func(got string) bool { return strings.HasSuffix(got, base) })
	default:
		return fmt.Errorf("%w: %s", errUnsupported, m.Field.Kind)
	}
}

func readBack(ctx context.Context, page browser.Page, sel string, ok func(string) bool) error {
	got, err := page.ReadValue(ctx, sel)
	if err != nil {
		return err
	}
	if !ok(got) {
		return fmt.Errorf("%w: read back %q", errMismatch, utils.TruncateForLog(got, 40))
	}
	return nil
}

func sameText(a, b string) bool {
	return strings.Join(strings.Fields(a), " ") == strings.Join(strings.Fields(b), " ")
}
