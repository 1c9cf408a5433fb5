// Package browser owns the live page handle used for discovery and filling.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/chromedp/chromedp"
)

var (
	// ErrTransient marks DOM errors worth retrying: element detached, not yet
	// present or not interactable.
	ErrTransient = errors.New("transient page error")
	// ErrNavigationLost marks a closed page or context. The attempt cannot
	// continue on this page.
	ErrNavigationLost = errors.New("navigation lost")
)

// Page is one browser tab. It is not safe for concurrent use; an attempt
// drives its page from a single goroutine.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Snapshot(ctx context.Context) (string, error)
	URL(ctx context.Context) (string, error)

	SetText(ctx context.Context, selector, value string) error
	// SetValue assigns a value directly and fires input and change events;
	// used for selects and date inputs.
	SetValue(ctx context.Context, selector, value string) error
	SetChecked(ctx context.Context, selector string, checked bool) error
	AttachFiles(ctx context.Context, selector string, paths []string) error

	ReadValue(ctx context.Context, selector string) (string, error)
	ReadChecked(ctx context.Context, selector string) (bool, error)

	// Submit activates the form's submit control. Only the verification
	// gate may trigger it.
	Submit(ctx context.Context) error
	// WaitStable waits for the document to settle after a navigation.
	WaitStable(ctx context.Context) error

	Close() error
}

var (
	transientMarkers = []string{
		"could not find node",
		"node is detached",
		"not interactable",
		"cannot find context with specified id",
		"no node with given id",
		"element is not visible",
	}
	lostMarkers = []string{
		"target closed",
		"session closed",
		"websocket",
		"page has been closed",
		"inspected target navigated or closed",
	}
)

// Classify maps driver errors onto ErrTransient and ErrNavigationLost.
// Anything unrecognised is returned unchanged.
func Classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrTransient), errors.Is(err, ErrNavigationLost):
		return err
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, chromedp.ErrNotVisible),
		errors.Is(err, chromedp.ErrNoResults):
		return fmt.Errorf("%w: %w", ErrTransient, err)
	case errors.Is(err, chromedp.ErrInvalidContext),
		errors.Is(err, chromedp.ErrChannelClosed),
		errors.Is(err, chromedp.ErrInvalidTarget):
		return fmt.Errorf("%w: %w", ErrNavigationLost, err)
	}

	msg := strings.ToLower(err.Error())
	for _, m := range lostMarkers {
		if strings.Contains(msg, m) {
			return fmt.Errorf("%w: %w", ErrNavigationLost, err)
		}
	}
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return fmt.Errorf("%w: %w", ErrTransient, err)
		}
	}
	return err
}
