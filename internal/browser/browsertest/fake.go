// Package browsertest provides an in-memory browser.Page for tests.
package browsertest

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/spigell/autoapply/internal/browser"
)

// Step is one page of a scripted multi-step form.
type Step struct {
	URL  string
	HTML string
}

// Page plays a scripted sequence of steps. Submit advances to the next step.
type Page struct {
	mu sync.Mutex

	steps   []Step
	current int
	url     string

	values  map[string]string
	checked map[string]bool

	// Flaky makes the next n actions on a selector fail with ErrTransient.
	Flaky map[string]int
	// Broken makes every action on a selector fail with ErrTransient.
	Broken map[string]bool
	// Drop makes writes to a selector silently have no effect.
	Drop map[string]bool
	// LoseOn closes the page when the selector is touched.
	LoseOn string
	// RedirectOn changes the URL when the selector is written.
	RedirectOn map[string]string

	Actions     []string
	Submissions int
	Closed      bool
}

// NewPage builds a page for steps. The page starts blank until Navigate.
func NewPage(steps ...Step) *Page {
	return &Page{
		steps:      steps,
		current:    -1,
		values:     make(map[string]string),
		checked:    make(map[string]bool),
		Flaky:      make(map[string]int),
		Broken:     make(map[string]bool),
		Drop:       make(map[string]bool),
		RedirectOn: make(map[string]string),
	}
}

var _ browser.Page = (*Page)(nil)

func (p *Page) check(selector string) error {
	if p.Closed {
		return fmt.Errorf("%w: page closed", browser.ErrNavigationLost)
	}
	if selector == "" {
		return nil
	}
	if p.LoseOn == selector {
		p.Closed = true
		return fmt.Errorf("%w: target closed", browser.ErrNavigationLost)
	}
	if p.Broken[selector] {
		return fmt.Errorf("%w: node is detached", browser.ErrTransient)
	}
	if p.Flaky[selector] > 0 {
		p.Flaky[selector]--
		return fmt.Errorf("%w: node is detached", browser.ErrTransient)
	}
	return nil
}

func (p *Page) write(selector string) bool {
	if to, ok := p.RedirectOn[selector]; ok {
		p.url = to
	}
	return !p.Drop[selector]
}

// Navigate jumps to the step with the given URL, or the first step when no
// step matches.
func (p *Page) Navigate(_ context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.check(""); err != nil {
		return err
	}
	p.Actions = append(p.Actions, "navigate "+url)
	p.current = 0
	for i, s := range p.steps {
		if s.URL == url {
			p.current = i
			break
		}
	}
	p.url = url
	p.values = make(map[string]string)
	p.checked = make(map[string]bool)
	return nil
}

func (p *Page) Snapshot(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.check(""); err != nil {
		return "", err
	}
	if p.current < 0 || p.current >= len(p.steps) {
		return "<html><body></body></html>", nil
	}
	return p.steps[p.current].HTML, nil
}

func (p *Page) URL(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.check(""); err != nil {
		return "", err
	}
	return p.url, nil
}

func (p *Page) SetText(_ context.Context, selector, value string) error {
	return p.set(selector, "type", value)
}

func (p *Page) SetValue(_ context.Context, selector, value string) error {
	return p.set(selector, "set", value)
}

func (p *Page) AttachFiles(_ context.Context, selector string, paths []string) error {
	value := ""
	if len(paths) > 0 {
		value = `C:\fakepath\` + filepath.Base(paths[0])
	}
	return p.set(selector, "attach", value)
}

func (p *Page) set(selector, action, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.check(selector); err != nil {
		return err
	}
	p.Actions = append(p.Actions, action+" "+selector)
	if p.write(selector) {
		p.values[selector] = value
	}
	return nil
}

func (p *Page) SetChecked(_ context.Context, selector string, checked bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.check(selector); err != nil {
		return err
	}
	p.Actions = append(p.Actions, "check "+selector)
	if p.write(selector) {
		p.checked[selector] = checked
	}
	return nil
}

func (p *Page) ReadValue(_ context.Context, selector string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.check(""); err != nil {
		return "", err
	}
	return p.values[selector], nil
}

func (p *Page) ReadChecked(_ context.Context, selector string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.check(""); err != nil {
		return false, err
	}
	return p.checked[selector], nil
}

// Submit records the submission and moves to the next step.
func (p *Page) Submit(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.check(""); err != nil {
		return err
	}
	p.Actions = append(p.Actions, "submit")
	p.Submissions++
	p.current++
	if p.current < len(p.steps) {
		p.url = p.steps[p.current].URL
	}
	p.values = make(map[string]string)
	p.checked = make(map[string]bool)
	return nil
}

func (p *Page) WaitStable(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.check("")
}

func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Closed = true
	return nil
}

// Value returns what was last written to a selector.
func (p *Page) Value(selector string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.values[selector]
}

// Launcher hands out prepared pages in order.
type Launcher struct {
	mu    sync.Mutex
	Pages []*Page
	next  int
}

func (l *Launcher) Open(context.Context) (browser.Page, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.next >= len(l.Pages) {
		return nil, fmt.Errorf("no more fake pages")
	}
	p := l.Pages[l.next]
	l.next++
	return p, nil
}
