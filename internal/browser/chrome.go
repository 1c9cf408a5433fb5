package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/spigell/autoapply/internal/form"
	"github.com/spigell/autoapply/internal/utils"
)

// Options configure the browser process.
type Options struct {
	Headless          bool          `mapstructure:"headless"`
	ExecPath          string        `mapstructure:"exec-path"`
	UserAgent         string        `mapstructure:"user-agent"`
	Args              []string      `mapstructure:"args"`
	ActionTimeout     time.Duration `mapstructure:"action-timeout"`
	NavigationTimeout time.Duration `mapstructure:"navigation-timeout"`
	SettleDelay       time.Duration `mapstructure:"settle-delay"`
}

// Launcher starts one browser per attempt.
type Launcher struct {
	opts   Options
	logger *zap.Logger
}

func NewLauncher(opts Options, logger *zap.Logger) *Launcher {
	if opts.ActionTimeout <= 0 {
		opts.ActionTimeout = 10 * time.Second
	}
	if opts.NavigationTimeout <= 0 {
		opts.NavigationTimeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Launcher{opts: opts, logger: logger}
}

// Open starts a browser and returns its first tab. The caller owns the page
// and must Close it; cancelling ctx also tears the browser down.
func (l *Launcher) Open(ctx context.Context) (Page, error) {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", l.opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
	)
	for _, arg := range l.opts.Args {
		name, value, hasValue := strings.Cut(strings.TrimLeft(strings.TrimSpace(arg), "-"), "=")
		if name == "" {
			continue
		}
		if hasValue {
			allocOpts = append(allocOpts, chromedp.Flag(name, value))
		} else {
			allocOpts = append(allocOpts, chromedp.Flag(name, true))
		}
	}
	if l.opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(l.opts.ExecPath))
	}
	if l.opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(l.opts.UserAgent))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, allocOpts...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)

	// An empty run starts the browser process.
	if err := chromedp.Run(tabCtx); err != nil {
		cancelTab()
		cancelAlloc()
		return nil, fmt.Errorf("start browser: %w", err)
	}

	l.logger.Debug("browser started", zap.Bool("headless", l.opts.Headless))

	return &chromePage{
		tab:    tabCtx,
		opts:   l.opts,
		logger: l.logger,
		cancel: func() {
			cancelTab()
			cancelAlloc()
		},
	}, nil
}

type chromePage struct {
	tab    context.Context
	opts   Options
	logger *zap.Logger

	closeOnce sync.Once
	cancel    func()
}

func (p *chromePage) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if p.tab.Err() != nil {
		return fmt.Errorf("%w: page closed", ErrNavigationLost)
	}

	actx, cancel := context.WithTimeout(p.tab, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(actx, actions...)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if p.tab.Err() != nil {
		return fmt.Errorf("%w: %w", ErrNavigationLost, err)
	}
	return Classify(err)
}

func (p *chromePage) Navigate(ctx context.Context, url string) error {
	return p.run(ctx, p.opts.NavigationTimeout,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

const markHiddenJS = `(() => {
  document.querySelectorAll('input, select, textarea').forEach((el) => {
    const style = window.getComputedStyle(el);
    const hidden = style.display === 'none' || style.visibility === 'hidden' ||
      (el.offsetParent === null && style.position !== 'fixed');
    if (hidden && el.type !== 'file') {
      el.setAttribute('%s', '');
    } else {
      el.removeAttribute('%s');
    }
  });
  return true;
})()`

func (p *chromePage) Snapshot(ctx context.Context) (string, error) {
	var (
		marked bool
		html   string
	)
	script := fmt.Sprintf(markHiddenJS, form.HiddenMarker, form.HiddenMarker)
	err := p.run(ctx, p.opts.ActionTimeout,
		chromedp.Evaluate(script, &marked),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return "", err
	}
	p.logger.Debug("page snapshot", zap.Int("html_length", len(html)), zap.String("html_preview", utils.TruncateForLog(html, 200)))
	return html, nil
}

func (p *chromePage) URL(ctx context.Context) (string, error) {
	var loc string
	if err := p.run(ctx, p.opts.ActionTimeout, chromedp.Location(&loc)); err != nil {
		return "", err
	}
	return loc, nil
}

func (p *chromePage) SetText(ctx context.Context, selector, value string) error {
	return p.run(ctx, p.opts.ActionTimeout,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Clear(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, value, chromedp.ByQuery),
	)
}

const dispatchJS = `(() => {
  const el = document.querySelector(%s);
  if (!el) { return false; }
  el.dispatchEvent(new Event('input', { bubbles: true }));
  el.dispatchEvent(new Event('change', { bubbles: true }));
  return true;
})()`

func (p *chromePage) SetValue(ctx context.Context, selector, value string) error {
	quoted, err := json.Marshal(selector)
	if err != nil {
		return fmt.Errorf("quote selector: %w", err)
	}
	var dispatched bool
	return p.run(ctx, p.opts.ActionTimeout,
		chromedp.WaitReady(selector, chromedp.ByQuery),
		chromedp.SetValue(selector, value, chromedp.ByQuery),
		chromedp.Evaluate(fmt.Sprintf(dispatchJS, quoted), &dispatched),
	)
}

func (p *chromePage) SetChecked(ctx context.Context, selector string, checked bool) error {
	current, err := p.ReadChecked(ctx, selector)
	if err != nil {
		return err
	}
	if current == checked {
		return nil
	}
	return p.run(ctx, p.opts.ActionTimeout, chromedp.Click(selector, chromedp.ByQuery))
}

func (p *chromePage) AttachFiles(ctx context.Context, selector string, paths []string) error {
	return p.run(ctx, p.opts.ActionTimeout, chromedp.SetUploadFiles(selector, paths, chromedp.ByQuery))
}

func (p *chromePage) ReadValue(ctx context.Context, selector string) (string, error) {
	var value string
	if err := p.run(ctx, p.opts.ActionTimeout, chromedp.Value(selector, &value, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return value, nil
}

func (p *chromePage) ReadChecked(ctx context.Context, selector string) (bool, error) {
	var checked bool
	if err := p.run(ctx, p.opts.ActionTimeout, chromedp.JavascriptAttribute(selector, "checked", &checked, chromedp.ByQuery)); err != nil {
		return false, err
	}
	return checked, nil
}

const submitJS = `(() => {
  const visible = (el) => el.offsetParent !== null && !el.disabled;
  const buttons = Array.from(document.querySelectorAll('button[type=submit], input[type=submit], form button:not([type])'));
  const button = buttons.find(visible);
  if (button) { button.click(); return true; }
  const formEl = document.querySelector('form');
  if (formEl) {
    if (formEl.requestSubmit) { formEl.requestSubmit(); } else { formEl.submit(); }
    return true;
  }
  return false;
})()`

func (p *chromePage) Submit(ctx context.Context) error {
	var submitted bool
	if err := p.run(ctx, p.opts.ActionTimeout, chromedp.Evaluate(submitJS, &submitted)); err != nil {
		return err
	}
	if !submitted {
		return fmt.Errorf("no submit control found on page")
	}
	return nil
}

func (p *chromePage) WaitStable(ctx context.Context) error {
	if err := p.run(ctx, p.opts.NavigationTimeout, chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		return err
	}
	return utils.WaitFor(ctx, p.opts.SettleDelay)
}

func (p *chromePage) Close() error {
	p.closeOnce.Do(p.cancel)
	return nil
}
