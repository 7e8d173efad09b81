// Package chromedpbrowser renders catalog pages in headless Chrome.
package chromedpbrowser

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-harvester/internal/harvest"
)

// DefaultUserAgent is a desktop Chrome identity; the catalog serves a reduced
// layout to unknown clients.
const DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) " +
	"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"

// Config controls the Chrome allocator and session behavior.
type Config struct {
	UserAgent string
	// ExecPath overrides Chrome discovery.
	ExecPath  string
	Headless  bool
	NoSandbox bool
	// MaxSessions bounds concurrently open sessions. Zero means one.
	MaxSessions int
	// IdleWindow is how long the network must stay quiet after a click.
	IdleWindow time.Duration
	// IdleInflight is the number of in-flight requests still considered quiet.
	IdleInflight int
}

const (
	defaultIdleWindow   = 500 * time.Millisecond
	defaultIdleInflight = 2
	idlePollInterval    = 50 * time.Millisecond
)

// Browser implements harvest.Browser over a shared Chrome process; each
// session is its own tab.
type Browser struct {
	cfg         Config
	slots       chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
	logger      *zap.Logger

	// runActions is chromedp.Run outside of tests.
	runActions func(ctx context.Context, actions ...chromedp.Action) error
}

// New starts a Chrome allocator. Chrome itself launches with the first session.
func New(cfg Config, logger *zap.Logger) (*Browser, error) {
	if cfg.MaxSessions < 0 {
		return nil, errors.New("max sessions must be >= 0")
	}
	if cfg.MaxSessions == 0 {
		cfg.MaxSessions = 1
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.IdleWindow <= 0 {
		cfg.IdleWindow = defaultIdleWindow
	}
	if cfg.IdleInflight < 0 {
		cfg.IdleInflight = 0
	} else if cfg.IdleInflight == 0 {
		cfg.IdleInflight = defaultIdleInflight
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOptions(cfg)...)
	return &Browser{
		cfg:         cfg,
		slots:       make(chan struct{}, cfg.MaxSessions),
		allocator:   allocCtx,
		allocCancel: allocCancel,
		logger:      logger.Named("chromedp"),
		runActions:  chromedp.Run,
	}, nil
}

func allocatorOptions(cfg Config) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.UserAgent(cfg.UserAgent),
	)
	if cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if cfg.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	return opts
}

// Close shuts Chrome down. Open sessions become unusable.
func (b *Browser) Close() {
	b.allocCancel()
}

// Open acquires a session slot and opens a new tab. The first action on a
// tab starts Chrome and the target loop under the context it runs with, so
// it runs on the tab context itself; later actions use cancelable children.
func (b *Browser) Open(ctx context.Context) (harvest.Session, error) {
	if err := b.acquire(ctx); err != nil {
		return nil, err
	}
	tab, cancelTab := chromedp.NewContext(b.allocator)
	// chromedp's cancel waits for the browser and must run once.
	cancel := sync.OnceFunc(cancelTab)
	s := &session{
		tab:     tab,
		cancel:  cancel,
		release: b.release,
		idle:    newIdleTracker(time.Now),
		cfg:     b.cfg,
		logger:  b.logger,
		exec:    b.runActions,
	}
	chromedp.ListenTarget(tab, s.idle.handle)

	stop := context.AfterFunc(ctx, cancel)
	err := s.exec(tab, b.setupAction())
	stop()
	if err != nil {
		_ = s.Close()
		if ctx.Err() != nil {
			return nil, fmt.Errorf("start tab: %w", ctx.Err())
		}
		return nil, fmt.Errorf("start tab: %w", err)
	}
	b.logger.Debug("session opened")
	return s, nil
}

func (b *Browser) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if err := page.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable page domain: %w", err)
		}
		if err := emulation.SetUserAgentOverride(b.cfg.UserAgent).Do(ctx); err != nil {
			return fmt.Errorf("set user-agent: %w", err)
		}
		return nil
	})
}

func (b *Browser) acquire(ctx context.Context) error {
	select {
	case b.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("session slot wait canceled: %w", ctx.Err())
	}
}

func (b *Browser) release() {
	select {
	case <-b.slots:
	default:
	}
}

type session struct {
	tab     context.Context
	cancel  context.CancelFunc
	release func()
	idle    *idleTracker
	cfg     Config
	logger  *zap.Logger
	exec    func(ctx context.Context, actions ...chromedp.Action) error

	closeOnce sync.Once
}

// run executes actions on the tab while honoring the caller's ctx. Canceling
// ctx aborts the actions without closing the tab.
func (s *session) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(s.tab)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := s.exec(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (s *session) Navigate(ctx context.Context, rawURL string) error {
	if err := s.run(ctx, chromedp.Navigate(rawURL)); err != nil {
		return fmt.Errorf("navigate %s: %w", rawURL, err)
	}
	return nil
}

func (s *session) Snapshot(ctx context.Context) (harvest.Snapshot, error) {
	var location, html string
	if err := s.run(ctx,
		chromedp.Location(&location),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	); err != nil {
		return harvest.Snapshot{}, fmt.Errorf("serialize dom: %w", err)
	}
	return harvest.Snapshot{URL: location, HTML: []byte(html)}, nil
}

func (s *session) Remove(ctx context.Context, selector string) (int, error) {
	var removed int
	if err := s.run(ctx, chromedp.Evaluate(removeScript(selector), &removed)); err != nil {
		return 0, fmt.Errorf("remove %s: %w", selector, err)
	}
	return removed, nil
}

// Activate clicks the control and waits for the load event followed by a
// quiet network.
func (s *session) Activate(ctx context.Context, control harvest.Control) error {
	loads := s.idle.loads()
	var clicked bool
	if err := s.run(ctx, chromedp.Evaluate(clickScript(control.Selector, control.Index), &clicked)); err != nil {
		return fmt.Errorf("click %s[%d]: %w", control.Selector, control.Index, err)
	}
	if !clicked {
		return fmt.Errorf("click %s[%d]: element not found", control.Selector, control.Index)
	}
	if err := s.waitSettled(ctx, loads); err != nil {
		return fmt.Errorf("wait for %q to settle: %w", control.Label, err)
	}
	return nil
}

func (s *session) waitSettled(ctx context.Context, loadsBefore uint64) error {
	ticker := time.NewTicker(idlePollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.tab.Done():
			return errors.New("tab closed")
		case <-ticker.C:
			if s.idle.loads() > loadsBefore && s.idle.quiet(s.cfg.IdleWindow, s.cfg.IdleInflight) {
				return nil
			}
		}
	}
}

func (s *session) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.release()
		s.logger.Debug("session closed")
	})
	return nil
}

func removeScript(selector string) string {
	return fmt.Sprintf(`(() => {
  const els = document.querySelectorAll(%s);
  els.forEach((el) => el.remove());
  return els.length;
})()`, jsString(selector))
}

func clickScript(selector string, index int) string {
	return fmt.Sprintf(`(() => {
  const el = document.querySelectorAll(%s)[%d];
  if (!el) return false;
  el.click();
  return true;
})()`, jsString(selector), index)
}

// jsString quotes s as a JS string literal. Selectors keep > and & as-is.
func jsString(s string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(s)
	return strings.TrimSuffix(buf.String(), "\n")
}
