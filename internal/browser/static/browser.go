// Package static implements harvest.Browser with plain HTTP requests for
// catalogs that render their listings server-side.
package static

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-harvester/internal/harvest"
)

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	// Timeout bounds each request. Zero leaves requests unbounded.
	Timeout time.Duration
}

// Browser opens sessions that fetch pages with Colly. Script-driven controls
// are not supported; Activate follows the control's href.
type Browser struct {
	cfg           Config
	baseCollector *colly.Collector
	logger        *zap.Logger
}

// New builds a Browser.
func New(cfg Config, logger *zap.Logger) *Browser {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("static")
	c := colly.NewCollector(colly.Async(false))
	c.WithTransport(newRobotsTransport(newHTTPTransport(), logger))
	return &Browser{
		cfg:           cfg,
		baseCollector: c,
		logger:        logger,
	}
}

// Open returns a session with its own collector and cookie jar.
func (b *Browser) Open(context.Context) (harvest.Session, error) {
	collector := b.baseCollector.Clone()
	if b.cfg.UserAgent != "" {
		collector.UserAgent = b.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = !b.cfg.RespectRobots
	collector.AllowURLRevisit = true
	if b.cfg.Timeout > 0 {
		collector.SetRequestTimeout(b.cfg.Timeout)
	}
	return &session{collector: collector, logger: b.logger}, nil
}

type session struct {
	collector *colly.Collector
	logger    *zap.Logger

	url string
	doc *goquery.Document
}

type visitResult struct {
	url  string
	body []byte
	err  error
}

func (s *session) Navigate(ctx context.Context, rawURL string) error {
	res, err := s.visit(ctx, rawURL)
	if err != nil {
		return err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.body))
	if err != nil {
		return fmt.Errorf("parse %s: %w", res.url, err)
	}
	s.url = res.url
	s.doc = doc
	s.logger.Debug("page loaded", zap.String("url", res.url), zap.Int("bytes", len(res.body)))
	return nil
}

func (s *session) visit(ctx context.Context, rawURL string) (visitResult, error) {
	var res visitResult
	c := s.collector.Clone()
	c.OnResponse(func(r *colly.Response) {
		res.url = r.Request.URL.String()
		res.body = append([]byte(nil), r.Body...)
	})
	c.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			err = fmt.Errorf("status %d: %w", r.StatusCode, err)
		}
		res.err = err
	})

	done := make(chan error, 1)
	go func() {
		done <- c.Visit(rawURL)
	}()
	select {
	case <-ctx.Done():
		return visitResult{}, fmt.Errorf("visit %s canceled: %w", rawURL, ctx.Err())
	case err := <-done:
		if res.err != nil {
			return visitResult{}, fmt.Errorf("visit %s: %w", rawURL, res.err)
		}
		if err != nil {
			return visitResult{}, fmt.Errorf("visit %s: %w", rawURL, err)
		}
		return res, nil
	}
}

func (s *session) Snapshot(context.Context) (harvest.Snapshot, error) {
	if s.doc == nil {
		return harvest.Snapshot{}, fmt.Errorf("%w: no page loaded", harvest.ErrNavigationFault)
	}
	html, err := goquery.OuterHtml(s.doc.Children())
	if err != nil {
		return harvest.Snapshot{}, fmt.Errorf("serialize dom: %w", err)
	}
	return harvest.Snapshot{URL: s.url, HTML: []byte(html)}, nil
}

func (s *session) Remove(_ context.Context, selector string) (int, error) {
	if s.doc == nil {
		return 0, nil
	}
	sel := s.doc.Find(selector)
	n := sel.Length()
	sel.Remove()
	return n, nil
}

func (s *session) Activate(ctx context.Context, control harvest.Control) error {
	if control.Href == "" {
		return fmt.Errorf("%w: control %q has no link target", harvest.ErrNavigationFault, control.Label)
	}
	return s.Navigate(ctx, control.Href)
}

func (s *session) Close() error {
	s.doc = nil
	return nil
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
