package chromedpbrowser

import (
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
)

// idleTracker follows a tab's network traffic and load events.
type idleTracker struct {
	now func() time.Time

	mu       sync.Mutex
	inflight map[network.RequestID]struct{}
	lastSeen time.Time
	loaded   uint64
}

func newIdleTracker(now func() time.Time) *idleTracker {
	return &idleTracker{
		now:      now,
		inflight: map[network.RequestID]struct{}{},
		lastSeen: now(),
	}
}

func (t *idleTracker) handle(ev any) {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		t.start(e.RequestID)
	case *network.EventLoadingFinished:
		t.finish(e.RequestID)
	case *network.EventLoadingFailed:
		t.finish(e.RequestID)
	case *page.EventLoadEventFired:
		t.load()
	}
}

func (t *idleTracker) start(id network.RequestID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inflight[id] = struct{}{}
	t.lastSeen = t.now()
}

func (t *idleTracker) finish(id network.RequestID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.inflight, id)
	t.lastSeen = t.now()
}

func (t *idleTracker) load() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.loaded++
	t.lastSeen = t.now()
}

func (t *idleTracker) loads() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loaded
}

// quiet reports whether at most maxInflight requests are pending and no
// network activity happened during the last window.
func (t *idleTracker) quiet(window time.Duration, maxInflight int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inflight) <= maxInflight && t.now().Sub(t.lastSeen) >= window
}
