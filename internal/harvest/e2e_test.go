package harvest_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/listing-harvester/internal/extract"
	"github.com/JakeFAU/listing-harvester/internal/geocode"
	"github.com/JakeFAU/listing-harvester/internal/harvest"
	"github.com/JakeFAU/listing-harvester/internal/progress"
	"github.com/JakeFAU/listing-harvester/internal/storage/memory"
	"github.com/JakeFAU/listing-harvester/internal/store"
)

const (
	catalogURL    = "https://suumo.jp/jj/chintai/ichiran/FR301FC001/?ar=030&bs=040"
	centerAddress = "東京都新宿区西新宿2-8-1"
)

var (
	center = harvest.Coordinate{Lng: 139.6917, Lat: 35.6895}
	near   = harvest.Coordinate{Lng: 139.6930, Lat: 35.6900}
	far    = harvest.Coordinate{Lng: 139.7671, Lat: 35.6812}
)

type building struct {
	id      string
	title   string
	address string
	noImage bool
}

func (b building) html() string {
	img := `<img class="js-linkImage" rel="https://img01.suumo.com/front/gazo/bukken/thumb.jpg">`
	if b.noImage {
		img = ""
	}
	if b.id == "" {
		b.id = "000000000000"
	}
	return `<li><div class="cassetteitem">
<div class="cassetteitem_content-title">` + b.title + `</div>
<div class="cassetteitem_detail-col1">` + b.address + `</div>
<div class="cassetteitem-item">` + img + `
<table class="cassetteitem_other"><tbody><tr>
<td></td><td></td><td>2階</td>
<td><span class="cassetteitem_other-emphasis ui-text--bold">7.5万円</span>
<span class="cassetteitem_price cassetteitem_price--administration">3000円</span></td>
<td><span class="cassetteitem_price cassetteitem_price--deposit">-</span>
<span class="cassetteitem_price cassetteitem_price--gratuity">7.5万円</span></td>
<td><span class="cassetteitem_madori">1LDK</span>
<span class="cassetteitem_menseki">40.1m2</span></td>
<td><a href="/chintai/jnc_` + b.id + `/">詳細</a></td>
</tr></tbody></table></div></div></li>`
}

func catalogPage(n, total int, buildings ...building) string {
	var b strings.Builder
	b.WriteString(`<html><body><div id="js-bannerPanel">campaign</div><ul class="l-cassetteitem">`)
	for _, bl := range buildings {
		b.WriteString(bl.html())
	}
	b.WriteString(`</ul>`)
	if total > 1 {
		b.WriteString(`<div class="pagination pagination_set-nav">`)
		if n < total {
			fmt.Fprintf(&b, `<p class="pagination-parts"><a href="?pn=%d">次へ</a></p>`, n+1)
		}
		b.WriteString(`<ol class="pagination-parts">`)
		for i := 1; i <= total; i++ {
			if i == n {
				fmt.Fprintf(&b, `<li><span>%d</span></li>`, i)
				continue
			}
			fmt.Fprintf(&b, `<li><a href="?pn=%d">%d</a></li>`, i, i)
		}
		b.WriteString(`</ol></div>`)
	}
	b.WriteString(`</body></html>`)
	return b.String()
}

// scriptedBrowser serves pre-rendered pages; Activate advances one page.
type scriptedBrowser struct {
	pages []string

	mu       sync.Mutex
	sessions []*scriptedSession
}

func (b *scriptedBrowser) Open(context.Context) (harvest.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := &scriptedSession{pages: b.pages}
	b.sessions = append(b.sessions, s)
	return s, nil
}

type scriptedSession struct {
	pages   []string
	current int
	removed []string
	closed  bool
}

func (s *scriptedSession) Navigate(context.Context, string) error {
	s.current = 0
	return nil
}

func (s *scriptedSession) Snapshot(context.Context) (harvest.Snapshot, error) {
	return harvest.Snapshot{
		URL:  fmt.Sprintf("%s&pn=%d", catalogURL, s.current+1),
		HTML: []byte(s.pages[s.current]),
	}, nil
}

func (s *scriptedSession) Remove(_ context.Context, selector string) (int, error) {
	s.removed = append(s.removed, selector)
	return 1, nil
}

func (s *scriptedSession) Activate(_ context.Context, c harvest.Control) error {
	if s.current+1 >= len(s.pages) {
		return fmt.Errorf("no page behind %q", c.Label)
	}
	s.current++
	return nil
}

func (s *scriptedSession) Close() error {
	s.closed = true
	return nil
}

// countingGeocoder answers from a fixed table and counts provider calls.
type countingGeocoder struct {
	mu    sync.Mutex
	table map[string]harvest.Coordinate
	calls int
}

func (g *countingGeocoder) Geocode(_ context.Context, address string) (harvest.Coordinate, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	c, ok := g.table[address]
	if !ok {
		return harvest.Coordinate{}, fmt.Errorf("%w: no feature for %q", harvest.ErrGeocodingFailure, address)
	}
	return c, nil
}

type staticCenter struct{}

func (staticCenter) Geocode(context.Context, string) (harvest.Coordinate, error) {
	return center, nil
}

type events struct {
	mu  sync.Mutex
	all []progress.Event
}

func (e *events) Emit(evt progress.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.all = append(e.all, evt)
}

func (e *events) pageDone() []progress.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []progress.Event
	for _, evt := range e.all {
		if evt.Stage == progress.StagePageDone {
			out = append(out, evt)
		}
	}
	return out
}

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type seqIDs struct{}

func (seqIDs) NewID() (string, error) {
	return "6f1c2a8e-4b7d-4e8a-9c31-2d5f0e7b9a10", nil
}

type env struct {
	browser  *scriptedBrowser
	geocoder *countingGeocoder
	cache    *memory.CoordinateStore
	events   *events
	orch     *harvest.Orchestrator
}

func newEnv(pages []string, table map[string]harvest.Coordinate) *env {
	e := &env{
		browser:  &scriptedBrowser{pages: pages},
		geocoder: &countingGeocoder{table: table},
		cache:    memory.NewCoordinateStore(),
		events:   &events{},
	}
	resolver := geocode.NewResolver(e.cache, e.geocoder, "google", nil)
	e.orch = harvest.New(
		e.browser,
		extract.New(resolver, extract.Config{Parallelism: 4}, nil),
		staticCenter{},
		memory.NewBlobStore(),
		e.events,
		&stepClock{now: time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)},
		seqIDs{},
		harvest.Config{BannerSelector: extract.BannerSelector},
		nil,
	)
	return e
}

func request() harvest.Request {
	return harvest.Request{
		CatalogURL:    catalogURL,
		CenterAddress: centerAddress,
		RadiusMeters:  1000,
		ChannelID:     "socket-42",
	}
}

func TestHarvestSinglePageKeepsOnlyListingsInRadius(t *testing.T) {
	t.Parallel()

	pages := []string{catalogPage(1, 1,
		building{id: "000012345678", title: "西新宿レジデンス", address: "東京都新宿区西新宿3"},
		building{title: "丸の内タワー", address: "東京都千代田区丸の内1"},
	)}
	e := newEnv(pages, map[string]harvest.Coordinate{
		"東京都新宿区西新宿3西新宿レジデンス": near,
		"東京都千代田区丸の内1丸の内タワー":  far,
	})

	res, err := e.orch.Run(context.Background(), request())
	require.NoError(t, err)
	require.Len(t, res.Listings, 1)
	require.Equal(t, "西新宿レジデンス", res.Listings[0].Title)
	require.Equal(t, near, res.Listings[0].Location)
	require.Equal(t, "https://suumo.jp/chintai/jnc_000012345678/", res.Listings[0].DetailURL)
	require.Equal(t, 1, res.TotalPages)
	require.Equal(t, 2, e.cache.Len())
}

func TestHarvestThreePagesReportsProgress(t *testing.T) {
	t.Parallel()

	table := map[string]harvest.Coordinate{}
	var pages []string
	for i := 1; i <= 3; i++ {
		b := building{title: fmt.Sprintf("コーポ%d", i), address: fmt.Sprintf("東京都新宿区西新宿%d", i)}
		table[b.address+b.title] = near
		pages = append(pages, catalogPage(i, 3, b))
	}
	e := newEnv(pages, table)

	res, err := e.orch.Run(context.Background(), request())
	require.NoError(t, err)
	require.Equal(t, 3, res.Pages)
	require.Len(t, res.Listings, 3)
	for i, l := range res.Listings {
		require.Equal(t, fmt.Sprintf("コーポ%d", i+1), l.Title)
	}

	done := e.events.pageDone()
	require.Len(t, done, 3)
	for i, want := range []float64{33.3, 66.7, 100} {
		require.InDelta(t, want, done[i].Percent, 0.05)
		require.Equal(t, i+1, done[i].Page)
		require.Equal(t, 3, done[i].TotalPages)
		require.Equal(t, "socket-42", done[i].ChannelID)
	}

	session := e.browser.sessions[0]
	require.True(t, session.closed)
	require.Equal(t, []string{extract.BannerSelector, extract.BannerSelector}, session.removed)
}

func TestHarvestCachedAddressSkipsProvider(t *testing.T) {
	t.Parallel()

	b := building{title: "メゾン西新宿", address: "東京都新宿区西新宿5"}
	e := newEnv([]string{catalogPage(1, 1, b)}, nil)
	require.NoError(t, e.cache.InsertCoordinate(context.Background(), store.CoordinateEntry{
		Address: b.address + b.title,
		Lng:     near.Lng,
		Lat:     near.Lat,
	}))

	res, err := e.orch.Run(context.Background(), request())
	require.NoError(t, err)
	require.Len(t, res.Listings, 1)
	require.Zero(t, e.geocoder.calls)
}

func TestHarvestListingWithoutImage(t *testing.T) {
	t.Parallel()

	b := building{title: "ハイム新宿", address: "東京都新宿区西新宿6", noImage: true}
	e := newEnv([]string{catalogPage(1, 1, b)}, map[string]harvest.Coordinate{b.address + b.title: near})

	res, err := e.orch.Run(context.Background(), request())
	require.NoError(t, err)
	require.Len(t, res.Listings, 1)
	require.Equal(t, "", res.Listings[0].ImageURL)
}

func TestHarvestUnresolvableListingFailsRun(t *testing.T) {
	t.Parallel()

	b := building{title: "幻の館", address: "どこか"}
	e := newEnv([]string{catalogPage(1, 1, b)}, nil)

	res, err := e.orch.Run(context.Background(), request())
	require.ErrorIs(t, err, harvest.ErrGeocodingFailure)
	require.Empty(t, res.Listings)
	require.Zero(t, e.cache.Len())

	last := e.events.all[len(e.events.all)-1]
	require.Equal(t, progress.StageHarvestError, last.Stage)
	require.True(t, e.browser.sessions[0].closed)
}
