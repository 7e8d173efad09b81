package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/listing-harvester/internal/geo"
	"github.com/JakeFAU/listing-harvester/internal/harvest"
	"github.com/JakeFAU/listing-harvester/internal/metrics"
)

// Config tunes the Extractor.
type Config struct {
	// Parallelism caps concurrent coordinate resolutions per page; zero
	// means one goroutine per listing.
	Parallelism int
}

// Extractor implements harvest.Extractor for the catalog markup.
type Extractor struct {
	resolver harvest.Resolver
	cfg      Config
	logger   *zap.Logger
}

// New builds an Extractor resolving listing coordinates through resolver.
func New(resolver harvest.Resolver, cfg Config, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{resolver: resolver, cfg: cfg, logger: logger.Named("extract")}
}

// TotalPages reads the page count from the last pager link. A page without
// a pager is a single-page catalog.
func (e *Extractor) TotalPages(snapshot harvest.Snapshot) (int, error) {
	doc, err := parse(snapshot)
	if err != nil {
		return 0, err
	}
	links := doc.Find(PageLinkSelector)
	if links.Length() == 0 {
		return 1, nil
	}
	text := strings.TrimSpace(links.Last().Text())
	n, err := strconv.Atoi(text)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%w: page count %q", harvest.ErrExtractionFault, text)
	}
	return n, nil
}

// Extract parses every listing on the page, resolves its coordinate and
// keeps the ones strictly inside radiusMeters of center, in page order.
func (e *Extractor) Extract(
	ctx context.Context,
	snapshot harvest.Snapshot,
	center harvest.Coordinate,
	radiusMeters float64,
) (harvest.Page, error) {
	doc, err := parse(snapshot)
	if err != nil {
		return harvest.Page{}, err
	}
	base, _ := url.Parse(snapshot.URL)

	items := doc.Find(ListingSelector)
	kept := make([]*harvest.Listing, items.Length())

	g, gctx := errgroup.WithContext(ctx)
	if e.cfg.Parallelism > 0 {
		g.SetLimit(e.cfg.Parallelism)
	}
	items.Each(func(i int, item *goquery.Selection) {
		g.Go(func() error {
			listing, err := readListing(item, base)
			if errors.Is(err, harvest.ErrMalformedRecord) {
				metrics.ObserveListing(metrics.OutcomeMalformed)
				e.logger.Debug("dropping listing with malformed title",
					zap.Int("index", i),
					zap.String("title", listing.Title))
				return nil
			}
			if err != nil {
				return fmt.Errorf("listing %d: %w", i, err)
			}
			coord, err := e.resolver.Resolve(gctx, listing.CacheKey())
			if err != nil {
				return fmt.Errorf("resolve listing %d: %w", i, err)
			}
			listing.Location = coord
			if !geo.Within(center, coord, radiusMeters) {
				metrics.ObserveListing(metrics.OutcomeOutOfRadius)
				return nil
			}
			metrics.ObserveListing(metrics.OutcomeKept)
			kept[i] = &listing
			return nil
		})
	})
	if err := g.Wait(); err != nil {
		return harvest.Page{}, err
	}

	page := harvest.Page{Seen: items.Length(), Listings: make([]harvest.Listing, 0, len(kept))}
	for _, l := range kept {
		if l != nil {
			page.Listings = append(page.Listings, *l)
		}
	}
	page.Next = nextControl(doc, base)
	metrics.ObservePage(snapshot.URL)
	return page, nil
}

// MalformedTitle reports whether title has more than one space character.
// ASCII and ideographic spaces both count.
func MalformedTitle(title string) bool {
	spaces := 0
	for _, r := range title {
		if r == ' ' || r == '\u3000' {
			spaces++
		}
	}
	return spaces > 1
}

func parse(snapshot harvest.Snapshot) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(snapshot.HTML))
	if err != nil {
		return nil, fmt.Errorf("%w: parse page: %w", harvest.ErrExtractionFault, err)
	}
	return doc, nil
}

// readListing reads one container. The title is validated before anything
// else is touched so malformed entries never fault on missing fields.
func readListing(item *goquery.Selection, base *url.URL) (harvest.Listing, error) {
	var l harvest.Listing
	title, err := requiredText(item, TitleSelector, "title")
	if err != nil {
		return l, err
	}
	l.Title = title
	if MalformedTitle(title) {
		return l, harvest.ErrMalformedRecord
	}

	row := item.Find(RoomRowSelector).First()
	if row.Length() == 0 {
		return l, fault("room row")
	}
	cells := row.ChildrenFiltered("td")
	if cells.Length() <= StairsCellIndex {
		return l, fault("stairs cell")
	}
	l.Stairs = strings.TrimSpace(cells.Eq(StairsCellIndex).Text())
	href, ok := cells.Last().Find("a").First().Attr("href")
	if !ok {
		return l, fault("detail link")
	}
	l.DetailURL = resolveURL(base, href)
	l.ImageURL = imageURL(item, base)

	fields := []struct {
		dst      *string
		selector string
		name     string
	}{
		{&l.Address, AddressSelector, "address"},
		{&l.Rent, RentSelector, "rent"},
		{&l.AdministrativeExpenses, AdministrationSelector, "administrative expenses"},
		{&l.Deposit, DepositSelector, "deposit"},
		{&l.Gratuity, GratuitySelector, "gratuity"},
		{&l.PlanOfHouse, FloorPlanSelector, "floor plan"},
		{&l.Area, AreaSelector, "area"},
	}
	for _, f := range fields {
		v, err := requiredText(item, f.selector, f.name)
		if err != nil {
			return l, err
		}
		*f.dst = v
	}
	return l, nil
}

func requiredText(item *goquery.Selection, selector, name string) (string, error) {
	sel := item.Find(selector)
	if sel.Length() == 0 {
		return "", fault(name)
	}
	return strings.TrimSpace(sel.First().Text()), nil
}

func fault(field string) error {
	return fmt.Errorf("%w: missing %s", harvest.ErrExtractionFault, field)
}

// imageURL is best effort: lazy-loaded images keep the real source in rel
// or data-src until scrolled into view.
func imageURL(item *goquery.Selection, base *url.URL) string {
	img := item.Find(ImageSelector).First()
	for _, attr := range []string{"src", "rel", "data-src"} {
		if v, ok := img.Attr(attr); ok && strings.TrimSpace(v) != "" {
			return resolveURL(base, strings.TrimSpace(v))
		}
	}
	return ""
}

func nextControl(doc *goquery.Document, base *url.URL) *harvest.Control {
	var next *harvest.Control
	doc.Find(NextControlSelector).Each(func(i int, a *goquery.Selection) {
		label := strings.TrimSpace(a.Text())
		if !slices.Contains(NextLabels, label) {
			return
		}
		c := &harvest.Control{Selector: NextControlSelector, Index: i, Label: label}
		if href, ok := a.Attr("href"); ok && href != "" && !strings.HasPrefix(href, "javascript:") {
			c.Href = resolveURL(base, href)
		}
		next = c
	})
	return next
}

func resolveURL(base *url.URL, raw string) string {
	ref, err := url.Parse(raw)
	if err != nil || base == nil || base.Host == "" {
		return raw
	}
	return base.ResolveReference(ref).String()
}
