package harvest

import (
	"time"

	"github.com/JakeFAU/listing-harvester/internal/geo"
)

// Coordinate is a resolved position for an address string.
type Coordinate = geo.Point

// Listing is one rental unit scraped from a catalog page. Text fields are
// kept exactly as rendered; no currency or area parsing happens here.
type Listing struct {
	Stairs                 string     `json:"stairs"`
	DetailURL              string     `json:"detailUrl"`
	ImageURL               string     `json:"imgSrc"`
	Title                  string     `json:"title"`
	Address                string     `json:"address"`
	Location               Coordinate `json:"location"`
	Rent                   string     `json:"rent"`
	AdministrativeExpenses string     `json:"administrativeExpenses"`
	Deposit                string     `json:"deposit"`
	Gratuity               string     `json:"gratuity"`
	PlanOfHouse            string     `json:"planOfHouse"`
	Area                   string     `json:"area"`
}

// CacheKey is the coordinate cache key for the listing: address followed by
// the building title, with no separator.
func (l Listing) CacheKey() string {
	return l.Address + l.Title
}

// Request describes one harvest. The HTTP layer validates it; the
// orchestrator assumes every field is populated.
type Request struct {
	CatalogURL    string
	CenterAddress string
	RadiusMeters  float64
	ChannelID     string
}

// Result is the filtered, ordered listing set for a finished harvest.
type Result struct {
	RunID      string
	Listings   []Listing
	Pages      int
	TotalPages int
	Duration   time.Duration
}

// Snapshot is the serialized DOM of the page currently shown by a Session.
type Snapshot struct {
	// URL is the location the document was rendered from; relative links
	// resolve against it.
	URL  string
	HTML []byte
}

// Control identifies a clickable element in the current page: the Index-th
// match of Selector.
type Control struct {
	Selector string
	Index    int
	Label    string
	// Href is the resolved link target, empty for script-driven controls.
	Href string
}

// Page is the Extractor's view of one catalog page.
type Page struct {
	// Listings holds the records that survived validation and the radius filter.
	Listings []Listing
	// Seen counts listing containers found on the page.
	Seen int
	// Next is nil on the last page.
	Next *Control
}
