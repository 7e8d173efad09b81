package extract

// CSS selectors for the catalog markup.
const (
	// Listing containers, one per building.
	ListingSelector = `ul.l-cassetteitem > li`

	// Room rows inside a container; only the first row is read.
	RoomRowSelector = `.cassetteitem_other > tbody > tr`
	// StairsCellIndex is the zero-based td holding the floor text.
	StairsCellIndex = 2

	ImageSelector          = `.js-linkImage`
	TitleSelector          = `div.cassetteitem_content-title`
	AddressSelector        = `.cassetteitem_detail-col1`
	RentSelector           = `.cassetteitem_other-emphasis`
	AdministrationSelector = `.cassetteitem_price--administration`
	DepositSelector        = `.cassetteitem_price--deposit`
	GratuitySelector       = `.cassetteitem_price--gratuity`
	FloorPlanSelector      = `.cassetteitem_madori`
	AreaSelector           = `.cassetteitem_menseki`

	// Pagination
	PageLinkSelector    = `ol.pagination-parts > li > a`
	NextControlSelector = `p.pagination-parts > a`

	// BannerSelector is the overlay that intercepts clicks on the pager.
	BannerSelector = `#js-bannerPanel`
)

// NextLabels are the link texts that identify the "next page" control.
var NextLabels = []string{"次へ", "Next"}
