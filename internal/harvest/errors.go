package harvest

import "errors"

// Failure classes. Only ErrMalformedRecord is recovered locally (the listing
// is dropped); the others abort the whole harvest.
var (
	// ErrGeocodingFailure means a provider returned no usable coordinate.
	ErrGeocodingFailure = errors.New("geocoding failure")
	// ErrExtractionFault means a required element is missing from a listing
	// or from the pagination bar.
	ErrExtractionFault = errors.New("extraction fault")
	// ErrNavigationFault means the browser failed to open, load or settle a page.
	ErrNavigationFault = errors.New("navigation fault")
	// ErrMalformedRecord marks a listing whose title fails validation.
	ErrMalformedRecord = errors.New("malformed record")
)
