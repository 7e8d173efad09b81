// Package harvest defines the listing harvest pipeline: the domain types, the
// collaborator interfaces (browser sessions, extractor, geocoders, blob
// archive) and the Orchestrator that walks a paginated catalog page by page.
package harvest
