// Package store defines interfaces for persistence dependencies: the
// coordinate cache and the harvest run log. Implementations live in
// internal/storage; this package must not import database drivers or
// concrete clients.
package store
