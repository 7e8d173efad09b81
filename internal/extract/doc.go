// Package extract parses rendered catalog pages into harvest listings. It
// validates each listing container, resolves coordinates in parallel through
// a harvest.Resolver, applies the radius filter and locates the pagination
// controls.
package extract
