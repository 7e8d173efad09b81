// Package geocode hosts the coordinate Resolver, a read-through, write-once
// cache in front of a harvest.Geocoder. Provider clients live in the yolp and
// google subpackages.
package geocode
