package domain

import "context"

// GeocodingResult contains location data returned by a geocoding provider.
type GeocodingResult struct {
	Lat              float64
	Lon              float64
	FormattedAddress string
	PlaceName        string
	Confidence       float64 // 0.0–1.0 provider confidence score
}

// Geocoder resolves free-text place descriptions to coordinates.
type Geocoder interface {
	// Geocode converts a place description to coordinates. It returns
	// ErrLocationNotFound when the provider has no match.
	Geocode(ctx context.Context, query string) (GeocodingResult, error)
}
