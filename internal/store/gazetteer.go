package store

import (
	"context"
	"strings"

	"github.com/couchcryptid/accident-risk-service/internal/domain"
)

// Gazetteer is an offline geocoder that resolves place names already present
// in the record store. It implements domain.Geocoder.
type Gazetteer struct {
	store *Store
}

// NewGazetteer creates a Gazetteer over s.
func NewGazetteer(s *Store) *Gazetteer {
	return &Gazetteer{store: s}
}

// Geocode returns the mean coordinates of records whose place name equals
// query, ignoring case and surrounding space.
func (g *Gazetteer) Geocode(_ context.Context, query string) (domain.GeocodingResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return domain.GeocodingResult{}, domain.ErrLocationNotFound
	}

	var (
		sumLat, sumLon float64
		n              int
		name           string
	)
	for _, rec := range g.store.Records() {
		if !strings.EqualFold(strings.TrimSpace(rec.PlaceName), query) {
			continue
		}
		sumLat += rec.Lat
		sumLon += rec.Lon
		name = rec.PlaceName
		n++
	}
	if n == 0 {
		return domain.GeocodingResult{}, domain.ErrLocationNotFound
	}

	return domain.GeocodingResult{
		Lat:              sumLat / float64(n),
		Lon:              sumLon / float64(n),
		FormattedAddress: name,
		PlaceName:        name,
		Confidence:       1,
	}, nil
}
