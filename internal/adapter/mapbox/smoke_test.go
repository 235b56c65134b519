//go:build mapbox

package mapbox

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/couchcryptid/accident-risk-service/internal/domain"
	"github.com/couchcryptid/accident-risk-service/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests hit the real Mapbox API and require a valid MAPBOX_TOKEN env var.
// Run with: go test -tags=mapbox ./internal/adapter/mapbox/ -v -count=1

func smokeClient(t *testing.T) *Client {
	t.Helper()
	token := os.Getenv("MAPBOX_TOKEN")
	if token == "" {
		t.Fatal("MAPBOX_TOKEN must be set to run smoke tests")
	}
	return NewClient(token, 10*time.Second,
		Options{Country: "in", Proximity: "88.3639,22.5726"},
		observability.NewMetricsForTesting(),
		slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestSmoke_Geocode(t *testing.T) {
	c := smokeClient(t)

	result, err := c.Geocode(context.Background(), "Esplanade, Kolkata")
	require.NoError(t, err)

	assert.InDelta(t, 22.56, result.Lat, 0.1, "lat should be near Kolkata")
	assert.InDelta(t, 88.35, result.Lon, 0.1, "lon should be near Kolkata")
	assert.NotEmpty(t, result.FormattedAddress)
	assert.Greater(t, result.Confidence, 0.5)
	assert.NoError(t, domain.ValidateCoordinates(result.Lat, result.Lon))
}

func TestSmoke_Geocode_Nonsense(t *testing.T) {
	c := smokeClient(t)

	// Mapbox's fuzzy matching may still return results for nonsense queries,
	// so only not-found is acceptable as an error.
	_, err := c.Geocode(context.Background(), "XYZNONEXISTENT99")
	if err != nil {
		assert.ErrorIs(t, err, domain.ErrLocationNotFound)
	}
}

func TestSmoke_CachedGeocoder(t *testing.T) {
	c := smokeClient(t)
	cached := NewCachedGeocoder(c, 10, observability.NewMetricsForTesting())

	// First call: cache miss, real API call.
	r1, err := cached.Geocode(context.Background(), "Park Street, Kolkata")
	require.NoError(t, err)

	// Second call: cache hit, no API call.
	r2, err := cached.Geocode(context.Background(), "Park Street, Kolkata")
	require.NoError(t, err)
	assert.Equal(t, r1, r2)
}
