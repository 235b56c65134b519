package http

import (
	"fmt"

	"github.com/couchcryptid/accident-risk-service/internal/domain"
)

// Marker colors used by the dashboard map.
const (
	markerHigh  = "red"
	markerOther = "blue"
)

type featureCollection struct {
	Type     string       `json:"type"`
	Features []mapFeature `json:"features"`
}

type mapFeature struct {
	Type       string         `json:"type"`
	Geometry   pointGeometry  `json:"geometry"`
	Properties markerProperty `json:"properties"`
}

type pointGeometry struct {
	Type        string     `json:"type"`
	Coordinates [2]float64 `json:"coordinates"` // [lon, lat]
}

type markerProperty struct {
	Place       string          `json:"place_name"`
	Severity    domain.Severity `json:"accident_severity"`
	TimeFrame   domain.TimeSlot `json:"time_frame"`
	Date        string          `json:"date"`
	Time        string          `json:"time"`
	Source      domain.Source   `json:"source"`
	MarkerColor string          `json:"marker_color"`
	Popup       string          `json:"popup"`
}

// newFeatureCollection renders records as map markers. A non-empty slot
// keeps only records in that slot.
func newFeatureCollection(records []domain.AccidentRecord, slot domain.TimeSlot) featureCollection {
	fc := featureCollection{Type: "FeatureCollection", Features: make([]mapFeature, 0, len(records))}
	for _, r := range records {
		if slot != "" && r.TimeFrame != slot {
			continue
		}
		color := markerOther
		if r.Severity == domain.SeverityHigh {
			color = markerHigh
		}
		fc.Features = append(fc.Features, mapFeature{
			Type: "Feature",
			Geometry: pointGeometry{
				Type:        "Point",
				Coordinates: [2]float64{r.Lon, r.Lat},
			},
			Properties: markerProperty{
				Place:       r.PlaceName,
				Severity:    r.Severity,
				TimeFrame:   r.TimeFrame,
				Date:        r.Date,
				Time:        r.Time,
				Source:      r.Source,
				MarkerColor: color,
				Popup:       fmt.Sprintf("Place: %s, Severity: %s, Time: %s", r.PlaceName, r.Severity, r.TimeFrame),
			},
		})
	}
	return fc
}
