package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Severity is the recorded accident severity.
type Severity string

const (
	SeverityHigh   Severity = "High"
	SeverityMedium Severity = "Medium"
	SeverityLow    Severity = "Low"
)

// Severities lists the valid severities in code order.
var Severities = []Severity{SeverityHigh, SeverityMedium, SeverityLow}

// ParseSeverity accepts a severity name regardless of case and surrounding space.
func ParseSeverity(s string) (Severity, error) {
	s = strings.TrimSpace(s)
	for _, sev := range Severities {
		if strings.EqualFold(s, string(sev)) {
			return sev, nil
		}
	}
	return "", fmt.Errorf("unknown severity %q", s)
}

// Code returns the ordinal code: High=0, Medium=1, Low=2, or -1 if invalid.
func (s Severity) Code() int {
	for i, sev := range Severities {
		if s == sev {
			return i
		}
	}
	return -1
}

// Valid reports whether s is one of the enumerated severities.
func (s Severity) Valid() bool { return s.Code() >= 0 }

// TimeSlot is one of the three fixed daily intervals accidents are bucketed into.
type TimeSlot string

const (
	SlotMorning   TimeSlot = "8-11 AM"
	SlotAfternoon TimeSlot = "12-3 PM"
	SlotEvening   TimeSlot = "5-8 PM"
)

// TimeSlots lists the valid slots in code order.
var TimeSlots = []TimeSlot{SlotMorning, SlotAfternoon, SlotEvening}

// ParseTimeSlot accepts a slot label regardless of case and surrounding space.
func ParseTimeSlot(s string) (TimeSlot, error) {
	s = strings.TrimSpace(s)
	for _, slot := range TimeSlots {
		if strings.EqualFold(s, string(slot)) {
			return slot, nil
		}
	}
	return "", fmt.Errorf("unknown time slot %q", s)
}

// Code returns the numeric slot code (0, 1, 2), or -1 if invalid.
func (t TimeSlot) Code() int {
	for i, slot := range TimeSlots {
		if t == slot {
			return i
		}
	}
	return -1
}

// Valid reports whether t is one of the enumerated slots.
func (t TimeSlot) Valid() bool { return t.Code() >= 0 }

// Source records where a row came from.
type Source string

const (
	SourceDataset Source = "dataset"
	SourceUser    Source = "user"
)

// AccidentRecord is one row of the accident table. Records are never mutated
// after creation.
type AccidentRecord struct {
	PlaceName string   `json:"place_name"`
	Lat       float64  `json:"latitude"`
	Lon       float64  `json:"longitude"`
	Severity  Severity `json:"accident_severity"`
	TimeFrame TimeSlot `json:"time_frame"`
	Date      string   `json:"date"`
	Time      string   `json:"time"`

	// Cluster is the k-means assignment written by the training tool, if any.
	Cluster *int `json:"cluster,omitempty"`

	Source     Source    `json:"source"`
	ReportedAt time.Time `json:"reported_at,omitzero"`
}

// IsUserReport reports whether the record was submitted through report intake.
func (r AccidentRecord) IsUserReport() bool {
	return r.Source == SourceUser
}

// Validate checks the record invariants: finite in-range coordinates and
// enumerated severity and time frame.
func (r AccidentRecord) Validate() error {
	if strings.TrimSpace(r.PlaceName) == "" {
		return fmt.Errorf("place name is empty")
	}
	if err := ValidateCoordinates(r.Lat, r.Lon); err != nil {
		return err
	}
	if !r.Severity.Valid() {
		return fmt.Errorf("unknown severity %q", r.Severity)
	}
	if !r.TimeFrame.Valid() {
		return fmt.Errorf("unknown time frame %q", r.TimeFrame)
	}
	switch r.Source {
	case SourceDataset, SourceUser:
	default:
		return fmt.Errorf("unknown source %q", r.Source)
	}
	return nil
}

// ValidateCoordinates rejects non-finite or out-of-range WGS-84 coordinates.
func ValidateCoordinates(lat, lon float64) error {
	if math.IsNaN(lat) || math.IsInf(lat, 0) || lat < -90 || lat > 90 {
		return fmt.Errorf("latitude %v out of range", lat)
	}
	if math.IsNaN(lon) || math.IsInf(lon, 0) || lon < -180 || lon > 180 {
		return fmt.Errorf("longitude %v out of range", lon)
	}
	return nil
}

// MatchesPlace reports whether the record's place name contains query,
// ignoring case. query is expected to be trimmed already.
func (r AccidentRecord) MatchesPlace(query string) bool {
	return strings.Contains(strings.ToLower(r.PlaceName), strings.ToLower(query))
}
