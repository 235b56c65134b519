// Package domain models road accident records and the risk assessments built
// from them.
//
// # Data Source
//
// Accident records come from a tabular CSV export (historically
// kolkata_accidents.csv). Each row names a place, its WGS-84 coordinates, the
// accident severity, and the daily time slot in which it happened. User
// incident reports are appended to the same file and carry a submission
// timestamp.
//
// # Conventions
//
// Severity:
//
//	"High", "Medium", "Low"  →  ordinal codes 0, 1, 2.
//	Lower code means more severe; the same ordering is used by the
//	supervised severity model.
//
// Time slots:
//
//	"8-11 AM", "12-3 PM", "5-8 PM"  →  codes 0, 1, 2.
//	Parsing ignores surrounding whitespace and letter case.
//
// Coordinates:
//
//	Latitude in [-90, 90], longitude in [-180, 180], both finite.
//	Rows outside these bounds are rejected, never clamped.
//
// # Model Conventions
//
// Two model conventions exist and every artifact records which one it follows:
//
//	severity: features [latitude, longitude, time_frame_num],
//	          output 0/1/2 mapped through the fixed High/Medium/Low table.
//	cluster:  features [latitude, longitude],
//	          output is an arbitrary cluster id; labels come from the artifact.
//
// The risk pipeline selects the feature vector and label table from the
// model's [ModelSpec] rather than guessing from output shape.
package domain
