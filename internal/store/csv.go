package store

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/accident-risk-service/internal/domain"
)

// Column names of the backing file. Input headers are matched case-insensitively.
const (
	colPlaceName    = "place_name"
	colLatitude     = "latitude"
	colLongitude    = "longitude"
	colSeverity     = "accident_severity"
	colTimeFrame    = "time_frame"
	colDate         = "date"
	colTime         = "time"
	colSeverityNum  = "severity_num"
	colTimeFrameNum = "time_frame_num"
	colCluster      = "cluster"
	colSource       = "source"
	colReportedAt   = "reported_at"
)

// header is the canonical column order written by Encode.
var header = []string{
	colPlaceName, colLatitude, colLongitude, colSeverity, colTimeFrame, colDate, colTime,
	colSeverityNum, colTimeFrameNum, colCluster, colSource, colReportedAt,
}

var requiredColumns = []string{
	colPlaceName, colLatitude, colLongitude, colSeverity, colTimeFrame, colDate, colTime,
}

// RowError reports a malformed row. Line is the 1-based line in the file,
// counting the header.
type RowError struct {
	Line int
	Err  error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }

// Decode reads accident records from CSV. The first row must be a header
// naming at least the required columns. Any malformed row fails the whole
// decode; see [DecodeLenient] for the collecting variant.
func Decode(r io.Reader) ([]domain.AccidentRecord, error) {
	records, rowErrs, err := decode(r)
	if err != nil {
		return nil, err
	}
	if len(rowErrs) > 0 {
		return nil, rowErrs[0]
	}
	return records, nil
}

// DecodeLenient reads every parseable row and returns the rejected ones
// separately. It still fails on a missing or incomplete header.
func DecodeLenient(r io.Reader) ([]domain.AccidentRecord, []*RowError, error) {
	return decode(r)
}

func decode(r io.Reader) ([]domain.AccidentRecord, []*RowError, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	head, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, errors.New("missing header row")
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read header: %w", err)
	}

	index := make(map[string]int, len(head))
	for i, name := range head {
		index[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))] = i
	}
	for _, col := range requiredColumns {
		if _, ok := index[col]; !ok {
			return nil, nil, fmt.Errorf("missing required column %q", col)
		}
	}

	var (
		records []domain.AccidentRecord
		rowErrs []*RowError
	)
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if !errors.As(err, &parseErr) {
				return nil, nil, fmt.Errorf("read row: %w", err)
			}
			rowErrs = append(rowErrs, &RowError{Line: parseErr.Line, Err: parseErr.Err})
			continue
		}
		line, _ := cr.FieldPos(0)
		if isBlank(row) {
			continue
		}
		rec, err := parseRow(row, index)
		if err != nil {
			rowErrs = append(rowErrs, &RowError{Line: line, Err: err})
			continue
		}
		records = append(records, rec)
	}
	return records, rowErrs, nil
}

func parseRow(row []string, index map[string]int) (domain.AccidentRecord, error) {
	field := func(col string) string {
		i, ok := index[col]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	lat, err := strconv.ParseFloat(field(colLatitude), 64)
	if err != nil {
		return domain.AccidentRecord{}, fmt.Errorf("parse latitude: %w", err)
	}
	lon, err := strconv.ParseFloat(field(colLongitude), 64)
	if err != nil {
		return domain.AccidentRecord{}, fmt.Errorf("parse longitude: %w", err)
	}
	severity, err := domain.ParseSeverity(field(colSeverity))
	if err != nil {
		return domain.AccidentRecord{}, err
	}
	slot, err := domain.ParseTimeSlot(field(colTimeFrame))
	if err != nil {
		return domain.AccidentRecord{}, err
	}

	rec := domain.AccidentRecord{
		PlaceName: field(colPlaceName),
		Lat:       lat,
		Lon:       lon,
		Severity:  severity,
		TimeFrame: slot,
		Date:      field(colDate),
		Time:      field(colTime),
		Source:    domain.SourceDataset,
	}

	if v := field(colCluster); v != "" {
		// Clustered exports from pandas may write ids as floats ("3.0").
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f != float64(int(f)) {
			return domain.AccidentRecord{}, fmt.Errorf("parse cluster %q", v)
		}
		c := int(f)
		rec.Cluster = &c
	}
	if v := field(colSource); v != "" {
		rec.Source = domain.Source(strings.ToLower(v))
	}
	if v := field(colReportedAt); v != "" {
		ts, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return domain.AccidentRecord{}, fmt.Errorf("parse reported_at: %w", err)
		}
		rec.ReportedAt = ts
	}

	if err := rec.Validate(); err != nil {
		return domain.AccidentRecord{}, err
	}
	return rec, nil
}

// Encode writes records as CSV with the canonical header. Derived
// severity_num and time_frame_num columns are recomputed from the enums.
func Encode(w io.Writer, records []domain.AccidentRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i := range records {
		if err := cw.Write(formatRow(records[i])); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatRow(r domain.AccidentRecord) []string {
	cluster := ""
	if r.Cluster != nil {
		cluster = strconv.Itoa(*r.Cluster)
	}
	reportedAt := ""
	if !r.ReportedAt.IsZero() {
		reportedAt = r.ReportedAt.Format(time.RFC3339Nano)
	}
	return []string{
		r.PlaceName,
		strconv.FormatFloat(r.Lat, 'f', -1, 64),
		strconv.FormatFloat(r.Lon, 'f', -1, 64),
		string(r.Severity),
		string(r.TimeFrame),
		r.Date,
		r.Time,
		strconv.Itoa(r.Severity.Code()),
		strconv.Itoa(r.TimeFrame.Code()),
		cluster,
		string(r.Source),
		reportedAt,
	}
}

func isBlank(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
