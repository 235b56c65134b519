package store

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/couchcryptid/accident-risk-service/internal/domain"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCSV = `place_name,latitude,longitude,accident_severity,time_frame,date,time
Park Street,22.5535,88.3516,High,8-11 AM,2024-01-15,09:30
Esplanade,22.5646,88.3508,Low,5-8 PM,2024-01-16,18:10
Park Circus,22.5399,88.3705,Medium,12-3 PM,2024-01-17,13:45
`

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeSample(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "accidents.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func userReport(place string, severity domain.Severity) domain.AccidentRecord {
	return domain.AccidentRecord{
		PlaceName:  place,
		Lat:        22.5646,
		Lon:        88.3508,
		Severity:   severity,
		TimeFrame:  domain.SlotEvening,
		Date:       "2024-04-26",
		Time:       "18:05",
		Source:     domain.SourceUser,
		ReportedAt: time.Date(2024, 4, 26, 18, 5, 7, 123, time.UTC),
	}
}

func TestDecode(t *testing.T) {
	records, err := Decode(strings.NewReader(sampleCSV))
	require.NoError(t, err)
	require.Len(t, records, 3)

	first := records[0]
	assert.Equal(t, "Park Street", first.PlaceName)
	assert.Equal(t, 22.5535, first.Lat)
	assert.Equal(t, 88.3516, first.Lon)
	assert.Equal(t, domain.SeverityHigh, first.Severity)
	assert.Equal(t, domain.SlotMorning, first.TimeFrame)
	assert.Equal(t, "2024-01-15", first.Date)
	assert.Equal(t, "09:30", first.Time)
	assert.Equal(t, domain.SourceDataset, first.Source)
	assert.Nil(t, first.Cluster)
	assert.True(t, first.ReportedAt.IsZero())
}

func TestDecode_HeaderVariants(t *testing.T) {
	t.Run("upper case columns in any order", func(t *testing.T) {
		data := "Time,Date,Time_Frame,Accident_Severity,Longitude,Latitude,Place_Name\n09:30,2024-01-15,8-11 AM,high,88.35,22.55,Park Street\n"
		records, err := Decode(strings.NewReader(data))
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, 22.55, records[0].Lat)
		assert.Equal(t, domain.SeverityHigh, records[0].Severity)
	})

	t.Run("clustered export with float cluster ids", func(t *testing.T) {
		data := "place_name,latitude,longitude,accident_severity,time_frame,date,time,severity_num,time_frame_num,cluster\nPark Street,22.55,88.35,High,8-11 AM,2024-01-15,09:30,0,0,3.0\n"
		records, err := Decode(strings.NewReader(data))
		require.NoError(t, err)
		require.NotNil(t, records[0].Cluster)
		assert.Equal(t, 3, *records[0].Cluster)
	})

	t.Run("missing required column", func(t *testing.T) {
		data := "place_name,latitude,longitude,accident_severity,date,time\n"
		_, err := Decode(strings.NewReader(data))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "time_frame")
	})

	t.Run("empty input", func(t *testing.T) {
		_, err := Decode(strings.NewReader(""))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "header")
	})

	t.Run("blank lines skipped", func(t *testing.T) {
		records, err := Decode(strings.NewReader(sampleCSV + ",,,,,,\n"))
		require.NoError(t, err)
		assert.Len(t, records, 3)
	})
}

func TestDecode_RejectsMalformedRows(t *testing.T) {
	head := "place_name,latitude,longitude,accident_severity,time_frame,date,time\n"
	tests := []struct {
		name    string
		row     string
		wantErr string
	}{
		{"latitude not a number", "Park Street,abc,88.35,High,8-11 AM,2024-01-15,09:30", "latitude"},
		{"latitude out of range", "Park Street,95,88.35,High,8-11 AM,2024-01-15,09:30", "latitude"},
		{"longitude NaN", "Park Street,22.5,NaN,High,8-11 AM,2024-01-15,09:30", "longitude"},
		{"unknown severity", "Park Street,22.5,88.35,Fatal,8-11 AM,2024-01-15,09:30", "severity"},
		{"unknown slot", "Park Street,22.5,88.35,High,1-4 AM,2024-01-15,09:30", "time slot"},
		{"empty place", ",22.5,88.35,High,8-11 AM,2024-01-15,09:30", "place name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(head + tt.row + "\n"))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Contains(t, err.Error(), "line 2")

			var rowErr *RowError
			require.ErrorAs(t, err, &rowErr)
			assert.Equal(t, 2, rowErr.Line)
		})
	}
}

func TestDecodeLenient(t *testing.T) {
	data := sampleCSV + "Broken,x,y,High,8-11 AM,2024-01-18,10:00\n"
	records, rowErrs, err := DecodeLenient(strings.NewReader(data))
	require.NoError(t, err)
	assert.Len(t, records, 3)
	require.Len(t, rowErrs, 1)
	assert.Equal(t, 5, rowErrs[0].Line)
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	records, err := Decode(strings.NewReader(sampleCSV))
	require.NoError(t, err)

	cluster := 2
	records[1].Cluster = &cluster
	records = append(records, userReport("Esplanade Metro", domain.SeverityHigh))

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, records))

	assert.True(t, strings.HasPrefix(buf.String(),
		"place_name,latitude,longitude,accident_severity,time_frame,date,time,severity_num,time_frame_num,cluster,source,reported_at\n"))
	assert.Contains(t, buf.String(), "Park Street,22.5535,88.3516,High,8-11 AM,2024-01-15,09:30,0,0,,dataset,\n")

	reloaded, err := Decode(&buf)
	require.NoError(t, err)
	if diff := cmp.Diff(records, reloaded); diff != "" {
		t.Fatalf("round-trip mismatch (-want +got):\n%s", diff)
	}
}

func TestOpen(t *testing.T) {
	t.Run("loads file", func(t *testing.T) {
		s, err := Open(writeSample(t, sampleCSV), discardLogger())
		require.NoError(t, err)
		assert.Equal(t, 3, s.Len())
	})

	t.Run("missing file names path", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nope.csv")
		_, err := Open(path, discardLogger())
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrStorage)
		assert.Contains(t, err.Error(), path)
	})

	t.Run("malformed row is a storage error", func(t *testing.T) {
		path := writeSample(t, sampleCSV+"Bad,1,2,Huge,8-11 AM,d,t\n")
		_, err := Open(path, discardLogger())
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrStorage)
		assert.Contains(t, err.Error(), "line 5")
	})
}

func TestStore_AppendPersists(t *testing.T) {
	path := writeSample(t, sampleCSV)
	s, err := Open(path, discardLogger())
	require.NoError(t, err)

	before := s.Records()
	rec := userReport("Esplanade", domain.SeverityLow)
	require.NoError(t, s.Append(context.Background(), rec))

	assert.Equal(t, 4, s.Len())
	assert.Len(t, before, 3, "earlier snapshots are not affected by appends")

	reopened, err := Open(path, discardLogger())
	require.NoError(t, err)
	if diff := cmp.Diff(s.Records(), reopened.Records()); diff != "" {
		t.Fatalf("persisted table mismatch (-memory +disk):\n%s", diff)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files are cleaned up")
}

func TestStore_AppendRejectsInvalid(t *testing.T) {
	path := writeSample(t, sampleCSV)
	s, err := Open(path, discardLogger())
	require.NoError(t, err)

	rec := userReport("Nowhere", domain.SeverityHigh)
	rec.Lat = 123
	require.Error(t, s.Append(context.Background(), rec))
	assert.Equal(t, 3, s.Len())
}

func TestStore_AppendWriteFailureLeavesStoreUnchanged(t *testing.T) {
	records, err := Decode(strings.NewReader(sampleCSV))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "missing-dir", "accidents.csv")
	s := New(path, records, discardLogger())

	err = s.Append(context.Background(), userReport("Esplanade", domain.SeverityLow))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrStorage)
	assert.Equal(t, 3, s.Len())
}

func TestStore_Save(t *testing.T) {
	records, err := Decode(strings.NewReader(sampleCSV))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "out.csv")
	require.NoError(t, New(path, records, discardLogger()).Save())

	reopened, err := Open(path, discardLogger())
	require.NoError(t, err)
	assert.Equal(t, records, reopened.Records())
}

func TestStore_Places(t *testing.T) {
	records, err := Decode(strings.NewReader(sampleCSV + "Park Street,22.55,88.35,Low,5-8 PM,2024-02-01,19:00\n"))
	require.NoError(t, err)

	s := New("unused.csv", records, discardLogger())
	assert.Equal(t, []string{"Esplanade", "Park Circus", "Park Street"}, s.Places())
}

func TestGazetteer(t *testing.T) {
	records, err := Decode(strings.NewReader(sampleCSV + "Park Street,22.5545,88.3526,Low,5-8 PM,2024-02-01,19:00\n"))
	require.NoError(t, err)
	g := NewGazetteer(New("unused.csv", records, discardLogger()))

	t.Run("averages matching records", func(t *testing.T) {
		result, err := g.Geocode(context.Background(), "  park street ")
		require.NoError(t, err)
		assert.InDelta(t, 22.554, result.Lat, 1e-9)
		assert.InDelta(t, 88.3521, result.Lon, 1e-9)
		assert.Equal(t, "Park Street", result.PlaceName)
	})

	t.Run("substring is not enough", func(t *testing.T) {
		_, err := g.Geocode(context.Background(), "park")
		assert.ErrorIs(t, err, domain.ErrLocationNotFound)
	})

	t.Run("empty query", func(t *testing.T) {
		_, err := g.Geocode(context.Background(), "")
		assert.ErrorIs(t, err, domain.ErrLocationNotFound)
	})
}
