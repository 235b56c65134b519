// Package risk implements the risk query pipeline and report intake on top of
// the record store, risk model, and geocoder.
package risk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/couchcryptid/accident-risk-service/internal/domain"
	"github.com/couchcryptid/accident-risk-service/internal/observability"
	"github.com/jonboulle/clockwork"
)

const (
	dateLayout     = "2006-01-02"
	timeLayout     = "15:04"
	publishTimeout = 5 * time.Second
)

// RecordStore is the accident table the service reads and appends to.
type RecordStore interface {
	Records() []domain.AccidentRecord
	Append(ctx context.Context, rec domain.AccidentRecord) error
}

// ReportPublisher forwards accepted reports to downstream consumers.
type ReportPublisher interface {
	PublishReport(ctx context.Context, rec domain.AccidentRecord) error
}

// Service answers risk queries and accepts user reports. It is built once at
// startup and shared by all requests.
type Service struct {
	store     RecordStore
	model     domain.RiskModel
	geocoder  domain.Geocoder
	publisher ReportPublisher
	clock     clockwork.Clock
	location  *time.Location
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// Option configures optional Service collaborators.
type Option func(*Service)

// WithPublisher publishes every accepted report after it is persisted.
func WithPublisher(p ReportPublisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithClock overrides the clock used to stamp reports.
func WithClock(c clockwork.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithLocation sets the timezone report date and time are written in.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) { s.location = loc }
}

// NewService wires the pipeline collaborators.
func NewService(store RecordStore, model domain.RiskModel, geocoder domain.Geocoder, logger *slog.Logger, metrics *observability.Metrics, opts ...Option) *Service {
	s := &Service{
		store:    store,
		model:    model,
		geocoder: geocoder,
		clock:    clockwork.NewRealClock(),
		location: time.UTC,
		logger:   logger,
		metrics:  metrics,
	}
	for _, opt := range opts {
		opt(s)
	}
	metrics.StoreRecords.Set(float64(len(store.Records())))
	return s
}

// CheckReadiness reports whether the loaded model follows a known convention.
func (s *Service) CheckReadiness(_ context.Context) error {
	if err := s.model.Spec().CheckFeatures(); err != nil {
		return fmt.Errorf("model not usable: %w", err)
	}
	return nil
}

// Assess predicts the risk of placeQuery during timeSlot from the records
// whose place name contains placeQuery. No matches is a valid result labelled
// Unknown; the model is not consulted in that case.
func (s *Service) Assess(ctx context.Context, placeQuery, timeSlot string) (domain.RiskAssessment, error) {
	place := strings.TrimSpace(placeQuery)
	if place == "" {
		s.metrics.AssessmentErrors.WithLabelValues("invalid_input").Inc()
		return domain.RiskAssessment{}, fmt.Errorf("%w: place query is empty", domain.ErrInvalidInput)
	}
	slot, err := domain.ParseTimeSlot(timeSlot)
	if err != nil {
		s.metrics.AssessmentErrors.WithLabelValues("invalid_input").Inc()
		return domain.RiskAssessment{}, fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
	}

	matched := make([]domain.AccidentRecord, 0)
	for _, rec := range s.store.Records() {
		if rec.MatchesPlace(place) {
			matched = append(matched, rec)
		}
	}

	a := domain.RiskAssessment{
		Place:   place,
		Slot:    slot,
		Label:   domain.RiskUnknown,
		Matched: matched,
		Slots:   summarizeSlots(matched),
	}
	if len(matched) == 0 {
		s.metrics.Assessments.WithLabelValues(string(a.Label)).Inc()
		s.logger.Debug("no records matched", "place", place, "slot", slot)
		return a, nil
	}

	a.HighRiskReports = countHighRiskReports(matched)
	a.TypicalSeverity, a.TypicalTime = typicalForSlot(matched, slot)

	spec := s.model.Spec()
	features, err := featureVector(spec, matched, slot)
	if err != nil {
		s.metrics.AssessmentErrors.WithLabelValues("shape_mismatch").Inc()
		return domain.RiskAssessment{}, err
	}

	start := time.Now()
	output, err := s.model.Predict(ctx, features)
	s.metrics.ModelPredictDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, domain.ErrModelShapeMismatch) {
			s.metrics.AssessmentErrors.WithLabelValues("shape_mismatch").Inc()
			return domain.RiskAssessment{}, fmt.Errorf("predict %s: %w", place, err)
		}
		s.metrics.AssessmentErrors.WithLabelValues("prediction").Inc()
		if errors.Is(err, domain.ErrPrediction) {
			return domain.RiskAssessment{}, fmt.Errorf("predict %s: %w", place, err)
		}
		return domain.RiskAssessment{}, fmt.Errorf("%w: predict %s: %w", domain.ErrPrediction, place, err)
	}

	a.Features = features
	a.ModelOutput = &output
	a.Label = domain.MapLabel(spec.LabelTable(), output)

	s.metrics.Assessments.WithLabelValues(string(a.Label)).Inc()
	s.logger.Debug("risk assessed",
		"place", place,
		"slot", slot,
		"matched", len(matched),
		"output", output,
		"label", a.Label,
	)
	return a, nil
}

// Submit validates a user report, resolves its location, and appends it to
// the record store. The record is visible to Assess once Submit returns
// without error.
func (s *Service) Submit(ctx context.Context, placeText, timeSlot, severity string) (domain.AccidentRecord, error) {
	place := strings.TrimSpace(placeText)
	if place == "" {
		return s.reject("missing location")
	}
	slot, err := domain.ParseTimeSlot(timeSlot)
	if err != nil {
		return s.reject("invalid time slot")
	}
	sev, err := domain.ParseSeverity(severity)
	if err != nil {
		return s.reject("invalid severity")
	}

	geo, err := s.geocoder.Geocode(ctx, place)
	if errors.Is(err, domain.ErrLocationNotFound) {
		return s.reject("location not resolvable")
	}
	if err != nil {
		s.metrics.ReportsSubmitted.WithLabelValues("geocode_error").Inc()
		if !errors.Is(err, domain.ErrGeocoding) {
			err = fmt.Errorf("%w: %w", domain.ErrGeocoding, err)
		}
		return domain.AccidentRecord{}, fmt.Errorf("geocode %q: %w", place, err)
	}
	if err := domain.ValidateCoordinates(geo.Lat, geo.Lon); err != nil {
		s.logger.Warn("geocoder returned invalid coordinates", "place", place, "error", err)
		return s.reject("location not resolvable")
	}

	now := s.clock.Now().In(s.location)
	rec := domain.AccidentRecord{
		PlaceName:  place,
		Lat:        geo.Lat,
		Lon:        geo.Lon,
		Severity:   sev,
		TimeFrame:  slot,
		Date:       now.Format(dateLayout),
		Time:       now.Format(timeLayout),
		Source:     domain.SourceUser,
		ReportedAt: now,
	}

	if err := s.store.Append(ctx, rec); err != nil {
		s.metrics.ReportsSubmitted.WithLabelValues("storage_error").Inc()
		if !errors.Is(err, domain.ErrStorage) {
			err = fmt.Errorf("%w: %w", domain.ErrStorage, err)
		}
		return domain.AccidentRecord{}, err
	}

	s.metrics.ReportsSubmitted.WithLabelValues("accepted").Inc()
	s.metrics.StoreRecords.Set(float64(len(s.store.Records())))
	s.logger.Info("report accepted",
		"place", place,
		"slot", slot,
		"severity", sev,
		"lat", geo.Lat,
		"lon", geo.Lon,
	)

	s.publish(ctx, rec)
	return rec, nil
}

func (s *Service) reject(reason string) (domain.AccidentRecord, error) {
	s.metrics.ReportsSubmitted.WithLabelValues("rejected").Inc()
	return domain.AccidentRecord{}, domain.NewValidationError(reason)
}

// publish forwards rec to the report feed. Failures are logged and counted
// but never fail the submission; the record is already persisted.
func (s *Service) publish(ctx context.Context, rec domain.AccidentRecord) {
	if s.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := s.publisher.PublishReport(ctx, rec); err != nil {
		s.metrics.ReportsPublished.WithLabelValues("error").Inc()
		s.logger.Warn("report feed publish failed", "place", rec.PlaceName, "error", err)
		return
	}
	s.metrics.ReportsPublished.WithLabelValues("success").Inc()
}
