package domain

import "errors"

var (
	// ErrInvalidInput marks bad or missing query input, rejected before any I/O.
	ErrInvalidInput = errors.New("invalid input")

	// ErrValidation marks a rejected report submission. See [ValidationError].
	ErrValidation = errors.New("validation failed")

	// ErrModelShapeMismatch means the feature vector does not match what the
	// model declares it expects.
	ErrModelShapeMismatch = errors.New("model shape mismatch")

	// ErrPrediction wraps any other failure raised by the risk model.
	ErrPrediction = errors.New("prediction failed")

	// ErrStorage marks an unreadable or unwritable backing file.
	ErrStorage = errors.New("storage error")

	// ErrLocationNotFound is returned by geocoders that cannot resolve a place.
	ErrLocationNotFound = errors.New("location not found")

	// ErrGeocoding marks a transient geocoder failure.
	ErrGeocoding = errors.New("geocoding failed")
)

// ValidationError describes why a report submission was rejected.
// It matches ErrValidation under errors.Is.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Reason
}

// Is reports whether target is ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NewValidationError returns a ValidationError with the given reason.
func NewValidationError(reason string) *ValidationError {
	return &ValidationError{Reason: reason}
}
