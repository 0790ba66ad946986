package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies failures surfaced by the persister, the cursor and the
// storage collaborators.
type ErrorKind string

// Error kinds.
const (
	ErrorKindUnsupportedValue        ErrorKind = "unsupported_value_kind"
	ErrorKindInvalidObservationType  ErrorKind = "invalid_observation_type"
	ErrorKindDuplicateObservation    ErrorKind = "duplicate_observation"
	ErrorKindUnknownObservedProperty ErrorKind = "unknown_observed_property"
	ErrorKindTooManyResults          ErrorKind = "too_many_results"
	ErrorKindStorage                 ErrorKind = "storage_failure"
	ErrorKindNotFound                ErrorKind = "not_found"
)

// Sentinels usable with errors.Is.
var (
	ErrUnsupportedValueKind    = errors.New("unsupported value kind")
	ErrInvalidObservationType  = errors.New("invalid observation type")
	ErrDuplicateObservation    = errors.New("duplicate observation")
	ErrUnknownObservedProperty = errors.New("unknown observed property")
	ErrTooManyResults          = errors.New("too many results")
	ErrStorage                 = errors.New("storage failure")
	ErrNotFound                = errors.New("not found")
)

// UnsupportedValueKindError rejects a value the store cannot persist.
type UnsupportedValueKindError struct {
	Kind Kind
}

func (e *UnsupportedValueKindError) Error() string {
	return fmt.Sprintf("unsupported observation value %s", e.Kind)
}

// Is matches ErrUnsupportedValueKind.
func (e *UnsupportedValueKindError) Is(target error) bool { return target == ErrUnsupportedValueKind }

// InvalidObservationTypeError reports a value routed to a dataset whose
// declared observation type does not allow it.
type InvalidObservationTypeError struct {
	Requested  ObservationType
	Expected   ObservationType
	DatasetID  int64
	Procedure  string
	Phenomenon string
	Offering   string
}

func (e *InvalidObservationTypeError) Error() string {
	return fmt.Sprintf("the requested observationType (%s) is invalid for procedure = %s, observedProperty = %s and offering = %s; the valid observationType is '%s'",
		e.Requested, e.Procedure, e.Phenomenon, e.Offering, e.Expected)
}

// Is matches ErrInvalidObservationType.
func (e *InvalidObservationTypeError) Is(target error) bool {
	return target == ErrInvalidObservationType
}

// DuplicateObservationError reports an observation already stored for the
// same series and time window, or under the same identifier.
type DuplicateObservationError struct {
	DatasetID  int64
	Identifier string
	Start      time.Time
	End        time.Time
	ResultTime *time.Time
}

func (e *DuplicateObservationError) Error() string {
	if e.Identifier != "" {
		return fmt.Sprintf("observation with identifier %q already exists", e.Identifier)
	}
	msg := fmt.Sprintf("observation for dataset %d with phenomenon time %s/%s already exists",
		e.DatasetID, e.Start.Format(time.RFC3339Nano), e.End.Format(time.RFC3339Nano))
	if e.ResultTime != nil {
		msg += " (result time " + e.ResultTime.Format(time.RFC3339Nano) + ")"
	}
	return msg
}

// Is matches ErrDuplicateObservation.
func (e *DuplicateObservationError) Is(target error) bool { return target == ErrDuplicateObservation }

// UnknownObservedPropertyError reports a child definition with no matching
// observed property.
type UnknownObservedPropertyError struct {
	Identifier string
}

func (e *UnknownObservedPropertyError) Error() string {
	return fmt.Sprintf("observed property %q is not known", e.Identifier)
}

// Is matches ErrUnknownObservedProperty.
func (e *UnknownObservedPropertyError) Is(target error) bool {
	return target == ErrUnknownObservedProperty
}

// TooManyResultsError aborts a streaming read that exceeded the configured
// maximum of returned values.
type TooManyResultsError struct {
	SeriesID int64
	Limit    int
	Count    int
}

func (e *TooManyResultsError) Error() string {
	return fmt.Sprintf("series %d: %d values exceed the maximum of %d returned values", e.SeriesID, e.Count, e.Limit)
}

// Is matches ErrTooManyResults.
func (e *TooManyResultsError) Is(target error) bool { return target == ErrTooManyResults }

// StorageError wraps any failure raised by a storage gateway.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("storage %s: %v", e.Op, e.Err) }

// Unwrap exposes the gateway error.
func (e *StorageError) Unwrap() error { return e.Err }

// Is matches ErrStorage.
func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// WrapStorage wraps err as a StorageError unless it already carries a domain
// classification.
func WrapStorage(op string, err error) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != "" {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// NotFoundError reports a missing entity in a lookup collaborator.
type NotFoundError struct {
	Entity string
	Key    string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s %s not found", e.Entity, e.Key) }

// Is matches ErrNotFound.
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// KindOf classifies err, returning "" for errors outside the taxonomy.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnsupportedValueKind):
		return ErrorKindUnsupportedValue
	case errors.Is(err, ErrInvalidObservationType):
		return ErrorKindInvalidObservationType
	case errors.Is(err, ErrDuplicateObservation):
		return ErrorKindDuplicateObservation
	case errors.Is(err, ErrUnknownObservedProperty):
		return ErrorKindUnknownObservedProperty
	case errors.Is(err, ErrTooManyResults):
		return ErrorKindTooManyResults
	case errors.Is(err, ErrStorage):
		return ErrorKindStorage
	case errors.Is(err, ErrNotFound):
		return ErrorKindNotFound
	}
	return ""
}
