package services

import "errors"

type ErrorCode string

const (
	ErrorInvalid      ErrorCode = "invalid"
	ErrorUnauthorized ErrorCode = "unauthorized"
	ErrorNotFound     ErrorCode = "not_found"
	ErrorPoolState    ErrorCode = "pool_state"
	ErrorConflict     ErrorCode = "conflict"
)

// Reason narrows a Conflict or PoolState error so the HTTP layer can pick a
// status without parsing messages.
type Reason string

const (
	ReasonNone          Reason = ""
	ReasonSelfReview    Reason = "self_review"
	ReasonQuotaExceeded Reason = "quota_exceeded"
	ReasonDuplicate     Reason = "duplicate"
	ReasonPoolExpired   Reason = "pool_expired"
	ReasonSurveyInUse   Reason = "survey_in_use"
)

type ServiceError struct {
	Code    ErrorCode
	Reason  Reason
	Message string
}

func (e *ServiceError) Error() string { return e.Message }

// Is matches on Code and Reason so callers can compare against the
// sentinel values below with errors.Is.
func (e *ServiceError) Is(target error) bool {
	t, ok := target.(*ServiceError)
	if !ok {
		return false
	}
	return e.Code == t.Code && e.Reason == t.Reason
}

func NewInvalidError(msg string) error  { return &ServiceError{Code: ErrorInvalid, Message: msg} }
func NewNotFoundError(msg string) error { return &ServiceError{Code: ErrorNotFound, Message: msg} }
func NewUnauthorizedError(msg string) error {
	return &ServiceError{Code: ErrorUnauthorized, Message: msg}
}
func NewConflictError(reason Reason, msg string) error {
	return &ServiceError{Code: ErrorConflict, Reason: reason, Message: msg}
}

// ErrInvalidCredential is the only credential failure callers ever see.
var ErrInvalidCredential = &ServiceError{Code: ErrorUnauthorized, Message: "invalid or expired credential"}

var (
	ErrPoolExpired   = &ServiceError{Code: ErrorPoolState, Reason: ReasonPoolExpired, Message: "pool expired"}
	ErrSelfReview    = &ServiceError{Code: ErrorConflict, Reason: ReasonSelfReview, Message: "cannot submit feedback about yourself"}
	ErrQuotaExceeded = &ServiceError{Code: ErrorConflict, Reason: ReasonQuotaExceeded, Message: "submission quota exceeded"}
	ErrDuplicate     = &ServiceError{Code: ErrorConflict, Reason: ReasonDuplicate, Message: "feedback for this member was already submitted"}
)

// Storage sentinels. Stores translate driver-specific constraint failures
// into these so services stay driver agnostic.
var (
	ErrDuplicateResponse = errors.New("duplicate response")
	ErrQuotaReached      = errors.New("submission quota reached")
	ErrDuplicateMember   = errors.New("duplicate pool member")
)

func AsServiceError(err error) (*ServiceError, bool) {
	var se *ServiceError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
