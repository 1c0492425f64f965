package common

import (
	"errors"
	"net/http"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound       = errors.New("requested resource not found")
	ErrUnauthorized   = errors.New("unauthorized access")
	ErrForbidden      = errors.New("forbidden access")
	ErrBadRequest     = errors.New("bad request")
	ErrConflict       = errors.New("resource conflict")
	ErrInternalServer = errors.New("internal server error")
	ErrValidation     = errors.New("validation failed")
	// ErrInvalidState means the operation is not allowed for the resource's current status.
	ErrInvalidState       = errors.New("invalid state")
	ErrServiceUnavailable = errors.New("service unavailable")
)

// Kind is a specific failure that wraps one of the categories above and
// carries a stable code for clients.
type Kind struct {
	Code     string
	Message  string
	category error
}

func (k *Kind) Error() string { return k.Message }
func (k *Kind) Unwrap() error { return k.category }

func newKind(code, message string, category error) *Kind {
	return &Kind{Code: code, Message: message, category: category}
}

var (
	ErrSignatureMissing = newKind("signature_missing", "missing signature headers", ErrUnauthorized)
	ErrSignatureExpired = newKind("signature_expired", "signature timestamp outside the allowed window", ErrUnauthorized)
	ErrSignatureInvalid = newKind("signature_invalid", "invalid signature", ErrUnauthorized)

	ErrBodyUnreadable = newKind("body_unreadable", "failed to read request body", ErrBadRequest)

	ErrCdkNotConfigured = newKind("not_configured", "CDK claiming is not enabled for this competition", ErrInvalidState)
	ErrNotParticipating = newKind("not_participating", "you are not participating in this competition", ErrForbidden)
	ErrCdkLimitReached  = newKind("limit_reached", "CDK claim limit reached", ErrInvalidState)
	ErrCdkExhausted     = newKind("exhausted", "no CDK codes available", ErrInvalidState)
	ErrCdkConflict      = newKind("conflict", "another claim took the code, please try again", ErrConflict)
)

// HTTPStatusFromError maps domain errors to HTTP status codes.
func HTTPStatusFromError(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if errors.Is(err, ErrNotFound) {
		return http.StatusNotFound
	}
	if errors.Is(err, ErrUnauthorized) {
		return http.StatusUnauthorized
	}
	if errors.Is(err, ErrForbidden) {
		return http.StatusForbidden
	}
	if errors.Is(err, ErrBadRequest) || errors.Is(err, ErrValidation) || errors.Is(err, ErrInvalidState) {
		return http.StatusBadRequest
	}
	if errors.Is(err, ErrConflict) {
		return http.StatusConflict
	}
	if errors.Is(err, ErrServiceUnavailable) {
		return http.StatusServiceUnavailable
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == "23505" { // Unique violation
			return http.StatusConflict
		}
	}

	return http.StatusInternalServerError
}

// ErrorCode returns the stable code of the innermost Kind in err, or "".
func ErrorCode(err error) string {
	var k *Kind
	if errors.As(err, &k) {
		return k.Code
	}
	return ""
}

// IsUniqueViolation reports whether err is a Postgres unique constraint failure.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
