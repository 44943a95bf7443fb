// Package taxonomy defines the closed table of error kinds Ratchet's core
// surfaces can return, each carrying a fixed category, HTTP status,
// retryability, and retry-delay hint. The table is a constant map, not
// scattered status/retry logic at call sites (spec §9 design note).
package taxonomy

import (
	"errors"
	"fmt"
	"time"
)

// Category groups error kinds for coarse-grained handling (logging,
// alerting thresholds) without requiring callers to switch on every kind.
type Category string

const (
	CategoryNotFound      Category = "NotFound"
	CategoryValidation    Category = "Validation"
	CategoryClient        Category = "Client"
	CategoryServer        Category = "Server"
	CategoryNetwork       Category = "Network"
	CategoryConfiguration Category = "Configuration"
)

// Kind is one of the closed set of error kinds spec §7 names.
type Kind string

const (
	TaskNotFound            Kind = "TASK_NOT_FOUND"
	TaskValidationFailed    Kind = "TASK_VALIDATION_FAILED"
	TaskDisabled            Kind = "TASK_DISABLED"
	TaskDeprecated          Kind = "TASK_DEPRECATED"
	ExecutionNotFound       Kind = "EXECUTION_NOT_FOUND"
	ExecutionFailed         Kind = "EXECUTION_FAILED"
	ExecutionCancelled      Kind = "EXECUTION_CANCELLED"
	ExecutionTimeout        Kind = "EXECUTION_TIMEOUT"
	WorkerError             Kind = "EXECUTION_WORKER_ERROR"
	StorageNotFound         Kind = "ENTITY_NOT_FOUND"
	StorageConnectionFailed Kind = "STORAGE_CONNECTION_FAILED"
	StorageQueryFailed      Kind = "STORAGE_QUERY_FAILED"
	StorageDuplicateKey     Kind = "STORAGE_DUPLICATE_KEY"
	ConfigErrorKind         Kind = "CONFIG_ERROR"
	ValidationErrorKind     Kind = "VALIDATION_ERROR"
	ServiceUnavailable      Kind = "SERVICE_UNAVAILABLE"
	NetworkKind             Kind = "NETWORK_ERROR"
	IoKind                  Kind = "IO_ERROR"
	SerializationKind       Kind = "SERIALIZATION_ERROR"
	TimeoutKind             Kind = "TIMEOUT"
	AuthenticationFailed    Kind = "AUTHENTICATION_FAILED"
	AuthorizationDenied     Kind = "AUTHORIZATION_DENIED"
	RateLimited             Kind = "RATE_LIMITED"
	Internal                Kind = "INTERNAL_ERROR"
)

// Metadata is the fixed, per-kind record: category, HTTP status,
// retryability, and an optional retry-delay hint.
type Metadata struct {
	Category   Category
	HTTPStatus int
	Retryable  bool
	RetryDelay time.Duration
}

// table mirrors ratchet-core/src/error.rs's StandardizedError::metadata()
// match arms, translated from Rust's enum+match into a Go constant map.
var table = map[Kind]Metadata{
	TaskNotFound:            {CategoryNotFound, 404, false, 0},
	TaskValidationFailed:    {CategoryValidation, 400, false, 0},
	TaskDisabled:            {CategoryClient, 403, false, 0},
	TaskDeprecated:          {CategoryClient, 410, false, 0},
	ExecutionNotFound:       {CategoryNotFound, 404, false, 0},
	ExecutionFailed:         {CategoryServer, 500, false, 0},
	ExecutionCancelled:      {CategoryClient, 400, false, 0},
	ExecutionTimeout:        {CategoryNetwork, 408, true, 2 * time.Second},
	WorkerError:             {CategoryServer, 500, true, 1 * time.Second},
	StorageNotFound:         {CategoryNotFound, 404, false, 0},
	StorageConnectionFailed: {CategoryNetwork, 503, true, 1 * time.Second},
	StorageQueryFailed:      {CategoryServer, 500, false, 0},
	StorageDuplicateKey:     {CategoryClient, 409, false, 0},
	ConfigErrorKind:         {CategoryConfiguration, 500, false, 0},
	ValidationErrorKind:     {CategoryValidation, 400, false, 0},
	ServiceUnavailable:      {CategoryNetwork, 503, true, 5 * time.Second},
	NetworkKind:             {CategoryNetwork, 503, true, 1 * time.Second},
	IoKind:                  {CategoryServer, 500, true, 500 * time.Millisecond},
	SerializationKind:       {CategoryClient, 400, false, 0},
	TimeoutKind:             {CategoryNetwork, 408, true, 2 * time.Second},
	AuthenticationFailed:    {CategoryClient, 401, false, 0},
	AuthorizationDenied:     {CategoryClient, 403, false, 0},
	RateLimited:             {CategoryClient, 429, true, 1 * time.Second},
	Internal:                {CategoryServer, 500, false, 0},
}

// MetadataFor returns the fixed metadata for a kind, falling back to
// Internal's metadata for any kind outside the closed table (defensive
// only — every constructor below uses a table-backed kind).
func MetadataFor(k Kind) Metadata {
	if m, ok := table[k]; ok {
		return m
	}
	return table[Internal]
}

// Error is a taxonomy-classified error: a stable kind plus a human message.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

func (e *Error) Metadata() Metadata { return MetadataFor(e.Kind) }

// Retryable reports whether err (or a wrapped *Error within it) is
// retryable per the closed table. Non-taxonomy errors are conservatively
// treated as non-retryable.
func Retryable(err error) bool {
	var te *Error
	if errors.As(err, &te) {
		return te.Metadata().Retryable
	}
	return false
}

// RetryDelay returns the table's retry-delay hint for err, or 0 if err is
// not a taxonomy error or carries no hint.
func RetryDelay(err error) time.Duration {
	var te *Error
	if errors.As(err, &te) {
		return te.Metadata().RetryDelay
	}
	return 0
}

// KindOf extracts the Kind from err, or Internal if err isn't a taxonomy
// error.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return Internal
}

// HTTPStatus returns the fixed HTTP status for err's kind.
func HTTPStatus(err error) int {
	var te *Error
	if errors.As(err, &te) {
		return te.Metadata().HTTPStatus
	}
	return 500
}
