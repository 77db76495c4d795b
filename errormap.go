package quill

import (
	"errors"
	"net/http"
)

// ErrorKind is the canonical error taxonomy every layer (handler contract,
// REST gateway, gRPC bridge) maps through. It is the single source of truth
// for §4.3 — callers MUST NOT invent new HTTP codes for a kind in this
// table.
type ErrorKind uint8

const (
	ErrorUnknown ErrorKind = iota
	ErrorInvalidArgument
	ErrorUnauthenticated
	ErrorPermissionDenied
	ErrorNotFound
	ErrorConflict
	ErrorAlreadyExists
	ErrorFailedPrecondition
	ErrorOutOfRange
	ErrorResourceExhausted
	ErrorRateLimited
	ErrorCancelled
	ErrorDeadlineExceeded
	ErrorUnimplemented
	ErrorUnavailable
	ErrorInternal
	ErrorDataLoss
	ErrorTooEarly
)

type kindInfo struct {
	status int
	title  string
	typ    string // stable URI suffix; distinct per kind even when status collides
}

// kindTable is total over ErrorKind and injective on the `typ` field per §8
// invariant 6: distinct kinds may share an HTTP status but never a type URI.
var kindTable = map[ErrorKind]kindInfo{
	ErrorUnknown:            {http.StatusInternalServerError, "Unknown", "unknown"},
	ErrorInvalidArgument:    {http.StatusBadRequest, "Invalid Argument", "invalid-argument"},
	ErrorUnauthenticated:    {http.StatusUnauthorized, "Unauthenticated", "unauthenticated"},
	ErrorPermissionDenied:   {http.StatusForbidden, "Permission Denied", "permission-denied"},
	ErrorNotFound:           {http.StatusNotFound, "Not Found", "not-found"},
	ErrorConflict:           {http.StatusConflict, "Conflict", "conflict"},
	ErrorAlreadyExists:      {http.StatusConflict, "Already Exists", "already-exists"},
	ErrorFailedPrecondition: {http.StatusBadRequest, "Failed Precondition", "failed-precondition"},
	ErrorOutOfRange:         {http.StatusBadRequest, "Out Of Range", "out-of-range"},
	ErrorResourceExhausted:  {http.StatusTooManyRequests, "Resource Exhausted", "resource-exhausted"},
	ErrorRateLimited:        {http.StatusTooManyRequests, "Rate Limited", "rate-limited"},
	ErrorCancelled:          {499, "Cancelled", "cancelled"},
	ErrorDeadlineExceeded:   {http.StatusGatewayTimeout, "Deadline Exceeded", "deadline-exceeded"},
	ErrorUnimplemented:      {http.StatusNotImplemented, "Unimplemented", "unimplemented"},
	ErrorUnavailable:        {http.StatusServiceUnavailable, "Unavailable", "unavailable"},
	ErrorInternal:           {http.StatusInternalServerError, "Internal", "internal"},
	ErrorDataLoss:           {http.StatusInternalServerError, "Data Loss", "data-loss"},
	ErrorTooEarly:           {425, "Too Early", "too-early"},
}

// problemTypeBase prefixes every Problem Details `type` URI. Kept as a
// variable (not a const) so embedders can repoint it at their own docs host
// without forking the table.
var problemTypeBase = "https://quill.dev/problems/"

// Status returns the HTTP status code k maps to.
func (k ErrorKind) Status() int {
	if info, ok := kindTable[k]; ok {
		return info.status
	}
	return http.StatusInternalServerError
}

// Title returns the Title Case name used as Problem Details `title`.
func (k ErrorKind) Title() string {
	if info, ok := kindTable[k]; ok {
		return info.title
	}
	return "Unknown"
}

// TypeURI returns the stable, kind-specific Problem Details `type` URI.
func (k ErrorKind) TypeURI() string {
	if info, ok := kindTable[k]; ok {
		return problemTypeBase + info.typ
	}
	return problemTypeBase + "unknown"
}

// Error is a canonical-kind error carrying an optional human-readable detail
// and an optional typed protobuf detail. It is the only error type handlers
// are expected to return across the Call Context boundary — see
// AMBIENT STACK / Error handling in SPEC_FULL.md for why this is the single
// handler-facing error type rather than a second ad hoc one.
type Error struct {
	Kind   ErrorKind
	Detail string

	// ProtoType is the fully-qualified protobuf type name of ProtoDetail,
	// when present. Carried alongside the base64 bytes so bridges can
	// forward the detail without knowing the schema (§3 Problem Details).
	ProtoType   string
	ProtoDetail []byte

	// overrideStatus lets a caller pin an HTTP status outside the
	// canonical kind table (e.g. 405 Method Not Allowed, which is a
	// transport-level routing concern, not one of §4.3's error kinds).
	// Zero means "use Kind.Status()".
	overrideStatus int

	cause error
}

// Status returns the HTTP status this error maps to: overrideStatus if set,
// otherwise Kind.Status().
func (e *Error) Status() int {
	if e.overrideStatus != 0 {
		return e.overrideStatus
	}
	return e.Kind.Status()
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return e.Kind.Title()
	}
	return e.Kind.Title() + ": " + e.Detail
}

func (e *Error) Unwrap() error { return e.cause }

// NewError constructs a canonical Error with no typed detail.
func NewError(kind ErrorKind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

// Wrap constructs a canonical Error that preserves cause for errors.Is/As.
func Wrap(kind ErrorKind, detail string, cause error) *Error {
	return &Error{Kind: kind, Detail: detail, cause: cause}
}

// WithProtoDetail attaches a typed protobuf detail, already marshaled, and
// returns e for chaining.
func (e *Error) WithProtoDetail(protoType string, marshaled []byte) *Error {
	e.ProtoType = protoType
	e.ProtoDetail = marshaled
	return e
}

func newResourceExhausted(detail string) *Error {
	return NewError(ErrorResourceExhausted, detail)
}

// AsQuillError extracts the canonical *Error from err via errors.As,
// falling back to ErrorInternal for opaque errors so every failure path
// still produces a real HTTP status rather than leaking a Go error string.
func AsQuillError(err error) *Error {
	if err == nil {
		return nil
	}
	var qe *Error
	if errors.As(err, &qe) {
		return qe
	}
	return NewError(ErrorInternal, "internal error")
}
