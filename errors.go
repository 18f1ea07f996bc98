package swrcache

import (
	"errors"
	"fmt"
	"net/http"
)

// Class buckets a transport failure for presentation and retry policy.
type Class int

const (
	ClassUnknown Class = iota
	ClassRateLimited
	ClassUnauthorized
	ClassNotFound
	ClassServer
	ClassValidation
	ClassNetwork
)

func (c Class) String() string {
	switch c {
	case ClassRateLimited:
		return "rate_limited"
	case ClassUnauthorized:
		return "unauthorized"
	case ClassNotFound:
		return "not_found"
	case ClassServer:
		return "server"
	case ClassValidation:
		return "validation"
	case ClassNetwork:
		return "network"
	default:
		return "unknown"
	}
}

// User-facing messages per class. Rate limiting gets a distinct message so
// callers can tell "wait" apart from "retry".
const (
	MsgRateLimited  = "You are being rate limited. Wait a moment before trying again."
	MsgUnauthorized = "Your session has expired. Sign in again."
	MsgNotFound     = "The requested resource was not found."
	MsgServer       = "Something went wrong on our end. Try again later."
	MsgValidation   = "There was a problem with your request."
	MsgNetwork      = "Could not reach the server. Check your connection."
)

var (
	// ErrConflict rejects a Mutate while another write for the same
	// partition is still outstanding. Writes are never interleaved.
	ErrConflict = errors.New("swrcache: mutation already in flight for partition")
	// ErrNoDraft is returned by draft operations without a BeginEdit.
	ErrNoDraft = errors.New("swrcache: no draft in progress")
	// ErrEditPending is returned by BeginEdit when a draft already exists.
	ErrEditPending = errors.New("swrcache: draft already in progress")
	// ErrNoValue is returned by BeginEdit when nothing is cached to seed from.
	ErrNoValue = errors.New("swrcache: no cached value")
	// ErrNoSnapshot is returned by snapshot operations when persistence was
	// not configured on the store.
	ErrNoSnapshot = errors.New("swrcache: snapshot persistence not configured")
)

// ResourceError is the classified failure a store exposes to consumers via
// Err. Stale data stays visible alongside it; it is cleared by the next
// successful fetch or an explicit Invalidate.
type ResourceError struct {
	Resource  string
	Partition string
	Class     Class
	Message   string // user-facing, per-class
	Err       error  // underlying transport error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("%s/%s: %s: %v", e.Resource, e.Partition, e.Class, e.Err)
}

func (e *ResourceError) Unwrap() error { return e.Err }

// ClassOf classifies a transport failure. Anything that does not carry an
// APIError with a status is treated as a network failure (no response).
func ClassOf(err error) Class {
	if err == nil {
		return ClassUnknown
	}
	var ae *APIError
	if !errors.As(err, &ae) || ae.Status == 0 {
		return ClassNetwork
	}
	switch {
	case ae.Status == http.StatusTooManyRequests:
		return ClassRateLimited
	case ae.Status == http.StatusUnauthorized:
		return ClassUnauthorized
	case ae.Status == http.StatusNotFound:
		return ClassNotFound
	case ae.Status >= 500:
		return ClassServer
	case ae.Status >= 400:
		return ClassValidation
	default:
		return ClassUnknown
	}
}

func messageFor(c Class) string {
	switch c {
	case ClassRateLimited:
		return MsgRateLimited
	case ClassUnauthorized:
		return MsgUnauthorized
	case ClassNotFound:
		return MsgNotFound
	case ClassServer:
		return MsgServer
	case ClassValidation:
		return MsgValidation
	default:
		return MsgNetwork
	}
}
