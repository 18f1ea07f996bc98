package swrcache

import (
	"context"
	"fmt"
)

// Transport is the external collaborator that actually talks to the backend.
// The store is agnostic to HTTP specifics; on failure it only needs an
// APIError whose Status it can classify (429 selects rate-limit handling,
// 401 is forwarded upward as an authentication-expired signal).
type Transport interface {
	// Fetch performs a read. params may be nil.
	Fetch(ctx context.Context, path string, params map[string]string) ([]byte, error)
	// Write performs a mutation with a JSON-encodable body.
	Write(ctx context.Context, path string, body any) ([]byte, error)
}

// APIError is the normalized failure shape produced by a Transport.
// Status 0 means no response was received at all.
type APIError struct {
	Message string
	Code    string
	Status  int
}

func (e *APIError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("transport: no response: %s", e.Message)
	}
	if e.Code != "" {
		return fmt.Sprintf("transport: %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("transport: %d: %s", e.Status, e.Message)
}
