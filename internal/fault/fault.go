// Package fault carries the typed error contract shared by the pipeline,
// the adapters, and the HTTP surface. The Kind string is what an SSE error
// event reports as its "kind" field.
package fault

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	InvalidInput      Kind = "invalid_input"
	AdapterTimeout    Kind = "timeout"
	AdapterFailure    Kind = "adapter"
	ArtifactNotReady  Kind = "not_ready"
	StorageFailure    Kind = "storage"
	ClientDisconnect  Kind = "disconnect"
	InternalInvariant Kind = "internal"
)

// Error is the unified error value across layers.
type Error struct {
	Kind    Kind
	Op      string // operation name, ex: "pipeline.RunTurn"
	Message string // safe for clients
	Err     error  // wrapped cause
}

func (e *Error) Error() string {
	switch {
	case e == nil:
		return "<nil>"
	case e.Op != "" && e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	case e.Op != "" && e.Message != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return "error"
	}
}

func (e *Error) Unwrap() error { return e.Err }

func E(kind Kind, op, msg string, err error) error {
	return &Error{Kind: kind, Op: op, Message: msg, Err: err}
}

// KindOf classifies any error. Context cancellation maps to ClientDisconnect
// and context deadlines to AdapterTimeout so callers can pass raw errors from
// blocking calls straight through.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.Canceled) {
		return ClientDisconnect
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return AdapterTimeout
	}
	return InternalInvariant
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Message returns the client-safe message, falling back to the full error
// text when the value is not a fault.Error.
func Message(err error) string {
	var fe *Error
	if errors.As(err, &fe) && fe.Message != "" {
		return fe.Message
	}
	if err != nil {
		return err.Error()
	}
	return ""
}

func HTTPStatus(err error) int {
	switch KindOf(err) {
	case InvalidInput:
		return http.StatusBadRequest
	case ArtifactNotReady:
		return http.StatusServiceUnavailable
	case AdapterTimeout:
		return http.StatusGatewayTimeout
	case AdapterFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
