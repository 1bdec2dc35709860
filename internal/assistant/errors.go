package assistant

import (
	"context"
	"errors"
	"fmt"
)

// ErrStreamUnsupported is returned when the transport produced a response
// without a readable body, so there is nothing to stream.
var ErrStreamUnsupported = errors.New("upstream response has no readable body")

// TransportError reports a non-success response or connection failure from
// the upstream AI provider. It is the only error class (together with
// ErrStreamUnsupported) that surfaces to the user as a visible failure;
// cancellation and malformed trailing payloads are handled locally.
type TransportError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("upstream returned status %d: %s", e.StatusCode, e.Body)
	}
	if e.Err != nil {
		return fmt.Sprintf("upstream request failed: %v", e.Err)
	}
	return "upstream request failed"
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

const (
	// FallbackResponseText replaces the placeholder content when a stream
	// completes without producing a single delta.
	FallbackResponseText = "No response could be generated. Please try again."

	// ErrorResponseText replaces the placeholder content when the stream
	// fails for any reason other than cancellation.
	ErrorResponseText = "Something went wrong while generating a response. Please try again."
)

// isCancellation reports whether err represents a cooperative cancellation
// rather than a transport failure.
func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled)
}
