package stream

import (
	"errors"
	"fmt"
	"strings"
)

// ErrSessionFinalized is returned when a session receives input after its
// final update was issued.
var ErrSessionFinalized = errors.New("stream session is finalized")

// TransportError reports a failed chat post or edit call.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	op := strings.TrimSpace(e.Op)
	if op == "" {
		op = "chat"
	}
	if e.Err == nil {
		return op + ": transport error"
	}
	return fmt.Sprintf("%s: %v", op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// GenerationError reports a token source that failed mid-stream.
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string {
	if e.Err == nil {
		return "generation failed"
	}
	return "generation failed: " + e.Err.Error()
}

func (e *GenerationError) Unwrap() error { return e.Err }

func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
