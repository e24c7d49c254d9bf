package llm

import "context"

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Request struct {
	Model       string
	Messages    []Message
	Temperature *float64
}

// DeltaFunc receives generated text in order. Returning an error aborts the
// stream and is returned from Stream.
type DeltaFunc func(delta string) error

// Streamer produces an answer incrementally. Stream returns once generation
// ends, normally or not; onDelta is never called after it returns.
type Streamer interface {
	Stream(ctx context.Context, req Request, onDelta DeltaFunc) error
}

func Float64(v float64) *float64 { return &v }
