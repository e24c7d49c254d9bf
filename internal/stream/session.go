// Package stream edits a single chat message in place while an LLM answer is
// generated, throttling intermediate edits with an adaptive interval.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

const (
	DefaultBaseInterval = 1 * time.Second
	DefaultTypingMarker = "\n\nTyping.."
)

// Editor updates a previously posted message.
type Editor interface {
	UpdateMessage(ctx context.Context, channelID, messageTS, text string) error
	UpdateMessageBlocks(ctx context.Context, channelID, messageTS, fallbackText string, blocks []Block) error
}

type State int

const (
	StateIdle State = iota
	StateStreaming
	StateFinalized
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateFinalized:
		return "finalized"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type Options struct {
	ChannelID string
	MessageTS string
	Editor    Editor

	// BaseInterval is the starting minimum gap between intermediate edits.
	BaseInterval time.Duration
	TypingMarker string
	Disclaimer   string

	Logger *slog.Logger
	Now    func() time.Time
}

// Session is the state of one answer streamed into one message.
// It is safe for concurrent use; fragments are applied in call order.
type Session struct {
	channelID  string
	messageTS  string
	editor     Editor
	marker     string
	disclaimer string
	logger     *slog.Logger
	now        func() time.Time

	mu          sync.Mutex
	state       State
	text        strings.Builder
	lastEmitted time.Time
	interval    time.Duration
	updates     int
}

func NewSession(opts Options) (*Session, error) {
	channelID := strings.TrimSpace(opts.ChannelID)
	if channelID == "" {
		return nil, fmt.Errorf("channel_id is required")
	}
	messageTS := strings.TrimSpace(opts.MessageTS)
	if messageTS == "" {
		return nil, fmt.Errorf("message_ts is required")
	}
	if opts.Editor == nil {
		return nil, fmt.Errorf("editor is required")
	}
	interval := opts.BaseInterval
	if interval <= 0 {
		interval = DefaultBaseInterval
	}
	marker := opts.TypingMarker
	if marker == "" {
		marker = DefaultTypingMarker
	}
	disclaimer := strings.TrimSpace(opts.Disclaimer)
	if disclaimer == "" {
		disclaimer = DefaultDisclaimer
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Session{
		channelID:   channelID,
		messageTS:   messageTS,
		editor:      opts.Editor,
		marker:      marker,
		disclaimer:  disclaimer,
		logger:      logger,
		now:         now,
		state:       StateStreaming,
		lastEmitted: now(),
		interval:    interval,
	}, nil
}

// OnFragment appends token and pushes an intermediate edit when the current
// interval has elapsed since the previous one. Edit failures are logged and
// do not stop the stream.
func (s *Session) OnFragment(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateFinalized {
		return ErrSessionFinalized
	}
	s.text.WriteString(token)

	now := s.now()
	if now.Sub(s.lastEmitted) <= s.interval {
		return nil
	}
	if err := s.editor.UpdateMessage(ctx, s.channelID, s.messageTS, s.text.String()+s.marker); err != nil {
		s.logger.Warn("slack_stream_update_error",
			"channel_id", s.channelID,
			"message_ts", s.messageTS,
			"updates", s.updates,
			"error", err.Error(),
		)
	}
	s.lastEmitted = now
	s.updates++
	if float64(s.updates)/10 > s.interval.Seconds() {
		s.interval *= 2
		s.logger.Debug("slack_stream_interval_backoff",
			"channel_id", s.channelID,
			"message_ts", s.messageTS,
			"updates", s.updates,
			"interval", s.interval.String(),
		)
	}
	return nil
}

// OnStreamEnd replaces the in-progress message with the final layout.
// It must be called exactly once; the edit is never throttled.
func (s *Session) OnStreamEnd(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateFinalized {
		return ErrSessionFinalized
	}
	s.state = StateFinalized

	text := s.text.String()
	fallback := text
	if strings.TrimSpace(fallback) == "" {
		fallback = s.disclaimer
	}
	if err := s.editor.UpdateMessageBlocks(ctx, s.channelID, s.messageTS, fallback, FinalBlocks(text, s.disclaimer)); err != nil {
		return &TransportError{Op: "chat.update", Err: err}
	}
	return nil
}

func (s *Session) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.text.String()
}

func (s *Session) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

func (s *Session) Updates() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updates
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}
