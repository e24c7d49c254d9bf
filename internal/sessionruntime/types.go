package sessionruntime

import (
	"strings"
	"time"
)

type SessionStatus string

const (
	SessionStreaming SessionStatus = "streaming"
	SessionDone      SessionStatus = "done"
	// SessionPartial marks an answer finalized after the generation failed.
	SessionPartial SessionStatus = "partial"
	SessionFailed  SessionStatus = "failed"
)

type SessionInfo struct {
	ID         string        `json:"id"`
	Status     SessionStatus `json:"status"`
	ChannelID  string        `json:"channel_id"`
	ThreadTS   string        `json:"thread_ts"`
	MessageTS  string        `json:"message_ts,omitempty"`
	UserID     string        `json:"user_id,omitempty"`
	Model      string        `json:"model,omitempty"`
	Updates    int           `json:"updates"`
	Interval   string        `json:"interval,omitempty"`
	TextChars  int           `json:"text_chars"`
	CreatedAt  time.Time     `json:"created_at"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
	Error      string        `json:"error,omitempty"`
}

func ParseSessionStatus(raw string) (SessionStatus, bool) {
	switch strings.TrimSpace(strings.ToLower(raw)) {
	case "":
		return "", true
	case string(SessionStreaming):
		return SessionStreaming, true
	case string(SessionDone):
		return SessionDone, true
	case string(SessionPartial):
		return SessionPartial, true
	case string(SessionFailed):
		return SessionFailed, true
	default:
		return "", false
	}
}
