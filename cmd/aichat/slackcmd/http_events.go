package slackcmd

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/quailyquaily/aichat/internal/relay"
)

const maxEventBodyBytes = 1 << 20

// newEventsHandler serves the Slack Events API. Redelivered requests are
// acknowledged without processing and told not to retry again.
func newEventsHandler(logger *slog.Logger, botUserID string, dispatch func(relay.Mention) bool) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if retry := strings.TrimSpace(r.Header.Get("X-Slack-Retry-Num")); retry != "" {
			logger.Debug("slack_events_retry_skipped",
				"retry_num", retry,
				"retry_reason", r.Header.Get("X-Slack-Retry-Reason"),
			)
			w.Header().Set("X-Slack-No-Retry", "1")
			w.WriteHeader(http.StatusOK)
			return
		}

		raw, err := io.ReadAll(io.LimitReader(r.Body, maxEventBodyBytes))
		if err != nil {
			http.Error(w, "invalid body", http.StatusBadRequest)
			return
		}
		var payload slackEventsAPIPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}

		switch strings.TrimSpace(payload.Type) {
		case "url_verification":
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]string{"challenge": payload.Challenge})
			return
		case "event_callback":
			mention, ok, err := parseMentionPayload(payload, botUserID)
			if err != nil {
				logger.Warn("slack_events_parse_error", "event_id", payload.EventID, "error", err.Error())
			} else if ok && dispatch != nil {
				dispatch(mention)
			}
		}
		w.WriteHeader(http.StatusOK)
	})
}
