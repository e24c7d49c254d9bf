package slackcmd

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/quailyquaily/aichat/internal/relay"
)

type slackSocketEnvelope struct {
	EnvelopeID string          `json:"envelope_id,omitempty"`
	Type       string          `json:"type,omitempty"`
	Reason     string          `json:"reason,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

type slackEventAuthorization struct {
	TeamID string `json:"team_id,omitempty"`
	UserID string `json:"user_id,omitempty"`
	IsBot  bool   `json:"is_bot,omitempty"`
}

// slackEventsAPIPayload is the outer callback body, shared by Socket Mode
// payloads and HTTP Events API requests.
type slackEventsAPIPayload struct {
	Type           string                    `json:"type,omitempty"`
	Challenge      string                    `json:"challenge,omitempty"`
	TeamID         string                    `json:"team_id,omitempty"`
	EventID        string                    `json:"event_id,omitempty"`
	EventTime      int64                     `json:"event_time,omitempty"`
	Event          json.RawMessage           `json:"event,omitempty"`
	Authorizations []slackEventAuthorization `json:"authorizations,omitempty"`
}

type slackEvent struct {
	Type     string `json:"type,omitempty"`
	Subtype  string `json:"subtype,omitempty"`
	User     string `json:"user,omitempty"`
	Text     string `json:"text,omitempty"`
	Channel  string `json:"channel,omitempty"`
	TS       string `json:"ts,omitempty"`
	ThreadTS string `json:"thread_ts,omitempty"`
	BotID    string `json:"bot_id,omitempty"`
	Team     string `json:"team,omitempty"`
	EventTS  string `json:"event_ts,omitempty"`
}

var slackMentionPattern = regexp.MustCompile(`<@([A-Z0-9]+)(?:\|[^>]+)?>`)

func stripSlackMentions(text string) string {
	return strings.TrimSpace(slackMentionPattern.ReplaceAllString(text, ""))
}

func parseSocketMention(envelope slackSocketEnvelope, botUserID string) (relay.Mention, bool, error) {
	if strings.TrimSpace(envelope.Type) != "events_api" || len(envelope.Payload) == 0 {
		return relay.Mention{}, false, nil
	}
	var payload slackEventsAPIPayload
	if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
		return relay.Mention{}, false, err
	}
	return parseMentionPayload(payload, botUserID)
}

// parseMentionPayload extracts an app_mention addressed to the bot. ok is
// false for events the bot ignores.
func parseMentionPayload(payload slackEventsAPIPayload, botUserID string) (relay.Mention, bool, error) {
	if t := strings.TrimSpace(payload.Type); t != "" && t != "event_callback" {
		return relay.Mention{}, false, nil
	}
	if len(payload.Event) == 0 {
		return relay.Mention{}, false, nil
	}
	var event slackEvent
	if err := json.Unmarshal(payload.Event, &event); err != nil {
		return relay.Mention{}, false, err
	}
	if strings.TrimSpace(event.Type) != "app_mention" {
		return relay.Mention{}, false, nil
	}
	if strings.TrimSpace(event.Subtype) != "" {
		return relay.Mention{}, false, nil
	}
	if strings.TrimSpace(event.BotID) != "" {
		return relay.Mention{}, false, nil
	}
	userID := strings.TrimSpace(event.User)
	if userID == "" || userID == strings.TrimSpace(botUserID) {
		return relay.Mention{}, false, nil
	}
	channelID := strings.TrimSpace(event.Channel)
	if channelID == "" {
		return relay.Mention{}, false, nil
	}
	messageTS := strings.TrimSpace(event.TS)
	if messageTS == "" {
		return relay.Mention{}, false, nil
	}
	text := stripSlackMentions(event.Text)
	if text == "" {
		return relay.Mention{}, false, nil
	}
	teamID := strings.TrimSpace(payload.TeamID)
	if teamID == "" {
		teamID = strings.TrimSpace(event.Team)
	}
	if teamID == "" && len(payload.Authorizations) > 0 {
		teamID = strings.TrimSpace(payload.Authorizations[0].TeamID)
	}
	if teamID == "" {
		return relay.Mention{}, false, fmt.Errorf("missing team_id in slack event")
	}
	return relay.Mention{
		TeamID:    teamID,
		ChannelID: channelID,
		MessageTS: messageTS,
		ThreadTS:  strings.TrimSpace(event.ThreadTS),
		UserID:    userID,
		Text:      text,
		EventID:   strings.TrimSpace(payload.EventID),
		SentAt:    slackTSTime(messageTS),
	}, true, nil
}

func slackTSTime(ts string) time.Time {
	secs, err := strconv.ParseFloat(strings.TrimSpace(ts), 64)
	if err != nil || secs <= 0 {
		return time.Time{}
	}
	whole := int64(secs)
	return time.Unix(whole, int64((secs-float64(whole))*1e9)).UTC()
}
