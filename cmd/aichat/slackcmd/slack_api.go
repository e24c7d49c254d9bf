package slackcmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/quailyquaily/aichat/internal/stream"
)

type slackAPI struct {
	http     *http.Client
	baseURL  string
	botToken string
	appToken string
}

func newSlackAPI(httpClient *http.Client, baseURL, botToken, appToken string) *slackAPI {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	baseURL = strings.TrimSpace(strings.TrimRight(baseURL, "/"))
	if baseURL == "" {
		baseURL = "https://slack.com/api"
	}
	return &slackAPI{
		http:     httpClient,
		baseURL:  baseURL,
		botToken: strings.TrimSpace(botToken),
		appToken: strings.TrimSpace(appToken),
	}
}

// slackAPIResponse carries the fields shared by every Web API response.
type slackAPIResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

func (r slackAPIResponse) err(method string) error {
	if r.OK {
		return nil
	}
	code := strings.TrimSpace(r.Error)
	if code == "" {
		code = "unknown_error"
	}
	return fmt.Errorf("slack %s failed: %s", method, code)
}

type slackAuthTestResult struct {
	TeamID string
	UserID string
	BotID  string
	Team   string
	User   string
}

type slackAuthTestResponse struct {
	slackAPIResponse
	TeamID string `json:"team_id,omitempty"`
	UserID string `json:"user_id,omitempty"`
	BotID  string `json:"bot_id,omitempty"`
	Team   string `json:"team,omitempty"`
	User   string `json:"user,omitempty"`
}

func (api *slackAPI) authTest(ctx context.Context) (slackAuthTestResult, error) {
	if api == nil {
		return slackAuthTestResult{}, fmt.Errorf("slack api is not initialized")
	}
	var out slackAuthTestResponse
	if err := api.call(ctx, api.botToken, "auth.test", nil, &out, 1); err != nil {
		return slackAuthTestResult{}, err
	}
	return slackAuthTestResult{
		TeamID: strings.TrimSpace(out.TeamID),
		UserID: strings.TrimSpace(out.UserID),
		BotID:  strings.TrimSpace(out.BotID),
		Team:   strings.TrimSpace(out.Team),
		User:   strings.TrimSpace(out.User),
	}, nil
}

type slackOpenConnectionResponse struct {
	slackAPIResponse
	URL string `json:"url,omitempty"`
}

func (api *slackAPI) openSocketURL(ctx context.Context) (string, error) {
	if api == nil {
		return "", fmt.Errorf("slack api is not initialized")
	}
	var out slackOpenConnectionResponse
	if err := api.call(ctx, api.appToken, "apps.connections.open", nil, &out, 1); err != nil {
		return "", err
	}
	url := strings.TrimSpace(out.URL)
	if url == "" {
		return "", fmt.Errorf("slack apps.connections.open returned empty url")
	}
	return url, nil
}

func (api *slackAPI) connectSocket(ctx context.Context) (*websocket.Conn, error) {
	url, err := api.openSocketURL(ctx)
	if err != nil {
		return nil, err
	}
	dialer := *websocket.DefaultDialer
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

type slackPostMessageRequest struct {
	Channel  string `json:"channel"`
	Text     string `json:"text"`
	ThreadTS string `json:"thread_ts,omitempty"`
}

type slackMessageResponse struct {
	slackAPIResponse
	Channel string `json:"channel,omitempty"`
	TS      string `json:"ts,omitempty"`
}

// postMessage posts text and returns the ts of the new message.
func (api *slackAPI) postMessage(ctx context.Context, channelID, text, threadTS string) (string, error) {
	channelID = strings.TrimSpace(channelID)
	text = strings.TrimSpace(text)
	threadTS = strings.TrimSpace(threadTS)
	if channelID == "" {
		return "", fmt.Errorf("channel_id is required")
	}
	if text == "" {
		return "", fmt.Errorf("text is required")
	}
	var out slackMessageResponse
	if err := api.call(ctx, api.botToken, "chat.postMessage", slackPostMessageRequest{
		Channel:  channelID,
		Text:     text,
		ThreadTS: threadTS,
	}, &out, 3); err != nil {
		return "", err
	}
	return strings.TrimSpace(out.TS), nil
}

type slackUpdateMessageRequest struct {
	Channel string         `json:"channel"`
	TS      string         `json:"ts"`
	Text    string         `json:"text,omitempty"`
	Blocks  []stream.Block `json:"blocks,omitempty"`
}

// UpdateMessage edits a message in place. It is not retried: the next
// intermediate edit supersedes a lost one.
func (api *slackAPI) UpdateMessage(ctx context.Context, channelID, messageTS, text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("text is required")
	}
	return api.update(ctx, slackUpdateMessageRequest{
		Channel: strings.TrimSpace(channelID),
		TS:      strings.TrimSpace(messageTS),
		Text:    text,
	}, 1)
}

// UpdateMessageBlocks replaces a message with a block layout; fallbackText is
// shown in notifications.
func (api *slackAPI) UpdateMessageBlocks(ctx context.Context, channelID, messageTS, fallbackText string, blocks []stream.Block) error {
	if len(blocks) == 0 {
		return fmt.Errorf("blocks are required")
	}
	return api.update(ctx, slackUpdateMessageRequest{
		Channel: strings.TrimSpace(channelID),
		TS:      strings.TrimSpace(messageTS),
		Text:    fallbackText,
		Blocks:  blocks,
	}, 3)
}

func (api *slackAPI) update(ctx context.Context, req slackUpdateMessageRequest, maxAttempts int) error {
	if req.Channel == "" {
		return fmt.Errorf("channel_id is required")
	}
	if req.TS == "" {
		return fmt.Errorf("message ts is required")
	}
	var out slackMessageResponse
	return api.call(ctx, api.botToken, "chat.update", req, &out, maxAttempts)
}

type okChecker interface {
	err(method string) error
}

// call posts payload to a Web API method and decodes the response into out,
// retrying rate-limited and 5xx responses up to maxAttempts times.
func (api *slackAPI) call(ctx context.Context, token, method string, payload any, out okChecker, maxAttempts int) error {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		body, status, headers, err := api.postAuthJSON(ctx, token, "/"+method, payload)
		if err != nil {
			lastErr = err
		} else if status < 200 || status >= 300 {
			lastErr = fmt.Errorf("slack %s http %d", method, status)
		} else if parseErr := json.Unmarshal(body, out); parseErr != nil {
			lastErr = parseErr
		} else if apiErr := out.err(method); apiErr != nil {
			lastErr = apiErr
		} else {
			return nil
		}

		if attempt >= maxAttempts {
			break
		}
		wait, retryable := slackRetryDelay(status, headers, attempt)
		if !retryable {
			break
		}
		if err := sleepWithContext(ctx, wait); err != nil {
			return err
		}
	}
	return lastErr
}

func slackRetryDelay(status int, headers http.Header, attempt int) (time.Duration, bool) {
	switch {
	case status == http.StatusTooManyRequests:
		retryAfter := strings.TrimSpace(headers.Get("Retry-After"))
		if retryAfter == "" {
			return 1 * time.Second, true
		}
		secs, err := strconv.Atoi(retryAfter)
		if err != nil || secs <= 0 {
			return 1 * time.Second, true
		}
		return time.Duration(secs) * time.Second, true
	case status >= 500 && status <= 599:
		switch attempt {
		case 1:
			return 300 * time.Millisecond, true
		case 2:
			return 1 * time.Second, true
		default:
			return 2 * time.Second, true
		}
	default:
		return 0, false
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (api *slackAPI) postAuthJSON(ctx context.Context, token, path string, payload any) ([]byte, int, http.Header, error) {
	if api == nil || api.http == nil {
		return nil, 0, nil, fmt.Errorf("slack api is not initialized")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, 0, nil, fmt.Errorf("slack token is required")
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, 0, nil, fmt.Errorf("slack api path is required")
	}

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, nil, err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, api.baseURL+path, body)
	if err != nil {
		return nil, 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := api.http.Do(req)
	if err != nil {
		return nil, 0, nil, err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, resp.StatusCode, resp.Header, readErr
	}
	return raw, resp.StatusCode, resp.Header, nil
}
