package slackcmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/quailyquaily/aichat/internal/chathistory"
	"github.com/quailyquaily/aichat/internal/configutil"
	"github.com/quailyquaily/aichat/internal/ratelimit"
	"github.com/quailyquaily/aichat/internal/relay"
	"github.com/quailyquaily/aichat/internal/sessionruntime"
	"github.com/quailyquaily/aichat/internal/stream"
	"github.com/quailyquaily/aichat/llm"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	modeSocket = "socket"
	modeHTTP   = "http"

	socketReconnectDelay = 2 * time.Second
)

var errSlackSocketDisconnect = errors.New("slack socket disconnect requested")

func newSlackCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "slack",
		Short: "Answer Slack mentions with a streamed LLM reply",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			mode := strings.ToLower(strings.TrimSpace(configutil.FlagOrViperString(cmd, "slack-mode", "slack.mode")))
			if mode == "" {
				mode = modeSocket
			}
			if mode != modeSocket && mode != modeHTTP {
				return fmt.Errorf("invalid slack.mode %q (want socket|http)", mode)
			}
			botToken := strings.TrimSpace(configutil.FlagOrViperString(cmd, "slack-bot-token", "slack.bot_token"))
			if botToken == "" {
				return fmt.Errorf("missing slack.bot_token (set via --slack-bot-token or SLACK_BOT_TOKEN)")
			}
			appToken := strings.TrimSpace(configutil.FlagOrViperString(cmd, "slack-app-token", "slack.app_token"))
			if mode == modeSocket && appToken == "" {
				return fmt.Errorf("missing slack.app_token (set via --slack-app-token or SLACK_APP_TOKEN)")
			}
			listen := strings.TrimSpace(configutil.FlagOrViperString(cmd, "server-listen", "server.listen"))
			if mode == modeHTTP && listen == "" {
				return fmt.Errorf("missing server.listen (required when slack.mode=http)")
			}

			model := strings.TrimSpace(viper.GetString("llm.model"))
			if model == "" {
				return fmt.Errorf("missing llm.model (set via AICHAT_LLM_MODEL or OPENAI_API_MODEL)")
			}
			apiKey := strings.TrimSpace(viper.GetString("llm.api_key"))
			if apiKey == "" {
				return fmt.Errorf("missing llm.api_key (set via AICHAT_LLM_API_KEY or OPENAI_API_KEY)")
			}
			temperature, err := parseTemperature(viper.GetString("llm.temperature"))
			if err != nil {
				return err
			}

			allowedTeams := toAllowlist(configutil.FlagOrViperStringArray(cmd, "slack-allowed-team-id", "slack.allowed_team_ids"))
			allowedChannels := toAllowlist(configutil.FlagOrViperStringArray(cmd, "slack-allowed-channel-id", "slack.allowed_channel_ids"))

			logger, err := loggerFromViper()
			if err != nil {
				return err
			}
			slog.SetDefault(logger)

			transport, err := ratelimit.NewRoundTripper(
				configutil.FlagOrViperFloat(cmd, "slack-rate-limit-rps", "slack.rate_limit_rps"),
				configutil.FlagOrViperInt(cmd, "slack-rate-limit-burst", "slack.rate_limit_burst"),
				logger,
				http.DefaultTransport,
			)
			if err != nil {
				return fmt.Errorf("slack rate limit: %w", err)
			}
			httpClient := &http.Client{Timeout: 30 * time.Second, Transport: transport}
			api := newSlackAPI(httpClient, viper.GetString("slack.base_url"), botToken, appToken)
			auth, err := api.authTest(ctx)
			if err != nil {
				return fmt.Errorf("slack auth.test: %w", err)
			}
			botUserID := strings.TrimSpace(auth.UserID)
			if botUserID == "" {
				return fmt.Errorf("slack auth.test returned empty user_id")
			}
			if len(allowedTeams) == 0 && strings.TrimSpace(auth.TeamID) != "" {
				allowedTeams[strings.TrimSpace(auth.TeamID)] = true
			}

			historyCfg := historyConfigFromViper()
			history, err := chathistory.Open(ctx, historyCfg)
			if err != nil {
				return fmt.Errorf("open chat history (%s): %w", historyCfg.Driver, err)
			}
			defer func() {
				if err := history.Close(); err != nil {
					logger.Warn("chat_history_close_error", "error", err.Error())
				}
			}()

			streamer, err := createStreamer(viper.GetString("llm.provider"), viper.GetString("llm.endpoint"), apiKey, viper.GetDuration("llm.request_timeout"))
			if err != nil {
				return err
			}

			sessions := sessionruntime.NewMemoryStore(viper.GetInt("server.max_sessions"))
			rel, err := relay.New(relay.Options{
				PostMessage:  api.postMessage,
				Editor:       api,
				LLM:          streamer,
				Model:        model,
				Temperature:  temperature,
				SystemPrompt: viper.GetString("llm.system_prompt"),
				History:      history,
				Sessions:     sessions,
				BaseInterval: configutil.FlagOrViperDuration(cmd, "slack-update-interval", "slack.update_interval"),
				Placeholder:  viper.GetString("slack.placeholder"),
				Disclaimer:   viper.GetString("slack.disclaimer"),
				Logger:       logger,
			})
			if err != nil {
				return err
			}

			taskTimeout := configutil.FlagOrViperDuration(cmd, "slack-task-timeout", "slack.task_timeout")
			maxConc := configutil.FlagOrViperInt(cmd, "slack-max-concurrency", "slack.max_concurrency")
			dispatcher := newMentionDispatcher(ctx, dispatcherOptions{
				Handler:         rel,
				Logger:          logger,
				AllowedTeams:    allowedTeams,
				AllowedChannels: allowedChannels,
				TaskTimeout:     taskTimeout,
				MaxConcurrency:  maxConc,
			})
			defer dispatcher.wait()

			if listen != "" {
				routes := sessionruntime.RoutesOptions{
					Mode:          mode,
					AuthToken:     configutil.FlagOrViperString(cmd, "server-auth-token", "server.auth_token"),
					SessionReader: sessions,
					HealthEnabled: true,
				}
				if mode == modeHTTP {
					routes.Events = newEventsHandler(logger, botUserID, dispatcher.dispatch)
				}
				if _, err := sessionruntime.StartServer(ctx, logger, sessionruntime.ServerOptions{
					Listen: listen,
					Routes: routes,
				}); err != nil {
					return fmt.Errorf("start server: %w", err)
				}
			}

			logger.Info("slack_start",
				"mode", mode,
				"bot_user_id", botUserID,
				"model", model,
				"history_driver", historyCfg.Driver,
				"allowed_team_ids", len(allowedTeams),
				"allowed_channel_ids", len(allowedChannels),
				"task_timeout", taskTimeout.String(),
				"max_concurrency", maxConc,
			)

			if mode == modeHTTP {
				<-ctx.Done()
				logger.Info("slack_stop", "reason", "context_canceled")
				return nil
			}
			runSocketLoop(ctx, logger, api, botUserID, dispatcher.dispatch)
			return nil
		},
	}

	cmd.Flags().String("slack-mode", "", "Inbound transport: socket|http.")
	cmd.Flags().String("slack-bot-token", "", "Slack bot token (xoxb-...).")
	cmd.Flags().String("slack-app-token", "", "Slack app-level token for Socket Mode (xapp-...).")
	cmd.Flags().StringArray("slack-allowed-team-id", nil, "Allowed Slack team id(s). If empty, defaults to the bot's home team.")
	cmd.Flags().StringArray("slack-allowed-channel-id", nil, "Allowed Slack channel id(s). If empty, allows all channels in allowed teams.")
	cmd.Flags().Duration("slack-task-timeout", 0, "Per-mention timeout for generating and streaming a reply.")
	cmd.Flags().Int("slack-max-concurrency", 0, "Max number of mentions answered concurrently.")
	cmd.Flags().Duration("slack-update-interval", 0, "Initial minimum gap between intermediate message edits.")
	cmd.Flags().Float64("slack-rate-limit-rps", 0, "Outbound Slack Web API requests per second.")
	cmd.Flags().Int("slack-rate-limit-burst", 0, "Outbound Slack Web API burst size.")
	cmd.Flags().String("server-listen", "", "Listen address for health, sessions and (in http mode) /slack/events.")
	cmd.Flags().String("server-auth-token", "", "Bearer token required by /sessions endpoints.")

	return cmd
}

// runSocketLoop keeps a Socket Mode connection open until ctx is done,
// reconnecting after read errors and server requested disconnects.
func runSocketLoop(ctx context.Context, logger *slog.Logger, api *slackAPI, botUserID string, dispatch func(relay.Mention) bool) {
	for {
		if ctx.Err() != nil {
			logger.Info("slack_stop", "reason", "context_canceled")
			return
		}
		conn, err := api.connectSocket(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("slack_stop", "reason", "context_canceled")
				return
			}
			logger.Warn("slack_socket_connect_error", "error", err.Error())
			if err := sleepWithContext(ctx, socketReconnectDelay); err != nil {
				return
			}
			continue
		}
		logger.Info("slack_socket_connected")
		readErr := consumeSlackSocket(ctx, conn, func(envelope slackSocketEnvelope) error {
			if envelope.Type == "disconnect" {
				logger.Info("slack_socket_disconnect", "reason", envelope.Reason)
				return errSlackSocketDisconnect
			}
			mention, ok, err := parseSocketMention(envelope, botUserID)
			if err != nil {
				logger.Warn("slack_event_parse_error", "envelope_id", envelope.EnvelopeID, "error", err.Error())
				return nil
			}
			if ok {
				dispatch(mention)
			}
			return nil
		})
		_ = conn.Close()
		switch {
		case readErr == nil, errors.Is(readErr, errSlackSocketDisconnect):
		case errors.Is(readErr, context.Canceled), errors.Is(readErr, context.DeadlineExceeded):
		default:
			logger.Warn("slack_socket_read_error", "error", readErr.Error())
		}
	}
}

// consumeSlackSocket acks every envelope before handing it to onEnvelope, so
// Slack never redelivers while a reply is still streaming.
func consumeSlackSocket(ctx context.Context, conn *websocket.Conn, onEnvelope func(envelope slackSocketEnvelope) error) error {
	if conn == nil {
		return fmt.Errorf("slack websocket connection is nil")
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		var envelope slackSocketEnvelope
		if err := json.Unmarshal(raw, &envelope); err != nil {
			continue
		}
		if strings.TrimSpace(envelope.EnvelopeID) != "" {
			if err := conn.WriteJSON(map[string]string{"envelope_id": envelope.EnvelopeID}); err != nil {
				return err
			}
		}
		if onEnvelope == nil {
			continue
		}
		if err := onEnvelope(envelope); err != nil {
			return err
		}
	}
}

func toAllowlist(items []string) map[string]bool {
	out := make(map[string]bool)
	for _, raw := range items {
		item := strings.TrimSpace(raw)
		if item == "" {
			continue
		}
		out[item] = true
	}
	return out
}

var _ stream.Editor = (*slackAPI)(nil)

// parseTemperature treats a blank value as unset so the provider default applies.
func parseTemperature(raw string) (*float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid llm.temperature %q: %w", raw, err)
	}
	return llm.Float64(v), nil
}
