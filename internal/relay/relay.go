// Package relay answers one Slack mention: it records the mention, posts a
// placeholder reply in the thread and streams the LLM answer into it.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/quailyquaily/aichat/internal/chathistory"
	"github.com/quailyquaily/aichat/internal/sessionruntime"
	"github.com/quailyquaily/aichat/internal/stream"
	"github.com/quailyquaily/aichat/llm"
)

const (
	DefaultPlaceholder     = "Typing.."
	defaultPersistTimeout  = 5 * time.Second
	defaultFinalizeTimeout = 30 * time.Second
)

// PostMessageFunc posts text into a thread and returns the new message ts.
type PostMessageFunc func(ctx context.Context, channelID, text, threadTS string) (string, error)

type SessionTracker interface {
	Upsert(info sessionruntime.SessionInfo)
	Update(id string, fn func(*sessionruntime.SessionInfo))
}

// Mention is an inbound mention with the bot mention tokens already removed.
type Mention struct {
	TeamID    string
	ChannelID string
	MessageTS string
	ThreadTS  string
	UserID    string
	Text      string
	EventID   string
	SentAt    time.Time
}

type Options struct {
	PostMessage PostMessageFunc
	Editor      stream.Editor
	LLM         llm.Streamer

	Model        string
	Temperature  *float64
	SystemPrompt string

	History  chathistory.Store
	Sessions SessionTracker

	BaseInterval    time.Duration
	Placeholder     string
	Disclaimer      string
	PersistTimeout  time.Duration
	FinalizeTimeout time.Duration

	Logger *slog.Logger
	Now    func() time.Time
}

type Relay struct {
	post    PostMessageFunc
	editor  stream.Editor
	llm     llm.Streamer
	history chathistory.Store
	tracker SessionTracker

	model        string
	temperature  *float64
	systemPrompt string

	baseInterval    time.Duration
	placeholder     string
	disclaimer      string
	persistTimeout  time.Duration
	finalizeTimeout time.Duration

	logger *slog.Logger
	now    func() time.Time
}

func New(opts Options) (*Relay, error) {
	if opts.PostMessage == nil {
		return nil, fmt.Errorf("post message func is required")
	}
	if opts.Editor == nil {
		return nil, fmt.Errorf("editor is required")
	}
	if opts.LLM == nil {
		return nil, fmt.Errorf("llm streamer is required")
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		return nil, fmt.Errorf("model is required")
	}
	r := &Relay{
		post:            opts.PostMessage,
		editor:          opts.Editor,
		llm:             opts.LLM,
		history:         opts.History,
		tracker:         opts.Sessions,
		model:           model,
		temperature:     opts.Temperature,
		systemPrompt:    strings.TrimSpace(opts.SystemPrompt),
		baseInterval:    opts.BaseInterval,
		placeholder:     strings.TrimSpace(opts.Placeholder),
		disclaimer:      opts.Disclaimer,
		persistTimeout:  opts.PersistTimeout,
		finalizeTimeout: opts.FinalizeTimeout,
		logger:          opts.Logger,
		now:             opts.Now,
	}
	if r.placeholder == "" {
		r.placeholder = DefaultPlaceholder
	}
	if r.persistTimeout <= 0 {
		r.persistTimeout = defaultPersistTimeout
	}
	if r.finalizeTimeout <= 0 {
		r.finalizeTimeout = defaultFinalizeTimeout
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r, nil
}

// Handle answers m. Intermediate edit failures and generation failures are
// logged; the returned error is non-nil only when no answer could be
// delivered (placeholder post or final edit failed).
func (r *Relay) Handle(ctx context.Context, m Mention) error {
	channelID := strings.TrimSpace(m.ChannelID)
	if channelID == "" {
		return fmt.Errorf("channel_id is required")
	}
	messageTS := strings.TrimSpace(m.MessageTS)
	if messageTS == "" {
		return fmt.Errorf("message_ts is required")
	}
	threadTS := strings.TrimSpace(m.ThreadTS)
	if threadTS == "" {
		threadTS = messageTS
	}

	r.persist(ctx, m, channelID, messageTS, threadTS)

	replyTS, err := r.post(ctx, channelID, r.placeholder, threadTS)
	if err != nil {
		return &stream.TransportError{Op: "chat.postMessage", Err: err}
	}
	replyTS = strings.TrimSpace(replyTS)
	if replyTS == "" {
		return &stream.TransportError{Op: "chat.postMessage", Err: fmt.Errorf("empty message ts")}
	}

	sessionID := uuid.NewString()
	logger := r.logger.With("session_id", sessionID, "channel_id", channelID, "thread_ts", threadTS)
	session, err := stream.NewSession(stream.Options{
		ChannelID:    channelID,
		MessageTS:    replyTS,
		Editor:       r.editor,
		BaseInterval: r.baseInterval,
		Disclaimer:   r.disclaimer,
		Logger:       logger,
		Now:          r.now,
	})
	if err != nil {
		return err
	}
	if r.tracker != nil {
		r.tracker.Upsert(sessionruntime.SessionInfo{
			ID:        sessionID,
			Status:    sessionruntime.SessionStreaming,
			ChannelID: channelID,
			ThreadTS:  threadTS,
			MessageTS: replyTS,
			UserID:    strings.TrimSpace(m.UserID),
			Model:     r.model,
			Interval:  session.Interval().String(),
			CreatedAt: r.now().UTC(),
		})
	}
	logger.Info("slack_stream_start", "message_ts", replyTS, "model", r.model)

	var genErr error
	if err := r.llm.Stream(ctx, r.request(m.Text), func(delta string) error {
		return session.OnFragment(ctx, delta)
	}); err != nil {
		genErr = &stream.GenerationError{Err: err}
		logger.Warn("slack_stream_generation_error", "chars", len(session.Text()), "error", err.Error())
	}

	// The task context may already be done; the final edit still has to land.
	finCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.finalizeTimeout)
	finErr := session.OnStreamEnd(finCtx)
	cancel()

	r.finish(sessionID, session, genErr, finErr)
	if finErr != nil {
		logger.Error("slack_stream_finalize_error", "message_ts", replyTS, "error", finErr.Error())
		return finErr
	}
	logger.Info("slack_stream_done",
		"message_ts", replyTS,
		"updates", session.Updates(),
		"interval", session.Interval().String(),
		"chars", len(session.Text()),
		"partial", genErr != nil,
	)
	return nil
}

func (r *Relay) request(text string) llm.Request {
	messages := make([]llm.Message, 0, 2)
	if r.systemPrompt != "" {
		messages = append(messages, llm.Message{Role: "system", Content: r.systemPrompt})
	}
	messages = append(messages, llm.Message{Role: "user", Content: text})
	return llm.Request{
		Model:       r.model,
		Messages:    messages,
		Temperature: r.temperature,
	}
}

func (r *Relay) persist(ctx context.Context, m Mention, channelID, messageTS, threadTS string) {
	if r.history == nil {
		return
	}
	saveCtx, cancel := context.WithTimeout(ctx, r.persistTimeout)
	defer cancel()
	createdAt := m.SentAt
	if createdAt.IsZero() {
		createdAt = r.now()
	}
	err := r.history.Save(saveCtx, chathistory.Record{
		MessageTS: messageTS,
		ThreadTS:  threadTS,
		ChannelID: channelID,
		UserID:    m.UserID,
		Message:   m.Text,
		CreatedAt: createdAt.UTC(),
	})
	if err != nil {
		r.logger.Warn("chat_history_save_error", "channel_id", channelID, "message_ts", messageTS, "error", err.Error())
	}
}

func (r *Relay) finish(id string, session *stream.Session, genErr, finErr error) {
	if r.tracker == nil {
		return
	}
	r.tracker.Update(id, func(info *sessionruntime.SessionInfo) {
		now := r.now().UTC()
		info.FinishedAt = &now
		info.Updates = session.Updates()
		info.Interval = session.Interval().String()
		info.TextChars = len([]rune(session.Text()))
		switch {
		case finErr != nil:
			info.Status = sessionruntime.SessionFailed
			info.Error = finErr.Error()
		case genErr != nil:
			info.Status = sessionruntime.SessionPartial
			info.Error = genErr.Error()
		default:
			info.Status = sessionruntime.SessionDone
		}
	})
}
