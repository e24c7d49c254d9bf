package slackcmd

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/quailyquaily/aichat/internal/idempotency"
	"github.com/quailyquaily/aichat/internal/relay"
)

type mentionHandler interface {
	Handle(ctx context.Context, m relay.Mention) error
}

// mentionDispatcher runs each accepted mention in its own goroutine, bounded
// by a semaphore. Sessions never share state.
type mentionDispatcher struct {
	ctx             context.Context
	handler         mentionHandler
	logger          *slog.Logger
	allowedTeams    map[string]bool
	allowedChannels map[string]bool
	seen            *idempotency.Seen
	taskTimeout     time.Duration
	sem             chan struct{}

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

type dispatcherOptions struct {
	Handler         mentionHandler
	Logger          *slog.Logger
	AllowedTeams    map[string]bool
	AllowedChannels map[string]bool
	TaskTimeout     time.Duration
	MaxConcurrency  int
}

func newMentionDispatcher(ctx context.Context, opts dispatcherOptions) *mentionDispatcher {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxConc := opts.MaxConcurrency
	if maxConc <= 0 {
		maxConc = 3
	}
	taskTimeout := opts.TaskTimeout
	if taskTimeout <= 0 {
		taskTimeout = 10 * time.Minute
	}
	return &mentionDispatcher{
		ctx:             ctx,
		handler:         opts.Handler,
		logger:          logger,
		allowedTeams:    opts.AllowedTeams,
		allowedChannels: opts.AllowedChannels,
		seen:            idempotency.NewSeen(0, nil),
		taskTimeout:     taskTimeout,
		sem:             make(chan struct{}, maxConc),
	}
}

// dispatch schedules m and reports whether it was accepted. Mentions arriving
// after shutdown began are rejected.
func (d *mentionDispatcher) dispatch(m relay.Mention) bool {
	if len(d.allowedTeams) > 0 && !d.allowedTeams[m.TeamID] {
		return false
	}
	if len(d.allowedChannels) > 0 && !d.allowedChannels[m.ChannelID] {
		return false
	}
	key := m.EventID
	if key == "" {
		key = m.ChannelID + ":" + m.MessageTS
	}
	if !d.seen.Mark(key) {
		d.logger.Debug("slack_event_deduped", "channel_id", m.ChannelID, "message_ts", m.MessageTS, "event_id", m.EventID)
		return false
	}

	d.mu.Lock()
	if d.closed || d.ctx.Err() != nil {
		d.mu.Unlock()
		d.logger.Debug("slack_event_rejected_shutdown", "channel_id", m.ChannelID, "message_ts", m.MessageTS)
		return false
	}
	d.wg.Add(1)
	d.mu.Unlock()
	go func() {
		defer d.wg.Done()
		select {
		case d.sem <- struct{}{}:
		case <-d.ctx.Done():
			return
		}
		defer func() { <-d.sem }()

		ctx, cancel := context.WithTimeout(d.ctx, d.taskTimeout)
		defer cancel()
		if err := d.handler.Handle(ctx, m); err != nil {
			d.logger.Warn("slack_mention_error",
				"channel_id", m.ChannelID,
				"message_ts", m.MessageTS,
				"error", err.Error(),
			)
		}
	}()
	return true
}

// wait stops accepting mentions and blocks until every dispatched mention
// returned.
func (d *mentionDispatcher) wait() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.wg.Wait()
}
