// Package chathistory persists the raw text of every mention the bot answers.
package chathistory

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Record is one persisted mention, keyed by its message ts.
type Record struct {
	MessageTS string    `json:"timestamp"`
	ThreadTS  string    `json:"thread_ts,omitempty"`
	ChannelID string    `json:"channel_id,omitempty"`
	UserID    string    `json:"user_id,omitempty"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

func (r Record) normalize() (Record, error) {
	r.MessageTS = strings.TrimSpace(r.MessageTS)
	if r.MessageTS == "" {
		return Record{}, fmt.Errorf("message ts is required")
	}
	r.ThreadTS = strings.TrimSpace(r.ThreadTS)
	r.ChannelID = strings.TrimSpace(r.ChannelID)
	r.UserID = strings.TrimSpace(r.UserID)
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	return r, nil
}

// Store writes records. Save overwrites an existing record with the same ts.
type Store interface {
	Save(ctx context.Context, rec Record) error
	Close() error
}

var collectionPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func collectionName(cfg Config) (string, error) {
	name := strings.TrimSpace(cfg.Collection)
	if name == "" {
		name = DefaultCollection
	}
	if !collectionPattern.MatchString(name) {
		return "", fmt.Errorf("invalid history collection name %q", name)
	}
	return name, nil
}

// Open returns the store selected by cfg.Driver.
func Open(ctx context.Context, cfg Config) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case DriverMemory:
		return NewMemoryStore(0), nil
	case "", DriverSQLite:
		return OpenSQLite(ctx, cfg)
	case DriverPostgres, "pgx":
		return OpenPostgres(ctx, cfg)
	case DriverRedis:
		return OpenRedis(ctx, cfg)
	case DriverFirestore:
		return OpenFirestore(ctx, cfg)
	case DriverCassandra:
		return OpenCassandra(cfg)
	default:
		return nil, fmt.Errorf("unsupported history driver: %s", cfg.Driver)
	}
}
