package chathistory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gocql/gocql"
)

// CassandraStore writes records to "<keyspace>.<collection>". The table is
// created when AutoMigrate is set; the keyspace must already exist.
type CassandraStore struct {
	session *gocql.Session
	table   string
}

func OpenCassandra(cfg Config) (*CassandraStore, error) {
	table, err := collectionName(cfg)
	if err != nil {
		return nil, err
	}
	hosts := cfg.Cassandra.Hosts
	if len(hosts) == 0 {
		hosts = DefaultConfig().Cassandra.Hosts
	}
	cluster := gocql.NewCluster(hosts...)
	cluster.Keyspace = strings.TrimSpace(cfg.Cassandra.Keyspace)
	cluster.Consistency = parseConsistency(cfg.Cassandra.Consistency)
	if cfg.Cassandra.Timeout > 0 {
		cluster.Timeout = cfg.Cassandra.Timeout
		cluster.ConnectTimeout = cfg.Cassandra.Timeout
	}
	if cfg.Cassandra.Username != "" && cfg.Cassandra.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: cfg.Cassandra.Username,
			Password: cfg.Cassandra.Password,
		}
	}
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		NumRetries: 3,
		Min:        100 * time.Millisecond,
		Max:        2 * time.Second,
	}
	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create Cassandra session: %w", err)
	}
	s := &CassandraStore{session: session, table: table}
	if cfg.AutoMigrate {
		schema := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			message_ts text PRIMARY KEY,
			thread_ts text,
			channel_id text,
			user_id text,
			message text,
			created_at timestamp
		)`, table)
		if err := session.Query(schema).Exec(); err != nil {
			session.Close()
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}
	return s, nil
}

func (s *CassandraStore) Save(ctx context.Context, rec Record) error {
	rec, err := rec.normalize()
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`INSERT INTO %s (message_ts, thread_ts, channel_id, user_id, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`, s.table)
	err = s.session.Query(query,
		rec.MessageTS,
		rec.ThreadTS,
		rec.ChannelID,
		rec.UserID,
		rec.Message,
		rec.CreatedAt,
	).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("save history record: %w", err)
	}
	return nil
}

func (s *CassandraStore) Close() error {
	s.session.Close()
	return nil
}

func parseConsistency(raw string) gocql.Consistency {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "ANY":
		return gocql.Any
	case "ONE":
		return gocql.One
	case "TWO":
		return gocql.Two
	case "QUORUM":
		return gocql.Quorum
	case "ALL":
		return gocql.All
	case "LOCAL_ONE":
		return gocql.LocalOne
	default:
		return gocql.LocalQuorum
	}
}
