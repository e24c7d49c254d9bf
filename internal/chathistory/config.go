package chathistory

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	DriverMemory    = "memory"
	DriverSQLite    = "sqlite"
	DriverPostgres  = "postgres"
	DriverRedis     = "redis"
	DriverFirestore = "firestore"
	DriverCassandra = "cassandra"

	DefaultCollection = "chat_history"
)

type SQLiteConfig struct {
	BusyTimeoutMs int
	WAL           bool
}

type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// TTL expires records; zero keeps them forever.
	TTL time.Duration
}

type FirestoreConfig struct {
	ProjectID string
}

type CassandraConfig struct {
	Hosts       []string
	Keyspace    string
	Username    string
	Password    string
	Consistency string
	Timeout     time.Duration
}

type Config struct {
	Driver string
	DSN    string
	// Collection names the table, collection or key prefix records go to.
	Collection  string
	Pool        PoolConfig
	SQLite      SQLiteConfig
	Redis       RedisConfig
	Firestore   FirestoreConfig
	Cassandra   CassandraConfig
	AutoMigrate bool
}

func DefaultConfig() Config {
	return Config{
		Driver:     DriverSQLite,
		DSN:        "",
		Collection: DefaultCollection,
		Pool: PoolConfig{
			MaxOpenConns:    1,
			MaxIdleConns:    1,
			ConnMaxLifetime: 0,
		},
		SQLite: SQLiteConfig{
			BusyTimeoutMs: 5000,
			WAL:           true,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Cassandra: CassandraConfig{
			Hosts:       []string{"localhost:9042"},
			Keyspace:    "aichat",
			Consistency: "LOCAL_QUORUM",
			Timeout:     5 * time.Second,
		},
		AutoMigrate: true,
	}
}

func ResolveSQLiteDSN(dsn string) (string, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn != "" {
		return dsn, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	homeDir := filepath.Join(home, ".aichat")
	homeDB := filepath.Join(homeDir, "aichat.sqlite")
	localDB := filepath.Clean("./aichat.sqlite")

	// Precedence:
	// 1) existing $HOME/.aichat/aichat.sqlite
	if _, err := os.Stat(homeDB); err == nil {
		return homeDB, nil
	}
	// 2) existing ./aichat.sqlite
	if _, err := os.Stat(localDB); err == nil {
		return localDB, nil
	}
	// 3) create + use $HOME/.aichat/aichat.sqlite (ensure dir exists)
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		return "", err
	}
	return homeDB, nil
}
