package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/quailyquaily/aichat/cmd/aichat/slackcmd"
	"github.com/quailyquaily/aichat/internal/chathistory"
	"github.com/quailyquaily/aichat/internal/logutil"
	"github.com/quailyquaily/aichat/internal/stream"
	"github.com/quailyquaily/aichat/llm"
	"github.com/quailyquaily/aichat/providers/uniai"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// legacyEnv maps config keys to the env names the bot was first deployed with.
var legacyEnv = map[string]string{
	"slack.bot_token":              "SLACK_BOT_TOKEN",
	"slack.app_token":              "SLACK_APP_TOKEN",
	"slack.signing_secret":         "SLACK_SIGNING_SECRET",
	"llm.api_key":                  "OPENAI_API_KEY",
	"llm.model":                    "OPENAI_API_MODEL",
	"llm.temperature":              "OPENAI_API_TEMPERATURE",
	"history.firestore.project_id": "GOOGLE_CLOUD_PROJECT",
}

func newRootCmd() *cobra.Command {
	var configFile string
	cmd := &cobra.Command{
		Use:           "aichat",
		Short:         "Slack bot that streams LLM answers into threads",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initViper(configFile)
		},
	}
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default ./config.yaml or ~/.aichat/config.yaml).")

	cmd.AddCommand(slackcmd.NewCommand(slackcmd.Dependencies{
		LoggerFromViper: logutil.LoggerFromViper,
		CreateStreamer: func(provider, endpoint, apiKey string, timeout time.Duration) (llm.Streamer, error) {
			client, err := uniai.New(uniai.Config{
				Provider:       provider,
				Endpoint:       endpoint,
				APIKey:         apiKey,
				RequestTimeout: timeout,
			})
			if err != nil {
				return nil, err
			}
			return client, nil
		},
		HistoryConfigFromViper: historyConfigFromViper,
	}))
	return cmd
}

func initViper(configFile string) error {
	applyViperDefaults()

	viper.SetEnvPrefix("AICHAT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
	for key, env := range legacyEnv {
		if err := viper.BindEnv(key, "AICHAT_"+strings.ToUpper(strings.NewReplacer(".", "_").Replace(key)), env); err != nil {
			return err
		}
	}

	configFile = strings.TrimSpace(configFile)
	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", configFile, err)
		}
		return nil
	}
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(filepath.Join(home, ".aichat"))
	}
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}

func applyViperDefaults() {
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")
	viper.SetDefault("logging.add_source", false)

	viper.SetDefault("slack.mode", "socket")
	viper.SetDefault("slack.base_url", "https://slack.com/api")
	viper.SetDefault("slack.task_timeout", 10*time.Minute)
	viper.SetDefault("slack.max_concurrency", 3)
	viper.SetDefault("slack.update_interval", stream.DefaultBaseInterval)
	viper.SetDefault("slack.rate_limit_rps", 5.0)
	viper.SetDefault("slack.rate_limit_burst", 10)
	viper.SetDefault("slack.disclaimer", stream.DefaultDisclaimer)

	viper.SetDefault("llm.provider", "openai")
	viper.SetDefault("llm.endpoint", uniai.DefaultEndpoint)
	viper.SetDefault("llm.request_timeout", 5*time.Minute)

	viper.SetDefault("server.listen", "")
	viper.SetDefault("server.max_sessions", 1000)

	def := chathistory.DefaultConfig()
	viper.SetDefault("history.driver", def.Driver)
	viper.SetDefault("history.collection", def.Collection)
	viper.SetDefault("history.auto_migrate", def.AutoMigrate)
	viper.SetDefault("history.pool.max_open_conns", def.Pool.MaxOpenConns)
	viper.SetDefault("history.pool.max_idle_conns", def.Pool.MaxIdleConns)
	viper.SetDefault("history.sqlite.busy_timeout_ms", def.SQLite.BusyTimeoutMs)
	viper.SetDefault("history.sqlite.wal", def.SQLite.WAL)
	viper.SetDefault("history.redis.addr", def.Redis.Addr)
	viper.SetDefault("history.cassandra.hosts", def.Cassandra.Hosts)
	viper.SetDefault("history.cassandra.keyspace", def.Cassandra.Keyspace)
	viper.SetDefault("history.cassandra.consistency", def.Cassandra.Consistency)
	viper.SetDefault("history.cassandra.timeout", def.Cassandra.Timeout)
}

func historyConfigFromViper() chathistory.Config {
	hosts := viper.GetStringSlice("history.cassandra.hosts")
	if len(hosts) == 1 && strings.Contains(hosts[0], ",") {
		hosts = strings.Split(hosts[0], ",")
	}
	return chathistory.Config{
		Driver:     strings.ToLower(strings.TrimSpace(viper.GetString("history.driver"))),
		DSN:        viper.GetString("history.dsn"),
		Collection: viper.GetString("history.collection"),
		Pool: chathistory.PoolConfig{
			MaxOpenConns:    viper.GetInt("history.pool.max_open_conns"),
			MaxIdleConns:    viper.GetInt("history.pool.max_idle_conns"),
			ConnMaxLifetime: viper.GetDuration("history.pool.conn_max_lifetime"),
		},
		SQLite: chathistory.SQLiteConfig{
			BusyTimeoutMs: viper.GetInt("history.sqlite.busy_timeout_ms"),
			WAL:           viper.GetBool("history.sqlite.wal"),
		},
		Redis: chathistory.RedisConfig{
			Addr:     viper.GetString("history.redis.addr"),
			Password: viper.GetString("history.redis.password"),
			DB:       viper.GetInt("history.redis.db"),
			TTL:      viper.GetDuration("history.redis.ttl"),
		},
		Firestore: chathistory.FirestoreConfig{
			ProjectID: viper.GetString("history.firestore.project_id"),
		},
		Cassandra: chathistory.CassandraConfig{
			Hosts:       hosts,
			Keyspace:    viper.GetString("history.cassandra.keyspace"),
			Username:    viper.GetString("history.cassandra.username"),
			Password:    viper.GetString("history.cassandra.password"),
			Consistency: viper.GetString("history.cassandra.consistency"),
			Timeout:     viper.GetDuration("history.cassandra.timeout"),
		},
		AutoMigrate: viper.GetBool("history.auto_migrate"),
	}
}
