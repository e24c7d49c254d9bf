package slackcmd

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/quailyquaily/aichat/internal/chathistory"
	"github.com/quailyquaily/aichat/llm"
	"github.com/spf13/cobra"
)

type Dependencies struct {
	LoggerFromViper        func() (*slog.Logger, error)
	CreateStreamer         func(provider, endpoint, apiKey string, timeout time.Duration) (llm.Streamer, error)
	HistoryConfigFromViper func() chathistory.Config
}

var deps Dependencies

func NewCommand(d Dependencies) *cobra.Command {
	deps = d
	return newSlackCmd()
}

func loggerFromViper() (*slog.Logger, error) {
	if deps.LoggerFromViper == nil {
		return nil, fmt.Errorf("LoggerFromViper dependency missing")
	}
	return deps.LoggerFromViper()
}

func createStreamer(provider, endpoint, apiKey string, timeout time.Duration) (llm.Streamer, error) {
	if deps.CreateStreamer == nil {
		return nil, fmt.Errorf("CreateStreamer dependency missing")
	}
	return deps.CreateStreamer(provider, endpoint, apiKey, timeout)
}

func historyConfigFromViper() chathistory.Config {
	if deps.HistoryConfigFromViper == nil {
		return chathistory.DefaultConfig()
	}
	return deps.HistoryConfigFromViper()
}
