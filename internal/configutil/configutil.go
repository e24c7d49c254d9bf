package configutil

import (
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// FlagOrViperString prefers an explicitly set flag over the viper key.
func FlagOrViperString(cmd *cobra.Command, flagName, viperKey string) string {
	if cmd != nil {
		if f := cmd.Flags().Lookup(flagName); f != nil && f.Changed {
			v, _ := cmd.Flags().GetString(flagName)
			return v
		}
	}
	return viper.GetString(viperKey)
}

func FlagOrViperStringArray(cmd *cobra.Command, flagName, viperKey string) []string {
	if cmd != nil {
		if f := cmd.Flags().Lookup(flagName); f != nil && f.Changed {
			v, _ := cmd.Flags().GetStringArray(flagName)
			return v
		}
	}
	out := viper.GetStringSlice(viperKey)
	// Env vars arrive as a single comma separated value.
	if len(out) == 1 && strings.Contains(out[0], ",") {
		out = strings.Split(out[0], ",")
	}
	return out
}

func FlagOrViperInt(cmd *cobra.Command, flagName, viperKey string) int {
	if cmd != nil {
		if f := cmd.Flags().Lookup(flagName); f != nil && f.Changed {
			v, _ := cmd.Flags().GetInt(flagName)
			return v
		}
	}
	return viper.GetInt(viperKey)
}

func FlagOrViperFloat(cmd *cobra.Command, flagName, viperKey string) float64 {
	if cmd != nil {
		if f := cmd.Flags().Lookup(flagName); f != nil && f.Changed {
			v, _ := cmd.Flags().GetFloat64(flagName)
			return v
		}
	}
	return viper.GetFloat64(viperKey)
}

func FlagOrViperDuration(cmd *cobra.Command, flagName, viperKey string) time.Duration {
	if cmd != nil {
		if f := cmd.Flags().Lookup(flagName); f != nil && f.Changed {
			v, _ := cmd.Flags().GetDuration(flagName)
			return v
		}
	}
	return viper.GetDuration(viperKey)
}
