package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ArchiveConfig holds configuration for the archive command.
type ArchiveConfig struct {
	Input     string
	PGDSN     string
	BatchSize int
	Since     string
	LogLevel  string
}

// LoadArchive merges config file, environment variables, and flags into ArchiveConfig.
func LoadArchive(cfgFile string, flags *pflag.FlagSet) (ArchiveConfig, error) {
	v := viper.New()
	v.SetEnvPrefix("LEVERCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("batch-size", 1000)
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return ArchiveConfig{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return ArchiveConfig{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return ArchiveConfig{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := ArchiveConfig{
		Input:     v.GetString("in"),
		PGDSN:     v.GetString("postgres-dsn"),
		BatchSize: v.GetInt("batch-size"),
		Since:     v.GetString("since"),
		LogLevel:  v.GetString("log-level"),
	}

	return cfg, nil
}

// ParseTimestamp parses a timestamp value (unix seconds or RFC3339).
func ParseTimestamp(input string) (uint64, error) {
	if strings.TrimSpace(input) == "" {
		return 0, nil
	}

	if isNumeric(input) {
		val, err := strconv.ParseUint(input, 10, 64)
		if err != nil {
			return 0, err
		}
		return val, nil
	}

	tm, err := time.Parse(time.RFC3339, input)
	if err != nil {
		return 0, err
	}
	return uint64(tm.Unix()), nil
}

func isNumeric(input string) bool {
	for _, r := range input {
		if r < '0' || r > '9' {
			return false
		}
	}
	return input != ""
}
