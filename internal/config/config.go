package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	ListenAddr        string
	AdminCap          string
	WhitelistBaseFee  uint64
	TrackedAssets     []string
	EventsOut         string
	DayCounter        string
	DayCounterEnabled bool
	OracleMode        string
	RPCURL            string
	AggregatorAddr    string
	MaxRetries        int
	RetryBackoff      time.Duration
	PostgresDSN       string
	SnapshotInterval  time.Duration
	LogLevel          string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LEVERCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("listen", ":8080")
	v.SetDefault("whitelist-base-fee", uint64(100))
	v.SetDefault("events-out", "./data/events.jsonl")
	v.SetDefault("day-counter", "./data/liquidations.json")
	v.SetDefault("day-counter-enabled", true)
	v.SetDefault("oracle-mode", "manual")
	v.SetDefault("max-retries", 5)
	v.SetDefault("retry-backoff", 500*time.Millisecond)
	v.SetDefault("snapshot-interval", time.Minute)
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		ListenAddr:        v.GetString("listen"),
		AdminCap:          v.GetString("admin-cap"),
		WhitelistBaseFee:  v.GetUint64("whitelist-base-fee"),
		TrackedAssets:     getStringSlice(v, "track"),
		EventsOut:         v.GetString("events-out"),
		DayCounter:        v.GetString("day-counter"),
		DayCounterEnabled: v.GetBool("day-counter-enabled"),
		OracleMode:        v.GetString("oracle-mode"),
		RPCURL:            v.GetString("rpc"),
		AggregatorAddr:    v.GetString("aggregator"),
		MaxRetries:        v.GetInt("max-retries"),
		RetryBackoff:      v.GetDuration("retry-backoff"),
		PostgresDSN:       v.GetString("postgres-dsn"),
		SnapshotInterval:  v.GetDuration("snapshot-interval"),
		LogLevel:          v.GetString("log-level"),
	}

	if cfg.OracleMode != "manual" && cfg.OracleMode != "chain" {
		return Config{}, fmt.Errorf("oracle-mode must be manual or chain, got %q", cfg.OracleMode)
	}
	if cfg.OracleMode == "chain" && cfg.RPCURL == "" {
		return Config{}, fmt.Errorf("oracle-mode chain requires rpc")
	}

	return cfg, nil
}

func getStringSlice(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case []string:
		return cleanStrings(typed)
	case string:
		return splitAndClean(typed)
	case []interface{}:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return cleanStrings(items)
	default:
		return nil
	}
}

func splitAndClean(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	return cleanStrings(parts)
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
