// Package config resolves the command-line configuration.
//
// Precedence: flags > env (FAIRPRICE_*) > YAML file > defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/LucaChot/fairprice/src/feed"
)

const EnvPrefix = "FAIRPRICE"

// Keys double as flag names and YAML keys; env names are derived by
// upper-casing and replacing '-' with '_'.
const (
	KeySymbol          = "symbol"
	KeyTimeframe       = "timeframe"
	KeyExchange        = "exchange"
	KeyOut             = "out"
	KeyBaseURL         = "base-url"
	KeyReplayFile      = "replay-file"
	KeyClosedOnly      = "closed-only"
	KeyPollInterval    = "poll-interval"
	KeyRetryDelay      = "retry-delay"
	KeyMetricsAddr     = "metrics-addr"
	KeyPprofAddr       = "pprof-addr"
	KeyLogLevel        = "log-level"
	KeyQuiet           = "quiet"
	KeyCovarianceCheck = "covariance-check"
	KeyConfig          = "config"
)

var boundKeys = []string{
	KeySymbol, KeyTimeframe, KeyExchange, KeyOut, KeyBaseURL, KeyReplayFile,
	KeyClosedOnly, KeyPollInterval, KeyRetryDelay, KeyMetricsAddr, KeyPprofAddr, KeyLogLevel,
	KeyQuiet, KeyCovarianceCheck,
}

type Config struct {
	Symbols         []string
	Timeframe       string
	Exchange        string
	Out             string
	BaseURL         string
	ReplayFile      string
	ClosedOnly      bool
	PollInterval    time.Duration
	RetryDelay      time.Duration
	MetricsAddr     string
	PprofAddr       string
	LogLevel        log.Level
	Quiet           bool
	CovarianceCheck bool
}

// BindFlags registers every configuration flag on fs.
func BindFlags(fs *flag.FlagSet) {
	fs.StringSlice(KeySymbol, []string{"BTC/USDT"}, "symbol(s) to estimate, comma separated")
	fs.String(KeyTimeframe, "1m", "candle timeframe")
	fs.String(KeyExchange, "binance", "data source: binance, binance-ws or replay")
	fs.String(KeyOut, "results_v2.csv", "output CSV file")
	fs.String(KeyBaseURL, "", "override the data source endpoint")
	fs.String(KeyReplayFile, "", "CSV of timestamp,close rows for the replay source")
	fs.Bool(KeyClosedOnly, false, "only use completed candles")
	fs.Duration(KeyPollInterval, time.Second, "wait between polls")
	fs.Duration(KeyRetryDelay, 5*time.Second, "wait after a failed poll")
	fs.String(KeyMetricsAddr, "", "serve Prometheus metrics on this address (disabled when empty)")
	fs.String(KeyPprofAddr, "", "serve pprof on this address (disabled when empty)")
	fs.String(KeyLogLevel, "info", "log level")
	fs.Bool(KeyQuiet, false, "do not print a line per observation")
	fs.Bool(KeyCovarianceCheck, false, "verify the filter covariance after every step")
	fs.String(KeyConfig, "", "YAML configuration file")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeySymbol, []string{"BTC/USDT"})
	v.SetDefault(KeyTimeframe, "1m")
	v.SetDefault(KeyExchange, "binance")
	v.SetDefault(KeyOut, "results_v2.csv")
	v.SetDefault(KeyBaseURL, "")
	v.SetDefault(KeyReplayFile, "")
	v.SetDefault(KeyClosedOnly, false)
	v.SetDefault(KeyPollInterval, time.Second)
	v.SetDefault(KeyRetryDelay, 5*time.Second)
	v.SetDefault(KeyMetricsAddr, "")
	v.SetDefault(KeyPprofAddr, "")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyQuiet, false)
	v.SetDefault(KeyCovarianceCheck, false)
}

// Load resolves the configuration and validates it. fs may be nil.
func Load(fs *flag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	path := os.Getenv(EnvPrefix + "_CONFIG")
	if fs != nil {
		if f := fs.Lookup(KeyConfig); f != nil && f.Changed {
			path = f.Value.String()
		}
	}
	if path != "" {
		if err := mergeFile(v, path); err != nil {
			return nil, err
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if fs != nil {
		for _, key := range boundKeys {
			if f := fs.Lookup(key); f != nil {
				_ = v.BindPFlag(key, f)
			}
		}
	}

	level, err := log.ParseLevel(v.GetString(KeyLogLevel))
	if err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	cfg := &Config{
		Symbols:         splitSymbols(v.GetStringSlice(KeySymbol)),
		Timeframe:       v.GetString(KeyTimeframe),
		Exchange:        v.GetString(KeyExchange),
		Out:             v.GetString(KeyOut),
		BaseURL:         v.GetString(KeyBaseURL),
		ReplayFile:      v.GetString(KeyReplayFile),
		ClosedOnly:      v.GetBool(KeyClosedOnly),
		PollInterval:    v.GetDuration(KeyPollInterval),
		RetryDelay:      v.GetDuration(KeyRetryDelay),
		MetricsAddr:     v.GetString(KeyMetricsAddr),
		PprofAddr:       v.GetString(KeyPprofAddr),
		LogLevel:        level,
		Quiet:           v.GetBool(KeyQuiet),
		CovarianceCheck: v.GetBool(KeyCovarianceCheck),
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func mergeFile(v *viper.Viper, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	if err := v.MergeConfigMap(raw); err != nil {
		return fmt.Errorf("merging config file %s: %w", path, err)
	}
	return nil
}

// splitSymbols accepts both list values and comma separated strings, as
// env variables arrive as a single string.
func splitSymbols(in []string) []string {
	var out []string
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Validate fails fast on configuration the stream cannot run with.
func Validate(cfg *Config) error {
	if len(cfg.Symbols) == 0 {
		return fmt.Errorf("at least one symbol is required")
	}
	seen := make(map[string]bool, len(cfg.Symbols))
	for _, s := range cfg.Symbols {
		if seen[s] {
			return fmt.Errorf("symbol %q listed twice", s)
		}
		seen[s] = true
	}
	if _, err := feed.TimeframeDuration(cfg.Timeframe); err != nil {
		return err
	}
	if cfg.Exchange == "" {
		return fmt.Errorf("exchange is required")
	}
	if cfg.Out == "" {
		return fmt.Errorf("output file is required")
	}
	if cfg.Exchange == "replay" {
		if cfg.ReplayFile == "" {
			return fmt.Errorf("replay source needs %s", KeyReplayFile)
		}
		if cfg.PollInterval < 0 {
			return fmt.Errorf("poll interval must not be negative, got %v", cfg.PollInterval)
		}
	} else if cfg.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %v", cfg.PollInterval)
	}
	if cfg.RetryDelay < 0 {
		return fmt.Errorf("retry delay must not be negative, got %v", cfg.RetryDelay)
	}
	return nil
}
