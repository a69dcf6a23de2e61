package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFlags(t *testing.T, args ...string) *flag.FlagSet {
	t.Helper()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	BindFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(newFlags(t))
	require.NoError(t, err)

	assert.Equal(t, []string{"BTC/USDT"}, cfg.Symbols)
	assert.Equal(t, "1m", cfg.Timeframe)
	assert.Equal(t, "binance", cfg.Exchange)
	assert.Equal(t, "results_v2.csv", cfg.Out)
	assert.Equal(t, time.Second, cfg.PollInterval)
	assert.Equal(t, 5*time.Second, cfg.RetryDelay)
	assert.Equal(t, log.InfoLevel, cfg.LogLevel)
	assert.Empty(t, cfg.MetricsAddr)
	assert.Empty(t, cfg.PprofAddr)
	assert.False(t, cfg.Quiet)
}

func TestLoadNilFlagSet(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"BTC/USDT"}, cfg.Symbols)
}

func TestLoadFlags(t *testing.T) {
	cfg, err := Load(newFlags(t,
		"--symbol=ETH/USDT,SOL/USDT",
		"--timeframe=5m",
		"--out=/tmp/x.csv",
		"--poll-interval=2s",
		"--log-level=debug",
		"--quiet",
		"--pprof-addr=:6060",
	))
	require.NoError(t, err)

	assert.Equal(t, []string{"ETH/USDT", "SOL/USDT"}, cfg.Symbols)
	assert.Equal(t, "5m", cfg.Timeframe)
	assert.Equal(t, "/tmp/x.csv", cfg.Out)
	assert.Equal(t, 2*time.Second, cfg.PollInterval)
	assert.Equal(t, log.DebugLevel, cfg.LogLevel)
	assert.True(t, cfg.Quiet)
	assert.Equal(t, ":6060", cfg.PprofAddr)
}

func TestLoadPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fairprice.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
symbol:
  - BTC/USDT
  - ETH/USDT
timeframe: 15m
exchange: binance-ws
out: file.csv
retry-delay: 30s
metrics-addr: ":9100"
`), 0o644))

	t.Setenv("FAIRPRICE_OUT", "env.csv")
	t.Setenv("FAIRPRICE_TIMEFRAME", "1h")

	cfg, err := Load(newFlags(t, "--config", path, "--timeframe=4h"))
	require.NoError(t, err)

	// file
	assert.Equal(t, []string{"BTC/USDT", "ETH/USDT"}, cfg.Symbols)
	assert.Equal(t, "binance-ws", cfg.Exchange)
	assert.Equal(t, 30*time.Second, cfg.RetryDelay)
	assert.Equal(t, ":9100", cfg.MetricsAddr)
	// env over file
	assert.Equal(t, "env.csv", cfg.Out)
	// flag over env
	assert.Equal(t, "4h", cfg.Timeframe)
}

func TestLoadEnvSymbols(t *testing.T) {
	t.Setenv("FAIRPRICE_SYMBOL", "BTC/USDT, ETH/USDT")
	cfg, err := Load(newFlags(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"BTC/USDT", "ETH/USDT"}, cfg.Symbols)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"unknown timeframe", []string{"--timeframe=7m"}},
		{"bad log level", []string{"--log-level=loud"}},
		{"zero poll interval", []string{"--poll-interval=0s"}},
		{"replay without file", []string{"--exchange=replay"}},
		{"duplicate symbol", []string{"--symbol=BTC/USDT,BTC/USDT"}},
		{"negative retry", []string{"--retry-delay=-1s"}},
		{"missing config file", []string{"--config=/does/not/exist.yaml"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(newFlags(t, tt.args...))
			assert.Error(t, err)
		})
	}
}

func TestValidateReplayAllowsZeroInterval(t *testing.T) {
	cfg := &Config{
		Symbols:    []string{"BTC/USDT"},
		Timeframe:  "1m",
		Exchange:   "replay",
		ReplayFile: "candles.csv",
		Out:        "out.csv",
	}
	assert.NoError(t, Validate(cfg))
}
