package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-dmmscan/logger"
)

const sampleYAML = `
prefix: LAB:DMM
period: 500ms
holdoff: 5s
instrument:
  host: 10.0.0.5
  bus: gpib1
  addresses: ["22", "23"]
  timeout: 2s
publish:
  memory: true
  prometheus: false
  nats:
    url: nats://127.0.0.1:4222
    codec: cbor
log:
  level: debug
`

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dmmscan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoad_Defaults(t *testing.T) {
	require := require.New(t)

	cfg, err := Load(NewViper(), "")
	require.NoError(err)

	require.Equal(time.Second, cfg.Period)
	require.Equal(10*time.Second, cfg.HoldOff)
	require.Equal(TransportVXI11, cfg.Instrument.Transport)
	require.Equal("gpib0", cfg.Instrument.Bus)
	require.Equal("HP3458A", cfg.Instrument.Model)
	require.Equal(111, cfg.Instrument.PortmapPort)
	require.True(cfg.Publish.Prometheus)
	require.Equal(":9110", cfg.HTTP.Listen)

	// prefix, host and addresses have no default
	require.Error(cfg.Validate())
}

func TestLoad_File(t *testing.T) {
	require := require.New(t)

	cfg, err := Load(NewViper(), writeFile(t, sampleYAML))
	require.NoError(err)
	require.NoError(cfg.Validate())

	require.Equal("LAB:DMM", cfg.Prefix)
	require.Equal(500*time.Millisecond, cfg.Period)
	require.Equal(5*time.Second, cfg.HoldOff)
	require.Equal(2*time.Second, cfg.Instrument.Timeout)
	require.Equal(3*time.Second, cfg.Instrument.ConnectTimeout)
	require.True(cfg.Publish.Memory)
	require.False(cfg.Publish.Prometheus)
	require.Equal("cbor", cfg.Publish.NATS.Codec)

	addrs, err := cfg.Addresses()
	require.NoError(err)
	require.Len(addrs, 2)
	require.Equal("10.0.0.5", addrs[0].Host)
	require.Equal("gpib1,22", addrs[0].Device)
	require.Equal("gpib1,23", addrs[1].Device)

	level, err := cfg.LogLevel()
	require.NoError(err)
	require.Equal(logger.DebugLevel, level)
}

func TestLoad_EnvOverride(t *testing.T) {
	require := require.New(t)

	t.Setenv("DMMSCAN_PREFIX", "ENV:DMM")
	t.Setenv("DMMSCAN_INSTRUMENT_HOST", "192.168.1.9")
	t.Setenv("DMMSCAN_PERIOD", "2s")

	cfg, err := Load(NewViper(), writeFile(t, sampleYAML))
	require.NoError(err)
	require.NoError(cfg.Validate())

	require.Equal("ENV:DMM", cfg.Prefix)
	require.Equal("192.168.1.9", cfg.Instrument.Host)
	require.Equal(2*time.Second, cfg.Period)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(NewViper(), filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := Load(NewViper(), writeFile(t, sampleYAML))
		require.NoError(t, err)

		return cfg
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
		errMsg string
	}{
		{"empty prefix", func(c *Config) { c.Prefix = "" }, "prefix must not be empty"},
		{"zero period", func(c *Config) { c.Period = 0 }, "period must be positive"},
		{"negative holdoff", func(c *Config) { c.HoldOff = -time.Second }, "holdoff must not be negative"},
		{"no addresses", func(c *Config) { c.Instrument.Addresses = nil }, "instrument.addresses must not be empty"},
		{"duplicate address", func(c *Config) { c.Instrument.Addresses = []string{"22", "22"} }, "instrument.addresses"},
		{"missing host", func(c *Config) { c.Instrument.Host = "" }, "instrument.host is required"},
		{"unknown transport", func(c *Config) { c.Instrument.Transport = "serial" }, "unknown instrument.transport"},
		{"zero timeout", func(c *Config) { c.Instrument.Timeout = 0 }, "instrument.timeout must be positive"},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"bad codec", func(c *Config) { c.Publish.NATS.Codec = "xml" }, "publish.nats.codec"},
		{"no sink", func(c *Config) {
			c.Publish.Memory = false
			c.Publish.NATS.URL = ""
		}, "no publish sink enabled"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestValidate_Aggregates(t *testing.T) {
	cfg, err := Load(NewViper(), "")
	require.NoError(t, err)

	err = cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "prefix must not be empty")
	require.Contains(t, err.Error(), "instrument.host is required")
	require.Contains(t, err.Error(), "instrument.addresses must not be empty")
}

func TestAddresses_SimWithoutHost(t *testing.T) {
	cfg := &Config{Instrument: Instrument{Transport: TransportSim, Bus: "gpib0", Addresses: []string{"22"}}}

	addrs, err := cfg.Addresses()
	require.NoError(t, err)
	require.Len(t, addrs, 1)
	require.Equal(t, "sim", addrs[0].Host)
}
