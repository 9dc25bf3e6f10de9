// Package config loads the process configuration of dmmscan from a YAML file,
// DMMSCAN_* environment variables and command line flags, in increasing order of
// precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/viper"

	"github.com/arloliu/go-dmmscan/instrument"
	"github.com/arloliu/go-dmmscan/logger"
	"github.com/arloliu/go-dmmscan/publish"
)

// EnvPrefix prefixes environment overrides: DMMSCAN_INSTRUMENT_HOST sets instrument.host.
const EnvPrefix = "DMMSCAN"

// Transports.
const (
	TransportVXI11 = "vxi11"
	TransportSim   = "sim"
)

// Config is the process configuration.
type Config struct {
	Prefix     string        `mapstructure:"prefix"`
	Period     time.Duration `mapstructure:"period"`
	HoldOff    time.Duration `mapstructure:"holdoff"`
	Instrument Instrument    `mapstructure:"instrument"`
	Log        Log           `mapstructure:"log"`
	Publish    Publish       `mapstructure:"publish"`
	HTTP       HTTP          `mapstructure:"http"`
}

// Instrument selects the transport and the meters to poll.
type Instrument struct {
	Transport      string        `mapstructure:"transport"`
	Host           string        `mapstructure:"host"`
	Bus            string        `mapstructure:"bus"`
	Addresses      []string      `mapstructure:"addresses"`
	Model          string        `mapstructure:"model"`
	Timeout        time.Duration `mapstructure:"timeout"`
	ConnectTimeout time.Duration `mapstructure:"connecttimeout"`
	PortmapPort    int           `mapstructure:"portmapport"`
	// CorePort skips the portmapper when not 0.
	CorePort int `mapstructure:"coreport"`
}

// Log configures the process logger.
type Log struct {
	Level  string `mapstructure:"level"`
	Source bool   `mapstructure:"source"`
}

// Publish enables the sinks readings are published to.
type Publish struct {
	Memory          bool          `mapstructure:"memory"`
	Prometheus      bool          `mapstructure:"prometheus"`
	Namespace       string        `mapstructure:"namespace"`
	ConnectAttempts uint          `mapstructure:"connectattempts"`
	ConnectDelay    time.Duration `mapstructure:"connectdelay"`
	NATS            NATS          `mapstructure:"nats"`
	Redis           Redis         `mapstructure:"redis"`
}

// NATS is enabled by a non-empty URL.
type NATS struct {
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subjectprefix"`
	Codec         string `mapstructure:"codec"`
}

// Redis is enabled by a non-empty Addr.
type Redis struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
	Codec    string `mapstructure:"codec"`
}

// HTTP configures the health and metrics endpoint.
type HTTP struct {
	// Listen is the address of the health and metrics endpoint; empty disables it.
	Listen string `mapstructure:"listen"`
}

// SetDefaults registers the default of every key. Keys without a default are not
// picked up from the environment.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("prefix", "")
	v.SetDefault("period", time.Second)
	v.SetDefault("holdoff", 10*time.Second)

	v.SetDefault("instrument.transport", TransportVXI11)
	v.SetDefault("instrument.host", "")
	v.SetDefault("instrument.bus", "gpib0")
	v.SetDefault("instrument.addresses", []string{})
	v.SetDefault("instrument.model", "HP3458A")
	v.SetDefault("instrument.timeout", time.Second)
	v.SetDefault("instrument.connecttimeout", 3*time.Second)
	v.SetDefault("instrument.portmapport", 111)
	v.SetDefault("instrument.coreport", 0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.source", false)

	v.SetDefault("publish.memory", false)
	v.SetDefault("publish.prometheus", true)
	v.SetDefault("publish.namespace", "dmmscan")
	v.SetDefault("publish.connectattempts", publish.DefaultConnectAttempts)
	v.SetDefault("publish.connectdelay", publish.DefaultConnectDelay)
	v.SetDefault("publish.nats.url", "")
	v.SetDefault("publish.nats.subjectprefix", "dmmscan")
	v.SetDefault("publish.nats.codec", publish.CodecJSON)
	v.SetDefault("publish.redis.addr", "")
	v.SetDefault("publish.redis.password", "")
	v.SetDefault("publish.redis.db", 0)
	v.SetDefault("publish.redis.channel", "")
	v.SetDefault("publish.redis.codec", publish.CodecJSON)

	v.SetDefault("http.listen", ":9110")
}

// NewViper returns a viper instance with defaults and environment overrides.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

// Load reads the optional YAML file at path into v and decodes the result.
// The returned Config is not validated.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}

	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var result *multierror.Error
	add := func(format string, args ...any) {
		result = multierror.Append(result, fmt.Errorf(format, args...))
	}

	if c.Prefix == "" {
		add("prefix must not be empty")
	}
	if c.Period <= 0 {
		add("period must be positive, got %s", c.Period)
	}
	if c.HoldOff < 0 {
		add("holdoff must not be negative, got %s", c.HoldOff)
	}

	in := c.Instrument
	switch in.Transport {
	case TransportVXI11:
		if in.Host == "" {
			add("instrument.host is required for the vxi11 transport")
		}
	case TransportSim:
	default:
		add("unknown instrument.transport %q", in.Transport)
	}
	if len(in.Addresses) == 0 {
		add("instrument.addresses must not be empty")
	} else if in.Host != "" || in.Transport == TransportSim {
		if _, err := c.Addresses(); err != nil {
			add("instrument.addresses: %v", err)
		}
	}
	if in.Model == "" {
		add("instrument.model must not be empty")
	}
	if in.Timeout <= 0 {
		add("instrument.timeout must be positive, got %s", in.Timeout)
	}
	if in.ConnectTimeout <= 0 {
		add("instrument.connecttimeout must be positive, got %s", in.ConnectTimeout)
	}

	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		add("log.level: %v", err)
	}

	p := c.Publish
	if p.NATS.URL != "" {
		if _, err := publish.CodecByName(p.NATS.Codec); err != nil {
			add("publish.nats.codec: %v", err)
		}
	}
	if p.Redis.Addr != "" {
		if _, err := publish.CodecByName(p.Redis.Codec); err != nil {
			add("publish.redis.codec: %v", err)
		}
	}
	if !p.Memory && !p.Prometheus && p.NATS.URL == "" && p.Redis.Addr == "" {
		add("no publish sink enabled")
	}

	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	return nil
}

// Addresses returns the ordered instrument addresses. The sim transport accepts
// an empty host.
func (c *Config) Addresses() ([]instrument.Address, error) {
	host := c.Instrument.Host
	if host == "" && c.Instrument.Transport == TransportSim {
		host = "sim"
	}

	return instrument.ParseAddresses(host, c.Instrument.Bus, c.Instrument.Addresses)
}

// LogLevel returns the parsed log level.
func (c *Config) LogLevel() (logger.LogLevel, error) {
	return logger.ParseLevel(c.Log.Level)
}
