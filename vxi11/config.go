package vxi11

import (
	"errors"
	"fmt"
	"time"

	"github.com/arloliu/go-dmmscan/logger"
)

// Default values.
const (
	DefaultPortmapPort    = 111
	DefaultConnectTimeout = 3 * time.Second
	DefaultIOTimeout      = 1 * time.Second
	DefaultLockTimeout    = 0
	DefaultReadSize       = 0x10000

	// DefaultRPCSlack is added to the I/O timeout for the TCP deadline of each call,
	// so the instrument server reports its own I/O timeout before the socket gives up.
	DefaultRPCSlack = 1 * time.Second
)

// Range limits.
const (
	MinIOTimeout = 10 * time.Millisecond
	MaxIOTimeout = 120 * time.Second

	MinConnectTimeout = 100 * time.Millisecond
	MaxConnectTimeout = 60 * time.Second

	MaxLockTimeout = 120 * time.Second

	MinReadSize = 16
	MaxReadSize = maxRecord / 2
)

// Config holds the client-side settings for VXI-11 links.
type Config struct {
	portmapPort    int
	corePort       int
	connectTimeout time.Duration
	ioTimeout      time.Duration
	lockTimeout    time.Duration
	rpcSlack       time.Duration
	readSize       uint32
	termChar       int // -1: none

	logger logger.Logger
}

// NewConfig creates a client configuration. opts are applied in order.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := &Config{
		portmapPort:    DefaultPortmapPort,
		connectTimeout: DefaultConnectTimeout,
		ioTimeout:      DefaultIOTimeout,
		lockTimeout:    DefaultLockTimeout,
		rpcSlack:       DefaultRPCSlack,
		readSize:       DefaultReadSize,
		termChar:       -1,
		logger:         logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

func (cfg *Config) PortmapPort() int              { return cfg.portmapPort }
func (cfg *Config) CorePort() int                 { return cfg.corePort }
func (cfg *Config) ConnectTimeout() time.Duration { return cfg.connectTimeout }
func (cfg *Config) IOTimeout() time.Duration      { return cfg.ioTimeout }
func (cfg *Config) LockTimeout() time.Duration    { return cfg.lockTimeout }
func (cfg *Config) ReadSize() uint32              { return cfg.readSize }
func (cfg *Config) Logger() logger.Logger         { return cfg.logger }

// Option configures a Config.
type Option interface {
	apply(*Config) error
}

type optFunc func(*Config) error

func (f optFunc) apply(cfg *Config) error { return f(cfg) }

func checkPort(port int) error {
	if port < 0 || port > 65535 {
		return fmt.Errorf("vxi11: port %d out of range", port)
	}

	return nil
}

// WithPortmapPort sets the portmapper port. Default 111.
func WithPortmapPort(port int) Option {
	return optFunc(func(cfg *Config) error {
		if err := checkPort(port); err != nil {
			return err
		}
		if port == 0 {
			return errors.New("vxi11: portmapper port must not be 0")
		}
		cfg.portmapPort = port

		return nil
	})
}

// WithCorePort connects to the core channel on a fixed port and skips the portmapper.
// 0 restores the portmapper lookup.
func WithCorePort(port int) Option {
	return optFunc(func(cfg *Config) error {
		if err := checkPort(port); err != nil {
			return err
		}
		cfg.corePort = port

		return nil
	})
}

// WithConnectTimeout bounds the TCP dial and create_link exchange.
func WithConnectTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d < MinConnectTimeout || d > MaxConnectTimeout {
			return fmt.Errorf("vxi11: connect timeout %s out of range [%s, %s]", d, MinConnectTimeout, MaxConnectTimeout)
		}
		cfg.connectTimeout = d

		return nil
	})
}

// WithIOTimeout sets the initial I/O timeout of new links. Link.SetTimeout changes it later.
func WithIOTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d < MinIOTimeout || d > MaxIOTimeout {
			return fmt.Errorf("vxi11: io timeout %s out of range [%s, %s]", d, MinIOTimeout, MaxIOTimeout)
		}
		cfg.ioTimeout = d

		return nil
	})
}

// WithLockTimeout sets the lock_timeout sent with each call.
func WithLockTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d < 0 || d > MaxLockTimeout {
			return fmt.Errorf("vxi11: lock timeout %s out of range [0, %s]", d, MaxLockTimeout)
		}
		cfg.lockTimeout = d

		return nil
	})
}

// WithRPCSlack sets the extra time given to the TCP deadline beyond the I/O timeout.
func WithRPCSlack(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d < 0 {
			return errors.New("vxi11: rpc slack must not be negative")
		}
		cfg.rpcSlack = d

		return nil
	})
}

// WithReadSize sets the requestSize of each device_read call.
func WithReadSize(n int) Option {
	return optFunc(func(cfg *Config) error {
		if n < MinReadSize || n > MaxReadSize {
			return fmt.Errorf("vxi11: read size %d out of range [%d, %d]", n, MinReadSize, MaxReadSize)
		}
		cfg.readSize = uint32(n) //nolint:gosec

		return nil
	})
}

// WithTermChar makes reads stop at c in addition to END.
func WithTermChar(c byte) Option {
	return optFunc(func(cfg *Config) error {
		cfg.termChar = int(c)
		return nil
	})
}

// WithLogger sets the logger. Default is logger.GetLogger().
func WithLogger(l logger.Logger) Option {
	return optFunc(func(cfg *Config) error {
		if l == nil {
			return errors.New("vxi11: logger is nil")
		}
		cfg.logger = l

		return nil
	})
}
