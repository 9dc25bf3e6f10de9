package publish

import (
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go"
	"github.com/go-redis/redis"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/arloliu/go-dmmscan/logger"
)

// ErrNoSink is returned by Open when no sink is enabled.
var ErrNoSink = errors.New("publish: no sink enabled")

// Default connect retry policy of Open.
const (
	DefaultConnectAttempts = 5
	DefaultConnectDelay    = 2 * time.Second
)

// NATSOptions enables the NATS sink.
type NATSOptions struct {
	URL           string
	ClientName    string
	SubjectPrefix string
	Codec         string
}

// RedisOptions enables the Redis sink.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Channel  string
	Codec    string
}

// OpenOptions selects the sinks built by Open. Nil fields are disabled.
type OpenOptions struct {
	Memory     *Memory
	Registerer prometheus.Registerer
	Namespace  string
	NATS       *NATSOptions
	Redis      *RedisOptions

	// ConnectAttempts and ConnectDelay bound the connection retries of network sinks.
	ConnectAttempts uint
	ConnectDelay    time.Duration

	Logger logger.Logger
}

// Open builds the enabled sinks. Network sinks are connected with a fixed-delay
// retry; on failure every sink opened so far is closed. A single sink is returned
// as is, several as Multi.
func Open(opts OpenOptions) (Sink, error) {
	l := opts.Logger
	if l == nil {
		l = logger.GetLogger()
	}
	attempts := opts.ConnectAttempts
	if attempts == 0 {
		attempts = DefaultConnectAttempts
	}
	delay := opts.ConnectDelay
	if delay == 0 {
		delay = DefaultConnectDelay
	}

	var sinks Multi
	fail := func(err error) (Sink, error) {
		_ = sinks.Close()
		return nil, err
	}

	connect := func(name string, f func() error) error {
		return retry.Do(f,
			retry.Attempts(attempts),
			retry.Delay(delay),
			retry.DelayType(retry.FixedDelay),
			retry.LastErrorOnly(true),
			retry.OnRetry(func(n uint, err error) {
				l.Warn("sink connect failed, retrying", "sink", name, "attempt", n+1, "error", err)
			}),
		)
	}

	if opts.Memory != nil {
		sinks = append(sinks, opts.Memory)
	}

	if opts.Registerer != nil {
		p, err := NewPrometheus(opts.Registerer, opts.Namespace)
		if err != nil {
			return fail(fmt.Errorf("publish: prometheus: %w", err))
		}
		sinks = append(sinks, p)
	}

	if o := opts.NATS; o != nil {
		codec, err := CodecByName(o.Codec)
		if err != nil {
			return fail(err)
		}
		var sink *NATS
		err = connect("nats", func() error {
			var err error
			sink, err = DialNATS(o.URL, o.ClientName, o.SubjectPrefix, codec)
			return err
		})
		if err != nil {
			return fail(fmt.Errorf("publish: nats %s: %w", o.URL, err))
		}
		l.Info("sink connected", "sink", "nats", "url", o.URL, "codec", codec.Name())
		sinks = append(sinks, sink)
	}

	if o := opts.Redis; o != nil {
		codec, err := CodecByName(o.Codec)
		if err != nil {
			return fail(err)
		}
		var sink *Redis
		err = connect("redis", func() error {
			var err error
			sink, err = DialRedis(&redis.Options{Addr: o.Addr, Password: o.Password, DB: o.DB}, o.Channel, codec)
			return err
		})
		if err != nil {
			return fail(fmt.Errorf("publish: redis %s: %w", o.Addr, err))
		}
		l.Info("sink connected", "sink", "redis", "addr", o.Addr, "codec", codec.Name())
		sinks = append(sinks, sink)
	}

	switch len(sinks) {
	case 0:
		return nil, ErrNoSink
	case 1:
		return sinks[0], nil
	default:
		return sinks, nil
	}
}
