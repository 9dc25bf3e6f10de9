package publish

import (
	"time"

	"github.com/go-redis/redis"
)

// Redis stores the encoded message of each value under its name and optionally
// publishes it on a channel.
type Redis struct {
	client  *redis.Client
	channel string
	codec   Codec
	now     func() time.Time
}

var _ Sink = (*Redis)(nil)

// DialRedis connects to a Redis server and checks it with PING.
func DialRedis(opts *redis.Options, channel string, codec Codec) (*Redis, error) {
	client := redis.NewClient(opts)
	if err := client.Ping().Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return NewRedis(client, channel, codec), nil
}

// NewRedis returns a sink using client.
func NewRedis(client *redis.Client, channel string, codec Codec) *Redis {
	if codec == nil {
		codec = jsonCodec{}
	}

	return &Redis{client: client, channel: channel, codec: codec, now: time.Now}
}

func (r *Redis) Put(name string, v Value) error {
	data, err := r.codec.Marshal(NewMessage(name, v, r.now()))
	if err != nil {
		return err
	}

	if err := r.client.Set(name, data, 0).Err(); err != nil {
		return err
	}
	if r.channel == "" {
		return nil
	}

	return r.client.Publish(r.channel, data).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}
