package publish

import (
	"errors"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// natsConn is the subset of *nats.Conn used by the NATS sink.
type natsConn interface {
	Publish(subject string, data []byte) error
	Drain() error
	IsClosed() bool
}

// DefaultDrainTimeout bounds how long Close waits for buffered messages to be flushed.
const DefaultDrainTimeout = 5 * time.Second

// ErrDrainTimeout is returned by Close when the connection did not close in time.
var ErrDrainTimeout = errors.New("publish: nats drain timed out")

// NATS publishes each value as one message on <prefix>.<name>.
type NATS struct {
	conn         natsConn
	prefix       string
	codec        Codec
	now          func() time.Time
	drainTimeout time.Duration
}

var _ Sink = (*NATS)(nil)

// DialNATS connects to url and returns a NATS sink. The connection reconnects
// forever in the background once established.
func DialNATS(url, clientName, subjectPrefix string, codec Codec) (*NATS, error) {
	nc, err := nats.Connect(url,
		nats.Name(clientName),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DrainTimeout(DefaultDrainTimeout),
	)
	if err != nil {
		return nil, err
	}

	return NewNATS(nc, subjectPrefix, codec), nil
}

// NewNATS returns a sink publishing on conn.
func NewNATS(conn natsConn, subjectPrefix string, codec Codec) *NATS {
	if codec == nil {
		codec = jsonCodec{}
	}

	return &NATS{
		conn:         conn,
		prefix:       subjectPrefix,
		codec:        codec,
		now:          time.Now,
		drainTimeout: DefaultDrainTimeout,
	}
}

// Subject returns the subject used for name: "DMM:I" with prefix "dmmscan"
// becomes "dmmscan.DMM.I".
func (n *NATS) Subject(name string) string {
	subject := strings.ReplaceAll(name, ":", ".")
	if n.prefix == "" {
		return subject
	}

	return n.prefix + "." + subject
}

func (n *NATS) Put(name string, v Value) error {
	data, err := n.codec.Marshal(NewMessage(name, v, n.now()))
	if err != nil {
		return err
	}

	return n.conn.Publish(n.Subject(name), data)
}

// Close drains pending messages and waits, up to the drain timeout, until the
// connection is closed and every buffered message has been flushed.
func (n *NATS) Close() error {
	if err := n.conn.Drain(); err != nil {
		return err
	}

	deadline := time.Now().Add(n.drainTimeout)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for !n.conn.IsClosed() {
		if time.Now().After(deadline) {
			return ErrDrainTimeout
		}
		<-ticker.C
	}

	return nil
}
