package publish

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/arloliu/go-dmmscan/logger"
)

// ErrEmptyName is returned when publishing without a name.
var ErrEmptyName = errors.New("publish: empty name")

// ErrSinkFailing is returned by Check while the last Put failed.
var ErrSinkFailing = errors.New("publish: sink failing")

// Sink stores or forwards published values.
type Sink interface {
	Put(name string, v Value) error
	Close() error
}

// Publisher logs and forwards values to a Sink.
type Publisher struct {
	sink    Sink
	logger  logger.Logger
	lastErr atomic.Pointer[putError]
}

type putError struct {
	name string
	err  error
}

// NewPublisher returns a Publisher writing to sink. A nil logger uses the default.
func NewPublisher(sink Sink, l logger.Logger) *Publisher {
	if l == nil {
		l = logger.GetLogger()
	}

	return &Publisher{sink: sink, logger: l}
}

// Publish logs name and value at debug level, then hands them to the sink.
// Sink errors are returned unchanged.
func (p *Publisher) Publish(name string, v Value) error {
	if name == "" {
		return ErrEmptyName
	}

	p.logger.Debug("publish", "name", name, "value", v.String())

	if err := p.sink.Put(name, v); err != nil {
		p.lastErr.Store(&putError{name: name, err: err})
		return err
	}
	p.lastErr.Store(nil)

	return nil
}

// Check reports ErrSinkFailing while the most recent Put failed.
func (p *Publisher) Check() error {
	if pe := p.lastErr.Load(); pe != nil {
		return fmt.Errorf("%w: %s: %v", ErrSinkFailing, pe.name, pe.err)
	}

	return nil
}

// Sink returns the underlying sink.
func (p *Publisher) Sink() Sink { return p.sink }

// Close closes the sink.
func (p *Publisher) Close() error {
	return p.sink.Close()
}
