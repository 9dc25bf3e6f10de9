package publish

import (
	"github.com/hashicorp/go-multierror"
)

// Multi fans a value out to every sink. All sinks are tried; failures are aggregated.
type Multi []Sink

var _ Sink = Multi(nil)

func (m Multi) Put(name string, v Value) error {
	var result *multierror.Error
	for _, s := range m {
		if err := s.Put(name, v); err != nil {
			result = multierror.Append(result, err)
		}
	}

	return result.ErrorOrNil()
}

func (m Multi) Close() error {
	var result *multierror.Error
	for _, s := range m {
		if err := s.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}

	return result.ErrorOrNil()
}
