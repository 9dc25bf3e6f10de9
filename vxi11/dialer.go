package vxi11

import (
	"context"

	"github.com/arloliu/go-dmmscan/instrument"
)

// Dialer opens VXI-11 links with a shared Config. It implements instrument.Dialer.
type Dialer struct {
	cfg *Config
}

var _ instrument.Dialer = (*Dialer)(nil)

// NewDialer returns a Dialer using cfg, or the defaults when cfg is nil.
func NewDialer(cfg *Config) (*Dialer, error) {
	if cfg == nil {
		var err error
		if cfg, err = NewConfig(); err != nil {
			return nil, err
		}
	}

	return &Dialer{cfg: cfg}, nil
}

// Dial implements instrument.Dialer.
func (d *Dialer) Dial(ctx context.Context, addr instrument.Address) (instrument.Device, error) {
	link, err := Dial(ctx, addr, d.cfg)
	if err != nil {
		return nil, err
	}

	return link, nil
}
