package publish

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Message is the payload sent by the NATS and Redis sinks.
type Message struct {
	Name   string   `json:"name" cbor:"name"`
	Time   int64    `json:"ts" cbor:"ts"` // Unix nanoseconds
	Value  *float64 `json:"value,omitempty" cbor:"value,omitempty"`
	Values []string `json:"values,omitempty" cbor:"values,omitempty"`
}

// NewMessage builds the payload for name and v published at t.
func NewMessage(name string, v Value, t time.Time) Message {
	m := Message{Name: name, Time: t.UnixNano()}
	if v.IsSequence() {
		m.Values = v.Strings()
		if m.Values == nil {
			m.Values = []string{}
		}
	} else {
		f := v.Float()
		m.Value = &f
	}

	return m
}

// Val converts the message back to a Value.
func (m Message) Val() Value {
	if m.Value != nil {
		return Scalar(*m.Value)
	}

	return Readings(m.Values)
}

// Codec encodes messages.
type Codec interface {
	Name() string
	Marshal(m Message) ([]byte, error)
	Unmarshal(data []byte, m *Message) error
}

// Codec names.
const (
	CodecJSON = "json"
	CodecCBOR = "cbor"
)

// CodecByName returns the codec registered under name; "" selects JSON.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", CodecJSON:
		return jsonCodec{}, nil
	case CodecCBOR:
		return newCBORCodec()
	default:
		return nil, fmt.Errorf("publish: unknown codec %q", name)
	}
}

type jsonCodec struct{}

func (jsonCodec) Name() string                            { return CodecJSON }
func (jsonCodec) Marshal(m Message) ([]byte, error)       { return json.Marshal(m) }
func (jsonCodec) Unmarshal(data []byte, m *Message) error { return json.Unmarshal(data, m) }

// cborCodec encodes with canonical key ordering so equal messages produce equal bytes.
type cborCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

func newCBORCodec() (*cborCodec, error) {
	enc, err := cbor.EncOptions{Sort: cbor.SortCanonical}.EncMode()
	if err != nil {
		return nil, err
	}
	dec, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		return nil, err
	}

	return &cborCodec{enc: enc, dec: dec}, nil
}

func (c *cborCodec) Name() string                            { return CodecCBOR }
func (c *cborCodec) Marshal(m Message) ([]byte, error)       { return c.enc.Marshal(m) }
func (c *cborCodec) Unmarshal(data []byte, m *Message) error { return c.dec.Unmarshal(data, m) }
