package publish

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-dmmscan/logger"
)

type failSink struct {
	err    error
	puts   int
	closed bool
}

func (s *failSink) Put(string, Value) error {
	s.puts++
	return s.err
}

func (s *failSink) Close() error {
	s.closed = true
	return s.err
}

func TestPublisher_LogsBeforeDelegating(t *testing.T) {
	require := require.New(t)

	mem := NewMemory(4)
	ml := logger.NewMockLogger()
	ml.On("Debug", "publish", []any{"name", "DMM:I", "value", "[+1.23456E+00 -9.87650E-01]"}).
		Run(func(mock.Arguments) {
			// the sink has not seen the value yet
			_, ok := mem.Get("DMM:I")
			require.False(ok)
		}).Return().Once()

	p := NewPublisher(mem, ml)
	require.NoError(p.Publish("DMM:I", Readings([]string{"+1.23456E+00", "-9.87650E-01"})))
	ml.AssertExpectations(t)

	v, ok := mem.Get("DMM:I")
	require.True(ok)
	require.Equal([]string{"+1.23456E+00", "-9.87650E-01"}, v.Strings())
	require.Same(mem, p.Sink())
}

func TestPublisher_Errors(t *testing.T) {
	require := require.New(t)

	sinkErr := errors.New("channel unreachable")
	sink := &failSink{err: sinkErr}
	p := NewPublisher(sink, nil)

	err := p.Publish("DMM:LTIME", Scalar(0.25))
	require.Same(sinkErr, err)
	require.Equal(1, sink.puts)

	require.ErrorIs(p.Publish("", Scalar(1)), ErrEmptyName)
	require.Equal(1, sink.puts)

	require.Same(sinkErr, p.Close())
	require.True(sink.closed)
}

func TestPublisher_Check(t *testing.T) {
	require := require.New(t)

	sinkErr := errors.New("channel unreachable")
	sink := &failSink{}
	p := NewPublisher(sink, nil)
	require.NoError(p.Check())

	sink.err = sinkErr
	require.Error(p.Publish("DMM:I", Readings([]string{"+1.00000E+00"})))
	err := p.Check()
	require.ErrorIs(err, ErrSinkFailing)
	require.Contains(err.Error(), "DMM:I")
	require.Contains(err.Error(), "channel unreachable")

	sink.err = nil
	require.NoError(p.Publish("DMM:I", Readings([]string{"+1.00000E+00"})))
	require.NoError(p.Check())
}

func TestValue(t *testing.T) {
	require := require.New(t)

	s := Scalar(0.5)
	require.False(s.IsSequence())
	require.Equal(0.5, s.Float())
	require.Nil(s.Strings())
	require.Equal(1, s.Len())
	require.Equal("0.5", s.String())
	fs, err := s.Floats()
	require.NoError(err)
	require.Equal([]float64{0.5}, fs)

	src := []string{"+1.00000E+00", " -2.50000E-01 "}
	r := Readings(src)
	src[0] = "changed"
	require.True(r.IsSequence())
	require.Equal(2, r.Len())
	require.Equal("+1.00000E+00", r.Strings()[0])
	fs, err = r.Floats()
	require.NoError(err)
	require.Equal([]float64{1, -0.25}, fs)

	_, err = Readings([]string{"OVLD"}).Floats()
	require.Error(err)
}

func TestMulti(t *testing.T) {
	require := require.New(t)

	mem := NewMemory(0)
	bad := &failSink{err: errors.New("down")}
	m := Multi{bad, mem}

	err := m.Put("DMM:LTIME", Scalar(0.1))
	require.Error(err)
	require.Contains(err.Error(), "down")

	// later sinks still receive the value
	v, ok := mem.Get("DMM:LTIME")
	require.True(ok)
	require.Equal(0.1, v.Float())

	require.Error(m.Close())
	require.True(bad.closed)

	require.NoError(Multi{mem}.Put("x", Scalar(1)))
}
