package publish

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis"
	"github.com/go-redis/redis"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

type fakeNATS struct {
	subjects   []string
	payloads   [][]byte
	err        error
	drained    bool
	// closeAfter is the number of IsClosed polls before the drain completes.
	closeAfter int
	polls      int
}

func (f *fakeNATS) Publish(subject string, data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.subjects = append(f.subjects, subject)
	f.payloads = append(f.payloads, data)

	return nil
}

func (f *fakeNATS) Drain() error {
	f.drained = true
	return nil
}

func (f *fakeNATS) IsClosed() bool {
	if !f.drained {
		return false
	}
	f.polls++

	return f.polls > f.closeAfter
}

func TestNATS_Put(t *testing.T) {
	require := require.New(t)

	conn := &fakeNATS{}
	sink := NewNATS(conn, "dmmscan", nil)
	sink.now = func() time.Time { return time.Unix(10, 0) }

	require.Equal("dmmscan.DMM.I", sink.Subject("DMM:I"))
	require.NoError(sink.Put("DMM:I", Readings([]string{"+1.23456E+00", "-9.87650E-01"})))
	require.Equal([]string{"dmmscan.DMM.I"}, conn.subjects)

	var m Message
	require.NoError(json.Unmarshal(conn.payloads[0], &m))
	require.Equal("DMM:I", m.Name)
	require.Equal(time.Unix(10, 0).UnixNano(), m.Time)
	require.Equal([]string{"+1.23456E+00", "-9.87650E-01"}, m.Values)

	conn.err = errors.New("nats: connection closed")
	require.ErrorIs(sink.Put("DMM:LTIME", Scalar(0.5)), conn.err)

	require.NoError(sink.Close())
	require.True(conn.drained)

	require.Equal("DMM.LTIME", NewNATS(conn, "", nil).Subject("DMM:LTIME"))
}

func TestNATS_CloseWaitsForDrain(t *testing.T) {
	require := require.New(t)

	conn := &fakeNATS{closeAfter: 3}
	sink := NewNATS(conn, "dmmscan", nil)
	require.NoError(sink.Close())
	require.True(conn.drained)
	require.Equal(4, conn.polls)

	stuck := &fakeNATS{closeAfter: 1 << 30}
	sink = NewNATS(stuck, "dmmscan", nil)
	sink.drainTimeout = 30 * time.Millisecond
	require.ErrorIs(sink.Close(), ErrDrainTimeout)
}

func TestRedis_Put(t *testing.T) {
	require := require.New(t)

	db, err := miniredis.Run()
	require.NoError(err)

	sink, err := DialRedis(&redis.Options{Addr: db.Addr()}, "", nil)
	require.NoError(err)
	defer sink.Close()

	require.NoError(sink.Put("DMM:LTIME", Scalar(0.75)))

	raw, err := db.Get("DMM:LTIME")
	require.NoError(err)

	var m Message
	require.NoError(json.Unmarshal([]byte(raw), &m))
	require.Equal("DMM:LTIME", m.Name)
	require.NotNil(m.Value)
	require.Equal(0.75, *m.Value)

	db.Close()
	require.Error(sink.Put("DMM:LTIME", Scalar(1)))
}

func TestDialRedis_Unreachable(t *testing.T) {
	db, err := miniredis.Run()
	require.NoError(t, err)
	addr := db.Addr()
	db.Close()

	_, err = DialRedis(&redis.Options{Addr: addr, MaxRetries: 0}, "", nil)
	require.Error(t, err)
}

func TestPrometheus_Put(t *testing.T) {
	require := require.New(t)

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheus(reg, "dmmscan")
	require.NoError(err)

	require.NoError(sink.Put("DMM:LTIME", Scalar(0.25)))
	require.NoError(sink.Put("DMM:I", Readings([]string{"+1.23456E+00", "-9.87650E-01"})))

	require.InDelta(0.25, testutil.ToFloat64(sink.scalars.WithLabelValues("DMM:LTIME")), 1e-12)
	require.InDelta(1.23456, testutil.ToFloat64(sink.readings.WithLabelValues("DMM:I", "0")), 1e-12)
	require.InDelta(-0.98765, testutil.ToFloat64(sink.readings.WithLabelValues("DMM:I", "1")), 1e-12)

	require.Error(sink.Put("DMM:I", Readings([]string{"garbage"})))

	// registering twice fails
	_, err = NewPrometheus(reg, "dmmscan")
	require.Error(err)

	require.NoError(sink.Close())
	_, err = NewPrometheus(reg, "dmmscan")
	require.NoError(err)
}

func TestOpen(t *testing.T) {
	t.Run("no sink", func(t *testing.T) {
		_, err := Open(OpenOptions{})
		require.ErrorIs(t, err, ErrNoSink)
	})

	t.Run("single", func(t *testing.T) {
		mem := NewMemory(1)
		sink, err := Open(OpenOptions{Memory: mem})
		require.NoError(t, err)
		require.Same(t, mem, sink)
	})

	t.Run("memory prometheus redis", func(t *testing.T) {
		require := require.New(t)

		db, err := miniredis.Run()
		require.NoError(err)
		defer db.Close()

		mem := NewMemory(1)
		sink, err := Open(OpenOptions{
			Memory:     mem,
			Registerer: prometheus.NewRegistry(),
			Namespace:  "dmmscan",
			Redis:      &RedisOptions{Addr: db.Addr(), Codec: CodecCBOR},
		})
		require.NoError(err)
		defer sink.Close()

		multi, ok := sink.(Multi)
		require.True(ok)
		require.Len(multi, 3)

		require.NoError(sink.Put("DMM:LTIME", Scalar(0.5)))
		require.True(db.Exists("DMM:LTIME"))
	})

	t.Run("redis unreachable", func(t *testing.T) {
		db, err := miniredis.Run()
		require.NoError(t, err)
		addr := db.Addr()
		db.Close()

		_, err = Open(OpenOptions{
			Memory:          NewMemory(1),
			Redis:           &RedisOptions{Addr: addr},
			ConnectAttempts: 2,
			ConnectDelay:    time.Millisecond,
		})
		require.Error(t, err)
	})

	t.Run("bad codec", func(t *testing.T) {
		_, err := Open(OpenOptions{NATS: &NATSOptions{URL: "nats://127.0.0.1:4222", Codec: "xml"}})
		require.Error(t, err)
	})
}
