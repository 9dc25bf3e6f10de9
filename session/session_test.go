package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-dmmscan/instrument"
	"github.com/arloliu/go-dmmscan/publish"
	"github.com/arloliu/go-dmmscan/sim"
)

func TestNew_Invalid(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		dialer instrument.Dialer
		pub    *publish.Publisher
		addrs  []instrument.Address
		prefix string
		opts   []Option
		err    error
	}{
		{name: "nil dialer", pub: f.pub, addrs: addrs("a"), prefix: "P", err: ErrNilDialer},
		{name: "nil publisher", dialer: f.dialer, addrs: addrs("a"), prefix: "P", err: ErrNilPublisher},
		{name: "no addresses", dialer: f.dialer, pub: f.pub, prefix: "P", err: ErrNoAddresses},
		{name: "empty prefix", dialer: f.dialer, pub: f.pub, addrs: addrs("a"), err: ErrEmptyPrefix},
		{name: "bad timeout", dialer: f.dialer, pub: f.pub, addrs: addrs("a"), prefix: "P", opts: []Option{WithTimeout(0)}},
		{name: "empty model", dialer: f.dialer, pub: f.pub, addrs: addrs("a"), prefix: "P", opts: []Option{WithModel("")}},
		{name: "nil logger", dialer: f.dialer, pub: f.pub, addrs: addrs("a"), prefix: "P", opts: []Option{WithLogger(nil)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.dialer, tt.pub, tt.addrs, tt.prefix, tt.opts...)
			require.Error(t, err)
			if tt.err != nil {
				require.ErrorIs(t, err, tt.err)
			}
		})
	}
}

func TestSession_ArmedAcquisition(t *testing.T) {
	require := require.New(t)

	f := newFixture(t, sim.WithSequence(1.23456, -0.98765))
	// 23 starts one reading behind so the cycle yields the pair in address order
	in23 := f.instrument(t, "gpib0,23")
	require.NoError(in23.Write("TARM SGL"))
	in23.Clear()

	s := f.session(t)
	require.Equal(StateClosed, s.State())
	require.NotEmpty(s.Generation())

	require.NoError(s.Setup(context.Background()))
	require.Equal(StateReady, s.State())
	require.Equal(2, s.Len())

	require.NoError(s.Loop())

	v, ok := f.mem.Get("DMM:I")
	require.True(ok)
	require.Equal([]string{"+1.23456E+00", "-9.87650E-01"}, v.Strings())

	st := f.instrument(t, "gpib0,22").State()
	require.Equal(sim.ArmHold, st.Arm)
	require.Equal("EXT", st.Trigger)

	require.NoError(s.Close())
	require.Equal(StateClosed, s.State())
	require.Equal(sim.ArmAuto, f.instrument(t, "gpib0,22").State().Arm)
	require.Equal(sim.ArmAuto, in23.State().Arm)

	// idempotent
	require.NoError(s.Close())
	require.ErrorIs(s.Loop(), ErrNotReady)
	require.ErrorIs(s.Setup(context.Background()), ErrAlreadyUsed)
}

func TestSession_CommandOrder(t *testing.T) {
	require := require.New(t)

	f := newFixture(t)
	s := f.session(t)
	require.NoError(s.Setup(context.Background()))
	require.NoError(s.Loop())
	require.NoError(s.Close())

	require.Equal([]string{
		"write:gpib0,22:" + CmdIdentify,
		"read:gpib0,22",
		"write:gpib0,23:" + CmdIdentify,
		"read:gpib0,23",
		"write:gpib0,22:" + CmdArm,
		"write:gpib0,23:" + CmdArm,
		// every arm before any read
		"write:gpib0,22:" + CmdTrigger,
		"write:gpib0,23:" + CmdTrigger,
		"read:gpib0,22",
		"read:gpib0,23",
		"write:gpib0,22:" + CmdTeardown,
		"write:gpib0,23:" + CmdTeardown,
		"close:gpib0,22",
		"close:gpib0,23",
	}, f.tr.list())
}

func TestSession_ReadingsFollowAddressOrder(t *testing.T) {
	require := require.New(t)

	bus, err := sim.NewBus("gpib0", []string{"7", "3", "12"}, sim.WithReadings(func(addr string, _ uint64) float64 {
		switch addr {
		case "7":
			return 7
		case "3":
			return 3
		default:
			return 12
		}
	}))
	require.NoError(err)

	mem := publish.NewMemory(4)
	s, err := New(bus, publish.NewPublisher(mem, nil), addrs("gpib0,7", "gpib0,3", "gpib0,12"), "X",
		WithTimeout(20*time.Millisecond))
	require.NoError(err)
	defer s.Close()

	require.NoError(s.Setup(context.Background()))
	for range 3 {
		require.NoError(s.Loop())
	}

	hist := mem.History("X:I")
	require.Len(hist, 3)
	for _, v := range hist {
		require.Equal([]string{"+7.00000E+00", "+3.00000E+00", "+1.20000E+01"}, v.Strings())
	}
}

func TestSession_IdentityMismatch(t *testing.T) {
	require := require.New(t)

	f := newFixture(t)
	f.instrument(t, "gpib0,23").SetModel("HP3458B")

	s := f.session(t)
	err := s.Setup(context.Background())
	require.ErrorIs(err, instrument.ErrIdentityMismatch)
	require.Equal(instrument.KindIdentity, instrument.KindOf(err))
	require.Contains(err.Error(), "HP3458B")
	require.Equal(StateConfiguring, s.State())
	require.Equal(1, s.Len())

	// the mismatched device was released during setup and never armed
	events := f.tr.list()
	require.Contains(events, "close:gpib0,23")
	require.NotContains(events, "write:gpib0,22:"+CmdArm)

	require.NoError(s.Close())
	events = f.tr.list()
	require.Equal([]string{"write:gpib0,22:" + CmdTeardown, "close:gpib0,22"}, events[len(events)-2:])
	require.Equal(StateClosed, s.State())
}

func TestSession_ReadTimeout(t *testing.T) {
	require := require.New(t)

	f := newFixture(t)
	s := f.session(t)
	require.NoError(s.Setup(context.Background()))

	f.instrument(t, "gpib0,23").InjectTimeouts(1)
	err := s.Loop()
	require.ErrorIs(err, instrument.ErrTimeout)
	require.Equal(instrument.KindTimeout, instrument.KindOf(err))

	_, ok := f.mem.Get("DMM:I")
	require.False(ok)

	require.NoError(s.Close())
	events := f.tr.list()
	require.Contains(events, "write:gpib0,22:"+CmdTeardown)
	require.Contains(events, "write:gpib0,23:"+CmdTeardown)
}

func TestSession_CloseIsBestEffort(t *testing.T) {
	require := require.New(t)

	f := newFixture(t)
	f.dialer.writeErr["gpib0,22|"+CmdTeardown] = errWrite

	s := f.session(t)
	require.NoError(s.Setup(context.Background()))

	err := s.Close()
	require.ErrorIs(err, errWrite)

	// teardown still reached the second instrument and both were released
	events := f.tr.list()
	require.Contains(events, "write:gpib0,23:"+CmdTeardown)
	require.Contains(events, "close:gpib0,22")
	require.Contains(events, "close:gpib0,23")
	require.Equal(sim.ArmAuto, f.instrument(t, "gpib0,23").State().Arm)
	require.Equal(StateClosed, s.State())
}

func TestSession_CloseSurvivesDevicePanic(t *testing.T) {
	require := require.New(t)

	f := newFixture(t)
	f.dialer.writePanic["gpib0,22|"+CmdTeardown] = true

	s := f.session(t)
	require.NoError(s.Setup(context.Background()))

	var err error
	require.NotPanics(func() { err = s.Close() })
	require.ErrorIs(err, ErrDevicePanic)

	events := f.tr.list()
	require.Contains(events, "write:gpib0,23:"+CmdTeardown)
	require.Contains(events, "close:gpib0,22")
	require.Contains(events, "close:gpib0,23")
	require.Equal(sim.ArmAuto, f.instrument(t, "gpib0,23").State().Arm)
	require.Equal(StateClosed, s.State())
	require.NoError(s.Close())
}

func TestSession_ProtocolErrors(t *testing.T) {
	require := require.New(t)

	f := newFixture(t)
	s := f.session(t)
	require.NoError(s.Setup(context.Background()))
	defer s.Close()

	// a stray ID? reply is queued ahead of the reading
	in := f.instrument(t, "gpib0,22")
	require.NoError(in.Write("ID?"))

	err := s.Loop()
	require.ErrorIs(err, instrument.ErrProtocol)
}

func TestSession_SetupFailures(t *testing.T) {
	t.Run("unknown device", func(t *testing.T) {
		f := newFixture(t)
		s, err := New(f.dialer, f.pub, addrs("gpib0,22", "gpib0,9"), "DMM")
		require.NoError(t, err)

		err = s.Setup(context.Background())
		require.ErrorIs(t, err, instrument.ErrConnect)
		require.NoError(t, s.Close())
		require.Contains(t, f.tr.list(), "write:gpib0,22:"+CmdTeardown)
	})

	t.Run("cancelled", func(t *testing.T) {
		f := newFixture(t)
		s := f.session(t)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		require.ErrorIs(t, s.Setup(ctx), context.Canceled)
		require.NoError(t, s.Close())
		require.Empty(t, f.tr.list())
	})

	t.Run("arm write fails", func(t *testing.T) {
		f := newFixture(t)
		f.dialer.writeErr["gpib0,23|"+CmdArm] = errWrite
		s := f.session(t)

		require.ErrorIs(t, s.Setup(context.Background()), errWrite)
		require.Equal(t, StateConfiguring, s.State())
		require.NoError(t, s.Close())
	})
}

func TestSession_PublishErrorPassesThrough(t *testing.T) {
	require := require.New(t)

	f := newFixture(t)
	sinkErr := &publishErr{}
	s, err := New(f.dialer, publish.NewPublisher(sinkErr, nil), addrs("gpib0,22"), "DMM",
		WithTimeout(20*time.Millisecond))
	require.NoError(err)
	require.NoError(s.Setup(context.Background()))
	defer s.Close()

	require.ErrorIs(s.Loop(), errPublish)
}

func TestState_String(t *testing.T) {
	require.Equal(t, "Closed", StateClosed.String())
	require.Equal(t, "Configuring", StateConfiguring.String())
	require.Equal(t, "Ready", StateReady.String())
	require.Equal(t, "Closing", StateClosing.String())
	require.Equal(t, "Unknown", State(42).String())
}

func TestNames(t *testing.T) {
	require.Equal(t, "DMM:I", ReadingsName("DMM"))
	require.Equal(t, "DMM:LTIME", LoopTimeName("DMM"))
}
