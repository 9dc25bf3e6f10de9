package sim

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/arloliu/go-dmmscan/instrument"
)

// DefaultModel is the identity reported by ID?.
const DefaultModel = "HP3458A"

const outputQueueSize = 64

// Trigger arm modes (TARM).
const (
	ArmAuto = "AUTO"
	ArmHold = "HOLD"
	ArmSgl  = "SGL"
	ArmExt  = "EXT"
	ArmSyn  = "SYN"
)

// ReadingFunc produces the n-th reading (starting at 0) of the instrument at bus address addr.
type ReadingFunc func(addr string, n uint64) float64

// State is a snapshot of the configuration of an Instrument.
type State struct {
	Arm      string
	Trigger  string
	NRdgs    int
	InBuf    bool
	Mem      string
	ExtOut   string
	End      string
	Readings uint64
	Queued   int
}

// Instrument is a simulated meter. It is safe for concurrent use.
type Instrument struct {
	addr    string
	model   string
	reading ReadingFunc

	mu       sync.Mutex
	arm      string
	trigger  string
	nrdgs    int
	inbuf    bool
	mem      string
	extout   string
	end      string
	errCode  int
	count    uint64
	timeouts int
	writeErr error

	out chan string
}

// Option configures an Instrument.
type Option interface {
	apply(*Instrument) error
}

type optFunc func(*Instrument) error

func (f optFunc) apply(in *Instrument) error { return f(in) }

// WithModel sets the identity returned by ID?.
func WithModel(model string) Option {
	return optFunc(func(in *Instrument) error {
		if model == "" {
			return errors.New("sim: empty model")
		}
		in.model = model

		return nil
	})
}

// WithReadings sets the reading source.
func WithReadings(f ReadingFunc) Option {
	return optFunc(func(in *Instrument) error {
		if f == nil {
			return errors.New("sim: nil reading func")
		}
		in.reading = f

		return nil
	})
}

// WithSequence makes the instrument cycle through values.
func WithSequence(values ...float64) Option {
	return optFunc(func(in *Instrument) error {
		if len(values) == 0 {
			return errors.New("sim: empty reading sequence")
		}
		vs := append([]float64(nil), values...)
		in.reading = func(_ string, n uint64) float64 { return vs[n%uint64(len(vs))] }

		return nil
	})
}

// NewInstrument creates a simulated meter at bus address addr, in the power-on state
// (TARM AUTO, TRIG AUTO, NRDGS 1).
func NewInstrument(addr string, opts ...Option) (*Instrument, error) {
	in := &Instrument{
		addr:    addr,
		model:   DefaultModel,
		reading: defaultReading,
		arm:     ArmAuto,
		trigger: ArmAuto,
		nrdgs:   1,
		mem:     "OFF",
		extout:  "OFF",
		end:     "OFF",
		out:     make(chan string, outputQueueSize),
	}
	for _, opt := range opts {
		if err := opt.apply(in); err != nil {
			return nil, err
		}
	}

	return in, nil
}

// defaultReading is a slow sine around 1 V, offset by bus address so meters differ.
func defaultReading(addr string, n uint64) float64 {
	offset, _ := strconv.Atoi(addr)
	return 1.0 + 0.01*float64(offset) + 0.1*math.Sin(float64(n)/10)
}

// Address returns the bus address of the instrument.
func (in *Instrument) Address() string { return in.addr }

// FormatReading formats v the way the meter does in ASCII output format.
func FormatReading(v float64) string {
	return fmt.Sprintf("%+.5E", v)
}

// SetModel changes the identity returned by ID?.
func (in *Instrument) SetModel(model string) {
	in.mu.Lock()
	defer in.mu.Unlock()

	in.model = model
}

// InjectTimeouts makes the next n reads time out even if a reply is queued.
func (in *Instrument) InjectTimeouts(n int) {
	in.mu.Lock()
	defer in.mu.Unlock()

	in.timeouts = n
}

// FailWrites makes every following write fail with err; a nil err clears the fault.
func (in *Instrument) FailWrites(err error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	in.writeErr = err
}

// State returns a snapshot of the instrument configuration.
func (in *Instrument) State() State {
	in.mu.Lock()
	defer in.mu.Unlock()

	return State{
		Arm:      in.arm,
		Trigger:  in.trigger,
		NRdgs:    in.nrdgs,
		InBuf:    in.inbuf,
		Mem:      in.mem,
		ExtOut:   in.extout,
		End:      in.end,
		Readings: in.count,
		Queued:   len(in.out),
	}
}

// Write executes a ';'-separated command string.
func (in *Instrument) Write(cmd string) error {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.writeErr != nil {
		return in.writeErr
	}

	for _, part := range strings.Split(cmd, ";") {
		fields := strings.Fields(strings.ToUpper(strings.TrimSpace(part)))
		if len(fields) == 0 {
			continue
		}
		in.exec(fields[0], strings.Join(fields[1:], " "))
	}

	return nil
}

// exec runs one command. in.mu must be held.
func (in *Instrument) exec(keyword string, arg string) {
	switch keyword {
	case "END":
		in.end = orDefault(arg, "ON")
	case "ID?":
		in.push(in.model)
	case "ERR?":
		in.push(strconv.Itoa(in.errCode))
		in.errCode = 0
	case "TARM":
		switch arg {
		case ArmAuto, ArmHold, ArmExt, ArmSyn:
			in.arm = arg
		case ArmSgl:
			// single arm: take NRDGS readings, then return to HOLD
			in.arm = ArmHold
			for i := 0; i < in.nrdgs; i++ {
				in.push(in.next())
			}
		default:
			in.errCode = 1
		}
	case "TRIG":
		in.trigger = orDefault(arg, ArmAuto)
	case "NRDGS":
		n, err := strconv.Atoi(strings.TrimSpace(strings.SplitN(arg, ",", 2)[0]))
		if err != nil || n < 1 {
			in.errCode = 1
			return
		}
		in.nrdgs = n
	case "INBUF":
		in.inbuf = arg == "ON"
	case "MEM":
		in.mem = orDefault(arg, "OFF")
	case "EXTOUT":
		in.extout = orDefault(arg, "OFF")
	default:
		in.errCode = 1
	}
}

func orDefault(arg string, def string) string {
	if arg == "" {
		return def
	}

	return arg
}

// next produces the next formatted reading. in.mu must be held.
func (in *Instrument) next() string {
	v := in.reading(in.addr, in.count)
	in.count++

	return FormatReading(v)
}

// push queues a reply; replies overflowing the FIFO are dropped. in.mu must be held.
func (in *Instrument) push(s string) {
	select {
	case in.out <- s:
	default:
		in.errCode = 2
	}
}

// Read returns the oldest queued reply, waiting up to timeout for one.
//
// In TARM AUTO the meter is free-running and an empty FIFO is refilled with a fresh
// reading instead of waiting.
func (in *Instrument) Read(timeout time.Duration) (string, error) {
	in.mu.Lock()
	if in.timeouts > 0 {
		in.timeouts--
		in.mu.Unlock()

		return "", instrument.NewError(instrument.KindTimeout, "read", in.addr, errors.New("sim: injected timeout"))
	}
	if in.arm == ArmAuto && len(in.out) == 0 {
		in.push(in.next())
	}
	in.mu.Unlock()

	select {
	case s := <-in.out:
		return s, nil
	default:
	}

	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case s := <-in.out:
		return s, nil
	case <-t.C:
		return "", instrument.NewError(instrument.KindTimeout, "read", in.addr, errors.New("sim: no reading available"))
	}
}

// Clear empties the output FIFO (device clear).
func (in *Instrument) Clear() {
	for {
		select {
		case <-in.out:
		default:
			return
		}
	}
}
