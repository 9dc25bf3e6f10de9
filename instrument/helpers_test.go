package instrument

import (
	"fmt"
	"sync"
	"time"

	"github.com/arloliu/go-dmmscan/logger"
)

// eventLog records log lines and device operations in a single ordered stream.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (e *eventLog) add(format string, args ...any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, fmt.Sprintf(format, args...))
}

func (e *eventLog) list() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.events...)
}

// recLogger is a Logger writing "log:<msg>" entries to an eventLog.
type recLogger struct {
	ev *eventLog
}

func (l *recLogger) Debug(msg string, _ ...any) { l.ev.add("log:%s", msg) }
func (l *recLogger) Info(msg string, _ ...any) { l.ev.add("log:%s", msg) }
func (l *recLogger) Warn(msg string, _ ...any) { l.ev.add("log:%s", msg) }
func (l *recLogger) Error(msg string, _ ...any) { l.ev.add("log:%s", msg) }
func (l *recLogger) Fatal(msg string, _ ...any) { l.ev.add("log:%s", msg) }
func (l *recLogger) With(_ ...any) logger.Logger { return l }
func (l *recLogger) Level() logger.LogLevel { return logger.DebugLevel }
func (l *recLogger) SetLevel(_ logger.LogLevel) {}

// fakeDevice replies from a queue and records operations.
type fakeDevice struct {
	ev       *eventLog
	replies  []string
	writeErr error
	readErr  error
	timeout  time.Duration
	closed   bool
}

func (d *fakeDevice) Write(cmd string) error {
	d.ev.add("dev:write:%s", cmd)
	return d.writeErr
}

func (d *fakeDevice) Read() (string, error) {
	d.ev.add("dev:read")
	if d.readErr != nil {
		return "", d.readErr
	}
	if len(d.replies) == 0 {
		return "", fmt.Errorf("no reply queued")
	}
	r := d.replies[0]
	d.replies = d.replies[1:]

	return r, nil
}

func (d *fakeDevice) SetTimeout(t time.Duration) error {
	d.timeout = t
	return nil
}

func (d *fakeDevice) Close() error {
	d.closed = true
	return nil
}
