// Package console is an interactive line interface to a single instrument, used to
// diagnose the bus by hand.
//
// Lines ending in '?' are queries: they are written and the reply is printed.
// Other lines are written as-is. Lines starting with ':' are console commands:
//
//	:read          read one reply
//	:clear         send a device clear
//	:timeout [d]   show or set the I/O timeout, e.g. ":timeout 2s"
//	:help          list the console commands
//	:quit          leave the console
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/arloliu/go-dmmscan/instrument"
)

// ErrQuit is returned by Execute for ":quit".
var ErrQuit = errors.New("console: quit")

// DefaultPrompt is the prompt shown by Run.
const DefaultPrompt = "dmm> "

// LineReader is the input of RunWith. *readline.Instance implements it.
type LineReader interface {
	Readline() (string, error)
	Close() error
}

// Console executes console lines against one instrument handle.
type Console struct {
	h   *instrument.Handle
	out io.Writer
}

// New returns a console printing replies to out.
func New(h *instrument.Handle, out io.Writer) *Console {
	return &Console{h: h, out: out}
}

// Run reads lines from the terminal until ":quit", EOF or ctx is done.
func (c *Console) Run(ctx context.Context, prompt string) error {
	if prompt == "" {
		prompt = DefaultPrompt
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		InterruptPrompt: "^C",
		EOFPrompt:       ":quit",
	})
	if err != nil {
		return fmt.Errorf("console: readline: %w", err)
	}
	c.out = rl.Stdout()

	return c.RunWith(ctx, rl)
}

// RunWith executes every line of r. Errors of single lines are printed and do not
// stop the loop.
func (c *Console) RunWith(ctx context.Context, r LineReader) error {
	defer r.Close()

	fmt.Fprintf(c.out, "connected to %s, :help lists commands\n", c.h.Identity())
	for {
		if err := ctx.Err(); err != nil {
			return nil //nolint:nilerr
		}

		line, err := r.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("console: %w", err)
		}

		err = c.Execute(line)
		if errors.Is(err, ErrQuit) {
			return nil
		}
		if err != nil {
			fmt.Fprintf(c.out, "error: %v\n", err)
		}
	}
}

// Execute runs one console line.
func (c *Console) Execute(line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if strings.HasPrefix(line, ":") {
		return c.command(strings.Fields(line[1:]))
	}

	if strings.HasSuffix(line, "?") {
		reply, err := c.h.Ask(line)
		if err != nil {
			return err
		}
		fmt.Fprintln(c.out, reply)

		return nil
	}

	return c.h.Write(line)
}

func (c *Console) command(args []string) error {
	if len(args) == 0 {
		return errors.New("console: empty command")
	}

	switch args[0] {
	case "quit", "q", "exit":
		return ErrQuit
	case "help", "h":
		fmt.Fprintln(c.out, ":read  :clear  :timeout [duration]  :help  :quit")
	case "read", "r":
		reply, err := c.h.Read()
		if err != nil {
			return err
		}
		fmt.Fprintln(c.out, reply)
	case "clear":
		ok, err := c.h.Clear()
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(c.out, "device clear not supported")
		} else {
			fmt.Fprintln(c.out, "cleared")
		}
	case "timeout":
		if len(args) == 1 {
			fmt.Fprintln(c.out, c.h.Timeout())
			return nil
		}
		d, err := time.ParseDuration(args[1])
		if err != nil {
			return fmt.Errorf("console: %w", err)
		}

		return c.h.SetTimeout(d)
	default:
		return fmt.Errorf("console: unknown command %q", ":"+args[0])
	}

	return nil
}
