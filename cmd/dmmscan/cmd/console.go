package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/arloliu/go-dmmscan/console"
	"github.com/arloliu/go-dmmscan/instrument"
)

func consoleCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "console <address>",
		Short: "Talk to a single instrument interactively.",
		Long: `console opens one instrument and reads commands from the terminal. Lines ending
in '?' are queries and print the reply; other lines are written as-is.
:read, :clear, :timeout [duration] and :quit are console commands.`,
		Example: "  dmmscan console --ipaddr 10.0.0.5 22",
		Args:    cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd, args, consoleFlags)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return a.console(ctx)
		},
	}

	cmd.Flags().String("ipaddr", "", "IP address of the LAN/GPIB gateway")
	cmd.Flags().Duration("timeout", instrument.DefaultTimeout, "instrument I/O timeout")
	cmd.Flags().Int("portmapport", 111, "portmapper port of the gateway")

	return cmd
}

var consoleFlags = map[string]string{
	"instrument.host":        "ipaddr",
	"instrument.timeout":     "timeout",
	"instrument.portmapport": "portmapport",
}

func (a *app) console(ctx context.Context) error {
	addrs, err := a.cfg.Addresses()
	if err != nil {
		return err
	}
	if len(addrs) != 1 {
		return errors.New("console: exactly one address required")
	}
	dialer, err := a.dialer(addrs)
	if err != nil {
		return err
	}

	h, err := instrument.Open(ctx, dialer, addrs[0], instrument.WithHandleLogger(a.logger))
	if err != nil {
		return err
	}
	defer h.Close()

	if err := h.SetTimeout(a.cfg.Instrument.Timeout); err != nil {
		return fmt.Errorf("console: %w", err)
	}

	return console.New(h, os.Stdout).Run(ctx, "")
}
