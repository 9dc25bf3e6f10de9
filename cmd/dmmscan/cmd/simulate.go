package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/arloliu/go-dmmscan/config"
	"github.com/arloliu/go-dmmscan/vxi11"
)

func simulateCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate [address...]",
		Short: "Serve simulated HP3458A meters over VXI-11.",
		Long: `simulate serves one simulated HP3458A per address through a VXI-11 portmapper
and core channel, so that "dmmscan run" and "dmmscan console" can be exercised
without hardware. Binding the standard portmapper port 111 usually requires
privileges; use --portmap with a high port and --portmapport on the client.`,
		Example: `  dmmscan simulate --portmap 127.0.0.1:1111 22 23
  dmmscan run --portmapport 1111 --ipaddr 127.0.0.1 --prefix SIM 22 23`,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd, args, nil)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			portmap, _ := cmd.Flags().GetString("portmap")
			core, _ := cmd.Flags().GetString("core")

			return a.simulate(ctx, portmap, core)
		},
	}

	cmd.Flags().String("portmap", ":111", "portmapper listen address")
	cmd.Flags().String("core", ":0", "core channel listen address")

	return cmd
}

func (a *app) simulate(ctx context.Context, portmapAddr, coreAddr string) error {
	cfg := a.cfg
	if len(cfg.Instrument.Addresses) == 0 {
		cfg.Instrument.Addresses = []string{"22"}
	}
	// the simulated gateway has no host of its own
	cfg.Instrument.Transport = config.TransportSim
	addrs, err := cfg.Addresses()
	if err != nil {
		return err
	}
	bus, err := simBus(addrs, cfg.Instrument.Model)
	if err != nil {
		return err
	}

	srv := vxi11.NewServer(bus, vxi11.WithServerLogger(a.logger))
	if err := srv.Listen(ctx, portmapAddr, coreAddr); err != nil {
		return err
	}
	a.logger.Info("simulator listening",
		"portmapPort", srv.PortmapPort(),
		"corePort", srv.CorePort(),
		"devices", bus.Devices(),
	)

	return srv.Serve(ctx)
}
