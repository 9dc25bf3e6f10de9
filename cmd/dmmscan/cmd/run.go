package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/arloliu/go-dmmscan/health"
	"github.com/arloliu/go-dmmscan/instrument"
	"github.com/arloliu/go-dmmscan/publish"
	"github.com/arloliu/go-dmmscan/supervisor"
)

func runCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [address...]",
		Short: "Poll the instruments and publish their readings until interrupted.",
		Example: `  dmmscan run --ipaddr 10.0.0.5 --prefix LAB:DMM 22 23
  DMMSCAN_INSTRUMENT_HOST=10.0.0.5 dmmscan run --config dmmscan.yaml`,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := a.load(cmd, args, runFlags); err != nil {
				return err
			}

			return a.cfg.Validate()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return a.run(ctx)
		},
	}

	fs := cmd.Flags()
	fs.String("ipaddr", "", "IP address of the LAN/GPIB gateway")
	fs.String("prefix", "", "name prefix of the published values")
	fs.Duration("period", supervisor.DefaultPeriod, "acquisition period")
	fs.Duration("holdoff", supervisor.DefaultHoldOff, "wait after a failure before reconnecting")
	fs.Duration("timeout", instrument.DefaultTimeout, "instrument I/O timeout")
	fs.Int("portmapport", 111, "portmapper port of the gateway")
	fs.String("http", ":9110", "health and metrics listen address, empty disables it")

	return cmd
}

var runFlags = map[string]string{
	"instrument.host":        "ipaddr",
	"prefix":                 "prefix",
	"period":                 "period",
	"holdoff":                "holdoff",
	"instrument.timeout":     "timeout",
	"instrument.portmapport": "portmapport",
	"http.listen":            "http",
}

// run wires the supervisor, the sinks and the HTTP endpoint and blocks until ctx
// is done.
func (a *app) run(ctx context.Context) error {
	cfg := a.cfg
	addrs, err := cfg.Addresses()
	if err != nil {
		return err
	}
	dialer, err := a.dialer(addrs)
	if err != nil {
		return err
	}

	reg := newRegistry()
	sink, err := a.openSink(reg)
	if err != nil {
		return err
	}
	pub := publish.NewPublisher(sink, a.logger.With("component", "publish"))
	defer func() {
		if err := pub.Close(); err != nil {
			a.logger.Warn("failed to close publish sinks", "error", err)
		}
	}()

	im := &instrument.Metrics{}
	sup, err := supervisor.New(dialer, pub, addrs, cfg.Prefix,
		supervisor.WithPeriod(cfg.Period),
		supervisor.WithHoldOff(cfg.HoldOff),
		supervisor.WithTimeout(cfg.Instrument.Timeout),
		supervisor.WithModel(cfg.Instrument.Model),
		supervisor.WithInstrumentMetrics(im),
		supervisor.WithLogger(a.logger),
	)
	if err != nil {
		return err
	}
	ns := cfg.Publish.Namespace
	if err := register(reg, im.Collectors(ns)); err != nil {
		return err
	}
	if err := register(reg, sup.Collectors(ns)); err != nil {
		return err
	}

	a.logger.Info("dmmscan starting",
		"prefix", cfg.Prefix,
		"transport", cfg.Instrument.Transport,
		"host", cfg.Instrument.Host,
		"addresses", len(addrs),
		"period", cfg.Period,
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sup.Run(ctx)
	})
	if cfg.HTTP.Listen != "" {
		srv := health.NewServer(cfg.HTTP.Listen, health.NewMux(newChecker(sup, pub), reg, a.logger), a.logger)
		g.Go(func() error {
			return srv.Run(ctx)
		})
	}

	err = g.Wait()
	a.logger.Info("dmmscan stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}

	return err
}

// newChecker is healthy while the supervisor is acquiring and the last publish
// reached the sinks.
func newChecker(sup *supervisor.Supervisor, pub *publish.Publisher) *health.MultiChecker {
	mc := health.NewMultiChecker(health.CheckerFunc(sup.Check))
	mc.Add(pub)

	return mc
}
