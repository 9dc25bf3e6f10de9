package cmd

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/arloliu/go-dmmscan/config"
	"github.com/arloliu/go-dmmscan/instrument"
	"github.com/arloliu/go-dmmscan/logger"
	"github.com/arloliu/go-dmmscan/publish"
	"github.com/arloliu/go-dmmscan/sim"
	"github.com/arloliu/go-dmmscan/vxi11"
)

// app carries the state shared by the sub-commands.
type app struct {
	v      *viper.Viper
	cfg    *config.Config
	logger logger.Logger
}

func newApp() *app {
	return &app{v: config.NewViper(), logger: logger.GetLogger()}
}

// rootFlags maps configuration keys to the persistent flags of the root command.
var rootFlags = map[string]string{
	"log.level":            "log-level",
	"instrument.bus":       "bus",
	"instrument.transport": "transport",
}

// bind maps configuration keys to flags of fs. Sub-commands share one viper
// instance, so only the flags of the executing command are bound.
func (a *app) bind(fs *pflag.FlagSet, keys map[string]string) error {
	var result *multierror.Error
	for key, name := range keys {
		if err := a.v.BindPFlag(key, fs.Lookup(name)); err != nil {
			result = multierror.Append(result, fmt.Errorf("bind flag --%s: %w", name, err))
		}
	}

	return result.ErrorOrNil()
}

// load binds the flags of cmd, reads the configuration and installs the process
// logger. args, when not empty, replace the configured instrument addresses.
func (a *app) load(cmd *cobra.Command, args []string, keys map[string]string) error {
	if err := a.bind(cmd.Flags(), rootFlags); err != nil {
		return err
	}
	if err := a.bind(cmd.Flags(), keys); err != nil {
		return err
	}
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return err
	}
	if len(args) > 0 {
		a.v.Set("instrument.addresses", args)
	}

	cfg, err := config.Load(a.v, path)
	if err != nil {
		return err
	}
	level, err := cfg.LogLevel()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	a.cfg = cfg
	a.logger = logger.NewSlog(level, cfg.Log.Source)
	logger.SetLogger(a.logger)

	return nil
}

// dialer builds the instrument transport selected by the configuration.
func (a *app) dialer(addrs []instrument.Address) (instrument.Dialer, error) {
	in := a.cfg.Instrument

	switch in.Transport {
	case config.TransportSim:
		return simBus(addrs, in.Model)
	case config.TransportVXI11:
		opts := []vxi11.Option{
			vxi11.WithPortmapPort(in.PortmapPort),
			vxi11.WithConnectTimeout(in.ConnectTimeout),
			vxi11.WithIOTimeout(in.Timeout),
			vxi11.WithLogger(a.logger),
		}
		if in.CorePort != 0 {
			opts = append(opts, vxi11.WithCorePort(in.CorePort))
		}
		vcfg, err := vxi11.NewConfig(opts...)
		if err != nil {
			return nil, err
		}

		return vxi11.NewDialer(vcfg)
	default:
		return nil, fmt.Errorf("unknown transport %q", in.Transport)
	}
}

// simBus attaches one simulated meter per address, keyed by its device name.
func simBus(addrs []instrument.Address, model string) (*sim.Bus, error) {
	bus := &sim.Bus{}
	for _, addr := range addrs {
		in, err := sim.NewInstrument(addr.BusAddress(), sim.WithModel(model))
		if err != nil {
			return nil, err
		}
		if err := bus.Add(addr.Device, in); err != nil {
			return nil, err
		}
	}

	return bus, nil
}

// openSink connects the enabled publish sinks.
func (a *app) openSink(reg prometheus.Registerer) (publish.Sink, error) {
	p := a.cfg.Publish
	opts := publish.OpenOptions{
		Namespace:       p.Namespace,
		ConnectAttempts: p.ConnectAttempts,
		ConnectDelay:    p.ConnectDelay,
		Logger:          a.logger.With("component", "publish"),
	}
	if p.Memory {
		opts.Memory = publish.NewMemory(0)
	}
	if p.Prometheus {
		opts.Registerer = reg
	}
	if p.NATS.URL != "" {
		opts.NATS = &publish.NATSOptions{
			URL:           p.NATS.URL,
			ClientName:    "dmmscan-" + a.cfg.Prefix,
			SubjectPrefix: p.NATS.SubjectPrefix,
			Codec:         p.NATS.Codec,
		}
	}
	if p.Redis.Addr != "" {
		opts.Redis = &publish.RedisOptions{
			Addr:     p.Redis.Addr,
			Password: p.Redis.Password,
			DB:       p.Redis.DB,
			Channel:  p.Redis.Channel,
			Codec:    p.Redis.Codec,
		}
	}

	return publish.Open(opts)
}

// newRegistry returns a registry with the Go runtime and process collectors.
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return reg
}

func register(reg prometheus.Registerer, cs []prometheus.Collector) error {
	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			return err
		}
	}

	return nil
}
