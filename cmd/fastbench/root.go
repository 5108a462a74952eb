package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/searchktools/fast-bench/app"
	"github.com/searchktools/fast-bench/config"
	"github.com/searchktools/fast-bench/core/observability"
)

var bannerColor = color.New(color.FgCyan)

const banner = `  __           _       _                     _
 / _| __ _ ___| |_    | |__   ___ _ __   ___| |__
| |_ / _' / __| __|___| '_ \ / _ \ '_ \ / __| '_ \
|  _| (_| \__ \ ||_____| |_) |  __/ | | | (__| | | |
|_|  \__,_|___/\__|    |_.__/ \___|_| |_|\___|_| |_|`

type rootCommand struct {
	cmd    *cobra.Command
	fs     afero.Fs
	lookup config.LookupEnv

	configPath string
	flags      config.Config

	// run is replaced in tests.
	run func(ctx context.Context, cfg config.Config, logger *logrus.Logger) error
}

func newRootCommand(fs afero.Fs, lookup config.LookupEnv) *rootCommand {
	c := &rootCommand{fs: fs, lookup: lookup, run: serve}
	c.cmd = &cobra.Command{
		Use:           "fastbench",
		Short:         "an allocation-conscious HTTP/1.1 benchmark server",
		Long:          bannerColor.Sprintf("\n%s", banner),
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          c.runE,
	}
	c.cmd.Flags().AddFlagSet(c.flagSet())
	return c
}

func (c *rootCommand) flagSet() *pflag.FlagSet {
	def := config.Default()
	flags := pflag.NewFlagSet("", pflag.ContinueOnError)
	flags.SortFlags = false
	flags.StringVarP(&c.configPath, "config", "c", "", "YAML configuration file")
	flags.StringVarP((*string)(&c.flags.Mode), "mode", "m", string(def.Mode), "responder wiring: raw, headers, handler, framework, websocket, proxy or echo")
	flags.StringVarP((*string)(&c.flags.Transport), "transport", "t", string(def.Transport), "connection scheduling: goroutine or eventloop")
	flags.StringVar(&c.flags.Host, "host", def.Host, "listen host")
	flags.IntVarP(&c.flags.Port, "port", "p", def.Port, "listen port")
	flags.IntVar(&c.flags.ThreadCount, "threadcount", def.ThreadCount, "number of listeners and event loops")
	flags.StringVar(&c.flags.Upstream, "upstream", def.Upstream, "upstream base URL for proxy mode")
	flags.StringVar(&c.flags.WebSocketPath, "websocket-path", def.WebSocketPath, "upgrade path for websocket mode")
	flags.DurationVar(&c.flags.IdleTimeout, "idle-timeout", def.IdleTimeout, "keep-alive idle timeout")
	flags.IntVar(&c.flags.MaxConnections, "max-connections", def.MaxConnections, "maximum open connections, 0 for no limit")
	flags.StringVar(&c.flags.LogLevel, "log-level", def.LogLevel, "log level: debug, info, warn or error")
	flags.StringVar(&c.flags.LogFormat, "log-format", def.LogFormat, "log format: text or json")
	flags.StringVar(&c.flags.MetricsEndpoint, "metrics-endpoint", def.MetricsEndpoint, "OTLP/gRPC metrics endpoint, empty to disable")
	return flags
}

// resolveConfig layers the changed flags over the file and environment.
func (c *rootCommand) resolveConfig(flags *pflag.FlagSet) (config.Config, error) {
	cfg, err := config.Load(c.fs, c.configPath, c.lookup)
	if err != nil {
		return cfg, err
	}

	set := func(name string, apply func()) {
		if flags.Changed(name) {
			apply()
		}
	}
	set("mode", func() { cfg.Mode = c.flags.Mode })
	set("transport", func() { cfg.Transport = c.flags.Transport })
	set("host", func() { cfg.Host = c.flags.Host })
	set("port", func() { cfg.Port = c.flags.Port })
	set("threadcount", func() { cfg.ThreadCount = c.flags.ThreadCount })
	set("upstream", func() { cfg.Upstream = c.flags.Upstream })
	set("websocket-path", func() { cfg.WebSocketPath = c.flags.WebSocketPath })
	set("idle-timeout", func() { cfg.IdleTimeout = c.flags.IdleTimeout })
	set("max-connections", func() { cfg.MaxConnections = c.flags.MaxConnections })
	set("log-level", func() { cfg.LogLevel = c.flags.LogLevel })
	set("log-format", func() { cfg.LogFormat = c.flags.LogFormat })
	set("metrics-endpoint", func() { cfg.MetricsEndpoint = c.flags.MetricsEndpoint })

	return cfg, cfg.Validate()
}

func (c *rootCommand) runE(cmd *cobra.Command, _ []string) error {
	cfg, err := c.resolveConfig(cmd.Flags())
	if err != nil {
		return err
	}
	logger, err := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return c.run(ctx, cfg, logger)
}

func serve(ctx context.Context, cfg config.Config, logger *logrus.Logger) error {
	logger.WithFields(logrus.Fields{
		"mode":             cfg.Mode,
		"transport":        cfg.Transport,
		"addr":             cfg.Addr(),
		"threads":          cfg.ThreadCount,
		"max_connections":  cfg.MaxConnections,
		"idle_timeout":     cfg.IdleTimeout,
		"shutdown_timeout": cfg.ShutdownTimeout,
		"upstream":         cfg.Upstream,
		"metrics":          cfg.MetricsEndpoint,
	}).Info("Starting")

	setupCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	a, err := app.New(setupCtx, cfg, logger)
	cancel()
	if err != nil {
		return err
	}
	return a.Run(ctx)
}

func execute(args []string) int {
	c := newRootCommand(afero.NewOsFs(), os.LookupEnv)
	c.cmd.SetArgs(args)
	if err := c.cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("fastbench: %v", err))
		return 1
	}
	return 0
}
