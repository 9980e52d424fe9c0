package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/semlog/semlog"
	"github.com/semlog/semlog/internal/config"
	"github.com/semlog/semlog/internal/metrics"
	"github.com/semlog/semlog/remote"
)

const shutdownTimeout = 5 * time.Second

func listenCmd() *cobra.Command {
	var (
		configPath  string
		listenAddr  string
		mode        string
		metricsAddr string
		verbose     bool
	)

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Receive pushed events and relay them to local sinks",
		Long: `Listen binds the receive endpoint and relays every decoded event to the
sinks declared in the config file. Without a config, events are written
to stdout as JSON lines.

The config file is watched for changes; edits (or SIGHUP) swap the sink
set without restarting. Changing the listen address or wire mode
requires a restart.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runListen(cmd, configPath, listenAddr, mode, metricsAddr, verbose)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to semlog.yaml")
	cmd.Flags().StringVarP(&listenAddr, "listen", "l", "", "receive address (host:port)")
	cmd.Flags().StringVarP(&mode, "mode", "m", "", "wire mode: json, cbor, text, legacy")
	cmd.Flags().StringVar(&metricsAddr, "metrics", "", "serve Prometheus metrics on this address")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log diagnostics to stderr")

	return cmd
}

func runListen(cmd *cobra.Command, configPath, listenAddr, mode, metricsAddr string, verbose bool) error {
	diag := zerolog.Nop()
	if verbose {
		diag = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}

	cfg := &config.Config{}
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	cfg.ApplyDefaults()
	if listenAddr != "" {
		cfg.Listen = listenAddr
	}
	if mode != "" {
		cfg.Mode = mode
	}
	if metricsAddr != "" {
		cfg.Metrics = metricsAddr
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	registry := semlog.NewRegistry()
	registry.Register("remote", remote.SinkBuilder)

	sinks, err := registry.BuildAll(cfg.SinkConfigs())
	if err != nil {
		return err
	}
	if len(sinks) == 0 {
		sinks = map[string]semlog.Sink{"console": semlog.NewStreamSink(os.Stdout)}
	}

	relay := semlog.NewSubject(semlog.WithAsync(), semlog.WithLogger(diag))
	relay.Configure(semlog.Config{Observers: sinks})

	m := metrics.New()
	wireMode, err := remote.ParseMode(cfg.Mode)
	if err != nil {
		return err
	}
	host, portStr, err := net.SplitHostPort(cfg.Listen)
	if err != nil {
		return err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("invalid listen port %q: %w", portStr, err)
	}

	server := remote.NewServer(host, port,
		remote.WithServerMode(wireMode),
		remote.WithServerLogger(diag),
		remote.WithErrorHook(func(error) { m.IncDecodeError() }),
		remote.WithCallback(func(ev semlog.Event) {
			code, _ := ev[semlog.KeySeverity].(string)
			m.IncReceived(code)
			_ = relay.Dispatch(ev)
			m.IncRelayed()
		}),
		remote.WithTextCallback(func(line string) {
			m.IncReceived("?")
			fmt.Fprintln(os.Stdout, line)
		}),
	)
	if err := server.Start(); err != nil {
		return err
	}
	cmd.Printf("semlog listening on %s (%s mode)\n", server.Addr(), wireMode)

	var metricsSrv *http.Server
	if cfg.Metrics != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		metricsSrv = &http.Server{Addr: cfg.Metrics, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				diag.Error().Err(err).Msg("metrics server failed")
			}
		}()
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	var reloader *config.Reloader
	if configPath != "" {
		reloader = config.NewReloader(configPath)
		go func() {
			if err := reloader.Start(ctx); err != nil {
				diag.Error().Err(err).Msg("config watcher failed")
			}
		}()
		go func() {
			for newCfg := range reloader.Changes() {
				applyReload(relay, registry, cfg, newCfg, diag)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	cmd.Println("shutting down")

	if reloader != nil {
		reloader.Close()
	}
	if !server.Stop(shutdownTimeout) {
		diag.Warn().Msg("server did not stop in time")
	}
	if !relay.Drain(shutdownTimeout) {
		diag.Warn().Int("queued", relay.QueueLen()).Msg("relay queue not fully drained")
	}
	relay.Close()
	closeSinks(relay.Replace(nil))
	if metricsSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	return nil
}

// applyReload swaps the relay's sink set for the newly loaded one.
// Listen address and wire mode changes require a restart and only warn.
func applyReload(relay *semlog.Subject, registry *semlog.Registry, oldCfg, newCfg *config.Config, diag zerolog.Logger) {
	if newCfg.Listen != oldCfg.Listen || newCfg.Mode != oldCfg.Mode {
		diag.Warn().Msg("listen address and wire mode changes require a restart; ignoring")
	}
	sinks, err := registry.BuildAll(newCfg.SinkConfigs())
	if err != nil {
		diag.Error().Err(err).Msg("reload failed, keeping current sinks")
		return
	}
	if len(sinks) == 0 {
		sinks = map[string]semlog.Sink{"console": semlog.NewStreamSink(os.Stdout)}
	}
	old := relay.Replace(sinks)
	closeSinks(old)
	diag.Info().Int("sinks", len(sinks)).Msg("sink configuration reloaded")
}

func closeSinks(sinks map[string]semlog.Sink) {
	for _, s := range sinks {
		if c, ok := s.(interface{ Close() error }); ok {
			_ = c.Close()
		}
	}
}
