package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	msgline "github.com/glimte/msgline"
	"github.com/glimte/msgline/bridge"
	"github.com/glimte/msgline/health"
	"github.com/glimte/msgline/internal/config"
	"github.com/glimte/msgline/internal/rabbitmq"
	"github.com/glimte/msgline/monitor"
	"github.com/glimte/msgline/session"
)

var (
	// Version information
	version   = "dev"
	gitCommit = "unknown"
)

type options struct {
	configPath string
	server     string
	negotiate  bool
	waitAck    bool
	compress   bool
	count      int
	interval   time.Duration
}

func main() {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:   "echo-client",
		Short: "Send echo_test containers to a msgline server",
		Long: `echo-client connects to a msgline server, optionally negotiates the
connection, sends echo_test containers and prints the replies. It stops as
soon as a reply carries a different message type.`,
		Version:      fmt.Sprintf("%s (commit: %s)", version, gitCommit),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, opts, func(ctx context.Context, a *app) error {
				return runEcho(ctx, a.client, a.cfg.Client.ServerID, opts.count, opts.interval, cmd.OutOrStdout(), a.logger)
			})
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "Config file (.toml, .yaml)")
	flags.StringVarP(&opts.server, "server", "s", "", "Server address host:port")
	flags.BoolVar(&opts.negotiate, "negotiate", false, "Send request_connection after connecting")
	flags.BoolVar(&opts.waitAck, "ack", false, "Wait for confirm_connection after negotiating")
	flags.BoolVar(&opts.compress, "compress", false, "Deflate large data sections")
	rootCmd.Flags().IntVarP(&opts.count, "count", "n", 1, "Number of echo_test containers to send (0 = until interrupted)")
	rootCmd.Flags().DurationVarP(&opts.interval, "interval", "i", time.Second, "Delay between echoes")

	relayCmd := &cobra.Command{
		Use:   "relay",
		Short: "Relay containers between the server and an AMQP exchange",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, opts, runRelay)
		},
	}
	rootCmd.AddCommand(relayCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

type app struct {
	cfg    *config.Config
	client *msgline.Client
	logger *slog.Logger
	health *health.Registry
}

// withClient loads config, starts metrics and a connected client, runs fn
// and stops the client afterwards.
func withClient(cmd *cobra.Command, opts *options, fn func(context.Context, *app) error) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("server") {
		cfg.Client.ServerAddr = opts.server
	}
	if flags.Changed("negotiate") {
		cfg.Client.Negotiate = opts.negotiate
	}
	if flags.Changed("ack") {
		cfg.Client.WaitAck = opts.waitAck
	}
	if flags.Changed("compress") {
		cfg.Session.CompressMode = opts.compress
	}

	logger := cfg.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	addr, err := session.ParseAddress(cfg.Client.ServerAddr)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	metrics, err := monitor.NewPrometheusCollector(
		monitor.WithConstLabels(prometheus.Labels{"client": cfg.Client.ID}))
	if err != nil {
		return fmt.Errorf("failed to create metrics: %w", err)
	}
	checks := health.NewRegistry(2 * time.Second)
	checks.Register(health.NewRuntimeChecker(500, 1000))
	stopMetrics := serveMetrics(cfg.MetricsAddr, metrics, checks, logger)
	defer stopMetrics()

	client := msgline.NewClient(cfg.Client.ID, cfg.Client.SubID,
		msgline.WithLogger(logger),
		msgline.WithSessionConfig(cfg.SessionConfig()),
		msgline.WithMetrics(metrics),
		msgline.WithStateListener(func(from, to session.State) {
			logger.Debug("session state changed", "from", from, "to", to)
		}),
	)

	checks.Register(health.NewSessionChecker("session", client))

	if err := startClient(ctx, client, addr, cfg.Client.StartAttempts, logger); err != nil {
		return err
	}
	defer client.Stop()

	err = fn(ctx, &app{cfg: cfg, client: client, logger: logger, health: checks})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func serveMetrics(addr string, metrics *monitor.PrometheusCollector, checks *health.Registry, logger *slog.Logger) func() {
	if addr == "" {
		return func() {}
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/healthz", checks.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
}

// runRelay bridges the session and the broker. The relay is rebuilt on a
// fresh channel whenever the connection manager re-dials the broker.
func runRelay(ctx context.Context, a *app) error {
	cfg, client, logger := a.cfg, a.client, a.logger
	if cfg.Bridge.URL == "" {
		return fmt.Errorf("relay needs bridge.url (or %sAMQP_URL)", config.EnvPrefix)
	}

	conns := rabbitmq.NewConnectionManager(cfg.Bridge.URL, rabbitmq.WithLogger(logger))
	if err := conns.Connect(ctx); err != nil {
		return err
	}
	defer conns.Close()
	a.health.Register(health.NewBrokerChecker(conns))

	up := make(chan struct{}, 1)
	conns.AddStateListener(func(connected bool, err error) {
		if !connected {
			return
		}
		select {
		case up <- struct{}{}:
		default:
		}
	})

	topology := rabbitmq.RelayTopology(cfg.Bridge.Exchange, cfg.Bridge.Queue, cfg.Bridge.Bindings...)
	open := func() (*bridge.Relay, error) {
		ch, err := conns.Channel()
		if err != nil {
			return nil, err
		}
		if err := rabbitmq.Declare(ch, topology); err != nil {
			ch.Close()
			return nil, err
		}
		return bridge.NewRelay(ch, cfg.Bridge.Exchange,
			bridge.WithLogger(logger),
			bridge.WithAppID(cfg.Client.ID)), nil
	}

	logger.Info("relaying", "exchange", cfg.Bridge.Exchange, "queue", cfg.Bridge.Queue)
	return bridge.Reattach(ctx, client, cfg.Bridge.Queue, up, open)
}
