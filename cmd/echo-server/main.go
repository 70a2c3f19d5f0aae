package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/glimte/msgline/container"
	"github.com/glimte/msgline/health"
	"github.com/glimte/msgline/internal/config"
	"github.com/glimte/msgline/internal/echopeer"
	"github.com/glimte/msgline/monitor"
	"github.com/glimte/msgline/session"
)

var (
	// Version information
	version   = "dev"
	gitCommit = "unknown"
)

func main() {
	var (
		configPath string
		listen     string
		ack        bool
		refuse     bool
		replyType  string
		compress   bool
	)

	rootCmd := &cobra.Command{
		Use:   "echo-server",
		Short: "Echo msgline containers back to their sender",
		Long: `echo-server accepts msgline sessions, logs their negotiation parameters
and sends every container back with source and target swapped.`,
		Version:      fmt.Sprintf("%s (commit: %s)", version, gitCommit),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("listen") {
				cfg.Server.Listen = listen
			}
			if cmd.Flags().Changed("ack") {
				cfg.Server.Ack = ack
			}
			if cmd.Flags().Changed("reply-type") {
				cfg.Server.ReplyType = replyType
			}
			if cmd.Flags().Changed("compress") {
				cfg.Session.CompressMode = compress
			}

			logger := cfg.NewLogger(os.Stderr)

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			opts := []echopeer.Option{
				echopeer.WithLogger(logger),
				echopeer.WithServerID(cfg.Server.ID, cfg.Server.SubID),
				echopeer.WithReplyType(cfg.Server.ReplyType),
			}
			if cfg.Session.MaxFrameBytes > 0 {
				opts = append(opts, echopeer.WithLimits(container.Limits{MaxFrameBytes: cfg.Session.MaxFrameBytes}))
			}
			if cc := cfg.Compression(); cc != nil {
				opts = append(opts, echopeer.WithCompression(*cc))
			}
			if cfg.Server.Ack {
				opts = append(opts, echopeer.WithAck(session.DefaultHandshakeAck(), !refuse))
			}

			if cfg.MetricsAddr != "" {
				metrics, err := monitor.NewPrometheusCollector(
					monitor.WithConstLabels(prometheus.Labels{"server": cfg.Server.ID}))
				if err != nil {
					return fmt.Errorf("failed to create metrics: %w", err)
				}
				opts = append(opts, echopeer.WithMetrics(metrics))

				checks := health.NewRegistry(2 * time.Second)
				checks.Register(health.NewRuntimeChecker(500, 1000))
				mux := http.NewServeMux()
				mux.Handle("/metrics", metrics.Handler())
				mux.Handle("/healthz", checks.Handler())
				srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
				go func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						logger.Error("metrics server failed", "error", err)
					}
				}()
				defer srv.Close()
			}

			server := echopeer.New(opts...)
			if err := server.Listen(cfg.Server.Listen); err != nil {
				return fmt.Errorf("failed to listen on %s: %w", cfg.Server.Listen, err)
			}

			go func() {
				for {
					select {
					case p := <-server.Negotiated():
						logger.Debug("negotiated", "connectionKey", p.ConnectionKey, "sessionType", p.SessionType)
					case <-ctx.Done():
						return
					}
				}
			}()

			<-ctx.Done()
			logger.Info("shutting down")
			return server.Close()
		},
	}

	flags := rootCmd.Flags()
	flags.StringVarP(&configPath, "config", "c", "", "Config file (.toml, .yaml)")
	flags.StringVarP(&listen, "listen", "l", "", "Listen address host:port")
	flags.BoolVar(&ack, "ack", false, "Answer request_connection with confirm_connection")
	flags.BoolVar(&refuse, "refuse", false, "With --ack, refuse every connection")
	flags.StringVar(&replyType, "reply-type", "", "Reply with this message type instead of echoing it")
	flags.BoolVar(&compress, "compress", false, "Deflate large data sections")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
