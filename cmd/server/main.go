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

	"github.com/spf13/cobra"

	"github.com/Wyydra/rendezvous/internal/adapter/driven/events/kafka"
	"github.com/Wyydra/rendezvous/internal/adapter/driven/gateway/ws"
	"github.com/Wyydra/rendezvous/internal/adapter/driven/session/memory"
	sessionredis "github.com/Wyydra/rendezvous/internal/adapter/driven/session/redis"
	sessionsql "github.com/Wyydra/rendezvous/internal/adapter/driven/session/sql"
	handler "github.com/Wyydra/rendezvous/internal/adapter/driving/http"
	"github.com/Wyydra/rendezvous/internal/config"
	"github.com/Wyydra/rendezvous/internal/core/port"
	"github.com/Wyydra/rendezvous/internal/core/service"
	pkglog "github.com/Wyydra/rendezvous/internal/log"
)

var (
	flagConfig string
	flagPort   int
)

var rootCmd = &cobra.Command{
	Use:   "rendezvous",
	Short: "Signaling server for live WebRTC sessions",
	Long: `rendezvous pairs a session's broadcaster with its viewers over websocket
and relays WebRTC offers, answers and ICE candidates between them.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context(), cmd)
	},
}

func init() {
	rootCmd.Flags().StringVarP(&flagConfig, "config", "c", "", "config file or directory containing config.yaml")
	rootCmd.Flags().IntVarP(&flagPort, "port", "p", 0, "listen port, overrides server.port")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serve(ctx context.Context, cmd *cobra.Command) error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = flagPort
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	pkglog.Init(pkglog.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty, ServiceName: "rendezvous"})
	l := pkglog.L()

	directory, err := openDirectory(cfg)
	if err != nil {
		return err
	}
	defer directory.Close()

	var publisher port.LifecyclePublisher
	if cfg.Kafka.Enabled {
		producer, err := kafka.NewProducer(cfg.Kafka)
		if err != nil {
			return err
		}
		defer producer.Close()
		publisher = producer
	}

	hub := ws.NewHub()
	go hub.Run()

	coordinator := service.NewCoordinator(service.NewRegistry(), hub)
	signalService := service.NewSignalService(coordinator, hub, directory, publisher)
	h := handler.NewHandler(signalService, coordinator, directory, hub, cfg, l)

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           h.NewRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		l.Info().
			Str("addr", srv.Addr).
			Str("sessions", cfg.Sessions.Driver).
			Bool("kafka", cfg.Kafka.Enabled).
			Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		hub.Stop()
		return fmt.Errorf("server failed: %w", err)
	}
	l.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		l.Error().Err(err).Msg("server forced to shutdown")
	}

	hub.Stop()
	if err := h.Drain(shutdownCtx); err != nil {
		l.Warn().Err(err).Msg("websocket connections still open at shutdown")
	}

	l.Info().Msg("server exited")
	return nil
}

func openDirectory(cfg *config.Config) (port.SessionDirectory, error) {
	switch cfg.Sessions.Driver {
	case "redis":
		return sessionredis.New(cfg.Redis)
	case "sql":
		db, err := sessionsql.Open(cfg.Database)
		if err != nil {
			return nil, err
		}
		return sessionsql.New(db, cfg.Database.AutoMigrate)
	default:
		return memory.NewDirectory(), nil
	}
}
