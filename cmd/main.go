// cmd/main.go is the application entry point.
// It wires together all layers and starts the HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Shivanand-hulikatti/ticket-allocation/internal/broker"
	"github.com/Shivanand-hulikatti/ticket-allocation/internal/config"
	"github.com/Shivanand-hulikatti/ticket-allocation/internal/database"
	"github.com/Shivanand-hulikatti/ticket-allocation/internal/handler"
	"github.com/Shivanand-hulikatti/ticket-allocation/internal/lock"
	"github.com/Shivanand-hulikatti/ticket-allocation/internal/logger"
	"github.com/Shivanand-hulikatti/ticket-allocation/internal/repository"
	"github.com/Shivanand-hulikatti/ticket-allocation/internal/repository/memory"
	"github.com/Shivanand-hulikatti/ticket-allocation/internal/service"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := pflag.String("config", "", "path to a YAML config file")
	port := pflag.String("port", "", "HTTP port (overrides config)")
	storage := pflag.String("storage", "", "storage driver: postgres or memory (overrides config)")
	migrate := pflag.Bool("migrate", true, "apply the database schema on startup")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *port != "" {
		cfg.Server.Port = *port
	}
	if *storage != "" {
		cfg.Storage.Driver = *storage
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Log)

	if err := run(cfg, *migrate, log); err != nil {
		log.WithError(err).Fatal("service stopped")
	}
	log.Info("server stopped")
}

func run(cfg *config.Config, migrate bool, log *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── 1. Storage ────────────────────────────────────────────────────────
	var (
		events   service.EventLedger
		bookings service.BookingStore
		queue    service.WaitingQueue
	)
	switch cfg.Storage.Driver {
	case config.DriverMemory:
		store := memory.New()
		events, bookings, queue = store, store, store
		log.Warn("using in-memory storage; state is lost on restart")
	default:
		pool, err := database.NewPool(ctx, cfg.Database, log)
		if err != nil {
			return fmt.Errorf("database: %w", err)
		}
		defer pool.Close()
		log.Info("connected to PostgreSQL")

		if migrate {
			if err := database.Migrate(ctx, pool); err != nil {
				return err
			}
		}
		events = repository.NewEventRepository(pool)
		bookings = repository.NewBookingRepository(pool)
		queue = repository.NewQueueRepository(pool)
	}

	// ── 2. Booking notifications ──────────────────────────────────────────
	var publisher broker.Publisher = broker.Noop{}
	if cfg.Broker.URL != "" {
		amqpPub, err := broker.Dial(cfg.Broker.URL, cfg.Broker.Exchange, log)
		if err != nil {
			return fmt.Errorf("broker: %w", err)
		}
		publisher = amqpPub
		log.WithField("exchange", cfg.Broker.Exchange).Info("publishing booking messages")
	}
	defer publisher.Close()

	// ── 3. Wire up layers ─────────────────────────────────────────────────
	locks := lock.New(lock.Options{
		Timeout:    cfg.Lock.Timeout,
		MaxPending: cfg.Lock.MaxPending,
	})
	svc := service.NewAllocationService(events, bookings, queue, locks, publisher, log)
	eventHandler := handler.NewEventHandler(svc, log)

	// ── 4. Build the router ───────────────────────────────────────────────
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(handler.Logger(log))
	r.Use(handler.CORS)

	r.Get("/health", handler.HealthCheck)
	eventHandler.Routes(r)

	// ── 5. Serve until signalled ──────────────────────────────────────────
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithField("addr", srv.Addr).Info("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		return nil
	})
	return g.Wait()
}
