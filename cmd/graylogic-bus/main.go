// Gray Logic Bus - device bus client
//
// graylogic-bus joins the home automation message bus as one instance,
// registers the devices declared in its configuration, and answers the
// commands addressed to them until it receives SIGINT or SIGTERM.
//
// The broker is chosen by messaging.type: qpid/amqp, mqtt or nats.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/gray-logic-bus/internal/connection"
	"github.com/nerrad567/gray-logic-bus/internal/envelope"
	"github.com/nerrad567/gray-logic-bus/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-bus/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-bus/internal/metrics"
	"github.com/nerrad567/gray-logic-bus/internal/transport/factory"
	"github.com/nerrad567/gray-logic-bus/internal/uuidmap"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/config.yaml"

	// shutdownTimeout bounds the metrics server shutdown.
	shutdownTimeout = 5 * time.Second
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
// It returns nil on a signal-initiated shutdown.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting Gray Logic Bus",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version).With("instance", cfg.Instance)
	log.Info("configuration loaded",
		"path", configPath,
		"messaging", cfg.Messaging.Type,
		"registry", cfg.Registry.Backend,
	)

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
		srv := metrics.NewServer(cfg.Metrics.Listen, cfg.Metrics.Path, m)
		if startErr := srv.Start(); startErr != nil {
			return fmt.Errorf("starting metrics server: %w", startErr)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
				log.Error("error stopping metrics server", "error", shutdownErr)
			}
		}()
		log.Info("metrics server listening", "addr", srv.Addr(), "path", cfg.Metrics.Path)
	}

	tr, err := factory.New(cfg, log, m)
	if err != nil {
		return err
	}

	store, closeStore, err := uuidmap.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("opening uuid map: %w", err)
	}
	defer func() {
		if closeErr := closeStore(); closeErr != nil {
			log.Error("error closing uuid map", "error", closeErr)
		}
	}()

	conn, err := connection.New(ctx, connection.Options{
		Instance:             cfg.Instance,
		Transport:            tr,
		Store:                store,
		Logger:               log,
		Metrics:              m,
		RequestTimeout:       cfg.Connection.RequestTimeout,
		PollInterval:         cfg.Connection.PollInterval,
		InventoryMaxAge:      cfg.Connection.InventoryMaxAge,
		ControllerRetries:    cfg.Connection.ControllerRetries,
		ControllerRetryDelay: cfg.Connection.ControllerRetryDelay,
	})
	if err != nil {
		return err
	}

	devices := newVirtualDevices(conn, log)
	conn.SetCommandHandler(devices.handle)
	conn.SetEventHandler(func(_ context.Context, subject string, content envelope.Map) {
		log.Trace("event received", "subject", subject, "content", content)
	})

	if err := conn.Start(ctx); err != nil {
		return fmt.Errorf("connecting to %s broker: %w", cfg.Messaging.Type, err)
	}
	defer func() {
		log.Info("shutting down bus connection")
		conn.Shutdown()
	}()
	log.Info("bus connection ready")

	for _, d := range cfg.Devices {
		u, addErr := conn.AddDevice(ctx, d.InternalID, d.DeviceType, d.InitialName)
		if addErr != nil {
			log.Warn("device announce failed", "internal_id", d.InternalID, "error", addErr)
		}
		log.Info("device registered", "internal_id", d.InternalID, "uuid", u, "type", d.DeviceType)
	}

	// Unblock Run and any controller retries as soon as a signal arrives.
	go func() {
		<-ctx.Done()
		conn.PrepareShutdown()
	}()

	err = conn.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("shutdown complete")
	return nil
}

// getConfigPath returns the configuration file path from GRAYLOGIC_CONFIG,
// or the default.
func getConfigPath() string {
	if path := os.Getenv("GRAYLOGIC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
