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

	"github.com/sirupsen/logrus"

	"github.com/BrandonDHaskell/gatekeeper/internal/actuator"
	"github.com/BrandonDHaskell/gatekeeper/internal/archive"
	"github.com/BrandonDHaskell/gatekeeper/internal/config"
	"github.com/BrandonDHaskell/gatekeeper/internal/db"
	"github.com/BrandonDHaskell/gatekeeper/internal/events"
	"github.com/BrandonDHaskell/gatekeeper/internal/gate/service"
	"github.com/BrandonDHaskell/gatekeeper/internal/gate/store"
	"github.com/BrandonDHaskell/gatekeeper/internal/gate/store/jsonfile"
	"github.com/BrandonDHaskell/gatekeeper/internal/gate/store/memory"
	"github.com/BrandonDHaskell/gatekeeper/internal/gate/store/sqlite"
	"github.com/BrandonDHaskell/gatekeeper/internal/gate/types"
	"github.com/BrandonDHaskell/gatekeeper/internal/httpapi"
	"github.com/BrandonDHaskell/gatekeeper/internal/metrics"
	"github.com/BrandonDHaskell/gatekeeper/internal/seriallink"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Fatal("gatekeeper stopped")
	}
}

func newLogger(cfg config.Config) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	if cfg.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.WithField("log_level", cfg.LogLevel).Warn("unknown log level, using info")
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}

func run(ctx context.Context, cfg config.Config, logger *logrus.Logger) error {
	m := metrics.New()

	// Store
	st, closeStore, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	// Vehicles
	registry := service.NewVehicleRegistry(st, logger)
	if cfg.Env == "dev" && len(cfg.KnownVehicles) > 0 {
		seed := make([]types.Vehicle, 0, len(cfg.KnownVehicles))
		for _, kv := range cfg.KnownVehicles {
			seed = append(seed, types.Vehicle{TagID: kv.TagID, VehicleNo: kv.VehicleNo})
		}
		n, err := registry.Seed(ctx, seed)
		if err != nil {
			return fmt.Errorf("seed vehicles: %w", err)
		}
		logger.WithField("added", n).Info("seeded known vehicles")
	}

	// Gate
	gate := actuator.NewDispatcher(openActuator(cfg.Actuator, logger), actuator.DispatcherOptions{
		Timeout: cfg.Actuator.Pulse() + 5*time.Second,
		Logger:  logger,
		Metrics: m,
	})
	defer gate.Close()

	// Events
	hub := events.NewHub()
	publisher := events.Multi{hub}
	if cfg.NATS.URL != "" {
		np, err := events.ConnectNATS(events.NATSConfig{
			URL:     cfg.NATS.URL,
			Token:   cfg.NATS.Token,
			Subject: cfg.NATS.Subject,
			Name:    "gatekeeper",
		})
		if err != nil {
			// Scans must keep flowing without the bus.
			logger.WithError(err).WithField("url", cfg.NATS.URL).Warn("nats unavailable, publishing locally only")
		} else {
			defer np.Close()
			publisher = append(publisher, np)
			logger.WithField("subject", np.Subject()).Info("publishing scans to nats")
		}
	}

	// Scan pipeline
	var reader *seriallink.Manager
	var readerState func() string
	if cfg.Reader.Enabled {
		readerState = func() string { return string(reader.State()) }
	}
	ingest := service.NewIngestService(st, gate, service.IngestOptions{
		Logger:      logger,
		Publisher:   publisher,
		Metrics:     m,
		ReaderState: readerState,
	})

	if cfg.Reader.Enabled {
		dir, err := types.ParseDirection(cfg.Reader.Direction)
		if err != nil {
			return fmt.Errorf("reader direction: %w", err)
		}
		logger.WithField("ports", seriallink.AvailablePorts()).Info("serial ports detected")

		reader = seriallink.NewManager(seriallink.SerialOpener{
			Device:      cfg.Reader.Device,
			Baud:        cfg.Reader.Baud,
			ReadTimeout: cfg.Reader.ReadTimeout(),
		}, ingest, seriallink.Config{
			Decoder:   seriallink.DecoderFor(cfg.Reader.Encoding, cfg.Reader.TagPrefix),
			Direction: dir,
			Backoff:   cfg.Reader.Backoff(),
			Debounce:  cfg.Reader.Debounce(),
			Logger:    logger,
			Metrics:   m,
		})
		reader.Start(ctx)
		defer reader.Stop()
	}

	// Archive
	if cfg.Archive.Interval() > 0 {
		sink, err := openSink(ctx, cfg.Archive)
		if err != nil {
			return err
		}
		archiver := service.NewSnapshotArchiver(st, sink, service.ArchiverConfig{
			Interval: cfg.Archive.Interval(),
			Logger:   logger,
			Metrics:  m,
		})
		archiver.Start(ctx)
		defer archiver.Stop()
	}

	// HTTP
	srv := httpapi.NewServer(httpapi.Dependencies{
		Logger:            logger,
		Addr:              cfg.HTTPAddr,
		Ingest:            ingest,
		Vehicles:          registry,
		Hub:               hub,
		Metrics:           m,
		CORSOrigins:       cfg.HTTP.CORSOrigins,
		ScanRatePerMinute: cfg.HTTP.ScanRatePerMinute,
	})

	errCh := make(chan error, 1)
	go func() {
		logger.WithFields(logrus.Fields{
			"addr":     cfg.HTTPAddr,
			"env":      cfg.Env,
			"store":    cfg.Store.Driver,
			"actuator": cfg.Actuator.Driver,
			"reader":   cfg.Reader.Enabled,
		}).Info("listening")
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, cfg config.StoreConfig, logger logrus.FieldLogger) (store.AccessStore, func(), error) {
	switch cfg.Driver {
	case "sqlite":
		conn, err := db.Open(ctx, db.Config{Path: cfg.DBPath})
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		writer := db.NewWorker(conn)
		logger.WithField("path", cfg.DBPath).Info("using sqlite store")
		return sqlite.New(writer), func() {
			writer.Close()
			_ = conn.Close()
		}, nil
	case "memory":
		logger.Warn("using in-memory store, nothing will be persisted")
		return memory.New(), func() {}, nil
	default:
		st, err := jsonfile.New(cfg.JSONPath)
		if err != nil {
			return nil, nil, fmt.Errorf("open json store: %w", err)
		}
		logger.WithField("path", st.Path()).Info("using json store")
		return st, func() {}, nil
	}
}

// openActuator falls back to the simulated relay when the GPIO pin cannot be
// claimed, so a controller without the relay board still records scans.
func openActuator(cfg config.ActuatorConfig, logger logrus.FieldLogger) actuator.Actuator {
	if cfg.Driver != "gpio" {
		return actuator.NewSimulated(logger)
	}
	pin, err := actuator.OpenPin(cfg.RelayPin)
	if err != nil {
		logger.WithError(err).WithField("pin", cfg.RelayPin).Warn("relay unavailable, using simulated gate")
		return actuator.NewSimulated(logger)
	}
	logger.WithField("pin", cfg.RelayPin).Info("relay ready")
	return actuator.NewPhysical(pin, cfg.Pulse(), logger)
}

func openSink(ctx context.Context, cfg config.ArchiveConfig) (archive.Sink, error) {
	if cfg.S3Bucket != "" {
		sink, err := archive.NewS3Sink(ctx, archive.S3Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			PathStyle: cfg.S3PathStyle,
			Prefix:    cfg.S3Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("s3 archive: %w", err)
		}
		return sink, nil
	}
	sink, err := archive.NewFSSink(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("fs archive: %w", err)
	}
	return sink, nil
}
