package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/afroash/dht11-httpd/internal/client"
	"github.com/afroash/dht11-httpd/internal/config"
	"github.com/afroash/dht11-httpd/internal/logging"
	"github.com/afroash/dht11-httpd/internal/metrics"
	"github.com/afroash/dht11-httpd/internal/models"
	"github.com/afroash/dht11-httpd/internal/sensor"
	"github.com/afroash/dht11-httpd/internal/server"
	"github.com/afroash/dht11-httpd/internal/storage"
)

const version = "v0.3.0"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "dht11-httpd",
		Usage:   "serve DHT11 temperature and humidity readings over HTTP",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "configs/server.yaml",
				Usage:   "Load configuration from `FILE`",
			},
			&cli.StringFlag{
				Name:  "env-file",
				Value: ".env",
				Usage: "Load environment overrides from `FILE` if it exists",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "override the configured log level",
			},
		},
		Action: func(c *cli.Context) error {
			if err := config.LoadEnvFile(c.String("env-file")); err != nil {
				return err
			}
			cfg, err := config.LoadAppConfig(c.String("config"))
			if err != nil {
				return errors.Wrap(err, "failed to load config")
			}
			if lvl := c.String("log-level"); lvl != "" {
				cfg.Logging.Level = lvl
			}

			logger, logFile, err := logging.New(cfg.Logging)
			if err != nil {
				return err
			}
			defer logFile.Close()

			ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, logger)
		},
	}
}

// service is everything a running server owns
type service struct {
	reader  *sensor.Reader
	handler http.Handler
	uplink  *client.Connection

	journal   *storage.SQLiteStore
	dbWriter  *storage.DBWriter
	retention *storage.RetentionCleaner
}

// newService opens the sensor and the optional journal and builds the router.
func newService(cfg *config.AppConfig, logger zerolog.Logger) (*service, error) {
	dhtSensor, err := sensor.OpenDHT11(sensor.LineConfig{
		Driver: cfg.Sensor.Driver,
		Pin:    cfg.Sensor.Pin,
		Chip:   cfg.Sensor.Chip,
		Timing: cfg.Sensor.Timing,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to open sensor")
	}

	info := models.NewSensorInfo(cfg.Sensor.ID, cfg.Sensor.Location, cfg.Sensor.Type, version).
		WithLine(cfg.Sensor.Driver, cfg.Sensor.Pin)

	svc := &service{}
	collector := metrics.New()
	latest := server.NewLatestStore()
	recorders := []sensor.Recorder{collector, latest}

	if cfg.Journal.Enabled {
		if err := os.MkdirAll(filepath.Dir(cfg.Journal.DBPath), 0755); err != nil {
			dhtSensor.Close()
			return nil, errors.Wrap(err, "failed to create data directory")
		}
		svc.journal, err = storage.NewSQLiteStore(cfg.Journal.DBPath, logger)
		if err != nil {
			dhtSensor.Close()
			return nil, errors.Wrap(err, "failed to open journal")
		}
		svc.dbWriter = storage.NewDBWriter(svc.journal, storage.DBWriterConfig{
			BatchSize:   cfg.Journal.BatchSize,
			FlushPeriod: cfg.Journal.FlushPeriod,
			ChannelSize: cfg.Journal.ChannelSize,
		}, logger)
		svc.retention = storage.NewRetentionCleaner(svc.journal, storage.RetentionCleanerConfig{
			RetentionDays: cfg.Journal.RetentionDays,
			CleanupPeriod: cfg.Journal.CleanupPeriod,
		}, logger)
		recorders = append(recorders, svc.dbWriter)
	}

	svc.reader = sensor.NewReader(dhtSensor, info, logger, sensor.WithRecorders(recorders...))

	timeout := cfg.Server.RequestTimeout
	var api *server.APIHandler
	if svc.journal != nil {
		api = server.NewAPIHandlerWithJournal(svc.reader, latest, svc.journal, timeout, version, logger)
		api.SetJournalWorkers(svc.dbWriter, svc.retention)
	} else {
		api = server.NewAPIHandler(svc.reader, latest, timeout, version, logger)
	}

	svc.handler = server.NewRouter(server.Routes{
		Page:           server.NewPageHandler(svc.reader, timeout, logger),
		API:            api,
		WebSocket:      server.NewHandler(cfg.Server.AuthToken, svc.reader, timeout, logger, cfg.Server.AllowedOrigins...),
		Metrics:        collector.Handler(),
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})

	if cfg.Uplink.Enabled {
		svc.uplink = client.NewConnection(client.ConnectionConfig{
			URL:                  cfg.Uplink.URL,
			AuthToken:            cfg.Uplink.AuthToken,
			ConnectTimeout:       cfg.Uplink.ConnectTimeout,
			ReconnectInterval:    cfg.Uplink.ReconnectInterval,
			MaxReconnectInterval: cfg.Uplink.MaxReconnectInterval,
			MaxRetries:           cfg.Uplink.MaxRetries,
			PingInterval:         cfg.Uplink.PingInterval,
			PongTimeout:          cfg.Uplink.PongTimeout,
		}, svc.reader, timeout, logger)
	}

	return svc, nil
}

// Close stops the journal goroutines before the database and releases the
// sensor line last.
func (s *service) Close() error {
	var err error
	if s.dbWriter != nil {
		s.dbWriter.Stop()
	}
	if s.retention != nil {
		s.retention.Stop()
	}
	if s.journal != nil {
		err = multierr.Append(err, s.journal.Close())
	}
	if s.uplink != nil {
		err = multierr.Append(err, s.uplink.Close())
	}
	return multierr.Append(err, s.reader.Close())
}

func run(ctx context.Context, cfg *config.AppConfig, logger zerolog.Logger) error {
	logger.Info().
		Str("version", version).
		Str("sensor", cfg.Sensor.ID).
		Str("driver", cfg.Sensor.Driver).
		Int("pin", cfg.Sensor.Pin).
		Msg("Starting DHT11 server")
	logger.Debug().Msg(cfg.String())

	svc, err := newService(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.Error().Err(err).Msg("shutdown error")
		}
		logger.Info().Msg("Server stopped")
	}()

	httpServer := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      svc.handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", httpServer.Addr).Msg("Server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return errors.Wrap(err, "server failed")
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info().Msg("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	if svc.uplink != nil {
		g.Go(func() error {
			err := svc.uplink.Run(ctx)
			if errors.Is(err, client.ErrMaxRetries) {
				// the HTTP side keeps serving without the collector
				logger.Error().Err(err).Str("url", cfg.Uplink.URL).Msg("uplink disabled")
				return nil
			}
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}
	return g.Wait()
}
