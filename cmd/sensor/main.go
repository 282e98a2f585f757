// Command dht11-read performs a single DHT11 transaction and prints the result.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/afroash/dht11-httpd/internal/config"
	"github.com/afroash/dht11-httpd/internal/logging"
	"github.com/afroash/dht11-httpd/internal/models"
	"github.com/afroash/dht11-httpd/internal/sensor"
)

const version = "v0.3.0"

// exitChecksum is returned when the frame arrived but failed its checksum.
const exitChecksum = 2

func main() {
	if err := newApp(os.Stdout).Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		var coder cli.ExitCoder
		if errors.As(err, &coder) {
			os.Exit(coder.ExitCode())
		}
		os.Exit(1)
	}
}

func newApp(out io.Writer) *cli.App {
	return &cli.App{
		Name:    "dht11-read",
		Usage:   "read the DHT11 once and print temperature and humidity",
		Version: version,
		Writer:  out,
		// main owns the exit code so tests can call Run
		ExitErrHandler: func(*cli.Context, error) {},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Load sensor settings from `FILE`",
			},
			&cli.StringFlag{
				Name:  "driver",
				Usage: "line driver: periph, rpio, cdev or sim",
			},
			&cli.IntFlag{
				Name:  "pin",
				Usage: "BCM pin, or line offset for cdev",
			},
			&cli.StringFlag{
				Name:  "chip",
				Usage: "gpiochip for the cdev driver",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "print the transaction result as JSON",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "enable debug logging",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}

			logger := zerolog.Nop()
			if c.Bool("debug") {
				cfg.Logging.Level = "debug"
				cfg.Logging.Format = "text"
				l, closer, err := logging.New(cfg.Logging)
				if err != nil {
					return err
				}
				defer closer.Close()
				logger = l
			}

			result, err := readOnce(c.Context, cfg, logger)
			if printErr := printResult(c.App.Writer, result, c.Bool("json")); printErr != nil {
				return printErr
			}
			if err != nil {
				return err
			}
			if result.Outcome == models.OutcomeChecksumMismatch {
				return cli.Exit("checksum mismatch", exitChecksum)
			}
			return nil
		},
	}
}

// loadConfig reads the optional config file, then lets flags override it.
func loadConfig(c *cli.Context) (*config.AppConfig, error) {
	var cfg *config.AppConfig
	if path := c.String("config"); path != "" {
		loaded, err := config.LoadAppConfig(path)
		if err != nil {
			return nil, errors.Wrap(err, "failed to load config")
		}
		cfg = loaded
	} else {
		cfg = &config.AppConfig{}
		cfg.ApplyDefaults()
		if err := cfg.OverrideFromEnv(); err != nil {
			return nil, err
		}
	}

	if c.IsSet("driver") {
		cfg.Sensor.Driver = c.String("driver")
	}
	if c.IsSet("pin") {
		cfg.Sensor.Pin = c.Int("pin")
	}
	if c.IsSet("chip") {
		cfg.Sensor.Chip = c.String("chip")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	return cfg, nil
}

func readOnce(ctx context.Context, cfg *config.AppConfig, logger zerolog.Logger) (models.Result, error) {
	dhtSensor, err := sensor.OpenDHT11(sensor.LineConfig{
		Driver: cfg.Sensor.Driver,
		Pin:    cfg.Sensor.Pin,
		Chip:   cfg.Sensor.Chip,
		Timing: cfg.Sensor.Timing,
	})
	if err != nil {
		return models.Result{Outcome: models.OutcomeError, Error: err.Error()}, errors.Wrap(err, "failed to open sensor")
	}

	info := models.NewSensorInfo(cfg.Sensor.ID, cfg.Sensor.Location, cfg.Sensor.Type, version).
		WithLine(cfg.Sensor.Driver, cfg.Sensor.Pin)
	reader := sensor.NewReader(dhtSensor, info, logger)
	defer reader.Close()

	ctx, cancel := context.WithTimeout(ctx, cfg.Server.RequestTimeout)
	defer cancel()
	return reader.ReadOnce(ctx)
}

func printResult(w io.Writer, result models.Result, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	if result.Reading == nil {
		_, err := fmt.Fprintf(w, "sensor error: %s (%s)\n", result.Outcome, result.Error)
		return err
	}
	_, err := fmt.Fprintln(w, result.Reading.String())
	return err
}
