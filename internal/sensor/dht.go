package sensor

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/afroash/dht11-httpd/internal/dht"
	"github.com/afroash/dht11-httpd/internal/gpio"
	"github.com/afroash/dht11-httpd/internal/gpio/sim"
	"github.com/afroash/dht11-httpd/internal/models"
)

// Supported line drivers.
const (
	DriverPeriph = "periph"
	DriverRPIO   = "rpio"
	DriverCdev   = "cdev"
	DriverSim    = "sim"
)

// Drivers lists the accepted values for the sensor driver setting.
var Drivers = []string{DriverPeriph, DriverRPIO, DriverCdev, DriverSim}

// DHTSensor defines the interface for reading from a DHT sensor
type DHTSensor interface {
	// Read performs exactly one transaction. A frame that fails its
	// checksum is returned with Valid unset and a nil error.
	Read(ctx context.Context) (models.Reading, error)

	// Close cleans up GPIO resources
	Close() error
}

// LineConfig selects and configures the line the sensor hangs off.
type LineConfig struct {
	Driver string
	Pin    int
	// Chip is the gpiochip device for the cdev driver, e.g. "gpiochip0".
	Chip   string
	Timing dht.Timing
}

// DHT11Reader implements DHTSensor for DHT11 hardware
type DHT11Reader struct {
	line    gpio.Line
	decoder *dht.Decoder
}

// NewDHT11Reader creates a reader over an already opened line.
func NewDHT11Reader(line gpio.Line, clk gpio.Clock, timing dht.Timing) (*DHT11Reader, error) {
	decoder, err := dht.NewDecoder(line, clk, timing)
	if err != nil {
		return nil, err
	}
	return &DHT11Reader{line: line, decoder: decoder}, nil
}

// OpenDHT11 opens the configured line and wraps it in a reader.
func OpenDHT11(cfg LineConfig) (*DHT11Reader, error) {
	var (
		line gpio.Line
		clk  gpio.Clock = clock.New()
		err  error
	)
	switch strings.ToLower(cfg.Driver) {
	case DriverPeriph:
		line, err = gpio.OpenPeriph("", cfg.Pin)
	case DriverRPIO:
		line, err = gpio.OpenRPIO(cfg.Pin)
	case DriverCdev:
		line, err = gpio.OpenCdev(cfg.Chip, cfg.Pin, "dht11-httpd")
	case DriverSim:
		s := sim.New([5]uint8{}, sim.WithSource(weather()))
		line, clk = s, s
	default:
		return nil, fmt.Errorf("unknown sensor driver %q (want one of %s)", cfg.Driver, strings.Join(Drivers, ", "))
	}
	if err != nil {
		return nil, err
	}

	reader, err := NewDHT11Reader(line, clk, cfg.Timing)
	if err != nil {
		line.Close()
		return nil, err
	}
	return reader, nil
}

// Read performs a reading from the DHT11 sensor
func (d *DHT11Reader) Read(ctx context.Context) (models.Reading, error) {
	return d.decoder.Read(ctx)
}

// State reports the decoder's position in the current transaction.
func (d *DHT11Reader) State() (dht.State, int) {
	return d.decoder.State()
}

// Timing returns the effective transaction timing.
func (d *DHT11Reader) Timing() dht.Timing {
	return d.decoder.Timing()
}

// Close cleans up GPIO resources
func (d *DHT11Reader) Close() error {
	return d.line.Close()
}

// weather drifts a simulated room around 22°C and 45% so the sim driver has
// something to show.
func weather() func() [5]uint8 {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	temp, humidity := 22, 45
	step := func(v, lo, hi int) int {
		v += rng.Intn(3) - 1
		if v < lo {
			return lo
		}
		if v > hi {
			return hi
		}
		return v
	}
	return func() [5]uint8 {
		temp = step(temp, 18, 27)
		humidity = step(humidity, 35, 60)
		return sim.Frame(uint8(humidity), uint8(temp))
	}
}
