package models

import (
	"fmt"
	"time"
)

// Reading is one frame received from the DHT11. The byte fields are exactly
// as transmitted. The sensor always sends zero fractions, but they are part of
// the checksum so they are kept.
type Reading struct {
	SensorID  string        `json:"sensor_id,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration_ns,omitempty"`

	HumidityInteger     uint8 `json:"humidity"`
	HumidityFraction    uint8 `json:"humidity_fraction"`
	TemperatureInteger  uint8 `json:"temperature"`
	TemperatureFraction uint8 `json:"temperature_fraction"`
	Checksum            uint8 `json:"checksum"`

	// Valid reports whether Checksum matched the sum of the data bytes.
	Valid bool `json:"valid"`
}

// Frame returns the five bytes as they appeared on the wire.
func (r Reading) Frame() [5]uint8 {
	return [5]uint8{
		r.HumidityInteger,
		r.HumidityFraction,
		r.TemperatureInteger,
		r.TemperatureFraction,
		r.Checksum,
	}
}

// Plausible checks the values against the DHT11's rated range
// (0-50°C, 20-90% RH). A checksum-valid frame outside it usually means a
// wiring or supply problem rather than a real reading.
func (r Reading) Plausible() error {
	const (
		maxTemp     = 50
		minHumidity = 20
		maxHumidity = 90
	)
	if r.TemperatureInteger > maxTemp {
		return fmt.Errorf("temperature %d°C outside 0..%d°C", r.TemperatureInteger, maxTemp)
	}
	if r.HumidityInteger < minHumidity || r.HumidityInteger > maxHumidity {
		return fmt.Errorf("humidity %d%% outside %d..%d%%", r.HumidityInteger, minHumidity, maxHumidity)
	}
	return nil
}

// get the reading as a string
func (r Reading) String() string {
	status := "ok"
	if !r.Valid {
		status = "checksum mismatch"
	}
	return fmt.Sprintf("SensorID: %s, Timestamp: %s, Humidity: %d%%, Temperature: %d°C, Checksum: 0x%02x (%s)",
		r.SensorID,
		r.Timestamp.Format(time.RFC3339),
		r.HumidityInteger,
		r.TemperatureInteger,
		r.Checksum,
		status)
}
