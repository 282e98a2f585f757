package server

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/dht11-httpd/internal/dht"
	"github.com/afroash/dht11-httpd/internal/gpio/sim"
	"github.com/afroash/dht11-httpd/internal/models"
	"github.com/afroash/dht11-httpd/internal/sensor"
)

const testTimeout = 100 * time.Millisecond

// newSimReader wires a simulated sensor through the real reader, recording
// into a fresh LatestStore.
func newSimReader(t *testing.T, frame [5]uint8, opts ...sim.Option) (*sensor.Reader, *LatestStore) {
	t.Helper()

	s := sim.New(frame, opts...)
	dhtReader, err := sensor.NewDHT11Reader(s, s, dht.DefaultTiming())
	if err != nil {
		t.Fatalf("NewDHT11Reader() error = %v", err)
	}
	store := NewLatestStore()
	info := models.NewSensorInfo("sensor-01", "Greenhouse", "DHT11", "test")
	reader := sensor.NewReader(dhtReader, info, zerolog.Nop(), sensor.WithRecorders(store))
	return reader, store
}

// badChecksum is 50% 21°C with the checksum off by one.
var badChecksum = [5]uint8{0x32, 0x00, 0x15, 0x00, 0x48}
