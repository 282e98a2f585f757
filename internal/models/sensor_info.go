package models

import "time"

// SensorInfo contains metadata about the sensor this process drives
type SensorInfo struct {
	ID         string    `json:"id"`
	Location   string    `json:"location"`
	SensorType string    `json:"sensor_type"`
	Driver     string    `json:"driver"`
	Pin        int       `json:"pin"`
	Version    string    `json:"version"`
	StartTime  time.Time `json:"start_time"`
}

// Uptime returns the duration since the process started
func (s *SensorInfo) Uptime() time.Duration {
	return time.Since(s.StartTime)
}

// NewSensorInfo creates a new SensorInfo with the current time as start time
func NewSensorInfo(id, location, sensorType, version string) *SensorInfo {
	return &SensorInfo{
		ID:         id,
		Location:   location,
		SensorType: sensorType,
		Version:    version,
		StartTime:  time.Now(),
	}
}

// WithLine records which line the sensor hangs off.
func (s *SensorInfo) WithLine(driver string, pin int) *SensorInfo {
	s.Driver = driver
	s.Pin = pin
	return s
}
