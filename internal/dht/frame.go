package dht

import "github.com/afroash/dht11-httpd/internal/models"

// FrameSize is the number of bytes in one transmission.
const FrameSize = 5

// Field order on the wire.
const (
	HumidityInteger = iota
	HumidityFraction
	TemperatureInteger
	TemperatureFraction
	ChecksumByte
)

// Checksum is the low byte of the sum of the four data bytes.
func Checksum(frame [FrameSize]uint8) uint8 {
	return frame[HumidityInteger] + frame[HumidityFraction] +
		frame[TemperatureInteger] + frame[TemperatureFraction]
}

// Decode assembles a received frame. It never fails: a checksum mismatch is
// reported through Reading.Valid so the caller decides what to do with it.
func Decode(frame [FrameSize]uint8) models.Reading {
	return models.Reading{
		HumidityInteger:     frame[HumidityInteger],
		HumidityFraction:    frame[HumidityFraction],
		TemperatureInteger:  frame[TemperatureInteger],
		TemperatureFraction: frame[TemperatureFraction],
		Checksum:            frame[ChecksumByte],
		Valid:               frame[ChecksumByte] == Checksum(frame),
	}
}
