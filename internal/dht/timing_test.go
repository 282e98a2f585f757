package dht

import (
	"errors"
	"testing"
	"time"
)

func TestTiming_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Timing)
		wantErr bool
	}{
		{name: "defaults", modify: func(*Timing) {}},
		{name: "start low at minimum", modify: func(t *Timing) { t.StartLow = MinStartLow }},
		{name: "start low too short", modify: func(t *Timing) { t.StartLow = 17 * time.Millisecond }, wantErr: true},
		{name: "no release", modify: func(t *Timing) { t.StartRelease = 0 }, wantErr: true},
		{name: "sample on zero pulse", modify: func(t *Timing) { t.SampleDelay = ZeroPulse }, wantErr: true},
		{name: "sample on one pulse", modify: func(t *Timing) { t.SampleDelay = OnePulse }, wantErr: true},
		{name: "sample late but valid", modify: func(t *Timing) { t.SampleDelay = 50 * time.Microsecond }},
		{name: "response shorter than ack", modify: func(t *Timing) { t.ResponseTimeout = 80 * time.Microsecond }, wantErr: true},
		{name: "bit timeout shorter than one", modify: func(t *Timing) { t.BitTimeout = 60 * time.Microsecond }, wantErr: true},
		{name: "transaction shorter than start", modify: func(t *Timing) { t.TransactionTimeout = 10 * time.Millisecond }, wantErr: true},
		{name: "transaction with no room for the frame", modify: func(t *Timing) { t.TransactionTimeout = 22 * time.Millisecond }, wantErr: true},
		{name: "transaction just fits", modify: func(t *Timing) { t.TransactionTimeout = 25 * time.Millisecond }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			timing := DefaultTiming()
			tt.modify(&timing)
			err := timing.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidTiming) {
				t.Errorf("Validate() error = %v, want ErrInvalidTiming", err)
			}
		})
	}
}

func TestTiming_WithDefaults(t *testing.T) {
	got := Timing{SampleDelay: 40 * time.Microsecond, DisableGC: true}.WithDefaults()

	want := DefaultTiming()
	want.SampleDelay = 40 * time.Microsecond
	want.DisableGC = true
	if got != want {
		t.Errorf("WithDefaults() = %+v, want %+v", got, want)
	}
}

func TestMicros(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want int
	}{
		{0, 0},
		{time.Microsecond, 1},
		{1500 * time.Nanosecond, 2},
		{19 * time.Millisecond, 19000},
	}
	for _, tt := range tests {
		if got := micros(tt.in); got != tt.want {
			t.Errorf("micros(%s) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestTiming_MinBudget(t *testing.T) {
	got := DefaultTiming().MinBudget()
	want := 19*time.Millisecond + 30*time.Microsecond + FrameTime
	if got != want {
		t.Errorf("MinBudget() = %v, want %v", got, want)
	}
}
