package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestNewSensorInfo(t *testing.T) {
	before := time.Now()
	info := NewSensorInfo("greenhouse-01", "Greenhouse", "DHT11", "v0.3.0")

	want := &SensorInfo{
		ID:         "greenhouse-01",
		Location:   "Greenhouse",
		SensorType: "DHT11",
		Version:    "v0.3.0",
		StartTime:  info.StartTime,
	}
	if diff := cmp.Diff(want, info); diff != "" {
		t.Errorf("NewSensorInfo() mismatch (-want +got):\n%s", diff)
	}
	if info.StartTime.Before(before) {
		t.Errorf("StartTime %v is before the call", info.StartTime)
	}
}

func TestSensorInfo_Uptime(t *testing.T) {
	info := &SensorInfo{StartTime: time.Now().Add(-90 * time.Minute)}

	if uptime := info.Uptime(); uptime < 89*time.Minute || uptime > 91*time.Minute {
		t.Errorf("Uptime = %v, expected about 90m", uptime)
	}
}

func TestSensorInfo_WithLine(t *testing.T) {
	tests := []struct {
		driver string
		pin    int
	}{
		{"periph", 4},
		{"cdev", 17},
		{"sim", 0},
	}
	for _, tt := range tests {
		t.Run(tt.driver, func(t *testing.T) {
			info := NewSensorInfo("shed-01", "Shed", "DHT11", "v0.3.0")
			if got := info.WithLine(tt.driver, tt.pin); got != info {
				t.Error("WithLine should return the receiver")
			}
			if info.Driver != tt.driver || info.Pin != tt.pin {
				t.Errorf("WithLine() = %s/%d, want %s/%d", info.Driver, info.Pin, tt.driver, tt.pin)
			}
		})
	}
}

func TestSensorInfo_JSONFields(t *testing.T) {
	info := NewSensorInfo("shed-01", "Shed", "DHT11", "v0.3.0").WithLine("rpio", 4)

	data, err := json.Marshal(info)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	for _, key := range []string{"id", "location", "sensor_type", "driver", "pin", "version", "start_time"} {
		if _, ok := fields[key]; !ok {
			t.Errorf("JSON is missing %q: %s", key, data)
		}
	}
	if fields["driver"] != "rpio" || fields["pin"] != float64(4) {
		t.Errorf("line fields = %v/%v", fields["driver"], fields["pin"])
	}
}
