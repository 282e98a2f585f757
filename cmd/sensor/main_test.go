package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/afroash/dht11-httpd/internal/models"
)

func TestApp_SimRead(t *testing.T) {
	var out bytes.Buffer
	err := newApp(&out).Run([]string{"dht11-read", "--driver", "sim"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !strings.Contains(out.String(), "(ok)") {
		t.Errorf("output = %q, want a valid reading", out.String())
	}
}

func TestApp_SimReadJSON(t *testing.T) {
	var out bytes.Buffer
	err := newApp(&out).Run([]string{"dht11-read", "--driver", "sim", "--pin", "17", "--json"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	var result models.Result
	if err := json.Unmarshal(out.Bytes(), &result); err != nil {
		t.Fatalf("output is not a result: %v\n%s", err, out.String())
	}
	if result.Outcome != models.OutcomeOK {
		t.Errorf("outcome = %v, want ok", result.Outcome)
	}
	if result.Reading == nil || !result.Reading.Valid {
		t.Errorf("reading = %+v", result.Reading)
	}
}

func TestApp_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"unknown driver", []string{"dht11-read", "--driver", "bogus"}},
		{"negative pin", []string{"dht11-read", "--driver", "sim", "--pin", "-1"}},
		{"missing config", []string{"dht11-read", "--config", "/nonexistent/sensor.yaml"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			if err := newApp(&out).Run(tt.args); err == nil {
				t.Errorf("Run(%v) should fail", tt.args)
			}
		})
	}
}

func TestPrintResult_Failure(t *testing.T) {
	var out bytes.Buffer
	result := models.Result{Outcome: models.OutcomeNoResponse, Error: "dht: no response"}
	if err := printResult(&out, result, false); err != nil {
		t.Fatalf("printResult() error = %v", err)
	}
	if got := out.String(); got != "sensor error: no_response (dht: no response)\n" {
		t.Errorf("output = %q", got)
	}
}
