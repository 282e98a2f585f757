package main

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/dht11-httpd/internal/config"
	"github.com/afroash/dht11-httpd/internal/models"
	"github.com/afroash/dht11-httpd/internal/server"
)

func simConfig(t *testing.T, journal bool) *config.AppConfig {
	t.Helper()
	cfg := &config.AppConfig{}
	cfg.Sensor.ID = "test-sensor"
	cfg.Sensor.Driver = "sim"
	cfg.Journal.Enabled = journal
	cfg.Journal.DBPath = filepath.Join(t.TempDir(), "data", "journal.db")
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	return cfg
}

func TestNewService_ServesReadings(t *testing.T) {
	svc, err := newService(simConfig(t, false), zerolog.Nop())
	if err != nil {
		t.Fatalf("newService() error = %v", err)
	}
	defer svc.Close()

	srv := httptest.NewServer(svc.handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/reading")
	if err != nil {
		t.Fatalf("GET /api/reading error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body server.ReadingResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Outcome != models.OutcomeOK || body.Reading == nil {
		t.Fatalf("response = %+v", body)
	}
	if err := body.Reading.Plausible(); err != nil {
		t.Errorf("simulated reading out of range: %v", err)
	}

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics error = %v", err)
	}
	defer resp.Body.Close()
	scrape, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading metrics: %v", err)
	}
	if !strings.Contains(string(scrape), `dht_transactions_total{result="ok"} 1`) {
		t.Errorf("metrics missing recorded transaction:\n%s", scrape)
	}
}

func TestNewService_Journal(t *testing.T) {
	svc, err := newService(simConfig(t, true), zerolog.Nop())
	if err != nil {
		t.Fatalf("newService() error = %v", err)
	}
	defer svc.Close()

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		svc.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("GET / = %d, want 200", rec.Code)
		}
	}

	// flush the writer before querying
	svc.dbWriter.Stop()

	results, err := svc.journal.GetRecent("test-sensor", 10)
	if err != nil {
		t.Fatalf("GetRecent() error = %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("journal has %d transactions, want 3", len(results))
	}
	for _, r := range results {
		if r.Reading != nil {
			t.Error("journal must not store reading values")
		}
	}

	rec := httptest.NewRecorder()
	svc.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	var status server.StatusResponse
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status.Journal == nil {
		t.Fatal("status has no journal section")
	}
	if status.Journal.Outcomes == nil || status.Journal.Outcomes.Total != 3 || status.Journal.SuccessRate != 1 {
		t.Errorf("journal outcomes = %+v rate %v, want 3 successful transactions",
			status.Journal.Outcomes, status.Journal.SuccessRate)
	}
	if status.Journal.Storage == nil || status.Journal.Storage.TotalTransactions != 3 {
		t.Errorf("journal storage = %+v, want 3 rows", status.Journal.Storage)
	}
	if status.Journal.Writer == nil || status.Journal.Writer.TotalWritten != 3 {
		t.Errorf("journal writer = %+v, want 3 written", status.Journal.Writer)
	}
	if status.Journal.Retention == nil || status.Journal.Retention.TotalCleanups < 1 {
		t.Errorf("journal retention = %+v, want the startup pass", status.Journal.Retention)
	}

	rec = httptest.NewRecorder()
	svc.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/transactions?limit=2", nil))
	var history server.TransactionsResponse
	if err := json.NewDecoder(rec.Body).Decode(&history); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if history.Count != 2 || history.Transactions[0].Outcome != models.OutcomeOK {
		t.Errorf("transactions = %+v, want the 2 newest", history)
	}
}

func TestNewService_UnknownDriver(t *testing.T) {
	cfg := simConfig(t, false)
	cfg.Sensor.Driver = "bogus"

	if _, err := newService(cfg, zerolog.Nop()); err == nil {
		t.Fatal("newService() should fail for an unknown driver")
	}
}

func TestRun_ShutsDownOnCancel(t *testing.T) {
	cfg := simConfig(t, true)
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = freePort(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, cfg, zerolog.Nop()) }()

	url := "http://" + cfg.Addr() + "/health"
	deadline := time.Now().Add(3 * time.Second)
	for {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server never came up: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run() did not return after cancel")
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	return srv.Listener.Addr().(*net.TCPAddr).Port
}
