package server

import (
	"context"
	"html/template"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/dht11-httpd/internal/models"
)

var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.SensorID}} - Temperature and Humidity</title>
<style>
html {font-family: sans-serif; text-align: center;}
.error {color: #b00020;}
</style>
</head>
<body>
<div>
<h1>{{.Location}}</h1>
</div>
<div>
<h3>Temperature and Humidity Monitor</h3>
{{- if .SensorError}}
<p class="error">sensor error</p>
{{- end}}
{{- with .Reading}}
<p>DHT11 Temperature Reading: {{.TemperatureInteger}}&deg;C</p>
<p>DHT11 Humidity Reading: {{.HumidityInteger}}%</p>
{{- end}}
</div>
</body>
</html>
`))

type pageData struct {
	SensorID    string
	Location    string
	SensorError bool
	Reading     *models.Reading
}

// PageHandler renders a fresh reading as HTML on every GET
type PageHandler struct {
	reader  SensorReader
	timeout time.Duration
	logger  zerolog.Logger
}

// NewPageHandler creates a page handler. timeout bounds each transaction.
func NewPageHandler(reader SensorReader, timeout time.Duration, logger zerolog.Logger) *PageHandler {
	return &PageHandler{
		reader:  reader,
		timeout: timeout,
		logger:  logger,
	}
}

func (p *PageHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), p.timeout)
	defer cancel()

	info := p.reader.Info()
	data := pageData{
		SensorID: info.ID,
		Location: info.Location,
	}
	status := http.StatusOK

	result, err := p.reader.ReadOnce(ctx)
	switch {
	case err != nil:
		data.SensorError = true
		status = http.StatusServiceUnavailable
	case result.Outcome == models.OutcomeChecksumMismatch:
		// numbers are still shown, flagged as suspect
		data.SensorError = true
		data.Reading = result.Reading
	default:
		data.Reading = result.Reading
	}
	if data.Location == "" {
		data.Location = data.SensorID
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := pageTemplate.Execute(w, data); err != nil {
		p.logger.Error().Err(err).Msg("failed to render page")
	}
}
