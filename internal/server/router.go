package server

import (
	"net/http"

	"github.com/rs/cors"
)

// Routes collects the handlers served by NewRouter. Metrics may be nil.
type Routes struct {
	Page      *PageHandler
	API       *APIHandler
	WebSocket *Handler
	Metrics   http.Handler

	// AllowedOrigins applies to both CORS on the JSON API and the websocket
	// origin check.
	AllowedOrigins []string
}

// NewRouter wires every endpoint onto one mux. The JSON API is wrapped in
// CORS; the page and websocket are not.
func NewRouter(routes Routes) http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("/api/reading", routes.API.HandleReading)
	api.HandleFunc("/api/latest", routes.API.HandleLatest)
	api.HandleFunc("/api/status", routes.API.HandleStatus)
	api.HandleFunc("/api/transactions", routes.API.HandleTransactions)

	opts := cors.Options{
		AllowedOrigins: routes.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodHead},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         600,
	}
	if len(opts.AllowedOrigins) == 0 {
		// cors treats an empty list as "*"; keep the API same-origin instead
		opts.AllowOriginFunc = func(string) bool { return false }
	}
	c := cors.New(opts)

	mux := http.NewServeMux()
	mux.Handle("/", routes.Page)
	mux.Handle("/api/", c.Handler(api))
	mux.HandleFunc("/health", routes.API.HandleHealth)
	if routes.WebSocket != nil {
		mux.Handle("/ws", routes.WebSocket)
		routes.API.SetClients(routes.WebSocket)
	}
	if routes.Metrics != nil {
		mux.Handle("/metrics", routes.Metrics)
	}
	return mux
}
