package main

import (
	"net/http"
	"time"

	"github.com/mcdev12/planningpoker/go/internal/config"
	"github.com/mcdev12/planningpoker/go/internal/rooms"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

func setupServer(cfg *config.Config, services *Services) *http.Server {
	mux := http.NewServeMux()

	// Setup CORS middleware
	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
		},
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedHeaders: []string{"*"},
	})

	// Register services
	registerServices(mux, services)

	// Add health check and metrics endpoints
	setupHealthCheck(mux)
	mux.Handle("/metrics", promhttp.Handler())

	// Wrap with CORS
	handler := c.Handler(mux)

	// Setup HTTP/2 server
	return &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           h2c.NewHandler(handler, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

func registerServices(mux *http.ServeMux, services *Services) {
	// Register room service
	roomServicePath, roomServiceHandler := rooms.NewRoomServiceHandler(services.Rooms)
	mux.Handle(roomServicePath, roomServiceHandler)

	// Register websocket routes
	services.WebSocket.RegisterRoutes(mux)
}

func setupHealthCheck(mux *http.ServeMux) {
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			log.Error().Err(err).Msg("failed to write health check response")
		}
	})
}
