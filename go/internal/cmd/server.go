package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/mcdev12/codebid/go/internal/auction/api"
	"github.com/mcdev12/codebid/go/internal/httpx"
)

const serviceVersion = "1.0.0"

func setupServer(config *Config, services *Services) *http.Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(api.RequestLogger)

	// Setup CORS middleware
	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodPatch,
			http.MethodDelete,
		},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})

	// Register routes (REST and WebSocket)
	services.API.RegisterRoutes(r)
	services.Gateway.RegisterRoutes(r)

	setupHealthCheck(r, services)
	setupInfo(r, config, services)

	// Wrap with CORS, then allow HTTP/2 without TLS
	handler := c.Handler(r)
	return &http.Server{
		Addr:              fmt.Sprintf(":%s", config.Server.Port),
		Handler:           h2c.NewHandler(handler, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

// healthStatus is the /health body
type healthStatus struct {
	Store       string `json:"store"`
	Relay       string `json:"relay"`
	Connections int    `json:"connections"`
}

func setupHealthCheck(r chi.Router, services *Services) {
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := healthStatus{Store: "ok", Relay: "disabled"}
		healthy := true
		if err := services.Store.Ping(ctx); err != nil {
			log.Error().Err(err).Msg("store health check failed")
			status.Store = "unreachable"
			healthy = false
		}
		if services.Relay != nil {
			status.Relay = "connected"
			if !services.Relay.Connected() {
				// Events still reach sockets; only downstream consumers lag.
				status.Relay = "reconnecting"
			}
		}
		if n, ok := services.Gateway.GetStats()["total_connections"].(int); ok {
			status.Connections = n
		}

		if !healthy {
			httpx.JSON(w, http.StatusServiceUnavailable, httpx.Response{Success: false, Message: "unhealthy", Data: status})
			return
		}
		httpx.OK(w, "OK", status)
	})
}

func setupInfo(r chi.Router, config *Config, services *Services) {
	r.Get("/info", func(w http.ResponseWriter, r *http.Request) {
		stats := services.Gateway.GetStats()
		httpx.OK(w, "", map[string]any{
			"service":      "codebid",
			"version":      serviceVersion,
			"store":        config.Store.Driver,
			"relay":        services.Relay != nil,
			"connections":  stats["total_connections"],
			"teams_online": stats["team_connections"],
		})
	})
}
