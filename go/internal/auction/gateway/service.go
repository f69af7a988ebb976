package gateway

import (
	"context"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/codebid/go/internal/auth"
)

// Service bundles the connection registry and its HTTP handler
type Service struct {
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
}

// Config holds configuration for the gateway service
type Config struct {
	ConnectionConfig ConnectionConfig
}

// DefaultConfig returns default configuration for the gateway
func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
	}
}

// NewService creates a new gateway service
func NewService(config Config, sessions TeamSessions, verifier auth.Verifier) *Service {
	connectionManager := NewConnectionManager(config.ConnectionConfig, sessions)
	return &Service{
		connectionManager: connectionManager,
		wsHandler:         NewWebSocketHandler(connectionManager, verifier),
	}
}

// Start runs the broadcast loop until ctx is cancelled
func (s *Service) Start(ctx context.Context) {
	log.Info().Msg("starting gateway service")
	s.connectionManager.Start(ctx)
	log.Info().Msg("gateway service stopped")
}

// Connections exposes the registry for publishing and session control
func (s *Service) Connections() *ConnectionManager {
	return s.connectionManager
}

// RegisterRoutes registers the WebSocket HTTP routes
func (s *Service) RegisterRoutes(r chi.Router) {
	s.wsHandler.RegisterRoutes(r)
	log.Info().Msg("gateway routes registered")
}

// GetStats returns statistics about the gateway service
func (s *Service) GetStats() map[string]interface{} {
	stats := s.connectionManager.GetConnectionStats()
	stats["service"] = "auction_gateway"
	stats["status"] = "running"
	return stats
}
