package gateway

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/triviarena/buzzrelay/internal/buzzer"
)

// Service wires the connection registry, dispatcher and ingress surfaces
// around an injected session store.
type Service struct {
	store             *buzzer.Store
	connectionManager *ConnectionManager
	dispatcher        *Dispatcher
	wsHandler         *WebSocketHandler
	controlHandler    *ControlHandler
	controlConsumer   *ControlConsumer
}

// Config holds configuration for the gateway service.
type Config struct {
	ConnectionConfig ConnectionConfig
	NATSEnabled      bool
	JetStreamConfig  JetStreamConsumerConfig
}

// DefaultConfig returns default configuration for the gateway.
func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
		NATSEnabled:      false,
		JetStreamConfig:  DefaultJetStreamConsumerConfig(),
	}
}

// NewService creates a new gateway service around the given store.
func NewService(config Config, store *buzzer.Store) (*Service, error) {
	connectionManager := NewConnectionManager(config.ConnectionConfig)
	dispatcher := NewDispatcher(store, connectionManager)
	connectionManager.SetHandler(dispatcher)

	s := &Service{
		store:             store,
		connectionManager: connectionManager,
		dispatcher:        dispatcher,
		wsHandler:         NewWebSocketHandler(connectionManager, dispatcher),
		controlHandler:    NewControlHandler(dispatcher),
	}

	if config.NATSEnabled {
		consumer, err := NewControlConsumer(dispatcher, config.JetStreamConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create control consumer: %w", err)
		}
		s.controlConsumer = consumer
	}

	return s, nil
}

// Start begins the gateway service and blocks until ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	log.Info().Msg("starting buzzer gateway service")

	go s.connectionManager.Start(ctx)

	if s.controlConsumer != nil {
		go func() {
			if err := s.controlConsumer.Start(ctx); err != nil {
				log.Error().Err(err).Msg("control consumer failed")
			}
		}()
	}

	<-ctx.Done()

	log.Info().Msg("buzzer gateway service shutting down")
	return s.Stop()
}

// Stop gracefully shuts down the gateway service.
func (s *Service) Stop() error {
	if s.controlConsumer != nil {
		if err := s.controlConsumer.Stop(); err != nil {
			log.Error().Err(err).Msg("failed to stop control consumer")
		}
	}

	log.Info().Msg("buzzer gateway service stopped")
	return nil
}

// RegisterRoutes registers all gateway HTTP routes.
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
	s.controlHandler.RegisterRoutes(mux)
	log.Info().Msg("buzzer gateway routes registered")
}

// Stats returns process-level counters for monitoring.
func (s *Service) Stats() Stats {
	stats := s.connectionManager.GetStats()
	// Sessions exist in the store even with no connections attached.
	if n := s.store.Len(); n > stats.ActiveSessions {
		stats.ActiveSessions = n
	}
	return stats
}
