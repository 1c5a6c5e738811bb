package main

import (
	"fmt"

	"github.com/jonboulle/clockwork"

	"github.com/triviarena/buzzrelay/internal/buzzer"
	"github.com/triviarena/buzzrelay/internal/gateway"
)

type Services struct {
	Store   *buzzer.Store
	Gateway *gateway.Service
}

func setupServices(config *Config) (*Services, error) {
	// Store layer → gateway layer; the store is owned here so its
	// lifecycle is tied to the server, not to package globals.
	store := buzzer.NewStore(clockwork.NewRealClock())

	gw, err := gateway.NewService(config.gatewayConfig(), store)
	if err != nil {
		return nil, fmt.Errorf("failed to create gateway service: %w", err)
	}

	return &Services{
		Store:   store,
		Gateway: gw,
	}, nil
}
