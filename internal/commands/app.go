package commands

import (
	"context"
	"log"

	"bankbridge/internal/domain/catalog"
	"bankbridge/internal/domain/connection"
	"bankbridge/internal/domain/credential"
	"bankbridge/internal/domain/session"
	"bankbridge/internal/infrastructure/aggregator"
	"bankbridge/internal/shared/config"
	"bankbridge/internal/shared/telemetry"
)

// app wires the connection core for a single CLI invocation.
type app struct {
	cfg          *config.Config
	session      *session.Manager
	catalog      *catalog.Catalog
	registry     *connection.Registry
	orchestrator *connection.Orchestrator

	shutdownTelemetry func(context.Context) error
}

func newApp(ctx context.Context) (*app, error) {
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg}

	shutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:      cfg.Telemetry.Enabled,
		ServiceName:  cfg.Telemetry.ServiceName,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		MetricsPort:  cfg.Telemetry.MetricsPort,
	})
	if err != nil {
		return nil, err
	}
	a.shutdownTelemetry = shutdown

	client := aggregator.NewClient(
		cfg.Aggregator.BaseURL,
		cfg.Aggregator.ClientID,
		cfg.Aggregator.ClientSecret,
		cfg.Aggregator.AuthTimeout,
	)

	a.session = session.NewManager(client)
	a.catalog = catalog.New(client, a.session)
	a.registry = connection.NewRegistry(client, a.session)
	a.orchestrator = connection.NewOrchestrator(client, a.session, a.catalog, credential.NewVault(), a.registry, connection.Config{
		PollInterval: cfg.Connection.PollInterval,
		PollBudget:   cfg.Connection.PollBudget,
	})

	return a, nil
}

func (a *app) close(ctx context.Context) {
	if a.shutdownTelemetry != nil {
		if err := a.shutdownTelemetry(ctx); err != nil {
			log.Printf("Telemetry shutdown: %v", err)
		}
	}
}
