package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/lexcodex/mcphub/config"
	"github.com/lexcodex/mcphub/llm"
	"github.com/lexcodex/mcphub/mcp"
	"github.com/lexcodex/mcphub/orchestrator"
	"github.com/lexcodex/mcphub/persistence"
)

// Runtime bundles the wired components for one CLI invocation.
type Runtime struct {
	Supervisor *mcp.Supervisor
	Registry   *orchestrator.Registry
	Session    *orchestrator.Session

	cfg    *config.Config
	store  *persistence.Store
	logger *zap.Logger
}

// bootRuntime starts the providers, registers their tools and wires a
// session around them. Providers that fail to start are skipped; boot
// fails only when none come up.
func bootRuntime(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Runtime, error) {
	registry := orchestrator.NewRegistry(logger)

	hooks := mcp.Hooks{
		OnReady: func(p *mcp.ProviderProcess) {
			registry.Register(p.Descriptor.ID, p.Client(), p.Tools())
		},
		OnCrash: func(p *mcp.ProviderProcess) {
			registry.Unregister(p.Descriptor.ID)
		},
	}
	supervisor := mcp.NewSupervisor(mcp.SupervisorConfig{
		HandshakeTimeout: cfg.Session.HandshakeTimeout.Std(),
		GraceTimeout:     cfg.Session.GraceTimeout.Std(),
	}, hooks, logger)

	descs := make([]mcp.ProviderDescriptor, 0, len(cfg.Providers))
	for _, p := range cfg.Providers {
		descs = append(descs, mcp.ProviderDescriptor{
			ID:      p.ID,
			Command: p.Command,
			Args:    p.Args,
			Env:     p.Env,
			Dir:     p.Dir,
		})
	}
	if err := supervisor.StartAll(ctx, descs); err != nil {
		return nil, err
	}

	var store *persistence.Store
	var sink orchestrator.TranscriptSink
	if cfg.TranscriptPath != "" {
		var err error
		store, err = persistence.Open(cfg.TranscriptPath)
		if err != nil {
			supervisor.Shutdown(cfg.Session.GraceTimeout.Std())
			return nil, fmt.Errorf("open transcript store: %w", err)
		}
		sink = store
	}

	planner := llm.NewClient(cfg.Model.Endpoint, cfg.Model.Name, logger)
	if cfg.Model.SystemPrompt != "" {
		planner.SystemPrompt = cfg.Model.SystemPrompt
	}
	router := orchestrator.NewRouter(registry, cfg.Session.CallTimeout.Std(), logger)
	session := orchestrator.NewSession(planner, router, registry, orchestrator.SessionConfig{
		MaxIterations: cfg.Session.MaxIterations,
		Sink:          sink,
	}, logger)

	return &Runtime{
		Supervisor: supervisor,
		Registry:   registry,
		Session:    session,
		cfg:        cfg,
		store:      store,
		logger:     logger,
	}, nil
}

// Close stops the providers and releases the transcript store.
func (rt *Runtime) Close() {
	rt.Supervisor.Shutdown(rt.cfg.Session.GraceTimeout.Std())
	if rt.store != nil {
		_ = rt.store.Close()
	}
}
