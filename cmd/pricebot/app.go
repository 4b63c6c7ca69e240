package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"pricebot/internal/agent"
	"pricebot/internal/config"
	"pricebot/internal/delivery"
	"pricebot/internal/logging"
	"pricebot/internal/memory"
	"pricebot/internal/provider"
	"pricebot/internal/tool"
)

// app holds the wired tool layer for one command run.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	turn    *agent.Turn
	closers []io.Closer
}

func newApp(cfg *config.Config) (*app, error) {
	logger, logCloser, err := logging.New(logging.Options{
		Level:  cfg.General.LogLevel,
		Format: cfg.General.LogFormat,
		File:   cfg.General.LogFile,
	})
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, closers: []io.Closer{logCloser}}

	if err := a.wire(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire() error {
	cfg := a.cfg

	store, err := memory.NewSQLiteStore(cfg.Storage.DBPath, a.logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	a.closers = append(a.closers, store)

	indicators, err := provider.NewIndicators(cfg.Indicators, a.logger)
	if err != nil {
		return fmt.Errorf("indicators: %w", err)
	}

	notifier, err := delivery.New(cfg.Delivery, a.logger)
	if err != nil {
		return fmt.Errorf("delivery: %w", err)
	}
	a.closers = append(a.closers, notifier)

	loc, err := cfg.Catalog.Location()
	if err != nil {
		return fmt.Errorf("catalog timezone: %w", err)
	}
	catalog, err := tool.NewCatalog()
	if err != nil {
		return fmt.Errorf("catalog: %w", err)
	}
	handlers := tool.Handlers(tool.HandlerConfig{
		Files:          store,
		Preferences:    store,
		Indicators:     indicators,
		BotDescription: cfg.Catalog.BotDescription,
		Location:       loc,
	})
	registry, err := tool.NewRegistry(catalog, handlers, a.logger)
	if err != nil {
		return err
	}

	a.turn = agent.NewTurn(agent.TurnConfig{
		Resolver: tool.NewResolver(tool.ResolverConfig{
			Registry:    registry,
			MaxParallel: cfg.General.MaxParallelTools,
			Logger:      a.logger,
		}),
		PostProcessor: agent.NewPostProcessor(agent.PostProcessorConfig{
			Notifier:       notifier,
			SettleInterval: cfg.Delivery.SettleInterval(),
			SourceLabel:    cfg.Delivery.SourceLabel,
			Logger:         a.logger,
		}),
		Logger: a.logger,
	})
	a.logger.Debug("tool layer ready", "capabilities", registry.Names(), "delivery", cfg.Delivery.Driver)
	return nil
}

// assistant builds the chat loop, or nil when no model is configured.
func (a *app) assistant() *provider.Assistant {
	if a.cfg.LLM.APIKey == "" && a.cfg.LLM.APIBase == "" {
		return nil
	}
	return provider.NewAssistant(provider.AssistantConfig{
		APIKey:       a.cfg.LLM.APIKey,
		APIBase:      a.cfg.LLM.APIBase,
		Model:        a.cfg.LLM.Model,
		SystemPrompt: a.cfg.LLM.SystemPrompt,
		MaxRounds:    a.cfg.LLM.MaxRounds,
		Turn:         a.turn,
		Logger:       a.logger,
	})
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
