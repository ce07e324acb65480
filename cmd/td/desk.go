package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/spf13/viper"

	"ticketdesk/internal/actions"
	"ticketdesk/internal/agents"
	"ticketdesk/internal/config"
	"ticketdesk/internal/gateway"
	"ticketdesk/internal/journal"
	"ticketdesk/internal/llm"
	"ticketdesk/internal/logging"
	"ticketdesk/internal/refresh"
	"ticketdesk/internal/retry"
	"ticketdesk/internal/store"
)

// desk is every long-lived component of one process, built once from config.
type desk struct {
	Config   *config.Config
	Store    *store.Store
	Gateway  *gateway.Client
	Refresh  *refresh.Orchestrator
	Actions  *actions.Controller
	Agents   *agents.Service
	Registry *agents.Registry
	Journal  *journal.Journal
	Logger   *slog.Logger
}

func (d *desk) Close() error {
	if d.Journal != nil {
		return d.Journal.Close()
	}
	return nil
}

// loadConfig reads the config file and applies flag and env overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOptional(viper.GetString("config"))
	if err != nil {
		return nil, err
	}
	if v := viper.GetString("gateway"); v != "" {
		cfg.Gateway.BaseURL = v
	}
	if v := viper.GetString("journal"); v != "" {
		cfg.Journal.Path = v
	}
	if v := viper.GetString("drafts-mode"); v != "" {
		cfg.Drafts.Mode = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newDesk(ctx context.Context, cfg *config.Config) (*desk, error) {
	logger := slog.Default()
	registry, err := cfg.Registry()
	if err != nil {
		return nil, err
	}

	apiKey := viper.GetString("llm-api-key")
	completer := llm.New(apiKey, llm.WithBaseURL(cfg.LLM.BaseURL), llm.WithModel(cfg.LLM.Model))
	logger.Debug("completion provider", "base_url", cfg.LLM.BaseURL, "model", completer.Model(), "api_key", logging.MaskSensitive(apiKey))
	svc := &agents.Service{
		Registry:  registry,
		Completer: completer,
		Knowledge: cfg.KnowledgeBase,
		Logger:    logger.With("component", "agents"),
	}

	gw := gateway.New(cfg.Gateway.BaseURL)
	if cfg.Gateway.Timeout > 0 {
		gw.HTTPClient = &http.Client{Timeout: cfg.Gateway.Timeout}
	}
	gw.Logger = logger.With("component", "gateway")

	d := &desk{
		Config:   cfg,
		Store:    store.New(),
		Gateway:  gw,
		Agents:   svc,
		Registry: registry,
		Logger:   logger,
	}
	var recorder refresh.Recorder
	if cfg.Journal.Path != "" {
		j, err := journal.Open(ctx, cfg.Journal.Path)
		if err != nil {
			return nil, err
		}
		d.Journal = j
		recorder = j
	}

	d.Refresh = refresh.New(refresh.Config{
		Gateway:  gw,
		Store:    d.Store,
		Schedule: cfg.Refresh.Schedule,
		Bootstrap: retry.Policy{
			MaxAttempts: cfg.Refresh.BootstrapAttempts,
			Delay:       cfg.Refresh.BootstrapDelay,
		},
		Journal: recorder,
		Logger:  logger.With("component", "refresh"),
	})

	var drafter actions.Drafter = actions.GatewayDrafter{Gateway: gw}
	if cfg.Drafts.Mode == config.DraftsLocal {
		drafter = actions.LocalDrafter{Agents: svc}
	}
	d.Actions = &actions.Controller{
		Store:   d.Store,
		Drafter: drafter,
		Sender:  gw,
		Banner:  d.Refresh,
		Journal: recorder,
		Author:  cfg.Drafts.Author,
		Logger:  logger.With("component", "actions"),
	}
	return d, nil
}

func withDesk(ctx context.Context, fn func(context.Context, *desk) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	d, err := newDesk(ctx, cfg)
	if err != nil {
		return err
	}
	defer d.Close()
	return fn(ctx, d)
}

// withLoadedDesk runs one refresh cycle before fn so one-shot commands see
// the backend's current tickets.
func withLoadedDesk(ctx context.Context, fn func(context.Context, *desk) error) error {
	return withDesk(ctx, func(ctx context.Context, d *desk) error {
		if err := d.Refresh.Refresh(ctx); err != nil {
			return fmt.Errorf("load tickets: %w", err)
		}
		return fn(ctx, d)
	})
}
