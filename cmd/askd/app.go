package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/askd/internal/config"
	"github.com/fyrsmithlabs/askd/internal/conversation"
	"github.com/fyrsmithlabs/askd/internal/embeddings"
	"github.com/fyrsmithlabs/askd/internal/escalation"
	"github.com/fyrsmithlabs/askd/internal/executor"
	askhttp "github.com/fyrsmithlabs/askd/internal/http"
	"github.com/fyrsmithlabs/askd/internal/logging"
	"github.com/fyrsmithlabs/askd/internal/memory"
	"github.com/fyrsmithlabs/askd/internal/orchestrator"
	"github.com/fyrsmithlabs/askd/internal/planner"
	"github.com/fyrsmithlabs/askd/internal/prompts"
	"github.com/fyrsmithlabs/askd/internal/react"
	"github.com/fyrsmithlabs/askd/internal/reasoning"
	"github.com/fyrsmithlabs/askd/internal/redact"
	"github.com/fyrsmithlabs/askd/internal/respond"
	"github.com/fyrsmithlabs/askd/internal/telemetry"
	"github.com/fyrsmithlabs/askd/internal/tokens"
	"github.com/fyrsmithlabs/askd/internal/tools"
	"github.com/fyrsmithlabs/askd/internal/tools/atlassian"
	"github.com/fyrsmithlabs/askd/internal/tools/vector"
	"github.com/fyrsmithlabs/askd/internal/tools/web"
	"github.com/fyrsmithlabs/askd/internal/vectorstore"
)

// app holds every long-lived component of a running askd.
type app struct {
	cfg          *config.Config
	tel          *telemetry.Telemetry
	log          *logging.Logger
	logger       *zap.Logger
	store        conversation.Store
	prompts      *prompts.Store
	orchestrator *orchestrator.Orchestrator
	vectors      vectorstore.Store
	embedder     embeddings.Provider
	checks       map[string]askhttp.Checker

	closers []func() error
}

// close releases resources in reverse order of acquisition.
func (a *app) close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	if a.tel != nil {
		if err := a.tel.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.log != nil {
		_ = a.log.Sync()
	}
	return errors.Join(errs...)
}

func (a *app) onClose(fn func() error) { a.closers = append(a.closers, fn) }

// newBaseApp sets up telemetry and logging only. cfg must already be validated.
func newBaseApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg, checks: make(map[string]askhttp.Checker)}

	var err error
	a.tel, err = telemetry.New(ctx, &cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("initializing telemetry: %w", err)
	}
	a.checks["telemetry"] = a.tel.Check
	a.log, err = logging.NewLogger(&cfg.Logging, a.tel.LoggerProvider())
	if err != nil {
		_ = a.close(context.Background())
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	a.logger = a.log.Underlying()
	return a, nil
}

// newApp wires the full turn pipeline.
func newApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	a, err := newBaseApp(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = a.close(context.Background())
		}
	}()

	if err := a.initStorage(); err != nil {
		return nil, err
	}
	if err := a.initPrompts(ctx); err != nil {
		return nil, err
	}

	svc, plannerSvc, err := a.initReasoning(ctx)
	if err != nil {
		return nil, err
	}

	var redactor *redact.Redactor
	if cfg.Redaction.Enabled {
		redactor, err = a.initRedactor()
		if err != nil {
			return nil, err
		}
	}

	registry, err := a.initTools(ctx)
	if err != nil {
		return nil, err
	}

	adapterOpts := []tools.AdapterOption{tools.WithCallTimeout(cfg.Tools.CallTimeout)}
	if redactor != nil {
		adapterOpts = append(adapterOpts, tools.WithRedactor(redactor))
	}
	adapter := tools.NewAdapter(registry, a.tel, a.logger, adapterOpts...)

	engine := react.NewEngine(adapter, svc, react.Config{MaxAttempts: cfg.React.MaxAttempts},
		a.tel, a.logger, react.WithNotifier(a.initEscalation()))
	exec := executor.New(engine, registry, executor.Config{MaxParallel: cfg.Executor.MaxParallel}, a.tel, a.logger)
	plan := planner.New(plannerSvc, registry, a.prompts.Planner, a.tel, a.logger)

	ledger := tokens.NewLedger(tokens.Config{Model: cfg.Memory.Model, Encoding: cfg.Memory.Encoding}, a.logger)
	mem := memory.NewManager(ledger, memory.Config{
		Budget:         cfg.Memory.BudgetTokens,
		PreserveRecent: cfg.Memory.PreserveRecent,
		MinMessages:    cfg.Memory.MinMessages,
	}, a.store, memory.NewReasoningSummarizer(svc, a.prompts.Summary), a.logger)

	var orchOpts []orchestrator.Option
	if redactor != nil {
		orchOpts = append(orchOpts, orchestrator.WithRedactor(redactor))
	}
	a.orchestrator = orchestrator.New(orchestrator.Deps{
		History:   a.store,
		Memory:    mem,
		Planner:   plan,
		Executor:  exec,
		Generator: respond.NewReasoningGenerator(svc, a.prompts.Response, a.logger),
	}, orchestrator.Config{
		TurnTimeout:      cfg.Turn.Timeout,
		HistoryLimit:     cfg.Memory.HistoryLimit,
		ProgressInterval: cfg.Progress.Debounce,
	}, a.tel, a.logger, orchOpts...)

	a.logger.Info("askd ready",
		zap.String("reasoning", svc.Provider()),
		zap.Strings("tools", toolNames(registry.IDs())),
		zap.String("storage", cfg.Storage.Backend),
		zap.Bool("redaction", redactor != nil))
	return a, nil
}

func (a *app) initStorage() error {
	switch strings.ToLower(a.cfg.Storage.Backend) {
	case "sqlite":
		s, err := conversation.OpenSQLite(a.cfg.Storage.Path, a.cfg.Storage.HistoryWindow)
		if err != nil {
			return fmt.Errorf("opening sqlite store: %w", err)
		}
		a.store = s
		a.checks["storage"] = s.Ping
		a.onClose(s.Close)
	case "memory", "":
		s := conversation.NewMemoryStore(
			conversation.WithWindow(a.cfg.Storage.HistoryWindow),
			conversation.WithTTL(a.cfg.Storage.TTL),
		)
		a.store = s
		a.onClose(s.Close)
	default:
		return fmt.Errorf("unknown storage backend %q", a.cfg.Storage.Backend)
	}
	return nil
}

func (a *app) initPrompts(ctx context.Context) error {
	store, err := prompts.Load(a.cfg.Prompts.Path, a.logger)
	if err != nil {
		return fmt.Errorf("loading prompts: %w", err)
	}
	a.prompts = store
	a.onClose(store.Close)
	if a.cfg.Prompts.Watch && a.cfg.Prompts.Path != "" {
		if err := store.Watch(ctx); err != nil {
			return fmt.Errorf("watching prompts: %w", err)
		}
	}
	return nil
}

// initReasoning returns the main service and the one used for planning,
// which differs only when a separate planner model is configured.
func (a *app) initReasoning(ctx context.Context) (*reasoning.Service, *reasoning.Service, error) {
	rc := a.cfg.Reasoning
	svcCfg := reasoning.Config{RequestsPerSecond: rc.RequestsPerSecond, CallTimeout: rc.CallTimeout}

	build := func(model string) (*reasoning.Service, error) {
		provider, err := reasoning.NewProvider(ctx, reasoning.ProviderConfig{
			Provider: rc.Provider,
			Model:    model,
			APIKey:   rc.APIKey.Value(),
			BaseURL:  rc.BaseURL,
		})
		if err != nil {
			return nil, fmt.Errorf("creating reasoning provider: %w", err)
		}
		a.logger.Info("reasoning provider ready",
			zap.String("provider", rc.Provider),
			zap.String("model", model),
			logging.Redacted("api_key", rc.APIKey.Value()))
		return reasoning.NewService(provider, svcCfg, a.tel, a.logger,
			reasoning.WithDiagnosePrompt(a.prompts.Diagnose)), nil
	}

	svc, err := build(rc.Model)
	if err != nil {
		return nil, nil, err
	}
	if rc.PlannerModel == "" || rc.PlannerModel == rc.Model {
		return svc, svc, nil
	}
	plannerSvc, err := build(rc.PlannerModel)
	if err != nil {
		return nil, nil, err
	}
	return svc, plannerSvc, nil
}

func (a *app) initRedactor() (*redact.Redactor, error) {
	var allow *redact.Allowlist
	if path := a.cfg.Redaction.Allowlist; path != "" {
		var err error
		if allow, err = redact.LoadAllowlist(path); err != nil {
			return nil, fmt.Errorf("loading redaction allowlist: %w", err)
		}
	}
	r, err := redact.New(allow, a.logger)
	if err != nil {
		return nil, fmt.Errorf("creating redactor: %w", err)
	}
	return r, nil
}

// initEscalation publishes on NATS when configured and always logs.
func (a *app) initEscalation() escalation.Notifier {
	logNotifier := escalation.NewLogNotifier(a.logger)
	ec := a.cfg.Escalation
	if ec.NATSURL == "" {
		return logNotifier
	}
	n, err := escalation.Connect(ec.NATSURL, ec.Subject, a.logger)
	if err != nil {
		a.logger.Warn("escalation channel unavailable, logging only", zap.Error(err))
		return logNotifier
	}
	a.checks["escalation"] = n.Healthy
	a.onClose(n.Close)
	return escalation.Multi(n, logNotifier)
}

func (a *app) initTools(ctx context.Context) (*tools.Registry, error) {
	tc := a.cfg.Tools
	registry, err := tools.NewRegistry()
	if err != nil {
		return nil, err
	}

	if tc.Vector.Enabled {
		store, err := a.openVectorStore(ctx)
		if err != nil {
			return nil, err
		}
		if err := registry.Register(vector.New(store, tc.Vector.TopK, a.logger)); err != nil {
			return nil, err
		}
	}

	if tc.Web.Enabled {
		b, err := web.New(web.Config{
			BaseURL:           tc.Web.BaseURL,
			Model:             tc.Web.Model,
			APIKey:            tc.Web.APIKey.Value(),
			MaxTokens:         tc.Web.MaxTokens,
			RequestsPerSecond: tc.Web.RequestsPerSecond,
		}, a.logger)
		if err != nil {
			return nil, fmt.Errorf("creating web backend: %w", err)
		}
		if err := registry.Register(b); err != nil {
			return nil, err
		}
	}

	if tc.Atlassian.Enabled {
		b, err := atlassian.New(atlassian.Config{
			Endpoint: tc.Atlassian.Endpoint,
			Token:    tc.Atlassian.Token.Value(),
			Limit:    tc.Atlassian.Limit,
			Version:  version,
		}, a.logger)
		if err != nil {
			return nil, fmt.Errorf("creating atlassian backend: %w", err)
		}
		a.onClose(b.Close)
		if err := registry.Register(b); err != nil {
			return nil, err
		}
	}

	if registry.Len() == 0 {
		a.logger.Warn("no tool backends enabled; replies will rely on memory only")
	}
	return registry, nil
}

// openVectorStore is shared by the vector backend and the ingest command.
func (a *app) openVectorStore(ctx context.Context) (vectorstore.Store, error) {
	if a.vectors != nil {
		return a.vectors, nil
	}
	embedder, err := embeddings.NewProvider(a.cfg.Embeddings, a.tel, a.logger)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}
	a.embedder = embedder
	a.onClose(embedder.Close)

	size := 0
	if strings.EqualFold(a.cfg.Tools.Vector.Provider, "qdrant") {
		if size, err = embeddings.MeasureDimension(ctx, embedder); err != nil {
			return nil, fmt.Errorf("probing embedding dimension: %w", err)
		}
	}
	store, err := vectorstore.NewStore(ctx, a.cfg.Tools.Vector, size, embedder, a.tel, a.logger)
	if err != nil {
		return nil, fmt.Errorf("opening vector store: %w", err)
	}
	a.vectors = store
	a.onClose(store.Close)
	return store, nil
}

func toolNames(ids []tools.ID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}
