// Package executor runs an execution plan: one retry-engine run per
// sub-query, tool categories in parallel, sub-queries of a category in order.
package executor

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/askd/internal/planner"
	"github.com/fyrsmithlabs/askd/internal/progress"
	"github.com/fyrsmithlabs/askd/internal/telemetry"
	"github.com/fyrsmithlabs/askd/internal/tools"
)

const instrumentationName = "github.com/fyrsmithlabs/askd/internal/executor"

// Runner drives one action to a terminal result.
type Runner interface {
	Run(ctx context.Context, action tools.Action) tools.Result
}

// Catalog looks up backends so each can shape its own arguments.
type Catalog interface {
	Lookup(id tools.ID) (tools.Backend, error)
}

// Config tunes execution.
type Config struct {
	// MaxParallel limits concurrently running tool categories. 0 means no limit.
	MaxParallel int
}

// Executor fans a plan out to the retry engine.
type Executor struct {
	runner  Runner
	catalog Catalog
	cfg     Config
	logger  *zap.Logger
	tracer  trace.Tracer
}

// New creates an executor.
func New(runner Runner, catalog Catalog, cfg Config, tel *telemetry.Telemetry, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		runner:  runner,
		catalog: catalog,
		cfg:     cfg,
		logger:  logger.Named("executor"),
		tracer:  tel.Tracer(instrumentationName),
	}
}

// Execute runs every sub-query of plan. The result has one key per entry of
// plan.ToolsNeeded, each holding results in sub-query order. A tool with no
// sub-queries maps to an empty, non-nil slice.
func (e *Executor) Execute(ctx context.Context, plan planner.ExecutionPlan) map[tools.ID][]tools.Result {
	ctx, span := e.tracer.Start(ctx, "executor.execute",
		trace.WithAttributes(attribute.Int("executor.tools", len(plan.ToolsNeeded))))
	defer span.End()

	// Slots are allocated up front; each goroutine writes only its own slice.
	results := make(map[tools.ID][]tools.Result, len(plan.ToolsNeeded))
	for _, id := range plan.ToolsNeeded {
		results[id] = make([]tools.Result, len(plan.SubQueries[id]))
	}

	var g errgroup.Group
	if e.cfg.MaxParallel > 0 {
		g.SetLimit(e.cfg.MaxParallel)
	}
	start := time.Now()
	for _, id := range plan.ToolsNeeded {
		queries := plan.SubQueries[id]
		if len(queries) == 0 {
			continue
		}
		slot := results[id]
		g.Go(func() error {
			e.runCategory(ctx, id, queries, slot)
			return nil
		})
	}
	_ = g.Wait()

	e.logger.Debug("plan executed",
		zap.Int("tools", len(plan.ToolsNeeded)),
		zap.Duration("elapsed", time.Since(start)))
	return results
}

func (e *Executor) runCategory(ctx context.Context, id tools.ID, queries []string, out []tools.Result) {
	emitter := progress.FromContext(ctx)
	for i, q := range queries {
		emitter.Emit(progress.Searching, searchAction(id), q)
		out[i] = e.runner.Run(ctx, tools.Action{ToolID: id, Arguments: e.arguments(id, q)})
	}
}

// arguments lets the backend shape the call. Unknown tools still get an
// action so the retry engine records the failure under the planned key.
func (e *Executor) arguments(id tools.ID, query string) map[string]any {
	if e.catalog != nil {
		if b, err := e.catalog.Lookup(id); err == nil {
			return b.Arguments(query)
		}
	}
	return map[string]any{"query": query}
}

func searchAction(id tools.ID) string {
	switch id {
	case tools.Vector:
		return "vector_search"
	case tools.Web:
		return "web_search"
	case tools.Atlassian:
		return "atlassian_search"
	default:
		return "knowledge_lookup"
	}
}
