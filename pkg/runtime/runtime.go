// Package runtime assembles a working deployment from configuration:
// LLM providers, the oracle, workers with their tool registries, recall
// memory, session storage, the run archive, and the HTTP server. The
// serve, call, and ingest commands all start here.
package runtime

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/kadirpekel/nestor/pkg/auth"
	"github.com/kadirpekel/nestor/pkg/config"
	"github.com/kadirpekel/nestor/pkg/llms"
	"github.com/kadirpekel/nestor/pkg/memory"
	"github.com/kadirpekel/nestor/pkg/observability"
	"github.com/kadirpekel/nestor/pkg/oracle"
	"github.com/kadirpekel/nestor/pkg/ratelimit"
	"github.com/kadirpekel/nestor/pkg/server"
	"github.com/kadirpekel/nestor/pkg/session"
	"github.com/kadirpekel/nestor/pkg/store"
	"github.com/kadirpekel/nestor/pkg/supervisor"
	"github.com/kadirpekel/nestor/pkg/tools"
	"github.com/kadirpekel/nestor/pkg/utils"
	"github.com/kadirpekel/nestor/pkg/workers"
)

// Runtime holds the shared, thread-safe dependencies of a deployment.
// Each request gets its own supervisor over these.
type Runtime struct {
	cfg      *config.Config
	registry *llms.LLMRegistry
	oracle   supervisor.Oracle
	workers  map[supervisor.Target]supervisor.Worker
	counter  utils.Counter

	recall   *memory.RecallStore
	ingestor *memory.Ingestor
	sessions session.Service
	archive  *store.Archive
	pool     *store.DBPool

	validator      auth.TokenValidator
	limiter        *ratelimit.Limiter
	metricsHandler http.Handler
}

// New builds a runtime from configuration. The config is defaulted and
// validated first, so a nonsense file fails here rather than at request
// time.
func New(cfg *config.Config) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r := &Runtime{
		cfg:  cfg,
		pool: store.NewDBPool(),
	}

	if err := r.build(); err != nil {
		if cerr := r.Close(); cerr != nil {
			slog.Warn("Cleanup after failed startup reported errors", "error", cerr)
		}
		return nil, err
	}
	return r, nil
}

func (r *Runtime) build() error {
	if r.cfg.Server.MetricsEnabled() {
		metrics, handler, err := observability.InitMetrics()
		if err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
		observability.SetGlobalMetrics(metrics)
		r.metricsHandler = handler
	}

	if err := r.buildLLMs(); err != nil {
		return err
	}
	if err := r.buildOracle(); err != nil {
		return err
	}
	if err := r.buildMemory(); err != nil {
		return err
	}
	if err := r.buildStores(); err != nil {
		return err
	}
	return r.buildWorkers()
}

func (r *Runtime) buildLLMs() error {
	r.registry = llms.NewLLMRegistry()
	for name, llmCfg := range r.cfg.LLMs {
		if _, err := r.registry.CreateLLMFromConfig(name, llmCfg); err != nil {
			return fmt.Errorf("llm %q: %w", name, err)
		}
	}
	return nil
}

func (r *Runtime) buildOracle() error {
	provider, err := r.structuredProvider(r.cfg.Supervisor.LLM)
	if err != nil {
		return err
	}

	r.counter = utils.NewCounter(provider.GetModelName())

	o, err := oracle.New(provider, r.cfg.Supervisor.Instructions)
	if err != nil {
		return err
	}
	r.oracle = o
	return nil
}

// structuredProvider resolves an LLM by name and requires structured
// output support, which the oracle's decision schema depends on.
func (r *Runtime) structuredProvider(name string) (llms.StructuredOutputProvider, error) {
	provider, err := r.registry.GetLLM(name)
	if err != nil {
		return nil, err
	}

	structured, ok := provider.(llms.StructuredOutputProvider)
	if !ok || !structured.SupportsStructuredOutput() {
		return nil, fmt.Errorf("llm %q does not support structured output, which the supervisor requires", name)
	}
	return structured, nil
}

func (r *Runtime) buildMemory() error {
	if !r.cfg.Memory.IsEnabled() {
		return nil
	}

	recall, err := memory.NewRecallStore(r.cfg.Memory, nil)
	if err != nil {
		// Memory needs an embedder key. A deployment without one still
		// answers requests, just without recall.
		slog.Warn("Recall memory unavailable, continuing without it", "error", err)
		return nil
	}

	ingestor, err := memory.NewIngestor(recall)
	if err != nil {
		return err
	}

	r.recall = recall
	r.ingestor = ingestor
	return nil
}

func (r *Runtime) buildStores() error {
	sessions, err := session.NewService(r.cfg.Session, r.pool)
	if err != nil {
		return fmt.Errorf("session service: %w", err)
	}
	r.sessions = sessions

	if !r.cfg.Archive.Enabled {
		return nil
	}

	db, err := r.pool.Get(r.cfg.Archive.Database)
	if err != nil {
		return fmt.Errorf("archive database: %w", err)
	}
	archive, err := store.NewArchive(db, r.cfg.Archive.Database.Dialect())
	if err != nil {
		return fmt.Errorf("archive: %w", err)
	}
	r.archive = archive
	return nil
}

func (r *Runtime) buildWorkers() error {
	cfg := r.cfg

	var recaller workers.Recaller
	if r.recall != nil {
		recaller = r.recall
	}

	provider, err := r.registry.GetLLM(cfg.WorkerLLM(cfg.Workers.Research))
	if err != nil {
		return fmt.Errorf("research worker: %w", err)
	}
	registry, err := tools.NewRegistry(researchToolset(cfg.Tools)...)
	if err != nil {
		return fmt.Errorf("research worker: %w", err)
	}
	research, err := workers.NewResearchWorker(provider, registry, recaller, cfg.Workers.Research)
	if err != nil {
		return fmt.Errorf("research worker: %w", err)
	}

	provider, err = r.registry.GetLLM(cfg.WorkerLLM(cfg.Workers.Tasks))
	if err != nil {
		return fmt.Errorf("task worker: %w", err)
	}
	registry, err = tools.NewRegistry(taskToolset(cfg.Tools)...)
	if err != nil {
		return fmt.Errorf("task worker: %w", err)
	}
	taskWorker, err := workers.NewTaskWorker(provider, registry, cfg.Workers.Tasks)
	if err != nil {
		return fmt.Errorf("task worker: %w", err)
	}

	provider, err = r.registry.GetLLM(cfg.WorkerLLM(cfg.Workers.Email))
	if err != nil {
		return fmt.Errorf("email worker: %w", err)
	}
	registry, err = tools.NewRegistry(emailToolset(cfg.Tools)...)
	if err != nil {
		return fmt.Errorf("email worker: %w", err)
	}
	email, err := workers.NewEmailWorker(provider, registry, cfg.Workers.Email)
	if err != nil {
		return fmt.Errorf("email worker: %w", err)
	}

	r.workers = map[supervisor.Target]supervisor.Worker{
		supervisor.TargetResearch:       research,
		supervisor.TargetTaskManagement: taskWorker,
		supervisor.TargetEmailDraft:     email,
	}
	return nil
}

// researchToolset builds the research worker's tools. A tool whose
// credentials are absent is skipped with a warning rather than failing
// startup; the worker runs degraded without it.
func researchToolset(cfg config.ToolsConfig) []tools.Tool {
	search, err := tools.NewWebSearchTool(cfg.WebSearch)
	if err != nil {
		slog.Warn("Web search tool unavailable", "error", err)
		return nil
	}
	return []tools.Tool{search}
}

func taskToolset(cfg config.ToolsConfig) []tools.Tool {
	client, err := tools.NewAsanaClient(cfg.Asana)
	if err != nil {
		slog.Warn("Asana tools unavailable", "error", err)
		return nil
	}
	return []tools.Tool{
		tools.NewCreateTaskTool(client),
		tools.NewListTasksTool(client),
		tools.NewListProjectsTool(client),
		tools.NewCreateProjectTool(client),
	}
}

func emailToolset(cfg config.ToolsConfig) []tools.Tool {
	client, err := tools.NewGmailClient(cfg.Gmail)
	if err != nil {
		slog.Warn("Gmail tools unavailable", "error", err)
		return nil
	}
	return []tools.Tool{
		tools.NewCreateDraftTool(client),
		tools.NewListDraftsTool(client),
	}
}

// Execute starts one delegation run on a fresh supervisor over the
// shared dependencies. Implements the server's Executor.
func (r *Runtime) Execute(ctx context.Context, req supervisor.Request) (*supervisor.Execution, error) {
	sup, err := supervisor.New(r.oracle, r.workers, r.counter, r.cfg.Supervisor)
	if err != nil {
		return nil, err
	}
	return sup.Execute(ctx, req), nil
}

// Call runs one request in-process, writing answer text to out as it
// streams, and returns the terminal state. Session history and
// archiving behave the same as on the HTTP path.
func (r *Runtime) Call(ctx context.Context, req supervisor.Request, out io.Writer) (*supervisor.State, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, fmt.Errorf("query is required")
	}

	if req.SessionID != "" {
		history, err := r.sessions.GetHistory(ctx, req.SessionID, 0)
		if err != nil {
			slog.Warn("Failed to load session history",
				"session_id", req.SessionID,
				"error", err)
		} else {
			req.History = history
		}
	}

	exec, err := r.Execute(ctx, req)
	if err != nil {
		return nil, err
	}

	chunks := exec.Chunks()
	events := exec.Events()
	for chunks != nil || events != nil {
		select {
		case text, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			fmt.Fprint(out, text)
		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			slog.Debug("Run progress",
				"type", event.Type,
				"target", event.Target,
				"iteration", event.Iteration)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	state := exec.State()
	r.record(ctx, state)
	return state, nil
}

// record persists a finished exchange best-effort; the answer already
// reached the caller.
func (r *Runtime) record(ctx context.Context, state *supervisor.State) {
	req := state.Request
	if req.SessionID != "" && state.Complete {
		userTurn := supervisor.Turn{Role: "user", Content: req.Query}
		if err := r.sessions.AppendTurn(ctx, req.SessionID, userTurn); err != nil {
			slog.Warn("Failed to append user turn", "session_id", req.SessionID, "error", err)
		} else {
			assistantTurn := supervisor.Turn{Role: "assistant", Content: state.FinalResponse}
			if err := r.sessions.AppendTurn(ctx, req.SessionID, assistantTurn); err != nil {
				slog.Warn("Failed to append assistant turn", "session_id", req.SessionID, "error", err)
			}
		}
	}

	if r.archive != nil {
		if err := r.archive.Record(ctx, state); err != nil {
			slog.Warn("Failed to archive run", "request_id", req.RequestID, "error", err)
		}
	}
}

// Server builds the HTTP server over this runtime. The JWT validator
// is constructed here, on first use, so local commands never touch the
// JWKS endpoint.
func (r *Runtime) Server() (*server.Server, error) {
	if r.validator == nil {
		validator, err := auth.NewValidatorFromConfig(r.cfg.Server.Auth)
		if err != nil {
			return nil, fmt.Errorf("auth: %w", err)
		}
		r.validator = validator
	}

	if r.limiter == nil && r.cfg.Server.RateLimitEnabled() {
		limiter, err := ratelimit.New(r.cfg.Server.RateLimit)
		if err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
		r.limiter = limiter
	}

	opts := []server.Option{
		server.WithSessionService(r.sessions),
	}
	if r.archive != nil {
		opts = append(opts, server.WithArchive(r.archive))
	}
	if r.validator != nil {
		opts = append(opts, server.WithTokenValidator(r.validator))
	}
	if r.metricsHandler != nil {
		opts = append(opts, server.WithMetricsHandler(r.metricsHandler))
	}
	if r.limiter != nil {
		opts = append(opts, server.WithRateLimiter(r.limiter))
	}

	return server.New(r.cfg.Server, r, opts...)
}

// Ingestor returns the document ingestor. It is only available when
// recall memory came up.
func (r *Runtime) Ingestor() (*memory.Ingestor, error) {
	if r.ingestor == nil {
		return nil, fmt.Errorf("recall memory is not available; enable memory and configure an embedder api key")
	}
	return r.ingestor, nil
}

// Config returns the validated configuration the runtime was built
// from.
func (r *Runtime) Config() *config.Config {
	return r.cfg
}

// Close releases every resource the runtime holds.
func (r *Runtime) Close() error {
	var errs []error

	if r.validator != nil {
		r.validator.Close()
	}

	if r.limiter != nil {
		r.limiter.Close()
	}

	if r.registry != nil {
		for _, provider := range r.registry.List() {
			if err := provider.Close(); err != nil {
				errs = append(errs, fmt.Errorf("llm close: %w", err))
			}
		}
	}

	if r.recall != nil {
		if err := r.recall.Close(); err != nil {
			errs = append(errs, fmt.Errorf("recall store close: %w", err))
		}
	}

	if r.pool != nil {
		if err := r.pool.Close(); err != nil {
			errs = append(errs, fmt.Errorf("database close: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
