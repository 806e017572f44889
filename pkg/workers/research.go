package workers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kadirpekel/nestor/pkg/config"
	"github.com/kadirpekel/nestor/pkg/llms"
	"github.com/kadirpekel/nestor/pkg/memory"
	"github.com/kadirpekel/nestor/pkg/supervisor"
	"github.com/kadirpekel/nestor/pkg/tools"
	"github.com/kadirpekel/nestor/pkg/utils"
)

const (
	// researchRecallLimit caps how many recorded notes are surfaced to
	// the model per task.
	researchRecallLimit = 3

	// recallNoteTokens caps each surfaced note; full reports live in
	// the store, the prompt only needs their gist.
	recallNoteTokens = 150
)

// Recaller is the slice of the memory store the research worker uses.
type Recaller interface {
	Recall(ctx context.Context, query string, limit int) ([]memory.Document, error)
	Record(ctx context.Context, origin, content string, metadata map[string]string) error
}

const researchSystemPrompt = `You are a research specialist on a team of assistants. You answer the task you are given from web search results and the notes provided, never from memory alone.

Use the web_search tool to find current information. Prefer primary sources, and say so when results conflict.

Respond with a concise report: the key findings first, then a Sources section listing the URLs you relied on. Report only what the search results and notes support.`

// ResearchWorker searches the web, consults previously recorded notes
// and records its findings for later requests.
type ResearchWorker struct {
	agent  *agent
	memory Recaller
	system string
}

// NewResearchWorker builds the research worker. The memory store is
// optional; without one the worker neither recalls nor records.
func NewResearchWorker(provider llms.LLMProvider, registry *tools.Registry, store Recaller, cfg config.WorkerConfig) (*ResearchWorker, error) {
	cfg.SetDefaults()
	a, err := newAgent(string(supervisor.TargetResearch), provider, registry, cfg.MaxToolRounds)
	if err != nil {
		return nil, err
	}

	return &ResearchWorker{
		agent:  a,
		memory: store,
		system: withInstructions(researchSystemPrompt, cfg.Instructions),
	}, nil
}

func (w *ResearchWorker) Execute(ctx context.Context, job supervisor.Job) (*supervisor.Result, error) {
	task := strings.TrimSpace(job.Task)
	if task == "" {
		return nil, fmt.Errorf("research worker needs an instruction")
	}

	prompt := jobPrompt(task, job.Summary)
	if notes := w.recallNotes(ctx, task); notes != "" {
		prompt = notes + "\n\n" + prompt
	}

	report, err := w.agent.run(ctx, w.system, prompt)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(report) == "" {
		return nil, fmt.Errorf("research produced no report")
	}

	w.recordFindings(ctx, job, report)

	return &supervisor.Result{Content: report}, nil
}

func (w *ResearchWorker) recallNotes(ctx context.Context, task string) string {
	if w.memory == nil {
		return ""
	}

	docs, err := w.memory.Recall(ctx, task, researchRecallLimit)
	if err != nil {
		slog.Warn("Memory recall failed", "error", err)
		return ""
	}
	if len(docs) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("Notes recorded from earlier research that may be relevant:")
	for _, doc := range docs {
		b.WriteString("\n- ")
		b.WriteString(utils.EstimateCounter{}.Truncate(strings.TrimSpace(doc.Content), recallNoteTokens))
	}
	return b.String()
}

func (w *ResearchWorker) recordFindings(ctx context.Context, job supervisor.Job, report string) {
	if w.memory == nil {
		return
	}

	meta := map[string]string{
		"request_id": job.Request.RequestID,
		"session_id": job.Request.SessionID,
	}
	if err := w.memory.Record(ctx, "research", report, meta); err != nil {
		slog.Warn("Failed to record research findings", "error", err)
	}
}
