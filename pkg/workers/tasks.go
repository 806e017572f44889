package workers

import (
	"context"
	"fmt"
	"strings"

	"github.com/kadirpekel/nestor/pkg/config"
	"github.com/kadirpekel/nestor/pkg/llms"
	"github.com/kadirpekel/nestor/pkg/supervisor"
	"github.com/kadirpekel/nestor/pkg/tools"
)

const taskSystemPrompt = `You are a task management specialist working in the team's task tracker.

Use the tools to list, create and update projects and tasks as the task demands. Look up the project list before creating tasks in a named project so you use real project gids, and do not create duplicates of work that already exists.

Respond with a short report of exactly what you found or changed, including the names and gids involved. If something could not be done, say what and why.`

// TaskWorker manages projects and tasks in the tracker.
type TaskWorker struct {
	agent  *agent
	system string
}

func NewTaskWorker(provider llms.LLMProvider, registry *tools.Registry, cfg config.WorkerConfig) (*TaskWorker, error) {
	cfg.SetDefaults()
	a, err := newAgent(string(supervisor.TargetTaskManagement), provider, registry, cfg.MaxToolRounds)
	if err != nil {
		return nil, err
	}

	return &TaskWorker{
		agent:  a,
		system: withInstructions(taskSystemPrompt, cfg.Instructions),
	}, nil
}

func (w *TaskWorker) Execute(ctx context.Context, job supervisor.Job) (*supervisor.Result, error) {
	task := strings.TrimSpace(job.Task)
	if task == "" {
		return nil, fmt.Errorf("task worker needs an instruction")
	}

	report, err := w.agent.run(ctx, w.system, jobPrompt(task, job.Summary))
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(report) == "" {
		return nil, fmt.Errorf("task worker produced no report")
	}

	return &supervisor.Result{Content: report}, nil
}
