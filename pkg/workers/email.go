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

const emailSystemPrompt = `You are an email drafting specialist. You compose clear, professional emails and save them as drafts in the user's mailbox.

Ground the draft in the gathered state when it is provided; research findings there are your source material. Use create_draft to save the finished email. Nothing you write is ever sent, only drafted.

Respond with a short report naming the draft id, the recipient and the subject. If the task does not say who the email is for or what it should cover, draft your best interpretation and note the assumption in your report.`

// EmailWorker composes email drafts and saves them to the mailbox.
type EmailWorker struct {
	agent  *agent
	system string
}

func NewEmailWorker(provider llms.LLMProvider, registry *tools.Registry, cfg config.WorkerConfig) (*EmailWorker, error) {
	cfg.SetDefaults()
	a, err := newAgent(string(supervisor.TargetEmailDraft), provider, registry, cfg.MaxToolRounds)
	if err != nil {
		return nil, err
	}

	return &EmailWorker{
		agent:  a,
		system: withInstructions(emailSystemPrompt, cfg.Instructions),
	}, nil
}

func (w *EmailWorker) Execute(ctx context.Context, job supervisor.Job) (*supervisor.Result, error) {
	task := strings.TrimSpace(job.Task)
	if task == "" {
		return nil, fmt.Errorf("email worker needs an instruction")
	}

	report, err := w.agent.run(ctx, w.system, jobPrompt(task, job.Summary))
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(report) == "" {
		return nil, fmt.Errorf("email worker produced no report")
	}

	return &supervisor.Result{Content: report}, nil
}
