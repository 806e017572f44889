package tools

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kadirpekel/nestor/pkg/config"
	"github.com/kadirpekel/nestor/pkg/httpclient"
)

// AsanaClient is a minimal client for the Asana REST API. Requests and
// responses both use Asana's {"data": ...} envelope. All operations
// are scoped to the configured workspace.
type AsanaClient struct {
	baseURL   string
	token     string
	workspace string
	http      *httpclient.Client
}

func NewAsanaClient(cfg config.AsanaConfig) (*AsanaClient, error) {
	cfg.SetDefaults()
	if cfg.Token == "" {
		return nil, fmt.Errorf("asana requires a token")
	}
	if cfg.Workspace == "" {
		return nil, fmt.Errorf("asana requires a workspace")
	}

	return &AsanaClient{
		baseURL:   strings.TrimSuffix(cfg.BaseURL, "/"),
		token:     cfg.Token,
		workspace: cfg.Workspace,
		http: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: 30 * time.Second}),
			httpclient.WithMaxRetries(2),
		),
	}, nil
}

func (c *AsanaClient) authHeader() map[string]string {
	return map[string]string{"Authorization": "Bearer " + c.token}
}

func (c *AsanaClient) post(ctx context.Context, path string, fields map[string]interface{}, out interface{}) error {
	payload := map[string]interface{}{"data": fields}
	return doJSON(ctx, c.http, http.MethodPost, c.baseURL+path, c.authHeader(), payload, out)
}

func (c *AsanaClient) get(ctx context.Context, path string, out interface{}) error {
	return doJSON(ctx, c.http, http.MethodGet, c.baseURL+path, c.authHeader(), nil, out)
}

// AsanaTask is the subset of task fields the tools work with.
type AsanaTask struct {
	GID       string `json:"gid"`
	Name      string `json:"name"`
	Notes     string `json:"notes,omitempty"`
	DueOn     string `json:"due_on,omitempty"`
	Completed bool   `json:"completed,omitempty"`
}

// AsanaProject identifies a project in the workspace.
type AsanaProject struct {
	GID  string `json:"gid"`
	Name string `json:"name"`
}

// CreateTask creates a task in the given project, or directly in the
// workspace when no project is named.
func (c *AsanaClient) CreateTask(ctx context.Context, name, notes, projectGID, dueOn string) (*AsanaTask, error) {
	fields := map[string]interface{}{"name": name}
	if notes != "" {
		fields["notes"] = notes
	}
	if dueOn != "" {
		fields["due_on"] = dueOn
	}
	if projectGID != "" {
		fields["projects"] = []string{projectGID}
	} else {
		fields["workspace"] = c.workspace
	}

	var out struct {
		Data AsanaTask `json:"data"`
	}
	if err := c.post(ctx, "/tasks", fields, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

func (c *AsanaClient) ListProjects(ctx context.Context) ([]AsanaProject, error) {
	var out struct {
		Data []AsanaProject `json:"data"`
	}
	path := "/projects?workspace=" + url.QueryEscape(c.workspace) + "&opt_fields=name"
	if err := c.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// ListTasks lists the tasks of a project, or the caller's open tasks
// in the workspace when no project is named.
func (c *AsanaClient) ListTasks(ctx context.Context, projectGID string) ([]AsanaTask, error) {
	var path string
	if projectGID != "" {
		path = "/projects/" + url.PathEscape(projectGID) + "/tasks?opt_fields=name,completed,due_on"
	} else {
		path = "/tasks?assignee=me&workspace=" + url.QueryEscape(c.workspace) +
			"&completed_since=now&opt_fields=name,completed,due_on"
	}

	var out struct {
		Data []AsanaTask `json:"data"`
	}
	if err := c.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

func (c *AsanaClient) CreateProject(ctx context.Context, name, notes string) (*AsanaProject, error) {
	fields := map[string]interface{}{
		"name":      name,
		"workspace": c.workspace,
	}
	if notes != "" {
		fields["notes"] = notes
	}

	var out struct {
		Data AsanaProject `json:"data"`
	}
	if err := c.post(ctx, "/projects", fields, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

// CreateTaskTool creates a task in the task tracker.
type CreateTaskTool struct {
	client *AsanaClient
}

func NewCreateTaskTool(client *AsanaClient) *CreateTaskTool {
	return &CreateTaskTool{client: client}
}

func (t *CreateTaskTool) GetInfo() ToolInfo {
	return ToolInfo{
		Name:        "create_task",
		Description: "Create a task in the task tracker, optionally in a project and with a due date.",
		Parameters: []ToolParameter{
			{Name: "name", Type: "string", Description: "Task title", Required: true},
			{Name: "notes", Type: "string", Description: "Task description"},
			{Name: "project", Type: "string", Description: "Project gid to add the task to"},
			{Name: "due_on", Type: "string", Description: "Due date in YYYY-MM-DD form"},
		},
	}
}

func (t *CreateTaskTool) GetName() string { return "create_task" }

func (t *CreateTaskTool) GetDescription() string { return t.GetInfo().Description }

func (t *CreateTaskTool) Execute(ctx context.Context, args map[string]interface{}) (ToolResult, error) {
	start := time.Now()

	name := stringArg(args, "name")
	if name == "" {
		err := fmt.Errorf("name parameter is required")
		return errorResult(t.GetName(), err.Error(), start), err
	}

	task, err := t.client.CreateTask(ctx, name, stringArg(args, "notes"), stringArg(args, "project"), stringArg(args, "due_on"))
	if err != nil {
		return errorResult(t.GetName(), err.Error(), start), err
	}

	content := fmt.Sprintf("Created task %q (gid %s)", task.Name, task.GID)
	if task.DueOn != "" {
		content += fmt.Sprintf(", due %s", task.DueOn)
	}
	return successResult(t.GetName(), content+".", start), nil
}

// ListProjectsTool lists the projects in the workspace.
type ListProjectsTool struct {
	client *AsanaClient
}

func NewListProjectsTool(client *AsanaClient) *ListProjectsTool {
	return &ListProjectsTool{client: client}
}

func (t *ListProjectsTool) GetInfo() ToolInfo {
	return ToolInfo{
		Name:        "list_projects",
		Description: "List the projects in the task tracker workspace with their gids.",
	}
}

func (t *ListProjectsTool) GetName() string { return "list_projects" }

func (t *ListProjectsTool) GetDescription() string { return t.GetInfo().Description }

func (t *ListProjectsTool) Execute(ctx context.Context, args map[string]interface{}) (ToolResult, error) {
	start := time.Now()

	projects, err := t.client.ListProjects(ctx)
	if err != nil {
		return errorResult(t.GetName(), err.Error(), start), err
	}

	if len(projects) == 0 {
		return successResult(t.GetName(), "The workspace has no projects.", start), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Projects in the workspace (%d):\n", len(projects))
	for _, p := range projects {
		fmt.Fprintf(&b, "- %s (gid %s)\n", p.Name, p.GID)
	}
	return successResult(t.GetName(), b.String(), start), nil
}

// ListTasksTool lists tasks in a project or the caller's open tasks.
type ListTasksTool struct {
	client *AsanaClient
}

func NewListTasksTool(client *AsanaClient) *ListTasksTool {
	return &ListTasksTool{client: client}
}

func (t *ListTasksTool) GetInfo() ToolInfo {
	return ToolInfo{
		Name:        "list_tasks",
		Description: "List tasks in a project, or the user's open tasks when no project is given.",
		Parameters: []ToolParameter{
			{Name: "project", Type: "string", Description: "Project gid to list tasks from"},
		},
	}
}

func (t *ListTasksTool) GetName() string { return "list_tasks" }

func (t *ListTasksTool) GetDescription() string { return t.GetInfo().Description }

func (t *ListTasksTool) Execute(ctx context.Context, args map[string]interface{}) (ToolResult, error) {
	start := time.Now()

	tasks, err := t.client.ListTasks(ctx, stringArg(args, "project"))
	if err != nil {
		return errorResult(t.GetName(), err.Error(), start), err
	}

	if len(tasks) == 0 {
		return successResult(t.GetName(), "No tasks found.", start), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Tasks (%d):\n", len(tasks))
	for _, task := range tasks {
		marker := "[ ]"
		if task.Completed {
			marker = "[x]"
		}
		fmt.Fprintf(&b, "- %s %s (gid %s", marker, task.Name, task.GID)
		if task.DueOn != "" {
			fmt.Fprintf(&b, ", due %s", task.DueOn)
		}
		b.WriteString(")\n")
	}
	return successResult(t.GetName(), b.String(), start), nil
}

// CreateProjectTool creates a project in the workspace.
type CreateProjectTool struct {
	client *AsanaClient
}

func NewCreateProjectTool(client *AsanaClient) *CreateProjectTool {
	return &CreateProjectTool{client: client}
}

func (t *CreateProjectTool) GetInfo() ToolInfo {
	return ToolInfo{
		Name:        "create_project",
		Description: "Create a project in the task tracker workspace.",
		Parameters: []ToolParameter{
			{Name: "name", Type: "string", Description: "Project name", Required: true},
			{Name: "notes", Type: "string", Description: "Project description"},
		},
	}
}

func (t *CreateProjectTool) GetName() string { return "create_project" }

func (t *CreateProjectTool) GetDescription() string { return t.GetInfo().Description }

func (t *CreateProjectTool) Execute(ctx context.Context, args map[string]interface{}) (ToolResult, error) {
	start := time.Now()

	name := stringArg(args, "name")
	if name == "" {
		err := fmt.Errorf("name parameter is required")
		return errorResult(t.GetName(), err.Error(), start), err
	}

	project, err := t.client.CreateProject(ctx, name, stringArg(args, "notes"))
	if err != nil {
		return errorResult(t.GetName(), err.Error(), start), err
	}

	content := fmt.Sprintf("Created project %q (gid %s).", project.Name, project.GID)
	return successResult(t.GetName(), content, start), nil
}
