package tools

import (
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/kadirpekel/nestor/pkg/config"
	"github.com/kadirpekel/nestor/pkg/httpclient"
)

// GmailClient is a minimal client for the Gmail drafts API. Drafts are
// the only surface it touches; nothing is ever sent.
type GmailClient struct {
	baseURL string
	token   string
	http    *httpclient.Client
}

func NewGmailClient(cfg config.GmailConfig) (*GmailClient, error) {
	cfg.SetDefaults()
	if cfg.Token == "" {
		return nil, fmt.Errorf("gmail requires a token")
	}

	return &GmailClient{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		token:   cfg.Token,
		http: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: 30 * time.Second}),
			httpclient.WithMaxRetries(2),
		),
	}, nil
}

func (c *GmailClient) authHeader() map[string]string {
	return map[string]string{"Authorization": "Bearer " + c.token}
}

// Draft is the mailbox-facing view of a saved draft.
type Draft struct {
	ID      string
	Subject string
	To      string
}

// CreateDraft composes an RFC 2822 plain text message and saves it as
// a draft in the user's mailbox. Returns the draft id.
func (c *GmailClient) CreateDraft(ctx context.Context, to, cc, subject, body string) (string, error) {
	var msg strings.Builder
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	if cc != "" {
		fmt.Fprintf(&msg, "Cc: %s\r\n", cc)
	}
	fmt.Fprintf(&msg, "Subject: %s\r\n", mime.QEncoding.Encode("UTF-8", subject))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)

	payload := map[string]interface{}{
		"message": map[string]string{
			"raw": base64.URLEncoding.EncodeToString([]byte(msg.String())),
		},
	}

	var created struct {
		ID string `json:"id"`
	}
	endpoint := c.baseURL + "/gmail/v1/users/me/drafts"
	if err := doJSON(ctx, c.http, http.MethodPost, endpoint, c.authHeader(), payload, &created); err != nil {
		return "", err
	}
	return created.ID, nil
}

// ListDrafts returns up to limit drafts with their subject and
// recipient. The list endpoint only yields ids, so each draft costs a
// metadata fetch; a failed fetch degrades to an id-only entry.
func (c *GmailClient) ListDrafts(ctx context.Context, limit int) ([]Draft, error) {
	if limit <= 0 {
		limit = 10
	}
	if limit > 25 {
		limit = 25
	}

	var listing struct {
		Drafts []struct {
			ID string `json:"id"`
		} `json:"drafts"`
	}
	endpoint := fmt.Sprintf("%s/gmail/v1/users/me/drafts?maxResults=%d", c.baseURL, limit)
	if err := doJSON(ctx, c.http, http.MethodGet, endpoint, c.authHeader(), nil, &listing); err != nil {
		return nil, err
	}

	drafts := make([]Draft, 0, len(listing.Drafts))
	for _, d := range listing.Drafts {
		draft := Draft{ID: d.ID}

		var detail struct {
			Message struct {
				Payload struct {
					Headers []struct {
						Name  string `json:"name"`
						Value string `json:"value"`
					} `json:"headers"`
				} `json:"payload"`
			} `json:"message"`
		}
		detailURL := fmt.Sprintf("%s/gmail/v1/users/me/drafts/%s?format=metadata", c.baseURL, d.ID)
		if err := doJSON(ctx, c.http, http.MethodGet, detailURL, c.authHeader(), nil, &detail); err == nil {
			for _, h := range detail.Message.Payload.Headers {
				switch strings.ToLower(h.Name) {
				case "subject":
					draft.Subject = h.Value
				case "to":
					draft.To = h.Value
				}
			}
		}

		drafts = append(drafts, draft)
	}
	return drafts, nil
}

// CreateDraftTool saves a composed email as a Gmail draft.
type CreateDraftTool struct {
	client *GmailClient
}

func NewCreateDraftTool(client *GmailClient) *CreateDraftTool {
	return &CreateDraftTool{client: client}
}

func (t *CreateDraftTool) GetInfo() ToolInfo {
	return ToolInfo{
		Name:        "create_draft",
		Description: "Compose an email and save it as a draft in the user's mailbox. Nothing is sent.",
		Parameters: []ToolParameter{
			{Name: "to", Type: "string", Description: "Recipient email address", Required: true},
			{Name: "subject", Type: "string", Description: "Email subject line", Required: true},
			{Name: "body", Type: "string", Description: "Plain text email body", Required: true},
			{Name: "cc", Type: "string", Description: "Optional CC address"},
		},
	}
}

func (t *CreateDraftTool) GetName() string { return "create_draft" }

func (t *CreateDraftTool) GetDescription() string { return t.GetInfo().Description }

func (t *CreateDraftTool) Execute(ctx context.Context, args map[string]interface{}) (ToolResult, error) {
	start := time.Now()

	to := stringArg(args, "to")
	subject := stringArg(args, "subject")
	body := stringArg(args, "body")
	if to == "" || subject == "" || body == "" {
		err := fmt.Errorf("to, subject and body parameters are required")
		return errorResult(t.GetName(), err.Error(), start), err
	}

	id, err := t.client.CreateDraft(ctx, to, stringArg(args, "cc"), subject, body)
	if err != nil {
		return errorResult(t.GetName(), err.Error(), start), err
	}

	content := fmt.Sprintf("Draft saved to the mailbox (id %s): %q to %s.", id, subject, to)
	return successResult(t.GetName(), content, start), nil
}

// ListDraftsTool lists the drafts currently in the mailbox.
type ListDraftsTool struct {
	client *GmailClient
}

func NewListDraftsTool(client *GmailClient) *ListDraftsTool {
	return &ListDraftsTool{client: client}
}

func (t *ListDraftsTool) GetInfo() ToolInfo {
	return ToolInfo{
		Name:        "list_drafts",
		Description: "List email drafts currently saved in the user's mailbox.",
		Parameters: []ToolParameter{
			{Name: "max_results", Type: "integer", Description: "Maximum number of drafts to list"},
		},
	}
}

func (t *ListDraftsTool) GetName() string { return "list_drafts" }

func (t *ListDraftsTool) GetDescription() string { return t.GetInfo().Description }

func (t *ListDraftsTool) Execute(ctx context.Context, args map[string]interface{}) (ToolResult, error) {
	start := time.Now()

	drafts, err := t.client.ListDrafts(ctx, intArg(args, "max_results"))
	if err != nil {
		return errorResult(t.GetName(), err.Error(), start), err
	}

	if len(drafts) == 0 {
		return successResult(t.GetName(), "The mailbox has no drafts.", start), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Drafts in the mailbox (%d):\n", len(drafts))
	for _, d := range drafts {
		subject := d.Subject
		if subject == "" {
			subject = "(no subject)"
		}
		fmt.Fprintf(&b, "- %s", subject)
		if d.To != "" {
			fmt.Fprintf(&b, " to %s", d.To)
		}
		fmt.Fprintf(&b, " (id %s)\n", d.ID)
	}
	return successResult(t.GetName(), b.String(), start), nil
}
