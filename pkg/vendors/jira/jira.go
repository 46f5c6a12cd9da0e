// Package jira exposes Jira Cloud REST v3 operations as tools.
package jira

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/bturcanu/toolbelt/pkg/rest"
	"github.com/bturcanu/toolbelt/pkg/tool"
	"github.com/bturcanu/toolbelt/pkg/types"
)

const Vendor = "jira"

// Config holds Jira Cloud credentials (Basic auth with an API token).
type Config struct {
	BaseURL  string `yaml:"base_url"`
	Email    string `yaml:"email"`
	APIToken string `yaml:"api_token"`
}

type Client struct {
	rest *rest.Client
}

func New(cfg Config, opts ...rest.Option) (*Client, error) {
	switch {
	case cfg.BaseURL == "":
		return nil, fmt.Errorf("jira.New: %w", types.Required("base_url"))
	case cfg.Email == "":
		return nil, fmt.Errorf("jira.New: %w", types.Required("email"))
	case cfg.APIToken == "":
		return nil, fmt.Errorf("jira.New: %w", types.Required("api_token"))
	}
	rc, err := rest.New(cfg.BaseURL, append([]rest.Option{rest.WithAuth(rest.Basic(cfg.Email, cfg.APIToken))}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("jira.New: %w", err)
	}
	return &Client{rest: rc}, nil
}

// Tools lists every Jira operation as a tool.
func (c *Client) Tools() []tool.Tool {
	return []tool.Tool{
		tool.New(Vendor, "create_issue", "Create a Jira issue in a project.", c.CreateIssue),
		tool.New(Vendor, "get_issue", "Fetch a Jira issue by key.", c.GetIssue, tool.ReadOnly()),
		tool.New(Vendor, "search_issues", "Search Jira issues with JQL.", c.SearchIssues, tool.ReadOnly()),
		tool.New(Vendor, "add_comment", "Add a comment to a Jira issue.", c.AddComment),
		tool.New(Vendor, "transition_issue", "Move a Jira issue through its workflow by transition id or name.", c.TransitionIssue),
		tool.New(Vendor, "delete_issue", "Delete a Jira issue.", c.DeleteIssue, tool.Destructive()),
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// DTOs
// ──────────────────────────────────────────────────────────────────────────────

// Issue is the flattened view of a Jira issue.
type Issue struct {
	ID          string   `json:"id"`
	Key         string   `json:"key"`
	Summary     string   `json:"summary"`
	Status      string   `json:"status,omitempty"`
	IssueType   string   `json:"issue_type,omitempty"`
	Priority    string   `json:"priority,omitempty"`
	Assignee    string   `json:"assignee,omitempty"`
	Reporter    string   `json:"reporter,omitempty"`
	Labels      []string `json:"labels,omitempty"`
	Description string   `json:"description,omitempty"`
	Created     string   `json:"created,omitempty"`
	Updated     string   `json:"updated,omitempty"`
}

type CreateIssueParams struct {
	ProjectKey        string   `json:"project_key" jsonschema:"required" jsonschema_description:"Project key, e.g. OPS"`
	Summary           string   `json:"summary" jsonschema:"required"`
	IssueType         string   `json:"issue_type,omitempty" jsonschema_description:"Issue type name; defaults to Task"`
	Description       string   `json:"description,omitempty"`
	Priority          string   `json:"priority,omitempty"`
	Labels            []string `json:"labels,omitempty"`
	AssigneeAccountID string   `json:"assignee_account_id,omitempty"`
}

type CreateIssueResponse struct {
	ID   string `json:"id"`
	Key  string `json:"key"`
	Self string `json:"self"`
}

type GetIssueParams struct {
	IssueKey string `json:"issue_key" jsonschema:"required"`
}

type SearchIssuesParams struct {
	JQL   string `json:"jql" jsonschema:"required"`
	Limit int    `json:"limit,omitempty" jsonschema:"minimum=1,maximum=1000"`
}

type SearchIssuesResponse struct {
	Issues []Issue `json:"issues"`
	Total  int     `json:"total"`
}

type AddCommentParams struct {
	IssueKey string `json:"issue_key" jsonschema:"required"`
	Body     string `json:"body" jsonschema:"required"`
}

type Comment struct {
	ID      string `json:"id"`
	Author  string `json:"author,omitempty"`
	Created string `json:"created,omitempty"`
}

type TransitionIssueParams struct {
	IssueKey       string `json:"issue_key" jsonschema:"required"`
	TransitionID   string `json:"transition_id,omitempty"`
	TransitionName string `json:"transition_name,omitempty" jsonschema_description:"Matched case-insensitively against available transitions"`
}

func (p TransitionIssueParams) Validate() error {
	if p.TransitionID == "" && p.TransitionName == "" {
		return &types.ValidationError{Field: "transition_id", Reason: "transition_id or transition_name is required"}
	}
	return nil
}

type TransitionIssueResponse struct {
	HTTPCode int `json:"http_code"`
}

type DeleteIssueParams struct {
	IssueKey       string `json:"issue_key" jsonschema:"required"`
	DeleteSubtasks bool   `json:"delete_subtasks,omitempty"`
}

type DeleteIssueResponse struct {
	HTTPCode int `json:"http_code"`
}

// ──────────────────────────────────────────────────────────────────────────────
// Wire shapes
// ──────────────────────────────────────────────────────────────────────────────

type named struct {
	Name string `json:"name"`
}

type user struct {
	AccountID   string `json:"accountId"`
	DisplayName string `json:"displayName"`
}

type issueFields struct {
	Summary     string   `json:"summary"`
	Status      *named   `json:"status"`
	IssueType   *named   `json:"issuetype"`
	Priority    *named   `json:"priority"`
	Assignee    *user    `json:"assignee"`
	Reporter    *user    `json:"reporter"`
	Labels      []string `json:"labels"`
	Description *adfNode `json:"description"`
	Created     string   `json:"created"`
	Updated     string   `json:"updated"`
}

type issueWire struct {
	ID     string      `json:"id"`
	Key    string      `json:"key"`
	Fields issueFields `json:"fields"`
}

const issueFieldList = "summary,status,issuetype,priority,assignee,reporter,labels,description,created,updated"

func (w issueWire) flatten() Issue {
	f := w.Fields
	out := Issue{
		ID:      w.ID,
		Key:     w.Key,
		Summary: f.Summary,
		Labels:  f.Labels,
		Created: f.Created,
		Updated: f.Updated,
	}
	if f.Status != nil {
		out.Status = f.Status.Name
	}
	if f.IssueType != nil {
		out.IssueType = f.IssueType.Name
	}
	if f.Priority != nil {
		out.Priority = f.Priority.Name
	}
	if f.Assignee != nil {
		out.Assignee = f.Assignee.DisplayName
	}
	if f.Reporter != nil {
		out.Reporter = f.Reporter.DisplayName
	}
	if f.Description != nil {
		out.Description = strings.TrimSpace(f.Description.text())
	}
	return out
}

// ──────────────────────────────────────────────────────────────────────────────
// Operations
// ──────────────────────────────────────────────────────────────────────────────

func (c *Client) CreateIssue(ctx context.Context, p CreateIssueParams) (*CreateIssueResponse, error) {
	if p.IssueType == "" {
		p.IssueType = "Task"
	}
	fields := map[string]any{
		"project":   map[string]string{"key": p.ProjectKey},
		"summary":   p.Summary,
		"issuetype": map[string]string{"name": p.IssueType},
	}
	if p.Description != "" {
		fields["description"] = adfDocument(p.Description)
	}
	if p.Priority != "" {
		fields["priority"] = map[string]string{"name": p.Priority}
	}
	if len(p.Labels) > 0 {
		fields["labels"] = p.Labels
	}
	if p.AssigneeAccountID != "" {
		fields["assignee"] = map[string]string{"accountId": p.AssigneeAccountID}
	}

	var out CreateIssueResponse
	if _, err := c.rest.Post(ctx, "/rest/api/3/issue", map[string]any{"fields": fields}, &out); err != nil {
		return nil, fmt.Errorf("jira.CreateIssue: %w", err)
	}
	return &out, nil
}

func (c *Client) GetIssue(ctx context.Context, p GetIssueParams) (*Issue, error) {
	var w issueWire
	q := url.Values{"fields": {issueFieldList}}
	if _, err := c.rest.Get(ctx, rest.Path("rest", "api", "3", "issue", p.IssueKey), q, &w); err != nil {
		return nil, fmt.Errorf("jira.GetIssue: %w", err)
	}
	issue := w.flatten()
	return &issue, nil
}

// SearchIssues pages through /search with startAt/maxResults.
func (c *Client) SearchIssues(ctx context.Context, p SearchIssuesParams) (*SearchIssuesResponse, error) {
	limit := rest.ClampLimit(p.Limit, 50)
	pageSize := min(limit, 100)
	total := 0

	issues, err := rest.Collect(ctx, limit, func(ctx context.Context, cursor string) (rest.Page[Issue], error) {
		startAt, _ := strconv.Atoi(cursor)
		var page struct {
			StartAt    int         `json:"startAt"`
			MaxResults int         `json:"maxResults"`
			Total      int         `json:"total"`
			Issues     []issueWire `json:"issues"`
		}
		q := url.Values{
			"jql":        {p.JQL},
			"startAt":    {strconv.Itoa(startAt)},
			"maxResults": {strconv.Itoa(pageSize)},
			"fields":     {issueFieldList},
		}
		if _, err := c.rest.Get(ctx, "/rest/api/3/search", q, &page); err != nil {
			return rest.Page[Issue]{}, err
		}
		total = page.Total
		out := rest.Page[Issue]{Items: make([]Issue, 0, len(page.Issues))}
		for _, w := range page.Issues {
			out.Items = append(out.Items, w.flatten())
		}
		if next := page.StartAt + len(page.Issues); len(page.Issues) > 0 && next < page.Total {
			out.Next = strconv.Itoa(next)
		}
		return out, nil
	})
	if err != nil {
		return nil, fmt.Errorf("jira.SearchIssues: %w", err)
	}
	return &SearchIssuesResponse{Issues: issues, Total: total}, nil
}

func (c *Client) AddComment(ctx context.Context, p AddCommentParams) (*Comment, error) {
	var w struct {
		ID      string `json:"id"`
		Author  *user  `json:"author"`
		Created string `json:"created"`
	}
	body := map[string]any{"body": adfDocument(p.Body)}
	if _, err := c.rest.Post(ctx, rest.Path("rest", "api", "3", "issue", p.IssueKey, "comment"), body, &w); err != nil {
		return nil, fmt.Errorf("jira.AddComment: %w", err)
	}
	out := &Comment{ID: w.ID, Created: w.Created}
	if w.Author != nil {
		out.Author = w.Author.DisplayName
	}
	return out, nil
}

// TransitionIssue resolves a transition name to its id when needed. The
// outcome of the transition itself is reported as http_code.
func (c *Client) TransitionIssue(ctx context.Context, p TransitionIssueParams) (*TransitionIssueResponse, error) {
	path := rest.Path("rest", "api", "3", "issue", p.IssueKey, "transitions")
	id := p.TransitionID
	if id == "" {
		var list struct {
			Transitions []struct {
				ID   string `json:"id"`
				Name string `json:"name"`
			} `json:"transitions"`
		}
		if _, err := c.rest.Get(ctx, path, nil, &list); err != nil {
			return nil, fmt.Errorf("jira.TransitionIssue: list transitions: %w", err)
		}
		var names []string
		for _, t := range list.Transitions {
			if strings.EqualFold(t.Name, p.TransitionName) {
				id = t.ID
				break
			}
			names = append(names, t.Name)
		}
		if id == "" {
			return nil, &types.ValidationError{
				Field:  "transition_name",
				Reason: fmt.Sprintf("no transition %q; available: %s", p.TransitionName, strings.Join(names, ", ")),
			}
		}
	}

	code, err := rest.CodeOf(c.rest.Do(ctx, rest.Request{
		Method: http.MethodPost,
		Path:   path,
		Body:   map[string]any{"transition": map[string]string{"id": id}},
	}, nil))
	if err != nil {
		return nil, fmt.Errorf("jira.TransitionIssue: %w", err)
	}
	return &TransitionIssueResponse{HTTPCode: code}, nil
}

func (c *Client) DeleteIssue(ctx context.Context, p DeleteIssueParams) (*DeleteIssueResponse, error) {
	code, err := rest.CodeOf(c.rest.Do(ctx, rest.Request{
		Method: http.MethodDelete,
		Path:   rest.Path("rest", "api", "3", "issue", p.IssueKey),
		Query:  url.Values{"deleteSubtasks": {strconv.FormatBool(p.DeleteSubtasks)}},
	}, nil))
	if err != nil {
		return nil, fmt.Errorf("jira.DeleteIssue: %w", err)
	}
	return &DeleteIssueResponse{HTTPCode: code}, nil
}
