// Package zendesk exposes Zendesk Support ticket operations as tools.
package zendesk

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/bturcanu/toolbelt/pkg/rest"
	"github.com/bturcanu/toolbelt/pkg/tool"
	"github.com/bturcanu/toolbelt/pkg/types"
)

const Vendor = "zendesk"

// Config authenticates with an API token as "email/token". BaseURL wins over
// Subdomain when both are set.
type Config struct {
	Subdomain string `yaml:"subdomain"`
	BaseURL   string `yaml:"base_url"`
	Email     string `yaml:"email"`
	APIToken  string `yaml:"api_token"`
}

type Client struct {
	rest *rest.Client
}

func New(cfg Config, opts ...rest.Option) (*Client, error) {
	if cfg.BaseURL == "" && cfg.Subdomain != "" {
		cfg.BaseURL = "https://" + cfg.Subdomain + ".zendesk.com"
	}
	switch {
	case cfg.BaseURL == "":
		return nil, fmt.Errorf("zendesk.New: %w", types.Required("subdomain"))
	case cfg.Email == "":
		return nil, fmt.Errorf("zendesk.New: %w", types.Required("email"))
	case cfg.APIToken == "":
		return nil, fmt.Errorf("zendesk.New: %w", types.Required("api_token"))
	}
	auth := rest.WithAuth(rest.Basic(cfg.Email+"/token", cfg.APIToken))
	rc, err := rest.New(cfg.BaseURL, append([]rest.Option{auth}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("zendesk.New: %w", err)
	}
	return &Client{rest: rc}, nil
}

func (c *Client) Tools() []tool.Tool {
	return []tool.Tool{
		tool.New(Vendor, "create_ticket", "Create a Zendesk ticket.", c.CreateTicket),
		tool.New(Vendor, "get_ticket", "Fetch a Zendesk ticket by id.", c.GetTicket, tool.ReadOnly()),
		tool.New(Vendor, "update_ticket", "Update a Zendesk ticket and optionally add a comment.", c.UpdateTicket),
		tool.New(Vendor, "list_tickets", "List Zendesk tickets, newest first.", c.ListTickets, tool.ReadOnly()),
		tool.New(Vendor, "delete_ticket", "Delete a Zendesk ticket.", c.DeleteTicket, tool.Destructive()),
	}
}

func ticketPath(id int64) string {
	return rest.Path("api", "v2", "tickets", strconv.FormatInt(id, 10)+".json")
}

type Ticket struct {
	ID          int64    `json:"id"`
	URL         string   `json:"url,omitempty"`
	Subject     string   `json:"subject"`
	Description string   `json:"description,omitempty"`
	Status      string   `json:"status,omitempty"`
	Priority    string   `json:"priority,omitempty"`
	Type        string   `json:"type,omitempty"`
	RequesterID int64    `json:"requester_id,omitempty"`
	AssigneeID  int64    `json:"assignee_id,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	CreatedAt   string   `json:"created_at,omitempty"`
	UpdatedAt   string   `json:"updated_at,omitempty"`
}

type ticketEnvelope struct {
	Ticket Ticket `json:"ticket"`
}

type comment struct {
	Body   string `json:"body"`
	Public *bool  `json:"public,omitempty"`
}

type CreateTicketParams struct {
	Subject        string   `json:"subject" jsonschema:"required"`
	Body           string   `json:"body" jsonschema:"required" jsonschema_description:"First comment, shown as the ticket description"`
	Priority       string   `json:"priority,omitempty" jsonschema:"enum=low,enum=normal,enum=high,enum=urgent"`
	Type           string   `json:"type,omitempty" jsonschema:"enum=problem,enum=incident,enum=question,enum=task"`
	Tags           []string `json:"tags,omitempty"`
	RequesterEmail string   `json:"requester_email,omitempty"`
	RequesterName  string   `json:"requester_name,omitempty"`
}

func (c *Client) CreateTicket(ctx context.Context, p CreateTicketParams) (*Ticket, error) {
	t := map[string]any{
		"subject": p.Subject,
		"comment": comment{Body: p.Body},
	}
	if p.Priority != "" {
		t["priority"] = p.Priority
	}
	if p.Type != "" {
		t["type"] = p.Type
	}
	if len(p.Tags) > 0 {
		t["tags"] = p.Tags
	}
	if p.RequesterEmail != "" {
		t["requester"] = map[string]string{"email": p.RequesterEmail, "name": p.RequesterName}
	}
	var out ticketEnvelope
	if _, err := c.rest.Post(ctx, "/api/v2/tickets.json", map[string]any{"ticket": t}, &out); err != nil {
		return nil, fmt.Errorf("zendesk.CreateTicket: %w", err)
	}
	return &out.Ticket, nil
}

type GetTicketParams struct {
	TicketID int64 `json:"ticket_id" jsonschema:"required,minimum=1"`
}

func (c *Client) GetTicket(ctx context.Context, p GetTicketParams) (*Ticket, error) {
	var out ticketEnvelope
	if _, err := c.rest.Get(ctx, ticketPath(p.TicketID), nil, &out); err != nil {
		return nil, fmt.Errorf("zendesk.GetTicket: %w", err)
	}
	return &out.Ticket, nil
}

type UpdateTicketParams struct {
	TicketID      int64    `json:"ticket_id" jsonschema:"required,minimum=1"`
	Status        string   `json:"status,omitempty" jsonschema:"enum=new,enum=open,enum=pending,enum=hold,enum=solved,enum=closed"`
	Priority      string   `json:"priority,omitempty" jsonschema:"enum=low,enum=normal,enum=high,enum=urgent"`
	AssigneeID    int64    `json:"assignee_id,omitempty"`
	Tags          []string `json:"tags,omitempty" jsonschema_description:"Replaces the ticket's tags"`
	Comment       string   `json:"comment,omitempty"`
	CommentPublic *bool    `json:"comment_public,omitempty" jsonschema_description:"Defaults to true; false adds an internal note"`
}

func (c *Client) UpdateTicket(ctx context.Context, p UpdateTicketParams) (*Ticket, error) {
	t := map[string]any{}
	if p.Status != "" {
		t["status"] = p.Status
	}
	if p.Priority != "" {
		t["priority"] = p.Priority
	}
	if p.AssigneeID != 0 {
		t["assignee_id"] = p.AssigneeID
	}
	if p.Tags != nil {
		t["tags"] = p.Tags
	}
	if p.Comment != "" {
		t["comment"] = comment{Body: p.Comment, Public: p.CommentPublic}
	}
	if len(t) == 0 {
		return nil, &types.ValidationError{Field: "arguments", Reason: "nothing to update"}
	}
	var out ticketEnvelope
	if _, err := c.rest.Put(ctx, ticketPath(p.TicketID), map[string]any{"ticket": t}, &out); err != nil {
		return nil, fmt.Errorf("zendesk.UpdateTicket: %w", err)
	}
	return &out.Ticket, nil
}

type ListTicketsParams struct {
	Limit int `json:"limit,omitempty" jsonschema:"minimum=1,maximum=1000"`
}

type ListTicketsResponse struct {
	Tickets []Ticket `json:"tickets"`
}

// ListTickets uses cursor pagination (page[size] / page[after]).
func (c *Client) ListTickets(ctx context.Context, p ListTicketsParams) (*ListTicketsResponse, error) {
	limit := rest.ClampLimit(p.Limit, 100)
	tickets, err := rest.Collect(ctx, limit, func(ctx context.Context, cursor string) (rest.Page[Ticket], error) {
		q := url.Values{
			"page[size]": {strconv.Itoa(min(limit, 100))},
			"sort":       {"-updated_at"},
		}
		if cursor != "" {
			q.Set("page[after]", cursor)
		}
		var out struct {
			Tickets []Ticket `json:"tickets"`
			Meta    struct {
				HasMore     bool   `json:"has_more"`
				AfterCursor string `json:"after_cursor"`
			} `json:"meta"`
		}
		if _, err := c.rest.Get(ctx, "/api/v2/tickets.json", q, &out); err != nil {
			return rest.Page[Ticket]{}, err
		}
		page := rest.Page[Ticket]{Items: out.Tickets}
		if out.Meta.HasMore {
			page.Next = out.Meta.AfterCursor
		}
		return page, nil
	})
	if err != nil {
		return nil, fmt.Errorf("zendesk.ListTickets: %w", err)
	}
	return &ListTicketsResponse{Tickets: tickets}, nil
}

type DeleteTicketParams struct {
	TicketID int64 `json:"ticket_id" jsonschema:"required,minimum=1"`
}

type DeleteTicketResponse struct {
	HTTPCode int `json:"http_code"`
}

func (c *Client) DeleteTicket(ctx context.Context, p DeleteTicketParams) (*DeleteTicketResponse, error) {
	code, err := rest.CodeOf(c.rest.Delete(ctx, ticketPath(p.TicketID), nil))
	if err != nil {
		return nil, fmt.Errorf("zendesk.DeleteTicket: %w", err)
	}
	return &DeleteTicketResponse{HTTPCode: code}, nil
}
