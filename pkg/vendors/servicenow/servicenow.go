// Package servicenow exposes ServiceNow Table API operations as tools.
package servicenow

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/oauth2"

	"github.com/bturcanu/toolbelt/pkg/rest"
	"github.com/bturcanu/toolbelt/pkg/tool"
	"github.com/bturcanu/toolbelt/pkg/types"
)

const Vendor = "servicenow"

// Config selects Basic auth, or the OAuth2 password grant when ClientID is set.
type Config struct {
	InstanceURL  string `yaml:"instance_url"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
}

type Client struct {
	rest *rest.Client
}

func New(cfg Config, opts ...rest.Option) (*Client, error) {
	switch {
	case cfg.InstanceURL == "":
		return nil, fmt.Errorf("servicenow.New: %w", types.Required("instance_url"))
	case cfg.Username == "":
		return nil, fmt.Errorf("servicenow.New: %w", types.Required("username"))
	case cfg.Password == "":
		return nil, fmt.Errorf("servicenow.New: %w", types.Required("password"))
	}
	rc, err := rest.New(cfg.InstanceURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("servicenow.New: %w", err)
	}
	if cfg.ClientID == "" {
		return &Client{rest: rc.With(rest.WithAuth(rest.Basic(cfg.Username, cfg.Password)))}, nil
	}
	oc := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  strings.TrimRight(rc.BaseURL(), "/") + "/oauth_token.do",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	ts := rest.PasswordGrant(context.Background(), oc, cfg.Username, cfg.Password, rc.HTTPClient())
	return &Client{rest: rc.With(rest.WithAuth(rest.OAuth2(ts)))}, nil
}

func (c *Client) Tools() []tool.Tool {
	return []tool.Tool{
		tool.New(Vendor, "create_incident", "Open a ServiceNow incident.", c.CreateIncident),
		tool.New(Vendor, "get_incident", "Fetch a ServiceNow incident by sys_id or number.", c.GetIncident, tool.ReadOnly()),
		tool.New(Vendor, "list_incidents", "List ServiceNow incidents matching an encoded query.", c.ListIncidents, tool.ReadOnly()),
		tool.New(Vendor, "update_incident", "Update fields on a ServiceNow incident.", c.UpdateIncident),
		tool.New(Vendor, "delete_record", "Delete a record from any ServiceNow table.", c.DeleteRecord, tool.Destructive()),
	}
}

// tableQuery returns display values as plain strings.
func tableQuery() url.Values {
	return url.Values{
		"sysparm_display_value":          {"true"},
		"sysparm_exclude_reference_link": {"true"},
	}
}

func tablePath(table string, sysID ...string) string {
	return rest.Path(append([]string{"api", "now", "table", table}, sysID...)...)
}

// ──────────────────────────────────────────────────────────────────────────────
// DTOs
// ──────────────────────────────────────────────────────────────────────────────

type Incident struct {
	SysID            string `json:"sys_id"`
	Number           string `json:"number"`
	ShortDescription string `json:"short_description"`
	Description      string `json:"description,omitempty"`
	State            string `json:"state,omitempty"`
	Priority         string `json:"priority,omitempty"`
	Urgency          string `json:"urgency,omitempty"`
	Impact           string `json:"impact,omitempty"`
	Category         string `json:"category,omitempty"`
	CallerID         string `json:"caller_id,omitempty"`
	AssignedTo       string `json:"assigned_to,omitempty"`
	AssignmentGroup  string `json:"assignment_group,omitempty"`
	OpenedAt         string `json:"opened_at,omitempty"`
	UpdatedAt        string `json:"sys_updated_on,omitempty"`
}

const incidentFields = "sys_id,number,short_description,description,state,priority,urgency,impact,category,caller_id,assigned_to,assignment_group,opened_at,sys_updated_on"

type CreateIncidentParams struct {
	ShortDescription string `json:"short_description" jsonschema:"required"`
	Description      string `json:"description,omitempty"`
	Urgency          string `json:"urgency,omitempty" jsonschema:"enum=1,enum=2,enum=3"`
	Impact           string `json:"impact,omitempty" jsonschema:"enum=1,enum=2,enum=3"`
	Category         string `json:"category,omitempty"`
	CallerID         string `json:"caller_id,omitempty" jsonschema_description:"sys_id or user name of the caller"`
	AssignmentGroup  string `json:"assignment_group,omitempty"`
}

type GetIncidentParams struct {
	SysID  string `json:"sys_id,omitempty"`
	Number string `json:"number,omitempty" jsonschema_description:"e.g. INC0010001"`
}

func (p GetIncidentParams) Validate() error {
	if p.SysID == "" && p.Number == "" {
		return &types.ValidationError{Field: "sys_id", Reason: "sys_id or number is required"}
	}
	return nil
}

type ListIncidentsParams struct {
	Query string `json:"query,omitempty" jsonschema_description:"Encoded query, e.g. active=true^priority=1"`
	Limit int    `json:"limit,omitempty" jsonschema:"minimum=1,maximum=1000"`
}

type ListIncidentsResponse struct {
	Incidents []Incident `json:"incidents"`
}

type UpdateIncidentParams struct {
	SysID  string            `json:"sys_id" jsonschema:"required"`
	Fields map[string]string `json:"fields" jsonschema:"required" jsonschema_description:"Column name to new value, e.g. state, work_notes"`
}

type DeleteRecordParams struct {
	Table string `json:"table" jsonschema:"required" jsonschema_description:"Table name, e.g. incident or change_request"`
	SysID string `json:"sys_id" jsonschema:"required"`
}

type DeleteRecordResponse struct {
	HTTPCode int `json:"http_code"`
}

// ──────────────────────────────────────────────────────────────────────────────
// Operations
// ──────────────────────────────────────────────────────────────────────────────

func (c *Client) CreateIncident(ctx context.Context, p CreateIncidentParams) (*Incident, error) {
	body := map[string]string{"short_description": p.ShortDescription}
	for k, v := range map[string]string{
		"description":      p.Description,
		"urgency":          p.Urgency,
		"impact":           p.Impact,
		"category":         p.Category,
		"caller_id":        p.CallerID,
		"assignment_group": p.AssignmentGroup,
	} {
		if v != "" {
			body[k] = v
		}
	}
	var out struct {
		Result Incident `json:"result"`
	}
	if _, err := c.rest.Do(ctx, rest.Request{Method: http.MethodPost, Path: tablePath("incident"), Query: tableQuery(), Body: body}, &out); err != nil {
		return nil, fmt.Errorf("servicenow.CreateIncident: %w", err)
	}
	return &out.Result, nil
}

func (c *Client) GetIncident(ctx context.Context, p GetIncidentParams) (*Incident, error) {
	q := tableQuery()
	q.Set("sysparm_fields", incidentFields)
	if p.SysID != "" {
		var out struct {
			Result Incident `json:"result"`
		}
		if _, err := c.rest.Get(ctx, tablePath("incident", p.SysID), q, &out); err != nil {
			return nil, fmt.Errorf("servicenow.GetIncident: %w", err)
		}
		return &out.Result, nil
	}

	q.Set("sysparm_query", "number="+p.Number)
	q.Set("sysparm_limit", "1")
	var out struct {
		Result []Incident `json:"result"`
	}
	if _, err := c.rest.Get(ctx, tablePath("incident"), q, &out); err != nil {
		return nil, fmt.Errorf("servicenow.GetIncident: %w", err)
	}
	if len(out.Result) == 0 {
		return nil, fmt.Errorf("servicenow.GetIncident: incident %s not found", p.Number)
	}
	return &out.Result[0], nil
}

// ListIncidents pages with sysparm_offset until a short page comes back.
func (c *Client) ListIncidents(ctx context.Context, p ListIncidentsParams) (*ListIncidentsResponse, error) {
	limit := rest.ClampLimit(p.Limit, 100)
	pageSize := min(limit, 100)
	incidents, err := rest.Collect(ctx, limit, func(ctx context.Context, cursor string) (rest.Page[Incident], error) {
		offset, _ := strconv.Atoi(cursor)
		q := tableQuery()
		q.Set("sysparm_fields", incidentFields)
		q.Set("sysparm_limit", strconv.Itoa(pageSize))
		q.Set("sysparm_offset", strconv.Itoa(offset))
		if p.Query != "" {
			q.Set("sysparm_query", p.Query)
		}
		var out struct {
			Result []Incident `json:"result"`
		}
		if _, err := c.rest.Get(ctx, tablePath("incident"), q, &out); err != nil {
			return rest.Page[Incident]{}, err
		}
		page := rest.Page[Incident]{Items: out.Result}
		if len(out.Result) == pageSize {
			page.Next = strconv.Itoa(offset + pageSize)
		}
		return page, nil
	})
	if err != nil {
		return nil, fmt.Errorf("servicenow.ListIncidents: %w", err)
	}
	return &ListIncidentsResponse{Incidents: incidents}, nil
}

func (c *Client) UpdateIncident(ctx context.Context, p UpdateIncidentParams) (*Incident, error) {
	var out struct {
		Result Incident `json:"result"`
	}
	if _, err := c.rest.Do(ctx, rest.Request{Method: http.MethodPatch, Path: tablePath("incident", p.SysID), Query: tableQuery(), Body: p.Fields}, &out); err != nil {
		return nil, fmt.Errorf("servicenow.UpdateIncident: %w", err)
	}
	return &out.Result, nil
}

func (c *Client) DeleteRecord(ctx context.Context, p DeleteRecordParams) (*DeleteRecordResponse, error) {
	code, err := rest.CodeOf(c.rest.Delete(ctx, tablePath(p.Table, p.SysID), nil))
	if err != nil {
		return nil, fmt.Errorf("servicenow.DeleteRecord: %w", err)
	}
	return &DeleteRecordResponse{HTTPCode: code}, nil
}
