// Package hubspot exposes HubSpot CRM v3 contact operations as tools.
package hubspot

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/bturcanu/toolbelt/pkg/rest"
	"github.com/bturcanu/toolbelt/pkg/tool"
	"github.com/bturcanu/toolbelt/pkg/types"
)

const (
	Vendor         = "hubspot"
	DefaultBaseURL = "https://api.hubapi.com"
)

// Config holds a private app access token.
type Config struct {
	BaseURL     string `yaml:"base_url"`
	AccessToken string `yaml:"access_token"`
}

type Client struct {
	rest *rest.Client
}

func New(cfg Config, opts ...rest.Option) (*Client, error) {
	if cfg.AccessToken == "" {
		return nil, fmt.Errorf("hubspot.New: %w", types.Required("access_token"))
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	rc, err := rest.New(cfg.BaseURL, append([]rest.Option{rest.WithAuth(rest.Bearer(cfg.AccessToken))}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("hubspot.New: %w", err)
	}
	return &Client{rest: rc}, nil
}

func (c *Client) Tools() []tool.Tool {
	return []tool.Tool{
		tool.New(Vendor, "create_contact", "Create a HubSpot contact.", c.CreateContact),
		tool.New(Vendor, "get_contact", "Fetch a HubSpot contact by id or email.", c.GetContact, tool.ReadOnly()),
		tool.New(Vendor, "update_contact", "Update properties on a HubSpot contact.", c.UpdateContact),
		tool.New(Vendor, "search_contacts", "Search HubSpot contacts by text or property filters.", c.SearchContacts, tool.ReadOnly()),
		tool.New(Vendor, "archive_contact", "Archive (soft-delete) a HubSpot contact.", c.ArchiveContact, tool.Destructive()),
	}
}

// defaultProperties are requested on every read.
var defaultProperties = []string{"email", "firstname", "lastname", "phone", "company", "jobtitle", "lifecyclestage"}

// ──────────────────────────────────────────────────────────────────────────────
// DTOs
// ──────────────────────────────────────────────────────────────────────────────

type Contact struct {
	ID             string `json:"id"`
	Email          string `json:"email,omitempty"`
	FirstName      string `json:"first_name,omitempty"`
	LastName       string `json:"last_name,omitempty"`
	Phone          string `json:"phone,omitempty"`
	Company        string `json:"company,omitempty"`
	JobTitle       string `json:"job_title,omitempty"`
	LifecycleStage string `json:"lifecycle_stage,omitempty"`
	CreatedAt      string `json:"created_at,omitempty"`
	UpdatedAt      string `json:"updated_at,omitempty"`
	Archived       bool   `json:"archived"`
}

type contactWire struct {
	ID         string             `json:"id"`
	Properties map[string]*string `json:"properties"`
	CreatedAt  string             `json:"createdAt"`
	UpdatedAt  string             `json:"updatedAt"`
	Archived   bool               `json:"archived"`
}

func (w contactWire) flatten() Contact {
	prop := func(k string) string {
		if v := w.Properties[k]; v != nil {
			return *v
		}
		return ""
	}
	return Contact{
		ID:             w.ID,
		Email:          prop("email"),
		FirstName:      prop("firstname"),
		LastName:       prop("lastname"),
		Phone:          prop("phone"),
		Company:        prop("company"),
		JobTitle:       prop("jobtitle"),
		LifecycleStage: prop("lifecyclestage"),
		CreatedAt:      w.CreatedAt,
		UpdatedAt:      w.UpdatedAt,
		Archived:       w.Archived,
	}
}

// ContactProperties are the writable fields; Extra carries any other
// internal property name.
type ContactProperties struct {
	Email     string            `json:"email,omitempty"`
	FirstName string            `json:"first_name,omitempty"`
	LastName  string            `json:"last_name,omitempty"`
	Phone     string            `json:"phone,omitempty"`
	Company   string            `json:"company,omitempty"`
	JobTitle  string            `json:"job_title,omitempty"`
	Extra     map[string]string `json:"extra,omitempty" jsonschema_description:"Additional HubSpot property names and values"`
}

func (p ContactProperties) wire() map[string]string {
	out := make(map[string]string, len(p.Extra)+6)
	for k, v := range p.Extra {
		out[k] = v
	}
	for k, v := range map[string]string{
		"email":     p.Email,
		"firstname": p.FirstName,
		"lastname":  p.LastName,
		"phone":     p.Phone,
		"company":   p.Company,
		"jobtitle":  p.JobTitle,
	} {
		if v != "" {
			out[k] = v
		}
	}
	return out
}

// ──────────────────────────────────────────────────────────────────────────────
// Operations
// ──────────────────────────────────────────────────────────────────────────────

type CreateContactParams struct {
	ContactProperties
}

func (p CreateContactParams) Validate() error {
	if p.Email == "" && p.FirstName == "" && p.LastName == "" {
		return &types.ValidationError{Field: "email", Reason: "email or a name is required"}
	}
	return nil
}

func (c *Client) CreateContact(ctx context.Context, p CreateContactParams) (*Contact, error) {
	var w contactWire
	if _, err := c.rest.Post(ctx, "/crm/v3/objects/contacts", map[string]any{"properties": p.wire()}, &w); err != nil {
		return nil, fmt.Errorf("hubspot.CreateContact: %w", err)
	}
	out := w.flatten()
	return &out, nil
}

type GetContactParams struct {
	ContactID string `json:"contact_id" jsonschema:"required" jsonschema_description:"Record id, or an email address when by_email is set"`
	ByEmail   bool   `json:"by_email,omitempty"`
}

func (c *Client) GetContact(ctx context.Context, p GetContactParams) (*Contact, error) {
	q := url.Values{"properties": {strings.Join(defaultProperties, ",")}}
	if p.ByEmail {
		q.Set("idProperty", "email")
	}
	var w contactWire
	if _, err := c.rest.Get(ctx, rest.Path("crm", "v3", "objects", "contacts", p.ContactID), q, &w); err != nil {
		return nil, fmt.Errorf("hubspot.GetContact: %w", err)
	}
	out := w.flatten()
	return &out, nil
}

type UpdateContactParams struct {
	ContactID string `json:"contact_id" jsonschema:"required"`
	ContactProperties
}

func (c *Client) UpdateContact(ctx context.Context, p UpdateContactParams) (*Contact, error) {
	props := p.wire()
	if len(props) == 0 {
		return nil, &types.ValidationError{Field: "arguments", Reason: "nothing to update"}
	}
	var w contactWire
	if _, err := c.rest.Patch(ctx, rest.Path("crm", "v3", "objects", "contacts", p.ContactID), map[string]any{"properties": props}, &w); err != nil {
		return nil, fmt.Errorf("hubspot.UpdateContact: %w", err)
	}
	out := w.flatten()
	return &out, nil
}

type Filter struct {
	Property string `json:"property" jsonschema:"required"`
	Operator string `json:"operator" jsonschema:"required,enum=EQ,enum=NEQ,enum=LT,enum=LTE,enum=GT,enum=GTE,enum=CONTAINS_TOKEN,enum=HAS_PROPERTY,enum=NOT_HAS_PROPERTY"`
	Value    string `json:"value,omitempty"`
}

type SearchContactsParams struct {
	Query   string   `json:"query,omitempty" jsonschema_description:"Free text matched against default searchable properties"`
	Filters []Filter `json:"filters,omitempty" jsonschema_description:"ANDed property filters"`
	Limit   int      `json:"limit,omitempty" jsonschema:"minimum=1,maximum=1000"`
}

type SearchContactsResponse struct {
	Total    int       `json:"total"`
	Contacts []Contact `json:"contacts"`
}

// SearchContacts pages with paging.next.after.
func (c *Client) SearchContacts(ctx context.Context, p SearchContactsParams) (*SearchContactsResponse, error) {
	limit := rest.ClampLimit(p.Limit, 100)
	filters := make([]map[string]string, 0, len(p.Filters))
	for _, f := range p.Filters {
		m := map[string]string{"propertyName": f.Property, "operator": f.Operator}
		if f.Value != "" {
			m["value"] = f.Value
		}
		filters = append(filters, m)
	}

	total := 0
	contacts, err := rest.Collect(ctx, limit, func(ctx context.Context, cursor string) (rest.Page[Contact], error) {
		body := map[string]any{
			"properties": defaultProperties,
			"limit":      min(limit, 100),
		}
		if p.Query != "" {
			body["query"] = p.Query
		}
		if len(filters) > 0 {
			body["filterGroups"] = []any{map[string]any{"filters": filters}}
		}
		if cursor != "" {
			body["after"] = cursor
		}
		var out struct {
			Total   int           `json:"total"`
			Results []contactWire `json:"results"`
			Paging  *struct {
				Next struct {
					After string `json:"after"`
				} `json:"next"`
			} `json:"paging"`
		}
		if _, err := c.rest.Post(ctx, "/crm/v3/objects/contacts/search", body, &out); err != nil {
			return rest.Page[Contact]{}, err
		}
		total = out.Total
		page := rest.Page[Contact]{Items: make([]Contact, 0, len(out.Results))}
		for _, w := range out.Results {
			page.Items = append(page.Items, w.flatten())
		}
		if out.Paging != nil {
			page.Next = out.Paging.Next.After
		}
		return page, nil
	})
	if err != nil {
		return nil, fmt.Errorf("hubspot.SearchContacts: %w", err)
	}
	return &SearchContactsResponse{Total: total, Contacts: contacts}, nil
}

type ArchiveContactParams struct {
	ContactID string `json:"contact_id" jsonschema:"required"`
}

type ArchiveContactResponse struct {
	HTTPCode int `json:"http_code"`
}

func (c *Client) ArchiveContact(ctx context.Context, p ArchiveContactParams) (*ArchiveContactResponse, error) {
	code, err := rest.CodeOf(c.rest.Delete(ctx, rest.Path("crm", "v3", "objects", "contacts", p.ContactID), nil))
	if err != nil {
		return nil, fmt.Errorf("hubspot.ArchiveContact: %w", err)
	}
	return &ArchiveContactResponse{HTTPCode: code}, nil
}
