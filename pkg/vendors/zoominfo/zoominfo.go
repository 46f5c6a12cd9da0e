// Package zoominfo exposes ZoomInfo contact and company search and enrichment
// as tools. Auth exchanges a username and password for a JWT that ZoomInfo
// honours for one hour.
package zoominfo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/oauth2"

	"github.com/bturcanu/toolbelt/pkg/rest"
	"github.com/bturcanu/toolbelt/pkg/tool"
	"github.com/bturcanu/toolbelt/pkg/types"
)

const (
	Vendor         = "zoominfo"
	DefaultBaseURL = "https://api.zoominfo.com"

	// TokenLifetime is how long a JWT from /authenticate stays valid.
	TokenLifetime = 60 * time.Minute
)

type Config struct {
	BaseURL  string `yaml:"base_url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type Client struct {
	rest *rest.Client
}

func New(cfg Config, opts ...rest.Option) (*Client, error) {
	switch {
	case cfg.Username == "":
		return nil, fmt.Errorf("zoominfo.New: %w", types.Required("username"))
	case cfg.Password == "":
		return nil, fmt.Errorf("zoominfo.New: %w", types.Required("password"))
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	rc, err := rest.New(cfg.BaseURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("zoominfo.New: %w", err)
	}
	ts := rest.CachedToken(context.Background(), authenticate(rc, cfg.Username, cfg.Password), rest.DefaultExpirySkew)
	return &Client{rest: rc.With(rest.WithAuth(rest.OAuth2(ts)))}, nil
}

func authenticate(rc *rest.Client, user, pass string) rest.TokenFetcher {
	return func(ctx context.Context) (*oauth2.Token, error) {
		issued := time.Now()
		var out struct {
			JWT string `json:"jwt"`
		}
		body := map[string]string{"username": user, "password": pass}
		if _, err := rc.Post(ctx, "/authenticate", body, &out); err != nil {
			return nil, fmt.Errorf("zoominfo authenticate: %w", err)
		}
		if out.JWT == "" {
			return nil, errors.New("zoominfo authenticate: response carried no jwt")
		}
		return &oauth2.Token{AccessToken: out.JWT, TokenType: "Bearer", Expiry: issued.Add(TokenLifetime)}, nil
	}
}

func (c *Client) Tools() []tool.Tool {
	return []tool.Tool{
		tool.New(Vendor, "search_contacts", "Search ZoomInfo for contacts by name, company or title.", c.SearchContacts, tool.ReadOnly()),
		tool.New(Vendor, "search_companies", "Search ZoomInfo for companies.", c.SearchCompanies, tool.ReadOnly()),
		tool.New(Vendor, "enrich_contact", "Enrich a single contact with ZoomInfo data.", c.EnrichContact, tool.ReadOnly()),
	}
}

type searchPage[T any] struct {
	MaxResults   int `json:"maxResults"`
	TotalResults int `json:"totalResults"`
	CurrentPage  int `json:"currentPage"`
	Data         []T `json:"data"`
}

// search pages a /search endpoint by page number; rpp is capped by ZoomInfo at 100.
func search[T any](ctx context.Context, c *Client, path string, limit int, filters map[string]any) ([]T, error) {
	rpp := min(limit, 100)
	seen := 0
	return rest.Collect(ctx, limit, func(ctx context.Context, cursor string) (rest.Page[T], error) {
		page := 1
		if cursor != "" {
			page, _ = strconv.Atoi(cursor)
		}
		body := make(map[string]any, len(filters)+2)
		for k, v := range filters {
			body[k] = v
		}
		body["rpp"] = rpp
		body["page"] = page
		var out searchPage[T]
		if _, err := c.rest.Post(ctx, path, body, &out); err != nil {
			return rest.Page[T]{}, err
		}
		seen += len(out.Data)
		p := rest.Page[T]{Items: out.Data}
		if len(out.Data) > 0 && seen < out.TotalResults {
			p.Next = strconv.Itoa(page + 1)
		}
		return p, nil
	})
}

// criteria drops empty string values so only set filters are sent.
func criteria(kv ...string) map[string]any {
	m := map[string]any{}
	for i := 0; i+1 < len(kv); i += 2 {
		if kv[i+1] != "" {
			m[kv[i]] = kv[i+1]
		}
	}
	return m
}

// ──────────────────────────────────────────────────────────────────────────────
// Contacts
// ──────────────────────────────────────────────────────────────────────────────

type Contact struct {
	ID            int64  `json:"id"`
	FirstName     string `json:"first_name"`
	LastName      string `json:"last_name"`
	JobTitle      string `json:"job_title,omitempty"`
	Email         string `json:"email,omitempty"`
	Phone         string `json:"phone,omitempty"`
	CompanyID     int64  `json:"company_id,omitempty"`
	CompanyName   string `json:"company_name,omitempty"`
	AccuracyScore int    `json:"accuracy_score,omitempty"`
	HasEmail      bool   `json:"has_email"`
}

type contactWire struct {
	ID                   int64  `json:"id"`
	FirstName            string `json:"firstName"`
	LastName             string `json:"lastName"`
	JobTitle             string `json:"jobTitle"`
	Email                string `json:"email"`
	Phone                string `json:"phone"`
	ContactAccuracyScore int    `json:"contactAccuracyScore"`
	HasEmail             bool   `json:"hasEmail"`
	Company              *struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	} `json:"company"`
}

func (w contactWire) flatten() Contact {
	c := Contact{
		ID:            w.ID,
		FirstName:     w.FirstName,
		LastName:      w.LastName,
		JobTitle:      w.JobTitle,
		Email:         w.Email,
		Phone:         w.Phone,
		AccuracyScore: w.ContactAccuracyScore,
		HasEmail:      w.HasEmail || w.Email != "",
	}
	if w.Company != nil {
		c.CompanyID = w.Company.ID
		c.CompanyName = w.Company.Name
	}
	return c
}

type SearchContactsParams struct {
	FirstName   string `json:"first_name,omitempty"`
	LastName    string `json:"last_name,omitempty"`
	CompanyName string `json:"company_name,omitempty"`
	JobTitle    string `json:"job_title,omitempty"`
	Email       string `json:"email,omitempty"`
	Limit       int    `json:"limit,omitempty" jsonschema:"minimum=1,maximum=1000"`
}

func (p SearchContactsParams) Validate() error {
	if p.FirstName == "" && p.LastName == "" && p.CompanyName == "" && p.JobTitle == "" && p.Email == "" {
		return &types.ValidationError{Field: "criteria", Reason: "at least one search field is required"}
	}
	return nil
}

type SearchContactsResponse struct {
	Contacts []Contact `json:"contacts"`
}

func (c *Client) SearchContacts(ctx context.Context, p SearchContactsParams) (*SearchContactsResponse, error) {
	body := criteria(
		"firstName", p.FirstName,
		"lastName", p.LastName,
		"companyName", p.CompanyName,
		"jobTitle", p.JobTitle,
		"emailAddress", p.Email,
	)
	rows, err := search[contactWire](ctx, c, "/search/contact", rest.ClampLimit(p.Limit, 25), body)
	if err != nil {
		return nil, fmt.Errorf("zoominfo.SearchContacts: %w", err)
	}
	out := &SearchContactsResponse{Contacts: make([]Contact, 0, len(rows))}
	for _, r := range rows {
		out.Contacts = append(out.Contacts, r.flatten())
	}
	return out, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Companies
// ──────────────────────────────────────────────────────────────────────────────

type Company struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Website   string `json:"website,omitempty"`
	City      string `json:"city,omitempty"`
	State     string `json:"state,omitempty"`
	Country   string `json:"country,omitempty"`
	Revenue   int64  `json:"revenue,omitempty"`
	Employees int64  `json:"employees,omitempty"`
}

type companyWire struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	Website       string `json:"website"`
	City          string `json:"city"`
	State         string `json:"state"`
	Country       string `json:"country"`
	Revenue       int64  `json:"revenue"`
	EmployeeCount int64  `json:"employeeCount"`
}

type SearchCompaniesParams struct {
	Name    string `json:"name,omitempty"`
	Website string `json:"website,omitempty"`
	Country string `json:"country,omitempty"`
	State   string `json:"state,omitempty"`
	Limit   int    `json:"limit,omitempty" jsonschema:"minimum=1,maximum=1000"`
}

func (p SearchCompaniesParams) Validate() error {
	if p.Name == "" && p.Website == "" && p.Country == "" && p.State == "" {
		return &types.ValidationError{Field: "criteria", Reason: "at least one search field is required"}
	}
	return nil
}

type SearchCompaniesResponse struct {
	Companies []Company `json:"companies"`
}

func (c *Client) SearchCompanies(ctx context.Context, p SearchCompaniesParams) (*SearchCompaniesResponse, error) {
	body := criteria(
		"companyName", p.Name,
		"companyWebsite", p.Website,
		"country", p.Country,
		"state", p.State,
	)
	rows, err := search[companyWire](ctx, c, "/search/company", rest.ClampLimit(p.Limit, 25), body)
	if err != nil {
		return nil, fmt.Errorf("zoominfo.SearchCompanies: %w", err)
	}
	out := &SearchCompaniesResponse{Companies: make([]Company, 0, len(rows))}
	for _, r := range rows {
		out.Companies = append(out.Companies, Company{
			ID:        r.ID,
			Name:      r.Name,
			Website:   r.Website,
			City:      r.City,
			State:     r.State,
			Country:   r.Country,
			Revenue:   r.Revenue,
			Employees: r.EmployeeCount,
		})
	}
	return out, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Enrichment
// ──────────────────────────────────────────────────────────────────────────────

var enrichOutputFields = []string{
	"id", "firstName", "lastName", "email", "phone", "jobTitle", "contactAccuracyScore", "companyId", "companyName",
}

type EnrichContactParams struct {
	Email       string `json:"email,omitempty"`
	PersonID    int64  `json:"person_id,omitempty" jsonschema_description:"ZoomInfo person id"`
	FirstName   string `json:"first_name,omitempty"`
	LastName    string `json:"last_name,omitempty"`
	CompanyName string `json:"company_name,omitempty"`
}

func (p EnrichContactParams) Validate() error {
	if p.Email == "" && p.PersonID == 0 && (p.FirstName == "" || p.LastName == "" || p.CompanyName == "") {
		return &types.ValidationError{Field: "email", Reason: "email, person_id, or full name with company_name is required"}
	}
	return nil
}

type EnrichContactResponse struct {
	MatchStatus string   `json:"match_status"`
	Contact     *Contact `json:"contact,omitempty"`
}

func (c *Client) EnrichContact(ctx context.Context, p EnrichContactParams) (*EnrichContactResponse, error) {
	input := criteria(
		"emailAddress", p.Email,
		"firstName", p.FirstName,
		"lastName", p.LastName,
		"companyName", p.CompanyName,
	)
	if p.PersonID != 0 {
		input["personId"] = p.PersonID
	}
	body := map[string]any{
		"matchPersonInput": []map[string]any{input},
		"outputFields":     enrichOutputFields,
	}
	var out struct {
		Success bool `json:"success"`
		Data    struct {
			Result []struct {
				MatchStatus string `json:"matchStatus"`
				Data        []struct {
					ID                   int64  `json:"id"`
					FirstName            string `json:"firstName"`
					LastName             string `json:"lastName"`
					Email                string `json:"email"`
					Phone                string `json:"phone"`
					JobTitle             string `json:"jobTitle"`
					ContactAccuracyScore int    `json:"contactAccuracyScore"`
					CompanyID            int64  `json:"companyId"`
					CompanyName          string `json:"companyName"`
				} `json:"data"`
			} `json:"result"`
		} `json:"data"`
	}
	if _, err := c.rest.Post(ctx, "/enrich/contact", body, &out); err != nil {
		return nil, fmt.Errorf("zoominfo.EnrichContact: %w", err)
	}
	if len(out.Data.Result) == 0 {
		return &EnrichContactResponse{MatchStatus: "NO_MATCH"}, nil
	}
	res := out.Data.Result[0]
	resp := &EnrichContactResponse{MatchStatus: res.MatchStatus}
	if len(res.Data) > 0 {
		d := res.Data[0]
		resp.Contact = &Contact{
			ID:            d.ID,
			FirstName:     d.FirstName,
			LastName:      d.LastName,
			JobTitle:      d.JobTitle,
			Email:         d.Email,
			Phone:         d.Phone,
			CompanyID:     d.CompanyID,
			CompanyName:   d.CompanyName,
			AccuracyScore: d.ContactAccuracyScore,
			HasEmail:      d.Email != "",
		}
	}
	return resp, nil
}
