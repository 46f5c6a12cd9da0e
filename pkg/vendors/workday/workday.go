// Package workday exposes Workday REST API (common/staffing/absence) operations
// as tools. Auth is an API client's long-lived refresh token.
package workday

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/oauth2"

	"github.com/bturcanu/toolbelt/pkg/rest"
	"github.com/bturcanu/toolbelt/pkg/tool"
	"github.com/bturcanu/toolbelt/pkg/types"
)

const Vendor = "workday"

type Config struct {
	// BaseURL is the services host, e.g. https://wd2-impl-services1.workday.com.
	BaseURL      string `yaml:"base_url"`
	Tenant       string `yaml:"tenant"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RefreshToken string `yaml:"refresh_token"`
	// TokenURL defaults to <base_url>/ccx/oauth2/<tenant>/token.
	TokenURL string `yaml:"token_url"`
}

type Client struct {
	rest   *rest.Client
	tenant string
}

func New(cfg Config, opts ...rest.Option) (*Client, error) {
	switch {
	case cfg.BaseURL == "":
		return nil, fmt.Errorf("workday.New: %w", types.Required("base_url"))
	case cfg.Tenant == "":
		return nil, fmt.Errorf("workday.New: %w", types.Required("tenant"))
	case cfg.ClientID == "":
		return nil, fmt.Errorf("workday.New: %w", types.Required("client_id"))
	case cfg.RefreshToken == "":
		return nil, fmt.Errorf("workday.New: %w", types.Required("refresh_token"))
	}
	rc, err := rest.New(cfg.BaseURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("workday.New: %w", err)
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = strings.TrimRight(rc.BaseURL(), "/") + rest.Path("ccx", "oauth2", cfg.Tenant, "token")
	}
	oc := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: cfg.TokenURL, AuthStyle: oauth2.AuthStyleInHeader},
	}
	ts := rest.RefreshToken(context.Background(), oc, cfg.RefreshToken, rc.HTTPClient())
	return &Client{rest: rc.With(rest.WithAuth(rest.OAuth2(ts))), tenant: cfg.Tenant}, nil
}

func (c *Client) Tools() []tool.Tool {
	return []tool.Tool{
		tool.New(Vendor, "list_workers", "Search Workday workers by name or id.", c.ListWorkers, tool.ReadOnly()),
		tool.New(Vendor, "get_worker", "Fetch a Workday worker by Workday id.", c.GetWorker, tool.ReadOnly()),
		tool.New(Vendor, "list_supervisory_organizations", "List Workday supervisory organizations.", c.ListSupervisoryOrganizations, tool.ReadOnly()),
		tool.New(Vendor, "request_time_off", "Submit a time off request for a worker.", c.RequestTimeOff),
	}
}

// path roots segments at the versioned tenant URL of a service; "" is the
// common API.
func (c *Client) path(service string, segments ...string) string {
	root := []string{"ccx", "api", "v1", c.tenant}
	if service != "" {
		root = []string{"ccx", "api", service, "v1", c.tenant}
	}
	return rest.Path(append(root, segments...)...)
}

type descriptor struct {
	ID         string `json:"id"`
	Descriptor string `json:"descriptor"`
}

// offsetList pages a Workday collection answering {total, data}.
func offsetList[W, T any](ctx context.Context, c *Client, limit int, path string, q url.Values, conv func(W) T) ([]T, error) {
	pageSize := min(limit, 100)
	return rest.Collect(ctx, limit, func(ctx context.Context, cursor string) (rest.Page[T], error) {
		offset, _ := strconv.Atoi(cursor)
		pq := url.Values{}
		for k, v := range q {
			pq[k] = v
		}
		pq.Set("limit", strconv.Itoa(pageSize))
		pq.Set("offset", strconv.Itoa(offset))
		var out struct {
			Total int `json:"total"`
			Data  []W `json:"data"`
		}
		if _, err := c.rest.Get(ctx, path, pq, &out); err != nil {
			return rest.Page[T]{}, err
		}
		page := rest.Page[T]{Items: make([]T, 0, len(out.Data))}
		for _, d := range out.Data {
			page.Items = append(page.Items, conv(d))
		}
		if next := offset + len(out.Data); len(out.Data) > 0 && next < out.Total {
			page.Next = strconv.Itoa(next)
		}
		return page, nil
	})
}

// ──────────────────────────────────────────────────────────────────────────────
// Workers
// ──────────────────────────────────────────────────────────────────────────────

type Worker struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Email         string `json:"email,omitempty"`
	BusinessTitle string `json:"business_title,omitempty"`
	Organization  string `json:"organization,omitempty"`
	Location      string `json:"location,omitempty"`
	IsManager     bool   `json:"is_manager"`
	WorkerType    string `json:"worker_type,omitempty"`
	PrimaryJob    string `json:"primary_job,omitempty"`
}

type workerWire struct {
	ID               string      `json:"id"`
	Descriptor       string      `json:"descriptor"`
	PrimaryWorkEmail string      `json:"primaryWorkEmail"`
	BusinessTitle    string      `json:"businessTitle"`
	IsManager        bool        `json:"isManager"`
	Organization     *descriptor `json:"primarySupervisoryOrganization"`
	Location         *descriptor `json:"location"`
	WorkerType       *descriptor `json:"workerType"`
	PrimaryJob       *descriptor `json:"primaryJob"`
}

func (w workerWire) flatten() Worker {
	out := Worker{
		ID:            w.ID,
		Name:          w.Descriptor,
		Email:         w.PrimaryWorkEmail,
		BusinessTitle: w.BusinessTitle,
		IsManager:     w.IsManager,
	}
	if w.Organization != nil {
		out.Organization = w.Organization.Descriptor
	}
	if w.Location != nil {
		out.Location = w.Location.Descriptor
	}
	if w.WorkerType != nil {
		out.WorkerType = w.WorkerType.Descriptor
	}
	if w.PrimaryJob != nil {
		out.PrimaryJob = w.PrimaryJob.Descriptor
	}
	return out
}

type ListWorkersParams struct {
	Search string `json:"search,omitempty" jsonschema_description:"Name or employee id to search for"`
	Limit  int    `json:"limit,omitempty" jsonschema:"minimum=1,maximum=1000"`
}

type ListWorkersResponse struct {
	Workers []Worker `json:"workers"`
}

func (c *Client) ListWorkers(ctx context.Context, p ListWorkersParams) (*ListWorkersResponse, error) {
	q := url.Values{}
	if p.Search != "" {
		q.Set("search", p.Search)
	}
	workers, err := offsetList(ctx, c, rest.ClampLimit(p.Limit, 100), c.path("", "workers"), q, workerWire.flatten)
	if err != nil {
		return nil, fmt.Errorf("workday.ListWorkers: %w", err)
	}
	return &ListWorkersResponse{Workers: workers}, nil
}

type GetWorkerParams struct {
	WorkerID string `json:"worker_id" jsonschema:"required" jsonschema_description:"Workday id (WID) of the worker"`
}

func (c *Client) GetWorker(ctx context.Context, p GetWorkerParams) (*Worker, error) {
	var w workerWire
	if _, err := c.rest.Get(ctx, c.path("", "workers", p.WorkerID), nil, &w); err != nil {
		return nil, fmt.Errorf("workday.GetWorker: %w", err)
	}
	out := w.flatten()
	return &out, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Organizations
// ──────────────────────────────────────────────────────────────────────────────

type Organization struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Code    string `json:"code,omitempty"`
	Manager string `json:"manager,omitempty"`
}

type orgWire struct {
	ID         string      `json:"id"`
	Descriptor string      `json:"descriptor"`
	Code       string      `json:"code"`
	Manager    *descriptor `json:"manager"`
}

func (w orgWire) flatten() Organization {
	o := Organization{ID: w.ID, Name: w.Descriptor, Code: w.Code}
	if w.Manager != nil {
		o.Manager = w.Manager.Descriptor
	}
	return o
}

type ListSupervisoryOrganizationsParams struct {
	Limit int `json:"limit,omitempty" jsonschema:"minimum=1,maximum=1000"`
}

type ListSupervisoryOrganizationsResponse struct {
	Organizations []Organization `json:"organizations"`
}

func (c *Client) ListSupervisoryOrganizations(ctx context.Context, p ListSupervisoryOrganizationsParams) (*ListSupervisoryOrganizationsResponse, error) {
	orgs, err := offsetList(ctx, c, rest.ClampLimit(p.Limit, 100), c.path("", "supervisoryOrganizations"), nil, orgWire.flatten)
	if err != nil {
		return nil, fmt.Errorf("workday.ListSupervisoryOrganizations: %w", err)
	}
	return &ListSupervisoryOrganizationsResponse{Organizations: orgs}, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Time off
// ──────────────────────────────────────────────────────────────────────────────

type TimeOffDay struct {
	Date     string  `json:"date" jsonschema:"required" jsonschema_description:"YYYY-MM-DD"`
	Quantity float64 `json:"quantity,omitempty" jsonschema_description:"Hours or days per the plan's unit; defaults to 8"`
}

type RequestTimeOffParams struct {
	WorkerID      string       `json:"worker_id" jsonschema:"required"`
	TimeOffTypeID string       `json:"time_off_type_id" jsonschema:"required"`
	Days          []TimeOffDay `json:"days" jsonschema:"required,minItems=1"`
	Comment       string       `json:"comment,omitempty"`
}

type RequestTimeOffResponse struct {
	ID         string `json:"id"`
	Descriptor string `json:"descriptor"`
	Status     string `json:"status,omitempty"`
}

func (c *Client) RequestTimeOff(ctx context.Context, p RequestTimeOffParams) (*RequestTimeOffResponse, error) {
	days := make([]map[string]any, 0, len(p.Days))
	for _, d := range p.Days {
		q := d.Quantity
		if q == 0 {
			q = 8
		}
		day := map[string]any{
			"date":          d.Date,
			"dailyQuantity": q,
			"timeOffType":   map[string]string{"id": p.TimeOffTypeID},
		}
		if p.Comment != "" {
			day["comment"] = p.Comment
		}
		days = append(days, day)
	}
	var out struct {
		ID                        string `json:"id"`
		Descriptor                string `json:"descriptor"`
		BusinessProcessParameters *struct {
			OverallStatus string `json:"overallStatus"`
		} `json:"businessProcessParameters"`
	}
	path := c.path("absenceManagement", "workers", p.WorkerID, "requestTimeOff")
	if _, err := c.rest.Post(ctx, path, map[string]any{"days": days}, &out); err != nil {
		return nil, fmt.Errorf("workday.RequestTimeOff: %w", err)
	}
	resp := &RequestTimeOffResponse{ID: out.ID, Descriptor: out.Descriptor}
	if out.BusinessProcessParameters != nil {
		resp.Status = out.BusinessProcessParameters.OverallStatus
	}
	return resp, nil
}
