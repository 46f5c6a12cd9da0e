// Package successfactors exposes SAP SuccessFactors OData v2 entities (users,
// employment, generic upsert) as tools.
package successfactors

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/bturcanu/toolbelt/pkg/rest"
	"github.com/bturcanu/toolbelt/pkg/tool"
	"github.com/bturcanu/toolbelt/pkg/types"
	"github.com/bturcanu/toolbelt/pkg/vendors/internal/odata"
)

const Vendor = "successfactors"

// Config authenticates with HTTP basic as "username@company_id".
type Config struct {
	// BaseURL is the API server, e.g. https://api4.successfactors.com.
	BaseURL   string `yaml:"base_url"`
	CompanyID string `yaml:"company_id"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
}

type Client struct {
	rest *rest.Client
}

func New(cfg Config, opts ...rest.Option) (*Client, error) {
	switch {
	case cfg.BaseURL == "":
		return nil, fmt.Errorf("successfactors.New: %w", types.Required("base_url"))
	case cfg.CompanyID == "":
		return nil, fmt.Errorf("successfactors.New: %w", types.Required("company_id"))
	case cfg.Username == "":
		return nil, fmt.Errorf("successfactors.New: %w", types.Required("username"))
	case cfg.Password == "":
		return nil, fmt.Errorf("successfactors.New: %w", types.Required("password"))
	}
	auth := rest.WithAuth(rest.Basic(cfg.Username+"@"+cfg.CompanyID, cfg.Password))
	rc, err := rest.New(cfg.BaseURL, append([]rest.Option{auth}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("successfactors.New: %w", err)
	}
	return &Client{rest: rc}, nil
}

func (c *Client) Tools() []tool.Tool {
	return []tool.Tool{
		tool.New(Vendor, "list_users", "List SuccessFactors users.", c.ListUsers, tool.ReadOnly()),
		tool.New(Vendor, "get_user", "Fetch a SuccessFactors user by user id.", c.GetUser, tool.ReadOnly()),
		tool.New(Vendor, "get_employment", "Fetch the employment records of a user.", c.GetEmployment, tool.ReadOnly()),
		tool.New(Vendor, "upsert_entity", "Insert or update a SuccessFactors OData entity.", c.UpsertEntity),
	}
}

const servicePath = "/odata/v2"

func entityPath(entity, key string) string {
	return odata.EntityPath(servicePath, entity, key)
}

// ──────────────────────────────────────────────────────────────────────────────
// Users
// ──────────────────────────────────────────────────────────────────────────────

const userSelect = "userId,username,firstName,lastName,displayName,email,status,department,title,division,location,lastModifiedDateTime"

type User struct {
	UserID       string `json:"user_id"`
	Username     string `json:"username,omitempty"`
	FirstName    string `json:"first_name,omitempty"`
	LastName     string `json:"last_name,omitempty"`
	DisplayName  string `json:"display_name,omitempty"`
	Email        string `json:"email,omitempty"`
	Status       string `json:"status,omitempty"`
	Department   string `json:"department,omitempty"`
	Title        string `json:"title,omitempty"`
	Division     string `json:"division,omitempty"`
	Location     string `json:"location,omitempty"`
	LastModified string `json:"last_modified,omitempty"`
}

type userWire struct {
	UserID               string     `json:"userId"`
	Username             string     `json:"username"`
	FirstName            string     `json:"firstName"`
	LastName             string     `json:"lastName"`
	DisplayName          string     `json:"displayName"`
	Email                string     `json:"email"`
	Status               string     `json:"status"`
	Department           string     `json:"department"`
	Title                string     `json:"title"`
	Division             string     `json:"division"`
	Location             string     `json:"location"`
	LastModifiedDateTime odata.Date `json:"lastModifiedDateTime"`
}

func (w userWire) flatten() User {
	return User{
		UserID:       w.UserID,
		Username:     w.Username,
		FirstName:    w.FirstName,
		LastName:     w.LastName,
		DisplayName:  w.DisplayName,
		Email:        w.Email,
		Status:       w.Status,
		Department:   w.Department,
		Title:        w.Title,
		Division:     w.Division,
		Location:     w.Location,
		LastModified: string(w.LastModifiedDateTime),
	}
}

type ListUsersParams struct {
	Filter string `json:"filter,omitempty" jsonschema_description:"OData $filter expression, e.g. status eq 'active'"`
	Limit  int    `json:"limit,omitempty" jsonschema:"minimum=1,maximum=1000"`
}

type ListUsersResponse struct {
	Users []User `json:"users"`
}

func (c *Client) ListUsers(ctx context.Context, p ListUsersParams) (*ListUsersResponse, error) {
	limit := rest.ClampLimit(p.Limit, 100)
	pageSize := min(limit, 500)
	users, err := rest.Collect(ctx, limit, func(ctx context.Context, cursor string) (rest.Page[User], error) {
		skip, _ := strconv.Atoi(cursor)
		q := odata.Query(
			"$select", userSelect,
			"$filter", p.Filter,
			"$orderby", "userId",
			"$top", strconv.Itoa(pageSize),
			"$skip", strconv.Itoa(skip),
		)
		var out odata.Results[userWire]
		if _, err := c.rest.Get(ctx, "/odata/v2/User", q, &out); err != nil {
			return rest.Page[User]{}, err
		}
		page := rest.Page[User]{Items: make([]User, 0, len(out.D.Results))}
		for _, u := range out.D.Results {
			page.Items = append(page.Items, u.flatten())
		}
		if len(out.D.Results) == pageSize {
			page.Next = strconv.Itoa(skip + pageSize)
		}
		return page, nil
	})
	if err != nil {
		return nil, fmt.Errorf("successfactors.ListUsers: %w", err)
	}
	return &ListUsersResponse{Users: users}, nil
}

type GetUserParams struct {
	UserID string `json:"user_id" jsonschema:"required"`
}

func (c *Client) GetUser(ctx context.Context, p GetUserParams) (*User, error) {
	var out struct {
		D userWire `json:"d"`
	}
	if _, err := c.rest.Get(ctx, entityPath("User", p.UserID), odata.Query("$select", userSelect), &out); err != nil {
		return nil, fmt.Errorf("successfactors.GetUser: %w", err)
	}
	u := out.D.flatten()
	return &u, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Employment
// ──────────────────────────────────────────────────────────────────────────────

type Employment struct {
	PersonIDExternal string `json:"person_id_external"`
	UserID           string `json:"user_id"`
	StartDate        string `json:"start_date,omitempty"`
	EndDate          string `json:"end_date,omitempty"`
	OriginalStart    string `json:"original_start_date,omitempty"`
	Company          string `json:"company,omitempty"`
	JobTitle         string `json:"job_title,omitempty"`
	Department       string `json:"department,omitempty"`
	EmploymentType   string `json:"employment_type,omitempty"`
	ManagerID        string `json:"manager_id,omitempty"`
}

type employmentWire struct {
	PersonIDExternal  string     `json:"personIdExternal"`
	UserID            string     `json:"userId"`
	StartDate         odata.Date `json:"startDate"`
	EndDate           odata.Date `json:"endDate"`
	OriginalStartDate odata.Date `json:"originalStartDate"`
	JobInfoNav        struct {
		Results []struct {
			Company        string `json:"company"`
			JobTitle       string `json:"jobTitle"`
			Department     string `json:"department"`
			EmploymentType string `json:"employmentType"`
			ManagerID      string `json:"managerId"`
		} `json:"results"`
	} `json:"jobInfoNav"`
}

type GetEmploymentParams struct {
	UserID string `json:"user_id" jsonschema:"required"`
}

type GetEmploymentResponse struct {
	Employments []Employment `json:"employments"`
}

func (c *Client) GetEmployment(ctx context.Context, p GetEmploymentParams) (*GetEmploymentResponse, error) {
	q := odata.Query(
		"$filter", "userId eq "+odata.Literal(p.UserID),
		"$expand", "jobInfoNav",
	)
	var out odata.Results[employmentWire]
	if _, err := c.rest.Get(ctx, "/odata/v2/EmpEmployment", q, &out); err != nil {
		return nil, fmt.Errorf("successfactors.GetEmployment: %w", err)
	}
	resp := &GetEmploymentResponse{Employments: make([]Employment, 0, len(out.D.Results))}
	for _, w := range out.D.Results {
		e := Employment{
			PersonIDExternal: w.PersonIDExternal,
			UserID:           w.UserID,
			StartDate:        string(w.StartDate),
			EndDate:          string(w.EndDate),
			OriginalStart:    string(w.OriginalStartDate),
		}
		// jobInfoNav is effective-dated; the last entry is the current one.
		if jobs := w.JobInfoNav.Results; len(jobs) > 0 {
			j := jobs[len(jobs)-1]
			e.Company = j.Company
			e.JobTitle = j.JobTitle
			e.Department = j.Department
			e.EmploymentType = j.EmploymentType
			e.ManagerID = j.ManagerID
		}
		resp.Employments = append(resp.Employments, e)
	}
	return resp, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Upsert
// ──────────────────────────────────────────────────────────────────────────────

// UpsertError is returned when the upsert call succeeds at the HTTP level but
// the row itself was rejected.
type UpsertError struct {
	Key      string
	Message  string
	HTTPCode int
}

func (e *UpsertError) Error() string {
	return fmt.Sprintf("successfactors: upsert %s rejected (%d): %s", e.Key, e.HTTPCode, e.Message)
}

type UpsertEntityParams struct {
	Entity string         `json:"entity" jsonschema:"required" jsonschema_description:"OData entity set, e.g. PerPersonal"`
	Key    string         `json:"key" jsonschema:"required" jsonschema_description:"Entity key predicate, e.g. personIdExternal='1001',startDate=datetime'2024-01-01T00:00:00'"`
	Fields map[string]any `json:"fields" jsonschema:"required"`
}

type UpsertEntityResponse struct {
	Key        string `json:"key"`
	Status     string `json:"status"`
	EditStatus string `json:"edit_status,omitempty"`
	HTTPCode   int    `json:"http_code"`
}

func (c *Client) UpsertEntity(ctx context.Context, p UpsertEntityParams) (*UpsertEntityResponse, error) {
	body := make(map[string]any, len(p.Fields)+1)
	for k, v := range p.Fields {
		body[k] = v
	}
	body["__metadata"] = map[string]string{"uri": p.Entity + "(" + p.Key + ")"}

	var out struct {
		D []struct {
			Key        string `json:"key"`
			Status     string `json:"status"`
			EditStatus string `json:"editStatus"`
			Message    string `json:"message"`
			HTTPCode   int    `json:"httpCode"`
		} `json:"d"`
	}
	if _, err := c.rest.Post(ctx, "/odata/v2/upsert?$format=json", body, &out); err != nil {
		return nil, fmt.Errorf("successfactors.UpsertEntity: %w", err)
	}
	if len(out.D) == 0 {
		return nil, fmt.Errorf("successfactors.UpsertEntity: empty upsert response")
	}
	row := out.D[0]
	if !strings.EqualFold(row.Status, "OK") {
		return nil, fmt.Errorf("successfactors.UpsertEntity: %w", &UpsertError{Key: row.Key, Message: row.Message, HTTPCode: row.HTTPCode})
	}
	return &UpsertEntityResponse{Key: row.Key, Status: row.Status, EditStatus: row.EditStatus, HTTPCode: row.HTTPCode}, nil
}
