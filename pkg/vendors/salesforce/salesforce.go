// Package salesforce exposes Salesforce REST API operations as tools. Auth is
// the OAuth2 client credentials flow against the org's My Domain.
package salesforce

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/bturcanu/toolbelt/pkg/rest"
	"github.com/bturcanu/toolbelt/pkg/tool"
	"github.com/bturcanu/toolbelt/pkg/types"
)

const (
	Vendor            = "salesforce"
	DefaultAPIVersion = "v60.0"
)

type Config struct {
	// InstanceURL is the My Domain URL, e.g. https://acme.my.salesforce.com.
	InstanceURL  string `yaml:"instance_url"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	APIVersion   string `yaml:"api_version"`
}

type Client struct {
	rest    *rest.Client
	version string
}

func New(cfg Config, opts ...rest.Option) (*Client, error) {
	switch {
	case cfg.InstanceURL == "":
		return nil, fmt.Errorf("salesforce.New: %w", types.Required("instance_url"))
	case cfg.ClientID == "":
		return nil, fmt.Errorf("salesforce.New: %w", types.Required("client_id"))
	case cfg.ClientSecret == "":
		return nil, fmt.Errorf("salesforce.New: %w", types.Required("client_secret"))
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	rc, err := rest.New(cfg.InstanceURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("salesforce.New: %w", err)
	}
	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     strings.TrimRight(rc.BaseURL(), "/") + "/services/oauth2/token",
	}
	ts := rest.ClientCredentials(context.Background(), cc, rc.HTTPClient())
	return &Client{rest: rc.With(rest.WithAuth(rest.OAuth2(ts))), version: cfg.APIVersion}, nil
}

func (c *Client) Tools() []tool.Tool {
	return []tool.Tool{
		tool.New(Vendor, "create_record", "Create a Salesforce record of any sObject type.", c.CreateRecord),
		tool.New(Vendor, "get_record", "Fetch a Salesforce record by id.", c.GetRecord, tool.ReadOnly()),
		tool.New(Vendor, "update_record", "Update fields on a Salesforce record.", c.UpdateRecord),
		tool.New(Vendor, "delete_record", "Delete a Salesforce record.", c.DeleteRecord, tool.Destructive()),
		tool.New(Vendor, "query", "Run a SOQL query, following result pages.", c.Query, tool.ReadOnly()),
		tool.New(Vendor, "list_account_types", "List the values of the Account Type picklist.", c.ListAccountTypes, tool.ReadOnly()),
	}
}

func (c *Client) path(segments ...string) string {
	return rest.Path(append([]string{"services", "data", c.version}, segments...)...)
}

// ──────────────────────────────────────────────────────────────────────────────
// Errors
// ──────────────────────────────────────────────────────────────────────────────

// Error is one entry of the error array Salesforce returns on failure.
type Error struct {
	ErrorCode string   `json:"errorCode"`
	Message   string   `json:"message"`
	Fields    []string `json:"fields,omitempty"`
}

// Errors extracts the Salesforce error array carried by a failed call, if any.
func Errors(err error) []Error {
	var se *rest.StatusError
	if !errors.As(err, &se) {
		return nil
	}
	var out []Error
	if json.Unmarshal(se.Body, &out) != nil {
		return nil
	}
	return out
}

// ──────────────────────────────────────────────────────────────────────────────
// Records
// ──────────────────────────────────────────────────────────────────────────────

type CreateRecordParams struct {
	SObject string         `json:"sobject" jsonschema:"required" jsonschema_description:"API name, e.g. Account or Case"`
	Fields  map[string]any `json:"fields" jsonschema:"required"`
}

type CreateRecordResponse struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
}

func (c *Client) CreateRecord(ctx context.Context, p CreateRecordParams) (*CreateRecordResponse, error) {
	var out CreateRecordResponse
	if _, err := c.rest.Post(ctx, c.path("sobjects", p.SObject), p.Fields, &out); err != nil {
		return nil, fmt.Errorf("salesforce.CreateRecord: %w", err)
	}
	return &out, nil
}

type GetRecordParams struct {
	SObject string   `json:"sobject" jsonschema:"required"`
	ID      string   `json:"id" jsonschema:"required"`
	Fields  []string `json:"fields,omitempty" jsonschema_description:"Field API names; all fields when omitted"`
}

// Record is a Salesforce record with the attributes block stripped.
type Record struct {
	ID      string         `json:"id"`
	SObject string         `json:"sobject"`
	Fields  map[string]any `json:"fields"`
}

func (c *Client) GetRecord(ctx context.Context, p GetRecordParams) (*Record, error) {
	var q url.Values
	if len(p.Fields) > 0 {
		q = url.Values{"fields": {strings.Join(p.Fields, ",")}}
	}
	var raw map[string]any
	if _, err := c.rest.Get(ctx, c.path("sobjects", p.SObject, p.ID), q, &raw); err != nil {
		return nil, fmt.Errorf("salesforce.GetRecord: %w", err)
	}
	rec := toRecord(raw)
	if rec.SObject == "" {
		rec.SObject = p.SObject
	}
	return &rec, nil
}

func toRecord(raw map[string]any) Record {
	rec := Record{Fields: make(map[string]any, len(raw))}
	for k, v := range raw {
		switch k {
		case "attributes":
			if attrs, ok := v.(map[string]any); ok {
				rec.SObject, _ = attrs["type"].(string)
			}
		case "Id":
			rec.ID, _ = v.(string)
		default:
			rec.Fields[k] = v
		}
	}
	return rec
}

type UpdateRecordParams struct {
	SObject string         `json:"sobject" jsonschema:"required"`
	ID      string         `json:"id" jsonschema:"required"`
	Fields  map[string]any `json:"fields" jsonschema:"required"`
}

type UpdateRecordResponse struct {
	HTTPCode int `json:"http_code"`
}

func (c *Client) UpdateRecord(ctx context.Context, p UpdateRecordParams) (*UpdateRecordResponse, error) {
	code, err := rest.CodeOf(c.rest.Patch(ctx, c.path("sobjects", p.SObject, p.ID), p.Fields, nil))
	if err != nil {
		return nil, fmt.Errorf("salesforce.UpdateRecord: %w", err)
	}
	return &UpdateRecordResponse{HTTPCode: code}, nil
}

type DeleteRecordParams struct {
	SObject string `json:"sobject" jsonschema:"required"`
	ID      string `json:"id" jsonschema:"required"`
}

type DeleteRecordResponse struct {
	HTTPCode  int    `json:"http_code"`
	ErrorCode string `json:"error_code,omitempty"`
	Message   string `json:"message,omitempty"`
}

// DeleteRecord reports a vendor-side failure (already deleted, locked
// record) in the response instead of failing the call.
func (c *Client) DeleteRecord(ctx context.Context, p DeleteRecordParams) (*DeleteRecordResponse, error) {
	resp, err := c.rest.Delete(ctx, c.path("sobjects", p.SObject, p.ID), nil)
	code, cerr := rest.CodeOf(resp, err)
	if cerr != nil {
		return nil, fmt.Errorf("salesforce.DeleteRecord: %w", cerr)
	}
	out := &DeleteRecordResponse{HTTPCode: code}
	if errs := Errors(err); len(errs) > 0 {
		out.ErrorCode = errs[0].ErrorCode
		out.Message = errs[0].Message
	}
	return out, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Query
// ──────────────────────────────────────────────────────────────────────────────

type QueryParams struct {
	SOQL  string `json:"soql" jsonschema:"required" jsonschema_description:"e.g. SELECT Id, Name FROM Account WHERE Industry = 'Energy'"`
	Limit int    `json:"limit,omitempty" jsonschema:"minimum=1,maximum=1000"`
}

type QueryResponse struct {
	TotalSize int      `json:"total_size"`
	Records   []Record `json:"records"`
}

func (c *Client) Query(ctx context.Context, p QueryParams) (*QueryResponse, error) {
	total := 0
	records, err := rest.Collect(ctx, rest.ClampLimit(p.Limit, 200), func(ctx context.Context, cursor string) (rest.Page[Record], error) {
		var (
			page struct {
				TotalSize      int              `json:"totalSize"`
				Done           bool             `json:"done"`
				NextRecordsURL string           `json:"nextRecordsUrl"`
				Records        []map[string]any `json:"records"`
			}
			err error
		)
		if cursor == "" {
			_, err = c.rest.Get(ctx, c.path("query"), url.Values{"q": {p.SOQL}}, &page)
		} else {
			_, err = c.rest.Get(ctx, cursor, nil, &page)
		}
		if err != nil {
			return rest.Page[Record]{}, err
		}
		total = page.TotalSize
		out := rest.Page[Record]{Items: make([]Record, 0, len(page.Records))}
		for _, r := range page.Records {
			out.Items = append(out.Items, toRecord(r))
		}
		if !page.Done {
			out.Next = page.NextRecordsURL
		}
		return out, nil
	})
	if err != nil {
		return nil, fmt.Errorf("salesforce.Query: %w", err)
	}
	return &QueryResponse{TotalSize: total, Records: records}, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Account types
// ──────────────────────────────────────────────────────────────────────────────

type ListAccountTypesParams struct {
	IncludeInactive bool `json:"include_inactive,omitempty"`
}

type AccountType struct {
	AccountType string `json:"account_type"`
}

type ListAccountTypesResponse struct {
	AccountTypes []AccountType `json:"account_types"`
}

func (c *Client) ListAccountTypes(ctx context.Context, p ListAccountTypesParams) (*ListAccountTypesResponse, error) {
	var describe struct {
		Fields []struct {
			Name           string `json:"name"`
			PicklistValues []struct {
				Value  string `json:"value"`
				Active bool   `json:"active"`
			} `json:"picklistValues"`
		} `json:"fields"`
	}
	if _, err := c.rest.Get(ctx, c.path("sobjects", "Account", "describe"), nil, &describe); err != nil {
		return nil, fmt.Errorf("salesforce.ListAccountTypes: %w", err)
	}
	out := &ListAccountTypesResponse{AccountTypes: []AccountType{}}
	for _, f := range describe.Fields {
		if f.Name != "Type" {
			continue
		}
		for _, v := range f.PicklistValues {
			if v.Active || p.IncludeInactive {
				out.AccountTypes = append(out.AccountTypes, AccountType{AccountType: v.Value})
			}
		}
	}
	return out, nil
}
