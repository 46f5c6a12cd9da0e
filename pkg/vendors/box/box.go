// Package box exposes Box content API operations as tools. Auth is the Client
// Credentials Grant for a service account or a managed user.
package box

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/bturcanu/toolbelt/pkg/rest"
	"github.com/bturcanu/toolbelt/pkg/tool"
	"github.com/bturcanu/toolbelt/pkg/types"
)

const (
	Vendor          = "box"
	DefaultBaseURL  = "https://api.box.com/2.0"
	DefaultTokenURL = "https://api.box.com/oauth2/token"
)

type Config struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	// SubjectType is "enterprise" or "user".
	SubjectType string `yaml:"subject_type"`
	SubjectID   string `yaml:"subject_id"`
	BaseURL     string `yaml:"base_url"`
	TokenURL    string `yaml:"token_url"`
}

type Client struct {
	rest *rest.Client
}

func New(cfg Config, opts ...rest.Option) (*Client, error) {
	switch {
	case cfg.ClientID == "":
		return nil, fmt.Errorf("box.New: %w", types.Required("client_id"))
	case cfg.ClientSecret == "":
		return nil, fmt.Errorf("box.New: %w", types.Required("client_secret"))
	case cfg.SubjectID == "":
		return nil, fmt.Errorf("box.New: %w", types.Required("subject_id"))
	}
	if cfg.SubjectType == "" {
		cfg.SubjectType = "enterprise"
	}
	if cfg.SubjectType != "enterprise" && cfg.SubjectType != "user" {
		return nil, fmt.Errorf("box.New: %w", &types.ValidationError{Field: "subject_type", Reason: "must be enterprise or user"})
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}
	rc, err := rest.New(cfg.BaseURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("box.New: %w", err)
	}
	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		AuthStyle:    oauth2.AuthStyleInParams,
		EndpointParams: url.Values{
			"box_subject_type": {cfg.SubjectType},
			"box_subject_id":   {cfg.SubjectID},
		},
	}
	ts := rest.ClientCredentials(context.Background(), cc, rc.HTTPClient())
	return &Client{rest: rc.With(rest.WithAuth(rest.OAuth2(ts)))}, nil
}

func (c *Client) Tools() []tool.Tool {
	return []tool.Tool{
		tool.New(Vendor, "list_folder_items", "List files and folders in a Box folder (0 is the root).", c.ListFolderItems, tool.ReadOnly()),
		tool.New(Vendor, "get_file", "Fetch metadata for a Box file.", c.GetFile, tool.ReadOnly()),
		tool.New(Vendor, "create_folder", "Create a Box folder.", c.CreateFolder),
		tool.New(Vendor, "search", "Search Box content by keyword.", c.Search, tool.ReadOnly()),
		tool.New(Vendor, "delete_file", "Move a Box file to the trash.", c.DeleteFile, tool.Destructive()),
	}
}

const itemFields = "id,type,name,size,modified_at,parent"

// Item is a file, folder or web link.
type Item struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Name       string `json:"name"`
	Size       int64  `json:"size,omitempty"`
	ModifiedAt string `json:"modified_at,omitempty"`
	ParentID   string `json:"parent_id,omitempty"`
}

type itemWire struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Name       string `json:"name"`
	Size       int64  `json:"size"`
	ModifiedAt string `json:"modified_at"`
	Parent     *struct {
		ID string `json:"id"`
	} `json:"parent"`
}

func (w itemWire) flatten() Item {
	it := Item{ID: w.ID, Type: w.Type, Name: w.Name, Size: w.Size, ModifiedAt: w.ModifiedAt}
	if w.Parent != nil {
		it.ParentID = w.Parent.ID
	}
	return it
}

// offsetList pages an endpoint answering {total_count, offset, entries}.
// Pages hold at most 200 entries, the search endpoint's maximum.
func (c *Client) offsetList(ctx context.Context, limit int, path string, q url.Values) ([]Item, error) {
	pageSize := min(limit, 200)
	return rest.Collect(ctx, limit, func(ctx context.Context, cursor string) (rest.Page[Item], error) {
		offset, _ := strconv.Atoi(cursor)
		pq := url.Values{}
		for k, v := range q {
			pq[k] = v
		}
		pq.Set("limit", strconv.Itoa(pageSize))
		pq.Set("offset", strconv.Itoa(offset))
		var out struct {
			TotalCount int        `json:"total_count"`
			Offset     int        `json:"offset"`
			Entries    []itemWire `json:"entries"`
		}
		if _, err := c.rest.Get(ctx, path, pq, &out); err != nil {
			return rest.Page[Item]{}, err
		}
		page := rest.Page[Item]{Items: make([]Item, 0, len(out.Entries))}
		for _, e := range out.Entries {
			page.Items = append(page.Items, e.flatten())
		}
		if next := out.Offset + len(out.Entries); len(out.Entries) > 0 && next < out.TotalCount {
			page.Next = strconv.Itoa(next)
		}
		return page, nil
	})
}

// ──────────────────────────────────────────────────────────────────────────────
// Operations
// ──────────────────────────────────────────────────────────────────────────────

type ListFolderItemsParams struct {
	FolderID string `json:"folder_id" jsonschema:"required"`
	Limit    int    `json:"limit,omitempty" jsonschema:"minimum=1,maximum=1000"`
}

type ListItemsResponse struct {
	Items []Item `json:"items"`
}

func (c *Client) ListFolderItems(ctx context.Context, p ListFolderItemsParams) (*ListItemsResponse, error) {
	items, err := c.offsetList(ctx, rest.ClampLimit(p.Limit, 100), rest.Path("folders", p.FolderID, "items"), url.Values{"fields": {itemFields}})
	if err != nil {
		return nil, fmt.Errorf("box.ListFolderItems: %w", err)
	}
	return &ListItemsResponse{Items: items}, nil
}

type GetFileParams struct {
	FileID string `json:"file_id" jsonschema:"required"`
}

type File struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Size       int64  `json:"size"`
	SHA1       string `json:"sha1,omitempty"`
	CreatedAt  string `json:"created_at,omitempty"`
	ModifiedAt string `json:"modified_at,omitempty"`
	ParentID   string `json:"parent_id,omitempty"`
	OwnerLogin string `json:"owner_login,omitempty"`
	SharedLink string `json:"shared_link,omitempty"`
}

func (c *Client) GetFile(ctx context.Context, p GetFileParams) (*File, error) {
	var w struct {
		ID         string `json:"id"`
		Name       string `json:"name"`
		Size       int64  `json:"size"`
		SHA1       string `json:"sha1"`
		CreatedAt  string `json:"created_at"`
		ModifiedAt string `json:"modified_at"`
		Parent     *struct {
			ID string `json:"id"`
		} `json:"parent"`
		OwnedBy *struct {
			Login string `json:"login"`
		} `json:"owned_by"`
		SharedLink *struct {
			URL string `json:"url"`
		} `json:"shared_link"`
	}
	q := url.Values{"fields": {"id,name,size,sha1,created_at,modified_at,parent,owned_by,shared_link"}}
	if _, err := c.rest.Get(ctx, rest.Path("files", p.FileID), q, &w); err != nil {
		return nil, fmt.Errorf("box.GetFile: %w", err)
	}
	f := &File{ID: w.ID, Name: w.Name, Size: w.Size, SHA1: w.SHA1, CreatedAt: w.CreatedAt, ModifiedAt: w.ModifiedAt}
	if w.Parent != nil {
		f.ParentID = w.Parent.ID
	}
	if w.OwnedBy != nil {
		f.OwnerLogin = w.OwnedBy.Login
	}
	if w.SharedLink != nil {
		f.SharedLink = w.SharedLink.URL
	}
	return f, nil
}

type CreateFolderParams struct {
	Name     string `json:"name" jsonschema:"required"`
	ParentID string `json:"parent_id,omitempty" jsonschema_description:"Defaults to the root folder (0)"`
}

func (c *Client) CreateFolder(ctx context.Context, p CreateFolderParams) (*Item, error) {
	if p.ParentID == "" {
		p.ParentID = "0"
	}
	var w itemWire
	body := map[string]any{"name": p.Name, "parent": map[string]string{"id": p.ParentID}}
	if _, err := c.rest.Post(ctx, "/folders", body, &w); err != nil {
		return nil, fmt.Errorf("box.CreateFolder: %w", err)
	}
	it := w.flatten()
	return &it, nil
}

type SearchParams struct {
	Query    string `json:"query" jsonschema:"required"`
	Type     string `json:"type,omitempty" jsonschema:"enum=file,enum=folder,enum=web_link"`
	FolderID string `json:"ancestor_folder_id,omitempty"`
	Limit    int    `json:"limit,omitempty" jsonschema:"minimum=1,maximum=1000"`
}

func (c *Client) Search(ctx context.Context, p SearchParams) (*ListItemsResponse, error) {
	q := url.Values{"query": {p.Query}, "fields": {itemFields}}
	if p.Type != "" {
		q.Set("type", p.Type)
	}
	if p.FolderID != "" {
		q.Set("ancestor_folder_ids", p.FolderID)
	}
	items, err := c.offsetList(ctx, rest.ClampLimit(p.Limit, 50), "/search", q)
	if err != nil {
		return nil, fmt.Errorf("box.Search: %w", err)
	}
	return &ListItemsResponse{Items: items}, nil
}

type DeleteFileParams struct {
	FileID string `json:"file_id" jsonschema:"required"`
}

type DeleteFileResponse struct {
	HTTPCode int `json:"http_code"`
}

func (c *Client) DeleteFile(ctx context.Context, p DeleteFileParams) (*DeleteFileResponse, error) {
	code, err := rest.CodeOf(c.rest.Delete(ctx, rest.Path("files", p.FileID), nil))
	if err != nil {
		return nil, fmt.Errorf("box.DeleteFile: %w", err)
	}
	return &DeleteFileResponse{HTTPCode: code}, nil
}
