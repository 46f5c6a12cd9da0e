// Package msgraph exposes Microsoft Graph v1.0 operations as tools, using an
// app registration with application permissions.
package msgraph

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/bturcanu/toolbelt/pkg/rest"
	"github.com/bturcanu/toolbelt/pkg/tool"
	"github.com/bturcanu/toolbelt/pkg/types"
)

const (
	Vendor           = "msgraph"
	DefaultBaseURL   = "https://graph.microsoft.com/v1.0"
	DefaultAuthority = "https://login.microsoftonline.com"
	graphScope       = "https://graph.microsoft.com/.default"
)

type Config struct {
	TenantID     string `yaml:"tenant_id"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	BaseURL      string `yaml:"base_url"`
	AuthorityURL string `yaml:"authority_url"`
}

type Client struct {
	rest *rest.Client
}

func New(cfg Config, opts ...rest.Option) (*Client, error) {
	switch {
	case cfg.TenantID == "":
		return nil, fmt.Errorf("msgraph.New: %w", types.Required("tenant_id"))
	case cfg.ClientID == "":
		return nil, fmt.Errorf("msgraph.New: %w", types.Required("client_id"))
	case cfg.ClientSecret == "":
		return nil, fmt.Errorf("msgraph.New: %w", types.Required("client_secret"))
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.AuthorityURL == "" {
		cfg.AuthorityURL = DefaultAuthority
	}
	rc, err := rest.New(cfg.BaseURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("msgraph.New: %w", err)
	}
	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     strings.TrimRight(cfg.AuthorityURL, "/") + "/" + url.PathEscape(cfg.TenantID) + "/oauth2/v2.0/token",
		Scopes:       []string{graphScope},
	}
	ts := rest.ClientCredentials(context.Background(), cc, rc.HTTPClient())
	return &Client{rest: rc.With(rest.WithAuth(rest.OAuth2(ts)))}, nil
}

func (c *Client) Tools() []tool.Tool {
	return []tool.Tool{
		tool.New(Vendor, "list_users", "List Entra ID users, optionally filtered with OData $filter.", c.ListUsers, tool.ReadOnly()),
		tool.New(Vendor, "get_user", "Fetch a user by id or user principal name.", c.GetUser, tool.ReadOnly()),
		tool.New(Vendor, "send_mail", "Send an email as a mailbox user.", c.SendMail),
		tool.New(Vendor, "create_event", "Create a calendar event in a user's calendar.", c.CreateEvent),
		tool.New(Vendor, "list_group_members", "List the direct members of a group.", c.ListGroupMembers, tool.ReadOnly()),
	}
}

const userSelect = "id,displayName,givenName,surname,mail,userPrincipalName,jobTitle,department,officeLocation,accountEnabled"

type User struct {
	ID                string `json:"id"`
	DisplayName       string `json:"displayName"`
	GivenName         string `json:"givenName,omitempty"`
	Surname           string `json:"surname,omitempty"`
	Mail              string `json:"mail,omitempty"`
	UserPrincipalName string `json:"userPrincipalName"`
	JobTitle          string `json:"jobTitle,omitempty"`
	Department        string `json:"department,omitempty"`
	OfficeLocation    string `json:"officeLocation,omitempty"`
	AccountEnabled    *bool  `json:"accountEnabled,omitempty"`
}

// collection is the OData list envelope.
type collection[T any] struct {
	Value    []T    `json:"value"`
	NextLink string `json:"@odata.nextLink"`
}

// list follows @odata.nextLink, which carries the query for later pages.
func list[T any](ctx context.Context, c *Client, limit int, path string, q url.Values) ([]T, error) {
	return rest.Collect(ctx, limit, func(ctx context.Context, cursor string) (rest.Page[T], error) {
		var out collection[T]
		var err error
		if cursor == "" {
			_, err = c.rest.Get(ctx, path, q, &out)
		} else {
			_, err = c.rest.Get(ctx, cursor, nil, &out)
		}
		if err != nil {
			return rest.Page[T]{}, err
		}
		return rest.Page[T]{Items: out.Value, Next: out.NextLink}, nil
	})
}

// ──────────────────────────────────────────────────────────────────────────────
// Users
// ──────────────────────────────────────────────────────────────────────────────

type ListUsersParams struct {
	Filter string `json:"filter,omitempty" jsonschema_description:"OData filter, e.g. department eq 'Finance'"`
	Limit  int    `json:"limit,omitempty" jsonschema:"minimum=1,maximum=1000"`
}

type ListUsersResponse struct {
	Users []User `json:"users"`
}

func (c *Client) ListUsers(ctx context.Context, p ListUsersParams) (*ListUsersResponse, error) {
	limit := rest.ClampLimit(p.Limit, 100)
	q := url.Values{"$select": {userSelect}, "$top": {strconv.Itoa(min(limit, 999))}}
	if p.Filter != "" {
		q.Set("$filter", p.Filter)
	}
	users, err := list[User](ctx, c, limit, "/users", q)
	if err != nil {
		return nil, fmt.Errorf("msgraph.ListUsers: %w", err)
	}
	return &ListUsersResponse{Users: users}, nil
}

type GetUserParams struct {
	User string `json:"user" jsonschema:"required" jsonschema_description:"Object id or user principal name"`
}

func (c *Client) GetUser(ctx context.Context, p GetUserParams) (*User, error) {
	var out User
	if _, err := c.rest.Get(ctx, rest.Path("users", p.User), url.Values{"$select": {userSelect}}, &out); err != nil {
		return nil, fmt.Errorf("msgraph.GetUser: %w", err)
	}
	return &out, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Mail and calendar
// ──────────────────────────────────────────────────────────────────────────────

type SendMailParams struct {
	From     string   `json:"from" jsonschema:"required" jsonschema_description:"Mailbox to send as (id or UPN)"`
	To       []string `json:"to" jsonschema:"required,minItems=1"`
	Cc       []string `json:"cc,omitempty"`
	Subject  string   `json:"subject" jsonschema:"required"`
	Body     string   `json:"body" jsonschema:"required"`
	HTML     bool     `json:"html,omitempty"`
	SaveCopy *bool    `json:"save_to_sent_items,omitempty"`
}

type SendMailResponse struct {
	HTTPCode int `json:"http_code"`
}

type recipient struct {
	EmailAddress struct {
		Address string `json:"address"`
	} `json:"emailAddress"`
}

func recipients(addrs []string) []recipient {
	out := make([]recipient, len(addrs))
	for i, a := range addrs {
		out[i].EmailAddress.Address = a
	}
	return out
}

type itemBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

func body(content string, html bool) itemBody {
	if html {
		return itemBody{ContentType: "HTML", Content: content}
	}
	return itemBody{ContentType: "Text", Content: content}
}

// SendMail returns the accepted status (202); Graph sends no body.
func (c *Client) SendMail(ctx context.Context, p SendMailParams) (*SendMailResponse, error) {
	msg := map[string]any{
		"subject":      p.Subject,
		"body":         body(p.Body, p.HTML),
		"toRecipients": recipients(p.To),
	}
	if len(p.Cc) > 0 {
		msg["ccRecipients"] = recipients(p.Cc)
	}
	save := true
	if p.SaveCopy != nil {
		save = *p.SaveCopy
	}
	resp, err := c.rest.Post(ctx, rest.Path("users", p.From, "sendMail"), map[string]any{"message": msg, "saveToSentItems": save}, nil)
	if err != nil {
		return nil, fmt.Errorf("msgraph.SendMail: %w", err)
	}
	return &SendMailResponse{HTTPCode: resp.StatusCode}, nil
}

type CreateEventParams struct {
	User      string   `json:"user" jsonschema:"required" jsonschema_description:"Calendar owner (id or UPN)"`
	Subject   string   `json:"subject" jsonschema:"required"`
	Start     string   `json:"start" jsonschema:"required" jsonschema_description:"Local date-time, e.g. 2024-05-01T09:00:00"`
	End       string   `json:"end" jsonschema:"required"`
	TimeZone  string   `json:"time_zone,omitempty" jsonschema_description:"IANA or Windows zone; defaults to UTC"`
	Attendees []string `json:"attendees,omitempty"`
	Location  string   `json:"location,omitempty"`
	Body      string   `json:"body,omitempty"`
	Online    bool     `json:"online_meeting,omitempty"`
}

type Event struct {
	ID            string `json:"id"`
	Subject       string `json:"subject"`
	Start         string `json:"start"`
	End           string `json:"end"`
	TimeZone      string `json:"time_zone"`
	WebLink       string `json:"web_link,omitempty"`
	OnlineJoinURL string `json:"online_join_url,omitempty"`
}

func (c *Client) CreateEvent(ctx context.Context, p CreateEventParams) (*Event, error) {
	if p.TimeZone == "" {
		p.TimeZone = "UTC"
	}
	type when struct {
		DateTime string `json:"dateTime"`
		TimeZone string `json:"timeZone"`
	}
	type attendee struct {
		recipient
		Type string `json:"type"`
	}
	ev := map[string]any{
		"subject": p.Subject,
		"start":   when{p.Start, p.TimeZone},
		"end":     when{p.End, p.TimeZone},
	}
	if p.Body != "" {
		ev["body"] = body(p.Body, false)
	}
	if p.Location != "" {
		ev["location"] = map[string]string{"displayName": p.Location}
	}
	if len(p.Attendees) > 0 {
		as := make([]attendee, len(p.Attendees))
		for i, r := range recipients(p.Attendees) {
			as[i] = attendee{recipient: r, Type: "required"}
		}
		ev["attendees"] = as
	}
	if p.Online {
		ev["isOnlineMeeting"] = true
		ev["onlineMeetingProvider"] = "teamsForBusiness"
	}

	var out struct {
		ID      string `json:"id"`
		Subject string `json:"subject"`
		Start   when   `json:"start"`
		End     when   `json:"end"`
		WebLink string `json:"webLink"`
		Online  *struct {
			JoinURL string `json:"joinUrl"`
		} `json:"onlineMeeting"`
	}
	if _, err := c.rest.Post(ctx, rest.Path("users", p.User, "events"), ev, &out); err != nil {
		return nil, fmt.Errorf("msgraph.CreateEvent: %w", err)
	}
	e := &Event{
		ID:       out.ID,
		Subject:  out.Subject,
		Start:    out.Start.DateTime,
		End:      out.End.DateTime,
		TimeZone: out.Start.TimeZone,
		WebLink:  out.WebLink,
	}
	if out.Online != nil {
		e.OnlineJoinURL = out.Online.JoinURL
	}
	return e, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Groups
// ──────────────────────────────────────────────────────────────────────────────

type ListGroupMembersParams struct {
	GroupID string `json:"group_id" jsonschema:"required"`
	Limit   int    `json:"limit,omitempty" jsonschema:"minimum=1,maximum=1000"`
}

type Member struct {
	ID                string `json:"id"`
	Type              string `json:"type"`
	DisplayName       string `json:"display_name"`
	Mail              string `json:"mail,omitempty"`
	UserPrincipalName string `json:"user_principal_name,omitempty"`
}

type ListGroupMembersResponse struct {
	Members []Member `json:"members"`
}

func (c *Client) ListGroupMembers(ctx context.Context, p ListGroupMembersParams) (*ListGroupMembersResponse, error) {
	type wire struct {
		ODataType         string `json:"@odata.type"`
		ID                string `json:"id"`
		DisplayName       string `json:"displayName"`
		Mail              string `json:"mail"`
		UserPrincipalName string `json:"userPrincipalName"`
	}
	limit := rest.ClampLimit(p.Limit, 100)
	q := url.Values{"$select": {"id,displayName,mail,userPrincipalName"}, "$top": {strconv.Itoa(min(limit, 999))}}
	rows, err := list[wire](ctx, c, limit, rest.Path("groups", p.GroupID, "members"), q)
	if err != nil {
		return nil, fmt.Errorf("msgraph.ListGroupMembers: %w", err)
	}
	out := &ListGroupMembersResponse{Members: make([]Member, 0, len(rows))}
	for _, r := range rows {
		out.Members = append(out.Members, Member{
			ID:                r.ID,
			Type:              strings.TrimPrefix(r.ODataType, "#microsoft.graph."),
			DisplayName:       r.DisplayName,
			Mail:              r.Mail,
			UserPrincipalName: r.UserPrincipalName,
		})
	}
	return out, nil
}
