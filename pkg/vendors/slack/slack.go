// Package slack exposes Slack Web API methods as tools.
package slack

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/bturcanu/toolbelt/pkg/rest"
	"github.com/bturcanu/toolbelt/pkg/tool"
	"github.com/bturcanu/toolbelt/pkg/types"
)

const (
	Vendor         = "slack"
	DefaultBaseURL = "https://slack.com/api"
)

// Config holds a bot token (xoxb-...).
type Config struct {
	BaseURL  string `yaml:"base_url"`
	BotToken string `yaml:"bot_token"`
}

type Client struct {
	rest *rest.Client
}

func New(cfg Config, opts ...rest.Option) (*Client, error) {
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("slack.New: %w", types.Required("bot_token"))
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	rc, err := rest.New(cfg.BaseURL, append([]rest.Option{rest.WithAuth(rest.Bearer(cfg.BotToken))}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("slack.New: %w", err)
	}
	return &Client{rest: rc}, nil
}

func (c *Client) Tools() []tool.Tool {
	return []tool.Tool{
		tool.New(Vendor, "post_message", "Post a message to a Slack channel or thread.", c.PostMessage),
		tool.New(Vendor, "list_channels", "List Slack conversations visible to the bot.", c.ListChannels, tool.ReadOnly()),
		tool.New(Vendor, "lookup_user_by_email", "Find a Slack user by email address.", c.LookupUserByEmail, tool.ReadOnly()),
		tool.New(Vendor, "get_channel_history", "Read recent messages from a Slack channel.", c.GetChannelHistory, tool.ReadOnly()),
	}
}

// APIError is a Slack method failure. Slack reports these with HTTP 200 and
// "ok": false.
type APIError struct {
	Method string
	Code   string
	Needed string
}

func (e *APIError) Error() string {
	if e.Needed != "" {
		return fmt.Sprintf("slack %s: %s (needs scope %s)", e.Method, e.Code, e.Needed)
	}
	return fmt.Sprintf("slack %s: %s", e.Method, e.Code)
}

// envelope is embedded in every method response.
type envelope struct {
	OK       bool   `json:"ok"`
	Error    string `json:"error"`
	Needed   string `json:"needed"`
	Metadata struct {
		NextCursor string `json:"next_cursor"`
	} `json:"response_metadata"`
}

func (e envelope) check(method string) error {
	if e.OK {
		return nil
	}
	return &APIError{Method: method, Code: e.Error, Needed: e.Needed}
}

// get calls a read method. out must embed envelope and expose it via env.
func (c *Client) get(ctx context.Context, method string, q url.Values, out any, env *envelope) error {
	if _, err := c.rest.Get(ctx, "/"+method, q, out); err != nil {
		return err
	}
	return env.check(method)
}

// ──────────────────────────────────────────────────────────────────────────────
// post_message
// ──────────────────────────────────────────────────────────────────────────────

type PostMessageParams struct {
	Channel  string `json:"channel" jsonschema:"required" jsonschema_description:"Channel id or name"`
	Text     string `json:"text" jsonschema:"required"`
	ThreadTS string `json:"thread_ts,omitempty" jsonschema_description:"Reply in this thread"`
}

type PostMessageResponse struct {
	Channel string `json:"channel"`
	TS      string `json:"ts"`
}

func (c *Client) PostMessage(ctx context.Context, p PostMessageParams) (*PostMessageResponse, error) {
	var out struct {
		envelope
		Channel string `json:"channel"`
		TS      string `json:"ts"`
	}
	body := map[string]string{"channel": p.Channel, "text": p.Text}
	if p.ThreadTS != "" {
		body["thread_ts"] = p.ThreadTS
	}
	if _, err := c.rest.Post(ctx, "/chat.postMessage", body, &out); err != nil {
		return nil, fmt.Errorf("slack.PostMessage: %w", err)
	}
	if err := out.check("chat.postMessage"); err != nil {
		return nil, err
	}
	return &PostMessageResponse{Channel: out.Channel, TS: out.TS}, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// list_channels
// ──────────────────────────────────────────────────────────────────────────────

type ListChannelsParams struct {
	Types           string `json:"types,omitempty" jsonschema_description:"Comma-separated: public_channel, private_channel, mpim, im"`
	ExcludeArchived bool   `json:"exclude_archived,omitempty"`
	Limit           int    `json:"limit,omitempty" jsonschema:"minimum=1,maximum=1000"`
}

type Channel struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	IsPrivate  bool   `json:"is_private"`
	IsArchived bool   `json:"is_archived"`
	NumMembers int    `json:"num_members,omitempty"`
	Topic      string `json:"topic,omitempty"`
}

type ListChannelsResponse struct {
	Channels []Channel `json:"channels"`
}

func (c *Client) ListChannels(ctx context.Context, p ListChannelsParams) (*ListChannelsResponse, error) {
	limit := rest.ClampLimit(p.Limit, 200)
	channels, err := rest.Collect(ctx, limit, func(ctx context.Context, cursor string) (rest.Page[Channel], error) {
		q := url.Values{"limit": {strconv.Itoa(min(limit, 200))}}
		if p.Types != "" {
			q.Set("types", p.Types)
		}
		if p.ExcludeArchived {
			q.Set("exclude_archived", "true")
		}
		if cursor != "" {
			q.Set("cursor", cursor)
		}
		var out struct {
			envelope
			Channels []struct {
				ID         string `json:"id"`
				Name       string `json:"name"`
				IsPrivate  bool   `json:"is_private"`
				IsArchived bool   `json:"is_archived"`
				NumMembers int    `json:"num_members"`
				Topic      struct {
					Value string `json:"value"`
				} `json:"topic"`
			} `json:"channels"`
		}
		if err := c.get(ctx, "conversations.list", q, &out, &out.envelope); err != nil {
			return rest.Page[Channel]{}, err
		}
		page := rest.Page[Channel]{Next: out.Metadata.NextCursor}
		for _, ch := range out.Channels {
			page.Items = append(page.Items, Channel{
				ID:         ch.ID,
				Name:       ch.Name,
				IsPrivate:  ch.IsPrivate,
				IsArchived: ch.IsArchived,
				NumMembers: ch.NumMembers,
				Topic:      ch.Topic.Value,
			})
		}
		return page, nil
	})
	if err != nil {
		return nil, fmt.Errorf("slack.ListChannels: %w", err)
	}
	return &ListChannelsResponse{Channels: channels}, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// lookup_user_by_email
// ──────────────────────────────────────────────────────────────────────────────

type LookupUserByEmailParams struct {
	Email string `json:"email" jsonschema:"required"`
}

type User struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	RealName    string `json:"real_name,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Email       string `json:"email,omitempty"`
	IsBot       bool   `json:"is_bot"`
	Deleted     bool   `json:"deleted"`
	TZ          string `json:"tz,omitempty"`
}

func (c *Client) LookupUserByEmail(ctx context.Context, p LookupUserByEmailParams) (*User, error) {
	var out struct {
		envelope
		User struct {
			ID      string `json:"id"`
			Name    string `json:"name"`
			Deleted bool   `json:"deleted"`
			IsBot   bool   `json:"is_bot"`
			TZ      string `json:"tz"`
			Profile struct {
				RealName    string `json:"real_name"`
				DisplayName string `json:"display_name"`
				Email       string `json:"email"`
			} `json:"profile"`
		} `json:"user"`
	}
	if err := c.get(ctx, "users.lookupByEmail", url.Values{"email": {p.Email}}, &out, &out.envelope); err != nil {
		return nil, fmt.Errorf("slack.LookupUserByEmail: %w", err)
	}
	u := out.User
	return &User{
		ID:          u.ID,
		Name:        u.Name,
		RealName:    u.Profile.RealName,
		DisplayName: u.Profile.DisplayName,
		Email:       u.Profile.Email,
		IsBot:       u.IsBot,
		Deleted:     u.Deleted,
		TZ:          u.TZ,
	}, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// get_channel_history
// ──────────────────────────────────────────────────────────────────────────────

type GetChannelHistoryParams struct {
	Channel string `json:"channel" jsonschema:"required"`
	Oldest  string `json:"oldest,omitempty" jsonschema_description:"Only messages after this Unix timestamp"`
	Latest  string `json:"latest,omitempty" jsonschema_description:"Only messages before this Unix timestamp"`
	Limit   int    `json:"limit,omitempty" jsonschema:"minimum=1,maximum=1000"`
}

type Message struct {
	TS         string `json:"ts"`
	User       string `json:"user,omitempty"`
	BotID      string `json:"bot_id,omitempty"`
	Text       string `json:"text"`
	ThreadTS   string `json:"thread_ts,omitempty"`
	ReplyCount int    `json:"reply_count,omitempty"`
}

type GetChannelHistoryResponse struct {
	Messages []Message `json:"messages"`
}

func (c *Client) GetChannelHistory(ctx context.Context, p GetChannelHistoryParams) (*GetChannelHistoryResponse, error) {
	limit := rest.ClampLimit(p.Limit, 100)
	msgs, err := rest.Collect(ctx, limit, func(ctx context.Context, cursor string) (rest.Page[Message], error) {
		q := url.Values{
			"channel": {p.Channel},
			"limit":   {strconv.Itoa(min(limit, 200))},
		}
		if p.Oldest != "" {
			q.Set("oldest", p.Oldest)
		}
		if p.Latest != "" {
			q.Set("latest", p.Latest)
		}
		if cursor != "" {
			q.Set("cursor", cursor)
		}
		var out struct {
			envelope
			Messages []Message `json:"messages"`
			HasMore  bool      `json:"has_more"`
		}
		if err := c.get(ctx, "conversations.history", q, &out, &out.envelope); err != nil {
			return rest.Page[Message]{}, err
		}
		page := rest.Page[Message]{Items: out.Messages}
		if out.HasMore {
			page.Next = out.Metadata.NextCursor
		}
		return page, nil
	})
	if err != nil {
		return nil, fmt.Errorf("slack.GetChannelHistory: %w", err)
	}
	return &GetChannelHistoryResponse{Messages: msgs}, nil
}
