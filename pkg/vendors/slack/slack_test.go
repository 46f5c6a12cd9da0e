package slack

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bturcanu/toolbelt/pkg/rest/resttest"
)

func newClient(t *testing.T) (*Client, *resttest.Server) {
	t.Helper()
	srv := resttest.New(t)
	c, err := New(Config{BaseURL: srv.URL, BotToken: "xoxb-test"}, srv.Option())
	require.NoError(t, err)
	return c, srv
}

func TestPostMessage(t *testing.T) {
	c, srv := newClient(t)
	srv.Reply(http.MethodPost, "/chat.postMessage", http.StatusOK,
		`{"ok":true,"channel":"C123","ts":"1700000000.000100","message":{"text":"hi"}}`)

	out, err := c.PostMessage(context.Background(), PostMessageParams{Channel: "C123", Text: "hi", ThreadTS: "1699999999.000001"})
	require.NoError(t, err)
	assert.Equal(t, &PostMessageResponse{Channel: "C123", TS: "1700000000.000100"}, out)

	req := srv.Last(t)
	assert.Equal(t, "Bearer xoxb-test", req.Header.Get("Authorization"))
	var body map[string]string
	req.Decode(t, &body)
	assert.Equal(t, map[string]string{"channel": "C123", "text": "hi", "thread_ts": "1699999999.000001"}, body)
}

func TestPostMessage_OKFalseIsAPIError(t *testing.T) {
	c, srv := newClient(t)
	srv.Reply(http.MethodPost, "/chat.postMessage", http.StatusOK, `{"ok":false,"error":"missing_scope","needed":"chat:write"}`)

	_, err := c.PostMessage(context.Background(), PostMessageParams{Channel: "C1", Text: "x"})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "missing_scope", apiErr.Code)
	assert.Equal(t, "chat:write", apiErr.Needed)
	assert.Contains(t, err.Error(), "needs scope chat:write")
}

func TestListChannels_FollowsCursor(t *testing.T) {
	c, srv := newClient(t)
	srv.Router.Get("/conversations.list", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("cursor") == "" {
			resttest.WriteJSON(w, http.StatusOK, `{"ok":true,
				"channels":[{"id":"C1","name":"general","is_private":false,"num_members":40,"topic":{"value":"All hands"}}],
				"response_metadata":{"next_cursor":"dGVhbTpDMg=="}}`)
			return
		}
		resttest.WriteJSON(w, http.StatusOK, `{"ok":true,
			"channels":[{"id":"C2","name":"ops","is_private":true,"is_archived":true}],
			"response_metadata":{"next_cursor":""}}`)
	})

	out, err := c.ListChannels(context.Background(), ListChannelsParams{Types: "public_channel,private_channel", ExcludeArchived: true})
	require.NoError(t, err)
	assert.Equal(t, []Channel{
		{ID: "C1", Name: "general", NumMembers: 40, Topic: "All hands"},
		{ID: "C2", Name: "ops", IsPrivate: true, IsArchived: true},
	}, out.Channels)

	reqs := srv.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "public_channel,private_channel", reqs[0].Query.Get("types"))
	assert.Equal(t, "true", reqs[0].Query.Get("exclude_archived"))
	assert.Equal(t, "dGVhbTpDMg==", reqs[1].Query.Get("cursor"))
}

func TestLookupUserByEmail(t *testing.T) {
	c, srv := newClient(t)
	srv.Reply(http.MethodGet, "/users.lookupByEmail", http.StatusOK, `{"ok":true,"user":{
		"id":"U1","name":"ada","tz":"Europe/London","is_bot":false,
		"profile":{"real_name":"Ada Lovelace","display_name":"ada","email":"ada@example.com"}}}`)

	out, err := c.LookupUserByEmail(context.Background(), LookupUserByEmailParams{Email: "ada@example.com"})
	require.NoError(t, err)
	assert.Equal(t, &User{
		ID:          "U1",
		Name:        "ada",
		RealName:    "Ada Lovelace",
		DisplayName: "ada",
		Email:       "ada@example.com",
		TZ:          "Europe/London",
	}, out)
	assert.Equal(t, "ada@example.com", srv.Last(t).Query.Get("email"))
}

func TestLookupUserByEmail_NotFound(t *testing.T) {
	c, srv := newClient(t)
	srv.Reply(http.MethodGet, "/users.lookupByEmail", http.StatusOK, `{"ok":false,"error":"users_not_found"}`)

	_, err := c.LookupUserByEmail(context.Background(), LookupUserByEmailParams{Email: "nobody@example.com"})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "users.lookupByEmail", apiErr.Method)
}

func TestGetChannelHistory_StopsWithoutHasMore(t *testing.T) {
	c, srv := newClient(t)
	srv.Reply(http.MethodGet, "/conversations.history", http.StatusOK, `{"ok":true,"has_more":false,
		"messages":[{"ts":"2.0","user":"U1","text":"second"},{"ts":"1.0","bot_id":"B1","text":"first","reply_count":2,"thread_ts":"1.0"}],
		"response_metadata":{"next_cursor":"ignored"}}`)

	out, err := c.GetChannelHistory(context.Background(), GetChannelHistoryParams{Channel: "C1", Oldest: "0.5", Limit: 5})
	require.NoError(t, err)
	require.Len(t, out.Messages, 2)
	assert.Equal(t, Message{TS: "1.0", BotID: "B1", Text: "first", ThreadTS: "1.0", ReplyCount: 2}, out.Messages[1])

	reqs := srv.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "C1", reqs[0].Query.Get("channel"))
	assert.Equal(t, "0.5", reqs[0].Query.Get("oldest"))
	assert.Equal(t, "5", reqs[0].Query.Get("limit"))
}

func TestTools(t *testing.T) {
	c, _ := newClient(t)
	names := map[string]bool{}
	for _, tl := range c.Tools() {
		names[tl.Name] = tl.ReadOnly
	}
	assert.Equal(t, map[string]bool{
		"slack_post_message":         false,
		"slack_list_channels":        true,
		"slack_lookup_user_by_email": true,
		"slack_get_channel_history":  true,
	}, names)
}
