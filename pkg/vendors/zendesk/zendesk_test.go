package zendesk

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bturcanu/toolbelt/pkg/rest/resttest"
	"github.com/bturcanu/toolbelt/pkg/types"
)

func newClient(t *testing.T) (*Client, *resttest.Server) {
	t.Helper()
	srv := resttest.New(t)
	c, err := New(Config{BaseURL: srv.URL, Email: "agent@example.com", APIToken: "zd"}, srv.Option())
	require.NoError(t, err)
	return c, srv
}

func TestNew_SubdomainBuildsURL(t *testing.T) {
	c, err := New(Config{Subdomain: "acme", Email: "a@b.c", APIToken: "x"})
	require.NoError(t, err)
	assert.Equal(t, "https://acme.zendesk.com", c.rest.BaseURL())
}

func TestCreateTicket(t *testing.T) {
	c, srv := newClient(t)
	srv.Reply(http.MethodPost, "/api/v2/tickets.json", http.StatusCreated,
		`{"ticket":{"id":35436,"subject":"Printer on fire","status":"new","priority":"urgent","requester_id":20978392,"tags":["hw"]}}`)

	out, err := c.CreateTicket(context.Background(), CreateTicketParams{
		Subject:        "Printer on fire",
		Body:           "Smoke everywhere",
		Priority:       "urgent",
		Tags:           []string{"hw"},
		RequesterEmail: "ada@example.com",
		RequesterName:  "Ada",
	})
	require.NoError(t, err)
	assert.Equal(t, &Ticket{ID: 35436, Subject: "Printer on fire", Status: "new", Priority: "urgent", RequesterID: 20978392, Tags: []string{"hw"}}, out)

	req := srv.Last(t)
	user, pass, ok := (&http.Request{Header: req.Header}).BasicAuth()
	require.True(t, ok)
	assert.Equal(t, "agent@example.com/token", user)
	assert.Equal(t, "zd", pass)

	assert.JSONEq(t, `{"ticket":{
		"subject":"Printer on fire",
		"comment":{"body":"Smoke everywhere"},
		"priority":"urgent",
		"tags":["hw"],
		"requester":{"email":"ada@example.com","name":"Ada"}}}`, string(req.Body))
}

func TestGetTicket(t *testing.T) {
	c, srv := newClient(t)
	srv.Reply(http.MethodGet, "/api/v2/tickets/42.json", http.StatusOK, `{"ticket":{"id":42,"subject":"Help","assignee_id":7}}`)

	out, err := c.GetTicket(context.Background(), GetTicketParams{TicketID: 42})
	require.NoError(t, err)
	assert.Equal(t, &Ticket{ID: 42, Subject: "Help", AssigneeID: 7}, out)
}

func TestUpdateTicket_InternalNote(t *testing.T) {
	c, srv := newClient(t)
	srv.Reply(http.MethodPut, "/api/v2/tickets/42.json", http.StatusOK, `{"ticket":{"id":42,"status":"pending"}}`)

	private := false
	out, err := c.UpdateTicket(context.Background(), UpdateTicketParams{TicketID: 42, Status: "pending", Comment: "waiting on vendor", CommentPublic: &private})
	require.NoError(t, err)
	assert.Equal(t, "pending", out.Status)
	assert.JSONEq(t, `{"ticket":{"status":"pending","comment":{"body":"waiting on vendor","public":false}}}`, string(srv.Last(t).Body))
}

func TestUpdateTicket_NothingToUpdate(t *testing.T) {
	c, srv := newClient(t)
	_, err := c.UpdateTicket(context.Background(), UpdateTicketParams{TicketID: 42})
	var ve *types.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Empty(t, srv.Requests())
}

func TestListTickets_CursorPaging(t *testing.T) {
	c, srv := newClient(t)
	srv.Router.Get("/api/v2/tickets.json", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page[after]") == "" {
			resttest.WriteJSON(w, http.StatusOK, `{"tickets":[{"id":1,"subject":"a"},{"id":2,"subject":"b"}],"meta":{"has_more":true,"after_cursor":"xyz"}}`)
			return
		}
		resttest.WriteJSON(w, http.StatusOK, `{"tickets":[{"id":3,"subject":"c"}],"meta":{"has_more":false,"after_cursor":"end"}}`)
	})

	out, err := c.ListTickets(context.Background(), ListTicketsParams{Limit: 50})
	require.NoError(t, err)
	require.Len(t, out.Tickets, 3)

	reqs := srv.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "50", reqs[0].Query.Get("page[size]"))
	assert.Equal(t, "xyz", reqs[1].Query.Get("page[after]"))
}

func TestDeleteTicket(t *testing.T) {
	c, srv := newClient(t)
	srv.Reply(http.MethodDelete, "/api/v2/tickets/42.json", http.StatusNoContent, nil)

	out, err := c.DeleteTicket(context.Background(), DeleteTicketParams{TicketID: 42})
	require.NoError(t, err)
	assert.Equal(t, &DeleteTicketResponse{HTTPCode: http.StatusNoContent}, out)
}
