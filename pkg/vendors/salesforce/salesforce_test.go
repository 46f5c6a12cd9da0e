package salesforce

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bturcanu/toolbelt/pkg/rest/resttest"
)

func newClient(t *testing.T) (*Client, *resttest.Server, *atomic.Int32) {
	t.Helper()
	srv := resttest.New(t)
	var tokens atomic.Int32
	srv.Router.Post("/services/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		tokens.Add(1)
		_ = r.ParseForm()
		if r.Form.Get("grant_type") != "client_credentials" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		resttest.WriteJSON(w, http.StatusOK, `{"access_token":"sf-token","token_type":"Bearer","expires_in":7200}`)
	})
	c, err := New(Config{InstanceURL: srv.URL, ClientID: "id", ClientSecret: "secret"}, srv.Option())
	require.NoError(t, err)
	return c, srv, &tokens
}

func TestCreateRecord_UsesCachedToken(t *testing.T) {
	c, srv, tokens := newClient(t)
	srv.Reply(http.MethodPost, "/services/data/v60.0/sobjects/Account", http.StatusCreated,
		`{"id":"001xx0000001","success":true,"errors":[]}`)

	for range 3 {
		out, err := c.CreateRecord(context.Background(), CreateRecordParams{
			SObject: "Account",
			Fields:  map[string]any{"Name": "Acme", "Industry": "Energy"},
		})
		require.NoError(t, err)
		assert.Equal(t, &CreateRecordResponse{ID: "001xx0000001", Success: true}, out)
	}
	assert.EqualValues(t, 1, tokens.Load())

	req := srv.Last(t)
	assert.Equal(t, "Bearer sf-token", req.Header.Get("Authorization"))
	var body map[string]any
	req.Decode(t, &body)
	assert.Equal(t, map[string]any{"Name": "Acme", "Industry": "Energy"}, body)
}

func TestGetRecord_StripsAttributes(t *testing.T) {
	c, srv, _ := newClient(t)
	srv.Reply(http.MethodGet, "/services/data/v60.0/sobjects/Contact/003xx1", http.StatusOK, `{
		"attributes":{"type":"Contact","url":"/services/data/v60.0/sobjects/Contact/003xx1"},
		"Id":"003xx1","LastName":"Lovelace","Email":"ada@example.com"}`)

	out, err := c.GetRecord(context.Background(), GetRecordParams{SObject: "Contact", ID: "003xx1", Fields: []string{"LastName", "Email"}})
	require.NoError(t, err)
	assert.Equal(t, &Record{
		ID:      "003xx1",
		SObject: "Contact",
		Fields:  map[string]any{"LastName": "Lovelace", "Email": "ada@example.com"},
	}, out)
	assert.Equal(t, "LastName,Email", srv.Find(t, http.MethodGet, "/services/data/v60.0/sobjects/Contact/003xx1").Query.Get("fields"))
}

func TestUpdateRecord_ReturnsCode(t *testing.T) {
	c, srv, _ := newClient(t)
	srv.Reply(http.MethodPatch, "/services/data/v60.0/sobjects/Account/001", http.StatusNoContent, nil)

	out, err := c.UpdateRecord(context.Background(), UpdateRecordParams{SObject: "Account", ID: "001", Fields: map[string]any{"Rating": "Hot"}})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, out.HTTPCode)

	var body map[string]any
	srv.Last(t).Decode(t, &body)
	assert.Equal(t, "Hot", body["Rating"])
}

func TestDeleteRecord(t *testing.T) {
	t.Run("deleted", func(t *testing.T) {
		c, srv, _ := newClient(t)
		srv.Reply(http.MethodDelete, "/services/data/v60.0/sobjects/Account/001", http.StatusNoContent, nil)

		out, err := c.DeleteRecord(context.Background(), DeleteRecordParams{SObject: "Account", ID: "001"})
		require.NoError(t, err)
		assert.Equal(t, &DeleteRecordResponse{HTTPCode: http.StatusNoContent}, out)
	})

	t.Run("vendor error is captured", func(t *testing.T) {
		c, srv, _ := newClient(t)
		srv.Reply(http.MethodDelete, "/services/data/v60.0/sobjects/Account/001", http.StatusNotFound,
			`[{"errorCode":"ENTITY_IS_DELETED","message":"entity is deleted","fields":[]}]`)

		out, err := c.DeleteRecord(context.Background(), DeleteRecordParams{SObject: "Account", ID: "001"})
		require.NoError(t, err)
		assert.Equal(t, &DeleteRecordResponse{
			HTTPCode:  http.StatusNotFound,
			ErrorCode: "ENTITY_IS_DELETED",
			Message:   "entity is deleted",
		}, out)
	})
}

func TestQuery_FollowsNextRecordsURL(t *testing.T) {
	c, srv, _ := newClient(t)
	srv.Reply(http.MethodGet, "/services/data/v60.0/query", http.StatusOK, `{
		"totalSize":3,"done":false,"nextRecordsUrl":"/services/data/v60.0/query/01gxx-2000",
		"records":[
			{"attributes":{"type":"Account"},"Id":"1","Name":"A"},
			{"attributes":{"type":"Account"},"Id":"2","Name":"B"}]}`)
	srv.Reply(http.MethodGet, "/services/data/v60.0/query/01gxx-2000", http.StatusOK, `{
		"totalSize":3,"done":true,
		"records":[{"attributes":{"type":"Account"},"Id":"3","Name":"C"}]}`)

	out, err := c.Query(context.Background(), QueryParams{SOQL: "SELECT Id, Name FROM Account"})
	require.NoError(t, err)
	assert.Equal(t, 3, out.TotalSize)
	require.Len(t, out.Records, 3)
	assert.Equal(t, Record{ID: "3", SObject: "Account", Fields: map[string]any{"Name": "C"}}, out.Records[2])
	assert.Equal(t, "SELECT Id, Name FROM Account", srv.Find(t, http.MethodGet, "/services/data/v60.0/query").Query.Get("q"))
}

func TestQuery_LimitStopsEarly(t *testing.T) {
	c, srv, _ := newClient(t)
	srv.Reply(http.MethodGet, "/services/data/v60.0/query", http.StatusOK, `{
		"totalSize":500,"done":false,"nextRecordsUrl":"/services/data/v60.0/query/next",
		"records":[{"Id":"1"},{"Id":"2"}]}`)

	out, err := c.Query(context.Background(), QueryParams{SOQL: "SELECT Id FROM Case", Limit: 1})
	require.NoError(t, err)
	require.Len(t, out.Records, 1)
	for _, r := range srv.Requests() {
		assert.NotEqual(t, "/services/data/v60.0/query/next", r.Path)
	}
}

func TestListAccountTypes(t *testing.T) {
	c, srv, _ := newClient(t)
	srv.Reply(http.MethodGet, "/services/data/v60.0/sobjects/Account/describe", http.StatusOK, `{"fields":[
		{"name":"Name","picklistValues":[]},
		{"name":"Type","picklistValues":[
			{"value":"Customer - Direct","active":true},
			{"value":"Partner","active":true},
			{"value":"Legacy","active":false}]}]}`)

	out, err := c.ListAccountTypes(context.Background(), ListAccountTypesParams{})
	require.NoError(t, err)
	assert.Equal(t, []AccountType{{AccountType: "Customer - Direct"}, {AccountType: "Partner"}}, out.AccountTypes)

	all, err := c.ListAccountTypes(context.Background(), ListAccountTypesParams{IncludeInactive: true})
	require.NoError(t, err)
	assert.Len(t, all.AccountTypes, 3)
}

func TestTokenFailureSurfaces(t *testing.T) {
	srv := resttest.New(t)
	srv.Reply(http.MethodPost, "/services/oauth2/token", http.StatusBadRequest, `{"error":"invalid_client"}`)
	c, err := New(Config{InstanceURL: srv.URL, ClientID: "id", ClientSecret: "bad"}, srv.Option())
	require.NoError(t, err)

	_, err = c.GetRecord(context.Background(), GetRecordParams{SObject: "Account", ID: "1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "oauth2 token")
}
