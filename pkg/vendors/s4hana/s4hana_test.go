package s4hana

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bturcanu/toolbelt/pkg/rest"
	"github.com/bturcanu/toolbelt/pkg/rest/resttest"
	"github.com/bturcanu/toolbelt/pkg/types"
)

func newClient(t *testing.T) (*Client, *resttest.Server) {
	t.Helper()
	srv := resttest.New(t)
	c, err := New(Config{BaseURL: srv.URL, Username: "COMM_USER", Password: "pw", Client: "100"}, srv.Option())
	require.NoError(t, err)
	return c, srv
}

func TestNew_RequiresCredentials(t *testing.T) {
	_, err := New(Config{BaseURL: "https://s4.test", Username: "u"})
	require.Error(t, err)
	var ve *types.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "password", ve.Field)
}

func TestListBusinessPartners_SkipPaging(t *testing.T) {
	c, srv := newClient(t)
	srv.Router.Get(partnerService+"/A_BusinessPartner", func(w http.ResponseWriter, r *http.Request) {
		skip, _ := strconv.Atoi(r.URL.Query().Get("$skip"))
		n := 150
		if skip > 0 {
			n = 3
		}
		rows := make([]map[string]any, n)
		for i := range rows {
			rows[i] = map[string]any{"BusinessPartner": fmt.Sprintf("%07d", skip+i), "BusinessPartnerCategory": "2"}
		}
		resttest.WriteJSON(w, http.StatusOK, map[string]any{"d": map[string]any{"results": rows}})
	})

	out, err := c.ListBusinessPartners(context.Background(), ListBusinessPartnersParams{
		Filter:   "BusinessPartnerGrouping eq 'BP02'",
		Category: "2",
		Limit:    150,
	})
	require.NoError(t, err)
	require.Len(t, out.BusinessPartners, 150)
	assert.Equal(t, BusinessPartner{ID: "0000149", Category: "2"}, out.BusinessPartners[149])

	reqs := srv.Requests()
	require.Len(t, reqs, 1)
	q := reqs[0].Query
	assert.Equal(t, "(BusinessPartnerGrouping eq 'BP02') and BusinessPartnerCategory eq '2'", q.Get("$filter"))
	assert.Equal(t, "150", q.Get("$top"))
	assert.Equal(t, "0", q.Get("$skip"))
	assert.Equal(t, "100", reqs[0].Header.Get("sap-client"))
}

func TestListBusinessPartners_FollowsFullPages(t *testing.T) {
	c, srv := newClient(t)
	srv.Router.Get(partnerService+"/A_BusinessPartner", func(w http.ResponseWriter, r *http.Request) {
		skip, _ := strconv.Atoi(r.URL.Query().Get("$skip"))
		n := 500
		if skip > 0 {
			n = 1
		}
		rows := make([]map[string]any, n)
		for i := range rows {
			rows[i] = map[string]any{"BusinessPartner": strconv.Itoa(skip + i)}
		}
		resttest.WriteJSON(w, http.StatusOK, map[string]any{"d": map[string]any{"results": rows}})
	})

	out, err := c.ListBusinessPartners(context.Background(), ListBusinessPartnersParams{Limit: 1000})
	require.NoError(t, err)
	assert.Len(t, out.BusinessPartners, 501)

	reqs := srv.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "500", reqs[1].Query.Get("$skip"))
	assert.Empty(t, reqs[0].Query.Get("$filter"))
}

func TestGetBusinessPartner(t *testing.T) {
	c, srv := newClient(t)
	srv.Reply(http.MethodGet, partnerService+"/A_BusinessPartner('17100001')", http.StatusOK, `{"d":{
		"__metadata":{"type":"API_BUSINESS_PARTNER.A_BusinessPartnerType"},
		"BusinessPartner":"17100001","BusinessPartnerFullName":"Domestic US Customer 1",
		"BusinessPartnerCategory":"2","OrganizationBPName1":"Domestic US Customer 1",
		"BusinessPartnerIsBlocked":true,"CreationDate":"/Date(1704067200000)/","LastChangeDate":null}}`)

	out, err := c.GetBusinessPartner(context.Background(), GetBusinessPartnerParams{ID: "17100001"})
	require.NoError(t, err)
	assert.Equal(t, &BusinessPartner{
		ID:           "17100001",
		FullName:     "Domestic US Customer 1",
		Category:     "2",
		Organization: "Domestic US Customer 1",
		Blocked:      true,
		CreatedOn:    "2024-01-01T00:00:00Z",
	}, out)

	last := srv.Last(t)
	assert.Equal(t, partnerSelect, last.Query.Get("$select"))
	user, _, ok := (&http.Request{Header: last.Header}).BasicAuth()
	require.True(t, ok)
	assert.Equal(t, "COMM_USER", user)
}

func TestGetBusinessPartner_NotFound(t *testing.T) {
	c, srv := newClient(t)
	srv.Reply(http.MethodGet, partnerService+"/A_BusinessPartner('404')", http.StatusNotFound,
		`{"error":{"code":"/IWBEP/CM_MGW_RT/020","message":{"lang":"en","value":"Resource not found"}}}`)

	_, err := c.GetBusinessPartner(context.Background(), GetBusinessPartnerParams{ID: "404"})
	require.Error(t, err)
	assert.True(t, rest.IsNotFound(err))
}

func TestUpdateBusinessPartner_SendsCSRFToken(t *testing.T) {
	c, srv := newClient(t)
	srv.Router.Get(partnerService+"/", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Csrf-Token") != "Fetch" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("X-Csrf-Token", "tok-123")
		http.SetCookie(w, &http.Cookie{Name: "SAP_SESSIONID_ER9_100", Value: "abc"})
		http.SetCookie(w, &http.Cookie{Name: "sap-usercontext", Value: "sap-client=100"})
		resttest.WriteJSON(w, http.StatusOK, `{"d":{"EntitySets":["A_BusinessPartner"]}}`)
	})
	srv.Reply(http.MethodPatch, partnerService+"/A_BusinessPartner('17100001')", http.StatusNoContent, nil)

	out, err := c.UpdateBusinessPartner(context.Background(), UpdateBusinessPartnerParams{
		ID:     "17100001",
		Fields: map[string]any{"BusinessPartnerIsBlocked": false},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, out.HTTPCode)

	patch := srv.Last(t)
	assert.Equal(t, http.MethodPatch, patch.Method)
	assert.Equal(t, "tok-123", patch.Header.Get("X-Csrf-Token"))
	assert.Equal(t, "*", patch.Header.Get("If-Match"))
	assert.Equal(t, "SAP_SESSIONID_ER9_100=abc; sap-usercontext=sap-client=100", patch.Header.Get("Cookie"))
	var body map[string]any
	patch.Decode(t, &body)
	assert.Equal(t, map[string]any{"BusinessPartnerIsBlocked": false}, body)
}

func TestUpdateBusinessPartner_NoTokenIsAnError(t *testing.T) {
	c, srv := newClient(t)
	srv.Router.Get(partnerService+"/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("X-Csrf-Token", "Required")
		w.WriteHeader(http.StatusOK)
	})

	_, err := c.UpdateBusinessPartner(context.Background(), UpdateBusinessPartnerParams{
		ID:     "17100001",
		Fields: map[string]any{"FirstName": "Ada"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "csrf")
	assert.Len(t, srv.Requests(), 1)
}

func TestUpdateBusinessPartner_RejectedPatchIsAnError(t *testing.T) {
	c, srv := newClient(t)
	srv.Router.Get(partnerService+"/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("X-Csrf-Token", "tok")
		w.WriteHeader(http.StatusOK)
	})
	srv.Reply(http.MethodPatch, partnerService+"/A_BusinessPartner('1')", http.StatusBadRequest,
		`{"error":{"message":{"value":"Property Foo is invalid"}}}`)

	_, err := c.UpdateBusinessPartner(context.Background(), UpdateBusinessPartnerParams{ID: "1", Fields: map[string]any{"Foo": 1}})
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, rest.StatusCode(err))
}

func TestListSalesOrders_FiltersBySoldToParty(t *testing.T) {
	c, srv := newClient(t)
	srv.Reply(http.MethodGet, salesOrderService+"/A_SalesOrder", http.StatusOK, `{"d":{"results":[
		{"SalesOrder":"5000012","SalesOrderType":"OR","SoldToParty":"17100001","TransactionCurrency":"USD",
		 "TotalNetAmount":"1250.00","OverallSDProcessStatus":"A"}]}}`)

	out, err := c.ListSalesOrders(context.Background(), ListSalesOrdersParams{SoldToParty: "17100001"})
	require.NoError(t, err)
	assert.Equal(t, []SalesOrder{{
		ID:          "5000012",
		Type:        "OR",
		SoldToParty: "17100001",
		Currency:    "USD",
		NetAmount:   "1250.00",
		Status:      "A",
	}}, out.SalesOrders)

	q := srv.Last(t).Query
	assert.Equal(t, "SoldToParty eq '17100001'", q.Get("$filter"))
	assert.Equal(t, "SalesOrder desc", q.Get("$orderby"))
	assert.Equal(t, "50", q.Get("$top"))
}

func TestGetSalesOrder_ExpandsItems(t *testing.T) {
	c, srv := newClient(t)
	srv.Reply(http.MethodGet, salesOrderService+"/A_SalesOrder('5000012')", http.StatusOK, `{"d":{
		"SalesOrder":"5000012","SoldToParty":"17100001","TotalNetAmount":"1250.00",
		"to_Item":{"results":[
			{"SalesOrderItem":"10","Material":"TG11","SalesOrderItemText":"Trad.Good 11",
			 "RequestedQuantity":"5","RequestedQuantityUnit":"PC","NetAmount":"1250.00"}]}}}`)

	out, err := c.GetSalesOrder(context.Background(), GetSalesOrderParams{ID: "5000012"})
	require.NoError(t, err)
	assert.Equal(t, []SalesOrderItem{{
		Item:      "10",
		Material:  "TG11",
		Text:      "Trad.Good 11",
		Quantity:  "5",
		Unit:      "PC",
		NetAmount: "1250.00",
	}}, out.Items)
	assert.Equal(t, "to_Item", srv.Last(t).Query.Get("$expand"))
}

func TestTools_AccessLevels(t *testing.T) {
	c, _ := newClient(t)
	writes := map[string]bool{}
	for _, tl := range c.Tools() {
		writes[tl.Name] = !tl.ReadOnly
	}
	assert.Equal(t, map[string]bool{
		"s4hana_list_business_partners":  false,
		"s4hana_get_business_partner":    false,
		"s4hana_update_business_partner": true,
		"s4hana_list_sales_orders":       false,
		"s4hana_get_sales_order":         false,
	}, writes)
}
