// Package s4hana exposes SAP S/4HANA Cloud business partner and sales order
// OData v2 APIs as tools.
package s4hana

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/bturcanu/toolbelt/pkg/rest"
	"github.com/bturcanu/toolbelt/pkg/tool"
	"github.com/bturcanu/toolbelt/pkg/types"
	"github.com/bturcanu/toolbelt/pkg/vendors/internal/odata"
)

const Vendor = "s4hana"

const (
	partnerService    = "/sap/opu/odata/sap/API_BUSINESS_PARTNER"
	salesOrderService = "/sap/opu/odata/sap/API_SALES_ORDER_SRV"
)

// Config authenticates a communication user with HTTP basic.
type Config struct {
	// BaseURL is the API host, e.g. https://my000000-api.s4hana.ondemand.com.
	BaseURL  string `yaml:"base_url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// Client selects the SAP client (mandant) on on-premise systems.
	Client string `yaml:"sap_client"`
}

type Client struct {
	rest *rest.Client
}

func New(cfg Config, opts ...rest.Option) (*Client, error) {
	switch {
	case cfg.BaseURL == "":
		return nil, fmt.Errorf("s4hana.New: %w", types.Required("base_url"))
	case cfg.Username == "":
		return nil, fmt.Errorf("s4hana.New: %w", types.Required("username"))
	case cfg.Password == "":
		return nil, fmt.Errorf("s4hana.New: %w", types.Required("password"))
	}
	base := []rest.Option{rest.WithAuth(rest.Basic(cfg.Username, cfg.Password))}
	if cfg.Client != "" {
		base = append(base, rest.WithHeader("sap-client", cfg.Client))
	}
	rc, err := rest.New(cfg.BaseURL, append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("s4hana.New: %w", err)
	}
	return &Client{rest: rc}, nil
}

func (c *Client) Tools() []tool.Tool {
	return []tool.Tool{
		tool.New(Vendor, "list_business_partners", "List S/4HANA business partners.", c.ListBusinessPartners, tool.ReadOnly()),
		tool.New(Vendor, "get_business_partner", "Fetch an S/4HANA business partner by number.", c.GetBusinessPartner, tool.ReadOnly()),
		tool.New(Vendor, "update_business_partner", "Update fields on an S/4HANA business partner.", c.UpdateBusinessPartner),
		tool.New(Vendor, "list_sales_orders", "List S/4HANA sales orders, optionally for one sold-to party.", c.ListSalesOrders, tool.ReadOnly()),
		tool.New(Vendor, "get_sales_order", "Fetch an S/4HANA sales order with its items.", c.GetSalesOrder, tool.ReadOnly()),
	}
}

// skipList pages an OData collection with $top/$skip until a short page.
func skipList[W, T any](ctx context.Context, c *Client, limit int, path string, kv []string, conv func(W) T) ([]T, error) {
	pageSize := min(limit, 500)
	return rest.Collect(ctx, limit, func(ctx context.Context, cursor string) (rest.Page[T], error) {
		skip, _ := strconv.Atoi(cursor)
		q := odata.Query(append(append([]string(nil), kv...),
			"$top", strconv.Itoa(pageSize),
			"$skip", strconv.Itoa(skip),
		)...)
		var out odata.Results[W]
		if _, err := c.rest.Get(ctx, path, q, &out); err != nil {
			return rest.Page[T]{}, err
		}
		page := rest.Page[T]{Items: make([]T, 0, len(out.D.Results))}
		for _, w := range out.D.Results {
			page.Items = append(page.Items, conv(w))
		}
		if len(out.D.Results) == pageSize {
			page.Next = strconv.Itoa(skip + pageSize)
		}
		return page, nil
	})
}

// ──────────────────────────────────────────────────────────────────────────────
// Business partners
// ──────────────────────────────────────────────────────────────────────────────

type BusinessPartner struct {
	ID           string `json:"id"`
	FullName     string `json:"full_name,omitempty"`
	Category     string `json:"category,omitempty"`
	Grouping     string `json:"grouping,omitempty"`
	FirstName    string `json:"first_name,omitempty"`
	LastName     string `json:"last_name,omitempty"`
	Organization string `json:"organization,omitempty"`
	Blocked      bool   `json:"blocked,omitempty"`
	CreatedOn    string `json:"created_on,omitempty"`
	ChangedOn    string `json:"changed_on,omitempty"`
}

type partnerWire struct {
	BusinessPartner          string     `json:"BusinessPartner"`
	BusinessPartnerFullName  string     `json:"BusinessPartnerFullName"`
	BusinessPartnerCategory  string     `json:"BusinessPartnerCategory"`
	BusinessPartnerGrouping  string     `json:"BusinessPartnerGrouping"`
	FirstName                string     `json:"FirstName"`
	LastName                 string     `json:"LastName"`
	OrganizationBPName1      string     `json:"OrganizationBPName1"`
	BusinessPartnerIsBlocked bool       `json:"BusinessPartnerIsBlocked"`
	CreationDate             odata.Date `json:"CreationDate"`
	LastChangeDate           odata.Date `json:"LastChangeDate"`
}

func (w partnerWire) flatten() BusinessPartner {
	return BusinessPartner{
		ID:           w.BusinessPartner,
		FullName:     w.BusinessPartnerFullName,
		Category:     w.BusinessPartnerCategory,
		Grouping:     w.BusinessPartnerGrouping,
		FirstName:    w.FirstName,
		LastName:     w.LastName,
		Organization: w.OrganizationBPName1,
		Blocked:      w.BusinessPartnerIsBlocked,
		CreatedOn:    string(w.CreationDate),
		ChangedOn:    string(w.LastChangeDate),
	}
}

const partnerSelect = "BusinessPartner,BusinessPartnerFullName,BusinessPartnerCategory,BusinessPartnerGrouping," +
	"FirstName,LastName,OrganizationBPName1,BusinessPartnerIsBlocked,CreationDate,LastChangeDate"

type ListBusinessPartnersParams struct {
	Filter string `json:"filter,omitempty" jsonschema_description:"OData $filter expression, e.g. BusinessPartnerGrouping eq 'BP02'"`
	// Category is 1 (person), 2 (organization) or 3 (group).
	Category string `json:"category,omitempty" jsonschema:"enum=1,enum=2,enum=3"`
	Limit    int    `json:"limit,omitempty" jsonschema:"minimum=1,maximum=1000"`
}

type ListBusinessPartnersResponse struct {
	BusinessPartners []BusinessPartner `json:"business_partners"`
}

func (c *Client) ListBusinessPartners(ctx context.Context, p ListBusinessPartnersParams) (*ListBusinessPartnersResponse, error) {
	var clauses []string
	if p.Filter != "" {
		clauses = append(clauses, "("+p.Filter+")")
	}
	if p.Category != "" {
		clauses = append(clauses, "BusinessPartnerCategory eq "+odata.Literal(p.Category))
	}
	kv := []string{
		"$select", partnerSelect,
		"$filter", strings.Join(clauses, " and "),
		"$orderby", "BusinessPartner",
	}
	partners, err := skipList(ctx, c, rest.ClampLimit(p.Limit, 100), partnerService+"/A_BusinessPartner", kv, partnerWire.flatten)
	if err != nil {
		return nil, fmt.Errorf("s4hana.ListBusinessPartners: %w", err)
	}
	return &ListBusinessPartnersResponse{BusinessPartners: partners}, nil
}

type GetBusinessPartnerParams struct {
	ID string `json:"id" jsonschema:"required,minLength=1,maxLength=10"`
}

func (c *Client) GetBusinessPartner(ctx context.Context, p GetBusinessPartnerParams) (*BusinessPartner, error) {
	var out odata.Entity[partnerWire]
	path := odata.EntityPath(partnerService, "A_BusinessPartner", p.ID)
	if _, err := c.rest.Get(ctx, path, odata.Query("$select", partnerSelect), &out); err != nil {
		return nil, fmt.Errorf("s4hana.GetBusinessPartner: %w", err)
	}
	bp := out.D.flatten()
	return &bp, nil
}

type UpdateBusinessPartnerParams struct {
	ID     string         `json:"id" jsonschema:"required,minLength=1,maxLength=10"`
	Fields map[string]any `json:"fields" jsonschema:"required" jsonschema_description:"A_BusinessPartner property names, e.g. BusinessPartnerIsBlocked"`
}

type UpdateBusinessPartnerResponse struct {
	HTTPCode int `json:"http_code"`
}

// UpdateBusinessPartner sends a MERGE-style PATCH. S/4HANA rejects writes
// without a CSRF token, so one is fetched from the service root first.
func (c *Client) UpdateBusinessPartner(ctx context.Context, p UpdateBusinessPartnerParams) (*UpdateBusinessPartnerResponse, error) {
	if len(p.Fields) == 0 {
		return nil, fmt.Errorf("s4hana.UpdateBusinessPartner: %w", types.Required("fields"))
	}
	csrf, err := c.csrfHeader(ctx, partnerService)
	if err != nil {
		return nil, fmt.Errorf("s4hana.UpdateBusinessPartner: %w", err)
	}
	csrf.Set("If-Match", "*")
	resp, err := c.rest.Do(ctx, rest.Request{
		Method: http.MethodPatch,
		Path:   odata.EntityPath(partnerService, "A_BusinessPartner", p.ID),
		Body:   p.Fields,
		Header: csrf,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("s4hana.UpdateBusinessPartner: %w", err)
	}
	return &UpdateBusinessPartnerResponse{HTTPCode: resp.StatusCode}, nil
}

// csrfHeader fetches a token and returns it with the session cookies it is
// bound to.
func (c *Client) csrfHeader(ctx context.Context, service string) (http.Header, error) {
	resp, err := c.rest.Do(ctx, rest.Request{
		Path:   service + "/",
		Header: http.Header{"X-Csrf-Token": {"Fetch"}},
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch csrf token: %w", err)
	}
	token := resp.Header.Get("X-Csrf-Token")
	if token == "" || strings.EqualFold(token, "required") {
		return nil, fmt.Errorf("fetch csrf token: no token in response")
	}
	h := http.Header{"X-Csrf-Token": {token}}
	cookies := (&http.Response{Header: resp.Header}).Cookies()
	if len(cookies) > 0 {
		pairs := make([]string, 0, len(cookies))
		for _, ck := range cookies {
			pairs = append(pairs, ck.Name+"="+ck.Value)
		}
		h.Set("Cookie", strings.Join(pairs, "; "))
	}
	return h, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Sales orders
// ──────────────────────────────────────────────────────────────────────────────

type SalesOrder struct {
	ID                string           `json:"id"`
	Type              string           `json:"type,omitempty"`
	SoldToParty       string           `json:"sold_to_party,omitempty"`
	SalesOrganization string           `json:"sales_organization,omitempty"`
	Currency          string           `json:"currency,omitempty"`
	NetAmount         string           `json:"net_amount,omitempty"`
	Status            string           `json:"status,omitempty"`
	CreatedOn         string           `json:"created_on,omitempty"`
	Items             []SalesOrderItem `json:"items,omitempty"`
}

type SalesOrderItem struct {
	Item      string `json:"item"`
	Material  string `json:"material,omitempty"`
	Text      string `json:"text,omitempty"`
	Quantity  string `json:"quantity,omitempty"`
	Unit      string `json:"unit,omitempty"`
	NetAmount string `json:"net_amount,omitempty"`
}

type salesOrderWire struct {
	SalesOrder             string     `json:"SalesOrder"`
	SalesOrderType         string     `json:"SalesOrderType"`
	SoldToParty            string     `json:"SoldToParty"`
	SalesOrganization      string     `json:"SalesOrganization"`
	TransactionCurrency    string     `json:"TransactionCurrency"`
	TotalNetAmount         string     `json:"TotalNetAmount"`
	OverallSDProcessStatus string     `json:"OverallSDProcessStatus"`
	CreationDate           odata.Date `json:"CreationDate"`
	Items                  *struct {
		Results []struct {
			SalesOrderItem        string `json:"SalesOrderItem"`
			Material              string `json:"Material"`
			SalesOrderItemText    string `json:"SalesOrderItemText"`
			RequestedQuantity     string `json:"RequestedQuantity"`
			RequestedQuantityUnit string `json:"RequestedQuantityUnit"`
			NetAmount             string `json:"NetAmount"`
		} `json:"results"`
	} `json:"to_Item"`
}

func (w salesOrderWire) flatten() SalesOrder {
	o := SalesOrder{
		ID:                w.SalesOrder,
		Type:              w.SalesOrderType,
		SoldToParty:       w.SoldToParty,
		SalesOrganization: w.SalesOrganization,
		Currency:          w.TransactionCurrency,
		NetAmount:         w.TotalNetAmount,
		Status:            w.OverallSDProcessStatus,
		CreatedOn:         string(w.CreationDate),
	}
	if w.Items != nil {
		o.Items = make([]SalesOrderItem, 0, len(w.Items.Results))
		for _, it := range w.Items.Results {
			o.Items = append(o.Items, SalesOrderItem{
				Item:      it.SalesOrderItem,
				Material:  it.Material,
				Text:      it.SalesOrderItemText,
				Quantity:  it.RequestedQuantity,
				Unit:      it.RequestedQuantityUnit,
				NetAmount: it.NetAmount,
			})
		}
	}
	return o
}

type ListSalesOrdersParams struct {
	SoldToParty string `json:"sold_to_party,omitempty" jsonschema_description:"Business partner number of the customer"`
	Limit       int    `json:"limit,omitempty" jsonschema:"minimum=1,maximum=1000"`
}

type ListSalesOrdersResponse struct {
	SalesOrders []SalesOrder `json:"sales_orders"`
}

func (c *Client) ListSalesOrders(ctx context.Context, p ListSalesOrdersParams) (*ListSalesOrdersResponse, error) {
	var filter string
	if p.SoldToParty != "" {
		filter = "SoldToParty eq " + odata.Literal(p.SoldToParty)
	}
	kv := []string{"$filter", filter, "$orderby", "SalesOrder desc"}
	orders, err := skipList(ctx, c, rest.ClampLimit(p.Limit, 50), salesOrderService+"/A_SalesOrder", kv, salesOrderWire.flatten)
	if err != nil {
		return nil, fmt.Errorf("s4hana.ListSalesOrders: %w", err)
	}
	return &ListSalesOrdersResponse{SalesOrders: orders}, nil
}

type GetSalesOrderParams struct {
	ID string `json:"id" jsonschema:"required,minLength=1,maxLength=10"`
}

func (c *Client) GetSalesOrder(ctx context.Context, p GetSalesOrderParams) (*SalesOrder, error) {
	var out odata.Entity[salesOrderWire]
	path := odata.EntityPath(salesOrderService, "A_SalesOrder", p.ID)
	if _, err := c.rest.Get(ctx, path, odata.Query("$expand", "to_Item"), &out); err != nil {
		return nil, fmt.Errorf("s4hana.GetSalesOrder: %w", err)
	}
	o := out.D.flatten()
	return &o, nil
}
