// Package ariba exposes the SAP Ariba Purchase Orders API for buyers as tools.
// Every call carries the application key header and the realm query
// parameter next to an OAuth client-credentials token.
package ariba

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/bturcanu/toolbelt/pkg/rest"
	"github.com/bturcanu/toolbelt/pkg/tool"
	"github.com/bturcanu/toolbelt/pkg/types"
	"github.com/bturcanu/toolbelt/pkg/vendors/internal/odata"
)

const (
	Vendor          = "ariba"
	DefaultBaseURL  = "https://openapi.ariba.com"
	DefaultTokenURL = "https://api.ariba.com/v2/oauth/token"
)

const ordersPath = "/api/purchase-orders-buyer/v1/prod"

// pageSize is the API's maximum $top.
const pageSize = 100

type Config struct {
	Realm        string `yaml:"realm"`
	APIKey       string `yaml:"api_key"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	BaseURL      string `yaml:"base_url"`
	TokenURL     string `yaml:"token_url"`
}

type Client struct {
	rest  *rest.Client
	realm string
}

func New(cfg Config, opts ...rest.Option) (*Client, error) {
	switch {
	case cfg.Realm == "":
		return nil, fmt.Errorf("ariba.New: %w", types.Required("realm"))
	case cfg.APIKey == "":
		return nil, fmt.Errorf("ariba.New: %w", types.Required("api_key"))
	case cfg.ClientID == "":
		return nil, fmt.Errorf("ariba.New: %w", types.Required("client_id"))
	case cfg.ClientSecret == "":
		return nil, fmt.Errorf("ariba.New: %w", types.Required("client_secret"))
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}
	rc, err := rest.New(cfg.BaseURL, append([]rest.Option{rest.WithHeader("apiKey", cfg.APIKey)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("ariba.New: %w", err)
	}
	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	ts := rest.ClientCredentials(context.Background(), cc, rc.HTTPClient())
	return &Client{rest: rc.With(rest.WithAuth(rest.OAuth2(ts))), realm: cfg.Realm}, nil
}

func (c *Client) Tools() []tool.Tool {
	return []tool.Tool{
		tool.New(Vendor, "list_purchase_orders", "List Ariba purchase orders, optionally by supplier or status.", c.ListPurchaseOrders, tool.ReadOnly()),
		tool.New(Vendor, "get_purchase_order", "Fetch an Ariba purchase order by document number.", c.GetPurchaseOrder, tool.ReadOnly()),
		tool.New(Vendor, "list_order_items", "List the line items of an Ariba purchase order.", c.ListOrderItems, tool.ReadOnly()),
	}
}

type pageWire[W any] struct {
	Content  []W  `json:"content"`
	LastPage bool `json:"lastPage"`
}

// list pages a collection with $top/$skip until the API reports the last page.
func list[W, T any](ctx context.Context, c *Client, limit int, path, filter string, conv func(W) T) ([]T, error) {
	return rest.Collect(ctx, limit, func(ctx context.Context, cursor string) (rest.Page[T], error) {
		skip, _ := strconv.Atoi(cursor)
		q := url.Values{
			"realm": {c.realm},
			"$top":  {strconv.Itoa(pageSize)},
			"$skip": {strconv.Itoa(skip)},
		}
		if filter != "" {
			q.Set("$filter", filter)
		}
		var out pageWire[W]
		if _, err := c.rest.Get(ctx, path, q, &out); err != nil {
			return rest.Page[T]{}, err
		}
		page := rest.Page[T]{Items: make([]T, 0, len(out.Content))}
		for _, w := range out.Content {
			page.Items = append(page.Items, conv(w))
		}
		if !out.LastPage && len(out.Content) > 0 {
			page.Next = strconv.Itoa(skip + len(out.Content))
		}
		return page, nil
	})
}

type money struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

// Amount is a price with its currency, e.g. "1250.5 USD".
type Amount string

func (m money) render() Amount {
	if m.Currency == "" {
		return ""
	}
	return Amount(strconv.FormatFloat(m.Amount, 'f', -1, 64) + " " + m.Currency)
}

// ──────────────────────────────────────────────────────────────────────────────
// Purchase orders
// ──────────────────────────────────────────────────────────────────────────────

type PurchaseOrder struct {
	DocumentNumber string `json:"document_number"`
	Revision       string `json:"revision,omitempty"`
	Status         string `json:"status,omitempty"`
	SupplierName   string `json:"supplier_name,omitempty"`
	SupplierANID   string `json:"supplier_anid,omitempty"`
	OrderDate      string `json:"order_date,omitempty"`
	Total          Amount `json:"total,omitempty"`
	Buyer          string `json:"buyer,omitempty"`
}

type orderWire struct {
	DocumentNumber string `json:"documentNumber"`
	Revision       string `json:"revision"`
	OrderStatus    string `json:"orderStatus"`
	SupplierName   string `json:"supplierName"`
	SupplierANID   string `json:"supplierANID"`
	OrderDate      string `json:"orderDate"`
	Amount         money  `json:"amount"`
	Requester      string `json:"requester"`
}

func (w orderWire) flatten() PurchaseOrder {
	return PurchaseOrder{
		DocumentNumber: w.DocumentNumber,
		Revision:       w.Revision,
		Status:         w.OrderStatus,
		SupplierName:   w.SupplierName,
		SupplierANID:   w.SupplierANID,
		OrderDate:      w.OrderDate,
		Total:          w.Amount.render(),
		Buyer:          w.Requester,
	}
}

type ListPurchaseOrdersParams struct {
	SupplierANID string `json:"supplier_anid,omitempty" jsonschema_description:"Ariba Network id of the supplier, e.g. AN01000000001"`
	Status       string `json:"status,omitempty" jsonschema:"enum=Ordering,enum=Ordered,enum=Received,enum=Canceled"`
	Limit        int    `json:"limit,omitempty" jsonschema:"minimum=1,maximum=1000"`
}

type ListPurchaseOrdersResponse struct {
	PurchaseOrders []PurchaseOrder `json:"purchase_orders"`
}

func (c *Client) ListPurchaseOrders(ctx context.Context, p ListPurchaseOrdersParams) (*ListPurchaseOrdersResponse, error) {
	var clauses []string
	if p.SupplierANID != "" {
		clauses = append(clauses, "supplierANID eq "+odata.Literal(p.SupplierANID))
	}
	if p.Status != "" {
		clauses = append(clauses, "orderStatus eq "+odata.Literal(p.Status))
	}
	orders, err := list(ctx, c, rest.ClampLimit(p.Limit, 50), ordersPath+"/orders", strings.Join(clauses, " and "), orderWire.flatten)
	if err != nil {
		return nil, fmt.Errorf("ariba.ListPurchaseOrders: %w", err)
	}
	return &ListPurchaseOrdersResponse{PurchaseOrders: orders}, nil
}

type GetPurchaseOrderParams struct {
	DocumentNumber string `json:"document_number" jsonschema:"required,minLength=1"`
}

func (c *Client) GetPurchaseOrder(ctx context.Context, p GetPurchaseOrderParams) (*PurchaseOrder, error) {
	var w orderWire
	path := ordersPath + rest.Path("orders", p.DocumentNumber)
	if _, err := c.rest.Get(ctx, path, url.Values{"realm": {c.realm}}, &w); err != nil {
		return nil, fmt.Errorf("ariba.GetPurchaseOrder: %w", err)
	}
	po := w.flatten()
	return &po, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Line items
// ──────────────────────────────────────────────────────────────────────────────

type OrderItem struct {
	LineNumber  int     `json:"line_number"`
	Description string  `json:"description,omitempty"`
	PartNumber  string  `json:"part_number,omitempty"`
	Quantity    float64 `json:"quantity"`
	Unit        string  `json:"unit,omitempty"`
	Price       Amount  `json:"price,omitempty"`
	Status      string  `json:"status,omitempty"`
}

type itemWire struct {
	LineNumber      int     `json:"lineNumber"`
	Description     string  `json:"description"`
	SupplierPart    string  `json:"supplierPart"`
	Quantity        float64 `json:"quantity"`
	UnitOfMeasure   string  `json:"unitOfMeasure"`
	UnitPrice       money   `json:"unitPrice"`
	ItemOrderStatus string  `json:"itemOrderStatus"`
}

func (w itemWire) flatten() OrderItem {
	return OrderItem{
		LineNumber:  w.LineNumber,
		Description: w.Description,
		PartNumber:  w.SupplierPart,
		Quantity:    w.Quantity,
		Unit:        w.UnitOfMeasure,
		Price:       w.UnitPrice.render(),
		Status:      w.ItemOrderStatus,
	}
}

type ListOrderItemsParams struct {
	DocumentNumber string `json:"document_number" jsonschema:"required,minLength=1"`
	Limit          int    `json:"limit,omitempty" jsonschema:"minimum=1,maximum=1000"`
}

type ListOrderItemsResponse struct {
	Items []OrderItem `json:"items"`
}

func (c *Client) ListOrderItems(ctx context.Context, p ListOrderItemsParams) (*ListOrderItemsResponse, error) {
	filter := "documentNumber eq " + odata.Literal(p.DocumentNumber)
	items, err := list(ctx, c, rest.ClampLimit(p.Limit, 200), ordersPath+"/items", filter, itemWire.flatten)
	if err != nil {
		return nil, fmt.Errorf("ariba.ListOrderItems: %w", err)
	}
	return &ListOrderItemsResponse{Items: items}, nil
}
