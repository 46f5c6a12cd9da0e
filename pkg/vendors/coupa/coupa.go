// Package coupa exposes Coupa Core API procurement operations as tools.
package coupa

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/bturcanu/toolbelt/pkg/rest"
	"github.com/bturcanu/toolbelt/pkg/tool"
	"github.com/bturcanu/toolbelt/pkg/types"
)

const Vendor = "coupa"

// pageSize is Coupa's fixed maximum page size.
const pageSize = 50

var defaultScopes = []string{"core.supplier.read", "core.supplier.write", "core.purchase_order.read", "core.invoice.read"}

type Config struct {
	// InstanceURL is the Coupa host, e.g. https://acme.coupahost.com.
	InstanceURL  string   `yaml:"instance_url"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	Scopes       []string `yaml:"scopes"`
}

type Client struct {
	rest *rest.Client
}

func New(cfg Config, opts ...rest.Option) (*Client, error) {
	switch {
	case cfg.InstanceURL == "":
		return nil, fmt.Errorf("coupa.New: %w", types.Required("instance_url"))
	case cfg.ClientID == "":
		return nil, fmt.Errorf("coupa.New: %w", types.Required("client_id"))
	case cfg.ClientSecret == "":
		return nil, fmt.Errorf("coupa.New: %w", types.Required("client_secret"))
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = defaultScopes
	}
	rc, err := rest.New(cfg.InstanceURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("coupa.New: %w", err)
	}
	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     strings.TrimRight(rc.BaseURL(), "/") + "/oauth2/token",
		Scopes:       cfg.Scopes,
	}
	ts := rest.ClientCredentials(context.Background(), cc, rc.HTTPClient())
	return &Client{rest: rc.With(rest.WithAuth(rest.OAuth2(ts)))}, nil
}

func (c *Client) Tools() []tool.Tool {
	return []tool.Tool{
		tool.New(Vendor, "list_suppliers", "List Coupa suppliers, optionally by status or name.", c.ListSuppliers, tool.ReadOnly()),
		tool.New(Vendor, "get_supplier", "Fetch a Coupa supplier by id.", c.GetSupplier, tool.ReadOnly()),
		tool.New(Vendor, "update_supplier", "Update fields on a Coupa supplier.", c.UpdateSupplier),
		tool.New(Vendor, "get_purchase_order", "Fetch a Coupa purchase order with its lines.", c.GetPurchaseOrder, tool.ReadOnly()),
		tool.New(Vendor, "list_invoices", "List Coupa invoices, optionally by status or supplier.", c.ListInvoices, tool.ReadOnly()),
	}
}

// decimal accepts Coupa amounts sent either as JSON numbers or strings.
type decimal string

func (d *decimal) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*d = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*d = decimal(s)
		return nil
	}
	*d = decimal(b)
	return nil
}

type ref struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Code string `json:"code"`
}

// offsetList pages a Coupa collection until a short page.
func offsetList[W, T any](ctx context.Context, c *Client, limit int, path string, q url.Values, conv func(W) T) ([]T, error) {
	return rest.Collect(ctx, limit, func(ctx context.Context, cursor string) (rest.Page[T], error) {
		offset, _ := strconv.Atoi(cursor)
		pq := url.Values{}
		for k, v := range q {
			pq[k] = v
		}
		pq.Set("offset", strconv.Itoa(offset))
		pq.Set("limit", strconv.Itoa(pageSize))
		var rows []W
		if _, err := c.rest.Get(ctx, path, pq, &rows); err != nil {
			return rest.Page[T]{}, err
		}
		page := rest.Page[T]{Items: make([]T, 0, len(rows))}
		for _, r := range rows {
			page.Items = append(page.Items, conv(r))
		}
		if len(rows) == pageSize {
			page.Next = strconv.Itoa(offset + pageSize)
		}
		return page, nil
	})
}

// ──────────────────────────────────────────────────────────────────────────────
// Suppliers
// ──────────────────────────────────────────────────────────────────────────────

type Supplier struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	Number       string `json:"number,omitempty"`
	Status       string `json:"status,omitempty"`
	DisplayName  string `json:"display_name,omitempty"`
	TaxID        string `json:"tax_id,omitempty"`
	PaymentTerm  string `json:"payment_term,omitempty"`
	PrimaryEmail string `json:"primary_email,omitempty"`
	UpdatedAt    string `json:"updated_at,omitempty"`
}

type supplierWire struct {
	ID             int64  `json:"id"`
	Name           string `json:"name"`
	Number         string `json:"number"`
	Status         string `json:"status"`
	DisplayName    string `json:"display-name"`
	TaxID          string `json:"tax-id"`
	PaymentTerm    *ref   `json:"payment-term"`
	PrimaryContact *struct {
		Email string `json:"email"`
	} `json:"primary-contact"`
	UpdatedAt string `json:"updated-at"`
}

func (w supplierWire) flatten() Supplier {
	s := Supplier{
		ID:          w.ID,
		Name:        w.Name,
		Number:      w.Number,
		Status:      w.Status,
		DisplayName: w.DisplayName,
		TaxID:       w.TaxID,
		UpdatedAt:   w.UpdatedAt,
	}
	if w.PaymentTerm != nil {
		s.PaymentTerm = w.PaymentTerm.Code
	}
	if w.PrimaryContact != nil {
		s.PrimaryEmail = w.PrimaryContact.Email
	}
	return s
}

type ListSuppliersParams struct {
	Status       string `json:"status,omitempty" jsonschema:"enum=active,enum=inactive,enum=draft"`
	NameContains string `json:"name_contains,omitempty"`
	Limit        int    `json:"limit,omitempty" jsonschema:"minimum=1,maximum=1000"`
}

type ListSuppliersResponse struct {
	Suppliers []Supplier `json:"suppliers"`
}

func (c *Client) ListSuppliers(ctx context.Context, p ListSuppliersParams) (*ListSuppliersResponse, error) {
	q := url.Values{}
	if p.Status != "" {
		q.Set("status", p.Status)
	}
	if p.NameContains != "" {
		q.Set("name[contains]", p.NameContains)
	}
	suppliers, err := offsetList(ctx, c, rest.ClampLimit(p.Limit, 100), "/api/suppliers", q, supplierWire.flatten)
	if err != nil {
		return nil, fmt.Errorf("coupa.ListSuppliers: %w", err)
	}
	return &ListSuppliersResponse{Suppliers: suppliers}, nil
}

type GetSupplierParams struct {
	SupplierID int64 `json:"supplier_id" jsonschema:"required,minimum=1"`
}

func (c *Client) GetSupplier(ctx context.Context, p GetSupplierParams) (*Supplier, error) {
	var w supplierWire
	if _, err := c.rest.Get(ctx, rest.Path("api", "suppliers", strconv.FormatInt(p.SupplierID, 10)), nil, &w); err != nil {
		return nil, fmt.Errorf("coupa.GetSupplier: %w", err)
	}
	s := w.flatten()
	return &s, nil
}

type UpdateSupplierParams struct {
	SupplierID int64          `json:"supplier_id" jsonschema:"required,minimum=1"`
	Fields     map[string]any `json:"fields" jsonschema:"required" jsonschema_description:"Coupa attribute names, e.g. status, display-name"`
}

func (c *Client) UpdateSupplier(ctx context.Context, p UpdateSupplierParams) (*Supplier, error) {
	var w supplierWire
	if _, err := c.rest.Put(ctx, rest.Path("api", "suppliers", strconv.FormatInt(p.SupplierID, 10)), p.Fields, &w); err != nil {
		return nil, fmt.Errorf("coupa.UpdateSupplier: %w", err)
	}
	s := w.flatten()
	return &s, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Purchase orders and invoices
// ──────────────────────────────────────────────────────────────────────────────

type GetPurchaseOrderParams struct {
	PurchaseOrderID int64 `json:"purchase_order_id" jsonschema:"required,minimum=1"`
}

type OrderLine struct {
	LineNum     string `json:"line_num"`
	Description string `json:"description"`
	Quantity    string `json:"quantity,omitempty"`
	Price       string `json:"price,omitempty"`
	Total       string `json:"total,omitempty"`
}

type PurchaseOrder struct {
	ID        int64       `json:"id"`
	PONumber  string      `json:"po_number"`
	Status    string      `json:"status"`
	Supplier  string      `json:"supplier,omitempty"`
	Currency  string      `json:"currency,omitempty"`
	Total     string      `json:"total,omitempty"`
	CreatedAt string      `json:"created_at,omitempty"`
	Lines     []OrderLine `json:"lines"`
}

func (c *Client) GetPurchaseOrder(ctx context.Context, p GetPurchaseOrderParams) (*PurchaseOrder, error) {
	var w struct {
		ID        int64   `json:"id"`
		PONumber  string  `json:"po-number"`
		Status    string  `json:"status"`
		Supplier  *ref    `json:"supplier"`
		Currency  *ref    `json:"currency"`
		Total     decimal `json:"total"`
		CreatedAt string  `json:"created-at"`
		Lines     []struct {
			LineNum     decimal `json:"line-num"`
			Description string  `json:"description"`
			Quantity    decimal `json:"quantity"`
			Price       decimal `json:"price"`
			Total       decimal `json:"total"`
		} `json:"order-lines"`
	}
	if _, err := c.rest.Get(ctx, rest.Path("api", "purchase_orders", strconv.FormatInt(p.PurchaseOrderID, 10)), nil, &w); err != nil {
		return nil, fmt.Errorf("coupa.GetPurchaseOrder: %w", err)
	}
	po := &PurchaseOrder{
		ID:        w.ID,
		PONumber:  w.PONumber,
		Status:    w.Status,
		Total:     string(w.Total),
		CreatedAt: w.CreatedAt,
		Lines:     make([]OrderLine, 0, len(w.Lines)),
	}
	if w.Supplier != nil {
		po.Supplier = w.Supplier.Name
	}
	if w.Currency != nil {
		po.Currency = w.Currency.Code
	}
	for _, l := range w.Lines {
		po.Lines = append(po.Lines, OrderLine{
			LineNum:     string(l.LineNum),
			Description: l.Description,
			Quantity:    string(l.Quantity),
			Price:       string(l.Price),
			Total:       string(l.Total),
		})
	}
	return po, nil
}

type ListInvoicesParams struct {
	Status     string `json:"status,omitempty" jsonschema_description:"e.g. pending_approval, approved, voided"`
	SupplierID int64  `json:"supplier_id,omitempty"`
	Limit      int    `json:"limit,omitempty" jsonschema:"minimum=1,maximum=1000"`
}

type Invoice struct {
	ID            int64  `json:"id"`
	InvoiceNumber string `json:"invoice_number"`
	Status        string `json:"status"`
	InvoiceDate   string `json:"invoice_date,omitempty"`
	Supplier      string `json:"supplier,omitempty"`
	Currency      string `json:"currency,omitempty"`
	GrossTotal    string `json:"gross_total,omitempty"`
}

type invoiceWire struct {
	ID            int64   `json:"id"`
	InvoiceNumber string  `json:"invoice-number"`
	Status        string  `json:"status"`
	InvoiceDate   string  `json:"invoice-date"`
	Supplier      *ref    `json:"supplier"`
	Currency      *ref    `json:"currency"`
	GrossTotal    decimal `json:"gross-total"`
}

func (w invoiceWire) flatten() Invoice {
	inv := Invoice{
		ID:            w.ID,
		InvoiceNumber: w.InvoiceNumber,
		Status:        w.Status,
		InvoiceDate:   w.InvoiceDate,
		GrossTotal:    string(w.GrossTotal),
	}
	if w.Supplier != nil {
		inv.Supplier = w.Supplier.Name
	}
	if w.Currency != nil {
		inv.Currency = w.Currency.Code
	}
	return inv
}

type ListInvoicesResponse struct {
	Invoices []Invoice `json:"invoices"`
}

func (c *Client) ListInvoices(ctx context.Context, p ListInvoicesParams) (*ListInvoicesResponse, error) {
	q := url.Values{}
	if p.Status != "" {
		q.Set("status", p.Status)
	}
	if p.SupplierID != 0 {
		q.Set("supplier[id]", strconv.FormatInt(p.SupplierID, 10))
	}
	invoices, err := offsetList(ctx, c, rest.ClampLimit(p.Limit, 100), "/api/invoices", q, invoiceWire.flatten)
	if err != nil {
		return nil, fmt.Errorf("coupa.ListInvoices: %w", err)
	}
	return &ListInvoicesResponse{Invoices: invoices}, nil
}
