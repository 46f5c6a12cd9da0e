// Package dnb exposes Dun & Bradstreet Direct+ company lookup and matching as
// tools.
package dnb

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/bturcanu/toolbelt/pkg/rest"
	"github.com/bturcanu/toolbelt/pkg/tool"
	"github.com/bturcanu/toolbelt/pkg/types"
)

const (
	Vendor         = "dnb"
	DefaultBaseURL = "https://plus.dnb.com"

	// DefaultBlocks is the data block requested by get_company.
	DefaultBlocks = "companyinfo_L2_v1"
)

type Config struct {
	BaseURL   string `yaml:"base_url"`
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
}

type Client struct {
	rest *rest.Client
}

func New(cfg Config, opts ...rest.Option) (*Client, error) {
	switch {
	case cfg.APIKey == "":
		return nil, fmt.Errorf("dnb.New: %w", types.Required("api_key"))
	case cfg.APISecret == "":
		return nil, fmt.Errorf("dnb.New: %w", types.Required("api_secret"))
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	rc, err := rest.New(cfg.BaseURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("dnb.New: %w", err)
	}
	tokens := rc.With(rest.WithAuth(rest.Basic(cfg.APIKey, cfg.APISecret)))
	ts := rest.CachedToken(context.Background(), fetchToken(tokens), rest.DefaultExpirySkew)
	return &Client{rest: rc.With(rest.WithAuth(rest.OAuth2(ts)))}, nil
}

// fetchToken calls /v2/token, which takes a JSON body rather than a form and
// reports the lifetime in expiresIn seconds.
func fetchToken(rc *rest.Client) rest.TokenFetcher {
	return func(ctx context.Context) (*oauth2.Token, error) {
		issued := time.Now()
		var out struct {
			AccessToken string `json:"access_token"`
			ExpiresIn   int64  `json:"expiresIn"`
		}
		if _, err := rc.Post(ctx, "/v2/token", map[string]string{"grant_type": "client_credentials"}, &out); err != nil {
			return nil, fmt.Errorf("dnb token: %w", err)
		}
		if out.AccessToken == "" {
			return nil, errors.New("dnb token: response carried no access_token")
		}
		tok := &oauth2.Token{AccessToken: out.AccessToken, TokenType: "Bearer"}
		if out.ExpiresIn > 0 {
			tok.Expiry = issued.Add(time.Duration(out.ExpiresIn) * time.Second)
		}
		return tok, nil
	}
}

func (c *Client) Tools() []tool.Tool {
	return []tool.Tool{
		tool.New(Vendor, "get_company", "Fetch a company profile by D-U-N-S number.", c.GetCompany, tool.ReadOnly()),
		tool.New(Vendor, "match_company", "Match a company name and address to D-U-N-S candidates.", c.MatchCompany, tool.ReadOnly()),
	}
}

// Company is the flattened organization block shared by both tools.
type Company struct {
	DUNS            string `json:"duns"`
	Name            string `json:"name"`
	TradeStyle      string `json:"trade_style,omitempty"`
	Street          string `json:"street,omitempty"`
	City            string `json:"city,omitempty"`
	Region          string `json:"region,omitempty"`
	PostalCode      string `json:"postal_code,omitempty"`
	Country         string `json:"country,omitempty"`
	Phone           string `json:"phone,omitempty"`
	Website         string `json:"website,omitempty"`
	Employees       int64  `json:"employees,omitempty"`
	OperatingStatus string `json:"operating_status,omitempty"`
}

type organization struct {
	DUNS        string `json:"duns"`
	PrimaryName string `json:"primaryName"`
	TradeStyles []struct {
		Name string `json:"name"`
	} `json:"tradeStyleNames"`
	PrimaryAddress *struct {
		StreetAddress struct {
			Line1 string `json:"line1"`
		} `json:"streetAddress"`
		AddressLocality struct {
			Name string `json:"name"`
		} `json:"addressLocality"`
		AddressRegion struct {
			Name         string `json:"name"`
			Abbreviation string `json:"abbreviatedName"`
		} `json:"addressRegion"`
		PostalCode     string `json:"postalCode"`
		AddressCountry struct {
			ISOAlpha2Code string `json:"isoAlpha2Code"`
		} `json:"addressCountry"`
	} `json:"primaryAddress"`
	Telephone []struct {
		TelephoneNumber string `json:"telephoneNumber"`
	} `json:"telephone"`
	WebsiteAddress []struct {
		URL string `json:"url"`
	} `json:"websiteAddress"`
	NumberOfEmployees []struct {
		Value int64 `json:"value"`
	} `json:"numberOfEmployees"`
	DunsControlStatus struct {
		OperatingStatus struct {
			Description string `json:"description"`
		} `json:"operatingStatus"`
	} `json:"dunsControlStatus"`
}

func (o organization) flatten() Company {
	c := Company{
		DUNS:            o.DUNS,
		Name:            o.PrimaryName,
		OperatingStatus: o.DunsControlStatus.OperatingStatus.Description,
	}
	if len(o.TradeStyles) > 0 {
		c.TradeStyle = o.TradeStyles[0].Name
	}
	if a := o.PrimaryAddress; a != nil {
		c.Street = a.StreetAddress.Line1
		c.City = a.AddressLocality.Name
		c.Region = a.AddressRegion.Abbreviation
		if c.Region == "" {
			c.Region = a.AddressRegion.Name
		}
		c.PostalCode = a.PostalCode
		c.Country = a.AddressCountry.ISOAlpha2Code
	}
	if len(o.Telephone) > 0 {
		c.Phone = o.Telephone[0].TelephoneNumber
	}
	if len(o.WebsiteAddress) > 0 {
		c.Website = o.WebsiteAddress[0].URL
	}
	if len(o.NumberOfEmployees) > 0 {
		c.Employees = o.NumberOfEmployees[0].Value
	}
	return c
}

type GetCompanyParams struct {
	DUNS   string `json:"duns" jsonschema:"required,pattern=^[0-9]{9}$" jsonschema_description:"Nine digit D-U-N-S number"`
	Blocks string `json:"blocks,omitempty" jsonschema_description:"Comma separated data block ids; defaults to companyinfo_L2_v1"`
}

func (c *Client) GetCompany(ctx context.Context, p GetCompanyParams) (*Company, error) {
	blocks := p.Blocks
	if blocks == "" {
		blocks = DefaultBlocks
	}
	var out struct {
		Organization organization `json:"organization"`
	}
	q := url.Values{"blockIDs": {blocks}}
	if _, err := c.rest.Get(ctx, rest.Path("v1", "data", "duns", p.DUNS), q, &out); err != nil {
		return nil, fmt.Errorf("dnb.GetCompany: %w", err)
	}
	company := out.Organization.flatten()
	return &company, nil
}

type MatchCompanyParams struct {
	Name       string `json:"name" jsonschema:"required"`
	Country    string `json:"country" jsonschema:"required,minLength=2,maxLength=2" jsonschema_description:"ISO 3166 alpha-2 country code"`
	Street     string `json:"street,omitempty"`
	City       string `json:"city,omitempty"`
	Region     string `json:"region,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Phone      string `json:"phone,omitempty"`
	Website    string `json:"website,omitempty"`
	Candidates int    `json:"candidates,omitempty" jsonschema:"minimum=1,maximum=25" jsonschema_description:"Maximum candidates to return; defaults to 5"`
}

type MatchCandidate struct {
	Company
	ConfidenceCode int    `json:"confidence_code"`
	MatchGrade     string `json:"match_grade,omitempty"`
}

type MatchCompanyResponse struct {
	Candidates []MatchCandidate `json:"candidates"`
}

func (c *Client) MatchCompany(ctx context.Context, p MatchCompanyParams) (*MatchCompanyResponse, error) {
	q := url.Values{
		"name":                 {p.Name},
		"countryISOAlpha2Code": {strings.ToUpper(p.Country)},
	}
	for k, v := range map[string]string{
		"streetAddressLine1": p.Street,
		"addressLocality":    p.City,
		"addressRegion":      p.Region,
		"postalCode":         p.PostalCode,
		"telephoneNumber":    p.Phone,
		"url":                p.Website,
	} {
		if v != "" {
			q.Set(k, v)
		}
	}
	n := p.Candidates
	if n <= 0 {
		n = 5
	}
	q.Set("candidateMaximumQuantity", strconv.Itoa(n))

	var out struct {
		MatchCandidates []struct {
			Organization            organization `json:"organization"`
			MatchQualityInformation struct {
				ConfidenceCode int    `json:"confidenceCode"`
				MatchGrade     string `json:"matchGrade"`
			} `json:"matchQualityInformation"`
		} `json:"matchCandidates"`
	}
	_, err := c.rest.Get(ctx, "/v1/match/cleanseMatch", q, &out)
	// Direct+ answers 404 when nothing matched.
	if rest.IsNotFound(err) {
		return &MatchCompanyResponse{Candidates: []MatchCandidate{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dnb.MatchCompany: %w", err)
	}
	resp := &MatchCompanyResponse{Candidates: make([]MatchCandidate, 0, len(out.MatchCandidates))}
	for _, m := range out.MatchCandidates {
		resp.Candidates = append(resp.Candidates, MatchCandidate{
			Company:        m.Organization.flatten(),
			ConfidenceCode: m.MatchQualityInformation.ConfidenceCode,
			MatchGrade:     m.MatchQualityInformation.MatchGrade,
		})
	}
	return resp, nil
}
