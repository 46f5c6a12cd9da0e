// Package catalog turns a toolbelt.yaml file into a populated tool.Registry:
// one vendor client per configured section, filtered by read-only mode and
// the disabled tool list.
package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"regexp"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bturcanu/toolbelt/pkg/config"
	"github.com/bturcanu/toolbelt/pkg/rest"
	"github.com/bturcanu/toolbelt/pkg/tool"
	"github.com/bturcanu/toolbelt/pkg/vendors/ariba"
	"github.com/bturcanu/toolbelt/pkg/vendors/box"
	"github.com/bturcanu/toolbelt/pkg/vendors/coupa"
	"github.com/bturcanu/toolbelt/pkg/vendors/dnb"
	"github.com/bturcanu/toolbelt/pkg/vendors/hubspot"
	"github.com/bturcanu/toolbelt/pkg/vendors/jira"
	"github.com/bturcanu/toolbelt/pkg/vendors/msgraph"
	"github.com/bturcanu/toolbelt/pkg/vendors/oraclehcm"
	"github.com/bturcanu/toolbelt/pkg/vendors/s4hana"
	"github.com/bturcanu/toolbelt/pkg/vendors/salesforce"
	"github.com/bturcanu/toolbelt/pkg/vendors/servicenow"
	"github.com/bturcanu/toolbelt/pkg/vendors/slack"
	"github.com/bturcanu/toolbelt/pkg/vendors/successfactors"
	"github.com/bturcanu/toolbelt/pkg/vendors/workday"
	"github.com/bturcanu/toolbelt/pkg/vendors/zendesk"
	"github.com/bturcanu/toolbelt/pkg/vendors/zoominfo"
)

// Vendors holds one optional section per vendor; a nil section disables it.
type Vendors struct {
	Ariba          *ariba.Config          `yaml:"ariba"`
	Box            *box.Config            `yaml:"box"`
	Coupa          *coupa.Config          `yaml:"coupa"`
	DNB            *dnb.Config            `yaml:"dnb"`
	HubSpot        *hubspot.Config        `yaml:"hubspot"`
	Jira           *jira.Config           `yaml:"jira"`
	MSGraph        *msgraph.Config        `yaml:"msgraph"`
	OracleHCM      *oraclehcm.Config      `yaml:"oraclehcm"`
	S4HANA         *s4hana.Config         `yaml:"s4hana"`
	Salesforce     *salesforce.Config     `yaml:"salesforce"`
	ServiceNow     *servicenow.Config     `yaml:"servicenow"`
	Slack          *slack.Config          `yaml:"slack"`
	SuccessFactors *successfactors.Config `yaml:"successfactors"`
	Workday        *workday.Config        `yaml:"workday"`
	Zendesk        *zendesk.Config        `yaml:"zendesk"`
	ZoomInfo       *zoominfo.Config       `yaml:"zoominfo"`
}

// HTTP tunes the transport shared by all vendor clients.
type HTTP struct {
	// Retries defaults to 3; -1 disables retrying.
	Retries int           `yaml:"retries"`
	Timeout time.Duration `yaml:"timeout"`
	RPS     int           `yaml:"rps"`
}

type Config struct {
	Vendors  Vendors `yaml:"vendors"`
	ReadOnly bool    `yaml:"read_only"`
	// DisabledTools holds tool names or path.Match patterns such as "jira_delete_*".
	DisabledTools []string `yaml:"disabled_tools"`
	HTTP          HTTP     `yaml:"http"`
}

// Defaults applied by Load when the file leaves them unset.
const (
	DefaultRetries = 3
	DefaultTimeout = 30 * time.Second
)

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv replaces ${VAR} references. Bare $VAR is left alone so secrets
// containing a dollar sign survive. Unset variables are reported together.
func expandEnv(data []byte) ([]byte, error) {
	var missing []string
	out := envRef.ReplaceAllFunc(data, func(m []byte) []byte {
		name := string(envRef.FindSubmatch(m)[1])
		v, ok := os.LookupEnv(name)
		if !ok {
			missing = append(missing, name)
		}
		return []byte(v)
	})
	if len(missing) > 0 {
		return nil, fmt.Errorf("unset environment variables: %s", strings.Join(missing, ", "))
	}
	return out, nil
}

// Load reads path, expands ${VAR} references and parses the YAML. Unknown keys
// are rejected.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog.Load: reading %s: %w", path, err)
	}
	return Parse(data)
}

// Parse is Load without the file read.
func Parse(data []byte) (*Config, error) {
	data, err := expandEnv(data)
	if err != nil {
		return nil, fmt.Errorf("catalog.Parse: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var cfg Config
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("catalog.Parse: %w", err)
	}
	if cfg.HTTP.Retries == 0 {
		cfg.HTTP.Retries = DefaultRetries
	}
	if cfg.HTTP.Timeout == 0 {
		cfg.HTTP.Timeout = DefaultTimeout
	}
	for _, pattern := range cfg.DisabledTools {
		if _, err := path.Match(pattern, ""); err != nil {
			return nil, fmt.Errorf("catalog.Parse: disabled_tools %q: %w", pattern, err)
		}
	}
	return &cfg, nil
}

// ResolveSecrets replaces op:// references in every vendor section.
func ResolveSecrets(ctx context.Context, cfg *Config) error {
	if err := config.ResolveSecrets(ctx, &cfg.Vendors); err != nil {
		return fmt.Errorf("catalog.ResolveSecrets: %w", err)
	}
	return nil
}

// toolset is what every vendor client provides.
type toolset interface {
	Tools() []tool.Tool
}

func open[C any, V toolset](cfg *C, newFn func(C, ...rest.Option) (V, error), opts []rest.Option) (toolset, error) {
	if cfg == nil {
		return nil, nil
	}
	v, err := newFn(*cfg, opts...)
	if err != nil {
		return nil, err
	}
	return v, nil
}

// Enabled lists the vendors with a section, sorted.
func (c *Config) Enabled() []string {
	var out []string
	for name, set := range map[string]bool{
		ariba.Vendor:          c.Vendors.Ariba != nil,
		box.Vendor:            c.Vendors.Box != nil,
		coupa.Vendor:          c.Vendors.Coupa != nil,
		dnb.Vendor:            c.Vendors.DNB != nil,
		hubspot.Vendor:        c.Vendors.HubSpot != nil,
		jira.Vendor:           c.Vendors.Jira != nil,
		msgraph.Vendor:        c.Vendors.MSGraph != nil,
		oraclehcm.Vendor:      c.Vendors.OracleHCM != nil,
		s4hana.Vendor:         c.Vendors.S4HANA != nil,
		salesforce.Vendor:     c.Vendors.Salesforce != nil,
		servicenow.Vendor:     c.Vendors.ServiceNow != nil,
		slack.Vendor:          c.Vendors.Slack != nil,
		successfactors.Vendor: c.Vendors.SuccessFactors != nil,
		workday.Vendor:        c.Vendors.Workday != nil,
		zendesk.Vendor:        c.Vendors.Zendesk != nil,
		zoominfo.Vendor:       c.Vendors.ZoomInfo != nil,
	} {
		if set {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Tools constructs the vendor clients and returns their tools after
// read-only and disabled filtering. Extra options are applied to every client
// after the shared transport, so tests can swap the HTTP client.
func Tools(cfg *Config, log *slog.Logger, extra ...rest.Option) ([]tool.Tool, error) {
	if log == nil {
		log = slog.Default()
	}
	hc := rest.NewHTTPClient(rest.HTTPConfig{
		Retries: cfg.HTTP.Retries,
		Timeout: cfg.HTTP.Timeout,
		RPS:     cfg.HTTP.RPS,
		Logger:  log,
	})
	opts := append([]rest.Option{
		rest.WithHTTPClient(hc),
		rest.WithLogger(log),
		rest.WithRateLimit(float64(cfg.HTTP.RPS), max(cfg.HTTP.RPS, 1)),
	}, extra...)

	v := cfg.Vendors
	sets := []struct {
		vendor string
		open   func() (toolset, error)
	}{
		{ariba.Vendor, func() (toolset, error) { return open(v.Ariba, ariba.New, opts) }},
		{box.Vendor, func() (toolset, error) { return open(v.Box, box.New, opts) }},
		{coupa.Vendor, func() (toolset, error) { return open(v.Coupa, coupa.New, opts) }},
		{dnb.Vendor, func() (toolset, error) { return open(v.DNB, dnb.New, opts) }},
		{hubspot.Vendor, func() (toolset, error) { return open(v.HubSpot, hubspot.New, opts) }},
		{jira.Vendor, func() (toolset, error) { return open(v.Jira, jira.New, opts) }},
		{msgraph.Vendor, func() (toolset, error) { return open(v.MSGraph, msgraph.New, opts) }},
		{oraclehcm.Vendor, func() (toolset, error) { return open(v.OracleHCM, oraclehcm.New, opts) }},
		{s4hana.Vendor, func() (toolset, error) { return open(v.S4HANA, s4hana.New, opts) }},
		{salesforce.Vendor, func() (toolset, error) { return open(v.Salesforce, salesforce.New, opts) }},
		{servicenow.Vendor, func() (toolset, error) { return open(v.ServiceNow, servicenow.New, opts) }},
		{slack.Vendor, func() (toolset, error) { return open(v.Slack, slack.New, opts) }},
		{successfactors.Vendor, func() (toolset, error) { return open(v.SuccessFactors, successfactors.New, opts) }},
		{workday.Vendor, func() (toolset, error) { return open(v.Workday, workday.New, opts) }},
		{zendesk.Vendor, func() (toolset, error) { return open(v.Zendesk, zendesk.New, opts) }},
		{zoominfo.Vendor, func() (toolset, error) { return open(v.ZoomInfo, zoominfo.New, opts) }},
	}

	var (
		tools []tool.Tool
		errs  []error
	)
	for _, s := range sets {
		ts, err := s.open()
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.vendor, err))
			continue
		}
		if ts == nil {
			continue
		}
		kept := 0
		for _, t := range ts.Tools() {
			if cfg.ReadOnly && !t.ReadOnly {
				continue
			}
			if cfg.disabled(t.Name) {
				continue
			}
			tools = append(tools, t)
			kept++
		}
		log.Debug("vendor enabled", "vendor", s.vendor, "tools", kept)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("catalog.Tools: %w", err)
	}
	return tools, nil
}

func (c *Config) disabled(name string) bool {
	for _, pattern := range c.DisabledTools {
		if ok, _ := path.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

// Build returns a Registry holding every enabled tool.
func Build(cfg *Config, log *slog.Logger, regOpts []tool.RegistryOption, extra ...rest.Option) (*tool.Registry, error) {
	tools, err := Tools(cfg, log, extra...)
	if err != nil {
		return nil, err
	}
	reg := tool.NewRegistry(append([]tool.RegistryOption{tool.WithLogger(log)}, regOpts...)...)
	if err := reg.Register(tools...); err != nil {
		return nil, fmt.Errorf("catalog.Build: %w", err)
	}
	return reg, nil
}
