// Command toolbelt serves the configured vendor tools to an agent over MCP
// stdio, or lists them.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/bturcanu/toolbelt/pkg/catalog"
	"github.com/bturcanu/toolbelt/pkg/config"
	"github.com/bturcanu/toolbelt/pkg/connectors"
	"github.com/bturcanu/toolbelt/pkg/mcpserver"
	"github.com/bturcanu/toolbelt/pkg/otel"
	"github.com/bturcanu/toolbelt/pkg/sdk/client"
	"github.com/bturcanu/toolbelt/pkg/tool"
	"github.com/bturcanu/toolbelt/pkg/types"
)

var (
	configPath  string
	verbose     bool
	retries     int
	timeout     time.Duration
	rps         int
	readOnly    bool
	metricsAddr string
	asJSON      bool

	gatewayURL     string
	apiKey         string
	agentID        string
	params         string
	idempotencyKey string

	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "toolbelt",
	Short: "SaaS integration tools for agents",
	Long: `toolbelt exposes one tool per vendor API operation (Jira, Slack, Salesforce,
ServiceNow, Workday and more) to an agent orchestration framework, directly
over MCP or through an audited gateway.

Vendors and credentials come from a YAML catalog; ${VAR} references are read
from the environment (and .env) and op:// references from 1Password.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the enabled tools over MCP stdio",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		logger := newLogger()
		cfg, err := loadCatalog(ctx, cmd)
		if err != nil {
			return err
		}

		otelCfg := otel.ConfigFromEnv("toolbelt")
		otelCfg.MetricsEnabled = metricsAddr != ""
		tel, err := otel.Setup(ctx, otelCfg)
		if err != nil {
			return err
		}
		defer tel.Shutdown(context.Background())

		reg, err := catalog.Build(cfg, logger, tel.RegistryOptions())
		if err != nil {
			return err
		}
		logger.Info("serving tools", "tools", reg.Len(), "vendors", reg.Vendors())

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			defer cancel()
			return mcpserver.ServeStdio(ctx, mcpserver.New(reg, "toolbelt", version), os.Stdin, os.Stdout, logger)
		})
		if metricsAddr != "" {
			srv := &http.Server{Addr: metricsAddr, Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second}
			g.Go(func() error {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("metrics server: %w", err)
				}
				return nil
			})
			g.Go(func() error {
				<-ctx.Done()
				sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer scancel()
				return srv.Shutdown(sctx)
			})
		}
		return g.Wait()
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Print the enabled tools",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadCatalog(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		reg, err := catalog.Build(cfg, newLogger(), nil)
		if err != nil {
			return err
		}
		return printTools(cmd.OutOrStdout(), reg.List(), asJSON)
	},
}

var callCmd = &cobra.Command{
	Use:   "call <vendor> <action>",
	Short: "Run one tool call through a toolbelt gateway",
	Long: `call submits a tool call to a running gateway, which records it in the
audit log before answering. Reuse --idempotency-key to retry safely.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if gatewayURL == "" {
			return errors.New("--gateway (or TOOLBELT_GATEWAY_URL) is required")
		}
		if !json.Valid([]byte(params)) {
			return fmt.Errorf("--params is not valid JSON: %s", params)
		}
		c, err := client.New(gatewayURL, apiKey)
		if err != nil {
			return err
		}
		resp, err := c.Call(cmd.Context(), types.ToolCallRequest{
			AgentID:        agentID,
			Tool:           args[0],
			Action:         args[1],
			Params:         json.RawMessage(params),
			IdempotencyKey: idempotencyKey,
		})
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	},
}

func printTools(w io.Writer, tools []tool.Tool, asJSON bool) error {
	if asJSON {
		infos := make([]connectors.ToolInfo, 0, len(tools))
		for _, t := range tools {
			infos = append(infos, connectors.Info(t))
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(infos)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TOOL\tACCESS\tDESCRIPTION")
	for _, t := range tools {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", t.Name, access(t), t.Description)
	}
	return tw.Flush()
}

func access(t tool.Tool) string {
	switch {
	case t.ReadOnly:
		return "read"
	case t.Destructive:
		return "destructive"
	default:
		return "write"
	}
}

// loadCatalog reads the catalog and applies flag overrides.
func loadCatalog(ctx context.Context, cmd *cobra.Command) (*catalog.Config, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	cfg, err := catalog.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := catalog.ResolveSecrets(ctx, cfg); err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("retries") {
		cfg.HTTP.Retries = retries
	}
	if flags.Changed("timeout") {
		cfg.HTTP.Timeout = timeout
	}
	if flags.Changed("rps") {
		cfg.HTTP.RPS = rps
	}
	if readOnly {
		cfg.ReadOnly = true
	}
	return cfg, nil
}

// newLogger writes to stderr; stdout carries the MCP stream.
func newLogger() *slog.Logger {
	if !verbose {
		return slog.New(slog.DiscardHandler)
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", config.EnvOr("TOOLBELT_CONFIG", "toolbelt.yaml"), "Path to the tool catalog")
	pf.BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging to stderr")
	pf.IntVar(&retries, "retries", catalog.DefaultRetries, "Maximum retries for failed vendor requests (-1 disables)")
	pf.DurationVar(&timeout, "timeout", catalog.DefaultTimeout, "Vendor request timeout")
	pf.IntVarP(&rps, "rps", "r", 0, "Maximum vendor requests per second (0 for no limit)")
	pf.BoolVar(&readOnly, "read-only", false, "Only enable tools that never change vendor state")

	serveCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	listCmd.Flags().BoolVar(&asJSON, "json", false, "Print tools with their input schemas as JSON")

	cf := callCmd.Flags()
	cf.StringVar(&gatewayURL, "gateway", config.EnvOr("TOOLBELT_GATEWAY_URL", ""), "Gateway base URL")
	cf.StringVar(&apiKey, "api-key", config.EnvOr("TOOLBELT_API_KEY", ""), "Gateway API key")
	cf.StringVar(&agentID, "agent", "toolbelt-cli", "Agent id recorded with the call")
	cf.StringVarP(&params, "params", "p", "{}", "Tool arguments as a JSON object")
	cf.StringVar(&idempotencyKey, "idempotency-key", "", "Idempotency key (generated when empty)")

	rootCmd.AddCommand(serveCmd, listCmd, callCmd)
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built at: %s)", version, commit, date)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
