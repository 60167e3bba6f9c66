package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vikashloomba/mcp-toolhub-go/pkg/mcpmgr"
	"github.com/vikashloomba/mcp-toolhub-go/pkg/registry"
)

func (a *app) serversCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "servers",
		Short: "Manage configured MCP servers",
	}
	cmd.AddCommand(
		a.serversListCmd(),
		a.serversAddCmd(),
		a.serversFromTemplateCmd(),
		a.serversRemoveCmd(),
		a.serversToggleCmd("enable", true),
		a.serversToggleCmd("disable", false),
	)
	return cmd
}

func (a *app) serversListCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List configured servers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRegistry(cmd.Context(), func(reg *registry.ServerRegistry) error {
				servers := reg.Servers()
				if asJSON {
					return printJSON(cmd.OutOrStdout(), servers)
				}
				categories := make(map[string]string)
				for category, names := range reg.ServersByCategory() {
					for _, name := range names {
						categories[name] = category
					}
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "NAME\tTRANSPORT\tENABLED\tCATEGORY\tTARGET")
				for _, s := range servers {
					fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%s\n", s.Name, s.Transport, s.Enabled, categories[s.Name], target(s))
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func target(s mcpmgr.ServerConfig) string {
	if s.Transport == mcpmgr.TransportStdio {
		return truncate(strings.Join(append([]string{s.Command}, s.Args...), " "), 60)
	}
	return s.URL
}

func (a *app) serversAddCmd() *cobra.Command {
	var (
		cfg       mcpmgr.ServerConfig
		transport string
		disabled  bool
	)
	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a server configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.Name = args[0]
			cfg.Transport = mcpmgr.TransportKind(transport)
			cfg.Enabled = !disabled
			return a.withRegistry(cmd.Context(), func(reg *registry.ServerRegistry) error {
				if err := reg.AddServer(cmd.Context(), cfg); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "added server %s\n", cfg.Name)
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&transport, "transport", string(mcpmgr.TransportStdio), "stdio, streamable-http or sse")
	f.StringVar(&cfg.Command, "command", "", "command to launch (stdio)")
	f.StringArrayVar(&cfg.Args, "arg", nil, "command argument, repeatable (stdio)")
	f.StringToStringVar(&cfg.Env, "env", nil, "environment variable KEY=VALUE (stdio)")
	f.StringVar(&cfg.URL, "url", "", "server URL (http transports)")
	f.StringToStringVar(&cfg.Headers, "header", nil, "HTTP header KEY=VALUE (http transports)")
	f.StringVar(&cfg.Category, "category", "", "category for grouping")
	f.DurationVar(&cfg.ConnectTimeout, "connect-timeout", 0, "per-attempt connect timeout (0 uses the default)")
	f.IntVar(&cfg.RetryAttempts, "retries", 0, "connect attempts (0 uses the default)")
	f.BoolVar(&cfg.LogJSONRPC, "log-jsonrpc", false, "log JSON-RPC traffic at debug level")
	f.BoolVar(&disabled, "disabled", false, "add the server disabled")
	return cmd
}

func (a *app) serversFromTemplateCmd() *cobra.Command {
	var (
		args     []string
		env      map[string]string
		headers  map[string]string
		url      string
		timeout  time.Duration
		disabled bool
	)
	cmd := &cobra.Command{
		Use:   "from-template <template> <name>",
		Short: "Add a server from a template",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, pos []string) error {
			overrides := &mcpmgr.ServerOverrides{Env: env, Headers: headers}
			if cmd.Flags().Changed("arg") {
				overrides.Args = args
			}
			if cmd.Flags().Changed("url") {
				overrides.URL = &url
			}
			if cmd.Flags().Changed("connect-timeout") {
				overrides.ConnectTimeout = &timeout
			}
			if disabled {
				enabled := false
				overrides.Enabled = &enabled
			}
			return a.withRegistry(cmd.Context(), func(reg *registry.ServerRegistry) error {
				cfg, err := reg.AddServerFromTemplate(cmd.Context(), pos[0], pos[1], overrides)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "added server %s from template %s\n", cfg.Name, pos[0])
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.StringArrayVar(&args, "arg", nil, "replace the template arguments, repeatable")
	f.StringToStringVar(&env, "env", nil, "environment variable KEY=VALUE merged over the template")
	f.StringToStringVar(&headers, "header", nil, "HTTP header KEY=VALUE merged over the template")
	f.StringVar(&url, "url", "", "replace the template URL")
	f.DurationVar(&timeout, "connect-timeout", 0, "per-attempt connect timeout")
	f.BoolVar(&disabled, "disabled", false, "add the server disabled")
	return cmd
}

func (a *app) serversRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "remove <name>",
		Aliases: []string{"rm"},
		Short:   "Remove a server configuration",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRegistry(cmd.Context(), func(reg *registry.ServerRegistry) error {
				if err := reg.RemoveServer(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed server %s\n", args[0])
				return nil
			})
		},
	}
}

func (a *app) serversToggleCmd(verb string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <name>",
		Short: fmt.Sprintf("Mark a server %sd", verb),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRegistry(cmd.Context(), func(reg *registry.ServerRegistry) error {
				if err := reg.SetEnabled(cmd.Context(), args[0], enabled); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%sd server %s\n", verb, args[0])
				return nil
			})
		},
	}
}
