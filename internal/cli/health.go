package cli

import (
	"fmt"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vikashloomba/mcp-toolhub-go/pkg/mcpmgr"
	"github.com/vikashloomba/mcp-toolhub-go/pkg/registry"
)

func (a *app) healthCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Connect to every enabled server and report its health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withManager(cmd.Context(), func(mgr *mcpmgr.Manager) error {
				records := mgr.HealthCheck()
				if asJSON {
					return printJSON(cmd.OutOrStdout(), records)
				}
				names := make([]string, 0, len(records))
				for name := range records {
					names = append(names, name)
				}
				slices.Sort(names)
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "SERVER\tSTATE\tTOOLS\tRESOURCES\tPROMPTS\tATTEMPTS\tERROR")
				for _, name := range names {
					r := records[name]
					fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
						r.Server, r.State, r.Tools, r.Resources, r.Prompts, r.Attempts, truncate(r.LastError, 60))
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

// statusReport joins the live manager status with registry statistics.
type statusReport struct {
	Manager  mcpmgr.Status       `json:"manager"`
	Registry registry.Statistics `json:"registry"`
}

func (a *app) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print manager and registry statistics as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRegistry(cmd.Context(), func(reg *registry.ServerRegistry) error {
				mgr := a.newManager(reg)
				if err := mgr.Initialize(cmd.Context()); err != nil {
					a.logger.Warn("some servers failed to connect", "error", err)
				}
				report := statusReport{Manager: mgr.GetStatus(), Registry: reg.Statistics()}
				if err := mgr.Shutdown(cmd.Context()); err != nil {
					a.logger.Warn("shutdown", "error", err)
				}
				return printJSON(cmd.OutOrStdout(), report)
			})
		},
	}
}

func (a *app) exportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export <file>",
		Short: "Export servers and custom templates (.json or .yaml)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRegistry(cmd.Context(), func(reg *registry.ServerRegistry) error {
				if err := reg.Export(args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "exported %d servers to %s\n", len(reg.Servers()), args[0])
				return nil
			})
		},
	}
}

func (a *app) importCmd() *cobra.Command {
	var merge bool
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import servers and templates, replacing the registry unless --merge",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRegistry(cmd.Context(), func(reg *registry.ServerRegistry) error {
				if err := reg.Import(cmd.Context(), args[0], merge); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "registry now has %d servers\n", len(reg.Servers()))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&merge, "merge", false, "merge into the existing registry")
	return cmd
}
