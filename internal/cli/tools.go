package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vikashloomba/mcp-toolhub-go/pkg/mcpmgr"
	"github.com/vikashloomba/mcp-toolhub-go/pkg/registry"
	"github.com/vikashloomba/mcp-toolhub-go/pkg/tooladapter"
)

func (a *app) templatesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "templates",
		Short: "Inspect server templates",
	}
	var asJSON bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List built-in and custom templates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRegistry(cmd.Context(), func(reg *registry.ServerRegistry) error {
				templates := reg.Templates()
				if asJSON {
					return printJSON(cmd.OutOrStdout(), templates)
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "NAME\tCATEGORY\tTRANSPORT\tDESCRIPTION")
				for _, t := range templates {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.Name, t.Category, t.Transport, truncate(t.Description, 60))
				}
				return w.Flush()
			})
		},
	}
	list.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	cmd.AddCommand(list)
	return cmd
}

func (a *app) toolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List, search and call tools across every enabled server",
	}
	cmd.AddCommand(a.toolsListCmd(), a.toolsSearchCmd(), a.toolsCallCmd())
	return cmd
}

func (a *app) toolsListCmd() *cobra.Command {
	var (
		category string
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List catalog tools",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withManager(cmd.Context(), func(mgr *mcpmgr.Manager) error {
				return printTools(cmd, mgr.ListTools(category), asJSON)
			})
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "only tools in this category")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func (a *app) toolsSearchCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search tools by name, description or category",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withManager(cmd.Context(), func(mgr *mcpmgr.Manager) error {
				return printTools(cmd, mgr.SearchTools(args[0]), asJSON)
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func printTools(cmd *cobra.Command, tools []tooladapter.NormalizedTool, asJSON bool) error {
	if asJSON {
		if tools == nil {
			tools = []tooladapter.NormalizedTool{}
		}
		return printJSON(cmd.OutOrStdout(), tools)
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSERVER\tCATEGORY\tENABLED\tDESCRIPTION")
	for _, t := range tools {
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\n", t.ID, t.Server, t.Category, t.Enabled, truncate(t.Description, 60))
	}
	return w.Flush()
}

func (a *app) toolsCallCmd() *cobra.Command {
	var (
		pairs  []string
		byName bool
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "call <id>",
		Short: "Call a tool by catalog id, or by raw name with --by-name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			toolArgs, err := parseArgs(pairs)
			if err != nil {
				return err
			}
			return a.withManager(cmd.Context(), func(mgr *mcpmgr.Manager) error {
				var (
					res     tooladapter.Result
					callErr error
				)
				if byName {
					res, callErr = mgr.FindAndCallTool(cmd.Context(), args[0], toolArgs)
				} else {
					res, callErr = mgr.ExecuteTool(cmd.Context(), args[0], toolArgs)
				}
				if asJSON {
					if err := printJSON(cmd.OutOrStdout(), res); err != nil {
						return err
					}
					return callErr
				}
				if callErr != nil {
					return callErr
				}
				if !res.Success {
					return fmt.Errorf("tool reported an error: %s", res.Error)
				}
				if text, ok := res.Data.(string); ok {
					fmt.Fprintln(cmd.OutOrStdout(), text)
					return nil
				}
				return printJSON(cmd.OutOrStdout(), res.Data)
			})
		},
	}
	cmd.Flags().StringArrayVar(&pairs, "arg", nil, "tool argument key=value; JSON values keep their type")
	cmd.Flags().BoolVar(&byName, "by-name", false, "treat the argument as a raw tool name")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full result envelope as JSON")
	return cmd
}
