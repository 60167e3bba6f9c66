package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vikashloomba/mcp-toolhub-go/pkg/mcpmgr"
)

// Version is stamped at build time.
var Version = "dev"

// app carries the configuration shared by every subcommand.
type app struct {
	v      *viper.Viper
	logger *slog.Logger
}

// RootCmd returns the root command
func RootCmd() *cobra.Command {
	var configFile string
	a := &app{v: viper.New(), logger: slog.Default()}

	rootCmd := &cobra.Command{
		Use:   "toolhub",
		Short: "Manage MCP servers and their tools",
		Long: `Toolhub connects to many MCP servers at once, normalizes their tools into
one catalog and routes tool calls to the server that owns them.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := a.initConfig(configFile); err != nil {
				return err
			}
			return a.initLogger(cmd)
		},
		Run: func(cmd *cobra.Command, args []string) {
			_ = cmd.Help()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "config file (default is $HOME/.toolhub/config.yaml)")
	flags.String("store", "", "registry store path (.yaml, .json, .db); default $HOME/.toolhub/servers.yaml")
	flags.String("templates", "", "YAML file of custom server templates")
	flags.String("log-level", "warn", "log level: debug, info, warn, error")
	flags.Duration("timeout", mcpmgr.DefaultConnectTimeout, "per-attempt connect timeout")
	flags.Int("retry-attempts", mcpmgr.DefaultRetryAttempts, "connect attempts per server")
	for key, flag := range map[string]string{
		"store":          "store",
		"templates":      "templates",
		"log_level":      "log-level",
		"timeout":        "timeout",
		"retry_attempts": "retry-attempts",
	} {
		_ = a.v.BindPFlag(key, flags.Lookup(flag))
	}

	rootCmd.AddCommand(
		a.serversCmd(),
		a.templatesCmd(),
		a.toolsCmd(),
		a.healthCmd(),
		a.statusCmd(),
		a.exportCmd(),
		a.importCmd(),
		a.serveCmd(),
		versionCmd(),
	)
	return rootCmd
}

func (a *app) initConfig(configFile string) error {
	a.v.SetEnvPrefix("TOOLHUB")
	a.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	a.v.AutomaticEnv()
	a.v.SetDefault("gateway.addr", ":8700")
	a.v.SetDefault("gateway.path", "/mcp")
	a.v.SetDefault("health.schedule", mcpmgr.DefaultHealthSchedule)

	if configFile != "" {
		a.v.SetConfigFile(configFile)
		if err := a.v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", configFile, err)
		}
		return nil
	}

	if home, err := os.UserHomeDir(); err == nil {
		a.v.AddConfigPath(filepath.Join(home, ".toolhub"))
	}
	a.v.AddConfigPath(".")
	a.v.SetConfigName("config")
	a.v.SetConfigType("yaml")
	if err := a.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}

func (a *app) initLogger(cmd *cobra.Command) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(a.v.GetString("log_level"))); err != nil {
		return fmt.Errorf("invalid log level %q", a.v.GetString("log_level"))
	}
	a.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	return nil
}

func (a *app) connectTimeout() time.Duration {
	return a.v.GetDuration("timeout")
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the toolhub version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "toolhub "+Version)
		},
	}
}
