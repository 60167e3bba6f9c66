package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	mcpgateway "github.com/vikashloomba/mcp-toolhub-go/pkg/mcp-gateway"
	"github.com/vikashloomba/mcp-toolhub-go/pkg/mcpmgr"
	"github.com/vikashloomba/mcp-toolhub-go/pkg/observability"
	"github.com/vikashloomba/mcp-toolhub-go/pkg/registry"
)

func (a *app) serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the tool catalog as one Streamable MCP endpoint",
		Long: `Serve connects every enabled server, exposes their tools through a single
Streamable HTTP MCP endpoint, and runs periodic health checks that reconnect
failed servers.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.withRegistry(ctx, func(reg *registry.ServerRegistry) error {
				return a.serve(ctx, reg)
			})
		},
	}
	f := cmd.Flags()
	f.String("addr", ":8700", "listen address")
	f.String("path", "/mcp", "MCP endpoint path")
	f.String("health-schedule", mcpmgr.DefaultHealthSchedule, "cron schedule for health checks")
	f.String("otel-endpoint", "", "OTLP/HTTP traces URL, e.g. http://localhost:4318/v1/traces")
	f.Bool("otel-insecure", false, "disable TLS for the OTLP exporter")
	for key, flag := range map[string]string{
		"gateway.addr":    "addr",
		"gateway.path":    "path",
		"health.schedule": "health-schedule",
		"otel.endpoint":   "otel-endpoint",
		"otel.insecure":   "otel-insecure",
	} {
		_ = a.v.BindPFlag(key, f.Lookup(flag))
	}
	return cmd
}

func (a *app) serve(ctx context.Context, reg *registry.ServerRegistry) (err error) {
	mgr := a.newManager(reg)

	providers, err := observability.NewProviders(ctx, observability.Config{
		ServiceName:  "toolhub",
		OTLPEndpoint: a.v.GetString("otel.endpoint"),
		Insecure:     a.v.GetBool("otel.insecure"),
	})
	if err != nil {
		return err
	}
	observer, err := providers.Observer()
	if err != nil {
		return err
	}
	observer.Attach(mgr)

	gateway, err := mcpgateway.NewGateway(mgr, &mcpgateway.Options{
		Addr:   a.v.GetString("gateway.addr"),
		Path:   a.v.GetString("gateway.path"),
		Logger: a.logger,
	})
	if err != nil {
		return err
	}
	gateway.ServeMux().HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = printJSON(w, mgr.HealthCheck())
	})

	scheduler, err := mcpmgr.NewHealthScheduler(mgr, mcpmgr.HealthSchedulerOptions{
		Schedule:  a.v.GetString("health.schedule"),
		Reconnect: true,
		Logger:    a.logger,
	})
	if err != nil {
		return err
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err = errors.Join(err,
			scheduler.Stop(shutdownCtx),
			mgr.Shutdown(shutdownCtx),
			providers.Shutdown(shutdownCtx),
		)
		gateway.Close()
	}()

	if initErr := mgr.Initialize(ctx); initErr != nil {
		a.logger.Warn("some servers failed to connect", "error", initErr)
	}
	scheduler.Start()

	opts := gateway.Options()
	a.logger.Info("serving MCP gateway", "addr", opts.Addr, "path", opts.Path, "tools", len(mgr.ListTools("")))
	if serveErr := gateway.ListenAndServe(ctx); serveErr != nil && !errors.Is(serveErr, context.Canceled) {
		return serveErr
	}
	return nil
}
