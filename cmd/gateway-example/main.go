package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/auth"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	mcpgateway "github.com/vikashloomba/mcp-toolhub-go/pkg/mcp-gateway"
	"github.com/vikashloomba/mcp-toolhub-go/pkg/mcpmgr"
)

func main() {
	authorizationURL := os.Getenv("AUTHORIZATION_SERVER_URL")
	resourceMetadataURL := os.Getenv("OAUTH_RESOURCE_METADATA_URL")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	manager := mcpmgr.NewManager(&mcpmgr.ManagerOptions{ClientName: "gateway-example"})

	gatewayOpts := &mcpgateway.Options{
		Addr: ":8787",
		Path: "/mcp",
		Streamable: mcp.StreamableHTTPOptions{
			JSONResponse: true,
		},
	}
	if authorizationURL != "" && resourceMetadataURL != "" {
		// Accept any bearer token for an hour; swap in a real introspection call.
		gatewayOpts.TokenVerifier = func(ctx context.Context, token string, req *http.Request) (*auth.TokenInfo, error) {
			return &auth.TokenInfo{Expiration: time.Now().Add(time.Hour)}, nil
		}
		gatewayOpts.TokenOptions = &auth.RequireBearerTokenOptions{
			ResourceMetadataURL: resourceMetadataURL,
		}
		gatewayOpts.AuthorizationServer = authorizationURL
	}

	gateway, err := mcpgateway.NewGateway(manager, gatewayOpts)
	if err != nil {
		log.Fatalf("failed to build gateway: %v", err)
	}
	defer gateway.Close()

	if err := manager.AddServer(ctx, mcpmgr.ServerConfig{
		Name:           "everything",
		Transport:      mcpmgr.TransportStdio,
		Command:        "npx",
		Args:           []string{"-y", "@modelcontextprotocol/server-everything"},
		Enabled:        true,
		ConnectTimeout: 15 * time.Second,
	}); err != nil {
		log.Fatalf("failed to add everything server: %v", err)
	}
	defer manager.Shutdown(context.Background())

	gwOptions := gateway.Options()
	log.Printf("gateway serving Streamable MCP on %s%s", gwOptions.Addr, gwOptions.Path)
	if err := gateway.ListenAndServe(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("gateway server stopped: %v", err)
	}
}
