package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/vikashloomba/mcp-toolhub-go/pkg/mcpmgr"
	"github.com/vikashloomba/mcp-toolhub-go/pkg/registry"
)

func main() {
	ctx := context.Background()

	dir, err := os.MkdirTemp("", "manager-example")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)

	reg, err := registry.New(ctx, registry.Options{
		Store: registry.NewFileStore(filepath.Join(dir, "servers.yaml")),
	})
	if err != nil {
		log.Fatalf("open registry: %v", err)
	}
	defer reg.Close()

	manager := mcpmgr.NewManager(&mcpmgr.ManagerOptions{
		ClientName:     "manager-example",
		ConnectTimeout: 15 * time.Second,
		Registry:       reg,
	})
	manager.On(mcpmgr.EventToolExecuted, func(ctx context.Context, ev mcpmgr.Event) error {
		fmt.Printf("executed %s in %s\n", ev.ToolID, ev.Duration)
		return nil
	})

	if err := manager.Initialize(ctx); err != nil {
		log.Fatalf("initialize: %v", err)
	}
	defer manager.Shutdown(context.Background())

	if err := manager.AddServer(ctx, mcpmgr.ServerConfig{
		Name:      "everything",
		Transport: mcpmgr.TransportStdio,
		Command:   "npx",
		Args:      []string{"-y", "@modelcontextprotocol/server-everything"},
		Enabled:   true,
	}); err != nil {
		log.Fatalf("add server: %v", err)
	}

	for _, tool := range manager.ListTools("") {
		fmt.Printf("%-40s %-14s %s\n", tool.ID, tool.Category, tool.Description)
	}

	res, err := manager.FindAndCallTool(ctx, "echo", map[string]any{"message": "hello"})
	if err != nil {
		log.Fatalf("call echo: %v", err)
	}
	fmt.Printf("echo -> success=%t data=%v\n", res.Success, res.Data)
}
