package main

import (
	"os"

	"github.com/vikashloomba/mcp-toolhub-go/internal/cli"
)

func main() {
	if err := cli.RootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
