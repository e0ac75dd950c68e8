package main

import (
	"context"
	"errors"

	"github.com/urfave/cli/v3"

	"github.com/zhouzirui/cardfinder/backend/internal/mcpserver"
)

func mcpCommand() *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve card search as an MCP tool over stdio",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a, err := loadApp(ctx, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if a.Searcher == nil {
				return errors.New("card search unavailable: embedding model is not configured")
			}
			if err := a.EnsureIndex(ctx); err != nil {
				return err
			}

			return mcpserver.New(a.Searcher, a.Cards, version).ServeStdio()
		},
	}
}
