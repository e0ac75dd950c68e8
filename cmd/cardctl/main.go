package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"

	"github.com/zhouzirui/cardfinder/backend/internal/app"
	"github.com/zhouzirui/cardfinder/backend/internal/config"
)

const version = "0.1.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := &cli.Command{
		Name:    "cardctl",
		Usage:   "Build the card index, search cards and talk to the card assistant from a terminal",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "catalog",
				Usage:   "Path to the card catalog YAML file (built-in catalog when empty)",
				Sources: cli.EnvVars("CARD_CATALOG"),
			},
			&cli.StringFlag{
				Name:        "env-file",
				Usage:       "Path to a .env file loaded before reading configuration",
				DefaultText: ".env",
				Value:       ".env",
			},
		},
		Commands: []*cli.Command{
			indexCommand(),
			searchCommand(),
			chatCommand(),
			mcpCommand(),
		},
	}

	if err := cmd.Run(ctx, os.Args); err != nil {
		slog.Error("cardctl error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// loadApp 读取配置并组装服务，日志统一写到 stderr，避免污染 stdout 上的输出。
func loadApp(ctx context.Context, cmd *cli.Command) (*app.App, error) {
	if err := godotenv.Load(cmd.String("env-file")); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if path := cmd.String("catalog"); path != "" {
		cfg.Catalog.Path = path
	}

	logger := cfg.Log.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	return app.New(ctx, cfg, logger)
}
