package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/cardfinder/backend/internal/app"
	"github.com/zhouzirui/cardfinder/backend/internal/model/card"
	"github.com/zhouzirui/cardfinder/backend/internal/service/retrieval"
)

func indexCommand() *cli.Command {
	return &cli.Command{
		Name:  "index",
		Usage: "Rebuild the card index from the catalog",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "watch",
				Usage: "Keep running and rebuild whenever the catalog file changes",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a, err := loadApp(ctx, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.Reindex(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("indexed %d cards\n", n)

			if !cmd.Bool("watch") {
				return nil
			}
			return watchCatalog(ctx, a)
		},
	}
}

func watchCatalog(ctx context.Context, a *app.App) error {
	path := a.Config.Catalog.Path
	if path == "" {
		return errors.New("--watch requires a catalog file (set --catalog or CARD_CATALOG)")
	}

	// 重建串行执行，较新的目录会覆盖尚未处理的旧目录。
	pending := make(chan *card.Catalog, 1)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return card.Watch(gctx, path, a.Logger, func(c *card.Catalog) {
			select {
			case <-pending:
			default:
			}
			pending <- c
		})
	})

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case c := <-pending:
				n, err := retrieval.BuildIndex(gctx, a.Index, c.Cards, a.Logger)
				if err != nil {
					a.Logger.Error("reindex failed", slog.String("error", err.Error()))
					continue
				}
				fmt.Printf("reindexed %d cards\n", n)
			}
		}
	})

	return g.Wait()
}
