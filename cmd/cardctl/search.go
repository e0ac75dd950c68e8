package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/urfave/cli/v3"

	"github.com/zhouzirui/cardfinder/backend/internal/service/retrieval"
)

var (
	resultPathStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39"))

	resultMetaStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))
)

func searchCommand() *cli.Command {
	return &cli.Command{
		Name:      "search",
		Usage:     "Find the cards closest to a description",
		ArgsUsage: "<query>",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "k",
				Usage: "Number of cards to return",
				Value: 5,
			},
			&cli.StringFlag{
				Name:  "target",
				Usage: "Audience filter: kids, adults or any (detected from the query when empty)",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			query := strings.TrimSpace(strings.Join(cmd.Args().Slice(), " "))
			if query == "" {
				return errors.New("search requires a query")
			}

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

			results, err := a.Searcher.Search(ctx, retrieval.Query{
				Text:   query,
				TopK:   int(cmd.Int("k")),
				Target: cmd.String("target"),
			})
			if err != nil {
				return err
			}

			if len(results) == 0 {
				fmt.Println(resultMetaStyle.Render("no matching cards"))
				return nil
			}
			for i, r := range results {
				fmt.Printf("%2d. %s\n", i+1, resultPathStyle.Render(r.Card.Path))
				fmt.Println("    " + resultMetaStyle.Render(fmt.Sprintf("%s / %s / %s  distance=%.4f", r.Card.Category, r.Card.Action, r.Card.Target, r.Score)))
			}
			return nil
		},
	}
}
