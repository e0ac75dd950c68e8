package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/urfave/cli/v3"

	"github.com/zhouzirui/cardfinder/backend/internal/service/conversation"
)

var (
	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Bold(true)

	assistantStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("135")).
			Bold(true)

	toolStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Italic(true)
)

func chatCommand() *cli.Command {
	return &cli.Command{
		Name:  "chat",
		Usage: "Talk to the card assistant in the terminal",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a, err := loadApp(ctx, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if a.Conversation == nil {
				return errors.New("assistant unavailable: chat and embedding models must be configured")
			}
			if err := a.EnsureIndex(ctx); err != nil {
				return err
			}

			session, err := a.Chat.CreateSession(ctx)
			if err != nil {
				return err
			}
			transcript, err := a.Chat.LoadTranscript(ctx, session.ID)
			if err != nil {
				return err
			}
			for _, m := range transcript {
				if m.Visible() {
					fmt.Println(assistantStyle.Render("assistant:") + " " + m.Content)
				}
			}

			scanner := bufio.NewScanner(os.Stdin)
			for {
				fmt.Print(promptStyle.Render("you> "))
				if !scanner.Scan() {
					fmt.Println()
					return scanner.Err()
				}
				text := strings.TrimSpace(scanner.Text())
				switch text {
				case "":
					continue
				case "/quit", "/exit":
					return nil
				}

				if err := replyOnce(ctx, a.Conversation, session.ID, text); err != nil {
					if ctx.Err() != nil {
						return nil
					}
					fmt.Fprintln(os.Stderr, "error:", err)
				}
			}
		},
	}
}

func replyOnce(ctx context.Context, conv *conversation.Service, sessionID, text string) error {
	var (
		mu       sync.Mutex
		streamed bool
	)
	sink := func(e conversation.Event) {
		mu.Lock()
		defer mu.Unlock()

		switch e.Type {
		case conversation.EventStart:
			fmt.Print(assistantStyle.Render("assistant:") + " ")
		case conversation.EventToolStart:
			fmt.Print(toolStyle.Render(fmt.Sprintf("[searching cards %s] ", e.Arguments)))
		case conversation.EventDelta:
			streamed = true
			fmt.Print(e.Content)
		case conversation.EventMessage:
			if !streamed {
				fmt.Print(e.Content)
			}
		case conversation.EventEnd:
			fmt.Println()
		}
	}

	_, err := conv.Reply(ctx, sessionID, text, sink)
	if err != nil {
		fmt.Println()
	}
	return err
}
