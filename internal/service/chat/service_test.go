package chat_test

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudwego/eino/schema"

	modelchat "github.com/zhouzirui/cardfinder/backend/internal/model/chat"
	chat "github.com/zhouzirui/cardfinder/backend/internal/service/chat"
)

func TestServiceCreateSessionSeedsTranscript(t *testing.T) {
	svc := chat.NewService("system prompt", "How can I help you?")
	ctx := context.Background()

	session, err := svc.CreateSession(ctx)
	if err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}

	transcript, err := svc.LoadTranscript(ctx, session.ID)
	if err != nil {
		t.Fatalf("LoadTranscript err: %v", err)
	}
	if len(transcript) != 2 {
		t.Fatalf("expected 2 seeded messages, got %d", len(transcript))
	}
	if transcript[0].Role != modelchat.RoleSystem || transcript[0].Content != "system prompt" {
		t.Fatalf("unexpected first message: %+v", transcript[0])
	}
	if transcript[1].Role != modelchat.RoleAssistant || transcript[1].Content != "How can I help you?" {
		t.Fatalf("unexpected second message: %+v", transcript[1])
	}
}

func TestServiceGetSession(t *testing.T) {
	svc := chat.NewService("", "")
	ctx := context.Background()

	session, err := svc.CreateSession(ctx)
	if err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}

	got, err := svc.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("GetSession err: %v", err)
	}
	if got.ID != session.ID {
		t.Fatalf("unexpected session ID: got %s want %s", got.ID, session.ID)
	}
}

func TestServiceGetSessionNotFound(t *testing.T) {
	svc := chat.NewService("", "")
	ctx := context.Background()

	if _, err := svc.GetSession(ctx, "missing"); !errors.Is(err, chat.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if _, err := svc.History(ctx, "missing"); !errors.Is(err, chat.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound from History, got %v", err)
	}
}

func TestServiceAppendMessageValidation(t *testing.T) {
	svc := chat.NewService("sys", "hi")
	ctx := context.Background()
	session, _ := svc.CreateSession(ctx)

	cases := []struct {
		msg  modelchat.Message
		want error
	}{
		{modelchat.Message{SessionID: session.ID, Role: "robot", Content: "x"}, chat.ErrInvalidRole},
		{modelchat.Message{SessionID: session.ID, Role: modelchat.RoleUser, Content: "  "}, chat.ErrEmptyContent},
		{modelchat.Message{SessionID: "missing", Role: modelchat.RoleUser, Content: "x"}, chat.ErrSessionNotFound},
	}
	for _, tc := range cases {
		if _, err := svc.AppendMessage(ctx, tc.msg); !errors.Is(err, tc.want) {
			t.Fatalf("expected %v, got %v", tc.want, err)
		}
	}
}

func TestServiceHistoryAppendsInOrder(t *testing.T) {
	svc := chat.NewService("sys", "hi")
	ctx := context.Background()
	session, _ := svc.CreateSession(ctx)

	stored, err := svc.AppendMessage(ctx, modelchat.Message{SessionID: session.ID, Role: modelchat.RoleUser, Content: "I need food cards"})
	if err != nil {
		t.Fatalf("AppendMessage err: %v", err)
	}
	if stored.ID == "" || stored.CreatedAt.IsZero() {
		t.Fatalf("expected id and timestamp to be assigned: %+v", stored)
	}
	if _, err := svc.AppendMessage(ctx, modelchat.Message{SessionID: session.ID, Role: modelchat.RoleAssistant, Content: "Here you go"}); err != nil {
		t.Fatalf("AppendMessage err: %v", err)
	}

	history, err := svc.History(ctx, session.ID)
	if err != nil {
		t.Fatalf("History err: %v", err)
	}
	wantRoles := []schema.RoleType{schema.System, schema.Assistant, schema.User, schema.Assistant}
	if len(history) != len(wantRoles) {
		t.Fatalf("expected %d messages, got %d", len(wantRoles), len(history))
	}
	for i, role := range wantRoles {
		if history[i].Role != role {
			t.Fatalf("message %d: expected role %s, got %s", i, role, history[i].Role)
		}
	}
}

func TestServiceLoadTranscriptReturnsCopy(t *testing.T) {
	svc := chat.NewService("sys", "hi")
	ctx := context.Background()
	session, _ := svc.CreateSession(ctx)

	transcript, _ := svc.LoadTranscript(ctx, session.ID)
	transcript[0].Content = "mutated"

	again, _ := svc.LoadTranscript(ctx, session.ID)
	if again[0].Content != "sys" {
		t.Fatal("transcript must be returned as a copy")
	}
}
