package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/cardfinder/backend/internal/model/chat"
	chatservice "github.com/zhouzirui/cardfinder/backend/internal/service/chat"
)

func setupRouter() (*chi.Mux, *chatservice.Service) {
	chatSvc := chatservice.NewService("system prompt", "How can I help you?")
	handler := New(chatSvc)

	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	return r, chatSvc
}

func TestCreateSession(t *testing.T) {
	r, chatSvc := setupRouter()

	req := httptest.NewRequest(http.MethodPost, "/session", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.Code)
	}

	var session chat.Session
	if err := json.Unmarshal(resp.Body.Bytes(), &session); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if _, err := chatSvc.GetSession(context.Background(), session.ID); err != nil {
		t.Fatalf("session was not stored: %v", err)
	}
}

func TestListMessagesHidesSystemPrompt(t *testing.T) {
	r, chatSvc := setupRouter()
	ctx := context.Background()
	session, _ := chatSvc.CreateSession(ctx)
	if _, err := chatSvc.AppendMessage(ctx, chat.Message{SessionID: session.ID, Role: chat.RoleUser, Content: "hello"}); err != nil {
		t.Fatal(err)
	}

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/session/"+session.ID+"/messages", nil))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var messages []chat.Message
	if err := json.Unmarshal(resp.Body.Bytes(), &messages); err != nil {
		t.Fatal(err)
	}
	if len(messages) != 2 {
		t.Fatalf("expected greeting and user message, got %d", len(messages))
	}
	if messages[0].Role != chat.RoleAssistant || messages[0].Content != "How can I help you?" {
		t.Fatalf("unexpected first message: %+v", messages[0])
	}
	for _, m := range messages {
		if m.Role == chat.RoleSystem {
			t.Fatal("system prompt must not be exposed")
		}
	}
}

func TestListMessagesUnknownSession(t *testing.T) {
	r, _ := setupRouter()
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/session/missing/messages", nil))

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}
