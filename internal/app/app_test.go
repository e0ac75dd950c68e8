package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/cardfinder/backend/internal/config"
	"github.com/zhouzirui/cardfinder/backend/internal/model/card"
	"github.com/zhouzirui/cardfinder/backend/internal/service/conversation"
	"github.com/zhouzirui/cardfinder/backend/internal/service/retrieval"
	"github.com/zhouzirui/cardfinder/backend/internal/testutil"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		AI:        config.AIConfig{Provider: config.ProviderOpenAI, StreamResponse: true, MaxSteps: 12},
		Index:     config.IndexConfig{Backend: config.BackendLocal, Dir: t.TempDir()},
		Retrieval: config.RetrievalConfig{TopK: 5},
		Metrics:   config.MetricsConfig{Enabled: true},
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewWithoutModelsDegrades(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), testLogger())
	if err != nil {
		t.Fatalf("New err: %v", err)
	}
	defer a.Close()

	if a.Index != nil || a.Searcher != nil || a.Conversation != nil {
		t.Fatal("expected search and assistant to be disabled without models")
	}
	if err := a.EnsureIndex(context.Background()); err != nil {
		t.Fatalf("EnsureIndex without index should be a no-op, got %v", err)
	}
	if _, err := a.Reindex(context.Background()); !errors.Is(err, ErrIndexUnavailable) {
		t.Fatalf("expected ErrIndexUnavailable, got %v", err)
	}

	resp := httptest.NewRecorder()
	a.Handler().ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/api/cards/search", strings.NewReader(`{"query":"milk"}`)))
	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 from search, got %d", resp.Code)
	}
}

func TestEnsureIndexBuildsOnce(t *testing.T) {
	ctx := context.Background()
	embedder := testutil.NewKeywordEmbedder("milk", "drink", "mom", "happy", "school")
	a, err := New(ctx, testConfig(t), testLogger(), WithEmbedder(embedder))
	if err != nil {
		t.Fatalf("New err: %v", err)
	}
	defer a.Close()

	if err := a.Ready(ctx); !errors.Is(err, ErrIndexEmpty) {
		t.Fatalf("expected ErrIndexEmpty before indexing, got %v", err)
	}
	if err := a.EnsureIndex(ctx); err != nil {
		t.Fatalf("EnsureIndex err: %v", err)
	}
	count, _ := a.Index.Count(ctx)
	if count != len(a.Cards.List()) {
		t.Fatalf("expected %d documents, got %d", len(a.Cards.List()), count)
	}

	calls := len(embedder.Calls())
	if err := a.EnsureIndex(ctx); err != nil {
		t.Fatalf("second EnsureIndex err: %v", err)
	}
	if len(embedder.Calls()) != calls {
		t.Fatal("EnsureIndex must not rebuild a populated index")
	}
	if err := a.Ready(ctx); err != nil {
		t.Fatalf("expected ready after indexing, got %v", err)
	}
}

func TestConversationEndToEnd(t *testing.T) {
	ctx := context.Background()
	catalog, err := card.ParseCatalog([]byte(`
categories:
  - name: food
    description: Meals and drinks
  - name: family
    description: Family members
cards:
  - path: milk.png
    category: food
    action: drink milk
    target: kids
  - path: mom.png
    category: family
    action: mom
    target: all
`))
	if err != nil {
		t.Fatal(err)
	}

	chatModel := testutil.NewScriptedChatModel(
		testutil.ToolCallMessage("call-1", retrieval.ToolName, `{"query":"drink milk"}`),
		schema.AssistantMessage("Use the drink milk card.", nil),
	)
	a, err := New(ctx, testConfig(t), testLogger(),
		WithCatalog(catalog),
		WithEmbedder(testutil.NewKeywordEmbedder("drink", "milk", "mom")),
		WithChatModel(chatModel),
	)
	if err != nil {
		t.Fatalf("New err: %v", err)
	}
	defer a.Close()

	if err := a.EnsureIndex(ctx); err != nil {
		t.Fatal(err)
	}
	if a.Conversation == nil {
		t.Fatal("expected conversation service to be enabled")
	}

	session, err := a.Chat.CreateSession(ctx)
	if err != nil {
		t.Fatal(err)
	}

	var toolResult string
	msg, err := a.Conversation.Reply(ctx, session.ID, "my son wants milk", func(e conversation.Event) {
		if e.Type == conversation.EventToolEnd {
			toolResult = e.Content
		}
	})
	if err != nil {
		t.Fatalf("Reply err: %v", err)
	}
	if msg.Content != "Use the drink milk card." {
		t.Fatalf("unexpected reply: %q", msg.Content)
	}
	if !strings.Contains(toolResult, "milk.png") {
		t.Fatalf("expected tool result to include milk card, got %s", toolResult)
	}
}
