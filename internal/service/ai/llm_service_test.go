package ai

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/cardfinder/backend/internal/config"
	"github.com/zhouzirui/cardfinder/backend/internal/model/card"
	"github.com/zhouzirui/cardfinder/backend/internal/service/retrieval"
	"github.com/zhouzirui/cardfinder/backend/internal/testutil"
)

type stubSearcher struct {
	mu      sync.Mutex
	queries []retrieval.Query
}

func (s *stubSearcher) Search(_ context.Context, q retrieval.Query) ([]retrieval.Result, error) {
	s.mu.Lock()
	s.queries = append(s.queries, q)
	s.mu.Unlock()
	return []retrieval.Result{{
		Card:  card.Card{Path: "kids/eat.png", Category: "food", Action: "eat", Target: "kids"},
		Score: 0.5,
	}}, nil
}

type recordingObserver struct {
	mu     sync.Mutex
	events []string
}

func (o *recordingObserver) OnToolStart(_ context.Context, name, arguments string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, "start:"+name+":"+arguments)
}

func (o *recordingObserver) OnToolEnd(_ context.Context, name, result string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, "end:"+name+":"+result)
}

func testHistory() []*schema.Message {
	return []*schema.Message{
		schema.SystemMessage("system"),
		schema.AssistantMessage(Greeting, nil),
		schema.UserMessage("cards for kids meals"),
	}
}

func newTestService(t *testing.T, stream bool, responses ...*schema.Message) (*Service, *testutil.ScriptedChatModel, *stubSearcher) {
	t.Helper()
	chatModel := testutil.NewScriptedChatModel(responses...)
	searcher := &stubSearcher{}
	svc, err := NewService(context.Background(), chatModel, []tool.BaseTool{retrieval.NewTool(searcher)}, config.AIConfig{StreamResponse: stream, MaxSteps: 12})
	if err != nil {
		t.Fatalf("NewService err: %v", err)
	}
	return svc, chatModel, searcher
}

func TestGenerateAnswersDirectly(t *testing.T) {
	svc, chatModel, searcher := newTestService(t, false, schema.AssistantMessage("Hello there", nil))

	msg, err := svc.Generate(context.Background(), testHistory(), nil)
	if err != nil {
		t.Fatalf("Generate err: %v", err)
	}
	if msg.Content != "Hello there" {
		t.Fatalf("unexpected content: %q", msg.Content)
	}
	if len(searcher.queries) != 0 {
		t.Fatal("tool should not be called")
	}
	if tools := chatModel.BoundTools(); len(tools) != 1 || tools[0].Name != retrieval.ToolName {
		t.Fatalf("expected retrieval tool to be bound, got %v", tools)
	}
}

func TestGenerateRunsToolLoop(t *testing.T) {
	svc, chatModel, searcher := newTestService(t, false,
		testutil.ToolCallMessage("call-1", retrieval.ToolName, `{"query":"food eat","target":"kids"}`),
		schema.AssistantMessage("Try the eat card.", nil),
	)
	observer := &recordingObserver{}

	msg, err := svc.Generate(context.Background(), testHistory(), observer)
	if err != nil {
		t.Fatalf("Generate err: %v", err)
	}
	if msg.Content != "Try the eat card." {
		t.Fatalf("unexpected content: %q", msg.Content)
	}

	if len(searcher.queries) != 1 || searcher.queries[0].Target != "kids" || searcher.queries[0].TopK != retrieval.ToolTopK {
		t.Fatalf("unexpected tool queries: %+v", searcher.queries)
	}

	inputs := chatModel.Inputs()
	if len(inputs) != 2 {
		t.Fatalf("expected 2 model calls, got %d", len(inputs))
	}
	second := inputs[1]
	if len(second) != len(testHistory())+2 {
		t.Fatalf("expected history plus tool call and tool result, got %d messages", len(second))
	}
	last := second[len(second)-1]
	if last.Role != schema.Tool || last.ToolCallID != "call-1" || !strings.Contains(last.Content, "kids/eat.png") {
		t.Fatalf("unexpected tool message: %+v", last)
	}

	if len(observer.events) != 2 {
		t.Fatalf("expected tool start and end events, got %v", observer.events)
	}
	if !strings.HasPrefix(observer.events[0], "start:"+retrieval.ToolName+":") || !strings.HasPrefix(observer.events[1], "end:"+retrieval.ToolName+":") {
		t.Fatalf("unexpected events: %v", observer.events)
	}
}

func TestStreamDeliversChunks(t *testing.T) {
	svc, _, _ := newTestService(t, true,
		testutil.ToolCallMessage("call-1", retrieval.ToolName, `{"query":"food"}`),
		schema.AssistantMessage("Here are some cards", nil),
	)
	observer := &recordingObserver{}

	stream, err := svc.Stream(context.Background(), testHistory(), observer)
	if err != nil {
		t.Fatalf("Stream err: %v", err)
	}
	defer stream.Close()

	var chunks []*schema.Message
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Recv err: %v", err)
		}
		chunks = append(chunks, chunk)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	full, err := schema.ConcatMessages(chunks)
	if err != nil {
		t.Fatalf("ConcatMessages err: %v", err)
	}
	if full.Content != "Here are some cards" {
		t.Fatalf("unexpected streamed content: %q", full.Content)
	}

	observer.mu.Lock()
	defer observer.mu.Unlock()
	if len(observer.events) != 2 {
		t.Fatalf("expected tool events while streaming, got %v", observer.events)
	}
}

func TestStreamRunsToolAfterLeadingText(t *testing.T) {
	svc, chatModel, searcher := newTestService(t, true,
		testutil.TextThenToolCallMessage("Let me look that up. ", "call-1", retrieval.ToolName, `{"query":"food eat"}`),
		schema.AssistantMessage("Here are the food cards", nil),
	)

	stream, err := svc.Stream(context.Background(), testHistory(), nil)
	if err != nil {
		t.Fatalf("Stream err: %v", err)
	}
	defer stream.Close()

	var chunks []*schema.Message
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Recv err: %v", err)
		}
		chunks = append(chunks, chunk)
	}
	full, err := schema.ConcatMessages(chunks)
	if err != nil {
		t.Fatalf("ConcatMessages err: %v", err)
	}

	if len(searcher.queries) != 1 {
		t.Fatalf("expected the tool to run once, got %d searches", len(searcher.queries))
	}
	if len(chatModel.Inputs()) != 2 {
		t.Fatalf("expected 2 model calls, got %d", len(chatModel.Inputs()))
	}
	if full.Content != "Here are the food cards" || len(full.ToolCalls) != 0 {
		t.Fatalf("unexpected final message: %+v", full)
	}
}

func TestGenerateReturnsToolErrorsToModel(t *testing.T) {
	svc, chatModel, searcher := newTestService(t, false,
		testutil.ToolCallMessage("call-1", retrieval.ToolName, `{"query":"food","target":"teens"}`),
		testutil.ToolCallMessage("call-2", "lookup_cards", `{"query":"food"}`),
		schema.AssistantMessage("Which group are the cards for?", nil),
	)

	msg, err := svc.Generate(context.Background(), testHistory(), nil)
	if err != nil {
		t.Fatalf("Generate err: %v", err)
	}
	if msg.Content != "Which group are the cards for?" {
		t.Fatalf("unexpected content: %q", msg.Content)
	}
	if len(searcher.queries) != 0 {
		t.Fatalf("invalid calls must not reach the searcher, got %+v", searcher.queries)
	}

	inputs := chatModel.Inputs()
	if len(inputs) != 3 {
		t.Fatalf("expected 3 model calls, got %d", len(inputs))
	}
	invalidTarget := inputs[1][len(inputs[1])-1]
	if invalidTarget.Role != schema.Tool || !strings.Contains(invalidTarget.Content, "unsupported target") {
		t.Fatalf("expected target error as tool result, got %+v", invalidTarget)
	}
	unknownTool := inputs[2][len(inputs[2])-1]
	if unknownTool.Role != schema.Tool || !strings.Contains(unknownTool.Content, "unknown tool") {
		t.Fatalf("expected unknown tool error as tool result, got %+v", unknownTool)
	}
}

func TestStreamDisabled(t *testing.T) {
	svc, _, _ := newTestService(t, false)
	if _, err := svc.Stream(context.Background(), testHistory(), nil); !errors.Is(err, ErrStreamingDisabled) {
		t.Fatalf("expected ErrStreamingDisabled, got %v", err)
	}
}

func TestGenerateStopsRunawayToolLoop(t *testing.T) {
	responses := make([]*schema.Message, 0, 20)
	for i := 0; i < 20; i++ {
		responses = append(responses, testutil.ToolCallMessage("call", retrieval.ToolName, `{"query":"food"}`))
	}
	svc, _, _ := newTestService(t, false, responses...)

	if _, err := svc.Generate(context.Background(), testHistory(), nil); err == nil {
		t.Fatal("expected max steps error")
	}
}

func TestBuildSystemPrompt(t *testing.T) {
	store := card.NewMemoryStore(&card.Catalog{
		Categories: []card.Category{
			{Name: "food", Description: "Meals"},
			{Name: "empty", Description: "Nothing yet"},
		},
		Cards: []card.Card{
			{Path: "b", Category: "food", Action: "eat", Target: "kids"},
			{Path: "a", Category: "food", Action: "drink", Target: "all"},
		},
	})

	prompt := BuildSystemPrompt(store)
	for _, want := range []string{
		"**Categories Available**",
		" - **food**: Meals, available actions: drink all, eat kids\n",
		" - **empty**: Nothing yet\n",
		"**Identify the Target Group**",
		"`retrieve_similar_documents` Tool",
		"**Respond with Relevant Card Groups**",
	} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}
}
