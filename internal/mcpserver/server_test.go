package mcpserver

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/zhouzirui/cardfinder/backend/internal/model/card"
	"github.com/zhouzirui/cardfinder/backend/internal/service/retrieval"
)

type stubSearcher struct {
	last retrieval.Query
}

func (s *stubSearcher) Search(_ context.Context, q retrieval.Query) ([]retrieval.Result, error) {
	s.last = q
	return []retrieval.Result{{
		Card:  card.Card{Path: "kids/eat.png", Category: "food", Action: "eat", Target: "kids"},
		Score: 0.25,
	}}, nil
}

func testServer(t *testing.T) (*Server, *stubSearcher) {
	t.Helper()
	searcher := &stubSearcher{}
	return New(searcher, card.NewMemoryStore(card.Seed()), "test"), searcher
}

func callRequest(args map[string]interface{}) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Arguments = args
	return req
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestRetrieveSimilarDocuments(t *testing.T) {
	srv, searcher := testServer(t)

	r, err := srv.retrieveSimilarDocuments(context.Background(), callRequest(map[string]interface{}{
		"query":  "lunch time",
		"target": "kids",
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if r.IsError {
		t.Fatalf("unexpected tool error: %s", resultText(r))
	}

	var docs []retrieval.ToolDocument
	if err := json.Unmarshal([]byte(resultText(r)), &docs); err != nil {
		t.Fatalf("result is not JSON: %v", err)
	}
	if len(docs) != 1 || docs[0].Metadata["path"] != "kids/eat.png" {
		t.Fatalf("unexpected documents: %+v", docs)
	}
	if searcher.last.Text != "lunch time" || searcher.last.Target != "kids" {
		t.Fatalf("unexpected query: %+v", searcher.last)
	}
}

func TestRetrieveSimilarDocumentsRequiresQuery(t *testing.T) {
	srv, _ := testServer(t)
	r, err := srv.retrieveSimilarDocuments(context.Background(), callRequest(map[string]interface{}{}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !r.IsError {
		t.Fatal("expected tool error for missing query")
	}
}

func TestListCategories(t *testing.T) {
	srv, _ := testServer(t)
	r, err := srv.listCategories(context.Background(), callRequest(nil))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}

	var out []categorySummary
	if err := json.Unmarshal([]byte(resultText(r)), &out); err != nil {
		t.Fatalf("result is not JSON: %v", err)
	}
	if len(out) != len(card.Seed().Categories) {
		t.Fatalf("expected %d categories, got %d", len(card.Seed().Categories), len(out))
	}
	for _, c := range out {
		if c.Description == "" {
			t.Fatalf("category %s has no description", c.Name)
		}
	}
}

func TestReadCatalogResource(t *testing.T) {
	srv, _ := testServer(t)
	contents, err := srv.readCatalogResource(context.Background(), mcp.ReadResourceRequest{})
	if err != nil {
		t.Fatalf("resource error: %v", err)
	}
	text, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("unexpected content type %T", contents[0])
	}
	if text.URI != CatalogURI || !strings.Contains(text.Text, `"cards"`) {
		t.Fatalf("unexpected resource: %s", text.URI)
	}
}

func TestRetrieveSimilarDocumentsRejectsUnknownTarget(t *testing.T) {
	srv, searcher := testServer(t)
	r, err := srv.retrieveSimilarDocuments(context.Background(), callRequest(map[string]interface{}{
		"query":  "lunch",
		"target": "teens",
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !r.IsError || !strings.Contains(resultText(r), "unsupported target") {
		t.Fatalf("expected unsupported target error, got %+v", r)
	}
	if searcher.last.Text != "" {
		t.Fatalf("searcher should not be called, got %+v", searcher.last)
	}
}
