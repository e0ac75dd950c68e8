package vectorstore

import (
	"context"
	"os"
	"testing"

	"github.com/cloudwego/eino/components/retriever"

	"github.com/zhouzirui/cardfinder/backend/internal/testutil"
)

// 需要带 pgvector 扩展的 PostgreSQL，通过 TEST_DATABASE_URL 指定。
func TestPGVectorRoundTrip(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	emb := testutil.NewKeywordEmbedder("apple", "banana", "water", "sleep")
	store, err := NewPGVector(ctx, url, "cardfinder_test_cards", emb)
	if err != nil {
		t.Fatalf("NewPGVector err: %v", err)
	}
	defer store.Close()

	if err := store.Reset(ctx); err != nil {
		t.Fatalf("Reset err: %v", err)
	}
	if _, err := store.Store(ctx, sampleDocs()); err != nil {
		t.Fatalf("Store err: %v", err)
	}

	n, err := store.Count(ctx)
	if err != nil || n != 4 {
		t.Fatalf("expected 4 docs, got %d (err %v)", n, err)
	}

	docs, err := store.Retrieve(ctx, "apple apple", retriever.WithTopK(2))
	if err != nil {
		t.Fatalf("Retrieve err: %v", err)
	}
	if len(docs) != 2 || docs[0].ID != "apple.png" || docs[1].ID != "banana.png" {
		t.Fatalf("unexpected ranking: %v", docs)
	}
	if docs[1].Score() < 4.99 || docs[1].Score() > 5.01 {
		t.Fatalf("expected squared distance 5, got %v", docs[1].Score())
	}
}
