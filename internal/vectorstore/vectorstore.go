// Package vectorstore 提供卡片文档的向量索引，实现 eino 的 Indexer 与 Retriever 接口。
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/components/indexer"
	"github.com/cloudwego/eino/components/retriever"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/cardfinder/backend/internal/config"
)

// DefaultTopK 是未指定 TopK 时返回的文档数量。
const DefaultTopK = 10

var (
	// ErrDimensionMismatch 表示向量维度与索引中已有向量不一致。
	ErrDimensionMismatch = errors.New("vectorstore: embedding dimension mismatch")
	// ErrEmptyQuery 表示检索文本为空。
	ErrEmptyQuery = errors.New("vectorstore: query is empty")
	// ErrNoEmbedder 表示既没有默认向量化器，也没有通过选项传入。
	ErrNoEmbedder = errors.New("vectorstore: embedder is required")
)

// Store 组合了写入与检索能力，并提供索引维护操作。
type Store interface {
	indexer.Indexer
	retriever.Retriever
	Count(ctx context.Context) (int, error)
	Reset(ctx context.Context) error
	Close() error
}

// Open 根据配置打开向量索引。
func Open(ctx context.Context, cfg config.IndexConfig, embedder embedding.Embedder) (Store, error) {
	switch cfg.Backend {
	case config.BackendPGVector:
		return NewPGVector(ctx, cfg.DatabaseURL, cfg.Table, embedder)
	case config.BackendLocal, "":
		return NewLocal(cfg.Dir, embedder)
	default:
		return nil, fmt.Errorf("vectorstore: unsupported backend %q", cfg.Backend)
	}
}

func indexOptions(defaultEmbedder embedding.Embedder, opts []indexer.Option) (*indexer.Options, error) {
	options := indexer.GetCommonOptions(&indexer.Options{Embedding: defaultEmbedder}, opts...)
	if options.Embedding == nil {
		return nil, ErrNoEmbedder
	}
	return options, nil
}

func retrieveOptions(defaultEmbedder embedding.Embedder, opts []retriever.Option) (*retriever.Options, error) {
	topK := DefaultTopK
	options := retriever.GetCommonOptions(&retriever.Options{TopK: &topK, Embedding: defaultEmbedder}, opts...)
	if options.Embedding == nil {
		return nil, ErrNoEmbedder
	}
	if options.TopK == nil || *options.TopK <= 0 {
		options.TopK = &topK
	}
	return options, nil
}

// embedDocuments 对文档内容批量向量化，并校验所有向量维度一致。
func embedDocuments(ctx context.Context, emb embedding.Embedder, docs []*schema.Document, dim int) ([][]float64, int, error) {
	texts := make([]string, len(docs))
	for i, doc := range docs {
		if doc == nil {
			return nil, dim, fmt.Errorf("vectorstore: document %d is nil", i)
		}
		texts[i] = doc.Content
	}

	vectors, err := emb.EmbedStrings(ctx, texts)
	if err != nil {
		return nil, dim, fmt.Errorf("vectorstore: embed documents: %w", err)
	}
	if len(vectors) != len(docs) {
		return nil, dim, fmt.Errorf("vectorstore: embedder returned %d vectors for %d documents", len(vectors), len(docs))
	}

	for _, vec := range vectors {
		if len(vec) == 0 {
			return nil, dim, fmt.Errorf("%w: empty vector", ErrDimensionMismatch)
		}
		if dim == 0 {
			dim = len(vec)
		}
		if len(vec) != dim {
			return nil, dim, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), dim)
		}
	}
	return vectors, dim, nil
}

func embedQuery(ctx context.Context, emb embedding.Embedder, query string) ([]float64, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	vectors, err := emb.EmbedStrings(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("vectorstore: embed query: %w", err)
	}
	if len(vectors) != 1 || len(vectors[0]) == 0 {
		return nil, fmt.Errorf("vectorstore: embedder returned no vector for query")
	}
	return vectors[0], nil
}

// squaredL2 返回两个等长向量的平方欧氏距离。
func squaredL2(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

func cloneMetadata(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
