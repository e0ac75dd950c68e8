package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cloudwego/eino/components/indexer"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/cardfinder/backend/internal/model/card"
)

// IndexBatchSize 是每次向量化请求包含的文档数。
const IndexBatchSize = 64

// ErrEmptyCatalog 表示没有可索引的卡片。
var ErrEmptyCatalog = errors.New("retrieval: catalog has no cards")

// Index 是 BuildIndex 需要的索引能力。
type Index interface {
	indexer.Indexer
	Reset(ctx context.Context) error
}

// BuildIndex 清空索引并按批写入全部卡片文档，返回写入数量。
func BuildIndex(ctx context.Context, index Index, cards []card.Card, logger *slog.Logger) (int, error) {
	if len(cards) == 0 {
		return 0, ErrEmptyCatalog
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := index.Reset(ctx); err != nil {
		return 0, fmt.Errorf("reset index: %w", err)
	}

	docs := make([]*schema.Document, len(cards))
	for i, c := range cards {
		docs[i] = CardDocument(c)
	}

	total := 0
	for start := 0; start < len(docs); start += IndexBatchSize {
		end := min(start+IndexBatchSize, len(docs))
		ids, err := index.Store(ctx, docs[start:end])
		if err != nil {
			return total, fmt.Errorf("index cards %d-%d: %w", start, end-1, err)
		}
		total += len(ids)
		logger.Debug("index: batch stored", slog.Int("from", start), slog.Int("count", len(ids)))
	}

	logger.Info("index: built", slog.Int("documents", total))
	return total, nil
}
