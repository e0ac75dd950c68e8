// Package retrieval 负责卡片文档的构建、索引与相似检索。
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/retriever"

	"github.com/zhouzirui/cardfinder/backend/internal/analysis/audience"
	"github.com/zhouzirui/cardfinder/backend/internal/metrics"
	"github.com/zhouzirui/cardfinder/backend/internal/model/card"
	"github.com/zhouzirui/cardfinder/backend/internal/vectorstore"
)

// ErrEmptyQuery 表示检索文本为空。
var ErrEmptyQuery = vectorstore.ErrEmptyQuery

// targetOverfetch 是指定人群时的多取倍数，过滤后仍能凑满 TopK。
const targetOverfetch = 3

// Query 描述一次检索请求。Target 为空时不按人群过滤。
type Query struct {
	Text   string
	TopK   int
	Target string
}

// Result 是一条检索结果，Score 为平方 L2 距离，越小越相近。
type Result struct {
	Card    card.Card `json:"card"`
	Score   float64   `json:"score"`
	Content string    `json:"content"`
}

// Searcher 抽象检索能力，供工具与 HTTP 处理器使用。
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, error)
}

// Service 基于向量检索器查找卡片。
type Service struct {
	retriever   retriever.Retriever
	defaultTopK int
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// NewService 构造检索服务，topK 为未指定数量时的默认值。
func NewService(r retriever.Retriever, topK int, m *metrics.Metrics, logger *slog.Logger) *Service {
	if topK <= 0 {
		topK = vectorstore.DefaultTopK
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{retriever: r, defaultTopK: topK, metrics: m, logger: logger}
}

// Search 返回按距离升序排列的卡片。
func (s *Service) Search(ctx context.Context, q Query) (results []Result, err error) {
	start := time.Now()
	defer func() {
		outcome := metrics.OutcomeOK
		switch {
		case err != nil:
			outcome = metrics.OutcomeError
		case len(results) == 0:
			outcome = metrics.OutcomeEmpty
		}
		s.metrics.ObserveRetrieval(outcome, time.Since(start))
	}()

	text := strings.TrimSpace(q.Text)
	if text == "" {
		return nil, ErrEmptyQuery
	}

	topK := q.TopK
	if topK <= 0 {
		topK = s.defaultTopK
	}

	// 只按调用方明确给出的人群过滤，不从查询文本推断。
	label := audience.ParseLabel(q.Target)

	fetch := topK
	if label != audience.Any {
		fetch = topK * targetOverfetch
	}

	docs, err := s.retriever.Retrieve(ctx, text, retriever.WithTopK(fetch))
	if err != nil {
		return nil, fmt.Errorf("retrieve cards: %w", err)
	}

	results = make([]Result, 0, min(topK, len(docs)))
	for _, doc := range docs {
		c := DocumentCard(doc)
		if !audience.Matches(c.Target, label) {
			continue
		}
		results = append(results, Result{Card: c, Score: doc.Score(), Content: doc.Content})
		if len(results) == topK {
			break
		}
	}

	s.logger.Debug("retrieval: search completed",
		slog.String("target", string(label)),
		slog.Int("candidates", len(docs)),
		slog.Int("results", len(results)),
	)
	return results, nil
}
