// Package app 负责按配置组装各项服务，供 HTTP 服务与命令行工具共用。
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/go-redis/redis/v8"

	"github.com/zhouzirui/cardfinder/backend/internal/config"
	"github.com/zhouzirui/cardfinder/backend/internal/handler"
	"github.com/zhouzirui/cardfinder/backend/internal/metrics"
	"github.com/zhouzirui/cardfinder/backend/internal/model/card"
	"github.com/zhouzirui/cardfinder/backend/internal/service/ai"
	"github.com/zhouzirui/cardfinder/backend/internal/service/chat"
	"github.com/zhouzirui/cardfinder/backend/internal/service/conversation"
	embeddingcache "github.com/zhouzirui/cardfinder/backend/internal/service/embedding"
	"github.com/zhouzirui/cardfinder/backend/internal/service/retrieval"
	"github.com/zhouzirui/cardfinder/backend/internal/vectorstore"
)

var (
	// ErrIndexUnavailable 表示未配置向量化模型，无法打开索引。
	ErrIndexUnavailable = errors.New("card index unavailable: embedding model is not configured")
	// ErrIndexEmpty 表示索引尚未构建。
	ErrIndexEmpty = errors.New("card index is empty")
)

// Option 用于替换默认的模型组件，主要供测试使用。
type Option func(*options)

type options struct {
	embedder  embedding.Embedder
	chatModel model.ToolCallingChatModel
	catalog   *card.Catalog
}

// WithEmbedder 使用给定的向量化器，而不是按配置创建。
func WithEmbedder(e embedding.Embedder) Option {
	return func(o *options) { o.embedder = e }
}

// WithChatModel 使用给定的对话模型，而不是按配置创建。
func WithChatModel(m model.ToolCallingChatModel) Option {
	return func(o *options) { o.chatModel = m }
}

// WithCatalog 使用给定的卡片目录，而不是读取配置中的文件。
func WithCatalog(c *card.Catalog) Option {
	return func(o *options) { o.catalog = c }
}

// App 持有组装好的服务。Index、Searcher、Assistant 与 Conversation 在缺少模型配置时为 nil。
type App struct {
	Config  *config.Config
	Logger  *slog.Logger
	Catalog *card.Catalog
	Cards   *card.MemoryStore
	Metrics *metrics.Metrics

	Index        vectorstore.Store
	Searcher     *retrieval.Service
	Assistant    *ai.Service
	Chat         *chat.Service
	Conversation *conversation.Service

	redis *redis.Client
}

// New 按配置组装服务。模型未配置时相应功能降级，而不是返回错误。
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	catalog := o.catalog
	if catalog == nil {
		var err error
		catalog, err = loadCatalog(cfg.Catalog, logger)
		if err != nil {
			return nil, err
		}
	}

	a := &App{
		Config:  cfg,
		Logger:  logger,
		Catalog: catalog,
		Cards:   card.NewMemoryStore(catalog),
	}
	if cfg.Metrics.Enabled {
		a.Metrics = metrics.New()
	}

	embedder, err := a.newEmbedder(ctx, o.embedder)
	if err != nil {
		a.Close()
		return nil, err
	}

	if embedder != nil {
		index, err := vectorstore.Open(ctx, cfg.Index, embedder)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to open card index: %w", err)
		}
		a.Index = index
		a.Searcher = retrieval.NewService(index, cfg.Retrieval.TopK, a.Metrics, logger)
		logger.Info("card index opened", slog.String("backend", cfg.Index.Backend))
	} else {
		logger.Warn("embedding model not configured, card search disabled")
	}

	a.Chat = chat.NewService(ai.BuildSystemPrompt(a.Cards), ai.Greeting)

	chatModel := o.chatModel
	if chatModel == nil && cfg.AI.Enabled() {
		chatModel, err = cfg.AI.NewChatModel(ctx)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to create chat model: %w", err)
		}
	}

	switch {
	case chatModel == nil:
		logger.Warn("chat model not configured, assistant disabled", slog.String("provider", cfg.AI.Provider))
	case a.Searcher == nil:
		logger.Warn("assistant disabled because card search is unavailable")
	default:
		a.Assistant, err = ai.NewService(ctx, chatModel, []tool.BaseTool{retrieval.NewTool(a.Searcher)}, cfg.AI)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Conversation = conversation.NewService(a.Assistant, a.Chat, a.Metrics, logger)
		logger.Info("assistant initialized", slog.String("provider", cfg.AI.Provider), slog.Bool("stream", cfg.AI.StreamResponse))
	}

	return a, nil
}

func loadCatalog(cfg config.CatalogConfig, logger *slog.Logger) (*card.Catalog, error) {
	if cfg.Path == "" {
		logger.Info("using built-in card catalog")
		return card.Seed(), nil
	}
	catalog, err := card.LoadCatalog(cfg.Path)
	if err != nil {
		return nil, err
	}
	logger.Info("card catalog loaded", slog.String("path", cfg.Path), slog.Int("cards", len(catalog.Cards)))
	return catalog, nil
}

func (a *App) newEmbedder(ctx context.Context, override embedding.Embedder) (embedding.Embedder, error) {
	embedder := override
	if embedder == nil {
		if !a.Config.AI.EmbeddingEnabled() {
			return nil, nil
		}
		var err error
		embedder, err = a.Config.AI.NewEmbedder(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create embedder: %w", err)
		}
	}

	if !a.Config.Cache.Enabled() {
		return embedder, nil
	}

	a.redis = redis.NewClient(&redis.Options{
		Addr:     a.Config.Cache.RedisAddr,
		Password: a.Config.Cache.RedisPassword,
		DB:       a.Config.Cache.RedisDB,
	})
	if err := a.redis.Ping(ctx).Err(); err != nil {
		// 缓存不可用时直接使用底层向量化器。
		a.Logger.Warn("embedding cache unreachable, continuing without cache", slog.String("error", err.Error()))
		a.redis.Close()
		a.redis = nil
		return embedder, nil
	}

	a.Logger.Info("embedding cache enabled", slog.String("addr", a.Config.Cache.RedisAddr))
	cache := embeddingcache.NewRedisCache(a.redis, a.Config.Cache.TTL)
	return embeddingcache.NewCachedEmbedder(embedder, cache, a.Config.AI.EmbeddingModelName(), a.Logger), nil
}

// Reindex 清空并重建卡片索引。
func (a *App) Reindex(ctx context.Context) (int, error) {
	if a.Index == nil {
		return 0, ErrIndexUnavailable
	}
	return retrieval.BuildIndex(ctx, a.Index, a.Cards.List(), a.Logger)
}

// EnsureIndex 在索引为空时构建索引，已有数据时保持不变。
func (a *App) EnsureIndex(ctx context.Context) error {
	if a.Index == nil {
		return nil
	}
	count, err := a.Index.Count(ctx)
	if err != nil {
		return fmt.Errorf("failed to count indexed cards: %w", err)
	}
	if count > 0 {
		a.Logger.Info("card index ready", slog.Int("documents", count))
		return nil
	}

	a.Logger.Info("card index empty, building")
	n, err := a.Reindex(ctx)
	if err != nil {
		return err
	}
	a.Logger.Info("card index built", slog.Int("documents", n))
	return nil
}

// Ready 报告索引是否可用于检索。
func (a *App) Ready(ctx context.Context) error {
	if a.Index == nil {
		return ErrIndexUnavailable
	}
	count, err := a.Index.Count(ctx)
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrIndexEmpty
	}
	return nil
}

// Handler 返回挂载了全部路由的 HTTP 处理器。
func (a *App) Handler() http.Handler {
	deps := handler.Dependencies{
		Cards:        a.Cards,
		Chat:         a.Chat,
		Conversation: a.Conversation,
		Metrics:      a.Metrics,
		Ready:        a.Ready,
		Logger:       a.Logger,
	}
	if a.Searcher != nil {
		deps.Searcher = a.Searcher
	}
	return handler.NewRouter(deps)
}

// Close 释放索引与缓存连接。
func (a *App) Close() error {
	var errs []error
	if a.Index != nil {
		errs = append(errs, a.Index.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	return errors.Join(errs...)
}
