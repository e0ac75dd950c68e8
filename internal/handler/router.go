package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/cardfinder/backend/internal/handler/card"
	"github.com/zhouzirui/cardfinder/backend/internal/handler/chat"
	"github.com/zhouzirui/cardfinder/backend/internal/handler/stream"
	"github.com/zhouzirui/cardfinder/backend/internal/handler/ws"
	"github.com/zhouzirui/cardfinder/backend/internal/metrics"
	middlewarePkg "github.com/zhouzirui/cardfinder/backend/internal/middleware"
	cardModel "github.com/zhouzirui/cardfinder/backend/internal/model/card"
	chatService "github.com/zhouzirui/cardfinder/backend/internal/service/chat"
	"github.com/zhouzirui/cardfinder/backend/internal/service/conversation"
	"github.com/zhouzirui/cardfinder/backend/internal/service/retrieval"
	"github.com/zhouzirui/cardfinder/backend/pkg/utils"
)

// Dependencies 路由所需的服务集合，Searcher 与 Conversation 可为 nil。
type Dependencies struct {
	Cards        cardModel.Store
	Searcher     retrieval.Searcher
	Chat         *chatService.Service
	Conversation *conversation.Service
	Metrics      *metrics.Metrics
	Ready        func(ctx context.Context) error
	Logger       *slog.Logger
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Dependencies) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Ready != nil {
			if err := deps.Ready(r.Context()); err != nil {
				utils.RespondError(w, http.StatusServiceUnavailable, err.Error())
				return
			}
		}
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})

	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics.Handler())
	}

	r.Route("/api", func(api chi.Router) {
		card.New(deps.Cards, deps.Searcher).RegisterRoutes(api)
		chat.New(deps.Chat).RegisterRoutes(api)

		// 未配置对话模型时，流式与 WebSocket 接口返回 503。
		stream.New(deps.Conversation, deps.Chat, logger).RegisterRoutes(api)
		ws.New(deps.Conversation, deps.Chat, logger).RegisterRoutes(api)
	})

	return r
}
