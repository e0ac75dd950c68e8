package card

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/zhouzirui/cardfinder/backend/internal/analysis/audience"
	"github.com/zhouzirui/cardfinder/backend/internal/model/card"
	"github.com/zhouzirui/cardfinder/backend/internal/service/retrieval"
	"github.com/zhouzirui/cardfinder/backend/pkg/utils"
)

const maxSearchK = 50

// Handler 卡片目录与检索的HTTP处理器
type Handler struct {
	cards    card.Store
	searcher retrieval.Searcher
}

// New 创建卡片处理器，searcher 为 nil 时检索接口返回 503。
func New(cards card.Store, searcher retrieval.Searcher) *Handler {
	return &Handler{cards: cards, searcher: searcher}
}

// RegisterRoutes 注册卡片相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/categories", h.handleListCategories)
	r.Get("/cards", h.handleListCards)
	r.Post("/cards/search", h.handleSearch)
}

type categoryResponse struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Actions     []string `json:"actions"`
}

func (h *Handler) handleListCategories(w http.ResponseWriter, r *http.Request) {
	actions := h.cards.ActionsByCategory()
	categories := h.cards.Categories()

	out := make([]categoryResponse, len(categories))
	for i, c := range categories {
		list := actions[c.Name]
		if list == nil {
			list = []string{}
		}
		out[i] = categoryResponse{Name: c.Name, Description: c.Description, Actions: list}
	}
	utils.RespondJSON(w, http.StatusOK, out)
}

func (h *Handler) handleListCards(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	utils.RespondJSON(w, http.StatusOK, h.cards.Filter(query.Get("category"), query.Get("target")))
}

type searchRequest struct {
	Query  string `json:"query"`
	K      int    `json:"k"`
	Target string `json:"target"`
}

func (req searchRequest) Validate() error {
	return validation.ValidateStruct(&req,
		validation.Field(&req.Query, validation.Required),
		validation.Field(&req.K, validation.Min(0), validation.Max(maxSearchK)),
		validation.Field(&req.Target, validation.In("kids", "adults", "any")),
	)
}

type searchResponse struct {
	Query   string             `json:"query"`
	Results []retrieval.Result `json:"results"`
	// SuggestedTarget 是未指定 target 时从查询文本推测的人群，仅作提示，不参与过滤。
	SuggestedTarget string `json:"suggestedTarget,omitempty"`
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	if h.searcher == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "card search unavailable")
		return
	}

	var payload searchRequest
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	payload.Query = strings.TrimSpace(payload.Query)
	payload.Target = strings.ToLower(strings.TrimSpace(payload.Target))
	if err := payload.Validate(); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	results, err := h.searcher.Search(r.Context(), retrieval.Query{Text: payload.Query, TopK: payload.K, Target: payload.Target})
	if err != nil {
		if errors.Is(err, retrieval.ErrEmptyQuery) {
			utils.RespondError(w, http.StatusBadRequest, "query is required")
			return
		}
		utils.RespondError(w, http.StatusBadGateway, "card search failed")
		return
	}

	resp := searchResponse{Query: payload.Query, Results: results}
	if payload.Target == "" {
		if hint := audience.Detect(payload.Query); hint.Target != audience.Any {
			resp.SuggestedTarget = string(hint.Target)
		}
	}
	utils.RespondJSON(w, http.StatusOK, resp)
}
