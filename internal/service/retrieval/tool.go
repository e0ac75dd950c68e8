package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
)

const (
	// ToolName 是暴露给模型的检索工具名。
	ToolName = "retrieve_similar_documents"
	// ToolDescription 是检索工具的说明。
	ToolDescription = "Retrieve documents from the card index that are similar to the query."
	// ToolTopK 是工具每次返回的文档数。
	ToolTopK = 10
)

// ToolArguments 是检索工具的参数。
type ToolArguments struct {
	Query  string `json:"query"`
	Target string `json:"target,omitempty"`
}

// ToolDocument 是工具输出中的单个文档。
type ToolDocument struct {
	PageContent string         `json:"page_content"`
	Metadata    map[string]any `json:"metadata"`
	Score       float64        `json:"score"`
}

// Tool 把检索服务包装为 eino 可调用工具。
type Tool struct {
	searcher Searcher
}

var _ tool.InvokableTool = (*Tool)(nil)

// NewTool 构造检索工具。
func NewTool(searcher Searcher) *Tool {
	return &Tool{searcher: searcher}
}

// Info 返回工具描述与参数 schema。
func (t *Tool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: ToolName,
		Desc: ToolDescription,
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"query": {
				Type:     schema.String,
				Desc:     "Search text built from the user's request and the known category keywords.",
				Required: true,
			},
			"target": {
				Type: schema.String,
				Desc: "Target group of the cards, when the user specified one.",
				Enum: []string{"kids", "adults"},
			},
		}),
	}, nil
}

// ToolError 是工具失败时返回给模型的内容，模型可据此修正参数后重试。
type ToolError struct {
	Error string `json:"error"`
}

// InvokableRun 解析参数、执行检索，并以 JSON 数组返回文档。
// 参数错误与检索失败以 ToolError 作为工具结果返回，只有上下文取消才返回 error。
func (t *Tool) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	var args ToolArguments
	if err := json.Unmarshal([]byte(argumentsInJSON), &args); err != nil {
		return EncodeToolError(fmt.Sprintf("invalid arguments: %v", err))
	}
	if strings.TrimSpace(args.Query) == "" {
		return EncodeToolError("query is required")
	}
	switch args.Target {
	case "", "kids", "adults":
	default:
		return EncodeToolError(fmt.Sprintf("unsupported target %q, use kids or adults", args.Target))
	}

	results, err := t.searcher.Search(ctx, Query{Text: args.Query, TopK: ToolTopK, Target: args.Target})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return EncodeToolError(fmt.Sprintf("search failed: %v", err))
	}
	return EncodeResults(results)
}

// EncodeToolError 编码一条工具错误结果。
func EncodeToolError(message string) (string, error) {
	data, err := json.Marshal(ToolError{Error: message})
	if err != nil {
		return "", fmt.Errorf("%s: encode error: %w", ToolName, err)
	}
	return string(data), nil
}

// EncodeResults 将检索结果编码为工具输出格式。
func EncodeResults(results []Result) (string, error) {
	docs := make([]ToolDocument, len(results))
	for i, r := range results {
		doc := CardDocument(r.Card)
		content := r.Content
		if content == "" {
			content = doc.Content
		}
		docs[i] = ToolDocument{PageContent: content, Metadata: doc.MetaData, Score: r.Score}
	}

	data, err := json.Marshal(docs)
	if err != nil {
		return "", fmt.Errorf("%s: encode results: %w", ToolName, err)
	}
	return string(data), nil
}
