// Package ai 编排聊天模型与检索工具：模型节点决定调用工具还是直接回答，工具结果回流给模型。
package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/cardfinder/backend/internal/config"
	"github.com/zhouzirui/cardfinder/backend/internal/service/retrieval"
)

const (
	nodeModel = "modelNode"
	nodeTools = "tools"
	graphName = "CardAssistant"

	minMaxSteps = 3
)

// ErrStreamingDisabled 表示配置关闭了流式输出。
var ErrStreamingDisabled = errors.New("ai: streaming disabled in configuration")

// Observer 接收工具调用的开始与结束通知。
type Observer interface {
	OnToolStart(ctx context.Context, name, arguments string)
	OnToolEnd(ctx context.Context, name, result string)
}

// graphState 保存本次运行中累积的消息列表。
type graphState struct {
	Messages []*schema.Message
}

// Service 封装编译好的对话图。
type Service struct {
	cfg      config.AIConfig
	runnable compose.Runnable[[]*schema.Message, *schema.Message]
}

// NewService 将工具绑定到模型并编译对话图：
// START -> modelNode -> (tools -> modelNode)* -> END。
func NewService(ctx context.Context, chatModel model.ToolCallingChatModel, tools []tool.BaseTool, cfg config.AIConfig) (*Service, error) {
	if chatModel == nil {
		return nil, fmt.Errorf("ai: chat model is required")
	}

	toolInfos := make([]*schema.ToolInfo, 0, len(tools))
	for _, t := range tools {
		info, err := t.Info(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read tool info: %w", err)
		}
		toolInfos = append(toolInfos, info)
	}

	boundModel, err := chatModel.WithTools(toolInfos)
	if err != nil {
		return nil, fmt.Errorf("failed to bind tools: %w", err)
	}

	// 工具按顺序执行；模型虚构的工具名作为错误结果交还给模型。
	toolsNode, err := compose.NewToolNode(ctx, &compose.ToolsNodeConfig{
		Tools:               tools,
		ExecuteSequentially: true,
		UnknownToolsHandler: unknownToolResult,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create tools node: %w", err)
	}

	graph := compose.NewGraph[[]*schema.Message, *schema.Message](
		compose.WithGenLocalState(func(ctx context.Context) *graphState {
			return &graphState{}
		}),
	)

	modelPreHandle := func(ctx context.Context, input []*schema.Message, state *graphState) ([]*schema.Message, error) {
		state.Messages = append(state.Messages, input...)
		return state.Messages, nil
	}
	if err := graph.AddChatModelNode(nodeModel, boundModel, compose.WithStatePreHandler(modelPreHandle), compose.WithNodeName(nodeModel)); err != nil {
		return nil, fmt.Errorf("failed to add model node: %w", err)
	}

	toolsPreHandle := func(ctx context.Context, input *schema.Message, state *graphState) (*schema.Message, error) {
		if input == nil {
			return state.Messages[len(state.Messages)-1], nil
		}
		state.Messages = append(state.Messages, input)
		return input, nil
	}
	if err := graph.AddToolsNode(nodeTools, toolsNode, compose.WithStatePreHandler(toolsPreHandle), compose.WithNodeName(nodeTools)); err != nil {
		return nil, fmt.Errorf("failed to add tools node: %w", err)
	}

	if err := graph.AddEdge(compose.START, nodeModel); err != nil {
		return nil, err
	}
	branch := compose.NewStreamGraphBranch(routeAfterModel, map[string]bool{nodeTools: true, compose.END: true})
	if err := graph.AddBranch(nodeModel, branch); err != nil {
		return nil, err
	}
	if err := graph.AddEdge(nodeTools, nodeModel); err != nil {
		return nil, err
	}

	maxSteps := cfg.MaxSteps
	if maxSteps < minMaxSteps {
		maxSteps = minMaxSteps
	}

	runnable, err := graph.Compile(ctx,
		compose.WithMaxRunSteps(maxSteps),
		compose.WithNodeTriggerMode(compose.AnyPredecessor),
		compose.WithGraphName(graphName),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to compile assistant graph: %w", err)
	}

	return &Service{cfg: cfg, runnable: runnable}, nil
}

// routeAfterModel 读完整条模型输出，任一分片带有工具调用即进入工具节点。
// 模型可能先输出一段正文再给出工具调用，因此不能只看首个分片。
func routeAfterModel(_ context.Context, sr *schema.StreamReader[*schema.Message]) (string, error) {
	defer sr.Close()

	next := compose.END
	for {
		msg, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			return next, nil
		}
		if err != nil {
			return "", err
		}
		if len(msg.ToolCalls) > 0 {
			next = nodeTools
		}
	}
}

// unknownToolResult 告知模型所调用的工具不存在。
func unknownToolResult(_ context.Context, name, _ string) (string, error) {
	return retrieval.EncodeToolError(fmt.Sprintf("unknown tool %q, available tool: %s", name, retrieval.ToolName))
}

// StreamingEnabled 指示是否开启流式输出。
func (s *Service) StreamingEnabled() bool {
	return s.cfg.StreamResponse
}

// Generate 在完整对话历史上运行对话图并返回最终的助手消息。
func (s *Service) Generate(ctx context.Context, history []*schema.Message, observer Observer) (*schema.Message, error) {
	msg, err := s.runnable.Invoke(ctx, history, runOptions(observer)...)
	if err != nil {
		return nil, fmt.Errorf("failed to run assistant graph: %w", err)
	}

	slog.Debug("ai: generated response", slog.Int("history", len(history)), slog.Int("length", len(msg.Content)))
	return msg, nil
}

// Stream 以流式方式运行对话图，返回最终回答的消息流。
func (s *Service) Stream(ctx context.Context, history []*schema.Message, observer Observer) (*schema.StreamReader[*schema.Message], error) {
	if !s.StreamingEnabled() {
		return nil, ErrStreamingDisabled
	}

	stream, err := s.runnable.Stream(ctx, history, runOptions(observer)...)
	if err != nil {
		return nil, fmt.Errorf("failed to stream assistant graph: %w", err)
	}
	return stream, nil
}

func runOptions(observer Observer) []compose.Option {
	if observer == nil {
		return nil
	}
	return []compose.Option{compose.WithCallbacks(toolCallbackHandler(observer))}
}

// toolCallbackHandler 把工具组件的回调转换为 Observer 通知。
func toolCallbackHandler(observer Observer) callbacks.Handler {
	return callbacks.NewHandlerBuilder().
		OnStartFn(func(ctx context.Context, info *callbacks.RunInfo, input callbacks.CallbackInput) context.Context {
			if info == nil || info.Component != components.ComponentOfTool {
				return ctx
			}
			arguments := ""
			if in := tool.ConvCallbackInput(input); in != nil {
				arguments = in.ArgumentsInJSON
			}
			observer.OnToolStart(ctx, info.Name, arguments)
			return ctx
		}).
		OnEndFn(func(ctx context.Context, info *callbacks.RunInfo, output callbacks.CallbackOutput) context.Context {
			if info == nil || info.Component != components.ComponentOfTool {
				return ctx
			}
			result := ""
			if out := tool.ConvCallbackOutput(output); out != nil {
				result = out.Response
			}
			observer.OnToolEnd(ctx, info.Name, result)
			return ctx
		}).
		OnEndWithStreamOutputFn(func(ctx context.Context, info *callbacks.RunInfo, output *schema.StreamReader[callbacks.CallbackOutput]) context.Context {
			if info == nil || info.Component != components.ComponentOfTool {
				output.Close()
				return ctx
			}
			defer output.Close()
			var sb strings.Builder
			for {
				chunk, err := output.Recv()
				if err != nil {
					break
				}
				if out := tool.ConvCallbackOutput(chunk); out != nil {
					sb.WriteString(out.Response)
				}
			}
			observer.OnToolEnd(ctx, info.Name, sb.String())
			return ctx
		}).
		Build()
}
