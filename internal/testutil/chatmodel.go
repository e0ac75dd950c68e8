package testutil

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// ErrScriptExhausted 表示脚本中的回复已用完。
var ErrScriptExhausted = errors.New("testutil: scripted chat model has no more responses")

// ScriptedChatModel 按顺序返回预设回复，并记录每次调用的输入。
type ScriptedChatModel struct {
	mu        sync.Mutex
	responses []*schema.Message
	inputs    [][]*schema.Message
	tools     []*schema.ToolInfo
}

var _ model.ToolCallingChatModel = (*ScriptedChatModel)(nil)

// NewScriptedChatModel 使用给定回复构造假模型。
func NewScriptedChatModel(responses ...*schema.Message) *ScriptedChatModel {
	return &ScriptedChatModel{responses: responses}
}

// ToolCallMessage 构造一条调用单个工具的助手消息。
func ToolCallMessage(id, name, arguments string) *schema.Message {
	return schema.AssistantMessage("", []schema.ToolCall{{
		ID:       id,
		Type:     "function",
		Function: schema.FunctionCall{Name: name, Arguments: arguments},
	}})
}

func (m *ScriptedChatModel) next(input []*schema.Message) (*schema.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.inputs = append(m.inputs, append([]*schema.Message(nil), input...))
	if len(m.responses) == 0 {
		return nil, ErrScriptExhausted
	}
	msg := m.responses[0]
	m.responses = m.responses[1:]
	return msg, nil
}

// Generate 实现 model.BaseChatModel。
func (m *ScriptedChatModel) Generate(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.next(input)
}

// Stream 按空格切分正文返回多个分片；带工具调用的消息把工具调用放在正文之后的最后一个分片。
func (m *ScriptedChatModel) Stream(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	msg, err := m.next(input)
	if err != nil {
		return nil, err
	}
	if msg.Content == "" {
		return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
	}

	words := strings.SplitAfter(msg.Content, " ")
	chunks := make([]*schema.Message, 0, len(words)+1)
	for _, w := range words {
		if w == "" {
			continue
		}
		chunks = append(chunks, &schema.Message{Role: schema.Assistant, Content: w})
	}
	if len(msg.ToolCalls) > 0 {
		chunks = append(chunks, &schema.Message{Role: schema.Assistant, ToolCalls: msg.ToolCalls})
	}
	return schema.StreamReaderFromArray(chunks), nil
}

// TextThenToolCallMessage 构造一条先输出正文、再调用工具的助手消息。
func TextThenToolCallMessage(text, id, name, arguments string) *schema.Message {
	msg := ToolCallMessage(id, name, arguments)
	msg.Content = text
	return msg
}

// WithTools 记录绑定的工具并返回自身。
func (m *ScriptedChatModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tools = append([]*schema.ToolInfo(nil), tools...)
	return m, nil
}

// Inputs 返回每次调用收到的消息列表。
func (m *ScriptedChatModel) Inputs() [][]*schema.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]*schema.Message, len(m.inputs))
	copy(out, m.inputs)
	return out
}

// BoundTools 返回 WithTools 绑定的工具。
func (m *ScriptedChatModel) BoundTools() []*schema.ToolInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*schema.ToolInfo(nil), m.tools...)
}
