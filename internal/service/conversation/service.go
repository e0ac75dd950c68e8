// Package conversation 执行一次完整的对话轮次：保存用户消息、运行助手、转发事件并保存回答。
package conversation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/cardfinder/backend/internal/metrics"
	"github.com/zhouzirui/cardfinder/backend/internal/model/chat"
	"github.com/zhouzirui/cardfinder/backend/internal/service/ai"
	chatservice "github.com/zhouzirui/cardfinder/backend/internal/service/chat"
)

// EventType 是推送给客户端的事件类型。
type EventType string

const (
	EventStart     EventType = "start"
	EventToolStart EventType = "tool_start"
	EventToolEnd   EventType = "tool_end"
	EventDelta     EventType = "delta"
	EventMessage   EventType = "message"
	EventEnd       EventType = "end"
	EventError     EventType = "error"
)

// ErrEmptyResponse 表示助手没有生成任何正文。
var ErrEmptyResponse = errors.New("assistant returned an empty response")

// Event 是一次对话轮次中的增量事件。
type Event struct {
	Type      EventType `json:"event"`
	SessionID string    `json:"sessionId,omitempty"`
	Content   string    `json:"content,omitempty"`
	Tool      string    `json:"tool,omitempty"`
	Arguments string    `json:"arguments,omitempty"`
	Finished  bool      `json:"finished,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Sink 接收事件，由传输层（SSE、WebSocket、终端）实现。工具事件可能来自并发执行的工具，实现需自行加锁。
type Sink func(Event)

// Assistant 是对话轮次依赖的助手能力。
type Assistant interface {
	Generate(ctx context.Context, history []*schema.Message, observer ai.Observer) (*schema.Message, error)
	Stream(ctx context.Context, history []*schema.Message, observer ai.Observer) (*schema.StreamReader[*schema.Message], error)
	StreamingEnabled() bool
}

// Service 串行化同一会话内的轮次。
type Service struct {
	assistant Assistant
	sessions  *chatservice.Service
	metrics   *metrics.Metrics
	logger    *slog.Logger

	mu    sync.Mutex
	locks map[string]*sessionLock
}

// sessionLock 记录持有或等待者数量，归零时从 locks 中移除。
type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// NewService 构造对话服务。
func NewService(assistant Assistant, sessions *chatservice.Service, m *metrics.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		assistant: assistant,
		sessions:  sessions,
		metrics:   m,
		logger:    logger,
		locks:     make(map[string]*sessionLock),
	}
}

// lockSession 获取会话锁，返回的函数释放锁。
func (s *Service) lockSession(sessionID string) func() {
	s.mu.Lock()
	lock, ok := s.locks[sessionID]
	if !ok {
		lock = &sessionLock{}
		s.locks[sessionID] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()

		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, sessionID)
		}
		s.mu.Unlock()
	}
}

// Reply 处理一条用户输入并返回保存后的助手消息。同一会话的并发调用会排队等待。
func (s *Service) Reply(ctx context.Context, sessionID, text string, sink Sink) (msg chat.Message, err error) {
	if sink == nil {
		sink = func(Event) {}
	}
	defer func() {
		outcome := metrics.OutcomeOK
		if err != nil {
			outcome = metrics.OutcomeError
		}
		s.metrics.IncTurn(outcome)
	}()

	if _, err := s.sessions.GetSession(ctx, sessionID); err != nil {
		return chat.Message{}, err
	}

	unlock := s.lockSession(sessionID)
	defer unlock()

	if _, err := s.sessions.AppendMessage(ctx, chat.Message{SessionID: sessionID, Role: chat.RoleUser, Content: text}); err != nil {
		return chat.Message{}, err
	}

	history, err := s.sessions.History(ctx, sessionID)
	if err != nil {
		return chat.Message{}, err
	}

	sink(Event{Type: EventStart, SessionID: sessionID})

	observer := &sinkObserver{sessionID: sessionID, sink: sink, metrics: s.metrics}
	var response *schema.Message
	if s.assistant.StreamingEnabled() {
		response, err = s.stream(ctx, sessionID, history, observer, sink)
	} else {
		response, err = s.assistant.Generate(ctx, history, observer)
	}
	if err != nil {
		s.logger.Error("conversation: assistant failed", slog.String("session", sessionID), slog.String("error", err.Error()))
		return chat.Message{}, err
	}

	content := strings.TrimSpace(response.Content)
	if content == "" {
		return chat.Message{}, ErrEmptyResponse
	}
	sink(Event{Type: EventMessage, SessionID: sessionID, Content: response.Content})

	stored, err := s.sessions.AppendMessage(ctx, chat.Message{SessionID: sessionID, Role: chat.RoleAssistant, Content: response.Content})
	if err != nil {
		return chat.Message{}, fmt.Errorf("save assistant message: %w", err)
	}

	sink(Event{Type: EventEnd, SessionID: sessionID, Finished: true})
	s.logger.Info("conversation: turn completed", slog.String("session", sessionID), slog.Int("length", len(stored.Content)))
	return stored, nil
}

func (s *Service) stream(ctx context.Context, sessionID string, history []*schema.Message, observer ai.Observer, sink Sink) (*schema.Message, error) {
	stream, err := s.assistant.Stream(ctx, history, observer)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	chunks := make([]*schema.Message, 0, 8)
	for {
		chunk, recvErr := stream.Recv()
		if errors.Is(recvErr, io.EOF) {
			break
		}
		if recvErr != nil {
			return nil, recvErr
		}
		if chunk == nil {
			continue
		}

		chunks = append(chunks, chunk)
		if chunk.Content != "" {
			sink(Event{Type: EventDelta, SessionID: sessionID, Content: chunk.Content})
		}
	}

	if len(chunks) == 0 {
		return nil, ErrEmptyResponse
	}
	return schema.ConcatMessages(chunks)
}

// sinkObserver 把工具回调转换为事件。
type sinkObserver struct {
	sessionID string
	sink      Sink
	metrics   *metrics.Metrics
}

func (o *sinkObserver) OnToolStart(_ context.Context, name, arguments string) {
	o.metrics.IncToolCall(name)
	o.sink(Event{Type: EventToolStart, SessionID: o.sessionID, Tool: name, Arguments: arguments})
}

func (o *sinkObserver) OnToolEnd(_ context.Context, name, result string) {
	o.sink(Event{Type: EventToolEnd, SessionID: o.sessionID, Tool: name, Content: result})
}
