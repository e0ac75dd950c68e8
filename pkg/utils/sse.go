package utils

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
)

// SetupSSEHeaders 设置Server-Sent Events响应头
func SetupSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// SSEWriter 串行写入 SSE 数据块，可被多个 goroutine 共享。
type SSEWriter struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewSSEWriter 设置响应头并返回写入器；ResponseWriter 不支持 Flush 时返回 false。
func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	SetupSSEHeaders(w)
	return &SSEWriter{w: w, flusher: flusher}, true
}

// Send 发送一个 data 数据块
func (s *SSEWriter) Send(payload interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	SendSSEChunk(s.w, s.flusher, payload)
}

// SendSSEChunk 发送Server-Sent Events数据块
func SendSSEChunk(w http.ResponseWriter, flusher http.Flusher, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("failed to marshal sse payload", slog.String("error", err.Error()))
		return
	}

	if _, err := w.Write([]byte("data: ")); err != nil {
		slog.Warn("failed to write sse prefix", slog.String("error", err.Error()))
		return
	}
	if _, err := w.Write(data); err != nil {
		slog.Warn("failed to write sse payload", slog.String("error", err.Error()))
		return
	}
	if _, err := w.Write([]byte("\n\n")); err != nil {
		slog.Warn("failed to write sse terminator", slog.String("error", err.Error()))
		return
	}
	flusher.Flush()
}
