package utils

import (
	"net/http/httptest"
	"testing"
)

func TestSSEWriterSendsDataChunks(t *testing.T) {
	rec := httptest.NewRecorder()
	writer, ok := NewSSEWriter(rec)
	if !ok {
		t.Fatal("expected recorder to support flushing")
	}

	writer.Send(map[string]string{"event": "delta", "content": "hi"})

	if got := rec.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("unexpected content type: %s", got)
	}
	want := "data: {\"content\":\"hi\",\"event\":\"delta\"}\n\n"
	if rec.Body.String() != want {
		t.Fatalf("unexpected body: %q", rec.Body.String())
	}
	if !rec.Flushed {
		t.Fatal("expected response to be flushed")
	}
}
