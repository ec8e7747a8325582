package sse

import (
	"net/http/httptest"
	"testing"
)

func TestSendFramesEvents(t *testing.T) {
	rec := httptest.NewRecorder()
	w := Start(rec)

	if err := w.Send("status", map[string]string{"step": "cache"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := w.Comment("ping"); err != nil {
		t.Fatalf("comment: %v", err)
	}
	if err := w.Send("done", map[string]bool{"ok": true}); err != nil {
		t.Fatalf("send: %v", err)
	}

	want := "event: status\ndata: {\"step\":\"cache\"}\n\n: ping\n\nevent: done\ndata: {\"ok\":true}\n\n"
	if got := rec.Body.String(); got != want {
		t.Fatalf("body = %q, want %q", got, want)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content-type = %q", ct)
	}
	if !rec.Flushed {
		t.Fatal("writer should flush")
	}
}

func TestSendRejectsUnencodable(t *testing.T) {
	w := Start(httptest.NewRecorder())
	if err := w.Send("text", make(chan int)); err == nil {
		t.Fatal("expected encode error")
	}
}
