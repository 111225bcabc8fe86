package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// drain collects every frame already queued on ch.
func drain(ch chan []byte, wait time.Duration) []string {
	time.Sleep(wait)
	var out []string
	for {
		select {
		case msg := <-ch:
			out = append(out, string(msg))
		default:
			return out
		}
	}
}

func TestClientCount(t *testing.T) {
	b := NewBroker()
	defer b.Close()
	ch := b.Subscribe()
	if n := b.ClientCount(); n != 1 {
		t.Fatalf("clients = %d, want 1", n)
	}
	b.Unsubscribe(ch)
	if n := b.ClientCount(); n != 0 {
		t.Fatalf("clients after unsubscribe = %d, want 0", n)
	}
}

func TestNotify_FrameCarriesIDTypeAndData(t *testing.T) {
	b := NewBroker()
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.Notify("notebook.moved", map[string]int64{"id": 7})
	b.Notify("tag.created", map[string]string{"name": "go"})

	frames := drain(ch, 50*time.Millisecond)
	if len(frames) != 2 {
		t.Fatalf("frames = %q", frames)
	}
	if want := "id: 1\nevent: notebook.moved\ndata: {\"id\":7}\n\n"; frames[0] != want {
		t.Errorf("frame = %q, want %q", frames[0], want)
	}
	if !strings.HasPrefix(frames[1], "id: 2\nevent: tag.created\n") {
		t.Errorf("second frame = %q", frames[1])
	}
}

func TestPublishDocumentEvent_ListThrottle(t *testing.T) {
	b := NewBroker(WithListThrottle(500 * time.Millisecond))
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.PublishDocumentEvent("created", "abc-123")
	b.PublishDocumentEvent("updated", "def-456")
	b.PublishDocumentEvent("chmod", "def-456")

	var docs, lists int
	for _, f := range drain(ch, 50*time.Millisecond) {
		switch {
		case strings.Contains(f, "event: "+EventNotesChanged):
			lists++
		case strings.Contains(f, "event: "+EventNoteDocument):
			docs++
		default:
			t.Errorf("unexpected frame %q", f)
		}
	}
	if docs != 2 {
		t.Errorf("document events = %d, want 2", docs)
	}
	if lists != 1 {
		t.Errorf("notes.changed = %d, want 1", lists)
	}
}

func TestSubscribeAfter_ReplaysRetainedFrames(t *testing.T) {
	b := NewBroker(WithHistory(2))
	defer b.Close()
	for _, name := range []string{"a", "b", "c"} {
		b.Notify("note."+name, nil)
	}
	// Let the loop process the publishes before subscribing.
	time.Sleep(50 * time.Millisecond)

	ch := b.SubscribeAfter(1)
	defer b.Unsubscribe(ch)
	frames := drain(ch, 50*time.Millisecond)
	if len(frames) != 2 || !strings.HasPrefix(frames[0], "id: 2\n") || !strings.HasPrefix(frames[1], "id: 3\n") {
		t.Fatalf("replay = %q, want ids 2 and 3", frames)
	}

	fresh := b.Subscribe()
	defer b.Unsubscribe(fresh)
	if frames := drain(fresh, 50*time.Millisecond); len(frames) != 0 {
		t.Errorf("plain subscribe replayed %q", frames)
	}
}

func TestSubscribeAfter_HistoryDisabled(t *testing.T) {
	b := NewBroker(WithHistory(0))
	defer b.Close()
	b.Notify("note.a", nil)
	time.Sleep(50 * time.Millisecond)

	ch := b.SubscribeAfter(0)
	defer b.Unsubscribe(ch)
	if frames := drain(ch, 50*time.Millisecond); len(frames) != 0 {
		t.Errorf("replay with history disabled = %q", frames)
	}
}

func serve(t *testing.T, b *Broker, header http.Header, during func()) string {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/events", nil).WithContext(ctx)
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()
	time.Sleep(50 * time.Millisecond)
	during()
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}
	return w.Body.String()
}

func TestServeHTTP_StreamsAndCleansUp(t *testing.T) {
	b := NewBroker(WithKeepAlive(0))
	defer b.Close()

	body := serve(t, b, nil, func() {
		if n := b.ClientCount(); n != 1 {
			t.Errorf("clients while streaming = %d", n)
		}
		b.Publish(Event{Type: "note.updated", Data: map[string]int64{"id": 3}})
	})
	if !strings.Contains(body, "event: note.updated") {
		t.Errorf("body = %q", body)
	}
	time.Sleep(50 * time.Millisecond)
	if n := b.ClientCount(); n != 0 {
		t.Errorf("clients after disconnect = %d", n)
	}
}

func TestServeHTTP_LastEventIDResumes(t *testing.T) {
	b := NewBroker(WithKeepAlive(0))
	defer b.Close()
	b.Notify("note.created", map[string]int64{"id": 1})
	b.Notify("note.updated", map[string]int64{"id": 1})
	time.Sleep(50 * time.Millisecond)

	body := serve(t, b, http.Header{"Last-Event-Id": {"1"}}, func() {})
	if strings.Contains(body, "event: note.created") || !strings.Contains(body, "id: 2\nevent: note.updated") {
		t.Errorf("resumed body = %q", body)
	}
}

func TestServeHTTP_KeepAlive(t *testing.T) {
	b := NewBroker(WithKeepAlive(20 * time.Millisecond))
	defer b.Close()
	body := serve(t, b, nil, func() { time.Sleep(30 * time.Millisecond) })
	if !strings.Contains(body, ": keepalive\n\n") {
		t.Errorf("no keepalive comment in %q", body)
	}
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	b := NewBroker()
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)
	for i := 0; i < 70; i++ {
		b.Publish(Event{Type: "test", Data: i})
	}
	if frames := drain(ch, 50*time.Millisecond); len(frames) != 64 {
		t.Errorf("delivered %d frames, want the 64 that fit", len(frames))
	}
}

func TestClose(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe()
	b.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("subscriber channel still open")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}
	if n := b.ClientCount(); n != 0 {
		t.Fatalf("clients after close = %d", n)
	}

	b.Close()
	b.Publish(Event{Type: "note.updated"})
	b.PublishDocumentEvent("updated", "abc-123")
	if _, ok := <-b.Subscribe(); ok {
		t.Error("subscribe after close returned an open channel")
	}
}
