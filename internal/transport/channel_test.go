package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/voiceguard/platform/internal/audio"
)

// wsServer runs handler for each incoming websocket connection.
func wsServer(t *testing.T, handler func(ctx context.Context, conn *websocket.Conn)) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()
		handler(r.Context(), conn)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestChannelOpenAndClose(t *testing.T) {
	url := wsServer(t, func(ctx context.Context, conn *websocket.Conn) {
		_, _, _ = conn.Read(ctx) // hold until client closes
	})

	ch := NewChannel(Events{})
	if err := ch.Open(context.Background(), url); err != nil {
		t.Fatalf("Open() = %v", err)
	}
	if !ch.IsOpen() {
		t.Error("IsOpen() = false after successful Open")
	}

	ch.Close()
	if ch.IsOpen() {
		t.Error("IsOpen() = true after Close")
	}

	// Idempotent.
	ch.Close()
}

func TestChannelCloseNeverOpened(t *testing.T) {
	ch := NewChannel(Events{})
	ch.Close()
	ch.Close()
}

func TestChannelOpenRejectsNonWebsocket(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no upgrade here", http.StatusBadRequest)
	}))
	defer srv.Close()

	ch := NewChannel(Events{})
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	if err := ch.Open(context.Background(), url); err == nil {
		t.Error("Open() should fail when the handshake is refused")
	}
}

func TestChannelOpenTimeout(t *testing.T) {
	// A handler that never completes the upgrade; the dial must give up
	// when the (shortened) deadline expires, not hang.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	ch := NewChannel(Events{})
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	start := time.Now()
	if err := ch.Open(ctx, url); err == nil {
		t.Fatal("Open() should fail on handshake timeout")
	}
	if time.Since(start) > time.Second {
		t.Error("Open() did not honor the deadline")
	}
	if ch.IsOpen() {
		t.Error("channel should not be open after timed-out handshake")
	}
}

func TestChannelSendWhenClosedIsNoop(t *testing.T) {
	ch := NewChannel(Events{})
	// Never opened: frame is silently discarded.
	ch.Send(audio.Frame{PCM: []int16{1, 2, 3}})

	ch.Close()
	ch.Send(audio.Frame{PCM: []int16{4, 5}})
}

func TestChannelSendsBinaryFrames(t *testing.T) {
	got := make(chan []byte, 1)
	url := wsServer(t, func(ctx context.Context, conn *websocket.Conn) {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		if typ == websocket.MessageBinary {
			got <- data
		}
	})

	ch := NewChannel(Events{})
	if err := ch.Open(context.Background(), url); err != nil {
		t.Fatal(err)
	}
	defer ch.Close()

	ch.Send(audio.Frame{PCM: []int16{0x0102}})

	select {
	case data := <-got:
		if len(data) != 2 || data[0] != 0x02 || data[1] != 0x01 {
			t.Errorf("server received %v, want little-endian [2 1]", data)
		}
	case <-time.After(time.Second):
		t.Fatal("server never received the frame")
	}
}

func TestChannelReceivesUpdates(t *testing.T) {
	url := wsServer(t, func(ctx context.Context, conn *websocket.Conn) {
		msgs := []string{
			`{"type":"analysis_update","transcript":"hello","is_final":false}`,
			`{"type":"analysis_update","transcript":"hello world","is_final":true,"risk_score":72}`,
			`{"type":"error","detail":"stt stage failed"}`,
			`not json at all`,
			`{"type":"mystery"}`,
		}
		for _, m := range msgs {
			if err := conn.Write(ctx, websocket.MessageText, []byte(m)); err != nil {
				return
			}
		}
		_, _, _ = conn.Read(ctx)
	})

	updates := make(chan Message, 10)
	errs := make(chan string, 10)
	raws := make(chan string, 10)

	ch := NewChannel(Events{
		OnUpdate: func(m Message) { updates <- m },
		OnError:  func(s string) { errs <- s },
		OnRaw:    func(s string) { raws <- s },
	})
	if err := ch.Open(context.Background(), url); err != nil {
		t.Fatal(err)
	}
	defer ch.Close()

	deadline := time.After(2 * time.Second)
	var gotUpdates []Message
	var gotErrs, gotRaws []string
	for len(gotUpdates) < 2 || len(gotErrs) < 1 || len(gotRaws) < 2 {
		select {
		case m := <-updates:
			gotUpdates = append(gotUpdates, m)
		case e := <-errs:
			gotErrs = append(gotErrs, e)
		case r := <-raws:
			gotRaws = append(gotRaws, r)
		case <-deadline:
			t.Fatalf("incomplete delivery: %d updates, %d errors, %d raws",
				len(gotUpdates), len(gotErrs), len(gotRaws))
		}
	}

	if score, ok := gotUpdates[1].Score(); !ok || score != 72 {
		t.Errorf("final update score = %d,%v, want 72,true", score, ok)
	}
	if gotErrs[0] != "stt stage failed" {
		t.Errorf("error = %q, want normalized detail field", gotErrs[0])
	}
	if gotRaws[0] != "not json at all" {
		t.Errorf("raw = %q, want verbatim payload", gotRaws[0])
	}
	if gotRaws[1] != `{"type":"mystery"}` {
		t.Errorf("unknown-type raw = %q", gotRaws[1])
	}
}

func TestChannelReportsUnexpectedClose(t *testing.T) {
	url := wsServer(t, func(ctx context.Context, conn *websocket.Conn) {
		// Handler returns immediately: server closes on us.
	})

	closed := make(chan error, 1)
	ch := NewChannel(Events{OnClosed: func(err error) { closed <- err }})
	if err := ch.Open(context.Background(), url); err != nil {
		t.Fatal(err)
	}

	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("OnClosed never fired")
	}
}
