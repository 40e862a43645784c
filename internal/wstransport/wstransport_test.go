package wstransport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func httpHandler(upgrader websocket.Upgrader, onConnect func(*websocket.Conn)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		onConnect(c)
		// keep the connection open briefly so the client can read the reply
		time.Sleep(200 * time.Millisecond)
	})
}

func TestRunDispatchesMessagesAndReportsOpen(t *testing.T) {
	t.Parallel()

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(httpHandler(upgrader, func(c *websocket.Conn) {
		c.WriteMessage(websocket.TextMessage, []byte(`{"hello":"world"}`))
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, err := New(Config{URL: wsURL})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	received := make(chan string, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go func() {
		conn.Run(ctx, func(msg []byte) {
			select {
			case received <- string(msg):
			default:
			}
		})
	}()

	select {
	case ev := <-conn.Events():
		if ev.State != StateOpen {
			t.Fatalf("expected StateOpen first, got %v", ev.State)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for OPEN event")
	}

	select {
	case msg := <-received:
		if msg != `{"hello":"world"}` {
			t.Errorf("unexpected message: %s", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for dispatched message")
	}

	conn.Close()
}

func TestRunFailsOnBadURL(t *testing.T) {
	t.Parallel()

	conn, err := New(Config{URL: "ws://127.0.0.1:1"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	runErr := conn.Run(ctx, func([]byte) {})
	if runErr == nil {
		t.Fatal("expected a dial error")
	}

	ev, ok := <-conn.Events()
	if !ok {
		t.Fatal("expected a FAIL event before the channel closed")
	}
	if ev.State != StateFail {
		t.Errorf("State = %v, want StateFail", ev.State)
	}
}
