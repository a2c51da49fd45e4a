package trade

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func clientCount(h *WSHub) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestWSHub_BroadcastSurvivesDyingClients(t *testing.T) {
	hub := NewWSHub()
	go hub.Run()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	const clients = 20
	conns := make([]*websocket.Conn, 0, clients)
	for i := 0; i < clients; i++ {
		c, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		if err != nil {
			t.Fatalf("dial %d: %v", i, err)
		}
		conns = append(conns, c)
	}
	defer func() {
		for _, c := range conns {
			c.Close()
		}
	}()
	waitFor(t, "all clients registered", func() bool { return clientCount(hub) == clients })

	// Concurrent readers stand in for the per-connection ping goroutines
	// while half the clients disconnect under a broadcast flood.
	stop := make(chan struct{})
	var readers sync.WaitGroup
	for i := 0; i < 4; i++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for {
				select {
				case <-stop:
					return
				default:
					clientCount(hub)
				}
			}
		}()
	}

	var closers sync.WaitGroup
	for i := 0; i < clients; i += 2 {
		closers.Add(1)
		go func(c *websocket.Conn) {
			defer closers.Done()
			c.Close()
		}(conns[i])
	}
	for i := 0; i < 100; i++ {
		hub.Broadcast(WSMessage{Type: "trade_executed", MarketID: "m1"})
		time.Sleep(time.Millisecond)
	}
	closers.Wait()

	// The dead connections are pruned without killing the hub.
	waitFor(t, "dead clients pruned", func() bool { return clientCount(hub) <= clients/2 })

	close(stop)
	readers.Wait()

	// The hub still serves the surviving clients.
	hub.Broadcast(WSMessage{Type: "trade_executed", MarketID: "m1"})
	conns[1].SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conns[1].ReadMessage(); err != nil {
		t.Fatalf("surviving client lost the broadcast: %v", err)
	}
}
