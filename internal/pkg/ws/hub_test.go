package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/studio_go_server/internal/pkg/pubsub"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// startServer 启动一个把连接注册到 hub 的测试服务
func startServer(t *testing.T, hub *Hub, userID int64) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		client := &Client{UserID: userID, Conn: conn}
		hub.Register(client)
		go func() {
			defer hub.Unregister(client)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	}))
}

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func TestNewHub(t *testing.T) {
	hub := NewHub()

	assert.NotNil(t, hub)
	assert.Equal(t, 0, hub.ConnectionCount())
}

func TestHub_Broadcast(t *testing.T) {
	hub := NewHub()
	server := startServer(t, hub, 0)
	defer server.Close()

	conn1 := dial(t, server)
	defer conn1.Close()
	conn2 := dial(t, server)
	defer conn2.Close()

	require.Eventually(t, func() bool { return hub.ConnectionCount() == 2 }, time.Second, 10*time.Millisecond)

	err := hub.Broadcast(&Message{Type: "class_availability", Data: map[string]int{"class_id": 1}})
	require.NoError(t, err)

	for _, conn := range []*websocket.Conn{conn1, conn2} {
		conn.SetReadDeadline(time.Now().Add(time.Second))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		assert.Contains(t, string(data), "class_availability")
		assert.Contains(t, string(data), `"class_id":1`)
	}
}

func TestHub_UnregisterOnClose(t *testing.T) {
	hub := NewHub()
	server := startServer(t, hub, 42)
	defer server.Close()

	conn := dial(t, server)
	require.Eventually(t, func() bool { return hub.ConnectionCount() == 1 }, time.Second, 10*time.Millisecond)

	conn.Close()
	assert.Eventually(t, func() bool { return hub.ConnectionCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestHub_Broadcast_NoClients(t *testing.T) {
	hub := NewHub()

	assert.NoError(t, hub.Broadcast(&Message{Type: "noop"}))
}

func TestLocalPublisher_PublishAvailability(t *testing.T) {
	hub := NewHub()
	server := startServer(t, hub, 0)
	defer server.Close()

	conn := dial(t, server)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.ConnectionCount() == 1 }, time.Second, 10*time.Millisecond)

	msg := &pubsub.AvailabilityMessage{ClassID: 7, BookedCount: 5, MaxCapacity: 5}
	require.NoError(t, NewLocalPublisher(hub).PublishAvailability(context.Background(), msg))
	assert.True(t, msg.IsFull)

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"class_id":7`)
	assert.Contains(t, string(data), `"available_spots":0`)
}
