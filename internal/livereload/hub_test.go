package livereload

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/conneroisu/assetpipe/internal/catalog"
	"github.com/conneroisu/assetpipe/internal/orchestrator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSameHostValidator(t *testing.T) {
	v := SameHostValidator{Extra: []string{"http://127.0.0.1:8000"}}

	tests := []struct {
		name     string
		origin   string
		host     string
		expected bool
	}{
		{"no origin", "", "localhost:3000", true},
		{"same host", "http://localhost:3000", "localhost:3000", true},
		{"same host https", "https://localhost:3000", "localhost:3000", true},
		{"extra origin", "http://127.0.0.1:8000", "localhost:3000", true},
		{"other port", "http://localhost:4000", "localhost:3000", false},
		{"external", "http://malicious.com", "localhost:3000", false},
		{"file scheme", "file:///etc/passwd", "localhost:3000", false},
		{"javascript scheme", "javascript:alert(1)", "localhost:3000", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, v.IsAllowedOrigin(tt.origin, tt.host))
		})
	}
}

func connect(t *testing.T, h *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })

	require.Eventually(t, func() bool { return h.ConnectedClients() == 1 }, 5*time.Second, 10*time.Millisecond)
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) UpdateMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var msg UpdateMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestHubNotifyPolicies(t *testing.T) {
	h := NewHub(HubOptions{})
	defer h.Shutdown(context.Background())
	conn := connect(t, h)
	ctx := context.Background()

	require.NoError(t, h.Notify(ctx, orchestrator.Notification{
		Category: "styles",
		Policy:   catalog.ReloadInject,
		Paths:    []string{"styles/style.css", "styles/style.css.map"},
	}))
	msg := readMessage(t, conn)
	assert.Equal(t, TypeCSSUpdate, msg.Type)
	assert.Equal(t, "styles/style.css", msg.Target)
	assert.False(t, msg.Timestamp.IsZero())

	require.NoError(t, h.Notify(ctx, orchestrator.Notification{
		Category: "html",
		Policy:   catalog.ReloadFull,
		Paths:    []string{"index.html"},
	}))
	msg = readMessage(t, conn)
	assert.Equal(t, TypeFullReload, msg.Type)
	assert.Equal(t, "html", msg.Target)

	require.NoError(t, h.Notify(ctx, orchestrator.Notification{Category: "php", Policy: catalog.ReloadNone}))

	// An inject rebuild with no stylesheet falls back to a reload.
	require.NoError(t, h.Notify(ctx, orchestrator.Notification{
		Category: "styles",
		Policy:   catalog.ReloadInject,
		Paths:    []string{"styles/style.css.map"},
	}))
	msg = readMessage(t, conn)
	assert.Equal(t, TypeFullReload, msg.Type)
}

func TestHubRejectsForeignOrigin(t *testing.T) {
	h := NewHub(HubOptions{})
	defer h.Shutdown(context.Background())

	req := httptest.NewRequest(http.MethodGet, "/__assetpipe/ws", nil)
	req.Host = "localhost:3000"
	req.Header.Set("Origin", "http://malicious.com")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Zero(t, h.ConnectedClients())
}

func TestHubClientDisconnect(t *testing.T) {
	h := NewHub(HubOptions{})
	defer h.Shutdown(context.Background())

	conn := connect(t, h)
	require.NoError(t, conn.Close(websocket.StatusNormalClosure, "bye"))
	require.Eventually(t, func() bool { return h.ConnectedClients() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestHubShutdown(t *testing.T) {
	h := NewHub(HubOptions{})
	require.NoError(t, h.Shutdown(context.Background()))
	require.NoError(t, h.Shutdown(context.Background()))
	assert.True(t, h.IsShutdown())

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/__assetpipe/ws", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	assert.Error(t, h.Broadcast(UpdateMessage{Type: TypeFullReload}))
}

func TestClientScript(t *testing.T) {
	script := string(ClientScript)
	assert.Contains(t, script, "/__assetpipe/ws")
	assert.Contains(t, script, "'"+TypeFullReload+"'")
	assert.Contains(t, script, "'"+TypeCSSUpdate+"'")
}
