package logger

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestBroadcastLoggerDelivery 测试日志消息推送到WebSocket客户端
func TestBroadcastLoggerDelivery(t *testing.T) {
	b := NewBroadcastLogger()
	go b.Run()
	defer b.Close()

	srv := httptest.NewServer(http.HandlerFunc(b.HandleWebSocket))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// 等客户端注册完成后再广播
	require.Eventually(t, func() bool {
		b.mu.Lock()
		defer b.mu.Unlock()
		return len(b.clients) == 1
	}, time.Second, 5*time.Millisecond)

	b.Infof("player", "r_42", "播放结束于 %dms", 4000)

	var msg LogMessage
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&msg))

	assert.Equal(t, "INFO", msg.Level)
	assert.Equal(t, "player", msg.Module)
	assert.Equal(t, "r_42", msg.ReplayID)
	assert.Contains(t, msg.Message, "4000ms")
	assert.False(t, msg.Timestamp.IsZero())
}

// TestBroadcastLoggerCloseIdempotent 测试重复Close安全
func TestBroadcastLoggerCloseIdempotent(t *testing.T) {
	b := NewBroadcastLogger()
	go b.Run()
	b.Close()
	b.Close()

	// 关闭后的日志只落本地，不会panic
	b.Warnf("replay", "", "closed already")
}
