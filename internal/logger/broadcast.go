package logger

import (
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// LogMessage 推送给控制台UI的日志消息
type LogMessage struct {
	Level     string    `json:"level"`
	Module    string    `json:"module"`
	Message   string    `json:"message"`
	ReplayID  string    `json:"replay_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// BroadcastLogger 将回放内核日志广播到控制台UI的WebSocket日志流
type BroadcastLogger struct {
	mu        sync.Mutex
	clients   map[*websocket.Conn]struct{}
	broadcast chan LogMessage
	done      chan struct{}
	closeOnce sync.Once
}

// NewBroadcastLogger 创建广播日志器
func NewBroadcastLogger() *BroadcastLogger {
	return &BroadcastLogger{
		clients:   make(map[*websocket.Conn]struct{}),
		broadcast: make(chan LogMessage, 256),
		done:      make(chan struct{}),
	}
}

// Run 启动广播循环
func (b *BroadcastLogger) Run() {
	for {
		select {
		case <-b.done:
			return
		case msg := <-b.broadcast:
			b.mu.Lock()
			for conn := range b.clients {
				conn.SetWriteDeadline(time.Now().Add(time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					delete(b.clients, conn)
					conn.Close()
				}
			}
			b.mu.Unlock()
		}
	}
}

// Close 停止广播并断开所有客户端
func (b *BroadcastLogger) Close() {
	b.closeOnce.Do(func() {
		close(b.done)
		b.mu.Lock()
		for conn := range b.clients {
			conn.Close()
		}
		b.clients = make(map[*websocket.Conn]struct{})
		b.mu.Unlock()
	})
}

// Infof 记录并广播信息日志
func (b *BroadcastLogger) Infof(module, replayID, format string, args ...interface{}) {
	b.logf("INFO", module, replayID, format, args...)
}

// Warnf 记录并广播警告日志
func (b *BroadcastLogger) Warnf(module, replayID, format string, args ...interface{}) {
	b.logf("WARNING", module, replayID, format, args...)
}

// Errorf 记录并广播错误日志
func (b *BroadcastLogger) Errorf(module, replayID, format string, args ...interface{}) {
	b.logf("ERROR", module, replayID, format, args...)
}

// logf 控制台输出 + 非阻塞广播（通道满时丢弃，避免拖慢回放循环）
func (b *BroadcastLogger) logf(level, module, replayID, format string, args ...interface{}) {
	msg := LogMessage{
		Level:     level,
		Module:    module,
		Message:   fmt.Sprintf(format, args...),
		ReplayID:  replayID,
		Timestamp: time.Now(),
	}

	if replayID != "" {
		log.Printf("[%s] [%s] %s: %s", level, replayID, module, msg.Message)
	} else {
		log.Printf("[%s] %s: %s", level, module, msg.Message)
	}

	select {
	case b.broadcast <- msg:
	default:
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 控制台域名由外层网关限制
	},
}

// HandleWebSocket 处理日志流WebSocket连接
func (b *BroadcastLogger) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket升级失败: %v", err)
		return
	}

	b.mu.Lock()
	b.clients[conn] = struct{}{}
	count := len(b.clients)
	b.mu.Unlock()
	log.Printf("日志流客户端已连接，当前连接数: %d", count)

	defer func() {
		b.mu.Lock()
		delete(b.clients, conn)
		b.mu.Unlock()
		conn.Close()
	}()

	// 只读保活，客户端断开时退出
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("日志流连接错误: %v", err)
			}
			return
		}
	}
}
