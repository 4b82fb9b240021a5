package httpserver

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"

	"SessionReplayKit/internal/logger"
	"SessionReplayKit/internal/player"
	"SessionReplayKit/internal/replay"
	"SessionReplayKit/internal/store"
	"SessionReplayKit/internal/timeline"
)

// ReplayAPIServer 回放控制台的HTTP/WebSocket服务
// 所有回放控制都转发到PlaybackClock（单写者），查询接口只读归一化模型
type ReplayAPIServer struct {
	router *mux.Router
	server *http.Server

	model *replay.NormalizedReplay
	clock *player.PlaybackClock
	feed  *timeline.VirtualizedFeed

	// positions 可选的断点续播存储，未配置时相关接口返回503
	positions *store.PositionStore

	stream *stateStream
	logs   *logger.BroadcastLogger

	// 统计信息
	requestCount atomic.Int64
	errorCount   atomic.Int64
	startTime    time.Time
}

// ServerOptions 服务选项
type ServerOptions struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Positions    *store.PositionStore
	Logs         *logger.BroadcastLogger
}

// APIResponse 统一响应结构
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Message   string      `json:"message,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// NewReplayAPIServer 创建回放API服务
func NewReplayAPIServer(model *replay.NormalizedReplay, clock *player.PlaybackClock, opts *ServerOptions) *ReplayAPIServer {
	if opts == nil {
		opts = &ServerOptions{Addr: ":18080"}
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 30 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 30 * time.Second
	}

	s := &ReplayAPIServer{
		router:    mux.NewRouter(),
		model:     model,
		clock:     clock,
		feed:      timeline.NewVirtualizedFeed(),
		positions: opts.Positions,
		stream:    newStateStream(),
		logs:      opts.Logs,
		startTime: time.Now(),
	}

	s.setupRoutes()

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	s.server = &http.Server{
		Addr:         opts.Addr,
		Handler:      c.Handler(s.router),
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// 时钟快照实时推送到WebSocket订阅方
	clock.Subscribe(s.stream.publish)

	return s
}

// setupRoutes 设置路由
func (s *ReplayAPIServer) setupRoutes() {
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.metricsMiddleware)

	api := s.router.PathPrefix("/api/v1").Subrouter()

	// 归一化模型查询
	api.HandleFunc("/replay", s.replaySummaryHandler).Methods("GET")
	api.HandleFunc("/replay/timeline", s.timelineSliceHandler).Methods("GET")
	api.HandleFunc("/replay/feed", s.feedHandler).Methods("GET")
	api.HandleFunc("/replay/segments", s.segmentsHandler).Methods("GET")

	// 回放控制
	api.HandleFunc("/playback/state", s.stateHandler).Methods("GET")
	api.HandleFunc("/playback/play", s.playHandler).Methods("POST")
	api.HandleFunc("/playback/pause", s.pauseHandler).Methods("POST")
	api.HandleFunc("/playback/seek", s.seekHandler).Methods("POST")
	api.HandleFunc("/playback/speed", s.speedHandler).Methods("POST")
	api.HandleFunc("/playback/fullscreen", s.fullscreenHandler).Methods("POST")

	// 断点续播
	api.HandleFunc("/playback/position", s.savePositionHandler).Methods("POST")
	api.HandleFunc("/playback/position", s.loadPositionHandler).Methods("GET")

	// 服务统计
	api.HandleFunc("/stats", s.statsHandler).Methods("GET")

	// 实时状态流
	s.router.HandleFunc("/ws/playback", s.stream.handleWebSocket)

	// 日志流
	if s.logs != nil {
		s.router.HandleFunc("/ws/logs", s.logs.HandleWebSocket)
	}
}

// Start 启动服务
func (s *ReplayAPIServer) Start() error {
	go s.stream.run()
	if s.logs != nil {
		go s.logs.Run()
	}
	go func() {
		log.Printf("[httpserver] 回放API服务监听 %s", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[httpserver] 服务异常退出: %v", err)
		}
	}()
	return nil
}

// Shutdown 优雅停机
func (s *ReplayAPIServer) Shutdown(ctx context.Context) error {
	s.stream.close()
	if s.logs != nil {
		s.logs.Close()
	}
	return s.server.Shutdown(ctx)
}

// Router 暴露路由（测试用）
func (s *ReplayAPIServer) Router() http.Handler {
	return s.router
}

// ---- 查询接口 ----

func (s *ReplayAPIServer) replaySummaryHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"replay_id":       s.model.ReplayID(),
			"started_at":      s.model.StartedAt(),
			"duration_ms":     s.model.DurationMs(),
			"timeline_count":  len(s.model.Timeline()),
			"segment_count":   len(s.model.VideoSegments()),
			"dropped_records": s.model.DroppedRecords(),
			"is_empty":        s.model.IsEmpty(),
		},
		Timestamp: time.Now().Unix(),
	})
}

func (s *ReplayAPIServer) timelineSliceHandler(w http.ResponseWriter, r *http.Request) {
	startMs := parseInt64(r.URL.Query().Get("start_ms"), 0)
	endMs := parseInt64(r.URL.Query().Get("end_ms"), s.model.DurationMs())

	entries := s.model.TimelineSlice(startMs, endMs)
	s.writeJSON(w, http.StatusOK, APIResponse{
		Success:   true,
		Data:      map[string]interface{}{"entries": entries, "count": len(entries)},
		Timestamp: time.Now().Unix(),
	})
}

func (s *ReplayAPIServer) feedHandler(w http.ResponseWriter, r *http.Request) {
	offsetMs := parseInt64(r.URL.Query().Get("offset_ms"), s.clock.CurrentOffsetMs())
	rows := int(parseInt64(r.URL.Query().Get("rows"), 30))

	slice := s.feed.VisibleSlice(s.model.Timeline(), offsetMs, rows)
	s.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"items":         slice.Items,
			"scroll_offset": slice.ScrollOffset,
		},
		Timestamp: time.Now().Unix(),
	})
}

func (s *ReplayAPIServer) segmentsHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, APIResponse{
		Success:   true,
		Data:      map[string]interface{}{"segments": s.model.VideoSegments()},
		Timestamp: time.Now().Unix(),
	})
}

// ---- 控制接口 ----

func (s *ReplayAPIServer) stateHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, APIResponse{
		Success:   true,
		Data:      s.clock.Snapshot(),
		Timestamp: time.Now().Unix(),
	})
}

func (s *ReplayAPIServer) playHandler(w http.ResponseWriter, r *http.Request) {
	s.applyControl(w, s.clock.Play())
}

func (s *ReplayAPIServer) pauseHandler(w http.ResponseWriter, r *http.Request) {
	s.applyControl(w, s.clock.Pause())
}

func (s *ReplayAPIServer) seekHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OffsetMs int64 `json:"offset_ms"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.applyControl(w, s.clock.Seek(req.OffsetMs))
}

func (s *ReplayAPIServer) speedHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Speed float64 `json:"speed"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.applyControl(w, s.clock.SetSpeed(req.Speed))
}

func (s *ReplayAPIServer) fullscreenHandler(w http.ResponseWriter, r *http.Request) {
	s.clock.ToggleFullscreen()
	s.applyControl(w, nil)
}

// ---- 断点续播接口 ----

func (s *ReplayAPIServer) savePositionHandler(w http.ResponseWriter, r *http.Request) {
	if s.positions == nil {
		s.writeError(w, http.StatusServiceUnavailable, "position store is not configured")
		return
	}

	var req struct {
		ViewerID string `json:"viewer_id"`
		OffsetMs int64  `json:"offset_ms"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := s.positions.SavePosition(r.Context(), s.model.ReplayID(), req.ViewerID, req.OffsetMs)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.applyControl(w, nil)
}

func (s *ReplayAPIServer) loadPositionHandler(w http.ResponseWriter, r *http.Request) {
	if s.positions == nil {
		s.writeError(w, http.StatusServiceUnavailable, "position store is not configured")
		return
	}

	viewerID := r.URL.Query().Get("viewer_id")
	offsetMs, found, err := s.positions.LoadPosition(r.Context(), s.model.ReplayID(), viewerID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, APIResponse{
		Success:   true,
		Data:      map[string]interface{}{"offset_ms": offsetMs, "found": found},
		Timestamp: time.Now().Unix(),
	})
}

func (s *ReplayAPIServer) statsHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"request_count": s.requestCount.Load(),
			"error_count":   s.errorCount.Load(),
			"uptime_sec":    int64(time.Since(s.startTime).Seconds()),
		},
		Timestamp: time.Now().Unix(),
	})
}

// ---- 中间件与工具 ----

func (s *ReplayAPIServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("[httpserver] %s %s %v", r.Method, r.URL.Path, time.Since(start))
	})
}

func (s *ReplayAPIServer) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.requestCount.Add(1)
		next.ServeHTTP(w, r)
	})
}

func (s *ReplayAPIServer) applyControl(w http.ResponseWriter, err error) {
	if err != nil {
		s.writeError(w, http.StatusConflict, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, APIResponse{
		Success:   true,
		Data:      s.clock.Snapshot(),
		Timestamp: time.Now().Unix(),
	})
}

func (s *ReplayAPIServer) writeError(w http.ResponseWriter, status int, message string) {
	s.errorCount.Add(1)
	s.writeJSON(w, status, APIResponse{
		Success:   false,
		Message:   message,
		Timestamp: time.Now().Unix(),
	})
}

func (s *ReplayAPIServer) writeJSON(w http.ResponseWriter, status int, body APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("[httpserver] 写响应失败: %v", err)
	}
}

func parseInt64(raw string, fallback int64) int64 {
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fallback
	}
	return v
}

// stateStream 向WebSocket客户端推送时钟快照
type stateStream struct {
	mu        sync.Mutex
	clients   map[*websocket.Conn]struct{}
	broadcast chan player.Snapshot
	done      chan struct{}
	closeOnce sync.Once
}

var stateUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func newStateStream() *stateStream {
	return &stateStream{
		clients:   make(map[*websocket.Conn]struct{}),
		broadcast: make(chan player.Snapshot, 256),
		done:      make(chan struct{}),
	}
}

// publish 时钟订阅回调：非阻塞入队，客户端消费慢时丢帧而不是拖慢tick
func (st *stateStream) publish(snap player.Snapshot) {
	select {
	case st.broadcast <- snap:
	default:
	}
}

func (st *stateStream) run() {
	for {
		select {
		case <-st.done:
			return
		case snap := <-st.broadcast:
			st.mu.Lock()
			for conn := range st.clients {
				conn.SetWriteDeadline(time.Now().Add(time.Second))
				if err := conn.WriteJSON(snap); err != nil {
					delete(st.clients, conn)
					conn.Close()
				}
			}
			st.mu.Unlock()
		}
	}
}

func (st *stateStream) close() {
	st.closeOnce.Do(func() {
		close(st.done)
		st.mu.Lock()
		for conn := range st.clients {
			conn.Close()
		}
		st.clients = make(map[*websocket.Conn]struct{})
		st.mu.Unlock()
	})
}

func (st *stateStream) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := stateUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[httpserver] WebSocket升级失败: %v", err)
		return
	}

	st.mu.Lock()
	st.clients[conn] = struct{}{}
	st.mu.Unlock()

	defer func() {
		st.mu.Lock()
		delete(st.clients, conn)
		st.mu.Unlock()
		conn.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
