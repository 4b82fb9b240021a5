package player

import (
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"SessionReplayKit/internal/replay"
)

// ClockState 回放时钟状态
type ClockState int32

const (
	StateIdle ClockState = iota
	StateReady
	StatePlaying
	StatePaused
	StateEnded
)

func (s ClockState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateReady:
		return "READY"
	case StatePlaying:
		return "PLAYING"
	case StatePaused:
		return "PAUSED"
	case StateEnded:
		return "ENDED"
	default:
		return "UNKNOWN"
	}
}

// Snapshot 对外暴露的一致性状态快照
// 每个tick只产生一个权威位置，所有消费方看到相同的值和顺序
type Snapshot struct {
	CurrentOffsetMs int64      `json:"current_offset_ms"`
	DurationMs      int64      `json:"duration_ms"`
	State           ClockState `json:"-"`
	StateName       string     `json:"state"`
	IsPlaying       bool       `json:"is_playing"`
	IsBuffering     bool       `json:"is_buffering"`
	IsSeeking       bool       `json:"is_seeking"`
	IsFullscreen    bool       `json:"is_fullscreen"`
	Speed           float64    `json:"speed"`
}

// SnapshotHandler 快照订阅回调
type SnapshotHandler func(Snapshot)

// ClockConfig 时钟配置
type ClockConfig struct {
	TickInterval time.Duration
	InitialSpeed float64
}

// DefaultClockConfig 返回默认配置（16ms约等于一个显示帧）
func DefaultClockConfig() *ClockConfig {
	return &ClockConfig{
		TickInterval: 16 * time.Millisecond,
		InitialSpeed: 1.0,
	}
}

// PlaybackClock 回放时间线的唯一权威时钟
// 状态机：idle → ready → {playing ⇄ paused} → ended，seeking为正交子状态；
// 所有状态变更都经由本类型的方法（单写者），依赖视图只读取快照
type PlaybackClock struct {
	config *ClockConfig

	mu          sync.RWMutex
	state       ClockState
	offsetF     float64 // 当前偏移（毫秒，浮点累积避免tick截断）
	durationMs  int64
	speed       float64
	buffering   bool
	seeking     bool
	fullscreen  bool
	subscribers []SnapshotHandler
	lastTick    time.Time
	destroyed   bool

	controller *SegmentedVideoController

	// notifyMu 串行化快照投递，所有订阅方看到同一条全序快照流
	notifyMu sync.Mutex

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewPlaybackClock 创建处于idle态的回放时钟
func NewPlaybackClock(config *ClockConfig) *PlaybackClock {
	if config == nil {
		config = DefaultClockConfig()
	}
	if config.TickInterval <= 0 {
		config.TickInterval = 16 * time.Millisecond
	}
	if config.InitialSpeed <= 0 {
		config.InitialSpeed = 1.0
	}

	return &PlaybackClock{
		config:   config,
		state:    StateIdle,
		speed:    config.InitialSpeed,
		stopChan: make(chan struct{}),
	}
}

// Bind 绑定归一化模型与视频控制器，idle → ready并启动tick循环
func (c *PlaybackClock) Bind(model *replay.NormalizedReplay, controller *SegmentedVideoController) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return fmt.Errorf("clock is not in idle state: %s", c.state)
	}
	c.state = StateReady
	c.offsetF = 0
	c.durationMs = model.DurationMs()
	c.controller = controller
	c.lastTick = time.Now()
	c.mu.Unlock()

	// 视频控制器的加载事件驱动buffering/seeking子状态
	controller.SetBufferHandler(c.handleBuffer)
	controller.SetLoadedHandler(c.handleLoaded)
	controller.SetErrorHandler(c.handleLoadError)

	c.wg.Add(1)
	go c.tickLoop()

	return nil
}

// Play 开始播放，仅在ready/paused态有效
func (c *PlaybackClock) Play() error {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return fmt.Errorf("clock is destroyed")
	}
	if c.state != StateReady && c.state != StatePaused {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("cannot play from state %s", state)
	}
	c.state = StatePlaying
	c.lastTick = time.Now()
	snap, subs := c.snapshotAndSubsLocked()
	c.mu.Unlock()

	c.notify(snap, subs)
	return nil
}

// Pause 暂停播放，仅在playing态有效，保留当前位置
func (c *PlaybackClock) Pause() error {
	c.mu.Lock()
	if c.state != StatePlaying {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("cannot pause from state %s", state)
	}
	c.state = StatePaused
	snap, subs := c.snapshotAndSubsLocked()
	c.mu.Unlock()

	c.notify(snap, subs)
	return nil
}

// Seek 跳转到指定偏移，任何非idle态可用
// 越界值钳制到[0, durationMs]；钳到时长末端时直接转入ended；
// 墙钟锚点冻结到视频控制器回报onLoaded为止，防止虚拟时钟超前于实际画面
func (c *PlaybackClock) Seek(offsetMs int64) error {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return fmt.Errorf("clock is destroyed")
	}
	if c.state == StateIdle {
		c.mu.Unlock()
		return fmt.Errorf("cannot seek from idle state")
	}

	clamped := offsetMs
	if clamped < 0 {
		clamped = 0
	}
	if clamped > c.durationMs {
		clamped = c.durationMs
	}

	c.offsetF = float64(clamped)
	if clamped >= c.durationMs && c.durationMs > 0 {
		c.state = StateEnded
		c.buffering = false
		c.seeking = false
	} else {
		c.seeking = true
		c.buffering = true
		if c.state == StateEnded {
			c.state = StatePaused
		}
	}
	controller := c.controller
	snap, subs := c.snapshotAndSubsLocked()
	c.mu.Unlock()

	// 在锁外转发，控制器可能同步回调onLoaded
	if controller != nil && snap.State != StateEnded {
		controller.Seek(clamped)
	}
	c.notify(snap, subs)
	return nil
}

// SetSpeed 设置倍速，任意时刻有效；只影响后续tick的增量
func (c *PlaybackClock) SetSpeed(speed float64) error {
	if speed <= 0 {
		return fmt.Errorf("speed must be positive, got %v", speed)
	}

	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return fmt.Errorf("clock is destroyed")
	}
	c.speed = speed
	controller := c.controller
	snap, subs := c.snapshotAndSubsLocked()
	c.mu.Unlock()

	if controller != nil {
		controller.SetSpeed(speed)
	}
	c.notify(snap, subs)
	return nil
}

// ToggleFullscreen 切换全屏标记（与计时正交）
func (c *PlaybackClock) ToggleFullscreen() {
	c.mu.Lock()
	c.fullscreen = !c.fullscreen
	snap, subs := c.snapshotAndSubsLocked()
	c.mu.Unlock()

	c.notify(snap, subs)
}

// Subscribe 订阅状态快照
func (c *PlaybackClock) Subscribe(handler SnapshotHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return
	}
	c.subscribers = append(c.subscribers, handler)
}

// Snapshot 读取当前状态快照
func (c *PlaybackClock) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshotLocked()
}

// CurrentOffsetMs 读取当前权威位置
func (c *PlaybackClock) CurrentOffsetMs() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return int64(math.Round(c.offsetF))
}

// State 读取当前状态
func (c *PlaybackClock) State() ClockState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Destroy 销毁时钟：同步停止tick循环、摘除全部订阅并销毁视频控制器
// 返回后不会再有任何快照投递
func (c *PlaybackClock) Destroy() {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	c.destroyed = true
	c.subscribers = nil
	controller := c.controller
	c.mu.Unlock()

	c.stopOnce.Do(func() { close(c.stopChan) })
	c.wg.Wait()

	if controller != nil {
		controller.Destroy()
	}
}

// tickLoop tick主循环，播放期间按墙钟推进权威位置
func (c *PlaybackClock) tickLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopChan:
			return
		case <-ticker.C:
			c.tick()
		}
	}
}

// tick 单次推进：offset += 墙钟流逝 × 倍速，钳制在时长内
// buffering期间不推进（锚点每tick刷新，缓冲耗时自然被丢弃）
func (c *PlaybackClock) tick() {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}

	now := time.Now()
	elapsed := now.Sub(c.lastTick)
	c.lastTick = now

	if c.state != StatePlaying || c.buffering {
		c.mu.Unlock()
		return
	}

	c.offsetF += float64(elapsed.Microseconds()) / 1000.0 * c.speed
	if c.offsetF >= float64(c.durationMs) {
		c.offsetF = float64(c.durationMs)
		c.state = StateEnded
	}

	controller := c.controller
	snap, subs := c.snapshotAndSubsLocked()
	c.mu.Unlock()

	if controller != nil {
		controller.HandleTick(snap.CurrentOffsetMs)
	}
	c.notify(snap, subs)
}

// handleBuffer 视频控制器进入缓冲
func (c *PlaybackClock) handleBuffer() {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	c.buffering = true
	snap, subs := c.snapshotAndSubsLocked()
	c.mu.Unlock()

	c.notify(snap, subs)
}

// handleLoaded 目标分片就绪：解除缓冲并重新锚定墙钟
func (c *PlaybackClock) handleLoaded() {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	c.buffering = false
	c.seeking = false
	c.lastTick = time.Now()
	snap, subs := c.snapshotAndSubsLocked()
	c.mu.Unlock()

	c.notify(snap, subs)
}

// handleLoadError 分片加载失败：保持seeking/buffering态，重试属于外部数据层
func (c *PlaybackClock) handleLoadError(err error) {
	log.Printf("[clock] 分片加载失败，保持缓冲: %v", err)
}

func (c *PlaybackClock) snapshotLocked() Snapshot {
	return Snapshot{
		CurrentOffsetMs: int64(math.Round(c.offsetF)),
		DurationMs:      c.durationMs,
		State:           c.state,
		StateName:       c.state.String(),
		IsPlaying:       c.state == StatePlaying,
		IsBuffering:     c.buffering,
		IsSeeking:       c.seeking,
		IsFullscreen:    c.fullscreen,
		Speed:           c.speed,
	}
}

func (c *PlaybackClock) snapshotAndSubsLocked() (Snapshot, []SnapshotHandler) {
	subs := make([]SnapshotHandler, len(c.subscribers))
	copy(subs, c.subscribers)
	return c.snapshotLocked(), subs
}

// notify 逐个投递一份快照；notifyMu保证tick循环与控制面
// 并发发布时投递顺序对全部订阅方一致
func (c *PlaybackClock) notify(snap Snapshot, subs []SnapshotHandler) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	for _, fn := range subs {
		fn(snap)
	}
}
