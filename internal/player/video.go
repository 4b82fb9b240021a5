package player

import (
	"context"
	"log"
	"sort"
	"sync"
	"sync/atomic"

	"SessionReplayKit/internal/replay"
)

// Options 分段视频控制器选项
type Options struct {
	// SkipInactive 跳过无录制空洞：seek落入空洞时自动跳到下一个分片起点；
	// 关闭时在空洞处持续缓冲（保守默认）
	SkipInactive bool
	// InitialSpeed 初始播放倍速
	InitialSpeed float64
}

// DefaultOptions 返回默认选项
func DefaultOptions() *Options {
	return &Options{
		SkipInactive: false,
		InitialSpeed: 1.0,
	}
}

// SegmentedVideoController 将离散视频分片拼接为一条连续可seek的虚拟视频
// 核心手法是双缓冲：active表面播放当前分片时，下一分片预载进standby，
// 跨越分片边界时无缝换面
type SegmentedVideoController struct {
	segments []replay.VideoSegment
	loader   SegmentLoader
	opts     Options

	// generation 每次新seek/销毁时自增；过期的异步加载回调据此丢弃，
	// 避免陈旧加载覆盖更新位置的画面
	generation atomic.Uint64
	destroyed  atomic.Bool

	// loadMu 串行化所有表面写入；写入前在loadMu内重查generation，
	// 已通过早期检查的过期加载在这里被拒绝，不再触碰表面
	loadMu sync.Mutex

	mu           sync.Mutex
	active       PlaybackSurface
	standby      PlaybackSurface
	activeIdx    int
	standbyIdx   int
	standbyReady bool
	speed        float64
	inGap        bool

	onBuffer   func()
	onLoaded   func()
	onFinished func()
	onError    func(error)

	finishedOnce sync.Once

	ctx    context.Context
	cancel context.CancelFunc
}

// NewSegmentedVideoController 创建分段视频控制器
// segments必须是归一化模型输出的升序不重叠分片表
func NewSegmentedVideoController(segments []replay.VideoSegment, factory SurfaceFactory, loader SegmentLoader, opts *Options) *SegmentedVideoController {
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.InitialSpeed <= 0 {
		opts.InitialSpeed = 1.0
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &SegmentedVideoController{
		segments:   segments,
		loader:     loader,
		opts:       *opts,
		active:     factory(),
		standby:    factory(),
		activeIdx:  -1,
		standbyIdx: -1,
		speed:      opts.InitialSpeed,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// SetBufferHandler 设置进入缓冲时的回调
func (c *SegmentedVideoController) SetBufferHandler(handler func()) { c.onBuffer = handler }

// SetLoadedHandler 设置目标分片就绪时的回调
func (c *SegmentedVideoController) SetLoadedHandler(handler func()) { c.onLoaded = handler }

// SetFinishedHandler 设置越过最后一个分片末尾时的回调（只触发一次）
func (c *SegmentedVideoController) SetFinishedHandler(handler func()) { c.onFinished = handler }

// SetErrorHandler 设置分片加载失败时的回调
func (c *SegmentedVideoController) SetErrorHandler(handler func(error)) { c.onError = handler }

// Seek 定位到指定偏移
// 目标分片与当前不同则重新加载（作废旧standby），期间先回调onBuffer、
// 就绪后回调onLoaded；落入空洞时按SkipInactive策略处理
func (c *SegmentedVideoController) Seek(offsetMs int64) {
	if c.destroyed.Load() {
		return
	}

	// 纯DOM回放（无视频分片）没有可加载的媒体，直接就绪
	if len(c.segments) == 0 {
		c.emitLoaded()
		return
	}

	idx, ok := c.findSegment(offsetMs)
	if !ok {
		if !c.opts.SkipInactive {
			// 保守策略：空洞处持续缓冲，由宿主区分"未录制"
			c.enterGap()
			return
		}
		next, hasNext := c.nextSegmentAfter(offsetMs)
		if !hasNext {
			c.fireFinished()
			return
		}
		idx = next
		offsetMs = c.segments[idx].StartOffsetMs
	}

	c.mu.Lock()
	c.inGap = false
	if idx == c.activeIdx {
		seg := c.segments[idx]
		c.active.SeekWithin(offsetMs - seg.StartOffsetMs)
		c.mu.Unlock()
		c.emitLoaded()
		return
	}

	// 换分片：作废旧standby，fresh load进active
	c.standbyIdx = -1
	c.standbyReady = false
	c.mu.Unlock()

	gen := c.generation.Add(1)
	c.emitBuffer()
	go c.loadActive(gen, idx, offsetMs)
}

// HandleTick 时钟每tick调用，处理分片边界跨越与播放结束
func (c *SegmentedVideoController) HandleTick(offsetMs int64) {
	if c.destroyed.Load() || len(c.segments) == 0 {
		return
	}

	last := c.segments[len(c.segments)-1]
	if offsetMs >= last.EndOffsetMs {
		c.fireFinished()
		return
	}

	idx, ok := c.findSegment(offsetMs)
	if !ok {
		if c.opts.SkipInactive {
			if next, hasNext := c.nextSegmentAfter(offsetMs); hasNext {
				c.Seek(c.segments[next].StartOffsetMs)
			}
			return
		}
		c.enterGap()
		return
	}

	c.mu.Lock()
	if idx == c.activeIdx {
		c.inGap = false
		c.mu.Unlock()
		return
	}

	if idx == c.standbyIdx && c.standbyReady {
		// 边界跨越：standby换为active，无缝衔接
		seg := c.segments[idx]
		c.active, c.standby = c.standby, c.active
		c.activeIdx = idx
		c.standbyIdx = -1
		c.standbyReady = false
		c.inGap = false
		c.active.SetRate(c.speed)
		c.active.SeekWithin(offsetMs - seg.StartOffsetMs)
		c.mu.Unlock()

		c.preloadNext(c.generation.Load(), idx)
		return
	}
	c.mu.Unlock()

	// standby未就绪或tick跳过了预载分片，按普通seek处理
	c.Seek(offsetMs)
}

// SetSpeed 设置播放倍速
func (c *SegmentedVideoController) SetSpeed(speed float64) {
	if speed <= 0 || c.destroyed.Load() {
		return
	}
	c.mu.Lock()
	c.speed = speed
	c.active.SetRate(speed)
	c.mu.Unlock()
}

// ActiveSegment 返回当前活跃的分片
func (c *SegmentedVideoController) ActiveSegment() (replay.VideoSegment, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.activeIdx < 0 || c.activeIdx >= len(c.segments) {
		return replay.VideoSegment{}, false
	}
	return c.segments[c.activeIdx], true
}

// Destroy 销毁控制器：作废在途加载并释放两个播放表面
// 销毁后任何过期回调都是no-op
func (c *SegmentedVideoController) Destroy() {
	if !c.destroyed.CompareAndSwap(false, true) {
		return
	}

	c.generation.Add(1)
	c.cancel()

	c.mu.Lock()
	c.active.Release()
	c.standby.Release()
	c.activeIdx = -1
	c.standbyIdx = -1
	c.standbyReady = false
	c.mu.Unlock()
}

// findSegment 二分定位覆盖偏移的分片，半开区间[start, end)
func (c *SegmentedVideoController) findSegment(offsetMs int64) (int, bool) {
	idx := sort.Search(len(c.segments), func(i int) bool {
		return c.segments[i].EndOffsetMs > offsetMs
	})
	if idx < len(c.segments) && c.segments[idx].Contains(offsetMs) {
		return idx, true
	}
	return -1, false
}

// nextSegmentAfter 返回偏移之后最近的分片下标
func (c *SegmentedVideoController) nextSegmentAfter(offsetMs int64) (int, bool) {
	idx := sort.Search(len(c.segments), func(i int) bool {
		return c.segments[i].StartOffsetMs > offsetMs
	})
	if idx < len(c.segments) {
		return idx, true
	}
	return -1, false
}

// loadActive 异步加载目标分片进active表面
// 完成时校验generation，过期或已销毁则静默丢弃
func (c *SegmentedVideoController) loadActive(gen uint64, idx int, offsetMs int64) {
	seg := c.segments[idx]

	media, err := c.loader.LoadSegment(c.ctx, seg.SegmentID)
	if c.stale(gen) {
		return
	}
	if err != nil {
		log.Printf("[video] 分片 %s 加载失败: %v", seg.SegmentID, err)
		c.emitError(err)
		return
	}

	c.loadMu.Lock()
	if c.stale(gen) {
		c.loadMu.Unlock()
		return
	}
	c.mu.Lock()
	surface := c.active
	c.mu.Unlock()

	err = surface.Load(c.ctx, seg, media)
	c.loadMu.Unlock()
	if err != nil {
		if !c.stale(gen) {
			c.emitError(err)
		}
		return
	}

	c.mu.Lock()
	if c.stale(gen) {
		c.mu.Unlock()
		return
	}
	c.activeIdx = idx
	surface.SeekWithin(offsetMs - seg.StartOffsetMs)
	surface.SetRate(c.speed)
	c.mu.Unlock()

	c.emitLoaded()
	c.preloadNext(gen, idx)
}

// preloadNext 将下一分片预载进standby表面
func (c *SegmentedVideoController) preloadNext(gen uint64, idx int) {
	next := idx + 1
	if next >= len(c.segments) {
		return
	}

	go func() {
		seg := c.segments[next]
		media, err := c.loader.LoadSegment(c.ctx, seg.SegmentID)
		if c.stale(gen) {
			return
		}
		if err != nil {
			// 预载失败不打断当前播放，边界处会重试fresh load
			log.Printf("[video] 分片 %s 预载失败: %v", seg.SegmentID, err)
			return
		}

		c.loadMu.Lock()
		if c.stale(gen) {
			c.loadMu.Unlock()
			return
		}
		c.mu.Lock()
		surface := c.standby
		c.mu.Unlock()

		err = surface.Load(c.ctx, seg, media)
		c.loadMu.Unlock()
		if err != nil {
			log.Printf("[video] 分片 %s 预载写入失败: %v", seg.SegmentID, err)
			return
		}

		c.mu.Lock()
		if !c.stale(gen) && c.activeIdx == idx {
			c.standbyIdx = next
			c.standbyReady = true
		}
		c.mu.Unlock()
	}()
}

// enterGap 进入空洞缓冲态，只在状态变化时回调一次
func (c *SegmentedVideoController) enterGap() {
	c.mu.Lock()
	already := c.inGap
	c.inGap = true
	c.mu.Unlock()
	if !already {
		c.emitBuffer()
	}
}

// stale 判断一次异步加载是否已过期
func (c *SegmentedVideoController) stale(gen uint64) bool {
	return c.destroyed.Load() || gen != c.generation.Load()
}

func (c *SegmentedVideoController) emitBuffer() {
	if c.onBuffer != nil {
		c.onBuffer()
	}
}

func (c *SegmentedVideoController) emitLoaded() {
	if c.onLoaded != nil {
		c.onLoaded()
	}
}

func (c *SegmentedVideoController) emitError(err error) {
	if c.onError != nil {
		c.onError(err)
	}
}

func (c *SegmentedVideoController) fireFinished() {
	c.finishedOnce.Do(func() {
		if c.onFinished != nil {
			c.onFinished()
		}
	})
}
