package timeline

import (
	"sort"
	"sync"

	"SessionReplayKit/internal/replay"
)

// FeedSlice 可视窗口切片结果
type FeedSlice struct {
	// Items 与视口相交的记录，数量受viewportRows约束
	Items []replay.TimelineEntry
	// ScrollOffset 首条可见记录在完整时间线中的下标
	ScrollOffset int
}

// VirtualizedFeed 长事件列表的有界渲染器
// 会话可能包含数万条面包屑/span，通过二分定位让每次调用的成本
// 与总量呈次线性，渲染节点数与会话长度无关；
// 针对顺序播放的单调访问模式缓存上次命中下标，随机seek时失效重查
type VirtualizedFeed struct {
	mu         sync.Mutex
	lastIdx    int
	lastOffset int64
	hasCache   bool

	searchCalls int
}

// NewVirtualizedFeed 创建虚拟化列表
func NewVirtualizedFeed() *VirtualizedFeed {
	return &VirtualizedFeed{}
}

// VisibleSlice 返回以当前位置为锚点的可视窗口
// timeline必须是归一化模型输出的严格升序序列；对模型只读无副作用
func (f *VirtualizedFeed) VisibleSlice(timeline []replay.TimelineEntry, currentOffsetMs int64, viewportRowCount int) FeedSlice {
	if len(timeline) == 0 || viewportRowCount <= 0 {
		return FeedSlice{}
	}

	anchor := f.locateAnchor(timeline, currentOffsetMs)

	// 锚点居中，窗口钳制在时间线边界内
	start := anchor - viewportRowCount/2
	if start < 0 {
		start = 0
	}
	end := start + viewportRowCount
	if end > len(timeline) {
		end = len(timeline)
		start = end - viewportRowCount
		if start < 0 {
			start = 0
		}
	}

	return FeedSlice{
		Items:        timeline[start:end],
		ScrollOffset: start,
	}
}

// SearchCalls 返回累计的二分查找次数（测试用的次线性验证手段）
func (f *VirtualizedFeed) SearchCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.searchCalls
}

// locateAnchor 定位最后一条offset <= current的记录下标
func (f *VirtualizedFeed) locateAnchor(timeline []replay.TimelineEntry, currentOffsetMs int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	lo := 0
	if f.hasCache && currentOffsetMs >= f.lastOffset && f.lastIdx < len(timeline) {
		// 单调前进：从上次命中处继续二分，缩小搜索区间
		lo = f.lastIdx
	}

	f.searchCalls++
	n := len(timeline) - lo
	rel := sort.Search(n, func(i int) bool {
		return timeline[lo+i].OffsetMs > currentOffsetMs
	})

	anchor := lo + rel - 1
	if anchor < 0 {
		anchor = 0
	}

	f.lastIdx = anchor
	f.lastOffset = currentOffsetMs
	f.hasCache = true

	return anchor
}

// Invalidate 显式失效缓存（时间线被增量重建后调用）
func (f *VirtualizedFeed) Invalidate() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hasCache = false
	f.lastIdx = 0
	f.lastOffset = 0
}
