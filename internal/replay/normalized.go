package replay

import (
	"encoding/json"
	"sort"

	"SessionReplayKit/internal/attachment"
)

// TimelineEntry 归一化后的单条时间线记录
type TimelineEntry struct {
	OffsetMs    int64                 `json:"offset_ms"`
	Kind        attachment.RecordKind `json:"kind"`
	DurationMs  int64                 `json:"duration_ms,omitempty"`
	Category    string                `json:"category,omitempty"`
	Op          string                `json:"op,omitempty"`
	Description string                `json:"description,omitempty"`
	SegmentID   string                `json:"segment_id,omitempty"`
	Payload     json.RawMessage       `json:"payload,omitempty"`
}

// EndOffsetMs 返回记录覆盖区间的结束偏移
func (e TimelineEntry) EndOffsetMs() int64 {
	if e.DurationMs > 0 {
		return e.OffsetMs + e.DurationMs
	}
	return e.OffsetMs
}

// VideoSegment 覆盖[StartOffsetMs, EndOffsetMs)的视频分片
type VideoSegment struct {
	StartOffsetMs int64  `json:"start_offset_ms"`
	EndOffsetMs   int64  `json:"end_offset_ms"`
	SegmentID     string `json:"segment_id"`
}

// Contains 半开区间判定：偏移恰好等于EndOffsetMs时属于下一个分片
func (s VideoSegment) Contains(offsetMs int64) bool {
	return offsetMs >= s.StartOffsetMs && offsetMs < s.EndOffsetMs
}

// NormalizedReplay 归一化后的会话回放模型
// 构建完成后不可变，所有消费方按引用共享读取
type NormalizedReplay struct {
	replayID   string
	startedAt  int64
	durationMs int64
	timeline   []TimelineEntry
	segments   []VideoSegment
	dropped    int
	deduped    int
}

// ReplayID 返回会话标识
func (r *NormalizedReplay) ReplayID() string { return r.replayID }

// StartedAt 返回会话开始的epoch毫秒
func (r *NormalizedReplay) StartedAt() int64 { return r.startedAt }

// DurationMs 返回回放总时长（所有记录类型的最大结束偏移）
func (r *NormalizedReplay) DurationMs() int64 { return r.durationMs }

// DroppedRecords 返回构建时丢弃的异常记录数
func (r *NormalizedReplay) DroppedRecords() int { return r.dropped }

// DedupedRecords 返回构建时去重掉的记录数
func (r *NormalizedReplay) DedupedRecords() int { return r.deduped }

// Timeline 返回按(offset, kind优先级)严格升序的完整时间线
// 返回的切片为内部数据，调用方只读
func (r *NormalizedReplay) Timeline() []TimelineEntry { return r.timeline }

// VideoSegments 返回按起始偏移升序且互不重叠的视频分片列表
// 分片之间允许存在显式空洞，播放器据此区分"未录制"和"加载中"
func (r *NormalizedReplay) VideoSegments() []VideoSegment { return r.segments }

// TimelineSlice 返回偏移落在[startMs, endMs]内的时间线子区间
func (r *NormalizedReplay) TimelineSlice(startMs, endMs int64) []TimelineEntry {
	if len(r.timeline) == 0 || endMs < startMs {
		return nil
	}

	lo := sort.Search(len(r.timeline), func(i int) bool {
		return r.timeline[i].OffsetMs >= startMs
	})
	hi := sort.Search(len(r.timeline), func(i int) bool {
		return r.timeline[i].OffsetMs > endMs
	})

	if lo >= hi {
		return nil
	}
	return r.timeline[lo:hi]
}

// SegmentAt 返回覆盖指定偏移的分片下标，不存在则返回false
func (r *NormalizedReplay) SegmentAt(offsetMs int64) (int, bool) {
	idx := sort.Search(len(r.segments), func(i int) bool {
		return r.segments[i].EndOffsetMs > offsetMs
	})
	if idx < len(r.segments) && r.segments[idx].Contains(offsetMs) {
		return idx, true
	}
	return -1, false
}

// IsEmpty 是否为空会话（有效的零时长模型，UI据此渲染"无数据"态）
func (r *NormalizedReplay) IsEmpty() bool {
	return len(r.timeline) == 0 && len(r.segments) == 0
}
