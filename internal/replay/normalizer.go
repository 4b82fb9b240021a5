package replay

import (
	"hash/fnv"
	"log"
	"math"
	"sort"
	"sync"

	"SessionReplayKit/internal/attachment"
)

// Normalizer 将乱序、含重复的原始附件记录归一化为时间线模型
// 支持分页抓取场景下的增量Append，每次Build都重建排序/去重不变量
type Normalizer struct {
	mu        sync.Mutex
	replayID  string
	startedAt int64
	records   []attachment.RawRecord
}

// NewNormalizer 创建归一化器，startedAt为会话开始的epoch毫秒
func NewNormalizer(replayID string, startedAt int64) *Normalizer {
	return &Normalizer{
		replayID:  replayID,
		startedAt: startedAt,
		records:   make([]attachment.RawRecord, 0, 256),
	}
}

// Append 追加一批原始记录（可能与已有分页重叠）
func (n *Normalizer) Append(records ...attachment.RawRecord) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.records = append(n.records, records...)
}

// Build 构建不可变的归一化模型
// 单条异常记录只会被丢弃计数，绝不导致整体构建失败；
// 空输入返回有效的零时长模型
func (n *Normalizer) Build() *NormalizedReplay {
	n.mu.Lock()
	raw := make([]attachment.RawRecord, len(n.records))
	copy(raw, n.records)
	replayID, startedAt := n.replayID, n.startedAt
	n.mu.Unlock()

	return buildReplay(replayID, raw, startedAt)
}

// BuildReplay 一次性构建归一化模型的便捷入口
func BuildReplay(replayID string, raw []attachment.RawRecord, startedAt int64) *NormalizedReplay {
	return buildReplay(replayID, raw, startedAt)
}

// sortableEntry 携带到达序号的中间态，保证同(offset, kind)记录的稳定序
type sortableEntry struct {
	entry   TimelineEntry
	arrival int
	hash    uint64
}

// dedupKey 去重键：内容哈希参与比较，避免同毫秒的不同记录被误并
type dedupKey struct {
	offsetMs int64
	kind     attachment.RecordKind
	hash     uint64
}

func buildReplay(replayID string, raw []attachment.RawRecord, startedAt int64) *NormalizedReplay {
	entries := make([]sortableEntry, 0, len(raw))
	dropped := 0

	for i, rec := range raw {
		entry, ok := normalizeRecord(rec, startedAt)
		if !ok {
			dropped++
			continue
		}
		entries = append(entries, sortableEntry{
			entry:   entry,
			arrival: i,
			hash:    payloadHash(rec),
		})
	}

	// 按(offset, kind优先级)排序，稳定排序保留到达顺序作为最终tie-break
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i].entry, entries[j].entry
		if a.OffsetMs != b.OffsetMs {
			return a.OffsetMs < b.OffsetMs
		}
		return a.Kind.Priority() < b.Kind.Priority()
	})

	// 去重：分页重叠抓取会产生完全相同的(offset, kind, payload)元组
	seen := make(map[dedupKey]struct{}, len(entries))
	timeline := make([]TimelineEntry, 0, len(entries))
	deduped := 0
	for _, se := range entries {
		key := dedupKey{offsetMs: se.entry.OffsetMs, kind: se.entry.Kind, hash: se.hash}
		if _, dup := seen[key]; dup {
			deduped++
			continue
		}
		seen[key] = struct{}{}
		timeline = append(timeline, se.entry)
	}

	segments := buildSegments(timeline)

	// 时长取所有记录类型的最大结束偏移：视频分片或span可能比最后一条面包屑更晚结束
	var durationMs int64
	for _, e := range timeline {
		if end := e.EndOffsetMs(); end > durationMs {
			durationMs = end
		}
	}
	for _, s := range segments {
		if s.EndOffsetMs > durationMs {
			durationMs = s.EndOffsetMs
		}
	}

	if dropped > 0 {
		log.Printf("[normalizer] 回放 %s: 丢弃 %d 条异常记录（时间戳非法或越界）", replayID, dropped)
	}

	return &NormalizedReplay{
		replayID:   replayID,
		startedAt:  startedAt,
		durationMs: durationMs,
		timeline:   timeline,
		segments:   segments,
		dropped:    dropped,
		deduped:    deduped,
	}
}

// normalizeRecord 将单条记录换算为回放相对偏移，异常记录返回false
func normalizeRecord(rec attachment.RawRecord, startedAt int64) (TimelineEntry, bool) {
	if !rec.Kind.IsValid() {
		return TimelineEntry{}, false
	}
	if math.IsNaN(rec.Timestamp) || math.IsInf(rec.Timestamp, 0) {
		return TimelineEntry{}, false
	}
	if math.IsNaN(rec.DurationMs) || math.IsInf(rec.DurationMs, 0) || rec.DurationMs < 0 {
		return TimelineEntry{}, false
	}

	// mutation时间戳已经是会话相对值，其余类型为绝对epoch毫秒
	var offset float64
	switch rec.Kind {
	case attachment.KindMutation:
		offset = rec.Timestamp
	case attachment.KindBreadcrumb, attachment.KindSpan, attachment.KindVideoSegment:
		offset = rec.Timestamp - float64(startedAt)
	}

	offsetMs := int64(math.Round(offset))
	if offsetMs < 0 {
		return TimelineEntry{}, false
	}

	return TimelineEntry{
		OffsetMs:    offsetMs,
		Kind:        rec.Kind,
		DurationMs:  int64(math.Round(rec.DurationMs)),
		Category:    rec.Category,
		Op:          rec.Op,
		Description: rec.Description,
		SegmentID:   rec.SegmentID,
		Payload:     rec.Payload,
	}, true
}

// buildSegments 从视频元信息记录推导分片表
// 保持升序且互不重叠：重叠部分截断，被完全覆盖的分片丢弃；空洞显式保留
func buildSegments(timeline []TimelineEntry) []VideoSegment {
	var segments []VideoSegment
	for _, e := range timeline {
		if e.Kind != attachment.KindVideoSegment || e.DurationMs <= 0 {
			continue
		}
		segments = append(segments, VideoSegment{
			StartOffsetMs: e.OffsetMs,
			EndOffsetMs:   e.OffsetMs + e.DurationMs,
			SegmentID:     e.SegmentID,
		})
	}
	if len(segments) == 0 {
		return segments
	}

	sort.SliceStable(segments, func(i, j int) bool {
		return segments[i].StartOffsetMs < segments[j].StartOffsetMs
	})

	result := segments[:1]
	for _, seg := range segments[1:] {
		prev := &result[len(result)-1]
		if seg.EndOffsetMs <= prev.EndOffsetMs {
			continue
		}
		if seg.StartOffsetMs < prev.EndOffsetMs {
			seg.StartOffsetMs = prev.EndOffsetMs
		}
		result = append(result, seg)
	}
	return result
}

// payloadHash 对记录内容做FNV-1a哈希，用于去重键
func payloadHash(rec attachment.RawRecord) uint64 {
	h := fnv.New64a()
	h.Write([]byte(rec.Category))
	h.Write([]byte{0})
	h.Write([]byte(rec.Op))
	h.Write([]byte{0})
	h.Write([]byte(rec.Description))
	h.Write([]byte{0})
	h.Write([]byte(rec.SegmentID))
	h.Write([]byte{0})
	h.Write(rec.Payload)
	return h.Sum64()
}
