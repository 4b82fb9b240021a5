package replay

import (
	"encoding/json"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SessionReplayKit/internal/attachment"
)

// TestNormalizeMixedReferenceFrames 测试绝对/相对时间戳的统一换算
func TestNormalizeMixedReferenceFrames(t *testing.T) {
	// mutation为会话相对时间戳，breadcrumb为绝对epoch毫秒
	records := []attachment.RawRecord{
		{Kind: attachment.KindBreadcrumb, Timestamp: 5000, Category: "ui.click"},
		{Kind: attachment.KindMutation, Timestamp: 2000},
	}

	model := BuildReplay("r1", records, 1000)
	timeline := model.Timeline()
	require.Len(t, timeline, 2)

	// mutation相对时间戳2000直接透传，breadcrumb换算为5000-1000=4000
	// mutation排在前面（offset更小）
	assert.Equal(t, int64(2000), timeline[0].OffsetMs)
	assert.Equal(t, attachment.KindMutation, timeline[0].Kind)
	assert.Equal(t, int64(4000), timeline[1].OffsetMs)
	assert.Equal(t, attachment.KindBreadcrumb, timeline[1].Kind)
}

// TestNormalizeDeterministic 测试同一输入多次构建结果逐位一致
func TestNormalizeDeterministic(t *testing.T) {
	const startedAt = int64(1000)

	// 乱序 + 重复 + 同偏移不同kind
	records := []attachment.RawRecord{
		{Kind: attachment.KindSpan, Timestamp: 4000, DurationMs: 100, Op: "http"},
		{Kind: attachment.KindBreadcrumb, Timestamp: 4000, Category: "click"},
		{Kind: attachment.KindMutation, Timestamp: 3000},
		{Kind: attachment.KindBreadcrumb, Timestamp: 2000, Category: "nav"},
		{Kind: attachment.KindBreadcrumb, Timestamp: 2000, Category: "nav"},
		{Kind: attachment.KindMutation, Timestamp: 500},
	}

	first := BuildReplay("r1", records, startedAt)
	second := BuildReplay("r1", records, startedAt)

	require.Equal(t, len(first.Timeline()), len(second.Timeline()))
	for i := range first.Timeline() {
		assert.Equal(t, first.Timeline()[i], second.Timeline()[i], "第%d条记录不一致", i)
	}
}

// TestNormalizeSortInvariant 测试排序不变量：offset升序，同offset按kind优先级
func TestNormalizeSortInvariant(t *testing.T) {
	const startedAt = int64(0)

	// 同一偏移上故意倒序投递不同kind
	records := []attachment.RawRecord{
		{Kind: attachment.KindVideoSegment, Timestamp: 1000, DurationMs: 500, SegmentID: "s0"},
		{Kind: attachment.KindSpan, Timestamp: 1000, DurationMs: 10, Op: "db"},
		{Kind: attachment.KindBreadcrumb, Timestamp: 1000, Category: "log"},
		{Kind: attachment.KindMutation, Timestamp: 1000},
		{Kind: attachment.KindMutation, Timestamp: 200},
	}

	model := BuildReplay("r1", records, startedAt)
	timeline := model.Timeline()
	require.Len(t, timeline, 5)

	for i := 0; i < len(timeline)-1; i++ {
		a, b := timeline[i], timeline[i+1]
		assert.LessOrEqual(t, a.OffsetMs, b.OffsetMs)
		if a.OffsetMs == b.OffsetMs {
			assert.LessOrEqual(t, a.Kind.Priority(), b.Kind.Priority(),
				"同偏移处kind优先级应保持 mutation < breadcrumb < span < video")
		}
	}
}

// TestNormalizeStableArrivalOrder 测试同(offset, kind)记录保留到达顺序
func TestNormalizeStableArrivalOrder(t *testing.T) {
	records := []attachment.RawRecord{
		{Kind: attachment.KindBreadcrumb, Timestamp: 1000, Category: "first"},
		{Kind: attachment.KindBreadcrumb, Timestamp: 1000, Category: "second"},
		{Kind: attachment.KindBreadcrumb, Timestamp: 1000, Category: "third"},
	}

	model := BuildReplay("r1", records, 0)
	timeline := model.Timeline()
	require.Len(t, timeline, 3)
	assert.Equal(t, "first", timeline[0].Category)
	assert.Equal(t, "second", timeline[1].Category)
	assert.Equal(t, "third", timeline[2].Category)
}

// TestNormalizeDropMalformed 测试脏数据只丢弃计数，不阻断构建
func TestNormalizeDropMalformed(t *testing.T) {
	const startedAt = int64(1000)

	records := []attachment.RawRecord{
		{Kind: attachment.KindBreadcrumb, Timestamp: 2000, Category: "ok"},
		{Kind: attachment.KindBreadcrumb, Timestamp: 500, Category: "before-start"}, // offset < 0
		{Kind: attachment.KindBreadcrumb, Timestamp: math.NaN(), Category: "nan"},
		{Kind: attachment.KindSpan, Timestamp: 3000, DurationMs: math.Inf(1), Op: "inf-duration"},
		{Kind: attachment.RecordKind("UNKNOWN"), Timestamp: 2000},
	}

	model := BuildReplay("r1", records, startedAt)

	assert.Equal(t, 4, model.DroppedRecords())
	require.Len(t, model.Timeline(), 1)
	assert.Equal(t, "ok", model.Timeline()[0].Category)
}

// TestNormalizeDedup 测试分页重叠导致的完全重复记录被去重
func TestNormalizeDedup(t *testing.T) {
	payload := json.RawMessage(`{"x":1}`)
	records := []attachment.RawRecord{
		{Kind: attachment.KindBreadcrumb, Timestamp: 1000, Category: "click", Payload: payload},
		{Kind: attachment.KindBreadcrumb, Timestamp: 1000, Category: "click", Payload: payload},
		// 同偏移同kind但内容不同：必须保留（内容哈希参与去重键）
		{Kind: attachment.KindBreadcrumb, Timestamp: 1000, Category: "click", Payload: json.RawMessage(`{"x":2}`)},
	}

	model := BuildReplay("r1", records, 0)

	assert.Equal(t, 1, model.DedupedRecords())
	assert.Len(t, model.Timeline(), 2)
}

// TestNormalizeDuration 测试时长取所有记录类型的最大结束偏移
func TestNormalizeDuration(t *testing.T) {
	records := []attachment.RawRecord{
		{Kind: attachment.KindBreadcrumb, Timestamp: 8000, Category: "last-crumb"},
		// span在最后一条面包屑之后才结束
		{Kind: attachment.KindSpan, Timestamp: 7500, DurationMs: 2000, Op: "upload"},
		// 视频分片结束得更晚
		{Kind: attachment.KindVideoSegment, Timestamp: 5000, DurationMs: 6000, SegmentID: "s0"},
	}

	model := BuildReplay("r1", records, 0)

	assert.Equal(t, int64(11000), model.DurationMs())
}

// TestNormalizeEmptySession 测试空会话返回有效的零时长模型
func TestNormalizeEmptySession(t *testing.T) {
	model := BuildReplay("empty", nil, 1000)

	require.NotNil(t, model)
	assert.True(t, model.IsEmpty())
	assert.Equal(t, int64(0), model.DurationMs())
	assert.Empty(t, model.Timeline())
	assert.Empty(t, model.VideoSegments())
	assert.Empty(t, model.TimelineSlice(0, 1000))
}

// TestNormalizeVideoSegments 测试分片表升序、不重叠、保留空洞
func TestNormalizeVideoSegments(t *testing.T) {
	records := []attachment.RawRecord{
		{Kind: attachment.KindVideoSegment, Timestamp: 10000, DurationMs: 5000, SegmentID: "s2"},
		{Kind: attachment.KindVideoSegment, Timestamp: 0, DurationMs: 5000, SegmentID: "s0"},
		// 与s0部分重叠：起点被截断到s0结束处
		{Kind: attachment.KindVideoSegment, Timestamp: 4000, DurationMs: 2000, SegmentID: "s1"},
		// 被s0完全覆盖：丢弃
		{Kind: attachment.KindVideoSegment, Timestamp: 1000, DurationMs: 1000, SegmentID: "covered"},
	}

	model := BuildReplay("r1", records, 0)
	segments := model.VideoSegments()
	require.Len(t, segments, 3)

	assert.Equal(t, "s0", segments[0].SegmentID)
	assert.Equal(t, int64(0), segments[0].StartOffsetMs)
	assert.Equal(t, int64(5000), segments[0].EndOffsetMs)

	assert.Equal(t, "s1", segments[1].SegmentID)
	assert.Equal(t, int64(5000), segments[1].StartOffsetMs, "重叠分片的起点应被截断")
	assert.Equal(t, int64(6000), segments[1].EndOffsetMs)

	// s1与s2之间的空洞 [6000, 10000) 显式保留
	assert.Equal(t, "s2", segments[2].SegmentID)
	assert.Equal(t, int64(10000), segments[2].StartOffsetMs)

	for i := 0; i < len(segments)-1; i++ {
		assert.LessOrEqual(t, segments[i].EndOffsetMs, segments[i+1].StartOffsetMs,
			"分片不能重叠")
	}
}

// TestTimelineSlice 测试时间线区间查询
func TestTimelineSlice(t *testing.T) {
	var records []attachment.RawRecord
	for i := 0; i < 100; i++ {
		records = append(records, attachment.RawRecord{
			Kind:      attachment.KindBreadcrumb,
			Timestamp: float64(i * 100),
			Category:  fmt.Sprintf("crumb_%d", i),
		})
	}

	model := BuildReplay("r1", records, 0)

	slice := model.TimelineSlice(1000, 1999)
	require.Len(t, slice, 10)
	assert.Equal(t, int64(1000), slice[0].OffsetMs)
	assert.Equal(t, int64(1900), slice[len(slice)-1].OffsetMs)

	assert.Empty(t, model.TimelineSlice(50000, 60000))
	assert.Empty(t, model.TimelineSlice(2000, 1000))
}

// TestNormalizerAppend 测试分页抓取的增量构建重建不变量
func TestNormalizerAppend(t *testing.T) {
	n := NewNormalizer("r1", 0)

	// 第一页
	n.Append(
		attachment.RawRecord{Kind: attachment.KindBreadcrumb, Timestamp: 3000, Category: "c3"},
		attachment.RawRecord{Kind: attachment.KindBreadcrumb, Timestamp: 1000, Category: "c1"},
	)
	first := n.Build()
	require.Len(t, first.Timeline(), 2)

	// 第二页与第一页重叠一条
	n.Append(
		attachment.RawRecord{Kind: attachment.KindBreadcrumb, Timestamp: 3000, Category: "c3"},
		attachment.RawRecord{Kind: attachment.KindBreadcrumb, Timestamp: 2000, Category: "c2"},
	)
	second := n.Build()

	require.Len(t, second.Timeline(), 3)
	assert.Equal(t, "c1", second.Timeline()[0].Category)
	assert.Equal(t, "c2", second.Timeline()[1].Category)
	assert.Equal(t, "c3", second.Timeline()[2].Category)

	// 旧快照不受增量影响（不可变共享）
	assert.Len(t, first.Timeline(), 2)
}

// TestSegmentAt 测试半开区间的分片定位
func TestSegmentAt(t *testing.T) {
	records := []attachment.RawRecord{
		{Kind: attachment.KindVideoSegment, Timestamp: 0, DurationMs: 10000, SegmentID: "s0"},
		{Kind: attachment.KindVideoSegment, Timestamp: 10000, DurationMs: 10000, SegmentID: "s1"},
	}
	model := BuildReplay("r1", records, 0)

	// 边界偏移10000属于第二个分片（半开区间约定）
	idx, ok := model.SegmentAt(10000)
	require.True(t, ok)
	assert.Equal(t, "s1", model.VideoSegments()[idx].SegmentID)

	idx, ok = model.SegmentAt(9999)
	require.True(t, ok)
	assert.Equal(t, "s0", model.VideoSegments()[idx].SegmentID)

	_, ok = model.SegmentAt(20000)
	assert.False(t, ok, "末尾分片的结束偏移不被任何分片覆盖")
}
