package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"SessionReplayKit/internal/attachment"
	"SessionReplayKit/internal/player"
	"SessionReplayKit/internal/replay"
	"SessionReplayKit/internal/timeline"
)

// memoryLoader 演示用的内存分片加载器
type memoryLoader struct{}

func (memoryLoader) LoadSegment(ctx context.Context, segmentID string) ([]byte, error) {
	return []byte("segment:" + segmentID), nil
}

func main() {
	fmt.Println("🎬 会话回放重建与播放演示")
	fmt.Println("==================================")
	fmt.Println()

	// 1. 构造一批乱序、含重复和脏数据的原始记录
	fmt.Println("📦 构造原始附件记录（乱序 + 重复 + 脏数据）...")
	const startedAt = int64(1_700_000_000_000)

	records := []attachment.RawRecord{
		{Kind: attachment.KindBreadcrumb, Timestamp: float64(startedAt + 4000), Category: "ui.click", Payload: json.RawMessage(`{"selector":"#submit"}`)},
		{Kind: attachment.KindMutation, Timestamp: 1000, Payload: json.RawMessage(`{"adds":3}`)},
		{Kind: attachment.KindVideoSegment, Timestamp: float64(startedAt), DurationMs: 5000, SegmentID: "seg-0"},
		{Kind: attachment.KindSpan, Timestamp: float64(startedAt + 1500), DurationMs: 900, Op: "http.client", Description: "GET /api/issues"},
		{Kind: attachment.KindVideoSegment, Timestamp: float64(startedAt + 5000), DurationMs: 5000, SegmentID: "seg-1"},
		// 重复记录（分页重叠）
		{Kind: attachment.KindBreadcrumb, Timestamp: float64(startedAt + 4000), Category: "ui.click", Payload: json.RawMessage(`{"selector":"#submit"}`)},
		// 脏数据：会话开始之前的时间戳
		{Kind: attachment.KindBreadcrumb, Timestamp: float64(startedAt - 9000), Category: "navigation"},
	}

	// 2. 归一化
	fmt.Println("🔧 归一化...")
	model := replay.BuildReplay("demo_replay", records, startedAt)
	fmt.Printf("✅ 时长: %dms, 时间线: %d 条, 分片: %d 个, 丢弃: %d, 去重: %d\n",
		model.DurationMs(), len(model.Timeline()), len(model.VideoSegments()),
		model.DroppedRecords(), model.DedupedRecords())

	for _, e := range model.Timeline() {
		fmt.Printf("   offset=%5dms kind=%-13s %s%s\n", e.OffsetMs, e.Kind, e.Category, e.Op)
	}

	// 3. 组装控制器和时钟，高倍速无头回放
	fmt.Println("\n▶️ 开始回放（8倍速）...")
	controller := player.NewSegmentedVideoController(
		model.VideoSegments(),
		player.NewNopSurface,
		memoryLoader{},
		&player.Options{SkipInactive: true, InitialSpeed: 8.0},
	)

	finished := make(chan struct{})
	controller.SetFinishedHandler(func() { close(finished) })

	clock := player.NewPlaybackClock(&player.ClockConfig{
		TickInterval: 10 * time.Millisecond,
		InitialSpeed: 8.0,
	})
	if err := clock.Bind(model, controller); err != nil {
		log.Fatalf("绑定时钟失败: %v", err)
	}
	defer clock.Destroy()

	feed := timeline.NewVirtualizedFeed()
	var lastPrinted int64 = -1
	clock.Subscribe(func(snap player.Snapshot) {
		// 每秒打印一次进度和可视窗口
		sec := snap.CurrentOffsetMs / 1000
		if sec != lastPrinted {
			lastPrinted = sec
			slice := feed.VisibleSlice(model.Timeline(), snap.CurrentOffsetMs, 3)
			fmt.Printf("   ⏱ %5dms / %dms buffering=%v 可视记录=%d\n",
				snap.CurrentOffsetMs, snap.DurationMs, snap.IsBuffering, len(slice.Items))
		}
	})

	if err := clock.Play(); err != nil {
		log.Fatalf("播放失败: %v", err)
	}

	// 4. 播放中途seek
	time.Sleep(400 * time.Millisecond)
	fmt.Println("\n⏩ seek到 7000ms...")
	if err := clock.Seek(7000); err != nil {
		log.Fatalf("seek失败: %v", err)
	}

	select {
	case <-finished:
	case <-time.After(10 * time.Second):
	}

	snap := clock.Snapshot()
	fmt.Printf("\n🏁 回放结束: state=%s offset=%dms\n", snap.StateName, snap.CurrentOffsetMs)
}
