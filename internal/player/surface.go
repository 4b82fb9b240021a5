package player

import (
	"context"

	"SessionReplayKit/internal/replay"
)

// PlaybackSurface 底层视频播放表面
// 控制器同时持有两个表面做双缓冲；宿主视图负责容器的生命周期，
// 表面只负责在容器内挂载/卸载自己的播放元素
type PlaybackSurface interface {
	// Load 将分片媒体装载到表面，返回前必须可立即渲染
	Load(ctx context.Context, seg replay.VideoSegment, media []byte) error
	// SeekWithin 定位到分片内部的相对偏移
	SeekWithin(offsetInSegmentMs int64)
	// SetRate 设置播放倍速
	SetRate(rate float64)
	// Release 卸载并释放表面资源
	Release()
}

// SurfaceFactory 创建播放表面，控制器构造时调用两次
type SurfaceFactory func() PlaybackSurface

// NopSurface 无渲染的空表面，供服务端无头回放使用
type NopSurface struct{}

func (NopSurface) Load(ctx context.Context, seg replay.VideoSegment, media []byte) error { return nil }
func (NopSurface) SeekWithin(offsetInSegmentMs int64)                                    {}
func (NopSurface) SetRate(rate float64)                                                  {}
func (NopSurface) Release()                                                              {}

// NewNopSurface NopSurface的工厂函数
func NewNopSurface() PlaybackSurface { return NopSurface{} }
