package attachment

import (
	"encoding/json"
	"fmt"
	"io"
)

// RecordKind 原始附件记录的变体类型
type RecordKind string

const (
	KindMutation     RecordKind = "MUTATION"      // DOM/UI变更快照或增量
	KindBreadcrumb   RecordKind = "BREADCRUMB"    // 离散的用户/系统动作
	KindSpan         RecordKind = "SPAN"          // 网络或埋点span
	KindVideoSegment RecordKind = "VIDEO_SEGMENT" // 视频分片元信息
)

// Priority 返回同一偏移下的固定排序优先级
// mutation < breadcrumb < span < video边界，保证重建结果跨多次加载确定
func (k RecordKind) Priority() int {
	switch k {
	case KindMutation:
		return 0
	case KindBreadcrumb:
		return 1
	case KindSpan:
		return 2
	case KindVideoSegment:
		return 3
	default:
		return 4
	}
}

// IsValid 检查是否是已知的记录类型
func (k RecordKind) IsValid() bool {
	switch k {
	case KindMutation, KindBreadcrumb, KindSpan, KindVideoSegment:
		return true
	default:
		return false
	}
}

// IsRelative 该类型的时间戳是否已经是会话相对偏移
// mutation记录使用相对时间戳，其余类型使用绝对epoch毫秒
func (k RecordKind) IsRelative() bool {
	return k == KindMutation
}

// RawRecord 存储层投递的单条原始附件记录
// 变体集合是封闭的：新增类型必须扩展RecordKind并在归一化处补全分支
type RawRecord struct {
	Kind        RecordKind      `json:"kind"`
	Timestamp   float64         `json:"ts"`
	DurationMs  float64         `json:"duration_ms,omitempty"`
	Category    string          `json:"category,omitempty"`
	Op          string          `json:"op,omitempty"`
	Description string          `json:"description,omitempty"`
	SegmentID   string          `json:"segment_id,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// SegmentSource 抓取层提供的视频分片来源信息
type SegmentSource struct {
	SegmentID     string `json:"segment_id"`
	URL           string `json:"url"`
	StartOffsetMs int64  `json:"start_offset_ms"`
	DurationMs    int64  `json:"duration_ms"`
}

// Bundle 抓取层交付的完整原始数据包
// Partial为true表示该次抓取被显式标记为不完整（分页未取尽）
type Bundle struct {
	ReplayID       string          `json:"replay_id"`
	StartedAt      int64           `json:"started_at"`
	Partial        bool            `json:"partial,omitempty"`
	Records        []RawRecord     `json:"records"`
	SegmentSources []SegmentSource `json:"segment_sources,omitempty"`
}

// DecodeRecords 从JSON数组解码原始记录
func DecodeRecords(r io.Reader) ([]RawRecord, error) {
	var records []RawRecord
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return nil, fmt.Errorf("decode raw records failed: %w", err)
	}
	return records, nil
}

// DecodeBundle 从JSON解码完整数据包
func DecodeBundle(r io.Reader) (*Bundle, error) {
	var bundle Bundle
	if err := json.NewDecoder(r).Decode(&bundle); err != nil {
		return nil, fmt.Errorf("decode attachment bundle failed: %w", err)
	}
	return &bundle, nil
}
