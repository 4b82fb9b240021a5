package timeline

import "math"

// PositionToOffset 将滚动条上的像素位置线性映射为回放偏移
// 用于悬停预览和点击seek；结果四舍五入到毫秒并钳制在[0, durationMs]
func PositionToOffset(pixelX, timelineWidthPx float64, durationMs int64) int64 {
	if timelineWidthPx <= 0 || durationMs <= 0 {
		return 0
	}
	if math.IsNaN(pixelX) || math.IsInf(pixelX, 0) {
		return 0
	}

	offset := int64(math.Round(pixelX / timelineWidthPx * float64(durationMs)))
	if offset < 0 {
		return 0
	}
	if offset > durationMs {
		return durationMs
	}
	return offset
}

// OffsetToPosition 反向映射：回放偏移到像素位置，用于绘制时间线游标
func OffsetToPosition(offsetMs, durationMs int64, timelineWidthPx float64) float64 {
	if durationMs <= 0 || timelineWidthPx <= 0 {
		return 0
	}
	if offsetMs < 0 {
		offsetMs = 0
	}
	if offsetMs > durationMs {
		offsetMs = durationMs
	}
	return float64(offsetMs) / float64(durationMs) * timelineWidthPx
}
