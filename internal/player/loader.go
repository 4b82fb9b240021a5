package player

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"SessionReplayKit/internal/attachment"
)

// SegmentLoader 分片媒体加载边界
// 抓取、缓存策略属于外部数据层；控制器只要求加载结果完整或返回错误
type SegmentLoader interface {
	LoadSegment(ctx context.Context, segmentID string) ([]byte, error)
}

// HTTPLoaderConfig HTTP加载器配置
type HTTPLoaderConfig struct {
	RequestTimeout  time.Duration
	MaxRetries      uint64
	InitialInterval time.Duration
}

// DefaultHTTPLoaderConfig 返回默认配置
func DefaultHTTPLoaderConfig() *HTTPLoaderConfig {
	return &HTTPLoaderConfig{
		RequestTimeout:  10 * time.Second,
		MaxRetries:      3,
		InitialInterval: 200 * time.Millisecond,
	}
}

// HTTPSegmentLoader 基于HTTP的分片加载器，带指数退避重试
type HTTPSegmentLoader struct {
	config  *HTTPLoaderConfig
	client  *http.Client
	sources map[string]attachment.SegmentSource
}

// NewHTTPSegmentLoader 创建HTTP分片加载器
func NewHTTPSegmentLoader(sources []attachment.SegmentSource, config *HTTPLoaderConfig) *HTTPSegmentLoader {
	if config == nil {
		config = DefaultHTTPLoaderConfig()
	}

	byID := make(map[string]attachment.SegmentSource, len(sources))
	for _, src := range sources {
		byID[src.SegmentID] = src
	}

	return &HTTPSegmentLoader{
		config:  config,
		client:  &http.Client{Timeout: config.RequestTimeout},
		sources: byID,
	}
}

// LoadSegment 加载分片媒体，失败按指数退避重试
func (l *HTTPSegmentLoader) LoadSegment(ctx context.Context, segmentID string) ([]byte, error) {
	src, ok := l.sources[segmentID]
	if !ok {
		return nil, fmt.Errorf("unknown segment: %s", segmentID)
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = l.config.InitialInterval

	var media []byte
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
		if err != nil {
			return backoff.Permanent(err)
		}

		resp, err := l.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("segment %s: unexpected status %d", segmentID, resp.StatusCode)
		}

		media, err = io.ReadAll(resp.Body)
		return err
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(expBackoff, l.config.MaxRetries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, fmt.Errorf("load segment %s failed: %w", segmentID, err)
	}

	return media, nil
}
