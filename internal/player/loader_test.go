package player

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SessionReplayKit/internal/attachment"
)

func loaderConfigForTest() *HTTPLoaderConfig {
	return &HTTPLoaderConfig{
		RequestTimeout:  time.Second,
		MaxRetries:      3,
		InitialInterval: time.Millisecond,
	}
}

// TestHTTPLoaderSuccess 测试正常加载
func TestHTTPLoaderSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("media-bytes"))
	}))
	defer srv.Close()

	loader := NewHTTPSegmentLoader([]attachment.SegmentSource{
		{SegmentID: "seg-0", URL: srv.URL + "/seg-0.mp4"},
	}, loaderConfigForTest())

	media, err := loader.LoadSegment(context.Background(), "seg-0")
	require.NoError(t, err)
	assert.Equal(t, []byte("media-bytes"), media)
}

// TestHTTPLoaderRetriesTransientFailure 测试瞬时失败的指数退避重试
func TestHTTPLoaderRetriesTransientFailure(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("recovered"))
	}))
	defer srv.Close()

	loader := NewHTTPSegmentLoader([]attachment.SegmentSource{
		{SegmentID: "seg-0", URL: srv.URL + "/seg-0.mp4"},
	}, loaderConfigForTest())

	media, err := loader.LoadSegment(context.Background(), "seg-0")
	require.NoError(t, err)
	assert.Equal(t, []byte("recovered"), media)
	assert.Equal(t, int32(3), attempts.Load())
}

// TestHTTPLoaderExhaustsRetries 测试重试耗尽后返回错误
func TestHTTPLoaderExhaustsRetries(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	loader := NewHTTPSegmentLoader([]attachment.SegmentSource{
		{SegmentID: "seg-0", URL: srv.URL + "/seg-0.mp4"},
	}, loaderConfigForTest())

	_, err := loader.LoadSegment(context.Background(), "seg-0")
	require.Error(t, err)
	// 首次请求 + MaxRetries次重试
	assert.Equal(t, int32(4), attempts.Load())
}

// TestHTTPLoaderUnknownSegment 测试未知分片直接报错不发请求
func TestHTTPLoaderUnknownSegment(t *testing.T) {
	loader := NewHTTPSegmentLoader(nil, loaderConfigForTest())

	_, err := loader.LoadSegment(context.Background(), "ghost")
	assert.ErrorContains(t, err, "unknown segment")
}

// TestHTTPLoaderContextCancel 测试取消context中止重试
func TestHTTPLoaderContextCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	loader := NewHTTPSegmentLoader([]attachment.SegmentSource{
		{SegmentID: "seg-0", URL: srv.URL + "/seg-0.mp4"},
	}, &HTTPLoaderConfig{
		RequestTimeout:  time.Second,
		MaxRetries:      100,
		InitialInterval: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := loader.LoadSegment(ctx, "seg-0")
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second, "取消后不应继续重试")
}
