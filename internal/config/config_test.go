package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTempConfig 写入临时YAML配置文件
func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "replay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// TestLoadDefaults 测试空路径仅使用默认值
func TestLoadDefaults(t *testing.T) {
	cm := NewConfigManager()
	cfg, err := cm.Load()
	require.NoError(t, err)

	assert.Equal(t, "SessionReplayKit", cfg.Meta.Project)
	assert.Equal(t, 16, cfg.Playback.TickIntervalMs)
	assert.Equal(t, 1.0, cfg.Playback.DefaultSpeed)
	assert.False(t, cfg.Playback.SkipInactive)
	assert.Equal(t, 30, cfg.Feed.ViewportRows)
	assert.Equal(t, 3, cfg.Loader.MaxRetries)
	assert.Equal(t, ":18080", cfg.Server.Addr)
	assert.False(t, cfg.Database.Enabled)
}

// TestLoadFromFile 测试文件值覆盖默认值
func TestLoadFromFile(t *testing.T) {
	path := writeTempConfig(t, `
meta:
  project: "ReplayConsole"

playback:
  tick_interval_ms: 8
  default_speed: 2.0
  skip_inactive: true

feed:
  viewport_rows: 50

server:
  addr: ":9090"
`)

	cm := NewConfigManager(WithConfigPath(path))
	cfg, err := cm.Load()
	require.NoError(t, err)

	assert.Equal(t, "ReplayConsole", cfg.Meta.Project)
	assert.Equal(t, 8, cfg.Playback.TickIntervalMs)
	assert.Equal(t, 2.0, cfg.Playback.DefaultSpeed)
	assert.True(t, cfg.Playback.SkipInactive)
	assert.Equal(t, 50, cfg.Feed.ViewportRows)
	assert.Equal(t, ":9090", cfg.Server.Addr)

	// 未覆盖的段仍取默认值
	assert.Equal(t, 3, cfg.Loader.MaxRetries)
}

// TestLoadCached 测试重复Load返回同一实例
func TestLoadCached(t *testing.T) {
	cm := NewConfigManager()
	first, err := cm.Load()
	require.NoError(t, err)
	second, err := cm.Load()
	require.NoError(t, err)
	assert.Same(t, first, second)

	got, err := cm.Get()
	require.NoError(t, err)
	assert.Same(t, first, got)
}

// TestLoadMissingFile 测试指定的文件不存在时报错
func TestLoadMissingFile(t *testing.T) {
	cm := NewConfigManager(WithConfigPath("/nonexistent/replay.yaml"))
	_, err := cm.Load()
	assert.Error(t, err)
}

// TestValidateConfig 测试配置校验规则
func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*PlayerConfig)
		wantErr bool
	}{
		{"默认配置合法", func(c *PlayerConfig) {}, false},
		{"tick间隔为零", func(c *PlayerConfig) { c.Playback.TickIntervalMs = 0 }, true},
		{"倍速为负", func(c *PlayerConfig) { c.Playback.DefaultSpeed = -1 }, true},
		{"视口行数为零", func(c *PlayerConfig) { c.Feed.ViewportRows = 0 }, true},
		{"重试次数为负", func(c *PlayerConfig) { c.Loader.MaxRetries = -1 }, true},
		{"服务地址为空", func(c *PlayerConfig) { c.Server.Addr = "" }, true},
		{"启用存储但缺dbname", func(c *PlayerConfig) {
			c.Database.Enabled = true
			c.Database.DBName = ""
		}, true},
		{"启用存储且字段齐全", func(c *PlayerConfig) {
			c.Database.Enabled = true
			c.Database.DBName = "replays"
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cm := NewConfigManager()
			base, err := cm.Load()
			require.NoError(t, err)

			cfg := *base
			tt.mutate(&cfg)

			err = validateConfig(&cfg)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// TestReload 测试配置热重载
func TestReload(t *testing.T) {
	path := writeTempConfig(t, "playback:\n  default_speed: 1.0\n")

	cm := NewConfigManager(WithConfigPath(path))
	cfg, err := cm.Load()
	require.NoError(t, err)
	assert.Equal(t, 1.0, cfg.Playback.DefaultSpeed)

	require.NoError(t, os.WriteFile(path, []byte("playback:\n  default_speed: 4.0\n"), 0644))
	require.NoError(t, cm.Reload())

	cfg, err = cm.Get()
	require.NoError(t, err)
	assert.Equal(t, 4.0, cfg.Playback.DefaultSpeed)
}

// TestReloadRejectsInvalid 测试非法新配置被拒绝，旧配置保留
func TestReloadRejectsInvalid(t *testing.T) {
	path := writeTempConfig(t, "feed:\n  viewport_rows: 40\n")

	cm := NewConfigManager(WithConfigPath(path))
	cfg, err := cm.Load()
	require.NoError(t, err)
	assert.Equal(t, 40, cfg.Feed.ViewportRows)

	require.NoError(t, os.WriteFile(path, []byte("feed:\n  viewport_rows: -1\n"), 0644))
	assert.Error(t, cm.Reload())

	cfg, err = cm.Get()
	require.NoError(t, err)
	assert.Equal(t, 40, cfg.Feed.ViewportRows, "重载失败时应保留旧配置")
}
