package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// PlayerConfig 回放内核与控制台服务的统一配置
type PlayerConfig struct {
	Meta     MetaConfig     `mapstructure:"meta"`
	Playback PlaybackConfig `mapstructure:"playback"`
	Feed     FeedConfig     `mapstructure:"feed"`
	Loader   LoaderConfig   `mapstructure:"loader"`
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
}

// MetaConfig 配置元信息
type MetaConfig struct {
	Project       string `mapstructure:"project"`
	ConfigVersion string `mapstructure:"config_version"`
}

// PlaybackConfig 回放时钟与视频控制器配置
type PlaybackConfig struct {
	TickIntervalMs int     `mapstructure:"tick_interval_ms"`
	DefaultSpeed   float64 `mapstructure:"default_speed"`
	SkipInactive   bool    `mapstructure:"skip_inactive"`
}

// FeedConfig 事件列表虚拟化配置
type FeedConfig struct {
	ViewportRows int `mapstructure:"viewport_rows"`
}

// LoaderConfig 分片加载器配置
type LoaderConfig struct {
	RequestTimeoutSec int `mapstructure:"request_timeout_sec"`
	MaxRetries        int `mapstructure:"max_retries"`
}

// ServerConfig 控制台API服务配置
type ServerConfig struct {
	Addr            string `mapstructure:"addr"`
	ReadTimeoutSec  int    `mapstructure:"read_timeout_sec"`
	WriteTimeoutSec int    `mapstructure:"write_timeout_sec"`
}

// DatabaseConfig 断点续播存储配置
type DatabaseConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// setDefaults 写入默认值
func setDefaults(v *viper.Viper) {
	v.SetDefault("meta.project", "SessionReplayKit")
	v.SetDefault("meta.config_version", "1.0")

	v.SetDefault("playback.tick_interval_ms", 16)
	v.SetDefault("playback.default_speed", 1.0)
	v.SetDefault("playback.skip_inactive", false)

	v.SetDefault("feed.viewport_rows", 30)

	v.SetDefault("loader.request_timeout_sec", 10)
	v.SetDefault("loader.max_retries", 3)

	v.SetDefault("server.addr", ":18080")
	v.SetDefault("server.read_timeout_sec", 30)
	v.SetDefault("server.write_timeout_sec", 30)

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.sslmode", "disable")
}

// loadConfigFromFile 从文件加载配置，path为空时仅使用默认值
func loadConfigFromFile(path string) (*PlayerConfig, *viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	var config PlayerConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, nil, err
	}

	return &config, v, nil
}

// validateConfig 校验配置合法性
func validateConfig(config *PlayerConfig) error {
	if config.Playback.TickIntervalMs <= 0 {
		return fmt.Errorf("playback.tick_interval_ms 必须为正数: %d", config.Playback.TickIntervalMs)
	}
	if config.Playback.DefaultSpeed <= 0 {
		return fmt.Errorf("playback.default_speed 必须为正数: %v", config.Playback.DefaultSpeed)
	}
	if config.Feed.ViewportRows <= 0 {
		return fmt.Errorf("feed.viewport_rows 必须为正数: %d", config.Feed.ViewportRows)
	}
	if config.Loader.MaxRetries < 0 {
		return fmt.Errorf("loader.max_retries 不能为负数: %d", config.Loader.MaxRetries)
	}
	if config.Server.Addr == "" {
		return fmt.Errorf("server.addr 不能为空")
	}
	if config.Database.Enabled {
		if config.Database.Host == "" || config.Database.DBName == "" {
			return fmt.Errorf("启用断点续播存储时 database.host/dbname 不能为空")
		}
	}
	return nil
}
