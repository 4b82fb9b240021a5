package config

import (
	"fmt"
	"log"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// ConfigManager 回放配置管理器
type ConfigManager struct {
	mu           sync.RWMutex
	config       *PlayerConfig
	viper        *viper.Viper
	configPath   string
	watchEnabled bool
}

// ConfigManagerOption 配置管理器选项
type ConfigManagerOption func(*ConfigManager)

// WithConfigPath 设置配置文件路径
func WithConfigPath(path string) ConfigManagerOption {
	return func(cm *ConfigManager) {
		cm.configPath = path
	}
}

// WithWatchEnabled 启用配置文件监控
func WithWatchEnabled(enabled bool) ConfigManagerOption {
	return func(cm *ConfigManager) {
		cm.watchEnabled = enabled
	}
}

// NewConfigManager 创建配置管理器
func NewConfigManager(opts ...ConfigManagerOption) *ConfigManager {
	cm := &ConfigManager{}
	for _, opt := range opts {
		opt(cm)
	}
	return cm
}

// Load 加载配置
func (cm *ConfigManager) Load() (*PlayerConfig, error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.config != nil {
		return cm.config, nil
	}

	config, viperInstance, err := loadConfigFromFile(cm.configPath)
	if err != nil {
		return nil, fmt.Errorf("加载回放配置失败: %w", err)
	}

	cm.config = config
	cm.viper = viperInstance

	if cm.watchEnabled && cm.configPath != "" {
		cm.watchConfig()
	}

	return config, nil
}

// Get 获取配置（如果未加载则自动加载）
func (cm *ConfigManager) Get() (*PlayerConfig, error) {
	cm.mu.RLock()
	if cm.config != nil {
		defer cm.mu.RUnlock()
		return cm.config, nil
	}
	cm.mu.RUnlock()

	return cm.Load()
}

// Reload 重新加载配置
func (cm *ConfigManager) Reload() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	config, viperInstance, err := loadConfigFromFile(cm.configPath)
	if err != nil {
		return fmt.Errorf("重新加载回放配置失败: %w", err)
	}

	cm.config = config
	cm.viper = viperInstance
	return nil
}

// watchConfig 监控配置文件变化
func (cm *ConfigManager) watchConfig() {
	if cm.viper == nil {
		return
	}

	cm.viper.WatchConfig()
	cm.viper.OnConfigChange(func(e fsnotify.Event) {
		log.Printf("[config] 配置文件变化: %s，重新加载", e.Name)
		if err := cm.Reload(); err != nil {
			log.Printf("[config] 重新加载失败: %v", err)
		}
	})
}

// 全局配置管理器实例
var (
	globalConfigManager *ConfigManager
	configManagerOnce   sync.Once
)

// GetGlobalConfigManager 获取全局配置管理器
func GetGlobalConfigManager() *ConfigManager {
	configManagerOnce.Do(func() {
		globalConfigManager = NewConfigManager(
			WithWatchEnabled(true),
		)
	})
	return globalConfigManager
}

// GetGlobalConfig 获取全局回放配置
func GetGlobalConfig() (*PlayerConfig, error) {
	return GetGlobalConfigManager().Get()
}
