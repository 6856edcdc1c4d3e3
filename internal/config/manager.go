package config

import (
	"sync"

	"github.com/livp123/netxpf/internal/utils/logger"
)

// ConfigManager holds the loaded configuration and the path it came from.
// ConfigManager 保存已加载的配置及其来源路径。
type ConfigManager struct {
	configPath string
	mutex      sync.RWMutex
	config     *GlobalConfig
}

// NewConfigManager creates a new configuration manager instance
// NewConfigManager 创建新的配置管理器实例
func NewConfigManager(configPath string) *ConfigManager {
	return &ConfigManager{configPath: configPath}
}

// LoadConfig loads the configuration from the manager's path
// LoadConfig 从管理器路径加载配置
func (cm *ConfigManager) LoadConfig() error {
	cfg, err := LoadConfig(cm.configPath)
	if err != nil {
		return err
	}
	cm.mutex.Lock()
	cm.config = cfg
	cm.mutex.Unlock()
	return nil
}

// SaveConfig saves the current configuration
// SaveConfig 保存当前配置
func (cm *ConfigManager) SaveConfig() error {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()
	if cm.config == nil {
		return nil
	}
	return SaveConfig(cm.configPath, cm.config)
}

// GetConfig returns a copy of the current configuration, or the defaults
// when nothing was loaded.
// GetConfig 返回当前配置的副本，未加载时返回默认配置。
func (cm *ConfigManager) GetConfig() *GlobalConfig {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()
	if cm.config == nil {
		return Default()
	}
	cfgCopy := *cm.config
	cfgCopy.Timeouts = make(map[string]int64, len(cm.config.Timeouts))
	for k, v := range cm.config.Timeouts {
		cfgCopy.Timeouts[k] = v
	}
	cfgCopy.Limits = make(map[string]uint32, len(cm.config.Limits))
	for k, v := range cm.config.Limits {
		cfgCopy.Limits[k] = v
	}
	return &cfgCopy
}

// UpdateConfig replaces the current configuration
// UpdateConfig 替换当前配置
func (cm *ConfigManager) UpdateConfig(newConfig *GlobalConfig) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	cm.config = newConfig
}

func (cm *ConfigManager) GetLoggingConfig() logger.LoggingConfig {
	return cm.GetConfig().Logging
}

func (cm *ConfigManager) GetAPIConfig() APIConfig {
	return cm.GetConfig().API
}

func (cm *ConfigManager) GetMetricsConfig() MetricsConfig {
	return cm.GetConfig().Metrics
}

// GetConfigPath returns the path the manager reads and writes.
func (cm *ConfigManager) GetConfigPath() string {
	return cm.configPath
}
