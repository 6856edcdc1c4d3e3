package config

import (
	"bytes"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/livp123/netxpf/internal/core"
	"github.com/livp123/netxpf/internal/runtime"
	"github.com/livp123/netxpf/internal/utils/fileutil"
	"github.com/livp123/netxpf/internal/utils/logger"
	errs "github.com/livp123/netxpf/pkg/errors"
)

// DefaultConfigTemplate defines the default configuration file structure with bilingual comments.
// It initializes new config files and repairs missing sections in existing ones.
// DefaultConfigTemplate 定义带双语注释的默认配置文件结构，用于初始化与修复配置文件。
const DefaultConfigTemplate = `# netxpf Configuration File / netxpf 配置文件
#

# Logging / 日志
logging:
  # Write to a rotating file instead of stdout / 写入轮转日志文件而非 stdout
  enabled: false
  # debug, info, warn, error / 日志级别
  level: info
  path: /var/log/netxpf/netxpf.log
  max_size: 10
  max_backups: 5
  max_age: 30
  compress: true

# Control API / 控制 API
api:
  listen: 127.0.0.1:11811
  # Token granting firewall-admin / 授予管理员权限的令牌
  admin_token: ""
  # Token granting read access / 授予只读权限的令牌
  read_token: ""

# Prometheus metrics on the API listener / API 监听器上的 Prometheus 指标
metrics:
  enabled: true
  path: /metrics

# Default timeouts in seconds, by name (tcp.first, udp.single, interval, ...)
# 按名称设置的默认超时（秒）
timeouts: {}

# Hard limits (states, src-nodes, frags, tables, table-entries) / 硬限制
limits: {}

# Creator id stamped on local states, 0 picks a random one
# 本地状态的创建者 ID，0 表示随机
host_id: 0

# Interface whose counters status reports / 状态统计的接口
status_interface: ""

# Purge loop / 清理循环
purge:
  # Overrides the interval timeout when non-zero / 非零时覆盖 interval 超时
  interval: 0

# Ruleset file loaded when the daemon starts / 守护进程启动时加载的规则集文件
rulesets: ""
`

// GlobalConfig is the daemon configuration file.
// GlobalConfig 是守护进程的配置文件结构。
type GlobalConfig struct {
	Logging         logger.LoggingConfig `yaml:"logging"`
	API             APIConfig            `yaml:"api"`
	Metrics         MetricsConfig        `yaml:"metrics"`
	Timeouts        map[string]int64     `yaml:"timeouts"`
	Limits          map[string]uint32    `yaml:"limits"`
	HostID          uint32               `yaml:"host_id"`
	StatusInterface string               `yaml:"status_interface"`
	Purge           PurgeConfig          `yaml:"purge"`
	Rulesets        string               `yaml:"rulesets"`
}

// APIConfig configures the control API listener and its tokens.
// APIConfig 配置控制 API 监听地址与令牌。
type APIConfig struct {
	Listen     string `yaml:"listen"`
	AdminToken string `yaml:"admin_token"`
	ReadToken  string `yaml:"read_token"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type PurgeConfig struct {
	Interval int64 `yaml:"interval"`
}

// Default returns the configuration described by DefaultConfigTemplate.
// Default 返回与 DefaultConfigTemplate 一致的默认配置。
func Default() *GlobalConfig {
	return &GlobalConfig{
		Logging:  logger.DefaultLoggingConfig(),
		API:      APIConfig{Listen: DefaultListen},
		Metrics:  MetricsConfig{Enabled: true, Path: DefaultMetricsPath},
		Timeouts: map[string]int64{},
		Limits:   map[string]uint32{},
	}
}

// Validate rejects unknown timeout and limit names, negative seconds and
// malformed listen addresses.
// Validate 校验超时与限制名称、负数秒数以及监听地址格式。
func (c *GlobalConfig) Validate() error {
	for name, v := range c.Timeouts {
		if _, err := core.ParseTimeout(name); err != nil {
			return errs.NewConfigError("timeouts."+name, name)
		}
		if v < 0 {
			return errs.NewConfigError("timeouts."+name, v)
		}
	}
	for name := range c.Limits {
		if _, err := core.ParseLimit(name); err != nil {
			return errs.NewConfigError("limits."+name, name)
		}
	}
	if c.Purge.Interval < 0 {
		return errs.NewConfigError("purge.interval", c.Purge.Interval)
	}
	if _, _, err := net.SplitHostPort(c.API.Listen); err != nil {
		return errs.NewConfigError("api.listen", c.API.Listen)
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return errs.NewConfigError("metrics.path", c.Metrics.Path)
	}
	if len(c.StatusInterface) >= 16 {
		return errs.NewConfigError("status_interface", c.StatusInterface)
	}
	return nil
}

// EngineOptions translates the timeout, limit and host id sections into
// engine options. Call Validate first.
// EngineOptions 将超时、限制与主机 ID 配置转换为引擎选项。
func (c *GlobalConfig) EngineOptions() []core.Option {
	var opts []core.Option

	timeouts := make(map[core.Timeout]uint32, len(c.Timeouts)+1)
	for name, v := range c.Timeouts {
		if t, err := core.ParseTimeout(name); err == nil {
			timeouts[t] = uint32(v)
		}
	}
	if c.Purge.Interval > 0 {
		timeouts[core.TimeoutInterval] = uint32(c.Purge.Interval)
	}
	if len(timeouts) > 0 {
		opts = append(opts, core.WithTimeouts(timeouts))
	}

	limits := make(map[core.Limit]uint32, len(c.Limits))
	for name, v := range c.Limits {
		if l, err := core.ParseLimit(name); err == nil {
			limits[l] = v
		}
	}
	if len(limits) > 0 {
		opts = append(opts, core.WithLimits(limits))
	}

	if c.HostID != 0 {
		opts = append(opts, core.WithHostID(c.HostID))
	}
	return opts
}

// GetConfigPath returns the configuration file path.
// runtime.ConfigPath (CLI flag or test) takes precedence.
// GetConfigPath 返回配置文件路径，runtime.ConfigPath 优先。
func GetConfigPath() string {
	if runtime.ConfigPath != "" {
		return runtime.ConfigPath
	}
	return DefaultConfigPath
}

// LoadConfig reads, defaults and validates the file at path. Sections
// missing from the file are restored from the template.
// LoadConfig 读取、补全默认值并校验配置文件，缺失的段落从模板恢复。
func LoadConfig(path string) (*GlobalConfig, error) {
	safePath := filepath.Clean(path)
	data, err := os.ReadFile(safePath) // #nosec G304 // path is sanitized with filepath.Clean
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrConfigInvalid, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	repairConfig(safePath, data)
	return cfg, nil
}

// SaveConfig writes cfg to path, keeping the comments of an existing file.
// SaveConfig 将配置写入文件，并保留已有文件中的注释。
func SaveConfig(path string, cfg *GlobalConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	safePath := filepath.Clean(path)
	existing, readErr := os.ReadFile(safePath) // #nosec G304 // path is sanitized with filepath.Clean
	if readErr != nil {
		existing = []byte(DefaultConfigTemplate)
	}

	var newNode, fileNode yaml.Node
	if err := yaml.Unmarshal(data, &newNode); err != nil {
		return err
	}
	if err := yaml.Unmarshal(existing, &fileNode); err != nil || fileNode.Kind == 0 {
		return fileutil.AtomicWriteFile(safePath, data, 0600)
	}
	MergeYamlNodes(&fileNode, &newNode)

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&fileNode); err != nil {
		return err
	}
	return fileutil.AtomicWriteFile(safePath, buf.Bytes(), 0600)
}

// InitConfig writes the default template to path unless a file exists.
// InitConfig 在文件不存在时写入默认模板。
func InitConfig(path string) (bool, error) {
	safePath := filepath.Clean(path)
	if _, err := os.Stat(safePath); err == nil {
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(safePath), 0755); err != nil {
		return false, err
	}
	if err := fileutil.AtomicWriteFile(safePath, []byte(DefaultConfigTemplate), 0600); err != nil {
		return false, err
	}
	return true, nil
}

// repairConfig merges the user's file into the template and rewrites it
// when sections were missing. The original is kept as a timestamped backup.
// repairConfig 将用户文件合并到模板中，缺少段落时重写文件并保留带时间戳的备份。
func repairConfig(path string, data []byte) {
	log := logger.Get(nil)

	var defaultNode yaml.Node
	if err := yaml.Unmarshal([]byte(DefaultConfigTemplate), &defaultNode); err != nil {
		log.Warnf("⚠️  [Config] Failed to parse default config template: %v", err)
		return
	}
	var fileNode yaml.Node
	if err := yaml.Unmarshal(data, &fileNode); err != nil || fileNode.Kind == 0 {
		return
	}
	if !missingKeys(defaultNode.Content[0], fileNode.Content[0]) {
		return
	}

	MergeYamlNodes(&defaultNode, &fileNode)
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&defaultNode); err != nil {
		log.Warnf("⚠️  [Config] Failed to encode repaired config: %v", err)
		return
	}

	backupPath := path + ".bak." + time.Now().Format("20060102-150405")
	if err := os.WriteFile(backupPath, data, 0600); err != nil {
		log.Warnf("⚠️  [Config] Failed to back up config file, skipping repair: %v", err)
		return
	}
	cleanupBackups(path, backupsKept)

	if err := fileutil.AtomicWriteFile(path, buf.Bytes(), 0600); err != nil {
		log.Warnf("❌ [Config] Failed to update config file: %v", err)
		return
	}
	log.Infof("🔄 [Config] Restored missing sections in %s", path)
}

// missingKeys reports whether file lacks a key present in def, recursively.
func missingKeys(def, file *yaml.Node) bool {
	if def.Kind != yaml.MappingNode || file.Kind != yaml.MappingNode {
		return false
	}
	for i := 0; i < len(def.Content); i += 2 {
		var fv *yaml.Node
		for j := 0; j < len(file.Content); j += 2 {
			if file.Content[j].Value == def.Content[i].Value {
				fv = file.Content[j+1]
				break
			}
		}
		if fv == nil || missingKeys(def.Content[i+1], fv) {
			return true
		}
	}
	return false
}

// MergeYamlNodes updates target with the values of source, keeping the
// comments and key order of target. Keys only in source are appended.
// MergeYamlNodes 使用 source 的值更新 target，保留 target 的注释与键顺序。
func MergeYamlNodes(target, source *yaml.Node) {
	if target.Kind == yaml.DocumentNode {
		if source.Kind == yaml.DocumentNode && len(source.Content) > 0 && len(target.Content) > 0 {
			MergeYamlNodes(target.Content[0], source.Content[0])
		}
		return
	}

	if target.Kind != yaml.MappingNode || source.Kind != yaml.MappingNode {
		if source.HeadComment == "" {
			source.HeadComment = target.HeadComment
		}
		if source.LineComment == "" {
			source.LineComment = target.LineComment
		}
		if source.FootComment == "" {
			source.FootComment = target.FootComment
		}
		*target = *source
		return
	}

	// 1. Index source keys / 索引 source 的键
	sourceIdx := make(map[string]int, len(source.Content)/2)
	for i := 0; i < len(source.Content); i += 2 {
		sourceIdx[source.Content[i].Value] = i
	}

	// 2. Merge shared keys in target order / 按 target 顺序合并共有键
	seen := make(map[string]bool, len(sourceIdx))
	for i := 0; i < len(target.Content); i += 2 {
		if si, ok := sourceIdx[target.Content[i].Value]; ok {
			MergeYamlNodes(target.Content[i+1], source.Content[si+1])
			seen[target.Content[i].Value] = true
		}
	}

	// 3. Append keys only present in source / 追加仅存在于 source 的键
	for i := 0; i < len(source.Content); i += 2 {
		if !seen[source.Content[i].Value] {
			target.Content = append(target.Content, source.Content[i], source.Content[i+1])
		}
	}
}

// cleanupBackups keeps only the newest keep backups of originalPath.
func cleanupBackups(originalPath string, keep int) {
	matches, err := filepath.Glob(originalPath + ".bak.*")
	if err != nil || len(matches) <= keep {
		return
	}
	// Timestamps sort lexically / 时间戳可按字典序排序
	sort.Strings(matches)
	for _, m := range matches[:len(matches)-keep] {
		if err := os.Remove(m); err != nil {
			logger.Get(nil).Warnf("⚠️  [Config] Failed to remove old backup %s: %v", m, err)
		}
	}
}
