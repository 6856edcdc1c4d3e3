package logger

// LoggingConfig defines the configuration for logging.
// LoggingConfig 定义日志配置。
type LoggingConfig struct {
	// Enabled: write to the rotating file at Path instead of stdout
	// Enabled: 是否写入日志文件（否则输出到 stdout）
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Level: debug, info, warn, error
	// Level: 日志级别
	Level string `yaml:"level" json:"level"`
	Path  string `yaml:"path" json:"path"`
	// MaxSize: 轮转前的最大大小（MB）
	MaxSize int `yaml:"max_size" json:"max_size"`
	// MaxBackups: 保留的旧文件最大数量
	MaxBackups int `yaml:"max_backups" json:"max_backups"`
	// MaxAge: 保留旧文件的最大天数
	MaxAge   int  `yaml:"max_age" json:"max_age"`
	Compress bool `yaml:"compress" json:"compress"`
}

// DefaultLoggingConfig logs info and above to stdout.
// DefaultLoggingConfig 默认以 info 级别输出到 stdout。
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Level:      "info",
		Path:       "/var/log/netxpf/netxpf.log",
		MaxSize:    10,
		MaxBackups: 5,
		MaxAge:     30,
		Compress:   true,
	}
}
