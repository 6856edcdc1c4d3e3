package config

const (
	// DefaultConfigPath is the standard location for the netxpf configuration file.
	// DefaultConfigPath 是 netxpf 配置文件的标准位置。
	DefaultConfigPath = "/etc/netxpf/config.yaml"

	// DefaultPidPath is the location of the daemon PID file.
	// DefaultPidPath 是守护进程 PID 文件的位置。
	DefaultPidPath = "/var/run/netxpf.pid"

	// DefaultListen is the control API address.
	// DefaultListen 是控制 API 的监听地址。
	DefaultListen = "127.0.0.1:11811"

	// DefaultMetricsPath is where the prometheus handler is mounted.
	DefaultMetricsPath = "/metrics"

	// backupsKept is how many config backups survive a structure repair.
	backupsKept = 3
)
