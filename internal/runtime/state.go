package runtime

// ConfigPath stores the path to the configuration file provided via CLI flags.
// ConfigPath 存储通过 CLI 标志提供的配置文件路径。
var ConfigPath string

// APIAddr overrides the control API address the CLI talks to.
// APIAddr 覆盖 CLI 连接的控制 API 地址。
var APIAddr string

// Token is the bearer token the CLI presents to the control API.
// Token 是 CLI 向控制 API 提交的令牌。
var Token string
