package common

import (
	"github.com/livp123/netxpf/internal/config"
	"github.com/livp123/netxpf/internal/runtime"
	"github.com/livp123/netxpf/pkg/sdk"
)

// NewSDK returns an SDK for the daemon the CLI talks to. The --api and
// --token flags win; otherwise the address and admin token come from the
// config file when it is readable.
// NewSDK 返回 CLI 所连接守护进程的 SDK，优先使用 --api 与 --token 参数，否则从配置文件读取。
func NewSDK() *sdk.SDK {
	addr, token := runtime.APIAddr, runtime.Token
	if addr == "" || token == "" {
		if cfg, err := config.LoadConfig(config.GetConfigPath()); err == nil {
			if addr == "" {
				addr = cfg.API.Listen
			}
			if token == "" {
				token = cfg.API.AdminToken
			}
		}
	}
	if addr == "" {
		addr = config.DefaultListen
	}
	return sdk.NewSDK(addr, token)
}
