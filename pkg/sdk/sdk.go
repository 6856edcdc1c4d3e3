package sdk

import (
	"net/http"
	"strings"
	"time"
)

// SDK provides a structured high-level API for a running netxpf daemon.
// SDK 提供了一个结构化的高级 API，用于与运行中的 netxpf 守护进程交互。
type SDK struct {
	Status   StatusAPI
	Settings SettingsAPI
	Rules    RulesAPI
	Tables   TablesAPI
	States   StatesAPI
	Sources  SourcesAPI
	Altq     AltqAPI
	c        *client
}

// Option customizes an SDK.
type Option func(*client)

// WithHTTPClient replaces the default HTTP client.
// WithHTTPClient 替换默认的 HTTP 客户端。
func WithHTTPClient(hc *http.Client) Option {
	return func(c *client) { c.http = hc }
}

// WithTimeout sets the per-request timeout of the default client.
func WithTimeout(d time.Duration) Option {
	return func(c *client) { c.http.Timeout = d }
}

// NewSDK creates an SDK talking to the control API at addr. addr may be a
// host:port or a full http(s) URL. An empty token calls the API without
// credentials.
// NewSDK 创建连接到 addr 上控制 API 的 SDK 实例。
func NewSDK(addr, token string, opts ...Option) *SDK {
	base := addr
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	c := &client{
		base:  strings.TrimRight(base, "/"),
		token: token,
		http:  &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return &SDK{
		Status:   &statusImpl{c: c},
		Settings: &settingsImpl{c: c},
		Rules:    &rulesImpl{c: c},
		Tables:   &tablesImpl{c: c},
		States:   &statesImpl{c: c},
		Sources:  &sourcesImpl{c: c},
		Altq:     &altqImpl{c: c},
		c:        c,
	}
}

// BaseURL returns the API root the SDK talks to.
func (s *SDK) BaseURL() string {
	return s.c.base
}
