package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/livp123/netxpf/internal/config"
	"github.com/livp123/netxpf/internal/core"
	"github.com/livp123/netxpf/internal/metrics"
	"github.com/livp123/netxpf/internal/utils/logger"
)

// Prefix is the path every control endpoint lives under.
const Prefix = "/api/v1"

// Server is the HTTP control API of one engine. Callers authenticate with
// a bearer token that maps to a capability.
// Server 是引擎的 HTTP 控制 API，调用方通过令牌获得相应权限。
type Server struct {
	engine  *core.Engine
	cfg     config.APIConfig
	metrics config.MetricsConfig
	reg     *prometheus.Registry
	server  *http.Server
}

// NewServer creates a server for e. The metrics collector is registered on
// a private registry when metrics are enabled.
// NewServer 为引擎创建服务器，启用指标时在独立的注册表上注册采集器。
func NewServer(e *core.Engine, cfg config.APIConfig, mcfg config.MetricsConfig) (*Server, error) {
	s := &Server{engine: e, cfg: cfg, metrics: mcfg}
	if mcfg.Enabled {
		s.reg = prometheus.NewRegistry()
		if err := metrics.Register(s.reg, e); err != nil {
			return nil, err
		}
		if err := s.reg.Register(collectors.NewGoCollector()); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Handler builds the request router.
// Handler 构建请求路由。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.reg != nil {
		mux.Handle("GET "+s.metrics.Path, promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{}))
	}

	// Status, timeouts and limits / 状态、超时与限制
	s.route(mux, "GET /status", s.handleStatus)
	s.route(mux, "POST /status/clear", s.handleStatusClear)
	s.route(mux, "PUT /status/interface", s.handleStatusInterface)
	s.route(mux, "PUT /debug", s.handleDebug)
	s.route(mux, "PUT /hostid", s.handleHostID)
	s.route(mux, "POST /start", s.handleStart)
	s.route(mux, "POST /stop", s.handleStop)
	s.route(mux, "GET /allocations", s.handleAllocations)
	s.route(mux, "GET /timeouts", s.handleTimeouts)
	s.route(mux, "GET /timeouts/{name}", s.handleTimeoutGet)
	s.route(mux, "PUT /timeouts/{name}", s.handleTimeoutSet)
	s.route(mux, "GET /limits", s.handleLimits)
	s.route(mux, "GET /limits/{name}", s.handleLimitGet)
	s.route(mux, "PUT /limits/{name}", s.handleLimitSet)

	// Rules, anchors, pools, tables and transactions / 规则、锚点、地址池、表与事务
	s.route(mux, "POST /rulesets/load", s.handleRulesetLoad)
	s.route(mux, "POST /rules/flush", s.handleRulesFlush)
	s.route(mux, "GET /rules", s.handleRulesList)
	s.route(mux, "GET /rules/{nr}", s.handleRuleGet)
	s.route(mux, "POST /rules/add", s.handleRulesAdd)
	s.route(mux, "POST /rules/change", s.handleRuleChange)
	s.route(mux, "POST /rules/clear-counters", s.handleClearCounters)
	s.route(mux, "GET /anchors", s.handleAnchors)
	s.route(mux, "POST /pools/begin", s.handlePoolBegin)
	s.route(mux, "POST /pools/add", s.handlePoolAdd)
	s.route(mux, "GET /pools", s.handlePools)
	s.route(mux, "POST /pools/change", s.handlePoolChange)
	s.route(mux, "GET /tables", s.handleTables)
	s.route(mux, "GET /tables/{name}", s.handleTableAddrs)
	s.route(mux, "POST /transactions/begin", s.handleTransBegin)
	s.route(mux, "POST /transactions/commit", s.handleTransCommit)
	s.route(mux, "POST /transactions/rollback", s.handleTransRollback)

	// States and source nodes / 状态与源节点
	s.route(mux, "GET /states", s.handleStates)
	s.route(mux, "GET /states/{nr}", s.handleStateGet)
	s.route(mux, "POST /states", s.handleStatesAdd)
	s.route(mux, "POST /states/kill", s.handleStatesKill)
	s.route(mux, "POST /states/clear", s.handleStatesClear)
	s.route(mux, "POST /natlook", s.handleNatLook)
	s.route(mux, "GET /sources", s.handleSources)
	s.route(mux, "POST /sources/clear", s.handleSourcesClear)
	s.route(mux, "POST /sources/kill", s.handleSourcesKill)

	// ALTQ / 流量队列
	s.route(mux, "POST /altq/start", s.handleAltqStart)
	s.route(mux, "POST /altq/stop", s.handleAltqStop)
	s.route(mux, "GET /altq", s.handleAltqs)
	s.route(mux, "GET /altq/{nr}", s.handleAltqGet)

	return mux
}

func (s *Server) route(mux *http.ServeMux, pattern string, h opsHandler) {
	method, path, _ := cutPattern(pattern)
	mux.Handle(method+" "+Prefix+path, s.withAuth(h))
}

// Serve accepts connections on l until ctx is cancelled, then shuts down
// gracefully.
// Serve 在 l 上接受连接，ctx 取消后优雅关闭。
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	log := logger.Get(ctx)
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("🚀 [API] Control API listening on http://%s%s", l.Addr(), Prefix)
		errCh <- s.server.Serve(l)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		log.Infof("🛑 [API] Shutting down control API")
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	}
}

// ListenAndServe listens on the configured address and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context) error {
	l, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return err
	}
	return s.Serve(ctx, l)
}
