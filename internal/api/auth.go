package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/livp123/netxpf/internal/core"
	"github.com/livp123/netxpf/internal/utils/logger"
	errs "github.com/livp123/netxpf/pkg/errors"
)

// TokenHeader is accepted as an alternative to the Authorization header.
const TokenHeader = "X-NetXPF-Token"

// opsHandler serves a request with the caller's permission-checked ops.
type opsHandler func(w http.ResponseWriter, r *http.Request, ops *core.Ops)

// capability maps the request's token to a capability. A request without
// a token holds CapNone; ok is false for a token that matches nothing.
// capability 将请求令牌映射为权限，无令牌为 CapNone，未知令牌返回 ok=false。
func (s *Server) capability(r *http.Request) (c core.Capability, ok bool) {
	// 1. Check Authorization Header (Bearer <Token>)
	// 1. 检查授权头（Bearer <Token>）
	token := ""
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		token = strings.TrimPrefix(h, "Bearer ")
	}
	// 2. Fall back to the token header
	// 2. 回退到令牌头
	if token == "" {
		token = r.Header.Get(TokenHeader)
	}
	if token == "" {
		return core.CapNone, true
	}

	switch {
	case tokenEqual(token, s.cfg.AdminToken):
		return core.CapAdmin, true
	case tokenEqual(token, s.cfg.ReadToken):
		return core.CapRead, true
	}
	return core.CapNone, false
}

func tokenEqual(got, want string) bool {
	return want != "" && subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// withAuth resolves the caller's capability and hands the handler an Ops
// bound to it. Unknown tokens are rejected before any handler runs.
// withAuth 解析调用方权限并将绑定该权限的 Ops 交给处理函数。
func (s *Server) withAuth(next opsHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, ok := s.capability(r)
		if !ok {
			logger.Get(r.Context()).Warnf("⚠️  [API] Rejected unknown token from %s", r.RemoteAddr)
			writeErrorStatus(w, http.StatusUnauthorized, errs.NewPermissionError("invalid token"))
			return
		}
		next(w, r, core.NewOps(s.engine, c))
	})
}
