package api

import (
	"net/http"

	"github.com/livp123/netxpf/internal/core"
	errs "github.com/livp123/netxpf/pkg/errors"
)

// handleHealth reports liveness without authentication.
// handleHealth 返回存活状态，无需认证。
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"running": s.engine.Running(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request, ops *core.Ops) {
	st, err := ops.StatusGet()
	reply(w, st, err)
}

func (s *Server) handleStatusClear(w http.ResponseWriter, r *http.Request, ops *core.Ops) {
	reply(w, struct{}{}, ops.StatusClear())
}

func (s *Server) handleStatusInterface(w http.ResponseWriter, r *http.Request, ops *core.Ops) {
	var req InterfaceRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	reply(w, struct{}{}, ops.SetStatusInterface(req.IfName))
}

func (s *Server) handleDebug(w http.ResponseWriter, r *http.Request, ops *core.Ops) {
	var req ValueRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Value < 0 || req.Value > 0xffffffff {
		writeError(w, errs.NewInvalidError("debug level %d", req.Value))
		return
	}
	reply(w, ValueResponse{Name: "debug", Value: uint32(req.Value)}, ops.SetDebug(uint32(req.Value)))
}

func (s *Server) handleHostID(w http.ResponseWriter, r *http.Request, ops *core.Ops) {
	var req ValueRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Value < 0 || req.Value > 0xffffffff {
		writeError(w, errs.NewInvalidError("host id %d", req.Value))
		return
	}
	id, err := ops.SetHostID(uint32(req.Value))
	reply(w, ValueResponse{Name: "hostid", Value: id}, err)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request, ops *core.Ops) {
	reply(w, struct{}{}, ops.Start())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request, ops *core.Ops) {
	reply(w, struct{}{}, ops.Stop())
}

func (s *Server) handleAllocations(w http.ResponseWriter, r *http.Request, ops *core.Ops) {
	a, err := ops.Allocations()
	reply(w, a, err)
}

func (s *Server) handleTimeouts(w http.ResponseWriter, r *http.Request, ops *core.Ops) {
	var out []ValueResponse
	for _, name := range core.TimeoutNames() {
		t, _ := core.ParseTimeout(name)
		v, err := ops.TimeoutGet(t)
		if err != nil {
			writeError(w, err)
			return
		}
		out = append(out, ValueResponse{Name: name, Value: v})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleTimeoutGet(w http.ResponseWriter, r *http.Request, ops *core.Ops) {
	t, err := core.ParseTimeout(r.PathValue("name"))
	if err != nil {
		writeError(w, err)
		return
	}
	v, err := ops.TimeoutGet(t)
	reply(w, ValueResponse{Name: t.String(), Value: v}, err)
}

func (s *Server) handleTimeoutSet(w http.ResponseWriter, r *http.Request, ops *core.Ops) {
	t, err := core.ParseTimeout(r.PathValue("name"))
	if err != nil {
		writeError(w, err)
		return
	}
	var req ValueRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	old, err := ops.TimeoutSet(t, req.Value)
	if err != nil {
		writeError(w, err)
		return
	}
	v, err := ops.TimeoutGet(t)
	reply(w, ValueResponse{Name: t.String(), Value: v, Old: old}, err)
}

func (s *Server) handleLimits(w http.ResponseWriter, r *http.Request, ops *core.Ops) {
	var out []ValueResponse
	for _, name := range core.LimitNames() {
		l, _ := core.ParseLimit(name)
		v, err := ops.LimitGet(l)
		if err != nil {
			writeError(w, err)
			return
		}
		out = append(out, ValueResponse{Name: name, Value: v})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleLimitGet(w http.ResponseWriter, r *http.Request, ops *core.Ops) {
	l, err := core.ParseLimit(r.PathValue("name"))
	if err != nil {
		writeError(w, err)
		return
	}
	v, err := ops.LimitGet(l)
	reply(w, ValueResponse{Name: l.String(), Value: v}, err)
}

func (s *Server) handleLimitSet(w http.ResponseWriter, r *http.Request, ops *core.Ops) {
	l, err := core.ParseLimit(r.PathValue("name"))
	if err != nil {
		writeError(w, err)
		return
	}
	var req ValueRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Value < 0 || req.Value > 0xffffffff {
		writeError(w, errs.NewInvalidError("limit %s value %d", l, req.Value))
		return
	}
	old, err := ops.LimitSet(l, uint32(req.Value))
	reply(w, ValueResponse{Name: l.String(), Value: uint32(req.Value), Old: old}, err)
}
