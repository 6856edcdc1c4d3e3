package api

import (
	"net/http"

	"github.com/livp123/netxpf/internal/core"
	errs "github.com/livp123/netxpf/pkg/errors"
)

func (s *Server) handleStates(w http.ResponseWriter, r *http.Request, ops *core.Ops) {
	f, err := core.CompileStateFilter(r.URL.Query().Get("filter"))
	if err != nil {
		writeError(w, err)
		return
	}
	states, err := ops.StatesGet(f)
	if states == nil {
		states = []core.WireState{}
	}
	reply(w, states, err)
}

func (s *Server) handleStateGet(w http.ResponseWriter, r *http.Request, ops *core.Ops) {
	nr, err := pathInt(r, "nr")
	if err != nil {
		writeError(w, err)
		return
	}
	st, err := ops.StateGet(int(nr))
	reply(w, st, err)
}

// handleStatesAdd imports states in order and stops at the first failure.
// The count of imported states is returned with the error.
// handleStatesAdd 按顺序导入状态，遇到首个失败即停止。
func (s *Server) handleStatesAdd(w http.ResponseWriter, r *http.Request, ops *core.Ops) {
	var states []core.WireState
	if err := decode(r, &states); err != nil {
		writeError(w, err)
		return
	}
	for i, st := range states {
		if err := ops.StateAdd(st); err != nil {
			writeJSON(w, errs.HTTPStatus(err), struct {
				ErrorResponse
				Count int `json:"count"`
			}{ErrorResponse{Error: errs.Kind(err), Message: err.Error()}, i})
			return
		}
	}
	writeJSON(w, http.StatusOK, CountResponse{Count: len(states)})
}

func (s *Server) handleStatesKill(w http.ResponseWriter, r *http.Request, ops *core.Ops) {
	var req KillRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	f, err := req.KillFilter()
	if err != nil {
		writeError(w, err)
		return
	}
	n, err := ops.StatesKill(f)
	reply(w, CountResponse{Count: n}, err)
}

func (s *Server) handleStatesClear(w http.ResponseWriter, r *http.Request, ops *core.Ops) {
	n, err := ops.StatesClear(r.URL.Query().Get("ifname"))
	reply(w, CountResponse{Count: n}, err)
}

func (s *Server) handleNatLook(w http.ResponseWriter, r *http.Request, ops *core.Ops) {
	var req core.NatLookRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := ops.NatLook(req)
	reply(w, res, err)
}

func (s *Server) handleSources(w http.ResponseWriter, r *http.Request, ops *core.Ops) {
	f, err := core.CompileSrcNodeFilter(r.URL.Query().Get("filter"))
	if err != nil {
		writeError(w, err)
		return
	}
	nodes, err := ops.SourceNodesGet(f)
	if nodes == nil {
		nodes = []core.SrcNodeView{}
	}
	reply(w, nodes, err)
}

func (s *Server) handleSourcesClear(w http.ResponseWriter, r *http.Request, ops *core.Ops) {
	n, err := ops.SourceNodesClear()
	reply(w, CountResponse{Count: n}, err)
}

func (s *Server) handleSourcesKill(w http.ResponseWriter, r *http.Request, ops *core.Ops) {
	var req SourcesKillRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	src, err := ParseAddrMatch(req.Src)
	if err != nil {
		writeError(w, err)
		return
	}
	dst, err := ParseAddrMatch(req.Dst)
	if err != nil {
		writeError(w, err)
		return
	}
	n, err := ops.SourceNodesKill(src, dst)
	reply(w, CountResponse{Count: n}, err)
}
