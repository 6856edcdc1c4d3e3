package api

import (
	"net/http"

	"github.com/livp123/netxpf/internal/core"
)

func (s *Server) handleAltqStart(w http.ResponseWriter, r *http.Request, ops *core.Ops) {
	reply(w, struct{}{}, ops.AltqStart())
}

func (s *Server) handleAltqStop(w http.ResponseWriter, r *http.Request, ops *core.Ops) {
	reply(w, struct{}{}, ops.AltqStop())
}

func (s *Server) handleAltqs(w http.ResponseWriter, r *http.Request, ops *core.Ops) {
	n, ticket, err := ops.AltqsGet()
	reply(w, AltqResponse{Count: n, Ticket: ticket}, err)
}

// handleAltqGet returns queue nr of the list identified by ?ticket= with
// its scheduler statistics.
// handleAltqGet 返回指定票据下第 nr 个队列及其统计。
func (s *Server) handleAltqGet(w http.ResponseWriter, r *http.Request, ops *core.Ops) {
	nr, err := pathInt(r, "nr")
	if err != nil {
		writeError(w, err)
		return
	}
	ticket, err := queryUint(r, "ticket", 0, 32)
	if err != nil {
		writeError(w, err)
		return
	}
	q, err := ops.AltqGet(uint32(ticket), int(nr))
	if err != nil {
		writeError(w, err)
		return
	}
	st, err := ops.AltqStats(uint32(ticket), int(nr))
	reply(w, QueueResponse{Queue: q, Stats: st}, err)
}
