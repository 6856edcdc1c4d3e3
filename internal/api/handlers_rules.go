package api

import (
	"net/http"

	"github.com/livp123/netxpf/internal/config"
	"github.com/livp123/netxpf/internal/core"
	"github.com/livp123/netxpf/internal/utils/logger"
)

// handleRulesetLoad replaces the anchors, tables and queues named in the
// body under one transaction.
// handleRulesetLoad 在单个事务中替换请求体中的锚点、表与队列。
func (s *Server) handleRulesetLoad(w http.ResponseWriter, r *http.Request, ops *core.Ops) {
	var rs config.Ruleset
	if err := decode(r, &rs); err != nil {
		writeError(w, err)
		return
	}
	n, err := config.Apply(ops, &rs)
	if err == nil {
		logger.Get(r.Context()).Infof("📥 [API] Ruleset loaded by %s: %d rules", r.RemoteAddr, n)
	}
	reply(w, LoadResponse{Rules: n}, err)
}

// handleRulesFlush empties every rule class of an anchor.
func (s *Server) handleRulesFlush(w http.ResponseWriter, r *http.Request, ops *core.Ops) {
	anchor := r.URL.Query().Get("anchor")
	_, err := config.Apply(ops, &config.Ruleset{Anchors: []config.AnchorDoc{{Path: anchor}}})
	reply(w, struct{}{}, err)
}

func (s *Server) handleRulesList(w http.ResponseWriter, r *http.Request, ops *core.Ops) {
	class, err := queryClass(r)
	if err != nil {
		writeError(w, err)
		return
	}
	rules, ticket, err := ops.RulesList(r.URL.Query().Get("anchor"), class)
	reply(w, RulesResponse{Ticket: ticket, Rules: rules}, err)
}

func (s *Server) handleRuleGet(w http.ResponseWriter, r *http.Request, ops *core.Ops) {
	class, err := queryClass(r)
	if err != nil {
		writeError(w, err)
		return
	}
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
	v, err := ops.RulesGet(r.URL.Query().Get("anchor"), class, uint32(ticket), int32(nr), queryBool(r, "clear"))
	reply(w, v, err)
}

func (s *Server) handleRulesAdd(w http.ResponseWriter, r *http.Request, ops *core.Ops) {
	var req RulesAddRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	reply(w, struct{}{}, ops.RulesAdd(req.Anchor, req.Ticket, req.PoolTicket, req.Rule))
}

func (s *Server) handleRuleChange(w http.ResponseWriter, r *http.Request, ops *core.Ops) {
	var req core.ChangeRuleRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	ticket, err := ops.ChangeRule(req)
	reply(w, TicketResponse{Ticket: ticket}, err)
}

func (s *Server) handleClearCounters(w http.ResponseWriter, r *http.Request, ops *core.Ops) {
	reply(w, struct{}{}, ops.ClearRuleCounters())
}

func (s *Server) handleAnchors(w http.ResponseWriter, r *http.Request, ops *core.Ops) {
	names, err := ops.RulesetsList(r.URL.Query().Get("path"))
	reply(w, names, err)
}

func (s *Server) handlePoolBegin(w http.ResponseWriter, r *http.Request, ops *core.Ops) {
	ticket, err := ops.PoolAddrBegin()
	reply(w, TicketResponse{Ticket: ticket}, err)
}

func (s *Server) handlePoolAdd(w http.ResponseWriter, r *http.Request, ops *core.Ops) {
	var req PoolAddRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	reply(w, struct{}{}, ops.PoolAddrAdd(req.Ticket, req.Addr))
}

func (s *Server) handlePools(w http.ResponseWriter, r *http.Request, ops *core.Ops) {
	class, err := queryClass(r)
	if err != nil {
		writeError(w, err)
		return
	}
	nr, err := queryUint(r, "nr", 0, 31)
	if err != nil {
		writeError(w, err)
		return
	}
	views, err := ops.PoolAddrsGet(r.URL.Query().Get("anchor"), class, int32(nr), queryBool(r, "last"))
	reply(w, views, err)
}

func (s *Server) handlePoolChange(w http.ResponseWriter, r *http.Request, ops *core.Ops) {
	var req core.PoolChangeRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	reply(w, struct{}{}, ops.PoolAddrChange(req))
}

func (s *Server) handleTables(w http.ResponseWriter, r *http.Request, ops *core.Ops) {
	views, err := ops.TablesGet(r.URL.Query().Get("anchor"))
	reply(w, views, err)
}

func (s *Server) handleTableAddrs(w http.ResponseWriter, r *http.Request, ops *core.Ops) {
	addrs, err := ops.TableAddrs(r.URL.Query().Get("anchor"), r.PathValue("name"))
	reply(w, addrs, err)
}

func (s *Server) handleTransBegin(w http.ResponseWriter, r *http.Request, ops *core.Ops) {
	var req TransRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	elems, err := ops.TransBegin(req.Elements)
	reply(w, TransRequest{Elements: elems}, err)
}

func (s *Server) handleTransCommit(w http.ResponseWriter, r *http.Request, ops *core.Ops) {
	var req TransRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	reply(w, struct{}{}, ops.TransCommit(req.Elements))
}

func (s *Server) handleTransRollback(w http.ResponseWriter, r *http.Request, ops *core.Ops) {
	var req TransRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	reply(w, struct{}{}, ops.TransRollback(req.Elements))
}
