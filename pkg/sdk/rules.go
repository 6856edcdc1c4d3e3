package sdk

import (
	"context"
	"net/http"
	"net/netip"
	"net/url"

	"github.com/livp123/netxpf/internal/api"
	"github.com/livp123/netxpf/internal/config"
	"github.com/livp123/netxpf/internal/core"
)

type rulesImpl struct {
	c *client
}

func (r *rulesImpl) Load(ctx context.Context, rs *config.Ruleset) (int, error) {
	var lr api.LoadResponse
	err := r.c.do(ctx, http.MethodPost, "/rulesets/load", nil, rs, &lr)
	return lr.Rules, err
}

func (r *rulesImpl) Flush(ctx context.Context, anchor string) error {
	q := url.Values{}
	if anchor != "" {
		q.Set("anchor", anchor)
	}
	return r.c.do(ctx, http.MethodPost, "/rules/flush", q, nil, nil)
}

func (r *rulesImpl) List(ctx context.Context, anchor string, class core.Class) (api.RulesResponse, error) {
	var out api.RulesResponse
	err := r.c.do(ctx, http.MethodGet, "/rules", classQuery(anchor, class), nil, &out)
	return out, err
}

func (r *rulesImpl) Get(ctx context.Context, anchor string, class core.Class, ticket uint32, nr int32, clear bool) (core.RuleView, error) {
	q := classQuery(anchor, class)
	q.Set("ticket", itoa(int64(ticket)))
	if clear {
		q.Set("clear", "true")
	}
	var v core.RuleView
	err := r.c.do(ctx, http.MethodGet, "/rules/"+itoa(int64(nr)), q, nil, &v)
	return v, err
}

func (r *rulesImpl) Add(ctx context.Context, req api.RulesAddRequest) error {
	return r.c.do(ctx, http.MethodPost, "/rules/add", nil, req, nil)
}

func (r *rulesImpl) Change(ctx context.Context, req core.ChangeRuleRequest) (uint32, error) {
	var t api.TicketResponse
	err := r.c.do(ctx, http.MethodPost, "/rules/change", nil, req, &t)
	return t.Ticket, err
}

func (r *rulesImpl) ClearCounters(ctx context.Context) error {
	return r.c.do(ctx, http.MethodPost, "/rules/clear-counters", nil, nil, nil)
}

func (r *rulesImpl) Anchors(ctx context.Context, path string) ([]string, error) {
	var out []string
	err := r.c.do(ctx, http.MethodGet, "/anchors", url.Values{"path": {path}}, nil, &out)
	return out, err
}

func (r *rulesImpl) PoolBegin(ctx context.Context) (uint32, error) {
	var t api.TicketResponse
	err := r.c.do(ctx, http.MethodPost, "/pools/begin", nil, nil, &t)
	return t.Ticket, err
}

func (r *rulesImpl) PoolAdd(ctx context.Context, ticket uint32, addr core.PoolAddrSpec) error {
	return r.c.do(ctx, http.MethodPost, "/pools/add", nil, api.PoolAddRequest{Ticket: ticket, Addr: addr}, nil)
}

func (r *rulesImpl) Pool(ctx context.Context, anchor string, class core.Class, nr int32, last bool) ([]core.PoolAddrView, error) {
	q := classQuery(anchor, class)
	q.Set("nr", itoa(int64(nr)))
	if last {
		q.Set("last", "true")
	}
	var out []core.PoolAddrView
	err := r.c.do(ctx, http.MethodGet, "/pools", q, nil, &out)
	return out, err
}

func (r *rulesImpl) PoolChange(ctx context.Context, req core.PoolChangeRequest) error {
	return r.c.do(ctx, http.MethodPost, "/pools/change", nil, req, nil)
}

func (r *rulesImpl) TransBegin(ctx context.Context, elems []core.TransElement) ([]core.TransElement, error) {
	var out api.TransRequest
	err := r.c.do(ctx, http.MethodPost, "/transactions/begin", nil, api.TransRequest{Elements: elems}, &out)
	return out.Elements, err
}

func (r *rulesImpl) TransCommit(ctx context.Context, elems []core.TransElement) error {
	return r.c.do(ctx, http.MethodPost, "/transactions/commit", nil, api.TransRequest{Elements: elems}, nil)
}

func (r *rulesImpl) TransRollback(ctx context.Context, elems []core.TransElement) error {
	return r.c.do(ctx, http.MethodPost, "/transactions/rollback", nil, api.TransRequest{Elements: elems}, nil)
}

type tablesImpl struct {
	c *client
}

func (t *tablesImpl) List(ctx context.Context, anchor string) ([]core.TableView, error) {
	var out []core.TableView
	err := t.c.do(ctx, http.MethodGet, "/tables", anchorQuery(anchor), nil, &out)
	return out, err
}

func (t *tablesImpl) Addrs(ctx context.Context, anchor, name string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	err := t.c.do(ctx, http.MethodGet, "/tables/"+url.PathEscape(name), anchorQuery(anchor), nil, &out)
	return out, err
}

func anchorQuery(anchor string) url.Values {
	if anchor == "" {
		return nil
	}
	return url.Values{"anchor": {anchor}}
}
