package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/livp123/netxpf/internal/api"
	"github.com/livp123/netxpf/internal/core"
	errs "github.com/livp123/netxpf/pkg/errors"
)

type statesImpl struct {
	c *client
}

func filterQuery(filter string) url.Values {
	if filter == "" {
		return nil
	}
	return url.Values{"filter": {filter}}
}

func (s *statesImpl) List(ctx context.Context, filter string) ([]core.WireState, error) {
	var out []core.WireState
	err := s.c.do(ctx, http.MethodGet, "/states", filterQuery(filter), nil, &out)
	return out, err
}

func (s *statesImpl) Get(ctx context.Context, nr int) (core.WireState, error) {
	var w core.WireState
	err := s.c.do(ctx, http.MethodGet, "/states/"+itoa(int64(nr)), nil, nil, &w)
	return w, err
}

// Add reads the partial count from the error body so the caller knows
// where an import stopped.
// Add 从错误响应中读取已导入数量，以便调用方得知导入中断的位置。
func (s *statesImpl) Add(ctx context.Context, states []core.WireState) (int, error) {
	data, err := json.Marshal(states)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.c.base+api.Prefix+"/states", bytes.NewReader(data))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.c.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.c.token)
	}
	resp, err := s.c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request POST /states: %w", err)
	}
	defer resp.Body.Close()

	var body struct {
		api.ErrorResponse
		Count int `json:"count"`
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, err
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return 0, fmt.Errorf("unexpected status %s: %s", resp.Status, raw)
	}
	if resp.StatusCode == http.StatusOK {
		return body.Count, nil
	}
	kind := errs.FromKind(body.Error)
	if kind == nil {
		return body.Count, fmt.Errorf("%s: %s", body.Error, body.Message)
	}
	return body.Count, &APIError{Status: resp.StatusCode, Kind: kind, Message: body.Message}
}

func (s *statesImpl) Kill(ctx context.Context, req api.KillRequest) (int, error) {
	var n api.CountResponse
	err := s.c.do(ctx, http.MethodPost, "/states/kill", nil, req, &n)
	return n.Count, err
}

func (s *statesImpl) Clear(ctx context.Context, ifname string) (int, error) {
	var q url.Values
	if ifname != "" {
		q = url.Values{"ifname": {ifname}}
	}
	var n api.CountResponse
	err := s.c.do(ctx, http.MethodPost, "/states/clear", q, nil, &n)
	return n.Count, err
}

func (s *statesImpl) NatLook(ctx context.Context, req core.NatLookRequest) (core.NatLookResult, error) {
	var res core.NatLookResult
	err := s.c.do(ctx, http.MethodPost, "/natlook", nil, req, &res)
	return res, err
}

type sourcesImpl struct {
	c *client
}

func (s *sourcesImpl) List(ctx context.Context, filter string) ([]core.SrcNodeView, error) {
	var out []core.SrcNodeView
	err := s.c.do(ctx, http.MethodGet, "/sources", filterQuery(filter), nil, &out)
	return out, err
}

func (s *sourcesImpl) Clear(ctx context.Context) (int, error) {
	var n api.CountResponse
	err := s.c.do(ctx, http.MethodPost, "/sources/clear", nil, nil, &n)
	return n.Count, err
}

func (s *sourcesImpl) Kill(ctx context.Context, src, dst string) (int, error) {
	var n api.CountResponse
	err := s.c.do(ctx, http.MethodPost, "/sources/kill", nil, api.SourcesKillRequest{Src: src, Dst: dst}, &n)
	return n.Count, err
}

type altqImpl struct {
	c *client
}

func (a *altqImpl) Start(ctx context.Context) error {
	return a.c.do(ctx, http.MethodPost, "/altq/start", nil, nil, nil)
}

func (a *altqImpl) Stop(ctx context.Context) error {
	return a.c.do(ctx, http.MethodPost, "/altq/stop", nil, nil, nil)
}

func (a *altqImpl) List(ctx context.Context) (int, uint32, error) {
	var r api.AltqResponse
	err := a.c.do(ctx, http.MethodGet, "/altq", nil, nil, &r)
	return r.Count, r.Ticket, err
}

func (a *altqImpl) Get(ctx context.Context, ticket uint32, nr int) (api.QueueResponse, error) {
	var r api.QueueResponse
	q := url.Values{"ticket": {itoa(int64(ticket))}}
	err := a.c.do(ctx, http.MethodGet, "/altq/"+itoa(int64(nr)), q, nil, &r)
	return r, err
}
