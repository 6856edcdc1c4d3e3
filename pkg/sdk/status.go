package sdk

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"github.com/livp123/netxpf/internal/api"
	"github.com/livp123/netxpf/internal/core"
)

type statusImpl struct {
	c *client
}

func (s *statusImpl) Health(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.c.base+"/healthz", nil)
	if err != nil {
		return false, err
	}
	resp, err := s.c.http.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, decodeError(resp)
	}
	var h struct {
		Running bool `json:"running"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return false, err
	}
	return h.Running, nil
}

func (s *statusImpl) Get(ctx context.Context) (core.Status, error) {
	var st core.Status
	err := s.c.do(ctx, http.MethodGet, "/status", nil, nil, &st)
	return st, err
}

func (s *statusImpl) Clear(ctx context.Context) error {
	return s.c.do(ctx, http.MethodPost, "/status/clear", nil, nil, nil)
}

func (s *statusImpl) Start(ctx context.Context) error {
	return s.c.do(ctx, http.MethodPost, "/start", nil, nil, nil)
}

func (s *statusImpl) Stop(ctx context.Context) error {
	return s.c.do(ctx, http.MethodPost, "/stop", nil, nil, nil)
}

func (s *statusImpl) SetInterface(ctx context.Context, ifname string) error {
	return s.c.do(ctx, http.MethodPut, "/status/interface", nil, api.InterfaceRequest{IfName: ifname}, nil)
}

func (s *statusImpl) SetDebug(ctx context.Context, level uint32) error {
	return s.c.do(ctx, http.MethodPut, "/debug", nil, api.ValueRequest{Value: int64(level)}, nil)
}

func (s *statusImpl) SetHostID(ctx context.Context, id uint32) (uint32, error) {
	var v api.ValueResponse
	err := s.c.do(ctx, http.MethodPut, "/hostid", nil, api.ValueRequest{Value: int64(id)}, &v)
	return v.Value, err
}

func (s *statusImpl) Allocations(ctx context.Context) (core.Allocations, error) {
	var a core.Allocations
	err := s.c.do(ctx, http.MethodGet, "/allocations", nil, nil, &a)
	return a, err
}

type settingsImpl struct {
	c *client
}

func (s *settingsImpl) Timeouts(ctx context.Context) ([]api.ValueResponse, error) {
	var out []api.ValueResponse
	err := s.c.do(ctx, http.MethodGet, "/timeouts", nil, nil, &out)
	return out, err
}

func (s *settingsImpl) Timeout(ctx context.Context, name string) (uint32, error) {
	var v api.ValueResponse
	err := s.c.do(ctx, http.MethodGet, "/timeouts/"+url.PathEscape(name), nil, nil, &v)
	return v.Value, err
}

func (s *settingsImpl) SetTimeout(ctx context.Context, name string, seconds int64) (uint32, error) {
	var v api.ValueResponse
	err := s.c.do(ctx, http.MethodPut, "/timeouts/"+url.PathEscape(name), nil, api.ValueRequest{Value: seconds}, &v)
	return v.Old, err
}

func (s *settingsImpl) Limits(ctx context.Context) ([]api.ValueResponse, error) {
	var out []api.ValueResponse
	err := s.c.do(ctx, http.MethodGet, "/limits", nil, nil, &out)
	return out, err
}

func (s *settingsImpl) Limit(ctx context.Context, name string) (uint32, error) {
	var v api.ValueResponse
	err := s.c.do(ctx, http.MethodGet, "/limits/"+url.PathEscape(name), nil, nil, &v)
	return v.Value, err
}

func (s *settingsImpl) SetLimit(ctx context.Context, name string, limit uint32) (uint32, error) {
	var v api.ValueResponse
	err := s.c.do(ctx, http.MethodPut, "/limits/"+url.PathEscape(name), nil, api.ValueRequest{Value: int64(limit)}, &v)
	return v.Old, err
}

func classQuery(anchor string, class core.Class) url.Values {
	q := url.Values{}
	if anchor != "" {
		q.Set("anchor", anchor)
	}
	q.Set("class", class.String())
	return q
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
