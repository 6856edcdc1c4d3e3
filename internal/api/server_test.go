package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livp123/netxpf/internal/config"
	"github.com/livp123/netxpf/internal/core"
)

const (
	adminToken = "admin-secret"
	readToken  = "read-secret"
)

func newTestServer(t *testing.T) (*core.Engine, *httptest.Server) {
	t.Helper()
	e := core.New(core.WithHostID(0x0a0b0c0d))
	require.NoError(t, e.Start())
	s, err := NewServer(e,
		config.APIConfig{Listen: "127.0.0.1:0", AdminToken: adminToken, ReadToken: readToken},
		config.MetricsConfig{Enabled: true, Path: "/metrics"})
	require.NoError(t, err)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return e, ts
}

// call sends body as JSON and decodes the response into out when set.
func call(t *testing.T, ts *httptest.Server, method, path, token string, body, out any) int {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ts.URL+path, rd)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

// TestTokensMapToCapabilities checks every capability level end to end.
// TestTokensMapToCapabilities 测试令牌到权限的映射。
func TestTokensMapToCapabilities(t *testing.T) {
	_, ts := newTestServer(t)

	var er ErrorResponse
	assert.Equal(t, http.StatusForbidden, call(t, ts, "GET", Prefix+"/status", "", nil, &er))
	assert.Equal(t, "permission-denied", er.Error)

	var st core.Status
	assert.Equal(t, http.StatusOK, call(t, ts, "GET", Prefix+"/status", readToken, nil, &st))
	assert.True(t, st.Running)
	assert.Equal(t, uint32(0x0a0b0c0d), st.HostID)

	assert.Equal(t, http.StatusForbidden, call(t, ts, "POST", Prefix+"/status/clear", readToken, nil, &er))
	assert.Equal(t, http.StatusOK, call(t, ts, "POST", Prefix+"/status/clear", adminToken, nil, nil))
	assert.Equal(t, http.StatusUnauthorized, call(t, ts, "GET", Prefix+"/status", "guess", nil, &er))

	req, err := http.NewRequest("GET", ts.URL+Prefix+"/allocations", nil)
	require.NoError(t, err)
	req.Header.Set(TokenHeader, readToken)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestTimeoutsAndErrors(t *testing.T) {
	_, ts := newTestServer(t)

	var v ValueResponse
	require.Equal(t, http.StatusOK, call(t, ts, "PUT", Prefix+"/timeouts/tcp.first", adminToken, ValueRequest{Value: 30}, &v))
	assert.Equal(t, uint32(120), v.Old)
	assert.Equal(t, uint32(30), v.Value)

	require.Equal(t, http.StatusOK, call(t, ts, "GET", Prefix+"/timeouts/tcp.first", readToken, nil, &v))
	assert.Equal(t, uint32(30), v.Value)

	var all []ValueResponse
	require.Equal(t, http.StatusOK, call(t, ts, "GET", Prefix+"/limits", readToken, nil, &all))
	assert.Len(t, all, len(core.LimitNames()))

	var er ErrorResponse
	assert.Equal(t, http.StatusBadRequest, call(t, ts, "PUT", Prefix+"/timeouts/bogus", adminToken, ValueRequest{Value: 1}, &er))
	assert.Equal(t, "invalid", er.Error)
	assert.NotEmpty(t, er.Message)

	assert.Equal(t, http.StatusConflict, call(t, ts, "POST", Prefix+"/start", adminToken, nil, &er))
	assert.Equal(t, "exists", er.Error)
}

// TestRulesetLoadThroughAPI loads a ruleset, lists it and flushes it.
// TestRulesetLoadThroughAPI 测试通过 API 加载、列出与清空规则集。
func TestRulesetLoadThroughAPI(t *testing.T) {
	e, ts := newTestServer(t)
	rs := config.Ruleset{
		Tables: []config.TableDoc{{Name: "lan", Addrs: []string{"10.0.0.0/8"}}},
		Anchors: []config.AnchorDoc{{Rules: []config.RuleDoc{
			{Action: "pass", From: "<lan>", Label: "lan-out"},
			{Action: "block", Label: "rest"},
		}}},
	}
	var lr LoadResponse
	require.Equal(t, http.StatusOK, call(t, ts, "POST", Prefix+"/rulesets/load", adminToken, rs, &lr))
	assert.Equal(t, 2, lr.Rules)

	var rules RulesResponse
	require.Equal(t, http.StatusOK, call(t, ts, "GET", Prefix+"/rules?class=filter", readToken, nil, &rules))
	require.Len(t, rules.Rules, 2)
	assert.Equal(t, "lan-out", rules.Rules[0].Label)

	var one core.RuleView
	path := Prefix + "/rules/1?ticket=" + strconv.FormatUint(uint64(rules.Ticket), 10)
	require.Equal(t, http.StatusOK, call(t, ts, "GET", path, readToken, nil, &one))
	assert.Equal(t, "rest", one.Label)

	var addrs []netip.Prefix
	require.Equal(t, http.StatusOK, call(t, ts, "GET", Prefix+"/tables/lan", readToken, nil, &addrs))
	assert.Equal(t, []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}, addrs)

	var er ErrorResponse
	assert.Equal(t, http.StatusBadRequest, call(t, ts, "GET", Prefix+"/rules?class=bogus", readToken, nil, &er))

	require.Equal(t, http.StatusOK, call(t, ts, "POST", Prefix+"/rules/flush", adminToken, nil, nil))
	assert.Zero(t, e.Allocations().Rules)
}

func TestStatesThroughAPI(t *testing.T) {
	e, ts := newTestServer(t)
	states := []core.WireState{
		stateFixture(1, "10.0.0.5", 40000, "203.0.113.9", 22),
		stateFixture(2, "10.0.0.6", 40001, "203.0.113.9", 443),
	}
	var cr CountResponse
	require.Equal(t, http.StatusOK, call(t, ts, "POST", Prefix+"/states", adminToken, states, &cr))
	assert.Equal(t, 2, cr.Count)
	assert.Equal(t, int64(2), e.Allocations().States)

	var got []core.WireState
	require.Equal(t, http.StatusOK, call(t, ts, "GET", Prefix+"/states?filter=dst_port+%3D%3D+22", readToken, nil, &got))
	require.Len(t, got, 1)
	assert.Equal(t, uint64(1), got[0].ID)

	var dup struct {
		ErrorResponse
		Count int `json:"count"`
	}
	assert.Equal(t, http.StatusConflict, call(t, ts, "POST", Prefix+"/states", adminToken, states[:1], &dup))
	assert.Equal(t, "duplicate", dup.Error)
	assert.Zero(t, dup.Count)

	require.Equal(t, http.StatusOK, call(t, ts, "POST", Prefix+"/states/kill", adminToken,
		KillRequest{Src: "10.0.0.6", DstPort: "443"}, &cr))
	assert.Equal(t, 1, cr.Count)

	var srcs []core.SrcNodeView
	require.Equal(t, http.StatusOK, call(t, ts, "GET", Prefix+"/sources", readToken, nil, &srcs))
	assert.Empty(t, srcs)
}

func TestHealthAndMetrics(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := ts.Client().Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = ts.Client().Get(ts.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), "netxpf_running 1")
}

func TestParseAddrMatch(t *testing.T) {
	m, err := ParseAddrMatch("!10.0.0.0/8")
	require.NoError(t, err)
	assert.True(t, m.Neg)
	assert.False(t, m.Match(netip.MustParseAddr("10.1.1.1")))

	m, err = ParseAddrMatch("")
	require.NoError(t, err)
	assert.True(t, m.Match(netip.MustParseAddr("192.0.2.1")))

	_, err = ParseAddrMatch("10.0.0.0/33")
	assert.Error(t, err)
}

func stateFixture(id uint64, lan string, lport uint16, ext string, eport uint16) core.WireState {
	l := core.Endpoint{Addr: netip.MustParseAddr(lan), Port: lport}
	return core.WireState{
		ID: id, CreatorID: 7, IfName: "all",
		Lan: l, Gwy: l, Ext: core.Endpoint{Addr: netip.MustParseAddr(ext), Port: eport},
		Proto: 6, AF: core.AFInet, Direction: core.DirOut,
		Rule: -1, NatRule: -1, Anchor: -1, Expire: 300, Timeout: core.TimeoutTCPFirst,
	}
}
