package sdk

import (
	"context"
	"net/http/httptest"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livp123/netxpf/internal/api"
	"github.com/livp123/netxpf/internal/config"
	"github.com/livp123/netxpf/internal/core"
	errs "github.com/livp123/netxpf/pkg/errors"
)

// newTestDaemon serves a fresh engine over the control API.
// newTestDaemon 通过控制 API 提供一个新的引擎。
func newTestDaemon(t *testing.T) (*core.Engine, string) {
	t.Helper()
	e := core.New()
	require.NoError(t, e.Start())
	srv, err := api.NewServer(e,
		config.APIConfig{AdminToken: "admin", ReadToken: "reader"},
		config.MetricsConfig{})
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return e, ts.URL
}

// TestSDK_NewSDK tests NewSDK function
// TestSDK_NewSDK 测试 NewSDK 函数
func TestSDK_NewSDK(t *testing.T) {
	s := NewSDK("127.0.0.1:11811", "")
	assert.Equal(t, "http://127.0.0.1:11811", s.BaseURL())
	assert.NotNil(t, s.Status)
	assert.NotNil(t, s.Settings)
	assert.NotNil(t, s.Rules)
	assert.NotNil(t, s.Tables)
	assert.NotNil(t, s.States)
	assert.NotNil(t, s.Sources)
	assert.NotNil(t, s.Altq)

	s = NewSDK("https://fw.example:8443/", "t")
	assert.Equal(t, "https://fw.example:8443", s.BaseURL())
}

func TestStatusAndSettings(t *testing.T) {
	_, url := newTestDaemon(t)
	ctx := context.Background()
	s := NewSDK(url, "admin")

	running, err := s.Status.Health(ctx)
	require.NoError(t, err)
	assert.True(t, running)

	id, err := s.Status.SetHostID(ctx, 0x1234)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x1234), id)

	st, err := s.Status.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x1234), st.HostID)

	old, err := s.Settings.SetLimit(ctx, "states", 500)
	require.NoError(t, err)
	assert.Equal(t, uint32(10000), old)
	v, err := s.Settings.Limit(ctx, "states")
	require.NoError(t, err)
	assert.Equal(t, uint32(500), v)

	_, err = s.Settings.Timeout(ctx, "no-such-timeout")
	assert.ErrorIs(t, err, errs.ErrInvalid)

	require.NoError(t, s.Status.Stop(ctx))
	assert.ErrorIs(t, s.Status.Stop(ctx), errs.ErrNotRunning)
	running, err = s.Status.Health(ctx)
	require.NoError(t, err)
	assert.False(t, running)
}

// TestErrorsCarryKinds checks failed calls unwrap to the daemon's error kind.
// TestErrorsCarryKinds 测试失败调用可解包为守护进程返回的错误类型。
func TestErrorsCarryKinds(t *testing.T) {
	_, url := newTestDaemon(t)
	ctx := context.Background()

	_, err := NewSDK(url, "").Status.Get(ctx)
	assert.ErrorIs(t, err, errs.ErrPermissionDenied)

	err = NewSDK(url, "reader").Status.Clear(ctx)
	assert.ErrorIs(t, err, errs.ErrPermissionDenied)

	_, err = NewSDK(url, "wrong").Status.Get(ctx)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 401, apiErr.Status)

	_, err = NewSDK(url, "reader").Rules.Get(ctx, "", core.ClassFilter, 99, 0, false)
	assert.ErrorIs(t, err, errs.ErrBusy)
}

func TestRulesetRoundTrip(t *testing.T) {
	e, url := newTestDaemon(t)
	ctx := context.Background()
	s := NewSDK(url, "admin")

	rs, err := config.ParseRuleset([]byte(`
tables:
  - name: lan
    addrs: [10.0.0.0/8, 192.168.0.0/16]
queues:
  - ifname: em0
    bandwidth: 100000000
  - ifname: em0
    qname: bulk
anchors:
  - path: ""
    rules:
      - action: pass
        from: <lan>
        queue: bulk
        label: lan
      - action: block
        anchor: "users/*"
  - path: users/alice
    rules:
      - action: pass
        proto: tcp
        to_port: "22"
`))
	require.NoError(t, err)

	n, err := s.Rules.Load(ctx, rs)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	list, err := s.Rules.List(ctx, "", core.ClassFilter)
	require.NoError(t, err)
	require.Len(t, list.Rules, 2)
	assert.Equal(t, "lan", list.Rules[0].Label)

	got, err := s.Rules.Get(ctx, "", core.ClassFilter, list.Ticket, 0, false)
	require.NoError(t, err)
	assert.Equal(t, "lan", got.Label)

	anchors, err := s.Rules.Anchors(ctx, "users")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, anchors)

	addrs, err := s.Tables.Addrs(ctx, "", "lan")
	require.NoError(t, err)
	assert.Len(t, addrs, 2)

	count, ticket, err := s.Altq.List(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, count)
	q, err := s.Altq.Get(ctx, ticket, 1)
	require.NoError(t, err)
	assert.Equal(t, "bulk", q.Queue.QName)

	require.NoError(t, s.Rules.Flush(ctx, "users/alice"))
	assert.Nil(t, e.Anchor("users/alice"))
}

func TestStatesImportAndKill(t *testing.T) {
	e, url := newTestDaemon(t)
	ctx := context.Background()
	s := NewSDK(url, "admin")

	mk := func(id uint64, port uint16) core.WireState {
		lan := core.Endpoint{Addr: netip.MustParseAddr("10.0.0.5"), Port: port}
		return core.WireState{
			ID: id, CreatorID: 9, IfName: "all",
			Lan: lan, Gwy: lan, Ext: core.Endpoint{Addr: netip.MustParseAddr("203.0.113.9"), Port: 53},
			Proto: 17, AF: core.AFInet, Direction: core.DirOut,
			Rule: -1, NatRule: -1, Anchor: -1, Expire: 60, Timeout: core.TimeoutUDPFirst,
		}
	}

	n, err := s.States.Add(ctx, []core.WireState{mk(1, 5000), mk(2, 5001), mk(1, 5002)})
	assert.ErrorIs(t, err, errs.ErrDuplicate)
	assert.Equal(t, 2, n)
	assert.Equal(t, int64(2), e.Allocations().States)

	states, err := s.States.List(ctx, `src_port == 5001`)
	require.NoError(t, err)
	require.Len(t, states, 1)
	assert.Equal(t, uint64(2), states[0].ID)

	killed, err := s.States.Kill(ctx, api.KillRequest{Proto: "udp", Dst: "203.0.113.0/24"})
	require.NoError(t, err)
	assert.Equal(t, 2, killed)

	nodes, err := s.Sources.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, nodes)
}
