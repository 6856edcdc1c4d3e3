package core

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "github.com/livp123/netxpf/pkg/errors"
)

func TestMaxSrcStates(t *testing.T) {
	e, _ := newTestEngine(t)
	r := loadRules(t, e, "", ClassFilter, RuleSpec{Action: ActionPass, MaxSrcStates: 1})[0]

	insert(t, e, r, outKey("10.0.0.5", 1000, "203.0.113.9", 443), "")
	_, err := e.InsertState(StateSpec{Key: outKey("10.0.0.5", 1001, "203.0.113.9", 443), Rule: r})
	assert.ErrorIs(t, err, errs.ErrExhausted)
	insert(t, e, r, outKey("10.0.0.6", 1000, "203.0.113.9", 443), "")

	st := e.StatusGet()
	assert.Equal(t, uint64(1), st.LCounters["max-src-states"])
	assert.Equal(t, uint64(1), st.Counters["src-limit"])
	assert.Equal(t, 2, st.SrcNodes)

	nodes := e.SourceNodesGet(nil)
	require.Len(t, nodes, 2)
	assert.Equal(t, ip("10.0.0.5"), nodes[0].Addr)
	assert.Equal(t, 1, nodes[0].States)
	assert.Equal(t, int32(-1), nodes[0].Rule, "global source node")
}

func TestMaxSrcConnRejects(t *testing.T) {
	e, _ := newTestEngine(t)
	r := loadRules(t, e, "", ClassFilter, RuleSpec{Action: ActionPass, MaxSrcConn: 2})[0]

	insert(t, e, r, outKey("10.0.0.5", 1, "203.0.113.9", 443), "")
	insert(t, e, r, outKey("10.0.0.5", 2, "203.0.113.9", 443), "")
	_, err := e.InsertState(StateSpec{Key: outKey("10.0.0.5", 3, "203.0.113.9", 443), Rule: r})
	assert.ErrorIs(t, err, errs.ErrRateLimited)
	assert.Equal(t, uint64(1), e.StatusGet().LCounters["max-src-conn"])
	assert.Equal(t, int64(2), e.Allocations().States)
}

// TestOverloadFlush exceeds max-src-conn-rate: the source lands in the
// overload table and its states are flushed.
// TestOverloadFlush 测试超过连接速率后源地址进入 overload 表且其状态被清除。
func TestOverloadFlush(t *testing.T) {
	e, clk := newTestEngine(t)
	r := loadRules(t, e, "", ClassFilter, RuleSpec{
		Action:         ActionPass,
		MaxSrcConnRate: ConnRate{Limit: 3, Seconds: 10},
		Overload:       "bruteforce",
		Flush:          FlushRule,
	})[0]

	for i := uint16(0); i < 3; i++ {
		insert(t, e, r, outKey("10.0.0.5", 1000+i, "203.0.113.9", 22), "")
	}
	nodes := e.SourceNodesGet(nil)
	require.Len(t, nodes, 1)
	assert.Equal(t, uint32(3), nodes[0].ConnRate)

	_, err := e.InsertState(StateSpec{Key: outKey("10.0.0.5", 2000, "203.0.113.9", 22), Rule: r})
	require.ErrorIs(t, err, errs.ErrRateLimited)

	addrs, err := e.TableAddrs("", "bruteforce")
	require.NoError(t, err)
	assert.Equal(t, []netip.Prefix{prefix("10.0.0.5/32")}, addrs)
	lc := e.StatusGet().LCounters
	assert.Equal(t, uint64(1), lc["max-src-conn-rate"])
	assert.Equal(t, uint64(1), lc["overload-table-insertion"])
	assert.Equal(t, uint64(1), lc["overload-flush-states"])

	assert.Equal(t, 3, e.PurgeExpiredStates(10))
	assert.Equal(t, 1, e.PurgeExpiredSrcNodes())
	assert.Empty(t, e.SourceNodesGet(nil))

	// A new window admits again.
	clk.Advance(11 * time.Second)
	insert(t, e, r, outKey("10.0.0.5", 3000, "203.0.113.9", 22), "")
}

// TestStickyAddress reuses the translation address of a source node.
// TestStickyAddress 测试粘滞地址复用源节点记录的转换地址。
func TestStickyAddress(t *testing.T) {
	e, _ := newTestEngine(t)
	filter := loadRules(t, e, "", ClassFilter, RuleSpec{Action: ActionPass})[0]
	nat := loadPoolRule(t, e, RuleSpec{
		Action: ActionNAT,
		Pool:   PoolOpts{Policy: PoolRoundRobin, StickyAddr: true},
	}, "198.51.100.1/32", "198.51.100.2/32")

	a, pa, err := e.MapAddr(nat, ip("10.0.0.5"))
	require.NoError(t, err)
	assert.Equal(t, ip("198.51.100.1"), a)

	k := outKey("10.0.0.5", 1000, "203.0.113.9", 443)
	k.Gwy = Endpoint{Addr: a, Port: 50000}
	_, err = e.InsertState(StateSpec{Key: k, Rule: filter, NatRule: nat, PoolAddr: pa, NatAddr: a, Timeout: TimeoutTCPFirst})
	require.NoError(t, err)
	assert.Equal(t, 1, pa.States())

	again, _, err := e.MapAddr(nat, ip("10.0.0.5"))
	require.NoError(t, err)
	assert.Equal(t, ip("198.51.100.1"), again)

	other, _, err := e.MapAddr(nat, ip("10.0.0.6"))
	require.NoError(t, err)
	assert.Equal(t, ip("198.51.100.2"), other)

	nodes := e.SourceNodesGet(nil)
	require.Len(t, nodes, 1)
	assert.Equal(t, ip("198.51.100.1"), nodes[0].RAddr)
	assert.Equal(t, int32(0), nodes[0].Rule)
	assert.Equal(t, "nat", nodes[0].RuleType)

	n := e.SourceNodesKill(AddrMatch{}, AddrMatch{Prefix: prefix("198.51.100.1/32")})
	assert.Equal(t, 1, n)
	assert.Empty(t, e.SourceNodesGet(nil))
	assert.Len(t, e.StatesGet(nil), 1, "states survive their source node")
}

func TestSourceNodesClearKeepsZombieUntilStatesGo(t *testing.T) {
	e, clk := newTestEngine(t)
	r := loadRules(t, e, "", ClassFilter, RuleSpec{Action: ActionPass, RuleFlag: RuleFlagRuleSrcTrack})[0]
	insert(t, e, r, outKey("10.0.0.5", 1, "203.0.113.9", 443), "")
	insert(t, e, r, outKey("10.0.0.6", 1, "203.0.113.9", 443), "")
	require.Len(t, e.SourceNodesGet(nil), 2)

	loadRules(t, e, "", ClassFilter)
	assert.Equal(t, int64(1), e.Allocations().Rules, "zombie held by states and nodes")

	assert.Equal(t, 2, e.SourceNodesClear())
	assert.Zero(t, e.Allocations().SrcNodes)
	assert.Equal(t, int64(1), e.Allocations().Rules)

	clk.Advance(200 * time.Second)
	assert.Equal(t, 2, e.PurgeExpiredStates(10))
	assert.True(t, e.Allocations().Zero(), "%+v", e.Allocations())
}

func TestSourceNodeFilter(t *testing.T) {
	e, _ := newTestEngine(t)
	r := loadRules(t, e, "", ClassFilter, RuleSpec{Action: ActionPass, MaxSrcStates: 10})[0]
	insert(t, e, r, outKey("10.0.0.5", 1, "203.0.113.9", 443), "")
	insert(t, e, r, outKey("10.0.0.5", 2, "203.0.113.9", 443), "")
	insert(t, e, r, outKey("192.168.1.7", 1, "203.0.113.9", 443), "")

	f, err := CompileSrcNodeFilter(`states > 1 && InCIDR("10.0.0.0/8")`)
	require.NoError(t, err)
	got := e.SourceNodesGet(f)
	require.Len(t, got, 1)
	assert.Equal(t, ip("10.0.0.5"), got[0].Addr)
}

func TestSourceNodesKillDetachesStates(t *testing.T) {
	e, _ := newTestEngine(t)
	r := loadRules(t, e, "", ClassFilter, RuleSpec{Action: ActionPass, MaxSrcStates: 2})[0]
	a := insert(t, e, r, outKey("10.0.0.5", 1, "203.0.113.9", 443), "")
	b := insert(t, e, r, outKey("10.0.0.5", 2, "203.0.113.9", 443), "")

	assert.Equal(t, 1, e.SourceNodesKill(AddrMatch{Prefix: prefix("10.0.0.5/32")}, AddrMatch{}))
	assert.Zero(t, e.Allocations().SrcNodes)
	assert.Nil(t, a.srcNode)
	assert.Nil(t, b.srcNode)
	assert.Len(t, e.StatesGet(nil), 2)

	// A fresh node starts counting from zero. / 新节点从零开始计数
	insert(t, e, r, outKey("10.0.0.5", 3, "203.0.113.10", 443), "")
	insert(t, e, r, outKey("10.0.0.5", 4, "203.0.113.10", 443), "")
	_, err := e.InsertState(StateSpec{Key: outKey("10.0.0.5", 5, "203.0.113.10", 443), Rule: r})
	assert.ErrorIs(t, err, errs.ErrExhausted)

	// Detached states no longer touch the new node. / 已解除关联的状态不再影响新节点
	assert.Equal(t, 2, e.StatesKill(KillFilter{Dst: AddrMatch{Prefix: prefix("203.0.113.9/32")}}))
	nodes := e.SourceNodesGet(nil)
	require.Len(t, nodes, 1)
	assert.Equal(t, 2, nodes[0].States)
	assert.Equal(t, int64(1), e.Allocations().SrcNodes)
}
