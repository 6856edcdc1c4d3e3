package core

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "github.com/livp123/netxpf/pkg/errors"
)

func newTestPool(policy PoolPolicy, entries ...string) *Pool {
	p := newPool(PoolOpts{Policy: policy, Key: [2]uint64{1, 2}}, PrefixMatcher{})
	for _, s := range entries {
		p.Insert(p.Len(), &PoolAddr{PoolAddrSpec: PoolAddrSpec{Addr: maskAddr(s)}})
	}
	return p
}

// TestRoundRobinWalksEveryAddress steps through each prefix, then wraps.
// TestRoundRobinWalksEveryAddress 测试轮询遍历每个前缀中的地址后回绕。
func TestRoundRobinWalksEveryAddress(t *testing.T) {
	p := newTestPool(PoolRoundRobin, "10.0.0.0/31", "10.0.1.1/32")
	want := []string{"10.0.0.0", "10.0.0.1", "10.0.1.1", "10.0.0.0"}
	for i, w := range want {
		a, pa, err := p.Next(ip("172.16.0.1"))
		require.NoError(t, err, "step %d", i)
		assert.Equal(t, ip(w), a, "step %d", i)
		assert.True(t, pa.Addr.Prefix.Contains(a))
	}
}

func TestCursorRepairOnRemove(t *testing.T) {
	p := newTestPool(PoolRoundRobin, "10.0.0.1/32", "10.0.0.2/32", "10.0.0.3/32")
	_, _, err := p.Next(netip.Addr{})
	require.NoError(t, err)
	assert.Equal(t, ip("10.0.0.2"), p.Cursor().Addr.Prefix.Addr())

	_, err = p.Remove(1)
	require.NoError(t, err)
	assert.Equal(t, ip("10.0.0.3"), p.Cursor().Addr.Prefix.Addr())

	_, err = p.Remove(1)
	require.NoError(t, err)
	assert.Equal(t, ip("10.0.0.1"), p.Cursor().Addr.Prefix.Addr(), "wraps to head")

	_, err = p.Remove(0)
	require.NoError(t, err)
	assert.Nil(t, p.Cursor())
	assert.Zero(t, p.Len())

	_, err = p.Remove(0)
	assert.ErrorIs(t, err, errs.ErrNotFound)
	_, _, err = p.Next(ip("172.16.0.1"))
	assert.ErrorIs(t, err, errs.ErrExhausted)
}

func TestInsertSetsCursorOnEmptyPool(t *testing.T) {
	p := newTestPool(PoolRoundRobin)
	assert.Nil(t, p.Cursor())
	p.Insert(0, &PoolAddr{PoolAddrSpec: PoolAddrSpec{Addr: maskAddr("10.0.0.9/32")}})
	require.NotNil(t, p.Cursor())
	a, _, err := p.Next(ip("172.16.0.1"))
	require.NoError(t, err)
	assert.Equal(t, ip("10.0.0.9"), a)
}

func TestPoolPolicies(t *testing.T) {
	src := ip("10.1.2.3")

	t.Run("none", func(t *testing.T) {
		a, _, err := newTestPool(PoolNone, "192.0.2.64/26").Next(src)
		require.NoError(t, err)
		assert.Equal(t, ip("192.0.2.64"), a)
	})

	t.Run("bitmask", func(t *testing.T) {
		a, _, err := newTestPool(PoolBitmask, "192.0.2.0/24").Next(src)
		require.NoError(t, err)
		assert.Equal(t, ip("192.0.2.3"), a)
	})

	t.Run("source-hash", func(t *testing.T) {
		p := newTestPool(PoolSourceHash, "192.0.2.0/24", "198.51.100.0/24")
		a1, pa1, err := p.Next(src)
		require.NoError(t, err)
		a2, pa2, err := p.Next(src)
		require.NoError(t, err)
		assert.Equal(t, a1, a2)
		assert.Same(t, pa1, pa2)
		assert.True(t, pa1.Addr.Prefix.Contains(a1))
	})

	t.Run("random", func(t *testing.T) {
		p := newTestPool(PoolRandom, "192.0.2.0/28")
		for i := 0; i < 20; i++ {
			a, _, err := p.Next(src)
			require.NoError(t, err)
			assert.True(t, prefix("192.0.2.0/28").Contains(a))
		}
	})

	t.Run("least-states", func(t *testing.T) {
		p := newTestPool(PoolLeastStates, "192.0.2.1/32", "192.0.2.2/32")
		p.Entries()[0].states = 3
		a, pa, err := p.Next(src)
		require.NoError(t, err)
		assert.Equal(t, ip("192.0.2.2"), a)
		assert.Zero(t, pa.States())
	})
}

// TestPoolAddrChange edits the pool of a committed rule.
// TestPoolAddrChange 测试修改已提交规则的地址池。
func TestPoolAddrChange(t *testing.T) {
	e, _ := newTestEngine(t)
	loadPoolRule(t, e, RuleSpec{Action: ActionNAT, Pool: PoolOpts{Policy: PoolRoundRobin}}, "198.51.100.1/32")
	ticket, err := e.ChangeRule(ChangeRuleRequest{Action: ChangeGetTicket, Class: ClassNAT})
	require.NoError(t, err)

	req := PoolChangeRequest{
		Action: ChangeAddTail, Class: ClassNAT, RuleNr: 0, Ticket: ticket,
		Addr: PoolAddrSpec{Addr: maskAddr("198.51.100.2/32")},
	}
	require.NoError(t, e.PoolAddrChange(req))

	views, err := e.PoolAddrsGet("", ClassNAT, 0, false)
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, prefix("198.51.100.2/32"), views[1].Addr.Prefix)
	assert.Equal(t, int64(2), e.Allocations().PoolAddrs)

	_, err = e.PoolAddrGet("", ClassNAT, 0, true, 5)
	assert.ErrorIs(t, err, errs.ErrBusy)

	stale := req
	stale.Ticket = ticket + 1
	assert.ErrorIs(t, e.PoolAddrChange(stale), errs.ErrBusy)

	missing := PoolChangeRequest{Action: ChangeRemove, Class: ClassNAT, Ticket: ticket, Nr: 7}
	assert.ErrorIs(t, e.PoolAddrChange(missing), errs.ErrNotFound)

	remove := PoolChangeRequest{Action: ChangeRemove, Class: ClassNAT, Ticket: ticket, Nr: 0}
	require.NoError(t, e.PoolAddrChange(remove))
	v, err := e.PoolAddrGet("", ClassNAT, 0, false, 0)
	require.NoError(t, err)
	assert.Equal(t, prefix("198.51.100.2/32"), v.Addr.Prefix)
	assert.Equal(t, int64(1), e.Allocations().PoolAddrs)

	a, _, err := e.MapAddr(e.Main().Active(ClassNAT)[0], ip("10.0.0.5"))
	require.NoError(t, err)
	assert.Equal(t, ip("198.51.100.2"), a)
}

func TestRuleRequiresTranslationAddress(t *testing.T) {
	e, _ := newTestEngine(t)
	ticket, err := e.RulesBegin("", ClassRDR)
	require.NoError(t, err)
	err = e.RulesAdd("", ticket, e.PoolAddrBegin(), RuleSpec{Action: ActionRDR})
	assert.ErrorIs(t, err, errs.ErrInvalid)
	assert.Equal(t, int64(0), e.Allocations().Rules)

	// A rejected rule leaves the buffered pool entries in place.
	pt := e.PoolAddrBegin()
	require.NoError(t, e.PoolAddrAdd(pt, PoolAddrSpec{Addr: AddrWrap{Type: AddrTable, TableName: "web"}}))
	err = e.RulesAdd("", ticket, pt, RuleSpec{Action: ActionRDR, ReturnICMP: 19 << 8})
	assert.ErrorIs(t, err, errs.ErrInvalid)
	assert.Equal(t, int64(1), e.Allocations().PoolAddrs)
	require.NoError(t, e.RulesAdd("", ticket, pt, RuleSpec{Action: ActionRDR}))
	require.NoError(t, e.RulesCommit("", ClassRDR, ticket))
	assert.Equal(t, 1, e.Allocations().Tables)
}
