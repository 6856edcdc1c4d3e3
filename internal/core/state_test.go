package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "github.com/livp123/netxpf/pkg/errors"
)

// TestInsertStatePerInterface allows one state per key and interface.
// TestInsertStatePerInterface 测试同一键在每个接口上只允许一个状态。
func TestInsertStatePerInterface(t *testing.T) {
	e, _ := newTestEngine(t)
	r := loadRules(t, e, "", ClassFilter, RuleSpec{Action: ActionPass})[0]
	key := outKey("10.0.0.5", 40000, "203.0.113.9", 443)

	s := insert(t, e, r, key, "em0")
	assert.Equal(t, uint32(0x0a0b0c0d), s.CreatorID)
	assert.NotZero(t, s.ID)

	_, err := e.InsertState(StateSpec{Key: key, IfName: "em0", Rule: r, Timeout: TimeoutTCPFirst})
	assert.ErrorIs(t, err, errs.ErrDuplicate)

	s2 := insert(t, e, r, key, "em1")
	assert.Greater(t, s2.ID, s.ID)

	a := e.Allocations()
	assert.Equal(t, int64(2), a.States)
	assert.Equal(t, 2, a.Kifs)
	assert.Equal(t, uint64(1), e.StatusGet().Counters["state-insert"])
}

func TestInsertStateLimits(t *testing.T) {
	e, _ := newTestEngine(t, WithLimits(map[Limit]uint32{LimitStates: 2}))
	r := loadRules(t, e, "", ClassFilter, RuleSpec{Action: ActionPass, MaxStates: 1})[0]

	insert(t, e, r, outKey("10.0.0.5", 1000, "203.0.113.9", 80), "")
	_, err := e.InsertState(StateSpec{Key: outKey("10.0.0.5", 1001, "203.0.113.9", 80), Rule: r})
	assert.ErrorIs(t, err, errs.ErrExhausted)
	assert.Equal(t, uint64(1), e.StatusGet().LCounters["max-states-per-rule"])

	// The global limit applies to every rule.
	insert(t, e, e.DefaultRule(), outKey("10.0.0.6", 1000, "203.0.113.9", 80), "")
	_, err = e.InsertState(StateSpec{Key: outKey("10.0.0.7", 1000, "203.0.113.9", 80), Rule: e.DefaultRule()})
	assert.ErrorIs(t, err, errs.ErrExhausted)
	assert.Equal(t, uint64(1), e.StatusGet().Counters["memory"])
}

// TestExtGwyCollision rejects a key whose translated side is already used.
func TestExtGwyCollision(t *testing.T) {
	e, _ := newTestEngine(t)
	r := loadRules(t, e, "", ClassFilter, RuleSpec{Action: ActionPass})[0]

	k1 := outKey("10.0.0.5", 40000, "203.0.113.9", 443)
	k1.Gwy = Endpoint{Addr: ip("198.51.100.1"), Port: 50000}
	insert(t, e, r, k1, "")

	k2 := outKey("10.0.0.6", 40000, "203.0.113.9", 443)
	k2.Gwy = k1.Gwy
	_, err := e.InsertState(StateSpec{Key: k2, Rule: r})
	assert.ErrorIs(t, err, errs.ErrDuplicate)
}

// TestZombieRule removes a rule that still has a state; the rule lingers
// with nr -1 until the purge pass frees the state.
// TestZombieRule 测试仍有状态的规则被删除后成为僵尸规则，直到状态被清理后才销毁。
func TestZombieRule(t *testing.T) {
	e, clk := newTestEngine(t)
	a := loadRules(t, e, "", ClassFilter, RuleSpec{Action: ActionPass, Label: "A", Tag: "web", IfName: "em0"})[0]
	s := insert(t, e, a, outKey("10.0.0.5", 40000, "203.0.113.9", 443), "em0")
	assert.Same(t, a, s.Rule())

	ticket, err := e.ChangeRule(ChangeRuleRequest{Action: ChangeGetTicket, Class: ClassFilter})
	require.NoError(t, err)
	ticket, err = e.ChangeRule(ChangeRuleRequest{Action: ChangeRemove, Class: ClassFilter, Ticket: ticket, Nr: 0})
	require.NoError(t, err)

	assert.Equal(t, int32(-1), a.Nr())
	assert.Equal(t, int64(1), e.Allocations().Rules)
	assert.Equal(t, 1, e.Tags().Refcount("web"))
	_, err = e.RulesGet("", ClassFilter, ticket, 0, false)
	assert.ErrorIs(t, err, errs.ErrNotFound)

	ws := e.StatesGet(nil)
	require.Len(t, ws, 1)
	assert.Equal(t, int32(-1), ws[0].Rule)

	assert.Zero(t, e.PurgeExpiredStates(100))
	clk.Advance(121 * time.Second)
	assert.Equal(t, 1, e.PurgeExpiredStates(100))

	assert.True(t, e.Allocations().Zero(), "%+v", e.Allocations())
}

func TestStatesKill(t *testing.T) {
	e, _ := newTestEngine(t)
	r := loadRules(t, e, "", ClassFilter, RuleSpec{Action: ActionPass})[0]
	insert(t, e, r, outKey("10.0.0.5", 40000, "203.0.113.9", 443), "em0")
	insert(t, e, r, outKey("10.0.0.5", 40001, "203.0.113.10", 443), "em0")
	insert(t, e, r, outKey("10.0.0.6", 40000, "203.0.113.9", 22), "em1")

	n := e.StatesKill(KillFilter{Dst: AddrMatch{Prefix: prefix("203.0.113.10/32")}})
	assert.Equal(t, 1, n)
	assert.Len(t, e.StatesGet(nil), 2)
	assert.Equal(t, int64(3), e.Allocations().States, "unlinked until purged")

	f, err := CompileStateFilter(`dst_port == 22`)
	require.NoError(t, err)
	assert.Equal(t, 1, e.StatesKill(KillFilter{Expr: f}))

	n = e.StatesKill(KillFilter{Src: AddrMatch{Prefix: prefix("10.0.0.5/32"), Neg: true}})
	assert.Zero(t, n)

	assert.Equal(t, 1, e.StatesClear("em0"))
	assert.Empty(t, e.StatesGet(nil))
	assert.Equal(t, 3, e.PurgeExpiredStates(10))
	assert.Zero(t, e.Allocations().States)
}

func TestStateGetByNumber(t *testing.T) {
	e, _ := newTestEngine(t)
	r := loadRules(t, e, "", ClassFilter, RuleSpec{Action: ActionPass})[0]
	s1 := insert(t, e, r, outKey("10.0.0.5", 1, "203.0.113.9", 443), "")
	s2 := insert(t, e, r, outKey("10.0.0.5", 2, "203.0.113.9", 443), "")

	w, err := e.StateGet(1)
	require.NoError(t, err)
	assert.Equal(t, s2.ID, w.ID)
	w, err = e.StateGet(0)
	require.NoError(t, err)
	assert.Equal(t, s1.ID, w.ID)
	_, err = e.StateGet(2)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

// TestNatLook resolves the untranslated endpoints of a NAT state.
// TestNatLook 测试查询 NAT 状态转换前的端点。
func TestNatLook(t *testing.T) {
	e, _ := newTestEngine(t)
	r := loadRules(t, e, "", ClassFilter, RuleSpec{Action: ActionPass})[0]
	k := outKey("10.0.0.5", 1234, "203.0.113.9", 80)
	k.Gwy = Endpoint{Addr: ip("198.51.100.1"), Port: 40000}
	insert(t, e, r, k, "em0")

	res, err := e.NatLook(NatLookRequest{
		AF: AFInet, Proto: protoTCP, Direction: DirIn,
		SAddr: ip("198.51.100.1"), SPort: 40000,
		DAddr: ip("203.0.113.9"), DPort: 80,
	})
	require.NoError(t, err)
	assert.Equal(t, ip("10.0.0.5"), res.RSAddr)
	assert.Equal(t, uint16(1234), res.RSPort)
	assert.Equal(t, ip("203.0.113.9"), res.RDAddr)

	res, err = e.NatLook(NatLookRequest{
		AF: AFInet, Proto: protoTCP, Direction: DirOut,
		SAddr: ip("203.0.113.9"), SPort: 80,
		DAddr: ip("10.0.0.5"), DPort: 1234,
	})
	require.NoError(t, err)
	assert.Equal(t, ip("198.51.100.1"), res.RDAddr)
	assert.Equal(t, uint16(40000), res.RDPort)

	insert(t, e, r, k, "em1")
	_, err = e.NatLook(NatLookRequest{
		AF: AFInet, Proto: protoTCP, Direction: DirOut,
		SAddr: ip("203.0.113.9"), SPort: 80,
		DAddr: ip("10.0.0.5"), DPort: 1234,
	})
	assert.ErrorIs(t, err, errs.ErrBusy)

	_, err = e.NatLook(NatLookRequest{
		AF: AFInet, Proto: protoTCP, Direction: DirOut,
		SAddr: ip("203.0.113.99"), SPort: 80,
		DAddr: ip("10.0.0.5"), DPort: 1234,
	})
	assert.ErrorIs(t, err, errs.ErrNotFound)

	_, err = e.NatLook(NatLookRequest{AF: AFInet, Proto: protoTCP, SAddr: ip("10.0.0.5"), DAddr: ip("203.0.113.9")})
	assert.ErrorIs(t, err, errs.ErrInvalid)
}

func TestAdaptiveTimeout(t *testing.T) {
	e, clk := newTestEngine(t)
	r := loadRules(t, e, "", ClassFilter, RuleSpec{Action: ActionPass,
		Timeouts: map[string]uint32{"adaptive.start": 1, "adaptive.end": 3, "tcp.first": 100}})[0]
	s := insert(t, e, r, outKey("10.0.0.5", 1, "203.0.113.9", 443), "")

	now := clk.Now().Unix()
	e.stateMu.Lock()
	assert.Equal(t, now+100, e.expiresAt(s))
	e.stateMu.Unlock()

	insert(t, e, r, outKey("10.0.0.5", 2, "203.0.113.9", 443), "")
	e.stateMu.Lock()
	assert.Equal(t, now+50, e.expiresAt(s))
	e.stateMu.Unlock()

	insert(t, e, r, outKey("10.0.0.5", 3, "203.0.113.9", 443), "")
	e.stateMu.Lock()
	assert.Equal(t, now, e.expiresAt(s))
	e.stateMu.Unlock()
}

func TestTouchStateExtendsLifetime(t *testing.T) {
	e, clk := newTestEngine(t)
	r := loadRules(t, e, "", ClassFilter, RuleSpec{Action: ActionPass})[0]
	s := insert(t, e, r, outKey("10.0.0.5", 1, "203.0.113.9", 443), "")

	clk.Advance(100 * time.Second)
	e.TouchState(s, 0, 1500, TimeoutTCPEstablished)
	clk.Advance(200 * time.Second)
	assert.Zero(t, e.PurgeExpiredStates(10))

	ws := e.StatesGet(nil)
	require.Len(t, ws, 1)
	assert.Equal(t, uint64(1500), ws[0].Bytes[0])
	assert.Equal(t, TimeoutTCPEstablished, ws[0].Timeout)
}

func TestUntilPacketStatesAreSwept(t *testing.T) {
	e, _ := newTestEngine(t)
	r := loadRules(t, e, "", ClassFilter, RuleSpec{Action: ActionPass})[0]
	_, err := e.InsertState(StateSpec{Key: outKey("10.0.0.5", 1, "203.0.113.9", 443), Rule: r, Timeout: TimeoutUntilPacket})
	require.NoError(t, err)
	assert.Equal(t, 1, e.PurgeExpiredStates(10))
}

func TestInsertStateOnDestroyedRule(t *testing.T) {
	e, _ := newTestEngine(t)
	r := loadRules(t, e, "", ClassFilter, RuleSpec{Action: ActionPass})[0]
	loadRules(t, e, "", ClassFilter)
	_, err := e.InsertState(StateSpec{Key: outKey("10.0.0.5", 1, "203.0.113.9", 443), Rule: r})
	assert.ErrorIs(t, err, errs.ErrNotFound)
	assert.Zero(t, e.Allocations().States)
}
