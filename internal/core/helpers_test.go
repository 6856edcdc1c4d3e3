package core

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/livp123/netxpf/internal/utils/clock"
)

var testEpoch = time.Unix(1_700_000_000, 0)

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *clock.MockClock) {
	t.Helper()
	clk := clock.NewMockClock(testEpoch)
	e := New(append([]Option{WithClock(clk), WithHostID(0x0a0b0c0d)}, opts...)...)
	require.NoError(t, e.Start())
	return e, clk
}

func ip(s string) netip.Addr { return netip.MustParseAddr(s) }

func prefix(s string) netip.Prefix { return netip.MustParsePrefix(s) }

func maskAddr(s string) AddrWrap {
	return AddrWrap{Type: AddrMask, Prefix: prefix(s)}
}

// loadRules replaces the active list of (anchor, class) with specs.
func loadRules(t *testing.T, e *Engine, anchor string, class Class, specs ...RuleSpec) []*Rule {
	t.Helper()
	ticket, err := e.RulesBegin(anchor, class)
	require.NoError(t, err)
	for _, s := range specs {
		require.NoError(t, e.RulesAdd(anchor, ticket, e.PoolAddrBegin(), s))
	}
	require.NoError(t, e.RulesCommit(anchor, class, ticket))
	a := e.Anchor(anchor)
	if a == nil {
		return nil
	}
	return a.Active(class)
}

// loadPoolRule commits a single translation rule owning the given pool.
func loadPoolRule(t *testing.T, e *Engine, spec RuleSpec, pool ...string) *Rule {
	t.Helper()
	class, err := ClassOf(spec.Action)
	require.NoError(t, err)
	ticket, err := e.RulesBegin("", class)
	require.NoError(t, err)
	pt := e.PoolAddrBegin()
	for _, p := range pool {
		require.NoError(t, e.PoolAddrAdd(pt, PoolAddrSpec{Addr: maskAddr(p)}))
	}
	require.NoError(t, e.RulesAdd("", ticket, pt, spec))
	require.NoError(t, e.RulesCommit("", class, ticket))
	return e.Main().Active(class)[0]
}

// outKey is an outbound TCP connection from lan to ext without translation.
func outKey(lan string, lport uint16, ext string, eport uint16) StateKey {
	l := Endpoint{Addr: ip(lan), Port: lport}
	return StateKey{
		Lan:       l,
		Gwy:       l,
		Ext:       Endpoint{Addr: ip(ext), Port: eport},
		Proto:     protoTCP,
		AF:        AFInet,
		Direction: DirOut,
	}
}

func insert(t *testing.T, e *Engine, r *Rule, key StateKey, ifName string) *State {
	t.Helper()
	s, err := e.InsertState(StateSpec{Key: key, IfName: ifName, Rule: r, Timeout: TimeoutTCPFirst})
	require.NoError(t, err)
	return s
}
