package config

import (
	"net/netip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livp123/netxpf/internal/core"
	errs "github.com/livp123/netxpf/pkg/errors"
)

const sampleRuleset = `
tables:
  - name: lan
    addrs: [10.0.0.0/8, 192.168.1.7]
anchors:
  - rules:
      - action: pass
        direction: in
        quick: true
        proto: tcp
        from: <lan>
        to_port: "22"
        keep_state: true
        label: ssh
        max_src_conn_rate: 10/5
        overload: bruteforce
        flush: global
      - action: block
        from: "!10.0.0.0/8"
        to: (em0)
        to_port: 1000:2000
        anchor: users/*
      - action: nat
        on: em0
        from: 10.0.0.0/8
        pool:
          policy: round-robin
          sticky: true
          addrs: [198.51.100.1/32, 198.51.100.2]
  - path: users/alice
    rules:
      - action: pass
        tag: alice
`

func newAdminOps(t *testing.T) (*core.Engine, *core.Ops) {
	t.Helper()
	e := core.New(core.WithHostID(1))
	require.NoError(t, e.Start())
	return e, core.NewOps(e, core.CapAdmin)
}

// TestApplyRuleset loads tables, rules and pools in one transaction.
// TestApplyRuleset 测试在单个事务中加载表、规则与地址池。
func TestApplyRuleset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleRuleset), 0600))
	rs, err := LoadRuleset(path)
	require.NoError(t, err)

	e, ops := newAdminOps(t)
	n, err := Apply(ops, rs)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	filters, _, err := ops.RulesList("", core.ClassFilter)
	require.NoError(t, err)
	require.Len(t, filters, 2)
	assert.Equal(t, "ssh", filters[0].Label)
	assert.Equal(t, core.AddrTable, filters[0].Src.Addr.Type)
	assert.Equal(t, core.ConnRate{Limit: 10, Seconds: 5}, filters[0].MaxSrcConnRate)
	assert.Equal(t, core.FlushRule|core.FlushGlobal, filters[0].Flush)
	assert.True(t, filters[1].Src.Neg)
	assert.Equal(t, core.PortRange, filters[1].Dst.PortOp)

	nats, _, err := ops.RulesList("", core.ClassNAT)
	require.NoError(t, err)
	require.Len(t, nats, 1)
	pool, err := ops.PoolAddrsGet("", core.ClassNAT, 0, false)
	require.NoError(t, err)
	assert.Len(t, pool, 2)

	addrs, err := ops.TableAddrs("", "lan")
	require.NoError(t, err)
	assert.Equal(t, []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8"), netip.MustParsePrefix("192.168.1.7/32")}, addrs)

	alice, _, err := ops.RulesList("users/alice", core.ClassFilter)
	require.NoError(t, err)
	assert.Len(t, alice, 1)
	assert.Equal(t, 1, e.Tags().Len())
}

// TestApplyRollsBackOnFailure keeps the active ruleset when one rule of
// the new ruleset is rejected.
// TestApplyRollsBackOnFailure 测试新规则集中有规则被拒绝时保留原活动规则集。
func TestApplyRollsBackOnFailure(t *testing.T) {
	e, ops := newAdminOps(t)
	_, err := Apply(ops, &Ruleset{Anchors: []AnchorDoc{{Rules: []RuleDoc{{Action: "pass", Label: "keep"}}}}})
	require.NoError(t, err)

	bad := &Ruleset{Anchors: []AnchorDoc{{Rules: []RuleDoc{
		{Action: "pass", Label: "new"},
		{Action: "rdr", To: "192.0.2.1"},
	}}}}
	_, err = Apply(ops, bad)
	assert.ErrorIs(t, err, errs.ErrInvalid)

	rules, _, err := ops.RulesList("", core.ClassFilter)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "keep", rules[0].Label)
	assert.Zero(t, e.Allocations().PoolAddrs)

	// An empty anchor entry flushes it.
	_, err = Apply(ops, &Ruleset{Anchors: []AnchorDoc{{}}})
	require.NoError(t, err)
	rules, _, err = ops.RulesList("", core.ClassFilter)
	require.NoError(t, err)
	assert.Empty(t, rules)
}

func TestApplyNeedsAdmin(t *testing.T) {
	e, _ := newAdminOps(t)
	_, err := Apply(core.NewOps(e, core.CapRead), &Ruleset{Anchors: []AnchorDoc{{}}})
	assert.ErrorIs(t, err, errs.ErrPermissionDenied)
}

func TestParseRulesetRejectsBadInput(t *testing.T) {
	_, err := ParseRuleset([]byte("anchors:\n  - rules:\n      - action: allow\n"))
	assert.ErrorIs(t, err, errs.ErrInvalid)
	_, err = ParseRuleset([]byte("anchors:\n  - rules:\n      - action: pass\n        colour: red\n"))
	assert.ErrorIs(t, err, errs.ErrInvalid, "unknown fields are rejected")

	rs, err := ParseRuleset(nil)
	require.NoError(t, err)
	assert.Empty(t, rs.Elements())
}

func TestParsePort(t *testing.T) {
	cases := []struct {
		in   string
		op   core.PortOp
		port [2]uint16
	}{
		{"80", core.PortEq, [2]uint16{80}},
		{"!=80", core.PortNe, [2]uint16{80}},
		{"<1024", core.PortLt, [2]uint16{1024}},
		{"<= 1024", core.PortLe, [2]uint16{1024}},
		{">1024", core.PortGt, [2]uint16{1024}},
		{">=1024", core.PortGe, [2]uint16{1024}},
		{"1000:2000", core.PortRange, [2]uint16{1000, 2000}},
		{"1000><2000", core.PortRangeExcl, [2]uint16{1000, 2000}},
		{"1000<>2000", core.PortExcept, [2]uint16{1000, 2000}},
	}
	for _, tc := range cases {
		op, port, err := ParsePort(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.op, op, tc.in)
		assert.Equal(t, tc.port, port, tc.in)
	}
	for _, bad := range []string{"http", "70000", "2000:1000"} {
		_, _, err := ParsePort(bad)
		assert.ErrorIs(t, err, errs.ErrInvalid, bad)
	}
}

func TestParseAddrForms(t *testing.T) {
	cases := map[string]core.AddrWrap{
		"any":         {},
		"<bad>":       {Type: core.AddrTable, TableName: "bad"},
		"(em0)":       {Type: core.AddrDynIf, IfName: "em0"},
		"no-route":    {Type: core.AddrNoRoute},
		"urpf-failed": {Type: core.AddrURPFFailed},
		"route lbl":   {Type: core.AddrRTLabel, RTLabel: "lbl"},
		"10.1.2.3/8":  {Type: core.AddrMask, Prefix: netip.MustParsePrefix("10.0.0.0/8")},
		"2001:db8::1": {Type: core.AddrMask, Prefix: netip.MustParsePrefix("2001:db8::1/128")},
	}
	for in, want := range cases {
		got, err := ParseAddr(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseAddr("10.0.0.300")
	assert.ErrorIs(t, err, errs.ErrInvalid)
}

func TestRuleDocSpec(t *testing.T) {
	d := RuleDoc{
		Action: "pass", Direction: "out", AF: "inet6", Proto: "udp", On: "!em1",
		Tagged: "!web", SourceTrack: "rule", Log: true,
		Pool: &PoolDoc{Policy: "source-hash", Key: "0x000000000000000100000000000000ff", Ports: "1024:65535"},
	}
	spec, err := d.Spec()
	require.NoError(t, err)
	assert.Equal(t, core.DirOut, spec.Direction)
	assert.Equal(t, core.AFInet6, spec.AF)
	assert.Equal(t, uint8(17), spec.Proto)
	assert.True(t, spec.IfNot)
	assert.Equal(t, "em1", spec.IfName)
	assert.True(t, spec.MatchTagNot)
	assert.Equal(t, core.RuleFlagSrcTrack|core.RuleFlagRuleSrcTrack, spec.RuleFlag)
	assert.Equal(t, [2]uint64{1, 0xff}, spec.Pool.Key)
	assert.Equal(t, [2]uint16{1024, 65535}, spec.Pool.ProxyPort)
	assert.Equal(t, core.PoolSourceHash, spec.Pool.Policy)

	for _, bad := range []RuleDoc{
		{Action: "pass", Direction: "sideways"},
		{Action: "pass", AF: "ipx"},
		{Action: "pass", Proto: "sctp-ish"},
		{Action: "pass", MaxSrcConnRate: "10"},
		{Action: "pass", Flush: "all"},
		{Action: "nat", Pool: &PoolDoc{Key: "abc"}},
	} {
		_, err := bad.Spec()
		assert.ErrorIs(t, err, errs.ErrInvalid, "%+v", bad)
	}
}
