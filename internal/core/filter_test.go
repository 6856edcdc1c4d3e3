package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "github.com/livp123/netxpf/pkg/errors"
)

func TestStateFilter(t *testing.T) {
	w := WireState{
		ID:    42,
		Lan:   Endpoint{Addr: ip("10.0.0.5"), Port: 40000},
		Gwy:   Endpoint{Addr: ip("198.51.100.1"), Port: 50000},
		Ext:   Endpoint{Addr: ip("203.0.113.9"), Port: 443},
		Proto: protoTCP, AF: AFInet, Direction: DirOut,
		Rule: 3, IfName: "em0", Bytes: [2]uint64{100, 50},
	}

	cases := []struct {
		expr string
		want bool
	}{
		{`proto == "tcp" && dst_port == 443`, true},
		{`src == "10.0.0.5" && direction == "out"`, true},
		{`InCIDR("203.0.113.0/24")`, true},
		{`InCIDR("192.168.0.0/16")`, false},
		{`bytes > 100 && ifname == "em0"`, true},
		{`gwy_port == 50000 && af == "inet"`, true},
		{`rule == 4`, false},
	}
	for _, tc := range cases {
		f, err := CompileStateFilter(tc.expr)
		require.NoError(t, err, tc.expr)
		assert.Equal(t, tc.want, f.Match(&w), tc.expr)
	}

	f, err := CompileStateFilter("   ")
	require.NoError(t, err)
	assert.Nil(t, f)
	assert.True(t, f.Match(&w), "nil filter matches everything")

	_, err = CompileStateFilter(`dst_port +`)
	assert.ErrorIs(t, err, errs.ErrInvalid)
	_, err = CompileStateFilter(`dst_port`)
	assert.ErrorIs(t, err, errs.ErrInvalid, "must evaluate to bool")
}

func TestSrcNodeFilterFields(t *testing.T) {
	v := SrcNodeView{AF: AFInet, Addr: ip("10.0.0.5"), RAddr: ip("198.51.100.1"), Rule: 2, States: 3, RuleType: "nat"}

	f, err := CompileSrcNodeFilter(`rule_type == "nat" && raddr == "198.51.100.1" && states == 3`)
	require.NoError(t, err)
	assert.True(t, f.Match(&v))

	f, err = CompileSrcNodeFilter(`InCIDR("10.1.0.0/16")`)
	require.NoError(t, err)
	assert.False(t, f.Match(&v))

	_, err = CompileSrcNodeFilter(`no_such_field > 1`)
	assert.ErrorIs(t, err, errs.ErrInvalid)
}
