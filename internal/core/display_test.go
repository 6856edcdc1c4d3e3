package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "github.com/livp123/netxpf/pkg/errors"
)

// TestRulesListShowsSkipStepsAndAnchors lists a committed filter chain.
// TestRulesListShowsSkipStepsAndAnchors 测试列出已提交过滤链的跳转步骤与锚点。
func TestRulesListShowsSkipStepsAndAnchors(t *testing.T) {
	e, _ := newTestEngine(t)
	loadRules(t, e, "", ClassFilter,
		RuleSpec{Action: ActionPass, Proto: protoTCP, Direction: DirIn},
		RuleSpec{Action: ActionDrop, Proto: protoTCP, Direction: DirOut},
		RuleSpec{Action: ActionPass, Proto: protoUDP, Anchor: "users/*"},
	)

	views, ticket, err := e.RulesList("", ClassFilter)
	require.NoError(t, err)
	require.Len(t, views, 3)
	assert.NotZero(t, ticket)

	assert.Equal(t, int32(2), views[0].Skip[SkipProto])
	assert.Equal(t, int32(-1), views[2].Skip[SkipProto])
	assert.Equal(t, int32(1), views[0].Skip[SkipDir])
	assert.Equal(t, "users/*", views[2].AnchorPath)
	assert.Equal(t, int32(1), views[1].Nr)
	assert.Equal(t, "block", views[1].Action.String())
}

func TestRulesGetClearsCounters(t *testing.T) {
	e, _ := newTestEngine(t)
	r := loadRules(t, e, "", ClassFilter, RuleSpec{Action: ActionPass})[0]
	r.Account(0, 2, 300)
	r.Account(1, 1, 60)

	n, ticket, err := e.RulesInfo("", ClassFilter)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	v, err := e.RulesGet("", ClassFilter, ticket, 0, true)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), v.Evaluations)
	assert.Equal(t, [2]uint64{2, 1}, v.Packets)
	assert.Equal(t, [2]uint64{300, 60}, v.Bytes)

	v, err = e.RulesGet("", ClassFilter, ticket, 0, false)
	require.NoError(t, err)
	assert.Zero(t, v.Evaluations)

	_, err = e.RulesGet("", ClassFilter, ticket+1, 0, false)
	assert.ErrorIs(t, err, errs.ErrBusy)
	_, err = e.RulesGet("", ClassFilter, ticket, 1, false)
	assert.ErrorIs(t, err, errs.ErrNotFound)
	_, err = e.RulesGet("missing", ClassFilter, ticket, 0, false)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}
