package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCalcSkipSteps(t *testing.T) {
	rules := []*Rule{
		{RuleSpec: RuleSpec{Proto: protoTCP, Direction: DirIn}},
		{RuleSpec: RuleSpec{Proto: protoTCP, Direction: DirOut}},
		{RuleSpec: RuleSpec{Proto: protoUDP, Direction: DirOut, Dst: RuleAddr{Addr: maskAddr("10.0.0.0/8")}}},
	}
	skip := calcSkipSteps(rules)

	assert.Equal(t, int32(2), skip[0][SkipProto])
	assert.Equal(t, int32(2), skip[1][SkipProto])
	assert.Equal(t, int32(3), skip[2][SkipProto])

	assert.Equal(t, int32(1), skip[0][SkipDir])
	assert.Equal(t, int32(3), skip[1][SkipDir])

	for i := range rules {
		assert.Equal(t, int32(3), skip[i][SkipAF], "rule %d", i)
		assert.Equal(t, int32(3), skip[i][SkipIfp], "rule %d", i)
	}
	assert.Equal(t, int32(2), skip[0][SkipDstAddr])
	assert.Equal(t, int32(3), skip[2][SkipDstAddr])

	assert.Empty(t, calcSkipSteps(nil))
}

func TestSkipNrMarksEndOfList(t *testing.T) {
	q := &ruleQueue{}
	q.publish([]*Rule{
		{RuleSpec: RuleSpec{Proto: protoTCP}},
		{RuleSpec: RuleSpec{Proto: protoUDP}},
	})
	l := q.load()
	assert.Equal(t, int32(1), l.skipNr(0, SkipProto))
	assert.Equal(t, int32(-1), l.skipNr(1, SkipProto))
	assert.Equal(t, int32(1), l.rules[1].Nr())
}
