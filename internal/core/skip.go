package core

// Skip-step predicate classes.
// 跳转步骤的谓词类别。
const (
	SkipIfp = iota
	SkipDir
	SkipAF
	SkipProto
	SkipSrcAddr
	SkipSrcPort
	SkipDstAddr
	SkipDstPort
	SkipCount
)

// calcSkipSteps computes, for every rule and predicate class, the index of
// the next rule whose predicate differs from the run the rule belongs to.
// len(rules) marks the end of the list.
// calcSkipSteps 为每条规则及每个谓词类别计算下一条谓词不同的规则索引，
// len(rules) 表示链尾。
func calcSkipSteps(rules []*Rule) [][SkipCount]int32 {
	skip := make([][SkipCount]int32, len(rules))
	if len(rules) == 0 {
		return skip
	}
	var head [SkipCount]int

	set := func(i, cur int) {
		for head[i] < cur {
			skip[head[i]][i] = int32(cur)
			head[i]++
		}
	}

	prev := rules[0]
	for cur := 0; cur < len(rules); cur++ {
		r := rules[cur]
		if r.kif != prev.kif || r.IfNot != prev.IfNot {
			set(SkipIfp, cur)
		}
		if r.Direction != prev.Direction {
			set(SkipDir, cur)
		}
		if r.AF != prev.AF {
			set(SkipAF, cur)
		}
		if r.Proto != prev.Proto {
			set(SkipProto, cur)
		}
		if r.Src.Neg != prev.Src.Neg || r.Src.Addr.neq(&prev.Src.Addr) {
			set(SkipSrcAddr, cur)
		}
		if r.Src.Port != prev.Src.Port || r.Src.PortOp != prev.Src.PortOp {
			set(SkipSrcPort, cur)
		}
		if r.Dst.Neg != prev.Dst.Neg || r.Dst.Addr.neq(&prev.Dst.Addr) {
			set(SkipDstAddr, cur)
		}
		if r.Dst.Port != prev.Dst.Port || r.Dst.PortOp != prev.Dst.PortOp {
			set(SkipDstPort, cur)
		}
		prev = r
	}
	for i := 0; i < SkipCount; i++ {
		set(i, len(rules))
	}
	return skip
}

// publish computes skip steps, stores the result as the active list of q
// in one atomic step, then renumbers the rules. Readers of a snapshot take
// rule numbers from the snapshot index, never from Rule.Nr.
// publish 计算跳转步骤并原子地发布为活动链，随后重新编号；快照读者使用快照下标作为规则编号。
func (q *ruleQueue) publish(rules []*Rule) {
	q.active.Store(&ruleList{rules: rules, skip: calcSkipSteps(rules)})
	for i, r := range rules {
		r.nr.Store(int32(i))
	}
}

// skipNr resolves a skip index to a rule number, -1 for end of list.
func (l *ruleList) skipNr(idx, class int) int32 {
	s := l.skip[idx][class]
	if int(s) >= len(l.rules) {
		return -1
	}
	return s
}
