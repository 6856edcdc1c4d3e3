package core

import (
	errs "github.com/livp123/netxpf/pkg/errors"
)

// ruleView copies rule idx of l. Caller holds stateMu.
// ruleView 复制规则链 l 中第 idx 条规则，调用方需持有 stateMu。
func ruleView(l *ruleList, idx int, ticket uint32) RuleView {
	r := l.rules[idx]
	v := RuleView{
		RuleSpec:    r.RuleSpec,
		Nr:          int32(idx),
		Evaluations: r.evaluations.Load(),
		States:      r.states,
		SrcNodes:    r.srcNodes,
		TagID:       r.tag,
		QueueID:     r.qid,
		Ticket:      ticket,
	}
	for i := 0; i < 2; i++ {
		v.Packets[i] = r.packets[i].Load()
		v.Bytes[i] = r.bytes[i].Load()
	}
	for i := 0; i < SkipCount; i++ {
		v.Skip[i] = l.skipNr(idx, i)
	}
	if r.anchor != nil {
		v.AnchorPath = r.anchor.Path
		if r.wildcard {
			v.AnchorPath += "/*"
		}
	}
	if r.pool != nil {
		v.PoolAddrs = r.pool.Views()
	}
	return v
}

// RulesGet returns active rule nr of (anchor, class). ticket must be the one
// RulesInfo returned; clear zeroes the counters after they were copied.
// RulesGet 返回 (anchor, class) 活动链中的第 nr 条规则；ticket 须为 RulesInfo 返回的票据。
func (e *Engine) RulesGet(anchor string, class Class, ticket uint32, nr int32, clear bool) (RuleView, error) {
	e.rulesMu.RLock()
	defer e.rulesMu.RUnlock()
	_, q, err := e.queueOf(anchor, class, false)
	if err != nil {
		return RuleView{}, err
	}
	if ticket != q.activeTicket {
		return RuleView{}, errs.NewBusyError("ticket %d is not the active ticket", ticket)
	}
	l := q.load()
	if nr < 0 || int(nr) >= len(l.rules) {
		return RuleView{}, errs.NewNotFoundError("rule", nr)
	}

	e.stateMu.Lock()
	v := ruleView(l, int(nr), ticket)
	e.stateMu.Unlock()
	if clear {
		l.rules[nr].clearCounters()
	}
	return v, nil
}

// RulesList returns every active rule of (anchor, class) with the ticket
// they were read under.
// RulesList 返回 (anchor, class) 的全部活动规则及读取时的票据。
func (e *Engine) RulesList(anchor string, class Class) ([]RuleView, uint32, error) {
	e.rulesMu.RLock()
	defer e.rulesMu.RUnlock()
	_, q, err := e.queueOf(anchor, class, false)
	if err != nil {
		return nil, 0, err
	}
	l := q.load()
	out := make([]RuleView, len(l.rules))
	e.stateMu.Lock()
	for i := range l.rules {
		out[i] = ruleView(l, i, q.activeTicket)
	}
	e.stateMu.Unlock()
	return out, q.activeTicket, nil
}
