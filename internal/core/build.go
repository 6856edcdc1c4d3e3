package core

import (
	errs "github.com/livp123/netxpf/pkg/errors"
)

const icmpMaxType = 18

// ruleBuilder attaches the shared resources of a new rule one by one and
// records how to release each. On failure rollback releases them in
// reverse order, so a half-built rule never escapes.
// ruleBuilder 逐个挂接新规则的共享资源并记录释放方式；失败时逆序释放。
type ruleBuilder struct {
	e    *Engine
	r    *Rule
	undo []func()
}

func (b *ruleBuilder) onFail(f func()) { b.undo = append(b.undo, f) }

func (b *ruleBuilder) rollback() {
	for i := len(b.undo) - 1; i >= 0; i-- {
		b.undo[i]()
	}
	b.undo = nil
}

// validateSpec checks everything that can be checked before any attachment.
func (e *Engine) validateSpec(spec *RuleSpec, class Class) error {
	c, err := ClassOf(spec.Action)
	if err != nil {
		return err
	}
	if c != class {
		return errs.NewInvalidError("action %v does not belong to class %v", spec.Action, class)
	}
	if spec.ReturnICMP>>8 > icmpMaxType {
		return errs.NewInvalidError("return-icmp type %d", spec.ReturnICMP>>8)
	}
	if !e.afAllowed(spec.AF) {
		return errs.NewInvalidError("address family %v not supported", spec.AF)
	}
	if spec.Route != RouteNone && spec.Route != RouteFast && spec.Direction == DirInOut {
		return errs.NewInvalidError("route option requires a direction")
	}
	if spec.LogIf >= 16 {
		return errs.NewInvalidError("log interface %d", spec.LogIf)
	}
	for _, ra := range []*RuleAddr{&spec.Src, &spec.Dst} {
		if ra.Addr.Type == AddrMask && ra.Addr.Prefix.IsValid() && spec.AF != AFUnspec &&
			AFOf(ra.Addr.Prefix.Addr()) != spec.AF {
			return errs.NewInvalidError("address %v does not match family %v", ra.Addr.Prefix, spec.AF)
		}
		if ra.PortOp > PortRange {
			return errs.NewInvalidError("port operator %d", ra.PortOp)
		}
	}
	for name := range spec.Timeouts {
		if _, err := ParseTimeout(name); err != nil {
			return err
		}
	}
	if spec.Pool.Policy > PoolLeastStates {
		return errs.NewInvalidError("pool policy %d", spec.Pool.Policy)
	}
	return nil
}

// buildRule resolves spec into a Rule owned by ruleset rs, consuming pool
// as its address pool. Caller holds rulesMu for writing.
// buildRule 将 spec 解析为归属于 rs 的规则，并接管 pool 作为其地址池。
func (e *Engine) buildRule(rs *Anchor, spec RuleSpec, pool []*PoolAddr) (*Rule, error) {
	r := &Rule{RuleSpec: spec, ruleset: rs}
	r.nr.Store(-1)
	b := &ruleBuilder{e: e, r: r}

	if err := b.attachAll(pool); err != nil {
		b.rollback()
		return nil, err
	}

	e.ruleSerial++
	r.serial = e.ruleSerial
	e.alloc.rules.Add(1)
	return r, nil
}

func (b *ruleBuilder) attachAll(pool []*PoolAddr) error {
	e, r := b.e, b.r

	for name, v := range r.Timeouts {
		t, _ := ParseTimeout(name)
		r.timeout[t] = v
	}

	kif, err := e.kifs.ref(r.IfName, kifRefRule)
	if err != nil {
		return errs.NewInvalidError("interface %q: %v", r.IfName, err)
	}
	r.kif = kif
	b.onFail(func() { e.kifs.unref(r.kif, kifRefRule); r.kif = nil })

	if r.Queue != "" {
		qid, err := e.qids.Intern(r.Queue)
		if err != nil {
			return err
		}
		r.qid = qid
		b.onFail(func() { e.qids.Release(r.qid); r.qid = 0 })
		if r.PQueue != "" && r.PQueue != r.Queue {
			pqid, err := e.qids.Intern(r.PQueue)
			if err != nil {
				return err
			}
			r.pqid = pqid
			b.onFail(func() { e.qids.Release(r.pqid); r.pqid = 0 })
		} else {
			r.pqid = r.qid
		}
	}

	if r.Tag != "" {
		id, err := e.tags.Intern(r.Tag)
		if err != nil {
			return err
		}
		r.tag = id
		b.onFail(func() { e.tags.Release(r.tag); r.tag = 0 })
	}
	if r.MatchTag != "" {
		id, err := e.tags.Intern(r.MatchTag)
		if err != nil {
			return err
		}
		r.matchTag = id
		b.onFail(func() { e.tags.Release(r.matchTag); r.matchTag = 0 })
	}

	for _, ra := range []*RuleAddr{&r.Src, &r.Dst} {
		if err := b.attachTable(&ra.Addr); err != nil {
			return err
		}
	}

	if r.Anchor != "" {
		path, wildcard, err := resolveCall(r.ruleset, r.Anchor)
		if err != nil {
			return err
		}
		a, err := e.anchors.findOrCreate(path)
		if err != nil {
			return err
		}
		if a == r.ruleset {
			e.anchors.prune(a, e.tables.countAnchor)
			return errs.NewInvalidError("anchor %q calls itself", path)
		}
		a.refcnt++
		r.anchor, r.wildcard = a, wildcard
		b.onFail(func() {
			r.anchor.refcnt--
			e.anchors.prune(r.anchor, e.tables.countAnchor)
			r.anchor = nil
		})
	}

	for _, pa := range pool {
		if err := b.attachTable(&pa.Addr); err != nil {
			return err
		}
	}

	if r.Overload != "" {
		t, err := e.tables.attach(r.ruleset.Path, r.Overload)
		if err != nil {
			return err
		}
		r.overload = t
		b.onFail(func() { e.tables.detach(r.overload); r.overload = nil })
	}

	r.pool = newPool(r.Pool, e.matcher)
	for _, pa := range pool {
		r.pool.Insert(r.pool.Len(), pa)
	}
	b.onFail(func() { r.pool = nil })

	if r.needsPool() && r.anchor == nil && r.pool.Len() == 0 {
		return errs.NewInvalidError("%v rule requires a translation address", r.Action)
	}
	return nil
}

func (b *ruleBuilder) attachTable(w *AddrWrap) error {
	if w.Type != AddrTable {
		return nil
	}
	e := b.e
	t, err := e.tables.attach(b.r.ruleset.Path, w.TableName)
	if err != nil {
		return err
	}
	w.table = t
	b.onFail(func() { e.tables.detach(w.table); w.table = nil })
	return nil
}

// destroyRule releases every resource of r and marks it destroyed.
// Reports false when r is still referenced or linked.
// Caller holds rulesMu for writing and stateMu.
// destroyRule 释放规则的全部资源；若规则仍被引用或仍在链中则返回 false。
func (e *Engine) destroyRule(r *Rule) bool {
	if r == nil || r == e.defaultRule || r.destroyed || r.linked || r.states > 0 || r.srcNodes > 0 {
		return false
	}
	r.destroyed = true

	e.tags.Release(r.tag)
	e.tags.Release(r.matchTag)
	if r.pqid != r.qid {
		e.qids.Release(r.pqid)
	}
	e.qids.Release(r.qid)
	e.tables.detach(r.Src.Addr.table)
	e.tables.detach(r.Dst.Addr.table)
	e.tables.detach(r.overload)
	e.kifs.unref(r.kif, kifRefRule)
	if r.anchor != nil {
		r.anchor.refcnt--
		e.anchors.prune(r.anchor, e.tables.countAnchor)
		r.anchor = nil
	}
	if r.pool != nil {
		for r.pool.Len() > 0 {
			pa, _ := r.pool.Remove(0)
			e.releasePoolAddr(pa)
		}
	}
	r.Src.Addr.table, r.Dst.Addr.table, r.overload, r.kif = nil, nil, nil, nil
	e.alloc.rules.Add(-1)
	e.log.Debugf("[Core] Rule destroyed (action %v, label %q)", r.Action, r.Label)
	return true
}

// unlinkRule takes r out of its list. It stays alive while states or
// source nodes still reference it.
func (e *Engine) unlinkRule(r *Rule) {
	r.linked = false
	r.nr.Store(-1)
	if !e.destroyRule(r) && !r.destroyed {
		e.log.Debugf("[Core] Rule kept as zombie (states %d, src-nodes %d)", r.states, r.srcNodes)
	}
}

// purgeRules unlinks and destroys every rule in rules.
// Caller holds rulesMu for writing.
func (e *Engine) purgeRules(rules []*Rule) {
	if len(rules) == 0 {
		return
	}
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	for _, r := range rules {
		e.unlinkRule(r)
	}
}

// releasePoolAddr drops the references a pool entry holds.
func (e *Engine) releasePoolAddr(pa *PoolAddr) {
	if pa == nil {
		return
	}
	e.kifs.unref(pa.kif, kifRefRule)
	pa.kif = nil
	if pa.Addr.table != nil {
		e.tables.detach(pa.Addr.table)
		pa.Addr.table = nil
	}
	e.alloc.poolAddrs.Add(-1)
}
