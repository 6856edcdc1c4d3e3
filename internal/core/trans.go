package core

import (
	"net/netip"

	"go.uber.org/multierr"

	errs "github.com/livp123/netxpf/pkg/errors"
)

func (e *Engine) queueOf(anchor string, class Class, create bool) (*Anchor, *ruleQueue, error) {
	if !validRuleClass(class) {
		return nil, nil, errs.NewInvalidError("rule class %v", class)
	}
	var rs *Anchor
	if create {
		var err error
		if rs, err = e.anchors.findOrCreate(anchor); err != nil {
			return nil, nil, err
		}
	} else if rs = e.anchors.find(anchor); rs == nil {
		return nil, nil, errs.NewNotFoundError("anchor", anchor)
	}
	return rs, &rs.rules[class], nil
}

// RulesBegin discards the inactive list of (anchor, class), creating the
// anchor when missing, and returns a new ticket.
// RulesBegin 丢弃 (anchor, class) 的非活动链（必要时创建锚点）并返回新票据。
func (e *Engine) RulesBegin(anchor string, class Class) (uint32, error) {
	e.rulesMu.Lock()
	defer e.rulesMu.Unlock()
	return e.rulesBeginLocked(anchor, class)
}

func (e *Engine) rulesBeginLocked(anchor string, class Class) (uint32, error) {
	_, q, err := e.queueOf(anchor, class, true)
	if err != nil {
		return 0, err
	}
	e.purgeRules(q.inactive)
	q.inactive = nil
	q.inactiveTicket++
	q.open = true
	return q.inactiveTicket, nil
}

// RulesAdd builds spec and appends it to the inactive list of anchor. The
// class is derived from the action. The pool buffer is consumed on success.
// RulesAdd 构建规则并追加到锚点的非活动链，类别由动作决定；成功时消耗地址池缓冲区。
func (e *Engine) RulesAdd(anchor string, ticket, poolTicket uint32, spec RuleSpec) error {
	e.rulesMu.Lock()
	defer e.rulesMu.Unlock()

	// 1. Locate ruleset / 定位规则集
	rs := e.anchors.find(anchor)
	if rs == nil {
		return errs.NewNotFoundError("anchor", anchor)
	}
	class, err := ClassOf(spec.Action)
	if err != nil {
		return err
	}

	// 2. Validate before attaching anything / 挂接前完成全部校验
	if err := e.validateSpec(&spec, class); err != nil {
		return err
	}
	q := &rs.rules[class]
	if !q.open || ticket != q.inactiveTicket {
		return errs.NewStaleTicketError("ruleset", ticket, q.inactiveTicket)
	}
	if poolTicket != e.poolTicket {
		return errs.NewStaleTicketError("pool", poolTicket, e.poolTicket)
	}

	// 3. Build and link / 构建并链接
	r, err := e.buildRule(rs, spec, e.poolBuf)
	if err != nil {
		return err
	}
	e.poolBuf = nil
	r.linked = true
	r.nr.Store(int32(len(q.inactive)))
	q.inactive = append(q.inactive, r)
	return nil
}

// RulesRollback discards the inactive list. A stale ticket is ignored.
// RulesRollback 丢弃非活动链，过期票据将被忽略。
func (e *Engine) RulesRollback(anchor string, class Class, ticket uint32) {
	e.rulesMu.Lock()
	defer e.rulesMu.Unlock()
	e.rulesRollbackLocked(anchor, class, ticket)
}

func (e *Engine) rulesRollbackLocked(anchor string, class Class, ticket uint32) {
	rs, q, err := e.queueOf(anchor, class, false)
	if err != nil || !q.open || ticket != q.inactiveTicket {
		return
	}
	e.purgeRules(q.inactive)
	q.inactive = nil
	q.open = false
	e.anchors.prune(rs, e.tables.countAnchor)
}

func (e *Engine) rulesCheckLocked(anchor string, class Class, ticket uint32) (*Anchor, *ruleQueue, error) {
	rs, q, err := e.queueOf(anchor, class, false)
	if err != nil {
		return nil, nil, errs.NewBusyError("ruleset %q: %v", anchor, err)
	}
	if !q.open || ticket != q.inactiveTicket {
		return nil, nil, errs.NewBusyError("ruleset %q class %v: ticket %d not open", anchor, class, ticket)
	}
	return rs, q, nil
}

// RulesCommit publishes the inactive list as the active one and destroys
// the old list. On the main ruleset the sync checksum is recomputed.
// RulesCommit 将非活动链发布为活动链并销毁旧链；主规则集会重新计算同步校验和。
func (e *Engine) RulesCommit(anchor string, class Class, ticket uint32) error {
	e.rulesMu.Lock()
	defer e.rulesMu.Unlock()
	return e.rulesCommitLocked(anchor, class, ticket)
}

func (e *Engine) rulesCommitLocked(anchor string, class Class, ticket uint32) error {
	rs, q, err := e.rulesCheckLocked(anchor, class, ticket)
	if err != nil {
		return err
	}

	if rs.isMain() {
		var lists [classCount][]*Rule
		for c := Class(0); c < classCount; c++ {
			if c == class {
				lists[c] = q.inactive
			} else {
				lists[c] = rs.rules[c].load().rules
			}
		}
		e.setChecksum(computeChecksum(lists))
	}

	old := q.load().rules
	q.publish(q.inactive)
	q.activeTicket = q.inactiveTicket
	q.inactive = nil
	q.open = false

	e.purgeRules(old)
	e.anchors.prune(rs, e.tables.countAnchor)
	e.log.Infof("✅ [Core] Committed %v ruleset %q (%d rules, ticket %d)",
		class, anchorDisplay(anchor), len(q.load().rules), q.activeTicket)
	return nil
}

func anchorDisplay(path string) string {
	if p := cleanPath(path); p != "" {
		return p
	}
	return "main"
}

// RulesInfo returns the number of active rules and the active ticket,
// the handle RulesGet requires.
// RulesInfo 返回活动规则数量与活动票据，供 RulesGet 使用。
func (e *Engine) RulesInfo(anchor string, class Class) (int, uint32, error) {
	e.rulesMu.RLock()
	defer e.rulesMu.RUnlock()
	_, q, err := e.queueOf(anchor, class, false)
	if err != nil {
		return 0, 0, err
	}
	return len(q.load().rules), q.activeTicket, nil
}

// ChangeAction selects an in-place edit.
type ChangeAction uint8

const (
	ChangeNone ChangeAction = iota
	ChangeAddHead
	ChangeAddTail
	ChangeAddBefore
	ChangeAddAfter
	ChangeRemove
	ChangeGetTicket
)

// ChangeRuleRequest describes an in-place edit of an active list.
// ChangeRuleRequest 描述对活动链的就地修改。
type ChangeRuleRequest struct {
	Action     ChangeAction `json:"action"`
	Anchor     string       `json:"anchor,omitempty"`
	Class      Class        `json:"class"`
	Ticket     uint32       `json:"ticket"`
	PoolTicket uint32       `json:"pool_ticket"`
	Nr         int32        `json:"nr"`
	Rule       RuleSpec     `json:"rule"`
}

// ChangeRule edits an active list without a full transaction. GetTicket
// returns a fresh active ticket that every other action must present.
// ChangeRule 无需完整事务即可修改活动链；其他动作必须携带 GetTicket 返回的票据。
func (e *Engine) ChangeRule(req ChangeRuleRequest) (uint32, error) {
	if req.Action < ChangeAddHead || req.Action > ChangeGetTicket {
		return 0, errs.NewInvalidError("change action %d", req.Action)
	}
	e.rulesMu.Lock()
	defer e.rulesMu.Unlock()

	rs, q, err := e.queueOf(req.Anchor, req.Class, false)
	if err != nil {
		return 0, err
	}
	if req.Action == ChangeGetTicket {
		q.activeTicket++
		return q.activeTicket, nil
	}
	if req.Ticket != q.activeTicket {
		return 0, errs.NewStaleTicketError("active ruleset", req.Ticket, q.activeTicket)
	}

	var nr *Rule
	if req.Action != ChangeRemove {
		if err := e.validateSpec(&req.Rule, req.Class); err != nil {
			return 0, err
		}
		if req.PoolTicket != e.poolTicket {
			return 0, errs.NewStaleTicketError("pool", req.PoolTicket, e.poolTicket)
		}
		if nr, err = e.buildRule(rs, req.Rule, e.poolBuf); err != nil {
			return 0, err
		}
		e.poolBuf = nil
	}

	cur := q.load().rules
	idx := -1
	switch req.Action {
	case ChangeAddHead:
		if len(cur) > 0 {
			idx = 0
		}
	case ChangeAddTail:
		if len(cur) > 0 {
			idx = len(cur) - 1
		}
	default:
		if req.Nr >= 0 && int(req.Nr) < len(cur) {
			idx = int(req.Nr)
		}
		if idx < 0 {
			if nr != nil {
				e.purgeRules([]*Rule{nr})
			}
			return 0, errs.NewNotFoundError("rule", req.Nr)
		}
	}

	next := make([]*Rule, 0, len(cur)+1)
	switch req.Action {
	case ChangeRemove:
		next = append(next, cur[:idx]...)
		next = append(next, cur[idx+1:]...)
		q.publish(next)
		e.purgeRules([]*Rule{cur[idx]})
	default:
		nr.linked = true
		at := len(cur)
		switch {
		case idx < 0:
		case req.Action == ChangeAddHead || req.Action == ChangeAddBefore:
			at = idx
		default:
			at = idx + 1
		}
		next = append(next, cur[:at]...)
		next = append(next, nr)
		next = append(next, cur[at:]...)
		q.publish(next)
	}
	q.activeTicket++
	e.anchors.prune(rs, e.tables.countAnchor)
	return q.activeTicket, nil
}

// findActiveRule returns rule nr (or the last rule) of an active list.
func (e *Engine) findActiveRule(anchor string, class Class, nr int32, last bool) (*Rule, error) {
	_, q, err := e.queueOf(anchor, class, false)
	if err != nil {
		return nil, err
	}
	rules := q.load().rules
	if last {
		if len(rules) == 0 {
			return nil, errs.NewNotFoundError("rule", "last")
		}
		return rules[len(rules)-1], nil
	}
	if nr < 0 || int(nr) >= len(rules) {
		return nil, errs.NewNotFoundError("rule", nr)
	}
	return rules[nr], nil
}

// ClearRuleCounters zeroes the counters of the main filter rules.
func (e *Engine) ClearRuleCounters() {
	for _, r := range e.anchors.main.Active(ClassFilter) {
		r.clearCounters()
	}
}

// RulesetsList returns the child anchor names of path in sorted order.
// RulesetsList 按名称顺序返回 path 下的子锚点。
func (e *Engine) RulesetsList(path string) ([]string, error) {
	e.rulesMu.RLock()
	defer e.rulesMu.RUnlock()
	a := e.anchors.find(path)
	if a == nil {
		return nil, errs.NewNotFoundError("anchor", path)
	}
	return a.Children(), nil
}

// RulesetGet returns the nr-th child anchor name of path.
func (e *Engine) RulesetGet(path string, nr int) (string, error) {
	names, err := e.RulesetsList(path)
	if err != nil {
		return "", err
	}
	if nr < 0 || nr >= len(names) {
		return "", errs.NewBusyError("ruleset index %d out of range", nr)
	}
	return names[nr], nil
}

// ---------------------------------------------------------------------------
// Pool address buffer

func (e *Engine) releasePoolBuf() {
	for _, pa := range e.poolBuf {
		e.releasePoolAddr(pa)
	}
	e.poolBuf = nil
}

// PoolAddrBegin empties the pool buffer and returns a new pool ticket.
// PoolAddrBegin 清空地址池缓冲区并返回新的池票据。
func (e *Engine) PoolAddrBegin() uint32 {
	e.rulesMu.Lock()
	defer e.rulesMu.Unlock()
	e.releasePoolBuf()
	e.poolTicket++
	return e.poolTicket
}

func (e *Engine) newPoolAddr(spec PoolAddrSpec) (*PoolAddr, error) {
	switch spec.Addr.Type {
	case AddrMask, AddrDynIf, AddrTable:
	default:
		return nil, errs.NewInvalidError("pool address type %v", spec.Addr.Type)
	}
	if spec.Addr.Type == AddrMask && spec.Addr.Prefix.IsValid() &&
		!e.afAllowed(AFOf(spec.Addr.Prefix.Addr())) {
		return nil, errs.NewInvalidError("address family of %v not supported", spec.Addr.Prefix)
	}
	if spec.Addr.Type == AddrTable && spec.Addr.TableName == "" {
		return nil, errs.NewInvalidError("pool table without name")
	}
	kif, err := e.kifs.ref(spec.IfName, kifRefRule)
	if err != nil {
		return nil, errs.NewInvalidError("pool interface %q: %v", spec.IfName, err)
	}
	spec.Addr.table = nil
	e.alloc.poolAddrs.Add(1)
	return &PoolAddr{PoolAddrSpec: spec, kif: kif}, nil
}

// PoolAddrAdd appends an address to the pool buffer.
func (e *Engine) PoolAddrAdd(ticket uint32, spec PoolAddrSpec) error {
	e.rulesMu.Lock()
	defer e.rulesMu.Unlock()
	if ticket != e.poolTicket {
		return errs.NewStaleTicketError("pool", ticket, e.poolTicket)
	}
	pa, err := e.newPoolAddr(spec)
	if err != nil {
		return err
	}
	e.poolBuf = append(e.poolBuf, pa)
	return nil
}

// PoolAddrsGet returns the pool entries of an active rule.
// PoolAddrsGet 返回活动规则的地址池条目。
func (e *Engine) PoolAddrsGet(anchor string, class Class, nr int32, last bool) ([]PoolAddrView, error) {
	e.rulesMu.RLock()
	defer e.rulesMu.RUnlock()
	r, err := e.findActiveRule(anchor, class, nr, last)
	if err != nil {
		return nil, err
	}
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return r.pool.Views(), nil
}

// PoolAddrGet returns entry idx of an active rule's pool.
func (e *Engine) PoolAddrGet(anchor string, class Class, nr int32, last bool, idx int) (PoolAddrView, error) {
	views, err := e.PoolAddrsGet(anchor, class, nr, last)
	if err != nil {
		return PoolAddrView{}, err
	}
	if idx < 0 || idx >= len(views) {
		return PoolAddrView{}, errs.NewBusyError("pool address %d out of range", idx)
	}
	return views[idx], nil
}

// PoolChangeRequest describes an edit of an active rule's pool.
type PoolChangeRequest struct {
	Action ChangeAction `json:"action"`
	Anchor string       `json:"anchor,omitempty"`
	Class  Class        `json:"class"`
	RuleNr int32        `json:"rule_nr"`
	Last   bool         `json:"last,omitempty"`
	Ticket uint32       `json:"ticket"`
	Nr     int          `json:"nr"`
	Addr   PoolAddrSpec `json:"addr"`
}

// PoolAddrChange inserts or removes a pool entry of an active rule and
// resets the round-robin cursor to the head.
// PoolAddrChange 插入或删除活动规则的地址池条目，并将轮询游标重置到头部。
func (e *Engine) PoolAddrChange(req PoolChangeRequest) error {
	if req.Action < ChangeAddHead || req.Action > ChangeRemove {
		return errs.NewInvalidError("change action %d", req.Action)
	}
	e.rulesMu.Lock()
	defer e.rulesMu.Unlock()

	_, q, err := e.queueOf(req.Anchor, req.Class, false)
	if err != nil {
		return err
	}
	if req.Ticket != q.activeTicket {
		return errs.NewBusyError("ticket %d is not the active ticket", req.Ticket)
	}
	r, err := e.findActiveRule(req.Anchor, req.Class, req.RuleNr, req.Last)
	if err != nil {
		return err
	}

	var pa *PoolAddr
	if req.Action != ChangeRemove {
		if pa, err = e.newPoolAddr(req.Addr); err != nil {
			return err
		}
		if pa.Addr.Type == AddrTable {
			t, err := e.tables.attach(r.ruleset.Path, pa.Addr.TableName)
			if err != nil {
				e.releasePoolAddr(pa)
				return err
			}
			pa.Addr.table = t
		}
	}

	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	p := r.pool
	idx := -1
	switch req.Action {
	case ChangeAddHead:
		idx = 0
	case ChangeAddTail:
		idx = p.Len()
	default:
		if req.Nr >= 0 && req.Nr < p.Len() {
			idx = req.Nr
		}
	}
	if idx < 0 {
		if pa != nil {
			e.releasePoolAddr(pa)
		}
		return errs.NewNotFoundError("pool address", req.Nr)
	}

	switch req.Action {
	case ChangeRemove:
		old, err := p.Remove(idx)
		if err != nil {
			return err
		}
		e.releasePoolAddr(old)
	case ChangeAddAfter:
		p.Insert(idx+1, pa)
	default:
		p.Insert(idx, pa)
	}
	p.resetCursor()
	return nil
}

// ---------------------------------------------------------------------------
// Tables

// TableBegin opens a table definition transaction on anchor.
// TableBegin 在锚点上开启表定义事务。
func (e *Engine) TableBegin(anchor string) (uint32, error) {
	e.rulesMu.Lock()
	defer e.rulesMu.Unlock()
	return e.tableBeginLocked(anchor)
}

func (e *Engine) tableBeginLocked(anchor string) (uint32, error) {
	rs, err := e.anchors.findOrCreate(anchor)
	if err != nil {
		return 0, err
	}
	e.tables.rollbackAnchor(rs.Path)
	rs.tticket++
	rs.topen = true
	return rs.tticket, nil
}

// TableDefine stages the contents of table name.
func (e *Engine) TableDefine(anchor string, ticket uint32, name string, prefixes []netip.Prefix) error {
	e.rulesMu.Lock()
	defer e.rulesMu.Unlock()
	rs := e.anchors.find(anchor)
	if rs == nil {
		return errs.NewNotFoundError("anchor", anchor)
	}
	if !rs.topen || ticket != rs.tticket {
		return errs.NewStaleTicketError("table", ticket, rs.tticket)
	}
	if name == "" || len(name) >= 32 {
		return errs.NewInvalidError("table name %q", name)
	}
	for _, p := range prefixes {
		if !p.IsValid() || !e.afAllowed(AFOf(p.Addr())) {
			return errs.NewInvalidError("table %s entry %v", name, p)
		}
	}
	return e.tables.stage(rs.Path, name, prefixes)
}

func (e *Engine) tableCheckLocked(anchor string, ticket uint32) (*Anchor, error) {
	rs := e.anchors.find(anchor)
	if rs == nil || !rs.topen || ticket != rs.tticket {
		return nil, errs.NewBusyError("table ticket %d not open on %q", ticket, anchor)
	}
	return rs, nil
}

// TableCommit activates the staged tables of anchor.
func (e *Engine) TableCommit(anchor string, ticket uint32) error {
	e.rulesMu.Lock()
	defer e.rulesMu.Unlock()
	return e.tableCommitLocked(anchor, ticket)
}

func (e *Engine) tableCommitLocked(anchor string, ticket uint32) error {
	rs, err := e.tableCheckLocked(anchor, ticket)
	if err != nil {
		return err
	}
	if err := e.tables.commitAnchor(rs.Path); err != nil {
		return err
	}
	rs.topen = false
	e.anchors.prune(rs, e.tables.countAnchor)
	return nil
}

// TableRollback drops the staged tables. A stale ticket is ignored.
func (e *Engine) TableRollback(anchor string, ticket uint32) {
	e.rulesMu.Lock()
	defer e.rulesMu.Unlock()
	e.tableRollbackLocked(anchor, ticket)
}

func (e *Engine) tableRollbackLocked(anchor string, ticket uint32) {
	rs := e.anchors.find(anchor)
	if rs == nil || !rs.topen || ticket != rs.tticket {
		return
	}
	e.tables.rollbackAnchor(rs.Path)
	rs.topen = false
	e.anchors.prune(rs, e.tables.countAnchor)
}

// TableView describes a table.
type TableView struct {
	Anchor string `json:"anchor"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
	Refs   int    `json:"refs"`
	Count  int    `json:"count"`
}

// TablesGet lists the tables of anchor.
func (e *Engine) TablesGet(anchor string) []TableView {
	anchor = cleanPath(anchor)
	e.tables.mu.Lock()
	defer e.tables.mu.Unlock()
	var out []TableView
	for _, t := range e.tables.sortedLocked(anchor) {
		out = append(out, TableView{
			Anchor: t.Anchor, Name: t.Name, Active: t.active, Refs: t.refs, Count: len(t.own()),
		})
	}
	return out
}

// TableAddrs returns the contents of table name in anchor.
func (e *Engine) TableAddrs(anchor, name string) ([]netip.Prefix, error) {
	t := e.tables.get(cleanPath(anchor), name)
	if t == nil {
		return nil, errs.NewNotFoundError("table", name)
	}
	return append([]netip.Prefix(nil), t.Prefixes()...), nil
}

// ---------------------------------------------------------------------------
// Multi-ruleset transactions

// TransElement names one ruleset of a transaction. Class may be a rule
// class, ClassALTQ or ClassTable.
// TransElement 表示事务中的一个规则集，Class 可以是规则类别、ClassALTQ 或 ClassTable。
type TransElement struct {
	Anchor string `json:"anchor,omitempty" yaml:"anchor,omitempty"`
	Class  Class  `json:"class" yaml:"class"`
	Ticket uint32 `json:"ticket" yaml:"ticket"`
}

func (e *Engine) beginElementLocked(el *TransElement) error {
	var err error
	switch el.Class {
	case ClassALTQ:
		if cleanPath(el.Anchor) != "" {
			return errs.NewInvalidError("altq only exists in the main ruleset")
		}
		el.Ticket = e.altqBeginLocked()
	case ClassTable:
		el.Ticket, err = e.tableBeginLocked(el.Anchor)
	default:
		el.Ticket, err = e.rulesBeginLocked(el.Anchor, el.Class)
	}
	return err
}

func (e *Engine) rollbackElementLocked(el TransElement) {
	switch el.Class {
	case ClassALTQ:
		e.altqRollbackLocked(el.Ticket)
	case ClassTable:
		e.tableRollbackLocked(el.Anchor, el.Ticket)
	default:
		e.rulesRollbackLocked(el.Anchor, el.Class, el.Ticket)
	}
}

// TransBegin opens every element and fills in its ticket. When one fails
// the elements already opened are rolled back.
// TransBegin 开启所有元素并填入票据；任一失败时回滚已开启的元素。
func (e *Engine) TransBegin(elems []TransElement) ([]TransElement, error) {
	e.rulesMu.Lock()
	defer e.rulesMu.Unlock()
	out := append([]TransElement(nil), elems...)
	for i := range out {
		if err := e.beginElementLocked(&out[i]); err != nil {
			for j := i - 1; j >= 0; j-- {
				e.rollbackElementLocked(out[j])
			}
			return nil, err
		}
	}
	return out, nil
}

// TransRollback rolls back every element, ignoring stale tickets.
func (e *Engine) TransRollback(elems []TransElement) {
	e.rulesMu.Lock()
	defer e.rulesMu.Unlock()
	for _, el := range elems {
		e.rollbackElementLocked(el)
	}
}

// TransCommit validates every ticket first and commits only when all are
// current, so either every element is committed or none is.
// TransCommit 先校验全部票据，全部有效后才提交，保证全部提交或全部不提交。
func (e *Engine) TransCommit(elems []TransElement) error {
	e.rulesMu.Lock()
	defer e.rulesMu.Unlock()

	// 1. Validate all / 校验全部票据
	for _, el := range elems {
		var err error
		switch el.Class {
		case ClassALTQ:
			if cleanPath(el.Anchor) != "" {
				return errs.NewInvalidError("altq only exists in the main ruleset")
			}
			err = e.altqCheckLocked(el.Ticket)
		case ClassTable:
			_, err = e.tableCheckLocked(el.Anchor, el.Ticket)
		default:
			_, _, err = e.rulesCheckLocked(el.Anchor, el.Class, el.Ticket)
		}
		if err != nil {
			return err
		}
	}

	// 2. Commit all / 提交全部
	var err error
	for _, el := range elems {
		switch el.Class {
		case ClassALTQ:
			err = multierr.Append(err, e.altqCommitLocked(el.Ticket))
		case ClassTable:
			err = multierr.Append(err, e.tableCommitLocked(el.Anchor, el.Ticket))
		default:
			err = multierr.Append(err, e.rulesCommitLocked(el.Anchor, el.Class, el.Ticket))
		}
	}
	return err
}
