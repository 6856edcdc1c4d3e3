package core

import (
	"net/netip"

	errs "github.com/livp123/netxpf/pkg/errors"
)

// Capability is the privilege a caller holds.
// Capability 表示调用方持有的权限。
type Capability uint8

const (
	CapNone Capability = iota
	CapRead
	CapAdmin
)

func (c Capability) String() string {
	switch c {
	case CapRead:
		return "read"
	case CapAdmin:
		return "firewall-admin"
	}
	return "none"
}

// Ops is the permission-checked command surface of an Engine. Every method
// states the capability it needs and fails with ErrPermissionDenied before
// touching the engine when the caller lacks it.
// Ops 是带权限检查的引擎命令接口，权限不足时在访问引擎前返回 ErrPermissionDenied。
type Ops struct {
	e   *Engine
	cap Capability
}

// NewOps binds e to a caller holding c.
func NewOps(e *Engine, c Capability) *Ops {
	return &Ops{e: e, cap: c}
}

// Capability returns the caller's capability.
func (o *Ops) Capability() Capability { return o.cap }

func (o *Ops) need(c Capability, op string) error {
	if o.cap < c {
		o.e.log.Debugf("[Core] %s denied for capability %v", op, o.cap)
		return errs.NewPermissionError(op)
	}
	return nil
}

// Status

func (o *Ops) Start() error {
	if err := o.need(CapAdmin, "start"); err != nil {
		return err
	}
	return o.e.Start()
}

func (o *Ops) Stop() error {
	if err := o.need(CapAdmin, "stop"); err != nil {
		return err
	}
	return o.e.Stop()
}

func (o *Ops) StatusGet() (Status, error) {
	if err := o.need(CapRead, "status"); err != nil {
		return Status{}, err
	}
	return o.e.StatusGet(), nil
}

func (o *Ops) StatusClear() error {
	if err := o.need(CapAdmin, "status clear"); err != nil {
		return err
	}
	o.e.StatusClear()
	return nil
}

func (o *Ops) SetStatusInterface(name string) error {
	if err := o.need(CapAdmin, "set status interface"); err != nil {
		return err
	}
	return o.e.SetStatusInterface(name)
}

func (o *Ops) SetDebug(level uint32) error {
	if err := o.need(CapAdmin, "set debug"); err != nil {
		return err
	}
	o.e.SetDebug(level)
	return nil
}

func (o *Ops) SetHostID(id uint32) (uint32, error) {
	if err := o.need(CapAdmin, "set hostid"); err != nil {
		return 0, err
	}
	return o.e.SetHostID(id), nil
}

func (o *Ops) TimeoutGet(t Timeout) (uint32, error) {
	if err := o.need(CapRead, "timeout get"); err != nil {
		return 0, err
	}
	return o.e.TimeoutGet(t)
}

func (o *Ops) TimeoutSet(t Timeout, seconds int64) (uint32, error) {
	if err := o.need(CapAdmin, "timeout set"); err != nil {
		return 0, err
	}
	return o.e.TimeoutSet(t, seconds)
}

func (o *Ops) LimitGet(l Limit) (uint32, error) {
	if err := o.need(CapRead, "limit get"); err != nil {
		return 0, err
	}
	return o.e.LimitGet(l)
}

func (o *Ops) LimitSet(l Limit, v uint32) (uint32, error) {
	if err := o.need(CapAdmin, "limit set"); err != nil {
		return 0, err
	}
	return o.e.LimitSet(l, v)
}

func (o *Ops) Allocations() (Allocations, error) {
	if err := o.need(CapRead, "allocations"); err != nil {
		return Allocations{}, err
	}
	return o.e.Allocations(), nil
}

// Rules

func (o *Ops) RulesBegin(anchor string, class Class) (uint32, error) {
	if err := o.need(CapAdmin, "rules begin"); err != nil {
		return 0, err
	}
	return o.e.RulesBegin(anchor, class)
}

func (o *Ops) RulesAdd(anchor string, ticket, poolTicket uint32, spec RuleSpec) error {
	if err := o.need(CapAdmin, "rules add"); err != nil {
		return err
	}
	return o.e.RulesAdd(anchor, ticket, poolTicket, spec)
}

func (o *Ops) RulesCommit(anchor string, class Class, ticket uint32) error {
	if err := o.need(CapAdmin, "rules commit"); err != nil {
		return err
	}
	return o.e.RulesCommit(anchor, class, ticket)
}

func (o *Ops) RulesRollback(anchor string, class Class, ticket uint32) error {
	if err := o.need(CapAdmin, "rules rollback"); err != nil {
		return err
	}
	o.e.RulesRollback(anchor, class, ticket)
	return nil
}

func (o *Ops) RulesInfo(anchor string, class Class) (int, uint32, error) {
	if err := o.need(CapRead, "rules info"); err != nil {
		return 0, 0, err
	}
	return o.e.RulesInfo(anchor, class)
}

// RulesGet needs CapAdmin when clear is set.
func (o *Ops) RulesGet(anchor string, class Class, ticket uint32, nr int32, clear bool) (RuleView, error) {
	need := CapRead
	if clear {
		need = CapAdmin
	}
	if err := o.need(need, "rules get"); err != nil {
		return RuleView{}, err
	}
	return o.e.RulesGet(anchor, class, ticket, nr, clear)
}

func (o *Ops) RulesList(anchor string, class Class) ([]RuleView, uint32, error) {
	if err := o.need(CapRead, "rules list"); err != nil {
		return nil, 0, err
	}
	return o.e.RulesList(anchor, class)
}

func (o *Ops) ChangeRule(req ChangeRuleRequest) (uint32, error) {
	if err := o.need(CapAdmin, "change rule"); err != nil {
		return 0, err
	}
	return o.e.ChangeRule(req)
}

func (o *Ops) ClearRuleCounters() error {
	if err := o.need(CapAdmin, "clear rule counters"); err != nil {
		return err
	}
	o.e.ClearRuleCounters()
	return nil
}

func (o *Ops) RulesetsList(path string) ([]string, error) {
	if err := o.need(CapRead, "rulesets list"); err != nil {
		return nil, err
	}
	return o.e.RulesetsList(path)
}

func (o *Ops) RulesetGet(path string, nr int) (string, error) {
	if err := o.need(CapRead, "ruleset get"); err != nil {
		return "", err
	}
	return o.e.RulesetGet(path, nr)
}

// Pools

func (o *Ops) PoolAddrBegin() (uint32, error) {
	if err := o.need(CapAdmin, "pool begin"); err != nil {
		return 0, err
	}
	return o.e.PoolAddrBegin(), nil
}

func (o *Ops) PoolAddrAdd(ticket uint32, spec PoolAddrSpec) error {
	if err := o.need(CapAdmin, "pool add"); err != nil {
		return err
	}
	return o.e.PoolAddrAdd(ticket, spec)
}

func (o *Ops) PoolAddrsGet(anchor string, class Class, nr int32, last bool) ([]PoolAddrView, error) {
	if err := o.need(CapRead, "pool get"); err != nil {
		return nil, err
	}
	return o.e.PoolAddrsGet(anchor, class, nr, last)
}

func (o *Ops) PoolAddrChange(req PoolChangeRequest) error {
	if err := o.need(CapAdmin, "pool change"); err != nil {
		return err
	}
	return o.e.PoolAddrChange(req)
}

// Tables

func (o *Ops) TablesGet(anchor string) ([]TableView, error) {
	if err := o.need(CapRead, "tables get"); err != nil {
		return nil, err
	}
	return o.e.TablesGet(anchor), nil
}

func (o *Ops) TableAddrs(anchor, name string) ([]netip.Prefix, error) {
	if err := o.need(CapRead, "table addrs"); err != nil {
		return nil, err
	}
	return o.e.TableAddrs(anchor, name)
}

func (o *Ops) TableDefine(anchor string, ticket uint32, name string, prefixes []netip.Prefix) error {
	if err := o.need(CapAdmin, "table define"); err != nil {
		return err
	}
	return o.e.TableDefine(anchor, ticket, name, prefixes)
}

// Transactions

func (o *Ops) TransBegin(elems []TransElement) ([]TransElement, error) {
	if err := o.need(CapAdmin, "transaction begin"); err != nil {
		return nil, err
	}
	return o.e.TransBegin(elems)
}

func (o *Ops) TransCommit(elems []TransElement) error {
	if err := o.need(CapAdmin, "transaction commit"); err != nil {
		return err
	}
	return o.e.TransCommit(elems)
}

func (o *Ops) TransRollback(elems []TransElement) error {
	if err := o.need(CapAdmin, "transaction rollback"); err != nil {
		return err
	}
	o.e.TransRollback(elems)
	return nil
}

// States

func (o *Ops) StatesGet(f *StateFilter) ([]WireState, error) {
	if err := o.need(CapRead, "states get"); err != nil {
		return nil, err
	}
	return o.e.StatesGet(f), nil
}

func (o *Ops) StateGet(nr int) (WireState, error) {
	if err := o.need(CapRead, "state get"); err != nil {
		return WireState{}, err
	}
	return o.e.StateGet(nr)
}

func (o *Ops) StateAdd(w WireState) error {
	if err := o.need(CapAdmin, "state add"); err != nil {
		return err
	}
	return o.e.StateAdd(w)
}

func (o *Ops) StatesKill(f KillFilter) (int, error) {
	if err := o.need(CapAdmin, "states kill"); err != nil {
		return 0, err
	}
	return o.e.StatesKill(f), nil
}

func (o *Ops) StatesClear(ifName string) (int, error) {
	if err := o.need(CapAdmin, "states clear"); err != nil {
		return 0, err
	}
	return o.e.StatesClear(ifName), nil
}

func (o *Ops) NatLook(req NatLookRequest) (NatLookResult, error) {
	if err := o.need(CapRead, "natlook"); err != nil {
		return NatLookResult{}, err
	}
	return o.e.NatLook(req)
}

// Source nodes

func (o *Ops) SourceNodesGet(f *SrcNodeFilter) ([]SrcNodeView, error) {
	if err := o.need(CapRead, "source nodes get"); err != nil {
		return nil, err
	}
	return o.e.SourceNodesGet(f), nil
}

func (o *Ops) SourceNodesClear() (int, error) {
	if err := o.need(CapAdmin, "source nodes clear"); err != nil {
		return 0, err
	}
	return o.e.SourceNodesClear(), nil
}

func (o *Ops) SourceNodesKill(src, dst AddrMatch) (int, error) {
	if err := o.need(CapAdmin, "source nodes kill"); err != nil {
		return 0, err
	}
	return o.e.SourceNodesKill(src, dst), nil
}

// ALTQ

func (o *Ops) AltqStart() error {
	if err := o.need(CapAdmin, "altq start"); err != nil {
		return err
	}
	return o.e.AltqStart()
}

func (o *Ops) AltqStop() error {
	if err := o.need(CapAdmin, "altq stop"); err != nil {
		return err
	}
	return o.e.AltqStop()
}

func (o *Ops) AltqBegin() (uint32, error) {
	if err := o.need(CapAdmin, "altq begin"); err != nil {
		return 0, err
	}
	return o.e.AltqBegin(), nil
}

func (o *Ops) AltqAdd(ticket uint32, q Queue) error {
	if err := o.need(CapAdmin, "altq add"); err != nil {
		return err
	}
	return o.e.AltqAdd(ticket, q)
}

func (o *Ops) AltqCommit(ticket uint32) error {
	if err := o.need(CapAdmin, "altq commit"); err != nil {
		return err
	}
	return o.e.AltqCommit(ticket)
}

func (o *Ops) AltqRollback(ticket uint32) error {
	if err := o.need(CapAdmin, "altq rollback"); err != nil {
		return err
	}
	o.e.AltqRollback(ticket)
	return nil
}

func (o *Ops) AltqsGet() (int, uint32, error) {
	if err := o.need(CapRead, "altq list"); err != nil {
		return 0, 0, err
	}
	n, t := o.e.AltqsGet()
	return n, t, nil
}

func (o *Ops) AltqGet(ticket uint32, nr int) (Queue, error) {
	if err := o.need(CapRead, "altq get"); err != nil {
		return Queue{}, err
	}
	return o.e.AltqGet(ticket, nr)
}

func (o *Ops) AltqStats(ticket uint32, nr int) (QueueStats, error) {
	if err := o.need(CapRead, "altq stats"); err != nil {
		return QueueStats{}, err
	}
	return o.e.AltqStats(ticket, nr)
}

func (o *Ops) AltqChange(q Queue) error {
	if err := o.need(CapAdmin, "altq change"); err != nil {
		return err
	}
	return o.e.AltqChange(q)
}
