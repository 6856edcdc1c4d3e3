package core

import (
	"cmp"
	"container/list"
	"net/netip"

	errs "github.com/livp123/netxpf/pkg/errors"
)

const (
	protoTCP = 6
	protoUDP = 17
)

// Endpoint is an address and port of one side of a connection.
type Endpoint struct {
	Addr netip.Addr `json:"addr"`
	Port uint16     `json:"port"`
}

// StateKey identifies a connection. Lan is the inside host, Gwy the
// translated address (equal to Lan without NAT) and Ext the outside host.
// StateKey 标识一条连接：Lan 为内部主机，Gwy 为转换后地址，Ext 为外部主机。
type StateKey struct {
	Lan       Endpoint  `json:"lan"`
	Gwy       Endpoint  `json:"gwy"`
	Ext       Endpoint  `json:"ext"`
	Proto     uint8     `json:"proto"`
	AF        AF        `json:"af"`
	Direction Direction `json:"direction"`
}

// source returns the endpoint that opened the connection.
func (k *StateKey) source() Endpoint {
	if k.Direction == DirOut {
		return k.Lan
	}
	return k.Ext
}

func (k *StateKey) destination() Endpoint {
	if k.Direction == DirOut {
		return k.Ext
	}
	return k.Lan
}

// PeerInfo is the sequence tracking of one side of a connection.
type PeerInfo struct {
	SeqLo   uint32 `json:"seqlo"`
	SeqHi   uint32 `json:"seqhi"`
	SeqDiff uint32 `json:"seqdiff"`
	MaxWin  uint16 `json:"max_win"`
	MSS     uint16 `json:"mss"`
	State   uint8  `json:"state"`
	WScale  uint8  `json:"wscale"`
}

// stateKey is a tree node shared by every state with the same tuple,
// one state per interface.
type stateKey struct {
	StateKey
	states []*State
}

func cmpEndpoints(a1, b1 netip.Addr, a2, b2 netip.Addr, p1, q1, p2, q2 uint16) int {
	if c := a1.Compare(b1); c != 0 {
		return c
	}
	if c := a2.Compare(b2); c != 0 {
		return c
	}
	if c := cmp.Compare(p1, q1); c != 0 {
		return c
	}
	return cmp.Compare(p2, q2)
}

func lanExtCmp(a, b *StateKey) int {
	if c := cmp.Compare(a.Proto, b.Proto); c != 0 {
		return c
	}
	if c := cmp.Compare(a.AF, b.AF); c != 0 {
		return c
	}
	return cmpEndpoints(a.Lan.Addr, b.Lan.Addr, a.Ext.Addr, b.Ext.Addr,
		a.Lan.Port, b.Lan.Port, a.Ext.Port, b.Ext.Port)
}

func extGwyCmp(a, b *StateKey) int {
	if c := cmp.Compare(a.Proto, b.Proto); c != 0 {
		return c
	}
	if c := cmp.Compare(a.AF, b.AF); c != 0 {
		return c
	}
	return cmpEndpoints(a.Ext.Addr, b.Ext.Addr, a.Gwy.Addr, b.Gwy.Addr,
		a.Ext.Port, b.Ext.Port, a.Gwy.Port, b.Gwy.Port)
}

func lanExtLess(a, b *stateKey) bool { return lanExtCmp(&a.StateKey, &b.StateKey) < 0 }

func extGwyLess(a, b *stateKey) bool { return extGwyCmp(&a.StateKey, &b.StateKey) < 0 }

// State is a tracked connection. Exported fields are guarded by the
// engine's state lock once the state is inserted.
// State 是被跟踪的连接，插入后其字段由引擎的状态锁保护。
type State struct {
	Key       StateKey
	ID        uint64
	CreatorID uint32
	Src       PeerInfo
	Dst       PeerInfo
	RtAddr    netip.Addr
	Creation  int64
	Expire    int64
	Timeout   Timeout
	Log       uint8
	AllowOpts bool
	SyncFlags uint8
	Packets   [2]uint64
	Bytes     [2]uint64

	rule       *Rule
	natRule    *Rule
	anchorRule *Rule
	kif        *Kif
	key        *stateKey
	srcNode    *SrcNode
	natSrcNode *SrcNode
	poolAddr   *PoolAddr
	tag        uint16
	elem       *list.Element

	connCounted bool
	freed       bool
}

// Rule returns the rule that created the state.
func (s *State) Rule() *Rule { return s.rule }

// IfName returns the interface the state is bound to, "all" when floating.
func (s *State) IfName() string { return kifName(s.kif) }

func stateIDLess(a, b *State) bool {
	if a.ID != b.ID {
		return a.ID < b.ID
	}
	return a.CreatorID < b.CreatorID
}

// StateSpec is a connection the classifier wants tracked.
// StateSpec 是分类路径请求跟踪的连接。
type StateSpec struct {
	Key        StateKey
	IfName     string
	Rule       *Rule
	NatRule    *Rule
	AnchorRule *Rule
	Timeout    Timeout
	Src        PeerInfo
	Dst        PeerInfo
	Tag        uint16
	Log        uint8
	AllowOpts  bool
	RtAddr     netip.Addr

	// PoolAddr is the pool entry NatAddr was taken from, if any.
	PoolAddr *PoolAddr
	// NatAddr is recorded as the sticky address of the source node.
	NatAddr netip.Addr
}

func validStateTimeout(t Timeout) bool {
	return t < TimeoutMax || t == TimeoutUntilPacket
}

// InsertState creates a state from spec. Either every index, counter and
// reference is updated or none is.
// InsertState 根据 spec 创建状态：要么全部索引、计数与引用都更新，要么都不更新。
func (e *Engine) InsertState(spec StateSpec) (*State, error) {
	if spec.Rule == nil {
		return nil, errs.NewInvalidError("state without rule")
	}
	if !validStateTimeout(spec.Timeout) {
		return nil, errs.NewInvalidError("state timeout %v", spec.Timeout)
	}
	if !e.afAllowed(spec.Key.AF) {
		return nil, errs.NewInvalidError("address family %v not supported", spec.Key.AF)
	}
	s := &State{
		Key:        spec.Key,
		Src:        spec.Src,
		Dst:        spec.Dst,
		RtAddr:     spec.RtAddr,
		Timeout:    spec.Timeout,
		Log:        spec.Log,
		AllowOpts:  spec.AllowOpts,
		rule:       spec.Rule,
		natRule:    spec.NatRule,
		anchorRule: spec.AnchorRule,
		poolAddr:   spec.PoolAddr,
		tag:        spec.Tag,
	}

	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	if err := e.insertLocked(s, spec.IfName, true, spec.NatAddr); err != nil {
		e.Count(CounterStateInsert)
		e.log.Debugf("[Core] State insert failed: %v", err)
		return nil, err
	}
	return s, nil
}

// srcPlan is a source node chosen for a state, linked only on success.
type srcPlan struct {
	node  *SrcNode
	isNew bool
}

// planSrcNode finds or prepares the source node for addr under r.
func (e *Engine) planSrcNode(r *Rule, af AF, addr netip.Addr, other *srcPlan) (*srcPlan, error) {
	if n := e.findSrcNode(r, af, addr); n != nil {
		if r.MaxSrcStates > 0 && uint32(n.states) >= r.MaxSrcStates {
			e.countLimit(LCounterSrcStates)
			return nil, errs.NewExhaustedError("states per source", int(r.MaxSrcStates))
		}
		return &srcPlan{node: n}, nil
	}
	if other != nil && other.isNew {
		k := e.newSrcNode(r, af, addr)
		if !srcNodeLess(k, other.node) && !srcNodeLess(other.node, k) {
			return other, nil
		}
	}
	if r.MaxSrcNodes > 0 && uint32(r.srcNodes) >= r.MaxSrcNodes {
		e.countLimit(LCounterSrcNodes)
		return nil, errs.NewExhaustedError("source nodes per rule", int(r.MaxSrcNodes))
	}
	if max := e.limits[LimitSrcNodes].Load(); max > 0 && uint32(e.nSrcNodes) >= max {
		return nil, errs.NewExhaustedError("source nodes", int(max))
	}
	return &srcPlan{node: e.newSrcNode(r, af, addr), isNew: true}, nil
}

// insertLocked runs every admission check, then links s. Trusted inserts
// come from sync peers and skip source tracking. Caller holds stateMu.
func (e *Engine) insertLocked(s *State, ifName string, admit bool, natAddr netip.Addr) error {
	r := s.rule
	for _, x := range []*Rule{s.rule, s.natRule, s.anchorRule} {
		if x != nil && x.destroyed {
			return errs.NewNotFoundError("rule", x.Label)
		}
	}
	now := e.now()

	if max := e.limits[LimitStates].Load(); max > 0 && uint32(e.nStates) >= max {
		e.Count(CounterMemory)
		return errs.NewExhaustedError("states", int(max))
	}
	if admit && r.MaxStates > 0 && uint32(r.states) >= r.MaxStates {
		e.countLimit(LCounterStates)
		e.Count(CounterStateLimit)
		return errs.NewExhaustedError("states per rule", int(r.MaxStates))
	}

	var sn, nsn *srcPlan
	if admit {
		var err error
		src := s.Key.source()
		if needsSrcNode(r) {
			if sn, err = e.planSrcNode(r, s.Key.AF, src.Addr, nil); err != nil {
				e.Count(CounterSrcLimit)
				return err
			}
			if err := e.checkConnLimits(s, sn.node, now); err != nil {
				return err
			}
		}
		if s.natRule != nil && needsSrcNode(s.natRule) {
			if nsn, err = e.planSrcNode(s.natRule, s.Key.AF, s.Key.Lan.Addr, sn); err != nil {
				e.Count(CounterSrcLimit)
				return err
			}
		}
	}

	k := &stateKey{StateKey: s.Key}
	e.status.fcounters[fcSearch].Add(1)
	cur, found := e.lanExt.Get(k)
	if !found {
		if _, clash := e.extGwy.Get(k); clash {
			return errs.NewDuplicateError("state (ext-gwy)", s.Key.Ext.Addr)
		}
	}

	kif, err := e.kifs.ref(ifName, kifRefState)
	if err != nil {
		return err
	}
	if found {
		for _, o := range cur.states {
			if o.kif == kif {
				e.kifs.unref(kif, kifRefState)
				return errs.NewDuplicateError("state (lan-ext)", s.Key.Lan.Addr)
			}
		}
	}

	if s.ID == 0 && s.CreatorID == 0 {
		s.ID, s.CreatorID = e.nextStateID()
	}
	if _, clash := e.byID.Get(s); clash {
		e.kifs.unref(kif, kifRefState)
		return errs.NewDuplicateError("state id", s.ID)
	}

	// Every check passed; link.
	s.kif = kif
	if found {
		s.key = cur
	} else {
		s.key = k
		e.lanExt.ReplaceOrInsert(k)
		e.extGwy.ReplaceOrInsert(k)
	}
	s.key.states = append(s.key.states, s)
	if admit {
		s.Creation, s.Expire = now, now
	}

	if sn != nil {
		if sn.isNew {
			e.linkSrcNode(sn.node)
		}
		s.srcNode = sn.node
		sn.node.states++
		sn.node.conn++
		s.connCounted = true
		sn.node.connRate.TryAdmit(now)
	}
	if nsn != nil {
		if nsn.isNew && nsn != sn {
			e.linkSrcNode(nsn.node)
		}
		s.natSrcNode = nsn.node
		if nsn.node != s.srcNode {
			nsn.node.states++
		}
	}
	if natAddr.IsValid() {
		for _, n := range []*SrcNode{s.srcNode, s.natSrcNode} {
			if n != nil && n.rule != nil && n.rule.Pool.StickyAddr && !n.RAddr.IsValid() {
				n.RAddr = natAddr
			}
		}
	}

	e.byID.ReplaceOrInsert(s)
	s.elem = e.entries.PushBack(s)
	r.states++
	if s.natRule != nil {
		s.natRule.states++
	}
	if s.anchorRule != nil {
		s.anchorRule.states++
	}
	e.tags.Ref(s.tag)
	if s.poolAddr != nil {
		s.poolAddr.states++
	}
	e.nStates++
	e.alloc.states.Add(1)
	e.status.fcounters[fcInsert].Add(1)
	return nil
}

// checkConnLimits applies max-src-conn and max-src-conn-rate for a new
// connection from n's address. A rejected source is added to the overload
// table when the rule has one.
func (e *Engine) checkConnLimits(s *State, n *SrcNode, now int64) error {
	r := s.rule
	bad := false
	if r.MaxSrcConn > 0 && n.conn+1 > r.MaxSrcConn {
		e.countLimit(LCounterSrcConn)
		bad = true
	}
	if r.MaxSrcConnRate.Limit > 0 && !n.connRate.WouldAdmit(now) {
		e.countLimit(LCounterSrcConnRate)
		bad = true
	}
	if !bad {
		return nil
	}
	e.overload(r, n, s.Key)
	return errs.NewRateLimitedError(n.Addr.String(), r.MaxSrcConnRate.Limit, r.MaxSrcConnRate.Seconds)
}

// overload records n's address in the rule's overload table and, with
// flush set, expires the states it already opened.
func (e *Engine) overload(r *Rule, n *SrcNode, key StateKey) {
	if r.overload == nil {
		return
	}
	e.countLimit(LCounterOverloadTable)
	p := netip.PrefixFrom(n.Addr, n.Addr.BitLen())
	if err := e.tables.insert(r.overload, p); err != nil {
		e.log.Warnf("⚠️  [Core] Overload table <%s> insert of %s failed: %v", r.Overload, n.Addr, err)
		return
	}
	e.log.Infof("🚫 [Core] Source %s added to overload table <%s>", n.Addr, r.Overload)
	if r.Flush == 0 {
		return
	}
	e.countLimit(LCounterOverloadFlush)
	killed := 0
	e.byID.Ascend(func(st *State) bool {
		sk := &st.Key
		if sk.AF == key.AF && st.Timeout != TimeoutUnlinked &&
			((key.Direction == DirOut && sk.Lan.Addr == n.Addr) ||
				(key.Direction == DirIn && sk.Ext.Addr == n.Addr)) &&
			(r.Flush&FlushGlobal != 0 || st.rule == r) {
			st.Timeout = TimeoutPurge
			st.Src.State, st.Dst.State = 0, 0
			killed++
		}
		return true
	})
	e.log.Debugf("[Core] Overload flush killed %d states", killed)
}

// TouchState accounts a packet on s and refreshes its expiry with timeout t.
// TouchState 在状态上记录一个报文并以超时 t 刷新过期时间。
func (e *Engine) TouchState(s *State, dir int, bytes uint64, t Timeout) {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	if s.Timeout == TimeoutUnlinked || s.Timeout == TimeoutPurge {
		return
	}
	if dir == 0 || dir == 1 {
		s.Packets[dir]++
		s.Bytes[dir] += bytes
	}
	s.Expire = e.now()
	if validStateTimeout(t) {
		s.Timeout = t
	}
}

// expiresAt returns the unix time s expires. Caller holds stateMu.
// expiresAt 返回状态的过期时间（Unix 秒），调用方需持有 stateMu。
func (e *Engine) expiresAt(s *State) int64 {
	switch s.Timeout {
	case TimeoutPurge:
		return e.now()
	case TimeoutUntilPacket, TimeoutUnlinked:
		return 0
	}
	r := s.rule
	timeout := int64(e.ruleTimeout(r, s.Timeout))

	var start, end, states int64
	if v := r.Timeout(TimeoutAdaptiveStart); v != 0 && r != e.defaultRule {
		start = int64(v)
		end = int64(r.Timeout(TimeoutAdaptiveEnd))
		states = int64(r.states)
	} else {
		start = int64(e.defaultTimeout(TimeoutAdaptiveStart))
		end = int64(e.defaultTimeout(TimeoutAdaptiveEnd))
		states = int64(e.nStates)
	}
	if end != 0 && states > start && start < end {
		if states < end {
			return s.Expire + timeout*(end-states)/(end-start)
		}
		return e.now()
	}
	return s.Expire + timeout
}

// unlinkState removes s from the lookup trees and its source nodes. The
// struct stays on the entry list until the purge pass frees it.
// Caller holds stateMu.
// unlinkState 将状态从查找树与源节点中移除，由清理过程负责最终释放。
func (e *Engine) unlinkState(s *State) {
	if s.Timeout == TimeoutUnlinked {
		return
	}
	e.byID.Delete(s)
	if k := s.key; k != nil {
		for i, o := range k.states {
			if o == s {
				k.states = append(k.states[:i], k.states[i+1:]...)
				break
			}
		}
		if len(k.states) == 0 {
			e.lanExt.Delete(k)
			e.extGwy.Delete(k)
		}
		s.key = nil
	}
	s.Timeout = TimeoutUnlinked
	if s.poolAddr != nil {
		s.poolAddr.states--
		s.poolAddr = nil
	}
	e.srcTreeRemoveState(s)
}

// freeState releases an unlinked state and destroys rules it held last.
// Caller holds rulesMu for writing and stateMu.
func (e *Engine) freeState(s *State) {
	if s.freed || s.Timeout != TimeoutUnlinked {
		return
	}
	s.freed = true
	if e.purgeCur == s.elem {
		e.purgeCur = s.elem.Next()
	}
	e.entries.Remove(s.elem)
	s.elem = nil

	for _, r := range []*Rule{s.rule, s.natRule, s.anchorRule} {
		if r == nil {
			continue
		}
		r.states--
		e.destroyRule(r)
	}
	e.kifs.unref(s.kif, kifRefState)
	e.tags.Release(s.tag)
	s.kif, s.tag = nil, 0
	e.nStates--
	e.alloc.states.Add(-1)
	e.status.fcounters[fcRemovals].Add(1)
}

// StatesGet exports live states in insertion order.
// StatesGet 按插入顺序导出存活状态。
func (e *Engine) StatesGet(f *StateFilter) []WireState {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	now := e.now()
	out := make([]WireState, 0, e.nStates)
	for el := e.entries.Front(); el != nil; el = el.Next() {
		s := el.Value.(*State)
		if s.Timeout == TimeoutUnlinked {
			continue
		}
		w := e.export(s, now)
		if f == nil || f.Match(&w) {
			out = append(out, w)
		}
	}
	return out
}

// StateGet exports the nr-th state in id order.
func (e *Engine) StateGet(nr int) (WireState, error) {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	var found *State
	i := 0
	e.byID.Ascend(func(s *State) bool {
		if i == nr {
			found = s
			return false
		}
		i++
		return true
	})
	if found == nil || nr < 0 {
		return WireState{}, errs.NewNotFoundError("state", nr)
	}
	return e.export(found, e.now()), nil
}

// PortMatch is an optional port comparison used by kill filters.
type PortMatch struct {
	Op   PortOp    `json:"op,omitempty" yaml:"op,omitempty"`
	Port [2]uint16 `json:"port,omitempty" yaml:"port,omitempty"`
}

// Match reports whether p passes; PortNone matches everything.
func (m PortMatch) Match(p uint16) bool {
	return m.Op == PortNone || m.Op.Match(m.Port[0], m.Port[1], p)
}

// KillFilter selects states by family, protocol, endpoints, interface and
// an optional expression. Source is the side that opened the connection.
// KillFilter 按地址族、协议、端点、接口以及可选表达式选择状态。
type KillFilter struct {
	AF      AF           `json:"af,omitempty"`
	Proto   uint8        `json:"proto,omitempty"`
	Src     AddrMatch    `json:"src,omitempty"`
	Dst     AddrMatch    `json:"dst,omitempty"`
	SrcPort PortMatch    `json:"src_port,omitempty"`
	DstPort PortMatch    `json:"dst_port,omitempty"`
	IfName  string       `json:"ifname,omitempty"`
	Expr    *StateFilter `json:"-"`
}

func (f *KillFilter) match(e *Engine, s *State) bool {
	k := &s.Key
	src, dst := k.source(), k.destination()
	if (f.AF != AFUnspec && k.AF != f.AF) || (f.Proto != 0 && k.Proto != f.Proto) {
		return false
	}
	if !f.Src.Match(src.Addr) || !f.Dst.Match(dst.Addr) {
		return false
	}
	if !f.SrcPort.Match(src.Port) || !f.DstPort.Match(dst.Port) {
		return false
	}
	if f.IfName != "" && f.IfName != kifName(s.kif) {
		return false
	}
	if f.Expr != nil {
		w := e.export(s, e.now())
		return f.Expr.Match(&w)
	}
	return true
}

// candidates snapshots the linked states in id order.
func (e *Engine) candidates() []*State {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	out := make([]*State, 0, e.byID.Len())
	e.byID.Ascend(func(s *State) bool {
		out = append(out, s)
		return true
	})
	return out
}

// StatesKill unlinks the states matching f and returns how many were killed.
// Each state is unlinked under its own short lock hold.
// StatesKill 解除匹配 f 的状态并返回数量，每个状态单独加锁处理。
func (e *Engine) StatesKill(f KillFilter) int {
	killed := 0
	for _, s := range e.candidates() {
		e.stateMu.Lock()
		if s.Timeout != TimeoutUnlinked && f.match(e, s) {
			e.unlinkState(s)
			killed++
		}
		e.stateMu.Unlock()
	}
	if killed > 0 {
		e.log.Infof("🔪 [Core] Killed %d states", killed)
	}
	return killed
}

// StatesClear unlinks every state on ifName, or all states when empty.
func (e *Engine) StatesClear(ifName string) int {
	return e.StatesKill(KillFilter{IfName: ifName})
}

// NatLookRequest describes a connection as seen by a proxy.
type NatLookRequest struct {
	AF        AF         `json:"af"`
	Proto     uint8      `json:"proto"`
	SAddr     netip.Addr `json:"saddr"`
	SPort     uint16     `json:"sport"`
	DAddr     netip.Addr `json:"daddr"`
	DPort     uint16     `json:"dport"`
	Direction Direction  `json:"direction"`
}

// NatLookResult is the connection before translation.
type NatLookResult struct {
	RSAddr netip.Addr `json:"rsaddr"`
	RSPort uint16     `json:"rsport"`
	RDAddr netip.Addr `json:"rdaddr"`
	RDPort uint16     `json:"rdport"`
}

// NatLook finds the state of the reply direction of req and returns the
// untranslated endpoints.
// NatLook 按应答方向查找状态，返回转换前的端点。
func (e *Engine) NatLook(req NatLookRequest) (NatLookResult, error) {
	if req.Proto == 0 || !req.SAddr.IsValid() || req.SAddr.IsUnspecified() ||
		!req.DAddr.IsValid() || req.DAddr.IsUnspecified() ||
		((req.Proto == protoTCP || req.Proto == protoUDP) && (req.SPort == 0 || req.DPort == 0)) {
		return NatLookResult{}, errs.NewInvalidError("incomplete lookup %+v", req)
	}
	k := &stateKey{StateKey: StateKey{AF: req.AF, Proto: req.Proto}}

	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	e.status.fcounters[fcSearch].Add(1)

	var cur *stateKey
	var ok bool
	if req.Direction == DirIn {
		k.Ext = Endpoint{req.DAddr, req.DPort}
		k.Gwy = Endpoint{req.SAddr, req.SPort}
		cur, ok = e.extGwy.Get(k)
	} else {
		k.Lan = Endpoint{req.DAddr, req.DPort}
		k.Ext = Endpoint{req.SAddr, req.SPort}
		cur, ok = e.lanExt.Get(k)
	}
	if !ok || len(cur.states) == 0 {
		return NatLookResult{}, errs.NewNotFoundError("state", req.DAddr)
	}
	if len(cur.states) > 1 {
		return NatLookResult{}, errs.NewBusyError("%d states match", len(cur.states))
	}
	if req.Direction == DirIn {
		return NatLookResult{
			RSAddr: cur.Lan.Addr, RSPort: cur.Lan.Port,
			RDAddr: req.DAddr, RDPort: req.DPort,
		}, nil
	}
	return NatLookResult{
		RSAddr: req.SAddr, RSPort: req.SPort,
		RDAddr: cur.Gwy.Addr, RDPort: cur.Gwy.Port,
	}, nil
}

// MapAddr picks the translation address of r for src. With sticky-address
// an existing source node's address is reused.
// MapAddr 为 src 选择规则 r 的转换地址；启用粘滞地址时复用源节点中记录的地址。
func (e *Engine) MapAddr(r *Rule, src netip.Addr) (netip.Addr, *PoolAddr, error) {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	if r == nil || r.destroyed || r.pool == nil {
		return netip.Addr{}, nil, errs.NewNotFoundError("rule pool", "")
	}
	if r.Pool.StickyAddr {
		if n := e.findSrcNode(r, AFOf(src), src); n != nil && n.RAddr.IsValid() {
			for _, pa := range r.pool.addrs {
				if e.matcher.Match(&pa.Addr, n.RAddr) {
					return n.RAddr, pa, nil
				}
			}
			return n.RAddr, nil, nil
		}
	}
	return r.pool.Next(src)
}
