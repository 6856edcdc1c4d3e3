package core

import (
	"cmp"
	"net/netip"

	"github.com/livp123/netxpf/internal/core/ratelimit"
)

// SrcNode aggregates the states of one source address, optionally per rule.
// It carries the sticky translation address and the connection-rate window.
// SrcNode 聚合同一源地址（可按规则区分）的全部状态，保存粘滞地址与连接速率窗口。
type SrcNode struct {
	AF       AF
	Addr     netip.Addr
	RAddr    netip.Addr
	Creation int64
	Expire   int64
	RuleType Action

	rule     *Rule
	serial   uint64
	states   int
	conn     uint32
	connRate ratelimit.Window
	killed   bool
}

// SrcNodeView is the exported form of a source node.
// SrcNodeView 是源节点的导出形式。
type SrcNodeView struct {
	AF       AF         `json:"af"`
	Addr     netip.Addr `json:"addr"`
	RAddr    netip.Addr `json:"raddr,omitempty"`
	Rule     int32      `json:"rule"`
	States   int        `json:"states"`
	Conn     uint32     `json:"conn"`
	ConnRate uint32     `json:"conn_rate"`
	RateLim  uint32     `json:"conn_rate_limit,omitempty"`
	RateSecs uint32     `json:"conn_rate_seconds,omitempty"`
	Creation int64      `json:"creation"`
	Expire   int64      `json:"expire"`
	RuleType string     `json:"rule_type"`
}

func srcNodeLess(a, b *SrcNode) bool {
	if c := cmp.Compare(a.serial, b.serial); c != 0 {
		return c < 0
	}
	if c := cmp.Compare(a.AF, b.AF); c != 0 {
		return c < 0
	}
	return a.Addr.Less(b.Addr)
}

// tracksRule reports whether source nodes of r are keyed per rule.
func tracksRule(r *Rule) bool {
	return r.RuleFlag&RuleFlagRuleSrcTrack != 0 || r.Pool.StickyAddr
}

// needsSrcNode reports whether states of r must be attached to a source node.
func needsSrcNode(r *Rule) bool {
	return r.RuleFlag&(RuleFlagSrcTrack|RuleFlagRuleSrcTrack) != 0 ||
		r.Pool.StickyAddr || r.MaxSrcNodes > 0 || r.MaxSrcStates > 0 ||
		r.MaxSrcConn > 0 || r.MaxSrcConnRate.Limit > 0
}

// findSrcNode looks up the node of src under r. Caller holds stateMu.
func (e *Engine) findSrcNode(r *Rule, af AF, src netip.Addr) *SrcNode {
	k := &SrcNode{AF: af, Addr: src}
	if tracksRule(r) {
		k.serial = r.serial
	}
	e.status.scounters[fcSearch].Add(1)
	n, ok := e.srcNodes.Get(k)
	if !ok {
		return nil
	}
	return n
}

// newSrcNode builds an unlinked node for src under r.
func (e *Engine) newSrcNode(r *Rule, af AF, src netip.Addr) *SrcNode {
	n := &SrcNode{
		AF:       af,
		Addr:     src,
		Creation: e.now(),
		RuleType: r.Action,
		connRate: ratelimit.New(r.MaxSrcConnRate.Limit, r.MaxSrcConnRate.Seconds),
	}
	if tracksRule(r) {
		n.rule, n.serial = r, r.serial
	}
	return n
}

// linkSrcNode inserts a node built by newSrcNode. Caller holds stateMu.
func (e *Engine) linkSrcNode(n *SrcNode) {
	e.srcNodes.ReplaceOrInsert(n)
	if n.rule != nil {
		n.rule.srcNodes++
	}
	e.nSrcNodes++
	e.alloc.srcNodes.Add(1)
	e.status.scounters[fcInsert].Add(1)
}

// srcTreeRemoveState detaches s from its source nodes, arming their expiry
// once no state is left.
func (e *Engine) srcTreeRemoveState(s *State) {
	now := e.now()
	if n := s.srcNode; n != nil {
		if s.connCounted && n.conn > 0 {
			n.conn--
		}
		n.states--
		if n.states <= 0 {
			n.Expire = now + int64(e.ruleTimeout(s.rule, TimeoutSrcNode))
		}
	}
	if n := s.natSrcNode; n != nil && n != s.srcNode {
		n.states--
		if n.states <= 0 {
			n.Expire = now + int64(e.ruleTimeout(s.rule, TimeoutSrcNode))
		}
	}
	s.srcNode, s.natSrcNode = nil, nil
	s.connCounted = false
}

// expiredSrcNodes unlinks expired source nodes and returns their rules for
// release. Caller holds stateMu.
func (e *Engine) expiredSrcNodes() []*Rule {
	now := e.now()
	var dead []*SrcNode
	e.srcNodes.Ascend(func(n *SrcNode) bool {
		if n.states <= 0 && n.Expire <= now {
			dead = append(dead, n)
		}
		return true
	})
	var rules []*Rule
	for _, n := range dead {
		e.srcNodes.Delete(n)
		if r := e.freeSrcNode(n); r != nil {
			rules = append(rules, r)
		}
	}
	return rules
}

// freeSrcNode drops the accounting of a node already removed from the tree
// and returns the rule it referenced. Caller holds stateMu.
func (e *Engine) freeSrcNode(n *SrcNode) *Rule {
	r := n.rule
	if r != nil {
		r.srcNodes--
		n.rule = nil
	}
	e.nSrcNodes--
	e.alloc.srcNodes.Add(-1)
	e.status.scounters[fcRemovals].Add(1)
	return r
}

// PurgeExpiredSrcNodes frees source nodes with no states whose expiry has
// passed, then destroys rules they were the last reference to.
// PurgeExpiredSrcNodes 释放无状态且已过期的源节点，并销毁因此不再被引用的规则。
func (e *Engine) PurgeExpiredSrcNodes() int {
	e.rulesMu.Lock()
	defer e.rulesMu.Unlock()
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return e.purgeSrcNodesLocked()
}

func (e *Engine) purgeSrcNodesLocked() int {
	before := e.nSrcNodes
	for _, r := range e.expiredSrcNodes() {
		e.destroyRule(r)
	}
	return before - e.nSrcNodes
}

func (e *Engine) srcNodeView(n *SrcNode, now int64) SrcNodeView {
	v := SrcNodeView{
		AF:       n.AF,
		Addr:     n.Addr,
		RAddr:    n.RAddr,
		Rule:     -1,
		States:   n.states,
		Conn:     n.conn,
		ConnRate: n.connRate.Estimate(now),
		RateLim:  n.connRate.Limit,
		RateSecs: n.connRate.Seconds,
		Creation: now - n.Creation,
		RuleType: n.RuleType.String(),
	}
	if n.rule != nil {
		v.Rule = n.rule.Nr()
	}
	if n.Expire > now {
		v.Expire = n.Expire - now
	}
	return v
}

// SourceNodesGet returns every source node in tree order.
// SourceNodesGet 按树序返回全部源节点。
func (e *Engine) SourceNodesGet(f *SrcNodeFilter) []SrcNodeView {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	now := e.now()
	out := make([]SrcNodeView, 0, e.nSrcNodes)
	e.srcNodes.Ascend(func(n *SrcNode) bool {
		v := e.srcNodeView(n, now)
		if f == nil || f.Match(&v) {
			out = append(out, v)
		}
		return true
	})
	return out
}

// killSrcNodes frees the source nodes sel picks. The nodes leave the lookup
// tree under one short lock hold, so new states build fresh nodes; each
// state is then detached under its own lock hold, and the nodes are freed
// last.
// killSrcNodes 释放 sel 选中的源节点：先在一次短暂加锁中移出查找树，再逐个状态解除关联，最后释放节点。
func (e *Engine) killSrcNodes(sel func(*SrcNode) bool) int {
	// 1. Unlink from the tree / 移出查找树
	e.stateMu.Lock()
	var kill []*SrcNode
	e.srcNodes.Ascend(func(n *SrcNode) bool {
		if sel(n) {
			kill = append(kill, n)
		}
		return true
	})
	for _, n := range kill {
		e.srcNodes.Delete(n)
		n.killed = true
	}
	e.stateMu.Unlock()
	if len(kill) == 0 {
		return 0
	}

	// 2. Detach states one at a time / 逐个状态解除关联
	for _, s := range e.candidates() {
		e.stateMu.Lock()
		if s.srcNode != nil && s.srcNode.killed {
			s.srcNode = nil
			s.connCounted = false
		}
		if s.natSrcNode != nil && s.natSrcNode.killed {
			s.natSrcNode = nil
		}
		e.stateMu.Unlock()
	}

	// 3. Free the nodes and the rules they kept alive / 释放节点及其维持的规则
	e.rulesMu.Lock()
	e.stateMu.Lock()
	for _, n := range kill {
		n.states = 0
		if r := e.freeSrcNode(n); r != nil {
			e.destroyRule(r)
		}
	}
	e.stateMu.Unlock()
	e.rulesMu.Unlock()
	return len(kill)
}

// SourceNodesClear detaches all source nodes from their states and frees them.
// SourceNodesClear 解除所有源节点与状态的关联并释放它们。
func (e *Engine) SourceNodesClear() int {
	n := e.killSrcNodes(func(*SrcNode) bool { return true })
	e.log.Infof("🧹 [Core] Cleared %d source nodes", n)
	return n
}

// SourceNodesKill frees the source nodes whose address matches src and
// whose translation address matches dst.
// SourceNodesKill 释放源地址匹配 src 且转换地址匹配 dst 的源节点。
func (e *Engine) SourceNodesKill(src, dst AddrMatch) int {
	return e.killSrcNodes(func(n *SrcNode) bool {
		return src.Match(n.Addr) && dst.Match(n.RAddr)
	})
}

// AddrMatch is an optional address mask with negation used by kill filters.
// The zero value matches everything.
// AddrMatch 是 kill 过滤器使用的可取反地址掩码，零值匹配一切。
type AddrMatch struct {
	Prefix netip.Prefix `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	Neg    bool         `json:"neg,omitempty" yaml:"neg,omitempty"`
}

// Match reports whether a is covered.
func (m AddrMatch) Match(a netip.Addr) bool {
	if !m.Prefix.IsValid() {
		return !m.Neg
	}
	if !a.IsValid() {
		return m.Neg
	}
	return matchAddr(m.Neg, m.Prefix, a)
}
