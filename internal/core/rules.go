package core

import (
	"fmt"
	"strings"
	"sync/atomic"

	errs "github.com/livp123/netxpf/pkg/errors"
)

// Action is what a matching rule does.
// Action 是规则匹配后的动作。
type Action uint8

const (
	ActionPass Action = iota
	ActionDrop
	ActionScrub
	ActionNoScrub
	ActionNAT
	ActionNoNAT
	ActionBINAT
	ActionNoBINAT
	ActionRDR
	ActionNoRDR
)

var actionNames = map[Action]string{
	ActionPass: "pass", ActionDrop: "block", ActionScrub: "scrub", ActionNoScrub: "no-scrub",
	ActionNAT: "nat", ActionNoNAT: "no-nat", ActionBINAT: "binat", ActionNoBINAT: "no-binat",
	ActionRDR: "rdr", ActionNoRDR: "no-rdr",
}

func (a Action) String() string {
	if s, ok := actionNames[a]; ok {
		return s
	}
	return fmt.Sprintf("action(%d)", uint8(a))
}

// ParseAction resolves names like "pass", "block", "rdr".
func ParseAction(s string) (Action, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "drop" {
		return ActionDrop, nil
	}
	for a, n := range actionNames {
		if n == s {
			return a, nil
		}
	}
	return 0, errs.NewInvalidError("unknown action %q", s)
}

// Direction of traffic a rule or state applies to.
type Direction uint8

const (
	DirInOut Direction = iota
	DirIn
	DirOut
)

func (d Direction) String() string {
	switch d {
	case DirIn:
		return "in"
	case DirOut:
		return "out"
	}
	return "inout"
}

// Class is a rule class, one rule list per class per anchor.
// Class 是规则类别，每个锚点每个类别各有一条规则链。
type Class int

const (
	ClassScrub Class = iota
	ClassFilter
	ClassNAT
	ClassBINAT
	ClassRDR
	classCount

	// Transaction-only classes.
	ClassALTQ  Class = 6
	ClassTable Class = 7
)

var classNames = map[Class]string{
	ClassScrub: "scrub", ClassFilter: "filter", ClassNAT: "nat",
	ClassBINAT: "binat", ClassRDR: "rdr", ClassALTQ: "altq", ClassTable: "table",
}

func (c Class) String() string {
	if s, ok := classNames[c]; ok {
		return s
	}
	return fmt.Sprintf("class(%d)", int(c))
}

// ParseClass resolves a class name.
func ParseClass(s string) (Class, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for c, n := range classNames {
		if n == s {
			return c, nil
		}
	}
	return 0, errs.NewInvalidError("unknown rule class %q", s)
}

// ClassOf returns the rule class an action belongs to.
func ClassOf(a Action) (Class, error) {
	switch a {
	case ActionScrub, ActionNoScrub:
		return ClassScrub, nil
	case ActionPass, ActionDrop:
		return ClassFilter, nil
	case ActionNAT, ActionNoNAT:
		return ClassNAT, nil
	case ActionBINAT, ActionNoBINAT:
		return ClassBINAT, nil
	case ActionRDR, ActionNoRDR:
		return ClassRDR, nil
	}
	return 0, errs.NewInvalidError("unknown action %d", a)
}

func validRuleClass(c Class) bool {
	return c >= 0 && c < classCount
}

// RouteOpt is the route-to family of options.
type RouteOpt uint8

const (
	RouteNone RouteOpt = iota
	RouteFast
	RouteTo
	RouteDupTo
	RouteReplyTo
)

// KeepState values.
const (
	KeepStateNone uint8 = iota
	KeepStateNormal
	KeepStateModulate
	KeepStateSynproxy
)

// Rule flags.
const (
	RuleFlagSrcTrack     uint32 = 0x0020
	RuleFlagRuleSrcTrack uint32 = 0x0040
)

// Overload flush modes.
const (
	FlushRule   uint8 = 0x01
	FlushGlobal uint8 = 0x02
)

// IDMatch is a uid/gid comparison.
type IDMatch struct {
	ID [2]uint32 `json:"id,omitempty" yaml:"id,omitempty"`
	Op PortOp    `json:"op,omitempty" yaml:"op,omitempty"`
}

// ConnRate is a max-src-conn-rate setting.
type ConnRate struct {
	Limit   uint32 `json:"limit" yaml:"limit"`
	Seconds uint32 `json:"seconds" yaml:"seconds"`
}

// PoolOpts configures the rule's address pool.
// PoolOpts 配置规则的地址池。
type PoolOpts struct {
	Policy     PoolPolicy `json:"policy,omitempty" yaml:"policy,omitempty"`
	Key        [2]uint64  `json:"key,omitempty" yaml:"key,omitempty"`
	StickyAddr bool       `json:"sticky_address,omitempty" yaml:"sticky_address,omitempty"`
	ProxyPort  [2]uint16  `json:"proxy_port,omitempty" yaml:"proxy_port,omitempty"`
}

// RuleSpec is the definition of a rule as supplied by an administrator.
// RuleSpec 是管理员提交的规则定义。
type RuleSpec struct {
	Action    Action    `json:"action" yaml:"action"`
	Direction Direction `json:"direction,omitempty" yaml:"direction,omitempty"`
	AF        AF        `json:"af,omitempty" yaml:"af,omitempty"`
	Proto     uint8     `json:"proto,omitempty" yaml:"proto,omitempty"`
	Src       RuleAddr  `json:"src" yaml:"src"`
	Dst       RuleAddr  `json:"dst" yaml:"dst"`
	IfName    string    `json:"ifname,omitempty" yaml:"ifname,omitempty"`
	IfNot     bool      `json:"ifnot,omitempty" yaml:"ifnot,omitempty"`
	Quick     bool      `json:"quick,omitempty" yaml:"quick,omitempty"`
	Log       uint8     `json:"log,omitempty" yaml:"log,omitempty"`
	LogIf     uint8     `json:"logif,omitempty" yaml:"logif,omitempty"`
	KeepState uint8     `json:"keep_state,omitempty" yaml:"keep_state,omitempty"`
	Label     string    `json:"label,omitempty" yaml:"label,omitempty"`

	Tag         string `json:"tag,omitempty" yaml:"tag,omitempty"`
	MatchTag    string `json:"match_tag,omitempty" yaml:"match_tag,omitempty"`
	MatchTagNot bool   `json:"match_tag_not,omitempty" yaml:"match_tag_not,omitempty"`
	Queue       string `json:"queue,omitempty" yaml:"queue,omitempty"`
	PQueue      string `json:"pqueue,omitempty" yaml:"pqueue,omitempty"`

	Route       RouteOpt `json:"route,omitempty" yaml:"route,omitempty"`
	ReturnICMP  uint16   `json:"return_icmp,omitempty" yaml:"return_icmp,omitempty"`
	ReturnICMP6 uint16   `json:"return_icmp6,omitempty" yaml:"return_icmp6,omitempty"`
	Type        uint8    `json:"type,omitempty" yaml:"type,omitempty"`
	Code        uint8    `json:"code,omitempty" yaml:"code,omitempty"`
	Flags       uint8    `json:"flags,omitempty" yaml:"flags,omitempty"`
	FlagSet     uint8    `json:"flagset,omitempty" yaml:"flagset,omitempty"`
	Tos         uint8    `json:"tos,omitempty" yaml:"tos,omitempty"`
	Prob        uint32   `json:"prob,omitempty" yaml:"prob,omitempty"`
	UID         IDMatch  `json:"uid,omitempty" yaml:"uid,omitempty"`
	GID         IDMatch  `json:"gid,omitempty" yaml:"gid,omitempty"`
	RuleFlag    uint32   `json:"rule_flag,omitempty" yaml:"rule_flag,omitempty"`
	AllowOpts   bool     `json:"allow_opts,omitempty" yaml:"allow_opts,omitempty"`
	NatPass     bool     `json:"natpass,omitempty" yaml:"natpass,omitempty"`
	OSFP        uint32   `json:"os_fingerprint,omitempty" yaml:"os_fingerprint,omitempty"`

	MaxStates      uint32   `json:"max_states,omitempty" yaml:"max_states,omitempty"`
	MaxSrcNodes    uint32   `json:"max_src_nodes,omitempty" yaml:"max_src_nodes,omitempty"`
	MaxSrcStates   uint32   `json:"max_src_states,omitempty" yaml:"max_src_states,omitempty"`
	MaxSrcConn     uint32   `json:"max_src_conn,omitempty" yaml:"max_src_conn,omitempty"`
	MaxSrcConnRate ConnRate `json:"max_src_conn_rate,omitempty" yaml:"max_src_conn_rate,omitempty"`
	Overload       string   `json:"overload,omitempty" yaml:"overload,omitempty"`
	Flush          uint8    `json:"flush,omitempty" yaml:"flush,omitempty"`

	Timeouts map[string]uint32 `json:"timeouts,omitempty" yaml:"timeouts,omitempty"`
	Anchor   string            `json:"anchor,omitempty" yaml:"anchor,omitempty"`
	Pool     PoolOpts          `json:"pool,omitempty" yaml:"pool,omitempty"`
}

// Rule is a committed or staged rule with its resolved references.
// Counters are updated atomically by the classifier; states and srcNodes
// are guarded by the engine's state lock.
// Rule 是已提交或暂存的规则及其解析后的引用。
type Rule struct {
	RuleSpec

	nr     atomic.Int32
	serial uint64

	tag      uint16
	matchTag uint16
	qid      uint16
	pqid     uint16
	timeout  [TimeoutMax]uint32
	kif      *Kif
	overload *Table
	anchor   *Anchor
	wildcard bool
	ruleset  *Anchor
	pool     *Pool

	evaluations atomic.Uint64
	packets     [2]atomic.Uint64
	bytes       [2]atomic.Uint64

	states    int
	srcNodes  int
	linked    bool
	destroyed bool
}

// Nr returns the rule number, or -1 once the rule was removed from its list.
func (r *Rule) Nr() int32 { return r.nr.Load() }

// AddrPool returns the rule's address pool.
func (r *Rule) AddrPool() *Pool { return r.pool }

// TagID returns the interned id of the rule's tag.
func (r *Rule) TagID() uint16 { return r.tag }

// QueueID returns the interned queue id.
func (r *Rule) QueueID() uint16 { return r.qid }

// AnchorCall returns the anchor the rule evaluates, if any.
func (r *Rule) AnchorCall() *Anchor { return r.anchor }

// Timeout returns the effective per-rule timeout, 0 meaning "use default".
func (r *Rule) Timeout(t Timeout) uint32 {
	if t >= TimeoutMax {
		return 0
	}
	return r.timeout[t]
}

// Account adds one evaluation and the packet totals, dir 0 in, 1 out.
// Account 累加一次评估及报文计数，dir 0 表示入向，1 表示出向。
func (r *Rule) Account(dir int, packets, bytes uint64) {
	r.evaluations.Add(1)
	if dir < 0 || dir > 1 {
		return
	}
	r.packets[dir].Add(packets)
	r.bytes[dir].Add(bytes)
}

func (r *Rule) clearCounters() {
	r.evaluations.Store(0)
	for i := 0; i < 2; i++ {
		r.packets[i].Store(0)
		r.bytes[i].Store(0)
	}
}

// needsPool reports whether the rule translates addresses.
func (r *Rule) needsPool() bool {
	switch r.Action {
	case ActionNAT, ActionRDR, ActionBINAT:
		return true
	}
	return r.Route > RouteFast
}

// RuleView is a read-only snapshot of a rule for display and export.
// RuleView 是用于展示与导出的规则只读快照。
type RuleView struct {
	RuleSpec
	Nr          int32            `json:"nr"`
	Skip        [SkipCount]int32 `json:"skip"`
	Evaluations uint64           `json:"evaluations"`
	Packets     [2]uint64        `json:"packets"`
	Bytes       [2]uint64        `json:"bytes"`
	States      int              `json:"states"`
	SrcNodes    int              `json:"src_nodes"`
	TagID       uint16           `json:"tag_id,omitempty"`
	QueueID     uint16           `json:"queue_id,omitempty"`
	AnchorPath  string           `json:"anchor_path,omitempty"`
	PoolAddrs   []PoolAddrView   `json:"pool_addrs,omitempty"`
	Ticket      uint32           `json:"ticket"`
}
