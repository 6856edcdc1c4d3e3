package core

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/btree"
	"go.uber.org/zap"

	"github.com/livp123/netxpf/internal/core/tags"
	"github.com/livp123/netxpf/internal/utils/clock"
)

// Engine holds every table of the packet-filter control plane.
//
// Lock order is rulesMu before stateMu. rulesMu (write) guards ruleset
// definition and commit, anchors, tables, the pool buffer and ALTQ lists.
// stateMu guards the state table, source nodes, rule state counters and
// pool cursors.
//
// Engine 保存包过滤控制平面的全部数据表。
// 加锁顺序为先 rulesMu 后 stateMu。
type Engine struct {
	rulesMu sync.RWMutex
	stateMu sync.Mutex

	clock   clock.Clock
	log     *zap.SugaredLogger
	matcher AddressMatcher
	ifaces  InterfaceResolver
	disc    QueueDiscipline
	afs     map[AF]bool

	anchors *anchorTree
	tables  *tableRegistry
	kifs    *kifRegistry
	tags    *tags.Table
	qids    *tags.Table

	poolTicket uint32
	poolBuf    []*PoolAddr
	ruleSerial uint64

	defaultRule *Rule
	timeouts    [TimeoutMax]atomic.Uint32
	limits      [LimitMax]atomic.Uint32

	lanExt    *btree.BTreeG[*stateKey]
	extGwy    *btree.BTreeG[*stateKey]
	byID      *btree.BTreeG[*State]
	entries   *list.List
	purgeCur  *list.Element
	srcNodes  *btree.BTreeG[*SrcNode]
	nStates   int
	nSrcNodes int

	altq altqLists

	status  status
	wake    chan struct{}
	alloc   allocTracker
	purging sync.Mutex
}

// Option configures an Engine.
// Option 用于配置 Engine。
type Option func(*Engine)

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithLogger sets the logger used for engine events.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(e *Engine) { e.log = l }
}

// WithAddressMatcher sets the matcher used for tables and dynamic addresses.
func WithAddressMatcher(m AddressMatcher) Option {
	return func(e *Engine) { e.matcher = m }
}

// WithInterfaces sets the resolver consulted when rules or states name an interface.
func WithInterfaces(r InterfaceResolver) Option {
	return func(e *Engine) { e.ifaces = r }
}

// WithQueueDiscipline sets the ALTQ scheduler backend.
func WithQueueDiscipline(d QueueDiscipline) Option {
	return func(e *Engine) { e.disc = d }
}

// WithAddressFamilies restricts the families rules and states may use.
// WithAddressFamilies 限定规则与状态可使用的地址族。
func WithAddressFamilies(afs ...AF) Option {
	return func(e *Engine) {
		e.afs = make(map[AF]bool, len(afs))
		for _, af := range afs {
			e.afs[af] = true
		}
	}
}

// WithHostID fixes the creator id stamped on locally created states.
func WithHostID(id uint32) Option {
	return func(e *Engine) { e.status.hostID = id }
}

// WithTimeouts overrides default timeouts by name.
func WithTimeouts(values map[Timeout]uint32) Option {
	return func(e *Engine) {
		for t, v := range values {
			if t < TimeoutMax {
				e.timeouts[t].Store(v)
			}
		}
	}
}

// WithLimits overrides default hard limits.
func WithLimits(values map[Limit]uint32) Option {
	return func(e *Engine) {
		for l, v := range values {
			if l < LimitMax {
				e.limits[l].Store(v)
			}
		}
	}
}

// New creates an engine with empty rulesets and state tables.
// New 创建一个规则集与状态表均为空的引擎。
func New(opts ...Option) *Engine {
	e := &Engine{
		clock:    clock.RealClock{},
		log:      zap.NewNop().Sugar(),
		anchors:  newAnchorTree(),
		tags:     tags.New("tag"),
		qids:     tags.New("queue"),
		lanExt:   btree.NewG[*stateKey](16, lanExtLess),
		extGwy:   btree.NewG[*stateKey](16, extGwyLess),
		byID:     btree.NewG[*State](16, stateIDLess),
		entries:  list.New(),
		srcNodes: btree.NewG[*SrcNode](16, srcNodeLess),
		disc:     NopDiscipline{},
		wake:     make(chan struct{}, 1),
	}
	for i, v := range DefaultTimeouts {
		e.timeouts[i].Store(v)
	}
	for i, v := range DefaultLimits {
		e.limits[i].Store(v)
	}
	for _, o := range opts {
		o(e)
	}
	if e.matcher == nil {
		e.matcher = PrefixMatcher{Interfaces: e.ifaces}
	}
	e.tables = newTableRegistry(
		func() int { return int(e.limits[LimitTables].Load()) },
		func() int { return int(e.limits[LimitTableEntries].Load()) },
	)
	e.kifs = newKifRegistry(e.ifaces)
	if e.status.hostID == 0 {
		e.status.hostID = randomHostID()
	}

	e.defaultRule = &Rule{RuleSpec: RuleSpec{Action: ActionPass}, linked: true}
	e.defaultRule.nr.Store(-1)
	return e
}

// now returns the engine time in unix seconds.
func (e *Engine) now() int64 { return e.clock.Now().Unix() }

// Now returns the engine's current time.
func (e *Engine) Now() time.Time { return e.clock.Now() }

// Logger returns the engine logger.
func (e *Engine) Logger() *zap.SugaredLogger { return e.log }

// DefaultRule returns the rule imported states attach to.
func (e *Engine) DefaultRule() *Rule { return e.defaultRule }

// Tags returns the tag interning table.
func (e *Engine) Tags() *tags.Table { return e.tags }

// QueueIDs returns the queue-id interning table.
func (e *Engine) QueueIDs() *tags.Table { return e.qids }

func (e *Engine) afAllowed(af AF) bool {
	if af == AFUnspec || e.afs == nil {
		return true
	}
	return e.afs[af]
}

// defaultTimeout returns the global value of t.
func (e *Engine) defaultTimeout(t Timeout) uint32 {
	if t >= TimeoutMax {
		return 0
	}
	return e.timeouts[t].Load()
}

// ruleTimeout returns r's value for t, falling back to the global value.
func (e *Engine) ruleTimeout(r *Rule, t Timeout) uint32 {
	if r != nil && r != e.defaultRule {
		if v := r.Timeout(t); v != 0 {
			return v
		}
	}
	return e.defaultTimeout(t)
}

// signal wakes the purge loop without blocking.
func (e *Engine) signal() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Anchor returns the anchor at path, or nil. Paths are "/"-separated and
// "" is the main ruleset.
// Anchor 返回路径对应的锚点，不存在时返回 nil。
func (e *Engine) Anchor(path string) *Anchor {
	e.rulesMu.RLock()
	defer e.rulesMu.RUnlock()
	return e.anchors.find(path)
}

// Main returns the main ruleset.
func (e *Engine) Main() *Anchor { return e.anchors.main }

// allocTracker counts live objects owned by the engine.
type allocTracker struct {
	rules     atomic.Int64
	states    atomic.Int64
	srcNodes  atomic.Int64
	poolAddrs atomic.Int64
}

// Allocations is a snapshot of live object counts.
// Allocations 是存活对象计数的快照。
type Allocations struct {
	Rules     int64 `json:"rules"`
	States    int64 `json:"states"`
	SrcNodes  int64 `json:"src_nodes"`
	PoolAddrs int64 `json:"pool_addrs"`
	Tags      int   `json:"tags"`
	QueueIDs  int   `json:"queue_ids"`
	Tables    int   `json:"tables"`
	Kifs      int   `json:"kifs"`
	Anchors   int   `json:"anchors"`
}

// Allocations reports the live object counts.
func (e *Engine) Allocations() Allocations {
	e.rulesMu.RLock()
	anchors := e.anchors.len()
	e.rulesMu.RUnlock()
	return Allocations{
		Rules:     e.alloc.rules.Load(),
		States:    e.alloc.states.Load(),
		SrcNodes:  e.alloc.srcNodes.Load(),
		PoolAddrs: e.alloc.poolAddrs.Load(),
		Tags:      e.tags.Len(),
		QueueIDs:  e.qids.Len(),
		Tables:    e.tables.len(),
		Kifs:      e.kifs.len(),
		Anchors:   anchors,
	}
}

// Zero reports whether nothing is allocated.
func (a Allocations) Zero() bool {
	return a == Allocations{}
}
