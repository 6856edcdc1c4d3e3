package core

import (
	"encoding/hex"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	errs "github.com/livp123/netxpf/pkg/errors"
)

// Counter indexes the packet result counters.
type Counter uint8

const (
	CounterMatch Counter = iota
	CounterBadOffset
	CounterFragment
	CounterShort
	CounterNormalize
	CounterMemory
	CounterBadTimestamp
	CounterCongestion
	CounterIPOption
	CounterProtoChecksum
	CounterStateMismatch
	CounterStateInsert
	CounterStateLimit
	CounterSrcLimit
	CounterSynproxy
	CounterMax
)

// CounterNames are the display names of the result counters.
var CounterNames = [CounterMax]string{
	"match", "bad-offset", "fragment", "short", "normalize", "memory",
	"bad-timestamp", "congestion", "ip-option", "proto-cksum",
	"state-mismatch", "state-insert", "state-limit", "src-limit", "synproxy",
}

// LimitCounter indexes the limit-hit counters.
type LimitCounter uint8

const (
	LCounterStates LimitCounter = iota
	LCounterSrcStates
	LCounterSrcNodes
	LCounterSrcConn
	LCounterSrcConnRate
	LCounterOverloadTable
	LCounterOverloadFlush
	LCounterMax
)

// LimitCounterNames are the display names of the limit counters.
var LimitCounterNames = [LCounterMax]string{
	"max-states-per-rule", "max-src-states", "max-src-nodes", "max-src-conn",
	"max-src-conn-rate", "overload-table-insertion", "overload-flush-states",
}

const (
	fcSearch = iota
	fcInsert
	fcRemovals
	fcMax
)

type status struct {
	mu       sync.Mutex
	running  bool
	since    int64
	debug    uint32
	hostID   uint32
	stateID  uint64
	ifName   string
	checksum Checksum

	counters  [CounterMax]atomic.Uint64
	lcounters [LCounterMax]atomic.Uint64
	fcounters [fcMax]atomic.Uint64
	scounters [fcMax]atomic.Uint64
}

// Status is a snapshot of engine status.
// Status 是引擎状态的快照。
type Status struct {
	Running   bool              `json:"running"`
	Since     time.Time         `json:"since"`
	Debug     uint32            `json:"debug"`
	HostID    uint32            `json:"hostid"`
	States    int               `json:"states"`
	SrcNodes  int               `json:"src_nodes"`
	IfName    string            `json:"ifname,omitempty"`
	Checksum  string            `json:"checksum"`
	Counters  map[string]uint64 `json:"counters"`
	LCounters map[string]uint64 `json:"limit_counters"`
	FCounters map[string]uint64 `json:"state_counters"`
	SCounters map[string]uint64 `json:"src_node_counters"`
}

var fcNames = [fcMax]string{"searches", "inserts", "removals"}

func randomHostID() uint32 {
	for {
		if id := rand.Uint32(); id != 0 {
			return id
		}
	}
}

// Count increments a result counter. Called from the classification path.
// Count 递增一个结果计数器，由分类路径调用。
func (e *Engine) Count(c Counter) {
	if c < CounterMax {
		e.status.counters[c].Add(1)
	}
}

func (e *Engine) countLimit(c LimitCounter) {
	e.status.lcounters[c].Add(1)
}

// Start enables the filter. Fails with Exists when already running.
// Start 启用过滤器，已运行时返回 Exists。
func (e *Engine) Start() error {
	s := &e.status
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errs.ErrExists
	}
	s.running = true
	s.since = e.now()
	if s.stateID == 0 {
		s.stateID = uint64(s.since) << 32
	}
	e.log.Infof("🚀 [Core] Packet filter started (hostid %08x)", s.hostID)
	return nil
}

// Stop disables the filter. Fails with NotRunning when stopped.
func (e *Engine) Stop() error {
	s := &e.status
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return errs.ErrNotRunning
	}
	s.running = false
	s.since = e.now()
	e.log.Infof("🛑 [Core] Packet filter stopped")
	return nil
}

// Running reports whether the filter is enabled.
func (e *Engine) Running() bool {
	e.status.mu.Lock()
	defer e.status.mu.Unlock()
	return e.status.running
}

// StatusGet returns a snapshot of status and counters.
func (e *Engine) StatusGet() Status {
	s := &e.status
	e.stateMu.Lock()
	states, nodes := e.nStates, e.nSrcNodes
	e.stateMu.Unlock()

	s.mu.Lock()
	out := Status{
		Running:  s.running,
		Since:    time.Unix(s.since, 0),
		Debug:    s.debug,
		HostID:   s.hostID,
		IfName:   s.ifName,
		Checksum: hex.EncodeToString(s.checksum[:]),
	}
	s.mu.Unlock()

	out.States, out.SrcNodes = states, nodes
	out.Counters = make(map[string]uint64, CounterMax)
	for i := range s.counters {
		out.Counters[CounterNames[i]] = s.counters[i].Load()
	}
	out.LCounters = make(map[string]uint64, LCounterMax)
	for i := range s.lcounters {
		out.LCounters[LimitCounterNames[i]] = s.lcounters[i].Load()
	}
	out.FCounters = make(map[string]uint64, fcMax)
	out.SCounters = make(map[string]uint64, fcMax)
	for i := 0; i < fcMax; i++ {
		out.FCounters[fcNames[i]] = s.fcounters[i].Load()
		out.SCounters[fcNames[i]] = s.scounters[i].Load()
	}
	return out
}

// Checksum returns the ruleset digest computed at the last main commit.
func (e *Engine) Checksum() Checksum {
	e.status.mu.Lock()
	defer e.status.mu.Unlock()
	return e.status.checksum
}

func (e *Engine) setChecksum(c Checksum) {
	e.status.mu.Lock()
	e.status.checksum = c
	e.status.mu.Unlock()
}

// StatusClear zeroes all counters and resets since.
// StatusClear 清零所有计数器并重置起始时间。
func (e *Engine) StatusClear() {
	s := &e.status
	for i := range s.counters {
		s.counters[i].Store(0)
	}
	for i := range s.lcounters {
		s.lcounters[i].Store(0)
	}
	for i := 0; i < fcMax; i++ {
		s.fcounters[i].Store(0)
		s.scounters[i].Store(0)
	}
	s.mu.Lock()
	s.since = e.now()
	s.mu.Unlock()
}

// SetStatusInterface selects the interface whose statistics are reported.
func (e *Engine) SetStatusInterface(name string) error {
	if len(name) >= 16 {
		return errs.NewInvalidError("interface name %q too long", name)
	}
	e.status.mu.Lock()
	e.status.ifName = name
	e.status.mu.Unlock()
	return nil
}

// SetDebug sets the debug level.
func (e *Engine) SetDebug(level uint32) {
	e.status.mu.Lock()
	e.status.debug = level
	e.status.mu.Unlock()
}

// SetHostID sets the creator id; 0 picks a random one.
// SetHostID 设置创建者 ID，0 表示随机选择。
func (e *Engine) SetHostID(id uint32) uint32 {
	if id == 0 {
		id = randomHostID()
	}
	e.status.mu.Lock()
	e.status.hostID = id
	e.status.mu.Unlock()
	return id
}

// HostID returns the creator id.
func (e *Engine) HostID() uint32 {
	e.status.mu.Lock()
	defer e.status.mu.Unlock()
	return e.status.hostID
}

// nextStateID allocates a state id and returns it with the host id.
func (e *Engine) nextStateID() (uint64, uint32) {
	s := &e.status
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stateID == 0 {
		s.stateID = uint64(e.now()) << 32
	}
	id := s.stateID
	s.stateID++
	return id, s.hostID
}

// TimeoutSet sets a global timeout and returns the previous value.
// An interval of 0 is stored as 1. Shortening the interval wakes the
// purge loop.
// TimeoutSet 设置全局超时并返回旧值；interval 为 0 时按 1 存储。
func (e *Engine) TimeoutSet(t Timeout, seconds int64) (uint32, error) {
	if t >= TimeoutMax || seconds < 0 {
		return 0, errs.NewInvalidError("timeout %v=%d", t, seconds)
	}
	if t == TimeoutInterval && seconds == 0 {
		seconds = 1
	}
	if seconds > int64(^uint32(0)) {
		return 0, errs.NewInvalidError("timeout %v=%d", t, seconds)
	}
	old := e.timeouts[t].Swap(uint32(seconds))
	if t == TimeoutInterval && uint32(seconds) < old {
		e.signal()
	}
	return old, nil
}

// TimeoutGet returns a global timeout.
func (e *Engine) TimeoutGet(t Timeout) (uint32, error) {
	if t >= TimeoutMax {
		return 0, errs.NewInvalidError("timeout %d", t)
	}
	return e.timeouts[t].Load(), nil
}

// LimitSet sets a hard limit and returns the previous value.
// LimitSet 设置硬性上限并返回旧值。
func (e *Engine) LimitSet(l Limit, value uint32) (uint32, error) {
	if l >= LimitMax {
		return 0, errs.NewInvalidError("limit %d", l)
	}
	return e.limits[l].Swap(value), nil
}

// LimitGet returns a hard limit.
func (e *Engine) LimitGet(l Limit) (uint32, error) {
	if l >= LimitMax {
		return 0, errs.NewInvalidError("limit %d", l)
	}
	return e.limits[l].Load(), nil
}
