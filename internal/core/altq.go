package core

import (
	"go.uber.org/multierr"

	errs "github.com/livp123/netxpf/pkg/errors"
)

// Queue is an ALTQ entry. An entry without QName is a discipline bound to
// an interface; a named entry is a queue inside that discipline.
// Queue 是 ALTQ 条目：无 QName 的条目为接口上的调度规则，有名称的为其中的队列。
type Queue struct {
	IfName     string `json:"ifname" yaml:"ifname"`
	QName      string `json:"qname,omitempty" yaml:"qname,omitempty"`
	Parent     string `json:"parent,omitempty" yaml:"parent,omitempty"`
	Scheduler  string `json:"scheduler,omitempty" yaml:"scheduler,omitempty"`
	Bandwidth  uint64 `json:"bandwidth,omitempty" yaml:"bandwidth,omitempty"`
	TBRSize    uint32 `json:"tbrsize,omitempty" yaml:"tbrsize,omitempty"`
	Priority   uint8  `json:"priority,omitempty" yaml:"priority,omitempty"`
	QLimit     uint32 `json:"qlimit,omitempty" yaml:"qlimit,omitempty"`
	Flags      uint32 `json:"flags,omitempty" yaml:"flags,omitempty"`
	QID        uint16 `json:"qid,omitempty" yaml:"-"`
	Attached   bool   `json:"attached,omitempty" yaml:"-"`
	Discipline bool   `json:"-" yaml:"-"`
}

// QueueStats is the scheduler's view of a queue.
type QueueStats struct {
	Packets uint64 `json:"packets"`
	Bytes   uint64 `json:"bytes"`
	Drops   uint64 `json:"drops"`
	QLength uint32 `json:"qlength"`
}

// QueueDiscipline is the scheduler backend that enforces ALTQ entries.
// QueueDiscipline 是执行 ALTQ 条目的调度后端。
type QueueDiscipline interface {
	Add(q *Queue) error
	Remove(q *Queue) error
	Attach(q *Queue) error
	Detach(q *Queue) error
	Enable(ifName string, bandwidth uint64, tbrSize uint32) error
	Disable(ifName string) error
	Stats(q *Queue) (QueueStats, error)
}

// NopDiscipline accepts every request and reports empty statistics.
type NopDiscipline struct{}

func (NopDiscipline) Add(*Queue) error { return nil }
func (NopDiscipline) Remove(*Queue) error { return nil }
func (NopDiscipline) Attach(*Queue) error { return nil }
func (NopDiscipline) Detach(*Queue) error { return nil }
func (NopDiscipline) Enable(string, uint64, uint32) error { return nil }
func (NopDiscipline) Disable(string) error { return nil }
func (NopDiscipline) Stats(*Queue) (QueueStats, error) { return QueueStats{}, nil }

// altqLists is the active/inactive pair of ALTQ entries. Guarded by rulesMu.
type altqLists struct {
	active         []*Queue
	activeTicket   uint32
	inactive       []*Queue
	inactiveTicket uint32
	open           bool
	running        bool
}

// purgeQueues removes entries from the discipline and drops their qids.
func (e *Engine) purgeQueues(qs []*Queue) error {
	var err error
	for _, q := range qs {
		if q.Discipline {
			continue
		}
		err = multierr.Append(err, e.disc.Remove(q))
		e.qids.Release(q.QID)
		q.QID = 0
	}
	return err
}

// AltqBegin discards the inactive list and opens a new one.
// AltqBegin 丢弃非活动列表并开启新的定义事务。
func (e *Engine) AltqBegin() uint32 {
	e.rulesMu.Lock()
	defer e.rulesMu.Unlock()
	return e.altqBeginLocked()
}

func (e *Engine) altqBeginLocked() uint32 {
	a := &e.altq
	if err := e.purgeQueues(a.inactive); err != nil {
		e.log.Warnf("⚠️  [Core] ALTQ inactive purge: %v", err)
	}
	a.inactive = nil
	a.inactiveTicket++
	a.open = true
	return a.inactiveTicket
}

// AltqAdd appends q to the inactive list.
func (e *Engine) AltqAdd(ticket uint32, q Queue) error {
	e.rulesMu.Lock()
	defer e.rulesMu.Unlock()
	a := &e.altq
	if !a.open || ticket != a.inactiveTicket {
		return errs.NewStaleTicketError("altq", ticket, a.inactiveTicket)
	}
	if q.IfName == "" || len(q.IfName) >= 16 {
		return errs.NewInvalidError("altq interface %q", q.IfName)
	}
	if q.Bandwidth == 0 && q.QName == "" {
		return errs.NewInvalidError("altq discipline on %s without bandwidth", q.IfName)
	}
	entry := q
	entry.Attached = false
	entry.Discipline = q.QName == ""
	if !entry.Discipline {
		qid, err := e.qids.Intern(q.QName)
		if err != nil {
			return err
		}
		entry.QID = qid
		if err := e.disc.Add(&entry); err != nil {
			e.qids.Release(qid)
			return err
		}
	}
	a.inactive = append(a.inactive, &entry)
	return nil
}

// AltqRollback discards the inactive list. A stale ticket is ignored.
func (e *Engine) AltqRollback(ticket uint32) {
	e.rulesMu.Lock()
	defer e.rulesMu.Unlock()
	e.altqRollbackLocked(ticket)
}

func (e *Engine) altqRollbackLocked(ticket uint32) {
	a := &e.altq
	if !a.open || ticket != a.inactiveTicket {
		return
	}
	if err := e.purgeQueues(a.inactive); err != nil {
		e.log.Warnf("⚠️  [Core] ALTQ rollback: %v", err)
	}
	a.inactive = nil
	a.open = false
}

// AltqCommit makes the inactive list active, attaching the new disciplines
// and detaching the old ones.
// AltqCommit 将非活动列表设为活动：挂接新的调度规则并卸载旧的。
func (e *Engine) AltqCommit(ticket uint32) error {
	e.rulesMu.Lock()
	defer e.rulesMu.Unlock()
	return e.altqCommitLocked(ticket)
}

func (e *Engine) altqCheckLocked(ticket uint32) error {
	if !e.altq.open || ticket != e.altq.inactiveTicket {
		return errs.NewBusyError("altq ticket %d not open", ticket)
	}
	return nil
}

func (e *Engine) altqCommitLocked(ticket uint32) error {
	if err := e.altqCheckLocked(ticket); err != nil {
		return err
	}
	a := &e.altq
	old := a.active
	a.active, a.inactive = a.inactive, nil
	a.activeTicket = a.inactiveTicket

	var err error
	// 1. Attach new disciplines / 挂接新的调度规则
	for _, q := range a.active {
		if !q.Discipline {
			continue
		}
		if aerr := e.disc.Attach(q); aerr != nil {
			err = multierr.Append(err, aerr)
			continue
		}
		q.Attached = true
		if a.running {
			err = multierr.Append(err, e.disc.Enable(q.IfName, q.Bandwidth, q.TBRSize))
		}
	}

	// 2. Detach old disciplines / 卸载旧的调度规则
	for _, q := range old {
		if !q.Discipline {
			continue
		}
		if a.running {
			err = multierr.Append(err, e.disc.Disable(q.IfName))
		}
		if q.Attached {
			err = multierr.Append(err, e.disc.Detach(q))
			q.Attached = false
		}
	}
	err = multierr.Append(err, e.purgeQueues(old))
	a.open = false
	if err != nil {
		e.log.Warnf("⚠️  [Core] ALTQ commit completed with errors: %v", err)
	} else {
		e.log.Infof("✅ [Core] ALTQ committed (%d entries)", len(a.active))
	}
	return err
}

// AltqsGet returns the number of active entries and the active ticket.
func (e *Engine) AltqsGet() (int, uint32) {
	e.rulesMu.RLock()
	defer e.rulesMu.RUnlock()
	return len(e.altq.active), e.altq.activeTicket
}

func (e *Engine) altqEntry(ticket uint32, nr int) (*Queue, error) {
	a := &e.altq
	if ticket != a.activeTicket {
		return nil, errs.NewBusyError("altq ticket %d is stale", ticket)
	}
	if nr < 0 || nr >= len(a.active) {
		return nil, errs.NewBusyError("altq entry %d out of range", nr)
	}
	return a.active[nr], nil
}

// AltqGet returns a copy of active entry nr.
func (e *Engine) AltqGet(ticket uint32, nr int) (Queue, error) {
	e.rulesMu.RLock()
	defer e.rulesMu.RUnlock()
	q, err := e.altqEntry(ticket, nr)
	if err != nil {
		return Queue{}, err
	}
	return *q, nil
}

// AltqStats returns the scheduler statistics of active entry nr.
func (e *Engine) AltqStats(ticket uint32, nr int) (QueueStats, error) {
	e.rulesMu.RLock()
	defer e.rulesMu.RUnlock()
	q, err := e.altqEntry(ticket, nr)
	if err != nil {
		return QueueStats{}, err
	}
	return e.disc.Stats(q)
}

// AltqChange always fails: queues are only changed through a full
// begin/commit cycle.
func (e *Engine) AltqChange(Queue) error {
	return errs.ErrNotSupported
}

// AltqStart enables every attached discipline.
// AltqStart 启用所有已挂接的调度规则。
func (e *Engine) AltqStart() error {
	e.rulesMu.Lock()
	defer e.rulesMu.Unlock()
	a := &e.altq
	if a.running {
		return errs.ErrExists
	}
	var err error
	for _, q := range a.active {
		if q.Discipline && q.Attached {
			err = multierr.Append(err, e.disc.Enable(q.IfName, q.Bandwidth, q.TBRSize))
		}
	}
	if err != nil {
		return err
	}
	a.running = true
	e.log.Infof("🚀 [Core] ALTQ started")
	return nil
}

// AltqStop disables every attached discipline.
func (e *Engine) AltqStop() error {
	e.rulesMu.Lock()
	defer e.rulesMu.Unlock()
	a := &e.altq
	if !a.running {
		return errs.ErrNotRunning
	}
	var err error
	for _, q := range a.active {
		if q.Discipline && q.Attached {
			err = multierr.Append(err, e.disc.Disable(q.IfName))
		}
	}
	a.running = false
	e.log.Infof("🛑 [Core] ALTQ stopped")
	return err
}

// flushAltq detaches and frees every ALTQ entry. Caller holds rulesMu.
func (e *Engine) flushAltq() error {
	a := &e.altq
	var err error
	if a.open {
		e.altqRollbackLocked(a.inactiveTicket)
	}
	if len(a.active) == 0 {
		return nil
	}
	t := e.altqBeginLocked()
	err = multierr.Append(err, e.altqCommitLocked(t))
	return err
}
