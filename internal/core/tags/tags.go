// Package tags interns tag and queue names into compact numeric ids.
// Package tags 将标签与队列名称映射为紧凑的数字 ID。
package tags

import (
	"sync"

	"github.com/google/btree"

	errs "github.com/livp123/netxpf/pkg/errors"
)

// TagIDMax is the largest id a Table hands out.
// TagIDMax 是 Table 可分配的最大 ID。
const TagIDMax = 50000

type entry struct {
	name string
	id   uint16
	ref  int
}

// Table maps names to ids with per-name reference counts.
// Freed ids are reused lowest-first.
// Table 维护名称到 ID 的映射及引用计数，释放的 ID 按从小到大复用。
type Table struct {
	mu     sync.Mutex
	kind   string
	max    int
	byName map[string]*entry
	byID   map[uint16]*entry
	free   *btree.BTreeG[uint16]
	next   int
}

// New creates a table. kind names the namespace in errors ("tag", "queue").
func New(kind string) *Table {
	return NewWithMax(kind, TagIDMax)
}

// NewWithMax creates a table capped at max ids.
func NewWithMax(kind string, max int) *Table {
	if max <= 0 || max > TagIDMax {
		max = TagIDMax
	}
	return &Table{
		kind:   kind,
		max:    max,
		byName: make(map[string]*entry),
		byID:   make(map[uint16]*entry),
		free:   btree.NewG[uint16](8, func(a, b uint16) bool { return a < b }),
		next:   1,
	}
}

// Intern returns the id for name, allocating the lowest free id on first use.
// Each call takes one reference.
// Intern 返回名称对应的 ID，首次使用时分配最小空闲 ID；每次调用增加一次引用。
func (t *Table) Intern(name string) (uint16, error) {
	if name == "" {
		return 0, errs.NewInvalidError("empty %s name", t.kind)
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if e, ok := t.byName[name]; ok {
		e.ref++
		return e.id, nil
	}

	var id uint16
	if low, ok := t.free.DeleteMin(); ok {
		id = low
	} else {
		if t.next > t.max {
			return 0, errs.NewExhaustedError(t.kind+" ids", t.max)
		}
		id = uint16(t.next)
		t.next++
	}

	e := &entry{name: name, id: id, ref: 1}
	t.byName[name] = e
	t.byID[id] = e
	return id, nil
}

// Ref takes an additional reference on an allocated id. Id 0 is ignored.
func (t *Table) Ref(id uint16) {
	if id == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.byID[id]; ok {
		e.ref++
	}
}

// Release drops one reference; the slot is freed when the count reaches zero.
// Id 0 is ignored.
// Release 释放一次引用，计数归零时回收该 ID。
func (t *Table) Release(id uint16) {
	if id == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.byID[id]
	if !ok {
		return
	}
	e.ref--
	if e.ref > 0 {
		return
	}
	delete(t.byID, id)
	delete(t.byName, e.name)

	if int(id) == t.next-1 {
		t.next--
		for t.next > 1 {
			top := uint16(t.next - 1)
			if _, ok := t.free.Delete(top); !ok {
				break
			}
			t.next--
		}
		return
	}
	t.free.ReplaceOrInsert(id)
}

// Resolve returns the name bound to id.
func (t *Table) Resolve(id uint16) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.byID[id]
	if !ok {
		return "", false
	}
	return e.name, true
}

// Lookup returns the id of name without taking a reference.
func (t *Table) Lookup(name string) (uint16, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.byName[name]
	if !ok {
		return 0, false
	}
	return e.id, true
}

// Refcount returns the reference count of name, or 0 if it is not interned.
func (t *Table) Refcount(name string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.byName[name]; ok {
		return e.ref
	}
	return 0
}

// Len returns the number of interned names.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byName)
}
