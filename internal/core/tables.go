package core

import (
	"net/netip"
	"sort"
	"sync"
	"sync/atomic"

	errs "github.com/livp123/netxpf/pkg/errors"
)

// Table is a named address table referenced by rules.
// Table 是被规则引用的命名地址表。
type Table struct {
	Anchor string
	Name   string

	prefixes atomic.Pointer[[]netip.Prefix]
	active   bool
	refs     int
	root     *Table

	staged    []netip.Prefix
	hasStaged bool
}

// Prefixes returns the table contents, falling back to the main-ruleset
// table of the same name while this one is not defined.
// Prefixes 返回表内容；若本表未定义则回退到主规则集中的同名表。
func (t *Table) Prefixes() []netip.Prefix {
	if t == nil {
		return nil
	}
	if p := t.prefixes.Load(); p != nil {
		return *p
	}
	if t.root != nil {
		return t.root.Prefixes()
	}
	return nil
}

func (t *Table) own() []netip.Prefix {
	if p := t.prefixes.Load(); p != nil {
		return *p
	}
	return nil
}

// Active reports whether the table has been defined by a committed transaction.
func (t *Table) Active() bool { return t.active }

type tableKey struct {
	anchor string
	name   string
}

// tableRegistry holds every table referenced or defined, refcounted by rules.
// tableRegistry 保存所有被引用或定义的表，由规则进行引用计数。
type tableRegistry struct {
	mu        sync.Mutex
	tables    map[tableKey]*Table
	entries   int
	maxTables func() int
	maxAddrs  func() int
}

func newTableRegistry(maxTables, maxAddrs func() int) *tableRegistry {
	return &tableRegistry{
		tables:    make(map[tableKey]*Table),
		maxTables: maxTables,
		maxAddrs:  maxAddrs,
	}
}

func (r *tableRegistry) lookupLocked(anchor, name string) *Table {
	return r.tables[tableKey{anchor, name}]
}

func (r *tableRegistry) createLocked(anchor, name string) (*Table, error) {
	if max := r.maxTables(); max > 0 && len(r.tables) >= max {
		return nil, errs.NewExhaustedError("tables", max)
	}
	t := &Table{Anchor: anchor, Name: name}
	r.tables[tableKey{anchor, name}] = t
	if anchor != "" {
		root := r.lookupLocked("", name)
		if root == nil {
			var err error
			if root, err = r.createLocked("", name); err != nil {
				delete(r.tables, tableKey{anchor, name})
				return nil, err
			}
		}
		root.refs++
		t.root = root
	}
	return t, nil
}

// attach takes a rule reference on (anchor, name), creating it when missing.
func (r *tableRegistry) attach(anchor, name string) (*Table, error) {
	if name == "" {
		return nil, errs.NewInvalidError("empty table name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.lookupLocked(anchor, name)
	if t == nil {
		var err error
		if t, err = r.createLocked(anchor, name); err != nil {
			return nil, err
		}
	}
	t.refs++
	return t, nil
}

// detach drops a rule reference and frees the table when unused.
func (r *tableRegistry) detach(t *Table) {
	if t == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.releaseLocked(t)
}

func (r *tableRegistry) releaseLocked(t *Table) {
	t.refs--
	r.maybeFreeLocked(t)
}

func (r *tableRegistry) maybeFreeLocked(t *Table) {
	if t.refs > 0 || t.active || t.hasStaged {
		return
	}
	if cur := r.lookupLocked(t.Anchor, t.Name); cur != t {
		return
	}
	delete(r.tables, tableKey{t.Anchor, t.Name})
	r.entries -= len(t.own())
	t.prefixes.Store(nil)
	if t.root != nil {
		r.releaseLocked(t.root)
		t.root = nil
	}
}

// insert adds p to the live contents of t. Used for overload tables.
// insert 将 p 加入表的当前内容，用于 overload 表。
func (r *tableRegistry) insert(t *Table, p netip.Prefix) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur := t.own()
	for _, x := range cur {
		if x == p {
			return nil
		}
	}
	if max := r.maxAddrs(); max > 0 && r.entries >= max {
		return errs.NewExhaustedError("table entries", max)
	}
	next := make([]netip.Prefix, len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, p)
	t.prefixes.Store(&next)
	r.entries++
	return nil
}

// stage records the inactive contents of a table in a table transaction.
func (r *tableRegistry) stage(anchor, name string, prefixes []netip.Prefix) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if max := r.maxAddrs(); max > 0 && len(prefixes) > max {
		return errs.NewExhaustedError("table entries", max)
	}

	t := r.lookupLocked(anchor, name)
	if t == nil {
		var err error
		if t, err = r.createLocked(anchor, name); err != nil {
			return err
		}
	}
	t.staged = append([]netip.Prefix(nil), prefixes...)
	t.hasStaged = true
	return nil
}

// commitAnchor activates staged tables of anchor and deactivates the others.
func (r *tableRegistry) commitAnchor(anchor string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	total := r.entries
	for _, t := range r.tables {
		if t.Anchor != anchor {
			continue
		}
		if t.active || t.hasStaged {
			total -= len(t.own())
		}
		if t.hasStaged {
			total += len(t.staged)
		}
	}
	if max := r.maxAddrs(); max > 0 && total > max {
		return errs.NewExhaustedError("table entries", max)
	}

	for _, t := range r.sortedLocked(anchor) {
		switch {
		case t.hasStaged:
			p := t.staged
			t.prefixes.Store(&p)
			t.active = true
			t.staged, t.hasStaged = nil, false
		case t.active:
			t.prefixes.Store(nil)
			t.active = false
			r.maybeFreeLocked(t)
		}
	}
	r.entries = total
	return nil
}

// rollbackAnchor drops staged contents of anchor.
func (r *tableRegistry) rollbackAnchor(anchor string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.sortedLocked(anchor) {
		if t.hasStaged {
			t.staged, t.hasStaged = nil, false
			r.maybeFreeLocked(t)
		}
	}
}

// flush deactivates every table and frees those no rule references.
func (r *tableRegistry) flush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := make([]*Table, 0, len(r.tables))
	for _, t := range r.tables {
		t.staged, t.hasStaged = nil, false
		t.active = false
		t.prefixes.Store(nil)
		all = append(all, t)
	}
	for _, t := range all {
		r.maybeFreeLocked(t)
	}
	r.entries = 0
}

func (r *tableRegistry) sortedLocked(anchor string) []*Table {
	var out []*Table
	for _, t := range r.tables {
		if t.Anchor == anchor {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// countAnchor returns the number of active tables in anchor.
func (r *tableRegistry) countAnchor(anchor string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, t := range r.tables {
		if t.Anchor == anchor && (t.active || t.refs > 0) {
			n++
		}
	}
	return n
}

func (r *tableRegistry) get(anchor, name string) *Table {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lookupLocked(anchor, name)
}

func (r *tableRegistry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tables)
}

// Kif is an interface reference shared by rules and states.
// Kif 是规则与状态共享的接口引用。
type Kif struct {
	Name      string
	ruleRefs  int
	stateRefs int
}

type kifRef int

const (
	kifRefRule kifRef = iota
	kifRefState
)

// kifRegistry is refcounted by rules and states separately.
// kifRegistry 对规则与状态分别进行引用计数。
type kifRegistry struct {
	mu       sync.Mutex
	kifs     map[string]*Kif
	resolver InterfaceResolver
}

func newKifRegistry(resolver InterfaceResolver) *kifRegistry {
	return &kifRegistry{kifs: make(map[string]*Kif), resolver: resolver}
}

// isAny reports whether name denotes no specific interface.
func isAny(name string) bool {
	return name == "" || name == "any" || name == "all"
}

// ref returns the kif for name with one reference of kind taken.
// "any" and the empty name yield nil.
func (r *kifRegistry) ref(name string, kind kifRef) (*Kif, error) {
	if isAny(name) {
		return nil, nil
	}
	if len(name) >= 16 {
		return nil, errs.NewInvalidError("interface name %q too long", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	k, ok := r.kifs[name]
	if !ok {
		if r.resolver != nil && !r.resolver.Exists(name) {
			return nil, errs.NewNotFoundError("interface", name)
		}
		k = &Kif{Name: name}
		r.kifs[name] = k
	}
	if kind == kifRefRule {
		k.ruleRefs++
	} else {
		k.stateRefs++
	}
	return k, nil
}

func (r *kifRegistry) unref(k *Kif, kind kifRef) {
	if k == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if kind == kifRefRule {
		k.ruleRefs--
	} else {
		k.stateRefs--
	}
	if k.ruleRefs <= 0 && k.stateRefs <= 0 {
		if r.kifs[k.Name] == k {
			delete(r.kifs, k.Name)
		}
	}
}

func (r *kifRegistry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.kifs)
}

func kifName(k *Kif) string {
	if k == nil {
		return "all"
	}
	return k.Name
}
