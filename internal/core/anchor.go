package core

import (
	"strings"
	"sync/atomic"

	"github.com/google/btree"

	errs "github.com/livp123/netxpf/pkg/errors"
)

const (
	anchorNameMax = 64
	anchorPathMax = 1024
)

// ruleList is an immutable published rule list with its skip vectors.
// Readers load it through Anchor.Active and never see a partial list.
// ruleList 是发布后不可变的规则链及其跳转向量。
type ruleList struct {
	rules []*Rule
	skip  [][SkipCount]int32
}

var emptyList = &ruleList{}

// ruleQueue is the active/inactive pair of one rule class.
// ruleQueue 是某个规则类别的活动/非活动链对。
type ruleQueue struct {
	active       atomic.Pointer[ruleList]
	activeTicket uint32

	inactive       []*Rule
	inactiveTicket uint32
	open           bool
}

func (q *ruleQueue) load() *ruleList {
	if l := q.active.Load(); l != nil {
		return l
	}
	return emptyList
}

// Anchor is a node of the ruleset namespace. The main ruleset has path "".
// Anchor 是规则集命名空间中的节点，主规则集的路径为 ""。
type Anchor struct {
	Name string
	Path string

	parent   *Anchor
	children *btree.BTreeG[*Anchor]
	rules    [classCount]ruleQueue

	refcnt  int
	topen   bool
	tticket uint32
}

func anchorLess(a, b *Anchor) bool { return a.Path < b.Path }

func childLess(a, b *Anchor) bool { return a.Name < b.Name }

func newAnchor(name, path string, parent *Anchor) *Anchor {
	return &Anchor{
		Name:     name,
		Path:     path,
		parent:   parent,
		children: btree.NewG[*Anchor](4, childLess),
	}
}

// Active returns the published rule list of class c. Safe without locks.
// Active 返回类别 c 已发布的规则链，无需加锁。
func (a *Anchor) Active(c Class) []*Rule {
	if !validRuleClass(c) {
		return nil
	}
	return a.rules[c].load().rules
}

// Children returns the names of child anchors in sorted order.
func (a *Anchor) Children() []string {
	var out []string
	a.children.Ascend(func(c *Anchor) bool {
		out = append(out, c.Name)
		return true
	})
	return out
}

func (a *Anchor) isMain() bool { return a.parent == nil }

// empty reports whether the anchor holds nothing that keeps it alive.
func (a *Anchor) empty(tables int) bool {
	if a.isMain() || a.refcnt > 0 || tables > 0 || a.topen {
		return false
	}
	if a.children.Len() > 0 {
		return false
	}
	for i := range a.rules {
		q := &a.rules[i]
		if len(q.load().rules) > 0 || len(q.inactive) > 0 || q.open {
			return false
		}
	}
	return true
}

// anchorTree indexes every anchor by path. Guarded by the rules lock.
// anchorTree 按路径索引所有锚点，由规则锁保护。
type anchorTree struct {
	main  *Anchor
	byKey *btree.BTreeG[*Anchor]
}

func newAnchorTree() *anchorTree {
	t := &anchorTree{
		main:  newAnchor("", "", nil),
		byKey: btree.NewG[*Anchor](8, anchorLess),
	}
	return t
}

// cleanPath strips leading and trailing slashes.
func cleanPath(path string) string {
	return strings.Trim(path, "/")
}

// find returns the anchor at path or nil.
func (t *anchorTree) find(path string) *Anchor {
	path = cleanPath(path)
	if path == "" {
		return t.main
	}
	a, ok := t.byKey.Get(&Anchor{Path: path})
	if !ok {
		return nil
	}
	return a
}

// findOrCreate returns the anchor at path, creating missing ancestors.
// findOrCreate 返回路径对应的锚点，必要时创建缺失的祖先节点。
func (t *anchorTree) findOrCreate(path string) (*Anchor, error) {
	path = cleanPath(path)
	if a := t.find(path); a != nil {
		return a, nil
	}
	if len(path) >= anchorPathMax {
		return nil, errs.NewInvalidError("anchor path too long")
	}
	parts := strings.Split(path, "/")
	for _, p := range parts {
		if p == "" || len(p) >= anchorNameMax || p == "." || p == ".." {
			return nil, errs.NewInvalidError("anchor path %q", path)
		}
	}

	parent := t.main
	for i, name := range parts {
		sub := strings.Join(parts[:i+1], "/")
		a := t.find(sub)
		if a == nil {
			a = newAnchor(name, sub, parent)
			t.byKey.ReplaceOrInsert(a)
			parent.children.ReplaceOrInsert(a)
		}
		parent = a
	}
	return parent, nil
}

// prune removes a and its ancestors while they are empty.
func (t *anchorTree) prune(a *Anchor, tables func(string) int) {
	for a != nil && a.empty(tables(a.Path)) {
		parent := a.parent
		t.byKey.Delete(a)
		parent.children.Delete(a)
		a.parent = nil
		a = parent
	}
}

// len returns the number of anchors excluding the main ruleset.
func (t *anchorTree) len() int { return t.byKey.Len() }

// resolveCall resolves an anchor call name relative to the defining ruleset.
// A trailing "/*" marks a wildcard call; "../" walks up; a leading "/" is absolute.
// resolveCall 解析锚点调用路径：相对于定义所在规则集，支持 "../"、"/*" 与绝对路径。
func resolveCall(from *Anchor, name string) (path string, wildcard bool, err error) {
	if strings.HasSuffix(name, "/*") || name == "*" {
		wildcard = true
		name = strings.TrimSuffix(strings.TrimSuffix(name, "*"), "/")
	}
	if strings.HasPrefix(name, "/") {
		return cleanPath(name), wildcard, nil
	}

	var base []string
	if from != nil && from.Path != "" {
		base = strings.Split(from.Path, "/")
	}
	for strings.HasPrefix(name, "../") || name == ".." {
		if len(base) == 0 {
			return "", false, errs.NewInvalidError("anchor call %q escapes the main ruleset", name)
		}
		base = base[:len(base)-1]
		name = strings.TrimPrefix(strings.TrimPrefix(name, ".."), "/")
	}
	if name != "" {
		base = append(base, name)
	}
	return cleanPath(strings.Join(base, "/")), wildcard, nil
}
