package core

import (
	"encoding/binary"
	"fmt"
	"math/rand/v2"
	"net/netip"
	"strings"

	"github.com/dchest/siphash"

	errs "github.com/livp123/netxpf/pkg/errors"
)

// PoolPolicy selects how Next picks a translation address.
// PoolPolicy 决定 Next 如何选择转换地址。
type PoolPolicy uint8

const (
	PoolNone PoolPolicy = iota
	PoolBitmask
	PoolRandom
	PoolSourceHash
	PoolRoundRobin
	PoolLeastStates
)

var poolPolicyNames = map[PoolPolicy]string{
	PoolNone: "none", PoolBitmask: "bitmask", PoolRandom: "random",
	PoolSourceHash: "source-hash", PoolRoundRobin: "round-robin", PoolLeastStates: "least-states",
}

func (p PoolPolicy) String() string {
	if s, ok := poolPolicyNames[p]; ok {
		return s
	}
	return fmt.Sprintf("policy(%d)", uint8(p))
}

// ParsePoolPolicy resolves names like "round-robin".
func ParsePoolPolicy(s string) (PoolPolicy, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for p, n := range poolPolicyNames {
		if n == s {
			return p, nil
		}
	}
	return 0, errs.NewInvalidError("unknown pool policy %q", s)
}

// PoolAddrSpec is one pool entry as supplied by an administrator.
// PoolAddrSpec 是管理员提交的单个地址池条目。
type PoolAddrSpec struct {
	Addr   AddrWrap `json:"addr" yaml:"addr"`
	IfName string   `json:"ifname,omitempty" yaml:"ifname,omitempty"`
}

// PoolAddr is a live pool entry.
type PoolAddr struct {
	PoolAddrSpec
	kif    *Kif
	states int
}

// States returns the number of live states translated through this entry.
func (pa *PoolAddr) States() int { return pa.states }

// PoolAddrView is a read-only copy of a pool entry.
type PoolAddrView struct {
	PoolAddrSpec
	States int `json:"states"`
}

func (pa *PoolAddr) view() PoolAddrView {
	return PoolAddrView{PoolAddrSpec: pa.PoolAddrSpec, States: pa.states}
}

// Pool is an ordered list of translation addresses with a round-robin cursor.
// The cursor is nil exactly when the list is empty.
// Pool 是带轮询游标的有序转换地址列表；列表为空时游标为 nil。
type Pool struct {
	Opts    PoolOpts
	addrs   []*PoolAddr
	cursor  *PoolAddr
	counter netip.Addr
	matcher AddressMatcher
}

func newPool(opts PoolOpts, m AddressMatcher) *Pool {
	return &Pool{Opts: opts, matcher: m}
}

// Len returns the number of entries.
func (p *Pool) Len() int { return len(p.addrs) }

// Cursor returns the round-robin cursor entry.
func (p *Pool) Cursor() *PoolAddr { return p.cursor }

// Entries returns the entries in list order.
func (p *Pool) Entries() []*PoolAddr {
	return append([]*PoolAddr(nil), p.addrs...)
}

// Views returns read-only copies of the entries.
func (p *Pool) Views() []PoolAddrView {
	out := make([]PoolAddrView, len(p.addrs))
	for i, pa := range p.addrs {
		out[i] = pa.view()
	}
	return out
}

func (p *Pool) indexOf(pa *PoolAddr) int {
	for i, x := range p.addrs {
		if x == pa {
			return i
		}
	}
	return -1
}

// Insert places pa at position idx (0 = head, Len() = tail).
// Insert 将 pa 插入到位置 idx（0 为头部，Len() 为尾部）。
func (p *Pool) Insert(idx int, pa *PoolAddr) {
	if idx < 0 || idx > len(p.addrs) {
		idx = len(p.addrs)
	}
	p.addrs = append(p.addrs, nil)
	copy(p.addrs[idx+1:], p.addrs[idx:])
	p.addrs[idx] = pa
	if p.cursor == nil {
		p.resetCursor()
	}
}

// Remove unlinks the entry at idx. If it was the cursor, the cursor moves
// to the next remaining entry, wrapping to the head.
// Remove 删除位置 idx 的条目；若其为游标，游标移动到下一个剩余条目。
func (p *Pool) Remove(idx int) (*PoolAddr, error) {
	if idx < 0 || idx >= len(p.addrs) {
		return nil, errs.NewNotFoundError("pool address", idx)
	}
	pa := p.addrs[idx]
	p.addrs = append(p.addrs[:idx], p.addrs[idx+1:]...)
	if p.cursor == pa {
		switch {
		case len(p.addrs) == 0:
			p.cursor = nil
			p.counter = netip.Addr{}
		case idx < len(p.addrs):
			p.setCursor(p.addrs[idx])
		default:
			p.setCursor(p.addrs[0])
		}
	}
	return pa, nil
}

func (p *Pool) resetCursor() {
	if len(p.addrs) == 0 {
		p.cursor = nil
		p.counter = netip.Addr{}
		return
	}
	p.setCursor(p.addrs[0])
}

func (p *Pool) setCursor(pa *PoolAddr) {
	p.cursor = pa
	p.counter = netip.Addr{}
	if pfx := p.prefixes(pa); len(pfx) > 0 {
		p.counter = pfx[0].Masked().Addr()
	}
}

func (p *Pool) prefixes(pa *PoolAddr) []netip.Prefix {
	if pa.Addr.Type == AddrMask {
		if pa.Addr.Prefix.IsValid() {
			return []netip.Prefix{pa.Addr.Prefix}
		}
		return nil
	}
	if p.matcher == nil {
		return nil
	}
	return p.matcher.Addresses(&pa.Addr)
}

// Next picks a translation address for src according to the pool policy.
// Least-states compares the per-entry state counts kept by the state table.
// Next 按地址池策略为 src 选择一个转换地址。
func (p *Pool) Next(src netip.Addr) (netip.Addr, *PoolAddr, error) {
	if len(p.addrs) == 0 {
		return netip.Addr{}, nil, errs.NewExhaustedError("pool addresses", 0)
	}

	switch p.Opts.Policy {
	case PoolNone:
		pa := p.addrs[0]
		a, ok := p.first(pa)
		if !ok {
			return netip.Addr{}, nil, errs.NewNotFoundError("pool address for", pa.Addr)
		}
		return a, pa, nil

	case PoolBitmask:
		pa := p.addrs[0]
		pfx := p.prefixes(pa)
		if len(pfx) == 0 {
			return netip.Addr{}, nil, errs.NewNotFoundError("pool address for", pa.Addr)
		}
		return withHostBits(pfx[0], src), pa, nil

	case PoolRandom:
		pa := p.addrs[rand.IntN(len(p.addrs))]
		return p.pickIn(pa, rand.Uint64())

	case PoolSourceHash:
		h := p.hash(src)
		pa := p.addrs[h%uint64(len(p.addrs))]
		return p.pickIn(pa, h>>16)

	case PoolLeastStates:
		best := p.addrs[0]
		for _, pa := range p.addrs[1:] {
			if pa.states < best.states {
				best = pa
			}
		}
		a, ok := p.first(best)
		if !ok {
			return netip.Addr{}, nil, errs.NewNotFoundError("pool address for", best.Addr)
		}
		return a, best, nil

	case PoolRoundRobin:
		return p.roundRobin()
	}
	return netip.Addr{}, nil, errs.NewInvalidError("pool policy %d", p.Opts.Policy)
}

func (p *Pool) first(pa *PoolAddr) (netip.Addr, bool) {
	pfx := p.prefixes(pa)
	if len(pfx) == 0 {
		return netip.Addr{}, false
	}
	return pfx[0].Masked().Addr(), true
}

func (p *Pool) pickIn(pa *PoolAddr, r uint64) (netip.Addr, *PoolAddr, error) {
	pfx := p.prefixes(pa)
	if len(pfx) == 0 {
		return netip.Addr{}, nil, errs.NewNotFoundError("pool address for", pa.Addr)
	}
	pf := pfx[r%uint64(len(pfx))]
	n := hostCount(pf)
	return addrAdd(pf.Masked().Addr(), r%n), pa, nil
}

func (p *Pool) hash(src netip.Addr) uint64 {
	b := src.As16()
	var buf [18]byte
	copy(buf[:16], b[:])
	binary.BigEndian.PutUint16(buf[16:], uint16(AFOf(src)))
	return siphash.Hash(p.Opts.Key[0], p.Opts.Key[1], buf[:])
}

// roundRobin returns the cursor address, then advances the counter within
// the entry and moves to the next entry once it is exhausted.
func (p *Pool) roundRobin() (netip.Addr, *PoolAddr, error) {
	for tries := 0; tries <= len(p.addrs); tries++ {
		pa := p.cursor
		pfx := p.prefixes(pa)
		if len(pfx) == 0 || !p.counter.IsValid() {
			p.advance()
			continue
		}
		cur := p.counter
		next := cur.Next()
		if !next.IsValid() || !containsAny(pfx, next) {
			p.advance()
		} else {
			p.counter = next
		}
		return cur, pa, nil
	}
	return netip.Addr{}, nil, errs.NewExhaustedError("pool addresses", len(p.addrs))
}

func (p *Pool) advance() {
	i := p.indexOf(p.cursor)
	if i < 0 || i+1 >= len(p.addrs) {
		p.setCursor(p.addrs[0])
		return
	}
	p.setCursor(p.addrs[i+1])
}

func containsAny(pfx []netip.Prefix, a netip.Addr) bool {
	for _, p := range pfx {
		if p.Contains(a) {
			return true
		}
	}
	return false
}
