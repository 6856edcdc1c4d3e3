package core

import (
	"fmt"
	"net/netip"
)

// AF is an address family as carried in rules and states.
// AF 表示规则与状态中使用的地址族。
type AF uint8

const (
	AFUnspec AF = 0
	AFInet   AF = 2
	AFInet6  AF = 24
)

func (af AF) String() string {
	switch af {
	case AFInet:
		return "inet"
	case AFInet6:
		return "inet6"
	default:
		return "any"
	}
}

// AFOf returns the family of a.
func AFOf(a netip.Addr) AF {
	switch {
	case !a.IsValid():
		return AFUnspec
	case a.Is4() || a.Is4In6():
		return AFInet
	default:
		return AFInet6
	}
}

// AddrType selects which part of an AddrWrap is meaningful.
// AddrType 决定 AddrWrap 中哪个字段有效。
type AddrType uint8

const (
	AddrMask AddrType = iota
	AddrNoRoute
	AddrDynIf
	AddrTable
	AddrRTLabel
	AddrURPFFailed
)

var addrTypeNames = map[AddrType]string{
	AddrMask:       "addrmask",
	AddrNoRoute:    "no-route",
	AddrDynIf:      "dynif",
	AddrTable:      "table",
	AddrRTLabel:    "rtlabel",
	AddrURPFFailed: "urpf-failed",
}

func (t AddrType) String() string {
	if s, ok := addrTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("addrtype(%d)", uint8(t))
}

// AddrWrap is an address specification: a prefix, a dynamic interface
// address, a table reference or a route label.
// AddrWrap 是地址描述：前缀、动态接口地址、表引用或路由标签。
type AddrWrap struct {
	Type      AddrType     `json:"type" yaml:"type"`
	Prefix    netip.Prefix `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	IfName    string       `json:"ifname,omitempty" yaml:"ifname,omitempty"`
	IfFlags   uint8        `json:"ifflags,omitempty" yaml:"ifflags,omitempty"`
	TableName string       `json:"table,omitempty" yaml:"table,omitempty"`
	RTLabel   string       `json:"rtlabel,omitempty" yaml:"rtlabel,omitempty"`

	table *Table
}

// Any reports whether w is the zero "any" address.
func (w *AddrWrap) Any() bool {
	return w.Type == AddrMask && !w.Prefix.IsValid()
}

// neq reports whether two wraps differ for skip-step purposes.
func (w *AddrWrap) neq(o *AddrWrap) bool {
	if w.Type != o.Type {
		return true
	}
	switch w.Type {
	case AddrMask:
		return w.Prefix != o.Prefix
	case AddrDynIf:
		return w.IfName != o.IfName || w.IfFlags != o.IfFlags
	case AddrNoRoute, AddrURPFFailed:
		return false
	case AddrTable:
		if w.table != nil || o.table != nil {
			return w.table != o.table
		}
		return w.TableName != o.TableName
	case AddrRTLabel:
		return w.RTLabel != o.RTLabel
	default:
		return true
	}
}

func (w AddrWrap) String() string {
	switch w.Type {
	case AddrMask:
		if !w.Prefix.IsValid() {
			return "any"
		}
		return w.Prefix.String()
	case AddrDynIf:
		return "(" + w.IfName + ")"
	case AddrTable:
		return "<" + w.TableName + ">"
	case AddrRTLabel:
		return "route " + w.RTLabel
	default:
		return w.Type.String()
	}
}

// PortOp is a port comparison operator.
// PortOp 是端口比较运算符。
type PortOp uint8

const (
	PortNone PortOp = iota
	PortRangeExcl
	PortEq
	PortNe
	PortLt
	PortLe
	PortGt
	PortGe
	PortExcept
	PortRange
)

// Match applies the operator to port p with operands a1 and a2.
func (op PortOp) Match(a1, a2, p uint16) bool {
	switch op {
	case PortRangeExcl:
		return p > a1 && p < a2
	case PortExcept:
		return p < a1 || p > a2
	case PortRange:
		return p >= a1 && p <= a2
	case PortEq:
		return p == a1
	case PortNe:
		return p != a1
	case PortLt:
		return p < a1
	case PortLe:
		return p <= a1
	case PortGt:
		return p > a1
	case PortGe:
		return p >= a1
	}
	return false
}

// RuleAddr is one side (source or destination) of a rule's match.
// RuleAddr 表示规则匹配的一端（源或目的）。
type RuleAddr struct {
	Addr   AddrWrap  `json:"addr" yaml:"addr"`
	Port   [2]uint16 `json:"port,omitempty" yaml:"port,omitempty"`
	Neg    bool      `json:"neg,omitempty" yaml:"neg,omitempty"`
	PortOp PortOp    `json:"port_op,omitempty" yaml:"port_op,omitempty"`
}

// AddressMatcher answers address membership for non-literal wraps
// (tables, dynamic interface addresses). Supplied by the embedder.
// AddressMatcher 为表与动态接口地址提供匹配能力，由嵌入方实现。
type AddressMatcher interface {
	Match(w *AddrWrap, a netip.Addr) bool
	Addresses(w *AddrWrap) []netip.Prefix
}

// PrefixMatcher handles literal prefixes and tables held by the registry.
// Dynamic interface addresses resolve through Interfaces when set.
// PrefixMatcher 处理字面前缀与注册表中的表，动态接口地址通过 Interfaces 解析。
type PrefixMatcher struct {
	Interfaces InterfaceResolver
}

func (m PrefixMatcher) Match(w *AddrWrap, a netip.Addr) bool {
	for _, p := range m.Addresses(w) {
		if p.Contains(a) {
			return true
		}
	}
	return w.Any()
}

func (m PrefixMatcher) Addresses(w *AddrWrap) []netip.Prefix {
	switch w.Type {
	case AddrMask:
		if w.Prefix.IsValid() {
			return []netip.Prefix{w.Prefix}
		}
	case AddrTable:
		if w.table != nil {
			return w.table.Prefixes()
		}
	case AddrDynIf:
		if m.Interfaces != nil {
			return m.Interfaces.Addresses(w.IfName)
		}
	}
	return nil
}

// InterfaceResolver reports whether an interface exists and its addresses.
// InterfaceResolver 报告接口是否存在及其地址。
type InterfaceResolver interface {
	Exists(name string) bool
	Addresses(name string) []netip.Prefix
}

// matchAddr matches a against a literal prefix with optional negation.
// The zero prefix matches everything.
func matchAddr(neg bool, p netip.Prefix, a netip.Addr) bool {
	if !p.IsValid() {
		return !neg
	}
	ok := p.Contains(a)
	if neg {
		return !ok
	}
	return ok
}

// addrAdd returns a + n within the same family, wrapping inside 128 bits.
func addrAdd(a netip.Addr, n uint64) netip.Addr {
	b := a.As16()
	carry := n
	for i := 15; i >= 0 && carry > 0; i-- {
		sum := uint64(b[i]) + (carry & 0xff)
		b[i] = byte(sum)
		carry = (carry >> 8) + (sum >> 8)
	}
	out := netip.AddrFrom16(b)
	if a.Is4() {
		return out.Unmap()
	}
	return out
}

// hostCount returns the number of addresses covered by p, capped at 1<<32.
func hostCount(p netip.Prefix) uint64 {
	bits := p.Addr().BitLen() - p.Bits()
	if bits >= 32 {
		return 1 << 32
	}
	return 1 << uint(bits)
}

// withHostBits combines the network bits of p with the host bits of src.
func withHostBits(p netip.Prefix, src netip.Addr) netip.Addr {
	if !src.IsValid() || src.BitLen() != p.Addr().BitLen() {
		return p.Masked().Addr()
	}
	net := p.Masked().Addr().As16()
	host := src.As16()
	off := 128 - p.Addr().BitLen()
	for i := 0; i < 128; i++ {
		if i-off < p.Bits() {
			continue
		}
		mask := byte(0x80 >> uint(i%8))
		net[i/8] = net[i/8]&^mask | host[i/8]&mask
	}
	out := netip.AddrFrom16(net)
	if p.Addr().Is4() {
		return out.Unmap()
	}
	return out
}
