package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/livp123/netxpf/internal/core"
	"github.com/livp123/netxpf/internal/utils/iputil"
	"github.com/livp123/netxpf/internal/utils/logger"
	errs "github.com/livp123/netxpf/pkg/errors"
)

// Ruleset is a ruleset file: tables, queues and the rules of one or more
// anchors, loaded as a single transaction.
// Ruleset 是规则集文件：表、队列与一个或多个锚点的规则，作为单个事务加载。
type Ruleset struct {
	Tables  []TableDoc   `yaml:"tables,omitempty" json:"tables,omitempty"`
	Queues  []core.Queue `yaml:"queues,omitempty" json:"queues,omitempty"`
	Anchors []AnchorDoc  `yaml:"anchors,omitempty" json:"anchors,omitempty"`
}

type TableDoc struct {
	Anchor string   `yaml:"anchor,omitempty" json:"anchor,omitempty"`
	Name   string   `yaml:"name" json:"name"`
	Addrs  []string `yaml:"addrs,omitempty" json:"addrs,omitempty"`
}

// AnchorDoc lists the rules of one anchor. Every rule class of a listed
// anchor is replaced, so an anchor with no rules is flushed.
// AnchorDoc 列出一个锚点的规则；加载时替换该锚点的全部规则类别。
type AnchorDoc struct {
	Path  string    `yaml:"path,omitempty" json:"path,omitempty"`
	Rules []RuleDoc `yaml:"rules,omitempty" json:"rules,omitempty"`
}

// RuleDoc is the human form of a rule.
// RuleDoc 是规则的可读形式。
type RuleDoc struct {
	Action    string `yaml:"action" json:"action"`
	Direction string `yaml:"direction,omitempty" json:"direction,omitempty"`
	Quick     bool   `yaml:"quick,omitempty" json:"quick,omitempty"`
	Log       bool   `yaml:"log,omitempty" json:"log,omitempty"`
	On        string `yaml:"on,omitempty" json:"on,omitempty"`
	AF        string `yaml:"af,omitempty" json:"af,omitempty"`
	Proto     string `yaml:"proto,omitempty" json:"proto,omitempty"`
	From      string `yaml:"from,omitempty" json:"from,omitempty"`
	FromPort  string `yaml:"from_port,omitempty" json:"from_port,omitempty"`
	To        string `yaml:"to,omitempty" json:"to,omitempty"`
	ToPort    string `yaml:"to_port,omitempty" json:"to_port,omitempty"`
	KeepState bool   `yaml:"keep_state,omitempty" json:"keep_state,omitempty"`
	Label     string `yaml:"label,omitempty" json:"label,omitempty"`
	Tag       string `yaml:"tag,omitempty" json:"tag,omitempty"`
	Tagged    string `yaml:"tagged,omitempty" json:"tagged,omitempty"`
	Queue     string `yaml:"queue,omitempty" json:"queue,omitempty"`

	MaxStates      uint32 `yaml:"max_states,omitempty" json:"max_states,omitempty"`
	MaxSrcNodes    uint32 `yaml:"max_src_nodes,omitempty" json:"max_src_nodes,omitempty"`
	MaxSrcStates   uint32 `yaml:"max_src_states,omitempty" json:"max_src_states,omitempty"`
	MaxSrcConn     uint32 `yaml:"max_src_conn,omitempty" json:"max_src_conn,omitempty"`
	MaxSrcConnRate string `yaml:"max_src_conn_rate,omitempty" json:"max_src_conn_rate,omitempty"`
	SourceTrack    string `yaml:"source_track,omitempty" json:"source_track,omitempty"`
	Overload       string `yaml:"overload,omitempty" json:"overload,omitempty"`
	Flush          string `yaml:"flush,omitempty" json:"flush,omitempty"`

	Timeouts map[string]uint32 `yaml:"timeouts,omitempty" json:"timeouts,omitempty"`
	Anchor   string            `yaml:"anchor,omitempty" json:"anchor,omitempty"`
	Pool     *PoolDoc          `yaml:"pool,omitempty" json:"pool,omitempty"`
}

type PoolDoc struct {
	Policy string   `yaml:"policy,omitempty" json:"policy,omitempty"`
	Sticky bool     `yaml:"sticky,omitempty" json:"sticky,omitempty"`
	Key    string   `yaml:"key,omitempty" json:"key,omitempty"`
	Ports  string   `yaml:"ports,omitempty" json:"ports,omitempty"`
	Addrs  []string `yaml:"addrs" json:"addrs"`
}

// LoadRuleset reads and parses a ruleset file.
// LoadRuleset 读取并解析规则集文件。
func LoadRuleset(path string) (*Ruleset, error) {
	data, err := os.ReadFile(filepath.Clean(path)) // #nosec G304 // path is sanitized with filepath.Clean
	if err != nil {
		return nil, err
	}
	return ParseRuleset(data)
}

// ParseRuleset decodes a ruleset and checks that every rule translates.
func ParseRuleset(data []byte) (*Ruleset, error) {
	rs := &Ruleset{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(rs); err != nil && !errors.Is(err, io.EOF) {
		return nil, errs.NewInvalidError("ruleset: %v", err)
	}
	for _, a := range rs.Anchors {
		for i := range a.Rules {
			if _, err := a.Rules[i].Spec(); err != nil {
				return nil, fmt.Errorf("anchor %q rule %d: %w", a.Path, i, err)
			}
		}
	}
	return rs, nil
}

// Elements returns the transaction elements the ruleset replaces.
// Elements 返回规则集所替换的事务元素。
func (rs *Ruleset) Elements() []core.TransElement {
	var elems []core.TransElement
	if len(rs.Queues) > 0 {
		elems = append(elems, core.TransElement{Class: core.ClassALTQ})
	}
	seen := map[string]bool{}
	for _, t := range rs.Tables {
		if !seen["table\x00"+t.Anchor] {
			seen["table\x00"+t.Anchor] = true
			elems = append(elems, core.TransElement{Anchor: t.Anchor, Class: core.ClassTable})
		}
	}
	for _, a := range rs.Anchors {
		if seen["rules\x00"+a.Path] {
			continue
		}
		seen["rules\x00"+a.Path] = true
		for _, c := range []core.Class{core.ClassScrub, core.ClassFilter, core.ClassNAT, core.ClassBINAT, core.ClassRDR} {
			elems = append(elems, core.TransElement{Anchor: a.Path, Class: c})
		}
	}
	return elems
}

// Apply loads rs through ops under one transaction. On any failure the
// transaction is rolled back and the active rulesets are untouched.
// Apply 在单个事务中通过 ops 加载规则集，失败时回滚，活动规则集保持不变。
func Apply(ops *core.Ops, rs *Ruleset) (int, error) {
	log := logger.Get(nil)

	// 1. Open every element / 打开所有事务元素
	elems, err := ops.TransBegin(rs.Elements())
	if err != nil {
		return 0, err
	}
	tickets := make(map[string]uint32, len(elems))
	for _, el := range elems {
		tickets[el.Anchor+"\x00"+el.Class.String()] = el.Ticket
	}
	ticketOf := func(anchor string, c core.Class) uint32 {
		return tickets[anchor+"\x00"+c.String()]
	}

	n, err := stage(ops, rs, ticketOf)
	if err != nil {
		if rbErr := ops.TransRollback(elems); rbErr != nil {
			log.Warnf("⚠️  [Config] Rollback failed: %v", rbErr)
		}
		return 0, err
	}

	// 4. Commit atomically / 原子提交
	if err := ops.TransCommit(elems); err != nil {
		if rbErr := ops.TransRollback(elems); rbErr != nil {
			log.Warnf("⚠️  [Config] Rollback failed: %v", rbErr)
		}
		return 0, err
	}
	log.Infof("✅ [Config] Loaded %d rules in %d anchors", n, len(rs.Anchors))
	return n, nil
}

func stage(ops *core.Ops, rs *Ruleset, ticketOf func(string, core.Class) uint32) (int, error) {
	// 2. Tables and queues / 表与队列
	for _, t := range rs.Tables {
		prefixes := make([]netip.Prefix, 0, len(t.Addrs))
		for _, s := range t.Addrs {
			p, err := iputil.ParsePrefix(s)
			if err != nil {
				return 0, err
			}
			prefixes = append(prefixes, p)
		}
		if err := ops.TableDefine(t.Anchor, ticketOf(t.Anchor, core.ClassTable), t.Name, prefixes); err != nil {
			return 0, err
		}
	}
	for _, q := range rs.Queues {
		if err := ops.AltqAdd(ticketOf("", core.ClassALTQ), q); err != nil {
			return 0, err
		}
	}

	// 3. Rules with their pools / 规则及其地址池
	n := 0
	for _, a := range rs.Anchors {
		for i := range a.Rules {
			spec, err := a.Rules[i].Spec()
			if err != nil {
				return 0, err
			}
			class, err := core.ClassOf(spec.Action)
			if err != nil {
				return 0, err
			}
			pt, err := ops.PoolAddrBegin()
			if err != nil {
				return 0, err
			}
			if p := a.Rules[i].Pool; p != nil {
				for _, s := range p.Addrs {
					w, err := ParseAddr(s)
					if err != nil {
						return 0, err
					}
					if err := ops.PoolAddrAdd(pt, core.PoolAddrSpec{Addr: w}); err != nil {
						return 0, err
					}
				}
			}
			if err := ops.RulesAdd(a.Path, ticketOf(a.Path, class), pt, spec); err != nil {
				return 0, fmt.Errorf("anchor %q rule %d: %w", a.Path, i, err)
			}
			n++
		}
	}
	return n, nil
}

// Spec translates the rule into the engine's form.
// Spec 将规则转换为引擎使用的形式。
func (d *RuleDoc) Spec() (core.RuleSpec, error) {
	var spec core.RuleSpec
	var err error

	if spec.Action, err = core.ParseAction(d.Action); err != nil {
		return spec, err
	}
	switch strings.ToLower(d.Direction) {
	case "", "inout":
	case "in":
		spec.Direction = core.DirIn
	case "out":
		spec.Direction = core.DirOut
	default:
		return spec, errs.NewInvalidError("direction %q", d.Direction)
	}
	switch strings.ToLower(d.AF) {
	case "", "any":
	case "inet":
		spec.AF = core.AFInet
	case "inet6":
		spec.AF = core.AFInet6
	default:
		return spec, errs.NewInvalidError("address family %q", d.AF)
	}
	if spec.Proto, err = ParseProto(d.Proto); err != nil {
		return spec, err
	}
	if spec.Src, err = parseRuleAddr(d.From, d.FromPort); err != nil {
		return spec, err
	}
	if spec.Dst, err = parseRuleAddr(d.To, d.ToPort); err != nil {
		return spec, err
	}
	if strings.HasPrefix(d.On, "!") {
		spec.IfNot = true
		spec.IfName = d.On[1:]
	} else {
		spec.IfName = d.On
	}

	spec.Quick = d.Quick
	if d.Log {
		spec.Log = 1
	}
	if d.KeepState {
		spec.KeepState = core.KeepStateNormal
	}
	spec.Label = d.Label
	spec.Tag = d.Tag
	if strings.HasPrefix(d.Tagged, "!") {
		spec.MatchTagNot = true
		spec.MatchTag = d.Tagged[1:]
	} else {
		spec.MatchTag = d.Tagged
	}
	spec.Queue = d.Queue

	spec.MaxStates = d.MaxStates
	spec.MaxSrcNodes = d.MaxSrcNodes
	spec.MaxSrcStates = d.MaxSrcStates
	spec.MaxSrcConn = d.MaxSrcConn
	if d.MaxSrcConnRate != "" {
		if spec.MaxSrcConnRate, err = parseConnRate(d.MaxSrcConnRate); err != nil {
			return spec, err
		}
	}
	switch d.SourceTrack {
	case "":
	case "global":
		spec.RuleFlag |= core.RuleFlagSrcTrack
	case "rule":
		spec.RuleFlag |= core.RuleFlagSrcTrack | core.RuleFlagRuleSrcTrack
	default:
		return spec, errs.NewInvalidError("source-track %q", d.SourceTrack)
	}
	spec.Overload = d.Overload
	switch d.Flush {
	case "":
	case "rule":
		spec.Flush = core.FlushRule
	case "global":
		spec.Flush = core.FlushRule | core.FlushGlobal
	default:
		return spec, errs.NewInvalidError("flush %q", d.Flush)
	}

	spec.Timeouts = d.Timeouts
	spec.Anchor = d.Anchor
	if p := d.Pool; p != nil {
		if p.Policy != "" {
			if spec.Pool.Policy, err = core.ParsePoolPolicy(p.Policy); err != nil {
				return spec, err
			}
		}
		spec.Pool.StickyAddr = p.Sticky
		if p.Key != "" {
			if spec.Pool.Key, err = parseKey(p.Key); err != nil {
				return spec, err
			}
		}
		if p.Ports != "" {
			lo, hi, err := splitRange(p.Ports)
			if err != nil {
				return spec, err
			}
			spec.Pool.ProxyPort = [2]uint16{lo, hi}
		}
	}
	return spec, nil
}

// ParseProto accepts a protocol name or number.
func ParseProto(s string) (uint8, error) {
	switch strings.ToLower(s) {
	case "", "any":
		return 0, nil
	case "icmp":
		return 1, nil
	case "tcp":
		return 6, nil
	case "udp":
		return 17, nil
	case "icmp6", "ipv6-icmp":
		return 58, nil
	}
	n, err := strconv.ParseUint(s, 10, 8)
	if err != nil {
		return 0, errs.NewInvalidError("protocol %q", s)
	}
	return uint8(n), nil
}

// ParseAddr parses "any", "<table>", "(ifname)", "no-route",
// "urpf-failed", "route label" or an address or prefix.
// ParseAddr 解析地址描述：any、<表>、(接口)、no-route、urpf-failed、route 标签或地址前缀。
func ParseAddr(s string) (core.AddrWrap, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "" || s == "any":
		return core.AddrWrap{}, nil
	case s == "no-route":
		return core.AddrWrap{Type: core.AddrNoRoute}, nil
	case s == "urpf-failed":
		return core.AddrWrap{Type: core.AddrURPFFailed}, nil
	case strings.HasPrefix(s, "route "):
		return core.AddrWrap{Type: core.AddrRTLabel, RTLabel: strings.TrimSpace(s[6:])}, nil
	case strings.HasPrefix(s, "<") && strings.HasSuffix(s, ">"):
		return core.AddrWrap{Type: core.AddrTable, TableName: s[1 : len(s)-1]}, nil
	case strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")"):
		return core.AddrWrap{Type: core.AddrDynIf, IfName: s[1 : len(s)-1]}, nil
	}
	p, err := iputil.ParsePrefix(s)
	if err != nil {
		return core.AddrWrap{}, err
	}
	return core.AddrWrap{Type: core.AddrMask, Prefix: p}, nil
}

func parseRuleAddr(addr, port string) (core.RuleAddr, error) {
	var ra core.RuleAddr
	addr = strings.TrimSpace(addr)
	if strings.HasPrefix(addr, "!") {
		ra.Neg = true
		addr = addr[1:]
	}
	w, err := ParseAddr(addr)
	if err != nil {
		return ra, err
	}
	ra.Addr = w
	if port != "" {
		if ra.PortOp, ra.Port, err = ParsePort(port); err != nil {
			return ra, err
		}
	}
	return ra, nil
}

// ParsePort parses "80", "!=80", "<1024", ">=1024", "1000:2000",
// "1000><2000" (exclusive) and "1000<>2000" (except).
// ParsePort 解析端口表达式。
func ParsePort(s string) (core.PortOp, [2]uint16, error) {
	s = strings.ReplaceAll(s, " ", "")
	one := func(op core.PortOp, v string) (core.PortOp, [2]uint16, error) {
		p, err := strconv.ParseUint(v, 10, 16)
		if err != nil {
			return 0, [2]uint16{}, errs.NewInvalidError("port %q", s)
		}
		return op, [2]uint16{uint16(p)}, nil
	}
	two := func(op core.PortOp, sep string) (core.PortOp, [2]uint16, error) {
		parts := strings.SplitN(s, sep, 2)
		lo, err1 := strconv.ParseUint(parts[0], 10, 16)
		hi, err2 := strconv.ParseUint(parts[1], 10, 16)
		if err1 != nil || err2 != nil || lo > hi {
			return 0, [2]uint16{}, errs.NewInvalidError("port range %q", s)
		}
		return op, [2]uint16{uint16(lo), uint16(hi)}, nil
	}

	switch {
	case strings.Contains(s, "><"):
		return two(core.PortRangeExcl, "><")
	case strings.Contains(s, "<>"):
		return two(core.PortExcept, "<>")
	case strings.Contains(s, ":"):
		return two(core.PortRange, ":")
	case strings.HasPrefix(s, "!="):
		return one(core.PortNe, s[2:])
	case strings.HasPrefix(s, "<="):
		return one(core.PortLe, s[2:])
	case strings.HasPrefix(s, ">="):
		return one(core.PortGe, s[2:])
	case strings.HasPrefix(s, "<"):
		return one(core.PortLt, s[1:])
	case strings.HasPrefix(s, ">"):
		return one(core.PortGt, s[1:])
	case strings.HasPrefix(s, "="):
		return one(core.PortEq, s[1:])
	}
	return one(core.PortEq, s)
}

func splitRange(s string) (uint16, uint16, error) {
	op, p, err := ParsePort(s)
	if err != nil {
		return 0, 0, err
	}
	switch op {
	case core.PortEq:
		return p[0], p[0], nil
	case core.PortRange:
		return p[0], p[1], nil
	}
	return 0, 0, errs.NewInvalidError("port range %q", s)
}

// parseConnRate parses "limit/seconds".
func parseConnRate(s string) (core.ConnRate, error) {
	limit, secs, ok := strings.Cut(s, "/")
	l, err1 := strconv.ParseUint(limit, 10, 32)
	n, err2 := strconv.ParseUint(secs, 10, 32)
	if !ok || err1 != nil || err2 != nil || l == 0 || n == 0 {
		return core.ConnRate{}, errs.NewInvalidError("max-src-conn-rate %q", s)
	}
	return core.ConnRate{Limit: uint32(l), Seconds: uint32(n)}, nil
}

// parseKey parses a 128-bit hash key written as 32 hex digits.
func parseKey(s string) ([2]uint64, error) {
	s = strings.TrimPrefix(s, "0x")
	if len(s) != 32 {
		return [2]uint64{}, errs.NewInvalidError("pool key must be 32 hex digits")
	}
	hi, err1 := strconv.ParseUint(s[:16], 16, 64)
	lo, err2 := strconv.ParseUint(s[16:], 16, 64)
	if err1 != nil || err2 != nil {
		return [2]uint64{}, errs.NewInvalidError("pool key %q", s)
	}
	return [2]uint64{hi, lo}, nil
}
