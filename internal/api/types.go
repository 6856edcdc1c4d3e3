package api

import (
	"strings"

	"github.com/livp123/netxpf/internal/config"
	"github.com/livp123/netxpf/internal/core"
	"github.com/livp123/netxpf/internal/utils/iputil"
	errs "github.com/livp123/netxpf/pkg/errors"
)

// ErrorResponse is the body of every failed request.
// ErrorResponse 是所有失败请求的响应体。
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ValueRequest sets a numeric setting (timeout, limit, debug level, host id).
type ValueRequest struct {
	Value int64 `json:"value"`
}

// ValueResponse reports a setting and, after a change, its previous value.
type ValueResponse struct {
	Name  string `json:"name,omitempty"`
	Value uint32 `json:"value"`
	Old   uint32 `json:"old,omitempty"`
}

type InterfaceRequest struct {
	IfName string `json:"ifname"`
}

type CountResponse struct {
	Count int `json:"count"`
}

type TicketResponse struct {
	Ticket uint32 `json:"ticket"`
}

type RulesResponse struct {
	Ticket uint32          `json:"ticket"`
	Rules  []core.RuleView `json:"rules"`
}

type RulesAddRequest struct {
	Anchor     string        `json:"anchor,omitempty"`
	Ticket     uint32        `json:"ticket"`
	PoolTicket uint32        `json:"pool_ticket"`
	Rule       core.RuleSpec `json:"rule"`
}

type PoolAddRequest struct {
	Ticket uint32            `json:"ticket"`
	Addr   core.PoolAddrSpec `json:"addr"`
}

type TransRequest struct {
	Elements []core.TransElement `json:"elements"`
}

type LoadResponse struct {
	Rules int `json:"rules"`
}

type AltqResponse struct {
	Count  int    `json:"count"`
	Ticket uint32 `json:"ticket"`
}

type QueueResponse struct {
	Queue core.Queue      `json:"queue"`
	Stats core.QueueStats `json:"stats"`
}

// KillRequest selects states to remove. Addresses accept a prefix or a
// single address with an optional "!" negation; ports use the ruleset
// port syntax ("22", ">1024", "1000:2000").
// KillRequest 选择要删除的状态，地址支持前缀与 "!" 取反，端口使用规则集语法。
type KillRequest struct {
	AF      string `json:"af,omitempty"`
	Proto   string `json:"proto,omitempty"`
	Src     string `json:"src,omitempty"`
	Dst     string `json:"dst,omitempty"`
	SrcPort string `json:"src_port,omitempty"`
	DstPort string `json:"dst_port,omitempty"`
	IfName  string `json:"ifname,omitempty"`
	Filter  string `json:"filter,omitempty"`
}

// SourcesKillRequest selects source nodes by source and translated address.
type SourcesKillRequest struct {
	Src string `json:"src,omitempty"`
	Dst string `json:"dst,omitempty"`
}

// KillFilter translates k into the engine's filter.
// KillFilter 将请求转换为引擎的过滤器。
func (k KillRequest) KillFilter() (core.KillFilter, error) {
	var f core.KillFilter
	var err error

	if f.AF, err = ParseAF(k.AF); err != nil {
		return f, err
	}
	if f.Proto, err = config.ParseProto(k.Proto); err != nil {
		return f, err
	}
	if f.Src, err = ParseAddrMatch(k.Src); err != nil {
		return f, err
	}
	if f.Dst, err = ParseAddrMatch(k.Dst); err != nil {
		return f, err
	}
	if k.SrcPort != "" {
		if f.SrcPort.Op, f.SrcPort.Port, err = config.ParsePort(k.SrcPort); err != nil {
			return f, err
		}
	}
	if k.DstPort != "" {
		if f.DstPort.Op, f.DstPort.Port, err = config.ParsePort(k.DstPort); err != nil {
			return f, err
		}
	}
	f.IfName = k.IfName
	if f.Expr, err = core.CompileStateFilter(k.Filter); err != nil {
		return f, err
	}
	return f, nil
}

// ParseAF accepts "", "any", "inet" and "inet6".
func ParseAF(s string) (core.AF, error) {
	switch strings.ToLower(s) {
	case "", "any":
		return core.AFUnspec, nil
	case "inet", "ipv4":
		return core.AFInet, nil
	case "inet6", "ipv6":
		return core.AFInet6, nil
	}
	return 0, errs.NewInvalidError("address family %q", s)
}

// ParseAddrMatch parses "", "10.0.0.0/8", "192.0.2.1" or "!10.0.0.0/8".
// The empty string matches every address.
// ParseAddrMatch 解析地址匹配，空字符串匹配所有地址。
func ParseAddrMatch(s string) (core.AddrMatch, error) {
	var m core.AddrMatch
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "!") {
		m.Neg = true
		s = strings.TrimSpace(s[1:])
	}
	if s == "" || s == "any" {
		return m, nil
	}
	p, err := iputil.ParsePrefix(s)
	if err != nil {
		return m, err
	}
	m.Prefix = p
	return m, nil
}
