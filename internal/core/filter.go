package core

import (
	"net/netip"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/livp123/netxpf/internal/utils/iputil"
	errs "github.com/livp123/netxpf/pkg/errors"
)

// stateEnv is the environment a state filter expression runs against.
// stateEnv 是状态过滤表达式的执行环境。
type stateEnv struct {
	ID        uint64 `expr:"id"`
	CreatorID uint32 `expr:"creator"`
	IfName    string `expr:"ifname"`
	Proto     string `expr:"proto"`
	ProtoNum  uint8  `expr:"proto_num"`
	AF        string `expr:"af"`
	Dir       string `expr:"direction"`
	Src       string `expr:"src"`
	SrcPort   uint16 `expr:"src_port"`
	Dst       string `expr:"dst"`
	DstPort   uint16 `expr:"dst_port"`
	Gwy       string `expr:"gwy"`
	GwyPort   uint16 `expr:"gwy_port"`
	Rule      int32  `expr:"rule"`
	Age       uint32 `expr:"age"`
	Expire    uint32 `expr:"expire"`
	Packets   uint64 `expr:"packets"`
	Bytes     uint64 `expr:"bytes"`
	Timeout   string `expr:"timeout"`

	srcAddr, dstAddr netip.Addr
}

// InCIDR reports whether the source or destination lies in cidr.
func (e *stateEnv) InCIDR(cidr string) bool {
	return iputil.Contains(cidr, e.srcAddr, e.dstAddr)
}

var stateEnvPool = sync.Pool{New: func() interface{} { return &stateEnv{} }}

func protoName(p uint8) string {
	switch p {
	case 1:
		return "icmp"
	case protoTCP:
		return "tcp"
	case protoUDP:
		return "udp"
	case 58:
		return "icmp6"
	}
	return ""
}

func (e *stateEnv) fill(w *WireState) {
	k := w.Key()
	src, dst := k.source(), k.destination()
	*e = stateEnv{
		ID:        w.ID,
		CreatorID: w.CreatorID,
		IfName:    w.IfName,
		Proto:     protoName(w.Proto),
		ProtoNum:  w.Proto,
		AF:        w.AF.String(),
		Dir:       w.Direction.String(),
		Src:       src.Addr.String(),
		SrcPort:   src.Port,
		Dst:       dst.Addr.String(),
		DstPort:   dst.Port,
		Gwy:       w.Gwy.Addr.String(),
		GwyPort:   w.Gwy.Port,
		Rule:      w.Rule,
		Age:       w.Creation,
		Expire:    w.Expire,
		Packets:   w.Packets[0] + w.Packets[1],
		Bytes:     w.Bytes[0] + w.Bytes[1],
		Timeout:   w.Timeout.String(),
		srcAddr:   src.Addr,
		dstAddr:   dst.Addr,
	}
}

// StateFilter is a compiled boolean expression over exported states, e.g.
// `proto == "tcp" && dst_port == 443 && InCIDR("10.0.0.0/8")`.
// StateFilter 是针对导出状态编译好的布尔表达式。
type StateFilter struct {
	Source  string
	program *vm.Program
}

// CompileStateFilter compiles src. An empty source yields a nil filter
// that matches everything.
// CompileStateFilter 编译表达式，空表达式返回匹配全部的 nil 过滤器。
func CompileStateFilter(src string) (*StateFilter, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil, nil
	}
	program, err := expr.Compile(src, expr.Env(&stateEnv{}), expr.AsBool())
	if err != nil {
		return nil, errs.NewInvalidError("state filter %q: %v", src, err)
	}
	return &StateFilter{Source: src, program: program}, nil
}

// Match evaluates the filter against w. Evaluation errors count as no match.
func (f *StateFilter) Match(w *WireState) bool {
	if f == nil {
		return true
	}
	env := stateEnvPool.Get().(*stateEnv)
	defer stateEnvPool.Put(env)
	env.fill(w)
	out, err := expr.Run(f.program, env)
	if err != nil {
		return false
	}
	ok, _ := out.(bool)
	return ok
}

// srcNodeEnv is the environment of a source-node filter expression.
type srcNodeEnv struct {
	AF       string `expr:"af"`
	Addr     string `expr:"addr"`
	RAddr    string `expr:"raddr"`
	Rule     int32  `expr:"rule"`
	States   int    `expr:"states"`
	Conn     uint32 `expr:"conn"`
	ConnRate uint32 `expr:"conn_rate"`
	Age      int64  `expr:"age"`
	Expire   int64  `expr:"expire"`
	RuleType string `expr:"rule_type"`

	addr netip.Addr
}

// InCIDR reports whether the source address lies in cidr.
func (e *srcNodeEnv) InCIDR(cidr string) bool {
	return iputil.Contains(cidr, e.addr)
}

// SrcNodeFilter is a compiled boolean expression over source nodes.
// SrcNodeFilter 是针对源节点编译好的布尔表达式。
type SrcNodeFilter struct {
	Source  string
	program *vm.Program
}

// CompileSrcNodeFilter compiles src; empty yields a nil filter.
func CompileSrcNodeFilter(src string) (*SrcNodeFilter, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil, nil
	}
	program, err := expr.Compile(src, expr.Env(&srcNodeEnv{}), expr.AsBool())
	if err != nil {
		return nil, errs.NewInvalidError("source node filter %q: %v", src, err)
	}
	return &SrcNodeFilter{Source: src, program: program}, nil
}

// Match evaluates the filter against v.
func (f *SrcNodeFilter) Match(v *SrcNodeView) bool {
	if f == nil {
		return true
	}
	env := &srcNodeEnv{
		AF:       v.AF.String(),
		Addr:     v.Addr.String(),
		RAddr:    v.RAddr.String(),
		Rule:     v.Rule,
		States:   v.States,
		Conn:     v.Conn,
		ConnRate: v.ConnRate,
		Age:      v.Creation,
		Expire:   v.Expire,
		RuleType: v.RuleType,
		addr:     v.Addr,
	}
	out, err := expr.Run(f.program, env)
	if err != nil {
		return false
	}
	ok, _ := out.(bool)
	return ok
}
