package common

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/livp123/netxpf/internal/api"
	"github.com/livp123/netxpf/internal/core"
	"github.com/livp123/netxpf/internal/utils/fmtutil"
)

// ProtoName renders a protocol number the way rulesets spell it.
func ProtoName(p uint8) string {
	switch p {
	case 0:
		return ""
	case 1:
		return "icmp"
	case 6:
		return "tcp"
	case 17:
		return "udp"
	case 58:
		return "icmp6"
	}
	return strconv.Itoa(int(p))
}

// AFName renders an address family; the unspecified family is empty.
func AFName(af core.AF) string {
	switch af {
	case core.AFInet:
		return "inet"
	case core.AFInet6:
		return "inet6"
	}
	return ""
}

func formatPort(op core.PortOp, p [2]uint16) string {
	switch op {
	case core.PortEq:
		return fmt.Sprintf("port = %d", p[0])
	case core.PortNe:
		return fmt.Sprintf("port != %d", p[0])
	case core.PortLt:
		return fmt.Sprintf("port < %d", p[0])
	case core.PortLe:
		return fmt.Sprintf("port <= %d", p[0])
	case core.PortGt:
		return fmt.Sprintf("port > %d", p[0])
	case core.PortGe:
		return fmt.Sprintf("port >= %d", p[0])
	case core.PortRangeExcl:
		return fmt.Sprintf("port %d >< %d", p[0], p[1])
	case core.PortExcept:
		return fmt.Sprintf("port %d <> %d", p[0], p[1])
	case core.PortRange:
		return fmt.Sprintf("port %d:%d", p[0], p[1])
	}
	return ""
}

func formatRuleAddr(a core.RuleAddr) string {
	s := a.Addr.String()
	if a.Neg {
		s = "! " + s
	}
	if port := formatPort(a.PortOp, a.Port); port != "" {
		s += " " + port
	}
	return s
}

// FormatRule renders a rule in ruleset syntax, e.g.
// "@0 pass out quick on em0 inet proto tcp from any to <web> port = 443 label "web"".
// FormatRule 以规则集语法渲染规则。
func FormatRule(v core.RuleView) string {
	var b strings.Builder
	fmt.Fprintf(&b, "@%d %s", v.Nr, v.Action)
	if v.Direction != core.DirInOut {
		b.WriteString(" " + v.Direction.String())
	}
	if v.Log != 0 {
		b.WriteString(" log")
	}
	if v.Quick {
		b.WriteString(" quick")
	}
	if v.IfName != "" {
		b.WriteString(" on ")
		if v.IfNot {
			b.WriteString("! ")
		}
		b.WriteString(v.IfName)
	}
	if af := AFName(v.AF); af != "" {
		b.WriteString(" " + af)
	}
	if p := ProtoName(v.Proto); p != "" {
		b.WriteString(" proto " + p)
	}
	src, dst := formatRuleAddr(v.Src), formatRuleAddr(v.Dst)
	if src == "any" && dst == "any" {
		b.WriteString(" all")
	} else {
		fmt.Fprintf(&b, " from %s to %s", src, dst)
	}
	if v.Tag != "" {
		fmt.Fprintf(&b, " tag %s", v.Tag)
	}
	if v.MatchTag != "" {
		b.WriteString(" ")
		if v.MatchTagNot {
			b.WriteString("! ")
		}
		fmt.Fprintf(&b, "tagged %s", v.MatchTag)
	}
	if v.Queue != "" {
		fmt.Fprintf(&b, " queue %s", v.Queue)
	}
	if v.AnchorPath != "" {
		fmt.Fprintf(&b, " anchor %q", v.AnchorPath)
	}
	if v.Label != "" {
		fmt.Fprintf(&b, " label %q", v.Label)
	}
	return b.String()
}

// PrintRules prints one rule per line followed by its counters.
// PrintRules 每行打印一条规则及其计数。
func PrintRules(w io.Writer, rules []core.RuleView, verbose bool) {
	if len(rules) == 0 {
		fmt.Fprintln(w, " - No rules.")
		return
	}
	for _, r := range rules {
		fmt.Fprintln(w, FormatRule(r))
		if verbose {
			fmt.Fprintf(w, "  [ Evaluations: %-8s Packets: %-8s Bytes: %-10s States: %-6d ]\n",
				fmtutil.FormatNumber(r.Evaluations),
				fmtutil.FormatNumber(r.Packets[0]+r.Packets[1]),
				fmtutil.FormatBytes(r.Bytes[0]+r.Bytes[1]),
				r.States)
		}
	}
}

// PrintStatus prints the status summary and its counter groups.
// PrintStatus 打印状态摘要及各组计数。
func PrintStatus(w io.Writer, st core.Status, now time.Time) {
	state := "Disabled"
	if st.Running {
		state = "Enabled"
	}
	fmt.Fprintf(w, "🛡️  Status: %s for %s\n", state, fmtutil.FormatDuration(now.Sub(st.Since).Truncate(time.Second)))
	fmt.Fprintf(w, "   Hostid:   0x%08x\n", st.HostID)
	fmt.Fprintf(w, "   Checksum: 0x%s\n", st.Checksum)
	fmt.Fprintf(w, "   Debug:    %d\n", st.Debug)
	if st.IfName != "" {
		fmt.Fprintf(w, "   Interface: %s\n", st.IfName)
	}
	fmt.Fprintf(w, "\nState Table\n   %-24s %14d\n", "current entries", st.States)
	printCounters(w, st.FCounters)
	fmt.Fprintf(w, "Source Tracking Table\n   %-24s %14d\n", "current entries", st.SrcNodes)
	printCounters(w, st.SCounters)
	fmt.Fprintln(w, "Counters")
	printCounters(w, st.Counters)
	fmt.Fprintln(w, "Limit Counters")
	printCounters(w, st.LCounters)
}

func printCounters(w io.Writer, m map[string]uint64) {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		fmt.Fprintf(w, "   %-24s %14d\n", n, m[n])
	}
}

// PrintStates prints states in the "ifname proto lan (gwy) -> ext" form.
// PrintStates 以 "接口 协议 内部 (网关) -> 外部" 的形式打印状态。
func PrintStates(w io.Writer, states []core.WireState, verbose bool) {
	if len(states) == 0 {
		fmt.Fprintln(w, " - No states.")
		return
	}
	for _, s := range states {
		lan := fmtutil.FormatEndpoint(s.Lan.Addr, s.Lan.Port)
		ext := fmtutil.FormatEndpoint(s.Ext.Addr, s.Ext.Port)
		if s.Gwy != s.Lan {
			lan += " (" + fmtutil.FormatEndpoint(s.Gwy.Addr, s.Gwy.Port) + ")"
		}
		arrow := "->"
		if s.Direction == core.DirIn {
			arrow = "<-"
		}
		fmt.Fprintf(w, "%s %s %s %s %s       %s\n", s.IfName, ProtoName(s.Proto), lan, arrow, ext, s.Timeout)
		if verbose {
			fmt.Fprintf(w, "   age %s, expires in %s, %s, rule %d\n   id: %016x creatorid: %08x\n",
				fmtutil.FormatSeconds(s.Creation), fmtutil.FormatSeconds(s.Expire),
				fmtutil.FormatTraffic(s.Packets, s.Bytes), s.Rule, s.ID, s.CreatorID)
		}
	}
}

// PrintSources prints source-tracking nodes.
func PrintSources(w io.Writer, nodes []core.SrcNodeView) {
	if len(nodes) == 0 {
		fmt.Fprintln(w, " - No source nodes.")
		return
	}
	for _, n := range nodes {
		dst := "*"
		if n.RAddr.IsValid() {
			dst = n.RAddr.String()
		}
		fmt.Fprintf(w, "%s -> %s ( states %d, connections %d, rate %d/%ds )\n",
			n.Addr, dst, n.States, n.Conn, n.ConnRate, n.RateSecs)
		fmt.Fprintf(w, "   age %s, expires in %s, %s rule %d\n",
			fmtutil.FormatSeconds(uint32(max(n.Creation, 0))), fmtutil.FormatSeconds(uint32(max(n.Expire, 0))),
			n.RuleType, n.Rule)
	}
}

// PrintValues prints name/value settings such as timeouts and limits.
// PrintValues 打印超时、限制等名称/值设置。
func PrintValues(w io.Writer, values []api.ValueResponse, unit string) {
	for _, v := range values {
		fmt.Fprintf(w, "%-20s %10d%s\n", v.Name, v.Value, unit)
	}
}

// PrintTables prints table summaries.
func PrintTables(w io.Writer, tables []core.TableView) {
	if len(tables) == 0 {
		fmt.Fprintln(w, " - No tables.")
		return
	}
	for _, t := range tables {
		flag := "-"
		if t.Active {
			flag = "A"
		}
		fmt.Fprintf(w, "%s <%s> %d addresses, %d references\n", flag, t.Name, t.Count, t.Refs)
	}
}
