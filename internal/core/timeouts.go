package core

import (
	"fmt"
	"strings"

	errs "github.com/livp123/netxpf/pkg/errors"
)

// Timeout indexes the timeout table.
// Timeout 是超时表的索引。
type Timeout uint8

const (
	TimeoutTCPFirst Timeout = iota
	TimeoutTCPOpening
	TimeoutTCPEstablished
	TimeoutTCPClosing
	TimeoutTCPFinWait
	TimeoutTCPClosed
	TimeoutUDPFirst
	TimeoutUDPSingle
	TimeoutUDPMultiple
	TimeoutICMPFirst
	TimeoutICMPError
	TimeoutOtherFirst
	TimeoutOtherSingle
	TimeoutOtherMultiple
	TimeoutFrag
	TimeoutInterval
	TimeoutAdaptiveStart
	TimeoutAdaptiveEnd
	TimeoutSrcNode
	TimeoutTSDiff
	TimeoutMax

	// Values above TimeoutMax are state markers, never table slots.
	TimeoutPurge
	TimeoutUnlinked
	TimeoutUntilPacket
)

var timeoutNames = [TimeoutMax]string{
	"tcp.first", "tcp.opening", "tcp.established", "tcp.closing",
	"tcp.finwait", "tcp.closed", "udp.first", "udp.single",
	"udp.multiple", "icmp.first", "icmp.error", "other.first",
	"other.single", "other.multiple", "frag", "interval",
	"adaptive.start", "adaptive.end", "src.track", "tcp.tsdiff",
}

// DefaultTimeouts holds the timeout values in seconds at startup.
// DefaultTimeouts 保存启动时的默认超时（秒）。
var DefaultTimeouts = [TimeoutMax]uint32{
	TimeoutTCPFirst:       120,
	TimeoutTCPOpening:     30,
	TimeoutTCPEstablished: 24 * 60 * 60,
	TimeoutTCPClosing:     15 * 60,
	TimeoutTCPFinWait:     45,
	TimeoutTCPClosed:      90,
	TimeoutUDPFirst:       60,
	TimeoutUDPSingle:      30,
	TimeoutUDPMultiple:    60,
	TimeoutICMPFirst:      20,
	TimeoutICMPError:      10,
	TimeoutOtherFirst:     60,
	TimeoutOtherSingle:    30,
	TimeoutOtherMultiple:  60,
	TimeoutFrag:           30,
	TimeoutInterval:       10,
	TimeoutAdaptiveStart:  6000,
	TimeoutAdaptiveEnd:    12000,
	TimeoutSrcNode:        0,
	TimeoutTSDiff:         30,
}

func (t Timeout) String() string {
	switch {
	case t < TimeoutMax:
		return timeoutNames[t]
	case t == TimeoutPurge:
		return "purge"
	case t == TimeoutUnlinked:
		return "unlinked"
	case t == TimeoutUntilPacket:
		return "until-packet"
	}
	return fmt.Sprintf("timeout(%d)", uint8(t))
}

// ParseTimeout resolves a timeout name such as "tcp.established".
// ParseTimeout 解析超时名称，如 "tcp.established"。
func ParseTimeout(name string) (Timeout, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range timeoutNames {
		if n == name {
			return Timeout(i), nil
		}
	}
	return 0, errs.NewInvalidError("unknown timeout %q", name)
}

// TimeoutNames lists the settable timeouts in table order.
func TimeoutNames() []string {
	return append([]string(nil), timeoutNames[:]...)
}

// Limit indexes the hard limits.
// Limit 是硬性上限的索引。
type Limit uint8

const (
	LimitStates Limit = iota
	LimitSrcNodes
	LimitFrags
	LimitTables
	LimitTableEntries
	LimitMax
)

var limitNames = [LimitMax]string{"states", "src-nodes", "frags", "tables", "table-entries"}

// DefaultLimits are the hard limits at startup.
var DefaultLimits = [LimitMax]uint32{
	LimitStates:       10000,
	LimitSrcNodes:     10000,
	LimitFrags:        5000,
	LimitTables:       1000,
	LimitTableEntries: 200000,
}

func (l Limit) String() string {
	if l < LimitMax {
		return limitNames[l]
	}
	return fmt.Sprintf("limit(%d)", uint8(l))
}

// ParseLimit resolves a limit name such as "states".
func ParseLimit(name string) (Limit, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range limitNames {
		if n == name {
			return Limit(i), nil
		}
	}
	return 0, errs.NewInvalidError("unknown limit %q", name)
}

// LimitNames lists the limits in table order.
func LimitNames() []string {
	return append([]string(nil), limitNames[:]...)
}
