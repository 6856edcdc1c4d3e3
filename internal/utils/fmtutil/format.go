// Package fmtutil formats counters, sizes and ages for CLI output.
// Package fmtutil 为 CLI 输出格式化计数、大小与时长。
package fmtutil

import (
	"fmt"
	"net/netip"
	"strings"
	"time"
)

// FormatNumber formats large numbers with K/M/G suffixes.
// FormatNumber 使用 K/M/G 后缀格式化大数字。
func FormatNumber(n uint64) string {
	switch {
	case n < 1000:
		return fmt.Sprintf("%d", n)
	case n < 1000000:
		return fmt.Sprintf("%.2fK", float64(n)/1000)
	case n < 1000000000:
		return fmt.Sprintf("%.2fM", float64(n)/1000000)
	}
	return fmt.Sprintf("%.2fG", float64(n)/1000000000)
}

// FormatBytes formats bytes to human readable format.
// FormatBytes 将字节格式化为可读格式。
func FormatBytes(b uint64) string {
	switch {
	case b < 1024:
		return fmt.Sprintf("%dB", b)
	case b < 1048576:
		return fmt.Sprintf("%.2fKB", float64(b)/1024)
	case b < 1073741824:
		return fmt.Sprintf("%.2fMB", float64(b)/1048576)
	}
	return fmt.Sprintf("%.2fGB", float64(b)/1073741824)
}

// FormatDuration renders d as "1d 2h 3m 4s", dropping zero units.
// FormatDuration 将时长渲染为 "1d 2h 3m 4s"，省略为零的单位。
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return d.String()
	}

	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	var parts []string
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%dd", days))
	}
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}
	if minutes > 0 {
		parts = append(parts, fmt.Sprintf("%dm", minutes))
	}
	if seconds > 0 || len(parts) == 0 {
		parts = append(parts, fmt.Sprintf("%ds", seconds))
	}
	return strings.Join(parts, " ")
}

// FormatSeconds is FormatDuration for a count of seconds.
func FormatSeconds(s uint32) string {
	return FormatDuration(time.Duration(s) * time.Second)
}

// FormatEndpoint renders addr:port, bracketing IPv6 addresses. A zero port
// prints the address alone.
// FormatEndpoint 渲染 地址:端口，IPv6 地址加方括号，端口为 0 时仅输出地址。
func FormatEndpoint(addr netip.Addr, port uint16) string {
	if !addr.IsValid() {
		return "*"
	}
	if port == 0 {
		return addr.String()
	}
	return netip.AddrPortFrom(addr, port).String()
}

// FormatTraffic renders packets and bytes of both directions as
// "in/out pkts, in/out bytes".
// FormatTraffic 渲染双向的包数与字节数。
func FormatTraffic(packets, bytes [2]uint64) string {
	return fmt.Sprintf("%s/%s pkts, %s/%s",
		FormatNumber(packets[0]), FormatNumber(packets[1]),
		FormatBytes(bytes[0]), FormatBytes(bytes[1]))
}
