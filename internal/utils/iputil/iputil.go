package iputil

import (
	"net/netip"
	"strings"

	errs "github.com/livp123/netxpf/pkg/errors"
)

// ParsePrefix parses a CIDR or a single address. A single address becomes
// the /32 or /128 prefix; host bits of a CIDR are cleared.
// ParsePrefix 解析 CIDR 或单个地址，单个地址返回 /32 或 /128 前缀，CIDR 的主机位被清零。
func ParsePrefix(s string) (netip.Prefix, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "/") {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return netip.Prefix{}, errs.NewInvalidError("prefix %q", s)
		}
		return p.Masked(), nil
	}
	a, err := netip.ParseAddr(s)
	if err != nil || a.Zone() != "" {
		return netip.Prefix{}, errs.NewInvalidError("address %q", s)
	}
	a = a.Unmap()
	return netip.PrefixFrom(a, a.BitLen()), nil
}

// NormalizeCIDR returns the canonical prefix form of s, or s itself when it
// does not parse.
// NormalizeCIDR 返回 s 的规范前缀形式，解析失败时原样返回。
func NormalizeCIDR(s string) string {
	p, err := ParsePrefix(s)
	if err != nil {
		return s
	}
	return p.String()
}

// IsIPv6 checks if the given address or CIDR is IPv6.
// IsIPv6 检查给定的地址或 CIDR 是否为 IPv6。
func IsIPv6(s string) bool {
	p, err := ParsePrefix(s)
	return err == nil && p.Addr().Is6()
}

// Contains reports whether cidr (or a single address) contains any of addrs.
// Unparsable input contains nothing.
// Contains 判断 cidr（或单个地址）是否包含 addrs 中任一地址，无法解析时返回 false。
func Contains(cidr string, addrs ...netip.Addr) bool {
	p, err := ParsePrefix(cidr)
	if err != nil {
		return false
	}
	for _, a := range addrs {
		if p.Contains(a) {
			return true
		}
	}
	return false
}
