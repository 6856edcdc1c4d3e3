package daemon

import (
	"net"
	"net/netip"
)

// hostInterfaces resolves interface names against the running host.
// hostInterfaces 根据当前主机解析网络接口。
type hostInterfaces struct{}

func (hostInterfaces) Exists(name string) bool {
	_, err := net.InterfaceByName(name)
	return err == nil
}

func (hostInterfaces) Addresses(name string) []netip.Prefix {
	ifi, err := net.InterfaceByName(name)
	if err != nil {
		return nil
	}
	addrs, err := ifi.Addrs()
	if err != nil {
		return nil
	}
	out := make([]netip.Prefix, 0, len(addrs))
	for _, a := range addrs {
		ipn, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		ip, ok := netip.AddrFromSlice(ipn.IP)
		if !ok {
			continue
		}
		ones, _ := ipn.Mask.Size()
		ip = ip.Unmap()
		if ip.Is4() && ones > 32 {
			ones -= 96
		}
		out = append(out, netip.PrefixFrom(ip, ones))
	}
	return out
}
