package netutil

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

// NetAddr2IpPort Golang内置网络地址转为常用的ip端口形式
func NetAddr2IpPort(addr net.Addr) (ip string, port int) {
	switch addr := addr.(type) {
	case *net.UDPAddr:
		ip = addr.IP.String()
		port = addr.Port
	case *net.TCPAddr:
		ip = addr.IP.String()
		port = addr.Port
	case *net.IPAddr:
		ip = addr.IP.String()
	case nil:
	default:
		host, p, err := net.SplitHostPort(addr.String())
		if err != nil {
			return addr.String(), 0
		}
		ip = host
		port, _ = net.LookupPort(addr.Network(), p)
	}
	return
}

// HostOf 返回地址中的主机部分，用于按来源IP做统计
// IPv4映射的IPv6地址会被规整为IPv4形式
func HostOf(addr net.Addr) string {
	ip, _ := NetAddr2IpPort(addr)
	if parsed := net.ParseIP(ip); parsed != nil {
		if v4 := parsed.To4(); v4 != nil {
			return v4.String()
		}
		return parsed.String()
	}
	return ip
}

// ParseTrustedProxies 解析可信代理列表，每一项可以是单个IP或者CIDR
func ParseTrustedProxies(items []string) ([]*net.IPNet, error) {
	nets := make([]*net.IPNet, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if !strings.Contains(item, "/") {
			ip := net.ParseIP(item)
			if ip == nil {
				return nil, fmt.Errorf("invalid proxy address %q", item)
			}
			bits := 128
			if v4 := ip.To4(); v4 != nil {
				ip, bits = v4, 32
			}
			nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, n, err := net.ParseCIDR(item)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy cidr %q: %w", item, err)
		}
		nets = append(nets, n)
	}
	return nets, nil
}

func contains(nets []*net.IPNet, ip net.IP) bool {
	if ip == nil {
		return false
	}
	for _, n := range nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// RealIP 对端是可信代理时才使用X-Forwarded-For/X-Real-IP，否则返回连接的对端地址
// X-Forwarded-For从右往左取第一个不是可信代理的地址
func RealIP(req *http.Request, trusted []*net.IPNet) net.Addr {
	host, p, _ := net.SplitHostPort(req.RemoteAddr)
	port, _ := net.LookupPort("tcp", p)
	peer := &net.TCPAddr{IP: net.ParseIP(host), Port: port}
	if !contains(trusted, peer.IP) {
		return peer
	}
	if chain := req.Header.Get("X-Forwarded-For"); chain != "" {
		hops := strings.Split(chain, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			ip := net.ParseIP(strings.TrimSpace(hops[i]))
			if ip == nil {
				return peer
			}
			if i == 0 || !contains(trusted, ip) {
				return &net.TCPAddr{IP: ip}
			}
		}
	}
	if ip := net.ParseIP(strings.TrimSpace(req.Header.Get("X-Real-IP"))); ip != nil {
		return &net.TCPAddr{IP: ip}
	}
	return peer
}
