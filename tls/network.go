package tls

import (
	"net"
	"sort"
)

// LANAddrs returns the IPv4 addresses of every interface that is up and not
// a loopback.
func LANAddrs() ([]string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	var ips []string
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		ips = append(ips, ipv4s(addrs)...)
	}
	sort.Strings(ips)
	return ips, nil
}

func ipv4s(addrs []net.Addr) []string {
	var out []string
	for _, addr := range addrs {
		var ip net.IP
		switch v := addr.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		}
		if ip != nil && ip.To4() != nil && !ip.IsLoopback() {
			out = append(out, ip.String())
		}
	}
	return out
}

// Hosts returns localhost followed by the LAN addresses. The localhost
// entries are present even when the interface listing fails.
func Hosts() ([]string, error) {
	hosts := []string{"localhost", "127.0.0.1"}
	lan, err := LANAddrs()
	return append(hosts, lan...), err
}
