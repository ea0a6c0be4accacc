// Package netinfo finds the addresses the stream can be reached on.
package netinfo

import (
	"fmt"
	"net"
)

// Interfaces are checked in this order
var Interfaces = []string{"wlan0", "eth0"}

// interfaceAddrs is replaced in tests
var interfaceAddrs = func(name string) ([]net.Addr, error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil, err
	}
	return iface.Addrs()
}

// IPv4 returns the first IPv4 address of the named interface, or "" if the
// interface does not exist or has none.
func IPv4(name string) string {
	addrs, err := interfaceAddrs(name)
	if err != nil {
		return ""
	}
	for _, addr := range addrs {
		var ip net.IP
		switch a := addr.(type) {
		case *net.IPNet:
			ip = a.IP
		case *net.IPAddr:
			ip = a.IP
		}
		if ip4 := ip.To4(); ip4 != nil {
			return ip4.String()
		}
	}
	return ""
}

// AccessURLs lists http URLs for port on every known interface, falling
// back to localhost.
func AccessURLs(port int) []string {
	var urls []string
	for _, name := range Interfaces {
		if ip := IPv4(name); ip != "" {
			urls = append(urls, fmt.Sprintf("http://%s:%d/", ip, port))
		}
	}
	if len(urls) == 0 {
		urls = append(urls, fmt.Sprintf("http://localhost:%d/", port))
	}
	return urls
}
