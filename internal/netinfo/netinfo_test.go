package netinfo

import (
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func stubAddrs(t *testing.T, table map[string][]net.Addr) {
	t.Helper()
	orig := interfaceAddrs
	interfaceAddrs = func(name string) ([]net.Addr, error) {
		addrs, ok := table[name]
		if !ok {
			return nil, errors.New("no such interface")
		}
		return addrs, nil
	}
	t.Cleanup(func() { interfaceAddrs = orig })
}

func ipNet(s string) *net.IPNet {
	ip, n, _ := net.ParseCIDR(s)
	n.IP = ip
	return n
}

func TestAccessURLs(t *testing.T) {
	stubAddrs(t, map[string][]net.Addr{
		"wlan0": {ipNet("fe80::1/64"), ipNet("192.168.1.20/24")},
		"eth0":  {ipNet("10.0.0.5/8")},
	})

	assert.Equal(t, "192.168.1.20", IPv4("wlan0"))
	assert.Equal(t, []string{
		"http://192.168.1.20:9000/",
		"http://10.0.0.5:9000/",
	}, AccessURLs(9000))
}

func TestAccessURLsFallsBackToLocalhost(t *testing.T) {
	stubAddrs(t, map[string][]net.Addr{
		"eth0": {ipNet("fe80::2/64")},
	})

	assert.Equal(t, "", IPv4("eth0"))
	assert.Equal(t, "", IPv4("wlan0"))
	assert.Equal(t, []string{"http://localhost:8080/"}, AccessURLs(8080))
}
