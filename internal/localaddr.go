package internal

import (
	"errors"
	"net"
	"sync"
	"time"
)

const DefaultLocalAddrTTL = 5 * time.Second

// AddrCache caches this devices LAN IPv4 address. The address is refreshed
// once older than the TTL, so after a network change the cached address may
// be stale for up to one TTL.
//
// Note this is thread safe.
type AddrCache struct {
	addr    string
	fetched time.Time
	// mu protects the above fields.
	mu sync.Mutex

	ttl time.Duration
	// pinned addresses are never refreshed.
	pinned  bool
	resolve func() (string, error)
	now     func() time.Time
}

func NewAddrCache(ttl time.Duration) *AddrCache {
	if ttl <= 0 {
		ttl = DefaultLocalAddrTTL
	}
	return &AddrCache{
		ttl:     ttl,
		resolve: interfaceAddr,
		now:     time.Now,
	}
}

// NewStaticAddrCache returns a cache that always returns addr.
func NewStaticAddrCache(addr string) *AddrCache {
	return &AddrCache{
		addr:   addr,
		pinned: true,
		now:    time.Now,
	}
}

// Addr returns the cached address, refreshing it if stale. If the refresh
// fails the previous address is kept.
func (c *AddrCache) Addr() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pinned {
		return c.addr
	}
	now := c.now()
	if c.fetched.IsZero() || now.Sub(c.fetched) >= c.ttl {
		if addr, err := c.resolve(); err == nil {
			c.addr = addr
		}
		c.fetched = now
	}
	return c.addr
}

// Matches returns true if addr is this devices address.
func (c *AddrCache) Matches(addr string) bool {
	local := c.Addr()
	return local != "" && local == addr
}

// Reset forces the next lookup to refresh the address.
func (c *AddrCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.fetched = time.Time{}
}

// interfaceAddr returns the first IPv4 address of an up, non-loopback
// interface.
func interfaceAddr() (string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "", err
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			if ip := ipNet.IP.To4(); ip != nil {
				return ip.String(), nil
			}
		}
	}
	return "", errors.New("no network interface with an ipv4 address")
}
