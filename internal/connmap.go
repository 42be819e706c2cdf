package internal

import (
	"sort"
	"sync"
)

// connMap contains the live connections of a stream transport, keyed by
// peer IP address.
//
// Note this is thread safe.
type connMap struct {
	conns map[string]*Conn
	// mu protects the above fields. Using a RWMutex since broadcasts iterate
	// the map far more often than peers join or leave.
	mu sync.RWMutex
}

func newConnMap() *connMap {
	return &connMap{
		conns: make(map[string]*Conn),
	}
}

// Put adds the connection, returning the connection it replaced if the
// peer was already connected.
func (m *connMap) Put(c *Conn) *Conn {
	m.mu.Lock()
	defer m.mu.Unlock()

	old := m.conns[c.Addr()]
	m.conns[c.Addr()] = c
	return old
}

func (m *connMap) Get(addr string) (*Conn, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.conns[addr]
	return c, ok
}

// Remove removes the connection only if it is still the connection for its
// address, since the peer may have reconnected. Returns true if removed.
func (m *connMap) Remove(c *Conn) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conns[c.Addr()] != c {
		return false
	}
	delete(m.conns, c.Addr())
	return true
}

// Select returns the connections for the given addresses, skipping unknown
// addresses. If no addresses are given returns all connections.
func (m *connMap) Select(addrs []string) []*Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(addrs) == 0 {
		conns := make([]*Conn, 0, len(m.conns))
		for _, c := range m.conns {
			conns = append(conns, c)
		}
		return conns
	}

	conns := make([]*Conn, 0, len(addrs))
	seen := make(map[string]struct{}, len(addrs))
	for _, addr := range addrs {
		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}
		if c, ok := m.conns[addr]; ok {
			conns = append(conns, c)
		}
	}
	return conns
}

// Addrs returns the connected peer addresses in sorted order.
func (m *connMap) Addrs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	addrs := make([]string, 0, len(m.conns))
	for addr := range m.conns {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)
	return addrs
}

func (m *connMap) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.conns)
}

// Clear removes and returns all connections.
func (m *connMap) Clear() []*Conn {
	m.mu.Lock()
	defer m.mu.Unlock()

	conns := make([]*Conn, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.conns = make(map[string]*Conn)
	return conns
}
