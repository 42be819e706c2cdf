package peerlink

import (
	"fmt"
	"sort"
	"sync"

	"github.com/andydunstall/peerlink/internal"
)

// Session tracks the players in a game session, keyed by address, and makes
// sure each has a unique display name. Reset it when a new game starts.
//
// This is thread safe.
type Session struct {
	// names maps player address to display name.
	names map[string]string
	// taken contains the display names in use.
	taken map[string]struct{}
	// mu protects the above fields.
	mu sync.Mutex
}

func NewSession() *Session {
	return &Session{
		names: make(map[string]string),
		taken: make(map[string]struct{}),
	}
}

// ReserveName registers the player at addr with the given display name. If
// another player already uses the name, a numbered variant such as "bob (2)"
// is reserved instead. Returns the reserved name.
//
// If the player already has a name it is released first.
func (s *Session) ReserveName(addr string, name string) (string, error) {
	if name == "" {
		return "", internal.ErrEmptyDisplayName
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if current, ok := s.names[addr]; ok {
		if current == name {
			return name, nil
		}
		delete(s.taken, current)
	}

	reserved := name
	for i := 2; ; i++ {
		if _, ok := s.taken[reserved]; !ok {
			break
		}
		reserved = fmt.Sprintf("%s (%d)", name, i)
	}

	s.names[addr] = reserved
	s.taken[reserved] = struct{}{}
	return reserved, nil
}

// Release removes the player at addr, freeing its name.
func (s *Session) Release(addr string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if name, ok := s.names[addr]; ok {
		delete(s.taken, name)
		delete(s.names, addr)
	}
}

func (s *Session) Name(addr string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name, ok := s.names[addr]
	return name, ok
}

// Identity returns the identity of the player at addr.
func (s *Session) Identity(addr string) (*Identity, bool) {
	name, ok := s.Name(addr)
	if !ok {
		return nil, false
	}
	return &Identity{
		Addr: addr,
		Name: name,
	}, true
}

// Players returns the identities of the players, sorted by address.
func (s *Session) Players() []Identity {
	s.mu.Lock()
	defer s.mu.Unlock()

	players := make([]Identity, 0, len(s.names))
	for addr, name := range s.names {
		players = append(players, Identity{
			Addr: addr,
			Name: name,
		})
	}
	sort.Slice(players, func(i, j int) bool {
		return players[i].Addr < players[j].Addr
	})
	return players
}

func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.names)
}

// Reset removes every player.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.names = make(map[string]string)
	s.taken = make(map[string]struct{})
}
