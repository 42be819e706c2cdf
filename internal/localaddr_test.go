package internal

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAddrCache_RefreshesAfterTTL(t *testing.T) {
	now := time.Unix(1000, 0)
	addr := "192.168.1.5"
	lookups := 0

	c := NewAddrCache(5 * time.Second)
	c.now = func() time.Time {
		return now
	}
	c.resolve = func() (string, error) {
		lookups++
		return addr, nil
	}

	assert.Equal(t, "192.168.1.5", c.Addr())
	assert.True(t, c.Matches("192.168.1.5"))

	// Within the TTL the stale address is returned.
	addr = "192.168.1.6"
	now = now.Add(4 * time.Second)
	assert.Equal(t, "192.168.1.5", c.Addr())
	assert.Equal(t, 1, lookups)

	now = now.Add(time.Second)
	assert.Equal(t, "192.168.1.6", c.Addr())
	assert.Equal(t, 2, lookups)

	c.Reset()
	c.Addr()
	assert.Equal(t, 3, lookups)
}

func TestAddrCache_KeepsAddrOnFailure(t *testing.T) {
	now := time.Unix(1000, 0)
	fail := false

	c := NewAddrCache(time.Second)
	c.now = func() time.Time {
		return now
	}
	c.resolve = func() (string, error) {
		if fail {
			return "", errors.New("no network")
		}
		return "192.168.1.5", nil
	}

	assert.Equal(t, "192.168.1.5", c.Addr())

	fail = true
	now = now.Add(2 * time.Second)
	assert.Equal(t, "192.168.1.5", c.Addr())
}

func TestAddrCache_NoAddrNeverMatches(t *testing.T) {
	c := NewAddrCache(time.Second)
	c.resolve = func() (string, error) {
		return "", errors.New("no network")
	}

	assert.False(t, c.Matches(""))
}

func TestStaticAddrCache(t *testing.T) {
	c := NewStaticAddrCache("192.168.1.5")
	c.Reset()

	assert.Equal(t, "192.168.1.5", c.Addr())
	assert.True(t, c.Matches("192.168.1.5"))
	assert.False(t, c.Matches("192.168.1.6"))
}
