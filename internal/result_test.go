package internal

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResults_Err(t *testing.T) {
	results := Results{
		{Addr: "10.0.0.2", Len: 10},
		{Addr: "10.0.0.3", Len: 10, Err: errors.New("unreachable")},
		{Addr: "10.0.0.4", Len: 10, Err: errors.New("unreachable")},
	}

	assert.Equal(t, 2, results.Failed())
	err := results.Err()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "10.0.0.3: unreachable")
	assert.Contains(t, err.Error(), "10.0.0.4: unreachable")

	assert.Equal(t, "sent 10 bytes to 10.0.0.2", results[0].String())
	assert.Equal(t, "failed to send 10 bytes to 10.0.0.3: unreachable", results[1].String())
}

func TestResults_AllOK(t *testing.T) {
	results := Results{
		{Addr: "10.0.0.2", Len: 10},
	}

	assert.NoError(t, results.Err())
	assert.Equal(t, 0, results.Failed())
}
