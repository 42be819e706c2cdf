package internal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFailureDetector(t *testing.T) {
	tests := []struct {
		Name           string
		ExpectedStatus PeerStatus
		Arrivals       []int64
		Now            int64
		SampleSize     int
	}{
		{
			Name:           "unknown peer",
			ExpectedStatus: PeerStatusUnknown,
			Now:            200,
			SampleSize:     10,
		},
		{
			Name:           "bootstrap status",
			ExpectedStatus: PeerStatusUp,
			Arrivals:       []int64{100},
			Now:            200,
			SampleSize:     10,
		},
		{
			Name:           "peer up",
			ExpectedStatus: PeerStatusUp,
			Arrivals:       []int64{100, 200, 300, 400, 500, 600},
			Now:            700,
			SampleSize:     5,
		},
		{
			Name:           "peer down",
			ExpectedStatus: PeerStatusDown,
			Arrivals:       []int64{100, 200, 300, 400, 500, 600},
			Now:            3000,
			SampleSize:     5,
		},
	}
	for _, test := range tests {
		t.Run(test.Name, func(t *testing.T) {
			fd := NewFailureDetector(time.Second, test.SampleSize, 8.0)
			for _, ts := range test.Arrivals {
				fd.Report("10.0.0.2", time.UnixMilli(ts))
			}

			assert.Equal(
				t,
				test.ExpectedStatus,
				fd.PeerStatus("10.0.0.2", time.UnixMilli(test.Now)),
			)
		})
	}
}

func TestFailureDetector_Convicted(t *testing.T) {
	fd := NewFailureDetector(time.Second, 5, 8.0)
	for _, ts := range []int64{100, 200, 300, 400, 500, 600} {
		fd.Report("10.0.0.2", time.UnixMilli(ts))
	}
	for _, ts := range []int64{2800, 2900} {
		fd.Report("10.0.0.3", time.UnixMilli(ts))
	}

	assert.Equal(t, []string{"10.0.0.2"}, fd.Convicted(time.UnixMilli(3000)))

	fd.RemovePeer("10.0.0.2")
	assert.Empty(t, fd.Convicted(time.UnixMilli(3000)))
}
