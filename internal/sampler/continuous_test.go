package sampler

import (
	"testing"
	"time"

	"github.com/mars-low/scoppy-pico/internal/model"
	"github.com/stretchr/testify/require"
)

type fakeADCReader struct {
	val uint8
}

func (f *fakeADCReader) ReadChannel(ch int) (uint8, error) {
	f.val++
	return f.val, nil
}

func TestContinuousSampler_DrainProducesBytesAndFirstWavepoint(t *testing.T) {
	params := model.SamplingParams{
		RealSRPerChannel: 2000,
		NumBytesToSend:   64,
		Channels:         [8]model.Channel{{Enabled: true}},
	}
	reader := &fakeADCReader{}
	s := NewContinuousSampler(reader, params, nil)
	s.Start()
	defer s.Stop()

	time.Sleep(20 * time.Millisecond)

	dest := make([]byte, 64)
	n, newWavepoint := s.Drain(dest)

	require.True(t, newWavepoint)
	require.Greater(t, n, 0)
}

func TestRingCapacity_RoundsUpToPowerOfTwo(t *testing.T) {
	require.Equal(t, uint32(64), ringCapacity(40))
	require.Equal(t, uint32(1), ringCapacity(0))
	require.Equal(t, uint32(128), ringCapacity(128))
}
