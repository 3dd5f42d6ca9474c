package sampler

import (
	"testing"

	"github.com/mars-low/scoppy-pico/internal/interfaces"
	"github.com/mars-low/scoppy-pico/internal/model"
	"github.com/stretchr/testify/require"
)

type fakeSampleSource struct {
	dst    [2][]byte
	onDone func(int)
}

func (f *fakeSampleSource) ConfigureScope(clkdivInt uint32, enabledChannels uint8) error { return nil }
func (f *fakeSampleSource) ConfigureLogic(clkdivInt uint32, triggerGPIO uint8, edge interfaces.TriggerEdge) error {
	return nil
}
func (f *fakeSampleSource) Start(chunkSize int, onChunkDone func(int)) error {
	f.onDone = onChunkDone
	return nil
}
func (f *fakeSampleSource) Rearm(chunkIdx int, dst []byte, redirect bool) error {
	f.dst[chunkIdx] = dst
	return nil
}
func (f *fakeSampleSource) Stop() error { return nil }
func (f *fakeSampleSource) HardwareTriggered() (bool, int, uint32, bool) {
	return false, 0, 0, false
}

func (f *fakeSampleSource) completeChunk(idx int, fill byte) {
	for i := range f.dst[idx] {
		f.dst[idx][i] = fill
	}
	f.onDone(idx)
}

// Scenario-style coverage of spec.md §4.6: with TriggerModeNone, the
// cycle skips straight through trigger search and emits the most
// recent num_bytes_to_send window with TriggerIndex == -2.
func TestNonContinuousSampler_NoTriggerCycleEmitsFullWindow(t *testing.T) {
	params := model.SamplingParams{
		BytesPerSample:      1,
		ChunkSize:           4,
		NumBytesToSend:      16,
		MinPreTriggerBytes:  8,
		MinPostTriggerBytes: 8,
		TriggerMode:         model.TriggerModeNone,
	}
	src := &fakeSampleSource{}
	s := NewNonContinuousSampler(src, params, nil)
	require.NoError(t, s.startCycle())

	for i := 0; i < 30 && len(s.frames) == 0; i++ {
		s.mu.Lock()
		locked := s.bufferLocked
		s.mu.Unlock()

		if !locked {
			src.completeChunk(i%2, byte(i+1))
		} else {
			src.completeChunk(0, 0)
			src.completeChunk(1, 0)
		}
		s.step()
	}

	require.Len(t, s.frames, 1)
	e := <-s.frames
	require.Len(t, e.Data, 16)
	require.Equal(t, int32(-2), e.TriggerIndex)
	require.True(t, e.NewWavepoint)
	require.True(t, e.LastInFrame)
}

// Property 12 (spec.md §8): a SINGLE-run-mode cycle emits exactly one
// frame and then idles rather than starting another cycle, signaling
// completion via Done.
func TestNonContinuousSampler_SingleRunModeStopsAfterOneCycle(t *testing.T) {
	params := model.SamplingParams{
		BytesPerSample:      1,
		ChunkSize:           4,
		NumBytesToSend:      16,
		MinPreTriggerBytes:  8,
		MinPostTriggerBytes: 8,
		TriggerMode:         model.TriggerModeNone,
		RunMode:             model.RunModeSingle,
	}
	src := &fakeSampleSource{}
	s := NewNonContinuousSampler(src, params, nil)
	require.NoError(t, s.startCycle())

	for i := 0; i < 30 && len(s.frames) == 0; i++ {
		s.mu.Lock()
		locked := s.bufferLocked
		s.mu.Unlock()

		if !locked {
			src.completeChunk(i%2, byte(i+1))
		} else {
			src.completeChunk(0, 0)
			src.completeChunk(1, 0)
		}
		s.step()
	}

	require.Len(t, s.frames, 1)

	select {
	case <-s.Done():
	default:
		t.Fatal("expected Done to be closed after a SINGLE-mode cycle")
	}

	s.mu.Lock()
	idleState := s.state
	s.mu.Unlock()
	require.Equal(t, stateIdle, idleState)
}

func TestMaxTriggerChunksFor_NormalIsUnbounded(t *testing.T) {
	n := maxTriggerChunksFor(model.SamplingParams{TriggerMode: model.TriggerModeNormal})
	require.Greater(t, n, 1<<20)
}

func TestMaxTriggerChunksFor_AutoIsAtLeastOne(t *testing.T) {
	n := maxTriggerChunksFor(model.SamplingParams{TriggerMode: model.TriggerModeAuto, RealSRPerChannel: 1, ChunkSize: 4096})
	require.Equal(t, 1, n)
}

func TestMaxTriggerChunksFor_NoneIsZero(t *testing.T) {
	n := maxTriggerChunksFor(model.SamplingParams{TriggerMode: model.TriggerModeNone})
	require.Equal(t, 0, n)
}
