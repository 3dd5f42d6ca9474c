package sampler

import (
	"sync/atomic"
	"time"

	"github.com/mars-low/scoppy-pico/internal/interfaces"
	"github.com/mars-low/scoppy-pico/internal/model"
	"github.com/mars-low/scoppy-pico/internal/ring"
)

// ContinuousSampler streams samples at low rates without DMA, handing
// Core B's loop a new frame roughly every 100ms (spec.md §4.5). A timer-driven
// goroutine stands in for the teacher's repeating hardware timer IRQ.
type ContinuousSampler struct {
	reader interfaces.ADCReader
	params model.SamplingParams
	logger interfaces.Logger

	active  atomic.Pointer[ring.SimpleRing]
	dormant atomic.Pointer[ring.SimpleRing]

	swapRequested atomic.Bool
	firstFrame    atomic.Bool

	stop chan struct{}
	done chan struct{}
}

// ringCapacity is the power-of-two SimpleRing size; NumBytesToSend is
// already a multiple of bytes_per_sample but not necessarily a power of
// two, so it is rounded up.
func ringCapacity(numBytes uint32) uint32 {
	cap := uint32(1)
	for cap < numBytes {
		cap <<= 1
	}
	if cap == 0 {
		cap = 1
	}
	return cap
}

// NewContinuousSampler constructs a sampler over two freshly allocated
// SimpleRing buffers sized from params.NumBytesToSend.
func NewContinuousSampler(reader interfaces.ADCReader, params model.SamplingParams, logger interfaces.Logger) *ContinuousSampler {
	cap := ringCapacity(params.NumBytesToSend)
	s := &ContinuousSampler{
		reader: reader,
		params: params,
		logger: logger,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	s.active.Store(ring.NewSimpleRing(cap))
	s.dormant.Store(ring.NewSimpleRing(cap))
	s.firstFrame.Store(true)
	return s
}

// Start begins the sampling timer loop in its own goroutine.
func (s *ContinuousSampler) Start() {
	go s.loop()
}

// Stop halts the sampling loop and waits for it to exit.
func (s *ContinuousSampler) Stop() {
	close(s.stop)
	<-s.done
}

func (s *ContinuousSampler) loop() {
	defer close(s.done)

	rate := s.params.RealSRPerChannel
	if rate == 0 {
		rate = 1
	}
	period := time.Second / time.Duration(rate)
	if period <= 0 {
		period = time.Microsecond
	}

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

// tick is the equivalent of one timer-IRQ firing: read one conversion per
// enabled channel, push it into the active ring, then service a pending
// swap request (spec.md §4.5).
func (s *ContinuousSampler) tick() {
	active := s.active.Load()
	for ch := 0; ch < len(s.params.Channels); ch++ {
		if !s.params.Channels[ch].Enabled {
			continue
		}
		val, err := s.reader.ReadChannel(ch)
		if err != nil {
			if s.logger != nil {
				s.logger.Warnf("continuous sampler: read channel %d: %v", ch, err)
			}
			continue
		}
		active.Put(val)
	}

	if s.swapRequested.Load() {
		newDormant := s.active.Swap(s.dormant.Load())
		s.dormant.Store(newDormant)
		if newActive := s.active.Load(); !newActive.IsEmpty() {
			if s.logger != nil {
				s.logger.Warnf("continuous sampler: dormant ring not drained before swap")
			}
			newActive.Clear()
		}
		s.swapRequested.Store(false)
	}
}

// Drain is called roughly every 100ms by Core B's loop (runCoreB in the
// root package), not by the Supervisor: it requests a
// swap, waits for the handler to service it, then drains the ring that
// just became dormant into dest (spec.md §4.5).
func (s *ContinuousSampler) Drain(dest []byte) (n int, newWavepoint bool) {
	s.swapRequested.Store(true)
	for s.swapRequested.Load() {
		time.Sleep(time.Microsecond)
	}

	d := s.dormant.Load()
	newWavepoint = s.firstFrame.Swap(false) || d.HasDiscardedSamples()
	count := d.ReadAll(dest)
	d.ClearDiscardedFlag()
	return int(count), newWavepoint
}
