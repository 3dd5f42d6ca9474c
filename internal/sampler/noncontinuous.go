package sampler

import (
	"context"
	"sync"
	"time"

	"github.com/mars-low/scoppy-pico/internal/constants"
	"github.com/mars-low/scoppy-pico/internal/interfaces"
	"github.com/mars-low/scoppy-pico/internal/model"
	"github.com/mars-low/scoppy-pico/internal/ring"
)

// cycleState is one step of the per-acquisition-cycle state machine
// (spec.md §4.6).
type cycleState int

const (
	stateIdle cycleState = iota
	statePrefill
	stateTrigSearch
	statePostfill
	stateLock
	stateEmit
)

// Emission is one outgoing SAMPLES payload fragment produced by a
// completed acquisition cycle. A cycle that needs more than one frame
// (its window exceeds the outgoing payload cap) yields several
// Emissions; only the first carries NewWavepoint, only the last
// carries LastInFrame (spec.md §4.6 Emission).
type Emission struct {
	Data            []byte
	TriggerIndex    int32 // sample index of the trigger within the full window, -2 if not found
	NewWavepoint    bool
	LastInFrame     bool
}

// NonContinuousSampler runs the DMA-chained, triggered acquisition
// state machine (spec.md §4.6). Two simulated DMA channels ping-pong
// into a ChunkedRing; a software or hardware trigger search locates
// the triggering sample; a final copy phase emits one or more framed
// payloads.
type NonContinuousSampler struct {
	source  interfaces.SampleSource
	buf     *ring.ChunkedRing
	params  model.SamplingParams
	logger  interfaces.Logger
	scratch []byte

	mu             sync.Mutex
	state          cycleState
	waitingForPre  bool
	waitingForPost bool
	bufferLocked   bool
	reservedSlot   [2]int
	channelStopped [2]bool

	triggerAddr            int32
	triggerQueue           []int
	triggerChunksProcessed int
	maxTriggerChunks       int
	prevByteValid          bool
	prevByte               uint8

	frames     chan Emission
	stopCh     chan struct{}
	doneCh     chan struct{}
	singleDone chan struct{}
	doneOnce   sync.Once
}

// NewNonContinuousSampler allocates the ChunkedRing (sized to hold at
// least two cycles' worth of bytes, chunk-aligned) and wires it to
// source.
func NewNonContinuousSampler(source interfaces.SampleSource, params model.SamplingParams, logger interfaces.Logger) *NonContinuousSampler {
	chunkSize := int(params.ChunkSize)
	if chunkSize <= 0 {
		chunkSize = int(params.BytesPerSample)
		if chunkSize <= 0 {
			chunkSize = 1
		}
	}
	numChunks := (int(params.NumBytesToSend)*2)/chunkSize + 4
	arrSize := numChunks * chunkSize

	return &NonContinuousSampler{
		source:  source,
		buf:     ring.NewChunkedRing(arrSize, chunkSize),
		params:  params,
		logger:  logger,
		scratch: make([]byte, chunkSize),
		frames:     make(chan Emission, 4),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		singleDone: make(chan struct{}),
	}
}

// Frames returns the channel of completed acquisition-cycle emissions.
func (s *NonContinuousSampler) Frames() <-chan Emission { return s.frames }

// Run drives repeated acquisition cycles until ctx is cancelled or Stop
// is called.
func (s *NonContinuousSampler) Run(ctx context.Context) error {
	defer close(s.doneCh)

	if err := s.startCycle(); err != nil {
		return err
	}
	defer func() { _ = s.source.Stop() }()

	ticker := time.NewTicker(200 * time.Microsecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.stopCh:
			return nil
		case <-ticker.C:
			s.step()
		}
	}
}

// Stop halts the acquisition loop and waits for it to exit.
func (s *NonContinuousSampler) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

// startCycle implements the Startup sequence (spec.md §4.6 Startup):
// claim two chained DMA channels, prime each with a reserved chunk,
// and enter PREFILL.
func (s *NonContinuousSampler) startCycle() error {
	s.mu.Lock()
	s.buf.Clear()
	s.waitingForPre = true
	s.waitingForPost = false
	s.bufferLocked = false
	s.channelStopped = [2]bool{}
	s.triggerAddr = ring.NoAddr
	s.triggerQueue = nil
	s.triggerChunksProcessed = 0
	s.maxTriggerChunks = maxTriggerChunksFor(s.params)
	s.prevByteValid = false
	for i := 0; i < 2; i++ {
		s.reservedSlot[i] = s.buf.Reserve()
	}
	s.state = statePrefill
	s.mu.Unlock()

	chunkSize := s.buf.ChunkSize()
	for i := 0; i < 2; i++ {
		addr := s.reservedSlot[i]
		if err := s.source.Rearm(i, s.buf.Buffer()[addr:addr+chunkSize], false); err != nil {
			return err
		}
	}
	return s.source.Start(chunkSize, s.onChunkDone)
}

// maxTriggerChunksFor implements the max_trigger_chunks formula (spec.md
// §4.6 Software trigger search): infinite for NORMAL, a rate-derived
// budget (at least 1) for AUTO, irrelevant (0) for NONE.
func maxTriggerChunksFor(p model.SamplingParams) int {
	switch p.TriggerMode {
	case model.TriggerModeNormal:
		return 1 << 30
	case model.TriggerModeAuto:
		chunkSize := int(p.ChunkSize)
		if chunkSize <= 0 {
			chunkSize = 1
		}
		n := int(0.15 * float64(p.RealSRPerChannel) / float64(chunkSize))
		if n < 1 {
			n = 1
		}
		return n
	default:
		return 0
	}
}

// onChunkDone is the DMA-completion handler invoked by source for
// whichever of the two channels just finished a transfer (spec.md §4.6
// DMA handler invariants). It is not reentrant; callers must serialize
// invocations per channel, which the simulated source does by running
// one completion at a time.
func (s *NonContinuousSampler) onChunkDone(chunkIdx int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.bufferLocked {
		_ = s.source.Rearm(chunkIdx, s.scratch, true)
		s.channelStopped[chunkIdx] = true
		return
	}

	prev := s.reservedSlot[chunkIdx]
	if prev != ring.NoAddr {
		s.buf.Unreserve(prev)
		if s.state == stateTrigSearch && s.params.TriggerMode != model.TriggerModeNone {
			s.triggerQueue = append(s.triggerQueue, prev)
		}
	}

	addr := s.buf.Reserve()
	s.reservedSlot[chunkIdx] = addr
	chunkSize := s.buf.ChunkSize()
	_ = s.source.Rearm(chunkIdx, s.buf.Buffer()[addr:addr+chunkSize], false)

	s.updatePredicatesLocked()
}

func (s *NonContinuousSampler) updatePredicatesLocked() {
	if s.waitingForPre && s.buf.Size() >= int(s.params.MinPreTriggerBytes) {
		s.waitingForPre = false
	}
	if s.triggerAddr >= 0 {
		idx := s.buf.Index(int(s.triggerAddr))
		if idx >= 0 && s.buf.Size()-idx >= int(s.params.MinPostTriggerBytes) {
			s.waitingForPost = false
		}
	} else if s.params.TriggerMode == model.TriggerModeNone && s.buf.Size() >= int(s.params.NumBytesToSend) {
		s.waitingForPost = false
	}
}

// step advances the orchestrator state machine by one poll tick,
// standing in for the trigger-search task and the interrupt-driven
// LOCK/EMIT transitions of the original firmware.
func (s *NonContinuousSampler) step() {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	switch state {
	case statePrefill:
		s.mu.Lock()
		ready := !s.waitingForPre
		if ready {
			s.state = stateTrigSearch
		}
		s.mu.Unlock()

	case stateTrigSearch:
		if s.params.IsLogicMode {
			s.pollHardwareTrigger()
		} else if s.params.TriggerMode == model.TriggerModeNone {
			s.mu.Lock()
			s.triggerAddr = -2
			s.waitingForPost = true
			s.updatePredicatesLocked()
			if !s.waitingForPost {
				s.state = statePostfill
			}
			s.mu.Unlock()
		} else {
			s.pollSoftwareTrigger()
		}

	case statePostfill:
		s.mu.Lock()
		if !s.waitingForPost {
			s.bufferLocked = true
			s.state = stateLock
		}
		s.mu.Unlock()

	case stateLock:
		s.mu.Lock()
		if s.channelStopped[0] && s.channelStopped[1] {
			s.state = stateEmit
		}
		s.mu.Unlock()

	case stateEmit:
		emissions := s.emit()
		for _, e := range emissions {
			s.frames <- e
		}
		if s.params.RunMode == model.RunModeSingle {
			// Property 12 (spec.md §8): SINGLE mode runs exactly one
			// acquisition and then idles; it's the Supervisor's job to
			// notice Done and transition run_mode to STOP.
			s.mu.Lock()
			s.state = stateIdle
			s.mu.Unlock()
			s.signalDone()
			return
		}
		if err := s.startCycle(); err != nil && s.logger != nil {
			s.logger.Errorf("non-continuous sampler: restart cycle: %v", err)
		}
	}
}

// signalDone closes the Done channel exactly once, for the SINGLE-mode
// completion signal Core B forwards to the Supervisor.
func (s *NonContinuousSampler) signalDone() {
	s.doneOnce.Do(func() { close(s.singleDone) })
}

// Done reports, for a SINGLE-run-mode sampler, when its one
// acquisition cycle has finished emitting (spec.md §8 property 12).
func (s *NonContinuousSampler) Done() <-chan struct{} { return s.singleDone }

// pollSoftwareTrigger dequeues one completed chunk and scans it for a
// level-crossing on the trigger channel (spec.md §4.6 Software trigger
// search).
func (s *NonContinuousSampler) pollSoftwareTrigger() {
	s.mu.Lock()
	if len(s.triggerQueue) == 0 {
		s.mu.Unlock()
		return
	}
	addr := s.triggerQueue[0]
	s.triggerQueue = s.triggerQueue[1:]
	s.triggerChunksProcessed++

	chunkSize := s.buf.ChunkSize()
	bps := int(s.params.BytesPerSample)
	chIdx := int(s.params.TriggerChannel)
	level := s.params.TriggerLevel
	rising := s.params.TriggerType == interfaces.TriggerEdgeRising
	buf := s.buf.Buffer()

	triggered := false
	triggerSampleAddr := 0
	for off := 0; off+chIdx < chunkSize; off += bps {
		curr := buf[addr+off+chIdx]
		if s.prevByteValid {
			if rising && s.prevByte < level && curr >= level {
				triggered = true
			} else if !rising && s.prevByte > level && curr <= level {
				triggered = true
			}
		}
		s.prevByte = curr
		s.prevByteValid = true
		if triggered {
			triggerSampleAddr = addr + off
			break
		}
	}

	if triggered {
		s.triggerAddr = int32(triggerSampleAddr)
		s.updatePredicatesLocked()
		s.state = statePostfill
	} else if s.triggerChunksProcessed >= s.maxTriggerChunks {
		s.triggerAddr = -2
		s.waitingForPost = false
		s.state = statePostfill
	}
	s.mu.Unlock()
}

// pollHardwareTrigger checks the logic-mode PIO trigger IRQ via the
// simulated source and, on detection, derives the triggering byte
// address with the fixed pipeline-lag compensation (spec.md §4.6
// Hardware trigger (logic mode)).
func (s *NonContinuousSampler) pollHardwareTrigger() {
	triggered, chunkIdx, transCount, ok := s.source.HardwareTriggered()
	if !ok || !triggered {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.triggerAddr != ring.NoAddr {
		return
	}

	rate := s.params.RealSRPerChannel
	lag := constants.HardwareTriggerLagMinSamples
	if derived := int(uint64(rate) * constants.HardwareTriggerLagNumerator / constants.HardwareTriggerLagDenom); derived > lag {
		lag = derived
	}

	base := s.reservedSlot[chunkIdx]
	offset := int(transCount) - lag
	if offset < 0 {
		offset = 0
	}
	if offset >= s.buf.ChunkSize() {
		offset = s.buf.ChunkSize() - 1
	}

	s.triggerAddr = int32(base + offset)
	s.updatePredicatesLocked()
	s.state = statePostfill
}

// emit implements spec.md §4.6 Emission: locate the trigger (or fall
// back to end-of-ring), copy the pre/post window, and split it into
// frames no larger than the outgoing payload cap.
func (s *NonContinuousSampler) emit() []Emission {
	s.mu.Lock()
	triggerAddr := s.triggerAddr
	total := int(s.params.NumBytesToSend)
	minPre := int(s.params.MinPreTriggerBytes)
	bps := int(s.params.BytesPerSample)
	s.mu.Unlock()

	data := make([]byte, total)
	var triggerSampleIdx int32

	if triggerAddr == ring.NoAddr || triggerAddr == -2 {
		full := make([]byte, s.buf.Size())
		n := s.buf.ReadAll(full)
		full = full[:n]
		if len(full) > total {
			full = full[len(full)-total:]
		}
		data = full
		triggerSampleIdx = -2
	} else {
		n := s.buf.ReadFrom(int(triggerAddr), -minPre, data, total)
		data = data[:n]
		if bps > 0 {
			triggerSampleIdx = int32(minPre / bps)
		}
	}

	maxPayload := constants.MaxOutgoingPayload
	maxPayload -= maxPayload % bpsOrOne(bps)
	if maxPayload <= 0 || len(data) <= maxPayload {
		return []Emission{{
			Data:         data,
			TriggerIndex: triggerSampleIdx,
			NewWavepoint: true,
			LastInFrame:  true,
		}}
	}

	var out []Emission
	for off := 0; off < len(data); off += maxPayload {
		end := off + maxPayload
		if end > len(data) {
			end = len(data)
		}
		out = append(out, Emission{
			Data:         data[off:end],
			TriggerIndex: triggerSampleIdx,
			NewWavepoint: off == 0,
			LastInFrame:  end == len(data),
		})
	}
	return out
}

func bpsOrOne(bps int) int {
	if bps <= 0 {
		return 1
	}
	return bps
}
