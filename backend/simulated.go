// Package backend provides a simulated acquisition backend: synthetic
// ADC/PIO sample generation and board identity, standing in for the
// RP2040 hardware this firmware core would otherwise drive (spec.md
// §1's explicit Non-goal: real hardware I/O is out of scope for this
// module, so cmd/scoppy-sim needs something to plug into
// interfaces.SampleSource/ADCReader/BoardIdentity instead).
//
// Grounded on the teacher's backend/mem.go: a self-contained, locked,
// in-memory Backend implementation existing purely so the public API
// has something concrete to drive in tests and examples. Channel
// generation here replaces sharded byte storage with sharded waveform
// phase state — this domain's equivalent of "the data a backend
// holds."
package backend

import (
	"math"
	"sync"
	"time"

	"github.com/mars-low/scoppy-pico/internal/interfaces"
)

// SimulatedSampleSource drives DMA-chained chunk completions the way
// a real ADC/PIO + DMA pairing would (spec.md §4.6): a background
// goroutine "converts" at a rate derived from ClkdivInt and calls
// onChunkDone whenever a destination buffer fills, matching
// interfaces.SampleSource's contract.
type SimulatedSampleSource struct {
	mu sync.Mutex

	clkdivInt       uint32
	enabledChannels uint8
	isLogic         bool
	triggerGPIO     uint8
	edge            interfaces.TriggerEdge

	chunkSize   int
	onChunkDone func(chunkIdx int)
	dest        [2][]byte
	redirect    [2]bool
	phase       [8]float64

	hwTriggered  bool
	hwChunkIdx   int
	hwTransCount uint32
	hwArmed      bool
	chunksWritten int

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewSimulatedSampleSource returns an idle SimulatedSampleSource.
func NewSimulatedSampleSource() *SimulatedSampleSource {
	return &SimulatedSampleSource{}
}

// ConfigureScope implements interfaces.SampleSource.
func (s *SimulatedSampleSource) ConfigureScope(clkdivInt uint32, enabledChannels uint8) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clkdivInt = clkdivInt
	s.enabledChannels = enabledChannels
	s.isLogic = false
	return nil
}

// ConfigureLogic implements interfaces.SampleSource.
func (s *SimulatedSampleSource) ConfigureLogic(clkdivInt uint32, triggerGPIO uint8, edge interfaces.TriggerEdge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clkdivInt = clkdivInt
	s.triggerGPIO = triggerGPIO
	s.edge = edge
	s.isLogic = true
	return nil
}

// Start implements interfaces.SampleSource: it launches the
// conversion-timer goroutine that periodically fills whichever
// destination buffer Rearm most recently supplied.
func (s *SimulatedSampleSource) Start(chunkSize int, onChunkDone func(chunkIdx int)) error {
	s.mu.Lock()
	s.chunkSize = chunkSize
	s.onChunkDone = onChunkDone
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.hwArmed = true
	s.chunksWritten = 0
	s.mu.Unlock()

	go s.loop()
	return nil
}

// Rearm implements interfaces.SampleSource.
func (s *SimulatedSampleSource) Rearm(chunkIdx int, dst []byte, redirect bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dest[chunkIdx] = dst
	s.redirect[chunkIdx] = redirect
	return nil
}

// Stop implements interfaces.SampleSource.
func (s *SimulatedSampleSource) Stop() error {
	s.mu.Lock()
	stopCh := s.stopCh
	s.mu.Unlock()
	if stopCh == nil {
		return nil
	}
	close(stopCh)
	<-s.doneCh
	return nil
}

// HardwareTriggered implements interfaces.SampleSource: it reports a
// one-shot simulated PIO trigger IRQ roughly a fixed number of chunks
// into logic-mode acquisition, so NonContinuousSampler's hardware
// trigger path has something to exercise.
func (s *SimulatedSampleSource) HardwareTriggered() (triggered bool, chunkIdx int, transCount uint32, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hwTriggered {
		return false, 0, 0, true
	}
	s.hwTriggered = false
	return true, s.hwChunkIdx, s.hwTransCount, true
}

// conversionPeriod derives a simulated per-chunk fill period from
// ClkdivInt so faster-clocked configurations visibly fill sooner, the
// way a real higher sample rate would. The constant keeps simulated
// acquisitions fast enough for interactive and test use.
func (s *SimulatedSampleSource) conversionPeriod() time.Duration {
	divider := s.clkdivInt + 1
	period := time.Duration(divider) * time.Microsecond / 4
	if period < 200*time.Microsecond {
		period = 200 * time.Microsecond
	}
	if period > 20*time.Millisecond {
		period = 20 * time.Millisecond
	}
	return period
}

func (s *SimulatedSampleSource) loop() {
	defer close(s.doneCh)

	s.mu.Lock()
	period := s.conversionPeriod()
	s.mu.Unlock()

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	active := 0
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.fillChunk(active)
			active = 1 - active
		}
	}
}

// fillChunk synthesizes one chunk's worth of samples into the
// currently-destined buffer for slot idx and invokes onChunkDone,
// mirroring a real DMA completion IRQ.
func (s *SimulatedSampleSource) fillChunk(idx int) {
	s.mu.Lock()
	dst := s.dest[idx]
	redirect := s.redirect[idx]
	isLogic := s.isLogic
	enabled := s.enabledChannels
	s.chunksWritten++
	chunkNum := s.chunksWritten

	if !redirect && len(dst) > 0 {
		if isLogic {
			fillLogicChunk(dst, &s.phase[0], chunkNum)
		} else {
			fillScopeChunk(dst, enabled, s.phase[:])
		}
	}

	if isLogic && chunkNum == 5 && !s.hwTriggered {
		s.hwTriggered = true
		s.hwChunkIdx = idx
		s.hwTransCount = uint32(len(dst) / 2)
	}

	onChunkDone := s.onChunkDone
	s.mu.Unlock()

	if onChunkDone != nil {
		onChunkDone(idx)
	}
}

// fillScopeChunk writes interleaved synthetic sine samples for every
// enabled channel, advancing each channel's phase accumulator.
func fillScopeChunk(dst []byte, enabled uint8, phase []float64) {
	var active []int
	for ch := 0; ch < 8 && ch < len(phase); ch++ {
		if enabled&(1<<uint(ch)) != 0 {
			active = append(active, ch)
		}
	}
	if len(active) == 0 {
		return
	}
	i := 0
	for i < len(dst) {
		for _, ch := range active {
			if i >= len(dst) {
				break
			}
			phase[ch] += 0.05
			v := math.Sin(phase[ch])*100 + 128
			dst[i] = byte(v)
			i++
		}
	}
}

// fillLogicChunk writes a synthetic bitmask pattern, one byte per
// sample, cycling through a counter so a logic decoder sees a
// recognizable ramp.
func fillLogicChunk(dst []byte, phase *float64, chunkNum int) {
	for i := range dst {
		dst[i] = byte((chunkNum*len(dst) + i) & 0xFF)
	}
}

// SimulatedADCReader is the low-rate, no-DMA ADCReader ContinuousSampler
// drives directly (spec.md §4.5): one synthetic conversion per call.
type SimulatedADCReader struct {
	mu    sync.Mutex
	phase [8]float64
}

// NewSimulatedADCReader returns a SimulatedADCReader.
func NewSimulatedADCReader() *SimulatedADCReader {
	return &SimulatedADCReader{}
}

// ReadChannel implements interfaces.ADCReader.
func (r *SimulatedADCReader) ReadChannel(channel int) (uint8, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if channel < 0 || channel >= len(r.phase) {
		return 0, nil
	}
	r.phase[channel] += 0.1
	v := math.Sin(r.phase[channel])*100 + 128
	return uint8(v), nil
}

// SimulatedVoltageRangeSource returns a fixed voltage-range selector
// per channel, standing in for the resistor-divider GPIO readback
// spec.md §3 describes.
type SimulatedVoltageRangeSource struct {
	Ranges [8]uint8
}

// NewSimulatedVoltageRangeSource returns a source where every channel
// reports voltage range 0 (the narrowest range).
func NewSimulatedVoltageRangeSource() *SimulatedVoltageRangeSource {
	return &SimulatedVoltageRangeSource{}
}

// ReadVoltageRange implements interfaces.VoltageRangeSource.
func (s *SimulatedVoltageRangeSource) ReadVoltageRange(channel int) (uint8, error) {
	if channel < 0 || channel >= len(s.Ranges) {
		return 0, nil
	}
	return s.Ranges[channel], nil
}

// SimulatedBoardIdentity reports a fixed, plausible board identity.
type SimulatedBoardIdentity struct{}

func (SimulatedBoardIdentity) ChipID() uint32         { return 0x00000002 } // RP2040 fixed chip ID
func (SimulatedBoardIdentity) UniqueID() [8]byte      { return [8]byte{0xDE, 0xAD, 0xBE, 0xEF, 0x00, 0x01, 0x02, 0x03} }
func (SimulatedBoardIdentity) FirmwareType() uint8    { return 1 }
func (SimulatedBoardIdentity) FirmwareVersion() uint8 { return 1 }
func (SimulatedBoardIdentity) BuildNumber() int32     { return 1 }

// SimulatedPWMSink logs the requested signal generator configuration
// without driving real PWM hardware.
type SimulatedPWMSink struct {
	mu   sync.Mutex
	last [4]uint32
}

func NewSimulatedPWMSink() *SimulatedPWMSink { return &SimulatedPWMSink{} }

// SetSignal implements interfaces.PWMSink.
func (s *SimulatedPWMSink) SetSignal(function, gpio uint8, freqHz uint32, dutyPermille uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = [4]uint32{uint32(function), uint32(gpio), freqHz, uint32(dutyPermille)}
	return nil
}

// SimulatedStatusSink records the blink pattern requested, standing in
// for a real status LED.
type SimulatedStatusSink struct {
	mu      sync.Mutex
	pattern int
}

func NewSimulatedStatusSink() *SimulatedStatusSink { return &SimulatedStatusSink{} }

// SetBlinkPattern implements interfaces.StatusSink.
func (s *SimulatedStatusSink) SetBlinkPattern(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pattern = code
}

// Pattern returns the most recently requested blink pattern code.
func (s *SimulatedStatusSink) Pattern() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pattern
}

// SimulatedFatalSink halts the simulated process the way a real fatal
// blink-and-lock would, but by closing a channel a supervising
// goroutine can select on, rather than looping forever in-process.
type SimulatedFatalSink struct {
	mu      sync.Mutex
	halted  bool
	code    int
	haltCh  chan struct{}
}

// NewSimulatedFatalSink returns a SimulatedFatalSink.
func NewSimulatedFatalSink() *SimulatedFatalSink {
	return &SimulatedFatalSink{haltCh: make(chan struct{})}
}

// Fatal implements interfaces.FatalSink.
func (s *SimulatedFatalSink) Fatal(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.halted {
		return
	}
	s.halted = true
	s.code = code
	close(s.haltCh)
}

// Halted returns a channel that closes when Fatal has been called.
func (s *SimulatedFatalSink) Halted() <-chan struct{} { return s.haltCh }

// Code returns the last fatal code reported.
func (s *SimulatedFatalSink) Code() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.code
}

// SimulatedLoopbackTransport is an interfaces.Transport with no real
// peer on the other end: writes are captured for inspection, reads
// drain whatever has been queued (e.g. by a test harness driving SYNC
// or parameter-change messages into the core). Standalone runs of
// cmd/scoppy-sim have no host attached, so reads simply return 0 bytes
// available; the acquisition core treats this the same as "host not
// yet connected" (spec.md §4.2 sync loop).
type SimulatedLoopbackTransport struct {
	mu     sync.Mutex
	inbox  []byte
	outbox []byte
}

// NewSimulatedLoopbackTransport returns an empty SimulatedLoopbackTransport.
func NewSimulatedLoopbackTransport() *SimulatedLoopbackTransport {
	return &SimulatedLoopbackTransport{}
}

// Feed queues bytes for the next ReadBytes calls, simulating host
// traffic arriving on the wire.
func (t *SimulatedLoopbackTransport) Feed(b []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inbox = append(t.inbox, b...)
}

// ReadBytes implements interfaces.Transport.
func (t *SimulatedLoopbackTransport) ReadBytes(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := copy(p, t.inbox)
	t.inbox = t.inbox[n:]
	return n, nil
}

// WriteBytes implements interfaces.Transport.
func (t *SimulatedLoopbackTransport) WriteBytes(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.outbox = append(t.outbox, p...)
	const maxRetained = 1 << 20
	if len(t.outbox) > maxRetained {
		t.outbox = t.outbox[len(t.outbox)-maxRetained:]
	}
	return len(p), nil
}

// Written returns everything written to the transport so far.
func (t *SimulatedLoopbackTransport) Written() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]byte, len(t.outbox))
	copy(out, t.outbox)
	return out
}

// Compile-time interface checks.
var (
	_ interfaces.SampleSource        = (*SimulatedSampleSource)(nil)
	_ interfaces.ADCReader           = (*SimulatedADCReader)(nil)
	_ interfaces.VoltageRangeSource  = (*SimulatedVoltageRangeSource)(nil)
	_ interfaces.BoardIdentity       = SimulatedBoardIdentity{}
	_ interfaces.PWMSink             = (*SimulatedPWMSink)(nil)
	_ interfaces.StatusSink          = (*SimulatedStatusSink)(nil)
	_ interfaces.FatalSink           = (*SimulatedFatalSink)(nil)
	_ interfaces.Transport           = (*SimulatedLoopbackTransport)(nil)
)
