// Package interfaces provides internal interface definitions for
// scoppy-pico. These are separate from the root package to avoid
// circular imports between it and the internal packages that need
// them (mirrors the teacher's own internal/interfaces split).
package interfaces

import "time"

// Transport is the out-of-scope serial/USB byte transport (spec.md §1).
// Reads and writes may return fewer bytes than requested; callers must
// retry. Implementations are provided by the host environment, never by
// this module.
type Transport interface {
	ReadBytes(p []byte) (n int, err error)
	WriteBytes(p []byte) (n int, err error)
}

// TriggerEdge selects the edge a hardware or software trigger fires on.
type TriggerEdge uint8

const (
	TriggerEdgeRising TriggerEdge = iota
	TriggerEdgeFalling
)

// SampleSource is the out-of-scope ADC/PIO sampling hardware collaborator
// driven by NonContinuousSampler and ContinuousSampler. A real
// implementation drives DMA chained to an ADC FIFO or PIO RX FIFO; the
// interface expresses only what the sampler orchestrator needs from it.
type SampleSource interface {
	// ConfigureScope arms the ADC round-robin sampler for the given
	// clock divider and enabled-channel bitmask.
	ConfigureScope(clkdivInt uint32, enabledChannels uint8) error

	// ConfigureLogic arms the PIO sampler for the given clock divider,
	// trigger GPIO, and trigger edge.
	ConfigureLogic(clkdivInt uint32, triggerGPIO uint8, edge TriggerEdge) error

	// Start begins chained DMA transfers into the two supplied
	// chunk-sized destinations, alternating between them. Each time a
	// transfer completes, onChunkDone is invoked with the address
	// (buffer index) that was just filled; the source then expects a
	// replacement destination via Rearm.
	Start(chunkSize int, onChunkDone func(chunkIdx int)) error

	// Rearm supplies the next destination buffer for a completed
	// channel. redirect, when true, means "divert this channel's next
	// transfer to a scratch sink" (spec.md §4.6 DMA handler invariant 1).
	Rearm(chunkIdx int, dst []byte, redirect bool) error

	// Stop halts DMA and the ADC/PIO, per spec.md §4.6 Shutdown.
	Stop() error

	// HardwareTriggered reports, for logic mode, whether the PIO
	// trigger IRQ has fired, and if so the write address/transaction
	// counts needed to compute the triggering sample index.
	HardwareTriggered() (triggered bool, chunkIdx int, transCount uint32, ok bool)
}

// ADCReader is the out-of-scope single-conversion ADC collaborator
// ContinuousSampler drives directly (no DMA) at low rates (spec.md §4.5).
type ADCReader interface {
	ReadChannel(channel int) (uint8, error)
}

// VoltageRangeSource reads the per-channel voltage-range selector GPIOs
// (spec.md §3 Channel, §4.8 step 2).
type VoltageRangeSource interface {
	ReadVoltageRange(channel int) (rangeID uint8, err error)
}

// PWMSink is the out-of-scope signal-generator output (spec.md §1, SIG_GEN).
type PWMSink interface {
	SetSignal(function uint8, gpio uint8, freqHz uint32, dutyPermille uint16) error
}

// StatusSink is the out-of-scope status LED (spec.md §1).
type StatusSink interface {
	SetBlinkPattern(code int)
}

// BoardIdentity is the out-of-scope board-identification read (spec.md §1,
// SYNC message).
type BoardIdentity interface {
	ChipID() uint32
	UniqueID() [8]byte
	FirmwareType() uint8
	FirmwareVersion() uint8
	BuildNumber() int32
}

// FatalSink is the external fatal-error collaborator (spec.md §7): it
// signals the operator (blink pattern) and halts. It never returns.
type FatalSink interface {
	Fatal(code int)
}

// Logger is the minimal logging surface internal packages depend on.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Observer collects acquisition-engine metrics. Implementations must be
// thread-safe: methods are called from both Core-A and Core-B.
type Observer interface {
	ObserveAcquisitionCycle(d time.Duration, bytesEmitted int, triggered bool)
	ObserveDiscardedSamples(count uint32)
	ObserveRestart(reason string)
	ObserveFrameSent(bytes int)
	ObserveTriggerSearch(chunksScanned int, found bool)
}
