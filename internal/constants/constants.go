package constants

import "time"

// Wire framing constants (spec.md §6, §4.1).
const (
	// SOM is the start-of-message byte.
	SOM = 0xFF

	// EOM is the end-of-message byte.
	EOM = 0x56

	// MinFrameSize is the smallest legal reported `size` field: SOM, two
	// size bytes, type, type-checksum, version — zero payload. The
	// header is 6 bytes; EOM is not counted in `size` (spec.md §6).
	MinFrameSize = 6

	// MaxIncomingPayload bounds inbound message payloads.
	MaxIncomingPayload = 512

	// MaxOutgoingPayload bounds outbound message payloads.
	MaxOutgoingPayload = 4096

	// MaxIncomingFrameSize is the largest legal reported `size` field
	// for a frame the decoder accepts from the host (spec.md §6: "Maximum
	// incoming payload: 512 bytes").
	MaxIncomingFrameSize = MinFrameSize + MaxIncomingPayload

	// MaxFrameSize is the largest legal reported `size` field an
	// encoder may produce (outbound direction).
	MaxFrameSize = MinFrameSize + MaxOutgoingPayload
)

// Outgoing message types (spec.md §4.9).
const (
	MsgTypeSync    = 60
	MsgTypeSamples = 61
)

// Incoming message types (spec.md §4.9).
const (
	MsgTypeSyncResponse        = 80
	MsgTypeHorzScaleChanged    = 81
	MsgTypeChannelsChanged     = 82
	MsgTypeTriggerChanged      = 83
	MsgTypeSigGen              = 84
	MsgTypeSelectedSampleRate  = 85
	MsgTypePreTriggerSamples   = 87
)

// SAMPLES frame flag bits (spec.md §4.9).
const (
	SamplesFlagNewWavepoint = 1 << 0
	SamplesFlagLastInFrame  = 1 << 1
	SamplesFlagContinuous   = 1 << 2
	SamplesFlagSingleShot   = 1 << 3
	SamplesFlagLogicMode    = 1 << 4
)

// MaxChannels is the number of analog/logic channel slots carried by
// SamplingParams and the wire channel-config arrays.
const MaxChannels = 8

// Sync handshake backoff (spec.md §4.9, original_source scoppy-message.c).
const (
	SyncInitialInterval = 200 * time.Millisecond
	SyncMaxInterval     = 2200 * time.Millisecond
)

// ConfigPlanner constants (spec.md §4.4, original_source pico-scoppy-samples.c
// and pico-scoppy-core0-looper.c).
const (
	// ScopeBytesPerChannel is the base payload span for analog (scope) mode.
	ScopeBytesPerChannel = 2000

	// LogicBytesPerChannel is the base payload span for logic-analyzer mode.
	LogicBytesPerChannel = 4000

	// SingleShotTotalBytes is the total byte budget for SINGLE run mode,
	// divided across bytes_per_sample.
	SingleShotTotalBytes = 100000

	// DefaultSysClockHz is the RP2040 default system clock, used to derive
	// PIO clock dividers.
	DefaultSysClockHz = 125_000_000

	// ADCBaseClockHz is the fixed ADC conversion clock.
	ADCBaseClockHz = 48_000_000

	// MaxScopeSampleRateHz is the analog-mode rate ceiling (spec.md §4.4(7)).
	MaxScopeSampleRateHz = 500_000

	// MaxLogicSampleRateHz is the logic-mode rate ceiling (spec.md §4.4(7)).
	MaxLogicSampleRateHz = 25_000_000

	// PIOCyclesPerSample is the number of PIO clock cycles consumed per
	// logic sample.
	PIOCyclesPerSample = 2

	// ADCClkdivMax / ADCClkdivQuirkCeiling: clkdiv values in [1,95] are
	// coerced to 0 — a documented hardware quirk of the ADC clock divider.
	ADCClkdivMax          = 63999
	ADCClkdivQuirkCeiling = 95

	// PIOClkdivMin / PIOClkdivMax bound the logic-mode clock divider.
	PIOClkdivMin = 5
	PIOClkdivMax = 63999
)

// ContinuousRateLadder is the fixed total-sample-rate ladder used when
// continuous mode is selected (spec.md §4.4(5)).
var ContinuousRateLadder = [...]uint32{5, 10, 20, 40, 100, 200, 400, 1000, 2500, 5000}

// NonContinuousRateLadder is the fixed total-sample-rate ladder used when
// non-continuous mode is selected and the user did not override the rate
// (spec.md §4.4(6)).
var NonContinuousRateLadder = [...]uint32{75_000, 100_000, 125_000, 150_000, 200_000, 250_000, 300_000, 400_000, 500_000}

// ContinuousEligibleCeilingHz is the per-channel rate below which
// continuous mode is eligible (spec.md §4.4(4)).
const ContinuousEligibleCeilingHz = 2000

// ChunkSize bounds (glossary: chunk_size = rate*bytes_per_sample*10ms,
// clamped to [bytes_per_sample, 2048], rounded down to a multiple of
// bytes_per_sample).
const MaxChunkSize = 2048

// FrameRateCap is the interval at which Core B drains the
// ContinuousSampler (spec.md §4.5). NonContinuousSampler emissions are
// forwarded as they arrive and are not spaced by it.
const FrameRateCap = 100 * time.Millisecond

// HardwareTriggerLagMinSamples / numerator/denominator implement
// lag_samples = max(10, rate*45/10_000_000) (original_source
// pico-scoppy-non-cont-sampling.c wait_for_hardware_trigger).
const (
	HardwareTriggerLagMinSamples = 10
	HardwareTriggerLagNumerator  = 45
	HardwareTriggerLagDenom      = 10_000_000
)

// InterCoreQueueDepth is the slot count of the hardware inter-core FIFO
// being modeled. No code reads it: hostproto.Barrier models the
// strictly alternating request/ack handoff with unbuffered channels.
const InterCoreQueueDepth = 4

// MaxQueuedIncomingMessages is a per-iteration cap on inbound host
// messages. No code reads it: each Supervisor step decodes whatever one
// transport read returns.
const MaxQueuedIncomingMessages = 1000
