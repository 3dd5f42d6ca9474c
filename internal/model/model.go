// Package model holds the data types shared across the acquisition
// engine (spec.md §3): host-declared intent (AppState), the planner's
// output (SamplingParams), and the Channel type both embed. It exists
// separately from the root package so internal/planner, internal/sampler,
// and internal/hostproto can depend on these types without importing
// the root package (which in turn depends on them) — the root package
// re-exports the public ones, following the teacher's constants.go
// re-export idiom.
package model

import "github.com/mars-low/scoppy-pico/internal/interfaces"

// RunMode is the host-declared run state (spec.md §3 AppState).
type RunMode uint8

const (
	RunModeRun RunMode = iota
	RunModeStop
	RunModeSingle
)

func (m RunMode) String() string {
	switch m {
	case RunModeRun:
		return "RUN"
	case RunModeStop:
		return "STOP"
	case RunModeSingle:
		return "SINGLE"
	default:
		return "UNKNOWN"
	}
}

// TriggerMode selects whether/how NonContinuousSampler waits for a
// trigger condition (spec.md §3).
type TriggerMode uint8

const (
	TriggerModeNone TriggerMode = iota
	TriggerModeAuto
	TriggerModeNormal
)

// Strategy selects which sampler variant is active (spec.md §9
// "Function-pointer polymorphism for strategy").
type Strategy uint8

const (
	StrategyNull Strategy = iota
	StrategyContinuous
	StrategyNonContinuous
)

// Channel is one analog/logic input (spec.md §3).
type Channel struct {
	Enabled      bool
	VoltageRange uint8 // 0..=3
}

// AppState is host-declared intent: the mutable state HostProtocol
// writes to and ConfigPlanner reads from (spec.md §3).
type AppState struct {
	IsLogicMode          bool
	RunMode              RunMode
	TimebasePs           uint64
	SelectedSampleRateHz uint32 // 0 = auto
	PreTriggerPercent    uint8  // 0..=100
	TriggerMode          TriggerMode
	TriggerChannel       uint8 // 0..=7
	TriggerType          interfaces.TriggerEdge
	TriggerLevel         uint8
	Channels             [8]Channel

	AppDirty       bool
	ChannelsDirty  bool
	ResyncRequired bool
}

// DefaultAppState returns the host-declared intent the device boots
// with before any SYNC_RESPONSE arrives: stopped, one channel enabled,
// 1ms/div-equivalent timebase, auto rate, 50% pre-trigger, no trigger.
func DefaultAppState() AppState {
	s := AppState{
		RunMode:           RunModeStop,
		TimebasePs:        1_000_000_000, // 1 ms
		PreTriggerPercent: 50,
		TriggerMode:       TriggerModeNone,
		TriggerType:       interfaces.TriggerEdgeRising,
	}
	s.Channels[0].Enabled = true
	return s
}

// SamplingParams is ConfigPlanner's output and the samplers' input
// (spec.md §3). Every field is read-stable between two barrier
// crossings: Core A only ever mutates the dormant instance, Core B
// only ever reads the active instance.
type SamplingParams struct {
	PreferredSRPerChannelHz uint32
	RealSRPerChannel        uint32
	ClkdivInt               uint32
	NumBytesToSend          uint32 // multiple of BytesPerSample
	MinPreTriggerBytes      uint32
	MinPostTriggerBytes     uint32
	Seq                     uint32 // continuous-mode frame counter

	EnabledChannels    uint8 // bitmask
	NumEnabledChannels uint8
	Channels           [8]Channel

	TriggerMode    TriggerMode
	TriggerChannel uint8
	TriggerType    interfaces.TriggerEdge
	TriggerLevel   uint8
	RunMode        RunMode
	IsLogicMode    bool

	Mode Strategy

	// BytesPerSample and ChunkSize are derived quantities carried
	// alongside the planner's output so the samplers don't recompute
	// them (glossary: chunk_size = rate*bytes_per_sample*10ms, clamped
	// to [bytes_per_sample, 2048]).
	BytesPerSample uint8
	ChunkSize      uint32
}

// Equal reports whether two SamplingParams carry the same
// acquisition-relevant configuration. hostproto's restartRequired
// compares a narrower field list; this is provided for
// property 7 (round-trip determinism) testing.
func (p SamplingParams) Equal(o SamplingParams) bool {
	return p == o
}
