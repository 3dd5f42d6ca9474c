// Package planner implements ConfigPlanner (spec.md §4.4): a pure
// function from AppState to SamplingParams. Formulas and clamps are
// grounded in original_source/pico/pico-scoppy-core0-looper.c
// (calculate_clkdiv_and_real_sample_rate_for_adc/_pio,
// update_sample_rate_params) and pico-scoppy-samples.c.
package planner

import (
	"github.com/mars-low/scoppy-pico/internal/constants"
	"github.com/mars-low/scoppy-pico/internal/model"
)

// HorizontalDivisions is the number of screen divisions a timebase
// spans; the preferred rate is derived so the sample budget covers
// SpanMultiplier screens of data (spec.md §4.4(3)).
const HorizontalDivisions = 10

// Planner computes SamplingParams from AppState. It carries the
// system clock as explicit state (spec.md §9 "Mutable module-level
// state... model as a struct") rather than as a package global.
type Planner struct {
	SysClockHz uint32
}

// NewPlanner returns a Planner using the RP2040 default system clock.
func NewPlanner() *Planner {
	return &Planner{SysClockHz: constants.DefaultSysClockHz}
}

// Plan computes SamplingParams for the given AppState. It is a pure
// function: calling it twice on an unchanged AppState yields
// bit-identical output (spec.md §8 property 7).
func (p *Planner) Plan(state model.AppState) model.SamplingParams {
	var enabledMask uint8
	var numEnabled uint8
	for i, ch := range state.Channels {
		if ch.Enabled {
			enabledMask |= 1 << uint(i)
			numEnabled++
		}
	}

	bytesPerSample := uint8(1)
	if !state.IsLogicMode {
		bytesPerSample = numEnabled
		if bytesPerSample < 1 {
			bytesPerSample = 1
		}
	}

	samplesPerChannel := sampleBudget(state, bytesPerSample)
	numBytesToSend := uint32(samplesPerChannel) * uint32(bytesPerSample)

	preferred, userOverride := preferredRate(state, samplesPerChannel)

	continuous := isContinuous(state, preferred, userOverride)

	if continuous {
		preferred = quantizeDown(preferred, constants.ContinuousRateLadder[:])
	} else if !userOverride {
		preferred = quantizeDown(preferred, constants.NonContinuousRateLadder[:])
	}

	var clkdivInt, realPerChannel uint32
	if state.IsLogicMode {
		if preferred > constants.MaxLogicSampleRateHz {
			preferred = constants.MaxLogicSampleRateHz
		}
		clkdivInt = clampU32(divCeilSafe(p.sysClock(), preferred*constants.PIOCyclesPerSample), constants.PIOClkdivMin, constants.PIOClkdivMax)
		realPerChannel = p.sysClock() / (clkdivInt * constants.PIOCyclesPerSample)
	} else {
		if preferred > constants.MaxScopeSampleRateHz {
			preferred = constants.MaxScopeSampleRateHz
		}
		denom := preferred * uint32(bytesPerSample)
		raw := divCeilSafe(constants.ADCBaseClockHz, denom)
		var clkdiv uint32
		if raw >= 1 {
			clkdiv = raw - 1
		}
		clkdiv = clampU32(clkdiv, 0, constants.ADCClkdivMax)
		if clkdiv >= 1 && clkdiv <= constants.ADCClkdivQuirkCeiling {
			clkdiv = 0
		}
		clkdivInt = clkdiv
		// clkdiv==0 is the free-running ADC rate, which the hardware
		// measures at 500 kS/s total, not 48_000_000/(0+1) (original_source
		// pico-scoppy-core0-looper.c calculate_clkdiv_and_real_sample_rate_for_adc).
		var realTotal uint32
		if clkdivInt == 0 {
			realTotal = constants.MaxScopeSampleRateHz
		} else {
			realTotal = constants.ADCBaseClockHz / (clkdivInt + 1)
		}
		realPerChannel = realTotal / uint32(bytesPerSample)
	}

	minPre := numBytesToSend * uint32(state.PreTriggerPercent) / 100
	minPost := numBytesToSend - minPre

	chunkSize := chunkSizeFor(realPerChannel, bytesPerSample)

	mode := model.StrategyNonContinuous
	if continuous {
		mode = model.StrategyContinuous
	}
	if state.RunMode == model.RunModeStop {
		mode = model.StrategyNull
	}

	return model.SamplingParams{
		PreferredSRPerChannelHz: preferred,
		RealSRPerChannel:        realPerChannel,
		ClkdivInt:               clkdivInt,
		NumBytesToSend:          numBytesToSend,
		MinPreTriggerBytes:      minPre,
		MinPostTriggerBytes:     minPost,
		EnabledChannels:         enabledMask,
		NumEnabledChannels:      numEnabled,
		Channels:                state.Channels,
		TriggerMode:             state.TriggerMode,
		TriggerChannel:          state.TriggerChannel,
		TriggerType:             state.TriggerType,
		TriggerLevel:            state.TriggerLevel,
		RunMode:                 state.RunMode,
		IsLogicMode:             state.IsLogicMode,
		Mode:                    mode,
		BytesPerSample:          bytesPerSample,
		ChunkSize:               chunkSize,
	}
}

func (p *Planner) sysClock() uint32 {
	if p.SysClockHz == 0 {
		return constants.DefaultSysClockHz
	}
	return p.SysClockHz
}

// sampleBudget returns the per-channel sample count base (spec.md
// §4.4(2)): the single-shot byte budget divided evenly across the
// bytes-per-sample stride, or the fixed scope/logic screen budget.
func sampleBudget(state model.AppState, bytesPerSample uint8) uint32 {
	if state.RunMode == model.RunModeSingle {
		return constants.SingleShotTotalBytes / uint32(bytesPerSample)
	}
	if state.IsLogicMode {
		return constants.LogicBytesPerChannel
	}
	return constants.ScopeBytesPerChannel
}

// preferredRate computes the per-channel rate before quantization and
// clamping (spec.md §4.4(3)). The second return reports whether the
// host explicitly selected a rate (in which case laddering is skipped
// for non-continuous mode, per §4.4(6)).
func preferredRate(state model.AppState, samplesPerChannel uint32) (uint32, bool) {
	if state.SelectedSampleRateHz != 0 {
		return state.SelectedSampleRateHz, true
	}

	spanMultiplier := uint64(2)
	if state.IsLogicMode {
		spanMultiplier = 3
	}

	timebaseSec := float64(state.TimebasePs) / 1e12
	totalSpanSec := timebaseSec * float64(HorizontalDivisions) * float64(spanMultiplier)
	if totalSpanSec <= 0 {
		return constants.MaxScopeSampleRateHz, false
	}

	rate := float64(samplesPerChannel) / totalSpanSec
	if rate < 1 {
		rate = 1
	}
	return uint32(rate), false
}

// isContinuous implements spec.md §4.4(4).
func isContinuous(state model.AppState, preferred uint32, userOverride bool) bool {
	if state.IsLogicMode || state.RunMode == model.RunModeSingle {
		return false
	}
	if state.TimebasePs >= 1_000_000_000_000 && preferred <= constants.ContinuousEligibleCeilingHz {
		return true
	}
	if userOverride && preferred < constants.ContinuousEligibleCeilingHz {
		return true
	}
	return false
}

// quantizeDown picks the largest ladder entry not exceeding rate,
// falling back to the smallest entry when rate is below the whole
// ladder (spec.md §4.4(5),(6)).
func quantizeDown(rate uint32, ladder []uint32) uint32 {
	best := ladder[0]
	for _, v := range ladder {
		if v <= rate {
			best = v
		}
	}
	return best
}

// chunkSizeFor implements the glossary's chunk-size formula:
// rate*bytes_per_sample*10ms, clamped to [bytes_per_sample,2048],
// rounded down to a multiple of bytes_per_sample.
func chunkSizeFor(realPerChannel uint32, bytesPerSample uint8) uint32 {
	raw := uint64(realPerChannel) * uint64(bytesPerSample) * 10 / 1000
	size := clampU32(uint32(raw), uint32(bytesPerSample), constants.MaxChunkSize)
	size -= size % uint32(bytesPerSample)
	if size < uint32(bytesPerSample) {
		size = uint32(bytesPerSample)
	}
	return size
}

func clampU32(v, lo, hi uint32) uint32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// divCeilSafe returns 0 if denom is 0 (avoids a divide-by-zero panic
// when a degenerate AppState requests a zero rate), else ceil(num/denom).
func divCeilSafe(num, denom uint32) uint32 {
	if denom == 0 {
		return 0
	}
	return (num + denom - 1) / denom
}
