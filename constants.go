package scoppy

import "github.com/mars-low/scoppy-pico/internal/constants"

// Re-export the constants an integrator needs without reaching into
// internal/constants directly, following the teacher's constants.go
// re-export idiom.
const (
	MaxChannels               = constants.MaxChannels
	MaxIncomingPayload        = constants.MaxIncomingPayload
	MaxOutgoingPayload        = constants.MaxOutgoingPayload
	MaxScopeSampleRateHz      = constants.MaxScopeSampleRateHz
	MaxLogicSampleRateHz      = constants.MaxLogicSampleRateHz
	DefaultSysClockHz         = constants.DefaultSysClockHz
	MsgTypeSync               = constants.MsgTypeSync
	MsgTypeSamples            = constants.MsgTypeSamples
	MsgTypeSyncResponse       = constants.MsgTypeSyncResponse
	MsgTypeHorzScaleChanged   = constants.MsgTypeHorzScaleChanged
	MsgTypeChannelsChanged    = constants.MsgTypeChannelsChanged
	MsgTypeTriggerChanged     = constants.MsgTypeTriggerChanged
	MsgTypeSigGen             = constants.MsgTypeSigGen
	MsgTypeSelectedSampleRate = constants.MsgTypeSelectedSampleRate
	MsgTypePreTriggerSamples  = constants.MsgTypePreTriggerSamples
)
