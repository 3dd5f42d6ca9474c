// Package hostproto implements HostProtocol and Supervisor (spec.md
// §4.7, §4.9): message construction/dispatch over internal/wire's
// ByteCodec, the SYNC handshake, and the Core-A control loop that
// diffs AppState against the active SamplingParams and drives restarts
// across the inter-core barrier.
//
// Field layouts below are taken verbatim from
// original_source/scoppy/lib/scoppy-message.c, which spec.md §4.9
// summarizes but does not lay out bit-for-bit.
package hostproto

import (
	"encoding/binary"
	"fmt"

	"github.com/mars-low/scoppy-pico/internal/constants"
	"github.com/mars-low/scoppy-pico/internal/interfaces"
	"github.com/mars-low/scoppy-pico/internal/model"
)

// TriggerBlock is the 5-byte trigger descriptor shared by
// SYNC_RESPONSE and TRIGGER_CHANGED (spec.md §4.9).
type TriggerBlock struct {
	Mode    model.TriggerMode
	Channel uint8
	Type    interfaces.TriggerEdge
	Level   uint8
}

// decodeTriggerBlock reads mode, channel, type, level (int16 BE,
// clamped into [0,255]) starting at payload[i]; returns the next
// unread offset. A trigger_type outside {0,1} is not fatal — it
// silently falls back to RISING (original_source
// process_trigger_params), matching spec.md §7's "clamp if safely
// correctable" guidance.
func decodeTriggerBlock(payload []byte, i int) (TriggerBlock, int, error) {
	if i+5 > len(payload) {
		return TriggerBlock{}, i, fmt.Errorf("hostproto: trigger block truncated")
	}
	mode := model.TriggerMode(payload[i])
	if mode > model.TriggerModeNormal {
		return TriggerBlock{}, i, &FatalError{Code: FatalBadAppParams, Reason: fmt.Sprintf("invalid trigger mode %d", mode)}
	}
	i++

	channel := payload[i]
	i++

	edge := interfaces.TriggerEdge(payload[i])
	if edge != interfaces.TriggerEdgeRising && edge != interfaces.TriggerEdgeFalling {
		edge = interfaces.TriggerEdgeRising
	}
	i++

	level16 := int16(binary.BigEndian.Uint16(payload[i : i+2]))
	i += 2
	level := clampLevel(level16)

	return TriggerBlock{Mode: mode, Channel: channel, Type: edge, Level: level}, i, nil
}

func clampLevel(v int16) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

// FatalErrorCode enumerates spec.md §7's fatal blink-pattern codes.
type FatalErrorCode int

const (
	// FatalUnsupportedFWVersion is code 2: the incoming frame's version
	// byte is below the minimum this firmware understands.
	FatalUnsupportedFWVersion FatalErrorCode = 2
	// FatalBadAppParams is code 3: an incoming message carries an
	// out-of-range enum that cannot be safely clamped.
	FatalBadAppParams FatalErrorCode = 3
	// FatalIncomingParserError is code 7: debug-build-only escalation
	// of a parser error (spec.md §7).
	FatalIncomingParserError FatalErrorCode = 7
)

// FatalError is handed to an interfaces.FatalSink collaborator: it is
// never recovered from within HostProtocol.
type FatalError struct {
	Code   FatalErrorCode
	Reason string
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("hostproto: fatal(%d): %s", e.Code, e.Reason)
}

// SyncResponsePayload is the decoded SYNC_RESPONSE (80) message.
type SyncResponsePayload struct {
	RunMode        model.RunMode
	IsLogicMode    bool
	ChannelEnabled [constants.MaxChannels]bool
	TimebaseCentiUs uint32
	Trigger        TriggerBlock
}

// channelEnabledFromConfigByte extracts bit0 (enabled); higher bits are
// reserved on the wire (original_source update_channel_from_config_byte
// only ever reads bit0 — voltage range is read back from GPIO per
// spec.md §3, never sent by the host).
func channelEnabledFromConfigByte(b byte) bool {
	return b&0x01 != 0
}

// DecodeSyncResponse parses a SYNC_RESPONSE (80) payload (spec.md §4.9).
func DecodeSyncResponse(payload []byte) (SyncResponsePayload, error) {
	var out SyncResponsePayload
	if len(payload) < 6 {
		return out, fmt.Errorf("hostproto: sync_response payload too small (%d)", len(payload))
	}

	i := 0
	flags := payload[i]
	i++

	runMode := model.RunMode(flags & 0x3)
	if runMode > model.RunModeSingle {
		return out, &FatalError{Code: FatalBadAppParams, Reason: "unsupported run mode"}
	}
	out.RunMode = runMode

	appMode := (flags >> 2) & 0x3
	if appMode > 2 {
		return out, &FatalError{Code: FatalBadAppParams, Reason: "unsupported app mode"}
	}
	out.IsLogicMode = appMode > 0

	// 4 reserved bytes.
	i += 4

	if i >= len(payload) {
		return out, fmt.Errorf("hostproto: sync_response truncated before channel count")
	}
	numChannels := int(payload[i])
	i++
	if numChannels == 0 || numChannels > constants.MaxChannels {
		return out, &FatalError{Code: FatalBadAppParams, Reason: fmt.Sprintf("invalid channel count %d", numChannels)}
	}
	if i+numChannels > len(payload) {
		return out, fmt.Errorf("hostproto: sync_response truncated in channel configs")
	}
	for ch := 0; ch < numChannels; ch++ {
		out.ChannelEnabled[ch] = channelEnabledFromConfigByte(payload[i])
		i++
	}

	// Voltage-range offset adjustments: reserved, unused (spec.md §4.9).
	i += 2

	if i+4 > len(payload) {
		return out, fmt.Errorf("hostproto: sync_response truncated before timebase")
	}
	out.TimebaseCentiUs = binary.BigEndian.Uint32(payload[i : i+4])
	i += 4

	trig, _, err := decodeTriggerBlock(payload, i)
	if err != nil {
		return out, err
	}
	out.Trigger = trig

	return out, nil
}

// DecodeHorzScaleChanged parses HORZ_SCALE_CHANGED (81): a single
// timebase_centi_us u32.
func DecodeHorzScaleChanged(payload []byte) (uint32, error) {
	if len(payload) < 4 {
		return 0, fmt.Errorf("hostproto: horz_scale_changed payload too small")
	}
	return binary.BigEndian.Uint32(payload[:4]), nil
}

// DecodeChannelsChanged parses CHANNELS_CHANGED (82): n, then n
// per-channel config bytes.
func DecodeChannelsChanged(payload []byte) ([constants.MaxChannels]bool, error) {
	var out [constants.MaxChannels]bool
	if len(payload) < 1 {
		return out, fmt.Errorf("hostproto: channels_changed payload empty")
	}
	n := int(payload[0])
	if n == 0 || n > constants.MaxChannels {
		return out, fmt.Errorf("hostproto: invalid channel count %d", n)
	}
	if len(payload) < 1+n {
		return out, fmt.Errorf("hostproto: channels_changed truncated")
	}
	for ch := 0; ch < n; ch++ {
		out[ch] = channelEnabledFromConfigByte(payload[1+ch])
	}
	return out, nil
}

// DecodeTriggerChanged parses TRIGGER_CHANGED (83): a bare trigger
// block with no leading flags byte.
func DecodeTriggerChanged(payload []byte) (TriggerBlock, error) {
	trig, _, err := decodeTriggerBlock(payload, 0)
	return trig, err
}

// SigGenRequest is the decoded SIG_GEN (84) message.
type SigGenRequest struct {
	Function uint8
	GPIO     uint8
	FreqHz   uint32
	DutyRaw  uint16 // lower byte only is meaningful (original_source quirk)
}

// DecodeSigGen parses SIG_GEN (84): func, gpio, freq u32, duty u16
// (only the low byte is meaningful — original_source masks with
// 0x00FF, so a host-side duty cycle is effectively 0..255, not the
// full permille range the struct layout suggests).
func DecodeSigGen(payload []byte) (SigGenRequest, error) {
	var out SigGenRequest
	if len(payload) < 8 {
		return out, fmt.Errorf("hostproto: sig_gen payload too small")
	}
	out.Function = payload[0]
	out.GPIO = payload[1]
	out.FreqHz = binary.BigEndian.Uint32(payload[2:6])
	out.DutyRaw = binary.BigEndian.Uint16(payload[6:8]) & 0x00FF
	return out, nil
}

// DecodeSelectedSampleRate parses SELECTED_SAMPLE_RATE (85): rate u32.
func DecodeSelectedSampleRate(payload []byte) (uint32, error) {
	if len(payload) < 4 {
		return 0, fmt.Errorf("hostproto: selected_sample_rate payload too small")
	}
	return binary.BigEndian.Uint32(payload[:4]), nil
}

// DecodePreTriggerSamples parses PRE_TRIGGER_SAMPLES (87): percent u8,
// clamped to [0,100] rather than rejected (spec.md §7).
func DecodePreTriggerSamples(payload []byte) (uint8, error) {
	if len(payload) < 1 {
		return 0, fmt.Errorf("hostproto: pre_trigger_samples payload empty")
	}
	pct := payload[0]
	if pct > 100 {
		pct = 100
	}
	return pct, nil
}

// EncodeSync builds the SYNC (60) outgoing payload from a board
// identity collaborator (spec.md §4.9).
func EncodeSync(id interfaces.BoardIdentity) []byte {
	buf := make([]byte, 0, 18)
	var chipID [4]byte
	binary.BigEndian.PutUint32(chipID[:], id.ChipID())
	buf = append(buf, chipID[:]...)

	unique := id.UniqueID()
	buf = append(buf, unique[:]...)

	buf = append(buf, id.FirmwareType(), id.FirmwareVersion())

	var build [4]byte
	binary.BigEndian.PutUint32(build[:], uint32(id.BuildNumber()))
	buf = append(buf, build[:]...)

	return buf
}

// SamplesFrameInput carries everything EncodeSamples needs to build
// one SAMPLES (61) payload (spec.md §4.9, §6).
type SamplesFrameInput struct {
	Channels       [constants.MaxChannels]model.Channel
	IsLogicMode    bool
	RealSampleRate uint32
	TriggerIndex   int32
	NewWavepoint   bool
	LastInFrame    bool
	Continuous     bool
	SingleShot     bool
	Data           []byte
}

// EncodeSamples builds the SAMPLES (61) payload: flags, channel
// descriptors, rate, trigger index, then the raw sample bytes
// (spec.md §4.9, §6 — the bytes covering samples are a caller
// responsibility to keep a multiple of bytes_per_sample per frame).
func EncodeSamples(in SamplesFrameInput) []byte {
	var flags byte
	if in.NewWavepoint {
		flags |= constants.SamplesFlagNewWavepoint
	}
	if in.LastInFrame {
		flags |= constants.SamplesFlagLastInFrame
	}
	if in.Continuous {
		flags |= constants.SamplesFlagContinuous
	}
	if in.SingleShot {
		flags |= constants.SamplesFlagSingleShot
	}
	if in.IsLogicMode {
		flags |= constants.SamplesFlagLogicMode
	}

	buf := make([]byte, 0, 10+len(in.Data))
	buf = append(buf, flags)

	numChOffset := len(buf)
	buf = append(buf, 0) // patched below

	var numCh byte
	if in.IsLogicMode {
		buf = append(buf, 0)
		numCh = 1
	} else {
		for ch := 0; ch < len(in.Channels); ch++ {
			if !in.Channels[ch].Enabled {
				continue
			}
			buf = append(buf, byte(ch)|(in.Channels[ch].VoltageRange<<4))
			numCh++
		}
	}
	buf[numChOffset] = numCh

	var rateBytes [4]byte
	binary.BigEndian.PutUint32(rateBytes[:], in.RealSampleRate)
	buf = append(buf, rateBytes[:]...)

	var trigBytes [4]byte
	binary.BigEndian.PutUint32(trigBytes[:], uint32(in.TriggerIndex))
	buf = append(buf, trigBytes[:]...)

	buf = append(buf, in.Data...)
	return buf
}
