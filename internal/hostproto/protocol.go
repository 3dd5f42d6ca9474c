package hostproto

import (
	"time"

	"github.com/mars-low/scoppy-pico/internal/constants"
	"github.com/mars-low/scoppy-pico/internal/interfaces"
	"github.com/mars-low/scoppy-pico/internal/model"
	"github.com/mars-low/scoppy-pico/internal/wire"
)

// HostProtocol owns the wire decoder and applies incoming messages to
// a shared AppState (spec.md §4.9). It runs only on Core A; AppState
// mutation here needs no synchronization against Core B, which only
// ever reads the Planner's already-computed SamplingParams.
type HostProtocol struct {
	decoder  *wire.Decoder
	transport interfaces.Transport
	pwm      interfaces.PWMSink
	identity interfaces.BoardIdentity
	fatal    interfaces.FatalSink
	log      interfaces.Logger

	readBuf [constants.MaxIncomingPayload]byte

	synced      bool
	syncBackoff time.Duration
}

// NewHostProtocol constructs a HostProtocol over the given transport
// and collaborators.
func NewHostProtocol(transport interfaces.Transport, pwm interfaces.PWMSink, identity interfaces.BoardIdentity, fatal interfaces.FatalSink, log interfaces.Logger) *HostProtocol {
	return &HostProtocol{
		decoder:     wire.NewDecoder(),
		transport:   transport,
		pwm:         pwm,
		identity:    identity,
		fatal:       fatal,
		log:         log,
		syncBackoff: constants.SyncInitialInterval,
	}
}

// PollIncoming reads whatever bytes are currently available from the
// transport and feeds them through the decoder, applying each complete
// frame to state. It never blocks waiting for more bytes than the
// transport has ready (spec.md §4.1, §4.9).
func (h *HostProtocol) PollIncoming(state *model.AppState) error {
	n, err := h.transport.ReadBytes(h.readBuf[:])
	if err != nil {
		return err
	}
	if n == 0 {
		return nil
	}
	for _, ev := range h.decoder.Feed(h.readBuf[:n]) {
		if ev.Err != nil {
			h.log.Warnf("hostproto: frame error: %v", ev.Err)
			continue
		}
		if err := h.apply(state, ev.Frame); err != nil {
			if fe, ok := err.(*FatalError); ok {
				h.fatal.Fatal(int(fe.Code))
				return fe
			}
			h.log.Warnf("hostproto: dropping malformed message type %d: %v", ev.Frame.Type, err)
		}
	}
	return nil
}

// apply dispatches one decoded frame to the appropriate decoder and
// mutates state (spec.md §4.9's per-message-type table).
func (h *HostProtocol) apply(state *model.AppState, f wire.Frame) error {
	switch f.Type {
	case constants.MsgTypeSyncResponse:
		resp, err := DecodeSyncResponse(f.Payload)
		if err != nil {
			return err
		}
		if resp.IsLogicMode != state.IsLogicMode {
			state.ResyncRequired = true
		}
		state.RunMode = resp.RunMode
		state.IsLogicMode = resp.IsLogicMode
		state.TimebasePs = uint64(resp.TimebaseCentiUs) * 10000
		for i := range state.Channels {
			state.Channels[i].Enabled = resp.ChannelEnabled[i]
		}
		state.TriggerMode = resp.Trigger.Mode
		state.TriggerChannel = resp.Trigger.Channel
		state.TriggerType = resp.Trigger.Type
		state.TriggerLevel = resp.Trigger.Level
		state.AppDirty = true
		state.ChannelsDirty = true
		h.synced = true
		h.syncBackoff = constants.SyncInitialInterval

	case constants.MsgTypeHorzScaleChanged:
		centi, err := DecodeHorzScaleChanged(f.Payload)
		if err != nil {
			return err
		}
		state.TimebasePs = uint64(centi) * 10000
		state.AppDirty = true

	case constants.MsgTypeChannelsChanged:
		enabled, err := DecodeChannelsChanged(f.Payload)
		if err != nil {
			return err
		}
		for i := range state.Channels {
			state.Channels[i].Enabled = enabled[i]
		}
		state.AppDirty = true

	case constants.MsgTypeTriggerChanged:
		trig, err := DecodeTriggerChanged(f.Payload)
		if err != nil {
			return err
		}
		state.TriggerMode = trig.Mode
		state.TriggerChannel = trig.Channel
		state.TriggerType = trig.Type
		state.TriggerLevel = trig.Level
		state.AppDirty = true

	case constants.MsgTypeSigGen:
		req, err := DecodeSigGen(f.Payload)
		if err != nil {
			return err
		}
		if h.pwm != nil {
			if err := h.pwm.SetSignal(req.Function, req.GPIO, req.FreqHz, uint16(req.DutyRaw)); err != nil {
				h.log.Warnf("hostproto: sig_gen dispatch failed: %v", err)
			}
		}

	case constants.MsgTypeSelectedSampleRate:
		rate, err := DecodeSelectedSampleRate(f.Payload)
		if err != nil {
			return err
		}
		state.SelectedSampleRateHz = rate
		state.AppDirty = true

	case constants.MsgTypePreTriggerSamples:
		pct, err := DecodePreTriggerSamples(f.Payload)
		if err != nil {
			return err
		}
		state.PreTriggerPercent = pct
		state.AppDirty = true

	default:
		h.log.Debugf("hostproto: ignoring unknown message type %d", f.Type)
	}
	return nil
}

// MaybeSendSync writes a SYNC frame if the device has not yet received
// a SYNC_RESPONSE and the backoff interval has elapsed since the last
// attempt. The first retransmission waits SyncInitialInterval; each
// later one doubles the interval, up to SyncMaxInterval (spec.md §4.9).
// now is passed in rather than read from the clock so callers control
// the tick source (spec.md §9: no direct time.Now() in domain logic).
func (h *HostProtocol) MaybeSendSync(lastSent, now time.Time) (time.Time, error) {
	if h.synced {
		return lastSent, nil
	}
	if !lastSent.IsZero() && now.Sub(lastSent) < h.syncBackoff {
		return lastSent, nil
	}
	payload := EncodeSync(h.identity)
	frame, err := wire.Encode(constants.MsgTypeSync, 1, payload)
	if err != nil {
		return lastSent, err
	}
	if _, err := h.transport.WriteBytes(frame); err != nil {
		return lastSent, err
	}
	if !lastSent.IsZero() {
		h.syncBackoff *= 2
		if h.syncBackoff > constants.SyncMaxInterval {
			h.syncBackoff = constants.SyncMaxInterval
		}
	}
	return now, nil
}

// Synced reports whether a SYNC_RESPONSE has ever been received.
func (h *HostProtocol) Synced() bool { return h.synced }

// SendSamples encodes and writes one SAMPLES frame.
func (h *HostProtocol) SendSamples(in SamplesFrameInput) error {
	payload := EncodeSamples(in)
	frame, err := wire.Encode(constants.MsgTypeSamples, 1, payload)
	if err != nil {
		return err
	}
	_, err = h.transport.WriteBytes(frame)
	return err
}
