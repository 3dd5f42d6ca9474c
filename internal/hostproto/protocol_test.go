package hostproto

import (
	"testing"
	"time"

	"github.com/mars-low/scoppy-pico/internal/constants"
	"github.com/mars-low/scoppy-pico/internal/model"
	"github.com/mars-low/scoppy-pico/internal/wire"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	inbox  []byte
	outbox []byte
}

func (t *fakeTransport) ReadBytes(p []byte) (int, error) {
	n := copy(p, t.inbox)
	t.inbox = t.inbox[n:]
	return n, nil
}

func (t *fakeTransport) WriteBytes(p []byte) (int, error) {
	t.outbox = append(t.outbox, p...)
	return len(p), nil
}

type fakePWM struct {
	calls int
	last  SigGenRequest
}

func (f *fakePWM) SetSignal(function, gpio uint8, freqHz uint32, dutyPermille uint16) error {
	f.calls++
	f.last = SigGenRequest{Function: function, GPIO: gpio, FreqHz: freqHz, DutyRaw: dutyPermille}
	return nil
}

type fakeFatal struct {
	called bool
	code   int
}

func (f *fakeFatal) Fatal(code int) { f.called = true; f.code = code }

type fakeLogger struct{}

func (fakeLogger) Debugf(string, ...interface{}) {}
func (fakeLogger) Infof(string, ...interface{})  {}
func (fakeLogger) Warnf(string, ...interface{})  {}
func (fakeLogger) Errorf(string, ...interface{}) {}

func TestHostProtocol_PollIncoming_AppliesSyncResponse(t *testing.T) {
	transport := &fakeTransport{}
	pwm := &fakePWM{}
	fatal := &fakeFatal{}
	hp := NewHostProtocol(transport, pwm, fakeIdentity{}, fatal, fakeLogger{})

	payload := syncResponsePayload(0x00, 1, []byte{0x01}, 100, [5]byte{1, 0, 0, 0, 50})
	frame, err := wire.Encode(constants.MsgTypeSyncResponse, 1, payload)
	require.NoError(t, err)
	transport.inbox = frame

	var state model.AppState
	require.NoError(t, hp.PollIncoming(&state))

	require.True(t, hp.Synced())
	require.True(t, state.Channels[0].Enabled)
	require.Equal(t, model.TriggerModeAuto, state.TriggerMode)
	require.True(t, state.AppDirty)
	require.True(t, state.ChannelsDirty)
	require.False(t, fatal.called)
}

func TestHostProtocol_PollIncoming_DispatchesSigGen(t *testing.T) {
	transport := &fakeTransport{}
	pwm := &fakePWM{}
	hp := NewHostProtocol(transport, pwm, fakeIdentity{}, &fakeFatal{}, fakeLogger{})

	payload := []byte{1, 10, 0, 0, 0x03, 0xE8, 0, 0x80}
	frame, err := wire.Encode(constants.MsgTypeSigGen, 1, payload)
	require.NoError(t, err)
	transport.inbox = frame

	var state model.AppState
	require.NoError(t, hp.PollIncoming(&state))
	require.Equal(t, 1, pwm.calls)
	require.Equal(t, uint8(10), pwm.last.GPIO)
}

func TestHostProtocol_PollIncoming_EscalatesFatalAndStopsProcessing(t *testing.T) {
	transport := &fakeTransport{}
	fatal := &fakeFatal{}
	hp := NewHostProtocol(transport, &fakePWM{}, fakeIdentity{}, fatal, fakeLogger{})

	badPayload := syncResponsePayload(0x03, 1, []byte{0x01}, 10, [5]byte{0, 0, 0, 0, 0}) // run_mode=3 invalid
	frame, err := wire.Encode(constants.MsgTypeSyncResponse, 1, badPayload)
	require.NoError(t, err)
	transport.inbox = frame

	var state model.AppState
	err = hp.PollIncoming(&state)
	require.Error(t, err)
	require.True(t, fatal.called)
	require.Equal(t, int(FatalBadAppParams), fatal.code)
}

func TestHostProtocol_MaybeSendSync_BacksOffUntilSynced(t *testing.T) {
	transport := &fakeTransport{}
	hp := NewHostProtocol(transport, &fakePWM{}, fakeIdentity{}, &fakeFatal{}, fakeLogger{})

	base := time.Unix(0, 0)
	last, err := hp.MaybeSendSync(time.Time{}, base)
	require.NoError(t, err)
	require.Equal(t, base, last)
	require.Len(t, transport.outbox, constants.MinFrameSize+18+1) // one SYNC frame: header, 18-byte payload, EOM
	firstLen := len(transport.outbox)

	// Too soon — should not resend.
	last2, err := hp.MaybeSendSync(last, base.Add(10*time.Millisecond))
	require.NoError(t, err)
	require.Equal(t, last, last2)
	require.Len(t, transport.outbox, firstLen)

	// After backoff elapses, resends.
	last3, err := hp.MaybeSendSync(last, base.Add(constants.SyncInitialInterval+time.Millisecond))
	require.NoError(t, err)
	require.True(t, last3.After(last))
	require.Greater(t, len(transport.outbox), firstLen)
}

func TestHostProtocol_SendSamples_WritesFrame(t *testing.T) {
	transport := &fakeTransport{}
	hp := NewHostProtocol(transport, &fakePWM{}, fakeIdentity{}, &fakeFatal{}, fakeLogger{})

	err := hp.SendSamples(SamplesFrameInput{IsLogicMode: true, Data: []byte{1, 2, 3}})
	require.NoError(t, err)
	require.NotEmpty(t, transport.outbox)
	require.Equal(t, byte(constants.SOM), transport.outbox[0])
}
