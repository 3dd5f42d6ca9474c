package hostproto

import (
	"context"
	"testing"
	"time"

	"github.com/mars-low/scoppy-pico/internal/model"
	"github.com/mars-low/scoppy-pico/internal/planner"
	"github.com/stretchr/testify/require"
)

func TestRestartRequired_DetectsClkdivAndChannelChanges(t *testing.T) {
	a := model.SamplingParams{ClkdivInt: 10, EnabledChannels: 0x01}
	b := a
	require.False(t, restartRequired(a, b))

	b.ClkdivInt = 11
	require.True(t, restartRequired(a, b))

	b = a
	b.EnabledChannels = 0x03
	require.True(t, restartRequired(a, b))
}

func TestRestartRequired_IgnoresTriggerAndPrePostSplit(t *testing.T) {
	a := model.SamplingParams{ClkdivInt: 10, MinPreTriggerBytes: 100, MinPostTriggerBytes: 900, TriggerLevel: 1}
	b := a
	b.MinPreTriggerBytes = 500
	b.MinPostTriggerBytes = 500
	b.TriggerLevel = 200
	require.False(t, restartRequired(a, b))
}

func TestBarrier_RequestAckRoundTrip(t *testing.T) {
	b := NewBarrier()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		req := <-b.Requests()
		require.Equal(t, uint32(42), req.Params.ClkdivInt)
		require.NoError(t, b.Ack(ctx))
		close(done)
	}()

	require.NoError(t, b.SendRestart(ctx, BarrierRequest{Params: model.SamplingParams{ClkdivInt: 42}}))
	require.NoError(t, b.WaitAck(ctx))
	<-done
}

func TestSupervisor_StepCrossesBarrierWhenRunModeChangesToRun(t *testing.T) {
	transport := &fakeTransport{}
	hp := NewHostProtocol(transport, &fakePWM{}, fakeIdentity{}, &fakeFatal{}, fakeLogger{})
	pl := &planner.Planner{SysClockHz: 125_000_000}
	barrier := NewBarrier()
	sup := NewSupervisor(hp, pl, barrier, nil, fakeLogger{}, noopObserver{})

	// Force a dirty state as if a SYNC_RESPONSE just arrived requesting RUN.
	st := sup.State()
	st.RunMode = model.RunModeRun
	st.AppDirty = true
	sup.state = st

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	stepDone := make(chan error, 1)
	go func() { stepDone <- sup.step(ctx) }()

	req := <-barrier.Requests()
	require.NotEqual(t, model.StrategyNull, req.Params.Mode)
	require.NoError(t, barrier.Ack(ctx))

	require.NoError(t, <-stepDone)
	require.Equal(t, req.Params.Mode, sup.Active().Mode)
}

type noopObserver struct{}

func (noopObserver) ObserveAcquisitionCycle(time.Duration, int, bool) {}
func (noopObserver) ObserveDiscardedSamples(uint32)                    {}
func (noopObserver) ObserveRestart(string)                             {}
func (noopObserver) ObserveFrameSent(int)                              {}
func (noopObserver) ObserveTriggerSearch(int, bool)                    {}
