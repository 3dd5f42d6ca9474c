package hostproto

import (
	"context"
	"time"

	"github.com/mars-low/scoppy-pico/internal/interfaces"
	"github.com/mars-low/scoppy-pico/internal/model"
	"github.com/mars-low/scoppy-pico/internal/planner"
)

// BarrierRequest is what Core A sends across the inter-core FIFO to
// ask Core B to stop sampling under the dormant-params swap protocol
// (spec.md §4.7 steps 3-6, §5).
type BarrierRequest struct {
	// Params is the new SamplingParams to adopt once Core B has
	// stopped.
	Params model.SamplingParams
}

// BarrierAck is Core B's reply once it has stopped its current
// sampler and is ready for Core A to publish the new params and
// restart it.
type BarrierAck struct{}

// Barrier is the strictly-alternating, single-in-flight inter-core
// FIFO (spec.md §5): Core A sends at most one BarrierRequest before
// waiting for the matching BarrierAck. Unbuffered channels model the
// hardware FIFO's blocking handoff more faithfully than a buffered
// queue would; constants.InterCoreQueueDepth is not used here.
type Barrier struct {
	requests chan BarrierRequest
	acks     chan BarrierAck
}

// NewBarrier constructs an empty Barrier.
func NewBarrier() *Barrier {
	return &Barrier{
		requests: make(chan BarrierRequest),
		acks:     make(chan BarrierAck),
	}
}

// SendRestart blocks until Core B receives the request (Core A side).
func (b *Barrier) SendRestart(ctx context.Context, req BarrierRequest) error {
	select {
	case b.requests <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitAck blocks until Core B acknowledges (Core A side).
func (b *Barrier) WaitAck(ctx context.Context) error {
	select {
	case <-b.acks:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Requests exposes the request channel for Core B's select loop.
func (b *Barrier) Requests() <-chan BarrierRequest { return b.requests }

// Ack sends the acknowledgement (Core B side).
func (b *Barrier) Ack(ctx context.Context) error {
	select {
	case b.acks <- BarrierAck{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// restartFields lists the SamplingParams fields whose change forces a
// Core B restart (spec.md §4.7 step 2): everything that changes DMA
// geometry, clock divider, or channel wiring. Trigger and
// pre/post-trigger byte splits are deliberately excluded — the
// non-continuous sampler re-reads TriggerMode/Level/etc and the
// pre/post split out of the *active* SamplingParams each cycle, so
// changing only those doesn't require stopping the DMA chain.
func restartRequired(active, dormant model.SamplingParams) bool {
	return active.ClkdivInt != dormant.ClkdivInt ||
		active.EnabledChannels != dormant.EnabledChannels ||
		active.BytesPerSample != dormant.BytesPerSample ||
		active.ChunkSize != dormant.ChunkSize ||
		active.IsLogicMode != dormant.IsLogicMode ||
		active.Mode != dormant.Mode ||
		active.NumBytesToSend != dormant.NumBytesToSend
}

// Supervisor is the Core A control loop (spec.md §4.7): it drains host
// messages, recomputes SamplingParams via Planner whenever AppState or
// ChannelsDirty changed, and drives the restart barrier whenever the
// recomputed params differ from what Core B is actively running.
type Supervisor struct {
	proto   *HostProtocol
	planner *planner.Planner
	barrier *Barrier
	voltage interfaces.VoltageRangeSource
	log     interfaces.Logger
	obs     interfaces.Observer

	state  model.AppState
	active model.SamplingParams

	lastSyncAttempt time.Time
	singleShotCh    chan struct{}
}

// NewSupervisor constructs a Supervisor with the device's boot-default
// AppState (spec.md §4.7).
func NewSupervisor(proto *HostProtocol, pl *planner.Planner, barrier *Barrier, voltage interfaces.VoltageRangeSource, log interfaces.Logger, obs interfaces.Observer) *Supervisor {
	return &Supervisor{
		proto:        proto,
		planner:      pl,
		barrier:      barrier,
		voltage:      voltage,
		log:          log,
		obs:          obs,
		state:        model.DefaultAppState(),
		singleShotCh: make(chan struct{}, 1),
	}
}

// NotifySingleShotComplete tells the Supervisor that Core B's SINGLE-mode
// acquisition cycle has finished, so run_mode should transition to STOP
// (spec.md §8 property 12). Safe to call from Core B's goroutine.
func (s *Supervisor) NotifySingleShotComplete() {
	select {
	case s.singleShotCh <- struct{}{}:
	default:
	}
}

// Run executes the Core A loop until ctx is cancelled (spec.md §4.7).
// Each iteration: sends SYNC if not yet synced, drains queued incoming
// messages, refreshes voltage ranges when channels changed, recomputes
// SamplingParams, and crosses the restart barrier if required.
func (s *Supervisor) Run(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.step(ctx); err != nil {
				return err
			}
		}
	}
}

func (s *Supervisor) step(ctx context.Context) error {
	now := time.Now()
	sent, err := s.proto.MaybeSendSync(s.lastSyncAttempt, now)
	if err != nil {
		s.log.Warnf("supervisor: sync send failed: %v", err)
	}
	s.lastSyncAttempt = sent

	if err := s.proto.PollIncoming(&s.state); err != nil {
		s.log.Warnf("supervisor: incoming poll failed: %v", err)
	}

	select {
	case <-s.singleShotCh:
		s.state.RunMode = model.RunModeStop
		s.state.AppDirty = true
	default:
	}

	if !s.state.AppDirty && !s.state.ChannelsDirty {
		return nil
	}

	if s.state.ChannelsDirty && s.voltage != nil {
		for ch := range s.state.Channels {
			if !s.state.Channels[ch].Enabled {
				continue
			}
			r, err := s.voltage.ReadVoltageRange(ch)
			if err != nil {
				s.log.Warnf("supervisor: voltage range read failed for channel %d: %v", ch, err)
				continue
			}
			s.state.Channels[ch].VoltageRange = r
		}
	}

	dormant := s.planner.Plan(s.state)
	s.state.AppDirty = false
	s.state.ChannelsDirty = false

	if s.state.ResyncRequired || restartRequired(s.active, dormant) {
		reason := "params changed"
		if s.state.ResyncRequired {
			reason = "mode resync required"
		}
		s.obs.ObserveRestart(reason)
		if err := s.barrier.SendRestart(ctx, BarrierRequest{Params: dormant}); err != nil {
			return err
		}
		if err := s.barrier.WaitAck(ctx); err != nil {
			return err
		}
		s.state.ResyncRequired = false
	}
	s.active = dormant

	return nil
}

// State returns a copy of the current AppState (for tests/inspection).
func (s *Supervisor) State() model.AppState { return s.state }

// Active returns a copy of the last-published SamplingParams.
func (s *Supervisor) Active() model.SamplingParams { return s.active }
