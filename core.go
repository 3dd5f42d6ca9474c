// Package scoppy wires the acquisition engine's two simulated cores
// together (spec.md §1, §4.7, §5): Core A runs the HostProtocol/
// Supervisor control loop, Core B runs whichever sampler strategy the
// Supervisor's last barrier crossing selected. Each core is modeled as
// a goroutine (pinned to its own logical CPU when Options.PinCores is
// set), mirroring the RP2040's
// two physical cores the way the teacher pinned ublk queue workers to
// io_uring rings (backend.go CreateAndServe).
package scoppy

import (
	"context"
	"runtime"
	"time"

	"golang.org/x/sys/unix"

	"github.com/mars-low/scoppy-pico/internal/constants"
	"github.com/mars-low/scoppy-pico/internal/hostproto"
	"github.com/mars-low/scoppy-pico/internal/interfaces"
	"github.com/mars-low/scoppy-pico/internal/logging"
	"github.com/mars-low/scoppy-pico/internal/model"
	"github.com/mars-low/scoppy-pico/internal/planner"
	"github.com/mars-low/scoppy-pico/internal/sampler"
)

// Options carries every out-of-scope hardware collaborator a Core
// needs, plus the ambient logger/observer (spec.md §1).
type Options struct {
	Transport    interfaces.Transport
	SampleSource interfaces.SampleSource
	ADCReader    interfaces.ADCReader
	VoltageRange interfaces.VoltageRangeSource
	PWM          interfaces.PWMSink
	Status       interfaces.StatusSink
	Identity     interfaces.BoardIdentity
	Fatal        interfaces.FatalSink
	Logger       interfaces.Logger
	Observer     interfaces.Observer

	// SysClockHz overrides the RP2040 default system clock the Planner
	// assumes; 0 means constants.DefaultSysClockHz.
	SysClockHz uint32

	// PinCores, when true, pins Core A/B goroutines to distinct logical
	// CPUs via SchedSetaffinity. Left false in tests and on platforms
	// without enough CPUs, where pinning would only produce spurious
	// errors (spec.md §9 "Non-goal: ...does not model exact cycle
	// timing").
	PinCores bool
}

func (o *Options) fillDefaults() {
	if o.Logger == nil {
		o.Logger = logging.Default()
	}
	if o.Observer == nil {
		o.Observer = NoOpObserver{}
	}
}

// Core is the top-level handle for one running acquisition engine
// instance (spec.md §1 — everything this module owns).
type Core struct {
	opts       Options
	proto      *hostproto.HostProtocol
	planner    *planner.Planner
	barrier    *hostproto.Barrier
	supervisor *hostproto.Supervisor
}

// NewCore constructs a Core from Options. It does not start any
// goroutines; call Run for that.
func NewCore(opts Options) *Core {
	opts.fillDefaults()

	pl := &planner.Planner{SysClockHz: opts.SysClockHz}
	barrier := hostproto.NewBarrier()
	proto := hostproto.NewHostProtocol(opts.Transport, opts.PWM, opts.Identity, opts.Fatal, opts.Logger)
	supervisor := hostproto.NewSupervisor(proto, pl, barrier, opts.VoltageRange, opts.Logger, opts.Observer)

	return &Core{
		opts:       opts,
		proto:      proto,
		planner:    pl,
		barrier:    barrier,
		supervisor: supervisor,
	}
}

// Run starts Core A and Core B and blocks until ctx is cancelled or
// one of them returns an error (spec.md §4.7).
func (c *Core) Run(ctx context.Context) error {
	errCh := make(chan error, 2)

	go func() {
		if c.opts.PinCores {
			pinToCPU(0)
		}
		errCh <- c.supervisor.Run(ctx)
	}()

	go func() {
		if c.opts.PinCores {
			pinToCPU(1)
		}
		errCh <- c.runCoreB(ctx)
	}()

	var first error
	for i := 0; i < 2; i++ {
		if err := <-errCh; err != nil && err != context.Canceled && first == nil {
			first = err
		}
	}
	return first
}

// pinToCPU locks the calling goroutine to its current OS thread and
// restricts that thread to the given logical CPU (spec.md §9's "two
// independent execution contexts" note). Errors are deliberately
// swallowed: a development machine with fewer CPUs than the RP2040
// model, or without CAP_SYS_NICE, still needs to run the simulation.
func pinToCPU(cpu int) {
	runtime.LockOSThread()
	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)
	_ = unix.SchedSetaffinity(0, &set)
}

// runCoreB is the Core-B loop (spec.md §4.5, §4.6, §5): it owns
// whichever sampler the last barrier crossing selected, forwards its
// output as SAMPLES frames, and swaps samplers whenever the Supervisor
// requests a restart.
func (c *Core) runCoreB(ctx context.Context) error {
	var cont *sampler.ContinuousSampler
	var noncont *sampler.NonContinuousSampler
	var framesCh <-chan sampler.Emission
	var singleDoneCh <-chan struct{}
	var active model.SamplingParams
	var cycleStart time.Time

	stopCurrent := func() {
		if cont != nil {
			cont.Stop()
			cont = nil
		}
		if noncont != nil {
			noncont.Stop()
			noncont = nil
			framesCh = nil
			singleDoneCh = nil
		}
	}
	defer stopCurrent()

	startFor := func(params model.SamplingParams) {
		active = params
		cycleStart = time.Now()
		switch params.Mode {
		case model.StrategyContinuous:
			cont = sampler.NewContinuousSampler(c.opts.ADCReader, params, c.opts.Logger)
			cont.Start()
		case model.StrategyNonContinuous:
			noncont = sampler.NewNonContinuousSampler(c.opts.SampleSource, params, c.opts.Logger)
			framesCh = noncont.Frames()
			singleDoneCh = noncont.Done()
			go func(s *sampler.NonContinuousSampler) {
				if err := s.Run(ctx); err != nil && c.opts.Logger != nil {
					c.opts.Logger.Errorf("core b: sampler run: %v", err)
				}
			}(noncont)
		case model.StrategyNull:
			// Idle: nothing runs until the next barrier crossing.
		}
	}

	drainTicker := time.NewTicker(constants.FrameRateCap)
	defer drainTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case req := <-c.barrier.Requests():
			stopCurrent()
			startFor(req.Params)
			if err := c.barrier.Ack(ctx); err != nil {
				return err
			}

		case <-drainTicker.C:
			if cont == nil {
				continue
			}
			dest := make([]byte, active.NumBytesToSend)
			n, newWavepoint := cont.Drain(dest)
			if n == 0 {
				continue
			}
			c.sendSamples(active, dest[:n], -2, newWavepoint, true)

		case e, ok := <-framesCh:
			if !ok {
				framesCh = nil
				continue
			}
			c.sendSamples(active, e.Data, e.TriggerIndex, e.NewWavepoint, e.LastInFrame)
			if e.LastInFrame {
				c.opts.Observer.ObserveAcquisitionCycle(time.Since(cycleStart), len(e.Data), e.TriggerIndex >= 0)
				cycleStart = time.Now()
			}

		case <-singleDoneCh:
			singleDoneCh = nil
			c.supervisor.NotifySingleShotComplete()
		}
	}
}

func (c *Core) sendSamples(params model.SamplingParams, data []byte, triggerIdx int32, newWavepoint, lastInFrame bool) {
	in := hostproto.SamplesFrameInput{
		Channels:       params.Channels,
		IsLogicMode:    params.IsLogicMode,
		RealSampleRate: params.RealSRPerChannel,
		TriggerIndex:   triggerIdx,
		NewWavepoint:   newWavepoint,
		LastInFrame:    lastInFrame,
		Continuous:     params.Mode == model.StrategyContinuous,
		SingleShot:     params.RunMode == model.RunModeSingle,
		Data:           data,
	}
	if err := c.proto.SendSamples(in); err != nil && c.opts.Logger != nil {
		c.opts.Logger.Warnf("core b: send samples failed: %v", err)
	}
	c.opts.Observer.ObserveFrameSent(len(data))
}

// State returns a snapshot of the host-declared AppState (for tests
// and status reporting).
func (c *Core) State() model.AppState { return c.supervisor.State() }

// ActiveParams returns a snapshot of the last SamplingParams Core B
// adopted.
func (c *Core) ActiveParams() model.SamplingParams { return c.supervisor.Active() }
