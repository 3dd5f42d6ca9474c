// Command scoppy-sim runs the acquisition core against the simulated
// backend (backend.Simulated*), standing in for real RP2040 ADC/PIO
// hardware and a real USB/serial Transport so the engine can be
// exercised end-to-end without a board attached.
//
// Grounded on the teacher's cmd/ublk-mem/main.go: flag parsing,
// SIGINT/SIGTERM shutdown, and a SIGUSR1 goroutine-dump handler, all
// kept in the same shape and retargeted at this module's Core instead
// of a ublk device.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"syscall"
	"time"

	"github.com/mars-low/scoppy-pico"
	"github.com/mars-low/scoppy-pico/backend"
	"github.com/mars-low/scoppy-pico/internal/logging"
)

func main() {
	var (
		verbose  = flag.Bool("v", false, "Verbose output")
		logicMux = flag.Bool("logic", false, "Report as a logic-capable board from startup (informational only; mode is still host-selected)")
		pin      = flag.Bool("pin-cores", false, "Pin Core A/B goroutines to distinct logical CPUs")
	)
	flag.Parse()

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	if *logicMux {
		logger.Info("starting in a logic-capable simulated board configuration")
	}

	transport := backend.NewSimulatedLoopbackTransport()
	sampleSource := backend.NewSimulatedSampleSource()
	adcReader := backend.NewSimulatedADCReader()
	voltage := backend.NewSimulatedVoltageRangeSource()
	pwm := backend.NewSimulatedPWMSink()
	status := backend.NewSimulatedStatusSink()
	identity := backend.SimulatedBoardIdentity{}
	fatal := backend.NewSimulatedFatalSink()

	metrics := scoppy.NewMetrics()
	observer := scoppy.NewMetricsObserver(metrics)

	core := scoppy.NewCore(scoppy.Options{
		Transport:    transport,
		SampleSource: sampleSource,
		ADCReader:    adcReader,
		VoltageRange: voltage,
		PWM:          pwm,
		Status:       status,
		Identity:     identity,
		Fatal:        fatal,
		Logger:       logger,
		Observer:     observer,
		PinCores:     *pin,
	})

	logger.Info("starting simulated acquisition core", "pid", os.Getpid())
	fmt.Printf("scoppy-sim running (pid %d)\n", os.Getpid())
	fmt.Printf("Press Ctrl+C to stop...\n")
	fmt.Printf("Send SIGUSR1 (kill -USR1 %d) to dump goroutine stacks\n", os.Getpid())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErrCh := make(chan error, 1)
	go func() { runErrCh <- core.Run(ctx) }()

	stackDumpCh := make(chan os.Signal, 1)
	signal.Notify(stackDumpCh, syscall.SIGUSR1)
	go func() {
		for range stackDumpCh {
			buf := make([]byte, 1024*1024)
			n := runtime.Stack(buf, true)
			fmt.Fprintf(os.Stderr, "\n=== GOROUTINE STACK DUMP ===\n%s\n=== END ===\n\n", buf[:n])
			pprof.Lookup("goroutine").WriteTo(os.Stderr, 2)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info("received shutdown signal")
		cancel()
	case err := <-runErrCh:
		if err != nil {
			logger.Error("acquisition core exited with error", "err", err)
			os.Exit(1)
		}
		return
	}

	select {
	case <-runErrCh:
	case <-time.After(1 * time.Second):
		logger.Info("shutdown timeout, forcing exit")
	}

	select {
	case <-fatal.Halted():
		logger.Error("simulated board entered fatal halt", "code", fatal.Code())
		os.Exit(1)
	default:
	}

	snap := metrics.Snapshot()
	logger.Info("final metrics",
		"acquisition_cycles", snap.AcquisitionCycles,
		"frames_sent", snap.FramesSent,
		"bytes_emitted", snap.BytesEmitted,
		"restarts", snap.Restarts)
}
