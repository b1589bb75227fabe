package server

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/frobware/go-ipipe"
	"github.com/frobware/go-ipipe/config"
	"github.com/frobware/go-ipipe/machine"
	"github.com/frobware/go-ipipe/pipeline"
	"github.com/frobware/go-ipipe/rtdomain"
	"github.com/frobware/go-ipipe/trace"
)

// RuntimeEnv is a running machine with its pipeline, recorder and
// configured domains.
type RuntimeEnv struct {
	Machine  *machine.Machine
	Pipeline *pipeline.Pipeline
	// Recorder is nil when tracing is disabled.
	Recorder *trace.Recorder
	Domains  *rtdomain.Set

	logger *slog.Logger
}

// SetupRuntimeEnv builds the machine described by cfg, attaches a
// pipeline to it, starts its CPUs and registers the configured
// domains. Frozen traces are saved to sink. The timer is not started.
func SetupRuntimeEnv(ctx context.Context, cfg config.Config, sink trace.Sink, logger *slog.Logger) (*RuntimeEnv, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pc := cfg.Pipeline

	m, err := machine.New(machine.Config{
		CPUs:      pc.CPUs,
		CPUFreq:   pc.CPUFreqHz,
		TimerFreq: pc.TimerFreqHz,
		ClockFreq: pc.ClockFreqHz,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("machine: %w", err)
	}

	opts := []pipeline.Option{
		pipeline.WithLogger(logger),
		pipeline.WithDebug(pc.Debug),
		pipeline.WithTimerIRQ(ipipe.IRQ(pc.TimerIRQ)),
	}
	env := &RuntimeEnv{Machine: m, logger: logger}
	if cfg.Trace.Enabled {
		recOpts := []trace.Option{trace.WithLogger(logger)}
		if sink != nil {
			recOpts = append(recOpts, trace.WithSink(sink))
		}
		env.Recorder = trace.NewRecorder(m.NumCPUs(), cfg.Trace.Depth, recOpts...)
		opts = append(opts, pipeline.WithTracer(env.Recorder))
	} else {
		logger.Info("tracing disabled")
	}

	p, err := pipeline.New(m, opts...)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	env.Pipeline = p
	m.Attach(p)
	m.Start()

	env.Domains, err = rtdomain.Start(ctx, m, p, cfg.Domains, logger)
	if err != nil {
		m.Stop()
		return nil, fmt.Errorf("start domains: %w", err)
	}
	return env, nil
}

// Close unregisters the configured domains and stops the CPUs.
func (e *RuntimeEnv) Close(ctx context.Context) error {
	err := e.Domains.Stop(ctx)
	if err != nil {
		e.logger.Error("stopping domains failed", "error", err)
	}
	e.Machine.Stop()
	return err
}
