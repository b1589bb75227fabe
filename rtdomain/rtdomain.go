// Package rtdomain runs the domains a daemon configuration declares.
// Each domain registers at its priority, virtualizes its IRQs with the
// configured mode and counts the interrupts it receives per CPU.
package rtdomain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/frobware/go-ipipe"
	"github.com/frobware/go-ipipe/config"
	"github.com/frobware/go-ipipe/pipeline"
)

// Executor runs functions on a given CPU.
type Executor interface {
	Exec(ctx context.Context, cpu int, fn func()) error
}

// Domain is a running counting domain.
type Domain struct {
	name   string
	mode   ipipe.ControlFlags
	irqs   []ipipe.IRQ
	domain *pipeline.Domain
	counts []atomic.Uint64 // indexed by cpu*NrTotalIRQs + irq
}

// Name returns the domain name.
func (d *Domain) Name() string { return d.name }

// Mode returns the control mode of the domain's IRQs.
func (d *Domain) Mode() ipipe.ControlFlags { return d.mode }

// IRQs returns the IRQs the domain virtualized.
func (d *Domain) IRQs() []ipipe.IRQ { return append([]ipipe.IRQ(nil), d.irqs...) }

// Pipeline returns the underlying pipeline domain.
func (d *Domain) Pipeline() *pipeline.Domain { return d.domain }

func (d *Domain) handle(c *pipeline.CPU, irq ipipe.IRQ, _ any) {
	d.counts[c.ID()*int(ipipe.NrTotalIRQs)+int(irq)].Add(1)
}

// Count returns the deliveries of irq on cpu.
func (d *Domain) Count(cpu int, irq ipipe.IRQ) uint64 {
	i := cpu*int(ipipe.NrTotalIRQs) + int(irq)
	if cpu < 0 || !irq.Valid() || i >= len(d.counts) {
		return 0
	}
	return d.counts[i].Load()
}

// Total returns the deliveries of irq across CPUs.
func (d *Domain) Total(irq ipipe.IRQ) uint64 {
	var n uint64
	for cpu := 0; cpu*int(ipipe.NrTotalIRQs) < len(d.counts); cpu++ {
		n += d.Count(cpu, irq)
	}
	return n
}

// Set is the collection of domains started from one configuration.
type Set struct {
	exec    Executor
	p       *pipeline.Pipeline
	logger  *slog.Logger
	domains []*Domain
}

// Start registers every configured domain, in order, from CPU 0. If
// any step fails, everything registered so far is torn down and the
// error is returned joined with any rollback failure.
func Start(ctx context.Context, exec Executor, p *pipeline.Pipeline, cfgs []config.DomainConfig, logger *slog.Logger) (*Set, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Set{exec: exec, p: p, logger: logger.With("component", "rtdomain")}

	var undo undoStack
	for _, cfg := range cfgs {
		d, err := s.start(ctx, cfg, &undo)
		if err != nil {
			if rbErr := undo.rollback(s.logger); rbErr != nil {
				return nil, errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
			}
			return nil, err
		}
		s.domains = append(s.domains, d)
	}
	return s, nil
}

func (s *Set) start(ctx context.Context, cfg config.DomainConfig, undo *undoStack) (*Domain, error) {
	mode, err := cfg.ControlMode()
	if err != nil {
		return nil, fmt.Errorf("domain %s: %w", cfg.Name, err)
	}
	d := &Domain{
		name:   cfg.Name,
		mode:   mode,
		counts: make([]atomic.Uint64, s.p.NumCPUs()*int(ipipe.NrTotalIRQs)),
	}

	type registered struct {
		domain *pipeline.Domain
		err    error
	}
	result := make(chan registered, 1)
	if err := s.exec.Exec(ctx, 0, func() {
		pd, err := s.p.CPU(0).Register(pipeline.DomainAttr{
			Name:     cfg.Name,
			Priority: cfg.Priority,
			ABI:      cfg.ABI,
		})
		result <- registered{pd, err}
	}); err != nil {
		return nil, fmt.Errorf("domain %s: %w", cfg.Name, err)
	}
	r := <-result
	if r.err != nil {
		return nil, r.err
	}
	d.domain = r.domain
	undo.push("unregister domain "+cfg.Name, func() error { return s.unregister(context.WithoutCancel(ctx), d) })

	for _, v := range cfg.IRQs {
		irq := ipipe.IRQ(v)
		if err := s.p.VirtualizeIRQ(d.domain, irq, pipeline.HandlerFunc(d.handle), nil, nil, mode); err != nil {
			return nil, fmt.Errorf("domain %s: %w", cfg.Name, err)
		}
		d.irqs = append(d.irqs, irq)
		undo.push(fmt.Sprintf("unvirtualize IRQ %d of %s", irq, cfg.Name), func() error { return s.p.UnvirtualizeIRQ(d.domain, irq) })
	}

	s.logger.Info("started domain", "name", d.name, "priority", cfg.Priority, "mode", mode.String(), "irqs", len(d.irqs))
	return d, nil
}

func (s *Set) unregister(ctx context.Context, d *Domain) error {
	result := make(chan error, 1)
	if err := s.exec.Exec(ctx, 0, func() { result <- s.p.CPU(0).Unregister(d.domain) }); err != nil {
		return err
	}
	return <-result
}

// Domains returns the started domains, in configuration order.
func (s *Set) Domains() []*Domain { return append([]*Domain(nil), s.domains...) }

// Get returns the domain called name.
func (s *Set) Get(name string) (*Domain, bool) {
	for _, d := range s.domains {
		if d.name == name {
			return d, true
		}
	}
	return nil, false
}

// Stop unregisters every domain, last started first.
func (s *Set) Stop(ctx context.Context) error {
	var errs []error
	for i := len(s.domains) - 1; i >= 0; i-- {
		d := s.domains[i]
		for _, irq := range d.irqs {
			if err := s.p.UnvirtualizeIRQ(d.domain, irq); err != nil {
				errs = append(errs, err)
			}
		}
		if err := s.unregister(ctx, d); err != nil {
			errs = append(errs, fmt.Errorf("domain %s: %w", d.name, err))
			continue
		}
		s.logger.Info("stopped domain", "name", d.name)
	}
	s.domains = nil
	return errors.Join(errs...)
}
