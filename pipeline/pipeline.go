// Package pipeline implements the interrupt pipeline: an ordered set
// of domains sitting in front of the host, each owning a virtual
// interrupt mask and a per-IRQ control table, fed by a dispatcher that
// logs interrupts and delivers them in priority order.
//
// Per-CPU operations hang off *CPU and must only be called by code
// running on that CPU. Configuration operations hang off *Pipeline;
// those changing the domain list are performed from a CPU under the
// critical section.
package pipeline

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/frobware/go-ipipe"
)

// Version is the pipeline revision domains check their ABI
// constraint against.
const Version = "2.11.0"

// RootPriority is the priority of the root domain. User domains take
// priorities in [0, RootPriority), lower values being more urgent.
const RootPriority = 100

// MaxDomains bounds the number of live domains, root included.
const MaxDomains = 8

// RootName is the name of the root domain.
const RootName = "root"

// maxFaultNesting is the deepest fault nesting a CPU survives.
const maxFaultNesting = 2

// Pipeline is the interrupt pipeline of one machine.
type Pipeline struct {
	host     Host
	tracer   Tracer
	debug    bool
	timerIRQ ipipe.IRQ

	logger   *slog.Logger
	regLog   *slog.Logger
	dispLog  *slog.Logger
	faultLog *slog.Logger
	ipiLog   *slog.Logger

	rootHandler Handler
	rootAck     Acknowledger
	apicAck     Acknowledger

	cpus []*CPU

	// regMu serializes changes to the domain list, irqMu changes to
	// IRQ tables. Neither is held while waiting for another CPU.
	regMu sync.Mutex
	irqMu sync.Mutex
	slots [MaxDomains]*Domain
	order atomic.Pointer[[]*Domain]
	root  *Domain

	virqMap  atomic.Uint64
	monitors [ipipe.NrEvents]atomic.Int32

	crit critical
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger. Components are tagged below it.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

// WithTracer installs a tracer on the hot path.
func WithTracer(t Tracer) Option {
	return func(p *Pipeline) {
		if t != nil {
			p.tracer = t
		}
	}
}

// WithDebug enables consistency checks and hot path logging.
func WithDebug(debug bool) Option {
	return func(p *Pipeline) { p.debug = debug }
}

// WithTimerIRQ sets the IRQ of the periodic timer.
func WithTimerIRQ(irq ipipe.IRQ) Option {
	return func(p *Pipeline) { p.timerIRQ = irq }
}

// WithRootHandler sets the handler the root domain runs for device
// and system interrupts.
func WithRootHandler(h Handler) Option {
	return func(p *Pipeline) { p.rootHandler = h }
}

// New builds the pipeline for host with the root domain installed and
// every hardware IRQ virtualized for it.
func New(host Host, opts ...Option) (*Pipeline, error) {
	n := host.NumCPUs()
	if n < 1 || n > ipipe.MaxCPUs {
		return nil, fmt.Errorf("unsupported cpu count %d", n)
	}

	p := &Pipeline{
		host:     host,
		tracer:   nopTracer{},
		timerIRQ: ipipe.LegacyTimerIRQ,
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(p)
	}
	if err := checkTickDevice(host, p.timerIRQ); err != nil {
		return nil, err
	}

	p.regLog = p.logger.With("component", "registry")
	p.dispLog = p.logger.With("component", "dispatch")
	p.faultLog = p.logger.With("component", "fault")
	p.ipiLog = p.logger.With("component", "ipi")
	p.logger = p.logger.With("component", "pipeline")

	if p.rootHandler == nil {
		p.rootHandler = HandlerFunc(func(*CPU, ipipe.IRQ, any) {})
	}
	p.rootAck = AckFunc(func(c *CPU, irq ipipe.IRQ) { p.host.AckIRQ(c.id, irq) })
	p.apicAck = AckFunc(func(c *CPU, _ ipipe.IRQ) { p.host.AckAPIC(c.id) })

	p.cpus = make([]*CPU, n)
	for i := range p.cpus {
		p.cpus[i] = &CPU{id: i, p: p}
	}

	p.root = newDomain(p, RootName, 0, RootPriority, 0)
	p.slots[0] = p.root
	order := []*Domain{p.root}
	p.order.Store(&order)
	for _, c := range p.cpus {
		c.current.Store(p.root)
	}

	p.enableRoot()

	p.logger.Info("pipeline enabled",
		"version", Version,
		"cpus", n,
		"timer_irq", p.timerIRQ,
		"debug", p.debug)

	return p, nil
}

// enableRoot virtualizes every hardware IRQ for root. System IRQs are
// acknowledged at the APIC and reserved, except the service IPIs which
// higher layers may reprogram.
func (p *Pipeline) enableRoot() {
	for irq := ipipe.IRQ(0); irq < ipipe.NrIRQs; irq++ {
		desc := &irqDesc{handler: p.rootHandler, ack: p.rootAck, control: ipipe.StdRootMask}
		if irq.System() {
			desc.ack = p.apicAck
		}
		p.root.irqs[irq].Store(desc)
	}
	for _, irq := range []ipipe.IRQ{ipipe.ServiceIPI0, ipipe.ServiceIPI1, ipipe.ServiceIPI2, ipipe.ServiceIPI3} {
		desc := *p.root.desc(irq)
		desc.control &^= ipipe.System
		p.root.irqs[irq].Store(&desc)
	}
	p.hookCriticalIPI(p.root)
}

// checkTickDevice fails unless irq is a hardware IRQ every CPU of
// host has a vector for.
func checkTickDevice(host Host, irq ipipe.IRQ) error {
	if !irq.Valid() || irq.Virtual() {
		return ipipe.InvalidIRQError{IRQ: irq, Reason: "timer must be a hardware irq"}
	}
	for cpu := range host.NumCPUs() {
		routed := false
		for v := range 256 {
			if mapped, ok := host.VectorIRQ(cpu, uint8(v)); ok && mapped == irq {
				routed = true
				break
			}
		}
		if !routed {
			return ipipe.InvalidIRQError{IRQ: irq, Reason: fmt.Sprintf("cannot drive the tick: no vector on cpu %d", cpu)}
		}
	}
	return nil
}

// Host returns the host the pipeline runs on.
func (p *Pipeline) Host() Host { return p.host }

// NumCPUs returns the number of CPUs.
func (p *Pipeline) NumCPUs() int { return len(p.cpus) }

// CPU returns the handle of CPU id.
func (p *Pipeline) CPU(id int) *CPU { return p.cpus[id] }

// CPUs returns every CPU handle.
func (p *Pipeline) CPUs() []*CPU { return append([]*CPU(nil), p.cpus...) }

// TimerIRQ returns the IRQ of the periodic timer.
func (p *Pipeline) TimerIRQ() ipipe.IRQ { return p.timerIRQ }

// Sysinfo returns the calibration data of the pipeline.
func (p *Pipeline) Sysinfo() ipipe.Sysinfo {
	return ipipe.Sysinfo{
		CPUs:      len(p.cpus),
		CPUFreq:   p.host.CPUFrequency(),
		TimerIRQ:  p.timerIRQ,
		TimerFreq: p.host.TimerFrequency(),
		ClockFreq: p.host.ClockFrequency(),
	}
}

// domains returns the ordered index, head first and root last.
func (p *Pipeline) domains() []*Domain {
	return *p.order.Load()
}

func indexOf(order []*Domain, d *Domain) int {
	for i, o := range order {
		if o == d {
			return i
		}
	}
	return -1
}
