// Package machine simulates the SMP host the pipeline runs in front
// of. Each CPU is a goroutine draining an inbox; interrupts are posted
// to it and delivered through the attached pipeline whenever the CPU
// has hardware interrupts enabled.
package machine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/frobware/go-ipipe"
	"github.com/frobware/go-ipipe/pipeline"
)

// Nominal frequencies used when the configuration leaves them unset.
const (
	DefaultCPUFreq   = 1_000_000_000
	DefaultTimerFreq = 1_000
	DefaultClockFreq = 1_000_000_000
)

const inboxDepth = 256

// Config describes the simulated machine.
type Config struct {
	// CPUs is the number of CPUs. Zero uses the CPUs the process may
	// run on.
	CPUs      int
	CPUFreq   uint64
	TimerFreq uint64
	ClockFreq uint64
	Logger    *slog.Logger
}

type cpu struct {
	id    int
	inbox chan func()
	flags atomic.Uint64
	cr2   atomic.Uint64

	vectors [256]atomic.Int32

	latchMu sync.Mutex
	latched []uint8

	apicAcks  atomic.Uint64
	halts     atomic.Uint64
	hostExits atomic.Uint64
}

// Machine is a simulated host implementing pipeline.Host.
type Machine struct {
	cfg    Config
	logger *slog.Logger
	cpus   []*cpu
	pic    PIC

	p atomic.Pointer[pipeline.Pipeline]

	mu       sync.RWMutex
	faults   map[ipipe.Event]pipeline.FaultFunc
	fixups   map[uint64]struct{}
	affinity [ipipe.NrIRQs]ipipe.CPUMask
	onFatal  func(cpu int, err *ipipe.FatalError)

	started atomic.Bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

var _ pipeline.Host = (*Machine)(nil)

// New builds a machine. CPUs start with interrupts enabled and the
// standard vector layout.
func New(cfg Config) (*Machine, error) {
	if cfg.CPUs == 0 {
		n, err := onlineCPUs()
		if err != nil {
			return nil, err
		}
		cfg.CPUs = n
	}
	if cfg.CPUs < 1 || cfg.CPUs > ipipe.MaxCPUs {
		return nil, fmt.Errorf("cpu count %d out of range [1, %d]", cfg.CPUs, ipipe.MaxCPUs)
	}
	if cfg.CPUFreq == 0 {
		cfg.CPUFreq = DefaultCPUFreq
	}
	if cfg.TimerFreq == 0 {
		cfg.TimerFreq = DefaultTimerFreq
	}
	if cfg.ClockFreq == 0 {
		cfg.ClockFreq = DefaultClockFreq
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	m := &Machine{
		cfg:    cfg,
		logger: logger.With("component", "machine"),
		faults: make(map[ipipe.Event]pipeline.FaultFunc),
		fixups: make(map[uint64]struct{}),
		stop:   make(chan struct{}),
	}
	for i := range m.affinity {
		m.affinity[i] = ipipe.CPUMaskOf(0)
	}
	m.cpus = make([]*cpu, cfg.CPUs)
	for i := range m.cpus {
		c := &cpu{id: i, inbox: make(chan func(), inboxDepth)}
		c.flags.Store(ipipe.EFlagsIF)
		for v := range c.vectors {
			c.vectors[v].Store(-1)
		}
		for irq := ipipe.IRQ(0); irq < ipipe.NrExternalIRQs; irq++ {
			c.vectors[ipipe.ExternalVectorBase+int(irq)].Store(int32(irq))
		}
		for v := ipipe.FirstSystemVector; v < 0x100; v++ {
			c.vectors[v].Store(int32(ipipe.SystemVectorIRQ(uint8(v))))
		}
		m.cpus[i] = c
	}
	return m, nil
}

// onlineCPUs counts the CPUs in the affinity mask of the process.
func onlineCPUs() (int, error) {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err != nil {
		return 0, fmt.Errorf("sched_getaffinity: %w", err)
	}
	n := set.Count()
	if n > ipipe.MaxCPUs {
		n = ipipe.MaxCPUs
	}
	return n, nil
}

// VectorOf returns the vector an IRQ arrives on.
func VectorOf(irq ipipe.IRQ) (uint8, bool) {
	switch {
	case irq.System():
		return ipipe.SystemIRQVector(irq), true
	case irq < ipipe.NrExternalIRQs:
		return uint8(ipipe.ExternalVectorBase + int(irq)), true
	}
	return 0, false
}

// Attach routes interrupts to p.
func (m *Machine) Attach(p *pipeline.Pipeline) {
	m.p.Store(p)
}

// Start runs one goroutine per CPU until Stop.
func (m *Machine) Start() {
	if !m.started.CompareAndSwap(false, true) {
		return
	}
	for _, c := range m.cpus {
		m.wg.Add(1)
		go m.run(c)
	}
	m.logger.Info("machine started", "cpus", len(m.cpus))
}

// Stop halts every CPU goroutine. Work still queued is dropped.
func (m *Machine) Stop() {
	if !m.started.Load() {
		return
	}
	select {
	case <-m.stop:
		return
	default:
		close(m.stop)
	}
	m.wg.Wait()
	m.logger.Info("machine stopped")
}

func (m *Machine) run(c *cpu) {
	defer m.wg.Done()
	for {
		select {
		case <-m.stop:
			return
		case fn := <-c.inbox:
			fn()
		}
	}
}

// Post queues fn on cpu.
func (m *Machine) Post(cpu int, fn func()) {
	select {
	case m.cpus[cpu].inbox <- fn:
	case <-m.stop:
	}
}

// Exec runs fn on cpu and waits for it. It must not be called from
// cpu itself.
func (m *Machine) Exec(ctx context.Context, cpu int, fn func()) error {
	done := make(chan struct{})
	m.Post(cpu, func() {
		defer close(done)
		fn()
	})
	select {
	case <-done:
		return nil
	case <-m.stop:
		return fmt.Errorf("cpu %d: machine stopped", cpu)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Raise posts a hardware interrupt on vector to cpu.
func (m *Machine) Raise(cpu int, vector uint8) {
	c := m.cpus[cpu]
	m.Post(cpu, func() { m.deliver(c, vector) })
}

// Interrupt delivers a hardware interrupt on vector to cpu from the
// calling goroutine, which must be acting as cpu.
func (m *Machine) Interrupt(cpu int, vector uint8) {
	m.deliver(m.cpus[cpu], vector)
}

// RaiseIRQ asserts a device line at the controller and routes it to
// the first CPU of its affinity.
func (m *Machine) RaiseIRQ(irq ipipe.IRQ) error {
	vector, ok := VectorOf(irq)
	if !ok || irq.System() {
		return ipipe.InvalidIRQError{IRQ: irq, Reason: "not a device line"}
	}
	if !m.pic.Raise(irq) {
		return nil
	}
	m.Raise(m.route(irq), vector)
	return nil
}

func (m *Machine) route(irq ipipe.IRQ) int {
	m.mu.RLock()
	mask := m.affinity[irq]
	m.mu.RUnlock()
	target := -1
	mask.Each(func(cpu int) {
		if target < 0 {
			target = cpu
		}
	})
	return max(target, 0)
}

// deliver enters the pipeline unless the CPU has interrupts off, in
// which case the vector is latched until they are enabled again.
func (m *Machine) deliver(c *cpu, vector uint8) {
	flags := c.flags.Load()
	if flags&ipipe.EFlagsIF == 0 {
		c.latchMu.Lock()
		c.latched = append(c.latched, vector)
		c.latchMu.Unlock()
		return
	}
	m.Deliver(c.id, ipipe.HardwareRegs(vector, flags))
}

// Deliver runs the pipeline entry for regs on cpu with interrupts off,
// then restores the flags of the interrupted context. The caller must
// be acting as cpu.
func (m *Machine) Deliver(cpu int, regs *ipipe.Regs) ipipe.Verdict {
	p := m.p.Load()
	if p == nil {
		m.logger.Warn("interrupt without pipeline", "cpu", cpu, "orig_ax", regs.OrigAX)
		return ipipe.VerdictResume
	}
	c := m.cpus[cpu]
	flags := c.flags.Load()
	c.flags.Store(flags &^ ipipe.EFlagsIF)
	verdict := p.CPU(cpu).HandleIRQ(regs)
	if verdict == ipipe.VerdictHostExit {
		c.hostExits.Add(1)
	}
	m.RestoreFlags(cpu, flags)
	return verdict
}

func (m *Machine) replay(c *cpu) {
	for c.flags.Load()&ipipe.EFlagsIF != 0 {
		c.latchMu.Lock()
		if len(c.latched) == 0 {
			c.latchMu.Unlock()
			return
		}
		vector := c.latched[0]
		c.latched = c.latched[1:]
		c.latchMu.Unlock()
		m.deliver(c, vector)
	}
}

// StartTimer raises irq on CPU 0 at freq Hz until ctx is done.
func (m *Machine) StartTimer(ctx context.Context, irq ipipe.IRQ, freq uint64) error {
	vector, ok := VectorOf(irq)
	if !ok {
		return ipipe.InvalidIRQError{IRQ: irq, Reason: "no vector"}
	}
	if freq == 0 {
		freq = m.cfg.TimerFreq
	}
	period := time.Second / time.Duration(freq)
	go func() {
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stop:
				return
			case <-ticker.C:
				if !irq.System() && !m.pic.Raise(irq) {
					continue
				}
				m.Raise(0, vector)
			}
		}
	}()
	m.logger.Info("timer started", "irq", irq, "freq_hz", freq)
	return nil
}

// Fault posts an exception to cpu.
func (m *Machine) Fault(cpu int, vector ipipe.Event, regs *ipipe.Regs, errorCode int64) {
	m.Post(cpu, func() {
		if p := m.p.Load(); p != nil {
			p.CPU(cpu).HandleException(vector, regs, errorCode)
		}
	})
}

// SetVector maps vector to irq on cpu. A negative irq unmaps it.
func (m *Machine) SetVector(cpu int, vector uint8, irq int32) {
	m.cpus[cpu].vectors[vector].Store(irq)
}

// SetFaultHandler installs the host handler of a fault vector.
func (m *Machine) SetFaultHandler(vector ipipe.Event, fn pipeline.FaultFunc) {
	m.mu.Lock()
	m.faults[vector] = fn
	m.mu.Unlock()
}

// AddFixup registers ip as a fixable faulting instruction.
func (m *Machine) AddFixup(ip uint64) {
	m.mu.Lock()
	m.fixups[ip] = struct{}{}
	m.mu.Unlock()
}

// OnFatal replaces the default fatal path, a panic.
func (m *Machine) OnFatal(fn func(cpu int, err *ipipe.FatalError)) {
	m.mu.Lock()
	m.onFatal = fn
	m.mu.Unlock()
}

// PIC returns the legacy controller.
func (m *Machine) PIC() *PIC { return &m.pic }

// APICAcks returns how many end of interrupts cpu signalled.
func (m *Machine) APICAcks(cpu int) uint64 { return m.cpus[cpu].apicAcks.Load() }

// Halts returns how many times cpu idled.
func (m *Machine) Halts(cpu int) uint64 { return m.cpus[cpu].halts.Load() }

// HostExits returns how many interrupts on cpu left through the host
// exit path.
func (m *Machine) HostExits(cpu int) uint64 { return m.cpus[cpu].hostExits.Load() }

// Affinity returns the routing of a device line.
func (m *Machine) Affinity(irq ipipe.IRQ) ipipe.CPUMask {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.affinity[irq]
}

// pipeline.Host

func (m *Machine) NumCPUs() int { return len(m.cpus) }

func (m *Machine) VectorIRQ(cpu int, vector uint8) (ipipe.IRQ, bool) {
	irq := m.cpus[cpu].vectors[vector].Load()
	if irq < 0 {
		return 0, false
	}
	return ipipe.IRQ(irq), true
}

func (m *Machine) SaveFlags(cpu int) uint64 { return m.cpus[cpu].flags.Load() }

func (m *Machine) RestoreFlags(cpu int, flags uint64) {
	c := m.cpus[cpu]
	c.flags.Store(flags)
	if flags&ipipe.EFlagsIF != 0 {
		m.replay(c)
	}
}

func (m *Machine) DisableIRQs(cpu int) {
	c := m.cpus[cpu]
	c.flags.Store(c.flags.Load() &^ ipipe.EFlagsIF)
}

func (m *Machine) EnableIRQs(cpu int) {
	c := m.cpus[cpu]
	c.flags.Store(c.flags.Load() | ipipe.EFlagsIF)
	m.replay(c)
}

func (m *Machine) IRQsDisabled(cpu int) bool {
	return m.cpus[cpu].flags.Load()&ipipe.EFlagsIF == 0
}

func (m *Machine) AckIRQ(cpu int, irq ipipe.IRQ) { m.pic.Ack(irq) }

func (m *Machine) AckAPIC(cpu int) { m.cpus[cpu].apicAcks.Add(1) }

func (m *Machine) MaskIRQ(irq ipipe.IRQ) { m.pic.Mask(irq) }

func (m *Machine) UnmaskIRQ(irq ipipe.IRQ) {
	if m.pic.Unmask(irq) {
		if vector, ok := VectorOf(irq); ok {
			m.Raise(m.route(irq), vector)
		}
	}
}

func (m *Machine) SetIRQAffinity(irq ipipe.IRQ, mask ipipe.CPUMask) (ipipe.CPUMask, bool) {
	if irq.System() || irq >= ipipe.NrExternalIRQs {
		return 0, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	old := m.affinity[irq]
	m.affinity[irq] = mask
	return old, true
}

func (m *Machine) FaultHandler(vector ipipe.Event) pipeline.FaultFunc {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.faults[vector]
}

func (m *Machine) ReadFaultAddress(cpu int) uint64 { return m.cpus[cpu].cr2.Load() }

func (m *Machine) WriteFaultAddress(cpu int, addr uint64) { m.cpus[cpu].cr2.Store(addr) }

func (m *Machine) SearchExceptionTables(ip uint64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.fixups[ip]
	return ok
}

func (m *Machine) SendIPI(irq ipipe.IRQ, targets ipipe.CPUMask) {
	vector, ok := VectorOf(irq)
	if !ok {
		return
	}
	targets.Each(func(cpu int) {
		if cpu < len(m.cpus) {
			m.Raise(cpu, vector)
		}
	})
}

func (m *Machine) Halt(cpu int) {
	m.cpus[cpu].halts.Add(1)
	m.EnableIRQs(cpu)
}

func (m *Machine) Fatal(cpu int, err *ipipe.FatalError) {
	m.mu.RLock()
	fn := m.onFatal
	m.mu.RUnlock()
	m.logger.Error("fatal condition", "cpu", cpu, "error", err)
	if fn != nil {
		fn(cpu, err)
		return
	}
	panic(err)
}

func (m *Machine) CPUFrequency() uint64 { return m.cfg.CPUFreq }

func (m *Machine) TimerFrequency() uint64 { return m.cfg.TimerFreq }

func (m *Machine) ClockFrequency() uint64 { return m.cfg.ClockFreq }
