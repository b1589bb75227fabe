package pipeline

import (
	"runtime"
	"sync/atomic"

	"github.com/frobware/go-ipipe"
	"github.com/frobware/go-ipipe/irqflags"
)

// domainState is the status of one domain on one CPU.
type domainState struct {
	stalled atomic.Bool
	pending irqLog
	held    irqLog
	hits    [ipipe.NrTotalIRQs]atomic.Uint64
}

func (st *domainState) reset() {
	st.stalled.Store(false)
	st.pending.reset()
	st.held.reset()
	for i := range st.hits {
		st.hits[i].Store(0)
	}
}

// CPU is the per-CPU handle of the pipeline. Its methods act on the
// CPU they are called for and must run on it.
type CPU struct {
	id      int
	p       *Pipeline
	current atomic.Pointer[Domain]
	state   [MaxDomains]domainState

	tick       ipipe.Regs
	faultDepth int
}

// ID returns the CPU number.
func (c *CPU) ID() int { return c.id }

// Pipeline returns the pipeline c belongs to.
func (c *CPU) Pipeline() *Pipeline { return c.p }

// Current returns the domain running on c.
func (c *CPU) Current() *Domain { return c.current.Load() }

func (c *CPU) setCurrent(d *Domain) { c.current.Store(d) }

func (c *CPU) stateOf(d *Domain) *domainState { return &c.state[d.slot] }

// TickRegs returns the register snapshot of the last timer interrupt.
func (c *CPU) TickRegs() ipipe.Regs { return c.tick }

// Stall sets the stall bit of the current domain.
func (c *CPU) Stall() { c.StallDomain(c.Current()) }

// StallDomain sets the stall bit of d on c.
func (c *CPU) StallDomain(d *Domain) { c.stateOf(d).stalled.Store(true) }

// Unstall clears the stall bit of the current domain and delivers
// whatever got logged meanwhile.
func (c *CPU) Unstall() { c.UnstallDomain(c.Current()) }

// UnstallDomain clears the stall bit of d on c. Pending interrupts of
// the current domain are synchronized in place; for another domain
// the pipeline is walked from d down to the current domain.
func (c *CPU) UnstallDomain(d *Domain) {
	st := c.stateOf(d)
	st.stalled.Store(false)
	if !st.pending.any() {
		return
	}
	flags := c.hwSave()
	if d == c.Current() {
		c.syncStage()
	} else {
		order := c.p.domains()
		if pos := indexOf(order, d); pos >= 0 {
			c.walk(order, pos)
		}
	}
	c.hwRestore(flags)
}

// TestStall reports whether the current domain is stalled.
func (c *CPU) TestStall() bool { return c.TestStallDomain(c.Current()) }

// TestStallDomain reports whether d is stalled on c.
func (c *CPU) TestStallDomain(d *Domain) bool { return c.stateOf(d).stalled.Load() }

// TestAndStall stalls the current domain and returns its previous
// stall state.
func (c *CPU) TestAndStall() bool { return c.TestAndStallDomain(c.Current()) }

// TestAndStallDomain stalls d and returns its previous stall state.
func (c *CPU) TestAndStallDomain(d *Domain) bool { return c.stateOf(d).stalled.Swap(true) }

// SaveFlags returns the hardware flags of c with the stall bit of the
// current domain mangled in.
func (c *CPU) SaveFlags() uint64 {
	return irqflags.Mangle(c.TestStall(), c.p.host.SaveFlags(c.id))
}

// RestoreFlags restores the stall bit saved by SaveFlags. Only the
// virtual part is applied.
func (c *CPU) RestoreFlags(x uint64) { c.RestoreDomain(c.Current(), x) }

// RestoreDomain applies the virtual part of x to d.
func (c *CPU) RestoreDomain(d *Domain, x uint64) {
	if stalled, _ := irqflags.Demangle(x); stalled {
		c.StallDomain(d)
	} else {
		c.UnstallDomain(d)
	}
}

// StallRoot stalls the root domain.
func (c *CPU) StallRoot() { c.StallDomain(c.p.root) }

// UnstallRoot unstalls the root domain.
func (c *CPU) UnstallRoot() { c.UnstallDomain(c.p.root) }

// TestRoot reports whether root is stalled.
func (c *CPU) TestRoot() bool { return c.TestStallDomain(c.p.root) }

// RestoreRoot stalls or unstalls root.
func (c *CPU) RestoreRoot(stalled bool) {
	if stalled {
		c.StallRoot()
	} else {
		c.UnstallRoot()
	}
}

// restoreRootNosync sets the root stall bit from flags without
// delivering anything.
func (c *CPU) restoreRootNosync(flags uint64) {
	c.stateOf(c.p.root).stalled.Store(irqflags.StallFromFlags(flags))
}

// LocalSaveFlags returns the flags word the root domain sees: IF is
// set unless root is stalled.
func (c *CPU) LocalSaveFlags() uint64 {
	return irqflags.FlagsFromStall(c.TestRoot())
}

// HaltRoot emulates sti+hlt over the root domain: root is unstalled
// and whatever it has pending runs, otherwise the CPU idles.
func (c *CPU) HaltRoot() {
	h := c.p.host
	h.DisableIRQs(c.id)
	st := c.stateOf(c.p.root)
	st.stalled.Store(false)
	if st.pending.any() {
		c.syncStage()
		h.EnableIRQs(c.id)
		return
	}
	h.Halt(c.id)
}

// Enter runs fn on c with d as the current domain, then switches back
// and delivers what fn left pending.
func (c *CPU) Enter(d *Domain, fn func(c *CPU)) {
	flags := c.hwSave()
	prev := c.Current()
	c.setCurrent(d)
	c.hwRestore(flags)

	fn(c)

	flags = c.hwSave()
	if c.Current() == d {
		c.setCurrent(prev)
	}
	order := c.p.domains()
	start := indexOf(order, c.Current())
	if pos := indexOf(order, d); pos >= 0 && pos < start {
		start = pos
	}
	if start >= 0 {
		c.walk(order, start)
	}
	c.hwRestore(flags)
}

func (c *CPU) hwSave() uint64 {
	flags := c.p.host.SaveFlags(c.id)
	c.p.host.DisableIRQs(c.id)
	return flags
}

func (c *CPU) hwRestore(flags uint64) {
	c.p.host.RestoreFlags(c.id, flags)
}

// lockRegistry takes the registry lock, answering critical requests
// from other CPUs while it waits.
func (c *CPU) lockRegistry() {
	for !c.p.regMu.TryLock() {
		c.serviceCritical()
		runtime.Gosched()
	}
}
