package pipeline

import (
	"context"
	"fmt"

	"github.com/frobware/go-ipipe"
	"github.com/frobware/go-ipipe/logging"
)

var traceLevel = logging.LevelTrace.ToSlog()

// HandleIRQ is the pipeline entry for every interrupt, with hardware
// interrupts off. The IRQ is logged for each domain handling it down
// to the first one that does not pass it, then whatever may run is
// delivered in priority order down to the interrupted domain.
func (c *CPU) HandleIRQ(regs *ipipe.Regs) ipipe.Verdict {
	p := c.p

	var irq ipipe.IRQ
	acked := regs.SelfTriggered()
	if acked {
		irq = ipipe.IRQ(regs.OrigAX)
	} else {
		vector := regs.Vector()
		mapped, ok := p.host.VectorIRQ(c.id, vector)
		if !ok || !mapped.Valid() {
			c.fatal(ipipe.FatalStaleVector, fmt.Sprintf("vector %#x maps to no irq", vector))
			return ipipe.VerdictResume
		}
		irq = mapped
	}
	if !irq.Valid() {
		c.fatal(ipipe.FatalCorruptState, fmt.Sprintf("self-triggered irq %d out of range", regs.OrigAX))
		return ipipe.VerdictResume
	}

	p.tracer.Begin(c.id, uint32(irq))

	if irq == ipipe.CriticalIPI {
		c.dispatchCritical(irq, acked)
		return c.finalize(regs, irq)
	}

	this := c.Current()
	order := p.domains()
	start := 0

	if this.desc(irq).control.Has(ipipe.Sticky) {
		start = indexOf(order, this)
	} else if head := order[0]; head.desc(irq).control.Has(ipipe.Wired) {
		desc := head.desc(irq)
		if !acked && desc.ack != nil {
			desc.ack.Ack(c, irq)
		}
		c.dispatchWired(order, head, irq, desc)
		return c.finalize(regs, irq)
	}

	for _, d := range order[start:] {
		desc := d.desc(irq)
		if desc.control.Has(ipipe.Handle) {
			c.logIRQ(d, irq, desc)
			if !acked && desc.ack != nil {
				desc.ack.Ack(c, irq)
				acked = true
			}
		}
		if !desc.control.Has(ipipe.Pass) {
			break
		}
	}

	if p.debug {
		p.dispLog.Log(context.Background(), traceLevel, "irq logged",
			"cpu", c.id, "irq", irq, "current", this.name, "from", order[start].name)
	}

	// An interrupt preempting the head does not walk the pipeline
	// unless the head itself has something to run.
	if this == order[0] && !c.stateOf(this).pending.any() {
		return c.finalize(regs, irq)
	}

	c.walk(order, start)
	return c.finalize(regs, irq)
}

// finalize records the tick registers and decides how the entry code
// leaves.
func (c *CPU) finalize(regs *ipipe.Regs, irq ipipe.IRQ) ipipe.Verdict {
	p := c.p
	root := p.root

	if irq == p.timerIRQ {
		c.tick = ipipe.Regs{
			Flags: regs.Flags,
			CS:    regs.CS,
			IP:    regs.IP,
			BP:    regs.BP,
			SS:    regs.SS,
			SP:    regs.SP,
		}
		if c.Current() != root {
			c.tick.Flags &^= ipipe.EFlagsIF
		}
		if p.monitors[ipipe.EventTick].Load() > 0 {
			tick := c.tick
			c.DispatchEvent(ipipe.EventTick, &tick)
		}
	}

	p.tracer.End(c.id, uint32(irq))

	if c.Current() != root || c.stateOf(root).stalled.Load() {
		return ipipe.VerdictResume
	}
	return ipipe.VerdictHostExit
}

// logIRQ marks irq pending for d, or held when d locked it.
func (c *CPU) logIRQ(d *Domain, irq ipipe.IRQ, desc *irqDesc) {
	st := c.stateOf(d)
	if desc.control.Has(ipipe.Lock) {
		st.held.set(irq)
	} else {
		st.pending.set(irq)
	}
	st.hits[irq].Add(1)
}

// dispatchCritical runs the critical IPI handler of the current domain
// at once, stalled or not. The requesting CPU spins until every other
// CPU got here.
func (c *CPU) dispatchCritical(irq ipipe.IRQ, acked bool) {
	d := c.Current()
	desc := d.desc(irq)
	if !acked && desc.ack != nil {
		desc.ack.Ack(c, irq)
	}
	c.stateOf(d).hits[irq].Add(1)
	if desc.handler != nil {
		desc.handler.Handle(c, irq, desc.cookie)
	}
}

// dispatchWired runs the head handler right away unless the head
// cannot take it now, in which case the IRQ is logged.
func (c *CPU) dispatchWired(order []*Domain, head *Domain, irq ipipe.IRQ, desc *irqDesc) {
	st := c.stateOf(head)
	if desc.control.Has(ipipe.Lock) || st.stalled.Load() {
		c.logIRQ(head, irq, desc)
		return
	}

	prev := c.Current()
	c.setCurrent(head)
	st.hits[irq].Add(1)
	st.stalled.Store(true)
	desc.handler.Handle(c, irq, desc.cookie)
	st.stalled.Store(false)

	if c.Current() == head {
		c.setCurrent(prev)
		if prev == head {
			if st.pending.any() {
				c.syncStage()
			}
			return
		}
	}
	c.walk(order, 0)
}

// walk delivers pending interrupts from order[start] down to the
// current domain. It stops at the first stalled domain.
func (c *CPU) walk(order []*Domain, start int) {
	this := c.Current()
	end := indexOf(order, this)
	if end < 0 {
		end = len(order) - 1
	}

	for i := start; i <= end && i < len(order); i++ {
		d := order[i]
		st := c.stateOf(d)
		if st.stalled.Load() {
			break
		}
		if !st.pending.any() {
			continue
		}
		if d == this {
			c.syncStage()
			break
		}
		c.setCurrent(d)
		c.syncStage()
		if c.Current() == d {
			c.setCurrent(this)
		} else {
			// A handler migrated the CPU; the new domain owns the
			// rest of the walk.
			return
		}
	}
}

// syncStage delivers the pending log of the current domain in
// ascending IRQ order, with the domain stalled.
func (c *CPU) syncStage() {
	p := c.p
	d := c.Current()
	st := c.stateOf(d)

	p.tracer.Begin(c.id, TraceSync)
	st.stalled.Store(true)
	for {
		irq, ok := st.pending.next()
		if !ok {
			break
		}
		desc := d.desc(irq)
		if desc.control.Has(ipipe.Lock) {
			st.held.set(irq)
			continue
		}
		if desc.handler == nil {
			continue
		}
		desc.handler.Handle(c, irq, desc.cookie)
		// Handlers may re-enable hardware interrupts.
		p.host.DisableIRQs(c.id)
	}
	st.stalled.Store(false)
	p.tracer.End(c.id, TraceSync)
}

// TriggerIRQ injects irq as if the hardware raised it. Self-triggered
// interrupts are never acknowledged.
func (c *CPU) TriggerIRQ(irq ipipe.IRQ) error {
	if err := c.p.checkIRQ(irq); err != nil {
		return err
	}
	flags := c.hwSave()
	c.HandleIRQ(ipipe.SoftwareRegs(irq, flags))
	c.hwRestore(flags)
	return nil
}

// SuspendDomain unstalls the current domain and delivers what it and
// every lower domain have pending, stopping at a stalled one.
func (c *CPU) SuspendDomain() {
	flags := c.hwSave()
	defer c.hwRestore(flags)

	this := c.Current()
	order := c.p.domains()
	c.stateOf(this).stalled.Store(false)

	pos := indexOf(order, this)
	if pos < 0 {
		return
	}
	for _, d := range order[pos:] {
		st := c.stateOf(d)
		if d != this && st.stalled.Load() {
			break
		}
		if !st.pending.any() {
			continue
		}
		c.setCurrent(d)
		c.syncStage()
		if c.Current() != d {
			this = c.Current()
		}
	}
	c.setCurrent(this)
}

// SyncPipeline delivers what the current domain has pending.
func (c *CPU) SyncPipeline() {
	st := c.stateOf(c.Current())
	if st.stalled.Load() || !st.pending.any() {
		return
	}
	flags := c.hwSave()
	c.syncStage()
	c.hwRestore(flags)
}

// fatal hands a broken invariant to the host.
func (c *CPU) fatal(cond ipipe.FatalCondition, detail string) {
	err := &ipipe.FatalError{Condition: cond, CPU: c.id, Domain: c.Current().name, Detail: detail}
	c.p.faultLog.Error(err.Error())
	c.p.tracer.Freeze(c.id, err.Error())
	c.p.host.Fatal(c.id, err)
}
