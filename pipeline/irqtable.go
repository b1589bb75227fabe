package pipeline

import (
	"fmt"
	"math/bits"

	"github.com/frobware/go-ipipe"
)

// checkIRQ accepts hardware IRQs and allocated virtual IRQs.
func (p *Pipeline) checkIRQ(irq ipipe.IRQ) error {
	if !irq.Valid() {
		return ipipe.InvalidIRQError{IRQ: irq, Reason: "out of range"}
	}
	if irq.Virtual() && !p.virqAllocated(irq) {
		return ipipe.InvalidIRQError{IRQ: irq, Reason: "virtual irq not allocated"}
	}
	return nil
}

// VirtualizeIRQ installs the control record of irq in d, replacing
// the previous one. A nil handler removes the domain from the IRQ. A
// nil ack on a hardware IRQ inherits the acknowledge routine of root.
func (p *Pipeline) VirtualizeIRQ(d *Domain, irq ipipe.IRQ, handler Handler, cookie any, ack Acknowledger, mode ipipe.ControlFlags) error {
	if err := p.checkIRQ(irq); err != nil {
		return err
	}

	p.irqMu.Lock()
	defer p.irqMu.Unlock()

	if err := d.live(); err != nil {
		return err
	}
	old := d.desc(irq)
	if old.control.Has(ipipe.System) {
		return ipipe.PermissionDeniedError{Domain: d.name, IRQ: irq, Op: "virtualize"}
	}

	if d != p.Head() {
		mode &^= ipipe.Wired
	}

	if handler != nil {
		if mode.Has(ipipe.Exclusive) && old.handler != nil {
			return ipipe.IRQBusyError{IRQ: irq, Owner: d.name}
		}
		if mode.Has(ipipe.Wired) {
			if mode&(ipipe.Pass|ipipe.Sticky) != 0 {
				return ipipe.InvalidModeError{Mode: mode, Reason: "wired irqs cannot pass or stick"}
			}
			for _, o := range p.domains() {
				if o != d && o.desc(irq).control.Has(ipipe.Wired) {
					return ipipe.IRQBusyError{IRQ: irq, Owner: o.name}
				}
			}
			mode |= ipipe.Handle
		}
		if mode.Has(ipipe.Sticky) {
			mode |= ipipe.Handle
		}
	} else {
		mode &^= ipipe.Handle | ipipe.Sticky | ipipe.Exclusive | ipipe.Wired
	}

	if mode.Has(ipipe.Enable) {
		if irq.Virtual() {
			return ipipe.InvalidIRQError{IRQ: irq, Reason: "virtual irqs cannot be enabled"}
		}
		if handler != nil {
			p.host.UnmaskIRQ(irq)
		}
		mode &^= ipipe.Enable
	}

	if ack == nil && !irq.Virtual() {
		ack = p.root.desc(irq).ack
	}

	// The lock bit survives reprogramming.
	mode |= old.control & ipipe.Lock

	d.irqs[irq].Store(&irqDesc{handler: handler, cookie: cookie, ack: ack, control: mode})

	p.regLog.Debug("irq virtualized",
		"domain", d.name,
		"irq", irq,
		"mode", mode,
		"handler", handler != nil)

	return nil
}

// UnvirtualizeIRQ removes the handler of d from irq and lets the IRQ
// pass through d.
func (p *Pipeline) UnvirtualizeIRQ(d *Domain, irq ipipe.IRQ) error {
	return p.VirtualizeIRQ(d, irq, nil, nil, nil, ipipe.Pass)
}

// ControlIRQ clears then sets control bits of an installed entry.
// Handle and Sticky go together when cleared.
func (p *Pipeline) ControlIRQ(d *Domain, irq ipipe.IRQ, clear, set ipipe.ControlFlags) error {
	if err := p.checkIRQ(irq); err != nil {
		return err
	}

	p.irqMu.Lock()
	defer p.irqMu.Unlock()

	if err := d.live(); err != nil {
		return err
	}
	old := d.desc(irq)
	if old.control.Has(ipipe.System) {
		return ipipe.PermissionDeniedError{Domain: d.name, IRQ: irq, Op: "control"}
	}
	if (clear|set)&(ipipe.System|ipipe.Wired|ipipe.Lock) != 0 {
		return ipipe.InvalidModeError{Mode: clear | set, Reason: "only handle, pass, sticky and enable can be changed"}
	}

	if old.handler == nil {
		set &^= ipipe.Handle | ipipe.Sticky
	}
	if set.Has(ipipe.Sticky) {
		set |= ipipe.Handle
	}
	if clear&(ipipe.Handle|ipipe.Sticky) != 0 {
		clear |= ipipe.Handle | ipipe.Sticky
	}

	if !irq.Virtual() {
		switch {
		case set.Has(ipipe.Enable):
			p.host.UnmaskIRQ(irq)
		case clear.Has(ipipe.Enable):
			p.host.MaskIRQ(irq)
		}
	}

	desc := *old
	desc.control = (desc.control &^ clear) | set
	desc.control &^= ipipe.Enable
	d.irqs[irq].Store(&desc)
	return nil
}

// LockIRQ holds irq in every domain: arrivals go to the held log and
// what was pending moves there, on every CPU.
func (p *Pipeline) LockIRQ(irq ipipe.IRQ) error {
	if err := p.checkIRQ(irq); err != nil {
		return err
	}

	p.irqMu.Lock()
	defer p.irqMu.Unlock()

	for _, d := range p.domains() {
		old := d.desc(irq)
		if old.control.Has(ipipe.Lock) {
			continue
		}
		desc := *old
		desc.control |= ipipe.Lock
		d.irqs[irq].Store(&desc)
		for _, c := range p.cpus {
			st := c.stateOf(d)
			if st.pending.testAndClear(irq) {
				st.held.set(irq)
			}
		}
	}
	return nil
}

// UnlockIRQ reverses LockIRQ. Held occurrences become pending again
// and are delivered at the next synchronization of each CPU.
func (p *Pipeline) UnlockIRQ(irq ipipe.IRQ) error {
	if err := p.checkIRQ(irq); err != nil {
		return err
	}

	p.irqMu.Lock()
	defer p.irqMu.Unlock()

	for _, d := range p.domains() {
		old := d.desc(irq)
		if !old.control.Has(ipipe.Lock) {
			continue
		}
		desc := *old
		desc.control &^= ipipe.Lock
		d.irqs[irq].Store(&desc)
		for _, c := range p.cpus {
			st := c.stateOf(d)
			if st.held.testAndClear(irq) {
				st.pending.set(irq)
			}
		}
	}
	return nil
}

// AllocVirq reserves a virtual IRQ.
func (p *Pipeline) AllocVirq() (ipipe.IRQ, error) {
	for {
		m := p.virqMap.Load()
		if m == ^uint64(0) {
			return 0, ipipe.ErrNoVirq
		}
		n := bits.TrailingZeros64(^m)
		if p.virqMap.CompareAndSwap(m, m|1<<uint(n)) {
			return ipipe.VirqBase + ipipe.IRQ(n), nil
		}
	}
}

// FreeVirq releases a virtual IRQ.
func (p *Pipeline) FreeVirq(irq ipipe.IRQ) error {
	if !irq.Virtual() || !p.virqAllocated(irq) {
		return ipipe.InvalidIRQError{IRQ: irq, Reason: "not an allocated virtual irq"}
	}
	p.virqMap.And(^(uint64(1) << uint(irq-ipipe.VirqBase)))
	return nil
}

func (p *Pipeline) virqAllocated(irq ipipe.IRQ) bool {
	return p.virqMap.Load()&(1<<uint(irq-ipipe.VirqBase)) != 0
}

// SetIRQAffinity routes a device IRQ to the online CPUs of mask and
// returns the previous routing.
func (p *Pipeline) SetIRQAffinity(irq ipipe.IRQ, mask ipipe.CPUMask) (ipipe.CPUMask, error) {
	if !irq.Valid() || irq.Virtual() {
		return 0, ipipe.InvalidIRQError{IRQ: irq, Reason: "not a device irq"}
	}
	online := mask.And(ipipe.AllCPUs(len(p.cpus)))
	if online.Empty() {
		return 0, fmt.Errorf("irq %d to %s: %w", uint32(irq), mask, ipipe.ErrInvalidAffinity)
	}
	old, ok := p.host.SetIRQAffinity(irq, online)
	if !ok {
		return 0, fmt.Errorf("irq %d: %w", uint32(irq), ipipe.ErrAffinityNotCapable)
	}
	return old, nil
}

// hookCriticalIPI installs the critical IPI in d: handled at once in
// whichever domain is current, never passed.
func (p *Pipeline) hookCriticalIPI(d *Domain) {
	d.irqs[ipipe.CriticalIPI].Store(&irqDesc{
		handler: HandlerFunc(p.criticalSync),
		ack:     p.apicAck,
		control: ipipe.CriticalMask,
	})
}
