package pipeline

import (
	"fmt"
	"slices"
	"sync/atomic"

	"github.com/Masterminds/semver/v3"

	"github.com/frobware/go-ipipe"
)

// irqDesc is the control record of one (domain, IRQ) pair. Records
// are immutable once published; every change stores a new one.
type irqDesc struct {
	handler Handler
	cookie  any
	ack     Acknowledger
	control ipipe.ControlFlags
}

// emptyDesc is the record of an IRQ a domain never virtualized: it
// neither handles nor blocks the IRQ.
var emptyDesc = &irqDesc{control: ipipe.Pass}

// Domain is a participant in the pipeline.
type Domain struct {
	p        *Pipeline
	name     string
	id       uint32
	priority int
	slot     int

	// gone is set under irqMu once the domain is unregistered.
	gone atomic.Bool

	irqs   [ipipe.NrTotalIRQs]atomic.Pointer[irqDesc]
	events [ipipe.NrEvents]atomic.Pointer[EventHandler]
}

func newDomain(p *Pipeline, name string, id uint32, priority, slot int) *Domain {
	return &Domain{p: p, name: name, id: id, priority: priority, slot: slot}
}

// Name returns the domain name.
func (d *Domain) Name() string { return d.name }

// ID returns the numeric domain id.
func (d *Domain) ID() uint32 { return d.id }

// Priority returns the domain priority.
func (d *Domain) Priority() int { return d.priority }

// IsRoot reports whether d is the root domain.
func (d *Domain) IsRoot() bool { return d == d.p.root }

// IsHead reports whether d currently heads the pipeline.
func (d *Domain) IsHead() bool { return d.p.Head() == d }

func (d *Domain) String() string { return d.name }

func (d *Domain) desc(irq ipipe.IRQ) *irqDesc {
	if desc := d.irqs[irq].Load(); desc != nil {
		return desc
	}
	return emptyDesc
}

// live fails for an unregistered domain. Callers hold irqMu.
func (d *Domain) live() error {
	if d.gone.Load() {
		return fmt.Errorf("domain %s: %w", d.name, ipipe.ErrDomainNotFound)
	}
	return nil
}

// Control returns the control flags of irq in d.
func (d *Domain) Control(irq ipipe.IRQ) ipipe.ControlFlags {
	if !irq.Valid() {
		return 0
	}
	return d.desc(irq).control
}

// DomainAttr describes a domain to register.
type DomainAttr struct {
	// Name must be unique among live domains.
	Name string
	// ID is an optional numeric id, unique when non-zero.
	ID uint32
	// Priority in [0, RootPriority). Lower is more urgent.
	Priority int
	// Entry runs once on the registering CPU, in the new domain.
	Entry func(c *CPU)
	// ABI is an optional semver constraint on Version.
	ABI string
}

func (p *Pipeline) checkAttr(attr DomainAttr) error {
	if attr.Name == "" {
		return fmt.Errorf("domain name must not be empty")
	}
	if attr.Priority < 0 || attr.Priority >= RootPriority {
		return ipipe.InvalidPriorityError{Priority: attr.Priority, Max: RootPriority}
	}
	if attr.ABI != "" {
		constraint, err := semver.NewConstraint(attr.ABI)
		if err != nil {
			return fmt.Errorf("domain %s: parse abi constraint %q: %w", attr.Name, attr.ABI, err)
		}
		if !constraint.Check(semver.MustParse(Version)) {
			return ipipe.IncompatibleABIError{Domain: attr.Name, Constraint: attr.ABI, Version: Version}
		}
	}
	for _, d := range p.domains() {
		if d.name == attr.Name || (attr.ID != 0 && d.id == attr.ID) {
			return ipipe.DuplicateNameError{Name: attr.Name, ID: attr.ID}
		}
	}
	return nil
}

// Register inserts a new domain in the pipeline, after the domains of
// equal priority. The domain list changes under the critical section.
func (c *CPU) Register(attr DomainAttr) (*Domain, error) {
	p := c.p

	c.lockRegistry()
	if err := p.checkAttr(attr); err != nil {
		p.regMu.Unlock()
		return nil, err
	}
	slot := slices.Index(p.slots[:], nil)
	if slot < 0 {
		p.regMu.Unlock()
		return nil, fmt.Errorf("domain %s: all %d domain slots in use", attr.Name, MaxDomains)
	}

	d := newDomain(p, attr.Name, attr.ID, attr.Priority, slot)
	p.hookCriticalIPI(d)

	token := c.CriticalEnter(nil)
	p.slots[slot] = d
	old := p.domains()
	pos, _ := slices.BinarySearchFunc(old, d.priority, func(o *Domain, prio int) int {
		if o.priority <= prio {
			return -1
		}
		return 1
	})
	order := slices.Insert(slices.Clone(old), pos, d)
	p.order.Store(&order)
	c.CriticalExit(token)
	p.regMu.Unlock()

	p.regLog.Info("domain registered",
		"domain", d.name,
		"id", d.id,
		"priority", d.priority,
		"position", pos,
		"cpu", c.id)

	if attr.Entry != nil {
		c.Enter(d, attr.Entry)
	}

	return d, nil
}

// Unregister removes d from the pipeline. It fails with
// ErrDomainBusy while any CPU holds logged interrupts for d or runs
// in d.
func (c *CPU) Unregister(d *Domain) error {
	p := c.p
	if d == p.root {
		return ipipe.PermissionDeniedError{Domain: d.name, Op: "unregister"}
	}

	c.lockRegistry()
	defer p.regMu.Unlock()

	if p.slots[d.slot] != d {
		return fmt.Errorf("domain %s: %w", d.name, ipipe.ErrDomainNotFound)
	}

	token := c.CriticalEnter(nil)
	if err := p.busy(d); err != nil {
		c.CriticalExit(token)
		return err
	}
	order := slices.DeleteFunc(slices.Clone(p.domains()), func(o *Domain) bool { return o == d })
	p.order.Store(&order)
	p.slots[d.slot] = nil
	for _, cpu := range p.cpus {
		cpu.state[d.slot].reset()
	}
	p.irqMu.Lock()
	d.gone.Store(true)
	for ev := range d.events {
		if d.events[ev].Swap(nil) != nil {
			p.monitors[ev].Add(-1)
		}
	}
	p.irqMu.Unlock()
	c.CriticalExit(token)

	p.regLog.Info("domain unregistered", "domain", d.name, "cpu", c.id)
	return nil
}

func (p *Pipeline) busy(d *Domain) error {
	for _, cpu := range p.cpus {
		st := &cpu.state[d.slot]
		if irq, ok := st.pending.first(); ok {
			return ipipe.DomainBusyError{Domain: d.name, CPU: cpu.id, IRQ: irq}
		}
		if irq, ok := st.held.first(); ok {
			return ipipe.DomainBusyError{Domain: d.name, CPU: cpu.id, IRQ: irq}
		}
		if cpu.current.Load() == d {
			return fmt.Errorf("domain %s is current on cpu %d: %w", d.name, cpu.id, ipipe.ErrDomainBusy)
		}
	}
	return nil
}

// Domains returns the live domains, head first.
func (p *Pipeline) Domains() []*Domain {
	return slices.Clone(p.domains())
}

// Lookup returns the domain named name.
func (p *Pipeline) Lookup(name string) (*Domain, bool) {
	for _, d := range p.domains() {
		if d.name == name {
			return d, true
		}
	}
	return nil, false
}

// Root returns the root domain.
func (p *Pipeline) Root() *Domain { return p.root }

// Head returns the highest priority domain.
func (p *Pipeline) Head() *Domain { return p.domains()[0] }
