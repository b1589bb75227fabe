package pipeline

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/frobware/go-ipipe"
)

// critical is the state of the stop-the-world protocol.
type critical struct {
	// owner is the CPU holding the critical section, plus one.
	owner atomic.Int32
	depth int

	// barrier is held by the owner for the whole section. CPUs in
	// the sync handler queue on it.
	barrier sync.Mutex
	syncFn  func(c *CPU)

	// syncMap has the CPUs parked in the sync handler, requests the
	// CPUs a critical IPI was sent to and not yet answered.
	syncMap  atomic.Uint64
	requests atomic.Uint64
}

// CriticalToken carries the state CriticalExit restores.
type CriticalToken struct {
	flags uint64
}

// CriticalEnter freezes every other CPU in its critical sync handler
// and returns with hardware interrupts off on c. syncFn, when set, runs
// on each other CPU once the section is left. Nested calls on the
// owning CPU only count.
func (c *CPU) CriticalEnter(syncFn func(c *CPU)) CriticalToken {
	p := c.p
	token := CriticalToken{flags: c.hwSave()}
	if len(p.cpus) == 1 {
		return token
	}

	me := int32(c.id + 1)
	if p.crit.owner.Load() == me {
		p.crit.depth++
		return token
	}
	for !p.crit.owner.CompareAndSwap(0, me) {
		c.serviceCritical()
		runtime.Gosched()
	}

	p.crit.barrier.Lock()
	p.crit.syncFn = syncFn
	others := ipipe.AllCPUs(len(p.cpus)).Clear(c.id)
	p.crit.requests.Or(uint64(others))
	p.host.SendIPI(ipipe.CriticalIPI, others)
	for ipipe.CPUMask(p.crit.syncMap.Load()) != others {
		runtime.Gosched()
	}
	p.crit.depth = 1

	p.ipiLog.Log(context.Background(), traceLevel, "critical section entered", "cpu", c.id)
	return token
}

// CriticalExit leaves the section entered with token. The other CPUs
// run the sync function and resume once the outermost exit releases
// them.
func (c *CPU) CriticalExit(token CriticalToken) {
	p := c.p
	if len(p.cpus) > 1 {
		p.crit.depth--
		if p.crit.depth == 0 {
			p.crit.barrier.Unlock()
			for p.crit.syncMap.Load() != 0 {
				runtime.Gosched()
			}
			p.crit.owner.Store(0)
			p.ipiLog.Log(context.Background(), traceLevel, "critical section left", "cpu", c.id)
		}
	}
	c.hwRestore(token.flags)
}

// criticalSync is the handler of the critical IPI.
func (p *Pipeline) criticalSync(c *CPU, _ ipipe.IRQ, _ any) {
	if !c.takeCriticalRequest() {
		return
	}
	c.doCriticalSync()
}

// serviceCritical answers a critical request addressed to c while c
// is busy waiting itself.
func (c *CPU) serviceCritical() {
	if c.takeCriticalRequest() {
		c.doCriticalSync()
	}
}

func (c *CPU) takeCriticalRequest() bool {
	bit := uint64(1) << uint(c.id)
	return c.p.crit.requests.And(^bit)&bit != 0
}

func (c *CPU) doCriticalSync() {
	crit := &c.p.crit
	bit := uint64(1) << uint(c.id)
	crit.syncMap.Or(bit)
	crit.barrier.Lock()
	if crit.syncFn != nil {
		crit.syncFn(c)
	}
	crit.barrier.Unlock()
	crit.syncMap.And(^bit)
}

// BroadcastCriticalSync runs fn once on every other CPU, each of them
// frozen in its current domain.
func (c *CPU) BroadcastCriticalSync(fn func(c *CPU)) {
	c.CriticalExit(c.CriticalEnter(fn))
}

// SendIPI raises irq on the CPUs of mask. Only the critical,
// reschedule and service IPIs can be sent. The sending CPU, when part
// of mask, gets the IPI through the self-triggered path.
func (c *CPU) SendIPI(irq ipipe.IRQ, mask ipipe.CPUMask) error {
	switch irq {
	case ipipe.CriticalIPI, ipipe.RescheduleIPI,
		ipipe.ServiceIPI0, ipipe.ServiceIPI1, ipipe.ServiceIPI2, ipipe.ServiceIPI3:
	default:
		return ipipe.InvalidIRQError{IRQ: irq, Reason: "not an ipi"}
	}

	flags := c.hwSave()
	defer c.hwRestore(flags)

	self := mask.Has(c.id)
	others := mask.Clear(c.id).And(ipipe.AllCPUs(len(c.p.cpus)))
	if !others.Empty() {
		c.p.host.SendIPI(irq, others)
	}
	if self {
		return c.TriggerIRQ(irq)
	}
	return nil
}
