package pipeline

import (
	"fmt"

	"github.com/frobware/go-ipipe"
	"github.com/frobware/go-ipipe/irqflags"
)

// fixupIF makes the saved IF of regs mirror the root stall bit.
func fixupIF(stalled bool, regs *ipipe.Regs) {
	if stalled {
		regs.Flags &^= ipipe.EFlagsIF
	} else {
		regs.Flags |= ipipe.EFlagsIF
	}
}

// HandleException routes a CPU fault. Domains catching the fault
// vector see it first; when none claims it, a fault raised over a
// domain other than root migrates the CPU to root and the host fault
// handler runs.
func (c *CPU) HandleException(vector ipipe.Event, regs *ipipe.Regs, errorCode int64) ipipe.FaultVerdict {
	p := c.p
	if !vector.IsFault() {
		c.fatal(ipipe.FatalCorruptState, fmt.Sprintf("exception on non-fault vector %d", uint32(vector)))
		return ipipe.FaultPassToHost
	}

	c.faultDepth++
	defer func() { c.faultDepth-- }()
	if c.faultDepth > maxFaultNesting {
		c.fatal(ipipe.FatalRecursiveFault, fmt.Sprintf("%s at %#x nested %d deep", vector, regs.IP, c.faultDepth))
		return ipipe.FaultPassToHost
	}

	root := p.root
	rootEntry := c.Current() == root
	var flags uint64
	if rootEntry {
		flags = c.LocalSaveFlags()
		if p.host.IRQsDisabled(c.id) {
			c.StallRoot()
		}
	}

	var faultAddr uint64
	if vector == ipipe.FaultPageFault {
		faultAddr = p.host.ReadFaultAddress(c.id)
	}

	if c.trapNotify(vector, regs) {
		if rootEntry {
			c.restoreRootNosync(flags)
		}
		return ipipe.FaultResume
	}

	if c.Current() == root {
		stalled := c.TestRoot()
		if rootEntry {
			stalled = irqflags.StallFromFlags(flags)
		}
		fixupIF(stalled, regs)
	} else {
		d := c.Current()
		c.setCurrent(root)
		p.tracer.Freeze(c.id, fmt.Sprintf("%s over domain %s", vector, d.name))

		switch {
		case regs.UserMode() || !p.host.SearchExceptionTables(regs.IP):
			p.faultLog.Error("BUG: unhandled exception, switching to root",
				"domain", d.name, "cpu", c.id, "vector", vector, "ip", fmt.Sprintf("%#x", regs.IP), "error_code", errorCode)
		case p.debug:
			p.faultLog.Warn("WARNING: fixable exception, switching to root",
				"domain", d.name, "cpu", c.id, "vector", vector, "ip", fmt.Sprintf("%#x", regs.IP))
		}
	}

	if vector == ipipe.FaultPageFault {
		p.host.WriteFaultAddress(c.id, faultAddr)
	}

	if fn := p.host.FaultHandler(vector); fn != nil {
		fn(c.id, regs, errorCode)
	}

	if rootEntry {
		c.restoreRootNosync(flags)
	}
	return ipipe.FaultPassToHost
}

// DivertException routes a debug trap. Domains see it first; nothing
// migrates when they do not claim it.
func (c *CPU) DivertException(vector ipipe.Event, regs *ipipe.Regs) ipipe.FaultVerdict {
	p := c.p
	root := p.root
	rootEntry := c.Current() == root
	var flags uint64
	if rootEntry {
		flags = c.LocalSaveFlags()
		if p.host.IRQsDisabled(c.id) {
			c.StallRoot()
		}
	}

	if c.trapNotify(vector, regs) {
		if rootEntry {
			c.restoreRootNosync(flags)
		}
		return ipipe.FaultResume
	}

	if c.Current() == root {
		stalled := c.TestRoot()
		if rootEntry {
			stalled = irqflags.StallFromFlags(flags)
		}
		fixupIF(stalled, regs)
	}
	return ipipe.FaultPassToHost
}

// HandleSyscall offers a system call to the domains catching
// EventSyscall before the host runs it.
func (c *CPU) HandleSyscall(regs *ipipe.Regs) ipipe.SyscallVerdict {
	p := c.p
	if !p.Monitored(ipipe.EventSyscall) {
		return ipipe.SyscallPass
	}

	handled := c.DispatchEvent(ipipe.EventSyscall, regs)

	flags := c.hwSave()
	defer c.hwRestore(flags)

	if c.Current() != p.root {
		return ipipe.SyscallHandled
	}
	if st := c.stateOf(p.root); st.pending.any() && !st.stalled.Load() {
		c.syncStage()
	}
	if handled {
		return ipipe.SyscallHandledTail
	}
	return ipipe.SyscallPass
}
