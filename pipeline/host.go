package pipeline

import "github.com/frobware/go-ipipe"

// FaultFunc is a host fault handler, the code the host runs for an
// exception vector once no domain claimed it.
type FaultFunc func(cpu int, regs *ipipe.Regs, errorCode int64)

// Host is the environment the pipeline runs in front of. Every method
// taking a cpu argument acts on that CPU's private hardware state and
// is only called from code running on that CPU.
type Host interface {
	// NumCPUs returns the number of online CPUs.
	NumCPUs() int

	// VectorIRQ translates a hardware vector through the per-CPU
	// vector table.
	VectorIRQ(cpu int, vector uint8) (ipipe.IRQ, bool)

	// Hardware interrupt flag primitives.
	SaveFlags(cpu int) uint64
	RestoreFlags(cpu int, flags uint64)
	DisableIRQs(cpu int)
	EnableIRQs(cpu int)
	IRQsDisabled(cpu int) bool

	// AckIRQ acknowledges a device interrupt at the legacy
	// controller.
	AckIRQ(cpu int, irq ipipe.IRQ)
	// AckAPIC signals end of interrupt to the local APIC.
	AckAPIC(cpu int)
	// MaskIRQ and UnmaskIRQ gate a device line at the controller.
	MaskIRQ(irq ipipe.IRQ)
	UnmaskIRQ(irq ipipe.IRQ)
	// SetIRQAffinity routes a device line to mask. It returns the
	// previous routing, or false when the line cannot be routed.
	SetIRQAffinity(irq ipipe.IRQ, mask ipipe.CPUMask) (ipipe.CPUMask, bool)

	// FaultHandler returns the host handler for an exception
	// vector, nil if none.
	FaultHandler(vector ipipe.Event) FaultFunc
	// ReadFaultAddress and WriteFaultAddress access the page fault
	// address register.
	ReadFaultAddress(cpu int) uint64
	WriteFaultAddress(cpu int, addr uint64)
	// SearchExceptionTables reports whether ip has a fixup entry.
	SearchExceptionTables(ip uint64) bool

	// SendIPI raises irq on every CPU of targets. The sender is
	// never part of targets.
	SendIPI(irq ipipe.IRQ, targets ipipe.CPUMask)

	// Halt idles cpu with interrupts enabled until the next one
	// arrives.
	Halt(cpu int)
	// Fatal stops the system. It may return in simulated hosts.
	Fatal(cpu int, err *ipipe.FatalError)

	CPUFrequency() uint64
	TimerFrequency() uint64
	ClockFrequency() uint64
}
