// Package ipipe holds the vocabulary shared by the interrupt pipeline
// core, the simulated host and the control plane: IRQ numbering,
// control flags, register images, events, CPU masks and typed errors.
package ipipe

import "fmt"

// IRQ is a logical interrupt number as seen by the pipeline.
//
// The IRQ space is laid out as:
//
//	0 .. NrIRQs-1                  physical and system IRQs
//	VirqBase .. NrTotalIRQs-1      virtual (software-only) IRQs
//
// System IRQs are mapped from APIC system vectors and occupy the top
// of the physical range.
type IRQ uint32

const (
	// NrIRQs is the number of physical and system IRQs.
	NrIRQs = 256
	// VirqBase is the first virtual IRQ number.
	VirqBase IRQ = NrIRQs
	// NrVirqs is the number of virtual IRQs that can be allocated.
	NrVirqs = 64
	// NrTotalIRQs is the size of every per-domain IRQ table.
	NrTotalIRQs = NrIRQs + NrVirqs
)

// FirstSystemVector is the first APIC vector reserved for system use.
// Vectors from here up map onto system IRQs.
const FirstSystemVector = 0xf8

// ExternalVectorBase is the vector of external IRQ 0. External IRQ n
// arrives on vector ExternalVectorBase+n.
const ExternalVectorBase = 0x20

// NrExternalIRQs is the number of external IRQs reachable through
// vectors below FirstSystemVector.
const NrExternalIRQs = FirstSystemVector - ExternalVectorBase

// System IRQs, mapped from APIC system vectors.
const (
	ServiceIPI0   IRQ = NrIRQs - 8
	ServiceIPI1   IRQ = NrIRQs - 7
	ServiceIPI2   IRQ = NrIRQs - 6
	ServiceIPI3   IRQ = NrIRQs - 5
	CriticalIPI   IRQ = NrIRQs - 4
	RescheduleIPI IRQ = NrIRQs - 3
	SpuriousIRQ   IRQ = NrIRQs - 2
	TimerIRQ      IRQ = NrIRQs - 1
)

// LegacyTimerIRQ is the IRQ of the legacy periodic timer. It is the
// default tick source unless another IRQ is configured.
const LegacyTimerIRQ IRQ = 0

// FirstSystemIRQ is the lowest system IRQ number.
const FirstSystemIRQ = ServiceIPI0

// Virtual reports whether irq lies in the virtual IRQ range.
func (irq IRQ) Virtual() bool {
	return irq >= VirqBase && irq < NrTotalIRQs
}

// System reports whether irq is mapped from an APIC system vector.
func (irq IRQ) System() bool {
	return irq >= FirstSystemIRQ && irq < NrIRQs
}

// Valid reports whether irq fits in an IRQ table.
func (irq IRQ) Valid() bool {
	return irq < NrTotalIRQs
}

func (irq IRQ) String() string {
	switch irq {
	case CriticalIPI:
		return "critical-ipi"
	case RescheduleIPI:
		return "reschedule-ipi"
	case TimerIRQ:
		return "timer"
	case SpuriousIRQ:
		return "spurious"
	case ServiceIPI0, ServiceIPI1, ServiceIPI2, ServiceIPI3:
		return fmt.Sprintf("service-ipi%d", irq-ServiceIPI0)
	}
	if irq.Virtual() {
		return fmt.Sprintf("virq%d", irq-VirqBase)
	}
	return fmt.Sprintf("irq%d", uint32(irq))
}

// SystemVectorIRQ maps an APIC system vector onto its system IRQ.
func SystemVectorIRQ(vector uint8) IRQ {
	return IRQ(NrIRQs - (0x100 - int(vector)))
}

// SystemIRQVector is the converse of SystemVectorIRQ.
func SystemIRQVector(irq IRQ) uint8 {
	return uint8(0x100 - (NrIRQs - int(irq)))
}
