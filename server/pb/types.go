package pb

// DomainInfo is an element of the ListDomains reply.
type DomainInfo struct {
	Name     string `json:"name"`
	ID       uint32 `json:"id"`
	Priority int    `json:"priority"`
	Root     bool   `json:"root,omitempty"`
	Head     bool   `json:"head,omitempty"`
	// Mode and IRQs are set for domains the daemon configuration
	// started.
	Mode string   `json:"mode,omitempty"`
	IRQs []uint32 `json:"irqs,omitempty"`
	// Deliveries counts the interrupts a configured domain received,
	// keyed by IRQ.
	Deliveries map[uint32]uint64 `json:"deliveries,omitempty"`
}

// TriggerRequest is the TriggerIRQ argument. Without a CPU, a device
// IRQ is asserted at the interrupt controller and routed by affinity.
// With one, the IRQ is injected in software on that CPU.
type TriggerRequest struct {
	IRQ uint32 `json:"irq"`
	CPU *int   `json:"cpu,omitempty"`
}
