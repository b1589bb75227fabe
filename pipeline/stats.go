package pipeline

import "github.com/frobware/go-ipipe"

// CPUStats is the state of one domain on one CPU.
type CPUStats struct {
	CPU     int                  `json:"cpu"`
	Current bool                 `json:"current"`
	Stalled bool                 `json:"stalled"`
	Pending int                  `json:"pending"`
	Held    int                  `json:"held"`
	Hits    map[ipipe.IRQ]uint64 `json:"hits,omitempty"`
}

// DomainStats is the state of one domain across CPUs.
type DomainStats struct {
	Name     string     `json:"name"`
	ID       uint32     `json:"id"`
	Priority int        `json:"priority"`
	Root     bool       `json:"root"`
	Head     bool       `json:"head"`
	CPUs     []CPUStats `json:"cpus"`
}

// Stats returns a snapshot of every domain, head first. Counters of
// running CPUs may move while they are read.
func (p *Pipeline) Stats() []DomainStats {
	order := p.domains()
	out := make([]DomainStats, 0, len(order))
	for i, d := range order {
		ds := DomainStats{
			Name:     d.name,
			ID:       d.id,
			Priority: d.priority,
			Root:     d == p.root,
			Head:     i == 0,
		}
		for _, c := range p.cpus {
			st := c.stateOf(d)
			cs := CPUStats{
				CPU:     c.id,
				Current: c.current.Load() == d,
				Stalled: st.stalled.Load(),
				Pending: st.pending.count(),
				Held:    st.held.count(),
			}
			for irq := range st.hits {
				if n := st.hits[irq].Load(); n != 0 {
					if cs.Hits == nil {
						cs.Hits = make(map[ipipe.IRQ]uint64)
					}
					cs.Hits[ipipe.IRQ(irq)] = n
				}
			}
			ds.CPUs = append(ds.CPUs, cs)
		}
		out = append(out, ds)
	}
	return out
}

// Hits returns how many times irq was logged or delivered for d on c.
func (c *CPU) Hits(d *Domain, irq ipipe.IRQ) uint64 {
	if !irq.Valid() {
		return 0
	}
	return c.stateOf(d).hits[irq].Load()
}

// Pending reports whether irq is logged pending for d on c.
func (c *CPU) Pending(d *Domain, irq ipipe.IRQ) bool {
	return irq.Valid() && c.stateOf(d).pending.test(irq)
}

// Held reports whether irq is held for d on c.
func (c *CPU) Held(d *Domain, irq ipipe.IRQ) bool {
	return irq.Valid() && c.stateOf(d).held.test(irq)
}
