package cli

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/frobware/go-ipipe"
	"github.com/frobware/go-ipipe/client"
	"github.com/frobware/go-ipipe/pipeline"
	"github.com/frobware/go-ipipe/trace"
)

func formatJSON(v any) (string, error) {
	output, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal result: %w", err)
	}
	return string(output) + "\n", nil
}

// FormatSysinfo formats the machine calibration.
func FormatSysinfo(info ipipe.Sysinfo, flags *OutputFlags) (string, error) {
	if flags.Format() == OutputFormatJSON {
		return formatJSON(info)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-11s %d\n", "cpus", info.CPUs)
	fmt.Fprintf(&b, "%-11s %d\n", "cpu_freq", info.CPUFreq)
	fmt.Fprintf(&b, "%-11s %d (%s)\n", "timer_irq", info.TimerIRQ, info.TimerIRQ)
	fmt.Fprintf(&b, "%-11s %d\n", "timer_freq", info.TimerFreq)
	fmt.Fprintf(&b, "%-11s %d\n", "clock_freq", info.ClockFreq)
	return b.String(), nil
}

// FormatDomains formats the registered domains, head first.
func FormatDomains(domains []client.DomainInfo, flags *OutputFlags) (string, error) {
	if flags.Format() == OutputFormatJSON {
		return formatJSON(domains)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-16s %-4s %-6s %-5s %-24s %s\n", "NAME", "ID", "PRIO", "ROLE", "MODE", "IRQS")
	for _, d := range domains {
		mode := d.Mode
		if mode == "" {
			mode = "-"
		}
		fmt.Fprintf(&b, "%-16s %-4d %-6d %-5s %-24s %s\n",
			d.Name, d.ID, d.Priority, domainRole(d.Root, d.Head), mode, formatDeliveries(d.IRQs, d.Deliveries))
	}
	return b.String(), nil
}

func domainRole(root, head bool) string {
	switch {
	case root && head:
		return "root*"
	case root:
		return "root"
	case head:
		return "head"
	}
	return "-"
}

// formatDeliveries renders irqs as IRQ=COUNT pairs.
func formatDeliveries(irqs []uint32, deliveries map[uint32]uint64) string {
	if len(irqs) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(irqs))
	for _, irq := range irqs {
		parts = append(parts, fmt.Sprintf("%d=%d", irq, deliveries[irq]))
	}
	return strings.Join(parts, ",")
}

// FormatStats formats the per-CPU state of every domain.
func FormatStats(stats []pipeline.DomainStats, flags *OutputFlags) (string, error) {
	if flags.Format() == OutputFormatJSON {
		return formatJSON(stats)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-16s %-4s %-4s %-8s %-8s %-5s %s\n", "DOMAIN", "CPU", "CUR", "STALLED", "PENDING", "HELD", "HITS")
	for _, d := range stats {
		for _, c := range d.CPUs {
			fmt.Fprintf(&b, "%-16s %-4d %-4s %-8s %-8d %-5d %s\n",
				d.Name, c.CPU, yesNo(c.Current), yesNo(c.Stalled), c.Pending, c.Held, formatHits(c.Hits))
		}
	}
	return b.String(), nil
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

func formatHits(hits map[ipipe.IRQ]uint64) string {
	if len(hits) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(hits))
	for _, irq := range slices.Sorted(maps.Keys(hits)) {
		parts = append(parts, fmt.Sprintf("%d=%d", irq, hits[irq]))
	}
	return strings.Join(parts, ",")
}

// FormatTraces formats stored snapshot summaries.
func FormatTraces(list []trace.Summary, flags *OutputFlags) (string, error) {
	if flags.Format() == OutputFormatJSON {
		if list == nil {
			list = []trace.Summary{}
		}
		return formatJSON(list)
	}
	if len(list) == 0 {
		return "No traces stored\n", nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-36s %-4s %-30s %-7s %s\n", "ID", "CPU", "TAKEN", "POINTS", "REASON")
	for _, s := range list {
		fmt.Fprintf(&b, "%-36s %-4d %-30s %-7d %s\n",
			s.ID, s.CPU, s.Taken.Format(time.RFC3339Nano), s.Points, s.Reason)
	}
	return b.String(), nil
}

// FormatTrace formats a snapshot with its points.
func FormatTrace(s *trace.Snapshot, flags *OutputFlags) (string, error) {
	if flags.Format() == OutputFormatJSON {
		return formatJSON(s)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "TRACE  %s\n", s.ID)
	fmt.Fprintf(&b, "  cpu    %d\n", s.CPU)
	fmt.Fprintf(&b, "  taken  %s\n", s.Taken.Format(time.RFC3339Nano))
	fmt.Fprintf(&b, "  reason %s\n", s.Reason)

	b.WriteString("\n  POINTS\n")
	if len(s.Points) == 0 {
		b.WriteString("  (none)\n")
		return b.String(), nil
	}
	fmt.Fprintf(&b, "  %-30s %-4s %-10s %s\n", "TIME", "CPU", "KIND", "CODE")
	for _, p := range s.Points {
		fmt.Fprintf(&b, "  %-30s %-4d %-10s %#x\n", p.Time.Format(time.RFC3339Nano), p.CPU, p.Kind, p.Code)
	}
	return b.String(), nil
}
