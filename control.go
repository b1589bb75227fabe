package ipipe

import (
	"fmt"
	"strings"
)

// ControlFlags describe how a domain takes an IRQ.
type ControlFlags uint32

const (
	// Handle asks for the IRQ to be logged and delivered to the domain.
	Handle ControlFlags = 1 << iota
	// Pass forwards the IRQ to the next domain down the pipeline.
	Pass
	// Sticky delivers the IRQ immediately to the interrupted domain,
	// bypassing the priority walk.
	Sticky
	// Wired delivers the IRQ through the head fast path, bypassing the
	// pending log.
	Wired
	// System marks an entry the core reserved for itself.
	System
	// Lock holds the IRQ in the held log instead of the pending log.
	Lock
	// Exclusive refuses to replace an already installed handler.
	Exclusive
	// Enable unmasks the IRQ at the controller when installing.
	Enable
)

// Frequently used combinations.
const (
	DefaultMask = Handle | Pass
	StdRootMask = Handle | Pass | System
	// CriticalMask handles immediately in the current domain and never
	// passes.
	CriticalMask = Handle | Sticky | System
)

var controlNames = []struct {
	flag ControlFlags
	name string
}{
	{Handle, "handle"},
	{Pass, "pass"},
	{Sticky, "sticky"},
	{Wired, "wired"},
	{System, "system"},
	{Lock, "lock"},
	{Exclusive, "exclusive"},
	{Enable, "enable"},
}

// Has reports whether all bits of want are set.
func (f ControlFlags) Has(want ControlFlags) bool {
	return f&want == want
}

func (f ControlFlags) String() string {
	if f == 0 {
		return "none"
	}
	var parts []string
	for _, n := range controlNames {
		if f&n.flag != 0 {
			parts = append(parts, n.name)
			f &^= n.flag
		}
	}
	if f != 0 {
		parts = append(parts, fmt.Sprintf("%#x", uint32(f)))
	}
	return strings.Join(parts, "|")
}

// ParseControlFlags parses the form produced by String, accepting
// either "|" or "," as separator. The empty string and "none" yield 0.
func ParseControlFlags(s string) (ControlFlags, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "none") {
		return 0, nil
	}
	var f ControlFlags
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == '|' || r == ',' }) {
		part = strings.ToLower(strings.TrimSpace(part))
		found := false
		for _, n := range controlNames {
			if n.name == part {
				f |= n.flag
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown control flag %q", part)
		}
	}
	return f, nil
}
