package ipipe

import (
	"math/bits"
	"strconv"
	"strings"
)

// MaxCPUs bounds the CPU ids a CPUMask can hold.
const MaxCPUs = 64

// CPUMask is a set of CPU ids.
type CPUMask uint64

// CPUMaskOf returns the mask holding the given CPUs.
func CPUMaskOf(cpus ...int) CPUMask {
	var m CPUMask
	for _, cpu := range cpus {
		m = m.Set(cpu)
	}
	return m
}

// AllCPUs returns the mask of CPUs 0 .. n-1.
func AllCPUs(n int) CPUMask {
	if n >= MaxCPUs {
		return ^CPUMask(0)
	}
	return CPUMask(1)<<uint(n) - 1
}

// Set returns m with cpu added.
func (m CPUMask) Set(cpu int) CPUMask { return m | 1<<uint(cpu) }

// Clear returns m with cpu removed.
func (m CPUMask) Clear(cpu int) CPUMask { return m &^ (1 << uint(cpu)) }

// Has reports whether cpu is in m.
func (m CPUMask) Has(cpu int) bool { return m&(1<<uint(cpu)) != 0 }

// Empty reports whether m holds no CPU.
func (m CPUMask) Empty() bool { return m == 0 }

// Count returns the number of CPUs in m.
func (m CPUMask) Count() int { return bits.OnesCount64(uint64(m)) }

// And returns the intersection of m and o.
func (m CPUMask) And(o CPUMask) CPUMask { return m & o }

// AndNot returns m without the CPUs of o.
func (m CPUMask) AndNot(o CPUMask) CPUMask { return m &^ o }

// Each calls fn for every CPU in m, in ascending order.
func (m CPUMask) Each(fn func(cpu int)) {
	for w := uint64(m); w != 0; w &= w - 1 {
		fn(bits.TrailingZeros64(w))
	}
}

func (m CPUMask) String() string {
	if m == 0 {
		return "{}"
	}
	var parts []string
	m.Each(func(cpu int) { parts = append(parts, strconv.Itoa(cpu)) })
	return "{" + strings.Join(parts, ",") + "}"
}
