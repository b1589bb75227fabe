package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/frobware/go-ipipe"
)

// ParseIRQ parses an IRQ number, supporting a hex (0x) prefix.
func ParseIRQ(s string) (ipipe.IRQ, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("IRQ cannot be empty")
	}

	var val uint64
	var err error

	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		val, err = strconv.ParseUint(s[2:], 16, 32)
	} else {
		val, err = strconv.ParseUint(s, 10, 32)
	}
	if err != nil {
		return 0, fmt.Errorf("invalid IRQ %q: %w", s, err)
	}

	irq := ipipe.IRQ(val)
	if !irq.Valid() {
		return 0, fmt.Errorf("invalid IRQ %q: must be below %d", s, ipipe.NrTotalIRQs)
	}
	return irq, nil
}

// TraceID wraps a trace snapshot UUID.
type TraceID struct {
	Value uuid.UUID
}

// ParseTraceID parses and validates a trace snapshot UUID.
func ParseTraceID(s string) (TraceID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return TraceID{}, fmt.Errorf("trace ID cannot be empty")
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return TraceID{}, fmt.Errorf("invalid trace ID %q: %w", s, err)
	}
	return TraceID{Value: id}, nil
}
