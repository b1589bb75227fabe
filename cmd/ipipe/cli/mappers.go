package cli

import (
	"reflect"

	"github.com/alecthomas/kong"
)

// irqMapper creates a Kong mapper for ipipe.IRQ.
func irqMapper() kong.MapperFunc {
	return func(ctx *kong.DecodeContext, target reflect.Value) error {
		var s string
		if err := ctx.Scan.PopValueInto("irq", &s); err != nil {
			return err
		}
		irq, err := ParseIRQ(s)
		if err != nil {
			return err
		}
		target.Set(reflect.ValueOf(irq))
		return nil
	}
}

// traceIDMapper creates a Kong mapper for TraceID.
func traceIDMapper() kong.MapperFunc {
	return func(ctx *kong.DecodeContext, target reflect.Value) error {
		var s string
		if err := ctx.Scan.PopValueInto("trace-id", &s); err != nil {
			return err
		}
		id, err := ParseTraceID(s)
		if err != nil {
			return err
		}
		target.Set(reflect.ValueOf(id))
		return nil
	}
}
