package cli

import (
	"context"
	"fmt"

	"github.com/frobware/go-ipipe"
)

// TriggerCmd raises an interrupt. Without --cpu the IRQ is asserted
// at the interrupt controller and routed by affinity; with it, the
// IRQ is injected in software on that CPU.
type TriggerCmd struct {
	IRQ ipipe.IRQ `arg:"" help:"IRQ number (decimal or 0x hex)."`
	CPU *int      `name:"cpu" short:"c" help:"Inject on this CPU instead of routing through the controller."`
}

// Run executes the trigger command.
func (c *TriggerCmd) Run(cli *CLI, ctx context.Context) error {
	b, err := cli.Client(ctx)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	defer b.Close()

	if c.CPU == nil {
		if err := b.RaiseIRQ(ctx, c.IRQ); err != nil {
			return fmt.Errorf("raise IRQ %d: %w", c.IRQ, err)
		}
		return cli.PrintOutf("raised IRQ %d (%s)\n", uint32(c.IRQ), c.IRQ)
	}

	if err := b.TriggerIRQ(ctx, *c.CPU, c.IRQ); err != nil {
		return fmt.Errorf("trigger IRQ %d on cpu %d: %w", c.IRQ, *c.CPU, err)
	}
	return cli.PrintOutf("triggered IRQ %d (%s) on cpu %d\n", uint32(c.IRQ), c.IRQ, *c.CPU)
}
