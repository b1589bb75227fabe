package cli

import (
	"context"
	"fmt"
)

// TraceCmd groups the frozen trace commands.
type TraceCmd struct {
	List   TraceListCmd   `cmd:"" default:"withargs" help:"List stored trace snapshots."`
	Get    TraceGetCmd    `cmd:"" help:"Show a stored trace snapshot."`
	Delete TraceDeleteCmd `cmd:"" help:"Delete a stored trace snapshot."`
	Rearm  TraceRearmCmd  `cmd:"" help:"Let a frozen recorder record again."`
}

// TraceListCmd lists stored trace snapshots.
type TraceListCmd struct {
	OutputFlags
}

// Run executes the trace list command.
func (c *TraceListCmd) Run(cli *CLI, ctx context.Context) error {
	b, err := cli.Client(ctx)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	defer b.Close()

	list, err := b.Traces(ctx)
	if err != nil {
		return err
	}
	output, err := FormatTraces(list, &c.OutputFlags)
	if err != nil {
		return err
	}
	return cli.PrintOut(output)
}

// TraceGetCmd shows a stored trace snapshot.
type TraceGetCmd struct {
	OutputFlags
	ID TraceID `arg:"" help:"Trace snapshot UUID."`
}

// Run executes the trace get command.
func (c *TraceGetCmd) Run(cli *CLI, ctx context.Context) error {
	b, err := cli.Client(ctx)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	defer b.Close()

	snapshot, err := b.Trace(ctx, c.ID.Value)
	if err != nil {
		return err
	}
	output, err := FormatTrace(snapshot, &c.OutputFlags)
	if err != nil {
		return err
	}
	return cli.PrintOut(output)
}

// TraceDeleteCmd deletes a stored trace snapshot.
type TraceDeleteCmd struct {
	ID TraceID `arg:"" help:"Trace snapshot UUID."`
}

// Run executes the trace delete command.
func (c *TraceDeleteCmd) Run(cli *CLI, ctx context.Context) error {
	b, err := cli.Client(ctx)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	defer b.Close()

	if err := b.DeleteTrace(ctx, c.ID.Value); err != nil {
		return err
	}
	return cli.PrintOutf("deleted trace %s\n", c.ID.Value)
}

// TraceRearmCmd lets a frozen recorder record again.
type TraceRearmCmd struct{}

// Run executes the trace rearm command.
func (c *TraceRearmCmd) Run(cli *CLI, ctx context.Context) error {
	b, err := cli.Client(ctx)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	defer b.Close()

	if err := b.RearmTrace(ctx); err != nil {
		return err
	}
	return cli.PrintOut("trace recorder rearmed\n")
}
