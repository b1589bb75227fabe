package cli

import (
	"context"
	"fmt"
)

// LogSpecCmd shows the daemon log spec, or replaces it when a spec is
// given.
type LogSpecCmd struct {
	Spec string `arg:"" optional:"" help:"New log spec (e.g., 'warn,dispatch=debug')."`
}

// Run executes the log-spec command.
func (c *LogSpecCmd) Run(cli *CLI, ctx context.Context) error {
	b, err := cli.Client(ctx)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	defer b.Close()

	var spec string
	if c.Spec == "" {
		spec, err = b.LogSpec(ctx)
	} else {
		spec, err = b.SetLogSpec(ctx, c.Spec)
	}
	if err != nil {
		return err
	}
	return cli.PrintOutf("%s\n", spec)
}
