package cli

import (
	"context"
	"fmt"
)

// VersionCmd prints the pipeline revision.
type VersionCmd struct{}

// Run executes the version command.
func (c *VersionCmd) Run(cli *CLI, ctx context.Context) error {
	b, err := cli.Client(ctx)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	defer b.Close()

	version, err := b.Version(ctx)
	if err != nil {
		return err
	}
	return cli.PrintOutf("%s\n", version)
}

// SysinfoCmd prints the machine calibration.
type SysinfoCmd struct {
	OutputFlags
}

// Run executes the sysinfo command.
func (c *SysinfoCmd) Run(cli *CLI, ctx context.Context) error {
	b, err := cli.Client(ctx)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	defer b.Close()

	info, err := b.Sysinfo(ctx)
	if err != nil {
		return err
	}
	output, err := FormatSysinfo(info, &c.OutputFlags)
	if err != nil {
		return err
	}
	return cli.PrintOut(output)
}

// DomainsCmd lists the registered domains.
type DomainsCmd struct {
	OutputFlags
}

// Run executes the domains command.
func (c *DomainsCmd) Run(cli *CLI, ctx context.Context) error {
	b, err := cli.Client(ctx)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	defer b.Close()

	domains, err := b.Domains(ctx)
	if err != nil {
		return err
	}
	output, err := FormatDomains(domains, &c.OutputFlags)
	if err != nil {
		return err
	}
	return cli.PrintOut(output)
}

// StatsCmd shows per-CPU domain state.
type StatsCmd struct {
	OutputFlags
}

// Run executes the stats command.
func (c *StatsCmd) Run(cli *CLI, ctx context.Context) error {
	b, err := cli.Client(ctx)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	defer b.Close()

	stats, err := b.Stats(ctx)
	if err != nil {
		return err
	}
	output, err := FormatStats(stats, &c.OutputFlags)
	if err != nil {
		return err
	}
	return cli.PrintOut(output)
}
