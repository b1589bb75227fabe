// Package client provides access to an ipipe pipeline over gRPC.
//
// Use Dial to connect to a running ipipe daemon:
//
//	c, err := client.Dial(client.DefaultSocketPath())
//	c, err := client.Dial("localhost:50061")
//
// Use Open to run a private pipeline in-process:
//
//	c, err := client.Open(ctx)
//	c, err := client.Open(ctx, client.WithConfig(cfg))
//
// Both return a Client that can be used identically.
package client

import (
	"context"
	"errors"
	"io"

	"github.com/google/uuid"

	"github.com/frobware/go-ipipe"
	"github.com/frobware/go-ipipe/pipeline"
	pb "github.com/frobware/go-ipipe/server/pb"
	"github.com/frobware/go-ipipe/trace"
)

// ErrNotSupported is returned when the server does not implement an
// operation.
var ErrNotSupported = errors.New("operation not supported by server")

// ErrNotFound is returned when the server reports a missing object.
var ErrNotFound = errors.New("not found")

// DomainInfo describes a registered domain.
type DomainInfo = pb.DomainInfo

// Client is the pipeline control interface.
type Client interface {
	io.Closer

	// Version returns the pipeline revision.
	Version(ctx context.Context) (string, error)
	// Sysinfo returns the machine calibration snapshot.
	Sysinfo(ctx context.Context) (ipipe.Sysinfo, error)
	// Domains returns the registered domains, head first.
	Domains(ctx context.Context) ([]DomainInfo, error)
	// Stats returns the per-CPU state of every domain, head first.
	Stats(ctx context.Context) ([]pipeline.DomainStats, error)

	// RaiseIRQ asserts a device IRQ at the interrupt controller.
	RaiseIRQ(ctx context.Context, irq ipipe.IRQ) error
	// TriggerIRQ injects irq in software on cpu.
	TriggerIRQ(ctx context.Context, cpu int, irq ipipe.IRQ) error

	// Traces lists the stored trace snapshots, oldest first.
	Traces(ctx context.Context) ([]trace.Summary, error)
	// Trace returns a stored snapshot with its points.
	Trace(ctx context.Context, id uuid.UUID) (*trace.Snapshot, error)
	// DeleteTrace removes a stored snapshot.
	DeleteTrace(ctx context.Context, id uuid.UUID) error
	// RearmTrace lets a frozen recorder record again.
	RearmTrace(ctx context.Context) error

	// LogSpec returns the server log spec.
	LogSpec(ctx context.Context) (string, error)
	// SetLogSpec replaces the server log spec and returns the
	// effective one.
	SetLogSpec(ctx context.Context, spec string) (string, error)
}
