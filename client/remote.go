package client

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/frobware/go-ipipe"
	"github.com/frobware/go-ipipe/pipeline"
	pb "github.com/frobware/go-ipipe/server/pb"
	"github.com/frobware/go-ipipe/trace"
)

// remoteClient implements Client over a gRPC connection, decoding the
// well-known message payloads into pipeline types.
type remoteClient struct {
	client pb.PipelineClient
	conn   *grpc.ClientConn
	logger *slog.Logger
}

// newRemote creates a Client connected to the specified address.
func newRemote(address string, o *options) (*remoteClient, error) {
	target := parseAddress(address)

	dialOpts := []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	if o.callTimeout > 0 {
		dialOpts = append(dialOpts, grpc.WithUnaryInterceptor(callTimeout(o.callTimeout)))
	}
	conn, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", target, err)
	}

	return &remoteClient{
		client: pb.NewPipelineClient(conn),
		conn:   conn,
		logger: o.logger,
	}, nil
}

// callTimeout bounds calls whose context carries no deadline.
func callTimeout(d time.Duration) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// parseAddress normalises an address for gRPC.
// Handles Unix socket paths (unix:// prefix or absolute paths starting with /)
// and TCP addresses (host:port).
func parseAddress(address string) string {
	if strings.HasPrefix(address, "unix://") {
		return address
	}
	if strings.HasPrefix(address, "/") {
		return "unix://" + address
	}
	return address
}

// Close releases the gRPC connection.
func (c *remoteClient) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func (c *remoteClient) Version(ctx context.Context) (string, error) {
	resp, err := c.client.Version(ctx, &emptypb.Empty{})
	if err != nil {
		return "", translateGRPCError(err)
	}
	return resp.GetValue(), nil
}

func (c *remoteClient) Sysinfo(ctx context.Context) (ipipe.Sysinfo, error) {
	var info ipipe.Sysinfo
	resp, err := c.client.Sysinfo(ctx, &emptypb.Empty{})
	if err != nil {
		return info, translateGRPCError(err)
	}
	err = pb.Decode(resp, &info)
	return info, err
}

func (c *remoteClient) Domains(ctx context.Context) ([]DomainInfo, error) {
	resp, err := c.client.ListDomains(ctx, &emptypb.Empty{})
	if err != nil {
		return nil, translateGRPCError(err)
	}
	var out []DomainInfo
	if err := pb.Decode(resp, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *remoteClient) Stats(ctx context.Context) ([]pipeline.DomainStats, error) {
	resp, err := c.client.Stats(ctx, &emptypb.Empty{})
	if err != nil {
		return nil, translateGRPCError(err)
	}
	var out []pipeline.DomainStats
	if err := pb.Decode(resp, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *remoteClient) trigger(ctx context.Context, req pb.TriggerRequest) error {
	in, err := pb.EncodeStruct(req)
	if err != nil {
		return err
	}
	_, err = c.client.TriggerIRQ(ctx, in)
	return translateGRPCError(err)
}

func (c *remoteClient) RaiseIRQ(ctx context.Context, irq ipipe.IRQ) error {
	return c.trigger(ctx, pb.TriggerRequest{IRQ: uint32(irq)})
}

func (c *remoteClient) TriggerIRQ(ctx context.Context, cpu int, irq ipipe.IRQ) error {
	return c.trigger(ctx, pb.TriggerRequest{IRQ: uint32(irq), CPU: &cpu})
}

func (c *remoteClient) Traces(ctx context.Context) ([]trace.Summary, error) {
	resp, err := c.client.ListTraces(ctx, &emptypb.Empty{})
	if err != nil {
		return nil, translateGRPCError(err)
	}
	var out []trace.Summary
	if err := pb.Decode(resp, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *remoteClient) Trace(ctx context.Context, id uuid.UUID) (*trace.Snapshot, error) {
	resp, err := c.client.GetTrace(ctx, wrapperspb.String(id.String()))
	if err != nil {
		return nil, translateGRPCError(err)
	}
	snap := new(trace.Snapshot)
	if err := pb.Decode(resp, snap); err != nil {
		return nil, err
	}
	return snap, nil
}

func (c *remoteClient) DeleteTrace(ctx context.Context, id uuid.UUID) error {
	_, err := c.client.DeleteTrace(ctx, wrapperspb.String(id.String()))
	return translateGRPCError(err)
}

func (c *remoteClient) RearmTrace(ctx context.Context) error {
	_, err := c.client.RearmTrace(ctx, &emptypb.Empty{})
	return translateGRPCError(err)
}

func (c *remoteClient) LogSpec(ctx context.Context) (string, error) {
	resp, err := c.client.GetLogSpec(ctx, &emptypb.Empty{})
	if err != nil {
		return "", translateGRPCError(err)
	}
	return resp.GetValue(), nil
}

func (c *remoteClient) SetLogSpec(ctx context.Context, spec string) (string, error) {
	resp, err := c.client.SetLogSpec(ctx, wrapperspb.String(spec))
	if err != nil {
		return "", translateGRPCError(err)
	}
	return resp.GetValue(), nil
}

// translateGRPCError converts gRPC errors to more user-friendly errors.
func translateGRPCError(err error) error {
	if err == nil {
		return nil
	}

	st, ok := status.FromError(err)
	if !ok {
		return err
	}

	switch st.Code() {
	case codes.Unimplemented:
		return fmt.Errorf("%s: %w", st.Message(), ErrNotSupported)
	case codes.NotFound:
		return fmt.Errorf("%s: %w", st.Message(), ErrNotFound)
	case codes.InvalidArgument:
		return fmt.Errorf("invalid argument: %s", st.Message())
	case codes.PermissionDenied:
		return fmt.Errorf("permission denied: %s", st.Message())
	case codes.FailedPrecondition:
		return fmt.Errorf("failed precondition: %s", st.Message())
	default:
		return err
	}
}
