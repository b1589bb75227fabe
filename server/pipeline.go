package server

import (
	"context"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/frobware/go-ipipe"
	"github.com/frobware/go-ipipe/pipeline"
	pb "github.com/frobware/go-ipipe/server/pb"
	"github.com/frobware/go-ipipe/trace"
)

var _ pb.PipelineServer = (*Server)(nil)

// Version returns the pipeline revision.
func (s *Server) Version(context.Context, *emptypb.Empty) (*wrapperspb.StringValue, error) {
	return wrapperspb.String(pipeline.Version), nil
}

// Sysinfo returns the machine calibration snapshot.
func (s *Server) Sysinfo(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	out, err := pb.EncodeStruct(s.p.Sysinfo())
	return out, toStatus(err)
}

// ListDomains returns the registered domains, head first.
func (s *Server) ListDomains(context.Context, *emptypb.Empty) (*structpb.ListValue, error) {
	order := s.p.Domains()
	infos := make([]pb.DomainInfo, 0, len(order))
	for i, d := range order {
		info := pb.DomainInfo{
			Name:     d.Name(),
			ID:       d.ID(),
			Priority: d.Priority(),
			Root:     d.IsRoot(),
			Head:     i == 0,
		}
		if s.domains != nil {
			if rd, ok := s.domains.Get(d.Name()); ok && rd.Pipeline() == d {
				info.Mode = rd.Mode().String()
				for _, irq := range rd.IRQs() {
					info.IRQs = append(info.IRQs, uint32(irq))
					if n := rd.Total(irq); n != 0 {
						if info.Deliveries == nil {
							info.Deliveries = make(map[uint32]uint64)
						}
						info.Deliveries[uint32(irq)] = n
					}
				}
			}
		}
		infos = append(infos, info)
	}
	out, err := pb.EncodeList(infos)
	return out, toStatus(err)
}

// Stats returns per-CPU state of every domain.
func (s *Server) Stats(context.Context, *emptypb.Empty) (*structpb.ListValue, error) {
	out, err := pb.EncodeList(s.p.Stats())
	return out, toStatus(err)
}

// TriggerIRQ raises an interrupt, either at the interrupt controller
// or in software on a given CPU.
func (s *Server) TriggerIRQ(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	var req pb.TriggerRequest
	if err := pb.Decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	irq := ipipe.IRQ(req.IRQ)

	if req.CPU == nil {
		if err := s.m.RaiseIRQ(irq); err != nil {
			return nil, toStatus(err)
		}
		s.logger.DebugContext(ctx, "raised irq", "irq", irq)
		return &emptypb.Empty{}, nil
	}

	cpu := *req.CPU
	if cpu < 0 || cpu >= s.p.NumCPUs() {
		return nil, status.Errorf(codes.InvalidArgument, "cpu %d out of range [0, %d)", cpu, s.p.NumCPUs())
	}
	// The closure may still run after Exec gave up on ctx.
	result := make(chan error, 1)
	if err := s.m.Exec(ctx, cpu, func() { result <- s.p.CPU(cpu).TriggerIRQ(irq) }); err != nil {
		return nil, toStatus(err)
	}
	if err := <-result; err != nil {
		return nil, toStatus(err)
	}
	s.logger.DebugContext(ctx, "triggered irq", "irq", irq, "cpu", cpu)
	return &emptypb.Empty{}, nil
}

func (s *Server) traceStore() (TraceStore, error) {
	if s.traces == nil {
		return nil, status.Error(codes.FailedPrecondition, "no trace store configured")
	}
	return s.traces, nil
}

func parseTraceID(in *wrapperspb.StringValue) (uuid.UUID, error) {
	id, err := uuid.Parse(in.GetValue())
	if err != nil {
		return uuid.Nil, status.Errorf(codes.InvalidArgument, "invalid trace id %q: %v", in.GetValue(), err)
	}
	return id, nil
}

// ListTraces returns the stored trace snapshots, oldest first.
func (s *Server) ListTraces(ctx context.Context, _ *emptypb.Empty) (*structpb.ListValue, error) {
	ts, err := s.traceStore()
	if err != nil {
		return nil, err
	}
	list, err := ts.List(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	if list == nil {
		list = []trace.Summary{}
	}
	out, err := pb.EncodeList(list)
	return out, toStatus(err)
}

// GetTrace returns one snapshot with its points.
func (s *Server) GetTrace(ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error) {
	ts, err := s.traceStore()
	if err != nil {
		return nil, err
	}
	id, err := parseTraceID(in)
	if err != nil {
		return nil, err
	}
	snap, err := ts.Get(ctx, id)
	if err != nil {
		return nil, toStatus(err)
	}
	out, err := pb.EncodeStruct(snap)
	return out, toStatus(err)
}

// DeleteTrace removes a stored snapshot.
func (s *Server) DeleteTrace(ctx context.Context, in *wrapperspb.StringValue) (*emptypb.Empty, error) {
	ts, err := s.traceStore()
	if err != nil {
		return nil, err
	}
	id, err := parseTraceID(in)
	if err != nil {
		return nil, err
	}
	if err := ts.Delete(ctx, id); err != nil {
		return nil, toStatus(err)
	}
	s.logger.InfoContext(ctx, "deleted trace", "id", id)
	return &emptypb.Empty{}, nil
}

// RearmTrace clears a frozen recorder so it records again.
func (s *Server) RearmTrace(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	if s.rec == nil {
		return nil, status.Error(codes.FailedPrecondition, "tracing is disabled")
	}
	s.rec.Reset()
	s.logger.InfoContext(ctx, "trace rearmed")
	return &emptypb.Empty{}, nil
}

// GetLogSpec returns the daemon log spec.
func (s *Server) GetLogSpec(context.Context, *emptypb.Empty) (*wrapperspb.StringValue, error) {
	if s.levels == nil {
		return nil, status.Error(codes.FailedPrecondition, "log levels are not adjustable")
	}
	spec := s.levels.Spec()
	return wrapperspb.String(spec.String()), nil
}

// SetLogSpec replaces the daemon log spec.
func (s *Server) SetLogSpec(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
	if s.levels == nil {
		return nil, status.Error(codes.FailedPrecondition, "log levels are not adjustable")
	}
	if err := s.levels.SetString(in.GetValue()); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	spec := s.levels.Spec()
	s.logger.InfoContext(ctx, "log spec changed", "spec", spec.String())
	return wrapperspb.String(spec.String()), nil
}
