// Package pb holds the ipipe.v1.Pipeline gRPC service. Messages are
// protobuf well-known types: structured replies travel as
// google.protobuf.Struct or ListValue carrying the JSON form of the
// Go values, so both ends share the Go types instead of a schema.
package pb

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "ipipe.v1.Pipeline"

const (
	Pipeline_Version_FullMethodName     = "/" + ServiceName + "/Version"
	Pipeline_Sysinfo_FullMethodName     = "/" + ServiceName + "/Sysinfo"
	Pipeline_ListDomains_FullMethodName = "/" + ServiceName + "/ListDomains"
	Pipeline_Stats_FullMethodName       = "/" + ServiceName + "/Stats"
	Pipeline_TriggerIRQ_FullMethodName  = "/" + ServiceName + "/TriggerIRQ"
	Pipeline_ListTraces_FullMethodName  = "/" + ServiceName + "/ListTraces"
	Pipeline_GetTrace_FullMethodName    = "/" + ServiceName + "/GetTrace"
	Pipeline_DeleteTrace_FullMethodName = "/" + ServiceName + "/DeleteTrace"
	Pipeline_RearmTrace_FullMethodName  = "/" + ServiceName + "/RearmTrace"
	Pipeline_GetLogSpec_FullMethodName  = "/" + ServiceName + "/GetLogSpec"
	Pipeline_SetLogSpec_FullMethodName  = "/" + ServiceName + "/SetLogSpec"
)

// PipelineServer is the server API for the Pipeline service.
type PipelineServer interface {
	// Version returns the pipeline revision.
	Version(context.Context, *emptypb.Empty) (*wrapperspb.StringValue, error)
	// Sysinfo returns the machine calibration snapshot.
	Sysinfo(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	// ListDomains returns the registered domains, head first.
	ListDomains(context.Context, *emptypb.Empty) (*structpb.ListValue, error)
	// Stats returns per-CPU state of every domain.
	Stats(context.Context, *emptypb.Empty) (*structpb.ListValue, error)
	// TriggerIRQ raises an interrupt.
	TriggerIRQ(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	// ListTraces returns the stored trace snapshots.
	ListTraces(context.Context, *emptypb.Empty) (*structpb.ListValue, error)
	// GetTrace returns one trace snapshot with its points.
	GetTrace(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	// DeleteTrace removes a stored trace snapshot.
	DeleteTrace(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
	// RearmTrace clears a frozen tracer so it records again.
	RearmTrace(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
	// GetLogSpec returns the daemon log spec.
	GetLogSpec(context.Context, *emptypb.Empty) (*wrapperspb.StringValue, error)
	// SetLogSpec replaces the daemon log spec and returns the
	// effective one.
	SetLogSpec(context.Context, *wrapperspb.StringValue) (*wrapperspb.StringValue, error)
}

// UnimplementedPipelineServer can be embedded to have forward
// compatible implementations.
type UnimplementedPipelineServer struct{}

func (UnimplementedPipelineServer) Version(context.Context, *emptypb.Empty) (*wrapperspb.StringValue, error) {
	return nil, status.Error(codes.Unimplemented, "method Version not implemented")
}
func (UnimplementedPipelineServer) Sysinfo(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method Sysinfo not implemented")
}
func (UnimplementedPipelineServer) ListDomains(context.Context, *emptypb.Empty) (*structpb.ListValue, error) {
	return nil, status.Error(codes.Unimplemented, "method ListDomains not implemented")
}
func (UnimplementedPipelineServer) Stats(context.Context, *emptypb.Empty) (*structpb.ListValue, error) {
	return nil, status.Error(codes.Unimplemented, "method Stats not implemented")
}
func (UnimplementedPipelineServer) TriggerIRQ(context.Context, *structpb.Struct) (*emptypb.Empty, error) {
	return nil, status.Error(codes.Unimplemented, "method TriggerIRQ not implemented")
}
func (UnimplementedPipelineServer) ListTraces(context.Context, *emptypb.Empty) (*structpb.ListValue, error) {
	return nil, status.Error(codes.Unimplemented, "method ListTraces not implemented")
}
func (UnimplementedPipelineServer) GetTrace(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method GetTrace not implemented")
}
func (UnimplementedPipelineServer) DeleteTrace(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error) {
	return nil, status.Error(codes.Unimplemented, "method DeleteTrace not implemented")
}
func (UnimplementedPipelineServer) RearmTrace(context.Context, *emptypb.Empty) (*emptypb.Empty, error) {
	return nil, status.Error(codes.Unimplemented, "method RearmTrace not implemented")
}
func (UnimplementedPipelineServer) GetLogSpec(context.Context, *emptypb.Empty) (*wrapperspb.StringValue, error) {
	return nil, status.Error(codes.Unimplemented, "method GetLogSpec not implemented")
}
func (UnimplementedPipelineServer) SetLogSpec(context.Context, *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
	return nil, status.Error(codes.Unimplemented, "method SetLogSpec not implemented")
}

// RegisterPipelineServer registers srv with s.
func RegisterPipelineServer(s grpc.ServiceRegistrar, srv PipelineServer) {
	s.RegisterService(&Pipeline_ServiceDesc, srv)
}

// unary builds the method descriptor of a unary RPC. newReq allocates
// the request message the codec decodes into.
func unary[Req proto.Message, Resp proto.Message](
	name string,
	newReq func() Req,
	call func(PipelineServer, context.Context, Req) (Resp, error),
) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := newReq()
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(PipelineServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(PipelineServer), ctx, req.(Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func newEmpty() *emptypb.Empty           { return new(emptypb.Empty) }
func newString() *wrapperspb.StringValue { return new(wrapperspb.StringValue) }
func newStruct() *structpb.Struct        { return new(structpb.Struct) }

// Pipeline_ServiceDesc is the grpc.ServiceDesc for the Pipeline service.
var Pipeline_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*PipelineServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Version", newEmpty, PipelineServer.Version),
		unary("Sysinfo", newEmpty, PipelineServer.Sysinfo),
		unary("ListDomains", newEmpty, PipelineServer.ListDomains),
		unary("Stats", newEmpty, PipelineServer.Stats),
		unary("TriggerIRQ", newStruct, PipelineServer.TriggerIRQ),
		unary("ListTraces", newEmpty, PipelineServer.ListTraces),
		unary("GetTrace", newString, PipelineServer.GetTrace),
		unary("DeleteTrace", newString, PipelineServer.DeleteTrace),
		unary("RearmTrace", newEmpty, PipelineServer.RearmTrace),
		unary("GetLogSpec", newEmpty, PipelineServer.GetLogSpec),
		unary("SetLogSpec", newString, PipelineServer.SetLogSpec),
	},
	Streams: []grpc.StreamDesc{},
}

// PipelineClient is the client API for the Pipeline service.
type PipelineClient interface {
	Version(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*wrapperspb.StringValue, error)
	Sysinfo(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error)
	ListDomains(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.ListValue, error)
	Stats(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.ListValue, error)
	TriggerIRQ(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*emptypb.Empty, error)
	ListTraces(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.ListValue, error)
	GetTrace(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*structpb.Struct, error)
	DeleteTrace(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*emptypb.Empty, error)
	RearmTrace(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*emptypb.Empty, error)
	GetLogSpec(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*wrapperspb.StringValue, error)
	SetLogSpec(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.StringValue, error)
}

type pipelineClient struct {
	cc grpc.ClientConnInterface
}

// NewPipelineClient returns a client for the Pipeline service on cc.
func NewPipelineClient(cc grpc.ClientConnInterface) PipelineClient {
	return &pipelineClient{cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	if err := cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *pipelineClient) Version(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*wrapperspb.StringValue, error) {
	return invoke[wrapperspb.StringValue](ctx, c.cc, Pipeline_Version_FullMethodName, in, opts)
}

func (c *pipelineClient) Sysinfo(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke[structpb.Struct](ctx, c.cc, Pipeline_Sysinfo_FullMethodName, in, opts)
}

func (c *pipelineClient) ListDomains(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.ListValue, error) {
	return invoke[structpb.ListValue](ctx, c.cc, Pipeline_ListDomains_FullMethodName, in, opts)
}

func (c *pipelineClient) Stats(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.ListValue, error) {
	return invoke[structpb.ListValue](ctx, c.cc, Pipeline_Stats_FullMethodName, in, opts)
}

func (c *pipelineClient) TriggerIRQ(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	return invoke[emptypb.Empty](ctx, c.cc, Pipeline_TriggerIRQ_FullMethodName, in, opts)
}

func (c *pipelineClient) ListTraces(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.ListValue, error) {
	return invoke[structpb.ListValue](ctx, c.cc, Pipeline_ListTraces_FullMethodName, in, opts)
}

func (c *pipelineClient) GetTrace(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke[structpb.Struct](ctx, c.cc, Pipeline_GetTrace_FullMethodName, in, opts)
}

func (c *pipelineClient) DeleteTrace(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	return invoke[emptypb.Empty](ctx, c.cc, Pipeline_DeleteTrace_FullMethodName, in, opts)
}

func (c *pipelineClient) RearmTrace(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	return invoke[emptypb.Empty](ctx, c.cc, Pipeline_RearmTrace_FullMethodName, in, opts)
}

func (c *pipelineClient) GetLogSpec(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*wrapperspb.StringValue, error) {
	return invoke[wrapperspb.StringValue](ctx, c.cc, Pipeline_GetLogSpec_FullMethodName, in, opts)
}

func (c *pipelineClient) SetLogSpec(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.StringValue, error) {
	return invoke[wrapperspb.StringValue](ctx, c.cc, Pipeline_SetLogSpec_FullMethodName, in, opts)
}

// EncodeStruct converts v, which must marshal to a JSON object, to a
// Struct.
func EncodeStruct(v any) (*structpb.Struct, error) {
	s := new(structpb.Struct)
	if err := encode(v, s); err != nil {
		return nil, err
	}
	return s, nil
}

// EncodeList converts v, which must marshal to a JSON array, to a
// ListValue.
func EncodeList(v any) (*structpb.ListValue, error) {
	l := new(structpb.ListValue)
	if err := encode(v, l); err != nil {
		return nil, err
	}
	return l, nil
}

func encode(v any, m proto.Message) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %T: %w", v, err)
	}
	if err := protojson.Unmarshal(data, m); err != nil {
		return fmt.Errorf("encode %T: %w", v, err)
	}
	return nil
}

// Decode fills v from a Struct or ListValue produced by EncodeStruct
// or EncodeList.
func Decode(m proto.Message, v any) error {
	data, err := protojson.Marshal(m)
	if err != nil {
		return fmt.Errorf("decode %T: %w", v, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %T: %w", v, err)
	}
	return nil
}
