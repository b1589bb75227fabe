package server

import (
	"context"
	"log/slog"
	"path"
	"time"
)

// Op identifies one control plane request.
type Op struct {
	// ID increases monotonically per server.
	ID uint64
	// Method is the short RPC name, e.g. "TriggerIRQ".
	Method string
	Start  time.Time
}

type opKey struct{}

// ContextWithOp returns ctx carrying op.
func ContextWithOp(ctx context.Context, op Op) context.Context {
	return context.WithValue(ctx, opKey{}, op)
}

// OpFromContext returns the op carried by ctx.
func OpFromContext(ctx context.Context) (Op, bool) {
	if ctx == nil {
		return Op{}, false
	}
	op, ok := ctx.Value(opKey{}).(Op)
	return op, ok
}

// newOp names an op after the last element of a full gRPC method
// name.
func newOp(id uint64, fullMethod string) Op {
	return Op{ID: id, Method: path.Base(fullMethod), Start: time.Now()}
}

// opHandler adds op_id and rpc to records logged with the context of
// a request.
type opHandler struct {
	slog.Handler
}

func (h opHandler) Handle(ctx context.Context, r slog.Record) error {
	if op, ok := OpFromContext(ctx); ok {
		r.AddAttrs(slog.Uint64("op_id", op.ID), slog.String("rpc", op.Method))
	}
	return h.Handler.Handle(ctx, r)
}

func (h opHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return opHandler{h.Handler.WithAttrs(attrs)}
}

func (h opHandler) WithGroup(name string) slog.Handler {
	return opHandler{h.Handler.WithGroup(name)}
}

// WithOpHandler wraps the handler of logger so *Context log calls
// carry the request op. Wrapping twice is a no-op.
func WithOpHandler(logger *slog.Logger) *slog.Logger {
	if _, ok := logger.Handler().(opHandler); ok {
		return logger
	}
	return slog.New(opHandler{logger.Handler()})
}
