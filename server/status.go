package server

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/frobware/go-ipipe"
	"github.com/frobware/go-ipipe/trace"
)

// toStatus maps pipeline errors to gRPC status codes. Errors that
// already carry a status are returned unchanged.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	return status.Error(codeOf(err), err.Error())
}

func codeOf(err error) codes.Code {
	switch {
	case errors.Is(err, ipipe.ErrInvalidIRQ),
		errors.Is(err, ipipe.ErrInvalidMode),
		errors.Is(err, ipipe.ErrInvalidPriority),
		errors.Is(err, ipipe.ErrInvalidEvent),
		errors.Is(err, ipipe.ErrInvalidAffinity):
		return codes.InvalidArgument
	case errors.Is(err, ipipe.ErrPermissionDenied):
		return codes.PermissionDenied
	case errors.Is(err, ipipe.ErrDuplicateName),
		errors.Is(err, ipipe.ErrIRQBusy):
		return codes.AlreadyExists
	case errors.Is(err, ipipe.ErrDomainBusy),
		errors.Is(err, ipipe.ErrIncompatibleABI),
		errors.Is(err, ipipe.ErrAffinityNotCapable):
		return codes.FailedPrecondition
	case errors.Is(err, ipipe.ErrNoVirq):
		return codes.ResourceExhausted
	case errors.Is(err, ipipe.ErrDomainNotFound),
		errors.Is(err, trace.ErrNotFound):
		return codes.NotFound
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	}
	return codes.Internal
}
