package reservations_service_api

import (
	"context"
	"errors"

	"github.com/Domenick1991/airreserve/internal/domain"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

func grpcCode(kind domain.ErrorKind) codes.Code {
	switch kind {
	case domain.KindNotFound, domain.KindFlightNotFound:
		return codes.NotFound
	case domain.KindInvalidState, domain.KindBookingExpired:
		return codes.FailedPrecondition
	case domain.KindInsufficientSeats:
		return codes.ResourceExhausted
	case domain.KindAmountMismatch, domain.KindValidation:
		return codes.InvalidArgument
	case domain.KindTransientContention:
		return codes.Aborted
	}
	return codes.Internal
}

// toStatus converts err into a gRPC status error. Domain errors carry their
// structured fields as a Struct detail.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	var de *domain.Error
	if !errors.As(err, &de) {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return status.FromContextError(err).Err()
		}
		return status.Error(codes.Internal, "internal error")
	}

	st := status.New(grpcCode(de.Kind), de.Error())
	fields := map[string]any{"kind": string(de.Kind)}
	if de.Reference != "" {
		fields["reference"] = de.Reference
	}
	if de.Status != "" {
		fields["status"] = de.Status
	}
	if de.FlightID != 0 {
		fields["flight_id"] = de.FlightID
	}
	if de.Kind == domain.KindInsufficientSeats {
		fields["cabin"] = string(de.Cabin)
		fields["requested"] = de.Requested
		fields["available"] = de.Available
	}
	detail, derr := structpb.NewStruct(fields)
	if derr != nil {
		return st.Err()
	}
	if withDetail, derr := st.WithDetails(detail); derr == nil {
		st = withDetail
	}
	return st.Err()
}

// ErrorDetail returns the Struct detail attached by the server, if any.
func ErrorDetail(err error) (*structpb.Struct, bool) {
	st, ok := status.FromError(err)
	if !ok {
		return nil, false
	}
	for _, d := range st.Details() {
		if s, ok := d.(*structpb.Struct); ok {
			return s, true
		}
	}
	return nil, false
}
