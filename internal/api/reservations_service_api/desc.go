package reservations_service_api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "airreserve.v1.ReservationsService"

// ReservationsServiceServer is the server side of ReservationsService.
// Requests and responses are structpb.Struct documents whose fields follow
// the JSON shapes of the HTTP API.
type ReservationsServiceServer interface {
	ListFlights(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetFlight(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CreateBooking(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetBooking(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListBookings(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CancelBooking(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CreatePayment(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ConfirmPayment(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RefundPayment(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetPayment(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type methodFunc func(ReservationsServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(name string, call methodFunc) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			server := srv.(ReservationsServiceServer)
			if interceptor == nil {
				return call(server, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(server, ctx, req.(*structpb.Struct))
			})
		},
	}
}

var ReservationsServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ReservationsServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler("ListFlights", ReservationsServiceServer.ListFlights),
		unaryHandler("GetFlight", ReservationsServiceServer.GetFlight),
		unaryHandler("CreateBooking", ReservationsServiceServer.CreateBooking),
		unaryHandler("GetBooking", ReservationsServiceServer.GetBooking),
		unaryHandler("ListBookings", ReservationsServiceServer.ListBookings),
		unaryHandler("CancelBooking", ReservationsServiceServer.CancelBooking),
		unaryHandler("CreatePayment", ReservationsServiceServer.CreatePayment),
		unaryHandler("ConfirmPayment", ReservationsServiceServer.ConfirmPayment),
		unaryHandler("RefundPayment", ReservationsServiceServer.RefundPayment),
		unaryHandler("GetPayment", ReservationsServiceServer.GetPayment),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "reservations.proto",
}

func RegisterReservationsServiceServer(s grpc.ServiceRegistrar, srv ReservationsServiceServer) {
	s.RegisterService(&ReservationsServiceDesc, srv)
}

// Client calls ReservationsService over conn.
type Client struct {
	conn grpc.ClientConnInterface
}

func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

func (c *Client) Call(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
