package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

func structHandler(call func(OracleServer, context.Context, *structpb.Struct) (*structpb.Struct, error), method string) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(OracleServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + method}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(OracleServer), ctx, req.(*structpb.Struct))
			})
		},
	}
}

func getInfoHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(OracleServer).GetInfo(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/GetInfo"}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(OracleServer).GetInfo(ctx, req.(*emptypb.Empty))
	})
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*OracleServer)(nil),
	Methods: []grpc.MethodDesc{
		structHandler(OracleServer.ProcessEvent, "ProcessEvent"),
		structHandler(OracleServer.SubmitAttestation, "SubmitAttestation"),
		structHandler(OracleServer.GetStatus, "GetStatus"),
		structHandler(OracleServer.GetShipment, "GetShipment"),
		{MethodName: "GetInfo", Handler: getInfoHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "shiporacle/v1/oracle.proto",
}

// Client calls the Oracle service over a client connection.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps cc.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) call(ctx context.Context, method string, in any) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out); err != nil {
		return nil, err
	}
	return out, nil
}

// ProcessEvent runs one attestation inline.
func (c *Client) ProcessEvent(ctx context.Context, eventDescription, shipmentID string) (*structpb.Struct, error) {
	return c.call(ctx, "ProcessEvent", attestRequest(eventDescription, shipmentID))
}

// SubmitAttestation queues one attestation.
func (c *Client) SubmitAttestation(ctx context.Context, eventDescription, shipmentID string) (*structpb.Struct, error) {
	return c.call(ctx, "SubmitAttestation", attestRequest(eventDescription, shipmentID))
}

// GetStatus reads a queued request.
func (c *Client) GetStatus(ctx context.Context, requestID string) (*structpb.Struct, error) {
	return c.call(ctx, "GetStatus", &structpb.Struct{Fields: map[string]*structpb.Value{"request_id": structpb.NewStringValue(requestID)}})
}

// GetShipment reads a ledger record.
func (c *Client) GetShipment(ctx context.Context, shipmentID string) (*structpb.Struct, error) {
	return c.call(ctx, "GetShipment", &structpb.Struct{Fields: map[string]*structpb.Value{"shipment_id": structpb.NewStringValue(shipmentID)}})
}

// GetInfo describes the oracle.
func (c *Client) GetInfo(ctx context.Context) (*structpb.Struct, error) {
	return c.call(ctx, "GetInfo", &emptypb.Empty{})
}

func attestRequest(eventDescription, shipmentID string) *structpb.Struct {
	fields := map[string]*structpb.Value{"event_description": structpb.NewStringValue(eventDescription)}
	if shipmentID != "" {
		fields["shipment_id"] = structpb.NewStringValue(shipmentID)
	}
	return &structpb.Struct{Fields: fields}
}
