package grpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"shiporacle/attestation"
	"shiporacle/blockchain/types"
	core "shiporacle/ingestion/service/core"
	"shiporacle/storage/store"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "shiporacle.v1.Oracle"

// OracleServer is the gRPC surface of the ingestion service. Messages are
// google.protobuf.Struct documents with the same field names as the HTTP API.
type OracleServer interface {
	ProcessEvent(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	SubmitAttestation(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetStatus(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetShipment(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetInfo(ctx context.Context, req *emptypb.Empty) (*structpb.Struct, error)
}

// Server implements OracleServer on top of the core service
type Server struct {
	svc    *core.Service
	logger *zap.Logger
}

// NewServer creates a new gRPC Server instance
func NewServer(s *core.Service, l *zap.Logger) *Server {
	return &Server{svc: s, logger: l.Named("grpc")}
}

// Register attaches the server to a grpc.Server.
func Register(gs *grpc.Server, srv OracleServer) {
	gs.RegisterService(&serviceDesc, srv)
}

// ProcessEvent runs one attestation inline.
func (s *Server) ProcessEvent(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	res, err := s.svc.Attest(ctx, inputOf(req))
	if err != nil {
		s.logger.Debug("ProcessEvent failed", zap.Error(err))
		return nil, statusOf(err)
	}
	return toStruct(res)
}

// SubmitAttestation queues one attestation.
func (s *Server) SubmitAttestation(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	res, err := s.svc.SubmitAttestation(ctx, inputOf(req))
	if err != nil {
		return nil, statusOf(err)
	}
	return toStruct(res)
}

// GetStatus reads a queued request by request_id.
func (s *Server) GetStatus(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id := stringField(req, "request_id")
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "request_id is required")
	}
	st, err := s.svc.GetStatus(ctx, id)
	if err != nil {
		return nil, statusOf(err)
	}
	return toStruct(st)
}

// GetShipment reads a ledger record by shipment_id.
func (s *Server) GetShipment(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id := stringField(req, "shipment_id")
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "shipment_id is required")
	}
	view, err := s.svc.GetShipment(ctx, id)
	if err != nil {
		return nil, statusOf(err)
	}
	return toStruct(view)
}

// GetInfo describes the oracle.
func (s *Server) GetInfo(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return toStruct(s.svc.Info(ctx))
}

func inputOf(req *structpb.Struct) *core.AttestInput {
	return &core.AttestInput{
		EventDescription: stringField(req, "event_description"),
		ShipmentID:       stringField(req, "shipment_id"),
	}
}

func stringField(req *structpb.Struct, key string) string {
	if req == nil {
		return ""
	}
	return req.GetFields()[key].GetStringValue()
}

// toStruct converts a JSON-tagged value into a Struct.
func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

// statusOf maps service errors to gRPC status codes
func statusOf(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, types.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, core.ErrAsyncDisabled):
		return status.Error(codes.Unimplemented, err.Error())
	}
	msg := err.Error()
	if kind := attestation.KindOf(err); kind != "" {
		msg = fmt.Sprintf("%s: %s", kind, msg)
	}
	switch attestation.ClassOf(err) {
	case attestation.ClassInvalid:
		return status.Error(codes.InvalidArgument, msg)
	case attestation.ClassPermanent:
		return status.Error(codes.FailedPrecondition, msg)
	default:
		return status.Error(codes.Unavailable, msg)
	}
}

var _ OracleServer = (*Server)(nil)
