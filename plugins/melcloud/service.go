package melcloud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joshp123/melcloud/internal/auth"
	"github.com/joshp123/melcloud/internal/rate"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "melcloud.v1.MelcloudService"

// MelcloudServiceServer is the RPC surface over a Client. Messages are
// google.protobuf.Struct so the service needs no generated code.
type MelcloudServiceServer interface {
	Login(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Logout(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListDevices(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetDevice(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetAllDevices(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetDeviceState(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Status(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type service struct {
	client *Client
}

func RegisterMelcloudService(server *grpc.Server, client *Client) {
	server.RegisterService(&serviceDesc, &service{client: client})
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*MelcloudServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Login", MelcloudServiceServer.Login),
		unary("Logout", MelcloudServiceServer.Logout),
		unary("ListDevices", MelcloudServiceServer.ListDevices),
		unary("GetDevice", MelcloudServiceServer.GetDevice),
		unary("GetAllDevices", MelcloudServiceServer.GetAllDevices),
		unary("SetDeviceState", MelcloudServiceServer.SetDeviceState),
		unary("Status", MelcloudServiceServer.Status),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "melcloud/v1/melcloud.proto",
}

type unaryMethod func(MelcloudServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(name string, call unaryMethod) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			server := srv.(MelcloudServiceServer)
			if interceptor == nil {
				return call(server, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(server, ctx, req.(*structpb.Struct))
			})
		},
	}
}

func (s *service) Login(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if s.client == nil {
		return nil, status.Error(codes.FailedPrecondition, "melcloud client not configured")
	}
	if err := s.client.Login(ctx); err != nil {
		return nil, statusError(ctx, "login", err)
	}
	expiry, _ := s.client.TokenExpiry()
	return structpb.NewStruct(map[string]any{"expiry": expiry.Format(time.RFC3339)})
}

func (s *service) Logout(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if s.client == nil {
		return nil, status.Error(codes.FailedPrecondition, "melcloud client not configured")
	}
	if err := s.client.Logout(ctx); err != nil {
		return nil, statusError(ctx, "logout", err)
	}
	return &structpb.Struct{}, nil
}

func (s *service) ListDevices(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if s.client == nil {
		return nil, status.Error(codes.FailedPrecondition, "melcloud client not configured")
	}
	devices, err := s.client.ListDevices(ctx)
	if err != nil {
		return nil, statusError(ctx, "list devices", err)
	}
	return toStruct(map[string]any{"devices": devices})
}

func (s *service) GetDevice(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.client == nil {
		return nil, status.Error(codes.FailedPrecondition, "melcloud client not configured")
	}
	name := req.GetFields()["name"].GetStringValue()
	if name == "" {
		return nil, status.Error(codes.InvalidArgument, "name is required")
	}
	rec, err := s.client.GetDevice(ctx, name)
	if err != nil {
		return nil, statusError(ctx, "get device", err)
	}
	return toStruct(map[string]any{"device": rec})
}

func (s *service) GetAllDevices(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if s.client == nil {
		return nil, status.Error(codes.FailedPrecondition, "melcloud client not configured")
	}
	devices, err := s.client.GetAllDevices(ctx)
	if err != nil {
		return nil, statusError(ctx, "get all devices", err)
	}
	return toStruct(map[string]any{"devices": devices})
}

func (s *service) SetDeviceState(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.client == nil {
		return nil, status.Error(codes.FailedPrecondition, "melcloud client not configured")
	}
	name := req.GetFields()["name"].GetStringValue()
	if name == "" {
		return nil, status.Error(codes.InvalidArgument, "name is required")
	}

	var desired DesiredState
	if state := req.GetFields()["state"].GetStructValue(); state != nil {
		data, err := protojson.Marshal(state)
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "state: %v", err)
		}
		if err := json.Unmarshal(data, &desired); err != nil {
			return nil, statusError(ctx, "decode state", err)
		}
	}

	if err := s.client.SetDeviceState(ctx, name, desired); err != nil {
		return nil, statusError(ctx, "set device state", err)
	}
	return structpb.NewStruct(map[string]any{"result": "OK"})
}

func (s *service) Status(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if s.client == nil {
		return nil, status.Error(codes.FailedPrecondition, "melcloud client not configured")
	}
	expiry, valid := s.client.TokenExpiry()
	throttle := s.client.Throttle()
	out := map[string]any{
		"token_valid":      valid,
		"last_call_status": throttle.LastStatus,
		"device_count":     len(s.client.Devices()),
	}
	if !expiry.IsZero() {
		out["token_expiry"] = expiry.Format(time.RFC3339)
	}
	if !throttle.LastCallAt.IsZero() {
		out["last_call_at"] = throttle.LastCallAt.Format(time.RFC3339)
	}
	if next := s.client.NextCallAt(); !next.IsZero() {
		out["next_call_at"] = next.Format(time.RFC3339)
	}
	return toStruct(out)
}

// toStruct round-trips v through JSON so field names follow the json tags.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

// statusError maps err to a gRPC status. Context codes are reserved for the
// caller's own cancellation; attempts that timed out upstream are Unavailable.
func statusError(ctx context.Context, op string, err error) error {
	var (
		unknown   *UnknownDeviceError
		invalid   *InvalidFieldValueError
		authErr   *auth.Error
		limited   rate.RateLimitError
		transport *rate.TransportError
		httpErr   HTTPStatusError
		syntax    *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
	)
	code := codes.Internal
	switch {
	case errors.As(err, &unknown):
		code = codes.NotFound
	case errors.As(err, &invalid), errors.As(err, &syntax), errors.As(err, &typeErr):
		code = codes.InvalidArgument
	case errors.As(err, &authErr):
		code = codes.Unauthenticated
	case errors.As(err, &limited):
		code = codes.ResourceExhausted
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	case errors.Is(ctx.Err(), context.Canceled):
		code = codes.Canceled
	case errors.As(err, &transport):
		code = codes.Unavailable
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.As(err, &httpErr):
		code = codes.FailedPrecondition
	}
	return status.Error(code, fmt.Sprintf("%s: %v", op, err))
}
