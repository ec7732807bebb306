package melcloud

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joshp123/melcloud/internal/auth"
	"github.com/joshp123/melcloud/internal/rate"
)

func dialService(t *testing.T, client *Client) *grpc.ClientConn {
	t.Helper()
	listener := bufconn.Listen(1 << 20)
	server := grpc.NewServer()
	RegisterMelcloudService(server, client)
	go func() { _ = server.Serve(listener) }()
	t.Cleanup(server.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return listener.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func invoke(conn *grpc.ClientConn, method string, req map[string]any) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, err
	}
	out := &structpb.Struct{}
	err = conn.Invoke(context.Background(), "/"+ServiceName+"/"+method, in, out)
	return out, err
}

func TestServiceDeviceFlow(t *testing.T) {
	cloud, server := newFakeCloud(t)
	conn := dialService(t, newTestClient(t, server.URL, nil))

	out, err := invoke(conn, "ListDevices", nil)
	if err != nil {
		t.Fatalf("ListDevices: %v", err)
	}
	devices := out.GetFields()["devices"].GetStructValue().GetFields()
	if len(devices) != 2 {
		t.Fatalf("unexpected devices: %v", out)
	}
	if id := devices["Vp_nere"].GetStructValue().GetFields()["device_id"].GetNumberValue(); id != 1 {
		t.Fatalf("unexpected device id %v", id)
	}

	out, err = invoke(conn, "GetDevice", map[string]any{"name": "Vp_nere"})
	if err != nil {
		t.Fatalf("GetDevice: %v", err)
	}
	state := out.GetFields()["device"].GetStructValue().GetFields()["current_state"].GetStructValue().GetFields()
	if state["temperature"].GetNumberValue() != 20 || state["mode"].GetNumberValue() != ModeHeat {
		t.Fatalf("unexpected state: %v", state)
	}

	out, err = invoke(conn, "SetDeviceState", map[string]any{
		"name":  "Vp_nere",
		"state": map[string]any{"power": 1, "temperature": 23},
	})
	if err != nil {
		t.Fatalf("SetDeviceState: %v", err)
	}
	if out.GetFields()["result"].GetStringValue() != "OK" {
		t.Fatalf("unexpected result: %v", out)
	}
	sent := cloud.commands()[0]
	if sent["EffectiveFlags"] != float64(FlagPower|FlagTemperature) || sent["SetTemperature"] != float64(23) {
		t.Fatalf("unexpected command: %v", sent)
	}

	out, err = invoke(conn, "Status", nil)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !out.GetFields()["token_valid"].GetBoolValue() || out.GetFields()["device_count"].GetNumberValue() != 2 {
		t.Fatalf("unexpected status: %v", out)
	}
}

func TestServiceErrorCodes(t *testing.T) {
	_, server := newFakeCloud(t)
	conn := dialService(t, newTestClient(t, server.URL, nil))

	tests := []struct {
		name   string
		method string
		req    map[string]any
		code   codes.Code
	}{
		{"missing name", "GetDevice", map[string]any{}, codes.InvalidArgument},
		{"unknown device", "GetDevice", map[string]any{"name": "Ghost"}, codes.NotFound},
		{"invalid mode", "SetDeviceState", map[string]any{"name": "Vp_nere", "state": map[string]any{"mode": 99}}, codes.InvalidArgument},
		{"bad power type", "SetDeviceState", map[string]any{"name": "Vp_nere", "state": map[string]any{"power": "on"}}, codes.InvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := invoke(conn, tt.method, tt.req)
			if got := status.Code(err); got != tt.code {
				t.Fatalf("expected %v, got %v (%v)", tt.code, got, err)
			}
		})
	}
}

func TestServiceWithoutClient(t *testing.T) {
	conn := dialService(t, nil)
	if _, err := invoke(conn, "ListDevices", nil); status.Code(err) != codes.FailedPrecondition {
		t.Fatalf("expected FailedPrecondition, got %v", err)
	}
}

func TestStatusErrorMapping(t *testing.T) {
	expired, cancel := context.WithDeadline(context.Background(), time.Unix(0, 0))
	defer cancel()

	tests := []struct {
		ctx  context.Context
		err  error
		code codes.Code
	}{
		{context.Background(), &UnknownDeviceError{Name: "x"}, codes.NotFound},
		{context.Background(), fmt.Errorf("wrap: %w", &InvalidFieldValueError{Field: FieldMode, Value: 9}), codes.InvalidArgument},
		{context.Background(), &auth.Error{Provider: providerName, Reason: "rejected"}, codes.Unauthenticated},
		{context.Background(), &rate.TransportError{Provider: providerName, Attempts: 3, Err: rate.RateLimitError{Provider: providerName}}, codes.ResourceExhausted},
		{context.Background(), &rate.TransportError{Provider: providerName, Attempts: 3, Err: rate.StatusError{StatusCode: 502}}, codes.Unavailable},
		{context.Background(), &rate.TransportError{Provider: providerName, Attempts: 3, Err: context.DeadlineExceeded}, codes.Unavailable},
		{expired, &rate.TransportError{Provider: providerName, Attempts: 1, Err: context.DeadlineExceeded}, codes.DeadlineExceeded},
		{expired, context.DeadlineExceeded, codes.DeadlineExceeded},
		{context.Background(), context.Canceled, codes.Canceled},
		{context.Background(), HTTPStatusError{Status: 400}, codes.FailedPrecondition},
		{context.Background(), errors.New("boom"), codes.Internal},
	}
	for _, tt := range tests {
		if got := status.Code(statusError(tt.ctx, "op", tt.err)); got != tt.code {
			t.Errorf("statusError(%v) = %v, want %v", tt.err, got, tt.code)
		}
	}
}
