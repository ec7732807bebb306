package server

import (
	"context"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"
)

// GRPCServer wraps a gRPC server and listener.
type GRPCServer struct {
	Server   *grpc.Server
	Listener net.Listener
}

func NewGRPCServer(addr string, opts ...grpc.ServerOption) (*GRPCServer, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	s := grpc.NewServer(opts...)
	reflection.Register(s)

	return &GRPCServer{Server: s, Listener: ln}, nil
}

func (s *GRPCServer) Serve() error {
	return s.Server.Serve(s.Listener)
}

// Stop drains in-flight RPCs until ctx is done, then closes every
// connection. Paced calls can outlive any reasonable drain.
func (s *GRPCServer) Stop(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		s.Server.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.Server.Stop()
		<-done
	}
}
