// Package grpcserver implements the bidirectional-streaming gRPC
// frontend: a thin state machine that translates ai_inference.Run
// stream events into PipelineManager submit* calls and pushes
// EmitListener callbacks back onto the stream.
package grpcserver

import (
	"context"
	"net"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"

	"github.com/zhangcong2019/hsf-pipeline/internal/manager"
	"github.com/zhangcong2019/hsf-pipeline/pkg/pb"
)

// Server owns the *grpc.Server bound to one ai_inference.AIInferenceService.
type Server struct {
	addr string
	mgr  *manager.Manager

	gs  *grpc.Server
	log *logrus.Entry
}

// NewServer constructs a Server bound to addr, dispatching every stream
// onto mgr.
func NewServer(addr string, mgr *manager.Manager) *Server {
	return &Server{
		addr: addr,
		mgr:  mgr,
		log:  logrus.WithField("component", "grpc_server"),
	}
}

// Start binds addr and serves until Stop is called or the listener
// fails. It returns once the listener is bound; Serve runs in its own
// goroutine.
func (s *Server) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	s.gs = grpc.NewServer()
	pb.RegisterAIInferenceServiceServer(s.gs, newAIService(s.mgr))

	go func() {
		if err := s.gs.Serve(lis); err != nil {
			s.log.WithError(err).Warn("grpc server stopped serving")
		}
	}()
	s.log.WithField("addr", s.addr).Info("grpc server started")
	return nil
}

// Stop gracefully drains in-flight streams before returning.
func (s *Server) Stop() {
	if s.gs == nil {
		return
	}
	s.gs.GracefulStop()
}
