package grpcserver

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/zhangcong2019/hsf-pipeline/internal/manager"
	"github.com/zhangcong2019/hsf-pipeline/internal/pipeline"
	"github.com/zhangcong2019/hsf-pipeline/pkg/pb"
)

// codeFor maps a submit error to its gRPC status code; anything
// unrecognized stays Internal since it
// indicates a build or scheduling failure, not a malformed request.
func codeFor(err error) codes.Code {
	switch {
	case errors.Is(err, pipeline.ErrBadRequest):
		return codes.InvalidArgument
	case errors.Is(err, manager.ErrHandleNotFound):
		return codes.NotFound
	default:
		return codes.Internal
	}
}

// aiService implements pb.AIInferenceServiceServer: one Run call per
// client connection, dispatched to the PipelineManager per its
// AIRequest.Target.
type aiService struct {
	mgr  *manager.Manager
	pool *connPool
	log  *logrus.Entry
}

func newAIService(mgr *manager.Manager) *aiService {
	return &aiService{
		mgr:  mgr,
		pool: newConnPool(),
		log:  logrus.WithField("component", "ai_inference_service"),
	}
}

// Run implements the ai_inference.Run bidirectional stream. The first
// (and, for this service, only meaningful) client message both
// completes the handshake (Default -> Connected) and submits the task
// it describes (Connected -> InProgress).
func (s *aiService) Run(stream pb.AIInferenceService_RunServer) error {
	req, err := stream.Recv()
	if err != nil {
		return err
	}

	target := req.Target
	if target == "" {
		target = "run"
	}
	log := s.log.WithField("target", target)

	switch target {
	case "load_pipeline":
		handle, err := s.mgr.SubmitLoadPipeline(stream.Context(), req.PipelineConfig, req.SuggestedWeight, int(req.StreamNum))
		return finishSimple(stream, handle, err)

	case "unload_pipeline":
		handle, err := s.mgr.SubmitUnloadPipeline(stream.Context(), req.Handle)
		return finishSimple(stream, handle, err)

	case "run":
		return s.runStreamed(stream, log, req)

	default:
		return status.Errorf(codes.InvalidArgument, "ai_inference: unknown target %q", target)
	}
}

// runStreamed handles target=="run": it registers a grpcConn as the
// EmitListener for a RUN or AUTO_RUN task, drains further client
// messages on a background goroutine solely to detect WritesDone/
// transport errors (-> ConnectionDropped), and blocks until the task's
// emitFinish fires or the stream context is cancelled.
func (s *aiService) runStreamed(stream pb.AIInferenceService_RunServer, log *logrus.Entry, req *pb.AIRequest) error {
	uid := s.pool.allocUID()
	conn := newGRPCConn(uid, stream, log)
	s.pool.register(uid, conn)
	defer s.pool.unregister(uid)
	conn.state.compareAndSwap(stateConnected, stateInProgress)

	go func() {
		for {
			if _, err := stream.Recv(); err != nil {
				conn.markDropped()
				return
			}
		}
	}()

	var submitErr error
	if req.Handle != 0 {
		_, submitErr = s.mgr.SubmitRun(stream.Context(), req.Handle, req.MediaUri, conn)
	} else if req.PipelineConfig != "" {
		_, submitErr = s.mgr.SubmitAutoRun(stream.Context(), req.PipelineConfig, req.SuggestedWeight, int(req.StreamNum), req.MediaUri, conn)
	} else {
		submitErr = fmt.Errorf("%w: run requires handle or pipelineConfig", pipeline.ErrBadRequest)
	}
	if submitErr != nil {
		return finishSimple(stream, 0, submitErr)
	}

	select {
	case <-conn.done:
	case <-stream.Context().Done():
		return stream.Context().Err()
	}

	if conn.isDropped() {
		return status.Error(codes.Canceled, "ai_inference: connection dropped before emitFinish")
	}
	return nil
}

// finishSimple sends one immediate AIResponse for a request that never
// streams per-frame output (load_pipeline, unload_pipeline, or a
// submit-time failure on run).
func finishSimple(stream pb.AIInferenceService_RunServer, handle uint32, err error) error {
	if err != nil {
		_ = stream.Send(&pb.AIResponse{Status: -1, Message: err.Error()})
		return status.Error(codeFor(err), err.Error())
	}
	_ = stream.Send(&pb.AIResponse{Status: 0, Message: fmt.Sprintf("handle=%d", handle)})
	return nil
}
