package grpcserver

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/zhangcong2019/hsf-pipeline/internal/response"
	"github.com/zhangcong2019/hsf-pipeline/pkg/pb"
)

// grpcConn is the response.EmitListener bound to one Run stream. It
// serializes every emitOutput into a stream.Send call, so a write is
// never issued concurrently with another on the same stream, and
// silently drops writes once the connection
// has moved to ConnectionDropped.
type grpcConn struct {
	uid    uint16
	stream pb.AIInferenceService_RunServer
	log    *logrus.Entry

	state stateBox

	writeMu sync.Mutex
	start   time.Time
	last    time.Time
	samples []time.Duration

	done chan struct{}
	once sync.Once
}

func newGRPCConn(uid uint16, stream pb.AIInferenceService_RunServer, log *logrus.Entry) *grpcConn {
	now := time.Now()
	c := &grpcConn{
		uid:    uid,
		stream: stream,
		log:    log,
		start:  now,
		last:   now,
		done:   make(chan struct{}),
	}
	c.state.store(stateConnected)
	return c
}

// EmitOutput implements response.EmitListener.
func (c *grpcConn) EmitOutput(resp response.Response) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.state.load() == stateConnectionDropped {
		return
	}

	now := time.Now()
	c.samples = append(c.samples, now.Sub(c.last))
	c.last = now

	msg := &pb.AIResponse{
		Status:  resp.Status,
		Message: resp.Message,
	}
	if len(resp.Responses) > 0 {
		msg.Responses = make(map[string]*pb.ResponseValue, len(resp.Responses))
		for k, v := range resp.Responses {
			msg.Responses[k] = &pb.ResponseValue{JsonMessages: v.StringData, Binary: v.BinaryData}
		}
	}

	if err := c.stream.Send(msg); err != nil {
		c.log.WithError(err).WithField("uid", c.uid).Warn("grpc write failed, dropping connection")
		c.dropLocked()
	}
}

// EmitFinish implements response.EmitListener: it sends the final
// performance-report summary message and signals done so Run can issue
// Finish(OK).
func (c *grpcConn) EmitFinish() {
	c.writeMu.Lock()
	dropped := c.state.load() == stateConnectionDropped
	if !dropped {
		report := performanceReport(c.samples)
		_ = c.stream.Send(&pb.AIResponse{Status: 0, Message: report})
		c.state.store(stateServerDone)
	}
	c.writeMu.Unlock()

	c.once.Do(func() { close(c.done) })
}

// markDropped transitions to ConnectionDropped, unless the connection
// already reached ServerDone/Finished via a normal emitFinish.
func (c *grpcConn) markDropped() {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.dropLocked()
}

// dropLocked is markDropped's body for callers that already hold writeMu.
func (c *grpcConn) dropLocked() {
	if c.state.load() == stateServerDone || c.state.load() == stateFinished {
		return
	}
	c.state.store(stateConnectionDropped)
	c.once.Do(func() { close(c.done) })
}

func (c *grpcConn) isDropped() bool {
	return c.state.load() == stateConnectionDropped
}
