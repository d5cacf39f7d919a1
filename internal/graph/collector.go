package graph

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/zhangcong2019/hsf-pipeline/internal/blob"
	"github.com/zhangcong2019/hsf-pipeline/internal/metrics"
)

// PortSource is the Pipeline's queue-popping capability, abstracted so
// the two BatchCollector policies stay independent of how queues are
// wired (one shared queue per port under Default, one queue per worker
// per port under BatchingWithStream).
type PortSource interface {
	Pop(ctx context.Context, portIdx int, timeout time.Duration) (*blob.Blob, error)
	// Forward pushes b unchanged to the node's own first output port, used
	// by the stream collector to preserve ordering for a dropped
	// foreign-stream Blob.
	Forward(ctx context.Context, b *blob.Blob, timeout time.Duration) error
}

// DefaultCollector implements Policy Default: one blob per requested
// port per call, batch composition opaque to the Node.
type DefaultCollector struct {
	Source PortSource
}

func (c *DefaultCollector) GetBatchedInput(ctx context.Context, portIndices []int, timeout time.Duration) ([]*blob.Blob, error) {
	out := make([]*blob.Blob, 0, len(portIndices))
	for _, p := range portIndices {
		b, err := c.Source.Pop(ctx, p, timeout)
		if err != nil {
			return out, err
		}
		out = append(out, b)
	}
	return out, nil
}

// StreamCollector implements BatchingWithStream: this worker (identified
// by BatchIdx) only ever accepts Blobs whose StreamID % StreamNum ==
// BatchIdx. A Blob observed from another stream is a
// StreamConsistencyViolation: it is marked Drop, its ROIs cleared, and
// forwarded so downstream ordering is preserved, and the inconsistency
// is logged.
type StreamCollector struct {
	Source    PortSource
	NodeName  string
	BatchIdx  int
	StreamNum int

	lockedStream    uint32
	haveLockedStream bool
}

func (c *StreamCollector) GetBatchedInput(ctx context.Context, portIndices []int, timeout time.Duration) ([]*blob.Blob, error) {
	out := make([]*blob.Blob, 0, len(portIndices))
	for _, p := range portIndices {
		b, err := c.Source.Pop(ctx, p, timeout)
		if err != nil {
			return out, err
		}
		if b == nil {
			continue
		}
		if c.violatesAffinity(b) {
			c.handleViolation(ctx, b, timeout)
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

func (c *StreamCollector) violatesAffinity(b *blob.Blob) bool {
	if int(b.StreamID)%c.StreamNum != c.BatchIdx {
		return true
	}
	if !c.haveLockedStream {
		c.lockedStream = b.StreamID
		c.haveLockedStream = true
		return false
	}
	return b.StreamID != c.lockedStream
}

func (c *StreamCollector) handleViolation(ctx context.Context, b *blob.Blob, timeout time.Duration) {
	metrics.StreamConsistencyViolationsTotal.Inc()
	logrus.WithFields(logrus.Fields{
		"node":        c.NodeName,
		"worker":      c.BatchIdx,
		"stream_id":   b.StreamID,
		"frame_id":    b.FrameID,
		"locked_to":   c.lockedStream,
	}).Warn("stream consistency violation: dropping and forwarding foreign-stream blob")

	for _, buf := range b.Buffers {
		buf.Drop = true
		for i := range buf.ROIs {
			buf.ROIs[i].Clear()
		}
	}
	if err := c.Source.Forward(ctx, b, timeout); err != nil {
		logrus.WithError(err).WithField("node", c.NodeName).Error("failed to forward dropped foreign-stream blob")
	}
}
