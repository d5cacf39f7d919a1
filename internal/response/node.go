package response

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zhangcong2019/hsf-pipeline/internal/blob"
	"github.com/zhangcong2019/hsf-pipeline/internal/graph"
	"github.com/zhangcong2019/hsf-pipeline/internal/metrics"
)

// runState is one in-flight Run's bookkeeping: the listener the
// PipelineManager registered for it and how many of its streams have
// reported END_OF_REQUEST so far.
type runState struct {
	listener    EmitListener
	completions int32
}

// Node is a graph.Node that always runs BatchingWithStream with one
// worker per stream, and whose
// workers call EmitOutput/EmitFinish on registered listeners instead of
// routing to a downstream port.
//
// A loaded pipeline can be Run more than once, and
// AUTO_RUN can reuse one pipeline across two independent connections, so
// completions and listener are tracked per-runID (the Blob field the
// PipelineManager stamps at feed time) rather than once for the Node's
// whole lifetime; a Run's entry is dropped from runs as soon as its
// emitFinish fires.
type Node struct {
	graph.BaseNode

	mu        sync.Mutex
	runs      map[uint64]*runState
	streamNum int32

	// Build turns one output Blob into a wire Response. Concrete output
	// node classes (MediaOutput, RadarOutput, LLOutput, ...) inject their
	// own per-class builder; DefaultBuilder is used when nil.
	Build func(b *blob.Blob) Response
}

// NewNode constructs a ResponseNode. streamNum must match the Run's
// streamNum so the finish signal fires after exactly that many
// per-stream completions.
func NewNode(name, class string, streamNum int, build func(b *blob.Blob) Response) *Node {
	if build == nil {
		build = DefaultBuilder
	}
	return &Node{
		BaseNode: graph.BaseNode{
			NodeName: name, NodeClass: class,
			Threads: streamNum, InPorts: 1, OutPorts: 0,
			Batch: graph.BatchConfig{Policy: graph.BatchingWithStream, StreamNum: streamNum, ThreadNumPerBatch: 1},
		},
		streamNum: int32(streamNum),
		Build:     build,
	}
}

func (n *Node) ConfigureByString(string) error { return nil }
func (n *Node) ValidateConfiguration() error    { return nil }

// RegisterEmitListener attaches l as the listener for one Run, keyed by
// runID (the PipelineManager generates one per feed() call). Safe to
// call concurrently with worker goroutines.
func (n *Node) RegisterEmitListener(runID uint64, l EmitListener) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.runs == nil {
		n.runs = make(map[uint64]*runState)
	}
	n.runs[runID] = &runState{listener: l}
}

// ClearAllEmitListener drops every in-flight Run's listener.
func (n *Node) ClearAllEmitListener() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.runs = nil
}

func (n *Node) runFor(runID uint64) *runState {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.runs[runID]
}

func (n *Node) emitOutput(runID uint64, resp Response) {
	metrics.FramesEmittedTotal.WithLabelValues(strconv.Itoa(int(resp.Status))).Inc()
	rs := n.runFor(runID)
	if rs == nil || rs.listener == nil {
		return
	}
	rs.listener.EmitOutput(resp)
}

// addEmitFinishFlag counts one stream's completion for runID and reports
// whether this call was the one that crossed the streamNum threshold —
// i.e. whether emitFinish must be called now. Each stream contributes
// exactly one completion under BatchingWithStream, so the atomic
// increment that lands exactly on streamNum is unique per Run.
func (n *Node) addEmitFinishFlag(runID uint64) bool {
	rs := n.runFor(runID)
	if rs == nil {
		return false
	}
	return atomic.AddInt32(&rs.completions, 1) == n.streamNum
}

// emitFinish signals runID's listener and forgets the Run, so a
// pipeline Run many times over its lifetime doesn't accumulate one
// runState per call.
func (n *Node) emitFinish(runID uint64) {
	n.mu.Lock()
	rs := n.runs[runID]
	delete(n.runs, runID)
	n.mu.Unlock()
	if rs == nil || rs.listener == nil {
		return
	}
	rs.listener.EmitFinish()
}

func (n *Node) CreateNodeWorker(batchIdx int) graph.NodeWorker {
	return &worker{node: n}
}

type worker struct {
	graph.BaseWorker
	node *Node
}

func (w *worker) Process(ctx context.Context) error {
	blobs, err := w.GetBatchedInput(ctx, []int{0}, 50*time.Millisecond)
	if err != nil {
		return err
	}
	for _, b := range blobs {
		resp := w.node.Build(b)
		runID := b.RunID
		w.node.emitOutput(runID, resp)

		isEnd := b.Tag == blob.EndOfRequest
		b.Release()

		if isEnd {
			if w.node.addEmitFinishFlag(runID) {
				w.node.emitFinish(runID)
				w.EmitEvent(graph.EventDrainRequested, nil)
			}
		}
	}
	return nil
}
