package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/zhangcong2019/hsf-pipeline/internal/blob"
	"github.com/zhangcong2019/hsf-pipeline/internal/graph"
)

// Link wires output port (SrcNode, SrcPort) to input port (DstNode,
// DstPort), matching the wire shape of the "Links" array.
type Link struct {
	SrcNode string
	SrcPort int
	DstNode string
	DstPort int
}

// nodeRuntime is the wired, running instance of one graph.Node: its
// input queues (one per port under Default, one per worker per port
// under BatchingWithStream), its outbound links grouped by output port,
// and its workers.
type nodeRuntime struct {
	node graph.Node

	inputQueues [][]*blob.Queue // [portIdx][queueIdx]
	outLinks    [][]Link        // [portIdx] -> links leaving that port

	workers []*workerHandle
}

type workerHandle struct {
	idx       int
	instance  graph.NodeWorker
	collector graph.BatchCollector
	cancel    context.CancelFunc
}

func newNodeRuntime(n graph.Node) *nodeRuntime {
	nr := &nodeRuntime{
		node:        n,
		inputQueues: make([][]*blob.Queue, n.InputPortCount()),
		outLinks:    make([][]Link, n.OutputPortCount()),
	}
	return nr
}

// queueCapacity is the bound applied to every port queue. A fixed,
// generous bound keeps steady-state throughput while still exercising
// sendOutput's blocking-on-full contract under burst load.
const queueCapacity = 64

// allocateQueues creates the input queues for every port of nr once its
// BatchConfig is finalized (i.e. after Prepare()).
func (nr *nodeRuntime) allocateQueues() {
	cfg := nr.node.BatchConfig()
	n := 1
	if cfg.Policy == graph.BatchingWithStream {
		n = cfg.StreamNum
	}
	for p := range nr.inputQueues {
		qs := make([]*blob.Queue, n)
		for i := range qs {
			qs[i] = blob.NewQueue(queueCapacity)
		}
		nr.inputQueues[p] = qs
	}
}

func (nr *nodeRuntime) queueFor(portIdx, workerIdx int) (*blob.Queue, error) {
	if portIdx < 0 || portIdx >= len(nr.inputQueues) {
		return nil, fmt.Errorf("%w: port %d on node %q", ErrNodeNotFound, portIdx, nr.node.Name())
	}
	qs := nr.inputQueues[portIdx]
	if len(qs) == 1 {
		return qs[0], nil
	}
	if workerIdx < 0 || workerIdx >= len(qs) {
		return nil, fmt.Errorf("pipeline: worker index %d out of range for node %q port %d", workerIdx, nr.node.Name(), portIdx)
	}
	return qs[workerIdx], nil
}

// portSource implements graph.PortSource for one worker of one node.
type portSource struct {
	p         *Pipeline
	nr        *nodeRuntime
	workerIdx int
}

func (s *portSource) Pop(ctx context.Context, portIdx int, timeout time.Duration) (*blob.Blob, error) {
	q, err := s.nr.queueFor(portIdx, s.workerIdx)
	if err != nil {
		return nil, err
	}
	return q.Pop(ctx, timeout)
}

func (s *portSource) Forward(ctx context.Context, b *blob.Blob, timeout time.Duration) error {
	return s.p.route(ctx, s.nr, 0, b, timeout)
}

// workerRuntime implements graph.Runtime, scoped to one worker.
type workerRuntime struct {
	p         *Pipeline
	nr        *nodeRuntime
	workerIdx int
	collector graph.BatchCollector
}

func (r *workerRuntime) BatchIdx() int { return r.workerIdx }

func (r *workerRuntime) GetBatchedInput(ctx context.Context, portIndices []int, timeout time.Duration) ([]*blob.Blob, error) {
	return r.collector.GetBatchedInput(ctx, portIndices, timeout)
}

func (r *workerRuntime) SendOutput(ctx context.Context, b *blob.Blob, outPortIdx int, timeout time.Duration) error {
	return r.p.route(ctx, r.nr, outPortIdx, b, timeout)
}

func (r *workerRuntime) HoldDepleting()    { r.p.holdDepleting() }
func (r *workerRuntime) ReleaseDepleting() { r.p.releaseDepleting() }

func (r *workerRuntime) EmitEvent(kind graph.EventKind, payload any) {
	r.p.emitEvent(r.nr.node.Name(), kind, payload)
}

// route fans b out to every Link leaving (nr, outPortIdx), choosing the
// destination queue index by the destination node's own batching policy
// (streamId % StreamNum under BatchingWithStream, queue 0 under
// Default). A port with zero outgoing links is terminal (e.g. a
// ResponseNode, which reports results via EmitListener instead of a
// downstream queue); b is simply released in that case.
func (p *Pipeline) route(ctx context.Context, nr *nodeRuntime, outPortIdx int, b *blob.Blob, timeout time.Duration) error {
	if outPortIdx < 0 || outPortIdx >= len(nr.outLinks) {
		b.Release()
		return nil
	}
	links := nr.outLinks[outPortIdx]
	if len(links) == 0 {
		b.Release()
		return nil
	}

	for i, link := range links {
		dst := b
		if i < len(links)-1 {
			dst = b.Retain()
		}
		if err := p.sendToNode(ctx, link.DstNode, link.DstPort, dst, timeout); err != nil {
			logrus.WithError(err).WithFields(logrus.Fields{
				"src_node": nr.node.Name(),
				"dst_node": link.DstNode,
				"dst_port": link.DstPort,
			}).Error("failed to route blob")
			return err
		}
	}
	return nil
}

// sendToNode pushes b into the named node's input port, selecting the
// worker-local queue by stream affinity when that node runs
// BatchingWithStream.
func (p *Pipeline) sendToNode(ctx context.Context, nodeName string, portIdx int, b *blob.Blob, timeout time.Duration) error {
	dst, ok := p.nodes[nodeName]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNodeNotFound, nodeName)
	}
	cfg := dst.node.BatchConfig()
	workerIdx := 0
	if cfg.Policy == graph.BatchingWithStream {
		workerIdx = int(b.StreamID) % cfg.StreamNum
	}
	q, err := dst.queueFor(portIdx, workerIdx)
	if err != nil {
		return err
	}
	return q.Push(ctx, b, timeout)
}
