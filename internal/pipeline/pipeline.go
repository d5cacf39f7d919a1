package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/zhangcong2019/hsf-pipeline/internal/blob"
	"github.com/zhangcong2019/hsf-pipeline/internal/graph"
	"github.com/zhangcong2019/hsf-pipeline/internal/metrics"
)

// Pipeline is a connected graph of Nodes plus its state machine and
// lifecycle controller. It owns every Node's input
// queues and routes Blobs between them according to the Links it was
// built with.
type Pipeline struct {
	Name string

	mu    sync.RWMutex
	state State
	nodes map[string]*nodeRuntime
	order []string // insertion order, for deterministic iteration/reporting
	links []Link

	depleting int64 // atomic: outstanding holdDepleting() count

	wg     sync.WaitGroup
	cancel context.CancelFunc

	perf *perfRecorder
	log  *logrus.Entry
}

// New creates an empty, idle Pipeline ready to receive Nodes and Links
// from the PipelineParser.
func New(name string) *Pipeline {
	return &Pipeline{
		Name:  name,
		state: StateIdle,
		nodes: make(map[string]*nodeRuntime),
		perf:  newPerfRecorder(),
		log:   logrus.WithField("pipeline", name),
	}
}

// AddNode registers n under its own Name(). Must be called in StateIdle.
func (p *Pipeline) AddNode(n graph.Node) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateIdle {
		return fmt.Errorf("%w: AddNode requires idle, got %s", ErrInvalidTransition, p.state)
	}
	if _, exists := p.nodes[n.Name()]; exists {
		return fmt.Errorf("pipeline: node %q already added", n.Name())
	}
	p.nodes[n.Name()] = newNodeRuntime(n)
	p.order = append(p.order, n.Name())
	return nil
}

// AddLink wires an output port to an input port. Must be called in
// StateIdle; both endpoints must already have been added via AddNode.
func (p *Pipeline) AddLink(l Link) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateIdle {
		return fmt.Errorf("%w: AddLink requires idle, got %s", ErrInvalidTransition, p.state)
	}
	src, ok := p.nodes[l.SrcNode]
	if !ok {
		return fmt.Errorf("%w: link source %q", ErrNodeNotFound, l.SrcNode)
	}
	if _, ok := p.nodes[l.DstNode]; !ok {
		return fmt.Errorf("%w: link destination %q", ErrNodeNotFound, l.DstNode)
	}
	if l.SrcPort < 0 || l.SrcPort >= len(src.outLinks) {
		return fmt.Errorf("pipeline: source port %d out of range on %q", l.SrcPort, l.SrcNode)
	}
	src.outLinks[l.SrcPort] = append(src.outLinks[l.SrcPort], l)
	p.links = append(p.links, l)
	return nil
}

// Configure calls ConfigureByString on every node, transitioning
// idle→configured on success. Parsing is atomic: on the first failure
// no further node is configured and the pipeline is discarded by the
// parser rather than left half-built.
func (p *Pipeline) Configure(configs map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateIdle {
		return fmt.Errorf("%w: Configure requires idle, got %s", ErrInvalidTransition, p.state)
	}
	for _, name := range p.order {
		nr := p.nodes[name]
		if err := nr.node.ConfigureByString(configs[name]); err != nil {
			return fmt.Errorf("%w: node %q configure: %v", ErrBuildFailure, name, err)
		}
		if err := nr.node.ValidateConfiguration(); err != nil {
			return fmt.Errorf("%w: node %q validate: %v", ErrBuildFailure, name, err)
		}
	}
	p.state = StateConfigured
	return nil
}

// Prepare finalizes every node's batching policy and allocates its
// input queues accordingly, transitioning configured→prepared.
func (p *Pipeline) Prepare() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateConfigured {
		return fmt.Errorf("%w: Prepare requires configured, got %s", ErrInvalidTransition, p.state)
	}
	for _, name := range p.order {
		nr := p.nodes[name]
		if err := nr.node.Prepare(); err != nil {
			return fmt.Errorf("%w: node %q prepare: %v", ErrBuildFailure, name, err)
		}
		nr.allocateQueues()
	}
	p.state = StatePrepared
	return nil
}

// Start transitions prepared→running and spawns TotalThreadNum()
// worker goroutines per Node.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.state != StatePrepared {
		p.mu.Unlock()
		return fmt.Errorf("%w: Start requires prepared, got %s", ErrInvalidTransition, p.state)
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.state = StateRunning
	p.mu.Unlock()

	for _, name := range p.order {
		nr := p.nodes[name]
		cfg := nr.node.BatchConfig()
		for idx := 0; idx < nr.node.TotalThreadNum(); idx++ {
			var collector graph.BatchCollector
			src := &portSource{p: p, nr: nr, workerIdx: idx}
			if cfg.Policy == graph.BatchingWithStream {
				collector = &graph.StreamCollector{
					Source:    src,
					NodeName:  name,
					BatchIdx:  idx,
					StreamNum: cfg.StreamNum,
				}
			} else {
				collector = &graph.DefaultCollector{Source: src}
			}

			rt := &workerRuntime{p: p, nr: nr, workerIdx: idx, collector: collector}
			instance := nr.node.CreateNodeWorker(idx)
			wh := &workerHandle{idx: idx, instance: instance, collector: collector}
			nr.workers = append(nr.workers, wh)

			p.wg.Add(1)
			go p.runWorker(runCtx, nr, wh, rt)
		}
	}

	go p.watchDepleting(runCtx)

	p.log.WithField("nodes", len(p.nodes)).Info("pipeline started")
	return nil
}

func (p *Pipeline) runWorker(ctx context.Context, nr *nodeRuntime, wh *workerHandle, rt *workerRuntime) {
	defer p.wg.Done()
	logger := p.log.WithFields(logrus.Fields{"node": nr.node.Name(), "worker": wh.idx})

	if err := wh.instance.Init(ctx); err != nil {
		logger.WithError(err).Error("worker init failed")
		return
	}
	defer func() {
		if err := wh.instance.Deinit(); err != nil {
			logger.WithError(err).Error("worker deinit failed")
		}
	}()

	if err := wh.instance.ProcessByFirstRun(ctx); err != nil {
		logger.WithError(err).Error("processByFirstRun failed")
	}

	for {
		select {
		case <-ctx.Done():
			_ = wh.instance.ProcessByLastRun(ctx)
			return
		default:
		}

		if p.GetState() == StateStop {
			_ = wh.instance.ProcessByLastRun(ctx)
			return
		}

		if err := p.processOnce(ctx, nr, wh, logger); err != nil {
			if err == context.Canceled || err == context.DeadlineExceeded || err == blob.ErrQueueClosed {
				_ = wh.instance.ProcessByLastRun(ctx)
				return
			}
			// Isolated to the current invocation; the pipeline survives
			// and the worker keeps running.
			logger.WithError(err).Warn("worker process error, isolated to this invocation")
		}
	}
}

// processOnce wraps a single Process call with panic recovery so an
// unhandled panic inside a worker is isolated to
// the current invocation rather than crashing the pipeline.
func (p *Pipeline) processOnce(ctx context.Context, nr *nodeRuntime, wh *workerHandle, logger *logrus.Entry) (err error) {
	start := time.Now()
	defer func() {
		metrics.NodeProcessLatencySeconds.WithLabelValues(nr.node.Name(), nr.node.Class()).Observe(time.Since(start).Seconds())
		if r := recover(); r != nil {
			logger.WithField("panic", r).Error("recovered from fatal worker panic")
			err = fmt.Errorf("%w: %v", ErrFatal, r)
		}
	}()
	return wh.instance.Process(ctx)
}

// Stop transitions to stop from any state and tears down every worker
// goroutine. Idempotent: calling it more than once, or from a state with
// no outgoing edge in the table, still leaves the pipeline in stop.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	if p.state == StateStop {
		p.mu.Unlock()
		return nil
	}
	p.state = StateStop
	cancel := p.cancel
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	p.wg.Wait()

	for _, name := range p.order {
		for _, qs := range p.nodes[name].inputQueues {
			for _, q := range qs {
				q.Close()
			}
		}
	}

	p.log.Info("pipeline stopped")
	return nil
}

// watchDepleting polls for the depleting→stop condition: every worker
// idle (no outstanding holdDepleting()) and every queue empty.
func (p *Pipeline) watchDepleting(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if p.GetState() != StateDepleting {
				continue
			}
			if atomic.LoadInt64(&p.depleting) == 0 && p.queuesEmpty() {
				_ = p.Stop()
				return
			}
		}
	}
}

func (p *Pipeline) queuesEmpty() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, nr := range p.nodes {
		for _, qs := range nr.inputQueues {
			for _, q := range qs {
				if q.Len() > 0 {
					return false
				}
			}
		}
	}
	return true
}

func (p *Pipeline) holdDepleting()    { atomic.AddInt64(&p.depleting, 1) }
func (p *Pipeline) releaseDepleting() { atomic.AddInt64(&p.depleting, -1) }

// beginDepleting transitions running or paused into depleting: new
// inputs are refused (SendToPort checks GetState) and in-flight blobs
// are drained by watchDepleting.
func (p *Pipeline) beginDepleting() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateRunning && p.state != StatePaused {
		return
	}
	p.state = StateDepleting
	p.log.Info("pipeline entering depleting")
}

// Unload is an external request to drain and stop this pipeline: it
// moves running or paused into depleting. The PipelineManager's UNLOAD
// task calls Stop instead.
func (p *Pipeline) Unload() {
	p.beginDepleting()
}

func (p *Pipeline) emitEvent(node string, kind graph.EventKind, payload any) {
	switch kind {
	case graph.EventTimeStamp:
		if ev, ok := payload.(graph.TimeStampEvent); ok {
			p.perf.record(node, ev.Duration)
		}
	case graph.EventDrainRequested:
		p.beginDepleting()
	}
}

// GetState returns the current pipeline state.
func (p *Pipeline) GetState() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// GetNodeHandle returns the underlying graph.Node for a wired node name.
func (p *Pipeline) GetNodeHandle(name string) (graph.Node, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	nr, ok := p.nodes[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNodeNotFound, name)
	}
	return nr.node, nil
}

// SendToPort is the entry point PipelineManager uses to inject external
// work (TASK_RUN's media segments) into a named node's input port. It
// refuses new input once the pipeline has left running/paused.
func (p *Pipeline) SendToPort(ctx context.Context, nodeName string, portIdx int, b *blob.Blob, timeout time.Duration) error {
	state := p.GetState()
	if state != StateRunning && state != StatePaused {
		return fmt.Errorf("%w: pipeline %q is %s", ErrPortClosed, p.Name, state)
	}
	return p.sendToNode(ctx, nodeName, portIdx, b, timeout)
}

// NodeNames returns every wired node name in insertion order.
func (p *Pipeline) NodeNames() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, len(p.order))
	copy(out, p.order)
	return out
}

// Links returns a copy of every wired Link.
func (p *Pipeline) Links() []Link {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Link, len(p.links))
	copy(out, p.links)
	return out
}
