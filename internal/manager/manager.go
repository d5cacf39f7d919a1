// Package manager implements the PipelineManager: a process-wide
// scheduler that owns every live pipeline, a weight budget shared
// across them, and an idle-reclamation watchdog. Job handles come from
// a monotonic counter whose high bit is always set, keeping the handle
// space disjoint from other transport-layer identifiers.
package manager

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/zhangcong2019/hsf-pipeline/internal/blob"
	"github.com/zhangcong2019/hsf-pipeline/internal/metrics"
	"github.com/zhangcong2019/hsf-pipeline/internal/parser"
	"github.com/zhangcong2019/hsf-pipeline/internal/pipeline"
	"github.com/zhangcong2019/hsf-pipeline/internal/response"
)

// Config parametrises one Manager.
type Config struct {
	MaxConcurrentWorkload uint32
	MaxPipelineLifetime   time.Duration // default 30s
	PoolSize              int           // scheduler goroutines, default 4

	// WatchdogInterval is the watchdog tick period, fixed at 5s in
	// production. Exposed here only so tests don't have to
	// wait out a real 5s tick to exercise reclamation.
	WatchdogInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxPipelineLifetime <= 0 {
		c.MaxPipelineLifetime = 30 * time.Second
	}
	if c.PoolSize <= 0 {
		c.PoolSize = 4
	}
	if c.MaxConcurrentWorkload == 0 {
		c.MaxConcurrentWorkload = 100
	}
	if c.WatchdogInterval <= 0 {
		c.WatchdogInterval = watchdogTick
	}
	return c
}

// Manager is one PipelineManager instance; the serve command runs one
// per transport (HTTP and gRPC). Callers construct each via New and
// Start it once.
type Manager struct {
	cfg Config

	weight *semaphore.Weighted

	nextHandle uint32 // atomic, see allocHandle
	nextRunID  uint64 // atomic, stamped on every Blob a Run/AutoRun feeds in

	worklistMu sync.RWMutex
	worklist   map[uint32]*pipelineEntry

	queueMu sync.Mutex
	queue   *list.List // of *Task
	queueCh chan struct{}

	healthCheck int64 // atomic, advanced once per watchdog tick

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	log *logrus.Entry
}

// New constructs a Manager. Call Start to spawn its scheduler and
// watchdog goroutines.
func New(cfg Config) *Manager {
	cfg = cfg.withDefaults()
	return &Manager{
		cfg:      cfg,
		weight:   semaphore.NewWeighted(int64(cfg.MaxConcurrentWorkload)),
		worklist: make(map[uint32]*pipelineEntry),
		queue:    list.New(),
		queueCh:  make(chan struct{}, 1),
		log:      logrus.WithField("component", "pipeline_manager"),
	}
}

// Start spawns PoolSize scheduler goroutines and one watchdog goroutine.
func (m *Manager) Start(ctx context.Context) {
	m.ctx, m.cancel = context.WithCancel(ctx)
	for i := 0; i < m.cfg.PoolSize; i++ {
		m.wg.Add(1)
		go m.schedulerLoop(i)
	}
	m.wg.Add(1)
	go m.watchdogLoop()
}

// Stop cancels every scheduler/watchdog goroutine and stops every live
// pipeline. It blocks until all goroutines have exited.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()

	m.worklistMu.Lock()
	defer m.worklistMu.Unlock()
	for _, e := range m.worklist {
		e.p.Stop()
	}
	m.worklist = make(map[uint32]*pipelineEntry)
}

// enqueue appends t to the tail of the waiting queue and wakes one
// scheduler goroutine.
func (m *Manager) enqueue(t *Task) {
	m.queueMu.Lock()
	m.queue.PushBack(t)
	m.queueMu.Unlock()
	select {
	case m.queueCh <- struct{}{}:
	default:
	}
}

// dequeue blocks until a task is available or the Manager is stopping.
func (m *Manager) dequeue() (*Task, bool) {
	for {
		m.queueMu.Lock()
		if front := m.queue.Front(); front != nil {
			m.queue.Remove(front)
			m.queueMu.Unlock()
			return front.Value.(*Task), true
		}
		m.queueMu.Unlock()

		select {
		case <-m.queueCh:
		case <-m.ctx.Done():
			return nil, false
		}
	}
}

func (m *Manager) schedulerLoop(workerIdx int) {
	defer m.wg.Done()
	log := m.log.WithField("scheduler", workerIdx)
	for {
		task, ok := m.dequeue()
		if !ok {
			return
		}
		m.dispatch(log, task)
	}
}

func (m *Manager) dispatch(log *logrus.Entry, t *Task) {
	corrID := uuid.NewString()
	log = log.WithFields(logrus.Fields{"task": t.Kind.String(), "correlation_id": corrID})

	switch t.Kind {
	case Load:
		m.handleLoad(log, t)
	case Run:
		m.handleRun(log, t)
	case Unload:
		m.handleUnload(log, t)
	case AutoRun:
		m.handleAutoRun(log, t)
	default:
		t.Reply <- Reply{Err: fmt.Errorf("manager: unknown task kind %v", t.Kind)}
	}
}

// retryAfterWeightFrees blocks until at least w units of weight have
// become available at some point (using the semaphore's own blocking
// Acquire as the wait-for-notification primitive), then re-enqueues t
// at the tail. It gives
// the momentarily-acquired weight straight back since only the
// scheduler loop's own TryAcquire may actually commit it to a pipeline.
func (m *Manager) retryAfterWeightFrees(t *Task, w int64) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := m.weight.Acquire(m.ctx, w); err != nil {
			return // manager shutting down
		}
		m.weight.Release(w)
		m.enqueue(t)
	}()
}

func (m *Manager) handleLoad(log *logrus.Entry, t *Task) {
	w := int64(t.SuggestedWeight)
	if !m.weight.TryAcquire(w) {
		log.Debug("load denied: weight budget exhausted, re-enqueueing")
		metrics.TasksDispatchedTotal.WithLabelValues("LOAD", "capacity_exceeded").Inc()
		m.retryAfterWeightFrees(t, w)
		return
	}
	metrics.WeightBudgetInUse.Add(float64(w))

	p, inputNode, err := buildPipeline(t.PipelineConfig)
	if err != nil {
		m.weight.Release(w)
		metrics.WeightBudgetInUse.Sub(float64(w))
		log.WithError(err).Warn("load failed: pipeline build error")
		metrics.TasksDispatchedTotal.WithLabelValues("LOAD", "build_failure").Inc()
		t.Reply <- Reply{Err: fmt.Errorf("build failure: %w", err)}
		return
	}
	if err := p.Start(m.ctx); err != nil {
		m.weight.Release(w)
		metrics.WeightBudgetInUse.Sub(float64(w))
		log.WithError(err).Warn("load failed: pipeline start error")
		metrics.TasksDispatchedTotal.WithLabelValues("LOAD", "build_failure").Inc()
		t.Reply <- Reply{Err: err}
		return
	}

	handle := t.JobHandle
	if handle == 0 {
		handle = m.allocHandle()
	}
	streamNum := t.StreamNum
	if streamNum <= 0 {
		streamNum = 1
	}
	entry := newPipelineEntry(handle, t.SuggestedWeight, uint32(streamNum), t.PipelineConfig, inputNode, p)

	m.worklistMu.Lock()
	m.worklist[handle] = entry
	m.worklistMu.Unlock()
	metrics.PipelinesActive.Inc()

	log.WithField("handle", handle).Info("pipeline loaded")
	metrics.TasksDispatchedTotal.WithLabelValues("LOAD", "ok").Inc()
	t.Reply <- Reply{JobHandle: handle}
}

func (m *Manager) handleRun(log *logrus.Entry, t *Task) {
	m.worklistMu.RLock()
	entry, ok := m.worklist[t.JobHandle]
	m.worklistMu.RUnlock()
	if !ok {
		metrics.TasksDispatchedTotal.WithLabelValues("RUN", "handle_not_found").Inc()
		t.Reply <- Reply{Err: fmt.Errorf("%w: handle %d", ErrHandleNotFound, t.JobHandle)}
		return
	}
	if err := m.feed(log, entry, t); err != nil {
		metrics.TasksDispatchedTotal.WithLabelValues("RUN", "bad_request").Inc()
		t.Reply <- Reply{Err: err}
		return
	}
	metrics.TasksDispatchedTotal.WithLabelValues("RUN", "ok").Inc()
	t.Reply <- Reply{JobHandle: entry.handle}
}

func (m *Manager) handleUnload(log *logrus.Entry, t *Task) {
	m.worklistMu.Lock()
	entry, ok := m.worklist[t.JobHandle]
	if ok {
		delete(m.worklist, t.JobHandle)
	}
	m.worklistMu.Unlock()

	if !ok {
		metrics.TasksDispatchedTotal.WithLabelValues("UNLOAD", "handle_not_found").Inc()
		t.Reply <- Reply{Err: fmt.Errorf("%w: handle %d", ErrHandleNotFound, t.JobHandle)}
		return
	}
	entry.p.Stop()
	m.weight.Release(int64(entry.weight))
	metrics.WeightBudgetInUse.Sub(float64(entry.weight))
	metrics.PipelinesActive.Dec()
	log.WithField("handle", entry.handle).Info("pipeline unloaded")
	metrics.TasksDispatchedTotal.WithLabelValues("UNLOAD", "ok").Inc()
	t.Reply <- Reply{JobHandle: entry.handle}
}

func (m *Manager) handleAutoRun(log *logrus.Entry, t *Task) {
	w := int64(t.SuggestedWeight)
	if m.weight.TryAcquire(w) {
		metrics.WeightBudgetInUse.Add(float64(w))
		p, inputNode, err := buildPipeline(t.PipelineConfig)
		if err != nil {
			m.weight.Release(w)
			metrics.WeightBudgetInUse.Sub(float64(w))
			metrics.TasksDispatchedTotal.WithLabelValues("AUTO_RUN", "build_failure").Inc()
			t.Reply <- Reply{Err: fmt.Errorf("build failure: %w", err)}
			return
		}
		if err := p.Start(m.ctx); err != nil {
			m.weight.Release(w)
			metrics.WeightBudgetInUse.Sub(float64(w))
			metrics.TasksDispatchedTotal.WithLabelValues("AUTO_RUN", "build_failure").Inc()
			t.Reply <- Reply{Err: err}
			return
		}
		handle := m.allocHandle()
		streamNum := t.StreamNum
		if streamNum <= 0 {
			streamNum = 1
		}
		entry := newPipelineEntry(handle, t.SuggestedWeight, uint32(streamNum), t.PipelineConfig, inputNode, p)

		if err := m.feed(log, entry, t); err != nil {
			p.Stop()
			m.weight.Release(w)
			metrics.WeightBudgetInUse.Sub(float64(w))
			metrics.TasksDispatchedTotal.WithLabelValues("AUTO_RUN", "bad_request").Inc()
			t.Reply <- Reply{Err: err}
			return
		}

		m.worklistMu.Lock()
		m.worklist[handle] = entry
		m.worklistMu.Unlock()
		metrics.PipelinesActive.Inc()

		log.WithField("handle", handle).Info("pipeline auto-run: built new")
		metrics.TasksDispatchedTotal.WithLabelValues("AUTO_RUN", "ok_built").Inc()
		t.Reply <- Reply{JobHandle: handle}
		return
	}

	if entry := m.findReusable(t.PipelineConfig); entry != nil {
		if err := m.feed(log, entry, t); err != nil {
			metrics.TasksDispatchedTotal.WithLabelValues("AUTO_RUN", "bad_request").Inc()
			t.Reply <- Reply{Err: err}
			return
		}
		log.WithField("handle", entry.handle).Info("pipeline auto-run: reused existing")
		metrics.TasksDispatchedTotal.WithLabelValues("AUTO_RUN", "ok_reused").Inc()
		t.Reply <- Reply{JobHandle: entry.handle}
		return
	}

	log.Debug("auto-run denied: no budget and no reusable pipeline, re-enqueueing")
	metrics.TasksDispatchedTotal.WithLabelValues("AUTO_RUN", "capacity_exceeded").Inc()
	m.retryAfterWeightFrees(t, w)
}

// findReusable scans the worklist for a pipeline built from an identical
// pipelineConfig and returns the one with the oldest heartbeat, the
// AUTO_RUN reuse fallback.
func (m *Manager) findReusable(config string) *pipelineEntry {
	m.worklistMu.RLock()
	defer m.worklistMu.RUnlock()

	var oldest *pipelineEntry
	var oldestAge time.Duration
	for _, e := range m.worklist {
		if e.config != config {
			continue
		}
		if age := e.idleFor(); oldest == nil || age > oldestAge {
			oldest, oldestAge = e, age
		}
	}
	return oldest
}

// feed validates t.MediaURIs against entry's Load-time streamNum and
// config, then splits them into that many segments, pushing one Blob per
// segment into the pipeline's input node. A plain TASK_RUN carries no
// streamNum of its own, so entry's
// Load-time value is always the one used, not t.StreamNum.
//
// Each call gets its own runID, stamped on every Blob it feeds and on
// the registered listener, so a handle Run more than once — or an
// AUTO_RUN reuse handing one pipeline to a second connection — keeps
// each caller's completions and output routing independent.
func (m *Manager) feed(log *logrus.Entry, entry *pipelineEntry, t *Task) error {
	if err := validateRun(entry.config, int(entry.streamNum), t.MediaURIs); err != nil {
		return err
	}

	entry.touch()
	runID := atomic.AddUint64(&m.nextRunID, 1)
	listener := entry.addConnection(runID, t.CommHandle)
	registerEmitListener(entry.p, runID, listener)

	segments := splitSegments(len(t.MediaURIs), int(entry.streamNum))
	for i, seg := range segments {
		uris := append([]string(nil), t.MediaURIs[seg[0]:seg[1]]...)
		buf := blob.NewOwnedBuffer(nil, nil)
		buf.SetHceDatabaseMeta(blob.HceDatabaseMeta{MediaURI: joinURIs(uris)})
		b := blob.New(0, uint32(i), []*blob.Buffer{buf}, nil)
		b.RunID = runID
		if err := entry.p.SendToPort(m.ctx, entry.inputNode, 0, b, 0); err != nil {
			log.WithError(err).WithField("segment", i).Warn("failed to feed pipeline segment")
			b.Release()
		}
	}
	return nil
}

func joinURIs(uris []string) string {
	out := ""
	for i, u := range uris {
		if i > 0 {
			out += ";"
		}
		out += u
	}
	return out
}

// emitListenerRegistrar is implemented by every response.Node-based
// output class (MediaOutput, RadarOutput, MediaRadarOutput, ...); feed
// attaches the calling connection to each one found in the pipeline,
// keyed by runID, so its real per-frame EmitOutput/EmitFinish calls, not
// just the watchdog's timeout path, reach the caller for this Run alone.
type emitListenerRegistrar interface {
	RegisterEmitListener(runID uint64, l response.EmitListener)
}

// registerEmitListener attaches l to every output node in p that
// accepts one. A pipeline may fuse more than one output class (e.g. a
// media branch and a radar branch both terminating their own
// response.Node), so every match is registered, not just the first.
func registerEmitListener(p *pipeline.Pipeline, runID uint64, l response.EmitListener) {
	if l == nil {
		return
	}
	for _, name := range p.NodeNames() {
		n, err := p.GetNodeHandle(name)
		if err != nil {
			continue
		}
		if r, ok := n.(emitListenerRegistrar); ok {
			r.RegisterEmitListener(runID, l)
		}
	}
}

// buildPipeline parses a config string into a running-ready Pipeline and
// returns the name of the node the manager should inject Run input into
// (the node marked IsSourceNode).
func buildPipeline(config string) (p *pipeline.Pipeline, inputNode string, err error) {
	pl, err := parser.ParseFromString(uuid.NewString(), config)
	if err != nil {
		return nil, "", err
	}
	for _, name := range pl.NodeNames() {
		n, err := pl.GetNodeHandle(name)
		if err != nil {
			continue
		}
		if n.IsSourceNode() {
			return pl, name, nil
		}
	}
	return nil, "", fmt.Errorf("manager: pipeline config has no source node")
}

// HealthCheck returns the watchdog tick counter, used by the HTTP
// frontend's /healthz to detect a stalled watchdog.
func (m *Manager) HealthCheck() int64 {
	return atomic.LoadInt64(&m.healthCheck)
}
