package manager

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/zhangcong2019/hsf-pipeline/internal/pipeline"
	"github.com/zhangcong2019/hsf-pipeline/internal/response"
)

// handleStartIndex is the high bit every jobHandle carries, keeping
// the handle space disjoint from other transport-layer identifiers.
const handleStartIndex = uint32(0x80000000)

// allocHandle returns the next jobHandle: monotonic with wraparound,
// always with the high bit set.
func (m *Manager) allocHandle() uint32 {
	n := atomic.AddUint32(&m.nextHandle, 1)
	return handleStartIndex | (n & 0x7fffffff)
}

// pipelineEntry is one worklist row: a running pipeline plus the
// bookkeeping the scheduler and watchdog need.
type pipelineEntry struct {
	handle    uint32
	config    string // original pipelineConfig, for AUTO_RUN's identical-config reuse scan
	weight    uint32
	streamNum uint32 // Load-time streamNum; plain TASK_RUN carries none of its own and must reuse this

	p         *pipeline.Pipeline
	inputNode string // the node name sendToPort targets for Run

	heartbeat int64 // unix nanos, atomic

	mu          sync.Mutex
	connections map[uint64]response.EmitListener // keyed by runID
}

func newPipelineEntry(handle, weight, streamNum uint32, config, inputNode string, p *pipeline.Pipeline) *pipelineEntry {
	e := &pipelineEntry{handle: handle, config: config, weight: weight, streamNum: streamNum, p: p, inputNode: inputNode}
	e.touch()
	return e
}

func (e *pipelineEntry) touch() {
	atomic.StoreInt64(&e.heartbeat, time.Now().UnixNano())
}

func (e *pipelineEntry) idleFor() time.Duration {
	return time.Since(time.Unix(0, atomic.LoadInt64(&e.heartbeat)))
}

// selfPruningListener wraps a Run's EmitListener so its EmitFinish
// removes its own entry from pipelineEntry.connections, keeping the map
// from growing without bound across many Runs of one handle.
type selfPruningListener struct {
	entry *pipelineEntry
	runID uint64
	inner response.EmitListener
}

func (l *selfPruningListener) EmitOutput(resp response.Response) {
	l.inner.EmitOutput(resp)
}

func (l *selfPruningListener) EmitFinish() {
	l.entry.removeConnection(l.runID)
	l.inner.EmitFinish()
}

// addConnection registers l as runID's listener and returns the wrapper
// that must be handed to the node graph, so the graph's own EmitFinish
// call is what prunes the entry.
func (e *pipelineEntry) addConnection(runID uint64, l response.EmitListener) response.EmitListener {
	if l == nil {
		return nil
	}
	wrapped := &selfPruningListener{entry: e, runID: runID, inner: l}
	e.mu.Lock()
	if e.connections == nil {
		e.connections = make(map[uint64]response.EmitListener)
	}
	e.connections[runID] = wrapped
	e.mu.Unlock()
	return wrapped
}

func (e *pipelineEntry) removeConnection(runID uint64) {
	e.mu.Lock()
	delete(e.connections, runID)
	e.mu.Unlock()
}

// dropConnections hands every attached connection a Pipeline timeout and
// clears the map, used by the watchdog when it reclaims an idle entry.
func (e *pipelineEntry) dropConnections() {
	e.mu.Lock()
	conns := e.connections
	e.connections = nil
	e.mu.Unlock()

	for _, c := range conns {
		c.EmitOutput(response.TimeoutResponse())
		c.EmitFinish()
	}
}
