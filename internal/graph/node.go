// Package graph defines the Node/NodeWorker abstraction that the
// pipeline runtime schedules: a static description of a processing
// stage (Node), the per-worker batching policy it runs under, and the
// class-name registry the parser uses to instantiate one from JSON.
package graph

import "context"

// Policy selects how a Node's workers are handed their input blobs.
type Policy int

const (
	// DefaultPolicy lets a single process(batchIdx) call pull from any
	// combination of input ports; batch composition is opaque to the Node.
	DefaultPolicy Policy = iota
	// BatchingWithStream partitions a Node's workers by streamId: worker
	// k sees, in order, every Blob whose streamId % StreamNum == k. This
	// is the only correct policy for stateful nodes (trackers,
	// object-select, every response node) since their internal state
	// depends on "same stream, same worker, in order".
	BatchingWithStream
)

func (p Policy) String() string {
	if p == BatchingWithStream {
		return "BatchingWithStream"
	}
	return "Default"
}

// BatchConfig is the batching policy carried by a Node.
type BatchConfig struct {
	Policy            Policy
	BatchSize         int
	StreamNum         int
	ThreadNumPerBatch int
}

// Normalize fills in the defaults prepare() applies: a BatchSize/StreamNum
// of zero means 1, and a Node with ThreadNumPerBatch==1 is rewritten to
// BatchingWithStream.
func (c BatchConfig) Normalize() BatchConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = 1
	}
	if c.StreamNum <= 0 {
		c.StreamNum = 1
	}
	if c.ThreadNumPerBatch == 1 {
		c.Policy = BatchingWithStream
	}
	return c
}

// Node is the static description of one processing stage: a name, a
// class, port counts, a worker budget, and a batching policy. Node
// implementations are registered by class name (registry.go) and looked
// up by the PipelineParser.
type Node interface {
	// Name is the instance name assigned by the pipeline description.
	Name() string
	// Class is the registered class name this instance was built from.
	Class() string
	// ConfigureByString parses "key=value(v);..." and must only be
	// callable while the owning pipeline is idle; it transitions this
	// Node's own configuration state to configured on success.
	ConfigureByString(s string) error
	// ValidateConfiguration checks the parsed configuration for
	// completeness/consistency, independent of wiring.
	ValidateConfiguration() error
	// Prepare finalizes the batching policy (Normalize) and any other
	// per-node state once the graph is fully wired.
	Prepare() error
	// CreateNodeWorker is the worker factory; the engine calls it
	// TotalThreadNum() times, once per worker slot (batchIdx).
	CreateNodeWorker(batchIdx int) NodeWorker
	// Rearm/Reset mirror the pipeline-level calls between runs and on
	// fatal stream errors.
	Rearm() error
	Reset() error

	TotalThreadNum() int
	InputPortCount() int
	OutputPortCount() int
	BatchConfig() BatchConfig
	// IsSourceNode marks nodes that assign frameId and accept injected
	// input from the PipelineManager (e.g. sendToPort), as opposed to
	// nodes that only ever receive from an upstream link.
	IsSourceNode() bool
}

// NodeWorker is the runnable instance of a Node; the engine creates
// TotalThreadNum() of these per Node and drives them through this
// lifecycle while the owning Pipeline is running.
type NodeWorker interface {
	// Init/Deinit run exactly once per worker lifetime, bracketing every
	// start/stop cycle the worker goroutine goes through.
	Init(ctx context.Context) error
	Deinit() error
	// ProcessByFirstRun/ProcessByLastRun run exactly once, immediately
	// before the first and immediately after the last Process call of a
	// running phase.
	ProcessByFirstRun(ctx context.Context) error
	ProcessByLastRun(ctx context.Context) error
	// Process is invoked repeatedly while the pipeline is running. Its
	// batchIdx is the stable worker slot assigned at construction.
	Process(ctx context.Context) error
	// Rearm/Reset mirror the Node-level calls, run between runs and on
	// fatal stream errors respectively.
	Rearm() error
	Reset() error
}
