package graph

import (
	"context"
	"time"

	"github.com/zhangcong2019/hsf-pipeline/internal/blob"
)

// BatchCollector is the single entry point by which a worker consumes
// inputs. The Pipeline wires a concrete
// collector to each worker according to the Node's BatchConfig.Policy.
type BatchCollector interface {
	GetBatchedInput(ctx context.Context, portIndices []int, timeout time.Duration) ([]*blob.Blob, error)
}

// EventKind identifies an emitEvent payload kind. The core
// only defines the timestamp-accounting kind it consumes itself;
// concrete nodes may emit others for out-of-scope collaborators to read.
type EventKind string

const (
	EventTimeStamp EventKind = "time_stamp"
	// EventDrainRequested asks the owning Pipeline to begin the
	// running→depleting transition, e.g. raised by a ResponseNode once it
	// has observed the terminal blob for every stream.
	EventDrainRequested EventKind = "drain_requested"
)

// TimeStampEvent is the payload for EventTimeStamp: the wall-clock cost
// of one node processing one Blob, used for per-node latency accounting
// and the end-of-run performance report.
type TimeStampEvent struct {
	Duration time.Duration
}

// Runtime is the set of pipeline-owned capabilities a worker needs
// beyond its own Process logic: pushing to an output port, participating
// in the depleting handshake, and emitting pipeline-wide events. The
// Pipeline implements this and hands one instance, scoped to one
// worker's batchIdx, to each NodeWorker it constructs.
type Runtime interface {
	BatchIdx() int
	GetBatchedInput(ctx context.Context, portIndices []int, timeout time.Duration) ([]*blob.Blob, error)
	SendOutput(ctx context.Context, b *blob.Blob, outPortIdx int, timeout time.Duration) error
	HoldDepleting()
	ReleaseDepleting()
	EmitEvent(kind EventKind, payload any)
}

// BaseWorker is embedded by concrete NodeWorker implementations to get
// sendOutput/holdDepleting/releaseDepleting/emitEvent/getBatchedInput
// for free, plus no-op defaults for the lifecycle hooks a given node
// doesn't need to override.
type BaseWorker struct {
	Runtime
}

func (w *BaseWorker) Init(ctx context.Context) error                 { return nil }
func (w *BaseWorker) Deinit() error                                  { return nil }
func (w *BaseWorker) ProcessByFirstRun(ctx context.Context) error     { return nil }
func (w *BaseWorker) ProcessByLastRun(ctx context.Context) error      { return nil }
func (w *BaseWorker) Rearm() error                                    { return nil }
func (w *BaseWorker) Reset() error                                    { return nil }

// BaseNode is embedded by concrete Node implementations for the parts of
// the interface most nodes share verbatim: name/class bookkeeping and a
// Normalize-on-Prepare batch config.
type BaseNode struct {
	NodeName   string
	NodeClass  string
	Threads    int
	InPorts    int
	OutPorts   int
	SourceNode bool
	Batch      BatchConfig
}

func (n *BaseNode) Name() string            { return n.NodeName }
func (n *BaseNode) Class() string            { return n.NodeClass }
func (n *BaseNode) TotalThreadNum() int      { return n.Threads }
func (n *BaseNode) InputPortCount() int      { return n.InPorts }
func (n *BaseNode) OutputPortCount() int     { return n.OutPorts }
func (n *BaseNode) BatchConfig() BatchConfig { return n.Batch }
func (n *BaseNode) IsSourceNode() bool       { return n.SourceNode }
func (n *BaseNode) Prepare() error {
	n.Batch = n.Batch.Normalize()
	return nil
}
func (n *BaseNode) Rearm() error { return nil }
func (n *BaseNode) Reset() error { return nil }
