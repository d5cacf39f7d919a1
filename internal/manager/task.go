package manager

import (
	"github.com/zhangcong2019/hsf-pipeline/internal/response"
)

// Kind discriminates the PipelineManager's tagged-union task queue
// entries.
type Kind int

const (
	// Load builds a pipeline from a config string and returns its handle;
	// no media is fed yet.
	Load Kind = iota
	// Run feeds mediaUris into an already-loaded handle.
	Run
	// Unload stops and destroys a handle.
	Unload
	// AutoRun builds-or-reuses a pipeline for the given config, then runs it.
	AutoRun
)

func (k Kind) String() string {
	switch k {
	case Load:
		return "LOAD"
	case Run:
		return "RUN"
	case Unload:
		return "UNLOAD"
	case AutoRun:
		return "AUTO_RUN"
	default:
		return "UNKNOWN"
	}
}

// Task is one entry of the PipelineManager's waiting queue. Which fields
// are meaningful depends on Kind.
type Task struct {
	Kind Kind

	PipelineConfig  string
	JobHandle       uint32
	SuggestedWeight uint32
	StreamNum       int
	MediaURIs       []string
	CommHandle      response.EmitListener

	// Reply carries the task's outcome back to the submitter. Buffered
	// with capacity 1 so a scheduler goroutine never blocks on a
	// submitter that stopped listening.
	Reply chan Reply
}

// Reply is the outcome of one dispatched Task.
type Reply struct {
	JobHandle uint32
	Err       error
}

func newTask(kind Kind) *Task {
	return &Task{Kind: kind, Reply: make(chan Reply, 1)}
}

// splitSegments partitions n indices into streamNum contiguous
// segments: segment i gets
// [i*floor(n/streamNum), (i+1)*floor(n/streamNum)) for i < streamNum-1,
// and the remainder for the last segment.
func splitSegments(n, streamNum int) [][2]int {
	if streamNum <= 0 {
		streamNum = 1
	}
	step := n / streamNum
	segments := make([][2]int, streamNum)
	for i := 0; i < streamNum; i++ {
		start := i * step
		end := start + step
		if i == streamNum-1 {
			end = n
		}
		segments[i] = [2]int{start, end}
	}
	return segments
}
