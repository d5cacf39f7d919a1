// Package blob implements the reference-counted data unit that moves
// along pipeline edges, along with its typed payload (Buffer), regions
// of interest (ROI), and the heterogeneous meta bag carried alongside it.
package blob

import (
	"sync/atomic"
)

// Tag marks whether a Blob is an ordinary data unit or the terminal
// marker for a stream.
type Tag int

const (
	// Normal is an ordinary in-flight data unit.
	Normal Tag = iota
	// EndOfRequest marks the last Blob of a stream; exactly one must
	// reach the output node per (pipeline, streamId).
	EndOfRequest
)

func (t Tag) String() string {
	if t == EndOfRequest {
		return "END_OF_REQUEST"
	}
	return "NORMAL"
}

// Blob is the unit of data traversing the node graph. It carries a
// monotonically increasing frameId within its (pipeline, streamId) pair,
// an ordered list of Buffers (one per output port of the producing
// node), and a Tag. A Blob is reference-counted: it stays alive while at
// least one queue or worker still holds it.
type Blob struct {
	FrameID  uint64
	StreamID uint32
	Tag      Tag
	Buffers  []*Buffer

	// RunID identifies the Run/AutoRun submission that originated this
	// Blob (or, for a Blob produced downstream from it, the submission
	// its ancestor carried). The PipelineManager assigns it once per
	// feed() call; a ResponseNode uses it to route EmitOutput/EmitFinish
	// back to the correct connection when a handle is Run more than
	// once, since streamId values are reused across Runs.
	RunID uint64

	refCount int32
	release  func(*Blob)
}

// New creates a Blob with an initial reference count of one. release,
// if non-nil, runs exactly once when the last reference is dropped.
func New(frameID uint64, streamID uint32, buffers []*Buffer, release func(*Blob)) *Blob {
	return &Blob{
		FrameID:  frameID,
		StreamID: streamID,
		Tag:      Normal,
		Buffers:  buffers,
		refCount: 1,
		release:  release,
	}
}

// Retain increments the reference count. Callers that hand a Blob to
// more than one downstream consumer (e.g. a fan-out link) must Retain
// once per extra holder.
func (b *Blob) Retain() *Blob {
	atomic.AddInt32(&b.refCount, 1)
	return b
}

// Release decrements the reference count and runs the release callback
// exactly once when it reaches zero. Calling Release more times than the
// Blob was retained is a caller bug; it is not guarded against beyond
// the atomic decrement, matching the release-runs-once contract on
// Buffer.
func (b *Blob) Release() {
	if atomic.AddInt32(&b.refCount, -1) == 0 {
		for _, buf := range b.Buffers {
			buf.Release()
		}
		if b.release != nil {
			b.release(b)
		}
	}
}

// Clone produces a shallow copy sharing the same Buffers (retained)
// with its own refcount; FrameID, StreamID, Tag and RunID are copied
// from the source Blob.
func (b *Blob) Clone() *Blob {
	buffers := make([]*Buffer, len(b.Buffers))
	for i, buf := range b.Buffers {
		buffers[i] = buf.Retain()
	}
	clone := New(b.FrameID, b.StreamID, buffers, b.release)
	clone.Tag = b.Tag
	clone.RunID = b.RunID
	return clone
}
