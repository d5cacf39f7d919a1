package blob

import "sync/atomic"

// PayloadKind discriminates the variant held by a Buffer's payload.
type PayloadKind int

const (
	// OwnedBytes is an opaque byte span owned by the Buffer, released
	// via a caller-supplied function when the last reference drops.
	OwnedBytes PayloadKind = iota
	// TypedVector holds a typed slice such as complex radar samples.
	TypedVector
	// DeviceSurface is an opaque handle to a device-resident surface
	// (e.g. a GPU frame); the core never dereferences it.
	DeviceSurface
)

// ColorFormat enumerates pixel layouts carried by HceDatabaseMeta and
// referenced by decode/convert nodes.
type ColorFormat int

const (
	ColorUnknown ColorFormat = iota
	ColorBGR
	ColorNV12
	ColorBGRX
	ColorGray
	ColorI420
)

// Payload is the tagged-union payload of a Buffer. Exactly one of the
// three fields is meaningful, selected by Kind.
type Payload struct {
	Kind PayloadKind

	// Bytes backs OwnedBytes; ReleaseFunc runs exactly once.
	Bytes       []byte
	ReleaseFunc func()

	// Vector backs TypedVector: a flat, caller-interpreted typed slice
	// (e.g. []complex64 for radar IQ samples).
	Vector any

	// Surface backs DeviceSurface: an opaque handle owned by an
	// out-of-scope device/codec collaborator.
	Surface any
}

// Buffer is one typed payload within a Blob, with its own frame
// geometry, ROIs, and meta bag. Buffers are reference-counted
// independently of their owning Blob so that a link's retained copy and
// the original can release on different schedules.
type Buffer struct {
	Payload Payload

	FrameID uint64
	Width   int
	Height  int
	Stride  []int
	Drop    bool
	Tag     Tag
	Color   ColorFormat

	ROIs []ROI
	meta *metaBag

	refCount int32
}

// NewOwnedBuffer wraps data with a release function invoked exactly
// once when the last reference to the Buffer is released. release may
// be nil for payloads with no external resource to reclaim.
func NewOwnedBuffer(data []byte, release func()) *Buffer {
	return &Buffer{
		Payload:  Payload{Kind: OwnedBytes, Bytes: data, ReleaseFunc: release},
		refCount: 1,
		meta:     newMetaBag(),
	}
}

// NewTypedVectorBuffer wraps a typed vector payload, e.g. radar IQ samples.
func NewTypedVectorBuffer(vector any) *Buffer {
	return &Buffer{
		Payload:  Payload{Kind: TypedVector, Vector: vector},
		refCount: 1,
		meta:     newMetaBag(),
	}
}

// NewDeviceSurfaceBuffer wraps an opaque device-surface handle.
func NewDeviceSurfaceBuffer(surface any) *Buffer {
	return &Buffer{
		Payload:  Payload{Kind: DeviceSurface, Surface: surface},
		refCount: 1,
		meta:     newMetaBag(),
	}
}

// Retain increments the Buffer's reference count.
func (b *Buffer) Retain() *Buffer {
	atomic.AddInt32(&b.refCount, 1)
	return b
}

// Release decrements the reference count, running the payload's release
// action exactly once the count reaches zero.
func (b *Buffer) Release() {
	if atomic.AddInt32(&b.refCount, -1) == 0 {
		if b.Payload.Kind == OwnedBytes && b.Payload.ReleaseFunc != nil {
			b.Payload.ReleaseFunc()
		}
	}
}

// Meta returns the Buffer's typed meta bag, creating it lazily if the
// Buffer was constructed without one (zero-value Buffer in tests).
func (b *Buffer) Meta() *metaBag {
	if b.meta == nil {
		b.meta = newMetaBag()
	}
	return b.meta
}
