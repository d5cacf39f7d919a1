package blob

import "sync"

// MetaType tags an entry in a Buffer's meta bag. Each concrete meta
// struct below owns exactly one MetaType value, so GetX/SetX pairs can
// do a single map lookup instead of a runtime type switch.
type MetaType int

const (
	MetaHceDatabase MetaType = iota
	MetaTimeStamp
	MetaInferenceTimeStamp
	MetaSendController
	MetaTrackerOutput
	MetaRadarConfig
	MetaPointClouds
)

// metaBag is the heterogeneous, typed map attached to every Buffer.
// Accessing an absent type is a recoverable miss (ok=false), never an
// error. SetMeta replaces a whole entry atomically; it is only ever
// called by the current single owner of the Buffer (the producer before
// sendOutput, or the current worker before forwarding downstream).
type metaBag struct {
	mu      sync.Mutex
	entries map[MetaType]any
}

func newMetaBag() *metaBag {
	return &metaBag{entries: make(map[MetaType]any)}
}

func getMeta[T any](b *metaBag, t MetaType) (T, bool) {
	var zero T
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.entries[t]
	if !ok {
		return zero, false
	}
	typed, ok := v.(T)
	return typed, ok
}

func setMeta[T any](b *metaBag, t MetaType, v T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[t] = v
}

// HceDatabaseMeta carries source provenance, per-ROI inference results,
// and radar fusion linkage for one Buffer.
type HceDatabaseMeta struct {
	MediaURI        string
	TimeStampMs     uint64
	CaptureSourceID string // default "100"
	BufferType      BufferType
	ColorFormat     ColorFormat
	ScaleHeight     float32
	ScaleWidth      float32

	// Result maps keyed by ROI index.
	AttributeResult map[int]string
	LPRResult       map[int]string
	ObjAssResult    map[int]int
	QualityResult   map[int]float32
	IgnoreFlags     map[int]bool

	RadarParams RadarConfig
}

// BufferType discriminates the source representation of a Buffer's
// image/sample data before decode, independent of the post-decode
// Payload.Kind tag.
type BufferType int

const (
	BufferTypeUnknown BufferType = iota
	BufferTypeString
	BufferTypeUint8
	BufferTypeDeviceFrame
)

// GetHceDatabaseMeta returns the HceDatabaseMeta entry, if present.
func (b *Buffer) GetHceDatabaseMeta() (HceDatabaseMeta, bool) {
	return getMeta[HceDatabaseMeta](b.Meta(), MetaHceDatabase)
}

// SetHceDatabaseMeta replaces the HceDatabaseMeta entry atomically.
func (b *Buffer) SetHceDatabaseMeta(m HceDatabaseMeta) {
	setMeta(b.Meta(), MetaHceDatabase, m)
}

// TimeStamp is a per-stage monotonic timestamp used for latency
// accounting between a known pair of pipeline stages.
type TimeStamp struct {
	Stage string
	NanoS int64
}

func (b *Buffer) GetTimeStamp() (TimeStamp, bool) {
	return getMeta[TimeStamp](b.Meta(), MetaTimeStamp)
}
func (b *Buffer) SetTimeStamp(t TimeStamp) { setMeta(b.Meta(), MetaTimeStamp, t) }

// InferenceTimeStamp records the wall-clock instant inference started
// and finished for one Buffer, distinct from TimeStamp's per-stage use.
type InferenceTimeStamp struct {
	StartNanoS int64
	EndNanoS   int64
}

func (b *Buffer) GetInferenceTimeStamp() (InferenceTimeStamp, bool) {
	return getMeta[InferenceTimeStamp](b.Meta(), MetaInferenceTimeStamp)
}
func (b *Buffer) SetInferenceTimeStamp(t InferenceTimeStamp) {
	setMeta(b.Meta(), MetaInferenceTimeStamp, t)
}

// SendController is a shared handle used by input nodes to throttle
// producers against a slower consumer chain. count never exceeds
// capacity*stride; producers wait on the condition variable while full,
// consumers decrement and signal every stride frames.
type SendController struct {
	mu          sync.Mutex
	notFull     *sync.Cond
	capacity    int
	stride      int
	count       int
	controlType string
}

// NewSendController builds a SendController with the given capacity and
// stride. capacity and stride default to 1 and controlType to "Video"
// when zero/empty.
func NewSendController(capacity, stride int, controlType string) *SendController {
	if capacity <= 0 {
		capacity = 1
	}
	if stride <= 0 {
		stride = 1
	}
	if controlType == "" {
		controlType = "Video"
	}
	sc := &SendController{capacity: capacity, stride: stride, controlType: controlType}
	sc.notFull = sync.NewCond(&sc.mu)
	return sc
}

// Acquire blocks while count > (capacity-1)*stride, then increments it
// by one; with stride 1 this caps count at capacity.
func (sc *SendController) Acquire() {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	for sc.count > (sc.capacity-1)*sc.stride {
		sc.notFull.Wait()
	}
	sc.count++
}

// Release decrements count by one and wakes waiters every stride calls,
// amortising wake-ups for high frame rates. Exactly one consumer per
// frame is assumed; multiple consumers of the same controller-bearing
// buffer will under-count.
func (sc *SendController) Release() {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.count > 0 {
		sc.count--
	}
	if sc.count%sc.stride == 0 {
		sc.notFull.Broadcast()
	}
}

// Count reports the current in-flight count, for tests and metrics.
func (sc *SendController) Count() int {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.count
}

func (b *Buffer) GetSendController() (*SendController, bool) {
	return getMeta[*SendController](b.Meta(), MetaSendController)
}
func (b *Buffer) SetSendController(sc *SendController) {
	setMeta(b.Meta(), MetaSendController, sc)
}

// TrackerOutput carries the radar-chain tracker's per-target state,
// fused downstream against video ROIs by MediaRadarOutput.
type TrackerOutput struct {
	TargetID int64
	Range    float32
	Velocity float32
	Azimuth  float32
}

func (b *Buffer) GetTrackerOutput() (TrackerOutput, bool) {
	return getMeta[TrackerOutput](b.Meta(), MetaTrackerOutput)
}
func (b *Buffer) SetTrackerOutput(t TrackerOutput) { setMeta(b.Meta(), MetaTrackerOutput, t) }

// RadarConfig holds the opaque radar calibration parameters read from
// RadarConfigPath and threaded through the radar chain's nodes.
type RadarConfig struct {
	ConfigPath string
	Params     map[string]string
}

func (b *Buffer) GetRadarConfig() (RadarConfig, bool) {
	return getMeta[RadarConfig](b.Meta(), MetaRadarConfig)
}
func (b *Buffer) SetRadarConfig(c RadarConfig) { setMeta(b.Meta(), MetaRadarConfig, c) }

// PointClouds carries a radar preprocessing stage's clustered point set.
type PointClouds struct {
	Points [][3]float32
}

func (b *Buffer) GetPointClouds() (PointClouds, bool) {
	return getMeta[PointClouds](b.Meta(), MetaPointClouds)
}
func (b *Buffer) SetPointClouds(p PointClouds) { setMeta(b.Meta(), MetaPointClouds, p) }
