package backend

import (
	"context"
	"sync"
	"sync/atomic"
)

// PassthroughDecoder treats its input bytes as an already-decoded BGR
// frame of fixed geometry, standing in for the real FFmpeg/libav decode
// path (out of scope per the Non-goals around media codecs).
type PassthroughDecoder struct {
	Width, Height int
}

func NewPassthroughDecoder(width, height int) *PassthroughDecoder {
	if width <= 0 {
		width = 1
	}
	if height <= 0 {
		height = 1
	}
	return &PassthroughDecoder{Width: width, Height: height}
}

func (d *PassthroughDecoder) Decode(ctx context.Context, raw []byte) (Frame, error) {
	return Frame{Width: d.Width, Height: d.Height, Data: raw}, nil
}

// WholeFrameDetector returns exactly one Detection spanning the whole
// Frame, standing in for a real detection model.
type WholeFrameDetector struct {
	Label      string
	Confidence float32
}

func NewWholeFrameDetector() *WholeFrameDetector {
	return &WholeFrameDetector{Label: "object", Confidence: 1}
}

func (d *WholeFrameDetector) Detect(ctx context.Context, f Frame) ([]Detection, error) {
	return []Detection{{X: 0, Y: 0, Width: f.Width, Height: f.Height, Label: d.Label, Confidence: d.Confidence}}, nil
}

// SequentialTracker assigns a new, monotonically increasing TrackID to
// every detection of a stream the first time it is seen, and keeps
// reusing it by detection index thereafter — enough determinism for
// tests and for exercising the tracker stage's wiring without a real
// re-identification model.
type SequentialTracker struct {
	mu      sync.Mutex
	nextID  int64
	byKey   map[uint32][]int64 // streamID -> per-index assigned TrackID
}

func NewSequentialTracker() *SequentialTracker {
	return &SequentialTracker{byKey: make(map[uint32][]int64)}
}

func (t *SequentialTracker) Update(ctx context.Context, streamID uint32, detections []Detection) ([]Track, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ids := t.byKey[streamID]
	tracks := make([]Track, len(detections))
	for i, d := range detections {
		isNew := i >= len(ids)
		if isNew {
			ids = append(ids, atomic.AddInt64(&t.nextID, 1))
		}
		tracks[i] = Track{TrackID: ids[i], Detection: d, IsNew: isNew}
	}
	t.byKey[streamID] = ids
	return tracks, nil
}

// FixedLabelClassifier always reports the same label, standing in for a
// real classification model.
type FixedLabelClassifier struct{ Label string }

func NewFixedLabelClassifier(label string) *FixedLabelClassifier {
	if label == "" {
		label = "unclassified"
	}
	return &FixedLabelClassifier{Label: label}
}

func (c *FixedLabelClassifier) Classify(ctx context.Context, f Frame, d Detection) (string, error) {
	return c.Label, nil
}

// ConfidenceQualityScorer reuses the detection's own confidence as its
// quality score, standing in for a dedicated quality model.
type ConfidenceQualityScorer struct{}

func (ConfidenceQualityScorer) Score(ctx context.Context, f Frame, d Detection) (float32, error) {
	return d.Confidence, nil
}

// IdentityRadarDSP passes IQ samples through as Cartesian points
// unchanged, treats every point as its own detection/cluster, and
// tracks clusters the same way SequentialTracker tracks detections —
// enough to exercise the four radar stages and their Node wiring
// without a real radar-DSP kernel.
type IdentityRadarDSP struct {
	tracker *SequentialTracker
}

func NewIdentityRadarDSP() *IdentityRadarDSP {
	return &IdentityRadarDSP{tracker: NewSequentialTracker()}
}

func (r *IdentityRadarDSP) Preprocess(ctx context.Context, iq []complex64, configPath string) ([]RadarPoint, error) {
	points := make([]RadarPoint, len(iq))
	for i, s := range iq {
		points[i] = RadarPoint{X: real(s), Y: imag(s), Z: 0}
	}
	return points, nil
}

func (r *IdentityRadarDSP) Detect(ctx context.Context, points []RadarPoint) ([]RadarDetection, error) {
	dets := make([]RadarDetection, len(points))
	for i, p := range points {
		dets[i] = RadarDetection{Range: p.X, Velocity: 0, Azimuth: p.Y}
	}
	return dets, nil
}

func (r *IdentityRadarDSP) Cluster(ctx context.Context, detections []RadarDetection) ([]RadarCluster, error) {
	clusters := make([]RadarCluster, len(detections))
	for i, d := range detections {
		clusters[i] = RadarCluster{Detections: []RadarDetection{d}, Centroid: d}
	}
	return clusters, nil
}

func (r *IdentityRadarDSP) Track(ctx context.Context, streamID uint32, clusters []RadarCluster) ([]RadarTrack, error) {
	dets := make([]Detection, len(clusters))
	for i, c := range clusters {
		dets[i] = Detection{X: int(c.Centroid.Range), Y: int(c.Centroid.Azimuth)}
	}
	tracked, err := r.tracker.Update(ctx, streamID, dets)
	if err != nil {
		return nil, err
	}
	out := make([]RadarTrack, len(tracked))
	for i, tr := range tracked {
		out[i] = RadarTrack{TargetID: tr.TrackID, Centroid: clusters[i].Centroid}
	}
	return out, nil
}
