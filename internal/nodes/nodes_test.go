package nodes

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhangcong2019/hsf-pipeline/internal/blob"
	"github.com/zhangcong2019/hsf-pipeline/internal/graph"
	"github.com/zhangcong2019/hsf-pipeline/internal/nodes/backend"
)

// fakeRuntime is a minimal graph.Runtime standing in for the Pipeline's
// workerRuntime, so a single worker's Process can be driven directly in
// a test without wiring a full graph.
type fakeRuntime struct {
	batchIdx int
	in       []*blob.Blob
	out      []*blob.Blob
	held     int
}

func (r *fakeRuntime) BatchIdx() int { return r.batchIdx }

func (r *fakeRuntime) GetBatchedInput(_ context.Context, _ []int, _ time.Duration) ([]*blob.Blob, error) {
	in := r.in
	r.in = nil
	return in, nil
}

func (r *fakeRuntime) SendOutput(_ context.Context, b *blob.Blob, _ int, _ time.Duration) error {
	r.out = append(r.out, b)
	return nil
}

func (r *fakeRuntime) HoldDepleting()    { r.held++ }
func (r *fakeRuntime) ReleaseDepleting() { r.held-- }
func (r *fakeRuntime) EmitEvent(graph.EventKind, any) {}

func TestDetectionNodeConfigureAndProcess(t *testing.T) {
	n := NewDetectionNode("det1", 1, backend.NewWholeFrameDetector())
	require.NoError(t, n.ConfigureByString("MinConfidence=0.5"))

	w := n.CreateNodeWorker(0).(*detectionWorker)
	rt := &fakeRuntime{}
	w.Runtime = rt

	buf := blob.NewOwnedBuffer(nil, nil)
	buf.Width, buf.Height = 100, 80
	b := blob.New(1, 0, []*blob.Buffer{buf}, nil)
	rt.in = []*blob.Blob{b}

	require.NoError(t, w.Process(context.Background()))
	require.Len(t, rt.out, 1)
	require.Len(t, rt.out[0].Buffers[0].ROIs, 1)
	roi := rt.out[0].Buffers[0].ROIs[0]
	assert.Equal(t, "object", roi.DetectionLabel)
	assert.Equal(t, 100, roi.Rect.Width)
}

func TestDetectionNodeDropsLowConfidence(t *testing.T) {
	n := NewDetectionNode("det1", 1, backend.NewWholeFrameDetector())
	require.NoError(t, n.ConfigureByString("MinConfidence=2"))

	w := n.CreateNodeWorker(0).(*detectionWorker)
	rt := &fakeRuntime{}
	w.Runtime = rt

	buf := blob.NewOwnedBuffer(nil, nil)
	b := blob.New(1, 0, []*blob.Buffer{buf}, nil)
	rt.in = []*blob.Blob{b}

	require.NoError(t, w.Process(context.Background()))
	require.Len(t, rt.out, 1)
	assert.Empty(t, rt.out[0].Buffers[0].ROIs, "a confidence below MinConfidence must be dropped")
}

func TestDetectionNodeSkipsDroppedBuffers(t *testing.T) {
	n := NewDetectionNode("det1", 1, backend.NewWholeFrameDetector())
	w := n.CreateNodeWorker(0).(*detectionWorker)
	rt := &fakeRuntime{}
	w.Runtime = rt

	buf := blob.NewOwnedBuffer(nil, nil)
	buf.Drop = true
	b := blob.New(1, 0, []*blob.Buffer{buf}, nil)
	rt.in = []*blob.Blob{b}

	require.NoError(t, w.Process(context.Background()))
	require.Len(t, rt.out, 1)
	assert.Empty(t, rt.out[0].Buffers[0].ROIs)
}

func TestTrackerNodeAssignsStableIDsAcrossFrames(t *testing.T) {
	n := NewTrackerNode("trk1", 1, backend.NewSequentialTracker())
	w := n.CreateNodeWorker(0).(*trackerWorker)
	rt := &fakeRuntime{}
	w.Runtime = rt

	buf1 := blob.NewOwnedBuffer(nil, nil)
	buf1.ROIs = []blob.ROI{{DetectionLabel: "car", Confidence: 1}}
	b1 := blob.New(1, 5, []*blob.Buffer{buf1}, nil)
	rt.in = []*blob.Blob{b1}
	require.NoError(t, w.Process(context.Background()))
	require.Len(t, rt.out, 1)
	firstID := rt.out[0].Buffers[0].ROIs[0].TrackID
	assert.Equal(t, blob.TrackNew, rt.out[0].Buffers[0].ROIs[0].TrackStatus)

	buf2 := blob.NewOwnedBuffer(nil, nil)
	buf2.ROIs = []blob.ROI{{DetectionLabel: "car", Confidence: 1}}
	b2 := blob.New(2, 5, []*blob.Buffer{buf2}, nil)
	rt.in = []*blob.Blob{b2}
	require.NoError(t, w.Process(context.Background()))
	require.Len(t, rt.out, 2)
	secondID := rt.out[1].Buffers[0].ROIs[0].TrackID
	assert.Equal(t, firstID, secondID, "same stream's single object must keep its TrackID across frames")
	assert.Equal(t, blob.TrackTracked, rt.out[1].Buffers[0].ROIs[0].TrackStatus)
}

func TestTrackerNodeSkipsDroppedBuffers(t *testing.T) {
	n := NewTrackerNode("trk1", 1, backend.NewSequentialTracker())
	w := n.CreateNodeWorker(0).(*trackerWorker)
	rt := &fakeRuntime{}
	w.Runtime = rt

	buf := blob.NewOwnedBuffer(nil, nil)
	buf.Drop = true
	buf.ROIs = []blob.ROI{{DetectionLabel: "car"}}
	b := blob.New(1, 0, []*blob.Buffer{buf}, nil)
	rt.in = []*blob.Blob{b}

	require.NoError(t, w.Process(context.Background()))
	require.Len(t, rt.out, 1)
	assert.Equal(t, int64(0), rt.out[0].Buffers[0].ROIs[0].TrackID, "dropped buffers must not be handed to the tracker")
}

func TestTrackerNodeReleasesSendController(t *testing.T) {
	n := NewTrackerNode("trk1", 1, backend.NewSequentialTracker())
	w := n.CreateNodeWorker(0).(*trackerWorker)
	rt := &fakeRuntime{}
	w.Runtime = rt

	sc := blob.NewSendController(2, 1, "Video")
	sc.Acquire()
	sc.Acquire()

	buf := blob.NewOwnedBuffer(nil, nil)
	buf.SetSendController(sc)
	rt.in = []*blob.Blob{blob.New(1, 0, []*blob.Buffer{buf}, nil)}

	require.NoError(t, w.Process(context.Background()))
	assert.Equal(t, 1, sc.Count(), "consuming one frame must decrement the producer throttle once")
}
