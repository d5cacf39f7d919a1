package nodes

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhangcong2019/hsf-pipeline/internal/blob"
	"github.com/zhangcong2019/hsf-pipeline/internal/nodes/backend"
	"github.com/zhangcong2019/hsf-pipeline/internal/response"
)

type captureListener struct {
	mu        sync.Mutex
	responses []response.Response
	finished  int
}

func (l *captureListener) EmitOutput(r response.Response) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.responses = append(l.responses, r)
}

func (l *captureListener) EmitFinish() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.finished++
}

func TestObjectSelectTopKByConfidence(t *testing.T) {
	n := NewObjectSelectNode("sel1", 1)
	require.NoError(t, n.ConfigureByString("TopK=2;Strategy=confidence"))

	w := n.CreateNodeWorker(0).(*objectSelectWorker)
	rt := &fakeRuntime{}
	w.Runtime = rt

	buf := blob.NewOwnedBuffer(nil, nil)
	buf.ROIs = []blob.ROI{
		{DetectionLabel: "a", Confidence: 0.3},
		{DetectionLabel: "b", Confidence: 0.9},
		{DetectionLabel: "c", Confidence: 0.1},
		{DetectionLabel: "d", Confidence: 0.7},
	}
	rt.in = []*blob.Blob{blob.New(1, 0, []*blob.Buffer{buf}, nil)}

	require.NoError(t, w.Process(context.Background()))
	require.Len(t, rt.out, 1)
	rois := rt.out[0].Buffers[0].ROIs
	require.Len(t, rois, 2)
	assert.Equal(t, "b", rois[0].DetectionLabel)
	assert.Equal(t, "d", rois[1].DetectionLabel)
}

func TestObjectSelectFrameInterval(t *testing.T) {
	n := NewObjectSelectNode("sel1", 1)
	require.NoError(t, n.ConfigureByString("FrameInterval=2"))

	w := n.CreateNodeWorker(0).(*objectSelectWorker)
	rt := &fakeRuntime{}
	w.Runtime = rt

	for frame := uint64(1); frame <= 4; frame++ {
		rt.in = []*blob.Blob{blob.New(frame, 0, []*blob.Buffer{blob.NewOwnedBuffer(nil, nil)}, nil)}
		require.NoError(t, w.Process(context.Background()))
	}

	require.Len(t, rt.out, 2, "FrameInterval=2 forwards every second frame")
	assert.Equal(t, uint64(2), rt.out[0].FrameID)
	assert.Equal(t, uint64(4), rt.out[1].FrameID)
}

func TestObjectQualityScoresEveryROI(t *testing.T) {
	n := NewObjectQualityNode("qua1", 1, backend.ConfidenceQualityScorer{})
	w := n.CreateNodeWorker(0).(*objectQualityWorker)
	rt := &fakeRuntime{}
	w.Runtime = rt

	buf := blob.NewOwnedBuffer(nil, nil)
	buf.ROIs = []blob.ROI{{Confidence: 0.6}, {Confidence: 0.4}}
	rt.in = []*blob.Blob{blob.New(1, 0, []*blob.Buffer{buf}, nil)}

	require.NoError(t, w.Process(context.Background()))
	require.Len(t, rt.out, 1)
	for _, roi := range rt.out[0].Buffers[0].ROIs {
		assert.True(t, roi.HasQuality)
		assert.Equal(t, roi.Confidence, roi.QualityScore)
	}
}

func TestClassificationLabelsEveryROI(t *testing.T) {
	n := NewClassificationNode("cls1", 1, backend.NewFixedLabelClassifier("vehicle"))
	w := n.CreateNodeWorker(0).(*classificationWorker)
	rt := &fakeRuntime{}
	w.Runtime = rt

	buf := blob.NewOwnedBuffer(nil, nil)
	buf.ROIs = []blob.ROI{{DetectionLabel: "object"}}
	rt.in = []*blob.Blob{blob.New(1, 0, []*blob.Buffer{buf}, nil)}

	require.NoError(t, w.Process(context.Background()))
	require.Len(t, rt.out, 1)
	assert.Equal(t, "vehicle", rt.out[0].Buffers[0].ROIs[0].ClassificationLabel)
}

func TestFeatureExtractionAttachesVector(t *testing.T) {
	n := NewFeatureExtractionNode("fe1", 1)
	require.NoError(t, n.ConfigureByString("VectorLength=16"))

	w := n.CreateNodeWorker(0).(*featureExtractionWorker)
	rt := &fakeRuntime{}
	w.Runtime = rt

	buf := blob.NewOwnedBuffer(nil, nil)
	buf.ROIs = []blob.ROI{{Rect: blob.Rect{X: 1, Y: 2, Width: 3, Height: 4}, Confidence: 0.5}}
	rt.in = []*blob.Blob{blob.New(1, 0, []*blob.Buffer{buf}, nil)}

	require.NoError(t, w.Process(context.Background()))
	require.Len(t, rt.out, 1)
	fv := rt.out[0].Buffers[0].ROIs[0].FeatureVector
	require.NotNil(t, fv)
	require.Len(t, fv.Buffers, 1)
	assert.Len(t, fv.Buffers[0].Payload.Bytes, 16)
}

func TestVideoDecoderSetsFrameGeometry(t *testing.T) {
	n := NewVideoDecoderNode("dec1", 1, backend.NewPassthroughDecoder(320, 240))
	w := n.CreateNodeWorker(0).(*videoDecoderWorker)
	rt := &fakeRuntime{}
	w.Runtime = rt

	buf := blob.NewOwnedBuffer([]byte("frame bytes"), nil)
	rt.in = []*blob.Blob{blob.New(1, 0, []*blob.Buffer{buf}, nil)}

	require.NoError(t, w.Process(context.Background()))
	require.Len(t, rt.out, 1)
	out := rt.out[0].Buffers[0]
	assert.Equal(t, 320, out.Width)
	assert.Equal(t, 240, out.Height)
	assert.Equal(t, blob.ColorBGR, out.Color)
}

func TestJpegDecoderEncodeType(t *testing.T) {
	n := NewJpegDecoderNode("jpg1", 1, backend.NewPassthroughDecoder(64, 48))
	require.NoError(t, n.ConfigureByString("EncodeType=YUV"))

	w := n.CreateNodeWorker(0).(*jpegDecoderWorker)
	rt := &fakeRuntime{}
	w.Runtime = rt

	buf := blob.NewOwnedBuffer([]byte{0xff, 0xd8}, nil)
	rt.in = []*blob.Blob{blob.New(1, 0, []*blob.Buffer{buf}, nil)}

	require.NoError(t, w.Process(context.Background()))
	require.Len(t, rt.out, 1)
	assert.Equal(t, blob.ColorI420, rt.out[0].Buffers[0].Color)
}

func TestBuildRadarResponse(t *testing.T) {
	buf := blob.NewOwnedBuffer(nil, nil)
	buf.SetTrackerOutput(blob.TrackerOutput{TargetID: 42, Range: 10, Velocity: 1, Azimuth: 0.5})
	b := blob.New(3, 1, []*blob.Buffer{buf}, nil)

	resp := buildRadarResponse(b)
	assert.Equal(t, int32(0), resp.Status)

	var decoded radarTargetJSON
	require.NoError(t, json.Unmarshal([]byte(resp.Message), &decoded))
	assert.Equal(t, int64(42), decoded.TargetID)
	assert.Equal(t, uint64(3), decoded.FrameID)
}

func TestBuildRadarResponseNoTarget(t *testing.T) {
	b := blob.New(1, 0, []*blob.Buffer{blob.NewOwnedBuffer(nil, nil)}, nil)
	resp := buildRadarResponse(b)
	assert.Equal(t, int32(1), resp.Status)
	assert.Contains(t, resp.Message, "noTargetDetected")
}

func TestBuildRadarDetectionResponse(t *testing.T) {
	buf := blob.NewOwnedBuffer(nil, nil)
	buf.SetPointClouds(blob.PointClouds{Points: [][3]float32{{10, 1, 0.5}}})
	b := blob.New(2, 0, []*blob.Buffer{buf}, nil)

	resp := buildRadarDetectionResponse(b)
	assert.Equal(t, int32(0), resp.Status)

	var decoded radarDetectionsJSON
	require.NoError(t, json.Unmarshal([]byte(resp.Message), &decoded))
	require.Len(t, decoded.Points, 1)
	assert.Equal(t, float32(10), decoded.Points[0].Range)
}

func TestBuildLLResponseStatusCodes(t *testing.T) {
	dropped := blob.NewOwnedBuffer(nil, nil)
	dropped.Drop = true
	resp := buildLLResponse(blob.New(1, 0, []*blob.Buffer{dropped}, nil))
	var decoded llResponseJSON
	require.NoError(t, json.Unmarshal([]byte(resp.Message), &decoded))
	assert.Equal(t, int32(-2), decoded.StatusCode)

	empty := blob.NewOwnedBuffer(nil, nil)
	resp = buildLLResponse(blob.New(2, 0, []*blob.Buffer{empty}, nil))
	require.NoError(t, json.Unmarshal([]byte(resp.Message), &decoded))
	assert.Equal(t, int32(1), decoded.StatusCode)
	assert.Equal(t, "noRoiDetected", decoded.Description)

	full := blob.NewOwnedBuffer(nil, nil)
	full.ROIs = []blob.ROI{{Rect: blob.Rect{Width: 10, Height: 10}, DetectionLabel: "car", Confidence: 0.9}}
	resp = buildLLResponse(blob.New(3, 0, []*blob.Buffer{full}, nil))
	require.NoError(t, json.Unmarshal([]byte(resp.Message), &decoded))
	assert.Equal(t, int32(0), decoded.StatusCode)
	require.Len(t, decoded.RoiInfo, 1)
	assert.Equal(t, "car", decoded.RoiInfo[0].RoiClass)
}

func TestCSVSinkWritesOneRowPerROI(t *testing.T) {
	dir := t.TempDir()
	s := newCSVSink(dir, "radar")

	buf := blob.NewOwnedBuffer(nil, nil)
	buf.ROIs = []blob.ROI{
		{DetectionLabel: "car", Confidence: 0.9},
		{DetectionLabel: "bus", Confidence: 0.8},
	}
	b := blob.New(1, 0, []*blob.Buffer{buf}, nil)
	s.save(b, response.Response{Status: 0, Message: "ok"})

	data, err := os.ReadFile(filepath.Join(dir, "results.csv"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3, "header plus one row per ROI")
	assert.True(t, strings.HasPrefix(lines[0], "mediaUri,"))
	assert.Contains(t, lines[1], "car")
	assert.Contains(t, lines[2], "bus")
}

func TestCSVSinkRewritesHeaderOnNewColumn(t *testing.T) {
	dir := t.TempDir()
	s := newCSVSink(dir, "radar")

	s.appendRow([][2]string{{"frameId", "1"}, {"label", "car"}})
	s.appendRow([][2]string{{"frameId", "2"}, {"label", "bus"}, {"plate", "ABC123"}})

	data, err := os.ReadFile(filepath.Join(dir, "results.csv"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "frameId,label,plate", lines[0], "header line is rewritten in place when a column appears")
	assert.Equal(t, "1,car", lines[1], "existing rows keep their original field count")
	assert.Equal(t, "2,bus,ABC123", lines[2])
}

func TestPCLSinkWritesPointRows(t *testing.T) {
	dir := t.TempDir()
	s := newPCLSink(dir)

	s.save(5, blob.PointClouds{Points: [][3]float32{{10, 1, 0.5}, {20, 2, 1.5}}})

	data, err := os.ReadFile(filepath.Join(dir, "pointclouds.csv"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "frameId,pointIdx,range,velocity,azimuth", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "5,0,10.0000"))
	assert.True(t, strings.HasPrefix(lines[2], "5,1,20.0000"))
}

func TestMediaRadarOutputFusesTracksIntoVideoFrame(t *testing.T) {
	n := NewMediaRadarOutputNode("fus1", 1)
	listener := &captureListener{}
	n.RegisterEmitListener(21, listener)

	w := n.CreateNodeWorker(0).(*mediaRadarOutputWorker)
	rt := &fakeRuntime{}
	w.Runtime = rt

	radarBuf := blob.NewOwnedBuffer(nil, nil)
	radarBuf.SetTrackerOutput(blob.TrackerOutput{TargetID: 42, Range: 10})
	radar := blob.New(1, 0, []*blob.Buffer{radarBuf}, nil)
	radar.RunID = 21

	videoBuf := blob.NewOwnedBuffer(nil, nil)
	videoBuf.ROIs = []blob.ROI{{DetectionLabel: "car", Confidence: 0.9}}
	video := blob.New(2, 0, []*blob.Buffer{videoBuf}, nil)
	video.RunID = 21
	video.Tag = blob.EndOfRequest

	rt.in = []*blob.Blob{radar, video}
	require.NoError(t, w.Process(context.Background()))

	require.Len(t, listener.responses, 1, "the radar blob is absorbed, only the video frame emits")
	assert.Contains(t, listener.responses[0].Message, "radarTargets")
	assert.Contains(t, listener.responses[0].Message, `"targetId":42`)
	assert.Equal(t, 1, listener.finished, "the terminal video frame of the only stream fires finish")
}

func TestMediaRadarOutputDropsUnknownRun(t *testing.T) {
	n := NewMediaRadarOutputNode("fus1", 1)
	listener := &captureListener{}
	n.RegisterEmitListener(21, listener)

	w := n.CreateNodeWorker(0).(*mediaRadarOutputWorker)
	rt := &fakeRuntime{}
	w.Runtime = rt

	videoBuf := blob.NewOwnedBuffer(nil, nil)
	videoBuf.ROIs = []blob.ROI{{DetectionLabel: "car"}}
	video := blob.New(1, 0, []*blob.Buffer{videoBuf}, nil)
	video.RunID = 99

	rt.in = []*blob.Blob{video}
	require.NoError(t, w.Process(context.Background()))
	assert.Empty(t, listener.responses, "a frame from a finished or foreign run must not leak to this listener")
}

func TestObjectSelectForwardsTerminalOnThrottledFrame(t *testing.T) {
	n := NewObjectSelectNode("sel1", 1)
	require.NoError(t, n.ConfigureByString("FrameInterval=2"))

	w := n.CreateNodeWorker(0).(*objectSelectWorker)
	rt := &fakeRuntime{}
	w.Runtime = rt

	buf := blob.NewOwnedBuffer(nil, nil)
	buf.ROIs = []blob.ROI{{DetectionLabel: "car", Confidence: 0.9}}
	b := blob.New(1, 0, []*blob.Buffer{buf}, nil)
	b.Tag = blob.EndOfRequest
	rt.in = []*blob.Blob{b}

	require.NoError(t, w.Process(context.Background()))
	require.Len(t, rt.out, 1, "a terminal blob on a throttled frame index must still be forwarded")
	assert.Equal(t, blob.EndOfRequest, rt.out[0].Tag)
	assert.Empty(t, rt.out[0].Buffers[0].ROIs, "the skipped frame's ROIs are cleared, only the terminal marker survives")
}
