package nodes

import (
	"context"
	"time"

	"github.com/zhangcong2019/hsf-pipeline/internal/blob"
	"github.com/zhangcong2019/hsf-pipeline/internal/graph"
	"github.com/zhangcong2019/hsf-pipeline/internal/nodes/backend"
)

// RadarDetectionNode turns a preprocessed point cloud into discrete
// radar detections (range/velocity/azimuth). It overwrites its Buffer's PointClouds
// meta in place, reinterpreting X/Y/Z as Range/Velocity/Azimuth instead
// of Cartesian coordinates from this stage onward. Configure String
// keys: none (the detector is selected purely by the registered
// RadarDSP collaborator).
type RadarDetectionNode struct {
	graph.BaseNode
	dsp backend.RadarDSP
}

func NewRadarDetectionNode(name string, threads int, dsp backend.RadarDSP) *RadarDetectionNode {
	return &RadarDetectionNode{
		BaseNode: graph.BaseNode{NodeName: name, NodeClass: "RadarDetection", Threads: threads, InPorts: 1, OutPorts: 1},
		dsp:      dsp,
	}
}

func (n *RadarDetectionNode) ConfigureByString(s string) error {
	_, err := parseConfigString(s)
	return err
}

func (n *RadarDetectionNode) ValidateConfiguration() error { return nil }

func (n *RadarDetectionNode) CreateNodeWorker(batchIdx int) graph.NodeWorker {
	return &radarDetectionWorker{dsp: n.dsp}
}

func init() {
	graph.Register("RadarDetection", func(name string, threads int) graph.Node {
		return NewRadarDetectionNode(name, threads, backend.NewIdentityRadarDSP())
	})
}

type radarDetectionWorker struct {
	graph.BaseWorker
	dsp backend.RadarDSP
}

func (w *radarDetectionWorker) Process(ctx context.Context) error {
	blobs, err := w.GetBatchedInput(ctx, []int{0}, 20*time.Millisecond)
	if err != nil {
		return err
	}
	for _, b := range blobs {
		for _, buf := range b.Buffers {
			if buf.Drop {
				continue
			}
			pc, ok := buf.GetPointClouds()
			if !ok {
				continue
			}
			dets, err := w.dsp.Detect(ctx, fromPointClouds(pc.Points))
			if err != nil {
				buf.Drop = true
				continue
			}
			buf.SetPointClouds(blob.PointClouds{Points: detectionsToPoints(dets)})
		}
		if err := w.SendOutput(ctx, b, 0, 0); err != nil {
			b.Release()
		}
	}
	return nil
}

func fromPointClouds(pts [][3]float32) []backend.RadarPoint {
	out := make([]backend.RadarPoint, len(pts))
	for i, p := range pts {
		out[i] = backend.RadarPoint{X: p[0], Y: p[1], Z: p[2]}
	}
	return out
}

func detectionsToPoints(dets []backend.RadarDetection) [][3]float32 {
	out := make([][3]float32, len(dets))
	for i, d := range dets {
		out[i] = [3]float32{d.Range, d.Velocity, d.Azimuth}
	}
	return out
}

func pointsToDetections(pts [][3]float32) []backend.RadarDetection {
	out := make([]backend.RadarDetection, len(pts))
	for i, p := range pts {
		out[i] = backend.RadarDetection{Range: p[0], Velocity: p[1], Azimuth: p[2]}
	}
	return out
}
