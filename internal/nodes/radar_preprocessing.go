package nodes

import (
	"context"
	"time"

	"github.com/zhangcong2019/hsf-pipeline/internal/blob"
	"github.com/zhangcong2019/hsf-pipeline/internal/graph"
	"github.com/zhangcong2019/hsf-pipeline/internal/nodes/backend"
)

// RadarPreProcessingNode converts raw IQ samples carried by a
// TypedVector Buffer into a Cartesian point cloud. Configure String
// key:
// RadarConfigPath (string, passed through to the RadarDSP collaborator
// and stored in the outgoing Buffer's RadarConfig meta for downstream
// stages). The resulting points are stored via SetPointClouds with
// X/Y/Z holding Cartesian range-bin coordinates; radar_detection.go
// reinterprets that same field as Range/Velocity/Azimuth once its stage
// runs, avoiding a dedicated meta type per radar-chain stage.
type RadarPreProcessingNode struct {
	graph.BaseNode
	configPath string
	dsp        backend.RadarDSP
}

func NewRadarPreProcessingNode(name string, threads int, dsp backend.RadarDSP) *RadarPreProcessingNode {
	return &RadarPreProcessingNode{
		BaseNode: graph.BaseNode{NodeName: name, NodeClass: "RadarPreProcessing", Threads: threads, InPorts: 1, OutPorts: 1},
		dsp:      dsp,
	}
}

func (n *RadarPreProcessingNode) ConfigureByString(s string) error {
	cfg, err := parseConfigString(s)
	if err != nil {
		return err
	}
	n.configPath = cfg.str("RadarConfigPath", "")
	return nil
}

func (n *RadarPreProcessingNode) ValidateConfiguration() error { return nil }

func (n *RadarPreProcessingNode) CreateNodeWorker(batchIdx int) graph.NodeWorker {
	return &radarPreProcessingWorker{dsp: n.dsp, configPath: n.configPath}
}

func init() {
	graph.Register("RadarPreProcessing", func(name string, threads int) graph.Node {
		return NewRadarPreProcessingNode(name, threads, backend.NewIdentityRadarDSP())
	})
}

type radarPreProcessingWorker struct {
	graph.BaseWorker
	dsp        backend.RadarDSP
	configPath string
}

func (w *radarPreProcessingWorker) Process(ctx context.Context) error {
	blobs, err := w.GetBatchedInput(ctx, []int{0}, 20*time.Millisecond)
	if err != nil {
		return err
	}
	for _, b := range blobs {
		// Consumer side of the input throttle: one decrement per frame,
		// waking the producer every stride frames.
		for _, buf := range b.Buffers {
			if sc, ok := buf.GetSendController(); ok {
				sc.Release()
			}
		}
		for _, buf := range b.Buffers {
			if buf.Drop || buf.Payload.Kind != blob.TypedVector {
				continue
			}
			iq, ok := buf.Payload.Vector.([]complex64)
			if !ok {
				continue
			}
			points, err := w.dsp.Preprocess(ctx, iq, w.configPath)
			if err != nil {
				buf.Drop = true
				continue
			}
			buf.SetRadarConfig(blob.RadarConfig{ConfigPath: w.configPath})
			buf.SetPointClouds(blob.PointClouds{Points: toPointClouds(points)})
		}
		if err := w.SendOutput(ctx, b, 0, 0); err != nil {
			b.Release()
		}
	}
	return nil
}

func toPointClouds(points []backend.RadarPoint) [][3]float32 {
	out := make([][3]float32, len(points))
	for i, p := range points {
		out[i] = [3]float32{p.X, p.Y, p.Z}
	}
	return out
}
