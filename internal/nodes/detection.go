package nodes

import (
	"context"
	"time"

	"github.com/zhangcong2019/hsf-pipeline/internal/blob"
	"github.com/zhangcong2019/hsf-pipeline/internal/graph"
	"github.com/zhangcong2019/hsf-pipeline/internal/nodes/backend"
)

// DetectionNode runs object detection over each decoded buffer and
// populates its ROIs, the stage every CPU-backend video pipeline wires
// between VideoDecoderNode and TrackerNode_CPU. Configure String key:
// MinConfidence (float, default 0 — detections below this are dropped).
type DetectionNode struct {
	graph.BaseNode
	minConfidence float32
	detector      backend.Detector
}

func NewDetectionNode(name string, threads int, detector backend.Detector) *DetectionNode {
	return &DetectionNode{
		BaseNode: graph.BaseNode{NodeName: name, NodeClass: "Detection", Threads: threads, InPorts: 1, OutPorts: 1},
		detector: detector,
	}
}

func (n *DetectionNode) ConfigureByString(s string) error {
	cfg, err := parseConfigString(s)
	if err != nil {
		return err
	}
	n.minConfidence = cfg.floatVal("MinConfidence", 0)
	return nil
}

func (n *DetectionNode) ValidateConfiguration() error { return nil }

func (n *DetectionNode) CreateNodeWorker(batchIdx int) graph.NodeWorker {
	return &detectionWorker{detector: n.detector, minConfidence: n.minConfidence}
}

func init() {
	graph.Register("Detection", func(name string, threads int) graph.Node {
		return NewDetectionNode(name, threads, backend.NewWholeFrameDetector())
	})
}

type detectionWorker struct {
	graph.BaseWorker
	detector      backend.Detector
	minConfidence float32
}

func (w *detectionWorker) Process(ctx context.Context) error {
	blobs, err := w.GetBatchedInput(ctx, []int{0}, 20*time.Millisecond)
	if err != nil {
		return err
	}
	for _, b := range blobs {
		for _, buf := range b.Buffers {
			if buf.Drop {
				continue
			}
			dets, err := w.detector.Detect(ctx, backend.Frame{Width: buf.Width, Height: buf.Height})
			if err != nil {
				continue
			}
			buf.ROIs = buf.ROIs[:0]
			for _, d := range dets {
				if d.Confidence < w.minConfidence {
					continue
				}
				buf.ROIs = append(buf.ROIs, blob.ROI{
					Rect:           blob.Rect{X: d.X, Y: d.Y, Width: d.Width, Height: d.Height},
					DetectionLabel: d.Label,
					Confidence:     d.Confidence,
				})
			}
		}
		if err := w.SendOutput(ctx, b, 0, 0); err != nil {
			b.Release()
		}
	}
	return nil
}
