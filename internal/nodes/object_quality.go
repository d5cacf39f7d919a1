package nodes

import (
	"context"
	"strings"
	"time"

	"github.com/zhangcong2019/hsf-pipeline/internal/graph"
	"github.com/zhangcong2019/hsf-pipeline/internal/nodes/backend"
)

// ObjectQualityNode scores every ROI's image quality with the injected
// QualityScorer. Configure String keys: QualityMode
// ("confidence"|"fixed", default "confidence") and ImageSize (int,
// default 0) are parsed and stored on the node; neither the worker nor
// the scorer receives them.
type ObjectQualityNode struct {
	graph.BaseNode
	mode      string
	imageSize int
	scorer    backend.QualityScorer
}

func NewObjectQualityNode(name string, threads int, scorer backend.QualityScorer) *ObjectQualityNode {
	return &ObjectQualityNode{
		BaseNode: graph.BaseNode{NodeName: name, NodeClass: "ObjectQuality", Threads: threads, InPorts: 1, OutPorts: 1},
		mode:     "confidence",
		scorer:   scorer,
	}
}

func (n *ObjectQualityNode) ConfigureByString(s string) error {
	cfg, err := parseConfigString(s)
	if err != nil {
		return err
	}
	n.mode = strings.ToLower(cfg.str("QualityMode", "confidence"))
	n.imageSize = cfg.intVal("ImageSize", 0)
	return nil
}

func (n *ObjectQualityNode) ValidateConfiguration() error { return nil }

func (n *ObjectQualityNode) CreateNodeWorker(batchIdx int) graph.NodeWorker {
	return &objectQualityWorker{scorer: n.scorer}
}

func init() {
	graph.Register("ObjectQuality", func(name string, threads int) graph.Node {
		return NewObjectQualityNode(name, threads, backend.ConfidenceQualityScorer{})
	})
}

type objectQualityWorker struct {
	graph.BaseWorker
	scorer backend.QualityScorer
}

func (w *objectQualityWorker) Process(ctx context.Context) error {
	blobs, err := w.GetBatchedInput(ctx, []int{0}, 20*time.Millisecond)
	if err != nil {
		return err
	}
	for _, b := range blobs {
		for _, buf := range b.Buffers {
			if buf.Drop {
				continue
			}
			frame := backend.Frame{Width: buf.Width, Height: buf.Height}
			for i := range buf.ROIs {
				roi := &buf.ROIs[i]
				det := backend.Detection{X: roi.Rect.X, Y: roi.Rect.Y, Width: roi.Rect.Width, Height: roi.Rect.Height, Label: roi.DetectionLabel, Confidence: roi.Confidence}
				score, err := w.scorer.Score(ctx, frame, det)
				if err != nil {
					continue
				}
				roi.HasQuality = true
				roi.QualityScore = score
			}
		}
		if err := w.SendOutput(ctx, b, 0, 0); err != nil {
			b.Release()
		}
	}
	return nil
}
