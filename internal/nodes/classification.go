package nodes

import (
	"context"
	"time"

	"github.com/zhangcong2019/hsf-pipeline/internal/graph"
	"github.com/zhangcong2019/hsf-pipeline/internal/nodes/backend"
)

// ClassificationNode assigns a semantic label to every ROI of a
// buffer. Configure String key: Category (default ""), parsed and
// stored on the node; the Classifier does not receive it.
type ClassificationNode struct {
	graph.BaseNode
	category   string
	classifier backend.Classifier
}

func NewClassificationNode(name string, threads int, classifier backend.Classifier) *ClassificationNode {
	return &ClassificationNode{
		BaseNode:   graph.BaseNode{NodeName: name, NodeClass: "Classification", Threads: threads, InPorts: 1, OutPorts: 1},
		classifier: classifier,
	}
}

func (n *ClassificationNode) ConfigureByString(s string) error {
	cfg, err := parseConfigString(s)
	if err != nil {
		return err
	}
	n.category = cfg.str("Category", "")
	return nil
}

func (n *ClassificationNode) ValidateConfiguration() error { return nil }

func (n *ClassificationNode) CreateNodeWorker(batchIdx int) graph.NodeWorker {
	return &classificationWorker{classifier: n.classifier}
}

func init() {
	graph.Register("Classification", func(name string, threads int) graph.Node {
		return NewClassificationNode(name, threads, backend.NewFixedLabelClassifier(""))
	})
}

type classificationWorker struct {
	graph.BaseWorker
	classifier backend.Classifier
}

func (w *classificationWorker) Process(ctx context.Context) error {
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
				label, err := w.classifier.Classify(ctx, frame, det)
				if err == nil {
					roi.ClassificationLabel = label
				}
			}
		}
		if err := w.SendOutput(ctx, b, 0, 0); err != nil {
			b.Release()
		}
	}
	return nil
}
