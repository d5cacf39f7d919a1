package nodes

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/zhangcong2019/hsf-pipeline/internal/blob"
	"github.com/zhangcong2019/hsf-pipeline/internal/graph"
)

// FeatureExtractionNode computes a re-identification feature vector for
// every ROI and attaches it as blob.ROI.FeatureVector, the embedding
// step ObjectSelectNode.cpp's TrackletAware strategy consumes when
// comparing detections across frames. Configure String key:
// VectorLength (int, default 8).
type FeatureExtractionNode struct {
	graph.BaseNode
	vectorLength int
}

func NewFeatureExtractionNode(name string, threads int) *FeatureExtractionNode {
	return &FeatureExtractionNode{
		BaseNode:     graph.BaseNode{NodeName: name, NodeClass: "FeatureExtraction", Threads: threads, InPorts: 1, OutPorts: 1},
		vectorLength: 8,
	}
}

func (n *FeatureExtractionNode) ConfigureByString(s string) error {
	cfg, err := parseConfigString(s)
	if err != nil {
		return err
	}
	n.vectorLength = cfg.intVal("VectorLength", 8)
	if n.vectorLength <= 0 {
		n.vectorLength = 8
	}
	return nil
}

func (n *FeatureExtractionNode) ValidateConfiguration() error { return nil }

func (n *FeatureExtractionNode) CreateNodeWorker(batchIdx int) graph.NodeWorker {
	return &featureExtractionWorker{vectorLength: n.vectorLength}
}

func init() {
	graph.Register("FeatureExtraction", func(name string, threads int) graph.Node {
		return NewFeatureExtractionNode(name, threads)
	})
}

type featureExtractionWorker struct {
	graph.BaseWorker
	vectorLength int
}

func (w *featureExtractionWorker) Process(ctx context.Context) error {
	blobs, err := w.GetBatchedInput(ctx, []int{0}, 20*time.Millisecond)
	if err != nil {
		return err
	}
	for _, b := range blobs {
		for i := range b.Buffers {
			buf := b.Buffers[i]
			if buf.Drop {
				continue
			}
			for j := range buf.ROIs {
				if buf.ROIs[j].FeatureVector != nil {
					buf.ROIs[j].FeatureVector.Release()
				}
				buf.ROIs[j].FeatureVector = w.extract(buf.ROIs[j])
			}
		}
		if err := w.SendOutput(ctx, b, 0, 0); err != nil {
			b.Release()
		}
	}
	return nil
}

// extract derives a deterministic byte vector from the ROI's geometry
// and confidence, standing in for a real embedding model (out of scope
// per the Non-goals on concrete inference backends).
func (w *featureExtractionWorker) extract(roi blob.ROI) *blob.Blob {
	vec := make([]byte, w.vectorLength)
	binary.LittleEndian.PutUint32(vec[0:], uint32(roi.Rect.X+roi.Rect.Y+roi.Rect.Width+roi.Rect.Height))
	if w.vectorLength >= 8 {
		binary.LittleEndian.PutUint32(vec[4:], uint32(roi.Confidence*1000))
	}
	fvBuf := blob.NewOwnedBuffer(vec, nil)
	return blob.New(0, 0, []*blob.Buffer{fvBuf}, nil)
}
