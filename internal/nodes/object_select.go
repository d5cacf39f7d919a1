package nodes

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/zhangcong2019/hsf-pipeline/internal/blob"
	"github.com/zhangcong2019/hsf-pipeline/internal/graph"
)

// ObjectSelectNode trims each buffer's ROI list down to the top-K most
// confident detections and optionally throttles how often it forwards a
// frame at all. Stateful
// (FrameInterval counts frames per stream), so it runs under
// BatchingWithStream. Configure String keys: FrameInterval (int,
// default 1 — forward every Nth frame), TopK (int, default 0 meaning
// unlimited), TrackletAware (bool, default false — when set, ROIs with
// a live TrackID are ranked ahead of untracked ones before the TopK
// cut, so a tracked ROI is dropped only when more than TopK are
// tracked), Strategy
// ("confidence"|"quality", default "confidence").
type ObjectSelectNode struct {
	graph.BaseNode
	frameInterval int
	topK          int
	trackletAware bool
	strategy      string
}

func NewObjectSelectNode(name string, threads int) *ObjectSelectNode {
	return &ObjectSelectNode{
		BaseNode: graph.BaseNode{
			NodeName: name, NodeClass: "ObjectSelect", Threads: threads, InPorts: 1, OutPorts: 1,
			Batch: graph.BatchConfig{Policy: graph.BatchingWithStream, StreamNum: threads, ThreadNumPerBatch: 1},
		},
		frameInterval: 1,
		strategy:      "confidence",
	}
}

func (n *ObjectSelectNode) ConfigureByString(s string) error {
	cfg, err := parseConfigString(s)
	if err != nil {
		return err
	}
	n.frameInterval = cfg.intVal("FrameInterval", 1)
	if n.frameInterval <= 0 {
		n.frameInterval = 1
	}
	n.topK = cfg.intVal("TopK", 0)
	n.trackletAware = cfg.boolVal("TrackletAware", false)
	n.strategy = strings.ToLower(cfg.str("Strategy", "confidence"))
	return nil
}

func (n *ObjectSelectNode) ValidateConfiguration() error { return nil }

func (n *ObjectSelectNode) CreateNodeWorker(batchIdx int) graph.NodeWorker {
	return &objectSelectWorker{node: n}
}

func init() {
	graph.Register("ObjectSelect", func(name string, threads int) graph.Node {
		return NewObjectSelectNode(name, threads)
	})
}

type objectSelectWorker struct {
	graph.BaseWorker
	node     *ObjectSelectNode
	frameIdx int64
}

func (w *objectSelectWorker) Process(ctx context.Context) error {
	blobs, err := w.GetBatchedInput(ctx, []int{0}, 20*time.Millisecond)
	if err != nil {
		return err
	}
	for _, b := range blobs {
		w.frameIdx++
		skipped := w.frameIdx%int64(w.node.frameInterval) != 0
		if skipped && b.Tag != blob.EndOfRequest {
			b.Release()
			continue
		}
		for _, buf := range b.Buffers {
			if buf.Drop {
				continue
			}
			if skipped {
				// A terminal blob landing on a throttled frame index is
				// still forwarded, ROIs cleared: exactly one EndOfRequest
				// per stream must reach the output node.
				for i := range buf.ROIs {
					buf.ROIs[i].Clear()
				}
				buf.ROIs = nil
				continue
			}
			buf.ROIs = w.selectTopK(buf.ROIs)
		}
		if err := w.SendOutput(ctx, b, 0, 0); err != nil {
			b.Release()
		}
	}
	return nil
}

func (w *objectSelectWorker) selectTopK(rois []blob.ROI) []blob.ROI {
	if w.node.topK <= 0 || len(rois) <= w.node.topK {
		return rois
	}
	rank := func(r blob.ROI) float32 {
		if w.node.strategy == "quality" && r.HasQuality {
			return r.QualityScore
		}
		return r.Confidence
	}
	sorted := make([]blob.ROI, len(rois))
	copy(sorted, rois)
	sort.SliceStable(sorted, func(i, j int) bool {
		if w.node.trackletAware && (sorted[i].TrackID != 0) != (sorted[j].TrackID != 0) {
			return sorted[i].TrackID != 0
		}
		return rank(sorted[i]) > rank(sorted[j])
	})
	return sorted[:w.node.topK]
}
