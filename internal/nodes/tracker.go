package nodes

import (
	"context"
	"time"

	"github.com/zhangcong2019/hsf-pipeline/internal/blob"
	"github.com/zhangcong2019/hsf-pipeline/internal/graph"
	"github.com/zhangcong2019/hsf-pipeline/internal/nodes/backend"
)

// TrackerNode assigns stable TrackIDs to ROIs across frames of the
// same stream. Its state is
// stream-scoped, so it always runs under BatchingWithStream (every
// frame of a given streamId must land on the same worker, in order).
// Configure String key: TrackerType (string, default "sequential"),
// parsed and stored on the node; the Tracker does not receive it.
type TrackerNode struct {
	graph.BaseNode
	trackerType string
	tracker     backend.Tracker
}

func NewTrackerNode(name string, threads int, tracker backend.Tracker) *TrackerNode {
	return &TrackerNode{
		BaseNode: graph.BaseNode{
			NodeName: name, NodeClass: "Tracker", Threads: threads, InPorts: 1, OutPorts: 1,
			Batch: graph.BatchConfig{Policy: graph.BatchingWithStream, StreamNum: threads, ThreadNumPerBatch: 1},
		},
		trackerType: "sequential",
		tracker:     tracker,
	}
}

func (n *TrackerNode) ConfigureByString(s string) error {
	cfg, err := parseConfigString(s)
	if err != nil {
		return err
	}
	n.trackerType = cfg.str("TrackerType", "sequential")
	return nil
}

func (n *TrackerNode) ValidateConfiguration() error { return nil }

func (n *TrackerNode) CreateNodeWorker(batchIdx int) graph.NodeWorker {
	return &trackerWorker{tracker: n.tracker}
}

func init() {
	graph.Register("Tracker", func(name string, threads int) graph.Node {
		return NewTrackerNode(name, threads, backend.NewSequentialTracker())
	})
}

type trackerWorker struct {
	graph.BaseWorker
	tracker backend.Tracker
}

func (w *trackerWorker) Process(ctx context.Context) error {
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
			if buf.Drop {
				continue
			}
			dets := make([]backend.Detection, 0, len(buf.ROIs))
			for _, roi := range buf.ROIs {
				dets = append(dets, backend.Detection{X: roi.Rect.X, Y: roi.Rect.Y, Width: roi.Rect.Width, Height: roi.Rect.Height, Label: roi.DetectionLabel, Confidence: roi.Confidence})
			}
			tracks, err := w.tracker.Update(ctx, b.StreamID, dets)
			if err != nil || len(tracks) != len(buf.ROIs) {
				continue
			}
			for i := range buf.ROIs {
				roi := &buf.ROIs[i]
				roi.TrackID = tracks[i].TrackID
				switch {
				case tracks[i].IsLost:
					roi.TrackStatus = blob.TrackLost
				case tracks[i].IsNew:
					roi.TrackStatus = blob.TrackNew
				default:
					roi.TrackStatus = blob.TrackTracked
				}
			}
		}
		if err := w.SendOutput(ctx, b, 0, 0); err != nil {
			b.Release()
		}
	}
	return nil
}
