package nodes

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/zhangcong2019/hsf-pipeline/internal/blob"
	"github.com/zhangcong2019/hsf-pipeline/internal/graph"
	"github.com/zhangcong2019/hsf-pipeline/internal/nodes/backend"
)

// RadarTrackingNode assigns TargetIDs to the incoming cluster centroids
// and fans out one output Blob per confirmed track, each carrying a
// TrackerOutput meta entry MediaRadarOutputNode fuses against video
// ROIs downstream. Stateful per stream, so it runs under
// BatchingWithStream. Configure
// String key: TrackerType (string, default "sequential").
type RadarTrackingNode struct {
	graph.BaseNode
	trackerType string
	dsp         backend.RadarDSP
	ctr         uint64
}

func NewRadarTrackingNode(name string, threads int, dsp backend.RadarDSP) *RadarTrackingNode {
	return &RadarTrackingNode{
		BaseNode: graph.BaseNode{
			NodeName: name, NodeClass: "RadarTracking", Threads: threads, InPorts: 1, OutPorts: 1,
			Batch: graph.BatchConfig{Policy: graph.BatchingWithStream, StreamNum: threads, ThreadNumPerBatch: 1},
		},
		trackerType: "sequential",
		dsp:         dsp,
	}
}

func (n *RadarTrackingNode) ConfigureByString(s string) error {
	cfg, err := parseConfigString(s)
	if err != nil {
		return err
	}
	n.trackerType = cfg.str("TrackerType", "sequential")
	return nil
}

func (n *RadarTrackingNode) ValidateConfiguration() error { return nil }

func (n *RadarTrackingNode) CreateNodeWorker(batchIdx int) graph.NodeWorker {
	return &radarTrackingWorker{node: n}
}

func init() {
	graph.Register("RadarTracking", func(name string, threads int) graph.Node {
		return NewRadarTrackingNode(name, threads, backend.NewIdentityRadarDSP())
	})
}

type radarTrackingWorker struct {
	graph.BaseWorker
	node *RadarTrackingNode
}

// Process collects every confirmed track across all of a Blob's buffers
// before emitting, so the EndOfRequest tag (and RunID) can be carried by
// the last emitted track rather than decided per-buffer; when the input
// was tagged EndOfRequest but produced zero tracks, an empty terminal
// Blob is synthesized so a pure-radar pipeline's output node still sees
// its terminal marker and can fire emitFinish.
func (w *radarTrackingWorker) Process(ctx context.Context) error {
	blobs, err := w.GetBatchedInput(ctx, []int{0}, 20*time.Millisecond)
	if err != nil {
		return err
	}
	for _, b := range blobs {
		var tracks []backend.RadarTrack
		for _, buf := range b.Buffers {
			if buf.Drop {
				continue
			}
			pc, ok := buf.GetPointClouds()
			if !ok {
				continue
			}
			clusters := make([]backend.RadarCluster, len(pc.Points))
			for i, p := range pc.Points {
				clusters[i] = backend.RadarCluster{Centroid: backend.RadarDetection{Range: p[0], Velocity: p[1], Azimuth: p[2]}}
			}
			bufTracks, err := w.node.dsp.Track(ctx, b.StreamID, clusters)
			if err != nil {
				continue
			}
			tracks = append(tracks, bufTracks...)
		}

		isEnd := b.Tag == blob.EndOfRequest
		if len(tracks) == 0 && isEnd {
			w.emitTrack(ctx, b, nil, true)
		}
		for i, t := range tracks {
			w.emitTrack(ctx, b, &t, isEnd && i == len(tracks)-1)
		}
		b.Release()
	}
	return nil
}

func (w *radarTrackingWorker) emitTrack(ctx context.Context, b *blob.Blob, t *backend.RadarTrack, last bool) {
	frameID := atomic.AddUint64(&w.node.ctr, 1)
	tbuf := blob.NewOwnedBuffer(nil, nil)
	if t != nil {
		tbuf.SetTrackerOutput(blob.TrackerOutput{
			TargetID: t.TargetID,
			Range:    t.Centroid.Range,
			Velocity: t.Centroid.Velocity,
			Azimuth:  t.Centroid.Azimuth,
		})
	}
	out := blob.New(frameID, b.StreamID, []*blob.Buffer{tbuf}, nil)
	out.RunID = b.RunID
	if last {
		out.Tag = blob.EndOfRequest
	}
	if err := w.SendOutput(ctx, out, 0, 0); err != nil {
		out.Release()
	}
}
