package nodes

import (
	"context"
	"time"

	"github.com/zhangcong2019/hsf-pipeline/internal/blob"
	"github.com/zhangcong2019/hsf-pipeline/internal/graph"
	"github.com/zhangcong2019/hsf-pipeline/internal/nodes/backend"
)

// RadarClusteringNode groups nearby detections into clusters and
// forwards one centroid per cluster. It collapses each RadarCluster
// down to its
// Centroid before re-storing PointClouds — radar_tracking.go treats the
// member Detections as redundant with the centroid for tracking
// purposes, matching DBSCAN-style centroid-only association used
// upstream of TrackerNode_CPU's radar path. Configure String keys: none.
type RadarClusteringNode struct {
	graph.BaseNode
	dsp backend.RadarDSP
}

func NewRadarClusteringNode(name string, threads int, dsp backend.RadarDSP) *RadarClusteringNode {
	return &RadarClusteringNode{
		BaseNode: graph.BaseNode{NodeName: name, NodeClass: "RadarClustering", Threads: threads, InPorts: 1, OutPorts: 1},
		dsp:      dsp,
	}
}

func (n *RadarClusteringNode) ConfigureByString(s string) error {
	_, err := parseConfigString(s)
	return err
}

func (n *RadarClusteringNode) ValidateConfiguration() error { return nil }

func (n *RadarClusteringNode) CreateNodeWorker(batchIdx int) graph.NodeWorker {
	return &radarClusteringWorker{dsp: n.dsp}
}

func init() {
	graph.Register("RadarClustering", func(name string, threads int) graph.Node {
		return NewRadarClusteringNode(name, threads, backend.NewIdentityRadarDSP())
	})
}

type radarClusteringWorker struct {
	graph.BaseWorker
	dsp backend.RadarDSP
}

func (w *radarClusteringWorker) Process(ctx context.Context) error {
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
			clusters, err := w.dsp.Cluster(ctx, pointsToDetections(pc.Points))
			if err != nil {
				buf.Drop = true
				continue
			}
			buf.SetPointClouds(blob.PointClouds{Points: centroidsToPoints(clusters)})
		}
		if err := w.SendOutput(ctx, b, 0, 0); err != nil {
			b.Release()
		}
	}
	return nil
}

func centroidsToPoints(clusters []backend.RadarCluster) [][3]float32 {
	out := make([][3]float32, len(clusters))
	for i, c := range clusters {
		out[i] = [3]float32{c.Centroid.Range, c.Centroid.Velocity, c.Centroid.Azimuth}
	}
	return out
}
