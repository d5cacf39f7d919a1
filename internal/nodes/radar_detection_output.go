package nodes

import (
	"encoding/json"

	"github.com/zhangcong2019/hsf-pipeline/internal/blob"
	"github.com/zhangcong2019/hsf-pipeline/internal/graph"
	"github.com/zhangcong2019/hsf-pipeline/internal/response"
)

// RadarDetectionOutputNode reports raw range/velocity/azimuth
// detections ahead of tracking, useful for diagnostics or clients
// that don't need persistent target IDs. Configure String key:
// BufferType (string, default "float32").
type RadarDetectionOutputNode struct {
	*response.Node
	bufferType string
}

func NewRadarDetectionOutputNode(name string, streamNum int) *RadarDetectionOutputNode {
	return &RadarDetectionOutputNode{
		Node:       response.NewNode(name, "RadarDetectionOutput", streamNum, buildRadarDetectionResponse),
		bufferType: "float32",
	}
}

func (n *RadarDetectionOutputNode) ConfigureByString(s string) error {
	cfg, err := parseConfigString(s)
	if err != nil {
		return err
	}
	n.bufferType = cfg.str("BufferType", "float32")
	return nil
}

func init() {
	graph.Register("RadarDetectionOutput", func(name string, threads int) graph.Node {
		return NewRadarDetectionOutputNode(name, threads)
	})
}

type radarDetectionsJSON struct {
	FrameID  uint64           `json:"frameId"`
	StreamID uint32           `json:"streamId"`
	Points   []radarPointJSON `json:"points"`
}

type radarPointJSON struct {
	Range    float32 `json:"range"`
	Velocity float32 `json:"velocity"`
	Azimuth  float32 `json:"azimuth"`
}

func buildRadarDetectionResponse(b *blob.Blob) response.Response {
	if len(b.Buffers) == 0 {
		return response.Response{Status: 1, Message: `{"status_code":1,"description":"noTargetDetected"}`}
	}
	pc, ok := b.Buffers[0].GetPointClouds()
	if !ok || len(pc.Points) == 0 {
		return response.Response{Status: 1, Message: `{"status_code":1,"description":"noTargetDetected"}`}
	}
	out := radarDetectionsJSON{FrameID: b.FrameID, StreamID: b.StreamID}
	for _, p := range pc.Points {
		out.Points = append(out.Points, radarPointJSON{Range: p[0], Velocity: p[1], Azimuth: p[2]})
	}
	encoded, err := json.Marshal(out)
	if err != nil {
		return response.Response{Status: -1, Message: `{"status_code":-1,"description":"failed to encode response"}`}
	}
	return response.Response{Status: 0, Message: string(encoded)}
}
