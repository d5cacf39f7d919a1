package nodes

import (
	"encoding/json"

	"github.com/zhangcong2019/hsf-pipeline/internal/blob"
	"github.com/zhangcong2019/hsf-pipeline/internal/graph"
	"github.com/zhangcong2019/hsf-pipeline/internal/response"
)

// RadarOutputNode is the terminal node of a pure radar pipeline.
// Unlike MediaOutputNode it builds its
// Response from a Buffer's TrackerOutput meta rather than ROIs, since
// radar-chain buffers carry no image ROIs. Configure String key:
// BufferType (string, default "float32").
type RadarOutputNode struct {
	*response.Node
	bufferType string
}

func NewRadarOutputNode(name string, streamNum int) *RadarOutputNode {
	return &RadarOutputNode{
		Node:       response.NewNode(name, "RadarOutput", streamNum, buildRadarResponse),
		bufferType: "float32",
	}
}

func (n *RadarOutputNode) ConfigureByString(s string) error {
	cfg, err := parseConfigString(s)
	if err != nil {
		return err
	}
	n.bufferType = cfg.str("BufferType", "float32")
	return nil
}

func init() {
	graph.Register("RadarOutput", func(name string, threads int) graph.Node {
		return NewRadarOutputNode(name, threads)
	})
}

type radarTargetJSON struct {
	FrameID  uint64  `json:"frameId"`
	StreamID uint32  `json:"streamId"`
	TargetID int64   `json:"targetId"`
	Range    float32 `json:"range"`
	Velocity float32 `json:"velocity"`
	Azimuth  float32 `json:"azimuth"`
}

func buildRadarResponse(b *blob.Blob) response.Response {
	if len(b.Buffers) == 0 {
		return response.Response{Status: 1, Message: `{"status_code":1,"description":"noTargetDetected"}`}
	}
	t, ok := b.Buffers[0].GetTrackerOutput()
	if !ok {
		return response.Response{Status: 1, Message: `{"status_code":1,"description":"noTargetDetected"}`}
	}
	encoded, err := json.Marshal(radarTargetJSON{
		FrameID: b.FrameID, StreamID: b.StreamID,
		TargetID: t.TargetID, Range: t.Range, Velocity: t.Velocity, Azimuth: t.Azimuth,
	})
	if err != nil {
		return response.Response{Status: -1, Message: `{"status_code":-1,"description":"failed to encode response"}`}
	}
	return response.Response{Status: 0, Message: string(encoded)}
}
