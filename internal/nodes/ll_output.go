package nodes

import (
	"encoding/json"
	"time"

	"github.com/zhangcong2019/hsf-pipeline/internal/blob"
	"github.com/zhangcong2019/hsf-pipeline/internal/graph"
	"github.com/zhangcong2019/hsf-pipeline/internal/response"
)

// LLOutputNode is the low-latency output variant: it reports each ROI's
// rect, detection label, score and classification label plus a
// measured end-to-end latency in milliseconds, and runs one worker per
// stream, taking the stream count from the node's configured thread
// count. No Configure String keys are read.
type LLOutputNode struct {
	*response.Node
}

func NewLLOutputNode(name string, streamNum int) *LLOutputNode {
	return &LLOutputNode{Node: response.NewNode(name, "LLOutput", streamNum, buildLLResponse)}
}

func init() {
	graph.Register("LLOutput", func(name string, threads int) graph.Node {
		return NewLLOutputNode(name, threads)
	})
}

type llRoiJSON struct {
	Rect struct {
		X, Y, Width, Height int
	} `json:"roi"`
	FeatureVector string  `json:"feature_vector,omitempty"`
	RoiClass      string  `json:"roi_class,omitempty"`
	RoiScore      float32 `json:"roi_score"`
}

type llResponseJSON struct {
	StatusCode  int32       `json:"status_code"`
	Description string      `json:"description"`
	Latency     float64     `json:"latency"`
	RoiInfo     []llRoiJSON `json:"roi_info,omitempty"`
}

func buildLLResponse(b *blob.Blob) response.Response {
	if len(b.Buffers) == 0 {
		return response.Response{Status: 0, Message: `{"status_code":0}`}
	}
	buf := b.Buffers[0]
	latencyMs := 0.0
	if ts, ok := buf.GetInferenceTimeStamp(); ok && ts.StartNanoS > 0 {
		latencyMs = float64(time.Now().UnixNano()-ts.StartNanoS) / 1e6
	}

	out := llResponseJSON{Latency: latencyMs}
	if buf.Drop {
		out.StatusCode, out.Description = -2, "Read or decode input media failed"
	} else if len(buf.ROIs) == 0 {
		out.StatusCode, out.Description = 1, "noRoiDetected"
	} else {
		out.StatusCode, out.Description = 0, "succeeded"
		for _, roi := range buf.ROIs {
			rj := llRoiJSON{FeatureVector: roi.ClassificationLabel, RoiClass: roi.DetectionLabel, RoiScore: roi.Confidence}
			rj.Rect.X, rj.Rect.Y, rj.Rect.Width, rj.Rect.Height = roi.Rect.X, roi.Rect.Y, roi.Rect.Width, roi.Rect.Height
			out.RoiInfo = append(out.RoiInfo, rj)
		}
	}

	encoded, err := json.Marshal(out)
	if err != nil {
		return response.Response{Status: -1, Message: `{"status_code":-1,"description":"failed to encode response"}`}
	}
	return response.Response{Status: 0, Message: string(encoded)}
}
