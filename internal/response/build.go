package response

import (
	"encoding/json"

	"github.com/zhangcong2019/hsf-pipeline/internal/blob"
)

// roiJSON is the per-ROI shape assembled into the JSON message.
type roiJSON struct {
	Rect struct {
		X, Y, Width, Height int
	} `json:"rect"`
	Label        string  `json:"label,omitempty"`
	Confidence   float32 `json:"confidence,omitempty"`
	TrackID      int64   `json:"trackId,omitempty"`
	TrackStatus  string  `json:"trackStatus,omitempty"`
	Class        string  `json:"classification,omitempty"`
	Quality      float32 `json:"quality,omitempty"`
	HasQuality   bool    `json:"-"`
	Attribute    string  `json:"attribute,omitempty"`
	LicensePlate string  `json:"licensePlate,omitempty"`
	Ignore       bool    `json:"ignore,omitempty"`
}

type frameJSON struct {
	FrameID  uint64    `json:"frameId"`
	StreamID uint32    `json:"streamId"`
	MediaURI string    `json:"mediaUri,omitempty"`
	Rois     []roiJSON `json:"rois"`
}

// DefaultBuilder assembles a success Response from a Blob's ROIs and
// HceDatabaseMeta, used by output node classes that don't need a
// bespoke shape.
func DefaultBuilder(b *blob.Blob) Response {
	if len(b.Buffers) == 0 {
		return Response{Status: 0, Message: `{"status_code":0}`}
	}
	buf := b.Buffers[0]

	if buf.Drop {
		return Response{
			Status:  -2,
			Message: `{"status_code":-2,"description":"Read or decode input media failed"}`,
		}
	}

	frame := frameJSON{FrameID: b.FrameID, StreamID: b.StreamID}
	if meta, ok := buf.GetHceDatabaseMeta(); ok {
		frame.MediaURI = meta.MediaURI
	}

	for i, roi := range buf.ROIs {
		rj := roiJSON{
			Label:       roi.DetectionLabel,
			Confidence:  roi.Confidence,
			TrackID:     roi.TrackID,
			TrackStatus: roi.TrackStatus.String(),
			Class:       roi.ClassificationLabel,
			HasQuality:  roi.HasQuality,
			Quality:     roi.QualityScore,
		}
		rj.Rect.X, rj.Rect.Y, rj.Rect.Width, rj.Rect.Height = roi.Rect.X, roi.Rect.Y, roi.Rect.Width, roi.Rect.Height

		if meta, ok := buf.GetHceDatabaseMeta(); ok {
			if meta.AttributeResult != nil {
				rj.Attribute = meta.AttributeResult[i]
			}
			if meta.LPRResult != nil {
				rj.LicensePlate = meta.LPRResult[i]
			}
			if meta.IgnoreFlags != nil {
				rj.Ignore = meta.IgnoreFlags[i]
			}
		}
		frame.Rois = append(frame.Rois, rj)
	}

	status := int32(0)
	msg := ""
	if len(frame.Rois) == 0 {
		status = 1
		msg = `{"status_code":1,"description":"noRoiDetected"}`
	} else {
		encoded, err := json.Marshal(frame)
		if err != nil {
			status, msg = -1, `{"status_code":-1,"description":"failed to encode response"}`
		} else {
			msg = string(encoded)
		}
	}

	return Response{Status: status, Message: msg}
}

// TimeoutResponse is the well-known message surfaced to any remaining
// connection when a pipeline is reclaimed by the idle watchdog.
func TimeoutResponse() Response {
	return Response{Status: -5, Message: `{"status_code":-5,"description":"Pipeline timeout"}`}
}
