package nodes

import (
	"context"
	"strings"
	"time"

	"github.com/zhangcong2019/hsf-pipeline/internal/blob"
	"github.com/zhangcong2019/hsf-pipeline/internal/graph"
	"github.com/zhangcong2019/hsf-pipeline/internal/nodes/backend"
)

// JpegDecoderNode decodes one still-image buffer. Configure String
// key: EncodeType ("BGR"|"YUV", default "BGR").
type JpegDecoderNode struct {
	graph.BaseNode
	color   blob.ColorFormat
	decoder backend.Decoder
}

func NewJpegDecoderNode(name string, threads int, decoder backend.Decoder) *JpegDecoderNode {
	return &JpegDecoderNode{
		BaseNode: graph.BaseNode{NodeName: name, NodeClass: "JpegDecoder", Threads: threads, InPorts: 1, OutPorts: 1},
		decoder:  decoder,
		color:    blob.ColorBGR,
	}
}

func (n *JpegDecoderNode) ConfigureByString(s string) error {
	cfg, err := parseConfigString(s)
	if err != nil {
		return err
	}
	switch strings.ToUpper(cfg.str("EncodeType", "BGR")) {
	case "YUV":
		n.color = blob.ColorI420
	default:
		n.color = blob.ColorBGR
	}
	return nil
}

func (n *JpegDecoderNode) ValidateConfiguration() error { return nil }

func (n *JpegDecoderNode) CreateNodeWorker(batchIdx int) graph.NodeWorker {
	return &jpegDecoderWorker{decoder: n.decoder, color: n.color}
}

func init() {
	graph.Register("JpegDecoder", func(name string, threads int) graph.Node {
		return NewJpegDecoderNode(name, threads, backend.NewPassthroughDecoder(1, 1))
	})
}

type jpegDecoderWorker struct {
	graph.BaseWorker
	decoder backend.Decoder
	color   blob.ColorFormat
}

func (w *jpegDecoderWorker) Process(ctx context.Context) error {
	blobs, err := w.GetBatchedInput(ctx, []int{0}, 20*time.Millisecond)
	if err != nil {
		return err
	}
	for _, b := range blobs {
		for _, buf := range b.Buffers {
			if buf.Drop {
				continue
			}
			frame, err := w.decoder.Decode(ctx, buf.Payload.Bytes)
			if err != nil {
				buf.Drop = true
				continue
			}
			buf.Width, buf.Height = frame.Width, frame.Height
			buf.Color = w.color
		}
		if err := w.SendOutput(ctx, b, 0, 0); err != nil {
			b.Release()
		}
	}
	return nil
}
