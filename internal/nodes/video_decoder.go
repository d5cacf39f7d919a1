package nodes

import (
	"context"
	"time"

	"github.com/zhangcong2019/hsf-pipeline/internal/blob"
	"github.com/zhangcong2019/hsf-pipeline/internal/graph"
	"github.com/zhangcong2019/hsf-pipeline/internal/nodes/backend"
)

// VideoDecoderNode decodes one buffer's source bytes into a BGR frame.
// Configure String key: WaitTime (float, seconds between decode-loop
// iterations; kept only as a parsed, unused field since this stand-in
// decode is not a tight polling loop).
type VideoDecoderNode struct {
	graph.BaseNode
	waitTime time.Duration
	decoder  backend.Decoder
}

// NewVideoDecoderNode lets callers inject a non-default Decoder (tests,
// or a future real codec backend); production wiring uses
// backend.NewPassthroughDecoder via the registered factory.
func NewVideoDecoderNode(name string, threads int, decoder backend.Decoder) *VideoDecoderNode {
	return &VideoDecoderNode{
		BaseNode: graph.BaseNode{NodeName: name, NodeClass: "VideoDecoder", Threads: threads, InPorts: 1, OutPorts: 1},
		decoder:  decoder,
	}
}

func (n *VideoDecoderNode) ConfigureByString(s string) error {
	cfg, err := parseConfigString(s)
	if err != nil {
		return err
	}
	n.waitTime = time.Duration(cfg.floatVal("WaitTime", 0) * float32(time.Second))
	return nil
}

func (n *VideoDecoderNode) ValidateConfiguration() error { return nil }

func (n *VideoDecoderNode) CreateNodeWorker(batchIdx int) graph.NodeWorker {
	return &videoDecoderWorker{decoder: n.decoder}
}

func init() {
	graph.Register("VideoDecoder", func(name string, threads int) graph.Node {
		return NewVideoDecoderNode(name, threads, backend.NewPassthroughDecoder(1920, 1080))
	})
}

type videoDecoderWorker struct {
	graph.BaseWorker
	decoder backend.Decoder
}

func (w *videoDecoderWorker) Process(ctx context.Context) error {
	blobs, err := w.GetBatchedInput(ctx, []int{0}, 20*time.Millisecond)
	if err != nil {
		return err
	}
	for _, b := range blobs {
		if err := w.decodeOne(ctx, b); err != nil {
			for _, buf := range b.Buffers {
				buf.Drop = true
			}
		}
		if err := w.SendOutput(ctx, b, 0, 0); err != nil {
			b.Release()
		}
	}
	return nil
}

func (w *videoDecoderWorker) decodeOne(ctx context.Context, b *blob.Blob) error {
	for _, buf := range b.Buffers {
		if buf.Drop {
			continue
		}
		raw := buf.Payload.Bytes
		frame, err := w.decoder.Decode(ctx, raw)
		if err != nil {
			return err
		}
		buf.Width, buf.Height = frame.Width, frame.Height
		buf.Color = blob.ColorBGR
	}
	return nil
}
