package nodes

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/zhangcong2019/hsf-pipeline/internal/blob"
	"github.com/zhangcong2019/hsf-pipeline/internal/graph"
)

// LocalMultiSensorInputNode is the entry point every pipeline's source
// node feeds: the PipelineManager's RUN/AUTO_RUN split already injects
// one request Blob per stream segment whose sole Buffer carries the
// semicolon-joined media URIs in HceDatabaseMeta.MediaURI. This node
// splits that string back into individual source
// URIs, stamps each with a monotonic frameId, and sends them all to the
// video port (0), or to the radar port (1) when DataSource is "radar".
// Configure String keys read: DataSource ("video"|"radar"),
// InputCapacity, Stride, ControlType. MediaIndex, RadarIndex and
// FrameRate are not read.
type LocalMultiSensorInputNode struct {
	graph.BaseNode

	dataSource string
	capacity   int
	stride     int
	control    string

	ctr uint64 // atomic frameId counter
}

func NewLocalMultiSensorInputNode(name string, threads int) *LocalMultiSensorInputNode {
	return &LocalMultiSensorInputNode{
		BaseNode: graph.BaseNode{
			NodeName: name, NodeClass: "LocalMultiSensorInput", Threads: threads,
			InPorts: 1, OutPorts: 2, SourceNode: true,
		},
		dataSource: "video",
		capacity:   1,
		stride:     1,
		control:    "Video",
	}
}

func (n *LocalMultiSensorInputNode) ConfigureByString(s string) error {
	cfg, err := parseConfigString(s)
	if err != nil {
		return err
	}
	n.dataSource = strings.ToLower(cfg.str("DataSource", "video"))
	n.capacity = cfg.intVal("InputCapacity", 1)
	n.stride = cfg.intVal("Stride", 1)
	n.control = cfg.str("ControlType", "Video")
	return nil
}

func (n *LocalMultiSensorInputNode) ValidateConfiguration() error { return nil }

func (n *LocalMultiSensorInputNode) CreateNodeWorker(batchIdx int) graph.NodeWorker {
	port := 0
	if n.dataSource == "radar" {
		port = 1
	}
	return &localMultiSensorInputWorker{node: n, outPort: port}
}

func init() {
	graph.Register("LocalMultiSensorInput", func(name string, threads int) graph.Node {
		return NewLocalMultiSensorInputNode(name, threads)
	})
}

type localMultiSensorInputWorker struct {
	graph.BaseWorker
	node    *LocalMultiSensorInputNode
	outPort int
}

func (w *localMultiSensorInputWorker) Process(ctx context.Context) error {
	blobs, err := w.GetBatchedInput(ctx, []int{0}, 20*time.Millisecond)
	if err != nil {
		return err
	}
	for _, in := range blobs {
		w.split(ctx, in)
		in.Release()
	}
	return nil
}

// split breaks the joined MediaURI string of the request blob's sole
// buffer into individual URIs and emits one frame per non-empty URI,
// tagging the last as EndOfRequest. A segment can be entirely empty (the
// stream placeholder lets streamNum exceed mediaUri.size()), in which
// case a single empty terminal frame is emitted instead — the terminal
// tag must reach the output node regardless of how many real URIs a
// segment carried, or the ResponseNode never completes that stream.
func (w *localMultiSensorInputWorker) split(ctx context.Context, in *blob.Blob) {
	if len(in.Buffers) == 0 {
		return
	}
	meta, _ := in.Buffers[0].GetHceDatabaseMeta()

	var uris []string
	for _, uri := range strings.Split(meta.MediaURI, ";") {
		if uri != "" {
			uris = append(uris, uri)
		}
	}
	sc := blob.NewSendController(w.node.capacity, w.node.stride, w.node.control)

	if len(uris) == 0 {
		w.emitFrame(ctx, in, sc, "", true)
		return
	}
	for i, uri := range uris {
		w.emitFrame(ctx, in, sc, uri, i == len(uris)-1)
	}
}

func (w *localMultiSensorInputWorker) emitFrame(ctx context.Context, in *blob.Blob, sc *blob.SendController, uri string, last bool) {
	sc.Acquire()

	buf := blob.NewOwnedBuffer([]byte(uri), nil)
	buf.SetHceDatabaseMeta(blob.HceDatabaseMeta{MediaURI: uri, BufferType: blob.BufferTypeString})
	buf.SetSendController(sc)

	frameID := atomic.AddUint64(&w.node.ctr, 1)
	out := blob.New(frameID, in.StreamID, []*blob.Buffer{buf}, nil)
	out.RunID = in.RunID
	if last {
		out.Tag = blob.EndOfRequest
	}
	if err := w.SendOutput(ctx, out, w.outPort, 0); err != nil {
		out.Release()
	}
}
