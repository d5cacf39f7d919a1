package parser

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhangcong2019/hsf-pipeline/internal/blob"
	"github.com/zhangcong2019/hsf-pipeline/internal/graph"
)

type stubNode struct {
	graph.BaseNode
	configured string
	worker     func() graph.NodeWorker
}

func (n *stubNode) ConfigureByString(s string) error {
	n.configured = s
	return nil
}
func (n *stubNode) ValidateConfiguration() error { return nil }
func (n *stubNode) CreateNodeWorker(batchIdx int) graph.NodeWorker {
	return n.worker()
}

// forwardWorker passes every input blob straight to output port 0,
// matching internal/pipeline's passThroughWorker helper.
type forwardWorker struct {
	graph.BaseWorker
}

func (w *forwardWorker) Process(ctx context.Context) error {
	blobs, err := w.GetBatchedInput(ctx, []int{0}, 20*time.Millisecond)
	if err != nil {
		return err
	}
	for _, b := range blobs {
		if err := w.SendOutput(ctx, b, 0, time.Second); err != nil {
			return err
		}
	}
	return nil
}

type sinkWorker struct {
	graph.BaseWorker
}

func (w *sinkWorker) Process(ctx context.Context) error {
	blobs, err := w.GetBatchedInput(ctx, []int{0}, 20*time.Millisecond)
	if err != nil {
		return err
	}
	for _, b := range blobs {
		b.Release()
	}
	return nil
}

func init() {
	graph.Register("ParserTestSource", func(name string, threads int) graph.Node {
		return &stubNode{
			BaseNode: graph.BaseNode{NodeName: name, NodeClass: "ParserTestSource", Threads: threads, InPorts: 1, OutPorts: 1, SourceNode: true},
			worker:   func() graph.NodeWorker { return &forwardWorker{} },
		}
	})
	graph.Register("ParserTestSink", func(name string, threads int) graph.Node {
		return &stubNode{
			BaseNode: graph.BaseNode{NodeName: name, NodeClass: "ParserTestSink", Threads: threads, InPorts: 1, OutPorts: 0},
			worker:   func() graph.NodeWorker { return &sinkWorker{} },
		}
	})
}

const sampleDoc = `{
  "Nodes": [
    {"Node Class Name": "ParserTestSource", "Node Name": "src", "Thread Number": 1, "Is Source Node": true, "Configure String": "rate=30"},
    {"Node Class Name": "ParserTestSink", "Node Name": "sink", "Thread Number": 1, "Configure String": ""}
  ],
  "Links": [
    {"Src Node": "src", "Src Port": 0, "Dst Node": "sink", "Dst Port": 0}
  ]
}`

func TestParseFromStringBuildsRunnablePipeline(t *testing.T) {
	p, err := ParseFromString("test-pipeline", sampleDoc)
	require.NoError(t, err)
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	assert.ElementsMatch(t, []string{"src", "sink"}, p.NodeNames())

	b := blob.New(1, 0, nil, nil)
	require.NoError(t, p.SendToPort(context.Background(), "src", 0, b, time.Second))
}

func TestParseFromStringRejectsUnknownClass(t *testing.T) {
	_, err := ParseFromString("bad", `{"Nodes":[{"Node Class Name":"DoesNotExist","Node Name":"x"}],"Links":[]}`)
	assert.ErrorIs(t, err, graph.ErrClassNotFound)
}

func TestParseFromStringRejectsInvalidLink(t *testing.T) {
	doc := `{
  "Nodes": [{"Node Class Name": "ParserTestSource", "Node Name": "src", "Thread Number": 1}],
  "Links": [{"Src Node": "src", "Src Port": 0, "Dst Node": "missing", "Dst Port": 0}]
}`
	_, err := ParseFromString("bad-link", doc)
	assert.Error(t, err)
}

func TestParseFromStringRejectsMalformedJSON(t *testing.T) {
	_, err := ParseFromString("bad-json", `{not valid json`)
	assert.Error(t, err)
}
