package nodes

import (
	"github.com/zhangcong2019/hsf-pipeline/internal/graph"
	"github.com/zhangcong2019/hsf-pipeline/internal/response"
)

// Media4COutputNode is the four-channel-fusion counterpart of
// MediaOutputNode. It uses the same
// JSON builder; the distinct class name exists so a pipeline description
// can wire a different worker count/thread budget to the 4-camera
// fusion stage than to a single-camera one. Configure String key:
// BufferType (string, default "uint8").
type Media4COutputNode struct {
	*response.Node
	bufferType string
}

func NewMedia4COutputNode(name string, streamNum int) *Media4COutputNode {
	return &Media4COutputNode{
		Node:       response.NewNode(name, "Media4COutput", streamNum, response.DefaultBuilder),
		bufferType: "uint8",
	}
}

func (n *Media4COutputNode) ConfigureByString(s string) error {
	cfg, err := parseConfigString(s)
	if err != nil {
		return err
	}
	n.bufferType = cfg.str("BufferType", "uint8")
	return nil
}

func init() {
	graph.Register("Media4COutput", func(name string, threads int) graph.Node {
		return NewMedia4COutputNode(name, threads)
	})
}
