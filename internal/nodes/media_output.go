package nodes

import (
	"github.com/zhangcong2019/hsf-pipeline/internal/graph"
	"github.com/zhangcong2019/hsf-pipeline/internal/response"
)

// MediaOutputNode is the terminal node of a plain video pipeline: it
// forwards each frame's ROIs as a JSON Response to the run's registered
// listeners. Configure String
// key: BufferType (string, default "uint8" — the source representation
// hint carried for symmetry with the input side; the JSON builder
// itself doesn't depend on it).
type MediaOutputNode struct {
	*response.Node
	bufferType string
}

func NewMediaOutputNode(name string, streamNum int) *MediaOutputNode {
	return &MediaOutputNode{
		Node:       response.NewNode(name, "MediaOutput", streamNum, response.DefaultBuilder),
		bufferType: "uint8",
	}
}

func (n *MediaOutputNode) ConfigureByString(s string) error {
	cfg, err := parseConfigString(s)
	if err != nil {
		return err
	}
	n.bufferType = cfg.str("BufferType", "uint8")
	return nil
}

func init() {
	graph.Register("MediaOutput", func(name string, threads int) graph.Node {
		return NewMediaOutputNode(name, threads)
	})
}
