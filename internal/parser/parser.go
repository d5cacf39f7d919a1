// Package parser decodes the wire JSON document "{Nodes, Links}" into a
// *pipeline.Pipeline by looking up each node's class in the graph
// registry. Nodes and links are built into a scratch pipeline that is
// returned only once every step has succeeded, so a failed parse leaves
// nothing half-built.
package parser

import (
	"encoding/json"
	"fmt"

	"github.com/zhangcong2019/hsf-pipeline/internal/graph"
	"github.com/zhangcong2019/hsf-pipeline/internal/pipeline"
)

// NodeDoc is the wire shape of one entry in "Nodes", field names
// included.
type NodeDoc struct {
	ClassName      string `json:"Node Class Name"`
	Name           string `json:"Node Name"`
	ThreadNumber   int    `json:"Thread Number"`
	IsSourceNode   bool   `json:"Is Source Node"`
	ConfigureString string `json:"Configure String"`
}

// LinkDoc is the wire shape of one entry in "Links".
type LinkDoc struct {
	SrcNode string `json:"Src Node"`
	SrcPort int    `json:"Src Port"`
	DstNode string `json:"Dst Node"`
	DstPort int    `json:"Dst Port"`
}

// Document is the top-level "{Nodes, Links}" wire document.
type Document struct {
	Nodes []NodeDoc `json:"Nodes"`
	Links []LinkDoc `json:"Links"`
}

// ParseFromString decodes a pipelineConfig JSON document and assembles a
// *pipeline.Pipeline from it. Parsing is atomic: a registry miss,
// configure failure, or invalid link leaves no partially-built pipeline
// behind — the Document is fully validated/constructed in a scratch
// *pipeline.Pipeline which is only returned once every node and link has
// succeeded.
func ParseFromString(pipelineName, config string) (*pipeline.Pipeline, error) {
	var doc Document
	if err := json.Unmarshal([]byte(config), &doc); err != nil {
		return nil, fmt.Errorf("parser: invalid pipeline config json: %w", err)
	}
	return build(pipelineName, doc)
}

func build(pipelineName string, doc Document) (*pipeline.Pipeline, error) {
	if len(doc.Nodes) == 0 {
		return nil, fmt.Errorf("parser: pipeline config has no nodes")
	}

	p := pipeline.New(pipelineName)
	configs := make(map[string]string, len(doc.Nodes))

	for _, nd := range doc.Nodes {
		if nd.Name == "" {
			return nil, fmt.Errorf("parser: node of class %q has no Node Name", nd.ClassName)
		}
		factory, err := graph.Get(nd.ClassName)
		if err != nil {
			return nil, fmt.Errorf("parser: node %q: %w", nd.Name, err)
		}
		threads := nd.ThreadNumber
		if threads <= 0 {
			threads = 1
		}
		node := factory(nd.Name, threads)
		if err := p.AddNode(node); err != nil {
			return nil, fmt.Errorf("parser: node %q: %w", nd.Name, err)
		}
		configs[nd.Name] = nd.ConfigureString
	}

	for _, ld := range doc.Links {
		link := pipeline.Link{
			SrcNode: ld.SrcNode, SrcPort: ld.SrcPort,
			DstNode: ld.DstNode, DstPort: ld.DstPort,
		}
		if err := p.AddLink(link); err != nil {
			return nil, fmt.Errorf("parser: link %s:%d -> %s:%d: %w",
				ld.SrcNode, ld.SrcPort, ld.DstNode, ld.DstPort, err)
		}
	}

	if err := p.Configure(configs); err != nil {
		return nil, fmt.Errorf("parser: configure: %w", err)
	}
	if err := p.Prepare(); err != nil {
		return nil, fmt.Errorf("parser: prepare: %w", err)
	}
	return p, nil
}
