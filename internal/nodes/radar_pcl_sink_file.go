package nodes

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/zhangcong2019/hsf-pipeline/internal/blob"
	"github.com/zhangcong2019/hsf-pipeline/internal/graph"
	"github.com/zhangcong2019/hsf-pipeline/internal/response"
)

// RadarPCLSinkFileNode persists a radar frame's point cloud to
// OutputDir/pointclouds.csv (one row per point: frameId, pointIdx,
// range, velocity, azimuth) in addition to emitting a Response.
// Configure String key: OutputDir (string, default
// "./output_logs/resultsink").
type RadarPCLSinkFileNode struct {
	*response.Node
	sink *pclSink
}

func NewRadarPCLSinkFileNode(name string, streamNum int) *RadarPCLSinkFileNode {
	sink := newPCLSink("./output_logs/resultsink")
	n := &RadarPCLSinkFileNode{sink: sink}
	n.Node = response.NewNode(name, "RadarPCLSinkFile", streamNum, n.build)
	return n
}

func (n *RadarPCLSinkFileNode) ConfigureByString(s string) error {
	cfg, err := parseConfigString(s)
	if err != nil {
		return err
	}
	n.sink = newPCLSink(cfg.str("OutputDir", "./output_logs/resultsink"))
	return nil
}

func (n *RadarPCLSinkFileNode) build(b *blob.Blob) response.Response {
	resp := buildRadarDetectionResponse(b)
	if len(b.Buffers) > 0 {
		if pc, ok := b.Buffers[0].GetPointClouds(); ok {
			n.sink.save(b.FrameID, pc)
		}
	}
	return resp
}

func init() {
	graph.Register("RadarPCLSinkFile", func(name string, threads int) graph.Node {
		return NewRadarPCLSinkFileNode(name, threads)
	})
}

// pclSink appends one CSV row per point to a single growing file, with
// a header written once on first use.
type pclSink struct {
	mu        sync.Mutex
	path      string
	firstLine bool
}

func newPCLSink(outputDir string) *pclSink {
	return &pclSink{path: filepath.Join(outputDir, "pointclouds.csv"), firstLine: true}
}

func (s *pclSink) save(frameID uint64, pc blob.PointClouds) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return
	}
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()

	if s.firstLine {
		fmt.Fprintln(f, "frameId,pointIdx,range,velocity,azimuth")
		s.firstLine = false
	}
	for i, p := range pc.Points {
		fmt.Fprintln(f, strconv.FormatUint(frameID, 10)+","+strconv.Itoa(i)+","+
			strconv.FormatFloat(float64(p[0]), 'f', 4, 32)+","+
			strconv.FormatFloat(float64(p[1]), 'f', 4, 32)+","+
			strconv.FormatFloat(float64(p[2]), 'f', 4, 32))
	}
}

