package nodes

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/zhangcong2019/hsf-pipeline/internal/blob"
	"github.com/zhangcong2019/hsf-pipeline/internal/graph"
	"github.com/zhangcong2019/hsf-pipeline/internal/nodes/backend"
	"github.com/zhangcong2019/hsf-pipeline/internal/response"
)

// LLResultSinkFileNode persists every ROI as one CSV row under
// OutputDir/results.csv, and — when MediaType is "video"
// — a snapshot of the frame under OutputDir/snapshot/,
// in addition to emitting the usual Response. Configure String
// keys: MediaType ("video"|"radar", default "video"), OutputDir
// (string, default "./output_logs/resultsink").
type LLResultSinkFileNode struct {
	*response.Node
	sink *csvSink
}

func NewLLResultSinkFileNode(name string, streamNum int) *LLResultSinkFileNode {
	sink := newCSVSink("./output_logs/resultsink", "video")
	n := &LLResultSinkFileNode{sink: sink}
	n.Node = response.NewNode(name, "LLResultSinkFile", streamNum, n.build)
	return n
}

func (n *LLResultSinkFileNode) ConfigureByString(s string) error {
	cfg, err := parseConfigString(s)
	if err != nil {
		return err
	}
	mediaType := strings.ToLower(cfg.str("MediaType", "video"))
	outputDir := cfg.str("OutputDir", "./output_logs/resultsink")
	n.sink = newCSVSink(outputDir, mediaType)
	return nil
}

func (n *LLResultSinkFileNode) build(b *blob.Blob) response.Response {
	resp := response.DefaultBuilder(b)
	if len(b.Buffers) > 0 {
		n.sink.save(b, resp)
	}
	return resp
}

func init() {
	graph.Register("LLResultSinkFile", func(name string, threads int) graph.Node {
		return NewLLResultSinkFileNode(name, threads)
	})
}

// csvSink appends one row per ROI to a growing-schema CSV file and,
// for mediaType=="video", dumps a snapshot sidecar per frame via
// backend.Dumper. New columns are appended to the header in discovery
// order and the header line alone is rewritten in place; existing data
// rows are left with fewer trailing fields.
type csvSink struct {
	mu        sync.Mutex
	dir       string
	mediaType string
	csvPath   string
	dumper    *backend.Dumper
	headers   []string
	index     map[string]int
	firstLine bool
}

func newCSVSink(outputDir, mediaType string) *csvSink {
	return &csvSink{
		dir:       outputDir,
		mediaType: mediaType,
		csvPath:   filepath.Join(outputDir, "results.csv"),
		dumper:    backend.NewDumper(filepath.Join(outputDir, "snapshot")),
		index:     make(map[string]int),
		firstLine: true,
	}
}

func (s *csvSink) save(b *blob.Blob, resp response.Response) {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf := b.Buffers[0]
	meta, _ := buf.GetHceDatabaseMeta()

	if len(buf.ROIs) == 0 {
		s.appendRow(s.row(b, blob.ROI{}, -1, meta, resp))
	}
	for i, roi := range buf.ROIs {
		s.appendRow(s.row(b, roi, i, meta, resp))
	}

	if s.mediaType == "video" && buf.Payload.Kind == blob.OwnedBytes {
		name := fmt.Sprintf("%06d", b.FrameID)
		_ = s.dumper.Dump(name, backend.Frame{Width: buf.Width, Height: buf.Height, ColorFormat: int(buf.Color), Data: buf.Payload.Bytes}, meta)
	}
}

func (s *csvSink) row(b *blob.Blob, roi blob.ROI, roiIdx int, meta blob.HceDatabaseMeta, resp response.Response) [][2]string {
	row := [][2]string{
		{"mediaUri", meta.MediaURI},
		{"mediaTimeStamp", strconv.FormatUint(meta.TimeStampMs, 10)},
		{"captureSourceId", meta.CaptureSourceID},
		{"frameId", strconv.FormatUint(b.FrameID, 10)},
		{"streamId", strconv.FormatUint(uint64(b.StreamID), 10)},
		{"roiId", strconv.Itoa(roiIdx)},
		{"x", strconv.Itoa(roi.Rect.X)},
		{"y", strconv.Itoa(roi.Rect.Y)},
		{"width", strconv.Itoa(roi.Rect.Width)},
		{"height", strconv.Itoa(roi.Rect.Height)},
		{"labelDetection", roi.DetectionLabel},
		{"confidenceDetection", strconv.FormatFloat(float64(roi.Confidence), 'f', 4, 32)},
		{"trackingId", strconv.FormatInt(roi.TrackID, 10)},
		{"trackingStatus", roi.TrackStatus.String()},
		{"featureVector", roi.ClassificationLabel},
		{"qualityScore", strconv.FormatFloat(float64(roi.QualityScore), 'f', 4, 32)},
		{"status", strconv.Itoa(int(resp.Status))},
		{"description", resp.Message},
	}
	return row
}

func (s *csvSink) appendRow(row [][2]string) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return
	}

	isHeaderUpdated := false
	values := make([]string, len(s.headers))
	for _, kv := range row {
		idx, ok := s.index[kv[0]]
		if !ok {
			idx = len(s.headers)
			s.index[kv[0]] = idx
			s.headers = append(s.headers, kv[0])
			values = append(values, "")
			isHeaderUpdated = true
		}
		values[idx] = sanitizeCSVField(kv[1])
	}

	f, err := os.OpenFile(s.csvPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	if s.firstLine {
		fmt.Fprintln(f, strings.Join(s.headers, ","))
		s.firstLine = false
	}
	fmt.Fprintln(f, strings.Join(values, ","))
	f.Close()

	if isHeaderUpdated {
		s.rewriteHeaderLine()
	}
}

// rewriteHeaderLine replaces line 0 of the CSV with the current header
// set, leaving every data row untouched.
func (s *csvSink) rewriteHeaderLine() {
	data, err := os.ReadFile(s.csvPath)
	if err != nil {
		return
	}
	lines := strings.SplitAfter(string(data), "\n")
	if len(lines) == 0 {
		return
	}
	lines[0] = strings.Join(s.headers, ",") + "\n"

	f, err := os.Create(s.csvPath)
	if err != nil {
		return
	}
	w := bufio.NewWriter(f)
	for _, l := range lines {
		w.WriteString(l)
	}
	w.Flush()
	f.Close()
}

func sanitizeCSVField(v string) string {
	v = strings.ReplaceAll(v, ",", " |")
	v = strings.ReplaceAll(v, "\n", " ")
	return v
}
