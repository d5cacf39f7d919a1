package nodes

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zhangcong2019/hsf-pipeline/internal/blob"
	"github.com/zhangcong2019/hsf-pipeline/internal/graph"
	"github.com/zhangcong2019/hsf-pipeline/internal/response"
)

// MediaRadarOutputNode fuses a video branch's ROIs with the radar
// chain's confirmed tracks before reporting a single Response per
// video frame. Configure
// String keys: MediaPort (int, default 0), RadarPort (int, default 1).
//
// Unlike MediaOutputNode it cannot be a thin wrapper around
// response.Node: it consumes two independent input ports on different
// cadences (one video frame per tick, radar tracks arriving
// asynchronously per confirmed target) and must hold the latest radar
// picture per stream to attach it to the next outgoing video frame, so
// it implements the EmitListener fan-out itself instead of reusing
// response.Node's single-port worker.
// radarFusionRunState mirrors response.Node's per-run bookkeeping: this
// node implements its own EmitListener fan-out (see the type doc above),
// so it needs the same per-runID completions/listener tracking response.
// Node gets from its internal runState.
type radarFusionRunState struct {
	listener    response.EmitListener
	completions int32
}

type MediaRadarOutputNode struct {
	graph.BaseNode
	mediaPort int
	radarPort int
	streamNum int32

	mu   sync.Mutex
	runs map[uint64]*radarFusionRunState
}

func NewMediaRadarOutputNode(name string, streamNum int) *MediaRadarOutputNode {
	return &MediaRadarOutputNode{
		BaseNode: graph.BaseNode{
			NodeName: name, NodeClass: "MediaRadarOutput", Threads: streamNum, InPorts: 2, OutPorts: 0,
			Batch: graph.BatchConfig{Policy: graph.BatchingWithStream, StreamNum: streamNum, ThreadNumPerBatch: 1},
		},
		mediaPort: 0,
		radarPort: 1,
		streamNum: int32(streamNum),
	}
}

func (n *MediaRadarOutputNode) ConfigureByString(s string) error {
	cfg, err := parseConfigString(s)
	if err != nil {
		return err
	}
	n.mediaPort = cfg.intVal("MediaPort", 0)
	n.radarPort = cfg.intVal("RadarPort", 1)
	return nil
}

func (n *MediaRadarOutputNode) ValidateConfiguration() error { return nil }

func (n *MediaRadarOutputNode) RegisterEmitListener(runID uint64, l response.EmitListener) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.runs == nil {
		n.runs = make(map[uint64]*radarFusionRunState)
	}
	n.runs[runID] = &radarFusionRunState{listener: l}
}

func (n *MediaRadarOutputNode) ClearAllEmitListener() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.runs = nil
}

func (n *MediaRadarOutputNode) runFor(runID uint64) *radarFusionRunState {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.runs[runID]
}

func (n *MediaRadarOutputNode) emitOutput(runID uint64, resp response.Response) {
	rs := n.runFor(runID)
	if rs == nil || rs.listener == nil {
		return
	}
	rs.listener.EmitOutput(resp)
}

// emitFinish signals runID's listener and forgets the Run, mirroring
// response.Node's emitFinish.
func (n *MediaRadarOutputNode) emitFinish(runID uint64) {
	n.mu.Lock()
	rs := n.runs[runID]
	delete(n.runs, runID)
	n.mu.Unlock()
	if rs == nil || rs.listener == nil {
		return
	}
	rs.listener.EmitFinish()
}

// addEmitFinishFlag mirrors response.Node's per-run completion count.
func (n *MediaRadarOutputNode) addEmitFinishFlag(runID uint64) bool {
	rs := n.runFor(runID)
	if rs == nil {
		return false
	}
	return atomic.AddInt32(&rs.completions, 1) == n.streamNum
}

func (n *MediaRadarOutputNode) CreateNodeWorker(batchIdx int) graph.NodeWorker {
	return &mediaRadarOutputWorker{node: n, radarByStream: make(map[uint32][]blob.TrackerOutput)}
}

func init() {
	graph.Register("MediaRadarOutput", func(name string, threads int) graph.Node {
		return NewMediaRadarOutputNode(name, threads)
	})
}

type mediaRadarOutputWorker struct {
	graph.BaseWorker
	node *MediaRadarOutputNode

	mu            sync.Mutex
	radarByStream map[uint32][]blob.TrackerOutput
}

func (w *mediaRadarOutputWorker) Process(ctx context.Context) error {
	blobs, err := w.GetBatchedInput(ctx, []int{w.node.mediaPort, w.node.radarPort}, 50*time.Millisecond)
	if err != nil {
		return err
	}
	for _, b := range blobs {
		if len(b.Buffers) > 0 {
			if _, ok := b.Buffers[0].GetTrackerOutput(); ok && len(b.Buffers) == 1 && len(b.Buffers[0].ROIs) == 0 {
				w.absorbRadar(b)
				b.Release()
				continue
			}
		}
		w.emitFused(b)
	}
	return nil
}

func (w *mediaRadarOutputWorker) absorbRadar(b *blob.Blob) {
	t, _ := b.Buffers[0].GetTrackerOutput()
	w.mu.Lock()
	w.radarByStream[b.StreamID] = append(w.radarByStream[b.StreamID], t)
	if len(w.radarByStream[b.StreamID]) > 32 {
		w.radarByStream[b.StreamID] = w.radarByStream[b.StreamID][len(w.radarByStream[b.StreamID])-32:]
	}
	w.mu.Unlock()
}

func (w *mediaRadarOutputWorker) emitFused(b *blob.Blob) {
	w.mu.Lock()
	tracks := append([]blob.TrackerOutput(nil), w.radarByStream[b.StreamID]...)
	w.mu.Unlock()

	resp := buildMediaRadarResponse(b, tracks)
	runID := b.RunID
	w.node.emitOutput(runID, resp)

	isEnd := b.Tag == blob.EndOfRequest
	b.Release()

	if isEnd {
		if w.node.addEmitFinishFlag(runID) {
			w.node.emitFinish(runID)
			w.EmitEvent(graph.EventDrainRequested, nil)
		}
	}
}

type fusedTargetJSON struct {
	TargetID int64   `json:"targetId"`
	Range    float32 `json:"range"`
	Velocity float32 `json:"velocity"`
	Azimuth  float32 `json:"azimuth"`
}

func buildMediaRadarResponse(b *blob.Blob, tracks []blob.TrackerOutput) response.Response {
	base := response.DefaultBuilder(b)
	if base.Status != 0 && base.Status != 1 || len(tracks) == 0 {
		return base
	}

	var frame map[string]json.RawMessage
	if err := json.Unmarshal([]byte(base.Message), &frame); err != nil {
		return base
	}
	targets := make([]fusedTargetJSON, len(tracks))
	for i, t := range tracks {
		targets[i] = fusedTargetJSON{TargetID: t.TargetID, Range: t.Range, Velocity: t.Velocity, Azimuth: t.Azimuth}
	}
	encodedTargets, err := json.Marshal(targets)
	if err != nil {
		return base
	}
	frame["radarTargets"] = encodedTargets
	encoded, err := json.Marshal(frame)
	if err != nil {
		return base
	}
	return response.Response{Status: 0, Message: string(encoded)}
}
