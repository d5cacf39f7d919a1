package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhangcong2019/hsf-pipeline/internal/blob"
	"github.com/zhangcong2019/hsf-pipeline/internal/graph"
	"github.com/zhangcong2019/hsf-pipeline/internal/manager"
	"github.com/zhangcong2019/hsf-pipeline/internal/response"
)

type httpStubNode struct {
	graph.BaseNode
}

func (n *httpStubNode) ConfigureByString(string) error { return nil }
func (n *httpStubNode) ValidateConfiguration() error    { return nil }
func (n *httpStubNode) CreateNodeWorker(batchIdx int) graph.NodeWorker {
	return &httpStubWorker{}
}

type httpStubWorker struct {
	graph.BaseWorker
}

func (w *httpStubWorker) Process(ctx context.Context) error {
	blobs, err := w.GetBatchedInput(ctx, []int{0}, 20*time.Millisecond)
	if err != nil {
		return err
	}
	for _, b := range blobs {
		b.Release()
		w.EmitEvent(graph.EventDrainRequested, nil)
	}
	return nil
}

func init() {
	graph.Register("HTTPTestInput", func(name string, threads int) graph.Node {
		return &httpStubNode{BaseNode: graph.BaseNode{NodeName: name, NodeClass: "HTTPTestInput", Threads: threads, InPorts: 1, OutPorts: 0, SourceNode: true}}
	})
}

const httpTestConfig = `{
  "Nodes": [{"Node Class Name": "HTTPTestInput", "Node Name": "Input", "Thread Number": 1, "Is Source Node": true}],
  "Links": []
}`

// httpEchoInputNode/httpEchoInputWorker stand in for
// LocalMultiSensorInputNode's per-URI split/EndOfRequest-tag logic,
// treating the one request Blob a segment carries as its terminal
// frame, so /run tests can exercise a real ResponseNode end to end.
type httpEchoInputNode struct {
	graph.BaseNode
}

func (n *httpEchoInputNode) ConfigureByString(string) error { return nil }
func (n *httpEchoInputNode) ValidateConfiguration() error    { return nil }
func (n *httpEchoInputNode) CreateNodeWorker(batchIdx int) graph.NodeWorker {
	return &httpEchoInputWorker{}
}

type httpEchoInputWorker struct {
	graph.BaseWorker
}

func (w *httpEchoInputWorker) Process(ctx context.Context) error {
	blobs, err := w.GetBatchedInput(ctx, []int{0}, 20*time.Millisecond)
	if err != nil {
		return err
	}
	for _, b := range blobs {
		b.Tag = blob.EndOfRequest
		if err := w.SendOutput(ctx, b, 0, 0); err != nil {
			b.Release()
		}
	}
	return nil
}

func init() {
	graph.Register("HTTPTestEchoInput", func(name string, threads int) graph.Node {
		return &httpEchoInputNode{BaseNode: graph.BaseNode{
			NodeName: name, NodeClass: "HTTPTestEchoInput", Threads: threads,
			InPorts: 1, OutPorts: 1, SourceNode: true,
		}}
	})
	graph.Register("HTTPTestOutput", func(name string, threads int) graph.Node {
		return response.NewNode(name, "HTTPTestOutput", threads, nil)
	})
}

func httpEchoConfig(streamNum int) string {
	return fmt.Sprintf(`{
  "Nodes": [
    {"Node Class Name": "HTTPTestEchoInput", "Node Name": "Input", "Thread Number": %d, "Is Source Node": true},
    {"Node Class Name": "HTTPTestOutput", "Node Name": "Output", "Thread Number": %d}
  ],
  "Links": [{"Src Node": "Input", "Src Port": 0, "Dst Node": "Output", "Dst Port": 0}]
}`, streamNum, streamNum)
}

func newTestRouter(t *testing.T) (*Server, *mux.Router) {
	t.Helper()
	mgr := manager.New(manager.Config{MaxConcurrentWorkload: 10, PoolSize: 2, WatchdogInterval: 30 * time.Millisecond})
	mgr.Start(context.Background())
	t.Cleanup(mgr.Stop)

	s := NewServer(":0", mgr)
	r := mux.NewRouter()
	r.HandleFunc("/load_pipeline", s.handleLoadPipeline).Methods(http.MethodPost)
	r.HandleFunc("/unload_pipeline", s.handleUnloadPipeline).Methods(http.MethodPost)
	r.HandleFunc("/run", s.handleRun).Methods(http.MethodPost)
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	return s, r
}

func TestLoadPipelineHandlerReturnsHandle(t *testing.T) {
	_, r := newTestRouter(t)

	body, _ := json.Marshal(loadPipelineRequest{PipelineConfig: httpTestConfig, SuggestedWeight: 1, StreamNum: 1})
	req := httptest.NewRequest(http.MethodPost, "/load_pipeline", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp loadPipelineResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotZero(t, resp.Handle)
	assert.Equal(t, "load_pipeline", resp.Request)
}

func TestLoadPipelineHandlerRejectsBadConfig(t *testing.T) {
	_, r := newTestRouter(t)

	body, _ := json.Marshal(loadPipelineRequest{PipelineConfig: `{not json`})
	req := httptest.NewRequest(http.MethodPost, "/load_pipeline", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestUnloadPipelineHandlerRoundTrip(t *testing.T) {
	_, r := newTestRouter(t)

	body, _ := json.Marshal(loadPipelineRequest{PipelineConfig: httpTestConfig, SuggestedWeight: 1, StreamNum: 1})
	req := httptest.NewRequest(http.MethodPost, "/load_pipeline", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	var loadResp loadPipelineResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &loadResp))

	ubody, _ := json.Marshal(unloadPipelineRequest{Handle: loadResp.Handle})
	ureq := httptest.NewRequest(http.MethodPost, "/unload_pipeline", bytes.NewReader(ubody))
	urec := httptest.NewRecorder()
	r.ServeHTTP(urec, ureq)

	require.Equal(t, http.StatusOK, urec.Code)
}

func loadHTTPEchoPipeline(t *testing.T, r *mux.Router, streamNum int) uint32 {
	t.Helper()
	body, _ := json.Marshal(loadPipelineRequest{PipelineConfig: httpEchoConfig(streamNum), SuggestedWeight: 1, StreamNum: streamNum})
	req := httptest.NewRequest(http.MethodPost, "/load_pipeline", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp loadPipelineResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Handle
}

func TestRunHandlerEndToEndReturnsOneResultAndFinishes(t *testing.T) {
	_, r := newTestRouter(t)
	handle := loadHTTPEchoPipeline(t, r, 1)

	body, _ := json.Marshal(runRequest{Handle: handle, MediaURI: []string{"rtsp://cam1"}})
	req := httptest.NewRequest(http.MethodPost, "/run", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp runResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Frames)
}

func TestRunHandlerRejectsEmptyMediaUri(t *testing.T) {
	_, r := newTestRouter(t)
	handle := loadHTTPEchoPipeline(t, r, 1)

	body, _ := json.Marshal(runRequest{Handle: handle, MediaURI: nil})
	req := httptest.NewRequest(http.MethodPost, "/run", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunHandlerRejectsStreamNumExceedingMediaUriCount(t *testing.T) {
	_, r := newTestRouter(t)
	handle := loadHTTPEchoPipeline(t, r, 2)

	body, _ := json.Marshal(runRequest{Handle: handle, MediaURI: []string{"rtsp://cam1"}})
	req := httptest.NewRequest(http.MethodPost, "/run", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunHandlerRejectsMissingHandle(t *testing.T) {
	_, r := newTestRouter(t)

	body, _ := json.Marshal(runRequest{Handle: 0x80000001, MediaURI: []string{"rtsp://cam1"}})
	req := httptest.NewRequest(http.MethodPost, "/run", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunHandlerTwiceAgainstOneHandleEachReturnsOwnResult(t *testing.T) {
	_, r := newTestRouter(t)
	handle := loadHTTPEchoPipeline(t, r, 1)

	for i := 0; i < 2; i++ {
		body, _ := json.Marshal(runRequest{Handle: handle, MediaURI: []string{"rtsp://cam1"}})
		req := httptest.NewRequest(http.MethodPost, "/run", bytes.NewReader(body))
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp runResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, 1, resp.Frames)
	}
}

func TestHealthzReflectsWatchdogAdvance(t *testing.T) {
	_, r := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code, "no tick has elapsed yet")

	time.Sleep(100 * time.Millisecond)

	req2 := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec2 := httptest.NewRecorder()
	r.ServeHTTP(rec2, req2)
	assert.Equal(t, http.StatusOK, rec2.Code)
}
