package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/zhangcong2019/hsf-pipeline/internal/manager"
	"github.com/zhangcong2019/hsf-pipeline/internal/pipeline"
)

// statusCodeFor maps a submit error to its HTTP status; anything
// unrecognized stays a 500 since it
// indicates a build or scheduling failure, not a malformed request.
func statusCodeFor(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, manager.ErrHandleNotFound):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

type loadPipelineRequest struct {
	PipelineConfig  string `json:"pipelineConfig"`
	SuggestedWeight uint32 `json:"suggestedWeight"`
	StreamNum       int    `json:"streamNum"`
}

type loadPipelineResponse struct {
	Description string `json:"description"`
	Request     string `json:"request"`
	Handle      uint32 `json:"handle"`
}

// handleLoadPipeline implements POST /load_pipeline.
func (s *Server) handleLoadPipeline(w http.ResponseWriter, r *http.Request) {
	var req loadPipelineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"description": "invalid request body"})
		return
	}

	handle, err := s.mgr.SubmitLoadPipeline(r.Context(), req.PipelineConfig, req.SuggestedWeight, req.StreamNum)
	if err != nil {
		s.log.WithError(err).Warn("load_pipeline failed")
		writeJSON(w, statusCodeFor(err), loadPipelineResponse{
			Description: err.Error(), Request: "load_pipeline",
		})
		return
	}
	writeJSON(w, http.StatusOK, loadPipelineResponse{
		Description: "ok", Request: "load_pipeline", Handle: handle,
	})
}

type unloadPipelineRequest struct {
	Handle uint32 `json:"handle"`
}

type unloadPipelineResponse struct {
	Description string `json:"description"`
	Request     string `json:"request"`
	Handle      uint32 `json:"handle"`
}

// handleUnloadPipeline implements POST /unload_pipeline.
func (s *Server) handleUnloadPipeline(w http.ResponseWriter, r *http.Request) {
	var req unloadPipelineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"description": "invalid request body"})
		return
	}

	handle, err := s.mgr.SubmitUnloadPipeline(r.Context(), req.Handle)
	if err != nil {
		s.log.WithError(err).Warn("unload_pipeline failed")
		writeJSON(w, statusCodeFor(err), unloadPipelineResponse{
			Description: err.Error(), Request: "unload_pipeline", Handle: req.Handle,
		})
		return
	}
	writeJSON(w, http.StatusOK, unloadPipelineResponse{
		Description: "ok", Request: "unload_pipeline", Handle: handle,
	})
}

type runRequest struct {
	MediaURI        []string `json:"mediaUri"`
	Handle          uint32   `json:"handle"`
	PipelineConfig  string   `json:"pipelineConfig"`
	SuggestedWeight uint32   `json:"suggestedWeight"`
	StreamNum       int      `json:"streamNum"`
}

type runResponse struct {
	Result  []json.RawMessage `json:"result"`
	Latency int64             `json:"latency"`
	Frames  int               `json:"frames"`
}

// handleRun implements POST /run: the connection is held
// open, accumulating one result entry per emitOutput, until emitFinish
// fires — at which point a single {result, latency, frames} response is
// written and the connection closes.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"description": "invalid request body"})
		return
	}

	listener := newRunListener()
	start := time.Now()

	var err error
	if req.Handle != 0 {
		_, err = s.mgr.SubmitRun(r.Context(), req.Handle, req.MediaURI, listener)
	} else if req.PipelineConfig != "" {
		_, err = s.mgr.SubmitAutoRun(r.Context(), req.PipelineConfig, req.SuggestedWeight, req.StreamNum, req.MediaURI, listener)
	} else {
		writeJSON(w, http.StatusBadRequest, map[string]string{"description": "run requires handle or pipelineConfig"})
		return
	}
	if err != nil {
		s.log.WithError(err).Warn("run submit failed")
		writeJSON(w, statusCodeFor(err), map[string]string{"description": err.Error()})
		return
	}

	select {
	case <-listener.done:
	case <-r.Context().Done():
		return
	}

	writeJSON(w, http.StatusOK, runResponse{
		Result:  listener.results(),
		Latency: time.Since(start).Milliseconds(),
		Frames:  listener.count(),
	})
}
