package manager

import (
	"context"

	"github.com/zhangcong2019/hsf-pipeline/internal/response"
)

// SubmitLoadPipeline enqueues a LOAD task and blocks until it is
// dispatched (i.e. either built, or denied budget and retried — callers
// never see an intermediate denial, only the eventual success or a
// build failure).
func (m *Manager) SubmitLoadPipeline(ctx context.Context, pipelineConfig string, suggestedWeight uint32, streamNum int) (uint32, error) {
	t := newTask(Load)
	t.PipelineConfig = pipelineConfig
	t.SuggestedWeight = suggestedWeight
	t.StreamNum = streamNum
	return m.submitAndWait(ctx, t)
}

// SubmitUnloadPipeline enqueues an UNLOAD task for handle.
func (m *Manager) SubmitUnloadPipeline(ctx context.Context, handle uint32) (uint32, error) {
	t := newTask(Unload)
	t.JobHandle = handle
	return m.submitAndWait(ctx, t)
}

// SubmitRun enqueues a RUN task against an existing handle. conn
// receives every emitOutput/emitFinish for this call.
func (m *Manager) SubmitRun(ctx context.Context, handle uint32, mediaURIs []string, conn response.EmitListener) (uint32, error) {
	t := newTask(Run)
	t.JobHandle = handle
	t.MediaURIs = mediaURIs
	t.CommHandle = conn
	return m.submitAndWait(ctx, t)
}

// SubmitAutoRun enqueues an AUTO_RUN task: build-or-reuse a pipeline for
// pipelineConfig, then run mediaURIs against it.
func (m *Manager) SubmitAutoRun(ctx context.Context, pipelineConfig string, suggestedWeight uint32, streamNum int, mediaURIs []string, conn response.EmitListener) (uint32, error) {
	t := newTask(AutoRun)
	t.PipelineConfig = pipelineConfig
	t.SuggestedWeight = suggestedWeight
	t.StreamNum = streamNum
	t.MediaURIs = mediaURIs
	t.CommHandle = conn
	return m.submitAndWait(ctx, t)
}

func (m *Manager) submitAndWait(ctx context.Context, t *Task) (uint32, error) {
	m.enqueue(t)
	select {
	case r := <-t.Reply:
		return r.JobHandle, r.Err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}
