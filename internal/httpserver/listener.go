package httpserver

import (
	"encoding/json"
	"sync"

	"github.com/zhangcong2019/hsf-pipeline/internal/response"
)

// runListener is the response.EmitListener bound to one /run request: it
// buffers every emitOutput's message as a JSON result entry and signals
// done exactly once, on the first emitFinish.
type runListener struct {
	mu      sync.Mutex
	out     []json.RawMessage
	done    chan struct{}
	closeIt sync.Once
}

func newRunListener() *runListener {
	return &runListener{done: make(chan struct{})}
}

func (l *runListener) EmitOutput(resp response.Response) {
	l.mu.Lock()
	defer l.mu.Unlock()
	msg := resp.Message
	if msg == "" {
		msg = "null"
	}
	l.out = append(l.out, json.RawMessage(msg))
}

func (l *runListener) EmitFinish() {
	l.closeIt.Do(func() { close(l.done) })
}

func (l *runListener) results() []json.RawMessage {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]json.RawMessage(nil), l.out...)
}

func (l *runListener) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.out)
}
