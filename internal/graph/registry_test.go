package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubWorker struct{}

func (stubWorker) Init(context.Context) error          { return nil }
func (stubWorker) Deinit() error                        { return nil }
func (stubWorker) ProcessByFirstRun(context.Context) error { return nil }
func (stubWorker) ProcessByLastRun(context.Context) error  { return nil }
func (stubWorker) Process(context.Context) error        { return nil }
func (stubWorker) Rearm() error                          { return nil }
func (stubWorker) Reset() error                          { return nil }

type stubNode struct {
	name  string
	class string
}

func (n *stubNode) Name() string                    { return n.name }
func (n *stubNode) Class() string                    { return n.class }
func (n *stubNode) ConfigureByString(string) error    { return nil }
func (n *stubNode) ValidateConfiguration() error      { return nil }
func (n *stubNode) Prepare() error                    { return nil }
func (n *stubNode) CreateNodeWorker(int) NodeWorker   { return stubWorker{} }
func (n *stubNode) Rearm() error                      { return nil }
func (n *stubNode) Reset() error                      { return nil }
func (n *stubNode) TotalThreadNum() int               { return 1 }
func (n *stubNode) InputPortCount() int               { return 1 }
func (n *stubNode) OutputPortCount() int               { return 1 }
func (n *stubNode) BatchConfig() BatchConfig          { return BatchConfig{}.Normalize() }
func (n *stubNode) IsSourceNode() bool                { return false }

func TestRegisterAndGet(t *testing.T) {
	const class = "graph_test.StubNode"
	Register(class, func(name string, totalThreadNum int) Node {
		return &stubNode{name: name, class: class}
	})

	factory, err := Get(class)
	require.NoError(t, err)
	n := factory("inst1", 1)
	assert.Equal(t, "inst1", n.Name())
	assert.Equal(t, class, n.Class())

	assert.Contains(t, List(), class)
}

func TestGetUnknownClass(t *testing.T) {
	_, err := Get("graph_test.DoesNotExist")
	assert.ErrorIs(t, err, ErrClassNotFound)
}

func TestRegisterPanicsOnDuplicate(t *testing.T) {
	const class = "graph_test.DupNode"
	Register(class, func(name string, totalThreadNum int) Node {
		return &stubNode{name: name, class: class}
	})
	assert.Panics(t, func() {
		Register(class, func(name string, totalThreadNum int) Node {
			return &stubNode{name: name, class: class}
		})
	})
}

func TestRegisterPanicsOnEmptyNameOrNilFactory(t *testing.T) {
	assert.Panics(t, func() {
		Register("", func(string, int) Node { return nil })
	})
	assert.Panics(t, func() {
		Register("graph_test.NilFactory", nil)
	})
}

func TestBatchConfigNormalizeDefaults(t *testing.T) {
	c := BatchConfig{}.Normalize()
	assert.Equal(t, 1, c.BatchSize)
	assert.Equal(t, 1, c.StreamNum)
	assert.Equal(t, DefaultPolicy, c.Policy)
}

func TestBatchConfigNormalizeRewritesSingleThreadToStreamPolicy(t *testing.T) {
	c := BatchConfig{ThreadNumPerBatch: 1}.Normalize()
	assert.Equal(t, BatchingWithStream, c.Policy)
}
