package grpcserver

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/zhangcong2019/hsf-pipeline/internal/graph"
	"github.com/zhangcong2019/hsf-pipeline/internal/manager"
	"github.com/zhangcong2019/hsf-pipeline/pkg/pb"
)

type grpcStubNode struct {
	graph.BaseNode
}

func (n *grpcStubNode) ConfigureByString(string) error { return nil }
func (n *grpcStubNode) ValidateConfiguration() error    { return nil }
func (n *grpcStubNode) CreateNodeWorker(batchIdx int) graph.NodeWorker {
	return &grpcStubWorker{}
}

type grpcStubWorker struct {
	graph.BaseWorker
}

func (w *grpcStubWorker) Process(ctx context.Context) error {
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
	graph.Register("GRPCTestInput", func(name string, threads int) graph.Node {
		return &grpcStubNode{BaseNode: graph.BaseNode{NodeName: name, NodeClass: "GRPCTestInput", Threads: threads, InPorts: 1, OutPorts: 0, SourceNode: true}}
	})
}

const grpcTestConfig = `{
  "Nodes": [{"Node Class Name": "GRPCTestInput", "Node Name": "Input", "Thread Number": 1, "Is Source Node": true}],
  "Links": []
}`

func newBufconnClient(t *testing.T, cfg manager.Config) (pb.AIInferenceServiceClient, func()) {
	t.Helper()
	lis := bufconn.Listen(1024 * 1024)

	mgr := manager.New(cfg)
	mgr.Start(context.Background())

	gs := grpc.NewServer()
	pb.RegisterAIInferenceServiceServer(gs, newAIService(mgr))
	go gs.Serve(lis)

	conn, err := grpc.NewClient("passthrough:///bufconn",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.Dial() }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	cleanup := func() {
		conn.Close()
		gs.Stop()
		mgr.Stop()
	}
	return pb.NewAIInferenceServiceClient(conn), cleanup
}

func TestRunStreamLoadUnloadRoundTrip(t *testing.T) {
	client, cleanup := newBufconnClient(t, manager.Config{MaxConcurrentWorkload: 10, PoolSize: 2, WatchdogInterval: time.Second})
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	loadStream, err := client.Run(ctx)
	require.NoError(t, err)
	require.NoError(t, loadStream.Send(&pb.AIRequest{Target: "load_pipeline", PipelineConfig: grpcTestConfig, SuggestedWeight: 1}))
	loadResp, err := loadStream.Recv()
	require.NoError(t, err)
	require.Zero(t, loadResp.Status)
	var handle uint32
	_, err = fmt.Sscanf(loadResp.Message, "handle=%d", &handle)
	require.NoError(t, err)

	unloadStream, err := client.Run(ctx)
	require.NoError(t, err)
	require.NoError(t, unloadStream.Send(&pb.AIRequest{Target: "unload_pipeline", Handle: handle}))
	unloadResp, err := unloadStream.Recv()
	require.NoError(t, err)
	require.Zero(t, unloadResp.Status)
}

// TestRunStreamAutoRunEmitsFinishSummary exercises a full run stream:
// the auto-run pipeline never completes on its own (the stub source
// node has no output node attached), so the idle watchdog reclaims it
// and drives the EmitListener path (TimeoutResponse then emitFinish's
// performance summary), matching
// manager.TestWatchdogReclaimsIdlePipelineAndNotifiesConnections.
func TestRunStreamAutoRunEmitsFinishSummary(t *testing.T) {
	client, cleanup := newBufconnClient(t, manager.Config{
		MaxConcurrentWorkload: 10, PoolSize: 2,
		MaxPipelineLifetime: 50 * time.Millisecond,
		WatchdogInterval:    30 * time.Millisecond,
	})
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := client.Run(ctx)
	require.NoError(t, err)
	require.NoError(t, stream.Send(&pb.AIRequest{
		Target:          "run",
		PipelineConfig:  grpcTestConfig,
		SuggestedWeight: 1,
		StreamNum:       1,
		MediaUri:        []string{"file:///a.mp4"},
	}))

	timeoutResp, err := stream.Recv()
	require.NoError(t, err)
	require.EqualValues(t, -5, timeoutResp.Status)

	summary, err := stream.Recv()
	require.NoError(t, err)
	require.Contains(t, summary.Message, "frames=")

	_, err = stream.Recv()
	require.Error(t, err, "stream should close after the server's Run handler returns")
}

// TestRunStreamRejectsEmptyMediaUri asserts the bad-request case reports
// InvalidArgument, not the Internal code submit errors used to always
// get regardless of cause.
func TestRunStreamRejectsEmptyMediaUri(t *testing.T) {
	client, cleanup := newBufconnClient(t, manager.Config{MaxConcurrentWorkload: 10, PoolSize: 2, WatchdogInterval: time.Second})
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := client.Run(ctx)
	require.NoError(t, err)
	require.NoError(t, stream.Send(&pb.AIRequest{
		Target:          "run",
		PipelineConfig:  grpcTestConfig,
		SuggestedWeight: 1,
		StreamNum:       1,
	}))

	errResp, err := stream.Recv()
	require.NoError(t, err)
	require.EqualValues(t, -1, errResp.Status)

	_, err = stream.Recv()
	require.Error(t, err)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

// TestRunStreamRejectsMissingHandle asserts a RUN against a nonexistent
// handle reports NotFound, not Internal.
func TestRunStreamRejectsMissingHandle(t *testing.T) {
	client, cleanup := newBufconnClient(t, manager.Config{MaxConcurrentWorkload: 10, PoolSize: 2, WatchdogInterval: time.Second})
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := client.Run(ctx)
	require.NoError(t, err)
	require.NoError(t, stream.Send(&pb.AIRequest{
		Target:   "run",
		Handle:   0x80000001,
		MediaUri: []string{"file:///a.mp4"},
	}))

	errResp, err := stream.Recv()
	require.NoError(t, err)
	require.EqualValues(t, -1, errResp.Status)

	_, err = stream.Recv()
	require.Error(t, err)
	assert.Equal(t, codes.NotFound, status.Code(err))
}
