package pb

import (
	"context"

	"google.golang.org/grpc"
)

// AIInferenceServiceServer is the server API for the ai_inference
// service's single bidirectional-streaming method.
type AIInferenceServiceServer interface {
	Run(AIInferenceService_RunServer) error
}

// AIInferenceServiceClient is the client API for the ai_inference service.
type AIInferenceServiceClient interface {
	Run(ctx context.Context, opts ...grpc.CallOption) (AIInferenceService_RunClient, error)
}

// AIInferenceService_RunServer is the server-side handle for one Run
// stream.
type AIInferenceService_RunServer interface {
	Send(*AIResponse) error
	Recv() (*AIRequest, error)
	grpc.ServerStream
}

// AIInferenceService_RunClient is the client-side handle for one Run
// stream.
type AIInferenceService_RunClient interface {
	Send(*AIRequest) error
	Recv() (*AIResponse, error)
	grpc.ClientStream
}

type aiInferenceServiceRunServer struct {
	grpc.ServerStream
}

func (x *aiInferenceServiceRunServer) Send(m *AIResponse) error { return x.ServerStream.SendMsg(m) }
func (x *aiInferenceServiceRunServer) Recv() (*AIRequest, error) {
	m := new(AIRequest)
	if err := x.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

type aiInferenceServiceRunClient struct {
	grpc.ClientStream
}

func (x *aiInferenceServiceRunClient) Send(m *AIRequest) error { return x.ClientStream.SendMsg(m) }
func (x *aiInferenceServiceRunClient) Recv() (*AIResponse, error) {
	m := new(AIResponse)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

var aiInferenceServiceServiceDesc = grpc.ServiceDesc{
	ServiceName: "ai_inference.AIInferenceService",
	HandlerType: (*AIInferenceServiceServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Run",
			Handler:       aiInferenceServiceRunHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "ai_inference.proto",
}

func aiInferenceServiceRunHandler(srv any, stream grpc.ServerStream) error {
	return srv.(AIInferenceServiceServer).Run(&aiInferenceServiceRunServer{stream})
}

// RegisterAIInferenceServiceServer registers srv on s, in the shape
// protoc-gen-go-grpc emits for every service.
func RegisterAIInferenceServiceServer(s grpc.ServiceRegistrar, srv AIInferenceServiceServer) {
	s.RegisterService(&aiInferenceServiceServiceDesc, srv)
}

type aiInferenceServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewAIInferenceServiceClient builds a client bound to cc.
func NewAIInferenceServiceClient(cc grpc.ClientConnInterface) AIInferenceServiceClient {
	return &aiInferenceServiceClient{cc}
}

func (c *aiInferenceServiceClient) Run(ctx context.Context, opts ...grpc.CallOption) (AIInferenceService_RunClient, error) {
	stream, err := c.cc.NewStream(ctx, &aiInferenceServiceServiceDesc.Streams[0], "/ai_inference.AIInferenceService/Run", opts...)
	if err != nil {
		return nil, err
	}
	return &aiInferenceServiceRunClient{stream}, nil
}
