// Package pb holds the wire messages and gRPC service binding for the
// ai_inference.Run bidirectional stream.
//
// There is no .proto source in this repo to run protoc against. The
// `protobuf:"..."` struct tags below are kept for field-name fidelity
// with the wire contract, but marshaling itself goes through codec.go's
// JSON-based grpc codec rather than real protobuf reflection; callers
// depend on the semantic contract, not the bytes on the wire.
package pb

// AIRequest is one client->server message of the Run stream. Target
// defaults to "run" when empty.
type AIRequest struct {
	PipelineConfig  string   `protobuf:"bytes,1,opt,name=pipeline_config,json=pipelineConfig,proto3" json:"pipeline_config,omitempty"`
	MediaUri        []string `protobuf:"bytes,2,rep,name=media_uri,json=mediaUri,proto3" json:"media_uri,omitempty"`
	Target          string   `protobuf:"bytes,3,opt,name=target,proto3" json:"target,omitempty"`
	Handle          uint32   `protobuf:"varint,4,opt,name=handle,proto3" json:"handle,omitempty"`
	SuggestedWeight uint32   `protobuf:"varint,5,opt,name=suggested_weight,json=suggestedWeight,proto3" json:"suggested_weight,omitempty"`
	StreamNum       uint32   `protobuf:"varint,6,opt,name=stream_num,json=streamNum,proto3" json:"stream_num,omitempty"`
}

// ResponseValue is one entry of AIResponse.Responses.
type ResponseValue struct {
	JsonMessages string `protobuf:"bytes,1,opt,name=json_messages,json=jsonMessages,proto3" json:"json_messages,omitempty"`
	Binary       []byte `protobuf:"bytes,2,opt,name=binary,proto3" json:"binary,omitempty"`
}

// AIResponse is one server->client message of the Run stream.
type AIResponse struct {
	Status    int32                     `protobuf:"varint,1,opt,name=status,proto3" json:"status,omitempty"`
	Message   string                    `protobuf:"bytes,2,opt,name=message,proto3" json:"message,omitempty"`
	Responses map[string]*ResponseValue `protobuf:"bytes,3,rep,name=responses,proto3" protobuf_key:"bytes,1,opt,name=key,proto3" protobuf_val:"bytes,2,opt,name=value,proto3" json:"responses,omitempty"`
}
