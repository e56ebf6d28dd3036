// Package wire implements the proxy's transport-level primitives: a raw
// byte-passthrough gRPC codec, and hand-rolled wire encode/decode for the
// two messages the proxy actually inspects (the Datapath init frame and the
// ClusterInfo request's type field).
//
// No .proto file is compiled here. The codec registration trick — naming
// this codec "proto" so it shadows the default protobuf codec for every
// content-subtype grpc-go resolves to "proto" — is the standard technique
// generic gRPC proxies use to relay arbitrary application messages without
// parsing them (the same intent behind MyGateway's
// forwardClientToServer/forwardServerToClient, which relay via RecvMsg/
// SendMsg without decoding application fields). The one gap in that intent,
// decoding the Datapath init frame's job_config field for the handshake
// rewrite, is handled separately in datamessage.go using protowire directly
// on the raw bytes this codec hands back.
package wire

import (
	"fmt"

	"google.golang.org/grpc/encoding"
)

// CodecName is registered to shadow the built-in "proto" codec so every RPC
// that uses the default "proto" content-subtype is handled as raw bytes
// instead of being unmarshaled into a concrete proto.Message.
const CodecName = "proto"

// Frame is the opaque byte payload DriverProxy/DataProxy/LogProxy relay.
type Frame struct {
	Data []byte
}

type rawCodec struct{}

// RegisterRawCodec installs the raw passthrough codec process-wide. Must be
// called once before the gRPC server starts serving (Bootstrap does this).
func RegisterRawCodec() {
	encoding.RegisterCodec(rawCodec{})
}

func (rawCodec) Name() string { return CodecName }

func (rawCodec) Marshal(v any) ([]byte, error) {
	f, ok := v.(*Frame)
	if !ok {
		return nil, fmt.Errorf("wire: Marshal expects *wire.Frame, got %T", v)
	}
	return f.Data, nil
}

func (rawCodec) Unmarshal(data []byte, v any) error {
	f, ok := v.(*Frame)
	if !ok {
		return fmt.Errorf("wire: Unmarshal expects *wire.Frame, got %T", v)
	}
	// Copy: data is only valid for the duration of the gRPC call otherwise.
	f.Data = append([]byte(nil), data...)
	return nil
}
