package wire

import "google.golang.org/protobuf/encoding/protowire"

// clusterInfoTypeField is this repo's own field-number choice for the
// ClusterInfoRequest.type enum (see domain.DataMessage doc comment for why
// the wire schema is ours to pick). ClusterInfoTypePing mirrors a proto enum
// whose zero value is the PING variant, matching the original's
// `ClusterInfoType.PING` check.
const (
	clusterInfoTypeField  = 1
	ClusterInfoTypePing   = 0
)

// IsClusterInfoPing reports whether raw, an encoded ClusterInfoRequest,
// carries type == PING. DriverProxy uses this to answer locally without a
// backend (spec.md §4.D: "allows clients to handshake before their backend
// exists"). A malformed or absent type field is treated as not-PING, so the
// call falls through to the normal forward path.
func IsClusterInfoPing(raw []byte) bool {
	b := raw
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return false
		}
		b = b[n:]
		if typ != protowire.VarintType {
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return false
			}
			b = b[n:]
			continue
		}
		val, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return false
		}
		if num == clusterInfoTypeField {
			return val == ClusterInfoTypePing
		}
		b = b[n:]
	}
	return false
}

// clusterInfoJSONField is this repo's field-number choice for
// ClusterInfoResponse.json, the only field the PING reply needs.
const clusterInfoJSONField = 1

// EncodePingClusterInfoResponse builds the empty-JSON-body reply the
// original sends for a PING without ever touching a backend.
func EncodePingClusterInfoResponse() []byte {
	var out []byte
	out = protowire.AppendTag(out, clusterInfoJSONField, protowire.BytesType)
	out = protowire.AppendBytes(out, []byte("{}"))
	return out
}
