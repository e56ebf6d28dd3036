package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"sessionproxy/domain"
)

// Field numbers for the self-defined DataMessage/InitPayload wire schema
// (see domain.DataMessage doc comment for why this schema is ours to pick).
const (
	fieldInit = 1 // DataMessage.Init, embedded InitPayload
	fieldData = 2 // DataMessage.Data, opaque bytes

	fieldJobConfig      = 1 // InitPayload.JobConfig, bytes
	fieldClientServerID = 2 // InitPayload.ClientServerID, string
)

// DecodeDataMessage parses a raw Datapath frame into the oneof it
// represents. Exactly one of Init/Data is populated; any other shape (both
// set, neither set, malformed wire bytes) is a protocol error. Every field
// in this schema is length-delimited (bytes or embedded message), so known
// fields are read with ConsumeBytes directly; anything else is skipped with
// ConsumeFieldValue.
func DecodeDataMessage(raw []byte) (*domain.DataMessage, error) {
	msg := &domain.DataMessage{}
	seen := 0
	b := raw
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("wire: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		if typ != protowire.BytesType {
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("wire: bad field value: %w", protowire.ParseError(n))
			}
			b = b[n:]
			continue
		}

		val, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return nil, fmt.Errorf("wire: bad bytes field: %w", protowire.ParseError(n))
		}
		switch num {
		case fieldInit:
			payload, err := decodeInitPayload(val)
			if err != nil {
				return nil, err
			}
			msg.Init = payload
			seen++
		case fieldData:
			msg.Data = append([]byte(nil), val...)
			seen++
		}
		b = b[n:]
	}
	if seen != 1 {
		return nil, fmt.Errorf("wire: DataMessage must carry exactly one of init/data, got %d", seen)
	}
	return msg, nil
}

func decodeInitPayload(raw []byte) (*domain.InitPayload, error) {
	p := &domain.InitPayload{}
	b := raw
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("wire: bad init tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		if typ != protowire.BytesType {
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("wire: bad init field value: %w", protowire.ParseError(n))
			}
			b = b[n:]
			continue
		}

		val, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return nil, fmt.Errorf("wire: bad init bytes field: %w", protowire.ParseError(n))
		}
		switch num {
		case fieldJobConfig:
			p.JobConfig = append([]byte(nil), val...)
		case fieldClientServerID:
			p.ClientServerID = string(val)
		}
		b = b[n:]
	}
	return p, nil
}

// EncodeDataMessage re-encodes a DataMessage. Only ever called by DataProxy
// to produce the rewritten first message; subsequent messages are relayed
// as opaque Frame bytes without passing through here.
func EncodeDataMessage(msg *domain.DataMessage) []byte {
	var out []byte
	if msg.Init != nil {
		inner := encodeInitPayload(msg.Init)
		out = protowire.AppendTag(out, fieldInit, protowire.BytesType)
		out = protowire.AppendBytes(out, inner)
	} else {
		out = protowire.AppendTag(out, fieldData, protowire.BytesType)
		out = protowire.AppendBytes(out, msg.Data)
	}
	return out
}

func encodeInitPayload(p *domain.InitPayload) []byte {
	var out []byte
	out = protowire.AppendTag(out, fieldJobConfig, protowire.BytesType)
	out = protowire.AppendBytes(out, p.JobConfig)
	if p.ClientServerID != "" {
		out = protowire.AppendTag(out, fieldClientServerID, protowire.BytesType)
		out = protowire.AppendBytes(out, []byte(p.ClientServerID))
	}
	return out
}
