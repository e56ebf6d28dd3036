package domain

// DataMessage is the self-defined wire shape of a Datapath frame: a oneof
// of Init (only legal as the first message of a stream) or Data (an opaque
// payload for every subsequent message). Field numbers are this repo's own
// choice — the real Ray client wire format is out of scope (spec.md §1) —
// but the shape is exactly what spec.md §4.E needs to perform the handshake
// rewrite and detect protocol errors.
type DataMessage struct {
	Init *InitPayload
	Data []byte
}

// InitPayload is the payload of the oneof "init" branch: the job config blob
// the handshake rewrite decodes, passes through env-prep, and re-encodes,
// plus a client-server id field that must survive the rewrite bit-identical
// (testable property: "all other fields bit-identical").
type InitPayload struct {
	JobConfig      []byte
	ClientServerID string
}

// IsInit reports whether m carries the init discriminator.
func (m *DataMessage) IsInit() bool {
	return m != nil && m.Init != nil
}
