package helpers

import (
	"google.golang.org/grpc/metadata"

	"sessionproxy/domain"
)

// GetClientID returns the client_id metadata value carried by every inbound
// call (spec.md §3: "opaque non-empty string supplied in every request's
// metadata under key client_id").
func GetClientID(md metadata.MD) (domain.ClientId, bool) {
	if md == nil {
		return "", false
	}
	vals := md.Get(domain.ClientIDMetadataKey)
	if len(vals) == 0 || vals[0] == "" {
		return "", false
	}
	return domain.ClientId(vals[0]), true
}

// OutgoingClientID builds the outgoing metadata forwarded to the backend,
// carrying the same client_id the inbound call had.
func OutgoingClientID(id domain.ClientId) metadata.MD {
	return metadata.Pairs(domain.ClientIDMetadataKey, string(id))
}
