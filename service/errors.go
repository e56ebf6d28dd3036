package service

import "errors"

// Sentinel errors for the taxonomy in spec.md §7. proxyErrorToGRPC maps
// each to the gRPC status code named there.
var (
	// ErrMissingClientID is returned when no client_id metadata is present.
	ErrMissingClientID = errors.New("sessionproxy: missing client_id metadata")

	// ErrNoBackend is returned when a record is absent or its channel never
	// became ready.
	ErrNoBackend = errors.New("sessionproxy: no backend for client")

	// ErrBackendStartupFailed is returned when the child exited before
	// crossing the startup fence, or the launch handler itself errored.
	ErrBackendStartupFailed = errors.New("sessionproxy: backend startup failed")

	// ErrProtocolError is returned when the first Datapath message is not
	// the init variant.
	ErrProtocolError = errors.New("sessionproxy: first datapath message must be init")
)
