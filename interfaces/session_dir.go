package interfaces

// SessionDirResolver performs the one-shot cluster connect-and-disconnect
// that reads the session directory string (spec.md §4.C session_dir()).
// Implemented by adapters.RedisSessionDirResolver; faked in tests.
//
//go:generate moq -stub -out mock/session_dir.go -pkg mock . SessionDirResolver
type SessionDirResolver interface {
	// Resolve performs the probe and returns the session directory path.
	// Called at most once per ProxyManager (the result is memoized by the
	// caller), unless a prior call returned an error.
	Resolve() (string, error)
}
