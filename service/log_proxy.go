package service

import (
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"sessionproxy/domain"
	"sessionproxy/helpers"
)

// LogRetryCount and LogRetryInterval bound how long LogProxy waits for
// DataProxy to have provisioned a backend before giving up (spec.md §4.F:
// "five attempts spaced 2 s apart").
const (
	LogRetryCount    = 5
	LogRetryInterval = 2 * time.Second
)

// LogProxy relays the Logstream RPC. It never spawns a backend; it depends
// on DataProxy having already done so for the same client_id, retrying
// GetChannel to tolerate the log stream arriving first (spec.md §4.F).
type LogProxy struct {
	manager       *ProxyManager
	retryCount    int
	retryInterval time.Duration
	logger        log.Logger
}

// NewLogProxy panics on nil manager/logger.
//
// Parameters: manager — ProxyManager used to resolve the caller's backend channel (never to spawn one); retryCount — GetChannel retry attempts, <=0 defaults to LogRetryCount; retryInterval — delay between attempts, <=0 defaults to LogRetryInterval; logger — base logger, tagged with component=log_proxy.
//
// Returns: a ready-to-use *LogProxy.
//
// Called only from NewProxier.
func NewLogProxy(manager *ProxyManager, retryCount int, retryInterval time.Duration, logger log.Logger) *LogProxy {
	if retryCount <= 0 {
		retryCount = LogRetryCount
	}
	if retryInterval <= 0 {
		retryInterval = LogRetryInterval
	}
	return &LogProxy{
		manager:       helpers.NilPanic(manager, "service.log_proxy.go: manager is required"),
		retryCount:    retryCount,
		retryInterval: retryInterval,
		logger:        log.With(helpers.NilPanic(logger, "service.log_proxy.go: logger is required"), "component", "log_proxy"),
	}
}

// Handler implements the Logstream bidirectional stream (spec.md §4.F): require client_id, retry GetChannel via awaitChannel since this stream may arrive before DataProxy has provisioned the backend, then splice the stream to the backend exactly like DataProxy's post-handshake relay.
//
// Parameters: stream — the server-side stream Bootstrap's UnknownServiceHandler hands it; the first parameter (service receiver) is unused.
//
// Returns: nil on a clean relay to stream exhaustion; ErrMissingClientID, ErrNoBackend (after retryCount attempts) or a transport error otherwise.
//
// Called from NewProxier's UnknownServiceHandler dispatch for domain.LogStreamMethod.
func (p *LogProxy) Handler(_ any, stream grpc.ServerStream) error {
	md, _ := metadata.FromIncomingContext(stream.Context())
	clientID, ok := helpers.GetClientID(md)
	if !ok {
		return ErrMissingClientID
	}

	conn, err := p.awaitChannel(clientID)
	if err != nil {
		return err
	}

	queue := newSpliceQueue()
	done := startInboundForwarder(stream, queue, p.logger)
	defer joinForwarder(done)

	outCtx := metadata.NewOutgoingContext(stream.Context(), helpers.OutgoingClientID(clientID))
	backendStream, err := conn.NewStream(outCtx, &grpc.StreamDesc{ServerStreams: true, ClientStreams: true}, domain.LogStreamMethod)
	if err != nil {
		return err
	}

	go pumpQueueToBackend(queue, backendStream)

	return relayBackendToClient(backendStream, stream)
}

// awaitChannel retries GetChannel up to retryCount times, retryInterval
// apart; first success wins, exhaustion surfaces ErrNoBackend (-> NotFound).
func (p *LogProxy) awaitChannel(clientID domain.ClientId) (*grpc.ClientConn, error) {
	var lastErr error
	for attempt := 0; attempt < p.retryCount; attempt++ {
		conn, err := p.manager.GetChannel(clientID)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		level.Debug(p.logger).Log("msg", "log stream waiting for backend", "client_id", clientID, "attempt", attempt)
		if attempt < p.retryCount-1 {
			time.Sleep(p.retryInterval)
		}
	}
	return nil, lastErr
}
