package service

import (
	"encoding/json"
	"io"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"sessionproxy/domain"
	"sessionproxy/helpers"
	"sessionproxy/service/wire"
)

// forwarderJoinDeadline bounds how long DataProxy/LogProxy wait for the
// inbound-forwarder goroutine on exit (spec.md §5: "forwarder is joined
// with a 1 s bound (leaked thread tolerated)").
const forwarderJoinDeadline = time.Second

// EnvPrepFunc mutates a decoded JobConfig before it is forwarded to the
// backend (spec.md §4.E step 3: "pluggable env-prep hook"). The default is
// identity, matching the original's ray_client_server_env_prep.
type EnvPrepFunc func(domain.JobConfig) domain.JobConfig

func identityEnvPrep(c domain.JobConfig) domain.JobConfig { return c }

// DataProxy is the only component that spawns backends. It performs the
// handshake rewrite on the first Datapath message, then splices the
// remaining inbound stream to the backend (spec.md §4.E).
type DataProxy struct {
	manager *ProxyManager
	envPrep EnvPrepFunc
	logger  log.Logger
}

// NewDataProxy panics on nil manager/logger.
//
// Parameters: manager — ProxyManager used to spawn the backend and resolve its channel; envPrep — job-config hook, defaults to identity when nil; logger — base logger, tagged with component=data_proxy.
//
// Returns: a ready-to-use *DataProxy.
//
// Called only from NewProxier.
func NewDataProxy(manager *ProxyManager, envPrep EnvPrepFunc, logger log.Logger) *DataProxy {
	if envPrep == nil {
		envPrep = identityEnvPrep
	}
	return &DataProxy{
		manager: helpers.NilPanic(manager, "service.data_proxy.go: manager is required"),
		envPrep: envPrep,
		logger:  log.With(helpers.NilPanic(logger, "service.data_proxy.go: logger is required"), "component", "data_proxy"),
	}
}

// Handler implements the Datapath bidirectional stream (spec.md §4.E steps 1-9): require client_id, read the first frame and require it to be the init variant, rewrite the handshake and enqueue it ahead of the live forwarder, StartBackend, GetChannel, splice the remaining inbound stream to the backend, relay responses back.
//
// Parameters: stream — the server-side stream Bootstrap's UnknownServiceHandler hands it; the first parameter (service receiver) is unused.
//
// Returns: nil on a clean relay to stream exhaustion; ErrMissingClientID, ErrProtocolError, ErrBackendStartupFailed, ErrNoBackend or a transport error otherwise.
//
// Called from NewProxier's UnknownServiceHandler dispatch for domain.DataStreamMethod.
func (p *DataProxy) Handler(_ any, stream grpc.ServerStream) error {
	md, _ := metadata.FromIncomingContext(stream.Context())
	clientID, ok := helpers.GetClientID(md)
	if !ok {
		return ErrMissingClientID
	}

	first := &wire.Frame{}
	if err := stream.RecvMsg(first); err != nil {
		return err
	}
	msg, err := wire.DecodeDataMessage(first.Data)
	if err != nil || !msg.IsInit() {
		return ErrProtocolError
	}

	jobConfig, rewritten, err := p.rewriteHandshake(msg)
	if err != nil {
		return ErrProtocolError
	}

	queue := newSpliceQueue()
	queue.push(rewritten)

	alive, err := p.manager.StartBackend(stream.Context(), clientID, jobConfig)
	if err != nil {
		return err
	}
	if !alive {
		level.Error(p.logger).Log("msg", "backend startup failed", "client_id", clientID)
		return ErrBackendStartupFailed
	}

	conn, err := p.manager.GetChannel(clientID)
	if err != nil {
		level.Error(p.logger).Log("msg", "no channel after start", "client_id", clientID, "err", err)
		return err
	}

	done := p.startInboundForwarder(stream, queue)
	defer p.joinForwarder(done)

	outCtx := metadata.NewOutgoingContext(stream.Context(), helpers.OutgoingClientID(clientID))
	backendStream, err := conn.NewStream(outCtx, &grpc.StreamDesc{ServerStreams: true, ClientStreams: true}, domain.DataStreamMethod)
	if err != nil {
		return err
	}

	go pumpQueueToBackend(queue, backendStream)

	return relayBackendToClient(backendStream, stream)
}

// rewriteHandshake decodes msg.Init.JobConfig (defaulting when empty),
// passes it through envPrep, re-encodes, and returns both the JobConfig
// StartBackend needs and the rewritten first frame (spec.md §8 invariant 3).
func (p *DataProxy) rewriteHandshake(msg *domain.DataMessage) (domain.JobConfig, []byte, error) {
	jobConfig := domain.DefaultJobConfig()
	if len(msg.Init.JobConfig) > 0 {
		if err := json.Unmarshal(msg.Init.JobConfig, &jobConfig); err != nil {
			return domain.JobConfig{}, nil, err
		}
	}
	jobConfig = p.envPrep(jobConfig)

	encodedConfig, err := json.Marshal(jobConfig)
	if err != nil {
		return domain.JobConfig{}, nil, err
	}

	rewritten := &domain.DataMessage{Init: &domain.InitPayload{
		JobConfig:      encodedConfig,
		ClientServerID: msg.Init.ClientServerID,
	}}
	return jobConfig, wire.EncodeDataMessage(rewritten), nil
}

// startInboundForwarder pulls every subsequent inbound message onto queue,
// then pushes the sentinel (spec.md §4.E step 7). Any transport error is
// logged at debug and treated as end-of-input.
func (p *DataProxy) startInboundForwarder(stream grpc.ServerStream, queue *spliceQueue) <-chan struct{} {
	return startInboundForwarder(stream, queue, p.logger)
}

func (p *DataProxy) joinForwarder(done <-chan struct{}) {
	joinForwarder(done)
}

// startInboundForwarder is shared by DataProxy and LogProxy.
func startInboundForwarder(stream grpc.ServerStream, queue *spliceQueue, logger log.Logger) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			frame := &wire.Frame{}
			if err := stream.RecvMsg(frame); err != nil {
				if err != io.EOF {
					level.Debug(logger).Log("msg", "closing inbound forwarder", "err", err)
				}
				queue.pushSentinel()
				return
			}
			queue.push(frame.Data)
		}
	}()
	return done
}

func joinForwarder(done <-chan struct{}) {
	select {
	case <-done:
	case <-time.After(forwarderJoinDeadline):
	}
}

// pumpQueueToBackend drains queue until the sentinel, forwarding every
// frame to the backend stream, then half-closes it.
func pumpQueueToBackend(queue *spliceQueue, backendStream grpc.ClientStream) {
	for {
		data, ok := queue.pop()
		if !ok {
			_ = backendStream.CloseSend()
			return
		}
		if err := backendStream.SendMsg(&wire.Frame{Data: data}); err != nil {
			return
		}
	}
}

// relayBackendToClient forwards every backend response to the client until
// EOF, returning nil on clean completion (spec.md §4.E step 9 / §4.F step 4).
func relayBackendToClient(backendStream grpc.ClientStream, clientStream grpc.ServerStream) error {
	for {
		frame := &wire.Frame{}
		if err := backendStream.RecvMsg(frame); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		if err := clientStream.SendMsg(frame); err != nil {
			return err
		}
	}
}
