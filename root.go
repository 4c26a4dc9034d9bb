package fdc3

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
)

// connState is the per-port bookkeeping RootAgent's dispatch loop keeps
// while a port progresses through the WCP state machine (spec.md §4.2's
// table). Unlike the teacher's Client, which owns exactly one transport,
// RootAgent owns one connState per inbound connection.
type connState struct {
	port Port
	hs   *handshakeState

	helloReceivedAt time.Time
}

type jobKind int

const (
	jobFrame jobKind = iota
	jobDisconnect
)

// job is what flows through RootAgent's inbox — the single channel that
// makes "no locks" literal (SPEC_FULL.md §7): every port's read-loop
// goroutine only ever enqueues here, never touches handler state.
type job struct {
	kind  jobKind
	state *connState
	raw   []byte
	err   error
}

// RootAgent is the root Desktop Agent: the single-threaded cooperative
// event loop from spec.md §5, implemented as one goroutine (run)
// draining inbox. ChannelHandler, IntentHandler, ChannelRegistry, and
// RootPublisher are all owned exclusively by that goroutine and carry
// no lock anywhere in their state.
type RootAgent struct {
	cfg AgentConfig

	publisher *RootPublisher
	channels  *ChannelHandler
	intents   *IntentHandler
	directory AppDirectoryClient
	implMeta  ImplementationMetadata

	metrics *Metrics
	audit   *AuditLog

	onError ErrorHandler

	inbox  chan job
	closed chan struct{}

	selfIdentity AppIdentifier
	selfProxy    *ProxyAgent
}

// NewRootAgent constructs a RootAgent and starts its dispatch loop.
// A nil onError is replaced by a handler that discards every error.
func NewRootAgent(cfg AgentConfig, onError ErrorHandler, opts ...AgentOption) (*RootAgent, error) {
	resolved, err := resolveConfig(cfg)
	if err != nil {
		return nil, err
	}
	if onError == nil {
		onError = func(SDKError) {}
	}

	o := agentDefaults(resolved)
	for _, opt := range opts {
		opt(&o)
	}
	if o.directory == nil {
		o.directory = NewHTTPAppDirectoryClient(resolved.AppDirectoryURL)
	}

	r := &RootAgent{
		cfg:       resolved,
		publisher: NewRootPublisher(onError),
		directory: o.directory,
		implMeta:  o.implMeta,
		metrics:   o.metrics,
		audit:     o.audit,
		onError:   onError,
		inbox:     make(chan job, 256),
		closed:    make(chan struct{}),
	}
	r.channels = NewChannelHandler(r.publisher)
	r.intents = NewIntentHandler(o.resolver, r.channels, r.publisher)

	r.setupSelfProxy()

	go r.run()
	return r, nil
}

// setupSelfProxy wires the root agent's own loopback identity, per the
// Design Note in spec.md §9: model the root-as-its-own-proxy as a single
// loopback port instead of special-casing the root AppIdentifier
// anywhere in fan-out logic.
func (r *RootAgent) setupSelfProxy() {
	rootSide, selfSide := newLoopbackPortPair()
	r.selfIdentity = AppIdentifier{AppID: "root", InstanceID: generateUUID()}

	state := &connState{
		port: rootSide,
		hs: &handshakeState{
			state:    portValidated,
			identity: r.selfIdentity,
		},
	}
	rootSide.SetMessageHandler(func(raw []byte) {
		r.inbox <- job{kind: jobFrame, state: state, raw: raw}
	})

	r.publisher.Register(r.selfIdentity, rootSide)
	r.selfProxy = newConnectedProxyAgent(selfSide, r.selfIdentity, r.onError)
}

// SelfProxy returns the ProxyAgent view of the root agent acting as its
// own in-process client (spec.md §9).
func (r *RootAgent) SelfProxy() *ProxyAgent {
	return r.selfProxy
}

// AcceptConnection adopts an inbound, already-upgraded WebSocket
// connection as a fresh bootstrap port awaiting WCP1Hello. server.go
// calls this straight out of its /fdc3/connect handler.
func (r *RootAgent) AcceptConnection(conn *websocket.Conn) {
	port := adoptWSConn(conn, "bootstrap")
	state := &connState{
		port: port,
		hs:   newHandshakeState("bootstrap", ""),
	}
	port.SetMessageHandler(func(raw []byte) {
		r.inbox <- job{kind: jobFrame, state: state, raw: raw}
	})
	port.OnDisconnect(func(err error) {
		r.inbox <- job{kind: jobDisconnect, state: state, err: err}
	})
}

// Close signals the dispatch loop to stop and returns without waiting
// for it. Jobs still queued in inbox at that point may be left
// unprocessed.
func (r *RootAgent) Close() error {
	close(r.closed)
	return r.audit.Close()
}

func (r *RootAgent) run() {
	for {
		select {
		case <-r.closed:
			return
		case j := <-r.inbox:
			switch j.kind {
			case jobFrame:
				r.handleFrame(j.state, j.raw)
			case jobDisconnect:
				r.handleDisconnect(j.state)
			}
		}
	}
}

func (r *RootAgent) handleFrame(state *connState, raw []byte) {
	var peek struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &peek); err != nil {
		r.onError(SDKError{Kind: ErrParseFailure, Raw: raw, Cause: err, Timestamp: getTimestamp()})
		return
	}

	switch state.hs.state {
	case portAwaitingValidate:
		r.handleHandshakeFrame(state, peek.Type, raw)
	case portValidated:
		r.handleValidatedFrame(state, peek.Type, raw)
	case portClosed:
		// A straggling frame from an already-torn-down port; drop.
	}
}

func (r *RootAgent) handleHandshakeFrame(state *connState, msgType string, raw []byte) {
	switch msgType {
	case WCPTypeHello:
		var hello WCP1Hello
		if err := json.Unmarshal(raw, &hello); err != nil {
			r.onError(SDKError{Kind: ErrParseFailure, MessageType: msgType, Raw: raw, Cause: err, Timestamp: getTimestamp()})
			return
		}
		state.helloReceivedAt = getTimestamp()
		state.hs.connectionAttemptUUID = hello.Meta.ConnectionAttemptUUID

		mintedPortID := generateUUID()
		resp := newWCP3Handshake(hello.Meta.ConnectionAttemptUUID, mintedPortID)
		// Sent while the port is still tagged "bootstrap" — the peer
		// hasn't retagged to mintedPortID yet either.
		if err := state.port.Send(resp); err != nil {
			return
		}
		if wp, ok := state.port.(*wsPort); ok {
			wp.retag(mintedPortID)
		}
		state.hs.portID = mintedPortID

	case WCPTypeValidateAppIdentity:
		var validate WCP4ValidateAppIdentity
		if err := json.Unmarshal(raw, &validate); err != nil {
			r.onError(SDKError{Kind: ErrParseFailure, MessageType: msgType, Raw: raw, Cause: err, Timestamp: getTimestamp()})
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		resp, identity, err := registerNewInstance(ctx, r.directory, validate, r.implMeta)
		if err != nil {
			// Directory lookup failure: no response, proxy stays
			// awaiting-validate until the child's discovery timeout
			// fires (spec.md §4.2's stated failure mode).
			r.onError(SDKError{Kind: ErrDirectoryFailed, MessageType: msgType, Cause: err, Timestamp: getTimestamp()})
			r.metrics.recordHandshake("directory_failure")
			return
		}

		state.hs.state = portValidated
		state.hs.identity = identity
		r.publisher.Register(identity, state.port)
		state.port.Send(resp)

		r.metrics.recordHandshake("success")
		if r.metrics != nil && !state.helloReceivedAt.IsZero() {
			r.metrics.HandshakeLatency.Observe(getTimestamp().Sub(state.helloReceivedAt).Seconds())
		}
		r.metrics.proxyConnected()
		r.audit.recordHandshake(identity)

	default:
		r.onError(SDKError{
			Kind:        ErrProtocolViolation,
			MessageType: msgType,
			Timestamp:   getTimestamp(),
		})
	}
}

func (r *RootAgent) handleValidatedFrame(state *connState, msgType string, raw []byte) {
	if msgType == WCPTypeValidateAppIdentity {
		// A WCP4 arriving on an already-validated port is a protocol
		// error: logged, not fatal (spec.md §4.2).
		r.onError(SDKError{
			Kind:        ErrProtocolViolation,
			MessageType: msgType,
			Source:      state.hs.identity,
			Timestamp:   getTimestamp(),
		})
		return
	}

	var req RequestMessage
	if err := json.Unmarshal(raw, &req); err != nil || req.Type == "" {
		r.onError(SDKError{
			Kind:        ErrParseFailure,
			MessageType: msgType,
			Source:      state.hs.identity,
			Raw:         raw,
			Timestamp:   getTimestamp(),
		})
		return
	}

	identity := state.hs.identity
	resp := r.routeRequest(identity, req)

	accepted := wireErrorFromResponse(resp) == nil
	if req.Type == TypeBroadcastRequest && accepted {
		r.metrics.broadcastAccepted()
	}
	if req.Type == TypeRaiseIntentRequest {
		if accepted {
			r.metrics.intentRaised()
		}
		r.audit.recordIntentRaised(identity, "")
	}

	r.publisher.publishResponseMessage(resp, identity)
}

// routeRequest dispatches req to whichever handler owns its message
// type, or synthesizes a MalformedMessage response (spec.md §9's
// "unknown types are a single malformed branch" Design Note).
func (r *RootAgent) routeRequest(from AppIdentifier, req RequestMessage) ResponseMessage {
	if r.channels.table.has(req.Type) {
		return r.channels.Dispatch(from, req)
	}
	if r.intents.table.has(req.Type) {
		return r.intents.Dispatch(from, req)
	}
	return newErrorResponse(req.Type+"Response", req.Meta.RequestUUID, from, ErrMalformedMessage)
}

func (r *RootAgent) handleDisconnect(state *connState) {
	if state.hs.state != portValidated {
		state.hs.state = portClosed
		return
	}
	identity := state.hs.identity
	state.hs.state = portClosed

	r.publisher.Unregister(identity)
	r.channels.CleanupDisconnectedProxy(identity)
	r.intents.CleanupDisconnectedProxy(identity)

	r.metrics.proxyDisconnected()
	r.audit.recordDisconnect(identity)
}
