package fdc3

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ProxyConfig configures a ProxyAgent, the per-window client view of the
// Desktop Agent (spec.md Glossary).
type ProxyConfig struct {
	URL         string
	ActualURL   string
	IdentityURL string // defaults to ActualURL, per spec.md §4.2
	FDC3Version string

	// DiscoveryTimeout bounds the whole of Connect, from the dial through
	// WCP5ValidateAppIdentityResponse; default 750ms (spec.md §5).
	DiscoveryTimeout time.Duration

	// AutoReconnect, if true, makes the proxy redial with exponential
	// backoff whenever its port drops after a successful Connect. Listener
	// and ACL state on the root side is lost across a reconnect exactly as
	// it would be for any fresh proxy — spec.md §4.3's disconnect cleanup
	// already runs when the old port closes.
	AutoReconnect    bool
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration
}

func resolveProxyConfig(cfg ProxyConfig) ProxyConfig {
	if cfg.IdentityURL == "" {
		cfg.IdentityURL = cfg.ActualURL
	}
	if cfg.FDC3Version == "" {
		cfg.FDC3Version = "2.2"
	}
	if cfg.DiscoveryTimeout <= 0 {
		cfg.DiscoveryTimeout = 750 * time.Millisecond
	}
	if cfg.ReconnectInitial <= 0 {
		cfg.ReconnectInitial = 1 * time.Second
	}
	if cfg.ReconnectMax <= 0 {
		cfg.ReconnectMax = 30 * time.Second
	}
	return cfg
}

type pendingResponse struct {
	ch chan ResponseMessage
}

// ProxyAgent is the per-window client view of the Desktop Agent
// (spec.md §4.1). It owns one Port, correlates requests to responses by
// requestUuid the way the teacher's Client correlates by DIDComm thread
// id (client.go's `pending sync.Map`), and dispatches inbound
// EventMessages to locally registered listener callbacks.
type ProxyAgent struct {
	cfg ProxyConfig

	mu        sync.Mutex
	port      Port
	identity  AppIdentifier
	connected bool
	closing   bool

	pending    sync.Map // requestUUID -> *pendingResponse
	pendingWCP sync.Map // connectionAttemptUUID -> chan json.RawMessage

	ctxListeners  map[string]func(Context)
	evtListeners  map[string]func(EventMessage)
	privListeners map[string]func(EventMessage)
	intentResults map[string]func(Context) // intentResolutionId -> callback

	reconnectDelay time.Duration // current exponential-backoff delay, guarded by mu

	onError ErrorHandler
}

func NewProxyAgent(cfg ProxyConfig, onError ErrorHandler) *ProxyAgent {
	if onError == nil {
		onError = func(SDKError) {}
	}
	return &ProxyAgent{
		cfg:           resolveProxyConfig(cfg),
		ctxListeners:  make(map[string]func(Context)),
		evtListeners:  make(map[string]func(EventMessage)),
		privListeners: make(map[string]func(EventMessage)),
		intentResults: make(map[string]func(Context)),
		onError:       onError,
	}
}

// newConnectedProxyAgent builds a ProxyAgent already past the WCP
// handshake, wired directly to port under identity. Used by RootAgent to
// construct its own self-proxy over a loopbackPort (spec.md §9's Design
// Note) — the root never dials itself through WCP1-5, it already knows
// its own identity.
func newConnectedProxyAgent(port Port, identity AppIdentifier, onError ErrorHandler) *ProxyAgent {
	if onError == nil {
		onError = func(SDKError) {}
	}
	p := &ProxyAgent{
		cfg:           resolveProxyConfig(ProxyConfig{}),
		port:          port,
		identity:      identity,
		connected:     true,
		ctxListeners:  make(map[string]func(Context)),
		evtListeners:  make(map[string]func(EventMessage)),
		privListeners: make(map[string]func(EventMessage)),
		intentResults: make(map[string]func(Context)),
		onError:       onError,
	}
	port.SetMessageHandler(p.handleInbound)
	return p
}

// Connect performs the full WCP1-4 handshake from the child's side and
// blocks until WCP5ValidateAppIdentityResponse arrives or
// cfg.DiscoveryTimeout expires (spec.md §4.2, §5).
func (p *ProxyAgent) Connect(ctx context.Context) error {
	p.mu.Lock()
	if p.connected {
		p.mu.Unlock()
		return ErrAlreadyConnected
	}
	p.mu.Unlock()

	discoverCtx, cancel := context.WithTimeout(ctx, p.cfg.DiscoveryTimeout)
	defer cancel()

	port, err := dialWSPort(discoverCtx, p.cfg.URL, "bootstrap")
	if err != nil {
		return err
	}
	port.SetMessageHandler(p.handleInbound)
	port.OnDisconnect(func(err error) {
		p.mu.Lock()
		p.connected = false
		p.mu.Unlock()
		if p.cfg.AutoReconnect {
			go p.reconnectLoop()
		}
	})

	hello := newWCP1Hello(p.cfg.ActualURL, p.cfg.IdentityURL, p.cfg.FDC3Version)

	handshakeCh := make(chan json.RawMessage, 1)
	p.pendingWCP.Store(hello.Meta.ConnectionAttemptUUID, handshakeCh)
	defer p.pendingWCP.Delete(hello.Meta.ConnectionAttemptUUID)

	if err := port.Send(hello); err != nil {
		port.Close()
		return err
	}

	var handshake WCP3Handshake
	select {
	case raw := <-handshakeCh:
		if err := json.Unmarshal(raw, &handshake); err != nil {
			port.Close()
			return &HandshakeError{Stage: "handshake", Reason: err.Error()}
		}
	case <-discoverCtx.Done():
		port.Close()
		return ErrDiscoveryTimedOut
	}

	port.retag(handshake.Payload.PortID)

	validate := WCP4ValidateAppIdentity{
		Type: WCPTypeValidateAppIdentity,
		Meta: wcpMeta{ConnectionAttemptUUID: hello.Meta.ConnectionAttemptUUID},
		Payload: wcp4ValidatePayload{
			ActualURL:   p.cfg.ActualURL,
			IdentityURL: p.cfg.IdentityURL,
		},
	}

	validateCh := make(chan json.RawMessage, 1)
	p.pendingWCP.Store(validate.Meta.ConnectionAttemptUUID, validateCh)
	defer p.pendingWCP.Delete(validate.Meta.ConnectionAttemptUUID)

	if err := port.Send(validate); err != nil {
		port.Close()
		return err
	}

	var validated WCP5ValidateAppIdentityResponse
	select {
	case raw := <-validateCh:
		if err := json.Unmarshal(raw, &validated); err != nil {
			port.Close()
			return &HandshakeError{Stage: "validate-response", Reason: err.Error()}
		}
	case <-discoverCtx.Done():
		port.Close()
		return ErrDiscoveryTimedOut
	}

	p.mu.Lock()
	p.port = port
	p.identity = AppIdentifier{AppID: validated.Payload.AppID, InstanceID: validated.Payload.InstanceID}
	p.connected = true
	p.reconnectDelay = p.cfg.ReconnectInitial
	p.mu.Unlock()

	return nil
}

// nextReconnectDelay returns the delay reconnectLoop should sleep before
// its next redial attempt and doubles the running delay for next time,
// capped at cfg.ReconnectMax. A successful Connect resets the running
// delay back to cfg.ReconnectInitial.
func (p *ProxyAgent) nextReconnectDelay() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.reconnectDelay <= 0 {
		p.reconnectDelay = p.cfg.ReconnectInitial
	}
	d := p.reconnectDelay
	if d > p.cfg.ReconnectMax {
		d = p.cfg.ReconnectMax
	}
	p.reconnectDelay *= 2
	if p.reconnectDelay > p.cfg.ReconnectMax {
		p.reconnectDelay = p.cfg.ReconnectMax
	}
	return d
}

// reconnectLoop redials with exponential backoff until Connect succeeds
// or the proxy is closed out from under it. Every listener and ACL grant
// the root side held for this proxy is gone by the time this succeeds —
// the caller must re-register after a reconnect, the same as after any
// fresh Connect.
func (p *ProxyAgent) reconnectLoop() {
	for {
		p.mu.Lock()
		closing := p.closing
		p.mu.Unlock()
		if closing {
			return
		}

		time.Sleep(p.nextReconnectDelay())

		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.DiscoveryTimeout)
		err := p.Connect(ctx)
		cancel()
		if err == nil {
			return
		}
	}
}

func (p *ProxyAgent) Identity() AppIdentifier {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.identity
}

func (p *ProxyAgent) Close() error {
	p.mu.Lock()
	port := p.port
	p.connected = false
	p.closing = true
	p.mu.Unlock()
	if port == nil {
		return nil
	}
	return port.Close()
}

// Request sends msgType/payload and blocks for the matching response,
// correlated by requestUuid (spec.md §4.5), or until ctx expires.
func (p *ProxyAgent) Request(ctx context.Context, msgType string, payload any) (ResponseMessage, error) {
	p.mu.Lock()
	if !p.connected {
		p.mu.Unlock()
		return ResponseMessage{}, ErrNotConnected
	}
	port, identity := p.port, p.identity
	p.mu.Unlock()

	req := createRequestMessage(msgType, identity, payload)

	respCh := make(chan ResponseMessage, 1)
	p.pending.Store(req.Meta.RequestUUID, &pendingResponse{ch: respCh})
	defer p.pending.Delete(req.Meta.RequestUUID)

	if err := port.Send(req); err != nil {
		return ResponseMessage{}, err
	}

	select {
	case resp := <-respCh:
		return resp, nil
	case <-ctx.Done():
		return ResponseMessage{}, ctx.Err()
	}
}

// handleInbound is the Port's single message handler, fanning inbound
// frames out to WCP correlation, request/response correlation, or event
// dispatch — mirroring the teacher's Client.handleInboundMessage.
func (p *ProxyAgent) handleInbound(payload []byte) {
	var peek struct {
		Type string `json:"type"`
		Meta json.RawMessage
	}
	if err := json.Unmarshal(payload, &peek); err != nil {
		p.onError(SDKError{Kind: ErrParseFailure, Raw: payload, Cause: err, Timestamp: getTimestamp()})
		return
	}

	switch peek.Type {
	case WCPTypeHandshake, WCPTypeValidateAppIdentityReply:
		var meta wcpMeta
		_ = json.Unmarshal(peek.Meta, &meta)
		if ch, ok := p.pendingWCP.Load(meta.ConnectionAttemptUUID); ok {
			ch.(chan json.RawMessage) <- payload
		}
		return
	}

	var resp ResponseMessage
	if err := json.Unmarshal(payload, &resp); err == nil && resp.Meta.RequestUUID != "" && resp.Meta.ResponseUUID != "" {
		if v, ok := p.pending.LoadAndDelete(resp.Meta.RequestUUID); ok {
			v.(*pendingResponse).ch <- resp
			return
		}
	}

	var evt EventMessage
	if err := json.Unmarshal(payload, &evt); err == nil && evt.Meta.EventUUID != "" {
		p.dispatchEvent(evt)
		return
	}

	p.onError(SDKError{Kind: ErrParseFailure, MessageType: peek.Type, Raw: payload, Timestamp: getTimestamp()})
}

func (p *ProxyAgent) dispatchEvent(evt EventMessage) {
	switch evt.Type {
	case TypeBroadcastEvent:
		var payload struct {
			Context Context `json:"context"`
		}
		if decodePayload(evt.Payload, &payload) == nil {
			for _, cb := range p.ctxListeners {
				cb(payload.Context)
			}
		}
	case TypeChannelChangedEvent:
		for _, cb := range p.evtListeners {
			cb(evt)
		}
	case TypePrivateChOnAddContextListenerEvt, TypePrivateChOnUnsubscribeEvt, TypePrivateChOnDisconnectEvt:
		for _, cb := range p.privListeners {
			cb(evt)
		}
	case TypeIntentEvent:
		var payload struct {
			IntentResolutionID string  `json:"intentResolutionId"`
			Result             Context `json:"result"`
		}
		if decodePayload(evt.Payload, &payload) == nil {
			if cb, ok := p.intentResults[payload.IntentResolutionID]; ok {
				cb(payload.Result)
				delete(p.intentResults, payload.IntentResolutionID)
			}
		}
	}
}

// AddContextListener registers handler for contexts broadcast on
// channelID (nil for "whatever user channel I'm currently joined to")
// filtered by contextType (nil for "any type").
func (p *ProxyAgent) AddContextListener(ctx context.Context, channelID, contextType *string, handler func(Context)) (string, error) {
	resp, err := p.Request(ctx, TypeAddContextListenerReq, struct {
		ChannelID   *string `json:"channelId"`
		ContextType *string `json:"contextType"`
	}{channelID, contextType})
	if err != nil {
		return "", err
	}
	var out struct {
		ListenerUUID string    `json:"listenerUUID"`
		Error        WireError `json:"error"`
	}
	if decodePayload(resp.Payload, &out) != nil {
		return "", errors.New("malformed addContextListenerResponse")
	}
	if out.Error != "" {
		return "", fmt.Errorf("addContextListener: %s", out.Error)
	}
	p.ctxListeners[out.ListenerUUID] = handler
	return out.ListenerUUID, nil
}

// Broadcast publishes context on channelID.
func (p *ProxyAgent) Broadcast(ctx context.Context, channelID string, context Context) error {
	resp, err := p.Request(ctx, TypeBroadcastRequest, struct {
		ChannelID string  `json:"channelId"`
		Context   Context `json:"context"`
	}{channelID, context})
	if err != nil {
		return err
	}
	return wireErrorFromResponse(resp)
}

// JoinUserChannel joins the proxy to one of the configured user channels.
func (p *ProxyAgent) JoinUserChannel(ctx context.Context, channelID string) error {
	resp, err := p.Request(ctx, TypeJoinUserChannelRequest, struct {
		ChannelID string `json:"channelId"`
	}{channelID})
	if err != nil {
		return err
	}
	return wireErrorFromResponse(resp)
}

// LeaveCurrentChannel clears the proxy's joined user channel, if any.
func (p *ProxyAgent) LeaveCurrentChannel(ctx context.Context) error {
	resp, err := p.Request(ctx, TypeLeaveCurrentChannelRequest, struct{}{})
	if err != nil {
		return err
	}
	return wireErrorFromResponse(resp)
}

// GetCurrentContext returns the latest context of contextType (nil for
// any type) retained on channelID.
func (p *ProxyAgent) GetCurrentContext(ctx context.Context, channelID string, contextType *string) (Context, bool, error) {
	resp, err := p.Request(ctx, TypeGetCurrentContextReq, struct {
		ChannelID   string  `json:"channelId"`
		ContextType *string `json:"contextType"`
	}{channelID, contextType})
	if err != nil {
		return nil, false, err
	}
	if err := wireErrorFromResponse(resp); err != nil {
		return nil, false, err
	}
	var out struct {
		Context Context `json:"context"`
	}
	if decodePayload(resp.Payload, &out) != nil {
		return nil, false, errors.New("malformed getCurrentContextResponse")
	}
	return out.Context, out.Context != nil, nil
}

// RaiseIntent raises intent with context, invoking resultHandler exactly
// once when a result is returned (spec.md §9's stated-interface
// IntentResolver path is entirely server-side; the proxy only sees the
// eventual result).
func (p *ProxyAgent) RaiseIntent(ctx context.Context, intent string, context Context, resultHandler func(Context)) (string, error) {
	resp, err := p.Request(ctx, TypeRaiseIntentRequest, struct {
		Intent  string  `json:"intent"`
		Context Context `json:"context"`
	}{intent, context})
	if err != nil {
		return "", err
	}
	if err := wireErrorFromResponse(resp); err != nil {
		return "", err
	}
	var out struct {
		IntentResolutionID string `json:"intentResolutionId"`
	}
	if decodePayload(resp.Payload, &out) != nil {
		return "", errors.New("malformed raiseIntentResponse")
	}
	if resultHandler != nil {
		p.intentResults[out.IntentResolutionID] = resultHandler
	}
	return out.IntentResolutionID, nil
}

// AddEventListener subscribes to channelChangedEvent, under either
// EventKindUserChannelChanged or EventKindAllEvents (which matches
// channelChangedEvent only), invoking handler for each such EventMessage
// delivered to this proxy.
func (p *ProxyAgent) AddEventListener(ctx context.Context, kind EventKind, handler func(EventMessage)) (string, error) {
	resp, err := p.Request(ctx, TypeAddEventListenerReq, struct {
		EventKind EventKind `json:"eventKind"`
	}{kind})
	if err != nil {
		return "", err
	}
	var out struct {
		ListenerUUID string `json:"listenerUUID"`
	}
	if decodePayload(resp.Payload, &out) != nil {
		return "", errors.New("malformed addEventListenerResponse")
	}
	if handler != nil {
		p.evtListeners[out.ListenerUUID] = handler
	}
	return out.ListenerUUID, nil
}

// RemoveEventListener unsubscribes a listener previously registered with
// AddEventListener.
func (p *ProxyAgent) RemoveEventListener(ctx context.Context, listenerUUID string) error {
	resp, err := p.Request(ctx, TypeRemoveEventListenerReq, struct {
		ListenerUUID string `json:"listenerUUID"`
	}{listenerUUID})
	if err != nil {
		return err
	}
	if err := wireErrorFromResponse(resp); err != nil {
		return err
	}
	delete(p.evtListeners, listenerUUID)
	return nil
}

// AddIntentListener registers willingness to service intent, optionally
// scoped to resultType.
func (p *ProxyAgent) AddIntentListener(ctx context.Context, intent string, resultType *string) (string, error) {
	resp, err := p.Request(ctx, TypeAddIntentListenerReq, struct {
		Intent     string  `json:"intent"`
		ResultType *string `json:"resultType"`
	}{intent, resultType})
	if err != nil {
		return "", err
	}
	var out struct {
		ListenerUUID string `json:"listenerUUID"`
	}
	if decodePayload(resp.Payload, &out) != nil {
		return "", errors.New("malformed addIntentListenerResponse")
	}
	return out.ListenerUUID, nil
}

// wireErrorFromResponse inspects a generic {error: WireError} payload
// shape and converts a populated error field into a Go error.
func wireErrorFromResponse(resp ResponseMessage) error {
	var out struct {
		Error WireError `json:"error"`
	}
	if decodePayload(resp.Payload, &out) != nil {
		return nil
	}
	if out.Error == "" {
		return nil
	}
	return fmt.Errorf("fdc3: %s", out.Error)
}
