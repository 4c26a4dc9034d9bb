package fdc3

// RootPublisher maintains the `AppIdentifier ↔ Port` mapping and is the
// sole component that knows how to get a message to a specific proxy
// (spec.md §4.4). Per the Design Note in spec.md §9 ("model [the root's
// self-proxy] as a single loopback port rather than special-casing the
// root AppIdentifier"), the root's own identity is registered exactly
// like any other proxy — backed by a loopbackPort instead of a wsPort —
// so publishResponseMessage and publishEvent need no self/remote branch
// at all; both simply dispatch through the same lookup.
type RootPublisher struct {
	ports       map[AppIdentifier]Port
	errHandler  ErrorHandler
}

func NewRootPublisher(errHandler ErrorHandler) *RootPublisher {
	return &RootPublisher{
		ports:      make(map[AppIdentifier]Port),
		errHandler: errHandler,
	}
}

// Register binds who to port, called once WCP5ValidateAppIdentityResponse
// has been constructed (never earlier — see SPEC_FULL.md §7's ordering
// guarantee).
func (p *RootPublisher) Register(who AppIdentifier, port Port) {
	p.ports[who] = port
}

// Unregister drops who's mapping, called from cleanupDisconnectedProxy.
func (p *RootPublisher) Unregister(who AppIdentifier) {
	delete(p.ports, who)
}

// PortFor exposes the registered Port, used by RootAgent to detect
// whether a source is currently connected before dispatching its request.
func (p *RootPublisher) PortFor(who AppIdentifier) (Port, bool) {
	port, ok := p.ports[who]
	return port, ok
}

// publishResponseMessage delivers msg to target, the AppIdentifier of
// the proxy that originated the request msg answers.
func (p *RootPublisher) publishResponseMessage(msg ResponseMessage, target AppIdentifier) {
	port, ok := p.ports[target]
	if !ok {
		p.logUnknownTarget(target, msg.Type)
		return
	}
	if err := port.Send(msg); err != nil {
		// A send failure here means the port is mid-teardown; the
		// disconnect handler will run cleanupDisconnectedProxy shortly.
		return
	}
}

// publishEvent fans msg out to every AppIdentifier in targets. Unknown
// targets are logged and silently dropped (spec.md §4.4).
func (p *RootPublisher) publishEvent(msg EventMessage, targets []AppIdentifier) {
	for _, target := range targets {
		port, ok := p.ports[target]
		if !ok {
			p.logUnknownTarget(target, msg.Type)
			continue
		}
		_ = port.Send(msg)
	}
}

func (p *RootPublisher) logUnknownTarget(target AppIdentifier, msgType string) {
	if p.errHandler == nil {
		return
	}
	p.errHandler(SDKError{
		Kind:        ErrUnknownTarget,
		MessageType: msgType,
		Source:      target,
		Timestamp:   getTimestamp(),
	})
}
