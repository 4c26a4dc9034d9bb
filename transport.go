package fdc3

// Port is the internal interface RootAgent and ProxyAgent use for
// message delivery — the domain counterpart of a browser `MessagePort`
// (spec.md §4.1). The current implementation multiplexes over a
// `gorilla/websocket` connection (`wsPort`, transport_ws.go) for
// cross-process proxies, or runs entirely in-process over Go channels
// (`loopbackPort`, transport_loopback.go) for the root agent's own
// self-proxy. Grounded on the teacher's `transport` interface
// (formerly in this file), trimmed to the one concern FDC3 actually
// needs: ship an envelope, receive one, learn about disconnects.
type Port interface {
	// Send ships env (a RequestMessage, ResponseMessage, or
	// EventMessage) to whatever sits on the other end. Never blocks on
	// a reply (spec.md §4.1).
	Send(env any) error

	// SetMessageHandler registers the callback invoked for every
	// inbound frame's raw JSON payload. There is no id filtering at
	// this layer — correlation by requestUuid or listenerUUID happens
	// above.
	SetMessageHandler(fn func(payload []byte))

	// OnDisconnect registers a callback fired once, when the transport
	// closes — used by RootAgent to run cleanupDisconnectedProxy.
	OnDisconnect(fn func(error))

	Close() error
}
