package fdc3

// requestHandlerFunc answers one RequestMessage from a validated proxy,
// returning the ResponseMessage to send back. Unlike the teacher's
// HandlerFunc, it never returns a Go error: every failure mode the
// channel and intent handlers can hit has a WireError, and the contract
// is that a response always goes back (spec.md §4.3's handlers never
// leave a request unanswered).
type requestHandlerFunc func(from AppIdentifier, req RequestMessage) ResponseMessage

// dispatchTable is a message-type → handler map, the domain adaptation
// of the teacher's handlerRegistry. It drops the teacher's mutex and
// manualAck option: both ChannelHandler and IntentHandler are owned
// exclusively by RootAgent's single dispatch goroutine (SPEC_FULL.md
// §7), and every handler here always acks synchronously with a response.
type dispatchTable struct {
	handlers map[string]requestHandlerFunc
}

func newDispatchTable() *dispatchTable {
	return &dispatchTable{handlers: make(map[string]requestHandlerFunc)}
}

// register panics on a duplicate message type — this is a wiring bug
// caught at construction time, never a runtime condition.
func (t *dispatchTable) register(msgType string, fn requestHandlerFunc) {
	if _, exists := t.handlers[msgType]; exists {
		panic("fdc3: duplicate dispatch handler for " + msgType)
	}
	t.handlers[msgType] = fn
}

func (t *dispatchTable) lookup(msgType string) (requestHandlerFunc, bool) {
	fn, ok := t.handlers[msgType]
	return fn, ok
}

// has reports whether msgType is registered in this table, used by
// RootAgent.routeRequest to pick between the channel and intent tables
// before dispatching.
func (t *dispatchTable) has(msgType string) bool {
	_, ok := t.handlers[msgType]
	return ok
}

// dispatch runs the registered handler for req.Type, or synthesizes a
// MalformedMessage response if no handler is registered — the catch-all
// spec.md §7 requires for any frame the broker cannot interpret.
func (t *dispatchTable) dispatch(from AppIdentifier, req RequestMessage) ResponseMessage {
	fn, ok := t.lookup(req.Type)
	if !ok {
		return newErrorResponse(req.Type+"Response", req.Meta.RequestUUID, AppIdentifier{}, ErrMalformedMessage)
	}
	return fn(from, req)
}
