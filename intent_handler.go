package fdc3

// IntentListener is a registration of an app's willingness to service a
// named intent, optionally scoped to a result type it promises to
// return (SPEC_FULL.md §5).
type IntentListener struct {
	ListenerUUID string
	Owner        AppIdentifier
	Intent       string
	ResultType   *string
}

// IntentResolver picks one target out of several intent listeners that
// could all service a raised intent. It is the stated-only collaborator
// SPEC_FULL.md §8 calls for — the actual picker UI is explicitly out of
// scope (spec.md §1), exactly like the app directory.
type IntentResolver interface {
	Resolve(intent string, contextType string, candidates []IntentListener) (IntentListener, WireError)
}

// pendingIntent tracks a raiseIntentRequest awaiting its
// intentResultRequest, keyed by a minted intentResolutionId.
type pendingIntent struct {
	resolutionID string
	raiser       AppIdentifier
	requestUUID  string
	target       AppIdentifier
}

// IntentHandler owns the intent listener registry and the raise/resolve/
// result correlation flow (spec.md §2, 15% share). Like ChannelHandler
// it is owned exclusively by RootAgent's single dispatch goroutine and
// carries no lock.
type IntentHandler struct {
	listeners map[string]*IntentListener // listenerUUID -> listener
	byOwner   map[AppIdentifier]map[string]struct{}

	pending map[string]*pendingIntent // resolutionID -> pending

	resolver IntentResolver
	channels *ChannelHandler // for GrantPrivateChannelAccess on result handback
	emitter  eventEmitter

	table *dispatchTable
}

func NewIntentHandler(resolver IntentResolver, channels *ChannelHandler, emitter eventEmitter) *IntentHandler {
	h := &IntentHandler{
		listeners: make(map[string]*IntentListener),
		byOwner:   make(map[AppIdentifier]map[string]struct{}),
		pending:   make(map[string]*pendingIntent),
		resolver:  resolver,
		channels:  channels,
		emitter:   emitter,
	}
	h.table = newDispatchTable()
	h.registerHandlers()
	return h
}

func (h *IntentHandler) Dispatch(from AppIdentifier, req RequestMessage) ResponseMessage {
	return h.table.dispatch(from, req)
}

func (h *IntentHandler) registerHandlers() {
	h.table.register(TypeAddIntentListenerReq, h.handleAddIntentListener)
	h.table.register(TypeRaiseIntentRequest, h.handleRaiseIntent)
	h.table.register(TypeIntentResultRequest, h.handleIntentResult)
}

// --- addIntentListenerRequest ---

func (h *IntentHandler) handleAddIntentListener(from AppIdentifier, req RequestMessage) ResponseMessage {
	var p struct {
		Intent     string  `json:"intent"`
		ResultType *string `json:"resultType"`
	}
	if err := decodePayload(req.Payload, &p); err != nil {
		return newErrorResponse(TypeAddIntentListenerResp, req.Meta.RequestUUID, from, ErrMalformedMessage)
	}
	l := &IntentListener{
		ListenerUUID: generateUUID(),
		Owner:        from,
		Intent:       p.Intent,
		ResultType:   p.ResultType,
	}
	h.listeners[l.ListenerUUID] = l
	owned, ok := h.byOwner[from]
	if !ok {
		owned = make(map[string]struct{})
		h.byOwner[from] = owned
	}
	owned[l.ListenerUUID] = struct{}{}

	type resp struct {
		ListenerUUID string `json:"listenerUUID"`
	}
	return createResponseMessage(TypeAddIntentListenerResp, resp{ListenerUUID: l.ListenerUUID}, req.Meta.RequestUUID, from)
}

// --- raiseIntentRequest ---

func (h *IntentHandler) handleRaiseIntent(from AppIdentifier, req RequestMessage) ResponseMessage {
	var p struct {
		Intent           string  `json:"intent"`
		Context          Context `json:"context"`
		TargetAppID      *string `json:"targetAppId"`
		TargetInstanceID *string `json:"targetInstanceId"`
	}
	if err := decodePayload(req.Payload, &p); err != nil {
		return newErrorResponse(TypeRaiseIntentResponse, req.Meta.RequestUUID, from, ErrMalformedMessage)
	}
	if !p.Context.isWellFormed() {
		return newErrorResponse(TypeRaiseIntentResponse, req.Meta.RequestUUID, from, ErrMalformedContext)
	}

	target, wireErr := h.resolveTarget(p.Intent, p.Context.Type(), p.TargetAppID, p.TargetInstanceID)
	if wireErr != "" {
		return newErrorResponse(TypeRaiseIntentResponse, req.Meta.RequestUUID, from, wireErr)
	}

	resolutionID := generateUUID()
	h.pending[resolutionID] = &pendingIntent{
		resolutionID: resolutionID,
		raiser:       from,
		requestUUID:  req.Meta.RequestUUID,
		target:       target,
	}

	type eventPayload struct {
		IntentResolutionID string        `json:"intentResolutionId"`
		Intent             string        `json:"intent"`
		Context            Context       `json:"context"`
		Source             AppIdentifier `json:"source"`
	}
	evt := createEvent(TypeIntentEvent, eventPayload{IntentResolutionID: resolutionID, Intent: p.Intent, Context: p.Context, Source: from})
	h.emitter.publishEvent(evt, []AppIdentifier{target})

	// raiseIntentRequest gets an immediate ack carrying intentResolutionId
	// (spec.md §5's IntentResolution); the eventual result travels later,
	// correlated by that id, as the intentEvent built in handleIntentResult.
	type ackPayload struct {
		IntentResolutionID string `json:"intentResolutionId"`
	}
	return createResponseMessage(TypeRaiseIntentResponse, ackPayload{IntentResolutionID: resolutionID}, req.Meta.RequestUUID, from)
}

// resolveTarget implements the explicit-target-or-resolver branch from
// SPEC_FULL.md §5.
func (h *IntentHandler) resolveTarget(intent, contextType string, targetAppID, targetInstanceID *string) (AppIdentifier, WireError) {
	if targetAppID != nil {
		want := AppIdentifier{AppID: *targetAppID}
		if targetInstanceID != nil {
			want.InstanceID = *targetInstanceID
		}
		for _, l := range h.listeners {
			if l.Intent != intent {
				continue
			}
			if l.Owner.AppID != want.AppID {
				continue
			}
			if want.InstanceID != "" && l.Owner.InstanceID != want.InstanceID {
				continue
			}
			return l.Owner, ""
		}
		return AppIdentifier{}, ErrTargetAppUnavailable
	}

	var candidates []IntentListener
	for _, l := range h.listeners {
		if l.Intent != intent {
			continue
		}
		if l.ResultType != nil && *l.ResultType != contextType {
			continue
		}
		candidates = append(candidates, *l)
	}
	if len(candidates) == 0 {
		return AppIdentifier{}, ErrNoAppsFound
	}
	if len(candidates) == 1 {
		return candidates[0].Owner, ""
	}
	if h.resolver == nil {
		return AppIdentifier{}, ErrResolverUnavailable
	}
	chosen, wireErr := h.resolver.Resolve(intent, contextType, candidates)
	if wireErr != "" {
		return AppIdentifier{}, wireErr
	}
	return chosen.Owner, ""
}

// --- intentResultRequest ---

func (h *IntentHandler) handleIntentResult(from AppIdentifier, req RequestMessage) ResponseMessage {
	var p struct {
		IntentResolutionID string  `json:"intentResolutionId"`
		Result             Context `json:"result"`
		PrivateChannelID   *string `json:"privateChannelId"`
	}
	if err := decodePayload(req.Payload, &p); err != nil {
		return newErrorResponse(TypeIntentResultResponse, req.Meta.RequestUUID, from, ErrMalformedMessage)
	}
	pi, ok := h.pending[p.IntentResolutionID]
	if !ok {
		return newErrorResponse(TypeIntentResultResponse, req.Meta.RequestUUID, from, ErrNoResultReturned)
	}
	delete(h.pending, p.IntentResolutionID)

	if p.PrivateChannelID != nil {
		h.channels.GrantPrivateChannelAccess(*p.PrivateChannelID, pi.raiser)
	}

	// There is no wire mechanism to send a second response to the
	// raiser's already-acknowledged raiseIntentRequest, so the result is
	// delivered as an intentEvent correlated by intentResolutionId —
	// the raiser-side ProxyAgent resolves its pending raiseIntent promise
	// off this event rather than off a ResponseMessage.
	type resultEventPayload struct {
		IntentResolutionID string  `json:"intentResolutionId"`
		Result             Context `json:"result"`
	}
	evt := createEvent(TypeIntentEvent, resultEventPayload{IntentResolutionID: p.IntentResolutionID, Result: p.Result})
	h.emitter.publishEvent(evt, []AppIdentifier{pi.raiser})

	return createResponseMessage(TypeIntentResultResponse, struct{}{}, req.Meta.RequestUUID, from)
}

// CleanupDisconnectedProxy removes every intent listener owned by
// source and drops, without notifying anyone, every pending intent
// resolution that targets source or was raised by it, mirroring
// ChannelHandler's disconnect cleanup.
func (h *IntentHandler) CleanupDisconnectedProxy(source AppIdentifier) {
	owned, ok := h.byOwner[source]
	if ok {
		for uuid := range owned {
			delete(h.listeners, uuid)
		}
		delete(h.byOwner, source)
	}
	for id, pi := range h.pending {
		if pi.target == source || pi.raiser == source {
			delete(h.pending, id)
		}
	}
}
