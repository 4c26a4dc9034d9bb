package fdc3

import "encoding/json"

// eventEmitter is the subset of RootPublisher the channel handler needs:
// deliver an EventMessage to a set of targets through each target's
// registered Port, the root's own loopback port included (spec.md §4.4).
type eventEmitter interface {
	publishEvent(msg EventMessage, targets []AppIdentifier)
}

// decodePayload round-trips req.Payload through JSON into dst. Payload
// arrives as a plain map[string]any (it was unmarshaled generically by
// the transport layer before dispatch ever sees it), so this is the one
// place a typed view is recovered — mirroring how the teacher's handlers
// re-decode Message.Body into a protocol-specific struct.
func decodePayload(payload any, dst any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}

// ChannelHandler is the core of the core (spec.md §2, 40% share): user,
// app, and private channel registries, per-channel context history, the
// context/event/private-event listener indexes, and private-channel
// ACLs. It is owned exclusively by RootAgent's single dispatch goroutine
// (SPEC_FULL.md §7) and therefore carries no locks anywhere in its state.
type ChannelHandler struct {
	registry *ChannelRegistry
	history  *contextHistoryStore

	ctxListeners       *contextListenerIndex
	eventListeners     *eventListenerIndex
	privEventListeners *privateEventListenerIndex

	// currentUserChannel holds, per connected proxy, the id of the user
	// channel it is joined to, if any (spec.md §3: "at most one joined
	// user channel").
	currentUserChannel map[AppIdentifier]string

	emitter eventEmitter
	table   *dispatchTable
}

func NewChannelHandler(emitter eventEmitter) *ChannelHandler {
	h := &ChannelHandler{
		registry:            newChannelRegistry(),
		history:             newContextHistoryStore(),
		ctxListeners:        newContextListenerIndex(),
		eventListeners:      newEventListenerIndex(),
		privEventListeners:  newPrivateEventListenerIndex(),
		currentUserChannel:  make(map[AppIdentifier]string),
		emitter:             emitter,
	}
	h.table = newDispatchTable()
	h.registerHandlers()
	return h
}

// Dispatch routes a validated proxy's request to the matching handler,
// or to the dispatchTable's MalformedMessage catch-all.
func (h *ChannelHandler) Dispatch(from AppIdentifier, req RequestMessage) ResponseMessage {
	return h.table.dispatch(from, req)
}

func (h *ChannelHandler) registerHandlers() {
	h.table.register(TypeGetUserChannelsRequest, h.handleGetUserChannels)
	h.table.register(TypeGetCurrentChannelRequest, h.handleGetCurrentChannel)
	h.table.register(TypeJoinUserChannelRequest, h.handleJoinUserChannel)
	h.table.register(TypeLeaveCurrentChannelRequest, h.handleLeaveCurrentChannel)
	h.table.register(TypeCreatePrivateChannelReq, h.handleCreatePrivateChannel)
	h.table.register(TypeGetOrCreateChannelReq, h.handleGetOrCreateChannel)
	h.table.register(TypeAddContextListenerReq, h.handleAddContextListener)
	h.table.register(TypeContextListenerUnsubReq, h.handleContextListenerUnsubscribe)
	h.table.register(TypePrivateChAddEventListReq, h.handlePrivateChannelAddEventListener)
	h.table.register(TypePrivateChUnsubEventReq, h.handlePrivateChannelUnsubscribeEventListener)
	h.table.register(TypeBroadcastRequest, h.handleBroadcast)
	h.table.register(TypeGetCurrentContextReq, h.handleGetCurrentContext)
	h.table.register(TypePrivateChDisconnectReq, h.handlePrivateChannelDisconnect)
	h.table.register(TypeAddEventListenerReq, h.handleAddEventListener)
	h.table.register(TypeRemoveEventListenerReq, h.handleRemoveEventListener)
}

// --- getUserChannelsRequest ---

func (h *ChannelHandler) handleGetUserChannels(from AppIdentifier, req RequestMessage) ResponseMessage {
	type resp struct {
		UserChannels []Channel `json:"userChannels"`
	}
	return createResponseMessage(TypeGetUserChannelsResponse, resp{UserChannels: h.registry.UserChannels()}, req.Meta.RequestUUID, from)
}

// --- getCurrentChannelRequest ---

func (h *ChannelHandler) handleGetCurrentChannel(from AppIdentifier, req RequestMessage) ResponseMessage {
	type resp struct {
		Channel *Channel `json:"channel"`
	}
	id, joined := h.currentUserChannel[from]
	if !joined {
		return createResponseMessage(TypeGetCurrentChannelResponse, resp{}, req.Meta.RequestUUID, from)
	}
	ch, ok := h.registry.Lookup(id)
	if !ok {
		return createResponseMessage(TypeGetCurrentChannelResponse, resp{}, req.Meta.RequestUUID, from)
	}
	return createResponseMessage(TypeGetCurrentChannelResponse, resp{Channel: ch}, req.Meta.RequestUUID, from)
}

// --- joinUserChannelRequest ---

func (h *ChannelHandler) handleJoinUserChannel(from AppIdentifier, req RequestMessage) ResponseMessage {
	var p struct {
		ChannelID string `json:"channelId"`
	}
	if err := decodePayload(req.Payload, &p); err != nil {
		return newErrorResponse(TypeJoinUserChannelResponse, req.Meta.RequestUUID, from, ErrMalformedMessage)
	}
	ch, ok := h.registry.Lookup(p.ChannelID)
	if !ok || ch.Type != ChannelTypeUser {
		return newErrorResponse(TypeJoinUserChannelResponse, req.Meta.RequestUUID, from, ErrNoChannelFound)
	}
	h.currentUserChannel[from] = p.ChannelID
	h.emitChannelChangedIfSubscribed(from, &p.ChannelID)
	return createResponseMessage(TypeJoinUserChannelResponse, struct{}{}, req.Meta.RequestUUID, from)
}

// --- leaveCurrentChannelRequest ---

func (h *ChannelHandler) handleLeaveCurrentChannel(from AppIdentifier, req RequestMessage) ResponseMessage {
	// Per spec.md §9's recorded Open Question, the channelChangedEvent
	// fires unconditionally, regardless of whether the caller was
	// actually joined to the stated channel.
	if _, joined := h.currentUserChannel[from]; joined {
		delete(h.currentUserChannel, from)
	}
	h.emitChannelChangedIfSubscribed(from, nil)
	return createResponseMessage(TypeLeaveCurrentChannelResp, struct{}{}, req.Meta.RequestUUID, from)
}

// emitChannelChangedIfSubscribed sends channelChangedEvent{newChannelId}
// to from alone, but only if from has a userChannelChanged or allEvents
// listener registered (spec.md §4.3's conditional-emission rule).
func (h *ChannelHandler) emitChannelChangedIfSubscribed(from AppIdentifier, newChannelID *string) {
	if !h.eventListeners.hasSubscription(from, EventKindUserChannelChanged) {
		return
	}
	type payload struct {
		NewChannelID *string `json:"newChannelId"`
	}
	evt := createEvent(TypeChannelChangedEvent, payload{NewChannelID: newChannelID})
	h.emitter.publishEvent(evt, []AppIdentifier{from})
}

// --- createPrivateChannelRequest ---

func (h *ChannelHandler) handleCreatePrivateChannel(from AppIdentifier, req RequestMessage) ResponseMessage {
	type resp struct {
		PrivateChannel Channel `json:"privateChannel"`
	}
	ch := h.registry.CreatePrivateChannel(from)
	return createResponseMessage(TypeCreatePrivateChannelResp, resp{PrivateChannel: *ch}, req.Meta.RequestUUID, from)
}

// GrantPrivateChannelAccess is called by the intent handler when a
// private channel is handed back to another app as an intent result
// (spec.md §9: "Grant on createPrivateChannel and on
// addToPrivateChannelAllowedList").
func (h *ChannelHandler) GrantPrivateChannelAccess(channelID string, who AppIdentifier) {
	h.registry.acls.grant(channelID, who)
}

// --- getOrCreateChannelRequest ---

func (h *ChannelHandler) handleGetOrCreateChannel(from AppIdentifier, req RequestMessage) ResponseMessage {
	var p struct {
		ChannelID string `json:"channelId"`
	}
	if err := decodePayload(req.Payload, &p); err != nil {
		return newErrorResponse(TypeGetOrCreateChannelResp, req.Meta.RequestUUID, from, ErrMalformedMessage)
	}
	type resp struct {
		Channel Channel `json:"channel"`
	}
	ch, wireErr := h.registry.GetOrCreateChannel(p.ChannelID)
	if wireErr != "" {
		return newErrorResponse(TypeGetOrCreateChannelResp, req.Meta.RequestUUID, from, wireErr)
	}
	return createResponseMessage(TypeGetOrCreateChannelResp, resp{Channel: *ch}, req.Meta.RequestUUID, from)
}

// --- addContextListenerRequest ---

func (h *ChannelHandler) handleAddContextListener(from AppIdentifier, req RequestMessage) ResponseMessage {
	var p struct {
		ChannelID   *string `json:"channelId"`
		ContextType *string `json:"contextType"`
	}
	if err := decodePayload(req.Payload, &p); err != nil {
		return newErrorResponse(TypeAddContextListenerResp, req.Meta.RequestUUID, from, ErrMalformedMessage)
	}
	if p.ChannelID != nil && h.registry.IsPrivate(*p.ChannelID) && !h.registry.acls.allowed(*p.ChannelID, from) {
		return newErrorResponse(TypeAddContextListenerResp, req.Meta.RequestUUID, from, ErrAccessDenied)
	}

	l := &ContextListener{
		ListenerUUID: generateUUID(),
		Owner:        from,
		ChannelID:    p.ChannelID,
		ContextType:  p.ContextType,
	}
	h.ctxListeners.add(l)

	if p.ChannelID != nil && h.registry.IsPrivate(*p.ChannelID) {
		h.emitAddContextListenerEvent(*p.ChannelID, p.ContextType, from)
	}

	type resp struct {
		ListenerUUID string `json:"listenerUUID"`
	}
	return createResponseMessage(TypeAddContextListenerResp, resp{ListenerUUID: l.ListenerUUID}, req.Meta.RequestUUID, from)
}

// emitAddContextListenerEvent notifies every private-channel peer
// listening for addContextListener events, excluding the registrant.
func (h *ChannelHandler) emitAddContextListenerEvent(channelID string, contextType *string, registrant AppIdentifier) {
	subs := h.privEventListeners.subscribers(channelID, PrivateListenAddContextListener, registrant)
	if len(subs) == 0 {
		return
	}
	type payload struct {
		ContextType      *string `json:"contextType"`
		PrivateChannelID string  `json:"privateChannelId"`
	}
	targets := make([]AppIdentifier, len(subs))
	for i, s := range subs {
		targets[i] = s.Owner
	}
	evt := createEvent(TypePrivateChOnAddContextListenerEvt, payload{ContextType: contextType, PrivateChannelID: channelID})
	h.emitter.publishEvent(evt, targets)
}

// --- contextListenerUnsubscribeRequest ---

func (h *ChannelHandler) handleContextListenerUnsubscribe(from AppIdentifier, req RequestMessage) ResponseMessage {
	var p struct {
		ListenerUUID string `json:"listenerUUID"`
	}
	if err := decodePayload(req.Payload, &p); err != nil {
		return newErrorResponse(TypeContextListenerUnsubResp, req.Meta.RequestUUID, from, ErrMalformedMessage)
	}
	l := h.ctxListeners.remove(p.ListenerUUID)
	if l != nil && l.ChannelID != nil && h.registry.IsPrivate(*l.ChannelID) {
		h.emitUnsubscribeEvent(*l.ChannelID, l.ContextType, l.Owner)
	}
	return createResponseMessage(TypeContextListenerUnsubResp, struct{}{}, req.Meta.RequestUUID, from)
}

func (h *ChannelHandler) emitUnsubscribeEvent(channelID string, contextType *string, who AppIdentifier) {
	subs := h.privEventListeners.subscribers(channelID, PrivateListenUnsubscribe, who)
	if len(subs) == 0 {
		return
	}
	type payload struct {
		ContextType      *string `json:"contextType"`
		PrivateChannelID string  `json:"privateChannelId"`
	}
	targets := make([]AppIdentifier, len(subs))
	for i, s := range subs {
		targets[i] = s.Owner
	}
	evt := createEvent(TypePrivateChOnUnsubscribeEvt, payload{ContextType: contextType, PrivateChannelID: channelID})
	h.emitter.publishEvent(evt, targets)
}

// --- privateChannelAddEventListenerRequest ---

func (h *ChannelHandler) handlePrivateChannelAddEventListener(from AppIdentifier, req RequestMessage) ResponseMessage {
	var p struct {
		ListenerType     string `json:"listenerType"`
		PrivateChannelID string `json:"privateChannelId"`
	}
	if err := decodePayload(req.Payload, &p); err != nil {
		return newErrorResponse(TypePrivateChAddEventListResp, req.Meta.RequestUUID, from, ErrMalformedMessage)
	}
	if !h.registry.acls.allowed(p.PrivateChannelID, from) {
		return newErrorResponse(TypePrivateChAddEventListResp, req.Meta.RequestUUID, from, ErrAccessDenied)
	}

	l := &PrivateChannelEventListener{
		ListenerUUID:     generateUUID(),
		Owner:            from,
		PrivateChannelID: p.PrivateChannelID,
		Kind:             PrivateListenerKind(p.ListenerType),
	}
	h.privEventListeners.add(l)

	if l.Kind == PrivateListenAddContextListener {
		h.replayAddContextListenerEvents(p.PrivateChannelID, from)
	}

	type resp struct {
		ListenerUUID string `json:"listenerUUID"`
	}
	return createResponseMessage(TypePrivateChAddEventListResp, resp{ListenerUUID: l.ListenerUUID}, req.Meta.RequestUUID, from)
}

// replayAddContextListenerEvents implements scenario S5: one
// privateChannelOnAddContextListenerEvent per already-registered
// context listener on the channel, targeted at the new registrant, in
// registration order.
func (h *ChannelHandler) replayAddContextListenerEvents(channelID string, target AppIdentifier) {
	existing := h.ctxListeners.onPrivateChannel(channelID)
	type payload struct {
		ContextType      *string `json:"contextType"`
		PrivateChannelID string  `json:"privateChannelId"`
	}
	for _, l := range existing {
		evt := createEvent(TypePrivateChOnAddContextListenerEvt, payload{ContextType: l.ContextType, PrivateChannelID: channelID})
		h.emitter.publishEvent(evt, []AppIdentifier{target})
	}
}

// --- privateChannelUnsubscribeEventListenerRequest ---

func (h *ChannelHandler) handlePrivateChannelUnsubscribeEventListener(from AppIdentifier, req RequestMessage) ResponseMessage {
	var p struct {
		ListenerUUID string `json:"listenerUUID"`
	}
	if err := decodePayload(req.Payload, &p); err != nil {
		return newErrorResponse(TypePrivateChUnsubEventResp, req.Meta.RequestUUID, from, ErrMalformedMessage)
	}
	h.privEventListeners.remove(p.ListenerUUID)
	return createResponseMessage(TypePrivateChUnsubEventResp, struct{}{}, req.Meta.RequestUUID, from)
}

// --- broadcastRequest ---

func (h *ChannelHandler) handleBroadcast(from AppIdentifier, req RequestMessage) ResponseMessage {
	// context is decoded untyped so that a non-object value reaches the
	// MalformedContext check instead of failing the payload decode.
	var p struct {
		ChannelID string `json:"channelId"`
		Context   any    `json:"context"`
	}
	if err := decodePayload(req.Payload, &p); err != nil {
		return newErrorResponse(TypeBroadcastResponse, req.Meta.RequestUUID, from, ErrMalformedMessage)
	}
	obj, _ := p.Context.(map[string]any)
	ctx := Context(obj)
	if !ctx.isWellFormed() {
		return newErrorResponse(TypeBroadcastResponse, req.Meta.RequestUUID, from, ErrMalformedContext)
	}
	ch, ok := h.registry.Lookup(p.ChannelID)
	if !ok {
		return newErrorResponse(TypeBroadcastResponse, req.Meta.RequestUUID, from, ErrNoChannelFound)
	}
	if ch.Type == ChannelTypePrivate && !h.registry.acls.allowed(p.ChannelID, from) {
		return newErrorResponse(TypeBroadcastResponse, req.Meta.RequestUUID, from, ErrAccessDenied)
	}

	h.history.historyFor(p.ChannelID).record(ctx)
	h.fanOutBroadcast(ch, p.ChannelID, ctx, from)

	return createResponseMessage(TypeBroadcastResponse, struct{}{}, req.Meta.RequestUUID, from)
}

// fanOutBroadcast implements the four-step algorithm in spec.md §4.3 and
// invariants 1-2 in §8: candidate gathering, type filtering, self-removal,
// and dedup by AppIdentifier, followed by a single broadcastEvent to the
// surviving set (or none, if it's empty).
func (h *ChannelHandler) fanOutBroadcast(ch *Channel, channelID string, ctx Context, source AppIdentifier) {
	isUser := ch.Type == ChannelTypeUser
	candidates := h.ctxListeners.candidatesForBroadcast(channelID, isUser, func(who AppIdentifier) (string, bool) {
		id, ok := h.currentUserChannel[who]
		return id, ok
	})

	recipients := make(map[AppIdentifier]struct{})
	for _, l := range candidates {
		if l.ContextType != nil && *l.ContextType != ctx.Type() {
			continue
		}
		if l.Owner == source {
			continue
		}
		recipients[l.Owner] = struct{}{}
	}
	if len(recipients) == 0 {
		return
	}

	targets := make([]AppIdentifier, 0, len(recipients))
	for who := range recipients {
		targets = append(targets, who)
	}

	type payload struct {
		ChannelID      string        `json:"channelId"`
		Context        Context       `json:"context"`
		OriginatingApp AppIdentifier `json:"originatingApp"`
	}
	evt := createEvent(TypeBroadcastEvent, payload{ChannelID: channelID, Context: ctx, OriginatingApp: source})
	h.emitter.publishEvent(evt, targets)
}

// --- getCurrentContextRequest ---

func (h *ChannelHandler) handleGetCurrentContext(from AppIdentifier, req RequestMessage) ResponseMessage {
	var p struct {
		ChannelID   string  `json:"channelId"`
		ContextType *string `json:"contextType"`
	}
	if err := decodePayload(req.Payload, &p); err != nil {
		return newErrorResponse(TypeGetCurrentContextResp, req.Meta.RequestUUID, from, ErrMalformedMessage)
	}
	ch, ok := h.registry.Lookup(p.ChannelID)
	if !ok {
		return newErrorResponse(TypeGetCurrentContextResp, req.Meta.RequestUUID, from, ErrNoChannelFound)
	}
	if ch.Type == ChannelTypePrivate && !h.registry.acls.allowed(p.ChannelID, from) {
		return newErrorResponse(TypeGetCurrentContextResp, req.Meta.RequestUUID, from, ErrAccessDenied)
	}

	var contextType string
	if p.ContextType != nil {
		contextType = *p.ContextType
	}
	ctx, found := h.history.historyFor(p.ChannelID).current(contextType)

	type resp struct {
		Context Context `json:"context"`
	}
	if !found {
		return createResponseMessage(TypeGetCurrentContextResp, resp{}, req.Meta.RequestUUID, from)
	}
	return createResponseMessage(TypeGetCurrentContextResp, resp{Context: ctx}, req.Meta.RequestUUID, from)
}

// --- privateChannelDisconnectRequest ---

func (h *ChannelHandler) handlePrivateChannelDisconnect(from AppIdentifier, req RequestMessage) ResponseMessage {
	var p struct {
		ChannelID string `json:"channelId"`
	}
	if err := decodePayload(req.Payload, &p); err != nil {
		return newErrorResponse(TypePrivateChDisconnectResp, req.Meta.RequestUUID, from, ErrMalformedMessage)
	}

	for _, l := range h.ctxListeners.onPrivateChannel(p.ChannelID) {
		if l.Owner != from {
			continue
		}
		h.emitUnsubscribeEvent(p.ChannelID, l.ContextType, from)
		h.ctxListeners.remove(l.ListenerUUID)
	}

	if subs := h.privEventListeners.subscribers(p.ChannelID, PrivateListenDisconnect, from); len(subs) > 0 {
		targets := make([]AppIdentifier, len(subs))
		for i, s := range subs {
			targets[i] = s.Owner
		}
		type payload struct {
			PrivateChannelID string `json:"privateChannelId"`
		}
		evt := createEvent(TypePrivateChOnDisconnectEvt, payload{PrivateChannelID: p.ChannelID})
		h.emitter.publishEvent(evt, targets)
	}

	return createResponseMessage(TypePrivateChDisconnectResp, struct{}{}, req.Meta.RequestUUID, from)
}

// CleanupDisconnectedProxy implements spec.md §4.3's disconnect-cleanup
// routine. Idempotent and side-effect-free if source is unknown to any
// registry, since every index's removeAllOwnedBy is itself a no-op on a
// miss.
func (h *ChannelHandler) CleanupDisconnectedProxy(source AppIdentifier) {
	delete(h.currentUserChannel, source)
	h.ctxListeners.removeAllOwnedBy(source)
	h.eventListeners.removeAllOwnedBy(source)
	h.privEventListeners.removeAllOwnedBy(source)

	for _, channelID := range h.registry.acls.revokeEverywhere(source) {
		h.registry.dropPrivateChannel(channelID)
	}

	h.history.scrubBySource(source)
}

// AddEventListener registers an EventListener (userChannelChanged or
// allEvents); emitChannelChangedIfSubscribed is the only current consumer
// of its presence, per joinUserChannelRequest/leaveCurrentChannelRequest's
// conditional-emission rule (spec.md §4.3).
func (h *ChannelHandler) AddEventListener(owner AppIdentifier, kind EventKind) string {
	l := &EventListener{ListenerUUID: generateUUID(), Owner: owner, Kind: kind}
	h.eventListeners.add(l)
	return l.ListenerUUID
}

// RemoveEventListener unregisters a previously added EventListener.
func (h *ChannelHandler) RemoveEventListener(listenerUUID string) {
	h.eventListeners.remove(listenerUUID)
}

// --- addEventListenerRequest ---

func (h *ChannelHandler) handleAddEventListener(from AppIdentifier, req RequestMessage) ResponseMessage {
	var p struct {
		EventKind EventKind `json:"eventKind"`
	}
	if err := decodePayload(req.Payload, &p); err != nil {
		return newErrorResponse(TypeAddEventListenerResp, req.Meta.RequestUUID, from, ErrMalformedMessage)
	}
	listenerUUID := h.AddEventListener(from, p.EventKind)
	type resp struct {
		ListenerUUID string `json:"listenerUUID"`
	}
	return createResponseMessage(TypeAddEventListenerResp, resp{ListenerUUID: listenerUUID}, req.Meta.RequestUUID, from)
}

// --- removeEventListenerRequest ---

func (h *ChannelHandler) handleRemoveEventListener(from AppIdentifier, req RequestMessage) ResponseMessage {
	var p struct {
		ListenerUUID string `json:"listenerUUID"`
	}
	if err := decodePayload(req.Payload, &p); err != nil {
		return newErrorResponse(TypeRemoveEventListenerResp, req.Meta.RequestUUID, from, ErrMalformedMessage)
	}
	h.RemoveEventListener(p.ListenerUUID)
	return createResponseMessage(TypeRemoveEventListenerResp, struct{}{}, req.Meta.RequestUUID, from)
}
