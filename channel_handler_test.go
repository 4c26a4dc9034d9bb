package fdc3

import "testing"

func newTestChannelHandler() (*ChannelHandler, *RootPublisher, map[AppIdentifier]*recordingPort) {
	ports := make(map[AppIdentifier]*recordingPort)
	pub := NewRootPublisher(func(SDKError) {})
	h := NewChannelHandler(pub)
	return h, pub, ports
}

func registerPort(pub *RootPublisher, ports map[AppIdentifier]*recordingPort, who AppIdentifier) {
	p := &recordingPort{}
	ports[who] = p
	pub.Register(who, p)
}

func request(msgType string, payload any) RequestMessage {
	return RequestMessage{Type: msgType, Meta: RequestMeta{RequestUUID: generateUUID()}, Payload: payload}
}

func requireNoError(t *testing.T, resp ResponseMessage) {
	t.Helper()
	var out errorPayload
	if decodePayload(resp.Payload, &out) == nil && out.Error != "" {
		t.Fatalf("unexpected error response: %v", out.Error)
	}
}

func requireError(t *testing.T, resp ResponseMessage, want WireError) {
	t.Helper()
	var out errorPayload
	if err := decodePayload(resp.Payload, &out); err != nil {
		t.Fatalf("decodePayload: %v", err)
	}
	if out.Error != want {
		t.Fatalf("error = %q, want %q", out.Error, want)
	}
}

// TestScenarioS1_BroadcastFanOut: A and B join fdc3.channel.2, B adds a
// floating fdc3.contact listener, A broadcasts on fdc3.channel.2 — B
// gets exactly one broadcastEvent, A gets none (spec.md §8 S1, and
// invariants 1-2). A floating listener only applies while its owner is
// joined to the broadcast channel.
func TestScenarioS1_BroadcastFanOut(t *testing.T) {
	h, pub, ports := newTestChannelHandler()
	a := AppIdentifier{AppID: "A", InstanceID: "a1"}
	b := AppIdentifier{AppID: "B", InstanceID: "b1"}
	registerPort(pub, ports, a)
	registerPort(pub, ports, b)

	requireNoError(t, h.Dispatch(a, request(TypeJoinUserChannelRequest, map[string]any{"channelId": "fdc3.channel.2"})))
	requireNoError(t, h.Dispatch(b, request(TypeJoinUserChannelRequest, map[string]any{"channelId": "fdc3.channel.2"})))

	contactType := "fdc3.contact"
	requireNoError(t, h.Dispatch(b, request(TypeAddContextListenerReq, map[string]any{"channelId": nil, "contextType": contactType})))

	requireNoError(t, h.Dispatch(a, request(TypeBroadcastRequest, map[string]any{
		"channelId": "fdc3.channel.2",
		"context":   map[string]any{"type": "fdc3.contact", "id": map[string]any{"email": "x@y"}},
	})))

	if len(ports[b].sent) != 1 {
		t.Fatalf("B received %d events, want 1", len(ports[b].sent))
	}
	evt, ok := ports[b].sent[0].(EventMessage)
	if !ok || evt.Type != TypeBroadcastEvent {
		t.Fatalf("B's event = %v, want a broadcastEvent", ports[b].sent[0])
	}
	if len(ports[a].sent) != 0 {
		t.Fatalf("A (the broadcaster) received %d events, want 0", len(ports[a].sent))
	}
}

// TestScenarioS2_PrivateChannelAccessControl: B is not in P's ACL and
// broadcasts on it — AccessDenied (spec.md §8 S2, invariant 4).
func TestScenarioS2_PrivateChannelAccessControl(t *testing.T) {
	h, pub, ports := newTestChannelHandler()
	a := AppIdentifier{AppID: "A", InstanceID: "a1"}
	b := AppIdentifier{AppID: "B", InstanceID: "b1"}
	registerPort(pub, ports, a)
	registerPort(pub, ports, b)

	createResp := h.Dispatch(a, request(TypeCreatePrivateChannelReq, struct{}{}))
	var created struct {
		PrivateChannel Channel `json:"privateChannel"`
	}
	if err := decodePayload(createResp.Payload, &created); err != nil {
		t.Fatalf("decodePayload: %v", err)
	}

	resp := h.Dispatch(b, request(TypeBroadcastRequest, map[string]any{
		"channelId": created.PrivateChannel.ID,
		"context":   map[string]any{"type": "fdc3.contact"},
	}))
	requireError(t, resp, ErrAccessDenied)
}

// TestScenarioS3_MalformedContext: broadcasting a non-object context on
// an app channel yields MalformedContext and no fan-out.
func TestScenarioS3_MalformedContext(t *testing.T) {
	h, pub, ports := newTestChannelHandler()
	a := AppIdentifier{AppID: "A", InstanceID: "a1"}
	registerPort(pub, ports, a)

	h.Dispatch(a, request(TypeGetOrCreateChannelReq, map[string]any{"channelId": "app1"}))

	resp := h.Dispatch(a, request(TypeBroadcastRequest, map[string]any{
		"channelId": "app1",
		"context":   "not-a-context",
	}))
	requireError(t, resp, ErrMalformedContext)
}

// TestScenarioS4_ContextScrubbingOnDisconnect: A broadcasts with an
// embedded source, B reads it back via getCurrentContext, root runs
// cleanup for A, B's next getCurrentContext returns nothing (spec.md §8
// S4, invariant 3).
func TestScenarioS4_ContextScrubbingOnDisconnect(t *testing.T) {
	h, pub, ports := newTestChannelHandler()
	a := AppIdentifier{AppID: "A", InstanceID: "a1"}
	b := AppIdentifier{AppID: "B", InstanceID: "b1"}
	registerPort(pub, ports, a)
	registerPort(pub, ports, b)

	requireNoError(t, h.Dispatch(a, request(TypeBroadcastRequest, map[string]any{
		"channelId": "fdc3.channel.1",
		"context": map[string]any{
			"type":   "fdc3.contact",
			"source": map[string]any{"appId": "A", "instanceId": "a1"},
		},
	})))

	contactType := "fdc3.contact"
	before := h.Dispatch(b, request(TypeGetCurrentContextReq, map[string]any{"channelId": "fdc3.channel.1", "contextType": contactType}))
	var beforeOut struct {
		Context Context `json:"context"`
	}
	if err := decodePayload(before.Payload, &beforeOut); err != nil || beforeOut.Context == nil {
		t.Fatalf("expected a retained context before cleanup, got %v, err=%v", beforeOut, err)
	}

	h.CleanupDisconnectedProxy(a)

	after := h.Dispatch(b, request(TypeGetCurrentContextReq, map[string]any{"channelId": "fdc3.channel.1", "contextType": contactType}))
	var afterOut struct {
		Context Context `json:"context"`
	}
	if err := decodePayload(after.Payload, &afterOut); err != nil || afterOut.Context != nil {
		t.Fatalf("expected no retained context after cleanup, got %v, err=%v", afterOut, err)
	}
}

// TestScenarioS5_AddListenerReplay: A registers two context listeners on
// its own private channel, then subscribes to addContextListener events
// on it — it should replay one event per pre-existing listener, in
// registration order (spec.md §8 S5).
func TestScenarioS5_AddListenerReplay(t *testing.T) {
	h, pub, ports := newTestChannelHandler()
	a := AppIdentifier{AppID: "A", InstanceID: "a1"}
	registerPort(pub, ports, a)

	createResp := h.Dispatch(a, request(TypeCreatePrivateChannelReq, struct{}{}))
	var created struct {
		PrivateChannel Channel `json:"privateChannel"`
	}
	if err := decodePayload(createResp.Payload, &created); err != nil {
		t.Fatalf("decodePayload: %v", err)
	}
	pcID := created.PrivateChannel.ID

	requireNoError(t, h.Dispatch(a, request(TypeAddContextListenerReq, map[string]any{"channelId": pcID, "contextType": nil})))
	contactType := "fdc3.contact"
	requireNoError(t, h.Dispatch(a, request(TypeAddContextListenerReq, map[string]any{"channelId": pcID, "contextType": contactType})))

	// These two registrations also emitted privateChannelOnAddContextListenerEvent
	// to any pre-existing 'addContextListener' subscriber — none yet, so
	// ports[a].sent should still be empty at this point.
	if len(ports[a].sent) != 0 {
		t.Fatalf("unexpected events before subscribing: %d", len(ports[a].sent))
	}

	requireNoError(t, h.Dispatch(a, request(TypePrivateChAddEventListReq, map[string]any{
		"listenerType":     string(PrivateListenAddContextListener),
		"privateChannelId": pcID,
	})))

	if len(ports[a].sent) != 2 {
		t.Fatalf("replayed events = %d, want 2", len(ports[a].sent))
	}
	var gotContextTypes []*string
	for _, e := range ports[a].sent {
		evt, ok := e.(EventMessage)
		if !ok || evt.Type != TypePrivateChOnAddContextListenerEvt {
			t.Fatalf("replayed event = %v, want privateChannelOnAddContextListenerEvent", e)
		}
		var p struct {
			ContextType *string `json:"contextType"`
		}
		if err := decodePayload(evt.Payload, &p); err != nil {
			t.Fatalf("decodePayload: %v", err)
		}
		gotContextTypes = append(gotContextTypes, p.ContextType)
	}
	// Replay must preserve registration order: the nil-type listener was
	// added first, then the fdc3.contact one.
	if gotContextTypes[0] != nil {
		t.Fatalf("first replayed event contextType = %v, want nil", gotContextTypes[0])
	}
	if gotContextTypes[1] == nil || *gotContextTypes[1] != contactType {
		t.Fatalf("second replayed event contextType = %v, want %q", gotContextTypes[1], contactType)
	}
}

// TestScenarioS6_PrivateChannelRejectsGetOrCreate: getOrCreateChannel on
// an id that already names a private channel fails with AccessDenied
// (spec.md §8 S6, and the invariant at spec.md §1).
func TestScenarioS6_PrivateChannelRejectsGetOrCreate(t *testing.T) {
	h, pub, ports := newTestChannelHandler()
	a := AppIdentifier{AppID: "A", InstanceID: "a1"}
	registerPort(pub, ports, a)

	createResp := h.Dispatch(a, request(TypeCreatePrivateChannelReq, struct{}{}))
	var created struct {
		PrivateChannel Channel `json:"privateChannel"`
	}
	if err := decodePayload(createResp.Payload, &created); err != nil {
		t.Fatalf("decodePayload: %v", err)
	}

	resp := h.Dispatch(a, request(TypeGetOrCreateChannelReq, map[string]any{"channelId": created.PrivateChannel.ID}))
	requireError(t, resp, ErrAccessDenied)
}

// TestInvariant5_JoinLeaveCurrentChannel covers spec.md §8 invariant 5.
func TestInvariant5_JoinLeaveCurrentChannel(t *testing.T) {
	h, pub, ports := newTestChannelHandler()
	a := AppIdentifier{AppID: "A", InstanceID: "a1"}
	registerPort(pub, ports, a)

	requireNoError(t, h.Dispatch(a, request(TypeJoinUserChannelRequest, map[string]any{"channelId": "fdc3.channel.3"})))

	getResp := h.Dispatch(a, request(TypeGetCurrentChannelRequest, struct{}{}))
	var got struct {
		Channel *Channel `json:"channel"`
	}
	if err := decodePayload(getResp.Payload, &got); err != nil || got.Channel == nil || got.Channel.ID != "fdc3.channel.3" {
		t.Fatalf("getCurrentChannel after join = %v, err=%v", got, err)
	}

	requireNoError(t, h.Dispatch(a, request(TypeLeaveCurrentChannelRequest, struct{}{})))

	getResp2 := h.Dispatch(a, request(TypeGetCurrentChannelRequest, struct{}{}))
	var got2 struct {
		Channel *Channel `json:"channel"`
	}
	if err := decodePayload(getResp2.Payload, &got2); err != nil || got2.Channel != nil {
		t.Fatalf("getCurrentChannel after leave = %v, err=%v, want nil channel", got2, err)
	}
}

// TestInvariant7_GetOrCreateChannelIdempotent covers spec.md §8
// invariant 7.
func TestInvariant7_GetOrCreateChannelIdempotent(t *testing.T) {
	h, pub, ports := newTestChannelHandler()
	a := AppIdentifier{AppID: "A", InstanceID: "a1"}
	registerPort(pub, ports, a)

	first := h.Dispatch(a, request(TypeGetOrCreateChannelReq, map[string]any{"channelId": "app1"}))
	second := h.Dispatch(a, request(TypeGetOrCreateChannelReq, map[string]any{"channelId": "app1"}))

	var firstCh, secondCh struct {
		Channel Channel `json:"channel"`
	}
	if err := decodePayload(first.Payload, &firstCh); err != nil {
		t.Fatalf("decodePayload: %v", err)
	}
	if err := decodePayload(second.Payload, &secondCh); err != nil {
		t.Fatalf("decodePayload: %v", err)
	}
	if firstCh.Channel != secondCh.Channel {
		t.Fatalf("repeated getOrCreateChannel returned different channels: %v vs %v", firstCh.Channel, secondCh.Channel)
	}
}

// TestInvariant8_PrivateChannelDisconnectNotifiesSurvivors covers
// spec.md §8 invariant 8.
func TestInvariant8_PrivateChannelDisconnectNotifiesSurvivors(t *testing.T) {
	h, pub, ports := newTestChannelHandler()
	a := AppIdentifier{AppID: "A", InstanceID: "a1"}
	b := AppIdentifier{AppID: "B", InstanceID: "b1"}
	registerPort(pub, ports, a)
	registerPort(pub, ports, b)

	createResp := h.Dispatch(a, request(TypeCreatePrivateChannelReq, struct{}{}))
	var created struct {
		PrivateChannel Channel `json:"privateChannel"`
	}
	if err := decodePayload(createResp.Payload, &created); err != nil {
		t.Fatalf("decodePayload: %v", err)
	}
	pcID := created.PrivateChannel.ID
	h.GrantPrivateChannelAccess(pcID, b)

	requireNoError(t, h.Dispatch(b, request(TypePrivateChAddEventListReq, map[string]any{
		"listenerType":     string(PrivateListenDisconnect),
		"privateChannelId": pcID,
	})))

	requireNoError(t, h.Dispatch(a, request(TypePrivateChDisconnectReq, map[string]any{"channelId": pcID})))

	if len(ports[b].sent) != 1 {
		t.Fatalf("B received %d disconnect notifications, want 1", len(ports[b].sent))
	}
	evt, ok := ports[b].sent[0].(EventMessage)
	if !ok || evt.Type != TypePrivateChOnDisconnectEvt {
		t.Fatalf("B's event = %v, want privateChannelOnDisconnectEvent", ports[b].sent[0])
	}
}

func TestChannelHandler_AddEventListenerWiredToJoinUserChannel(t *testing.T) {
	h, pub, ports := newTestChannelHandler()
	a := AppIdentifier{AppID: "A", InstanceID: "a1"}
	registerPort(pub, ports, a)

	addResp := h.Dispatch(a, request(TypeAddEventListenerReq, map[string]any{"eventKind": string(EventKindUserChannelChanged)}))
	requireNoError(t, addResp)

	requireNoError(t, h.Dispatch(a, request(TypeJoinUserChannelRequest, map[string]any{"channelId": "fdc3.channel.4"})))

	if len(ports[a].sent) != 1 {
		t.Fatalf("A received %d events after joining with a listener registered, want 1", len(ports[a].sent))
	}
	evt, ok := ports[a].sent[0].(EventMessage)
	if !ok || evt.Type != TypeChannelChangedEvent {
		t.Fatalf("event = %v, want channelChangedEvent", ports[a].sent[0])
	}
}
