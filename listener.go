package fdc3

import "sort"

// ContextListener is a registration from spec.md §3: ChannelID == nil
// means "whatever user channel the owner is currently joined to" (a
// "floating" current-channel listener, resolved at broadcast time, not
// at registration — spec.md §9 Design Note); ContextType == nil means
// "any type".
type ContextListener struct {
	ListenerUUID string
	Owner        AppIdentifier
	ChannelID    *string
	ContextType  *string

	// seq is the registration order within its contextListenerIndex,
	// set by add(). Map iteration over byChannel is unordered, but
	// spec.md §8 Scenario S5 requires private-channel addContextListener
	// replay in insertion order, so onPrivateChannel sorts on this.
	seq uint64
}

// EventListener is a registration for channelChangedEvent and friends.
type EventListener struct {
	ListenerUUID string
	Owner        AppIdentifier
	Kind         EventKind
}

// PrivateListenerKind is the event an app can subscribe to on a private
// channel it has access to.
type PrivateListenerKind string

const (
	PrivateListenAddContextListener PrivateListenerKind = "addContextListener"
	PrivateListenUnsubscribe        PrivateListenerKind = "unsubscribe"
	PrivateListenDisconnect         PrivateListenerKind = "disconnect"
)

// PrivateChannelEventListener is a registration for one of the three
// private-channel lifecycle events from spec.md §3.
type PrivateChannelEventListener struct {
	ListenerUUID     string
	Owner            AppIdentifier
	PrivateChannelID string
	Kind             PrivateListenerKind
}

// contextListenerIndex is the byChannel/byUUID/byOwner trio the Design
// Note in spec.md §9 calls for: byChannel drives broadcast fan-out,
// byUUID drives unsubscribe, byOwner drives O(1) disconnect cleanup.
// Floating (current-channel) listeners are kept in their own owner-keyed
// bucket since they have no channel to index by until resolved.
type contextListenerIndex struct {
	byChannel map[string]map[string]*ContextListener // channelID -> uuid -> listener
	floating  map[string]*ContextListener             // uuid -> listener, ChannelID == nil
	byUUID    map[string]*ContextListener
	byOwner   map[AppIdentifier]map[string]struct{} // owner -> set of uuid
	nextSeq   uint64
}

func newContextListenerIndex() *contextListenerIndex {
	return &contextListenerIndex{
		byChannel: make(map[string]map[string]*ContextListener),
		floating:  make(map[string]*ContextListener),
		byUUID:    make(map[string]*ContextListener),
		byOwner:   make(map[AppIdentifier]map[string]struct{}),
	}
}

func (idx *contextListenerIndex) add(l *ContextListener) {
	idx.nextSeq++
	l.seq = idx.nextSeq
	idx.byUUID[l.ListenerUUID] = l
	if l.ChannelID == nil {
		idx.floating[l.ListenerUUID] = l
	} else {
		set, ok := idx.byChannel[*l.ChannelID]
		if !ok {
			set = make(map[string]*ContextListener)
			idx.byChannel[*l.ChannelID] = set
		}
		set[l.ListenerUUID] = l
	}
	owned, ok := idx.byOwner[l.Owner]
	if !ok {
		owned = make(map[string]struct{})
		idx.byOwner[l.Owner] = owned
	}
	owned[l.ListenerUUID] = struct{}{}
}

func (idx *contextListenerIndex) remove(uuid string) *ContextListener {
	l, ok := idx.byUUID[uuid]
	if !ok {
		return nil
	}
	delete(idx.byUUID, uuid)
	if l.ChannelID == nil {
		delete(idx.floating, uuid)
	} else if set, ok := idx.byChannel[*l.ChannelID]; ok {
		delete(set, uuid)
	}
	if owned, ok := idx.byOwner[l.Owner]; ok {
		delete(owned, uuid)
		if len(owned) == 0 {
			delete(idx.byOwner, l.Owner)
		}
	}
	return l
}

// removeAllOwnedBy removes and returns every listener owned by who.
func (idx *contextListenerIndex) removeAllOwnedBy(who AppIdentifier) []*ContextListener {
	owned, ok := idx.byOwner[who]
	if !ok {
		return nil
	}
	uuids := make([]string, 0, len(owned))
	for u := range owned {
		uuids = append(uuids, u)
	}
	removed := make([]*ContextListener, 0, len(uuids))
	for _, u := range uuids {
		if l := idx.remove(u); l != nil {
			removed = append(removed, l)
		}
	}
	return removed
}

// candidatesForBroadcast implements step 1 of the fan-out algorithm in
// spec.md §4.3: direct listeners on channelID, plus, if channelID is a
// user channel, every floating listener whose owner is currently joined
// to it (per currentChannel, supplied by the caller).
func (idx *contextListenerIndex) candidatesForBroadcast(channelID string, isUserChannel bool, currentChannel func(AppIdentifier) (string, bool)) []*ContextListener {
	var out []*ContextListener
	for _, l := range idx.byChannel[channelID] {
		out = append(out, l)
	}
	if isUserChannel {
		for _, l := range idx.floating {
			joined, ok := currentChannel(l.Owner)
			if ok && joined == channelID {
				out = append(out, l)
			}
		}
	}
	return out
}

// onPrivateChannel returns the listeners registered on channelID in the
// order they were added — spec.md §8 Scenario S5 requires the replayed
// privateChannelOnAddContextListenerEvents to preserve that order, which
// iterating byChannel's map directly cannot guarantee.
func (idx *contextListenerIndex) onPrivateChannel(channelID string) []*ContextListener {
	var out []*ContextListener
	for _, l := range idx.byChannel[channelID] {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// eventListenerIndex indexes EventListener by owner, the only axis the
// channel-changed fan-out needs (it always targets a single source).
type eventListenerIndex struct {
	byOwner map[AppIdentifier]map[string]*EventListener
	byUUID  map[string]*EventListener
}

func newEventListenerIndex() *eventListenerIndex {
	return &eventListenerIndex{
		byOwner: make(map[AppIdentifier]map[string]*EventListener),
		byUUID:  make(map[string]*EventListener),
	}
}

func (idx *eventListenerIndex) add(l *EventListener) {
	idx.byUUID[l.ListenerUUID] = l
	set, ok := idx.byOwner[l.Owner]
	if !ok {
		set = make(map[string]*EventListener)
		idx.byOwner[l.Owner] = set
	}
	set[l.ListenerUUID] = l
}

func (idx *eventListenerIndex) remove(uuid string) {
	l, ok := idx.byUUID[uuid]
	if !ok {
		return
	}
	delete(idx.byUUID, uuid)
	if set, ok := idx.byOwner[l.Owner]; ok {
		delete(set, uuid)
		if len(set) == 0 {
			delete(idx.byOwner, l.Owner)
		}
	}
}

func (idx *eventListenerIndex) removeAllOwnedBy(who AppIdentifier) {
	set, ok := idx.byOwner[who]
	if !ok {
		return
	}
	for uuid := range set {
		delete(idx.byUUID, uuid)
	}
	delete(idx.byOwner, who)
}

// hasSubscription reports whether who has registered a listener whose
// kind matches emitted (including the allEvents wildcard).
func (idx *eventListenerIndex) hasSubscription(who AppIdentifier, emitted EventKind) bool {
	for _, l := range idx.byOwner[who] {
		if l.Kind.matches(emitted) {
			return true
		}
	}
	return false
}

// privateEventListenerIndex indexes PrivateChannelEventListener by
// (channel, kind) for fan-out and by owner for disconnect cleanup.
type privateEventListenerIndex struct {
	byChannelKind map[string]map[PrivateListenerKind][]*PrivateChannelEventListener
	byUUID        map[string]*PrivateChannelEventListener
	byOwner       map[AppIdentifier]map[string]struct{}
}

func newPrivateEventListenerIndex() *privateEventListenerIndex {
	return &privateEventListenerIndex{
		byChannelKind: make(map[string]map[PrivateListenerKind][]*PrivateChannelEventListener),
		byUUID:        make(map[string]*PrivateChannelEventListener),
		byOwner:       make(map[AppIdentifier]map[string]struct{}),
	}
}

func (idx *privateEventListenerIndex) add(l *PrivateChannelEventListener) {
	idx.byUUID[l.ListenerUUID] = l
	byKind, ok := idx.byChannelKind[l.PrivateChannelID]
	if !ok {
		byKind = make(map[PrivateListenerKind][]*PrivateChannelEventListener)
		idx.byChannelKind[l.PrivateChannelID] = byKind
	}
	byKind[l.Kind] = append(byKind[l.Kind], l)

	owned, ok := idx.byOwner[l.Owner]
	if !ok {
		owned = make(map[string]struct{})
		idx.byOwner[l.Owner] = owned
	}
	owned[l.ListenerUUID] = struct{}{}
}

func (idx *privateEventListenerIndex) remove(uuid string) {
	l, ok := idx.byUUID[uuid]
	if !ok {
		return
	}
	delete(idx.byUUID, uuid)
	if byKind, ok := idx.byChannelKind[l.PrivateChannelID]; ok {
		list := byKind[l.Kind]
		for i, cand := range list {
			if cand.ListenerUUID == uuid {
				byKind[l.Kind] = append(list[:i], list[i+1:]...)
				break
			}
		}
	}
	if owned, ok := idx.byOwner[l.Owner]; ok {
		delete(owned, uuid)
		if len(owned) == 0 {
			delete(idx.byOwner, l.Owner)
		}
	}
}

func (idx *privateEventListenerIndex) removeAllOwnedBy(who AppIdentifier) {
	owned, ok := idx.byOwner[who]
	if !ok {
		return
	}
	uuids := make([]string, 0, len(owned))
	for u := range owned {
		uuids = append(uuids, u)
	}
	for _, u := range uuids {
		idx.remove(u)
	}
}

// subscribers returns every listener of kind on channelID whose owner is
// not excludeOwner, per spec.md §4.3's emission rule.
func (idx *privateEventListenerIndex) subscribers(channelID string, kind PrivateListenerKind, excludeOwner AppIdentifier) []*PrivateChannelEventListener {
	byKind, ok := idx.byChannelKind[channelID]
	if !ok {
		return nil
	}
	var out []*PrivateChannelEventListener
	for _, l := range byKind[kind] {
		if l.Owner != excludeOwner {
			out = append(out, l)
		}
	}
	return out
}

// onChannelOwnedBy returns every listener registered on channelID of any
// kind, owned by who. Nothing in the package calls it.
func (idx *privateEventListenerIndex) onChannelOwnedBy(channelID string, who AppIdentifier) []*PrivateChannelEventListener {
	byKind, ok := idx.byChannelKind[channelID]
	if !ok {
		return nil
	}
	var out []*PrivateChannelEventListener
	for _, list := range byKind {
		for _, l := range list {
			if l.Owner == who {
				out = append(out, l)
			}
		}
	}
	return out
}
