package fdc3

// channelHistory is the per-channel context history from spec.md §3:
// for each context.type, only the most recent broadcast is retained,
// plus a global "last broadcast of any type".
type channelHistory struct {
	byType map[string]Context
	latest Context
}

func newChannelHistory() *channelHistory {
	return &channelHistory{byType: make(map[string]Context)}
}

func (h *channelHistory) record(ctx Context) {
	h.byType[ctx.Type()] = ctx
	h.latest = ctx
}

// current returns the most recent context of contextType, or (if
// contextType is "") the most recent context of any type.
func (h *channelHistory) current(contextType string) (Context, bool) {
	if contextType == "" {
		if h.latest == nil {
			return nil, false
		}
		return h.latest, true
	}
	c, ok := h.byType[contextType]
	return c, ok
}

// scrubBySource drops every retained context (by-type and latest) whose
// embedded "source" AppIdentifier equals who, implementing the disconnect
// cleanup rule in spec.md §4.3: such contexts must become irretrievable
// via getCurrentContext.
func (h *channelHistory) scrubBySource(who AppIdentifier) {
	for t, ctx := range h.byType {
		if ctx.sourceAppIdentifier() == who {
			delete(h.byType, t)
		}
	}
	if h.latest != nil && h.latest.sourceAppIdentifier() == who {
		h.latest = nil
	}
}

// contextHistoryStore is a channelID-keyed collection of channelHistory,
// shared by user, app, and private channels alike (spec.md §3: "Private
// channels follow the same rule").
type contextHistoryStore struct {
	byChannel map[string]*channelHistory
}

func newContextHistoryStore() *contextHistoryStore {
	return &contextHistoryStore{byChannel: make(map[string]*channelHistory)}
}

func (s *contextHistoryStore) historyFor(channelID string) *channelHistory {
	h, ok := s.byChannel[channelID]
	if !ok {
		h = newChannelHistory()
		s.byChannel[channelID] = h
	}
	return h
}

func (s *contextHistoryStore) scrubBySource(who AppIdentifier) {
	for _, h := range s.byChannel {
		h.scrubBySource(who)
	}
}
