package fdc3

// ChannelType distinguishes the three channel kinds from spec.md §3.
type ChannelType string

const (
	ChannelTypeUser    ChannelType = "user"
	ChannelTypeApp     ChannelType = "app"
	ChannelTypePrivate ChannelType = "private"
)

// DisplayMetadata carries the UI hints FDC3 attaches to user channels.
type DisplayMetadata struct {
	Name  string `json:"name"`
	Color string `json:"color"`
	Glyph string `json:"glyph"`
}

// Channel is a user, app, or private channel. Ids are globally unique
// across all three types — ChannelRegistry enforces this.
type Channel struct {
	ID              string           `json:"id"`
	Type            ChannelType      `json:"type"`
	DisplayMetadata *DisplayMetadata `json:"displayMetadata,omitempty"`
}

// configuredUserChannels is the fixed, 8-channel palette from spec.md
// §6. User channels are never created dynamically — this list is the
// entire population of them for the lifetime of the root agent.
func configuredUserChannels() []Channel {
	palette := []struct {
		id, name, color, glyph string
	}{
		{"fdc3.channel.1", "Red", "#FF695E", "1"},
		{"fdc3.channel.2", "Orange", "#FF9D5C", "2"},
		{"fdc3.channel.3", "Yellow", "#F5D900", "3"},
		{"fdc3.channel.4", "Green", "#40C9A2", "4"},
		{"fdc3.channel.5", "Cyan", "#00ABE1", "5"},
		{"fdc3.channel.6", "Blue", "#5A69C4", "6"},
		{"fdc3.channel.7", "Purple", "#9562E2", "7"},
		{"fdc3.channel.8", "Pink", "#F24FB4", "8"},
	}
	channels := make([]Channel, len(palette))
	for i, p := range palette {
		channels[i] = Channel{
			ID:   p.id,
			Type: ChannelTypeUser,
			DisplayMetadata: &DisplayMetadata{
				Name:  p.name,
				Color: p.color,
				Glyph: p.glyph,
			},
		}
	}
	return channels
}

// ChannelRegistry owns every channel the root agent knows about: the
// fixed user-channel palette, lazily-created app channels, and
// on-demand private channels. It is mutated only from RootAgent's single
// dispatch goroutine (see SPEC_FULL.md §7), so it carries no lock.
type ChannelRegistry struct {
	userChannels map[string]*Channel
	appChannels  map[string]*Channel
	privateCh    map[string]*Channel
	acls         *privateChannelACLs
}

func newChannelRegistry() *ChannelRegistry {
	r := &ChannelRegistry{
		userChannels: make(map[string]*Channel),
		appChannels:  make(map[string]*Channel),
		privateCh:    make(map[string]*Channel),
		acls:         newPrivateChannelACLs(),
	}
	for _, c := range configuredUserChannels() {
		ch := c
		r.userChannels[ch.ID] = &ch
	}
	return r
}

// UserChannels returns the configured palette, in palette order.
func (r *ChannelRegistry) UserChannels() []Channel {
	out := make([]Channel, 0, len(r.userChannels))
	for _, c := range configuredUserChannels() {
		out = append(out, *r.userChannels[c.ID])
	}
	return out
}

// Lookup returns any channel (user, app, or private) by id.
func (r *ChannelRegistry) Lookup(id string) (*Channel, bool) {
	if c, ok := r.userChannels[id]; ok {
		return c, true
	}
	if c, ok := r.appChannels[id]; ok {
		return c, true
	}
	if c, ok := r.privateCh[id]; ok {
		return c, true
	}
	return nil, false
}

// IsPrivate reports whether id names an existing private channel.
func (r *ChannelRegistry) IsPrivate(id string) bool {
	_, ok := r.privateCh[id]
	return ok
}

// GetOrCreateChannel implements spec.md §3/§4.3: lazily creates an app
// channel on first reference, is idempotent across repeated calls with
// the same id (invariant 7 in spec.md §8), and refuses an id that
// already names a private channel.
func (r *ChannelRegistry) GetOrCreateChannel(id string) (*Channel, WireError) {
	if r.IsPrivate(id) {
		return nil, ErrAccessDenied
	}
	if c, ok := r.userChannels[id]; ok {
		return c, ""
	}
	if c, ok := r.appChannels[id]; ok {
		return c, ""
	}
	c := &Channel{ID: id, Type: ChannelTypeApp}
	r.appChannels[id] = c
	return c, ""
}

// CreatePrivateChannel mints a fresh private channel with a UUID id and
// grants creator sole initial access.
func (r *ChannelRegistry) CreatePrivateChannel(creator AppIdentifier) *Channel {
	id := generateUUID()
	c := &Channel{ID: id, Type: ChannelTypePrivate}
	r.privateCh[id] = c
	r.acls.grant(id, creator)
	return c
}

// dropPrivateChannel removes a private channel entirely — called once
// its ACL empties out (spec.md §3: "A private channel is destroyed once
// all members have disconnected").
func (r *ChannelRegistry) dropPrivateChannel(id string) {
	delete(r.privateCh, id)
	r.acls.dropChannel(id)
}
