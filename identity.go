package fdc3

import "strings"

// AppIdentifier is the fully-qualified identity of a running proxy:
// the directory-assigned appId plus the instanceId minted at handshake.
// This pair is the only authoritative identity the root agent ever uses;
// it is comparable with ==, which every registry in this package relies
// on for set membership and deduplication.
type AppIdentifier struct {
	AppID      string
	InstanceID string
}

// String renders the identifier as "appId/instanceId", used only for
// logging — never parsed back.
func (a AppIdentifier) String() string {
	return a.AppID + "/" + a.InstanceID
}

// IsZero reports whether a has neither field set.
func (a AppIdentifier) IsZero() bool {
	return a.AppID == "" && a.InstanceID == ""
}

// ParseAppOrDirectoryShorthand splits the "appId@directory" shorthand
// accepted by spec for identity-url resolution. If s contains no '@' it
// is returned verbatim as appID with an empty directory hint.
func ParseAppOrDirectoryShorthand(s string) (appID, directory string) {
	idx := strings.IndexByte(s, '@')
	if idx == -1 {
		return s, ""
	}
	return s[:idx], s[idx+1:]
}
