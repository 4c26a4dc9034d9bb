package fdc3

// WireError is a failure code placed in a ResponseMessage's payload
// ("payload.error"). This is the fixed enum from spec.md §6 — the set of
// values an FDC3 2.2 desktop agent is allowed to return. It is distinct
// from ErrorKind (errors.go), which classifies errors the broker logs
// internally because there is no caller to answer.
type WireError string

const (
	ErrAccessDenied             WireError = "AccessDenied"
	ErrMalformedContext         WireError = "MalformedContext"
	ErrNoChannelFound           WireError = "NoChannelFound"
	ErrAppNotFound              WireError = "AppNotFound"
	ErrAppTimeout               WireError = "AppTimeout"
	ErrAPITimeout               WireError = "ApiTimeout"
	ErrCreationFailed           WireError = "CreationFailed"
	ErrDesktopAgentNotFound     WireError = "DesktopAgentNotFound"
	ErrResolverUnavailable      WireError = "ResolverUnavailable"
	ErrResolverTimeout          WireError = "ResolverTimeout"
	ErrIntentDeliveryFailed     WireError = "IntentDeliveryFailed"
	ErrIntentHandlerRejected    WireError = "IntentHandlerRejected"
	ErrNoAppsFound              WireError = "NoAppsFound"
	ErrNoResultReturned         WireError = "NoResultReturned"
	ErrTargetAppUnavailable     WireError = "TargetAppUnavailable"
	ErrTargetInstanceUnavailable WireError = "TargetInstanceUnavailable"
	ErrUserCancelledResolution  WireError = "UserCancelledResolution"
	ErrAgentDisconnected        WireError = "AgentDisconnected"
	ErrNotConnectedToBridge     WireError = "NotConnectedToBridge"
	ErrResponseToBridgeTimedOut WireError = "ResponseToBridgeTimedOut"
	ErrMalformedMessage         WireError = "MalformedMessage"
	ErrOnLaunch                 WireError = "ErrorOnLaunch"
)
