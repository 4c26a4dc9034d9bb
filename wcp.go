package fdc3

import "context"

// WCP message type discriminators (spec.md §4.2/§6).
const (
	WCPTypeHello                    = "WCP1Hello"
	WCPTypeHandshake                = "WCP3Handshake"
	WCPTypeValidateAppIdentity      = "WCP4ValidateAppIdentity"
	WCPTypeValidateAppIdentityReply = "WCP5ValidateAppIdentityResponse"
)

type wcpMeta struct {
	ConnectionAttemptUUID string `json:"connectionAttemptUuid"`
}

type wcp1HelloPayload struct {
	ActualURL   string `json:"actualUrl"`
	IdentityURL string `json:"identityUrl"`
	FDC3Version string `json:"fdc3Version"`
}

// WCP1Hello is sent by a candidate child to each of
// {window.opener, window.parent} (spec.md §4.2, step 1).
type WCP1Hello struct {
	Type    string           `json:"type"`
	Meta    wcpMeta          `json:"meta"`
	Payload wcp1HelloPayload `json:"payload"`
}

func newWCP1Hello(actualURL, identityURL, fdc3Version string) WCP1Hello {
	return WCP1Hello{
		Type: WCPTypeHello,
		Meta: wcpMeta{ConnectionAttemptUUID: generateUUID()},
		Payload: wcp1HelloPayload{
			ActualURL:   actualURL,
			IdentityURL: identityURL,
			FDC3Version: fdc3Version,
		},
	}
}

type wcp3HandshakePayload struct {
	// PortID names the fresh logical port the child must address its
	// WCP4 on. Standing in for browser's `event.ports[0]`, which has no
	// cross-process analogue — see transport_ws.go's wireFrame.
	PortID string `json:"portId"`
}

// WCP3Handshake is the root's reply, carrying a fresh logical port id
// and echoing connectionAttemptUuid so a racing child binds to the
// right response (spec.md §4.2, step 2).
type WCP3Handshake struct {
	Type    string               `json:"type"`
	Meta    wcpMeta              `json:"meta"`
	Payload wcp3HandshakePayload `json:"payload"`
}

func newWCP3Handshake(connectionAttemptUUID, portID string) WCP3Handshake {
	return WCP3Handshake{
		Type:    WCPTypeHandshake,
		Meta:    wcpMeta{ConnectionAttemptUUID: connectionAttemptUUID},
		Payload: wcp3HandshakePayload{PortID: portID},
	}
}

type wcp4ValidatePayload struct {
	ActualURL    string  `json:"actualUrl"`
	IdentityURL  string  `json:"identityUrl"`
	InstanceID   *string `json:"instanceId,omitempty"`
	InstanceUUID *string `json:"instanceUuid,omitempty"`
}

// WCP4ValidateAppIdentity is sent by the child on the new port
// (spec.md §4.2, step 3). InstanceID/InstanceUUID support session
// resumption; SPEC_FULL.md does not wire resumption, so they are parsed
// but otherwise unused — always treated as a fresh connection.
type WCP4ValidateAppIdentity struct {
	Type    string              `json:"type"`
	Meta    wcpMeta             `json:"meta"`
	Payload wcp4ValidatePayload `json:"payload"`
}

// ImplementationMetadata is returned with every successful handshake.
type ImplementationMetadata struct {
	FDC3Version     string `json:"fdc3Version"`
	Provider        string `json:"provider"`
	ProviderVersion string `json:"providerVersion,omitempty"`
}

type wcp5ResponsePayload struct {
	AppID                  string                 `json:"appId"`
	InstanceID             string                 `json:"instanceId"`
	InstanceUUID           string                 `json:"instanceUuid"`
	ImplementationMetadata ImplementationMetadata `json:"implementationMetadata"`
}

// WCP5ValidateAppIdentityResponse is the root's final handshake message
// (spec.md §4.2, step 4): a directory lookup by identityUrl, a freshly
// minted instanceId/instanceUuid, and implementation metadata.
type WCP5ValidateAppIdentityResponse struct {
	Type    string              `json:"type"`
	Meta    wcpMeta             `json:"meta"`
	Payload wcp5ResponsePayload `json:"payload"`
}

// portWCPState is the root-side per-port state machine from spec.md
// §4.2's table: awaiting-validate → validated → closed.
type portWCPState int

const (
	portAwaitingValidate portWCPState = iota
	portValidated
	portClosed
)

// handshakeState tracks one port's progress through the WCP sequence,
// grounded on the teacher's pendingJoin correlation pattern in
// channel.go's join(), generalized from a single blocking call into an
// explicit state value RootAgent's dispatch loop can inspect per frame.
type handshakeState struct {
	portID                string
	connectionAttemptUUID string
	state                 portWCPState
	identity              AppIdentifier // zero until validated
}

func newHandshakeState(portID, connectionAttemptUUID string) *handshakeState {
	return &handshakeState{
		portID:                portID,
		connectionAttemptUUID: connectionAttemptUUID,
		state:                 portAwaitingValidate,
	}
}

// registerNewInstance implements WCP4→WCP5 (spec.md §4.2 step 4): look
// up the app directory by identityUrl, mint instanceId/instanceUuid, and
// build the response. A directory failure returns an error and produces
// no response at all — per spec.md §4.2's stated failure mode, the port
// is left in awaiting-validate and the child's discovery timeout fires.
func registerNewInstance(ctx context.Context, directory AppDirectoryClient, req WCP4ValidateAppIdentity, implMeta ImplementationMetadata) (WCP5ValidateAppIdentityResponse, AppIdentifier, error) {
	appID, _ := ParseAppOrDirectoryShorthand(req.Payload.IdentityURL)

	app, err := directory.Lookup(ctx, req.Payload.IdentityURL, appID)
	if err != nil {
		return WCP5ValidateAppIdentityResponse{}, AppIdentifier{}, &HandshakeError{Stage: "validate", Reason: err.Error()}
	}

	instanceID := generateUUID()
	identity := AppIdentifier{AppID: app.AppID, InstanceID: instanceID}

	resp := WCP5ValidateAppIdentityResponse{
		Type: WCPTypeValidateAppIdentityReply,
		Meta: wcpMeta{ConnectionAttemptUUID: req.Meta.ConnectionAttemptUUID},
		Payload: wcp5ResponsePayload{
			AppID:                  app.AppID,
			InstanceID:             instanceID,
			InstanceUUID:           generateUUID(),
			ImplementationMetadata: implMeta,
		},
	}
	return resp, identity, nil
}
