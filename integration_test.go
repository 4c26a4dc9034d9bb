package fdc3_test

import (
	"context"
	"log"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	fdc3 "github.com/fdc3agent/broker"
)

// fakeDirectory stands in for the app directory collaborator spec.md §1
// keeps out of scope — it approves any appId, mirroring how the teacher's
// integration tests stub out collaborators they don't own.
type fakeDirectory struct{}

func (fakeDirectory) Lookup(ctx context.Context, identityURL, appID string) (fdc3.AppDirectoryApplication, error) {
	return fdc3.AppDirectoryApplication{AppID: appID, Name: appID, Title: appID}, nil
}

func newTestAgent(t *testing.T) (*fdc3.RootAgent, string) {
	t.Helper()
	agent, err := fdc3.NewRootAgent(
		fdc3.AgentConfig{ListenAddr: ":0", AppDirectoryURL: "http://unused.invalid"},
		fdc3.LogErrors(log.New(testWriter{t}, "", 0)),
		fdc3.WithAppDirectoryClient(fakeDirectory{}),
	)
	if err != nil {
		t.Fatalf("NewRootAgent: %v", err)
	}
	t.Cleanup(func() { agent.Close() })

	srv := fdc3.NewServer(agent, nil)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/fdc3/connect"
	return agent, url
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

// TestBroadcastFanOut exercises scenario S1 end to end: two proxies join
// the same user channel over real WebSocket connections to one RootAgent,
// and a broadcast from one is fanned out to the other but not back to the
// broadcaster (spec.md §3's no-echo invariant).
func TestBroadcastFanOut(t *testing.T) {
	_, url := newTestAgent(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sender := fdc3.NewProxyAgent(fdc3.ProxyConfig{URL: url, ActualURL: "https://sender.example.com"}, fdc3.LogErrors(log.Default()))
	if err := sender.Connect(ctx); err != nil {
		t.Fatalf("sender Connect: %v", err)
	}
	defer sender.Close()

	receiver := fdc3.NewProxyAgent(fdc3.ProxyConfig{URL: url, ActualURL: "https://receiver.example.com"}, fdc3.LogErrors(log.Default()))
	if err := receiver.Connect(ctx); err != nil {
		t.Fatalf("receiver Connect: %v", err)
	}
	defer receiver.Close()

	if err := sender.JoinUserChannel(ctx, "fdc3.channel.1"); err != nil {
		t.Fatalf("sender JoinUserChannel: %v", err)
	}
	if err := receiver.JoinUserChannel(ctx, "fdc3.channel.1"); err != nil {
		t.Fatalf("receiver JoinUserChannel: %v", err)
	}

	received := make(chan fdc3.Context, 1)
	if _, err := receiver.AddContextListener(ctx, nil, nil, func(c fdc3.Context) {
		received <- c
	}); err != nil {
		t.Fatalf("AddContextListener: %v", err)
	}

	senderEcho := make(chan fdc3.Context, 1)
	if _, err := sender.AddContextListener(ctx, nil, nil, func(c fdc3.Context) {
		senderEcho <- c
	}); err != nil {
		t.Fatalf("sender AddContextListener: %v", err)
	}

	contact := fdc3.Context{"type": "fdc3.contact", "name": "Jane Doe"}
	if err := sender.Broadcast(ctx, "fdc3.channel.1", contact); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}

	select {
	case got := <-received:
		if got["name"] != "Jane Doe" {
			t.Fatalf("receiver got %v, want name=Jane Doe", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("receiver never got the broadcast context")
	}

	select {
	case got := <-senderEcho:
		t.Fatalf("broadcaster must not receive its own broadcast, got %v", got)
	case <-time.After(200 * time.Millisecond):
	}
}

// TestRaiseIntentRoundTrip exercises the intent round trip: a raised intent with
// exactly one registered listener resolves automatically, and the
// eventual intentResultRequest is delivered back to the raiser as an
// intentEvent correlated by intentResolutionId (spec.md §5).
func TestRaiseIntentRoundTrip(t *testing.T) {
	_, url := newTestAgent(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resolver := fdc3.NewProxyAgent(fdc3.ProxyConfig{URL: url, ActualURL: "https://resolver.example.com"}, fdc3.LogErrors(log.Default()))
	if err := resolver.Connect(ctx); err != nil {
		t.Fatalf("resolver Connect: %v", err)
	}
	defer resolver.Close()
	if _, err := resolver.AddIntentListener(ctx, "ViewContact", nil); err != nil {
		t.Fatalf("AddIntentListener: %v", err)
	}

	raiser := fdc3.NewProxyAgent(fdc3.ProxyConfig{URL: url, ActualURL: "https://raiser.example.com"}, fdc3.LogErrors(log.Default()))
	if err := raiser.Connect(ctx); err != nil {
		t.Fatalf("raiser Connect: %v", err)
	}
	defer raiser.Close()

	result := make(chan fdc3.Context, 1)
	resolutionID, err := raiser.RaiseIntent(ctx, "ViewContact", fdc3.Context{"type": "fdc3.contact", "name": "Jane Doe"}, func(c fdc3.Context) {
		result <- c
	})
	if err != nil {
		t.Fatalf("RaiseIntent: %v", err)
	}
	if resolutionID == "" {
		t.Fatal("RaiseIntent returned empty resolutionID")
	}

	if _, err := resolver.Request(ctx, fdc3.TypeIntentResultRequest, struct {
		IntentResolutionID string       `json:"intentResolutionId"`
		Result             fdc3.Context `json:"result"`
	}{resolutionID, fdc3.Context{"type": "fdc3.contact", "name": "Jane Doe", "viewed": true}}); err != nil {
		t.Fatalf("intentResultRequest: %v", err)
	}

	select {
	case got := <-result:
		if got["viewed"] != true {
			t.Fatalf("raiser got result %v, want viewed=true", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("raiser never got the intent result")
	}
}
