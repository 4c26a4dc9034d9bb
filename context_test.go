package fdc3

import "testing"

func TestContext_TypeAndWellFormed(t *testing.T) {
	c := Context{"type": "fdc3.contact", "name": "Jane Doe"}
	if c.Type() != "fdc3.contact" {
		t.Errorf("Type() = %q, want fdc3.contact", c.Type())
	}
	if !c.isWellFormed() {
		t.Error("well-formed context reported not well-formed")
	}

	if (Context(nil)).isWellFormed() {
		t.Error("nil context reported well-formed")
	}
	if (Context{"name": "Jane Doe"}).isWellFormed() {
		t.Error("context with no type field reported well-formed")
	}
	if (Context{"type": 42}).isWellFormed() {
		t.Error("context with non-string type reported well-formed")
	}
}

func TestContext_SourceAppIdentifier(t *testing.T) {
	c := Context{
		"type": "fdc3.contact",
		"source": map[string]any{
			"appId":      "contacts",
			"instanceId": "abc",
		},
	}
	want := AppIdentifier{AppID: "contacts", InstanceID: "abc"}
	if got := c.sourceAppIdentifier(); got != want {
		t.Errorf("sourceAppIdentifier() = %v, want %v", got, want)
	}

	if got := (Context{"type": "fdc3.contact"}).sourceAppIdentifier(); !got.IsZero() {
		t.Errorf("sourceAppIdentifier() with no source = %v, want zero value", got)
	}
}

func TestChannelHistory_CurrentByTypeAndLatest(t *testing.T) {
	h := newChannelHistory()
	if _, ok := h.current(""); ok {
		t.Fatal("empty history reported a current context")
	}

	contact := Context{"type": "fdc3.contact", "name": "Jane"}
	instrument := Context{"type": "fdc3.instrument", "ticker": "AAPL"}
	h.record(contact)
	h.record(instrument)

	if got, ok := h.current("fdc3.contact"); !ok || got.Type() != "fdc3.contact" {
		t.Errorf("current(fdc3.contact) = %v, %v", got, ok)
	}
	if got, ok := h.current(""); !ok || got.Type() != "fdc3.instrument" {
		t.Errorf("current(\"\") should return the most recent broadcast of any type, got %v, %v", got, ok)
	}
}

func TestChannelHistory_ScrubBySource(t *testing.T) {
	h := newChannelHistory()
	alice := AppIdentifier{AppID: "alice", InstanceID: "1"}
	fromAlice := Context{"type": "fdc3.contact", "source": map[string]any{"appId": "alice", "instanceId": "1"}}
	h.record(fromAlice)

	h.scrubBySource(alice)
	if _, ok := h.current("fdc3.contact"); ok {
		t.Error("context from a scrubbed source should be irretrievable")
	}
	if _, ok := h.current(""); ok {
		t.Error("latest pointer should also be cleared by scrub")
	}
}
