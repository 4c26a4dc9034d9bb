package fdc3

import "testing"

func TestAppIdentifier_String(t *testing.T) {
	id := AppIdentifier{AppID: "contacts", InstanceID: "abc-123"}
	if got, want := id.String(), "contacts/abc-123"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestAppIdentifier_IsZero(t *testing.T) {
	if !(AppIdentifier{}).IsZero() {
		t.Error("zero-value AppIdentifier reports IsZero() = false")
	}
	if (AppIdentifier{AppID: "contacts"}).IsZero() {
		t.Error("AppIdentifier with AppID set reports IsZero() = true")
	}
}

func TestAppIdentifier_ComparableForSetMembership(t *testing.T) {
	a := AppIdentifier{AppID: "contacts", InstanceID: "1"}
	b := AppIdentifier{AppID: "contacts", InstanceID: "1"}
	c := AppIdentifier{AppID: "contacts", InstanceID: "2"}

	set := map[AppIdentifier]struct{}{a: {}}
	if _, ok := set[b]; !ok {
		t.Error("equal AppIdentifiers did not collide as map keys")
	}
	if _, ok := set[c]; ok {
		t.Error("distinct AppIdentifiers collided as map keys")
	}
}

func TestParseAppOrDirectoryShorthand(t *testing.T) {
	tests := []struct {
		in, wantApp, wantDir string
	}{
		{"contacts", "contacts", ""},
		{"contacts@directory.example.com", "contacts", "directory.example.com"},
		{"@directory.example.com", "", "directory.example.com"},
	}
	for _, tt := range tests {
		app, dir := ParseAppOrDirectoryShorthand(tt.in)
		if app != tt.wantApp || dir != tt.wantDir {
			t.Errorf("ParseAppOrDirectoryShorthand(%q) = (%q, %q), want (%q, %q)", tt.in, app, dir, tt.wantApp, tt.wantDir)
		}
	}
}
