package fdc3

import "testing"

func TestPrivateChannelACLs_GrantAndAllowed(t *testing.T) {
	acls := newPrivateChannelACLs()
	alice := AppIdentifier{AppID: "alice", InstanceID: "1"}
	bob := AppIdentifier{AppID: "bob", InstanceID: "1"}

	if acls.allowed("ch1", alice) {
		t.Fatal("allowed before any grant")
	}
	acls.grant("ch1", alice)
	if !acls.allowed("ch1", alice) {
		t.Error("alice should be allowed after grant")
	}
	if acls.allowed("ch1", bob) {
		t.Error("bob should not be allowed without a grant")
	}
}

func TestPrivateChannelACLs_RevokeReportsEmpty(t *testing.T) {
	acls := newPrivateChannelACLs()
	alice := AppIdentifier{AppID: "alice", InstanceID: "1"}
	bob := AppIdentifier{AppID: "bob", InstanceID: "1"}
	acls.grant("ch1", alice)
	acls.grant("ch1", bob)

	if empty := acls.revoke("ch1", alice); empty {
		t.Error("revoke(alice) reported empty while bob remains")
	}
	if empty := acls.revoke("ch1", bob); !empty {
		t.Error("revoke(bob) should report empty once ACL has no members")
	}
}

func TestPrivateChannelACLs_RevokeEverywhere(t *testing.T) {
	acls := newPrivateChannelACLs()
	alice := AppIdentifier{AppID: "alice", InstanceID: "1"}
	acls.grant("ch1", alice)
	acls.grant("ch2", alice)
	acls.grant("ch2", AppIdentifier{AppID: "bob", InstanceID: "1"})

	emptied := acls.revokeEverywhere(alice)
	if len(emptied) != 1 || emptied[0] != "ch1" {
		t.Errorf("revokeEverywhere emptied = %v, want [ch1]", emptied)
	}
	if acls.allowed("ch1", alice) || acls.allowed("ch2", alice) {
		t.Error("alice should be revoked from every channel")
	}
	if !acls.allowed("ch2", AppIdentifier{AppID: "bob", InstanceID: "1"}) {
		t.Error("bob's grant on ch2 should survive alice's revocation")
	}
}
