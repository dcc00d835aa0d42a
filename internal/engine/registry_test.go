package engine

import "testing"

func TestRegistry_BindAndResolve(t *testing.T) {
	r := NewRegistry()
	r.Bind("alice", "conn-1")

	if !r.IsLive("alice") {
		t.Error("expected alice live after bind")
	}
	connID, ok := r.Resolve("alice")
	if !ok || connID != "conn-1" {
		t.Errorf("expected conn-1, got %q (ok=%v)", connID, ok)
	}
	if r.Len() != 1 {
		t.Errorf("expected 1 binding, got %d", r.Len())
	}
}

func TestRegistry_RebindReplacesConnection(t *testing.T) {
	r := NewRegistry()
	r.Bind("alice", "conn-1")
	r.Bind("alice", "conn-2")

	connID, _ := r.Resolve("alice")
	if connID != "conn-2" {
		t.Errorf("expected last binding to win, got %q", connID)
	}
	if r.Len() != 1 {
		t.Errorf("expected rebind to keep 1 binding, got %d", r.Len())
	}
}

func TestRegistry_UnbindMatchingConnection(t *testing.T) {
	r := NewRegistry()
	r.Bind("alice", "conn-1")

	if !r.Unbind("alice", "conn-1") {
		t.Error("expected unbind of current connection to succeed")
	}
	if r.IsLive("alice") {
		t.Error("expected alice not live after unbind")
	}
}

func TestRegistry_UnbindStaleConnectionIsNoop(t *testing.T) {
	r := NewRegistry()
	r.Bind("alice", "conn-1")
	r.Bind("alice", "conn-2")

	// The disconnect of the replaced connection must not kill the new one.
	if r.Unbind("alice", "conn-1") {
		t.Error("expected stale unbind to report false")
	}
	if !r.IsLive("alice") {
		t.Error("expected alice still live on the newer connection")
	}
}

func TestRegistry_UnbindWithoutConnIDAlwaysRemoves(t *testing.T) {
	r := NewRegistry()
	r.Bind("alice", "conn-1")

	if !r.Unbind("alice", "") {
		t.Error("expected unconditional unbind to succeed")
	}
	if r.IsLive("alice") {
		t.Error("expected alice not live")
	}
}

func TestRegistry_UnbindUnknownUser(t *testing.T) {
	r := NewRegistry()
	if r.Unbind("ghost", "conn-1") {
		t.Error("expected unbind of unknown user to report false")
	}
}

func TestRegistry_IsLiveUnknownUser(t *testing.T) {
	r := NewRegistry()
	if r.IsLive("ghost") {
		t.Error("expected unknown user not live")
	}
	if _, ok := r.Resolve("ghost"); ok {
		t.Error("expected resolve to fail for unknown user")
	}
}
