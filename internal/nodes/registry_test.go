package nodes

import (
	"testing"
	"time"
)

func TestRegistry_ConnectAndResolve(t *testing.T) {
	reg := NewRegistry()
	reg.Connect("a", "Laptop", "mac", []string{"system.run"})

	if _, err := reg.Resolve(""); err != nil {
		t.Fatalf("single node should resolve implicitly: %v", err)
	}
	n, err := reg.Resolve("a")
	if err != nil || n.Platform != "mac" {
		t.Fatalf("explicit resolve: %v %+v", err, n)
	}

	reg.Connect("b", "Phone", "ios", []string{"canvas.snapshot"})
	if _, err := reg.Resolve(""); err == nil {
		t.Error("two connected nodes and no request should be ambiguous")
	}
	if _, err := reg.Resolve("missing"); err == nil {
		t.Error("unknown node should error")
	}
}

func TestRegistry_DisconnectKeepsRecordDuringGrace(t *testing.T) {
	reg := NewRegistry()
	reg.grace = 50 * time.Millisecond
	reg.Connect("a", "", "mac", nil)

	var failed string
	reg.OnDisconnect(func(id string) { failed = id })

	reg.Disconnect("a")
	if failed != "a" {
		t.Fatalf("disconnect callback: %q", failed)
	}

	n, ok := reg.Get("a")
	if !ok || n.Connected {
		t.Error("record should linger offline during the grace window")
	}
	if _, err := reg.Resolve("a"); err == nil {
		t.Error("offline node should not resolve")
	}

	time.Sleep(120 * time.Millisecond)
	if _, ok := reg.Get("a"); ok {
		t.Error("record should be evicted after the grace window")
	}
}

func TestRegistry_ReconnectCancelsEviction(t *testing.T) {
	reg := NewRegistry()
	reg.grace = 50 * time.Millisecond
	reg.Connect("a", "", "mac", nil)
	reg.Disconnect("a")
	reg.Connect("a", "", "mac", []string{"system.run"})

	time.Sleep(120 * time.Millisecond)
	n, ok := reg.Get("a")
	if !ok || !n.Connected {
		t.Fatal("reconnect within grace should survive eviction")
	}
	if !n.declares("system.run") {
		t.Error("reconnect should carry the fresh command list")
	}
}

func TestRegistry_ListOrdersConnectedFirst(t *testing.T) {
	reg := NewRegistry()
	reg.grace = time.Minute
	reg.Connect("z", "", "mac", nil)
	reg.Connect("a", "", "ios", nil)
	reg.Disconnect("z")

	list := reg.List()
	if len(list) != 2 || list[0].ID != "a" || !list[0].Connected {
		t.Fatalf("order: %+v", list)
	}
}

func TestPlatformAllows(t *testing.T) {
	if !PlatformAllows("mac", "system.run") {
		t.Error("mac carries system.run")
	}
	if PlatformAllows("ios", "system.run") {
		t.Error("ios must not carry system.run")
	}
	if PlatformAllows("toaster", "system.run") {
		t.Error("unknown platform gets nothing")
	}
}
