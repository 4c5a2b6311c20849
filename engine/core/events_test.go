package core

import "testing"

func TestEventFireStopsAtHandler(t *testing.T) {
	EventInitialize()
	defer EventShutdown()

	var calls []string
	first := func(code SystemEventCode, sender, listener interface{}, data EventContext) bool {
		calls = append(calls, "first:"+data.Data.C[0])
		return data.Data.C[0] == "stop"
	}
	second := func(code SystemEventCode, sender, listener interface{}, data EventContext) bool {
		calls = append(calls, "second")
		return true
	}

	a, b := new(int), new(int)
	if !EventRegister(EVENT_CODE_ANIMATION_LOADED, a, first) {
		t.Fatal("first registration failed")
	}
	if EventRegister(EVENT_CODE_ANIMATION_LOADED, a, second) {
		t.Error("duplicate listener registered")
	}
	if !EventRegister(EVENT_CODE_ANIMATION_LOADED, b, second) {
		t.Fatal("second registration failed")
	}

	ctx := EventContext{}
	ctx.Data.C[0] = "stop"
	if !EventFire(EVENT_CODE_ANIMATION_LOADED, nil, ctx) {
		t.Error("event not handled")
	}
	if len(calls) != 1 {
		t.Errorf("calls=%v; expected only first", calls)
	}

	calls = nil
	ctx.Data.C[0] = "go"
	EventFire(EVENT_CODE_ANIMATION_LOADED, nil, ctx)
	if len(calls) != 2 || calls[1] != "second" {
		t.Errorf("calls=%v; expected first then second", calls)
	}

	if !EventUnregister(EVENT_CODE_ANIMATION_LOADED, a) {
		t.Error("unregister failed")
	}
	calls = nil
	EventFire(EVENT_CODE_ANIMATION_LOADED, nil, ctx)
	if len(calls) != 1 || calls[0] != "second" {
		t.Errorf("calls=%v; expected second only", calls)
	}
}

func TestEventFireWithoutInitialize(t *testing.T) {
	EventShutdown()
	if EventFire(EVENT_CODE_APPLICATION_QUIT, nil, EventContext{}) {
		t.Error("fire succeeded without an event system")
	}
}

func TestIdentifierReuse(t *testing.T) {
	a := IdentifierAquireNewID("a")
	b := IdentifierAquireNewID("b")
	if a == b {
		t.Fatalf("ids collide: %d", a)
	}
	if IdentifierOwner(b) != "b" {
		t.Errorf("owner(%d)=%v", b, IdentifierOwner(b))
	}
	if err := IdentifierReleaseID(a); err != nil {
		t.Fatal(err)
	}
	if c := IdentifierAquireNewID("c"); c != a {
		t.Errorf("released id %d not reused, got %d", a, c)
	}
	if err := IdentifierReleaseID(1 << 30); err == nil {
		t.Error("out of range release accepted")
	}
}
