package metrics

import "testing"

// resetForTest clears package state between tests; InitRegistry has no
// teardown counterpart in production (it's called once at daemon startup),
// but tests run in the same process and must not leak enabled=true across
// cases.
func resetForTest() {
	mu.Lock()
	enabled = false
	registry = nil
	mu.Unlock()
}

func TestIsEnabledFalseBeforeInit(t *testing.T) {
	resetForTest()
	if IsEnabled() {
		t.Fatal("expected IsEnabled to be false before InitRegistry")
	}
}

func TestInitRegistryEnablesCollection(t *testing.T) {
	resetForTest()
	defer resetForTest()

	reg := InitRegistry()
	if reg == nil {
		t.Fatal("InitRegistry returned nil registry")
	}
	if !IsEnabled() {
		t.Fatal("expected IsEnabled to be true after InitRegistry")
	}
	if GetRegistry() != reg {
		t.Fatal("GetRegistry returned a different registry than InitRegistry constructed")
	}
}

func TestGetRegistryBeforeInitDoesNotPanic(t *testing.T) {
	resetForTest()
	defer resetForTest()

	if GetRegistry() == nil {
		t.Fatal("GetRegistry returned nil")
	}
	if IsEnabled() {
		t.Fatal("GetRegistry alone must not enable collection")
	}
}
