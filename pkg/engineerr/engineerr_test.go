package engineerr

import (
	"errors"
	"testing"
)

func TestWrapPreservesExistingClass(t *testing.T) {
	inner := New(StaleWitness, "txbuilder.Build", "witness too old", nil)
	outer := Wrap("engine.Send", inner)
	if outer.Class != StaleWitness {
		t.Fatalf("Wrap changed class to %s, want StaleWitness", outer.Class)
	}
}

func TestWrapClassifiesUnknownErrorAsInternal(t *testing.T) {
	outer := Wrap("engine.Send", errors.New("boom"))
	if outer.Class != Internal {
		t.Fatalf("Wrap(unclassified) class = %s, want Internal", outer.Class)
	}
}

func TestIsMatchesWrappedClass(t *testing.T) {
	err := New(Transient, "rpcadapter.Call", "timeout", nil)
	if !Is(err, Transient) {
		t.Fatal("Is(err, Transient) = false, want true")
	}
	if Is(err, Rejected) {
		t.Fatal("Is(err, Rejected) = true, want false")
	}
}

func TestOnlyTransientIsRetryable(t *testing.T) {
	for _, c := range []Class{InvalidInput, InsufficientFunds, StaleWitness, Rejected, StateError, Cancelled, Internal} {
		if (New(c, "op", "d", nil)).Retryable() {
			t.Fatalf("class %s must not be retryable", c)
		}
	}
	if !(New(Transient, "op", "d", nil)).Retryable() {
		t.Fatal("Transient must be retryable")
	}
}

func TestErrorUnwrapsToRootCause(t *testing.T) {
	root := errors.New("connection refused")
	err := New(Transient, "rpcadapter.Call", "dial failed", root)
	if !errors.Is(err, root) {
		t.Fatal("errors.Is did not find the wrapped root cause")
	}
}
