// © Copyright 2026, PhotonBench Instruments - https://photonbench.dev
// SPDX-License-Identifier: Apache-2.0

package tagrpc

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

func newTestAdapter(releases *atomic.Int32) *Adapter {
	a := NewAdapter("Test", nil)
	if releases != nil {
		a.SetRelease(func() error {
			releases.Add(1)
			return nil
		})
	}
	return a
}

func TestRegistryRegisterResolve(t *testing.T) {
	r := NewRegistry()
	a := newTestAdapter(nil)
	h := r.Register(a, "sess-1")

	got, err := r.Resolve(h)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != a {
		t.Errorf("Resolve returned a different adapter")
	}
	if r.Len() != 1 {
		t.Errorf("Len = %d, want 1", r.Len())
	}
}

func TestRegistryResolveUnknown(t *testing.T) {
	r := NewRegistry()
	_, err := r.Resolve("obj-nope")
	if !errors.Is(err, &Fault{Kind: KindUnknownHandle}) {
		t.Errorf("Resolve unknown = %v, want UnknownHandle fault", err)
	}
}

func TestRegistryFreeTwice(t *testing.T) {
	r := NewRegistry()
	var releases atomic.Int32
	h := r.Register(newTestAdapter(&releases), "sess-1")

	if err := r.Free(h); err != nil {
		t.Fatalf("first Free: %v", err)
	}
	err := r.Free(h)
	if !errors.Is(err, &Fault{Kind: KindAlreadyFreed}) {
		t.Errorf("second Free = %v, want AlreadyFreed fault", err)
	}
	if n := releases.Load(); n != 1 {
		t.Errorf("teardown ran %d times, want 1", n)
	}
}

func TestRegistryFreedHandleNeverResurrects(t *testing.T) {
	r := NewRegistry()
	h := r.Register(newTestAdapter(nil), "sess-1")
	if err := r.Free(h); err != nil {
		t.Fatalf("Free: %v", err)
	}

	// New registrations must not land on the dead handle.
	for range 100 {
		h2 := r.Register(newTestAdapter(nil), "sess-1")
		if h2 == h {
			t.Fatalf("freed handle %q was reused", h)
		}
	}
	if _, err := r.Resolve(h); !errors.Is(err, &Fault{Kind: KindUnknownHandle}) {
		t.Errorf("Resolve freed handle = %v, want UnknownHandle fault", err)
	}
}

func TestReleaseSession(t *testing.T) {
	r := NewRegistry()
	var releases atomic.Int32
	r.Register(newTestAdapter(&releases), "sess-1")
	r.Register(newTestAdapter(&releases), "sess-1")
	r.Register(newTestAdapter(&releases), "sess-2")

	if n := r.ReleaseSession("sess-1"); n != 2 {
		t.Errorf("ReleaseSession released %d handles, want 2", n)
	}
	if n := releases.Load(); n != 2 {
		t.Errorf("teardown ran %d times, want 2", n)
	}
	if r.Len() != 1 {
		t.Errorf("Len = %d, want 1 (sess-2's handle)", r.Len())
	}

	// Idempotent: a second cleanup finds nothing.
	if n := r.ReleaseSession("sess-1"); n != 0 {
		t.Errorf("second ReleaseSession released %d handles, want 0", n)
	}
}

func TestReleaseSessionSkipsExplicitlyFreed(t *testing.T) {
	r := NewRegistry()
	var releases atomic.Int32
	h := r.Register(newTestAdapter(&releases), "sess-1")
	r.Register(newTestAdapter(&releases), "sess-1")

	if err := r.Free(h); err != nil {
		t.Fatalf("Free: %v", err)
	}
	if n := r.ReleaseSession("sess-1"); n != 1 {
		t.Errorf("ReleaseSession released %d handles, want 1", n)
	}
	if n := releases.Load(); n != 2 {
		t.Errorf("teardown ran %d times, want 2", n)
	}
}

func TestConcurrentFreeAndCleanupRunTeardownOnce(t *testing.T) {
	for range 50 {
		r := NewRegistry()
		var releases atomic.Int32
		h := r.Register(newTestAdapter(&releases), "sess-1")

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.Free(h) // may lose the race, AlreadyFreed is fine
		}()
		go func() {
			defer wg.Done()
			r.ReleaseSession("sess-1")
		}()
		wg.Wait()

		if n := releases.Load(); n != 1 {
			t.Fatalf("teardown ran %d times, want exactly 1", n)
		}
	}
}

func TestReleaseSessionDropsFreedMarks(t *testing.T) {
	r := NewRegistry()
	h := r.Register(newTestAdapter(nil), "sess-1")
	if err := r.Free(h); err != nil {
		t.Fatalf("Free: %v", err)
	}
	// While the session lives, the double free stays classified.
	if err := r.Free(h); !errors.Is(err, &Fault{Kind: KindAlreadyFreed}) {
		t.Errorf("second Free = %v, want AlreadyFreed fault", err)
	}

	r.ReleaseSession("sess-1")
	if err := r.Free(h); !errors.Is(err, &Fault{Kind: KindUnknownHandle}) {
		t.Errorf("Free after session release = %v, want UnknownHandle fault", err)
	}
}

func TestFreedMarksBoundedUnderSessionChurn(t *testing.T) {
	r := NewRegistry()
	for i := range 200 {
		sid := SessionID("sess-" + string(rune('a'+i%26)))
		h := r.Register(newTestAdapter(nil), sid)
		if err := r.Free(h); err != nil {
			t.Fatalf("Free: %v", err)
		}
		r.ReleaseSession(sid)
	}

	r.mu.Lock()
	freed, perSession := len(r.freed), len(r.freedBySession)
	r.mu.Unlock()
	if freed != 0 || perSession != 0 {
		t.Errorf("tombstones after churn: freed=%d perSession=%d, want 0/0", freed, perSession)
	}
}

func TestRegisterNamedHasNoOwner(t *testing.T) {
	r := NewRegistry()
	var releases atomic.Int32
	a := newTestAdapter(&releases)
	r.RegisterNamed(a, RootHandle)

	r.ReleaseSession("sess-1")
	if _, err := r.Resolve(RootHandle); err != nil {
		t.Errorf("root handle must survive session cleanup, got %v", err)
	}
	if releases.Load() != 0 {
		t.Errorf("root teardown must not run on session cleanup")
	}
}

func TestFaultIs(t *testing.T) {
	err := Faultf(KindAlreadyFreed, "handle %q already freed", "obj-1")

	if !errors.Is(err, ErrFault) {
		t.Errorf("fault should match the bare ErrFault sentinel")
	}
	if !errors.Is(err, &Fault{Kind: KindAlreadyFreed}) {
		t.Errorf("fault should match its own kind")
	}
	if errors.Is(err, &Fault{Kind: KindUnknownHandle}) {
		t.Errorf("fault should not match a different kind")
	}
}
