// © Copyright 2026, PhotonBench Instruments - https://photonbench.dev
// SPDX-License-Identifier: Apache-2.0

package tagrpc

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// Handle is the opaque client-visible identifier of a registered adapter.
// Handles are never reused: a freed handle stays dead forever.
type Handle string

// Registry maps handles to live adapters and coordinates their lifetimes.
// All mutations happen under one mutex, so an explicit free racing a
// disconnect cleanup for the same handle still triggers the native teardown
// exactly once.
//
// Handles carry session attribution for disconnect cleanup only; any client
// may free any handle, since the instrument is one shared resource.
type Registry struct {
	mu        sync.Mutex
	adapters  map[Handle]*regEntry
	bySession map[SessionID]map[Handle]struct{}
	// freed holds tombstones that classify a repeated free as AlreadyFreed
	// rather than UnknownHandle. Marks live only as long as the owning
	// session: ReleaseSession drops them, so the set stays bounded under
	// connect/disconnect churn. freedBySession indexes the marks per owner.
	freed          map[Handle]struct{}
	freedBySession map[SessionID]map[Handle]struct{}
}

type regEntry struct {
	adapter *Adapter
	owner   SessionID
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters:       make(map[Handle]*regEntry),
		bySession:      make(map[SessionID]map[Handle]struct{}),
		freed:          make(map[Handle]struct{}),
		freedBySession: make(map[SessionID]map[Handle]struct{}),
	}
}

// Register stores the adapter under a fresh handle attributed to the given
// session. The handle resolves as soon as Register returns.
func (r *Registry) Register(a *Adapter, owner SessionID) Handle {
	h := Handle("obj-" + uuid.NewString())
	r.registerAs(a, h, owner)
	return h
}

// RegisterNamed stores the adapter under a caller-chosen well-known handle,
// with no owning session. Used for the root library adapter.
func (r *Registry) RegisterNamed(a *Adapter, h Handle) {
	r.registerAs(a, h, "")
}

func (r *Registry) registerAs(a *Adapter, h Handle, owner SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[h] = &regEntry{adapter: a, owner: owner}
	if owner != "" {
		owned, ok := r.bySession[owner]
		if !ok {
			owned = make(map[Handle]struct{})
			r.bySession[owner] = owned
		}
		owned[h] = struct{}{}
	}
	slog.Debug("registered adapter", "handle", h, "class", a.Class(), "session", owner)
}

// Resolve dereferences a handle. Unknown and freed handles both fail with an
// UnknownHandle fault; the offending call fails, nothing else does.
func (r *Registry) Resolve(h Handle) (*Adapter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.adapters[h]
	if !ok {
		return nil, Faultf(KindUnknownHandle, "unknown or freed handle %q", h)
	}
	return e.adapter, nil
}

// Free removes the handle and runs the adapter's native teardown. A second
// free of the same handle is a classified no-op (AlreadyFreed), never a
// second teardown. Teardown runs outside the registry lock; the removal
// under the lock is what makes it exactly-once.
func (r *Registry) Free(h Handle) error {
	r.mu.Lock()
	e, ok := r.adapters[h]
	if !ok {
		if _, wasFreed := r.freed[h]; wasFreed {
			r.mu.Unlock()
			return Faultf(KindAlreadyFreed, "handle %q already freed", h)
		}
		r.mu.Unlock()
		return Faultf(KindUnknownHandle, "unknown handle %q", h)
	}
	delete(r.adapters, h)
	r.freed[h] = struct{}{}
	if e.owner != "" {
		marks, ok := r.freedBySession[e.owner]
		if !ok {
			marks = make(map[Handle]struct{})
			r.freedBySession[e.owner] = marks
		}
		marks[h] = struct{}{}
		if owned, ok := r.bySession[e.owner]; ok {
			delete(owned, h)
		}
	}
	r.mu.Unlock()

	releaseAdapter(h, e.adapter)
	return nil
}

// ReleaseSession frees every handle still attributed to the session. It is
// invoked from the connection teardown path for clean and unclean
// disconnects alike, and is safe to call when some handles were already
// freed explicitly. Returns the number of handles released.
//
// The session's AlreadyFreed tombstones are dropped here; a free arriving
// after the owning session is gone classifies as UnknownHandle.
func (r *Registry) ReleaseSession(sid SessionID) int {
	r.mu.Lock()
	owned := r.bySession[sid]
	delete(r.bySession, sid)

	for h := range r.freedBySession[sid] {
		delete(r.freed, h)
	}
	delete(r.freedBySession, sid)

	var entries []*regEntry
	var handles []Handle
	for h := range owned {
		e, ok := r.adapters[h]
		if !ok {
			// Freed explicitly before the disconnect; nothing left to do.
			continue
		}
		delete(r.adapters, h)
		entries = append(entries, e)
		handles = append(handles, h)
	}
	r.mu.Unlock()

	for i, e := range entries {
		releaseAdapter(handles[i], e.adapter)
	}
	if len(entries) > 0 {
		slog.Info("released session objects", "session", sid, "count", len(entries))
	}
	return len(entries)
}

// releaseAdapter runs the native teardown, logging failures instead of
// propagating them: by the time teardown runs the client may be gone.
func releaseAdapter(h Handle, a *Adapter) {
	if a.release == nil {
		return
	}
	if err := a.release(); err != nil {
		slog.Warn("native teardown failed", "handle", h, "class", a.Class(), "err", err)
	}
}

// Len reports the number of live registrations.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.adapters)
}

// Handles returns the live handles in unspecified order.
func (r *Registry) Handles() []Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return lo.Keys(r.adapters)
}
