// © Copyright 2026, PhotonBench Instruments - https://photonbench.dev
// SPDX-License-Identifier: Apache-2.0

package tagrpc

import (
	"time"

	"github.com/google/uuid"
)

// SessionID identifies one client connection.
type SessionID string

// Session is one client's active connection to the server. The server
// creates it when the connection is accepted and tears it down, registry
// cleanup included, when the connection ends for any reason.
type Session struct {
	ID          SessionID
	RemoteAddr  string
	ConnectedAt time.Time
}

func newSession(remoteAddr string) *Session {
	return &Session{
		ID:          SessionID("sess-" + uuid.NewString()),
		RemoteAddr:  remoteAddr,
		ConnectedAt: time.Now(),
	}
}

// SessionHook observes session lifecycle events. OnDisconnect fires for
// clean and unclean disconnects identically; reason is nil for a clean EOF
// and the transport error otherwise. Hooks run after registry cleanup, so a
// hook observing a disconnect sees the session's handles already released.
//
// Implementations must be safe for concurrent use; sessions run in parallel.
type SessionHook interface {
	OnConnect(s *Session)
	OnDisconnect(s *Session, reason error)
}

// SessionHookFuncs adapts plain functions to a SessionHook. Either field may
// be nil.
type SessionHookFuncs struct {
	Connect    func(s *Session)
	Disconnect func(s *Session, reason error)
}

func (h SessionHookFuncs) OnConnect(s *Session) {
	if h.Connect != nil {
		h.Connect(s)
	}
}

func (h SessionHookFuncs) OnDisconnect(s *Session, reason error) {
	if h.Disconnect != nil {
		h.Disconnect(s, reason)
	}
}
