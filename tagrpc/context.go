// © Copyright 2026, PhotonBench Instruments - https://photonbench.dev
// SPDX-License-Identifier: Apache-2.0

package tagrpc

import "context"

// CallContext provides request-scoped information, registry access, and
// client-directed logging to bound methods.
type CallContext struct {
	// Ctx is the request-scoped context, carrying cancellation.
	Ctx context.Context
	// RequestID is the client-supplied identifier, echoed in all response
	// metadata.
	RequestID string
	// ServerID is the server identifier set via [Server.SetServerID].
	ServerID string
	// Handle addresses the adapter the call was dispatched on.
	Handle Handle
	// Method is the name of the method being invoked.
	Method string
	// Session identifies the client connection making the call. Adapters
	// registered through [CallContext.Register] are attributed to it for
	// disconnect cleanup.
	Session *Session
	// LogLevel is the client-requested minimum log severity.
	LogLevel LogLevel

	registry *Registry
	logs     []LogMessage
}

// Register registers a freshly built adapter under a new handle, attributed
// to the calling session. Registration completes before the handle is
// returned, so the client can never hold a handle that does not resolve.
func (c *CallContext) Register(a *Adapter) Handle {
	return c.registry.Register(a, c.Session.ID)
}

// Resolve dereferences a handle-valued parameter to its adapter.
func (c *CallContext) Resolve(h Handle) (*Adapter, error) {
	return c.registry.Resolve(h)
}

// Target dereferences a handle-valued parameter straight to the wrapped
// native object. This is how constructors accept previously created objects
// (a measurement constructor taking a tagger handle).
func (c *CallContext) Target(h Handle) (any, error) {
	a, err := c.registry.Resolve(h)
	if err != nil {
		return nil, err
	}
	return a.Target(), nil
}

// Free releases a handle and runs its native teardown exactly once.
func (c *CallContext) Free(h Handle) error {
	return c.registry.Free(h)
}

// ClientLog records a log message forwarded to the client inside the
// response stream. Messages below the client-requested level are dropped.
func (c *CallContext) ClientLog(level LogLevel, msg string, extras ...KV) {
	if severity(level) > severity(c.LogLevel) {
		return
	}
	logMsg := LogMessage{Level: level, Message: msg}
	if len(extras) > 0 {
		logMsg.Extras = make(map[string]string, len(extras))
		for _, kv := range extras {
			logMsg.Extras[kv.Key] = kv.Value
		}
	}
	c.logs = append(c.logs, logMsg)
}

// drainLogs returns and clears all accumulated log messages.
func (c *CallContext) drainLogs() []LogMessage {
	logs := c.logs
	c.logs = nil
	return logs
}
