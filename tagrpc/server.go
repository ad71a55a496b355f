// © Copyright 2026, PhotonBench Instruments - https://photonbench.dev
// SPDX-License-Identifier: Apache-2.0

package tagrpc

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/apache/arrow-go/v18/arrow"
)

// Built-in method names available on every adapter, served by the dispatch
// loop itself rather than the binding table.
const (
	// MethodFree releases the addressed handle (Pyro's release analog).
	MethodFree = "free"
	// MethodDescribe lists the addressed adapter's bound methods.
	MethodDescribe = "describe"
)

// Server is the remote-object daemon. It owns the registry, accepts client
// connections, runs one serve loop per connection, and releases a session's
// handles when its connection ends, however it ends.
type Server struct {
	registry     *Registry
	serverID     string
	serviceName  string
	dispatchHook DispatchHook
	sessionHooks []SessionHook
	debugFaults  bool

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closed   atomic.Bool
	wg       sync.WaitGroup
}

// NewServer creates a server exposing the given root adapter under
// [RootHandle].
func NewServer(root *Adapter) *Server {
	s := &Server{
		registry: NewRegistry(),
		conns:    make(map[net.Conn]struct{}),
	}
	s.registry.RegisterNamed(root, RootHandle)
	return s
}

// Registry returns the server's object lifetime registry.
func (s *Server) Registry() *Registry { return s.registry }

// SetServerID sets a server identifier included in response metadata.
func (s *Server) SetServerID(id string) { s.serverID = id }

// SetServiceName sets a logical service name used by observability hooks.
func (s *Server) SetServiceName(name string) { s.serviceName = name }

// ServiceName returns the logical service name, or empty string if not set.
func (s *Server) ServiceName() string { return s.serviceName }

// SetDispatchHook registers a hook called around each call dispatch.
func (s *Server) SetDispatchHook(hook DispatchHook) { s.dispatchHook = hook }

// AddSessionHook registers a hook observing session connect/disconnect.
func (s *Server) AddSessionHook(hook SessionHook) {
	s.sessionHooks = append(s.sessionHooks, hook)
}

// SetDebugFaults controls whether fault responses include server stack
// traces. Off by default; enable for development only.
func (s *Server) SetDebugFaults(enabled bool) { s.debugFaults = enabled }

// ListenAndServe listens on addr and serves until Close is called.
func (s *Server) ListenAndServe(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(l)
}

// Serve accepts connections on l, serving each on its own goroutine. It
// returns after Close, or on a non-recoverable accept error.
func (s *Server) Serve(l net.Listener) error {
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()

	for {
		conn, err := l.Accept()
		if err != nil {
			if s.closed.Load() {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}

		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() {
				s.mu.Lock()
				delete(s.conns, conn)
				s.mu.Unlock()
				conn.Close()
			}()
			s.ServeConn(context.Background(), conn, conn.RemoteAddr().String())
		}()
	}
}

// Addr returns the listener address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close stops accepting, closes all live connections, and waits for their
// serve loops (and therefore their disconnect cleanups) to finish.
func (s *Server) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.mu.Lock()
	if s.listener != nil {
		s.listener.Close()
	}
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	return nil
}

// ServeConn runs the serve loop for one connection. Exported so tests and
// alternative transports can drive a session over any ReadWriter. The
// deferred cleanup is the session-teardown contract: it does not depend on
// the client having executed any graceful shutdown call.
func (s *Server) ServeConn(ctx context.Context, rw io.ReadWriter, remoteAddr string) {
	sess := newSession(remoteAddr)
	slog.Info("session connected", "session", sess.ID, "remote", remoteAddr)
	for _, h := range s.sessionHooks {
		h.OnConnect(sess)
	}

	var reason error
	defer func() {
		released := s.registry.ReleaseSession(sess.ID)
		slog.Info("session disconnected",
			"session", sess.ID, "remote", remoteAddr, "released", released, "reason", reason)
		for _, h := range s.sessionHooks {
			h.OnDisconnect(sess, reason)
		}
	}()

	for {
		err := s.serveOne(ctx, sess, rw, rw)
		if err != nil {
			if err == io.EOF {
				return
			}
			if !isTransportClosed(err) {
				slog.Error("serve loop error", "session", sess.ID, "err", err)
				reason = err
			}
			return
		}
	}
}

// serveOne handles one complete request-response cycle. A returned error is
// a transport failure that ends the session; call-level failures are written
// to the client and return nil so the session keeps serving.
func (s *Server) serveOne(ctx context.Context, sess *Session, r io.Reader, w io.Writer) error {
	req, err := ReadRequest(r)
	if err != nil {
		if err == io.EOF {
			return io.EOF
		}
		var fault *Fault
		if errors.As(err, &fault) {
			emptySchema := arrow.NewSchema(nil, nil)
			_ = WriteFaultResponse(w, emptySchema, nil, fault, s.serverID, "", s.debugFaults)
			return nil // malformed request, keep serving
		}
		return err
	}
	defer req.Batch.Release()

	handle := req.Handle
	if handle == "" {
		handle = RootHandle
	}

	adapter, resolveErr := s.registry.Resolve(handle)

	info := DispatchInfo{
		Method:    req.Method,
		Handle:    handle,
		ServerID:  s.serverID,
		RequestID: req.RequestID,
		Session:   sess.ID,
		Metadata:  req.Metadata,
	}
	if adapter != nil {
		info.Class = adapter.Class()
	}

	var hookToken HookToken
	hookActive := false
	stats := &CallStatistics{}
	stats.RecordInput(req.Batch.NumRows(), batchBufferSize(req.Batch))

	if s.dispatchHook != nil {
		func() {
			defer func() {
				if rv := recover(); rv != nil {
					slog.Error("dispatch hook start panic", "err", rv)
				}
			}()
			var hookCtx context.Context
			hookCtx, hookToken = s.dispatchHook.OnDispatchStart(ctx, info)
			if hookCtx != nil {
				ctx = hookCtx
			}
			hookActive = true
		}()
	}

	callCtx := &CallContext{
		Ctx:       ctx,
		RequestID: req.RequestID,
		ServerID:  s.serverID,
		Handle:    handle,
		Method:    req.Method,
		Session:   sess,
		LogLevel:  LogLevel(req.LogLevel),
		registry:  s.registry,
	}
	if callCtx.LogLevel == "" {
		callCtx.LogLevel = LogTrace // allow all, client filters
	}

	res, callErr := s.dispatch(ctx, callCtx, adapter, resolveErr, req)

	var transportErr error
	if callErr != nil {
		emptySchema := arrow.NewSchema(nil, nil)
		transportErr = WriteFaultResponse(w, emptySchema, callCtx.drainLogs(), callErr,
			s.serverID, req.RequestID, s.debugFaults)
	} else {
		schema, batch, extra, serErr := resultBatch(res)
		if serErr != nil {
			callErr = Faultf(KindRuntime, "result serialization: %v", serErr)
			emptySchema := arrow.NewSchema(nil, nil)
			transportErr = WriteFaultResponse(w, emptySchema, callCtx.drainLogs(), callErr,
				s.serverID, req.RequestID, s.debugFaults)
		} else {
			stats.RecordOutput(batch.NumRows(), batchBufferSize(batch))
			transportErr = WriteResultResponse(w, schema, callCtx.drainLogs(), batch, extra,
				s.serverID, req.RequestID)
			batch.Release()
		}
	}

	if hookActive {
		func() {
			defer func() {
				if rv := recover(); rv != nil {
					slog.Error("dispatch hook end panic", "err", rv)
				}
			}()
			s.dispatchHook.OnDispatchEnd(ctx, hookToken, info, stats, callErr)
		}()
	}

	return transportErr
}

// dispatch resolves built-in methods, then forwards to the adapter's bound
// method table. Handler panics degrade to RuntimeError faults for the one
// offending call.
func (s *Server) dispatch(ctx context.Context, callCtx *CallContext,
	adapter *Adapter, resolveErr error, req *Request) (res *Result, err error) {

	// free runs before the resolve check: it needs no live adapter, and only
	// the registry can tell an already freed handle apart from an unknown
	// one. Routing through the resolve error would collapse both to
	// UnknownHandle.
	if req.Method == MethodFree {
		if callCtx.Handle == RootHandle {
			return nil, Faultf(KindRuntime, "the library adapter cannot be freed")
		}
		if err := s.registry.Free(callCtx.Handle); err != nil {
			return nil, err
		}
		return Void(), nil
	}

	if resolveErr != nil {
		return nil, resolveErr
	}

	if req.Method == MethodDescribe {
		names := adapter.MethodNames()
		return ValueOf(append(names, MethodDescribe, MethodFree)), nil
	}

	defer func() {
		if rv := recover(); rv != nil {
			res = nil
			err = Faultf(KindRuntime, "%v", rv)
		}
	}()
	return adapter.invoke(ctx, callCtx, req.Batch)
}

// isTransportClosed reports whether the error means the peer went away,
// which is a normal way for a session to end.
func isTransportClosed(err error) bool {
	if err == io.EOF || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "closed pipe") ||
		strings.Contains(msg, "use of closed network connection") ||
		strings.Contains(msg, "EOF")
}
