// © Copyright 2026, PhotonBench Instruments - https://photonbench.dev
// SPDX-License-Identifier: Apache-2.0

package tagrpc

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"
)

// newTestRoot builds a root adapter exercising every result kind plus
// handle-creating methods whose teardown is observable.
func newTestRoot(releases *atomic.Int32) *Adapter {
	root := NewAdapter("TestLibrary", nil)

	type echoParams struct {
		Text string `tagrpc:"text"`
	}
	Method(root, "echo", func(_ context.Context, _ *CallContext, p echoParams) (*Result, error) {
		return ValueOf(p.Text), nil
	})

	Method(root, "make", func(_ context.Context, call *CallContext, _ struct{}) (*Result, error) {
		child := NewAdapter("Child", nil)
		Method(child, "ping", func(_ context.Context, _ *CallContext, _ struct{}) (*Result, error) {
			return ValueOf("pong"), nil
		})
		if releases != nil {
			child.SetRelease(func() error {
				releases.Add(1)
				return nil
			})
		}
		return HandleRef(call.Register(child), "Child"), nil
	})

	Method(root, "fail", func(_ context.Context, _ *CallContext, _ struct{}) (*Result, error) {
		return nil, Faultf("DeviceInUse", "device already claimed")
	})

	Method(root, "boom", func(_ context.Context, _ *CallContext, _ struct{}) (*Result, error) {
		panic("handler exploded")
	})

	Method(root, "counts", func(_ context.Context, _ *CallContext, _ struct{}) (*Result, error) {
		return Int64Array("counts", []int64{1, 2, 3}), nil
	})

	Method(root, "chatty", func(_ context.Context, call *CallContext, _ struct{}) (*Result, error) {
		call.ClientLog(LogInfo, "working on it")
		return Void(), nil
	})

	return root
}

// startPipeSession runs one server session over an in-memory pipe and
// returns a connected client. The cleanup closes the client side and waits
// for the session teardown to finish.
func startPipeSession(t *testing.T, srv *Server) (*Client, func()) {
	t.Helper()
	clientSide, serverSide := net.Pipe()
	done := make(chan struct{})
	go func() {
		srv.ServeConn(context.Background(), serverSide, "pipe")
		close(done)
	}()
	cleanup := func() {
		clientSide.Close()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatalf("session did not shut down after disconnect")
		}
	}
	return NewClient(clientSide), cleanup
}

func TestServerValueRoundTrip(t *testing.T) {
	srv := NewServer(newTestRoot(nil))
	client, cleanup := startPipeSession(t, srv)
	defer cleanup()

	reply, err := client.Call("", "echo", map[string]any{"text": "hello"})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if reply.Kind != ResultValue || reply.Value != "hello" {
		t.Errorf("reply = %v %v, want value hello", reply.Kind, reply.Value)
	}
}

func TestServerArrayRoundTrip(t *testing.T) {
	srv := NewServer(newTestRoot(nil))
	client, cleanup := startPipeSession(t, srv)
	defer cleanup()

	reply, err := client.Call(RootHandle, "counts", nil)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	defer reply.Release()
	if reply.Kind != ResultArray {
		t.Fatalf("reply kind = %v, want array", reply.Kind)
	}
	if reply.Batch.NumRows() != 3 {
		t.Errorf("array has %d rows, want 3", reply.Batch.NumRows())
	}
}

func TestServerHandleLifecycle(t *testing.T) {
	var releases atomic.Int32
	srv := NewServer(newTestRoot(&releases))
	client, cleanup := startPipeSession(t, srv)
	defer cleanup()

	made, err := client.Call("", "make", nil)
	if err != nil {
		t.Fatalf("make: %v", err)
	}
	if made.Kind != ResultHandle || made.Handle == "" {
		t.Fatalf("make reply = %+v, want a handle", made)
	}
	if made.Class != "Child" {
		t.Errorf("handle class = %q, want Child", made.Class)
	}

	child := client.Proxy(made.Handle, made.Class)
	pong, err := child.Call("ping", nil)
	if err != nil {
		t.Fatalf("ping: %v", err)
	}
	if pong.Value != "pong" {
		t.Errorf("ping = %v", pong.Value)
	}

	if err := child.Free(); err != nil {
		t.Fatalf("free: %v", err)
	}
	if n := releases.Load(); n != 1 {
		t.Errorf("teardown ran %d times, want 1", n)
	}

	// The dead handle stays dead for calls.
	if _, err := child.Call("ping", nil); !errors.Is(err, &Fault{Kind: KindUnknownHandle}) {
		t.Errorf("call after free = %v, want UnknownHandle fault", err)
	}
	// A second free is classified, not a crash, and runs no second teardown.
	if err := child.Free(); !errors.Is(err, &Fault{Kind: KindAlreadyFreed}) {
		t.Errorf("second free = %v, want AlreadyFreed fault", err)
	}
	if n := releases.Load(); n != 1 {
		t.Errorf("teardown ran %d times after double free, want 1", n)
	}
}

func TestServerDisconnectReleasesSessionObjects(t *testing.T) {
	var releases atomic.Int32
	srv := NewServer(newTestRoot(&releases))
	client, cleanup := startPipeSession(t, srv)

	for range 3 {
		if _, err := client.Call("", "make", nil); err != nil {
			t.Fatalf("make: %v", err)
		}
	}
	if got := srv.Registry().Len(); got != 4 {
		t.Fatalf("registry has %d entries before disconnect, want 4", got)
	}

	// Drop the connection without any graceful shutdown call.
	cleanup()

	if n := releases.Load(); n != 3 {
		t.Errorf("teardown ran %d times after disconnect, want 3", n)
	}
	if got := srv.Registry().Len(); got != 1 {
		t.Errorf("registry has %d entries after disconnect, want only the root", got)
	}
}

func TestServerDisconnectDoesNotTouchOtherSessions(t *testing.T) {
	var releases atomic.Int32
	srv := NewServer(newTestRoot(&releases))

	client1, cleanup1 := startPipeSession(t, srv)
	client2, cleanup2 := startPipeSession(t, srv)
	defer cleanup2()

	if _, err := client1.Call("", "make", nil); err != nil {
		t.Fatalf("make on session 1: %v", err)
	}
	made2, err := client2.Call("", "make", nil)
	if err != nil {
		t.Fatalf("make on session 2: %v", err)
	}

	cleanup1()

	if n := releases.Load(); n != 1 {
		t.Errorf("teardown ran %d times, want 1 (only session 1's object)", n)
	}
	// Session 2's object is untouched.
	if _, err := client2.Call(made2.Handle, "ping", nil); err != nil {
		t.Errorf("session 2's handle died with session 1: %v", err)
	}
}

func TestServerFaultKindSurvivesWire(t *testing.T) {
	srv := NewServer(newTestRoot(nil))
	client, cleanup := startPipeSession(t, srv)
	defer cleanup()

	_, err := client.Call("", "fail", nil)
	if !errors.Is(err, &Fault{Kind: "DeviceInUse"}) {
		t.Errorf("fault = %v, want the server's DeviceInUse kind verbatim", err)
	}
}

func TestServerHandlerPanicBecomesRuntimeFault(t *testing.T) {
	srv := NewServer(newTestRoot(nil))
	client, cleanup := startPipeSession(t, srv)
	defer cleanup()

	_, err := client.Call("", "boom", nil)
	if !errors.Is(err, &Fault{Kind: KindRuntime}) {
		t.Fatalf("panic surfaced as %v, want RuntimeError fault", err)
	}

	// The session survives the panic.
	reply, err := client.Call("", "echo", map[string]any{"text": "still here"})
	if err != nil {
		t.Fatalf("call after panic: %v", err)
	}
	if reply.Value != "still here" {
		t.Errorf("reply = %v", reply.Value)
	}
}

func TestServerUnknownMethodFault(t *testing.T) {
	srv := NewServer(newTestRoot(nil))
	client, cleanup := startPipeSession(t, srv)
	defer cleanup()

	_, err := client.Call("", "flubber", nil)
	if !errors.Is(err, &Fault{Kind: KindUnknownMethod}) {
		t.Errorf("unknown method = %v, want UnknownMethod fault", err)
	}
}

func TestServerRootCannotBeFreed(t *testing.T) {
	srv := NewServer(newTestRoot(nil))
	client, cleanup := startPipeSession(t, srv)
	defer cleanup()

	if _, err := client.Call(RootHandle, MethodFree, nil); err == nil {
		t.Errorf("freeing the root must fail")
	}
	if _, err := client.Call("", "echo", map[string]any{"text": "x"}); err != nil {
		t.Errorf("root unusable after rejected free: %v", err)
	}
}

func TestServerDescribe(t *testing.T) {
	srv := NewServer(newTestRoot(nil))
	client, cleanup := startPipeSession(t, srv)
	defer cleanup()

	reply, err := client.Call("", MethodDescribe, nil)
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	names, ok := reply.Value.([]any)
	if !ok {
		t.Fatalf("describe value = %T, want a list", reply.Value)
	}
	found := false
	for _, n := range names {
		if n == "echo" {
			found = true
		}
	}
	if !found {
		t.Errorf("describe %v does not list echo", names)
	}
}

func TestServerClientLogs(t *testing.T) {
	srv := NewServer(newTestRoot(nil))
	client, cleanup := startPipeSession(t, srv)
	defer cleanup()

	reply, err := client.Call("", "chatty", nil)
	if err != nil {
		t.Fatalf("chatty: %v", err)
	}
	if len(reply.Logs) != 1 || reply.Logs[0].Message != "working on it" {
		t.Errorf("logs = %+v, want the server's message", reply.Logs)
	}

	// Raising the client threshold suppresses INFO at the source.
	client.LogLevel = LogError
	reply, err = client.Call("", "chatty", nil)
	if err != nil {
		t.Fatalf("chatty: %v", err)
	}
	if len(reply.Logs) != 0 {
		t.Errorf("logs = %+v, want none below ERROR", reply.Logs)
	}
}

func TestServerTCPListenAndServe(t *testing.T) {
	srv := NewServer(newTestRoot(nil))
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	serveDone := make(chan error, 1)
	go func() { serveDone <- srv.Serve(ln) }()

	client, err := Dial(ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	reply, err := client.Call("", "echo", map[string]any{"text": "over tcp"})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if reply.Value != "over tcp" {
		t.Errorf("reply = %v", reply.Value)
	}
	client.Close()

	if err := srv.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	select {
	case err := <-serveDone:
		if err != nil {
			t.Errorf("Serve returned %v after Close", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Serve did not return after Close")
	}
}
