// © Copyright 2026, PhotonBench Instruments - https://photonbench.dev
// SPDX-License-Identifier: Apache-2.0

// Package tagrpc implements a remote-object server for laboratory
// instruments, carrying calls and results as Apache Arrow IPC streams.
//
// A server exposes one root library adapter plus a registry of per-object
// adapters created at runtime. Clients address calls to opaque handles;
// constructor-style methods register new adapters and return their handles,
// which clients wrap in proxies. Instrument data arrays travel as columnar
// record batches rather than element-wise values.
//
// # Object lifetime
//
// Every adapter registered during a call is attributed to the calling
// session. A handle dies in exactly one of two ways: an explicit "free" call
// or the owning session's disconnect. Either path runs the adapter's native
// teardown exactly once, even when the two race. Freed handles are never
// reused and resolve to an UnknownHandle fault afterwards.
//
// # Method binding
//
// Remote methods are declared as an explicit table: each binding names the
// method, a typed parameter struct, and a handler returning a classified
// [Result]. Parameter structs use `tagrpc` struct tags:
//
//	`tagrpc:"wire_name[,default=VALUE]"`
//
// Pointer fields become nullable columns. Missing or null parameters take
// their declared defaults.
//
// # Wire format
//
// One request is one Arrow IPC stream containing a single one-row batch;
// method name, target handle, and protocol version ride in the batch custom
// metadata. One response is one IPC stream of zero or more zero-row log
// batches followed by a terminal batch whose tagrpc.result_kind metadata
// classifies it as value, handle, array, void, or error. Fault batches
// preserve the server-side fault kind, so a classification such as
// AlreadyFreed survives the boundary unchanged.
package tagrpc
