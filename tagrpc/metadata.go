// © Copyright 2026, PhotonBench Instruments - https://photonbench.dev
// SPDX-License-Identifier: Apache-2.0

package tagrpc

// Well-known metadata keys of the tagrpc wire protocol. They appear as
// custom_metadata on Arrow IPC RecordBatch messages.
const (
	MetaMethod         = "tagrpc.method"
	MetaHandle         = "tagrpc.handle"
	MetaClass          = "tagrpc.class"
	MetaRequestVersion = "tagrpc.request_version"
	MetaRequestID      = "tagrpc.request_id"
	MetaLogLevel       = "tagrpc.log_level"
	MetaLogMessage     = "tagrpc.log_message"
	MetaLogExtra       = "tagrpc.log_extra"
	MetaServerID       = "tagrpc.server_id"
	MetaResultKind     = "tagrpc.result_kind"
	MetaFaultKind      = "tagrpc.fault_kind"
	MetaCursorDone     = "tagrpc.cursor_done"

	ProtocolVersion = "1"
)

// RootHandle addresses the library adapter that every connection can reach
// without creating anything first. It is the entry point for remote clients,
// registered by the server at startup.
const RootHandle Handle = "timetag"
