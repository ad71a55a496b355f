// © Copyright 2026, PhotonBench Instruments - https://photonbench.dev
// SPDX-License-Identifier: Apache-2.0

package tagrpc

import (
	"encoding/json"
	"fmt"
	"runtime"
)

// Fault kinds. A fault's kind classifies the failure on the wire and is
// preserved end-to-end: a client sees the same kind the server raised.
const (
	KindUnknownHandle = "UnknownHandle" // handle not registered or already freed
	KindAlreadyFreed  = "AlreadyFreed"  // second free of the same handle
	KindUnknownMethod = "UnknownMethod" // method not bound on the adapter
	KindProtocol      = "ProtocolError" // malformed request batch
	KindVersion       = "VersionError"  // request version mismatch
	KindType          = "TypeError"     // parameter deserialization failure
	KindRuntime       = "RuntimeError"  // handler panic or internal failure
)

// ErrFault is a sentinel for errors.Is to check whether any error in a chain
// is a *Fault, regardless of kind.
var ErrFault = &Fault{}

// Fault is the error type carried across the wire. Native SDK failures are
// converted to Faults whose Kind is the SDK's own error classification, so no
// error changes kind while crossing the boundary.
type Fault struct {
	Kind      string
	Message   string
	RequestID string
}

func (e *Fault) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is supports errors.Is by matching any *Fault target with an empty kind,
// or an exact kind otherwise.
func (e *Fault) Is(target error) bool {
	t, ok := target.(*Fault)
	if !ok {
		return false
	}
	return t.Kind == "" || t.Kind == e.Kind
}

// Faultf builds a Fault with a formatted message.
func Faultf(kind, format string, args ...any) *Fault {
	return &Fault{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// stackFrame is one frame of a server-side stack trace included in debug
// fault payloads.
type stackFrame struct {
	File     string `json:"file"`
	Line     int    `json:"line"`
	Function string `json:"function"`
}

type faultExtra struct {
	FaultKind    string       `json:"fault_kind"`
	FaultMessage string       `json:"fault_message"`
	Traceback    string       `json:"traceback,omitempty"`
	Frames       []stackFrame `json:"frames,omitempty"`
}

// buildFaultExtra creates the JSON payload for the log_extra metadata of a
// fault batch. Stack information is only included when debug is enabled, so
// public-facing deployments do not leak server internals.
func buildFaultExtra(err error, debug bool) string {
	kind := fmt.Sprintf("%T", err)
	if f, ok := err.(*Fault); ok {
		kind = f.Kind
	}

	extra := faultExtra{
		FaultKind:    kind,
		FaultMessage: err.Error(),
	}

	if debug {
		buf := make([]byte, 4096)
		n := runtime.Stack(buf, false)
		extra.Traceback = string(buf[:n])

		pcs := make([]uintptr, 10)
		n = runtime.Callers(2, pcs)
		if n > 0 {
			frames := runtime.CallersFrames(pcs[:n])
			for count := 0; count < 5; count++ {
				frame, more := frames.Next()
				extra.Frames = append(extra.Frames, stackFrame{
					File:     frame.File,
					Line:     frame.Line,
					Function: frame.Function,
				})
				if !more {
					break
				}
			}
		}
	}

	data, _ := json.Marshal(extra)
	return string(data)
}
