// © Copyright 2026, PhotonBench Instruments - https://photonbench.dev
// SPDX-License-Identifier: Apache-2.0

package tagrpc

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// Wire format. One request is one complete Arrow IPC stream whose single
// batch carries the addressing metadata (method, handle, request version)
// and one row of parameter columns. One response is one complete IPC
// stream: zero or more zero-row log batches, then a result batch whose
// metadata classifies it (value/handle/array/void/error). Data batches are
// zstd-compressed; instrument arrays dominate the payload.

// Request is a parsed call from the wire.
type Request struct {
	Method    string
	Handle    Handle
	Version   string
	RequestID string
	LogLevel  string
	Batch     arrow.RecordBatch
	Metadata  map[string]string
}

// ReadRequest reads one complete IPC stream and extracts the addressing
// metadata and parameter batch.
func ReadRequest(r io.Reader) (*Request, error) {
	reader, err := ipc.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("reading request IPC stream: %w", err)
	}
	defer reader.Release()

	if !reader.Next() {
		if err := reader.Err(); err != nil {
			return nil, fmt.Errorf("reading request batch: %w", err)
		}
		return nil, io.EOF
	}

	batch := reader.RecordBatch()
	batch.Retain() // keep batch alive after reader is released

	var meta arrow.Metadata
	if rb, ok := batch.(arrow.RecordBatchWithMetadata); ok {
		meta = rb.Metadata()
	}

	method, ok := meta.GetValue(MetaMethod)
	if !ok {
		batch.Release()
		return nil, Faultf(KindProtocol, "missing %q in request batch custom_metadata", MetaMethod)
	}

	version, ok := meta.GetValue(MetaRequestVersion)
	if !ok {
		batch.Release()
		return nil, Faultf(KindProtocol, "missing %q in request batch custom_metadata", MetaRequestVersion)
	}
	if version != ProtocolVersion {
		batch.Release()
		return nil, Faultf(KindVersion, "unsupported request version %q, expected %q", version, ProtocolVersion)
	}

	if batch.Schema().NumFields() > 0 && batch.NumRows() != 1 {
		batch.Release()
		return nil, Faultf(KindProtocol, "expected 1 row in request batch, got %d", batch.NumRows())
	}

	handle, _ := meta.GetValue(MetaHandle)
	requestID, _ := meta.GetValue(MetaRequestID)
	logLevel, _ := meta.GetValue(MetaLogLevel)

	// Drain to EOS so the transport is positioned at the next request.
	for reader.Next() {
	}

	metaMap := make(map[string]string, meta.Len())
	for i := range meta.Len() {
		metaMap[meta.Keys()[i]] = meta.Values()[i]
	}

	return &Request{
		Method:    method,
		Handle:    Handle(handle),
		Version:   version,
		RequestID: requestID,
		LogLevel:  logLevel,
		Batch:     batch,
		Metadata:  metaMap,
	}, nil
}

// emptyBatch creates a zero-row batch with the given schema.
func emptyBatch(schema *arrow.Schema) arrow.RecordBatch {
	mem := memory.NewGoAllocator()
	cols := make([]arrow.Array, schema.NumFields())
	for i, f := range schema.Fields() {
		b := array.NewBuilder(mem, f.Type)
		cols[i] = b.NewArray()
		b.Release()
	}
	batch := array.NewRecordBatch(schema, cols, 0)
	for _, c := range cols {
		c.Release()
	}
	return batch
}

// writeLogBatch writes a zero-row batch carrying log metadata.
func writeLogBatch(w *ipc.Writer, schema *arrow.Schema, msg LogMessage, serverID, requestID string) error {
	keys := []string{MetaLogLevel, MetaLogMessage}
	vals := []string{string(msg.Level), msg.Message}

	if len(msg.Extras) > 0 {
		extraJSON, err := json.Marshal(msg.Extras)
		if err != nil {
			extraJSON = []byte(`{}`)
		}
		keys = append(keys, MetaLogExtra)
		vals = append(vals, string(extraJSON))
	}
	if serverID != "" {
		keys = append(keys, MetaServerID)
		vals = append(vals, serverID)
	}
	if requestID != "" {
		keys = append(keys, MetaRequestID)
		vals = append(vals, requestID)
	}

	meta := arrow.NewMetadata(keys, vals)
	batch := emptyBatch(schema)
	defer batch.Release()

	batchWithMeta := array.NewRecordBatchWithMetadata(schema, batch.Columns(), 0, meta)
	defer batchWithMeta.Release()

	return w.Write(batchWithMeta)
}

// writeFaultBatch writes a zero-row batch carrying a fault. The fault's kind
// and message ride in metadata, so the original classification survives the
// boundary unchanged.
func writeFaultBatch(w *ipc.Writer, schema *arrow.Schema, err error, serverID, requestID string, debug bool) error {
	kind := KindRuntime
	if f, ok := err.(*Fault); ok {
		kind = f.Kind
	}

	keys := []string{MetaResultKind, MetaFaultKind, MetaLogLevel, MetaLogMessage, MetaLogExtra}
	vals := []string{string(ResultFault), kind, string(LogFault), err.Error(), buildFaultExtra(err, debug)}

	if serverID != "" {
		keys = append(keys, MetaServerID)
		vals = append(vals, serverID)
	}
	if requestID != "" {
		keys = append(keys, MetaRequestID)
		vals = append(vals, requestID)
	}

	meta := arrow.NewMetadata(keys, vals)
	batch := emptyBatch(schema)
	defer batch.Release()

	batchWithMeta := array.NewRecordBatchWithMetadata(schema, batch.Columns(), 0, meta)
	defer batchWithMeta.Release()

	return w.Write(batchWithMeta)
}

// WriteResultResponse writes a complete IPC stream: log batches, then the
// result batch annotated with its kind and any extra metadata.
func WriteResultResponse(w io.Writer, schema *arrow.Schema, logs []LogMessage,
	result arrow.RecordBatch, extra []KV, serverID, requestID string) error {

	writer := ipc.NewWriter(w, ipc.WithSchema(schema), ipc.WithZstd())
	defer writer.Close()

	for _, logMsg := range logs {
		if err := writeLogBatch(writer, schema, logMsg, serverID, requestID); err != nil {
			return fmt.Errorf("writing log batch: %w", err)
		}
	}

	keys := make([]string, 0, len(extra)+2)
	vals := make([]string, 0, len(extra)+2)
	for _, kv := range extra {
		keys = append(keys, kv.Key)
		vals = append(vals, kv.Value)
	}
	if serverID != "" {
		keys = append(keys, MetaServerID)
		vals = append(vals, serverID)
	}
	if requestID != "" {
		keys = append(keys, MetaRequestID)
		vals = append(vals, requestID)
	}
	meta := arrow.NewMetadata(keys, vals)

	batchWithMeta := array.NewRecordBatchWithMetadata(schema, result.Columns(), result.NumRows(), meta)
	defer batchWithMeta.Release()

	return writer.Write(batchWithMeta)
}

// WriteFaultResponse writes a complete IPC stream containing log batches and
// a fault batch.
func WriteFaultResponse(w io.Writer, schema *arrow.Schema, logs []LogMessage,
	err error, serverID, requestID string, debug bool) error {

	writer := ipc.NewWriter(w, ipc.WithSchema(schema), ipc.WithZstd())
	defer writer.Close()

	for _, logMsg := range logs {
		if werr := writeLogBatch(writer, schema, logMsg, serverID, requestID); werr != nil {
			return fmt.Errorf("writing log batch: %w", werr)
		}
	}
	return writeFaultBatch(writer, schema, err, serverID, requestID, debug)
}
