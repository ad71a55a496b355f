// © Copyright 2026, PhotonBench Instruments - https://photonbench.dev
// SPDX-License-Identifier: Apache-2.0

package tagrpc

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
)

// writeRawRequest writes a one-row request stream with arbitrary metadata,
// bypassing the client's version handling.
func writeRawRequest(t *testing.T, w io.Writer, keys, vals []string) {
	t.Helper()
	schema := arrow.NewSchema(nil, nil)
	meta := arrow.NewMetadata(keys, vals)
	batch := array.NewRecordBatchWithMetadata(schema, nil, 1, meta)
	defer batch.Release()

	writer := ipc.NewWriter(w, ipc.WithSchema(schema))
	if err := writer.Write(batch); err != nil {
		t.Fatalf("writing raw request: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("closing raw request: %v", err)
	}
}

func TestReadRequestRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	writeRawRequest(t, &buf,
		[]string{MetaMethod, MetaRequestVersion, MetaHandle, MetaRequestID},
		[]string{"getSerial", ProtocolVersion, "obj-1", "req-42"})

	req, err := ReadRequest(&buf)
	if err != nil {
		t.Fatalf("ReadRequest: %v", err)
	}
	defer req.Batch.Release()

	if req.Method != "getSerial" || req.Handle != "obj-1" || req.RequestID != "req-42" {
		t.Errorf("request = %+v", req)
	}
}

func TestReadRequestVersionMismatch(t *testing.T) {
	var buf bytes.Buffer
	writeRawRequest(t, &buf,
		[]string{MetaMethod, MetaRequestVersion},
		[]string{"getSerial", "99"})

	_, err := ReadRequest(&buf)
	if !errors.Is(err, &Fault{Kind: KindVersion}) {
		t.Errorf("ReadRequest = %v, want VersionError fault", err)
	}
}

func TestReadRequestMissingMethod(t *testing.T) {
	var buf bytes.Buffer
	writeRawRequest(t, &buf,
		[]string{MetaRequestVersion},
		[]string{ProtocolVersion})

	_, err := ReadRequest(&buf)
	if !errors.Is(err, &Fault{Kind: KindProtocol}) {
		t.Errorf("ReadRequest = %v, want ProtocolError fault", err)
	}
}

func TestReadRequestEmptyStream(t *testing.T) {
	var buf bytes.Buffer
	schema := arrow.NewSchema(nil, nil)
	writer := ipc.NewWriter(&buf, ipc.WithSchema(schema))
	writer.Close()

	if _, err := ReadRequest(&buf); err != io.EOF {
		t.Errorf("ReadRequest on batchless stream = %v, want EOF", err)
	}
}

func TestFaultResponseRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	schema := arrow.NewSchema(nil, nil)
	logs := []LogMessage{{Level: LogWarn, Message: "heads up"}}
	fault := Faultf(KindUnknownHandle, "unknown handle %q", "obj-9")

	if err := WriteFaultResponse(&buf, schema, logs, fault, "srv-1", "req-1", false); err != nil {
		t.Fatalf("WriteFaultResponse: %v", err)
	}

	client := NewClient(struct {
		io.Reader
		io.Writer
	}{&buf, io.Discard})
	reply, err := client.readResponse()
	if !errors.Is(err, &Fault{Kind: KindUnknownHandle}) {
		t.Fatalf("readResponse = %v, want UnknownHandle fault", err)
	}
	if len(reply.Logs) != 1 || reply.Logs[0].Message != "heads up" {
		t.Errorf("logs = %+v", reply.Logs)
	}
}
