// © Copyright 2026, PhotonBench Instruments - https://photonbench.dev
// SPDX-License-Identifier: Apache-2.0

package tagrpc

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"slices"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/google/uuid"
)

// Client speaks the request-response protocol over a single connection.
// Calls are lockstep: one outstanding request per connection, guarded by a
// mutex so a Client can be shared across goroutines.
type Client struct {
	mu     sync.Mutex
	rw     io.ReadWriter
	closer io.Closer
	// LogLevel is sent with each request; server-side client-directed logs
	// below this severity are suppressed at the source.
	LogLevel LogLevel
	// OnLog, if set, receives server log batches as they arrive.
	OnLog func(LogMessage)
}

// Dial connects to a server over TCP.
func Dial(addr string) (*Client, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", addr, err)
	}
	return &Client{rw: conn, closer: conn, LogLevel: LogInfo}, nil
}

// NewClient wraps an established bidirectional transport, such as one end of
// a net.Pipe.
func NewClient(rw io.ReadWriter) *Client {
	c := &Client{rw: rw, LogLevel: LogInfo}
	if closer, ok := rw.(io.Closer); ok {
		c.closer = closer
	}
	return c
}

// Close closes the underlying transport, which ends the server-side session.
func (c *Client) Close() error {
	if c.closer != nil {
		return c.closer.Close()
	}
	return nil
}

// Reply is one parsed response. For array results the caller owns Batch and
// must Release it; for other kinds Batch is nil.
type Reply struct {
	Kind   ResultKind
	Value  any               // scalar or slice for value results
	Handle Handle            // for handle results
	Class  string            // adapter class of a handle result
	Batch  arrow.RecordBatch // for array results
	Meta   map[string]string // result batch custom metadata
	Logs   []LogMessage
}

// Release frees the array batch, if any. Safe on any kind.
func (r *Reply) Release() {
	if r.Batch != nil {
		r.Batch.Release()
		r.Batch = nil
	}
}

// Call invokes method on the adapter addressed by handle. An empty handle
// addresses the root library adapter. Params map parameter names to Go
// values; supported types mirror the server-side param structs. Faults come
// back as *Fault errors with their server-side kind intact.
func (c *Client) Call(handle Handle, method string, params map[string]any) (*Reply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.writeRequest(handle, method, params); err != nil {
		return nil, err
	}
	return c.readResponse()
}

func (c *Client) writeRequest(handle Handle, method string, params map[string]any) error {
	schema, batch, err := paramsBatch(params)
	if err != nil {
		return err
	}
	defer batch.Release()

	keys := []string{MetaMethod, MetaRequestVersion, MetaRequestID, MetaLogLevel}
	vals := []string{method, ProtocolVersion, "req-" + uuid.NewString(), string(c.LogLevel)}
	if handle != "" {
		keys = append(keys, MetaHandle)
		vals = append(vals, string(handle))
	}
	meta := arrow.NewMetadata(keys, vals)

	batchWithMeta := array.NewRecordBatchWithMetadata(schema, batch.Columns(), batch.NumRows(), meta)
	defer batchWithMeta.Release()

	writer := ipc.NewWriter(c.rw, ipc.WithSchema(schema))
	if err := writer.Write(batchWithMeta); err != nil {
		writer.Close()
		return fmt.Errorf("writing request: %w", err)
	}
	return writer.Close()
}

// readResponse consumes one complete IPC response stream: zero-row log
// batches, then the terminal result or fault batch.
func (c *Client) readResponse() (*Reply, error) {
	reader, err := ipc.NewReader(c.rw)
	if err != nil {
		return nil, fmt.Errorf("reading response IPC stream: %w", err)
	}
	defer reader.Release()

	reply := &Reply{}
	for reader.Next() {
		batch := reader.RecordBatch()

		var meta arrow.Metadata
		if rb, ok := batch.(arrow.RecordBatchWithMetadata); ok {
			meta = rb.Metadata()
		}
		metaMap := make(map[string]string, meta.Len())
		for i := range meta.Len() {
			metaMap[meta.Keys()[i]] = meta.Values()[i]
		}

		kindStr, isResult := metaMap[MetaResultKind]
		if !isResult {
			// Zero-row log batch.
			msg := LogMessage{
				Level:   LogLevel(metaMap[MetaLogLevel]),
				Message: metaMap[MetaLogMessage],
			}
			if extra, ok := metaMap[MetaLogExtra]; ok {
				_ = json.Unmarshal([]byte(extra), &msg.Extras)
			}
			reply.Logs = append(reply.Logs, msg)
			if c.OnLog != nil {
				c.OnLog(msg)
			}
			continue
		}

		reply.Kind = ResultKind(kindStr)
		reply.Meta = metaMap

		switch reply.Kind {
		case ResultFault:
			fault := &Fault{
				Kind:      metaMap[MetaFaultKind],
				Message:   metaMap[MetaLogMessage],
				RequestID: metaMap[MetaRequestID],
			}
			drainStream(reader)
			return reply, fault

		case ResultHandle:
			if batch.NumRows() > 0 && batch.Schema().NumFields() > 0 {
				if col, ok := batch.Column(0).(*array.String); ok {
					reply.Handle = Handle(col.Value(0))
				}
			}
			reply.Class = metaMap[MetaClass]

		case ResultValue:
			if batch.NumRows() > 0 && batch.Schema().NumFields() > 0 {
				reply.Value = scalarFromArrow(batch.Column(0), 0)
			}

		case ResultArray:
			batch.Retain()
			reply.Batch = batch

		case ResultVoid:
			// nothing to extract
		}

		drainStream(reader)
		return reply, nil
	}

	if err := reader.Err(); err != nil {
		return nil, fmt.Errorf("reading response batch: %w", err)
	}
	return nil, io.ErrUnexpectedEOF
}

func drainStream(reader *ipc.Reader) {
	for reader.Next() {
	}
}

// paramsBatch builds a one-row batch from a parameter map. Keys are sorted
// into the schema so the same map always yields the same wire bytes.
func paramsBatch(params map[string]any) (*arrow.Schema, arrow.RecordBatch, error) {
	if len(params) == 0 {
		schema := arrow.NewSchema(nil, nil)
		return schema, emptyParamsRow(schema), nil
	}

	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	slices.Sort(names)

	fields := make([]arrow.Field, 0, len(names))
	cols := make([]arrow.Array, 0, len(names))
	release := func() {
		for _, c := range cols {
			c.Release()
		}
	}

	for _, name := range names {
		arr, dt, err := buildScalarArray(params[name])
		if err != nil {
			release()
			return nil, nil, fmt.Errorf("parameter %q: %w", name, err)
		}
		fields = append(fields, arrow.Field{Name: name, Type: dt})
		cols = append(cols, arr)
	}

	schema := arrow.NewSchema(fields, nil)
	batch := array.NewRecordBatch(schema, cols, 1)
	release()
	return schema, batch, nil
}

// emptyParamsRow builds the single-row zero-column batch used for calls
// without parameters.
func emptyParamsRow(schema *arrow.Schema) arrow.RecordBatch {
	return array.NewRecordBatch(schema, nil, 1)
}

// scalarFromArrow extracts row i of a result column as a native Go value.
func scalarFromArrow(col arrow.Array, i int) any {
	if col.IsNull(i) {
		return nil
	}
	switch a := col.(type) {
	case *array.String:
		return a.Value(i)
	case *array.Int64:
		return a.Value(i)
	case *array.Int32:
		return a.Value(i)
	case *array.Float64:
		return a.Value(i)
	case *array.Boolean:
		return a.Value(i)
	case *array.Binary:
		return a.Value(i)
	case *array.List:
		start, end := a.ValueOffsets(i)
		values := a.ListValues()
		out := make([]any, 0, end-start)
		for j := start; j < end; j++ {
			out = append(out, scalarFromArrow(values, int(j)))
		}
		return out
	default:
		return col.ValueStr(i)
	}
}

// Proxy binds a Client to one remote handle, mirroring the remote object's
// method surface without repeating the handle at every call site.
type Proxy struct {
	client *Client
	handle Handle
	class  string
}

// Root returns a proxy for the root library adapter.
func (c *Client) Root() *Proxy {
	return &Proxy{client: c, handle: RootHandle}
}

// Proxy wraps a handle obtained from an earlier reply.
func (c *Client) Proxy(h Handle, class string) *Proxy {
	return &Proxy{client: c, handle: h, class: class}
}

// Handle returns the remote handle this proxy addresses.
func (p *Proxy) Handle() Handle { return p.handle }

// Class returns the remote adapter class, if known.
func (p *Proxy) Class() string { return p.class }

// Call invokes a method on the proxied object.
func (p *Proxy) Call(method string, params map[string]any) (*Reply, error) {
	return p.client.Call(p.handle, method, params)
}

// CallProxy invokes a method expected to return a handle and wraps it.
func (p *Proxy) CallProxy(method string, params map[string]any) (*Proxy, error) {
	reply, err := p.Call(method, params)
	if err != nil {
		return nil, err
	}
	if reply.Kind != ResultHandle {
		return nil, Faultf(KindType, "method %q returned %s, expected a handle", method, reply.Kind)
	}
	return p.client.Proxy(reply.Handle, reply.Class), nil
}

// Free releases the remote object. Safe to call more than once; the second
// call surfaces the server's AlreadyFreed classification.
func (p *Proxy) Free() error {
	_, err := p.Call(MethodFree, nil)
	return err
}

// Next steps a data cursor object, returning one page and whether the cursor
// is exhausted after it. The caller owns the page reply and must Release it.
func (p *Proxy) Next() (*Reply, bool, error) {
	reply, err := p.Call("next", nil)
	if err != nil {
		return nil, false, err
	}
	return reply, reply.Meta[MetaCursorDone] == "true", nil
}
