// © Copyright 2026, PhotonBench Instruments - https://photonbench.dev
// SPDX-License-Identifier: Apache-2.0

package tagrpc

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// ResultKind is the explicit wire classification of a method result. The
// original system inferred "return a proxy" from runtime types; here the
// variant is part of the contract and travels as batch metadata.
type ResultKind string

const (
	// ResultValue is a plain scalar or list value.
	ResultValue ResultKind = "value"
	// ResultHandle is a reference to a server-side object. The client builds
	// a proxy from the handle instead of receiving the object itself.
	ResultHandle ResultKind = "handle"
	// ResultArray is a columnar payload (instrument data arrays).
	ResultArray ResultKind = "array"
	// ResultVoid carries no payload.
	ResultVoid ResultKind = "void"
	// ResultFault is only seen on the wire, never returned by handlers.
	ResultFault ResultKind = "error"
)

// Result is what a bound method hands back to the dispatch loop.
type Result struct {
	Kind   ResultKind
	Value  any               // ResultValue payload
	Handle Handle            // ResultHandle payload
	Class  string            // adapter class for ResultHandle
	Batch  arrow.RecordBatch // ResultArray payload, released after writing
	Meta   []KV              // extra response metadata (e.g. cursor state)
}

// Void returns an empty result.
func Void() *Result {
	return &Result{Kind: ResultVoid}
}

// ValueOf wraps a scalar or slice-of-scalar value.
func ValueOf(v any) *Result {
	return &Result{Kind: ResultValue, Value: v}
}

// HandleRef wraps a reference to a registered adapter.
func HandleRef(h Handle, class string) *Result {
	return &Result{Kind: ResultHandle, Handle: h, Class: class}
}

// Array wraps a pre-built record batch. Ownership passes to the dispatch
// loop, which releases the batch once written.
func Array(batch arrow.RecordBatch) *Result {
	return &Result{Kind: ResultArray, Batch: batch}
}

// Int64Array builds a single-column int64 array result.
func Int64Array(name string, vals []int64) *Result {
	mem := memory.NewGoAllocator()
	b := array.NewInt64Builder(mem)
	defer b.Release()
	b.AppendValues(vals, nil)
	arr := b.NewArray()
	defer arr.Release()

	schema := arrow.NewSchema([]arrow.Field{{Name: name, Type: arrow.PrimitiveTypes.Int64}}, nil)
	return Array(array.NewRecordBatch(schema, []arrow.Array{arr}, int64(len(vals))))
}

// Float64Array builds a single-column float64 array result.
func Float64Array(name string, vals []float64) *Result {
	mem := memory.NewGoAllocator()
	b := array.NewFloat64Builder(mem)
	defer b.Release()
	b.AppendValues(vals, nil)
	arr := b.NewArray()
	defer arr.Release()

	schema := arrow.NewSchema([]arrow.Field{{Name: name, Type: arrow.PrimitiveTypes.Float64}}, nil)
	return Array(array.NewRecordBatch(schema, []arrow.Array{arr}, int64(len(vals))))
}

// Int64Table builds a multi-column int64 array result. All columns must have
// equal length.
func Int64Table(names []string, cols [][]int64) (*Result, error) {
	if len(names) != len(cols) {
		return nil, fmt.Errorf("int64 table: %d names for %d columns", len(names), len(cols))
	}
	rows := 0
	if len(cols) > 0 {
		rows = len(cols[0])
	}
	mem := memory.NewGoAllocator()
	fields := make([]arrow.Field, len(names))
	arrs := make([]arrow.Array, len(names))
	for i, name := range names {
		if len(cols[i]) != rows {
			return nil, fmt.Errorf("int64 table: column %q has %d rows, want %d", name, len(cols[i]), rows)
		}
		b := array.NewInt64Builder(mem)
		b.AppendValues(cols[i], nil)
		arrs[i] = b.NewArray()
		b.Release()
		fields[i] = arrow.Field{Name: name, Type: arrow.PrimitiveTypes.Int64}
	}
	schema := arrow.NewSchema(fields, nil)
	batch := array.NewRecordBatch(schema, arrs, int64(rows))
	for _, a := range arrs {
		a.Release()
	}
	return Array(batch), nil
}

// resultBatch converts a Result into the schema, batch, and extra metadata
// written on the wire. The caller releases the returned batch.
func resultBatch(res *Result) (*arrow.Schema, arrow.RecordBatch, []KV, error) {
	extra := append([]KV{{Key: MetaResultKind, Value: string(res.Kind)}}, res.Meta...)

	switch res.Kind {
	case ResultVoid:
		schema := arrow.NewSchema(nil, nil)
		return schema, emptyBatch(schema), extra, nil

	case ResultHandle:
		mem := memory.NewGoAllocator()
		hb := array.NewStringBuilder(mem)
		defer hb.Release()
		hb.Append(string(res.Handle))
		harr := hb.NewArray()
		defer harr.Release()

		schema := arrow.NewSchema([]arrow.Field{
			{Name: "handle", Type: arrow.BinaryTypes.String},
		}, nil)
		extra = append(extra, KV{Key: MetaClass, Value: res.Class})
		return schema, array.NewRecordBatch(schema, []arrow.Array{harr}, 1), extra, nil

	case ResultArray:
		if res.Batch == nil {
			return nil, nil, nil, fmt.Errorf("array result without batch")
		}
		return res.Batch.Schema(), res.Batch, extra, nil

	case ResultValue:
		arr, dt, err := buildScalarArray(res.Value)
		if err != nil {
			return nil, nil, nil, err
		}
		defer arr.Release()
		schema := arrow.NewSchema([]arrow.Field{{Name: "result", Type: dt}}, nil)
		return schema, array.NewRecordBatch(schema, []arrow.Array{arr}, 1), extra, nil

	default:
		return nil, nil, nil, fmt.Errorf("unknown result kind %q", res.Kind)
	}
}

// buildScalarArray builds a 1-element array from a Go scalar or a
// slice-of-scalars (encoded as a single list cell).
func buildScalarArray(v any) (arrow.Array, arrow.DataType, error) {
	mem := memory.NewGoAllocator()
	switch val := v.(type) {
	case nil:
		b := array.NewStringBuilder(mem)
		defer b.Release()
		b.AppendNull()
		return b.NewArray(), arrow.BinaryTypes.String, nil
	case string:
		b := array.NewStringBuilder(mem)
		defer b.Release()
		b.Append(val)
		return b.NewArray(), arrow.BinaryTypes.String, nil
	case Handle:
		b := array.NewStringBuilder(mem)
		defer b.Release()
		b.Append(string(val))
		return b.NewArray(), arrow.BinaryTypes.String, nil
	case int:
		return buildScalarArray(int64(val))
	case int32:
		return buildScalarArray(int64(val))
	case int64:
		b := array.NewInt64Builder(mem)
		defer b.Release()
		b.Append(val)
		return b.NewArray(), arrow.PrimitiveTypes.Int64, nil
	case float64:
		b := array.NewFloat64Builder(mem)
		defer b.Release()
		b.Append(val)
		return b.NewArray(), arrow.PrimitiveTypes.Float64, nil
	case bool:
		b := array.NewBooleanBuilder(mem)
		defer b.Release()
		b.Append(val)
		return b.NewArray(), &arrow.BooleanType{}, nil
	case []byte:
		b := array.NewBinaryBuilder(mem, arrow.BinaryTypes.Binary)
		defer b.Release()
		b.Append(val)
		return b.NewArray(), arrow.BinaryTypes.Binary, nil
	case []string:
		dt := arrow.ListOf(arrow.BinaryTypes.String)
		lb := array.NewListBuilder(mem, arrow.BinaryTypes.String)
		defer lb.Release()
		lb.Append(true)
		vb := lb.ValueBuilder().(*array.StringBuilder)
		for _, s := range val {
			vb.Append(s)
		}
		return lb.NewArray(), dt, nil
	case []int64:
		dt := arrow.ListOf(arrow.PrimitiveTypes.Int64)
		lb := array.NewListBuilder(mem, arrow.PrimitiveTypes.Int64)
		defer lb.Release()
		lb.Append(true)
		vb := lb.ValueBuilder().(*array.Int64Builder)
		vb.AppendValues(val, nil)
		return lb.NewArray(), dt, nil
	case []float64:
		dt := arrow.ListOf(arrow.PrimitiveTypes.Float64)
		lb := array.NewListBuilder(mem, arrow.PrimitiveTypes.Float64)
		defer lb.Release()
		lb.Append(true)
		vb := lb.ValueBuilder().(*array.Float64Builder)
		vb.AppendValues(val, nil)
		return lb.NewArray(), dt, nil
	default:
		return nil, nil, fmt.Errorf("unsupported value result type %T", v)
	}
}
