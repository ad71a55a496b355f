// © Copyright 2026, PhotonBench Instruments - https://photonbench.dev
// SPDX-License-Identifier: Apache-2.0

// Package service binds the timetag SDK to the tagrpc wire. The binding is
// an explicit table: every remotely callable method is declared here with
// its typed parameter struct, and every object class the instrument exposes
// has a constructor that registers a new adapter and returns its handle.
package service

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/samber/lo"

	"github.com/photonbench/timetag-rpc/tagrpc"
	"github.com/photonbench/timetag-rpc/timetag"
)

// Adapter class names visible to remote clients.
const (
	ClassLibrary        = "TimeTagger"
	ClassTagger         = "Tagger"
	ClassCounter        = "Counter"
	ClassCountrate      = "Countrate"
	ClassCorrelation    = "Correlation"
	ClassDelayedChannel = "DelayedChannel"
	ClassFileWriter     = "FileWriter"
	ClassSynchronized   = "SynchronizedMeasurements"
	ClassDataCursor     = "DataCursor"
)

type noParams struct{}

// NewLibraryAdapter builds the root adapter exposing device discovery,
// tagger creation, and the measurement constructors.
func NewLibraryAdapter(lab *timetag.Lab) *tagrpc.Adapter {
	a := tagrpc.NewAdapter(ClassLibrary, lab)

	tagrpc.Method(a, "scanTimeTagger", func(_ context.Context, _ *tagrpc.CallContext, _ noParams) (*tagrpc.Result, error) {
		return scanResult(lab.Scan())
	})

	type createParams struct {
		Serial string `tagrpc:"serial,default="`
	}
	tagrpc.Method(a, "createTimeTagger", func(_ context.Context, call *tagrpc.CallContext, p createParams) (*tagrpc.Result, error) {
		tg, err := lab.Create(p.Serial)
		if err != nil {
			return nil, sdkFault(err)
		}
		ta := newTaggerAdapter(lab, tg)
		h := call.Register(ta)
		call.ClientLog(tagrpc.LogInfo, "created time tagger", tagrpc.KV{Key: "serial", Value: tg.Serial()})
		return tagrpc.HandleRef(h, ClassTagger), nil
	})

	type freeParams struct {
		Tagger string `tagrpc:"tagger"`
	}
	tagrpc.Method(a, "freeTimeTagger", func(_ context.Context, call *tagrpc.CallContext, p freeParams) (*tagrpc.Result, error) {
		if err := call.Free(tagrpc.Handle(p.Tagger)); err != nil {
			return nil, err
		}
		return tagrpc.Void(), nil
	})

	bindCounterConstructor(a)
	bindCountrateConstructor(a)
	bindCorrelationConstructor(a)
	bindDelayedChannelConstructor(a)
	bindFileWriterConstructor(a)
	bindSynchronizedConstructor(a)

	return a
}

// scanResult renders scan entries as a three-column batch.
func scanResult(entries []timetag.ScanEntry) (*tagrpc.Result, error) {
	mem := memory.NewGoAllocator()
	serials := array.NewStringBuilder(mem)
	defer serials.Release()
	models := array.NewStringBuilder(mem)
	defer models.Release()
	inUse := array.NewBooleanBuilder(mem)
	defer inUse.Release()

	for _, e := range entries {
		serials.Append(e.Serial)
		models.Append(e.Model)
		inUse.Append(e.InUse)
	}

	schema := arrow.NewSchema([]arrow.Field{
		{Name: "serial", Type: arrow.BinaryTypes.String},
		{Name: "model", Type: arrow.BinaryTypes.String},
		{Name: "in_use", Type: &arrow.BooleanType{}},
	}, nil)

	cols := []arrow.Array{serials.NewArray(), models.NewArray(), inUse.NewArray()}
	batch := array.NewRecordBatch(schema, cols, int64(len(entries)))
	for _, c := range cols {
		c.Release()
	}
	return tagrpc.Array(batch), nil
}

// taggerFrom dereferences a tagger-valued handle parameter.
func taggerFrom(call *tagrpc.CallContext, h string) (*timetag.Tagger, error) {
	target, err := call.Target(tagrpc.Handle(h))
	if err != nil {
		return nil, err
	}
	tg, ok := target.(*timetag.Tagger)
	if !ok {
		return nil, tagrpc.Faultf(tagrpc.KindType, "handle %q is not a %s", h, ClassTagger)
	}
	return tg, nil
}

func toInt32Channels(channels []int64) []int32 {
	return lo.Map(channels, func(ch int64, _ int) int32 { return int32(ch) })
}
