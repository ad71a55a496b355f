// © Copyright 2026, PhotonBench Instruments - https://photonbench.dev
// SPDX-License-Identifier: Apache-2.0

package tagrpc

import (
	"context"
	"fmt"
	"reflect"
	"sort"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/samber/lo"
)

// Adapter is a server-side forwarding wrapper around exactly one native SDK
// object. Its method set is an explicit table built at startup: every bound
// method forwards typed parameters to the native object and classifies its
// result (value, handle reference, or array) for the wire.
//
// An adapter holds no networking state. It becomes reachable only once
// registered with a Registry, and never outlives its registration.
type Adapter struct {
	class   string
	target  any
	release func() error
	methods map[string]*boundMethod
}

// boundMethod stores the registration details for one remotely callable method.
type boundMethod struct {
	Name         string
	ParamsType   reflect.Type
	ParamsSchema *arrow.Schema
	Defaults     map[string]string
	Handler      reflect.Value // func(context.Context, *CallContext, P) (*Result, error)
}

// NewAdapter creates an adapter of the given class around a native object.
// The class name is what remote clients see as the proxy's type.
func NewAdapter(class string, target any) *Adapter {
	return &Adapter{
		class:   class,
		target:  target,
		methods: make(map[string]*boundMethod),
	}
}

// Class returns the adapter's class name.
func (a *Adapter) Class() string { return a.class }

// Target returns the wrapped native object. Used by methods that accept a
// handle parameter and need the peer's native object (e.g. measurement
// constructors taking a tagger handle).
func (a *Adapter) Target() any { return a.target }

// SetRelease sets the native teardown routine. The registry guarantees it
// runs at most once, whether the trigger was an explicit free or
// session-disconnect cleanup.
func (a *Adapter) SetRelease(fn func() error) { a.release = fn }

// Method binds a typed method on the adapter. P must be a struct with
// `tagrpc` tags. Registration failures are programming errors and panic, the
// same way an invalid handler signature would fail at compile time.
func Method[P any](a *Adapter, name string, handler func(context.Context, *CallContext, P) (*Result, error)) {
	var p P
	pt := reflect.TypeOf(p)

	schema, err := paramsSchema(pt)
	if err != nil {
		panic(fmt.Sprintf("tagrpc: binding %s.%s: invalid params type %T: %v", a.class, name, p, err))
	}
	if _, dup := a.methods[name]; dup {
		panic(fmt.Sprintf("tagrpc: binding %s.%s: method already bound", a.class, name))
	}

	a.methods[name] = &boundMethod{
		Name:         name,
		ParamsType:   pt,
		ParamsSchema: schema,
		Defaults:     paramDefaults(pt),
		Handler:      reflect.ValueOf(handler),
	}
}

// MethodNames returns the bound method names in sorted order.
func (a *Adapter) MethodNames() []string {
	names := lo.Keys(a.methods)
	sort.Strings(names)
	return names
}

// invoke dispatches one call on the adapter. Parameter deserialization
// failures come back as TypeError faults; unknown methods as UnknownMethod.
func (a *Adapter) invoke(ctx context.Context, call *CallContext, batch arrow.RecordBatch) (*Result, error) {
	m, ok := a.methods[call.Method]
	if !ok {
		return nil, Faultf(KindUnknownMethod,
			"unknown method %q on %s; available methods: %v", call.Method, a.class, a.MethodNames())
	}

	params, err := decodeParams(batch, m.ParamsType)
	if err != nil {
		return nil, Faultf(KindType, "parameter deserialization: %v", err)
	}

	results := m.Handler.Call([]reflect.Value{
		reflect.ValueOf(ctx),
		reflect.ValueOf(call),
		params,
	})
	if !results[1].IsNil() {
		return nil, results[1].Interface().(error)
	}
	res, _ := results[0].Interface().(*Result)
	if res == nil {
		res = Void()
	}
	return res, nil
}
