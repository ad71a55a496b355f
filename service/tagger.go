// © Copyright 2026, PhotonBench Instruments - https://photonbench.dev
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"

	"github.com/photonbench/timetag-rpc/tagrpc"
	"github.com/photonbench/timetag-rpc/timetag"
)

// newTaggerAdapter wraps a claimed tagger. Its release routine returns the
// device to the lab pool, so it fires on explicit free and on disconnect
// cleanup alike.
func newTaggerAdapter(lab *timetag.Lab, tg *timetag.Tagger) *tagrpc.Adapter {
	a := tagrpc.NewAdapter(ClassTagger, tg)
	a.SetRelease(func() error { return lab.Free(tg) })

	tagrpc.Method(a, "getSerial", func(_ context.Context, _ *tagrpc.CallContext, _ noParams) (*tagrpc.Result, error) {
		return tagrpc.ValueOf(tg.Serial()), nil
	})

	tagrpc.Method(a, "getModel", func(_ context.Context, _ *tagrpc.CallContext, _ noParams) (*tagrpc.Result, error) {
		return tagrpc.ValueOf(tg.Model()), nil
	})

	type testSignalParams struct {
		Channel int32 `tagrpc:"channel"`
		Enabled bool  `tagrpc:"enabled,default=true"`
	}
	tagrpc.Method(a, "setTestSignal", func(_ context.Context, _ *tagrpc.CallContext, p testSignalParams) (*tagrpc.Result, error) {
		if err := tg.SetTestSignal(p.Channel, p.Enabled); err != nil {
			return nil, sdkFault(err)
		}
		return tagrpc.Void(), nil
	})

	type channelParams struct {
		Channel int32 `tagrpc:"channel"`
	}
	tagrpc.Method(a, "getTestSignal", func(_ context.Context, _ *tagrpc.CallContext, p channelParams) (*tagrpc.Result, error) {
		on, err := tg.TestSignal(p.Channel)
		if err != nil {
			return nil, sdkFault(err)
		}
		return tagrpc.ValueOf(on), nil
	})

	type triggerParams struct {
		Channel int32   `tagrpc:"channel"`
		Voltage float64 `tagrpc:"voltage"`
	}
	tagrpc.Method(a, "setTriggerLevel", func(_ context.Context, _ *tagrpc.CallContext, p triggerParams) (*tagrpc.Result, error) {
		if err := tg.SetTriggerLevel(p.Channel, p.Voltage); err != nil {
			return nil, sdkFault(err)
		}
		return tagrpc.Void(), nil
	})

	tagrpc.Method(a, "getTriggerLevel", func(_ context.Context, _ *tagrpc.CallContext, p channelParams) (*tagrpc.Result, error) {
		v, err := tg.TriggerLevel(p.Channel)
		if err != nil {
			return nil, sdkFault(err)
		}
		return tagrpc.ValueOf(v), nil
	})

	tagrpc.Method(a, "getSyncRate", func(_ context.Context, _ *tagrpc.CallContext, _ noParams) (*tagrpc.Result, error) {
		rate, err := tg.SyncRate()
		if err != nil {
			return nil, sdkFault(err)
		}
		return tagrpc.ValueOf(rate), nil
	})

	type delayParams struct {
		Channel int32 `tagrpc:"channel"`
		Delay   int64 `tagrpc:"delay"`
	}
	tagrpc.Method(a, "setInputDelay", func(_ context.Context, _ *tagrpc.CallContext, p delayParams) (*tagrpc.Result, error) {
		if err := tg.SetInputDelay(p.Channel, p.Delay); err != nil {
			return nil, sdkFault(err)
		}
		return tagrpc.Void(), nil
	})

	tagrpc.Method(a, "getInputDelay", func(_ context.Context, _ *tagrpc.CallContext, p channelParams) (*tagrpc.Result, error) {
		d, err := tg.InputDelay(p.Channel)
		if err != nil {
			return nil, sdkFault(err)
		}
		return tagrpc.ValueOf(d), nil
	})

	return a
}
