// © Copyright 2026, PhotonBench Instruments - https://photonbench.dev
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"strconv"

	"github.com/photonbench/timetag-rpc/tagrpc"
	"github.com/photonbench/timetag-rpc/timetag"
)

// bindAcquisition adds the acquisition control methods shared by every
// measurement class.
func bindAcquisition(a *tagrpc.Adapter, m timetag.Measurement) {
	tagrpc.Method(a, "start", func(_ context.Context, _ *tagrpc.CallContext, _ noParams) (*tagrpc.Result, error) {
		m.Start()
		return tagrpc.Void(), nil
	})

	type startForParams struct {
		Duration int64 `tagrpc:"duration"`
		Clear    bool  `tagrpc:"clear,default=true"`
	}
	tagrpc.Method(a, "startFor", func(_ context.Context, _ *tagrpc.CallContext, p startForParams) (*tagrpc.Result, error) {
		if p.Duration <= 0 {
			return nil, tagrpc.Faultf(timetag.CodeInvalidArg, "duration must be positive, got %d", p.Duration)
		}
		m.StartFor(p.Duration, p.Clear)
		return tagrpc.Void(), nil
	})

	tagrpc.Method(a, "stop", func(_ context.Context, _ *tagrpc.CallContext, _ noParams) (*tagrpc.Result, error) {
		m.Stop()
		return tagrpc.Void(), nil
	})

	tagrpc.Method(a, "clear", func(_ context.Context, _ *tagrpc.CallContext, _ noParams) (*tagrpc.Result, error) {
		m.Clear()
		return tagrpc.Void(), nil
	})

	tagrpc.Method(a, "isRunning", func(_ context.Context, _ *tagrpc.CallContext, _ noParams) (*tagrpc.Result, error) {
		return tagrpc.ValueOf(m.IsRunning()), nil
	})

	tagrpc.Method(a, "getCaptureDuration", func(_ context.Context, _ *tagrpc.CallContext, _ noParams) (*tagrpc.Result, error) {
		return tagrpc.ValueOf(m.CaptureDuration()), nil
	})
}

// constructorParams are the fields common to measurement constructors that
// take a tagger and a channel list.
type channelsParams struct {
	Tagger   string  `tagrpc:"tagger"`
	Channels []int64 `tagrpc:"channels"`
}

func bindCounterConstructor(a *tagrpc.Adapter) {
	type counterParams struct {
		Tagger   string  `tagrpc:"tagger"`
		Channels []int64 `tagrpc:"channels"`
		Binwidth int64   `tagrpc:"binwidth,default=1000000000"`
		NBins    int64   `tagrpc:"n_bins,default=1000"`
	}
	tagrpc.Method(a, "Counter", func(_ context.Context, call *tagrpc.CallContext, p counterParams) (*tagrpc.Result, error) {
		tg, err := taggerFrom(call, p.Tagger)
		if err != nil {
			return nil, err
		}
		c, err := timetag.NewCounter(tg, toInt32Channels(p.Channels), p.Binwidth, int(p.NBins))
		if err != nil {
			return nil, sdkFault(err)
		}
		ca := newCounterAdapter(c)
		return tagrpc.HandleRef(call.Register(ca), ClassCounter), nil
	})
}

func newCounterAdapter(c *timetag.Counter) *tagrpc.Adapter {
	a := tagrpc.NewAdapter(ClassCounter, c)
	a.SetRelease(c.Close)
	bindAcquisition(a, c)

	tagrpc.Method(a, "getData", func(_ context.Context, _ *tagrpc.CallContext, _ noParams) (*tagrpc.Result, error) {
		return counterTable(c)
	})

	tagrpc.Method(a, "getIndex", func(_ context.Context, _ *tagrpc.CallContext, _ noParams) (*tagrpc.Result, error) {
		return tagrpc.Int64Array("index", c.Index()), nil
	})

	tagrpc.Method(a, "getChannels", func(_ context.Context, _ *tagrpc.CallContext, _ noParams) (*tagrpc.Result, error) {
		chans := c.Channels()
		out := make([]int64, len(chans))
		for i, ch := range chans {
			out[i] = int64(ch)
		}
		return tagrpc.ValueOf(out), nil
	})

	return a
}

// counterTable renders the counter's per-channel bins as one column per
// channel, named ch_<n>.
func counterTable(c *timetag.Counter) (*tagrpc.Result, error) {
	data := c.Data()
	chans := c.Channels()
	names := make([]string, len(chans))
	for i, ch := range chans {
		names[i] = "ch_" + strconv.FormatInt(int64(ch), 10)
	}
	return tagrpc.Int64Table(names, data)
}

func bindCountrateConstructor(a *tagrpc.Adapter) {
	tagrpc.Method(a, "Countrate", func(_ context.Context, call *tagrpc.CallContext, p channelsParams) (*tagrpc.Result, error) {
		tg, err := taggerFrom(call, p.Tagger)
		if err != nil {
			return nil, err
		}
		c, err := timetag.NewCountrate(tg, toInt32Channels(p.Channels))
		if err != nil {
			return nil, sdkFault(err)
		}
		ca := newCountrateAdapter(c)
		return tagrpc.HandleRef(call.Register(ca), ClassCountrate), nil
	})
}

func newCountrateAdapter(c *timetag.Countrate) *tagrpc.Adapter {
	a := tagrpc.NewAdapter(ClassCountrate, c)
	a.SetRelease(c.Close)
	bindAcquisition(a, c)

	tagrpc.Method(a, "getData", func(_ context.Context, _ *tagrpc.CallContext, _ noParams) (*tagrpc.Result, error) {
		return tagrpc.Float64Array("rate", c.Data()), nil
	})

	tagrpc.Method(a, "getCountsTotal", func(_ context.Context, _ *tagrpc.CallContext, _ noParams) (*tagrpc.Result, error) {
		return tagrpc.Int64Array("counts", c.Counts()), nil
	})

	return a
}

func bindCorrelationConstructor(a *tagrpc.Adapter) {
	type correlationParams struct {
		Tagger   string `tagrpc:"tagger"`
		Ch1      int32  `tagrpc:"channel_1"`
		Ch2      int32  `tagrpc:"channel_2"`
		Binwidth int64  `tagrpc:"binwidth,default=1000"`
		NBins    int64  `tagrpc:"n_bins,default=1000"`
	}
	tagrpc.Method(a, "Correlation", func(_ context.Context, call *tagrpc.CallContext, p correlationParams) (*tagrpc.Result, error) {
		tg, err := taggerFrom(call, p.Tagger)
		if err != nil {
			return nil, err
		}
		c, err := timetag.NewCorrelation(tg, p.Ch1, p.Ch2, p.Binwidth, int(p.NBins))
		if err != nil {
			return nil, sdkFault(err)
		}
		ca := newCorrelationAdapter(c)
		return tagrpc.HandleRef(call.Register(ca), ClassCorrelation), nil
	})
}

func newCorrelationAdapter(c *timetag.Correlation) *tagrpc.Adapter {
	a := tagrpc.NewAdapter(ClassCorrelation, c)
	a.SetRelease(c.Close)
	bindAcquisition(a, c)

	tagrpc.Method(a, "getData", func(_ context.Context, _ *tagrpc.CallContext, _ noParams) (*tagrpc.Result, error) {
		return tagrpc.Int64Array("counts", c.Data()), nil
	})

	tagrpc.Method(a, "getIndex", func(_ context.Context, _ *tagrpc.CallContext, _ noParams) (*tagrpc.Result, error) {
		return tagrpc.Int64Array("delay", c.Index()), nil
	})

	type cursorParams struct {
		Chunk int64 `tagrpc:"chunk,default=256"`
	}
	tagrpc.Method(a, "getDataCursor", func(_ context.Context, call *tagrpc.CallContext, p cursorParams) (*tagrpc.Result, error) {
		if p.Chunk <= 0 {
			return nil, tagrpc.Faultf(timetag.CodeInvalidArg, "chunk must be positive, got %d", p.Chunk)
		}
		cur := newCursor("counts", c.Data(), int(p.Chunk))
		return tagrpc.HandleRef(call.Register(newCursorAdapter(cur)), ClassDataCursor), nil
	})

	return a
}

func bindDelayedChannelConstructor(a *tagrpc.Adapter) {
	type delayedParams struct {
		Tagger  string `tagrpc:"tagger"`
		Channel int32  `tagrpc:"channel"`
		Delay   int64  `tagrpc:"delay"`
	}
	tagrpc.Method(a, "DelayedChannel", func(_ context.Context, call *tagrpc.CallContext, p delayedParams) (*tagrpc.Result, error) {
		tg, err := taggerFrom(call, p.Tagger)
		if err != nil {
			return nil, err
		}
		d, err := timetag.NewDelayedChannel(tg, p.Channel, p.Delay)
		if err != nil {
			return nil, sdkFault(err)
		}
		da := newDelayedChannelAdapter(d)
		return tagrpc.HandleRef(call.Register(da), ClassDelayedChannel), nil
	})
}

func newDelayedChannelAdapter(d *timetag.DelayedChannel) *tagrpc.Adapter {
	a := tagrpc.NewAdapter(ClassDelayedChannel, d)
	a.SetRelease(d.Close)

	tagrpc.Method(a, "getChannel", func(_ context.Context, _ *tagrpc.CallContext, _ noParams) (*tagrpc.Result, error) {
		return tagrpc.ValueOf(int64(d.Channel())), nil
	})

	return a
}

func bindFileWriterConstructor(a *tagrpc.Adapter) {
	type fileWriterParams struct {
		Tagger   string  `tagrpc:"tagger"`
		Filename string  `tagrpc:"filename"`
		Channels []int64 `tagrpc:"channels"`
	}
	tagrpc.Method(a, "FileWriter", func(_ context.Context, call *tagrpc.CallContext, p fileWriterParams) (*tagrpc.Result, error) {
		tg, err := taggerFrom(call, p.Tagger)
		if err != nil {
			return nil, err
		}
		w, err := timetag.NewFileWriter(tg, p.Filename, toInt32Channels(p.Channels))
		if err != nil {
			return nil, sdkFault(err)
		}
		wa := newFileWriterAdapter(w)
		return tagrpc.HandleRef(call.Register(wa), ClassFileWriter), nil
	})
}

func newFileWriterAdapter(w *timetag.FileWriter) *tagrpc.Adapter {
	a := tagrpc.NewAdapter(ClassFileWriter, w)
	a.SetRelease(w.Close)
	bindAcquisition(a, w)

	tagrpc.Method(a, "getTotalEvents", func(_ context.Context, _ *tagrpc.CallContext, _ noParams) (*tagrpc.Result, error) {
		return tagrpc.ValueOf(w.Total()), nil
	})

	return a
}

func bindSynchronizedConstructor(a *tagrpc.Adapter) {
	type syncParams struct {
		Tagger string `tagrpc:"tagger"`
	}
	tagrpc.Method(a, "SynchronizedMeasurements", func(_ context.Context, call *tagrpc.CallContext, p syncParams) (*tagrpc.Result, error) {
		tg, err := taggerFrom(call, p.Tagger)
		if err != nil {
			return nil, err
		}
		s := timetag.NewSynchronizedMeasurements(tg)
		sa := newSynchronizedAdapter(s)
		return tagrpc.HandleRef(call.Register(sa), ClassSynchronized), nil
	})
}

func newSynchronizedAdapter(s *timetag.SynchronizedMeasurements) *tagrpc.Adapter {
	a := tagrpc.NewAdapter(ClassSynchronized, s)
	bindAcquisition(a, s)

	type registerParams struct {
		Measurement string `tagrpc:"measurement"`
	}
	tagrpc.Method(a, "registerMeasurement", func(_ context.Context, call *tagrpc.CallContext, p registerParams) (*tagrpc.Result, error) {
		target, err := call.Target(tagrpc.Handle(p.Measurement))
		if err != nil {
			return nil, err
		}
		m, ok := target.(timetag.Measurement)
		if !ok {
			return nil, tagrpc.Faultf(tagrpc.KindType, "handle %q is not a measurement", p.Measurement)
		}
		s.Register(m)
		return tagrpc.Void(), nil
	})

	tagrpc.Method(a, "unregisterMeasurement", func(_ context.Context, call *tagrpc.CallContext, p registerParams) (*tagrpc.Result, error) {
		target, err := call.Target(tagrpc.Handle(p.Measurement))
		if err != nil {
			return nil, err
		}
		m, ok := target.(timetag.Measurement)
		if !ok {
			return nil, tagrpc.Faultf(tagrpc.KindType, "handle %q is not a measurement", p.Measurement)
		}
		s.Unregister(m)
		return tagrpc.Void(), nil
	})

	return a
}
