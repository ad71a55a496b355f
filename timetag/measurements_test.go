// © Copyright 2026, PhotonBench Instruments - https://photonbench.dev
// SPDX-License-Identifier: Apache-2.0

package timetag

import (
	"errors"
	"math"
	"path/filepath"
	"reflect"
	"testing"
)

// bench returns an unstarted tagger, so tests feed tags through inject or
// advance with no generator racing them.
func bench(t *testing.T) *Tagger {
	t.Helper()
	return newTagger("TEST", "Time Tagger Ultra")
}

func TestTaggerChannelValidation(t *testing.T) {
	tg := bench(t)
	if err := tg.SetTestSignal(0, true); !errors.Is(err, &Error{Code: CodeInvalidChannel}) {
		t.Errorf("channel 0 = %v, want InvalidChannel", err)
	}
	if err := tg.SetTestSignal(19, true); !errors.Is(err, &Error{Code: CodeInvalidChannel}) {
		t.Errorf("channel 19 = %v, want InvalidChannel", err)
	}
	if err := tg.SetTestSignal(1, true); err != nil {
		t.Errorf("channel 1: %v", err)
	}
	on, err := tg.TestSignal(1)
	if err != nil || !on {
		t.Errorf("TestSignal(1) = %v, %v", on, err)
	}
}

func TestTaggerTriggerLevelDefault(t *testing.T) {
	tg := bench(t)
	v, err := tg.TriggerLevel(3)
	if err != nil {
		t.Fatalf("TriggerLevel: %v", err)
	}
	if v != 0.5 {
		t.Errorf("default trigger level = %v, want 0.5", v)
	}
	if err := tg.SetTriggerLevel(3, 0.25); err != nil {
		t.Fatalf("SetTriggerLevel: %v", err)
	}
	if v, _ := tg.TriggerLevel(3); v != 0.25 {
		t.Errorf("trigger level = %v, want 0.25", v)
	}
}

func TestCounterBinning(t *testing.T) {
	tg := bench(t)
	c, err := NewCounter(tg, []int32{1}, 1000, 4)
	if err != nil {
		t.Fatalf("NewCounter: %v", err)
	}
	defer c.Close()

	tg.inject([]Tag{
		{Time: 100, Channel: 1},
		{Time: 200, Channel: 1},
		{Time: 1100, Channel: 1},
		{Time: 3100, Channel: 1},
	})

	data := c.Data()
	if len(data) != 1 {
		t.Fatalf("Data has %d rows, want 1", len(data))
	}
	// Bins roll: the two oldest detections have aged two bins, the newest
	// sits in the current bin.
	want := []int64{2, 1, 0, 1}
	if !reflect.DeepEqual(data[0], want) {
		t.Errorf("bins = %v, want %v", data[0], want)
	}
}

func TestCounterIgnoresOtherChannels(t *testing.T) {
	tg := bench(t)
	c, err := NewCounter(tg, []int32{2}, 1000, 4)
	if err != nil {
		t.Fatalf("NewCounter: %v", err)
	}
	defer c.Close()

	tg.inject([]Tag{
		{Time: 100, Channel: 1},
		{Time: 150, Channel: 2},
		{Time: 300, Channel: 3},
	})

	var total int64
	for _, n := range c.Data()[0] {
		total += n
	}
	if total != 1 {
		t.Errorf("counted %d detections, want 1 (only channel 2)", total)
	}
}

func TestCountrate(t *testing.T) {
	tg := bench(t)
	c, err := NewCountrate(tg, []int32{1, 2})
	if err != nil {
		t.Fatalf("NewCountrate: %v", err)
	}
	defer c.Close()

	// Ten tags on channel 1 across 0.9 seconds of tag time.
	var tags []Tag
	for i := range 10 {
		tags = append(tags, Tag{Time: int64(i) * 100_000_000_000, Channel: 1})
	}
	tg.inject(tags)

	counts := c.Counts()
	if counts[0] != 10 || counts[1] != 0 {
		t.Fatalf("Counts = %v, want [10 0]", counts)
	}
	rates := c.Data()
	if math.Abs(rates[0]-10.0/0.9) > 0.01 {
		t.Errorf("rate = %v, want ~%v", rates[0], 10.0/0.9)
	}
	if rates[1] != 0 {
		t.Errorf("idle channel rate = %v, want 0", rates[1])
	}
}

func TestStartForStopsAtDeadline(t *testing.T) {
	tg := bench(t)
	c, err := NewCountrate(tg, []int32{1})
	if err != nil {
		t.Fatalf("NewCountrate: %v", err)
	}
	defer c.Close()

	c.StartFor(1000, true)
	tg.inject([]Tag{
		{Time: 0, Channel: 1},
		{Time: 500, Channel: 1},
		{Time: 999, Channel: 1},
		{Time: 1000, Channel: 1},
		{Time: 1500, Channel: 1},
	})

	if c.IsRunning() {
		t.Errorf("still running after the window elapsed in tag time")
	}
	if counts := c.Counts(); counts[0] != 3 {
		t.Errorf("counted %d tags, want 3 inside the window", counts[0])
	}
	if d := c.CaptureDuration(); d != 1000 {
		t.Errorf("capture duration = %d, want the full 1000 ps window", d)
	}

	// Data after the stop is frozen.
	tg.inject([]Tag{{Time: 2000, Channel: 1}})
	if counts := c.Counts(); counts[0] != 3 {
		t.Errorf("stopped measurement kept counting")
	}
}

func TestStopAndResume(t *testing.T) {
	tg := bench(t)
	c, err := NewCountrate(tg, []int32{1})
	if err != nil {
		t.Fatalf("NewCountrate: %v", err)
	}
	defer c.Close()

	tg.inject([]Tag{{Time: 100, Channel: 1}})
	c.Stop()
	tg.inject([]Tag{{Time: 200, Channel: 1}})
	c.Start()
	tg.inject([]Tag{{Time: 300, Channel: 1}})

	if counts := c.Counts(); counts[0] != 2 {
		t.Errorf("counted %d tags, want 2 (tag during stop dropped)", counts[0])
	}
}

func TestClearResetsDataNotState(t *testing.T) {
	tg := bench(t)
	c, err := NewCountrate(tg, []int32{1})
	if err != nil {
		t.Fatalf("NewCountrate: %v", err)
	}
	defer c.Close()

	tg.inject([]Tag{{Time: 100, Channel: 1}})
	c.Clear()
	if counts := c.Counts(); counts[0] != 0 {
		t.Errorf("counts after clear = %v", counts)
	}
	if !c.IsRunning() {
		t.Errorf("clear must not stop acquisition")
	}
	tg.inject([]Tag{{Time: 200, Channel: 1}})
	if counts := c.Counts(); counts[0] != 1 {
		t.Errorf("counts after clear+tag = %v, want [1]", counts)
	}
}

func TestCorrelationHistogram(t *testing.T) {
	tg := bench(t)
	c, err := NewCorrelation(tg, 1, 2, 10, 10)
	if err != nil {
		t.Fatalf("NewCorrelation: %v", err)
	}
	defer c.Close()

	tg.inject([]Tag{
		{Time: 95, Channel: 2},
		{Time: 100, Channel: 1},
		{Time: 103, Channel: 2},
	})

	hist := c.Data()
	// dt = -5 lands one bin left of center, dt = +3 in the center bin.
	if hist[4] != 1 {
		t.Errorf("hist[4] = %d, want 1 (dt=-5)", hist[4])
	}
	if hist[5] != 1 {
		t.Errorf("hist[5] = %d, want 1 (dt=+3)", hist[5])
	}
	var total int64
	for _, n := range hist {
		total += n
	}
	if total != 2 {
		t.Errorf("histogram total = %d, want 2", total)
	}

	idx := c.Index()
	if idx[5] != 0 || idx[4] != -10 || idx[0] != -50 {
		t.Errorf("Index = %v", idx)
	}
}

func TestCorrelationIgnoresPairsOutsideWindow(t *testing.T) {
	tg := bench(t)
	c, err := NewCorrelation(tg, 1, 2, 10, 10)
	if err != nil {
		t.Fatalf("NewCorrelation: %v", err)
	}
	defer c.Close()

	// 1000 ps apart, far outside the 50 ps half-window.
	tg.inject([]Tag{
		{Time: 100, Channel: 1},
		{Time: 1100, Channel: 2},
	})

	for i, n := range c.Data() {
		if n != 0 {
			t.Errorf("hist[%d] = %d, want empty histogram", i, n)
		}
	}
}

func TestDelayedChannelThroughAdvance(t *testing.T) {
	tg := bench(t)
	if err := tg.SetTestSignal(1, true); err != nil {
		t.Fatalf("SetTestSignal: %v", err)
	}
	dc, err := NewDelayedChannel(tg, 1, 500)
	if err != nil {
		t.Fatalf("NewDelayedChannel: %v", err)
	}
	defer dc.Close()
	if dc.Channel() < VirtualChannelBase {
		t.Fatalf("virtual channel = %d, want >= %d", dc.Channel(), VirtualChannelBase)
	}

	c, err := NewCountrate(tg, []int32{1, dc.Channel()})
	if err != nil {
		t.Fatalf("NewCountrate: %v", err)
	}
	defer c.Close()

	// Three test-signal periods of simulated time.
	tg.advance(3 * TestSignalPeriod)

	counts := c.Counts()
	if counts[0] == 0 {
		t.Fatalf("test signal produced no tags")
	}
	if counts[1] != counts[0] {
		t.Errorf("delayed channel got %d tags, source got %d", counts[1], counts[0])
	}
}

func TestCorrelationSeesDelayedCoincidences(t *testing.T) {
	tg := bench(t)
	tg.SetTestSignal(1, true)
	dc, err := NewDelayedChannel(tg, 1, 20)
	if err != nil {
		t.Fatalf("NewDelayedChannel: %v", err)
	}
	defer dc.Close()

	c, err := NewCorrelation(tg, 1, dc.Channel(), 10, 10)
	if err != nil {
		t.Fatalf("NewCorrelation: %v", err)
	}
	defer c.Close()

	tg.advance(10 * TestSignalPeriod)

	hist := c.Data()
	// Every source tag has its delayed copy 20 ps later: bin for dt=+20.
	idx := 20/10 + 5
	if hist[idx] == 0 {
		t.Errorf("hist = %v, want coincidences at dt=+20", hist)
	}
}

func TestFileWriterRoundTrip(t *testing.T) {
	tg := bench(t)
	path := filepath.Join(t.TempDir(), "tags.ttdump")

	w, err := NewFileWriter(tg, path, []int32{1})
	if err != nil {
		t.Fatalf("NewFileWriter: %v", err)
	}

	tg.inject([]Tag{
		{Time: 100, Channel: 1},
		{Time: 150, Channel: 2}, // not recorded
		{Time: 200, Channel: 1},
	})

	if w.Total() != 2 {
		t.Errorf("Total = %d, want 2", w.Total())
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	tags, err := ReadDump(path)
	if err != nil {
		t.Fatalf("ReadDump: %v", err)
	}
	want := []Tag{{Time: 100, Channel: 1}, {Time: 200, Channel: 1}}
	if !reflect.DeepEqual(tags, want) {
		t.Errorf("dump = %v, want %v", tags, want)
	}
}

func TestSynchronizedMeasurements(t *testing.T) {
	tg := bench(t)
	c1, err := NewCountrate(tg, []int32{1})
	if err != nil {
		t.Fatalf("NewCountrate: %v", err)
	}
	defer c1.Close()
	c2, err := NewCountrate(tg, []int32{2})
	if err != nil {
		t.Fatalf("NewCountrate: %v", err)
	}
	defer c2.Close()

	group := NewSynchronizedMeasurements(tg)
	group.Register(c1)
	group.Register(c2)

	// Registration stops members until the group starts them.
	tg.inject([]Tag{{Time: 50, Channel: 1}, {Time: 50, Channel: 2}})
	if c1.Counts()[0] != 0 || c2.Counts()[0] != 0 {
		t.Fatalf("members acquired outside a group window")
	}

	group.StartFor(1000, true)
	tg.inject([]Tag{{Time: 100, Channel: 1}, {Time: 150, Channel: 2}})
	if c1.Counts()[0] != 1 || c2.Counts()[0] != 1 {
		t.Errorf("counts = %v %v, want 1 each", c1.Counts(), c2.Counts())
	}
	if !group.IsRunning() {
		t.Errorf("group not running inside the window")
	}

	tg.inject([]Tag{{Time: 2000, Channel: 1}, {Time: 2000, Channel: 2}})
	if group.IsRunning() {
		t.Errorf("group still running past the window")
	}
}

func TestSynchronizedUnregister(t *testing.T) {
	tg := bench(t)
	c1, err := NewCountrate(tg, []int32{1})
	if err != nil {
		t.Fatalf("NewCountrate: %v", err)
	}
	defer c1.Close()
	c2, err := NewCountrate(tg, []int32{2})
	if err != nil {
		t.Fatalf("NewCountrate: %v", err)
	}
	defer c2.Close()

	group := NewSynchronizedMeasurements(tg)
	group.Register(c1)
	group.Register(c2)
	group.Unregister(c1)

	// Only the remaining member follows group control.
	group.Start()
	if c1.IsRunning() {
		t.Errorf("unregistered member started with the group")
	}
	if !c2.IsRunning() {
		t.Errorf("remaining member not started with the group")
	}

	// The unregistered member is controlled individually again.
	c1.Start()
	group.Stop()
	if !c1.IsRunning() {
		t.Errorf("group stop reached an unregistered member")
	}

	// Unregistering twice is a no-op.
	group.Unregister(c1)
}
