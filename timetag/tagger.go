// © Copyright 2026, PhotonBench Instruments - https://photonbench.dev
// SPDX-License-Identifier: Apache-2.0

package timetag

import (
	"sort"
	"sync"
	"time"
)

// Tagger is one claimed device. It runs a background generator that turns
// enabled test signals into a merged, time-ordered tag stream and fans it
// out to attached measurements.
type Tagger struct {
	serial string
	model  string

	mu           sync.Mutex
	testSignal   map[int32]bool
	triggerLevel map[int32]float64
	inputDelay   map[int32]int64
	virtual      map[int32]virtualChannel
	nextVirtual  int32
	phase        map[int32]int64
	simTime      int64
	consumers    map[consumer]struct{}
	closed       bool
	done         chan struct{}
}

type virtualChannel struct {
	source int32
	delay  int64
}

const generatorInterval = 2 * time.Millisecond

func newTagger(serial, model string) *Tagger {
	t := &Tagger{
		serial:       serial,
		model:        model,
		testSignal:   make(map[int32]bool),
		triggerLevel: make(map[int32]float64),
		inputDelay:   make(map[int32]int64),
		virtual:      make(map[int32]virtualChannel),
		nextVirtual:  VirtualChannelBase,
		phase:        make(map[int32]int64),
		consumers:    make(map[consumer]struct{}),
		done:         make(chan struct{}),
	}
	return t
}

// start launches the background generator. Separate from construction so
// tests can drive simulated time through advance directly.
func (t *Tagger) start() {
	go t.run()
}

func (t *Tagger) run() {
	ticker := time.NewTicker(generatorInterval)
	defer ticker.Stop()
	last := time.Now()
	for {
		select {
		case <-t.done:
			return
		case now := <-ticker.C:
			elapsed := now.Sub(last)
			last = now
			t.advance(elapsed.Nanoseconds() * 1000)
		}
	}
}

// advance generates test-signal tags for delta picoseconds of simulated time
// and delivers them to attached consumers. Tags come out merged in time
// order with per-channel input delays and virtual-channel copies applied.
func (t *Tagger) advance(delta int64) {
	t.mu.Lock()
	if t.closed || delta <= 0 {
		t.mu.Unlock()
		return
	}
	until := t.simTime + delta
	var tags []Tag
	for ch, on := range t.testSignal {
		if !on {
			continue
		}
		next, ok := t.phase[ch]
		if !ok {
			// Small per-channel phase offset so coincidences are not all at dt=0.
			next = t.simTime + int64(ch)*137
		}
		for ; next < until; next += TestSignalPeriod {
			tags = append(tags, Tag{Time: next + t.inputDelay[ch], Channel: ch})
			for vch, vc := range t.virtual {
				if vc.source == ch {
					tags = append(tags, Tag{Time: next + t.inputDelay[ch] + vc.delay, Channel: vch})
				}
			}
		}
		t.phase[ch] = next
	}
	t.simTime = until

	sinks := make([]consumer, 0, len(t.consumers))
	for c := range t.consumers {
		sinks = append(sinks, c)
	}
	t.mu.Unlock()

	if len(tags) == 0 {
		return
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i].Time < tags[j].Time })
	for _, c := range sinks {
		c.process(tags)
	}
}

// inject delivers a pre-built tag slice to all attached consumers. Tags must
// be time-ordered. Used by deterministic tests in place of the generator.
func (t *Tagger) inject(tags []Tag) {
	t.mu.Lock()
	sinks := make([]consumer, 0, len(t.consumers))
	for c := range t.consumers {
		sinks = append(sinks, c)
	}
	t.mu.Unlock()
	for _, c := range sinks {
		c.process(tags)
	}
}

func (t *Tagger) attach(c consumer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.consumers[c] = struct{}{}
}

func (t *Tagger) detach(c consumer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.consumers, c)
}

func (t *Tagger) shutdown() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	close(t.done)
}

// Serial returns the device serial number.
func (t *Tagger) Serial() string { return t.serial }

// Model returns the device model name.
func (t *Tagger) Model() string { return t.model }

// checkChannel validates a physical or allocated virtual channel number.
// Callers hold t.mu.
func (t *Tagger) checkChannel(ch int32) error {
	if ch >= MinChannel && ch <= MaxChannel {
		return nil
	}
	if _, ok := t.virtual[ch]; ok {
		return nil
	}
	return Errorf(CodeInvalidChannel, "channel %d out of range %d..%d", ch, MinChannel, MaxChannel)
}

func (t *Tagger) checkOpen() error {
	if t.closed {
		return Errorf(CodeState, "tagger %q has been freed", t.serial)
	}
	return nil
}

// SetTestSignal enables or disables the built-in test signal on a physical
// channel.
func (t *Tagger) SetTestSignal(ch int32, enabled bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkOpen(); err != nil {
		return err
	}
	if ch < MinChannel || ch > MaxChannel {
		return Errorf(CodeInvalidChannel, "test signal is only available on physical channels, got %d", ch)
	}
	t.testSignal[ch] = enabled
	if !enabled {
		delete(t.phase, ch)
	}
	return nil
}

// TestSignal reports whether the test signal is enabled on a channel.
func (t *Tagger) TestSignal(ch int32) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkOpen(); err != nil {
		return false, err
	}
	if ch < MinChannel || ch > MaxChannel {
		return false, Errorf(CodeInvalidChannel, "channel %d out of range", ch)
	}
	return t.testSignal[ch], nil
}

// SetTriggerLevel sets the input discriminator threshold in volts.
func (t *Tagger) SetTriggerLevel(ch int32, volts float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkOpen(); err != nil {
		return err
	}
	if ch < MinChannel || ch > MaxChannel {
		return Errorf(CodeInvalidChannel, "channel %d out of range", ch)
	}
	t.triggerLevel[ch] = volts
	return nil
}

// TriggerLevel returns the input discriminator threshold in volts.
func (t *Tagger) TriggerLevel(ch int32) (float64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkOpen(); err != nil {
		return 0, err
	}
	if ch < MinChannel || ch > MaxChannel {
		return 0, Errorf(CodeInvalidChannel, "channel %d out of range", ch)
	}
	if v, ok := t.triggerLevel[ch]; ok {
		return v, nil
	}
	return 0.5, nil // hardware default
}

// SyncRate returns the internal synchronization oscillator rate in Hz. The
// test signal is derived from this oscillator, so the value doubles as the
// expected test-signal count rate per channel.
func (t *Tagger) SyncRate() (float64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkOpen(); err != nil {
		return 0, err
	}
	return 1e12 / float64(TestSignalPeriod), nil
}

// SetInputDelay sets a per-channel timestamp offset in picoseconds.
func (t *Tagger) SetInputDelay(ch int32, delay int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkOpen(); err != nil {
		return err
	}
	if ch < MinChannel || ch > MaxChannel {
		return Errorf(CodeInvalidChannel, "channel %d out of range", ch)
	}
	t.inputDelay[ch] = delay
	return nil
}

// InputDelay returns the per-channel timestamp offset in picoseconds.
func (t *Tagger) InputDelay(ch int32) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkOpen(); err != nil {
		return 0, err
	}
	if ch < MinChannel || ch > MaxChannel {
		return 0, Errorf(CodeInvalidChannel, "channel %d out of range", ch)
	}
	return t.inputDelay[ch], nil
}

// allocVirtualChannel creates a delayed copy of a source channel and returns
// its channel number.
func (t *Tagger) allocVirtualChannel(source int32, delay int64) (int32, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkOpen(); err != nil {
		return 0, err
	}
	if err := t.checkChannel(source); err != nil {
		return 0, err
	}
	ch := t.nextVirtual
	t.nextVirtual++
	t.virtual[ch] = virtualChannel{source: source, delay: delay}
	return ch, nil
}

// freeVirtualChannel releases a virtual channel number.
func (t *Tagger) freeVirtualChannel(ch int32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.virtual, ch)
}
