// © Copyright 2026, PhotonBench Instruments - https://photonbench.dev
// SPDX-License-Identifier: Apache-2.0

package timetag

// DelayedChannel is a virtual channel carrying a time-shifted copy of a
// source channel. Measurements reference it by its Channel() number like any
// physical input.
type DelayedChannel struct {
	tagger  *Tagger
	channel int32
	source  int32
	delay   int64
}

// NewDelayedChannel allocates a virtual channel that repeats every detection
// on source shifted by delay picoseconds.
func NewDelayedChannel(t *Tagger, source int32, delay int64) (*DelayedChannel, error) {
	ch, err := t.allocVirtualChannel(source, delay)
	if err != nil {
		return nil, err
	}
	return &DelayedChannel{tagger: t, channel: ch, source: source, delay: delay}, nil
}

// Channel returns the allocated virtual channel number.
func (d *DelayedChannel) Channel() int32 { return d.channel }

// Source returns the physical channel being delayed.
func (d *DelayedChannel) Source() int32 { return d.source }

// Delay returns the shift in picoseconds.
func (d *DelayedChannel) Delay() int64 { return d.delay }

// Close releases the virtual channel number. Measurements still referencing
// it stop receiving its tags.
func (d *DelayedChannel) Close() error {
	d.tagger.freeVirtualChannel(d.channel)
	return nil
}
