// © Copyright 2026, PhotonBench Instruments - https://photonbench.dev
// SPDX-License-Identifier: Apache-2.0

// Package timetag is a software model of a single-photon time tagger. It
// exposes the same object surface as the vendor SDK: a library entry point
// that scans and claims devices, a Tagger per claimed device, and
// measurement objects (Counter, Countrate, Correlation, FileWriter) that
// subscribe to the tagger's time-tag stream. Claimed devices emit a
// configurable test signal so measurements produce data without hardware.
//
// All timestamps are picoseconds. Channel numbers 1..18 address physical
// inputs; numbers from 1000 up address virtual delayed channels.
package timetag

// Tag is one detection event: a channel number and a picosecond timestamp.
type Tag struct {
	Time    int64 // picoseconds since tagger start
	Channel int32
}

// Physical channel limits of the modeled device.
const (
	MinChannel = 1
	MaxChannel = 18

	// VirtualChannelBase is the first channel number handed out for
	// delayed virtual channels.
	VirtualChannelBase = 1000
)

// TestSignalPeriod is the period of the built-in test signal in picoseconds
// (about 800 kHz), matching the reference hardware's test oscillator.
const TestSignalPeriod int64 = 1_250_000

// consumer receives merged, time-ordered tag slices from a tagger. The
// slice is only valid for the duration of the call.
type consumer interface {
	process(tags []Tag)
}
