// © Copyright 2026, PhotonBench Instruments - https://photonbench.dev
// SPDX-License-Identifier: Apache-2.0

package timetag

import "sync"

// Measurement is the acquisition control surface common to all measurement
// types. The embedded measurement state machine satisfies it.
type Measurement interface {
	Start()
	StartFor(duration int64, clear bool)
	Stop()
	Clear()
	IsRunning() bool
	CaptureDuration() int64
}

// SynchronizedMeasurements groups measurements so they start and stop
// together, giving them a common acquisition window.
type SynchronizedMeasurements struct {
	mu      sync.Mutex
	tagger  *Tagger
	members []Measurement
}

// NewSynchronizedMeasurements creates an empty group on a tagger.
func NewSynchronizedMeasurements(t *Tagger) *SynchronizedMeasurements {
	return &SynchronizedMeasurements{tagger: t}
}

// Register adds a measurement to the group and stops it, so it only acquires
// inside group-controlled windows.
func (s *SynchronizedMeasurements) Register(m Measurement) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m.Stop()
	s.members = append(s.members, m)
}

// Unregister removes a measurement from the group. The measurement keeps its
// current acquisition state and is controlled individually again. Removing a
// measurement that is not in the group is a no-op.
func (s *SynchronizedMeasurements) Unregister(m Measurement) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, member := range s.members {
		if member == m {
			s.members = append(s.members[:i], s.members[i+1:]...)
			return
		}
	}
}

// Start begins open-ended acquisition on every member.
func (s *SynchronizedMeasurements) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.members {
		m.Start()
	}
}

// StartFor begins a fixed-duration acquisition on every member.
func (s *SynchronizedMeasurements) StartFor(duration int64, clear bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.members {
		m.StartFor(duration, clear)
	}
}

// Stop ends acquisition on every member.
func (s *SynchronizedMeasurements) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.members {
		m.Stop()
	}
}

// Clear discards accumulated data on every member.
func (s *SynchronizedMeasurements) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.members {
		m.Clear()
	}
}

// CaptureDuration returns the longest member capture time in picoseconds.
func (s *SynchronizedMeasurements) CaptureDuration() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var max int64
	for _, m := range s.members {
		if d := m.CaptureDuration(); d > max {
			max = d
		}
	}
	return max
}

// IsRunning reports whether any member is still acquiring.
func (s *SynchronizedMeasurements) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.members {
		if m.IsRunning() {
			return true
		}
	}
	return false
}
