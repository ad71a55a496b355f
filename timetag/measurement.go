// © Copyright 2026, PhotonBench Instruments - https://photonbench.dev
// SPDX-License-Identifier: Apache-2.0

package timetag

import "sync"

// measurement holds the acquisition state machine shared by all measurement
// types: started or stopped, an optional fixed capture duration, and the
// accumulated capture time. Concrete measurements embed it and call
// gateLocked from their process method to clip incoming tags to the active
// acquisition window.
type measurement struct {
	mu      sync.Mutex
	tagger  *Tagger
	running bool

	stopAfter int64 // fixed run duration in ps, 0 for open-ended
	deadline  int64 // absolute stop time, set once the first tag arrives
	firstTag  int64 // first tag time of the current run, -1 before data
	lastTag   int64
	captured  int64 // capture time accumulated across finished runs

	clearFn func() // concrete type's data reset, called with mu held
}

func (m *measurement) init(t *Tagger, clearFn func()) {
	m.tagger = t
	m.firstTag = -1
	m.running = true // measurements acquire from creation, like the hardware SDK
	m.clearFn = clearFn
}

// Start begins (or resumes) open-ended acquisition.
func (m *measurement) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.beginRunLocked(0)
}

// StartFor begins acquisition for a fixed duration in picoseconds. With
// clear set, accumulated data is discarded first.
func (m *measurement) StartFor(duration int64, clear bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if clear && m.clearFn != nil {
		m.clearFn()
	}
	m.beginRunLocked(duration)
}

func (m *measurement) beginRunLocked(duration int64) {
	if m.running {
		m.finishRunLocked()
	}
	m.running = true
	m.stopAfter = duration
	m.deadline = 0
	m.firstTag = -1
}

// Stop ends acquisition. Accumulated data stays readable.
func (m *measurement) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	m.finishRunLocked()
	m.running = false
}

func (m *measurement) finishRunLocked() {
	if m.firstTag >= 0 {
		m.captured += m.lastTag - m.firstTag
	}
	m.firstTag = -1
}

// Clear discards accumulated data without changing the running state.
func (m *measurement) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.clearFn != nil {
		m.clearFn()
	}
}

// IsRunning reports whether the measurement is acquiring. A fixed-duration
// run flips to false once its window has elapsed in tag time.
func (m *measurement) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// CaptureDuration returns the total acquisition time in picoseconds.
func (m *measurement) CaptureDuration() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := m.captured
	if m.running && m.firstTag >= 0 {
		total += m.lastTag - m.firstTag
	}
	return total
}

// gateLocked clips an incoming time-ordered tag slice to the active
// acquisition window and advances the capture clock. It returns nil when the
// measurement is not acquiring. Callers hold m.mu.
func (m *measurement) gateLocked(tags []Tag) []Tag {
	if !m.running || len(tags) == 0 {
		return nil
	}
	if m.firstTag < 0 {
		m.firstTag = tags[0].Time
		if m.stopAfter > 0 {
			m.deadline = m.firstTag + m.stopAfter
		}
	}
	if m.deadline > 0 {
		n := len(tags)
		for i, tag := range tags {
			if tag.Time >= m.deadline {
				n = i
				break
			}
		}
		if n < len(tags) {
			tags = tags[:n]
			m.lastTag = m.deadline
			m.finishRunLocked()
			m.running = false
			if len(tags) == 0 {
				return nil
			}
			return tags
		}
	}
	m.lastTag = tags[len(tags)-1].Time
	return tags
}

// detach unsubscribes from the tagger. Called from measurement Close paths.
func (m *measurement) detach(c consumer) {
	m.tagger.detach(c)
}
