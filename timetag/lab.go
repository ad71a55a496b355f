// © Copyright 2026, PhotonBench Instruments - https://photonbench.dev
// SPDX-License-Identifier: Apache-2.0

package timetag

import (
	"log/slog"
	"sort"
	"sync"
)

// ScanEntry describes one attachable device found by a scan.
type ScanEntry struct {
	Serial string
	Model  string
	InUse  bool
}

// Lab is the library entry point. It owns the set of simulated devices and
// tracks which are claimed. A device can be claimed by at most one Tagger at
// a time; Free returns it to the pool.
type Lab struct {
	mu      sync.Mutex
	devices map[string]*device
}

type device struct {
	serial  string
	model   string
	claimed *Tagger
}

// NewLab creates a lab with one simulated device per serial. With no serials
// given, a single device "1740000XXX" is created.
func NewLab(serials ...string) *Lab {
	if len(serials) == 0 {
		serials = []string{"1740000XXX"}
	}
	l := &Lab{devices: make(map[string]*device, len(serials))}
	for _, s := range serials {
		l.devices[s] = &device{serial: s, model: "Time Tagger Ultra"}
	}
	return l
}

// Scan lists all devices in serial order, claimed ones included.
func (l *Lab) Scan() []ScanEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries := make([]ScanEntry, 0, len(l.devices))
	for _, d := range l.devices {
		entries = append(entries, ScanEntry{
			Serial: d.serial,
			Model:  d.model,
			InUse:  d.claimed != nil,
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Serial < entries[j].Serial })
	return entries
}

// Create claims a device and returns its Tagger. An empty serial claims the
// first unclaimed device in serial order.
func (l *Lab) Create(serial string) (*Tagger, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var d *device
	if serial == "" {
		serials := make([]string, 0, len(l.devices))
		for s := range l.devices {
			serials = append(serials, s)
		}
		sort.Strings(serials)
		for _, s := range serials {
			if l.devices[s].claimed == nil {
				d = l.devices[s]
				break
			}
		}
		if d == nil {
			return nil, Errorf(CodeDeviceInUse, "no unclaimed devices")
		}
	} else {
		d = l.devices[serial]
		if d == nil {
			return nil, Errorf(CodeUnknownSerial, "no device with serial %q", serial)
		}
		if d.claimed != nil {
			return nil, Errorf(CodeDeviceInUse, "device %q already claimed", serial)
		}
	}

	t := newTagger(d.serial, d.model)
	t.start()
	d.claimed = t
	slog.Info("claimed time tagger", "serial", d.serial)
	return t, nil
}

// Free releases a claimed Tagger and stops its tag stream. Freeing an
// already-freed tagger is a StateError; the device stays usable either way.
func (l *Lab) Free(t *Tagger) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	d := l.devices[t.serial]
	if d == nil || d.claimed != t {
		return Errorf(CodeState, "tagger %q is not claimed", t.serial)
	}
	d.claimed = nil
	t.shutdown()
	slog.Info("released time tagger", "serial", t.serial)
	return nil
}
