// © Copyright 2026, PhotonBench Instruments - https://photonbench.dev
// SPDX-License-Identifier: Apache-2.0

package timetag

import (
	"errors"
	"testing"
)

func TestLabScan(t *testing.T) {
	lab := NewLab("B200", "A100")
	entries := lab.Scan()
	if len(entries) != 2 {
		t.Fatalf("Scan returned %d entries, want 2", len(entries))
	}
	// Serial order, regardless of construction order.
	if entries[0].Serial != "A100" || entries[1].Serial != "B200" {
		t.Errorf("Scan order = %s, %s", entries[0].Serial, entries[1].Serial)
	}
	if entries[0].InUse || entries[1].InUse {
		t.Errorf("fresh devices must not be in use")
	}
}

func TestLabCreateBySerial(t *testing.T) {
	lab := NewLab("A100", "B200")
	tg, err := lab.Create("B200")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer lab.Free(tg)

	if tg.Serial() != "B200" {
		t.Errorf("Serial = %q", tg.Serial())
	}
	for _, e := range lab.Scan() {
		if e.Serial == "B200" && !e.InUse {
			t.Errorf("claimed device not marked in use")
		}
	}
}

func TestLabCreateFirstFree(t *testing.T) {
	lab := NewLab("A100", "B200")
	tg1, err := lab.Create("")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer lab.Free(tg1)
	if tg1.Serial() != "A100" {
		t.Errorf("first free device = %q, want A100", tg1.Serial())
	}

	tg2, err := lab.Create("")
	if err != nil {
		t.Fatalf("second Create: %v", err)
	}
	defer lab.Free(tg2)
	if tg2.Serial() != "B200" {
		t.Errorf("second free device = %q, want B200", tg2.Serial())
	}

	if _, err := lab.Create(""); !errors.Is(err, &Error{Code: CodeDeviceInUse}) {
		t.Errorf("exhausted pool = %v, want DeviceInUse", err)
	}
}

func TestLabCreateErrors(t *testing.T) {
	lab := NewLab("A100")
	if _, err := lab.Create("nope"); !errors.Is(err, &Error{Code: CodeUnknownSerial}) {
		t.Errorf("unknown serial = %v, want UnknownSerial", err)
	}

	tg, err := lab.Create("A100")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer lab.Free(tg)

	if _, err := lab.Create("A100"); !errors.Is(err, &Error{Code: CodeDeviceInUse}) {
		t.Errorf("double claim = %v, want DeviceInUse", err)
	}
}

func TestLabFreeTwice(t *testing.T) {
	lab := NewLab("A100")
	tg, err := lab.Create("A100")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := lab.Free(tg); err != nil {
		t.Fatalf("Free: %v", err)
	}
	if err := lab.Free(tg); !errors.Is(err, &Error{Code: CodeState}) {
		t.Errorf("second Free = %v, want StateError", err)
	}

	// The device returns to the pool.
	tg2, err := lab.Create("A100")
	if err != nil {
		t.Fatalf("re-claim after free: %v", err)
	}
	lab.Free(tg2)
}

func TestSyncRate(t *testing.T) {
	lab := NewLab("A100")
	tg, _ := lab.Create("A100")
	defer lab.Free(tg)

	rate, err := tg.SyncRate()
	if err != nil {
		t.Fatalf("SyncRate: %v", err)
	}
	// 1.25 us test-signal period is 800 kHz.
	if rate != 800_000 {
		t.Errorf("SyncRate = %v, want 800000", rate)
	}
}

func TestFreedTaggerRejectsCalls(t *testing.T) {
	lab := NewLab("A100")
	tg, _ := lab.Create("A100")
	lab.Free(tg)

	if err := tg.SetTestSignal(1, true); !errors.Is(err, &Error{Code: CodeState}) {
		t.Errorf("call on freed tagger = %v, want StateError", err)
	}
}
