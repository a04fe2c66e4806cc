package migration

import (
	"path/filepath"
	"testing"
)

func TestCheckpointRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")

	cp, err := loadCheckpoint(path)
	if err != nil {
		t.Fatalf("loadCheckpoint missing file: %v", err)
	}
	if cp.Phase != PhaseChunks {
		t.Errorf("default phase = %q, want %q", cp.Phase, PhaseChunks)
	}

	cp.LastOffset = 128
	cp.Phase = PhaseSwap
	if err := saveCheckpoint(path, cp); err != nil {
		t.Fatalf("saveCheckpoint: %v", err)
	}

	loaded, err := loadCheckpoint(path)
	if err != nil {
		t.Fatalf("loadCheckpoint: %v", err)
	}
	if loaded.LastOffset != 128 || loaded.Phase != PhaseSwap {
		t.Errorf("loaded = %+v, want offset=128 phase=swap", loaded)
	}

	if err := removeCheckpoint(path); err != nil {
		t.Fatalf("removeCheckpoint: %v", err)
	}
	if err := removeCheckpoint(path); err != nil {
		t.Fatalf("removeCheckpoint on missing file should be nil, got %v", err)
	}
}
