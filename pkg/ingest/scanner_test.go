package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/aegis/pkg/objectstore"
)

func TestScannerTriggerScanGuardsAgainstOverlap(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	objects, err := objectstore.New(ctx, "http://127.0.0.1:1", "", "", "documents")
	if err != nil {
		t.Fatalf("objectstore.New: %v", err)
	}

	pipeline := New(nil, objects, nil, nil, nil, nil, nil, nil, "documents", Config{})
	scanner := NewScanner(pipeline, objects)

	if scanner.Running() {
		t.Fatal("new scanner should not report running")
	}

	if !scanner.TriggerScan(ctx) {
		t.Fatal("first TriggerScan should start a scan")
	}
	if scanner.TriggerScan(ctx) {
		t.Fatal("second concurrent TriggerScan should be refused")
	}

	deadline := time.Now().Add(8 * time.Second)
	for scanner.Running() {
		if time.Now().After(deadline) {
			t.Fatal("scan never completed within deadline")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
