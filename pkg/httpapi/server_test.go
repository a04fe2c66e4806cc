package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cuemby/aegis/pkg/gpuhealth"
)

func TestRoutesRespondWithoutStoreDependencies(t *testing.T) {
	s := New(nil, nil, nil, nil, nil, nil)

	req := httptest.NewRequest("GET", "/api/metrics/ping", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /api/metrics/ping = %d, want 200", rec.Code)
	}

	req = httptest.NewRequest("GET", "/livez", nil)
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /livez = %d, want 200", rec.Code)
	}

	req = httptest.NewRequest("GET", "/does-not-exist", nil)
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("GET /does-not-exist = %d, want 404", rec.Code)
	}
}

func TestQueryInt(t *testing.T) {
	r := httptest.NewRequest("GET", "/documents?limit=25&offset=bogus", nil)
	if got := queryInt(r, "limit", 50); got != 25 {
		t.Errorf("queryInt(limit) = %d, want 25", got)
	}
	if got := queryInt(r, "offset", 0); got != 0 {
		t.Errorf("queryInt(offset, invalid) = %d, want default 0", got)
	}
	if got := queryInt(r, "missing", 10); got != 10 {
		t.Errorf("queryInt(missing) = %d, want default 10", got)
	}
}

func TestFirstGPUUtilization(t *testing.T) {
	if got := firstGPUUtilization(nil); got != 0 {
		t.Errorf("firstGPUUtilization(nil) = %v, want 0", got)
	}
	stats := []gpuhealth.Stats{{Utilization: 42.5}, {Utilization: 10}}
	if got := firstGPUUtilization(stats); got != 42.5 {
		t.Errorf("firstGPUUtilization = %v, want 42.5", got)
	}
}

func TestToGPUSnapshot(t *testing.T) {
	fan := 1200.0
	stat := gpuhealth.Stats{
		Index: 0, Name: "Jetson AGX", Temperature: 72.5, Utilization: 88,
		MemoryUsedMB: 2048, MemoryTotalMB: 8192, MemoryPercent: 25,
		PowerDrawWatts: 15, PowerLimit: 30, FanSpeed: &fan,
		ClockGraphics: 900, ClockMemory: 1600,
		Health: gpuhealth.HealthWarning, Error: gpuhealth.ErrorThermal, ErrorMessage: "running hot",
	}
	ts := time.Now()

	snap := toGPUSnapshot(stat, ts)

	if snap.Index != 0 || snap.Name != "Jetson AGX" || snap.Temperature != 72.5 {
		t.Fatalf("unexpected snapshot base fields: %+v", snap)
	}
	if snap.Memory.UsedMB != 2048 || snap.Memory.TotalMB != 8192 || snap.Memory.Percent != 25 {
		t.Fatalf("unexpected memory fields: %+v", snap.Memory)
	}
	if snap.Power.DrawW != 15 || snap.Power.LimitW != 30 {
		t.Fatalf("unexpected power fields: %+v", snap.Power)
	}
	if snap.Clocks.Graphics != 900 || snap.Clocks.Memory != 1600 {
		t.Fatalf("unexpected clock fields: %+v", snap.Clocks)
	}
	if snap.FanSpeed == nil || *snap.FanSpeed != 1200 {
		t.Fatalf("unexpected fan speed: %v", snap.FanSpeed)
	}
	if snap.Health != gpuhealth.HealthWarning || snap.Error != gpuhealth.ErrorThermal {
		t.Fatalf("unexpected health/error: %v %v", snap.Health, snap.Error)
	}
	if !snap.Timestamp.Equal(ts) {
		t.Fatalf("timestamp not carried through: %v != %v", snap.Timestamp, ts)
	}
}
