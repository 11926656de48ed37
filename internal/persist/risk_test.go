package persist

import (
	"testing"
	"time"
)

func TestSaveAndLoadRiskState(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	state := RiskState{Time: now, SleepTill: now.Add(time.Hour), Reason: "stop_loss"}

	if err := s.Save("0xcond1", state); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := s.Load("0xcond1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded == nil {
		t.Fatal("Load returned nil")
	}
	if !loaded.SleepTill.Equal(state.SleepTill) {
		t.Errorf("SleepTill = %v, want %v", loaded.SleepTill, state.SleepTill)
	}
	if loaded.Reason != "stop_loss" {
		t.Errorf("Reason = %q, want stop_loss", loaded.Reason)
	}
}

func TestLoadMissingReturnsNilNil(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	s, _ := Open(dir)

	loaded, err := s.Load("nonexistent")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded != nil {
		t.Errorf("expected nil for missing risk state, got %+v", loaded)
	}
}

func TestActiveGatesUntilSleepTill(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	state := RiskState{SleepTill: now.Add(time.Hour)}

	if !state.Active(now) {
		t.Error("expected Active at now")
	}
	if state.Active(now.Add(2 * time.Hour)) {
		t.Error("expected inactive after sleep_till elapses")
	}
}

func TestSaveOverwrites(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	s, _ := Open(dir)

	_ = s.Save("mkt", RiskState{Reason: "first"})
	_ = s.Save("mkt", RiskState{Reason: "second"})

	loaded, err := s.Load("mkt")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Reason != "second" {
		t.Errorf("Reason = %q, want second (latest save)", loaded.Reason)
	}
}
