package budget

import (
	"errors"
	"testing"
)

func TestConfigValidate(t *testing.T) {
	neg := float64(-1)
	cfg := Config{MaxCost: &neg}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}

	cost := float64(10)
	tokens := int64(5000)
	cfg = Config{MaxCost: &cost, MaxTokens: &tokens}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestMergeClone(t *testing.T) {
	cost := float64(5)
	tokens := int64(100)
	base := Config{MaxCost: &cost}
	override := Config{MaxTokens: &tokens}
	merged := Merge(base, override)
	if merged.MaxCost == nil || *merged.MaxCost != cost {
		t.Fatalf("expected max cost to persist")
	}
	if merged.MaxTokens == nil || *merged.MaxTokens != tokens {
		t.Fatalf("expected token override")
	}
	// ensure clone isolation
	*merged.MaxCost = 99
	if *base.MaxCost != cost {
		t.Fatalf("merge should not alias base values")
	}
	if base.IsZero() || !(Config{}).IsZero() {
		t.Fatalf("IsZero misreported")
	}
}

func TestMonitorAdd(t *testing.T) {
	maxCost := 5.0
	maxTokens := int64(1000)
	cfg := Config{MaxCost: &maxCost, MaxTokens: &maxTokens}
	mon := NewMonitor(cfg)
	if err := mon.Add(2.5, 400); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := mon.Add(3.0, 700)
	if err == nil {
		t.Fatalf("expected budget breach")
	}
	var exceeded ErrExceeded
	if !errors.As(err, &exceeded) {
		t.Fatalf("expected ErrExceeded, got %T", err)
	}
}

func TestMonitorExceeded(t *testing.T) {
	maxCost := 1.0
	mon := NewMonitor(Config{MaxCost: &maxCost})
	if err := mon.Exceeded(); err != nil {
		t.Fatalf("fresh monitor should be within budget: %v", err)
	}
	// Add reports the breach and Exceeded keeps reporting it
	if err := mon.Add(1.5, 10); err == nil {
		t.Fatalf("expected cost breach")
	}
	err := mon.Exceeded()
	var exceeded ErrExceeded
	if !errors.As(err, &exceeded) || exceeded.Kind != "cost" {
		t.Fatalf("expected cost ErrExceeded, got %v", err)
	}

	cost, tokens, _ := mon.Usage()
	if cost != 1.5 || tokens != 10 {
		t.Fatalf("usage = (%v, %v), want (1.5, 10)", cost, tokens)
	}
}

func TestMonitorTime(t *testing.T) {
	limit := int64(3600)
	mon := NewMonitor(Config{MaxTimeSeconds: &limit})
	if err := mon.CheckTime(); err != nil {
		t.Fatalf("well under the limit: %v", err)
	}
	zero := int64(0)
	mon = NewMonitor(Config{MaxTimeSeconds: &zero})
	if err := mon.CheckTime(); err != nil {
		t.Fatalf("zero limit means unlimited: %v", err)
	}
}
