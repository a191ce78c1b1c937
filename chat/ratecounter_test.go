package chat

import (
	"testing"
	"time"
)

func TestRateCounterCountsWithinWindow(t *testing.T) {
	rc := NewRateCounter(10 * time.Second)
	for i := 0; i < 20; i++ {
		rc.Observe(SourceLocal)
	}
	if rate := rc.GetRate(); rate != 2.0 {
		t.Errorf("got rate %f, want 2.0", rate)
	}
}

func TestRateCounterSeparatesSources(t *testing.T) {
	rc := NewRateCounter(10 * time.Second)
	for i := 0; i < 20; i++ {
		rc.Observe(SourceLocal)
	}
	for i := 0; i < 10; i++ {
		rc.Observe(SourceLora)
	}
	if rate := rc.SourceRate(SourceLocal); rate != 2.0 {
		t.Errorf("got local rate %f, want 2.0", rate)
	}
	if rate := rc.SourceRate(SourceLora); rate != 1.0 {
		t.Errorf("got lora rate %f, want 1.0", rate)
	}
	if rate := rc.GetRate(); rate != 3.0 {
		t.Errorf("got total rate %f, want 3.0", rate)
	}
}

func TestRateCounterForgetsOldObservations(t *testing.T) {
	rc := NewRateCounter(50 * time.Millisecond)
	rc.Observe(SourceLocal)
	rc.Observe(SourceLora)
	time.Sleep(80 * time.Millisecond)
	if rate := rc.GetRate(); rate != 0 {
		t.Errorf("got rate %f, want 0 after window passed", rate)
	}
	if rate := rc.SourceRate(SourceLora); rate != 0 {
		t.Errorf("got lora rate %f, want 0 after window passed", rate)
	}
}
