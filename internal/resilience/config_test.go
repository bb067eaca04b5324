package resilience

import (
	"testing"
	"time"
)

func TestFromSettings_ZeroKeepsForever(t *testing.T) {
	cfg := FromSettings(0, 0, 0, 0, 0)
	if !cfg.Unlimited() {
		t.Error("expected unlimited attempts")
	}
	if cfg.InitialBackoff != time.Second || cfg.MaxBackoff != time.Second {
		t.Errorf("expected fixed 1s backoff, got %v/%v", cfg.InitialBackoff, cfg.MaxBackoff)
	}
}

func TestFromSettings_Capped(t *testing.T) {
	cfg := FromSettings(5, 250, 4000, 2, 0.1)
	if cfg.MaxAttempts != 5 {
		t.Errorf("expected 5 attempts, got %d", cfg.MaxAttempts)
	}
	if cfg.InitialBackoff != 250*time.Millisecond {
		t.Errorf("expected 250ms, got %v", cfg.InitialBackoff)
	}
	if cfg.MaxBackoff != 4*time.Second {
		t.Errorf("expected 4s, got %v", cfg.MaxBackoff)
	}
	if cfg.Multiplier != 2 || cfg.JitterFraction != 0.1 {
		t.Errorf("unexpected multiplier/jitter %v/%v", cfg.Multiplier, cfg.JitterFraction)
	}
}

func TestFromSettings_InitialAboveDefaultMax(t *testing.T) {
	cfg := FromSettings(0, 5000, 0, 0, 0)
	if cfg.MaxBackoff != 5*time.Second {
		t.Errorf("expected max backoff raised to 5s, got %v", cfg.MaxBackoff)
	}
}
