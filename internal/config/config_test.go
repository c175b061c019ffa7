package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.TargetRate != 16000 {
		t.Errorf("TargetRate = %d, want 16000", cfg.TargetRate)
	}
	if cfg.ChunkMs != 500 {
		t.Errorf("ChunkMs = %d, want 500", cfg.ChunkMs)
	}
	if cfg.RetainScore != 50 {
		t.Errorf("RetainScore = %d, want 50", cfg.RetainScore)
	}
	if cfg.PollInterval != 100*time.Millisecond {
		t.Errorf("PollInterval = %v, want 100ms", cfg.PollInterval)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("TARGET_SAMPLE_RATE", "8000")
	t.Setenv("VAD_SILENCE_DURATION", "3s")
	t.Setenv("ANALYSIS_WS_URL", "ws://example.com/ws")

	cfg := Load()

	if cfg.TargetRate != 8000 {
		t.Errorf("TargetRate = %d, want 8000", cfg.TargetRate)
	}
	if cfg.SilenceDuration != 3*time.Second {
		t.Errorf("SilenceDuration = %v, want 3s", cfg.SilenceDuration)
	}
	if cfg.AnalysisWS != "ws://example.com/ws" {
		t.Errorf("AnalysisWS = %q", cfg.AnalysisWS)
	}
}

func TestLoadInvalidValuesFallBack(t *testing.T) {
	t.Setenv("CHUNK_MS", "not-a-number")
	t.Setenv("VAD_WAIT_TIMEOUT", "soon")

	cfg := Load()

	if cfg.ChunkMs != 500 {
		t.Errorf("ChunkMs = %d, want default 500", cfg.ChunkMs)
	}
	if cfg.WaitTimeout != 30*time.Second {
		t.Errorf("WaitTimeout = %v, want default 30s", cfg.WaitTimeout)
	}
}
