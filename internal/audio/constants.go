// Package audio handles microphone capture and the streaming encode path
package audio

import "time"

// Audio pipeline constants
const (
	// Transmission format expected by the analysis backend
	TargetSampleRate = 16000
	ChunkDurationMs  = 500
	BytesPerSample   = 2 // int16 little-endian

	// Capture defaults
	DefaultSourceRate = 48000
	FramesPerBuffer   = 1024 // ~21ms at 48kHz

	// Analyser configuration, mirroring the UI level meter
	AnalyserFFTSize   = 256
	AnalyserSmoothing = 0.8
	AnalyserMinDB     = -100.0
	AnalyserMaxDB     = -30.0

	// Level meter refresh cadence (display-rate equivalent)
	LevelRefreshInterval = 16 * time.Millisecond
)
