// Package config handles platform configuration
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr       string
	AnalysisWS     string // websocket endpoint of the analysis backend
	BackendURL     string // REST base URL for STT/analysis/scenario calls
	ChunkMs        int    // audio frame duration sent to the backend
	TargetRate     int    // sample rate of transmitted audio
	RetainScore    int    // minimum risk score that keeps the recording
	BackendTimeout time.Duration

	// Turn-taking VAD defaults for simulation mode
	SpeechThreshold  int           // raw loudness (0-255) that starts a turn
	SilenceThreshold int           // raw loudness (0-255) counted as silence
	SilenceDuration  time.Duration // silence that ends a turn
	MaxRecording     time.Duration // hard ceiling per answer
	WaitTimeout      time.Duration // max wait for speech onset
	PollInterval     time.Duration
}

func Load() *Config {
	// A missing .env is fine; real env vars win either way.
	_ = godotenv.Load()

	return &Config{
		HTTPAddr:       getEnv("HTTP_ADDR", ":8000"),
		AnalysisWS:     getEnv("ANALYSIS_WS_URL", "ws://localhost:8080/ws/analysis"),
		BackendURL:     getEnv("BACKEND_URL", "http://localhost:8080"),
		ChunkMs:        getEnvInt("CHUNK_MS", 500),
		TargetRate:     getEnvInt("TARGET_SAMPLE_RATE", 16000),
		RetainScore:    getEnvInt("RETAIN_RISK_SCORE", 50),
		BackendTimeout: getEnvDuration("BACKEND_TIMEOUT", 30*time.Second),

		SpeechThreshold:  getEnvInt("VAD_SPEECH_THRESHOLD", 30),
		SilenceThreshold: getEnvInt("VAD_SILENCE_THRESHOLD", 20),
		SilenceDuration:  getEnvDuration("VAD_SILENCE_DURATION", 2*time.Second),
		MaxRecording:     getEnvDuration("VAD_MAX_RECORDING", 20*time.Second),
		WaitTimeout:      getEnvDuration("VAD_WAIT_TIMEOUT", 30*time.Second),
		PollInterval:     getEnvDuration("VAD_POLL_INTERVAL", 100*time.Millisecond),
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
