// Package simulation runs the scam training game: scripted caller
// rounds, turn-taking voice activity detection over the live input
// level, per-round transcription and a final transcript analysis.
package simulation

import (
	"time"

	"github.com/voiceguard/platform/internal/config"
)

// Phase is the per-round detection state.
type Phase string

const (
	PhaseWaitingForSpeech Phase = "waiting_for_speech"
	PhaseRecording        Phase = "recording"
	PhaseProcessing       Phase = "processing"
)

// Event is what one detector poll decided.
type Event int

const (
	EventNone Event = iota
	EventSpeechStarted
	EventInterruption // brief pause mid-answer, keep capturing
	EventTurnEnded    // sustained silence, the normal stop
	EventHardStop     // max recording ceiling reached
	EventWaitTimeout  // speech never started within the wait window
)

// VADConfig holds the turn-taking thresholds. Loudness values are on
// the raw 0-255 scale of the level meter, not the UI percentage.
type VADConfig struct {
	SpeechThreshold  int
	SilenceThreshold int
	SilenceDuration  time.Duration
	MaxRecording     time.Duration
	WaitTimeout      time.Duration
	PollInterval     time.Duration
}

// VADFromConfig lifts the platform configuration into VAD settings.
func VADFromConfig(cfg *config.Config) VADConfig {
	return VADConfig{
		SpeechThreshold:  cfg.SpeechThreshold,
		SilenceThreshold: cfg.SilenceThreshold,
		SilenceDuration:  cfg.SilenceDuration,
		MaxRecording:     cfg.MaxRecording,
		WaitTimeout:      cfg.WaitTimeout,
		PollInterval:     cfg.PollInterval,
	}
}

// Detector is the turn-taking state machine for one round. It is a
// pure time-fed core: callers sample the loudness and the clock and
// feed both to Tick, which makes it fully deterministic under test.
type Detector struct {
	cfg VADConfig

	phase        Phase
	startedAt    time.Time // round start, anchors the wait timeout
	speechAt     time.Time // recording start, anchors the hard ceiling
	lastSpeechAt time.Time
	silenceTicks int
}

// NewDetector starts a round's detection at the given instant.
func NewDetector(cfg VADConfig, now time.Time) *Detector {
	return &Detector{
		cfg:       cfg,
		phase:     PhaseWaitingForSpeech,
		startedAt: now,
	}
}

// Phase reports the current detection state.
func (d *Detector) Phase() Phase { return d.phase }

// SpeechDetected reports whether this round ever left the wait phase.
func (d *Detector) SpeechDetected() bool { return !d.speechAt.IsZero() }

// Tick advances the state machine one poll. level is the raw loudness
// sample at instant now. Once the detector reaches Processing, further
// ticks return EventNone.
func (d *Detector) Tick(level int, now time.Time) Event {
	switch d.phase {
	case PhaseWaitingForSpeech:
		return d.tickWaiting(level, now)
	case PhaseRecording:
		return d.tickRecording(level, now)
	default:
		return EventNone
	}
}

func (d *Detector) tickWaiting(level int, now time.Time) Event {
	if level > d.cfg.SpeechThreshold {
		d.phase = PhaseRecording
		d.speechAt = now
		d.lastSpeechAt = now
		d.silenceTicks = 0
		return EventSpeechStarted
	}
	if now.Sub(d.startedAt) > d.cfg.WaitTimeout {
		d.phase = PhaseProcessing
		return EventWaitTimeout
	}
	return EventNone
}

func (d *Detector) tickRecording(level int, now time.Time) Event {
	if now.Sub(d.speechAt) >= d.cfg.MaxRecording {
		d.phase = PhaseProcessing
		return EventHardStop
	}

	if level > d.cfg.SpeechThreshold {
		d.lastSpeechAt = now
		d.silenceTicks = 0
		return EventNone
	}

	if level < d.cfg.SilenceThreshold {
		d.silenceTicks++
		quiet := now.Sub(d.lastSpeechAt)
		if quiet > d.cfg.SilenceDuration {
			d.phase = PhaseProcessing
			return EventTurnEnded
		}
		if d.silenceTicks > interruptTicks && quiet < interruptWindow {
			return EventInterruption
		}
	}
	// Between the thresholds: neither speech nor silence, counters hold.
	return EventNone
}
