package simulation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voiceguard/platform/internal/audio"
	"github.com/voiceguard/platform/internal/backend"
	"github.com/voiceguard/platform/internal/config"
	"github.com/voiceguard/platform/internal/trace"
)

// Status is the game lifecycle phase shown to the UI.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Backend is the slice of the REST client the game needs.
type Backend interface {
	Scenario(ctx context.Context, id int) (*backend.Scenario, error)
	Transcribe(ctx context.Context, wav []byte, filename string) (string, error)
	AnalyzeTranscript(ctx context.Context, transcript string) (*backend.Analysis, error)
}

// Capture is a live microphone source for the game's lifetime.
type Capture interface {
	Start(ctx context.Context) error
	Stop()
	Output() <-chan audio.Chunk
	Spec() audio.CaptureSpec
}

// Deps supplies the runner's collaborators. Zero-value fields fall back
// to portaudio capture and the internal level meter.
type Deps struct {
	OpenCapture func() (Capture, error)
	Level       func() int // raw 0-255 loudness sampler
}

// Snapshot is a point-in-time view of the game for the UI feed.
type Snapshot struct {
	Status     Status            `json:"status"`
	GameID     string            `json:"game_id,omitempty"`
	Scenario   string            `json:"scenario,omitempty"`
	Round      int               `json:"round"`
	Rounds     int               `json:"rounds"`
	Phase      Phase             `json:"phase,omitempty"`
	Notice     string            `json:"notice,omitempty"`
	Transcript []string          `json:"transcript,omitempty"`
	Analysis   *backend.Analysis `json:"analysis,omitempty"`
}

// roundBuffer collects source-rate samples while a turn is being
// captured. The pump goroutine writes, the game loop flips activation.
type roundBuffer struct {
	mu      sync.Mutex
	active  bool
	samples []float32
}

func (b *roundBuffer) add(samples []float32) {
	b.mu.Lock()
	if b.active {
		b.samples = append(b.samples, samples...)
	}
	b.mu.Unlock()
}

func (b *roundBuffer) start() {
	b.mu.Lock()
	b.active = true
	b.samples = nil
	b.mu.Unlock()
}

func (b *roundBuffer) take() []float32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.active = false
	s := b.samples
	b.samples = nil
	return s
}

// Runner plays one scenario: for each round it waits for the player's
// spoken answer, segments it with the detector, transcribes it, and
// after the last round submits the whole transcript for analysis.
// Exactly one transcript line is produced per round, even on timeout
// or transcription failure.
type Runner struct {
	cfg     *config.Config
	vad     VADConfig
	backend Backend
	deps    Deps
	advance time.Duration

	mu         sync.Mutex
	status     Status
	gameID     string
	scenario   *backend.Scenario
	round      int
	phase      Phase
	notice     string
	transcript []string
	analysis   *backend.Analysis
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewRunner builds an idle runner.
func NewRunner(cfg *config.Config, b Backend, deps Deps) *Runner {
	if deps.OpenCapture == nil {
		deps.OpenCapture = func() (Capture, error) {
			spec, err := audio.Negotiate()
			if err != nil {
				return nil, err
			}
			return audio.NewCapturer(spec, captureBufferLen), nil
		}
	}
	return &Runner{
		cfg:     cfg,
		vad:     VADFromConfig(cfg),
		backend: b,
		deps:    deps,
		advance: advanceDelay,
		status:  StatusIdle,
	}
}

// Start launches the game in the background. It fails if one is
// already running.
func (r *Runner) Start(ctx context.Context, scenarioID int) error {
	r.mu.Lock()
	if r.status == StatusRunning {
		r.mu.Unlock()
		return fmt.Errorf("simulation already running")
	}
	gctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.status = StatusRunning
	r.gameID = uuid.NewString()
	r.round = 0
	r.phase = ""
	r.notice = ""
	r.transcript = nil
	r.analysis = nil
	r.scenario = nil
	done := make(chan struct{})
	r.done = done
	r.mu.Unlock()

	go func() {
		defer close(done)
		r.run(gctx, scenarioID)
	}()
	return nil
}

// Stop aborts a running game and waits for the loop to exit.
func (r *Runner) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	done := r.done
	r.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	r.mu.Lock()
	if r.status == StatusRunning {
		r.status = StatusIdle
		r.phase = ""
	}
	r.mu.Unlock()
}

// Snapshot returns the current game view.
func (r *Runner) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := Snapshot{
		Status:     r.status,
		GameID:     r.gameID,
		Round:      r.round,
		Phase:      r.phase,
		Notice:     r.notice,
		Transcript: append([]string(nil), r.transcript...),
		Analysis:   r.analysis,
	}
	if r.scenario != nil {
		s.Scenario = r.scenario.Title
		s.Rounds = len(r.scenario.Rounds)
	}
	return s
}

func (r *Runner) run(ctx context.Context, scenarioID int) {
	logger := trace.Logger(ctx).With("game", r.gameID)

	scenario, err := r.backend.Scenario(ctx, scenarioID)
	if err != nil {
		logger.Error("scenario fetch failed", "id", scenarioID, "error", err)
		r.finish(StatusError, fmt.Sprintf("scenario unavailable: %v", err))
		return
	}
	if len(scenario.Rounds) == 0 {
		r.finish(StatusError, "scenario has no rounds")
		return
	}
	r.mu.Lock()
	r.scenario = scenario
	r.mu.Unlock()

	capture, err := r.deps.OpenCapture()
	if err != nil {
		logger.Error("microphone unavailable", "error", err)
		r.finish(StatusError, fmt.Sprintf("microphone unavailable: %v", err))
		return
	}
	if err := capture.Start(ctx); err != nil {
		logger.Error("capture start failed", "error", err)
		r.finish(StatusError, fmt.Sprintf("capture failed: %v", err))
		return
	}
	defer capture.Stop()

	meter := audio.NewLevelMeter()
	defer meter.Stop()
	go meter.Run(ctx, r.vad.PollInterval)

	level := r.deps.Level
	if level == nil {
		level = meter.Raw
	}

	buf := &roundBuffer{}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case chunk, ok := <-capture.Output():
				if !ok {
					return
				}
				meter.Feed(chunk.Data)
				buf.add(chunk.Data)
			}
		}
	}()

	for i, round := range scenario.Rounds {
		n := i + 1
		r.setRound(n, round.Question)
		if !r.playRound(ctx, n, capture.Spec().SourceRate, level, buf, logger) {
			return // context gone, Stop owns the status
		}
		if !sleepCtx(ctx, r.advance) {
			return
		}
	}

	full := strings.Join(r.Snapshot().Transcript, "\n")
	analysis, err := r.backend.AnalyzeTranscript(ctx, full)
	if err != nil {
		logger.Error("transcript analysis failed", "error", err)
		r.finish(StatusCompleted, fmt.Sprintf("analysis unavailable: %v", err))
		return
	}
	r.mu.Lock()
	r.analysis = analysis
	r.mu.Unlock()
	r.finish(StatusCompleted, "")
	logger.Info("simulation completed", "score", analysis.Score, "risk", analysis.RiskLevel)
}

// playRound runs the detector until the round yields its one transcript
// line. Returns false only when the context was cancelled mid-round.
func (r *Runner) playRound(ctx context.Context, n, sourceRate int, level func() int, buf *roundBuffer, logger *slog.Logger) bool {
	detector := NewDetector(r.vad, time.Now())
	r.setPhase(PhaseWaitingForSpeech)

	ticker := time.NewTicker(r.vad.PollInterval)
	defer ticker.Stop()

	// The hard ceiling runs on its own timer so a wedged poll loop can
	// never extend a recording past MaxRecording.
	var hardStop <-chan time.Time
	var hardTimer *time.Timer
	defer func() {
		if hardTimer != nil {
			hardTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-hardStop:
			r.finalizeAnswer(ctx, n, sourceRate, buf)
			return true
		case now := <-ticker.C:
			switch detector.Tick(level(), now) {
			case EventSpeechStarted:
				buf.start()
				hardTimer = time.NewTimer(r.vad.MaxRecording)
				hardStop = hardTimer.C
				r.setPhase(PhaseRecording)
			case EventInterruption:
				r.setNotice("interrupted, please continue")
			case EventTurnEnded, EventHardStop:
				r.finalizeAnswer(ctx, n, sourceRate, buf)
				return true
			case EventWaitTimeout:
				logger.Warn("round timed out waiting for speech", "round", n)
				r.appendLine(fmt.Sprintf("A%d: %s", n, timeoutAnswer))
				r.setPhase(PhaseProcessing)
				return true
			}
		}
	}
}

// finalizeAnswer converts the captured segment, transcribes it, and
// appends the round's answer line.
func (r *Runner) finalizeAnswer(ctx context.Context, n, sourceRate int, buf *roundBuffer) {
	r.setPhase(PhaseProcessing)
	samples := buf.take()

	pcm, err := audio.ConvertBlock(samples, sourceRate, r.cfg.TargetRate)
	if err != nil || len(pcm) == 0 {
		r.appendLine(fmt.Sprintf("A%d: %s", n, emptyAnswer))
		return
	}
	wav := audio.EncodeWAV(audio.Frame{PCM: pcm}.Bytes(), r.cfg.TargetRate, 16, 1)

	text, err := r.backend.Transcribe(ctx, wav, fmt.Sprintf("round_%d.wav", n))
	switch {
	case err != nil:
		r.appendLine(fmt.Sprintf("A%d: (transcription failed: %v)", n, err))
	case strings.TrimSpace(text) == "":
		r.appendLine(fmt.Sprintf("A%d: %s", n, emptyAnswer))
	default:
		r.appendLine(fmt.Sprintf("A%d: %s", n, text))
	}
}

func (r *Runner) setRound(n int, question string) {
	r.mu.Lock()
	r.round = n
	r.notice = ""
	r.transcript = append(r.transcript, fmt.Sprintf("Q%d: %s", n, question))
	r.mu.Unlock()
}

func (r *Runner) setPhase(p Phase) {
	r.mu.Lock()
	r.phase = p
	r.mu.Unlock()
}

func (r *Runner) setNotice(s string) {
	r.mu.Lock()
	r.notice = s
	r.mu.Unlock()
}

func (r *Runner) appendLine(line string) {
	r.mu.Lock()
	r.transcript = append(r.transcript, line)
	r.mu.Unlock()
}

func (r *Runner) finish(status Status, notice string) {
	r.mu.Lock()
	r.status = status
	r.phase = ""
	if notice != "" {
		r.notice = notice
	}
	r.mu.Unlock()
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
