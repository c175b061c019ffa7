// Package session runs the live-analysis lifecycle: capture wired
// through the resampler into the analysis channel, with a running risk
// accumulator and an optional retained recording.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voiceguard/platform/internal/analysis"
	"github.com/voiceguard/platform/internal/audio"
	"github.com/voiceguard/platform/internal/config"
	"github.com/voiceguard/platform/internal/syncx"
	"github.com/voiceguard/platform/internal/trace"
	"github.com/voiceguard/platform/internal/transport"
)

// State is the live-analysis lifecycle phase.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateActive     State = "active"
	StateError      State = "error"
)

// Transport is the outbound side of the analysis connection.
type Transport interface {
	Open(ctx context.Context, url string) error
	Send(frame audio.Frame)
	Close()
}

// Capture is a live microphone source.
type Capture interface {
	Start(ctx context.Context) error
	Stop()
	Output() <-chan audio.Chunk
	Spec() audio.CaptureSpec
}

// Deps supplies the controller's collaborators. Zero-value fields fall
// back to the real websocket channel and portaudio capture.
type Deps struct {
	DialChannel func(transport.Events) Transport
	OpenCapture func() (Capture, error)
}

func (d Deps) withDefaults() Deps {
	if d.DialChannel == nil {
		d.DialChannel = func(ev transport.Events) Transport {
			return transport.NewChannel(ev)
		}
	}
	if d.OpenCapture == nil {
		d.OpenCapture = func() (Capture, error) {
			spec, err := audio.Negotiate()
			if err != nil {
				return nil, err
			}
			return audio.NewCapturer(spec, 16), nil
		}
	}
	return d
}

// Controller owns one live-analysis session at a time: the transport
// channel, the recording buffer and the accumulator live and die with
// it. Start and Stop are safe to call from any goroutine.
type Controller struct {
	cfg  *config.Config
	deps Deps

	acc *analysis.Accumulator
	log *analysis.Log

	mu        sync.Mutex
	state     State
	gen       uint64 // bumped by Start and Stop; stale starts abort
	sessionID string
	channel   Transport
	capture   Capture
	meter     *audio.LevelMeter
	recording *RecordingBuffer
	retained  []byte
	cancel    context.CancelFunc

	elapsed     *syncx.RWGuard[int]
	elapsedTick time.Duration
}

// NewController builds an idle controller.
func NewController(cfg *config.Config, deps Deps) *Controller {
	return &Controller{
		cfg:         cfg,
		deps:        deps.withDefaults(),
		acc:         analysis.NewAccumulator(),
		log:         analysis.NewLog(),
		state:       StateIdle,
		elapsed:     syncx.NewGuard(0),
		elapsedTick: time.Second,
	}
}

// Start brings the session to Active: opens the analysis channel, then
// the microphone, then wires capture through the resampler into both
// the channel and the recording buffer. Any failure rolls back what was
// already acquired and leaves the controller in Error; a later Start
// always retries from scratch.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnecting || c.state == StateActive {
		c.mu.Unlock()
		return fmt.Errorf("session already running")
	}
	c.state = StateConnecting
	c.gen++
	gen := c.gen
	c.sessionID = uuid.NewString()
	id := c.sessionID
	c.mu.Unlock()

	c.acc.Reset()
	c.log.Reset()
	c.elapsed.Set(0)

	logger := trace.Logger(ctx).With("session", id)
	logger.Info("session starting")

	sctx, cancel := context.WithCancel(ctx)

	// Publish the cancel before any blocking step so a concurrent Stop
	// can abort the dial in flight.
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	channel := c.deps.DialChannel(transport.Events{
		OnUpdate: c.onUpdate,
		OnError:  c.onBackendError,
		OnRaw:    c.onRaw,
		OnClosed: c.onClosed,
	})
	if err := channel.Open(sctx, c.cfg.AnalysisWS); err != nil {
		cancel()
		c.fail(gen, logger, err)
		return fmt.Errorf("open analysis channel: %w", err)
	}

	capture, err := c.deps.OpenCapture()
	if err != nil {
		channel.Close()
		cancel()
		c.fail(gen, logger, err)
		return fmt.Errorf("acquire microphone: %w", err)
	}
	if err := capture.Start(sctx); err != nil {
		channel.Close()
		cancel()
		c.fail(gen, logger, err)
		return fmt.Errorf("start capture: %w", err)
	}

	recording := NewRecordingBuffer()
	resampler, err := audio.NewResampler(capture.Spec().SourceRate, c.cfg.TargetRate, c.cfg.ChunkMs, func(f audio.Frame) {
		recording.Append(f)
		channel.Send(f)
	})
	if err != nil {
		capture.Stop()
		channel.Close()
		cancel()
		c.fail(gen, logger, err)
		return fmt.Errorf("configure resampler: %w", err)
	}

	meter := audio.NewLevelMeter()

	c.mu.Lock()
	if c.gen != gen {
		// A Stop landed while this start was still acquiring resources;
		// it could not see them, so they are released here.
		c.mu.Unlock()
		cancel()
		capture.Stop()
		channel.Close()
		logger.Info("session start aborted by stop")
		return fmt.Errorf("session stopped during start")
	}
	c.channel = channel
	c.capture = capture
	c.meter = meter
	c.recording = recording
	c.retained = nil
	c.cancel = cancel
	c.state = StateActive
	c.mu.Unlock()

	go c.pump(sctx, capture, resampler, meter)
	go meter.Run(sctx, audio.LevelRefreshInterval)
	go c.tickElapsed(sctx, c.elapsedTick)
	go func() {
		// Abandonment path: a dying parent context must release the
		// microphone and socket even if nobody calls Stop.
		<-sctx.Done()
		c.teardown()
	}()

	logger.Info("session active", "device", capture.Spec().DeviceName)
	return nil
}

// Stop ends the session and settles the recording: the risk score is
// read before teardown, and the buffer is kept as a WAV blob only when
// that score reaches the retain threshold. Idempotent from any state.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.state == StateIdle {
		c.mu.Unlock()
		return
	}
	c.gen++ // an in-flight Start must not complete into Active
	score := c.acc.Score()
	recording := c.recording
	c.recording = nil
	c.mu.Unlock()

	c.teardown()

	c.mu.Lock()
	if recording != nil {
		if score >= c.cfg.RetainScore {
			c.retained = recording.Flush(c.cfg.TargetRate)
		} else {
			recording.Discard()
		}
	}
	c.state = StateIdle
	c.mu.Unlock()
}

// teardown releases every live resource. Each step is independently
// guarded; running it twice, or with resources never acquired, is fine.
func (c *Controller) teardown() {
	c.mu.Lock()
	channel := c.channel
	capture := c.capture
	meter := c.meter
	cancel := c.cancel
	c.channel = nil
	c.capture = nil
	c.meter = nil
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if capture != nil {
		capture.Stop()
	}
	if meter != nil {
		meter.Stop()
	}
	if channel != nil {
		channel.Close()
	}
}

// fail records a start failure unless a concurrent Stop already moved
// the session on; a stale start must not overwrite Idle with Error.
func (c *Controller) fail(gen uint64, logger *slog.Logger, err error) {
	c.mu.Lock()
	if c.gen == gen {
		c.state = StateError
		c.cancel = nil
	}
	c.mu.Unlock()
	logger.Error("session start failed", "error", err)
}

// pump moves captured audio into the meter and the resampler. Frames
// leave the resampler in production order because Push emits them
// synchronously on this goroutine.
func (c *Controller) pump(ctx context.Context, capture Capture, resampler *audio.Resampler, meter *audio.LevelMeter) {
	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-capture.Output():
			if !ok {
				return
			}
			meter.Feed(chunk.Data)
			resampler.Push(chunk.Data)
		}
	}
}

func (c *Controller) tickElapsed(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.elapsed.Update(func(s *int) { *s++ })
		}
	}
}

func (c *Controller) onUpdate(m transport.Message) {
	c.log.Append(m.LogLine())
	if !m.IsFinal {
		return
	}
	score, ok := m.Score()
	if !ok {
		return
	}
	c.acc.Apply(analysis.Update{
		RiskScore: score,
		RiskLevel: analysis.Level(m.RiskLevel),
		Reason:    m.AnalysisReason,
		Keywords:  m.DetectedKeywords,
	})
}

func (c *Controller) onBackendError(msg string) {
	c.log.Append("[ERROR] " + msg)
}

func (c *Controller) onRaw(raw string) {
	c.log.Append("[RAW] " + raw)
}

// onClosed handles the channel dying underneath an active session.
func (c *Controller) onClosed(err error) {
	if err == nil {
		return
	}
	c.mu.Lock()
	wasActive := c.state == StateActive
	if wasActive {
		c.state = StateError
	}
	c.mu.Unlock()
	if wasActive {
		c.log.Append("[ERROR] connection lost: " + err.Error())
		c.teardown()
	}
}

// State reports the current lifecycle phase.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionID returns the id of the current or most recent session.
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Level reports the live input level as a 0-100 percentage; zero
// outside Active.
func (c *Controller) Level() int {
	c.mu.Lock()
	meter := c.meter
	active := c.state == StateActive
	c.mu.Unlock()
	if !active || meter == nil {
		return 0
	}
	return meter.Percent()
}

// Elapsed reports whole seconds since the session went Active.
func (c *Controller) Elapsed() int {
	return c.elapsed.Get()
}

// Result returns the accumulated risk view of the session.
func (c *Controller) Result() analysis.Result {
	return c.acc.Snapshot()
}

// LogLines returns the running analysis log.
func (c *Controller) LogLines() []string {
	return c.log.Lines()
}

// LogEvents exposes the live log feed for broadcast.
func (c *Controller) LogEvents() <-chan analysis.LogEntry {
	return c.log.Events()
}

// Retained returns the WAV blob kept from the last stopped session, or
// nil when the recording was discarded.
func (c *Controller) Retained() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retained
}
