package audio

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
)

// Chunk represents a captured audio chunk.
type Chunk struct {
	Data      []float32
	Timestamp int64
}

// Capturer captures mono audio from the microphone with drop-on-full
// backpressure: real-time analysis has no use for stale samples.
type Capturer struct {
	spec     CaptureSpec
	outCh    chan Chunk
	mu       sync.Mutex
	stream   *portaudio.Stream
	cancel   context.CancelFunc
	running  bool
	stopOnce sync.Once
}

// NewCapturer creates a capturer for the negotiated spec.
func NewCapturer(spec CaptureSpec, bufferSize int) *Capturer {
	return &Capturer{
		spec:  spec,
		outCh: make(chan Chunk, bufferSize),
	}
}

// Spec returns the negotiated capture configuration.
func (c *Capturer) Spec() CaptureSpec { return c.spec }

// Output returns the channel for receiving audio chunks.
func (c *Capturer) Output() <-chan Chunk { return c.outCh }

// Start opens the default input device and begins the read loop.
func (c *Capturer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}

	dev, err := portaudio.DefaultInputDevice()
	if err != nil {
		return err
	}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: c.spec.Channels,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(c.spec.SourceRate),
		FramesPerBuffer: c.spec.FramesPerBuffer,
	}

	buf := make([]float32, c.spec.FramesPerBuffer)
	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		return err
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return err
	}

	capCtx, cancel := context.WithCancel(ctx)
	c.stream = stream
	c.cancel = cancel
	c.running = true

	slog.Info("started audio capture", "device", dev.Name, "rate", c.spec.SourceRate)

	go func() {
		for {
			select {
			case <-capCtx.Done():
				return
			default:
			}

			if err := stream.Read(); err != nil {
				slog.Debug("audio read error", "error", err)
				return
			}

			chunk := Chunk{
				Data:      append([]float32(nil), buf...),
				Timestamp: time.Now().UnixNano(),
			}

			select {
			case c.outCh <- chunk:
			default:
				slog.Debug("audio buffer full, dropping chunk")
			}
		}
	}()

	return nil
}

// Stop halts capture and releases the device. Safe to call twice, and
// safe to call when Start never ran.
func (c *Capturer) Stop() {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		defer c.mu.Unlock()

		if c.cancel != nil {
			c.cancel()
		}
		if c.stream != nil {
			_ = c.stream.Stop()
			_ = c.stream.Close()
			c.stream = nil
		}
		c.running = false
		_ = portaudio.Terminate()
	})
}
