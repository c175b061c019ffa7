package audio

import (
	"context"
	"math"
	"math/cmplx"
	"sync"
	"time"

	"github.com/voiceguard/platform/internal/syncx"
)

// LevelMeter derives a coarse loudness estimate from the live signal:
// a 256-point windowed FFT, per-bin magnitudes smoothed over time and
// scaled to bytes, averaged into a single 0-255 value. This mirrors the
// UI analyser so the VAD thresholds keep their original meaning.
type LevelMeter struct {
	fftSize   int
	smoothing float64
	window    []float64

	mu      sync.Mutex
	recent  []float32 // last fftSize samples fed
	bins    []float64 // smoothed magnitudes, fftSize/2 entries
	level   *syncx.RWGuard[int]
	stopCh  chan struct{}
	stopOne sync.Once
}

// NewLevelMeter creates a meter with the analyser defaults.
func NewLevelMeter() *LevelMeter {
	return newLevelMeter(AnalyserFFTSize, AnalyserSmoothing)
}

func newLevelMeter(fftSize int, smoothing float64) *LevelMeter {
	return &LevelMeter{
		fftSize:   fftSize,
		smoothing: smoothing,
		window:    blackman(fftSize),
		recent:    make([]float32, fftSize),
		bins:      make([]float64, fftSize/2),
		level:     syncx.NewGuard(0),
		stopCh:    make(chan struct{}),
	}
}

// Feed appends live samples; only the most recent fftSize are analysed.
func (m *LevelMeter) Feed(samples []float32) {
	if len(samples) == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(samples) >= m.fftSize {
		copy(m.recent, samples[len(samples)-m.fftSize:])
		return
	}
	keep := m.fftSize - len(samples)
	copy(m.recent, m.recent[len(m.recent)-keep:])
	copy(m.recent[keep:], samples)
}

// Measure recomputes the loudness estimate and returns the raw 0-255
// value. Bin magnitudes are smoothed with the analyser time constant,
// converted to dB, and byte-scaled over [-100,-30] dB.
func (m *LevelMeter) Measure() int {
	m.mu.Lock()

	buf := make([]complex128, m.fftSize)
	for i, s := range m.recent {
		buf[i] = complex(float64(s)*m.window[i], 0)
	}
	fft(buf)

	var sum float64
	for k := range m.bins {
		mag := cmplx.Abs(buf[k]) / float64(m.fftSize)
		m.bins[k] = m.smoothing*m.bins[k] + (1-m.smoothing)*mag
		sum += byteScale(m.bins[k])
	}
	m.mu.Unlock()

	raw := int(math.Round(sum / float64(len(m.bins))))
	m.level.Set(raw)
	return raw
}

// Raw returns the last measured loudness on the 0-255 scale.
func (m *LevelMeter) Raw() int { return m.level.Get() }

// Percent returns the last measurement normalized to 0-100.
func (m *LevelMeter) Percent() int {
	p := int(math.Round(float64(m.level.Get()) / 255 * 100))
	if p < 0 {
		p = 0
	} else if p > 100 {
		p = 100
	}
	return p
}

// Run measures on a fixed cadence until the context is cancelled or
// Stop is called. The loop owns no resources; it just stops.
func (m *LevelMeter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.Measure()
		}
	}
}

// Stop terminates any Run loop and zeroes the published level.
// Idempotent.
func (m *LevelMeter) Stop() {
	m.stopOne.Do(func() {
		close(m.stopCh)
		m.level.Set(0)
	})
}

// byteScale maps a magnitude to the analyser's 0-255 byte range via dB.
func byteScale(mag float64) float64 {
	if mag <= 0 {
		return 0
	}
	db := 20 * math.Log10(mag)
	v := (db - AnalyserMinDB) / (AnalyserMaxDB - AnalyserMinDB) * 255
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return v
}

// blackman returns the analyser window coefficients.
func blackman(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		x := 2 * math.Pi * float64(i) / float64(n-1)
		w[i] = 0.42 - 0.5*math.Cos(x) + 0.08*math.Cos(2*x)
	}
	return w
}

// fft is an in-place iterative radix-2 transform. fftSize is a fixed
// power of two, so no general-length handling is needed.
func fft(buf []complex128) {
	n := len(buf)

	// Bit-reversal permutation
	for i, j := 1, 0; i < n; i++ {
		bit := n >> 1
		for ; j&bit != 0; bit >>= 1 {
			j ^= bit
		}
		j |= bit
		if i < j {
			buf[i], buf[j] = buf[j], buf[i]
		}
	}

	for length := 2; length <= n; length <<= 1 {
		ang := -2 * math.Pi / float64(length)
		wl := cmplx.Exp(complex(0, ang))
		for start := 0; start < n; start += length {
			w := complex(1, 0)
			for k := 0; k < length/2; k++ {
				u := buf[start+k]
				v := buf[start+k+length/2] * w
				buf[start+k] = u + v
				buf[start+k+length/2] = u - v
				w *= wl
			}
		}
	}
}
