package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Frame is one encoded audio frame: exactly chunkSamples of mono int16
// PCM at the target rate. Immutable once emitted; the emitter hands it
// to exactly one consumer and never reuses the backing slice.
type Frame struct {
	PCM []int16
}

// Bytes serializes the frame as little-endian int16, the wire format of
// the analysis backend.
func (f Frame) Bytes() []byte {
	out := make([]byte, len(f.PCM)*BytesPerSample)
	for i, s := range f.PCM {
		binary.LittleEndian.PutUint16(out[i*BytesPerSample:], uint16(s))
	}
	return out
}

// DecodeFrame parses little-endian int16 bytes back into samples.
func DecodeFrame(b []byte) ([]int16, error) {
	if len(b)%BytesPerSample != 0 {
		return nil, fmt.Errorf("frame length %d not sample-aligned", len(b))
	}
	out := make([]int16, len(b)/BytesPerSample)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*BytesPerSample:]))
	}
	return out, nil
}

// Resampler converts the native-rate float32 signal into fixed-size
// int16 frames at the target rate. Downsampling is block-averaging
// decimation: cheap anti-aliasing adequate for speech, not hi-fi.
type Resampler struct {
	ratio        float64
	chunkSamples int
	carry        []float32 // target-rate samples not yet framing a full chunk
	onFrame      func(Frame)
}

// NewResampler creates a resampler emitting chunkMs frames at targetRate.
// onFrame is invoked synchronously for each completed frame, in order.
func NewResampler(sourceRate, targetRate, chunkMs int, onFrame func(Frame)) (*Resampler, error) {
	if sourceRate <= 0 || targetRate <= 0 || sourceRate < targetRate {
		return nil, fmt.Errorf("invalid rates %d -> %d", sourceRate, targetRate)
	}
	if chunkMs <= 0 {
		return nil, fmt.Errorf("invalid chunk duration %dms", chunkMs)
	}
	return &Resampler{
		ratio:        float64(sourceRate) / float64(targetRate),
		chunkSamples: targetRate * chunkMs / 1000,
		onFrame:      onFrame,
	}, nil
}

// ChunkSamples returns the fixed frame length in samples.
func (r *Resampler) ChunkSamples() int { return r.chunkSamples }

// Push processes one capture block. Emits zero or more complete frames;
// any remainder below a full chunk is carried into the next call and
// never dropped. Empty input is a no-op.
func (r *Resampler) Push(samples []float32) {
	if len(samples) == 0 {
		return
	}

	r.carry = append(r.carry, r.downsample(samples)...)

	for len(r.carry) >= r.chunkSamples {
		frame := Frame{PCM: quantize(r.carry[:r.chunkSamples])}
		r.carry = append(r.carry[:0:0], r.carry[r.chunkSamples:]...)
		if r.onFrame != nil {
			r.onFrame(frame)
		}
	}
}

// Pending returns how many target-rate samples are carried over.
func (r *Resampler) Pending() int { return len(r.carry) }

// ConvertBlock downsamples and quantizes a complete segment in one
// pass, for callers that finalize a whole recording at once instead of
// streaming fixed-size frames.
func ConvertBlock(samples []float32, sourceRate, targetRate int) ([]int16, error) {
	if sourceRate <= 0 || targetRate <= 0 || sourceRate < targetRate {
		return nil, fmt.Errorf("invalid rates %d -> %d", sourceRate, targetRate)
	}
	r := &Resampler{ratio: float64(sourceRate) / float64(targetRate)}
	return quantize(r.downsample(samples)), nil
}

// downsample averages all source samples mapping to each output
// position [i*ratio, (i+1)*ratio), with floor boundaries.
func (r *Resampler) downsample(in []float32) []float32 {
	outLen := int(float64(len(in)) / r.ratio)
	out := make([]float32, outLen)
	pos := 0
	for i := 0; i < outLen; i++ {
		next := int(math.Floor(float64(i+1) * r.ratio))
		if next > len(in) {
			next = len(in)
		}
		var sum float32
		cnt := 0
		for ; pos < next; pos++ {
			sum += in[pos]
			cnt++
		}
		if cnt > 0 {
			out[i] = sum / float32(cnt)
		}
	}
	return out
}

// quantize clamps to [-1,1] and scales to int16. The asymmetric mapping
// (32768 negative, 32767 non-negative) matches the backend's decoder.
func quantize(in []float32) []int16 {
	out := make([]int16, len(in))
	for i, s := range in {
		if s < -1 {
			s = -1
		} else if s > 1 {
			s = 1
		}
		if s < 0 {
			out[i] = int16(s * 32768)
		} else {
			out[i] = int16(s * 32767)
		}
	}
	return out
}
