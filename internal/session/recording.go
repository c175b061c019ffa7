package session

import (
	"sync"

	"github.com/voiceguard/platform/internal/audio"
)

// RecordingBuffer accumulates the encoded frames of one live session in
// production order. The owning controller decides at stop time whether
// the buffer becomes a WAV blob or is discarded.
type RecordingBuffer struct {
	mu     sync.Mutex
	chunks [][]byte
	bytes  int
}

func NewRecordingBuffer() *RecordingBuffer {
	return &RecordingBuffer{}
}

// Append stores a copy of the frame's PCM bytes. Frames keep FIFO order.
func (r *RecordingBuffer) Append(frame audio.Frame) {
	data := frame.Bytes()
	r.mu.Lock()
	r.chunks = append(r.chunks, data)
	r.bytes += len(data)
	r.mu.Unlock()
}

// Len reports the number of buffered frames.
func (r *RecordingBuffer) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.chunks)
}

// Flush concatenates all frames into a single WAV blob and empties the
// buffer. Returns nil when nothing was recorded.
func (r *RecordingBuffer) Flush(sampleRate int) []byte {
	r.mu.Lock()
	chunks := r.chunks
	total := r.bytes
	r.chunks = nil
	r.bytes = 0
	r.mu.Unlock()

	if total == 0 {
		return nil
	}
	pcm := make([]byte, 0, total)
	for _, c := range chunks {
		pcm = append(pcm, c...)
	}
	return audio.EncodeWAV(pcm, sampleRate, 16, 1)
}

// Discard drops everything buffered so far.
func (r *RecordingBuffer) Discard() {
	r.mu.Lock()
	r.chunks = nil
	r.bytes = 0
	r.mu.Unlock()
}
