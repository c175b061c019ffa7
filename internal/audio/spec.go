package audio

import (
	"fmt"

	"github.com/gordonklaus/portaudio"
)

// CaptureSpec is the capability record negotiated once at controller
// construction. Everything downstream consumes it as-is; nothing
// re-detects capabilities mid-stream.
type CaptureSpec struct {
	DeviceName       string
	SourceRate       int
	Channels         int
	EchoCancellation bool
	NoiseSuppression bool
	FramesPerBuffer  int
}

// Negotiate probes the default input device and fixes the acquisition
// constraints for the session: mono, echo cancellation and noise
// suppression requested, source rate from the device (48kHz fallback).
func Negotiate() (CaptureSpec, error) {
	if err := portaudio.Initialize(); err != nil {
		return CaptureSpec{}, fmt.Errorf("audio init: %w", err)
	}

	dev, err := portaudio.DefaultInputDevice()
	if err != nil {
		_ = portaudio.Terminate()
		return CaptureSpec{}, fmt.Errorf("no input device: %w", err)
	}

	rate := int(dev.DefaultSampleRate)
	if rate <= 0 {
		rate = DefaultSourceRate
	}

	return CaptureSpec{
		DeviceName:       dev.Name,
		SourceRate:       rate,
		Channels:         1,
		EchoCancellation: true,
		NoiseSuppression: true,
		FramesPerBuffer:  FramesPerBuffer,
	}, nil
}
