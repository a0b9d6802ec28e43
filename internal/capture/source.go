package capture

import (
	"context"
	"errors"
)

// Acquisition failures. PermissionDenied and DeviceUnavailable are fatal to
// starting a recording; the session stays on the current question and the
// user retries.
var (
	ErrPermissionDenied  = errors.New("media permission denied")
	ErrDeviceUnavailable = errors.New("media device unavailable")
)

// Constraints describe how the stream must be acquired. Browser-level audio
// enhancement is disabled so the gain boost can be applied uniformly after
// acquisition.
type Constraints struct {
	SampleRate       int
	Channels         int
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
	Video            bool
}

// DefaultConstraints returns the capture constraints used for rehearsal
// recordings: mono 16kHz audio with all browser processing off, plus video.
func DefaultConstraints(sampleRate int) Constraints {
	return Constraints{
		SampleRate: sampleRate,
		Channels:   1,
		Video:      true,
	}
}

// Stream is a live audio+video feed. Audio frames are raw little-endian
// 16-bit PCM at the constrained sample rate; video chunks are opaque
// container fragments. Both channels are closed when the stream ends.
type Stream interface {
	Audio() <-chan []byte
	Video() <-chan []byte
	// Close stops all tracks and releases the underlying device or
	// connection. Safe to call more than once.
	Close()
}

// Source is the stream-acquisition collaborator: given capture constraints it
// returns a live stream or fails. Acquire may block indefinitely pending user
// permission and must honor ctx cancellation.
type Source interface {
	Acquire(ctx context.Context, c Constraints) (Stream, error)
}
