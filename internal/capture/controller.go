package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Configuration errors, rejected synchronously.
var (
	ErrInvalidDuration = errors.New("capture duration must be positive")
	ErrNotPreviewing   = errors.New("capture not in previewing state")
	ErrAlreadyOpen     = errors.New("capture stream already acquired")
)

// State is the capture controller lifecycle state.
type State string

const (
	StateIdle       State = "idle"
	StateRequesting State = "requesting"
	StatePreviewing State = "previewing"
	StateRecording  State = "recording"
	StateFinalizing State = "finalizing"
)

// Artifact is one finished media blob.
type Artifact struct {
	Data []byte
	MIME string
}

// Artifacts are the two independently encoded outputs of a capture: a video
// container blob and a high-bitrate audio blob.
type Artifacts struct {
	Audio Artifact
	Video Artifact
}

// CompleteFunc receives the finished artifacts when finalization ends. It is
// never invoked after Close(); that is the stale-result guard.
type CompleteFunc func(Artifacts)

// Options configure a capture controller.
type Options struct {
	Constraints  Constraints
	GainBoost    float64 // applied to audio samples post-acquisition
	AudioBitrate int     // target bitrate recorded on the audio artifact recorder
	Log          zerolog.Logger
}

// Controller drives one bounded-duration audio+video capture. It owns the
// stream exclusively for the lifetime of a question's recording; the stream
// is fully released before the next controller instance acquires a new one.
//
// State machine: Idle → Requesting → Previewing → Recording → Finalizing → Idle.
type Controller struct {
	source Source
	opts   Options
	log    zerolog.Logger

	mu      sync.Mutex
	state   State
	stream  Stream
	torn    bool
	stopped chan struct{} // signals recorders to stop appending
	timer   *time.Timer

	audioChunks [][]byte
	videoChunks [][]byte
	recWG       sync.WaitGroup
	finalizeOne sync.Once
	onComplete  CompleteFunc
}

// NewController creates an idle capture controller.
func NewController(source Source, opts Options) *Controller {
	if opts.GainBoost == 0 {
		opts.GainBoost = 1.0
	}
	return &Controller{
		source: source,
		opts:   opts,
		state:  StateIdle,
		log:    opts.Log.With().Str("component", "capture").Logger(),
	}
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Open acquires the media stream: Idle → Requesting → Previewing. On failure
// the controller returns to Idle with the acquisition error surfaced.
func (c *Controller) Open(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrAlreadyOpen
	}
	c.state = StateRequesting
	c.mu.Unlock()

	stream, err := c.source.Acquire(ctx, c.opts.Constraints)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.torn {
		if stream != nil {
			stream.Close()
		}
		return context.Canceled
	}
	if err != nil {
		c.state = StateIdle
		return fmt.Errorf("acquire stream: %w", err)
	}
	c.stream = stream
	c.state = StatePreviewing
	c.log.Debug().Msg("stream acquired, previewing")
	return nil
}

// Start begins recording for at most the given duration. The duration is a
// hard upper bound: recording stops automatically when it elapses even if
// Stop is never called. onComplete receives the finished artifacts.
func (c *Controller) Start(duration time.Duration, onComplete CompleteFunc) error {
	if duration <= 0 {
		return fmt.Errorf("duration %s: %w", duration, ErrInvalidDuration)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StatePreviewing {
		return fmt.Errorf("state %s: %w", c.state, ErrNotPreviewing)
	}

	c.state = StateRecording
	c.onComplete = onComplete
	c.audioChunks = nil
	c.videoChunks = nil
	c.stopped = make(chan struct{})
	c.finalizeOne = sync.Once{}

	// Two parallel recorders against the same stream: one per artifact.
	// Each appends chunks in arrival order, never out of order.
	c.recWG.Add(2)
	go c.recordAudio(c.stream, c.stopped)
	go c.recordVideo(c.stream, c.stopped)

	c.timer = time.AfterFunc(duration, func() {
		c.log.Debug().Dur("duration", duration).Msg("capture duration elapsed")
		c.finalize()
	})

	c.log.Debug().Dur("duration", duration).Msg("recording started")
	return nil
}

// Stop ends the recording before the duration elapses and finalizes.
func (c *Controller) Stop() {
	c.finalize()
}

// Close tears the controller down from any state: both recorders stop, all
// tracks are released, and any in-flight finalize callback is suppressed so
// nothing mutates the session after teardown.
func (c *Controller) Close() {
	c.mu.Lock()
	c.torn = true
	if c.timer != nil {
		c.timer.Stop()
	}
	if c.stopped != nil {
		select {
		case <-c.stopped:
		default:
			close(c.stopped)
		}
	}
	stream := c.stream
	c.stream = nil
	c.state = StateIdle
	c.mu.Unlock()

	if stream != nil {
		stream.Close()
	}
	c.recWG.Wait()
	c.log.Debug().Msg("capture controller closed")
}

func (c *Controller) recordAudio(stream Stream, stopped <-chan struct{}) {
	defer c.recWG.Done()
	for {
		select {
		case <-stopped:
			return
		case chunk, ok := <-stream.Audio():
			if !ok {
				return
			}
			if len(chunk) == 0 {
				continue
			}
			buf := make([]byte, len(chunk))
			copy(buf, chunk)
			applyGain(buf, c.opts.GainBoost)
			c.mu.Lock()
			c.audioChunks = append(c.audioChunks, buf)
			c.mu.Unlock()
		}
	}
}

func (c *Controller) recordVideo(stream Stream, stopped <-chan struct{}) {
	defer c.recWG.Done()
	for {
		select {
		case <-stopped:
			return
		case chunk, ok := <-stream.Video():
			if !ok {
				return
			}
			if len(chunk) == 0 {
				continue
			}
			buf := make([]byte, len(chunk))
			copy(buf, chunk)
			c.mu.Lock()
			c.videoChunks = append(c.videoChunks, buf)
			c.mu.Unlock()
		}
	}
}

// finalize concatenates buffered chunks into final blobs, releases the
// stream, and signals completion. Reached from explicit stop or duration
// expiry, whichever comes first; runs at most once per recording. A stop with
// no buffered chunks still completes with empty blobs rather than blocking.
func (c *Controller) finalize() {
	c.finalizeOne.Do(func() {
		c.mu.Lock()
		if c.state != StateRecording {
			c.mu.Unlock()
			return
		}
		c.state = StateFinalizing
		if c.timer != nil {
			c.timer.Stop()
		}
		close(c.stopped)
		stream := c.stream
		c.stream = nil
		c.mu.Unlock()

		if stream != nil {
			stream.Close()
		}
		c.recWG.Wait()

		c.mu.Lock()
		var pcm []byte
		for _, chunk := range c.audioChunks {
			pcm = append(pcm, chunk...)
		}
		var video []byte
		for _, chunk := range c.videoChunks {
			video = append(video, chunk...)
		}
		artifacts := Artifacts{
			Audio: Artifact{
				Data: encodeWAV(pcm, c.opts.Constraints.SampleRate, c.opts.Constraints.Channels),
				MIME: "audio/wav",
			},
			Video: Artifact{Data: video, MIME: "video/webm"},
		}
		onComplete := c.onComplete
		torn := c.torn
		c.audioChunks = nil
		c.videoChunks = nil
		c.state = StateIdle
		c.mu.Unlock()

		c.log.Debug().
			Int("audio_bytes", len(artifacts.Audio.Data)).
			Int("video_bytes", len(artifacts.Video.Data)).
			Msg("capture finalized")

		if !torn && onComplete != nil {
			onComplete(artifacts)
		}
	})
}
