package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// AsyncUploader pushes raw audio to the S3 side channel without blocking the
// capture pipeline. Artifacts are already saved locally before being enqueued
// here, so a dropped or failed upload loses nothing.
type AsyncUploader struct {
	target Store
	log    zerolog.Logger

	// mu serializes Enqueue against Stop so the channel is never closed
	// while a send is in flight.
	mu      sync.Mutex
	ch      chan uploadJob
	stopped bool

	wg       sync.WaitGroup
	uploaded atomic.Int64
	failures atomic.Int64
}

type uploadJob struct {
	key         string
	data        []byte
	contentType string
}

// NewAsyncUploader creates an async uploader with the given buffer size.
func NewAsyncUploader(target Store, bufferSize int, log zerolog.Logger) *AsyncUploader {
	return &AsyncUploader{
		target: target,
		ch:     make(chan uploadJob, bufferSize),
		log:    log.With().Str("component", "async-uploader").Logger(),
	}
}

// Enqueue adds an upload job. Non-blocking: drops with a warning if the queue
// is full or the uploader is stopped.
func (u *AsyncUploader) Enqueue(key string, data []byte, contentType string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.stopped {
		return
	}
	select {
	case u.ch <- uploadJob{key: key, data: data, contentType: contentType}:
	default:
		u.log.Warn().Str("key", key).Msg("upload queue full, skipping (artifact safe on disk)")
	}
}

// Start launches worker goroutines.
func (u *AsyncUploader) Start(workers int) {
	for i := 0; i < workers; i++ {
		u.wg.Add(1)
		go u.worker()
	}
	u.log.Info().Int("workers", workers).Int("buffer", cap(u.ch)).Msg("async uploader started")
}

// Stop signals workers to drain and waits for in-flight uploads. Safe to call
// more than once, and safe against concurrent Enqueue calls.
func (u *AsyncUploader) Stop() {
	u.mu.Lock()
	if !u.stopped {
		u.stopped = true
		close(u.ch)
	}
	u.mu.Unlock()
	u.wg.Wait()
}

// Counts reports uploads completed and failed.
func (u *AsyncUploader) Counts() (uploaded, failed int64) {
	return u.uploaded.Load(), u.failures.Load()
}

func (u *AsyncUploader) worker() {
	defer u.wg.Done()
	for job := range u.ch {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := u.target.Save(ctx, job.key, job.data, job.contentType); err != nil {
			u.failures.Add(1)
			u.log.Error().Err(err).Str("key", job.key).Msg("async upload failed (artifact safe on disk)")
		} else {
			u.uploaded.Add(1)
		}
		cancel()
	}
}
