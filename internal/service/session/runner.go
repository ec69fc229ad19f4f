package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog"

	"live-transcription-service/internal/observability/metrics"
	"live-transcription-service/internal/service/audio"
	"live-transcription-service/internal/service/stt"
)

// Default reconnect backoff bounds.
const (
	DefaultInitialBackoff = 250 * time.Millisecond
	DefaultMaxBackoff     = 10 * time.Second
)

// BackoffConfig bounds the delay between recognition stream attempts.
type BackoffConfig struct {
	Initial time.Duration
	Max     time.Duration
}

func (c BackoffConfig) newBackOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.Initial
	if bo.InitialInterval <= 0 {
		bo.InitialInterval = DefaultInitialBackoff
	}
	bo.MaxInterval = c.Max
	if bo.MaxInterval <= 0 {
		bo.MaxInterval = DefaultMaxBackoff
	}
	bo.Reset()
	return bo
}

// runner is the reconnect loop of one run. It opens the audio source once
// and a fresh recognition stream per attempt until ctx is cancelled or the
// source is exhausted.
type runner struct {
	sess      *Session
	runID     string
	recognize stt.Factory
	openAudio audio.Factory
	processor *Processor
	backoff   BackoffConfig
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

func (r *runner) run(ctx context.Context) {
	lc := r.sess.lifecycle
	start := time.Now()
	r.metrics.RecordRunStart()
	defer func() {
		r.sess.halt()
		lc.Stop()
		r.metrics.RecordRunEnd(time.Since(start).Seconds())
		r.logger.Info().
			Int("attempts", lc.Attempts()).
			Int("failures", lc.Failures()).
			Dur("duration", time.Since(start)).
			Msg("Streaming run ended")
	}()

	src, err := r.openAudio(ctx, r.sess.tenantID)
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to open audio source")
		r.capture(err)
		return
	}
	defer src.Close()

	bo := r.backoff.newBackOff()
	for ctx.Err() == nil {
		productive, err := r.attempt(ctx, src)
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, io.EOF) || errors.Is(err, audio.ErrSourceClosed) {
			r.logger.Info().Err(err).Msg("Audio source exhausted")
			return
		}
		if errors.Is(err, ErrRunStopped) {
			return
		}

		reason := stt.ErrorReason(err)
		r.metrics.RecordStreamError(reason)
		lc.Fail()
		if productive {
			bo.Reset()
		}
		wait := bo.NextBackOff()
		r.logger.Warn().
			Err(err).
			Str("reason", reason).
			Int("attempt", lc.Attempts()).
			Dur("backoff", wait).
			Msg("Recognition stream ended, reconnecting")
		if reason == "transport" || reason == "auth" {
			r.capture(err)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// attempt runs one recognition stream. productive reports whether at least
// one segment was accepted.
func (r *runner) attempt(ctx context.Context, src audio.Source) (productive bool, err error) {
	if err := r.sess.lifecycle.Stream(); err != nil {
		return false, err
	}
	r.metrics.RecordStreamAttempt()

	adapter, err := r.recognize(ctx)
	if err != nil {
		return false, fmt.Errorf("open recognition stream: %w", err)
	}

	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	cb := &streamCallback{r: r, cancel: cancel}
	if err := adapter.Start(attemptCtx, cb); err != nil {
		adapter.Close()
		return false, fmt.Errorf("start recognition stream: %w", err)
	}
	defer func() {
		adapter.Close()
		cb.detach()
		productive = cb.productive.Load()
	}()

	r.logger.Debug().Int("attempt", r.sess.lifecycle.Attempts()).Msg("Recognition stream opened")

	for {
		if streamErr := cb.failure(); streamErr != nil {
			return false, streamErr
		}
		if attemptCtx.Err() != nil {
			return false, attemptCtx.Err()
		}

		frame, err := src.Read(attemptCtx)
		if err != nil {
			if streamErr := cb.failure(); streamErr != nil {
				return false, streamErr
			}
			return false, err
		}
		if err := adapter.SendAudio(attemptCtx, frame); err != nil {
			if streamErr := cb.failure(); streamErr != nil {
				return false, streamErr
			}
			return false, fmt.Errorf("send audio: %w", err)
		}
		r.metrics.RecordAudioReceived(len(frame))
	}
}

func (r *runner) capture(err error) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("tenantId", r.sess.tenantID)
		scope.SetTag("runId", r.runID)
		sentry.CaptureException(err)
	})
}

// streamCallback receives one stream's results on the adapter's callback
// goroutine and forwards finals to the processor.
type streamCallback struct {
	r          *runner
	cancel     context.CancelFunc
	productive atomic.Bool

	mu       sync.Mutex
	err      error
	detached bool
}

func (c *streamCallback) OnPartial(text string) {
	c.r.logger.Trace().Str("text", text).Msg("Partial transcript")
}

func (c *streamCallback) OnFinal(res stt.Result) {
	c.mu.Lock()
	detached := c.detached
	c.mu.Unlock()
	if detached {
		return
	}

	accepted, err := c.r.processor.Accept(c.r.sess, c.r.runID, res)
	if accepted {
		c.productive.Store(true)
	}
	if err != nil {
		c.r.logger.Error().Err(err).Msg("Failed to persist transcript segment")
	}
}

func (c *streamCallback) OnError(err error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.mu.Unlock()
	c.cancel()
}

func (c *streamCallback) failure() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *streamCallback) detach() {
	c.mu.Lock()
	c.detached = true
	c.mu.Unlock()
}
