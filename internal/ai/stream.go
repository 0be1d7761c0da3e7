package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// StreamCallbacks receives the outcome of one StreamChat call. OnFragment may
// fire zero or more times, then exactly one of OnComplete or OnError fires,
// unless the stream is canceled first. Nil callbacks are skipped.
type StreamCallbacks struct {
	OnFragment func(fragment string)
	OnComplete func(fullText string)
	OnError    func(err error)
}

const (
	streamOpen int32 = iota
	streamFinished
	streamCanceled
)

// Stream is the handle of one in-flight streaming request.
type Stream struct {
	state  atomic.Int32
	cancel context.CancelCauseFunc
	done   chan struct{}
	cb     StreamCallbacks
}

// Cancel aborts the connection. No callback starts after Cancel returns,
// except one that was already running on the stream goroutine.
func (s *Stream) Cancel() {
	s.state.CompareAndSwap(streamOpen, streamCanceled)
	s.cancel(errStreamCanceled)
}

// Done is closed once the stream goroutine has exited.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

func (s *Stream) fragment(text string) {
	if s.state.Load() != streamOpen || s.cb.OnFragment == nil {
		return
	}
	s.cb.OnFragment(text)
}

func (s *Stream) complete(full string) {
	if !s.state.CompareAndSwap(streamOpen, streamFinished) {
		return
	}
	if s.cb.OnComplete != nil {
		s.cb.OnComplete(full)
	}
}

func (s *Stream) fail(err error) {
	if !s.state.CompareAndSwap(streamOpen, streamFinished) {
		return
	}
	if s.cb.OnError != nil {
		s.cb.OnError(err)
	}
}

func (s *Stream) terminated() bool {
	return s.state.Load() != streamOpen
}

// StreamChat posts messages with stream=true and relays content deltas as
// they arrive. It returns immediately; configuration errors are delivered
// through OnError before StreamChat returns and no request is made.
func (c *OpenAICompatibleClient) StreamChat(ctx context.Context, cfg ChatConfig, messages []ChatMessage, cb StreamCallbacks) *Stream {
	streamCtx, cancel := context.WithCancelCause(ctx)
	s := &Stream{
		cancel: cancel,
		done:   make(chan struct{}),
		cb:     cb,
	}

	if err := validateRequest(cfg, messages); err != nil {
		c.logger.Warn("llm stream rejected", zap.Error(err))
		s.fail(err)
		cancel(err)
		close(s.done)
		return s
	}

	go func() {
		defer close(s.done)
		defer cancel(nil)
		c.runStream(streamCtx, cancel, s, cfg, messages)
	}()
	return s
}

// StreamComplete is the blocking form of StreamChat. An error returned by
// onChunk aborts the stream and is returned as is.
func (c *OpenAICompatibleClient) StreamComplete(
	ctx context.Context,
	cfg ChatConfig,
	messages []ChatMessage,
	onChunk func(chunk string) error,
) (string, error) {
	ctx, abort := context.WithCancelCause(ctx)
	defer abort(nil)

	var (
		full      string
		streamErr error
		chunkErr  error
	)
	stream := c.StreamChat(ctx, cfg, messages, StreamCallbacks{
		OnFragment: func(fragment string) {
			if chunkErr != nil || onChunk == nil {
				return
			}
			if err := onChunk(fragment); err != nil {
				chunkErr = err
				abort(err)
			}
		},
		OnComplete: func(fullText string) { full = fullText },
		OnError:    func(err error) { streamErr = err },
	})
	<-stream.Done()

	if chunkErr != nil {
		return "", chunkErr
	}
	if streamErr != nil {
		return "", streamErr
	}
	return full, nil
}

func (c *OpenAICompatibleClient) runStream(
	ctx context.Context,
	cancel context.CancelCauseFunc,
	s *Stream,
	cfg ChatConfig,
	messages []ChatMessage,
) {
	wd := startWatchdog(c.firstByteTimeout, c.idleTimeout, func(phase string) {
		cancel(&TimeoutError{Phase: phase})
	})
	defer wd.stop()

	req, err := c.newRequest(ctx, cfg, messages, true)
	if err != nil {
		s.fail(err)
		return
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		s.fail(classifyTransportError(ctx, err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		s.fail(&ProtocolError{StatusCode: resp.StatusCode, Body: string(raw)})
		return
	}

	var (
		dec    frameDecoder
		full   strings.Builder
		frames int
	)
	handle := func(frame string) bool {
		payload, ok := framePayload(frame)
		if !ok {
			return false
		}
		usable, terminal := c.handlePayload(payload, &full, s)
		if usable {
			frames++
		}
		return terminal
	}

	buf := make([]byte, 32*1024)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			// Only upstream silence counts; time spent in callbacks does not.
			wd.pause()
			for _, frame := range dec.feed(buf[:n]) {
				if handle(frame) || s.terminated() {
					return
				}
			}
			wd.touch()
		}
		if readErr == nil {
			continue
		}
		if !errors.Is(readErr, io.EOF) {
			s.fail(classifyTransportError(ctx, readErr))
			return
		}
		if tail := dec.flush(); tail != "" && handle(tail) {
			return
		}
		if frames == 0 {
			s.fail(&ProtocolError{StatusCode: resp.StatusCode, Body: "stream ended without any usable data frame"})
			return
		}
		// Upstream closed without [DONE]; what arrived is the whole answer.
		c.logger.Warn("llm stream closed without terminator", zap.Int("frames", frames))
		s.complete(full.String())
		return
	}
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

// handlePayload reports whether the payload was a usable frame ([DONE] or a
// chunk with at least one choice) and whether the stream reached its
// terminal state.
func (c *OpenAICompatibleClient) handlePayload(payload string, full *strings.Builder, s *Stream) (usable, terminal bool) {
	if payload == "[DONE]" {
		s.complete(full.String())
		return true, true
	}

	var chunk streamChunk
	if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
		c.logger.Warn("llm stream frame skipped", zap.Error(err), zap.String("payload", truncate(payload, 256)))
		return false, false
	}
	if len(chunk.Choices) == 0 {
		c.logger.Warn("llm stream frame without choices", zap.String("payload", truncate(payload, 256)))
		return false, false
	}

	choice := chunk.Choices[0]
	if text := choice.Delta.Content; text != "" {
		full.WriteString(text)
		s.fragment(text)
	}
	// Any non-null finish_reason ends the stream, even an empty one.
	if choice.FinishReason != nil {
		s.complete(full.String())
		return true, true
	}
	return true, false
}

const framePrefix = "data:"

// framePayload strips the SSE data prefix. Blank lines, comments and other
// SSE fields are not payload frames.
func framePayload(frame string) (string, bool) {
	line := strings.TrimSpace(frame)
	if line == "" || !strings.HasPrefix(line, framePrefix) {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(line, framePrefix)), true
}

// frameDecoder splits newly delivered bytes into newline terminated frames,
// keeping an unterminated tail until the next delivery completes it.
type frameDecoder struct {
	pending []byte
}

func (d *frameDecoder) feed(p []byte) []string {
	d.pending = append(d.pending, p...)

	var frames []string
	for {
		i := bytes.IndexByte(d.pending, '\n')
		if i < 0 {
			break
		}
		frames = append(frames, string(bytes.TrimSuffix(d.pending[:i], []byte("\r"))))
		d.pending = d.pending[i+1:]
	}
	if len(d.pending) == 0 {
		d.pending = nil
	}
	return frames
}

func (d *frameDecoder) flush() string {
	tail := string(d.pending)
	d.pending = nil
	return tail
}

func classifyTransportError(ctx context.Context, err error) error {
	var timeout *TimeoutError
	if cause := context.Cause(ctx); cause != nil {
		if errors.As(cause, &timeout) {
			return timeout
		}
		return &TransportError{Err: cause}
	}
	return &TransportError{Err: err}
}

// watchdog cancels the stream when the first byte, or any byte after it,
// takes longer than its window.
type watchdog struct {
	timer     *time.Timer
	idle      time.Duration
	gotFirst  atomic.Bool
	firstByte time.Duration
}

func startWatchdog(firstByte, idle time.Duration, onTimeout func(phase string)) *watchdog {
	wd := &watchdog{idle: idle, firstByte: firstByte}
	if firstByte <= 0 && idle <= 0 {
		return wd
	}
	initial := firstByte
	if initial <= 0 {
		initial = idle
	}
	wd.timer = time.AfterFunc(initial, func() {
		if wd.gotFirst.Load() {
			onTimeout(PhaseIdle)
			return
		}
		onTimeout(PhaseFirstByte)
	})
	return wd
}

// pause stops the clock while a delivery is dispatched to callbacks.
func (w *watchdog) pause() {
	w.gotFirst.Store(true)
	if w.timer != nil {
		w.timer.Stop()
	}
}

// touch re-arms the idle window before the next read.
func (w *watchdog) touch() {
	w.gotFirst.Store(true)
	if w.timer == nil {
		return
	}
	if w.idle <= 0 {
		w.timer.Stop()
		return
	}
	w.timer.Reset(w.idle)
}

func (w *watchdog) stop() {
	if w.timer != nil {
		w.timer.Stop()
	}
}
