package audio

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/voicebridge-lab/internal/logging"
)

const (
	// FrameBytes is one telephony transport time-quantum of 8kHz mu-law:
	// 160 bytes = 20ms. The far end rejects any other frame size.
	FrameBytes = 160

	// FrameDuration is the wall-clock length of one frame.
	FrameDuration = 20 * time.Millisecond
)

// ErrWriterClosed is returned by a FrameWriter whose underlying transport is
// gone. The pacer treats it as a clean end of the loop, not a failure.
var ErrWriterClosed = errors.New("frame writer closed")

// FrameWriter delivers one encoded frame to the telephony transport. The
// pacer loop is the only caller for a given session, so implementations do
// not need to serialize outbound media writes themselves.
type FrameWriter interface {
	WriteFrame(frame []byte) error
}

// Pacer absorbs bursty audio production and releases it in exact
// FrameBytes-sized frames on a steady clock. One pacer per call session.
type Pacer struct {
	writer   FrameWriter
	interval time.Duration
	perWake  int

	mu        sync.Mutex
	frames    [][]byte
	remainder []byte

	cancel context.CancelFunc
	wg     sync.WaitGroup

	sentFrames    int64
	clearedFrames int64
	writeFailures int64

	sessionID string
}

// NewPacer creates a pacer writing to w. The wake interval defaults to one
// frame duration; sessionID is only used for log correlation.
func NewPacer(sessionID string, w FrameWriter, interval time.Duration) *Pacer {
	if interval <= 0 {
		interval = FrameDuration
	}
	perWake := int(interval / FrameDuration)
	if perWake < 1 {
		perWake = 1
	}
	return &Pacer{
		writer:    w,
		interval:  interval,
		perWake:   perWake,
		sessionID: sessionID,
	}
}

// Enqueue splits b on frame boundaries, queues the complete frames and
// retains any sub-frame tail to be prefixed onto the next call. A short
// frame is never queued.
func (p *Pacer) Enqueue(b []byte) {
	if len(b) == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	buf := b
	if len(p.remainder) > 0 {
		buf = make([]byte, 0, len(p.remainder)+len(b))
		buf = append(buf, p.remainder...)
		buf = append(buf, b...)
		p.remainder = nil
	}
	for len(buf) >= FrameBytes {
		frame := make([]byte, FrameBytes)
		copy(frame, buf[:FrameBytes])
		p.frames = append(p.frames, frame)
		buf = buf[FrameBytes:]
	}
	if len(buf) > 0 {
		p.remainder = append([]byte(nil), buf...)
	}
}

// Clear atomically discards every queued, not-yet-transmitted frame plus the
// sub-frame remainder: all of it belongs to the interrupted response. Audio
// enqueued after Clear returns is unaffected.
func (p *Pacer) Clear() {
	p.mu.Lock()
	n := len(p.frames)
	rem := len(p.remainder)
	p.frames = nil
	p.remainder = nil
	p.mu.Unlock()
	if n > 0 {
		atomic.AddInt64(&p.clearedFrames, int64(n))
	}
	logging.Debugw("pacer: cleared queue", logging.PacerFields(p.sessionID, n, rem)...)
}

// Start runs the timed transmit loop until ctx is cancelled or Stop is
// called. The loop owns all outbound media writes for the session.
func (p *Pacer) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !p.transmitPending() {
					return
				}
			}
		}
	}()
}

// Stop cancels the transmit loop and waits for it to exit.
func (p *Pacer) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

// transmitPending dequeues up to perWake frames and writes them out. It
// returns false when the writer reports the transport closed.
func (p *Pacer) transmitPending() bool {
	for i := 0; i < p.perWake; i++ {
		p.mu.Lock()
		if len(p.frames) == 0 {
			p.mu.Unlock()
			return true
		}
		frame := p.frames[0]
		p.frames = p.frames[1:]
		p.mu.Unlock()

		if err := p.writer.WriteFrame(frame); err != nil {
			if errors.Is(err, ErrWriterClosed) {
				logging.Debugw("pacer: transport closed, stopping", "session.id", p.sessionID)
				return false
			}
			// Transmission failures are never fatal to the session; the
			// frame is skipped and the clock keeps running.
			atomic.AddInt64(&p.writeFailures, 1)
			logging.Warnw("pacer: frame write failed", "session.id", p.sessionID, "err", err)
			continue
		}
		atomic.AddInt64(&p.sentFrames, 1)
	}
	return true
}

// Depth returns the number of queued full frames.
func (p *Pacer) Depth() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.frames)
}

// RemainderLen returns the number of buffered sub-frame bytes.
func (p *Pacer) RemainderLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.remainder)
}

// SentFrames returns the count of frames delivered to the transport.
func (p *Pacer) SentFrames() int64 { return atomic.LoadInt64(&p.sentFrames) }

// ClearedFrames returns the count of frames dropped by Clear.
func (p *Pacer) ClearedFrames() int64 { return atomic.LoadInt64(&p.clearedFrames) }

// WriteFailures returns the count of frames the transport rejected.
func (p *Pacer) WriteFailures() int64 { return atomic.LoadInt64(&p.writeFailures) }
