package audio

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// captureWriter records every frame it is handed.
type captureWriter struct {
	mu     sync.Mutex
	frames [][]byte
	fail   error
}

func (w *captureWriter) WriteFrame(frame []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fail != nil {
		return w.fail
	}
	w.frames = append(w.frames, append([]byte(nil), frame...))
	return nil
}

func (w *captureWriter) joined() []byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []byte
	for _, f := range w.frames {
		out = append(out, f...)
	}
	return out
}

func (w *captureWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.frames)
}

// pattern returns n bytes of deterministic non-repeating-ish content.
func pattern(n int, seed byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = seed + byte(i)
	}
	return b
}

// TestEnqueueSplitsFrames verifies boundary splitting and remainder retention.
func TestEnqueueSplitsFrames(t *testing.T) {
	p := NewPacer("s1", &captureWriter{}, 0)

	p.Enqueue(pattern(2*FrameBytes+80, 1))
	if p.Depth() != 2 {
		t.Fatalf("depth after first enqueue: want=2 got=%d", p.Depth())
	}
	if p.RemainderLen() != 80 {
		t.Fatalf("remainder after first enqueue: want=80 got=%d", p.RemainderLen())
	}

	// 80 more bytes complete the pending frame exactly.
	p.Enqueue(pattern(80, 200))
	if p.Depth() != 3 {
		t.Fatalf("depth after second enqueue: want=3 got=%d", p.Depth())
	}
	if p.RemainderLen() != 0 {
		t.Fatalf("remainder after second enqueue: want=0 got=%d", p.RemainderLen())
	}
}

// TestTransmitPreservesByteOrder verifies that, absent Clear, the transmitted
// stream is the exact concatenation of the enqueued bytes.
func TestTransmitPreservesByteOrder(t *testing.T) {
	w := &captureWriter{}
	p := NewPacer("s1", w, 0)

	var want []byte
	for i := 0; i < 5; i++ {
		// Irregular chunk sizes to force remainder stitching.
		chunk := pattern(137+i*53, byte(i*7))
		want = append(want, chunk...)
		p.Enqueue(chunk)
	}

	for p.Depth() > 0 {
		if !p.transmitPending() {
			t.Fatal("transmit stopped unexpectedly")
		}
	}

	got := w.joined()
	if want = want[:len(want)-len(want)%FrameBytes]; !bytes.Equal(got, want) {
		t.Fatalf("transmitted stream diverges from enqueued bytes: want %d bytes got %d", len(want), len(got))
	}
	for _, f := range w.frames {
		if len(f) != FrameBytes {
			t.Fatalf("non-canonical frame size %d", len(f))
		}
	}
}

// TestClearDropsPendingAudio verifies a barge-in wipe: everything queued at
// the time of the call is gone, audio enqueued afterwards flows normally.
func TestClearDropsPendingAudio(t *testing.T) {
	w := &captureWriter{}
	p := NewPacer("s1", w, 0)

	p.Enqueue(pattern(4*FrameBytes+40, 0))
	p.Clear()
	if p.Depth() != 0 || p.RemainderLen() != 0 {
		t.Fatalf("clear left state: depth=%d remainder=%d", p.Depth(), p.RemainderLen())
	}
	if p.ClearedFrames() != 4 {
		t.Fatalf("cleared counter: want=4 got=%d", p.ClearedFrames())
	}

	fresh := pattern(FrameBytes, 99)
	p.Enqueue(fresh)
	if !p.transmitPending() {
		t.Fatal("transmit stopped unexpectedly")
	}
	if w.count() != 1 {
		t.Fatalf("frames after clear: want=1 got=%d", w.count())
	}
	if !bytes.Equal(w.frames[0], fresh) {
		t.Fatal("frame transmitted after clear contains stale bytes")
	}
}

// TestWriterClosedStopsTransmit verifies the loop treats ErrWriterClosed as a
// clean stop rather than an error to retry.
func TestWriterClosedStopsTransmit(t *testing.T) {
	w := &captureWriter{fail: ErrWriterClosed}
	p := NewPacer("s1", w, 0)
	p.Enqueue(pattern(FrameBytes, 0))
	if p.transmitPending() {
		t.Fatal("transmit should report stop on closed writer")
	}
}

// TestWriteFailureSkipsFrame verifies a transient write error drops only the
// one frame and keeps the loop alive.
func TestWriteFailureSkipsFrame(t *testing.T) {
	w := &captureWriter{fail: errors.New("tx error")}
	p := NewPacer("s1", w, 0)
	p.Enqueue(pattern(2*FrameBytes, 0))

	if !p.transmitPending() {
		t.Fatal("transmit should survive a non-fatal write error")
	}
	w.mu.Lock()
	w.fail = nil
	w.mu.Unlock()
	if !p.transmitPending() {
		t.Fatal("transmit stopped unexpectedly")
	}
	if w.count() != 1 {
		t.Fatalf("frames delivered: want=1 got=%d", w.count())
	}
	if p.WriteFailures() != 1 {
		t.Fatalf("failure counter: want=1 got=%d", p.WriteFailures())
	}
}

// TestPacedDelivery runs the real ticker loop and checks frames drain at
// roughly the wake cadence, one frame per tick.
func TestPacedDelivery(t *testing.T) {
	w := &captureWriter{}
	p := NewPacer("s1", w, 5*time.Millisecond)
	p.Enqueue(pattern(4*FrameBytes, 0))

	p.Start(context.Background())
	deadline := time.Now().Add(500 * time.Millisecond)
	for w.count() < 4 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	p.Stop()

	if w.count() != 4 {
		t.Fatalf("paced frames: want=4 got=%d", w.count())
	}
	if p.SentFrames() != 4 {
		t.Fatalf("sent counter: want=4 got=%d", p.SentFrames())
	}
}
