// Package reader owns the inbound half of the serial transport. A
// background goroutine drains the port into a byte buffer while at
// least one listener is active; callers wait on the buffer through
// Read, Packet and WaitSilent.
package reader

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/bigbag/esp-loader/internal/buffer"
)

var (
	ErrTimeout               = errors.New("timeout waiting for data")
	ErrAlreadyRunning        = errors.New("reader already running")
	ErrNotRunning            = errors.New("reader not running")
	ErrNotListening          = errors.New("no active listener")
	ErrReadAlreadyInProgress = errors.New("read already in progress")
)

const (
	chunkSize     = 1024
	pollBackoff   = 5 * time.Millisecond
	packetRetries = 1000
)

// Reader pulls bytes from src in the background. Bytes that arrive
// while no listener is active are discarded, so stale output cannot
// poison the next command's reply.
type Reader struct {
	src io.Reader

	mu        sync.Mutex
	buf       *buffer.Buffer
	listeners int
	wake      chan struct{}
	running   bool
	closing   bool
	waiting   bool
	done      chan struct{}
	err       error
}

// New creates a Reader over the transport's read half.
func New(src io.Reader) *Reader {
	return &Reader{src: src, buf: buffer.New(chunkSize)}
}

// Start begins the background pull.
func (r *Reader) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return ErrAlreadyRunning
	}
	r.running = true
	r.closing = false
	r.err = nil
	r.buf.Reset()
	r.done = make(chan struct{})
	go r.loop(r.done)
	return nil
}

// Stop signals shutdown, waits for the background goroutine and
// returns the error it ended with, if any. The goroutine notices the
// shutdown at its next read return, so the transport's read timeout
// bounds the wait.
func (r *Reader) Stop() error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return ErrNotRunning
	}
	r.closing = true
	done := r.done
	r.mu.Unlock()

	<-done

	r.mu.Lock()
	defer r.mu.Unlock()
	r.running = false
	r.closing = false
	r.buf.Reset()
	err := r.err
	r.err = nil
	return err
}

// Listen registers a listener and returns the function that releases
// it. When the last listener is released the buffer is reset.
func (r *Reader) Listen() (func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return nil, ErrNotRunning
	}
	r.listeners++
	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.listeners--
			if r.listeners == 0 {
				r.buf.Reset()
			}
		})
	}, nil
}

// WaitSilent clears the buffer and waits up to perTry for any byte,
// repeating up to retries times. It returns true the first time a wait
// elapses with no data; false if every retry saw data.
func (r *Reader) WaitSilent(retries int, perTry time.Duration) (bool, error) {
	unlisten, err := r.Listen()
	if err != nil {
		return false, err
	}
	defer unlisten()

	for i := 0; i < retries; i++ {
		r.mu.Lock()
		r.buf.Reset()
		r.mu.Unlock()

		err := r.waitLen(1, time.Now().Add(perTry))
		if errors.Is(err, ErrTimeout) {
			return true, nil
		}
		if err != nil {
			return false, err
		}
	}
	return false, nil
}

// Read waits until at least minLen bytes are buffered, then returns a
// snapshot and clears the buffer. Requires an active listener.
func (r *Reader) Read(minLen int, timeout time.Duration) ([]byte, error) {
	if err := r.requireListener(); err != nil {
		return nil, err
	}
	if err := r.waitLen(minLen, time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]byte(nil), r.buf.View()...)
	r.buf.Reset()
	return out, nil
}

// Packet waits until at least minLen bytes are buffered and extracts
// one SLIP packet. If no complete frame is available it waits for one
// more byte and retries. Requires an active listener.
func (r *Reader) Packet(minLen int, timeout time.Duration) ([]byte, error) {
	if err := r.requireListener(); err != nil {
		return nil, err
	}
	deadline := time.Now().Add(timeout)
	need := minLen
	for i := 0; i < packetRetries; i++ {
		if err := r.waitLen(need, deadline); err != nil {
			return nil, err
		}
		r.mu.Lock()
		pkt, ok := r.buf.Packet(true)
		if ok {
			out := append([]byte(nil), pkt...)
			r.mu.Unlock()
			return out, nil
		}
		need = r.buf.Len() + 1
		r.mu.Unlock()
	}
	return nil, ErrTimeout
}

func (r *Reader) requireListener() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return ErrNotRunning
	}
	if r.listeners == 0 {
		return ErrNotListening
	}
	return nil
}

// waitLen blocks until at least min bytes are buffered, the deadline
// passes, or the background goroutine ends. The wake slot holds one
// waiter; a second concurrent wait is refused.
func (r *Reader) waitLen(min int, deadline time.Time) error {
	r.mu.Lock()
	if r.waiting {
		r.mu.Unlock()
		return ErrReadAlreadyInProgress
	}
	r.waiting = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.waiting = false
		r.mu.Unlock()
	}()

	for {
		r.mu.Lock()
		if r.err != nil {
			err := r.err
			r.mu.Unlock()
			return err
		}
		if !r.running || r.closing {
			r.mu.Unlock()
			return ErrNotRunning
		}
		if r.buf.Len() >= min {
			r.mu.Unlock()
			return nil
		}
		if r.wake == nil {
			r.wake = make(chan struct{})
		}
		wake := r.wake
		done := r.done
		r.mu.Unlock()

		wait := time.Until(deadline)
		if wait <= 0 {
			return ErrTimeout
		}
		timer := time.NewTimer(wait)
		select {
		case <-wake:
			timer.Stop()
		case <-done:
			timer.Stop()
			// re-check state; the goroutine's error is reported above
		case <-timer.C:
			return ErrTimeout
		}
	}
}

func (r *Reader) loop(done chan struct{}) {
	defer close(done)
	chunk := make([]byte, chunkSize)
	for {
		r.mu.Lock()
		if r.closing {
			r.mu.Unlock()
			return
		}
		r.mu.Unlock()

		n, err := r.src.Read(chunk)
		if n > 0 {
			r.mu.Lock()
			if r.listeners > 0 {
				r.buf.Write(chunk[:n])
				r.signal()
			}
			r.mu.Unlock()
		}
		if err != nil {
			if transient(err) {
				time.Sleep(pollBackoff)
				continue
			}
			r.mu.Lock()
			r.err = err
			r.signal()
			r.mu.Unlock()
			return
		}
		if n == 0 {
			// read timed out with no data; yield before retrying
			time.Sleep(pollBackoff)
		}
	}
}

// signal wakes the pending waiter. Callers hold mu.
func (r *Reader) signal() {
	if r.wake != nil {
		close(r.wake)
		r.wake = nil
	}
}

// transient reports whether the read error is recoverable: end-of-file
// from a port that may still produce data, or a line error (parity,
// framing, overrun, break) the driver marks as temporary.
func transient(err error) bool {
	if errors.Is(err, io.EOF) {
		return true
	}
	var tmp interface{ Temporary() bool }
	if errors.As(err, &tmp) {
		return tmp.Temporary()
	}
	return false
}
