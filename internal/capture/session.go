// Package capture implements the audio capture session state machine.
//
// A session moves through idle → recording → stopped → idle. While recording,
// an internal loop drains the device stream at a fixed cadence and appends
// binary fragments to the chunk sequence; stopping assembles the fragments
// into a single immutable artifact. At most one session is recording at a
// time and the device is released on every exit path from recording.
package capture

import (
	"fmt"
	"sync"
	"time"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/checksum"
)

// Session states.
const (
	StateIdle      = "idle"
	StateRecording = "recording"
	StateStopped   = "stopped"
)

// Artifact is a finished recording: an opaque binary payload plus MIME type.
type Artifact struct {
	Data     []byte
	MIMEType string
	Checksum string
}

// Session owns the capture device lifecycle for one recording at a time.
type Session struct {
	device   Device
	interval time.Duration
	mimeType string

	mu       sync.Mutex
	state    string
	chunks   [][]byte
	artifact *Artifact

	stream  Stream
	stopCh  chan struct{}
	stopped chan struct{}
	elapsed chan int
}

// NewSession creates an idle capture session over the given device.
// interval is the chunk cadence; values over 100ms are clamped.
func NewSession(device Device, interval time.Duration, mimeType string) *Session {
	if interval <= 0 || interval > 100*time.Millisecond {
		interval = 100 * time.Millisecond
	}
	return &Session{
		device:   device,
		interval: interval,
		mimeType: mimeType,
		state:    StateIdle,
	}
}

// State returns the current session state.
func (s *Session) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Elapsed returns the 1-second-resolution elapsed-time signal of the current
// recording. The channel is created on Start and closed when recording stops.
func (s *Session) Elapsed() <-chan int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.elapsed
}

// Start acquires the device and begins recording. It fails when the session
// is not idle (starting while recording is rejected, never silently
// restarted) and with ErrDeviceUnavailable when the device cannot be opened.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateIdle {
		return fmt.Errorf("capture: start requires idle, session is %s", s.state)
	}

	stream, err := s.device.Open()
	if err != nil {
		return fmt.Errorf("capture: %w: %v", apperr.ErrDeviceUnavailable, err)
	}

	s.stream = stream
	s.chunks = nil
	s.artifact = nil
	s.stopCh = make(chan struct{})
	s.stopped = make(chan struct{})
	s.elapsed = make(chan int, 1)
	s.state = StateRecording

	go s.pump(stream, s.stopCh, s.stopped, s.elapsed)
	return nil
}

// pump owns the device stream for the duration of one recording. It reads a
// fragment every chunk interval and emits elapsed whole seconds. The stream
// is closed here so the device is released no matter how recording ends.
func (s *Session) pump(stream Stream, stopCh <-chan struct{}, stopped chan<- struct{}, elapsed chan<- int) {
	defer close(stopped)
	defer stream.Close()
	defer close(elapsed)

	chunkTick := time.NewTicker(s.interval)
	defer chunkTick.Stop()
	secondTick := time.NewTicker(time.Second)
	defer secondTick.Stop()

	start := time.Now()
	drained := false

	for {
		select {
		case <-stopCh:
			return

		case <-chunkTick.C:
			if drained {
				continue
			}
			chunk, err := stream.Read()
			if len(chunk) > 0 {
				s.mu.Lock()
				s.chunks = append(s.chunks, chunk)
				s.mu.Unlock()
			}
			if err != nil {
				// EOF or device fault: read no further, but keep the session
				// recording so the caller still drives the stop transition.
				drained = true
			}

		case <-secondTick.C:
			select {
			case elapsed <- int(time.Since(start) / time.Second):
			default:
				// Listener is behind; drop the tick rather than block.
			}
		}
	}
}

// Stop ends the recording, releases the device, and assembles the chunk
// sequence into an immutable artifact. Calling Stop while already stopped or
// idle is a no-op, not an error; it returns the current artifact if any.
// Concurrent Stop calls are safe: the transition is claimed under the lock,
// so exactly one caller signals the pump and the rest wait for it to drain.
func (s *Session) Stop() *Artifact {
	s.mu.Lock()
	if s.state == StateIdle {
		a := s.artifact
		s.mu.Unlock()
		return a
	}
	stopCh, stopped := s.stopCh, s.stopped
	winner := s.state == StateRecording
	s.state = StateStopped
	s.mu.Unlock()

	if winner {
		close(stopCh)
	}
	<-stopped

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.artifact == nil {
		var size int
		for _, c := range s.chunks {
			size += len(c)
		}
		data := make([]byte, 0, size)
		for _, c := range s.chunks {
			data = append(data, c...)
		}
		s.artifact = &Artifact{
			Data:     data,
			MIMEType: s.mimeType,
			Checksum: checksum.Sum(data),
		}
		s.stream = nil
	}
	return s.artifact
}

// Artifact returns the finished recording, or nil before the session has
// stopped.
func (s *Session) Artifact() *Artifact {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.artifact
}

// Reset discards the artifact and chunk sequence after a save or an explicit
// discard, returning the session to idle. It requires the stopped state.
func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateStopped {
		return fmt.Errorf("capture: reset requires stopped, session is %s", s.state)
	}
	s.chunks = nil
	s.artifact = nil
	s.state = StateIdle
	return nil
}

// Close force-stops any in-progress recording and discards session state.
// It is safe to call from any state and is intended for client teardown.
func (s *Session) Close() {
	s.Stop()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = nil
	s.artifact = nil
	s.state = StateIdle
}
