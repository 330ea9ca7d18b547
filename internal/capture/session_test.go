package capture

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/starford/ansuz/internal/apperr"
)

const testInterval = 5 * time.Millisecond

// captureWindow is long enough for the pump loop to drain a small source at
// testInterval cadence.
const captureWindow = 80 * time.Millisecond

func TestSession_StartStopRoundtrip(t *testing.T) {
	payload := bytes.Repeat([]byte("abcd"), 64)
	dev := NewReaderDevice(bytes.NewReader(payload), 16)
	s := NewSession(dev, testInterval, "audio/wav")

	if s.State() != StateIdle {
		t.Fatalf("new session state = %s, want %s", s.State(), StateIdle)
	}
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	if s.State() != StateRecording {
		t.Fatalf("state after start = %s, want %s", s.State(), StateRecording)
	}

	time.Sleep(captureWindow)
	a := s.Stop()
	if s.State() != StateStopped {
		t.Fatalf("state after stop = %s, want %s", s.State(), StateStopped)
	}
	if a == nil || len(a.Data) == 0 {
		t.Fatal("stop produced no artifact data")
	}
	if !bytes.Equal(a.Data, payload[:len(a.Data)]) {
		t.Error("artifact data does not match the source prefix")
	}
	if a.MIMEType != "audio/wav" {
		t.Errorf("artifact mime = %q, want audio/wav", a.MIMEType)
	}
	if a.Checksum == "" {
		t.Error("artifact checksum is empty")
	}
}

func TestSession_StartWhileRecordingRejected(t *testing.T) {
	dev := NewReaderDevice(strings.NewReader("data"), 4)
	s := NewSession(dev, testInterval, "audio/wav")
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if err := s.Start(); err == nil {
		t.Fatal("second start should fail while recording")
	}
	if s.State() != StateRecording {
		t.Errorf("rejected start changed state to %s", s.State())
	}
}

func TestSession_DeviceUnavailable(t *testing.T) {
	s := NewSession(failingDevice{}, testInterval, "audio/wav")
	err := s.Start()
	if !errors.Is(err, apperr.ErrDeviceUnavailable) {
		t.Fatalf("got %v, want ErrDeviceUnavailable", err)
	}
	if s.State() != StateIdle {
		t.Errorf("failed start left state %s, want %s", s.State(), StateIdle)
	}
}

func TestSession_StopWhenNotRecordingIsNoop(t *testing.T) {
	dev := NewReaderDevice(strings.NewReader("data"), 4)
	s := NewSession(dev, testInterval, "audio/wav")

	if a := s.Stop(); a != nil {
		t.Fatal("stop on idle session returned an artifact")
	}

	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	time.Sleep(captureWindow)
	first := s.Stop()
	second := s.Stop()
	if first == nil || second != first {
		t.Error("repeated stop should return the same artifact")
	}
}

func TestSession_ResetRequiresStopped(t *testing.T) {
	dev := NewReaderDevice(strings.NewReader("data"), 4)
	s := NewSession(dev, testInterval, "audio/wav")

	if err := s.Reset(); err == nil {
		t.Fatal("reset on idle session should fail")
	}

	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	if err := s.Reset(); err == nil {
		t.Fatal("reset while recording should fail")
	}

	time.Sleep(captureWindow)
	s.Stop()
	if err := s.Reset(); err != nil {
		t.Fatal(err)
	}
	if s.State() != StateIdle {
		t.Errorf("state after reset = %s, want %s", s.State(), StateIdle)
	}
	if s.Artifact() != nil {
		t.Error("reset did not discard the artifact")
	}
}

func TestSession_ConcurrentStop(t *testing.T) {
	dev := NewReaderDevice(infiniteReader{}, 8)
	s := NewSession(dev, testInterval, "audio/wav")
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	time.Sleep(captureWindow)

	// A teardown racing a user stop must not crash; every caller gets the
	// same assembled artifact.
	results := make([]*Artifact, 4)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = s.Stop()
		}(i)
	}
	wg.Wait()

	if s.State() != StateStopped {
		t.Fatalf("state = %s, want %s", s.State(), StateStopped)
	}
	if results[0] == nil || len(results[0].Data) == 0 {
		t.Fatal("no artifact assembled")
	}
	for i, a := range results {
		if a != results[0] {
			t.Errorf("caller %d got a different artifact", i)
		}
	}

	// The session is still usable afterwards.
	if err := s.Reset(); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("restart after concurrent stop: %v", err)
	}
	s.Close()
}

func TestSession_DeviceReleasedAfterStop(t *testing.T) {
	dev := NewReaderDevice(infiniteReader{}, 8)
	s := NewSession(dev, testInterval, "audio/wav")

	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	time.Sleep(captureWindow)
	s.Stop()
	if err := s.Reset(); err != nil {
		t.Fatal(err)
	}

	// The device must be reacquirable for the next recording.
	if err := s.Start(); err != nil {
		t.Fatalf("restart after stop: %v", err)
	}
	s.Close()
}

func TestSession_ElapsedChannelClosesOnStop(t *testing.T) {
	dev := NewReaderDevice(infiniteReader{}, 8)
	s := NewSession(dev, testInterval, "audio/wav")
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	elapsed := s.Elapsed()
	s.Stop()

	select {
	case _, ok := <-elapsed:
		if ok {
			// A buffered tick may still be pending; the close must follow.
			if _, ok := <-elapsed; ok {
				t.Fatal("elapsed channel still open after stop")
			}
		}
	case <-time.After(time.Second):
		t.Fatal("elapsed channel not closed after stop")
	}
}

func TestReaderDevice_Exclusive(t *testing.T) {
	dev := NewReaderDevice(strings.NewReader("data"), 4)

	stream, err := dev.Open()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := dev.Open(); err == nil {
		t.Fatal("second open should fail while the stream is held")
	}
	if err := stream.Close(); err != nil {
		t.Fatal(err)
	}
	stream, err = dev.Open()
	if err != nil {
		t.Fatalf("reopen after close: %v", err)
	}
	stream.Close()
}

func TestReaderStream_TailChunkAndEOF(t *testing.T) {
	dev := NewReaderDevice(strings.NewReader("abcdef"), 4)
	stream, err := dev.Open()
	if err != nil {
		t.Fatal(err)
	}
	defer stream.Close()

	chunk, err := stream.Read()
	if err != nil || string(chunk) != "abcd" {
		t.Fatalf("first read = %q, %v", chunk, err)
	}
	chunk, err = stream.Read()
	if string(chunk) != "ef" {
		t.Fatalf("tail read = %q, want \"ef\"", chunk)
	}
	if !errors.Is(err, io.EOF) {
		t.Fatalf("tail read err = %v, want io.EOF", err)
	}
}

type failingDevice struct{}

func (failingDevice) Open() (Stream, error) {
	return nil, fmt.Errorf("microphone busy")
}

// infiniteReader never runs out of audio.
type infiniteReader struct{}

func (infiniteReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 'x'
	}
	return len(p), nil
}
