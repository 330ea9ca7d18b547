package capture

import (
	"fmt"
	"io"
	"os"
	"sync/atomic"
)

// Device grants exclusive access to an audio input source.
type Device interface {
	// Open acquires the device. It fails when the device is unavailable or
	// already held by another session.
	Open() (Stream, error)
}

// Stream is an open capture stream. Read returns the next binary fragment;
// io.EOF signals the source is exhausted. Close releases the device.
type Stream interface {
	Read() ([]byte, error)
	Close() error
}

// ReaderDevice adapts an io.Reader (a file, a pipe from arecord/sox, stdin)
// into a capture device producing fixed-size fragments.
type ReaderDevice struct {
	source    io.Reader
	chunkSize int
	open      atomic.Bool
}

// NewReaderDevice creates a device over source emitting chunkSize fragments.
func NewReaderDevice(source io.Reader, chunkSize int) *ReaderDevice {
	if chunkSize <= 0 {
		chunkSize = 4096
	}
	return &ReaderDevice{source: source, chunkSize: chunkSize}
}

// Open acquires exclusive access to the reader.
func (d *ReaderDevice) Open() (Stream, error) {
	if d.source == nil {
		return nil, fmt.Errorf("no audio source configured")
	}
	if !d.open.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("device is busy")
	}
	return &readerStream{device: d}, nil
}

type readerStream struct {
	device *ReaderDevice
	closed atomic.Bool
}

func (s *readerStream) Read() ([]byte, error) {
	if s.closed.Load() {
		return nil, io.EOF
	}
	buf := make([]byte, s.device.chunkSize)
	n, err := io.ReadFull(s.device.source, buf)
	if n > 0 {
		chunk := buf[:n]
		if err == io.ErrUnexpectedEOF {
			err = io.EOF
		}
		return chunk, err
	}
	if err == io.ErrUnexpectedEOF {
		err = io.EOF
	}
	return nil, err
}

func (s *readerStream) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		s.device.open.Store(false)
		if c, ok := s.device.source.(io.Closer); ok && c != os.Stdin {
			return c.Close()
		}
	}
	return nil
}
