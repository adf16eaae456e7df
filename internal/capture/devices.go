package capture

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
)

// CommandDevice records by running a platform capture program (arecord,
// ffmpeg, sox...) that writes encoded audio to stdout. The placeholders
// {rate} and {channels} in Argv are substituted from the requested format.
type CommandDevice struct {
	Argv []string
}

// Open starts the program. It is not bound to ctx: the recording outlives
// the request that started it, and Close kills the process.
func (d *CommandDevice) Open(_ context.Context, f Format) (io.ReadCloser, error) {
	if len(d.Argv) == 0 {
		return nil, fmt.Errorf("%w: no capture command configured", ErrDeviceUnavailable)
	}

	argv := make([]string, len(d.Argv))
	for i, a := range d.Argv {
		a = strings.ReplaceAll(a, "{rate}", strconv.Itoa(f.SampleRate))
		a = strings.ReplaceAll(a, "{channels}", strconv.Itoa(f.Channels))
		argv[i] = a
	}

	cmd := exec.Command(argv[0], argv[1:]...) //nolint:gosec // operator-configured
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start %s: %v", ErrDeviceUnavailable, argv[0], err)
	}
	return &commandStream{cmd: cmd, stdout: stdout, stderr: &stderr}, nil
}

type commandStream struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *bytes.Buffer
	once   sync.Once
	err    error
}

func (s *commandStream) Read(p []byte) (int, error) {
	n, err := s.stdout.Read(p)
	if err == io.EOF {
		// Surface a non-zero exit (e.g. permission denied on the mic) as a device error.
		if werr := s.wait(); werr != nil {
			return n, fmt.Errorf("capture command: %v: %s", werr, strings.TrimSpace(s.stderr.String()))
		}
	}
	return n, err
}

func (s *commandStream) Close() error {
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	_ = s.wait()
	return nil
}

func (s *commandStream) wait() error {
	s.once.Do(func() { s.err = s.cmd.Wait() })
	return s.err
}

// ChunkDevice is fed by a remote producer, typically a browser streaming
// MediaRecorder chunks over a websocket. Open fails unless a producer is attached.
type ChunkDevice struct {
	mu        sync.Mutex
	producers int
	pw        *io.PipeWriter
}

// NewChunkDevice creates a device with no producer attached.
func NewChunkDevice() *ChunkDevice {
	return &ChunkDevice{}
}

// Attach registers a producer. The returned func detaches it; detaching the
// last producer ends any open stream.
func (d *ChunkDevice) Attach() (detach func()) {
	d.mu.Lock()
	d.producers++
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			defer d.mu.Unlock()
			d.producers--
			if d.producers == 0 && d.pw != nil {
				_ = d.pw.CloseWithError(fmt.Errorf("%w: producer disconnected", ErrDeviceUnavailable))
				d.pw = nil
			}
		})
	}
}

// Open returns a stream of fed chunks.
func (d *ChunkDevice) Open(_ context.Context, _ Format) (io.ReadCloser, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.producers == 0 {
		return nil, fmt.Errorf("%w: no audio producer connected", ErrDeviceUnavailable)
	}
	if d.pw != nil {
		return nil, ErrAlreadyRecording
	}
	pr, pw := io.Pipe()
	d.pw = pw
	return &chunkStream{PipeReader: pr, dev: d, pw: pw}, nil
}

// Feed appends a chunk to the open stream. Chunks fed while no stream is
// open are dropped and reported as ErrNotRecording.
func (d *ChunkDevice) Feed(chunk []byte) error {
	d.mu.Lock()
	pw := d.pw
	d.mu.Unlock()
	if pw == nil {
		return ErrNotRecording
	}
	if _, err := pw.Write(chunk); err != nil {
		return ErrNotRecording
	}
	return nil
}

// Producers returns the number of attached producers.
func (d *ChunkDevice) Producers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.producers
}

type chunkStream struct {
	*io.PipeReader
	dev *ChunkDevice
	pw  *io.PipeWriter
}

func (s *chunkStream) Close() error {
	s.dev.mu.Lock()
	if s.dev.pw == s.pw {
		s.dev.pw = nil
	}
	s.dev.mu.Unlock()
	_ = s.pw.Close()
	return s.PipeReader.Close()
}
