// Package capture pulls JPEG frames from ffmpeg (camera or file) and writes
// annotated frames back out as an MJPEG stream.
package capture

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/andresmejia3/facewatch/internal/utils"
)

const megabyte = 1024 * 1024

// ErrCameraUnavailable is returned when a source ends before producing a single frame.
var ErrCameraUnavailable = errors.New("camera unavailable")

var (
	jpegSOI = []byte{0xFF, 0xD8} // Start of Image
	jpegEOI = []byte{0xFF, 0xD9} // End of Image
)

// splitJPEG is a bufio.SplitFunc yielding whole JPEG images delimited by the
// SOI/EOI markers. Bytes before an SOI are discarded so garbage can't grow the buffer.
func splitJPEG(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	start := bytes.Index(data, jpegSOI)
	if start == -1 {
		if atEOF {
			return len(data), nil, nil
		}
		// Keep a trailing 0xFF: it may be the first half of the next SOI.
		if len(data) > 1 {
			return len(data) - 1, nil, nil
		}
		return 0, nil, nil
	}
	end := bytes.Index(data[start+len(jpegSOI):], jpegEOI)
	if end == -1 {
		if atEOF {
			// Truncated last frame.
			return len(data), nil, nil
		}
		return start, nil, nil
	}
	stop := start + len(jpegSOI) + end + len(jpegEOI)
	return stop, data[start:stop], nil
}

// StreamSource splits any MJPEG byte stream into frames.
type StreamSource struct {
	scanner *bufio.Scanner
	frames  int
}

// NewStreamSource reads frames from r.
func NewStreamSource(r io.Reader) *StreamSource {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, megabyte), 64*megabyte)
	scanner.Split(splitJPEG)
	return &StreamSource{scanner: scanner}
}

// Next returns the next encoded frame. It returns io.EOF at the end of the
// stream, or ErrCameraUnavailable if the stream ended before any frame.
func (s *StreamSource) Next() ([]byte, error) {
	if s.scanner.Scan() {
		s.frames++
		// The scanner reuses its buffer; frames outlive this call.
		return bytes.Clone(s.scanner.Bytes()), nil
	}
	err := s.scanner.Err()
	if s.frames == 0 {
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCameraUnavailable, err)
		}
		return nil, ErrCameraUnavailable
	}
	if err != nil {
		return nil, err
	}
	return nil, io.EOF
}

// Frames returns how many frames have been read.
func (s *StreamSource) Frames() int { return s.frames }

// Config selects the ffmpeg input.
type Config struct {
	FFmpeg string // binary, default "ffmpeg"
	Input  string // device or file, e.g. /dev/video0
	Format string // optional demuxer, e.g. v4l2, avfoundation, dshow
	FPS    int    // optional input frame rate
}

// FFmpegSource is a StreamSource fed by an ffmpeg child process.
type FFmpegSource struct {
	*StreamSource
	cmd *utils.SafeCommand
}

// Args builds the ffmpeg command line for cfg.
func (cfg Config) Args() []string {
	args := []string{"-hide_banner", "-loglevel", "error"}
	if cfg.Format != "" {
		args = append(args, "-f", cfg.Format)
	}
	if cfg.FPS > 0 {
		args = append(args, "-framerate", fmt.Sprint(cfg.FPS))
	}
	// mjpeg output is what splitJPEG understands.
	return append(args, "-i", cfg.Input, "-f", "image2pipe", "-vcodec", "mjpeg", "-")
}

// Open starts ffmpeg. The process is killed when ctx is cancelled or Close is called.
func Open(ctx context.Context, cfg Config) (*FFmpegSource, error) {
	bin := cfg.FFmpeg
	if bin == "" {
		bin = "ffmpeg"
	}
	cmd := utils.NewSafeCommand(ctx, bin, cfg.Args()...)
	out, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: failed to start ffmpeg: %v", ErrCameraUnavailable, err)
	}
	return &FFmpegSource{StreamSource: NewStreamSource(out), cmd: cmd}, nil
}

// Next returns the next frame; when ffmpeg exits, its logs are attached to the error.
func (s *FFmpegSource) Next() ([]byte, error) {
	frame, err := s.StreamSource.Next()
	if err == nil {
		return frame, nil
	}
	waitErr := s.cmd.Wait()
	if errors.Is(err, ErrCameraUnavailable) {
		if logs := s.cmd.StderrTail(1024); logs != "" {
			return nil, fmt.Errorf("%w\n%s", err, logs)
		}
		return nil, err
	}
	if errors.Is(err, io.EOF) && waitErr != nil {
		return nil, fmt.Errorf("ffmpeg exited: %w", waitErr)
	}
	return nil, err
}

// Command exposes the ffmpeg process for error reporting.
func (s *FFmpegSource) Command() *utils.SafeCommand { return s.cmd }

// Close stops ffmpeg.
func (s *FFmpegSource) Close() error {
	if s.cmd.Process != nil && s.cmd.ProcessState == nil {
		s.cmd.Process.Kill()
		s.cmd.Wait()
	}
	return nil
}
