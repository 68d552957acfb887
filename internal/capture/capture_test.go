package capture

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"reflect"
	"strings"
	"testing"
)

func TestSplitJPEG(t *testing.T) {
	// [Garbage] [JPEG] [Garbage]
	jpegData := []byte{0xFF, 0xD8, 0x01, 0x02, 0x03, 0xFF, 0xD9}

	stream := []byte{0x00, 0x00}
	stream = append(stream, jpegData...)
	stream = append(stream, 0x00, 0x00)

	scanner := bufio.NewScanner(bytes.NewReader(stream))
	scanner.Split(splitJPEG)

	if !scanner.Scan() {
		t.Fatal("Expected to find a token, got EOF")
	}
	if !bytes.Equal(scanner.Bytes(), jpegData) {
		t.Errorf("Expected %X, got %X", jpegData, scanner.Bytes())
	}
	if scanner.Scan() {
		t.Error("Expected only one token, found more")
	}
}

func TestSplitJPEGPartialData(t *testing.T) {
	tests := []struct {
		name        string
		data        []byte
		atEOF       bool
		wantAdvance int
		wantToken   []byte
	}{
		{name: "garbage only keeps last byte", data: []byte{0x01, 0x02, 0xFF}, wantAdvance: 2},
		{name: "garbage at EOF is consumed", data: []byte{0x01, 0x02}, atEOF: true, wantAdvance: 2},
		{name: "open frame drops prefix", data: []byte{0x00, 0xFF, 0xD8, 0x10}, wantAdvance: 1},
		{name: "truncated frame at EOF", data: []byte{0xFF, 0xD8, 0x10}, atEOF: true, wantAdvance: 3},
		{name: "whole frame", data: []byte{0xFF, 0xD8, 0xFF, 0xD9, 0xAA}, wantAdvance: 4, wantToken: []byte{0xFF, 0xD8, 0xFF, 0xD9}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adv, tok, err := splitJPEG(tt.data, tt.atEOF)
			if err != nil {
				t.Fatal(err)
			}
			if adv != tt.wantAdvance || !bytes.Equal(tok, tt.wantToken) {
				t.Errorf("splitJPEG() = %d, %X; want %d, %X", adv, tok, tt.wantAdvance, tt.wantToken)
			}
		})
	}
}

func TestStreamSourceFrames(t *testing.T) {
	a := []byte{0xFF, 0xD8, 0x01, 0xFF, 0xD9}
	b := []byte{0xFF, 0xD8, 0x02, 0x03, 0xFF, 0xD9}
	var stream []byte
	stream = append(stream, 0x42)
	stream = append(stream, a...)
	stream = append(stream, b...)

	src := NewStreamSource(bytes.NewReader(stream))

	first, err := src.Next()
	if err != nil || !bytes.Equal(first, a) {
		t.Fatalf("first = %X, %v", first, err)
	}
	second, err := src.Next()
	if err != nil || !bytes.Equal(second, b) {
		t.Fatalf("second = %X, %v", second, err)
	}
	// The first frame must not be clobbered by the scanner's buffer reuse.
	if !bytes.Equal(first, a) {
		t.Error("first frame changed after reading the second")
	}
	if _, err := src.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF, got %v", err)
	}
	if src.Frames() != 2 {
		t.Errorf("Frames() = %d", src.Frames())
	}
}

func TestStreamSourceWithoutFramesIsUnavailable(t *testing.T) {
	src := NewStreamSource(strings.NewReader("not a camera"))
	if _, err := src.Next(); !errors.Is(err, ErrCameraUnavailable) {
		t.Errorf("expected ErrCameraUnavailable, got %v", err)
	}
}

func TestConfigArgs(t *testing.T) {
	got := Config{Input: "/dev/video0", Format: "v4l2", FPS: 30}.Args()
	want := []string{"-hide_banner", "-loglevel", "error", "-f", "v4l2", "-framerate", "30",
		"-i", "/dev/video0", "-f", "image2pipe", "-vcodec", "mjpeg", "-"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Args() = %v\nwant %v", got, want)
	}

	plain := Config{Input: "clip.mp4"}.Args()
	if plain[3] != "-i" || plain[4] != "clip.mp4" {
		t.Errorf("unexpected args without format: %v", plain)
	}
}

func TestOpenMissingBinary(t *testing.T) {
	_, err := Open(context.Background(), Config{FFmpeg: "/nonexistent/ffmpeg", Input: "x"})
	if !errors.Is(err, ErrCameraUnavailable) {
		t.Errorf("expected ErrCameraUnavailable, got %v", err)
	}
}

func TestMJPEGWriterRoundTrip(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 16, 8))
	for i := range img.Pix {
		img.Pix[i] = 0x80
	}
	img.Set(0, 0, color.RGBA{R: 0xFF, A: 0xFF})

	var buf bytes.Buffer
	w := NewMJPEGWriter(&buf, 90)
	for i := 0; i < 3; i++ {
		if err := w.WriteFrame(img); err != nil {
			t.Fatal(err)
		}
	}

	src := NewStreamSource(&buf)
	for i := 0; i < 3; i++ {
		data, err := src.Next()
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		decoded, err := DecodeFrame(data)
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if decoded.Bounds() != img.Bounds() {
			t.Errorf("frame %d bounds = %v", i, decoded.Bounds())
		}
	}
	if _, err := src.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

func TestDiscard(t *testing.T) {
	if err := (Discard{}).WriteFrame(image.NewRGBA(image.Rect(0, 0, 1, 1))); err != nil {
		t.Error(err)
	}
}
