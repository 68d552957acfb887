package capture

import (
	"bytes"
	"image"
	"image/jpeg"
	"io"
)

// DecodeFrame decodes one JPEG frame.
func DecodeFrame(data []byte) (image.Image, error) {
	return jpeg.Decode(bytes.NewReader(data))
}

// EncodeFrame encodes img as a JPEG.
func EncodeFrame(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MJPEGWriter writes frames back-to-back as JPEGs, the format ffplay reads from a pipe.
type MJPEGWriter struct {
	w       io.Writer
	quality int
}

// NewMJPEGWriter returns a sink writing to w.
func NewMJPEGWriter(w io.Writer, quality int) *MJPEGWriter {
	if quality <= 0 || quality > 100 {
		quality = jpeg.DefaultQuality
	}
	return &MJPEGWriter{w: w, quality: quality}
}

func (m *MJPEGWriter) WriteFrame(img image.Image) error {
	return jpeg.Encode(m.w, img, &jpeg.Options{Quality: m.quality})
}

// Discard drops every frame.
type Discard struct{}

func (Discard) WriteFrame(image.Image) error { return nil }
