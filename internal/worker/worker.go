package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/andresmejia3/facewatch/internal/types"
	"github.com/andresmejia3/facewatch/internal/utils"
)

const (
	statusOK    = 0
	statusError = 1

	// maxResponse guards against a corrupt length header allocating gigabytes.
	maxResponse = 64 * 1024 * 1024
)

// ErrClosed is returned when a worker or pool is used after Close.
var ErrClosed = errors.New("worker closed")

// ErrBroken is returned by a pool whose workers have all failed.
var ErrBroken = errors.New("all workers broken")

// Config describes how to launch the Python embedder.
type Config struct {
	Python      string        // interpreter, e.g. "python3"
	Script      string        // path to worker.py
	Model       string        // face_recognition detector: "hog" or "cnn"
	Upsample    int           // number_of_times_to_upsample for detection
	ReadTimeout time.Duration // per-frame response deadline, 0 disables
}

// PythonWorker is one embedder process. It is not safe for concurrent use;
// Pool hands workers out one caller at a time.
type PythonWorker struct {
	ID          int
	Cmd         *utils.SafeCommand
	Stdin       io.WriteCloser
	DataPipe    io.ReadCloser
	ReadTimeout time.Duration

	closeOnce sync.Once
}

// NewPythonWorker starts the embedder process. Requests go over stdin and
// responses come back on FD 3 so library chatter on stdout can't corrupt the stream.
func NewPythonWorker(ctx context.Context, id int, cfg Config) (*PythonWorker, error) {
	args := []string{"-u", cfg.Script, "--model", cfg.Model, "--upsample", strconv.Itoa(cfg.Upsample)}
	py := utils.NewSafeCommand(ctx, cfg.Python, args...)

	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// The write end shows up as FD 3 in the child.
	py.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := py.StdinPipe()
	if err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("worker %d failed to start: %w", id, err)
	}

	// Only the child may hold the write end, otherwise EOF never arrives.
	w.Close()

	return &PythonWorker{
		ID:          id,
		Cmd:         py,
		Stdin:       stdin,
		DataPipe:    r,
		ReadTimeout: cfg.ReadTimeout,
	}, nil
}

// ProcessFrame sends one encoded image and decodes the detected faces.
func (w *PythonWorker) ProcessFrame(data []byte) ([]types.FaceResult, error) {
	resp, err := w.communicate(data)
	if err != nil {
		return nil, err
	}
	return decodeResponse(resp)
}

// communicate implements the framing: [u32 length][body] in both directions.
func (w *PythonWorker) communicate(data []byte) ([]byte, error) {
	if err := binary.Write(w.Stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, err
	}
	if _, err := w.Stdin.Write(data); err != nil {
		return nil, err
	}

	if d, ok := w.DataPipe.(interface{ SetReadDeadline(time.Time) error }); ok && w.ReadTimeout > 0 {
		if err := d.SetReadDeadline(time.Now().Add(w.ReadTimeout)); err != nil {
			return nil, err
		}
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header); err != nil {
		// A crashed interpreter (missing module, bad model path) surfaces here.
		return nil, err
	}
	respLen := binary.BigEndian.Uint32(header)
	if respLen > maxResponse {
		return nil, fmt.Errorf("response too large: %d bytes", respLen)
	}
	body := make([]byte, respLen)
	if _, err := io.ReadFull(w.DataPipe, body); err != nil {
		return nil, err
	}
	return body, nil
}

// decodeResponse parses
//
//	0x00 [u32 n] n * ([4]i32 top,right,bottom,left [u32 dim] dim * f32)
//	0x01 [u32 len] message
func decodeResponse(resp []byte) ([]types.FaceResult, error) {
	if len(resp) == 0 {
		return nil, errors.New("empty worker response")
	}
	rd := bytes.NewReader(resp[1:])

	switch resp[0] {
	case statusOK:
	case statusError:
		var msgLen uint32
		if err := binary.Read(rd, binary.BigEndian, &msgLen); err != nil {
			return nil, fmt.Errorf("malformed error response: %w", err)
		}
		msg := make([]byte, msgLen)
		if _, err := io.ReadFull(rd, msg); err != nil {
			return nil, fmt.Errorf("malformed error response: %w", err)
		}
		return nil, fmt.Errorf("%w: python worker error: %s", types.ErrFrameRejected, msg)
	default:
		return nil, fmt.Errorf("unknown worker status byte 0x%02x", resp[0])
	}

	var n uint32
	if err := binary.Read(rd, binary.BigEndian, &n); err != nil {
		return nil, fmt.Errorf("malformed face count: %w", err)
	}

	// Every face needs at least 20 bytes, which bounds a corrupt count.
	faces := make([]types.FaceResult, 0, min(int(n), rd.Len()/20))
	for i := uint32(0); i < n; i++ {
		var box [4]int32
		if err := binary.Read(rd, binary.BigEndian, &box); err != nil {
			return nil, fmt.Errorf("face %d: malformed box: %w", i, err)
		}
		var dim uint32
		if err := binary.Read(rd, binary.BigEndian, &dim); err != nil {
			return nil, fmt.Errorf("face %d: malformed dimension: %w", i, err)
		}
		if int64(dim)*4 > int64(rd.Len()) {
			return nil, fmt.Errorf("face %d: dimension %d exceeds payload", i, dim)
		}
		raw := make([]float32, dim)
		if err := binary.Read(rd, binary.BigEndian, raw); err != nil {
			return nil, fmt.Errorf("face %d: malformed vector: %w", i, err)
		}
		vec := make([]float64, dim)
		for j, v := range raw {
			if math.IsNaN(float64(v)) {
				return nil, fmt.Errorf("face %d: NaN in embedding", i)
			}
			vec[j] = float64(v)
		}
		faces = append(faces, types.FaceResult{
			Loc: types.Box{Top: int(box[0]), Right: int(box[1]), Bottom: int(box[2]), Left: int(box[3])},
			Vec: vec,
		})
	}
	return faces, nil
}

// Close shuts the worker down and waits for the process to exit. It is safe to call twice.
func (w *PythonWorker) Close() {
	w.closeOnce.Do(func() {
		w.Stdin.Close()
		w.DataPipe.Close()
		if w.Cmd != nil {
			w.Cmd.Wait()
		}
	})
}
