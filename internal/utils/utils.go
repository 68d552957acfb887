package utils

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
)

// lockedBuffer is a bytes.Buffer that can be read while the process writes to it.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// SafeCommand wraps exec.Cmd and captures stderr so a crashing child
// (Python worker, ffmpeg) leaves its logs behind for the error report.
type SafeCommand struct {
	*exec.Cmd
	stderr *lockedBuffer
}

// NewSafeCommand prepares a command bound to ctx. It does not start it.
func NewSafeCommand(ctx context.Context, name string, args ...string) *SafeCommand {
	cmd := exec.CommandContext(ctx, name, args...)
	stderr := &lockedBuffer{}
	cmd.Stderr = stderr
	return &SafeCommand{Cmd: cmd, stderr: stderr}
}

// Logs returns everything the process wrote to stderr so far.
func (s *SafeCommand) Logs() string {
	return s.stderr.String()
}

// StderrTail returns at most the last n bytes of stderr.
func (s *SafeCommand) StderrTail(n int) string {
	out := s.stderr.String()
	if len(out) > n {
		out = "..." + out[len(out)-n:]
	}
	return out
}

// ShowError prints a formatted error box to stderr, followed by the captured
// logs of s when there are any.
func ShowError(context string, err error, s *SafeCommand) {
	writeError(os.Stderr, context, err, s)
}

func writeError(w io.Writer, context string, err error, s *SafeCommand) {
	fmt.Fprintf(w, "\n---------------------------------------------------------\n")
	fmt.Fprintf(w, "🚨 FACEWATCH ERROR: %s\n", context)
	if err != nil {
		fmt.Fprintf(w, "DETAILS: %v\n", err)
	}
	if s != nil {
		if logs := s.StderrTail(4096); logs != "" {
			fmt.Fprintf(w, "\nPROCESS LOGS (%s):\n%s\n", s.Path, logs)
		}
	}
	fmt.Fprintf(w, "---------------------------------------------------------\n")
}
