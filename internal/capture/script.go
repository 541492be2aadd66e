// Package capture produces page screenshots for a preview session, either by
// driving an external browser-automation script or by rendering a PDF locally.
package capture

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/bookfetcher/internal/extract"
)

// command is one instruction sent to the automation script on stdin,
// newline-delimited JSON.
type command struct {
	Op   string `json:"op"`
	Page int    `json:"page,omitempty"`
	URL  string `json:"url,omitempty"`
}

// response is one reply read from the script's stdout.
type response struct {
	OK        bool   `json:"ok"`
	ImagePath string `json:"image_path,omitempty"`
	Error     string `json:"error,omitempty"`
}

// scanResult is one line (or the terminal error) read from the script's
// stdout by the reader goroutine.
type scanResult struct {
	line []byte
	err  error
}

// Script drives a long-running browser-automation process over a
// line-oriented JSON channel. One Script instance serves one session and is
// not safe for concurrent use. A single goroutine owns the stdout scanner
// for the life of the process and hands lines over through c; roundTrip
// never touches the scanner itself, so a timed-out command cannot race a
// later one over the same reader.
type Script struct {
	mu      sync.Mutex
	stdin   io.Writer
	c       chan scanResult
	stale   int // responses owed by commands that timed out
	cmd     *exec.Cmd
	timeout time.Duration
}

// NewScript wires a Script over an existing command/response channel. Used
// directly in tests; production callers go through StartScript.
func NewScript(w io.Writer, r io.Reader) *Script {
	s := &Script{stdin: w, c: make(chan scanResult, 32), timeout: 90 * time.Second}
	go s.readLoop(r)
	return s
}

// readLoop is the only reader of the script's stdout. It runs until the
// process closes the pipe, then delivers the terminal error and exits.
func (s *Script) readLoop(r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		s.c <- scanResult{line: append([]byte(nil), sc.Bytes()...)}
	}
	err := sc.Err()
	if err == nil {
		err = io.EOF
	}
	s.c <- scanResult{err: fmt.Errorf("script closed its output: %w", err)}
	close(s.c)
}

// StartScript launches the automation script and navigates it to the preview
// URL. The script receives the session output directory as its only argument
// and writes one JSON response per command.
func StartScript(ctx context.Context, scriptPath, previewURL, outputDir string) (*Script, error) {
	if _, err := os.Stat(scriptPath); err != nil {
		return nil, fmt.Errorf("automation script not found: %w", err)
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	cmd := exec.CommandContext(ctx, scriptPath, outputDir)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start automation script: %w", err)
	}
	log.Info().Str("script", scriptPath).Int("pid", cmd.Process.Pid).Msg("automation script started")

	s := NewScript(stdin, stdout)
	s.cmd = cmd

	if _, err := s.roundTrip(ctx, command{Op: "open", URL: previewURL}); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to open preview: %w", err)
	}
	return s, nil
}

// CapturePage asks the script to screenshot the page currently shown for
// pageNumber and returns the image it wrote.
func (s *Script) CapturePage(ctx context.Context, pageNumber int) (extract.PageCapture, error) {
	resp, err := s.roundTrip(ctx, command{Op: "capture", Page: pageNumber})
	if err != nil {
		return extract.PageCapture{}, err
	}
	if resp.ImagePath == "" {
		return extract.PageCapture{}, fmt.Errorf("script returned no image path for page %d", pageNumber)
	}
	return extract.PageCapture{PageNumber: pageNumber, ImagePath: resp.ImagePath}, nil
}

// NavigateNext advances the browser to the next preview page.
func (s *Script) NavigateNext(ctx context.Context) error {
	_, err := s.roundTrip(ctx, command{Op: "next"})
	return err
}

// roundTrip sends one command and reads exactly one response line. The wire
// is strictly request/response, so a single mutex serializes access.
func (s *Script) roundTrip(ctx context.Context, cmd command) (response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := json.Marshal(cmd)
	if err != nil {
		return response{}, err
	}
	if _, err := s.stdin.Write(append(payload, '\n')); err != nil {
		return response{}, fmt.Errorf("write to script: %w", err)
	}

	// Responses arrive strictly in command order, so replies owed by
	// commands that timed out are discarded before ours is taken.
	deadline := time.After(s.timeout)
	var line []byte
	for line == nil {
		select {
		case <-ctx.Done():
			s.stale++
			return response{}, ctx.Err()
		case <-deadline:
			s.stale++
			return response{}, fmt.Errorf("script did not respond to %q within %v", cmd.Op, s.timeout)
		case r, ok := <-s.c:
			if !ok {
				return response{}, fmt.Errorf("script closed its output: %w", io.EOF)
			}
			if r.err != nil {
				return response{}, r.err
			}
			if s.stale > 0 {
				s.stale--
				continue
			}
			line = r.line
		}
	}

	var resp response
	if err := json.Unmarshal(line, &resp); err != nil {
		return response{}, fmt.Errorf("malformed script response %q: %w", string(line), err)
	}
	if !resp.OK {
		return response{}, fmt.Errorf("script error for %q: %s", cmd.Op, resp.Error)
	}
	return resp, nil
}

// Close asks the script to quit and kills it if it does not exit promptly.
func (s *Script) Close() error {
	if s.cmd == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.roundTrip(ctx, command{Op: "quit"}) // best effort

	done := make(chan error, 1)
	go func() { done <- s.cmd.Wait() }()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		if s.cmd.Process != nil {
			s.cmd.Process.Kill()
		}
		log.Warn().Msg("automation script did not exit, killed")
		return nil
	}
}
