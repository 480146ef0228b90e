package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Metrics is a structured snapshot of the transcoder's stderr telemetry.
type Metrics struct {
	Frame int64         `json:"frame"`
	FPS   float64       `json:"fps"`
	Speed float64       `json:"speed"`
	Time  time.Duration `json:"time"`
	// HWDecoder is the hardware decode backend ffmpeg reported at startup,
	// empty when decoding in software.
	HWDecoder string `json:"hw_decoder,omitempty"`
}

// ExitError reports a subprocess that terminated with a nonzero exit code.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("ffmpeg exited with code %d", e.Code)
}

// Process supervises one running ffmpeg subprocess. Its stderr telemetry is
// parsed into Metrics as it arrives; callers can wait for a clean exit, wait
// for any exit, or force-terminate it.
type Process struct {
	cmd     *exec.Cmd
	started time.Time

	mu      sync.RWMutex
	metrics Metrics

	done     chan struct{}
	waitErr  error
	waitOnce sync.Once

	termOnce sync.Once
}

// StartProcess spawns an ffmpeg subprocess with the given arguments and begins
// consuming its stderr telemetry.
func StartProcess(ctx context.Context, binary string, args []string) (*Process, error) {
	cmd := exec.CommandContext(ctx, binary, args...)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("getting stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting ffmpeg: %w", err)
	}

	p := &Process{
		cmd:     cmd,
		started: time.Now(),
		done:    make(chan struct{}),
	}

	go p.consumeStderr(stderr)

	return p, nil
}

// consumeStderr reads stderr to completion, then reaps the process.
func (p *Process) consumeStderr(stderr io.ReadCloser) {
	parser := newTelemetryParser()
	buf := make([]byte, 4096)
	for {
		n, err := stderr.Read(buf)
		if n > 0 {
			for _, m := range parser.Write(buf[:n]) {
				p.mu.Lock()
				p.metrics = m
				p.mu.Unlock()
			}
		}
		if err != nil {
			break
		}
	}

	p.waitOnce.Do(func() {
		p.waitErr = p.cmd.Wait()
		close(p.done)
	})
}

// Metrics returns the most recent telemetry snapshot.
func (p *Process) Metrics() Metrics {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.metrics
}

// PID returns the subprocess pid, or 0 if it never started.
func (p *Process) PID() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Duration returns how long the subprocess has been running.
func (p *Process) Duration() time.Duration {
	return time.Since(p.started)
}

// WaitExit blocks until the subprocess exits, regardless of exit code.
func (p *Process) WaitExit(ctx context.Context) error {
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitSuccess blocks until the subprocess exits and returns nil only for a
// zero exit code. A nonzero exit is reported as *ExitError.
func (p *Process) WaitSuccess(ctx context.Context) error {
	if err := p.WaitExit(ctx); err != nil {
		return err
	}
	if p.waitErr == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(p.waitErr, &exitErr) {
		return &ExitError{Code: exitErr.ExitCode()}
	}
	return p.waitErr
}

// Terminate force-kills the subprocess. Terminating an already-exited process
// is a no-op. Correctness elsewhere depends on the encoder being released
// promptly, so there is no grace period.
func (p *Process) Terminate() {
	p.termOnce.Do(func() {
		select {
		case <-p.done:
			return
		default:
		}
		if p.cmd.Process != nil {
			_ = p.cmd.Process.Kill()
		}
	})
}

// Telemetry line patterns.
var (
	frameRe = regexp.MustCompile(`frame=\s*(\d+)`)
	fpsRe   = regexp.MustCompile(`fps=\s*([\d.]+)`)
	timeRe  = regexp.MustCompile(`time=(\d+):(\d+):(\d+)\.(\d+)`)
	speedRe = regexp.MustCompile(`speed=\s*([\d.]+)x`)
	hwRe    = regexp.MustCompile(`Using auto hwaccel type (\w+)`)
)

// telemetryParser assembles stderr bytes into lines and parses progress
// metrics out of them. ffmpeg writes progress with \r terminators and lines
// frequently arrive split across read boundaries, so the parser buffers up to
// the next line break before interpreting anything.
type telemetryParser struct {
	buf       bytes.Buffer
	current   Metrics
	hwDecoder string
}

func newTelemetryParser() *telemetryParser {
	return &telemetryParser{}
}

// Write feeds raw stderr bytes to the parser and returns one Metrics snapshot
// per completed progress line.
func (t *telemetryParser) Write(p []byte) []Metrics {
	t.buf.Write(p)

	var out []Metrics
	for {
		data := t.buf.Bytes()
		idx := bytes.IndexAny(data, "\r\n")
		if idx < 0 {
			break
		}
		line := string(data[:idx])
		t.buf.Next(idx + 1)

		if m, ok := t.parseLine(line); ok {
			out = append(out, m)
		}
	}
	return out
}

// parseLine interprets one complete stderr line.
func (t *telemetryParser) parseLine(line string) (Metrics, bool) {
	if matches := hwRe.FindStringSubmatch(line); len(matches) > 1 {
		// Surfaced once at startup; carried on every snapshot after.
		t.hwDecoder = matches[1]
		t.current.HWDecoder = t.hwDecoder
		return Metrics{}, false
	}

	if !strings.Contains(line, "frame=") {
		return Metrics{}, false
	}

	if matches := frameRe.FindStringSubmatch(line); len(matches) > 1 {
		t.current.Frame, _ = strconv.ParseInt(matches[1], 10, 64)
	}
	if matches := fpsRe.FindStringSubmatch(line); len(matches) > 1 {
		t.current.FPS, _ = strconv.ParseFloat(matches[1], 64)
	}
	if matches := speedRe.FindStringSubmatch(line); len(matches) > 1 {
		t.current.Speed, _ = strconv.ParseFloat(matches[1], 64)
	}
	if matches := timeRe.FindStringSubmatch(line); len(matches) > 4 {
		hours, _ := strconv.Atoi(matches[1])
		mins, _ := strconv.Atoi(matches[2])
		secs, _ := strconv.Atoi(matches[3])
		centis, _ := strconv.Atoi(matches[4])
		t.current.Time = time.Duration(hours)*time.Hour +
			time.Duration(mins)*time.Minute +
			time.Duration(secs)*time.Second +
			time.Duration(centis)*10*time.Millisecond
	}

	t.current.HWDecoder = t.hwDecoder
	return t.current, true
}
