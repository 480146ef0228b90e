package ffmpeg

import (
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"time"
)

// ErrNoUsableEncoder is returned when no candidate encoder can produce output
// on this host.
var ErrNoUsableEncoder = errors.New("no usable encoder")

// runCommand executes one throwaway probe subprocess. Injectable for tests.
type runCommand func(ctx context.Context, name string, args ...string) error

func execRun(ctx context.Context, name string, args ...string) error {
	return exec.CommandContext(ctx, name, args...).Run()
}

// EncoderProber determines which video encoder is usable on the host.
type EncoderProber struct {
	ffmpegPath string
	timeout    time.Duration
	logger     *slog.Logger
	run        runCommand
}

// NewEncoderProber creates an encoder capability prober.
func NewEncoderProber(ffmpegPath string, timeout time.Duration, logger *slog.Logger) *EncoderProber {
	if logger == nil {
		logger = slog.Default()
	}
	return &EncoderProber{
		ffmpegPath: ffmpegPath,
		timeout:    timeout,
		logger:     logger,
		run:        execRun,
	}
}

// Probe tests the candidates strictly in order and returns the first encoder
// that successfully encodes a synthetic null-source frame. Candidates run
// sequentially because they interrogate a shared hardware resource; a hung
// probe is killed at the timeout boundary. A candidate failure never aborts
// probing of the remaining candidates.
func (p *EncoderProber) Probe(ctx context.Context, candidates []string) (string, error) {
	for _, encoder := range candidates {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		err := p.tryEncoder(ctx, encoder)
		if err == nil {
			p.logger.Info("selected encoder", slog.String("encoder", encoder))
			return encoder, nil
		}

		p.logger.Debug("encoder probe failed",
			slog.String("encoder", encoder),
			slog.String("error", err.Error()),
		)
	}

	return "", ErrNoUsableEncoder
}

// tryEncoder encodes one nullsrc frame with the candidate encoder.
func (p *EncoderProber) tryEncoder(ctx context.Context, encoder string) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	args := []string{
		"-hide_banner",
		"-f", "lavfi", "-i", "nullsrc=s=256x256:d=0.1",
		"-frames:v", "1",
		"-c:v", encoder,
		"-f", "null", "-",
	}

	return p.run(ctx, p.ffmpegPath, args...)
}
