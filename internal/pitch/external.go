package pitch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"notescribe/internal/analysis"
	"notescribe/internal/logging"
)

// External delegates estimation to a separate program, typically a neural
// pitch tracker. The program receives a JSON request on stdin and must print
// {"times":[...],"f0":[...],"confidence":[...]} on stdout. It runs in its own
// process group, and the whole group is killed when ctx ends.
type External struct {
	Command string
	Args    []string
	Logger  *slog.Logger
}

type externalRequest struct {
	SampleRate int       `json:"sample_rate"`
	HopSeconds float64   `json:"hop_seconds"`
	PitchMinHz float64   `json:"pitch_min_hz"`
	PitchMaxHz float64   `json:"pitch_max_hz"`
	Samples    []float64 `json:"samples"`
}

type externalResponse struct {
	Times      []float64 `json:"times"`
	F0         []float64 `json:"f0"`
	Confidence []float64 `json:"confidence"`
}

// Name implements Estimator.
func (e External) Name() string {
	if e.Command == "" {
		return "external"
	}
	return "external:" + e.Command
}

// Estimate implements Estimator.
func (e External) Estimate(ctx context.Context, wave analysis.Waveform, cfg analysis.Config) (Track, error) {
	if strings.TrimSpace(e.Command) == "" {
		return Track{}, errors.New("no estimator command configured")
	}
	payload, err := json.Marshal(externalRequest{
		SampleRate: wave.SampleRate,
		HopSeconds: cfg.SecondaryHopSeconds,
		PitchMinHz: cfg.PitchMinHz,
		PitchMaxHz: cfg.PitchMaxHz,
		Samples:    wave.Samples,
	})
	if err != nil {
		return Track{}, fmt.Errorf("encode request: %w", err)
	}

	logger := logging.WithLevelOverride(logging.NewComponentLogger(e.Logger, "pitch-external"), slog.LevelInfo)
	cmd := exec.CommandContext(ctx, e.Command, e.Args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	}
	cmd.WaitDelay = 2 * time.Second
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	started := time.Now()
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Track{}, fmt.Errorf("%s terminated: %w", e.Command, ctxErr)
		}
		detail := strings.TrimSpace(stderr.String())
		if detail != "" {
			return Track{}, fmt.Errorf("%s: %w: %s", e.Command, err, detail)
		}
		return Track{}, fmt.Errorf("%s: %w", e.Command, err)
	}
	logger.Info("external estimator finished",
		logging.String("command", e.Command),
		logging.Duration("elapsed", time.Since(started)),
		logging.Int("stdout_bytes", stdout.Len()),
	)

	var resp externalResponse
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return Track{}, fmt.Errorf("decode %s output: %w", e.Command, err)
	}
	if len(resp.F0) != len(resp.Times) || len(resp.Confidence) != len(resp.Times) {
		return Track{}, fmt.Errorf("%s output length mismatch: times=%d f0=%d confidence=%d",
			e.Command, len(resp.Times), len(resp.F0), len(resp.Confidence))
	}
	track := Track{Times: resp.Times, F0: resp.F0, Confidence: resp.Confidence}
	for i := range track.Times {
		f, c := track.F0[i], track.Confidence[i]
		if !(f > 0) || math.IsInf(f, 0) || math.IsNaN(c) {
			track.F0[i], track.Confidence[i] = 0, 0
			continue
		}
		track.Confidence[i] = math.Max(0, math.Min(1, c))
	}
	return track, nil
}
