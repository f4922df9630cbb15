package lipsync

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"sync"

	"github.com/mattn/go-shellwords"

	"github.com/loqalabs/loqa-avatar/internal/config"
	"github.com/loqalabs/loqa-avatar/internal/fault"
)

type execAnimator struct {
	cmd []string
	mu  sync.Mutex
}

type execReply struct {
	VideoBase64 string  `json:"video_base64"`
	DurationS   float64 `json:"duration_s"`
	FrameCount  int     `json:"frame_count"`
}

// NewExec runs a renderer subprocess per chunk. The command receives the
// audio clip via --audio, the portrait via --portrait, render parameters as
// flags, and prints {video_base64, duration_s, frame_count} on stdout.
func NewExec(cfg config.LipSyncConfig) (Animator, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse lipsync command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("lipsync command is empty")
	}
	return &execAnimator{cmd: args}, nil
}

func (e *execAnimator) Animate(ctx context.Context, audio []byte, portraitRef string, opts Options) (Result, error) {
	const op = "lipsync.Animate"

	e.mu.Lock()
	defer e.mu.Unlock()

	file, err := os.CreateTemp("", "avatar_lipsync_*.wav")
	if err != nil {
		return Result{}, fault.E(fault.AdapterFailure, op, "temp file", err)
	}
	defer os.Remove(file.Name())
	if _, err := file.Write(audio); err != nil {
		file.Close()
		return Result{}, fault.E(fault.AdapterFailure, op, "write clip", err)
	}
	if err := file.Close(); err != nil {
		return Result{}, fault.E(fault.AdapterFailure, op, "close clip", err)
	}

	args := append([]string{}, e.cmd[1:]...)
	args = append(args, "--audio", file.Name())
	if portraitRef != "" {
		args = append(args, "--portrait", portraitRef)
	}
	if opts.FPS > 0 {
		args = append(args, "--fps", strconv.Itoa(opts.FPS))
	}
	if opts.Resolution > 0 {
		args = append(args, "--resolution", strconv.Itoa(opts.Resolution))
	}
	if opts.DiffusionSteps > 0 {
		args = append(args, "--steps", strconv.Itoa(opts.DiffusionSteps))
	}

	command := exec.CommandContext(ctx, e.cmd[0], args...)
	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		return Result{}, fault.E(fault.AdapterFailure, op,
			fmt.Sprintf("lipsync command failed: %s", stderr.String()), err)
	}

	var reply execReply
	if err := json.Unmarshal(stdout.Bytes(), &reply); err != nil {
		return Result{}, fault.E(fault.AdapterFailure, op, "decode lipsync response", err)
	}
	video, err := base64.StdEncoding.DecodeString(reply.VideoBase64)
	if err != nil {
		return Result{}, fault.E(fault.AdapterFailure, op, "decode lipsync video", err)
	}
	if len(video) == 0 {
		return Result{}, fault.E(fault.AdapterFailure, op, "lipsync produced no video", nil)
	}
	return Result{Video: video, DurationS: reply.DurationS, FrameCount: reply.FrameCount}, nil
}
