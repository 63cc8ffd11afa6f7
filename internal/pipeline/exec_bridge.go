// Package pipeline adapts the external DICE-Talk inference pipeline to core.Pipeline.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"

	"github.com/book-expert/logger"
	"github.com/book-expert/talkinghead-service/internal/core"
)

// Bridge subcommands understood by the exec bridge script.
const (
	cmdPreprocess = "preprocess"
	cmdCrop       = "crop"
	cmdProcess    = "process"
)

// ErrEmptyCommand indicates that no bridge command was configured.
var ErrEmptyCommand = errors.New("bridge command cannot be empty")

// ExecBridge implements core.Pipeline by running a bridge program once per call.
// The program receives a subcommand followed by flags and prints JSON on stdout.
type ExecBridge struct {
	command  []string
	deviceID int
	log      *logger.Logger
}

// NewExecBridge creates an ExecBridge running command (program plus leading arguments).
func NewExecBridge(command []string, deviceID int, log *logger.Logger) (*ExecBridge, error) {
	if len(command) == 0 || command[0] == "" {
		return nil, ErrEmptyCommand
	}

	return &ExecBridge{
		command:  command,
		deviceID: deviceID,
		log:      log,
	}, nil
}

// Preprocess runs face detection on imagePath.
func (b *ExecBridge) Preprocess(ctx context.Context, imagePath string, expandRatio float64) (core.FaceInfo, error) {
	output, err := b.run(ctx, cmdPreprocess,
		"--image", imagePath,
		"--expand-ratio", formatFloat(expandRatio),
	)
	if err != nil {
		return core.FaceInfo{}, err
	}

	var info core.FaceInfo

	err = json.Unmarshal(output, &info)
	if err != nil {
		return core.FaceInfo{}, fmt.Errorf("failed to parse face info %q: %w", string(output), err)
	}

	return info, nil
}

// CropImage writes the bbox region of srcPath to dstPath.
func (b *ExecBridge) CropImage(ctx context.Context, srcPath, dstPath string, bbox core.BoundingBox) error {
	_, err := b.run(ctx, cmdCrop,
		"--src", srcPath,
		"--dst", dstPath,
		"--bbox", formatBBox(bbox),
	)

	return err
}

// Process runs the synthesis and writes the video to params.OutputPath.
func (b *ExecBridge) Process(ctx context.Context, params core.SynthesisParams) error {
	args := []string{
		"--image", params.ImagePath,
		"--audio", params.AudioPath,
		"--emotion", params.EmotionPath,
		"--output", params.OutputPath,
		"--min-resolution", strconv.Itoa(params.MinResolution),
		"--inference-steps", strconv.Itoa(params.InferenceSteps),
		"--ref-scale", formatFloat(params.RefScale),
		"--emo-scale", formatFloat(params.EmoScale),
	}

	if params.Seed != nil {
		args = append(args, "--seed", strconv.FormatInt(*params.Seed, 10))
	}

	_, err := b.run(ctx, cmdProcess, args...)

	return err
}

func (b *ExecBridge) run(ctx context.Context, subcommand string, flags ...string) ([]byte, error) {
	args := make([]string, 0, len(b.command)+len(flags)+3)
	args = append(args, b.command[1:]...)
	args = append(args, subcommand, "--device-id", strconv.Itoa(b.deviceID))
	args = append(args, flags...)

	// #nosec G204 -- the program comes from service configuration, job values are passed as arguments
	cmd := exec.CommandContext(ctx, b.command[0], args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		return nil, fmt.Errorf("bridge %s failed: %w - output: %s", subcommand, err, stderr.String())
	}

	if stderr.Len() > 0 {
		b.log.Info("bridge %s: %s", subcommand, stderr.String())
	}

	return bytes.TrimSpace(stdout.Bytes()), nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatBBox(bbox core.BoundingBox) string {
	return fmt.Sprintf("%d,%d,%d,%d", bbox[0], bbox[1], bbox[2], bbox[3])
}
